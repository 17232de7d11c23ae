package reports

// Hidden reports used for debugging and testing. They are excluded
// from the report listing but run like any other report.

import (
	"context"
	"fmt"

	"github.com/tracelens/tracelens/internal/report"
)

const defaultSQLStatement = "SELECT 1"

const defaultDebugTable = "TARGET_INFO_GPU"

func init() {
	report.MustRegister(&report.Definition{
		Name:        "_sqlstmt",
		DisplayName: "DEBUG: SQL Statement",
		Usage: `{SCRIPT}[:sql=<sql_statement>] -- Run SQL Statement

    sql : Arbitrary SQLite statement

    Output defined by <sql_statement>.

    This report accepts and executes an arbitrary SQL statement.
    It is mostly for debugging/testing.  If no <sql_statement> is
    given, the statement "` + defaultSQLStatement + `" is executed.
`,
		Options: []report.Option{
			report.StringOption("sql", defaultSQLStatement, "SQL stmt"),
		},
		Setup: func(ctx context.Context, r *report.Run) error {
			r.SetQuery(r.Args.String("sql"))
			return nil
		},
	})

	report.MustRegister(&report.Definition{
		Name:        "_table",
		DisplayName: "DEBUG: SQL Table",
		Usage: `{SCRIPT}[:table=<table_name>] -- Return Table

    table : Name of an SQLite table

    Output defined by <table_name>.

    This report accepts a database table (or view) name and
    executes the statement "SELECT * FROM <table_name>".  It is
    mostly for debugging/testing.  If no <table_name> is given,
    the table ` + defaultDebugTable + ` will be used.
`,
		Options: []report.Option{
			report.StringOption("table", defaultDebugTable, "SQL table"),
		},
		Setup: func(ctx context.Context, r *report.Run) error {
			table := r.Args.String("table")
			if !r.Store.TableExists(table) {
				return &report.NoDataError{
					Message: fmt.Sprintf("{DBFILE} does not contain the table %s", table),
				}
			}
			r.SetQuery("SELECT * FROM " + table)
			return nil
		},
	})
}
