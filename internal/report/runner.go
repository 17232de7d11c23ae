package report

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"

	"github.com/oklog/ulid/v2"

	"github.com/tracelens/tracelens/internal/store"
)

// Engine boilerplate run before any report statements: 32MB page cache
// for both the main and temp databases.
var boilerplateStatements = []string{
	"pragma cache_size=-32768",
	"pragma temp.cache_size=-32768",
}

// Run is the mutable per-invocation state handed to definition Setup
// callbacks: the bound store, resolved arguments, the row limit, and
// the accumulating statement list and query text.
type Run struct {
	Store    *store.Store
	Def      *Definition
	Args     *Args
	RowLimit int64

	query      string
	statements []string
}

// SetQuery replaces the main query text.
func (r *Run) SetQuery(query string) {
	r.query = query
}

// Query returns the main query text as currently composed.
func (r *Run) Query() string {
	if r.query != "" {
		return r.query
	}
	return r.Def.effectiveQuery()
}

// AddStatement appends a setup statement to run before the main query.
func (r *Run) AddStatement(stmt string) {
	r.statements = append(r.statements, stmt)
}

// Result is a streaming query result: a header plus a pull-based row
// cursor. Close releases the cursor and the store connection; it is
// safe to call on every exit path.
type Result struct {
	// ID tags this invocation in logs and API responses.
	ID string

	// RowLimit is the row cap in effect for this invocation, or zero
	// when the report has no rows option.
	RowLimit int64

	def     *Definition
	headers []string
	rows    *sql.Rows
	st      *store.Store
	done    bool
}

// MessageRowLimit returns the truncation notice for an invocation that
// emitted the given number of rows. The notice is empty when the report
// has no row cap or the cap was not reached.
func (res *Result) MessageRowLimit(rows int) string {
	if res.RowLimit == 0 || int64(rows) < res.RowLimit {
		return ""
	}
	if res.RowLimit == 1 {
		return "Only the top result is displayed. More data may be available."
	}
	return fmt.Sprintf("Only the top %d results are displayed. More data may be available.", rows)
}

// Definition returns the report definition that produced this result.
func (res *Result) Definition() *Definition {
	return res.def
}

// Headers returns the column labels as declared by the query, including
// any :unit suffixes.
func (res *Result) Headers() []string {
	return res.headers
}

// Next returns the next row, or (nil, nil) at end of stream. Values are
// returned as the driver produced them; NULL is a nil element.
func (res *Result) Next() ([]any, error) {
	if res.done {
		return nil, nil
	}
	if !res.rows.Next() {
		res.done = true
		if err := res.rows.Err(); err != nil {
			return nil, &ScriptError{Message: err.Error()}
		}
		return nil, nil
	}

	values := make([]any, len(res.headers))
	ptrs := make([]any, len(values))
	for i := range values {
		ptrs[i] = &values[i]
	}
	if err := res.rows.Scan(ptrs...); err != nil {
		return nil, &ScriptError{Message: err.Error()}
	}
	return values, nil
}

// Close releases the cursor and the underlying store connection.
func (res *Result) Close() error {
	var first error
	if res.rows != nil {
		first = res.rows.Close()
		res.rows = nil
	}
	if res.st != nil {
		if err := res.st.Close(); err != nil && first == nil {
			first = err
		}
		res.st = nil
	}
	return first
}

// Runner executes reports from a catalog against trace databases. One
// invocation is synchronous and single-threaded; the Runner itself is
// stateless and reusable.
type Runner struct {
	catalog     *Catalog
	logger      *slog.Logger
	defaultRows int64
}

// NewRunner creates a Runner over the given catalog.
func NewRunner(catalog *Catalog, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		catalog:     catalog,
		logger:      logger.With("component", "report.Runner"),
		defaultRows: DefaultRowLimit,
	}
}

// SetDefaultRowLimit overrides the built-in row cap applied when a
// report accepts a rows option and the caller does not set one.
// Non-positive values are ignored.
func (rn *Runner) SetDefaultRowLimit(n int64) {
	if n > 0 {
		rn.defaultRows = n
	}
}

// Run opens the trace database, executes the named report with the
// given option tokens, and returns a streaming result. On error the
// store is already closed and the error maps to a distinct exit code
// via ExitCodeFor. {DBFILE} placeholders in schema-check messages are
// resolved here, at the boundary.
func (rn *Runner) Run(ctx context.Context, dbPath, name string, tokens []string) (*Result, error) {
	def := rn.catalog.Get(name)
	if def == nil {
		return nil, &ArgumentError{Message: fmt.Sprintf("report '%s' could not be found", name)}
	}

	st, err := store.Open(ctx, dbPath)
	if err != nil {
		return nil, err
	}

	res, err := rn.execute(ctx, st, def, tokens)
	if err != nil {
		st.Close()
		return nil, resolveDBFile(err, dbPath)
	}
	return res, nil
}

func (rn *Runner) execute(ctx context.Context, st *store.Store, def *Definition, tokens []string) (*Result, error) {
	id := ulid.Make().String()
	logger := rn.logger.With("invocation", id, "report", def.Name)
	logger.Debug("starting report", "db", st.Path(), "args", tokens)

	// Schema checks: first missing table or column aborts before any
	// query logic runs.
	for _, check := range def.effectiveTableChecks() {
		if !st.TableExists(check.Table) {
			return nil, &NoDataError{Message: check.Message}
		}
	}
	for _, check := range def.effectiveColumnChecks() {
		ok, err := st.ColumnExists(ctx, check.Table, check.Column)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, &NoDataError{Message: check.Message}
		}
	}

	args, err := ResolveArgs(def.Name, def.MergedOptions(), def.UsageText(), tokens)
	if err != nil {
		return nil, err
	}

	run := &Run{Store: st, Def: def, Args: args}
	if def.HasOption("rows") {
		if args.IsSet("rows") {
			run.RowLimit = args.Int("rows")
		} else {
			run.RowLimit = rn.defaultRows
		}
	}

	// Reports that accept filtering options get the time filter applied
	// before their setup runs; others skip this state entirely.
	if def.HasOption("start") || def.HasOption("end") || def.HasOption("nvtx") {
		var start, end *int64
		if args.IsSet("start") {
			v := args.Int("start")
			start = &v
		}
		if args.IsSet("end") {
			v := args.Int("end")
			end = &v
		}
		if err := ApplyTimeFilter(ctx, st, start, end, args.String("nvtx")); err != nil {
			return nil, err
		}
	}

	// Setup callbacks walk the base chain from least to most specific.
	for _, d := range def.chain() {
		if d.Setup == nil {
			continue
		}
		if err := d.Setup(ctx, run); err != nil {
			return nil, asEngineError(err)
		}
	}

	statements := append([]string{}, boilerplateStatements...)
	statements = append(statements, def.effectiveStatements()...)
	statements = append(statements, run.statements...)
	for _, stmt := range statements {
		if err := st.Execute(ctx, stmt); err != nil {
			return nil, &ScriptError{Message: err.Error()}
		}
	}

	rows, err := st.Query(ctx, run.Query())
	if err != nil {
		return nil, &ScriptError{Message: err.Error()}
	}
	headers, err := rows.Columns()
	if err != nil {
		rows.Close()
		return nil, &ScriptError{Message: err.Error()}
	}

	logger.Debug("query started", "columns", len(headers))
	return &Result{
		ID:       id,
		RowLimit: run.RowLimit,
		def:      def,
		headers:  headers,
		rows:     rows,
		st:       st,
	}, nil
}

// asEngineError keeps typed engine errors intact and folds anything
// else a Setup returned into the expected no-data outcome, matching the
// setup-returns-message contract of the original scripts.
func asEngineError(err error) error {
	switch err.(type) {
	case *ArgumentError, *NoDataError, *NotFoundError, *ScriptError,
		*store.MissingDatabaseFileError, *store.InvalidDatabaseFileError, *store.InvalidSQLError:
		return err
	case *store.InvalidTablePatternError:
		return &ArgumentError{Message: err.Error()}
	default:
		return &NoDataError{Message: err.Error()}
	}
}

// resolveDBFile substitutes the {DBFILE} placeholder in user-facing
// no-data messages with the store path.
func resolveDBFile(err error, dbPath string) error {
	if e, ok := err.(*NoDataError); ok {
		return &NoDataError{Message: strings.ReplaceAll(e.Message, "{DBFILE}", dbPath)}
	}
	return err
}
