// Package report implements the generic report-execution engine: a
// catalog of report definitions, schema validation, option parsing,
// time/NVTX-range filtering, and streaming query execution against a
// read-only trace store.
package report

import (
	"context"
	"fmt"
	"strings"

	"github.com/tracelens/tracelens/internal/store"
)

// Exit codes surfaced by the CLI boundary. The values match the trace
// exporter's stats interface and must stay distinct.
type ExitCode int

const (
	ExitSuccess    ExitCode = 0
	ExitHelp       ExitCode = 25
	ExitDB         ExitCode = 26
	ExitNoData     ExitCode = 27
	ExitScript     ExitCode = 28
	ExitInvalidArg ExitCode = 29
)

// DefaultRowLimit is the row cap applied when a report declares a
// "rows" option and the caller does not override it.
const DefaultRowLimit = 50

// ArgumentError reports bad option input or an explicit help request.
// It is an expected, user-facing outcome, never a crash.
type ArgumentError struct {
	Message string
	Help    bool
}

func (e *ArgumentError) Error() string { return e.Message }

// NoDataError reports that a required table or column is absent, or
// that a report decided the store holds no relevant data.
type NoDataError struct {
	Message string
}

func (e *NoDataError) Error() string { return e.Message }

// NotFoundError reports that an NVTX range selector matched no event.
type NotFoundError struct {
	Message string
}

func (e *NotFoundError) Error() string { return e.Message }

// ScriptError reports that a setup statement or the main query failed.
// The message carries the SQLite error text verbatim since the cause is
// usually a bug in report SQL.
type ScriptError struct {
	Message string
}

func (e *ScriptError) Error() string { return e.Message }

// ExitCodeFor maps an engine error to its distinct exit code.
func ExitCodeFor(err error) ExitCode {
	switch e := err.(type) {
	case nil:
		return ExitSuccess
	case *ArgumentError:
		if e.Help {
			return ExitHelp
		}
		return ExitInvalidArg
	case *NoDataError, *NotFoundError:
		return ExitNoData
	case *store.InvalidTablePatternError:
		return ExitInvalidArg
	case *store.MissingDatabaseFileError, *store.InvalidDatabaseFileError:
		return ExitDB
	default:
		return ExitScript
	}
}

// TableCheck requires a table to exist before a report may run. Message
// may contain a {DBFILE} placeholder resolved at the Run boundary.
type TableCheck struct {
	Table   string
	Message string
}

// ColumnCheck requires a column to exist on a table.
type ColumnCheck struct {
	Table   string
	Column  string
	Message string
}

// Definition describes one report: a named, parameterized query unit.
// Definitions are plain data plus a Setup callback; the runner is
// generic over them. A Definition may point at a Base whose options and
// Setup it inherits (base options and setups run first).
type Definition struct {
	// Name is the script-style invocation name. Names beginning with
	// an underscore are hidden from listings.
	Name        string
	DisplayName string

	// Usage is the full help text. {SCRIPT} and {ROW_LIMIT}
	// placeholders are substituted when rendered.
	Usage string

	Base    *Definition
	Options []Option

	TableChecks  []TableCheck
	ColumnChecks []ColumnCheck

	// Statements run in order before the main query, after the engine
	// boilerplate. They must not produce rows.
	Statements []string

	// Query is the main SQL text. Setup may replace it.
	Query string

	// Setup runs after schema checks, argument resolution, and any
	// time-range filtering. It typically composes the final query.
	Setup func(ctx context.Context, r *Run) error

	// Advice and NoResult carry the expert-system messages for rule
	// reports; empty for plain stats reports.
	Advice         string
	AdviceExtended string
	NoResult       string
}

// Hidden reports whether the definition should be omitted from
// catalog listings.
func (d *Definition) Hidden() bool {
	return strings.HasPrefix(d.Name, "_")
}

// chain returns the definition hierarchy from least to most specific.
func (d *Definition) chain() []*Definition {
	var defs []*Definition
	for cur := d; cur != nil; cur = cur.Base {
		defs = append([]*Definition{cur}, defs...)
	}
	return defs
}

// MergedOptions collects the option schemas across the base chain,
// least specific first. Base options extend, never shadow: a duplicate
// name is a definition bug surfaced at registration.
func (d *Definition) MergedOptions() []Option {
	var opts []Option
	for _, def := range d.chain() {
		opts = append(opts, def.Options...)
	}
	return opts
}

// HasOption reports whether the merged schema defines the named option.
func (d *Definition) HasOption(name string) bool {
	for _, opt := range d.MergedOptions() {
		if opt.Name == name {
			return true
		}
	}
	return false
}

// effective returns the most-derived non-zero value of a per-definition
// field, mirroring attribute lookup along the base chain.
func (d *Definition) effectiveTableChecks() []TableCheck {
	for cur := d; cur != nil; cur = cur.Base {
		if cur.TableChecks != nil {
			return cur.TableChecks
		}
	}
	return nil
}

func (d *Definition) effectiveColumnChecks() []ColumnCheck {
	for cur := d; cur != nil; cur = cur.Base {
		if cur.ColumnChecks != nil {
			return cur.ColumnChecks
		}
	}
	return nil
}

func (d *Definition) effectiveStatements() []string {
	for cur := d; cur != nil; cur = cur.Base {
		if cur.Statements != nil {
			return cur.Statements
		}
	}
	return nil
}

func (d *Definition) effectiveQuery() string {
	for cur := d; cur != nil; cur = cur.Base {
		if cur.Query != "" {
			return cur.Query
		}
	}
	// Harmless default so a definition under construction still runs.
	return "SELECT 1 AS 'ONE'"
}

// UsageText renders the full usage message.
func (d *Definition) UsageText() string {
	text := d.Usage
	if text == "" {
		text = "{SCRIPT} -- NO USAGE INFORMATION PROVIDED"
	}
	text = strings.ReplaceAll(text, "{SCRIPT}", d.Name)
	text = strings.ReplaceAll(text, "{ROW_LIMIT}", fmt.Sprintf("%d", DefaultRowLimit))
	return text
}

// UsageSummary returns the first line of the usage message.
func (d *Definition) UsageSummary() string {
	summary, _, _ := strings.Cut(d.UsageText(), "\n")
	return summary
}

// MessageNoResult returns the message shown when a report runs
// successfully but yields no rows.
func (d *Definition) MessageNoResult() string {
	for cur := d; cur != nil; cur = cur.Base {
		if cur.NoResult != "" {
			return cur.NoResult
		}
	}
	return "Report was successfully run, but no data was returned."
}

// MessageAdvice returns the expert-system advice message, preferring
// the extended form when present.
func (d *Definition) MessageAdvice(extended bool) string {
	for cur := d; cur != nil; cur = cur.Base {
		if extended && cur.AdviceExtended != "" {
			return cur.AdviceExtended
		}
		if cur.Advice != "" {
			return cur.Advice
		}
	}
	return ""
}
