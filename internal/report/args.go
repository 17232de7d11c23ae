package report

import (
	"errors"
	"io"
	"strings"

	"github.com/spf13/pflag"
)

// OptionKind selects the type coercion for a report option.
type OptionKind int

const (
	OptionInt OptionKind = iota
	OptionString
	OptionBool
)

// Option declares one report option: name, coercion, optional default,
// and help text.
type Option struct {
	Name    string
	Kind    OptionKind
	Help    string
	IntDef  int64
	StrDef  string
	BoolDef bool
}

// IntOption is a convenience constructor for integer options.
func IntOption(name string, def int64, help string) Option {
	return Option{Name: name, Kind: OptionInt, IntDef: def, Help: help}
}

// StringOption is a convenience constructor for string options.
func StringOption(name, def, help string) Option {
	return Option{Name: name, Kind: OptionString, StrDef: def, Help: help}
}

// FlagOption is a convenience constructor for boolean flag options.
func FlagOption(name, help string) Option {
	return Option{Name: name, Kind: OptionBool, Help: help}
}

// Args is the resolved, typed option bag for one invocation.
type Args struct {
	fs *pflag.FlagSet
}

// Int returns the value of an integer option.
func (a *Args) Int(name string) int64 {
	v, _ := a.fs.GetInt64(name)
	return v
}

// String returns the value of a string option.
func (a *Args) String(name string) string {
	v, _ := a.fs.GetString(name)
	return v
}

// Bool returns the value of a boolean flag option.
func (a *Args) Bool(name string) bool {
	v, _ := a.fs.GetBool(name)
	return v
}

// IsSet reports whether the option was given explicitly, as opposed to
// taking its default.
func (a *Args) IsSet(name string) bool {
	return a.fs.Changed(name)
}

// ResolveArgs parses raw option tokens against the given schema.
// Reports are invoked through a colon-separated outer syntax, so
// callers pass options without leading dashes; any token whose bare
// name matches a known option is rewritten to carry a synthetic "--"
// prefix before delegating to the flag parser. Unknown options, bad
// coercions, and help requests all surface as ArgumentError.
func ResolveArgs(name string, opts []Option, usage string, tokens []string) (*Args, error) {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	fs.SetOutput(io.Discard)

	known := make(map[string]bool, len(opts))
	for _, opt := range opts {
		if known[opt.Name] {
			return nil, &ArgumentError{
				Message: "duplicate option definition: " + opt.Name,
			}
		}
		known[opt.Name] = true

		switch opt.Kind {
		case OptionInt:
			fs.Int64(opt.Name, opt.IntDef, opt.Help)
		case OptionString:
			fs.String(opt.Name, opt.StrDef, opt.Help)
		case OptionBool:
			fs.Bool(opt.Name, opt.BoolDef, opt.Help)
		}
	}

	formatted := make([]string, 0, len(tokens))
	for _, tok := range tokens {
		bare, _, _ := strings.Cut(tok, "=")
		if known[bare] && !strings.HasPrefix(tok, "-") {
			tok = "--" + tok
		}
		formatted = append(formatted, tok)
	}

	if err := fs.Parse(formatted); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil, &ArgumentError{Message: usage, Help: true}
		}
		return nil, &ArgumentError{Message: err.Error()}
	}

	if rest := fs.Args(); len(rest) > 0 {
		return nil, &ArgumentError{
			Message: "unrecognized arguments: " + strings.Join(rest, " "),
		}
	}

	return &Args{fs: fs}, nil
}
