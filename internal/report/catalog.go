package report

import (
	"fmt"
	"sort"
)

// Catalog is the registry of report definitions. Registration happens
// at program init; lookups afterwards are read-only.
type Catalog struct {
	defs map[string]*Definition
}

// NewCatalog creates an empty catalog.
func NewCatalog() *Catalog {
	return &Catalog{defs: make(map[string]*Definition)}
}

// Register adds a definition, validating its name and merged option
// schema. Duplicate report names and duplicate option names across the
// base chain are definition bugs caught here rather than at run time.
func (c *Catalog) Register(def *Definition) error {
	if def.Name == "" {
		return fmt.Errorf("report definition has no name")
	}
	if _, exists := c.defs[def.Name]; exists {
		return fmt.Errorf("report %q registered twice", def.Name)
	}

	seen := make(map[string]bool)
	for _, opt := range def.MergedOptions() {
		if seen[opt.Name] {
			return fmt.Errorf("report %q: option %q defined more than once in its hierarchy", def.Name, opt.Name)
		}
		seen[opt.Name] = true
	}

	c.defs[def.Name] = def
	return nil
}

// MustRegister is Register for init-time use.
func (c *Catalog) MustRegister(def *Definition) {
	if err := c.Register(def); err != nil {
		panic(err)
	}
}

// Get returns the definition with the given name, or nil.
func (c *Catalog) Get(name string) *Definition {
	return c.defs[name]
}

// List returns the listable definitions sorted by name. Hidden
// reports stay resolvable through Get but are excluded here.
func (c *Catalog) List() []*Definition {
	out := make([]*Definition, 0, len(c.defs))
	for _, def := range c.defs {
		if def.Hidden() {
			continue
		}
		out = append(out, def)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// defaultCatalog collects definitions registered by the reports
// package's init functions.
var defaultCatalog = NewCatalog()

// DefaultCatalog returns the process-wide catalog.
func DefaultCatalog() *Catalog {
	return defaultCatalog
}

// MustRegister registers a definition in the default catalog.
func MustRegister(def *Definition) {
	defaultCatalog.MustRegister(def)
}

// FilterBase is the shared base for reports that support row limiting
// and time/NVTX-range filtering. The runner recognizes the start, end,
// and nvtx options and applies the time filter before setup runs.
var FilterBase = &Definition{
	Name: "_filter",
	Options: []Option{
		IntOption("rows", DefaultRowLimit, "max rows"),
		IntOption("start", 0, "start time used for filtering"),
		IntOption("end", 0, "end time used for filtering"),
		StringOption("nvtx", "", "NVTX range and domain for filtering"),
	},
}
