package report

import (
	"strings"
	"testing"
)

func TestResolveArgs_DashlessEquivalence(t *testing.T) {
	opts := []Option{IntOption("rows", DefaultRowLimit, "max rows")}

	dashless, err := ResolveArgs("test", opts, "usage", []string{"rows=5"})
	if err != nil {
		t.Fatalf("dashless: %v", err)
	}
	dashed, err := ResolveArgs("test", opts, "usage", []string{"--rows=5"})
	if err != nil {
		t.Fatalf("dashed: %v", err)
	}

	if dashless.Int("rows") != 5 || dashed.Int("rows") != 5 {
		t.Errorf("rows = %d / %d, want 5 / 5",
			dashless.Int("rows"), dashed.Int("rows"))
	}
	if !dashless.IsSet("rows") || !dashed.IsSet("rows") {
		t.Error("expected rows to be marked as explicitly set")
	}
}

func TestResolveArgs_Defaults(t *testing.T) {
	opts := []Option{
		IntOption("rows", DefaultRowLimit, "max rows"),
		StringOption("nvtx", "", "range filter"),
	}

	args, err := ResolveArgs("test", opts, "usage", nil)
	if err != nil {
		t.Fatalf("ResolveArgs: %v", err)
	}
	if args.Int("rows") != DefaultRowLimit {
		t.Errorf("rows default = %d, want %d", args.Int("rows"), DefaultRowLimit)
	}
	if args.IsSet("rows") {
		t.Error("defaulted option must not report as set")
	}
	if args.String("nvtx") != "" {
		t.Errorf("nvtx default = %q, want empty", args.String("nvtx"))
	}
}

func TestResolveArgs_BooleanFlag(t *testing.T) {
	opts := []Option{FlagOption("mangled", "use mangled names")}

	args, err := ResolveArgs("test", opts, "usage", []string{"mangled"})
	if err != nil {
		t.Fatalf("ResolveArgs: %v", err)
	}
	if !args.Bool("mangled") {
		t.Error("expected bare flag token to set the option")
	}
}

func TestResolveArgs_UnknownOption(t *testing.T) {
	opts := []Option{IntOption("rows", 50, "max rows")}

	_, err := ResolveArgs("test", opts, "usage", []string{"bogus=1"})
	argErr, ok := err.(*ArgumentError)
	if !ok {
		t.Fatalf("error = %v, want ArgumentError", err)
	}
	if argErr.Help {
		t.Error("unknown option should not be a help request")
	}
}

func TestResolveArgs_BadCoercion(t *testing.T) {
	opts := []Option{IntOption("rows", 50, "max rows")}

	_, err := ResolveArgs("test", opts, "usage", []string{"rows=abc"})
	if _, ok := err.(*ArgumentError); !ok {
		t.Fatalf("error = %v, want ArgumentError", err)
	}
}

func TestResolveArgs_HelpRequest(t *testing.T) {
	opts := []Option{IntOption("rows", 50, "max rows")}

	_, err := ResolveArgs("test", opts, "full usage text", []string{"--help"})
	argErr, ok := err.(*ArgumentError)
	if !ok || !argErr.Help {
		t.Fatalf("error = %v, want help-requesting ArgumentError", err)
	}
	if !strings.Contains(argErr.Message, "full usage text") {
		t.Errorf("help message = %q, want usage text", argErr.Message)
	}
}

func TestDefinition_OptionInheritance(t *testing.T) {
	derived := &Definition{
		Name:    "derived",
		Base:    FilterBase,
		Options: []Option{IntOption("gap", 500, "minimum gap")},
	}

	merged := derived.MergedOptions()
	want := []string{"rows", "start", "end", "nvtx", "gap"}
	if len(merged) != len(want) {
		t.Fatalf("merged %d options, want %d: %+v", len(merged), len(want), merged)
	}
	for i, name := range want {
		if merged[i].Name != name {
			t.Errorf("option[%d] = %q, want %q (base options come first)", i, merged[i].Name, name)
		}
	}

	args, err := ResolveArgs(derived.Name, merged, "usage",
		[]string{"rows=10", "gap=250", "nvtx=frame@render"})
	if err != nil {
		t.Fatalf("ResolveArgs: %v", err)
	}
	if args.Int("rows") != 10 || args.Int("gap") != 250 || args.String("nvtx") != "frame@render" {
		t.Error("inherited and own options did not all resolve")
	}
}

func TestCatalog_RejectsShadowedOption(t *testing.T) {
	c := NewCatalog()
	err := c.Register(&Definition{
		Name:    "bad",
		Base:    FilterBase,
		Options: []Option{IntOption("rows", 10, "shadows base")},
	})
	if err == nil {
		t.Fatal("expected registration to fail for a shadowed option")
	}
}

func TestDefinition_UsageText(t *testing.T) {
	def := &Definition{
		Name:  "gpukernsum",
		Usage: "{SCRIPT}[:rows=N] -- summary\n\nDefault is {ROW_LIMIT}.",
	}
	text := def.UsageText()
	if !strings.Contains(text, "gpukernsum[:rows=N]") {
		t.Errorf("usage = %q, want {SCRIPT} substituted", text)
	}
	if !strings.Contains(text, "Default is 50.") {
		t.Errorf("usage = %q, want {ROW_LIMIT} substituted", text)
	}
	if got := def.UsageSummary(); got != "gpukernsum[:rows=N] -- summary" {
		t.Errorf("summary = %q", got)
	}
}
