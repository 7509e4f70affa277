package config

import "testing"

func TestDefaultsAreInvalidWithoutInputAndOutput(t *testing.T) {
	if err := Validate(Defaults()); err == nil {
		t.Errorf("expected Defaults() alone (no inputs, no output) to fail validation")
	}
}

func TestValidateAcceptsMinimalValidOptions(t *testing.T) {
	o := Defaults()
	o.Inputs = []string{"a.ply"}
	o.Output = "out"
	if err := Validate(o); err != nil {
		t.Errorf("Validate() = %v, want nil", err)
	}
}

func TestValidateRejectsNonPositiveGridSpacing(t *testing.T) {
	o := Defaults()
	o.Inputs = []string{"a.ply"}
	o.Output = "out"
	o.FitGrid = 0
	if err := Validate(o); err == nil {
		t.Errorf("expected an error for zero --fit-grid")
	}
}

func TestValidateRejectsFitPruneOutsideUnitRange(t *testing.T) {
	o := Defaults()
	o.Inputs = []string{"a.ply"}
	o.Output = "out"
	o.FitPrune = 1.5
	if err := Validate(o); err == nil {
		t.Errorf("expected an error for --fit-prune > 1")
	}
	o.FitPrune = -0.1
	if err := Validate(o); err == nil {
		t.Errorf("expected an error for a negative --fit-prune")
	}
}

func TestParseFitPruneAcceptsAFraction(t *testing.T) {
	opts, err := Parse([]string{"--output", "out", "--fit-prune", "0.05", "a.ply"})
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if opts.FitPrune != 0.05 {
		t.Errorf("FitPrune = %g, want 0.05", opts.FitPrune)
	}
}

func TestValidateRejectsUnsupportedBackends(t *testing.T) {
	o := Defaults()
	o.Inputs = []string{"a.ply"}
	o.Output = "out"
	o.Mesher = "gpu-only"
	if err := Validate(o); err == nil {
		t.Errorf("expected an error for an unsupported --mesher backend")
	}
}

func TestParseFlagsOverrideDefaults(t *testing.T) {
	opts, err := Parse([]string{"--output", "out", "--levels", "9", "a.ply", "b.ply"})
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if opts.Levels != 9 {
		t.Errorf("Levels = %d, want 9", opts.Levels)
	}
	if len(opts.Inputs) != 2 {
		t.Errorf("Inputs = %v, want 2 entries", opts.Inputs)
	}
}

func TestParseRejectsMissingOutput(t *testing.T) {
	_, err := Parse([]string{"a.ply"})
	if err == nil {
		t.Errorf("expected an error when --output is omitted")
	}
}
