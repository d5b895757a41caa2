package compile_test

import (
	"context"
	"reflect"
	"strings"
	"testing"

	"parcelfetch/internal/compile"
	"parcelfetch/internal/config"
	"parcelfetch/internal/domain"
	"parcelfetch/internal/extract"
)

func newCompiler(t *testing.T, cfg *config.Config) *compile.Compiler {
	t.Helper()
	ex, err := extract.New(cfg, nil)
	if err != nil {
		t.Fatalf("extractor: %v", err)
	}
	c, err := compile.New(cfg, ex, nil)
	if err != nil {
		t.Fatalf("compiler: %v", err)
	}
	return c
}

// withDorchester adds a county whose parcel numbers are 11 digits long.
func withDorchester(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Counties["dorchester"] = config.County{
		Name:       "Dorchester County",
		Aliases:    []string{"dorchester", "dorchester county"},
		TMSPattern: `^\d{11}$`,
		DocTypes:   []string{"property_card", "deed"},
	}
	if err := cfg.Validate(); err != nil {
		t.Fatal(err)
	}
	return cfg
}

func requireValidation(t *testing.T, err error, fragment string) {
	t.Helper()
	if !domain.IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if !strings.Contains(err.Error(), fragment) {
		t.Fatalf("error %q does not mention %q", err, fragment)
	}
}

func TestCompileAllDocuments(t *testing.T) {
	c := newCompiler(t, config.Default())
	plan, err := c.CompileText(context.Background(), "Collect all documents for Charleston County TMS 5590200072")
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	want := domain.WorkflowSpec{
		Counties:    []domain.CountyID{"charleston"},
		TMSNumbers:  []string{"5590200072"},
		DocTypes:    []domain.DocTypeID{"deed", "property_card", "tax_info"},
		Assignments: map[string]domain.CountyID{"5590200072": "charleston"},
	}
	if !reflect.DeepEqual(plan.Spec, want) {
		t.Fatalf("spec = %+v", plan.Spec)
	}
}

func TestCompileIsDeterministic(t *testing.T) {
	c := newCompiler(t, config.Default())
	text := "property card and tax bill for Berkeley County TMS 2590502005, 2340601038 and 2590502005"
	first, err := c.CompileText(context.Background(), text)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	if got := first.Spec.TMSNumbers; !reflect.DeepEqual(got, []string{"2590502005", "2340601038"}) {
		t.Fatalf("tms numbers should be unique in order: %v", got)
	}
	for i := 0; i < 5; i++ {
		again, err := c.CompileText(context.Background(), text)
		if err != nil || !reflect.DeepEqual(first.Spec, again.Spec) {
			t.Fatalf("compile %d differs: %+v vs %+v (%v)", i, first.Spec, again.Spec, err)
		}
	}
}

func TestCompileDefaultsCounty(t *testing.T) {
	c := newCompiler(t, config.Default())
	plan, err := c.CompileText(context.Background(), "property card for 5590200072")
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	if plan.Spec.Assignments["5590200072"] != "charleston" {
		t.Fatalf("expected default county, got %+v", plan.Spec)
	}
}

func TestCompileRejectsNoTMS(t *testing.T) {
	c := newCompiler(t, config.Default())
	_, err := c.CompileText(context.Background(), "Collect all documents for Charleston County")
	requireValidation(t, err, "no TMS")
}

func TestCompileRejectsUnknownTMS(t *testing.T) {
	c := newCompiler(t, config.Default())
	_, err := c.CompileText(context.Background(), "Collect all documents for Charleston County TMS 12345")
	requireValidation(t, err, "not valid in any configured county")
}

func TestCompileRejectsAmbiguousTMS(t *testing.T) {
	c := newCompiler(t, config.Default())
	_, err := c.CompileText(context.Background(), "deeds for Charleston and Berkeley TMS 5590200072")
	requireValidation(t, err, "ambiguous")
}

func TestCompileRejectsAmbiguousWithoutDefault(t *testing.T) {
	cfg := config.Default()
	cfg.Defaults.County = ""
	c := newCompiler(t, cfg)
	_, err := c.CompileText(context.Background(), "deeds for 5590200072")
	requireValidation(t, err, "ambiguous")
}

func TestCompileRejectsUnknownDocType(t *testing.T) {
	c := newCompiler(t, config.Default())
	ents := []domain.Entity{
		domain.CountyRef("Charleston", "charleston"),
		domain.TMSNumber("5590200072", "5590200072"),
		domain.DocTypeRef("survey plat", ""),
	}
	_, err := c.Compile(ents)
	requireValidation(t, err, "survey plat")
}

func TestCompileRejectsUnavailableDocType(t *testing.T) {
	c := newCompiler(t, config.Default())
	_, err := c.CompileText(context.Background(), "tax bill for Charleston County TMS 5590200072")
	requireValidation(t, err, "not available")
}

func TestCompileAssignsForeignCounty(t *testing.T) {
	c := newCompiler(t, withDorchester(t))
	plan, err := c.CompileText(context.Background(), "property card for Charleston County TMS 5590200072 and 12345678901")
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	if got := plan.Spec.Assignments["12345678901"]; got != "dorchester" {
		t.Fatalf("assignment = %q", got)
	}
	if !reflect.DeepEqual(plan.Spec.Counties, []domain.CountyID{"charleston"}) {
		t.Fatalf("counties = %v", plan.Spec.Counties)
	}
}

func TestCompileExplicitTypesOverrideAll(t *testing.T) {
	c := newCompiler(t, config.Default())
	plan, err := c.CompileText(context.Background(), "Collect all property cards for Charleston TMS 5590200072")
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	if !reflect.DeepEqual(plan.Spec.DocTypes, []domain.DocTypeID{"property_card"}) {
		t.Fatalf("doc types = %v", plan.Spec.DocTypes)
	}
}
