package config_test

import (
	"os"
	"strings"
	"testing"
	"time"

	"parcelfetch/internal/config"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := config.Default()
	if cfg.Engine.Concurrency != 3 {
		t.Fatalf("concurrency = %d", cfg.Engine.Concurrency)
	}
	if cfg.Engine.StepTimeout.Std() != 30*time.Second {
		t.Fatalf("step timeout = %s", cfg.Engine.StepTimeout)
	}
	if got := cfg.CountyIDs(); len(got) != 2 || got[0] != "berkeley" || got[1] != "charleston" {
		t.Fatalf("county ids = %v", got)
	}
	if !cfg.Supports("charleston", "tax_info") {
		t.Fatalf("charleston should support tax_info")
	}
	if cfg.Supports("charleston", "tax_bill") {
		t.Fatalf("charleston should not support tax_bill")
	}
	if !cfg.DocumentTypes["deed"].MultiInstance {
		t.Fatalf("deed should be multi-instance")
	}
}

func TestOverlayKeepsDefaults(t *testing.T) {
	cfg, err := config.FromYAML([]byte("engine:\n  concurrency: 8\noutput:\n  dir: /tmp/out\n"))
	if err != nil {
		t.Fatalf("from yaml: %v", err)
	}
	if cfg.Engine.Concurrency != 8 || cfg.Output.Dir != "/tmp/out" {
		t.Fatalf("overlay not applied: %+v", cfg.Engine)
	}
	if cfg.Retry.MaxAttempts != 3 {
		t.Fatalf("retry defaults lost: %+v", cfg.Retry)
	}
	if len(cfg.Counties) != 2 {
		t.Fatalf("counties lost: %d", len(cfg.Counties))
	}
}

func TestCountyOverlayReplacesCounties(t *testing.T) {
	doc := `counties:
  dorchester:
    name: Dorchester County
    aliases: [dorchester]
    tms_pattern: '^\d{11}$'
    doc_types: [property_card]
`
	cfg, err := config.FromYAML([]byte(doc))
	if err != nil {
		t.Fatalf("from yaml: %v", err)
	}
	if len(cfg.Counties) != 1 {
		t.Fatalf("expected only dorchester, got %v", cfg.CountyIDs())
	}
	if cfg.Defaults.County != "" {
		t.Fatalf("default county should be cleared, got %q", cfg.Defaults.County)
	}
}

func TestValidateRejectsBadConfig(t *testing.T) {
	cases := map[string]string{
		"strategy":      "parser:\n  strategy: magic\n",
		"delegated":     "parser:\n  strategy: delegated\n",
		"pattern":       "counties:\n  x:\n    tms_pattern: '(['\n    doc_types: [deed]\n",
		"unknown type":  "counties:\n  x:\n    tms_pattern: '^\\d+$'\n    doc_types: [survey]\n",
		"default":       "defaults:\n  county: nowhere\n",
		"bad duration":  "engine:\n  step_timeout: soon\n",
		"jitter":        "retry:\n  jitter: 1.5\n",
		"no doc types":  "counties:\n  x:\n    tms_pattern: '^\\d+$'\n",
	}
	for name, doc := range cases {
		if _, err := config.FromYAML([]byte(doc)); err == nil {
			t.Fatalf("%s: expected validation error", name)
		}
	}
}

func TestLoadOptionalAndLoad(t *testing.T) {
	dir := t.TempDir()
	cfg, err := config.LoadOptional(dir)
	if err != nil || cfg == nil {
		t.Fatalf("load optional: %v", err)
	}
	if _, err := config.Load(dir); err == nil || !strings.Contains(err.Error(), "not found") {
		t.Fatalf("expected not found, got %v", err)
	}
	if err := os.WriteFile(config.Path(dir), []byte(config.GenerateDefault()), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := config.Load(dir); err != nil {
		t.Fatalf("load: %v", err)
	}
}

func TestMarshalRoundTripsDurations(t *testing.T) {
	out, err := config.Default().Marshal()
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(out), "step_timeout: 30s") {
		t.Fatalf("durations not rendered as strings:\n%s", out)
	}
	if _, err := config.FromYAML(out); err != nil {
		t.Fatalf("re-parse marshalled config: %v", err)
	}
}
