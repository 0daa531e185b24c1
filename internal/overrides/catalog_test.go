package overrides

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/Moo-Marc/CtfMegBids/internal/bids"
	"github.com/Moo-Marc/CtfMegBids/internal/ops"
)

func writeOverrides(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestJSONOverridesWithDataset(t *testing.T) {
	path := writeOverrides(t, "overrides.json", "\xEF\xBB\xBF"+`{
  "dataset": {"Name": "Study", "License": "CC0"},
  "overrides": [
    {"Name": " sub-01_ses-01_task-rest_meg ", "Task": "resting", "InstitutionName": "MNI", "Notes": ["a", "b"]}
  ]
}`)
	c := NewCatalog(path, nil)
	o, ok, err := c.Lookup("sub-01_ses-01_task-rest_meg")
	if err != nil || !ok {
		t.Fatalf("Lookup: %v %v", ok, err)
	}
	if o.Identity[FieldTask] != "resting" {
		t.Fatalf("identity = %v", o.Identity)
	}
	if o.Fields.GetString("InstitutionName") != "MNI" || o.Fields.Len() != 2 {
		t.Fatalf("fields = %v", o.Fields.Keys())
	}
	ds, err := c.Dataset()
	if err != nil || ds.GetString("License") != "CC0" {
		t.Fatalf("dataset = %v %v", ds, err)
	}

	n, _ := bids.ParseName("sub-01_ses-01_task-rest_meg.ds")
	if got := o.Apply(n).Task; got != "resting" {
		t.Fatalf("Apply task = %q", got)
	}
	if _, ok, _ := c.Lookup("SUB-01_ses-01_task-rest_meg"); ok {
		t.Fatal("lookup must be case-sensitive")
	}
}

func TestJSONArrayOverrides(t *testing.T) {
	path := writeOverrides(t, "o.json", `[{"Name":"sub-01_ses-01_task-a_meg","Run":"2"}]`)
	entries, err := NewCatalog(path, nil).Entries()
	if err != nil || len(entries) != 1 || entries[0].Identity[FieldRun] != "2" {
		t.Fatalf("entries = %+v %v", entries, err)
	}
}

func TestYAMLOverrides(t *testing.T) {
	path := writeOverrides(t, "overrides.yaml", `
- Name: sub-02_ses-01_task-motor_meg
  Acquisition: AUX
  Zeta: 1
  Alpha: true
`)
	entries, err := NewCatalog(path, nil).Entries()
	if err != nil {
		t.Fatalf("Entries: %v", err)
	}
	if len(entries) != 1 || entries[0].Identity[FieldAcquisition] != "AUX" {
		t.Fatalf("entries = %+v", entries)
	}
	keys := entries[0].Fields.Keys()
	if len(keys) != 2 || keys[0] != "Zeta" || keys[1] != "Alpha" {
		t.Fatalf("yaml key order lost: %v", keys)
	}
}

func TestTSVOverrides(t *testing.T) {
	path := writeOverrides(t, "overrides.tsv", "Name\tTask\tInstitutionName\nsub-01_ses-01_task-rest_meg\tn/a\tMNI\n")
	o, ok, err := NewCatalog(path, nil).Lookup("sub-01_ses-01_task-rest_meg")
	if err != nil || !ok {
		t.Fatalf("Lookup: %v %v", ok, err)
	}
	if _, set := o.Identity[FieldTask]; set {
		t.Fatal("n/a cell should be unset")
	}
	if o.Fields.GetString("InstitutionName") != "MNI" {
		t.Fatal("field missing")
	}
}

func TestValidateRejectsPathsOnce(t *testing.T) {
	c := FromEntries([]Override{
		{Name: "sub-01/ses-01/meg/sub-01_ses-01_task-rest_meg"},
		{Name: `sub-02\x`},
		{Name: "sub-03_ses-01_task-rest_meg"},
	}, nil)
	err := c.Validate()
	if !errors.Is(err, ops.ErrUsage) {
		t.Fatalf("expected usage error, got %v", err)
	}
}

func TestMissingFileIsUsageError(t *testing.T) {
	_, err := NewCatalog(filepath.Join(t.TempDir(), "nope.json"), nil).Entries()
	if !errors.Is(err, ops.ErrUsage) {
		t.Fatalf("expected usage error, got %v", err)
	}
}

func TestNilCatalog(t *testing.T) {
	var c *Catalog
	if err := c.Validate(); err != nil {
		t.Fatal(err)
	}
	if NewCatalog("  ", nil) != nil {
		t.Fatal("expected nil catalog for empty path")
	}
}
