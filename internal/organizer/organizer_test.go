package organizer_test

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"parcelfetch/internal/config"
	"parcelfetch/internal/domain"
	"parcelfetch/internal/navigator"
	"parcelfetch/internal/organizer"
)

func newOrganizer(t *testing.T) (*organizer.Organizer, string) {
	t.Helper()
	root := t.TempDir()
	return organizer.FromConfig(config.Default(), root, nil), root
}

func doc(text string) navigator.Document {
	return navigator.Document{Data: navigator.RenderPDF(text)}
}

func TestStoreLayout(t *testing.T) {
	o, root := newOrganizer(t)
	rec, err := o.Store("5590200072", "property_card", "charleston", doc("card"))
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	if want := filepath.Join(root, "5590200072", "Property Card.pdf"); rec.Path != want {
		t.Fatalf("path = %s, want %s", rec.Path, want)
	}
	data, err := os.ReadFile(rec.Path)
	if err != nil || !bytes.Equal(data, navigator.RenderPDF("card")) {
		t.Fatalf("contents differ: %v", err)
	}
	if rec.SizeBytes != int64(len(data)) || len(rec.Checksum) != 64 || rec.County != "charleston" {
		t.Fatalf("record = %+v", rec)
	}
}

func TestStoreMultiInstance(t *testing.T) {
	o, root := newOrganizer(t)
	d := doc("deed")
	d.Instance = "Book 1234 Page 567"
	rec, err := o.Store("5590200072", "deed", "charleston", d)
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	if want := filepath.Join(root, "5590200072", "Deeds", "Book 1234 Page 567.pdf"); rec.Path != want {
		t.Fatalf("path = %s", rec.Path)
	}
	if got := o.Path("5590200072", "deed", ""); got != filepath.Join(root, "5590200072", "Deeds", "Deeds.pdf") {
		t.Fatalf("fallback path = %s", got)
	}
	if got := o.Path("5590200072", "deed", "Book 1/2"); strings.Contains(filepath.Base(got), "/") || filepath.Dir(got) != filepath.Join(root, "5590200072", "Deeds") {
		t.Fatalf("instance must not escape the type directory: %s", got)
	}
}

func TestStoreIsIdempotent(t *testing.T) {
	o, root := newOrganizer(t)
	first, err := o.Store("5590200072", "tax_info", "charleston", doc("tax"))
	if err != nil {
		t.Fatal(err)
	}
	second, err := o.Store("5590200072", "tax_info", "charleston", doc("tax"))
	if err != nil {
		t.Fatal(err)
	}
	if first.Path != second.Path || first.Checksum != second.Checksum {
		t.Fatalf("records differ: %+v vs %+v", first, second)
	}
	entries, err := os.ReadDir(filepath.Join(root, "5590200072"))
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected one file and no temp leftovers, got %d", len(entries))
	}
}

func TestStoreRejectsSmallContent(t *testing.T) {
	o, root := newOrganizer(t)
	for _, data := range [][]byte{nil, []byte("tiny")} {
		_, err := o.Store("5590200072", "tax_info", "charleston", navigator.Document{Data: data})
		if !domain.IsValidation(err) {
			t.Fatalf("expected validation error for %d bytes, got %v", len(data), err)
		}
	}
	if _, err := os.Stat(filepath.Join(root, "5590200072")); !os.IsNotExist(err) {
		t.Fatalf("nothing should be written: %v", err)
	}
}

func TestWriteRunLogAndFiles(t *testing.T) {
	o, root := newOrganizer(t)
	if _, err := o.Store("2590502005", "tax_bill", "berkeley", doc("bill")); err != nil {
		t.Fatal(err)
	}
	path, err := o.WriteRunLog("run-1", map[string]string{"run_id": "run-1"})
	if err != nil {
		t.Fatal(err)
	}
	if path != filepath.Join(root, "logs", "execution_run-1.json") {
		t.Fatalf("log path = %s", path)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	var got map[string]string
	if err := json.Unmarshal(raw, &got); err != nil || got["run_id"] != "run-1" {
		t.Fatalf("log = %s (%v)", raw, err)
	}

	files, err := o.Files("2590502005")
	if err != nil || len(files) != 1 || filepath.Base(files[0].Path) != "Tax Bill.pdf" {
		t.Fatalf("files = %+v, %v", files, err)
	}
	none, err := o.Files("0000000000")
	if err != nil || len(none) != 0 {
		t.Fatalf("missing tms should list nothing: %+v, %v", none, err)
	}
}
