package pdf

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"intakeflow/form"
)

func TestRender(t *testing.T) {
	dir := t.TempDir()
	r, err := NewRenderer(dir)
	if err != nil {
		t.Fatalf("new renderer: %v", err)
	}

	name := "Maria (Lopez)"
	confirmedAt := time.Date(2025, 3, 11, 9, 30, 0, 0, time.UTC)
	f := form.Form{
		ID:          "form-1",
		Status:      form.StatusActive,
		AgentName:   "Agent One",
		ConfirmedAt: &confirmedAt,
	}
	f.ApplicantName = &name

	path, err := r.Render(context.Background(), f)
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if path != filepath.Join(dir, "form-1.pdf") {
		t.Errorf("path = %q", path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read output: %v", err)
	}
	if !bytes.HasPrefix(data, []byte("%PDF-1.4")) {
		t.Errorf("output is not a pdf: %q", data[:16])
	}
	if !bytes.HasSuffix(bytes.TrimSpace(data), []byte("%%EOF")) {
		t.Errorf("missing trailer")
	}
	if !bytes.Contains(data, []byte(`(Maria \(Lopez\)) Tj`)) {
		t.Errorf("applicant line missing or unescaped")
	}
}

func TestEscapeText(t *testing.T) {
	if got := escapeText(`a(b)c\d`); got != `a\(b\)c\\d` {
		t.Errorf("escaped = %q", got)
	}
}
