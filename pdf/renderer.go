// Package pdf produces the acceptance snapshot stored after a client
// confirms their application. Layout is deliberately plain: a one-page text
// summary, written directly in PDF syntax so no rendering toolchain is
// needed at runtime.
package pdf

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"intakeflow/form"
)

type Renderer struct {
	dir string
}

func NewRenderer(dir string) (*Renderer, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("pdf: create output dir: %w", err)
	}
	return &Renderer{dir: dir}, nil
}

// Render writes the snapshot for a confirmed form and returns the file path.
func (r *Renderer) Render(ctx context.Context, f form.Form) (string, error) {
	path := filepath.Join(r.dir, f.ID+".pdf")

	doc := buildDocument(summaryLines(f))
	if err := os.WriteFile(path, doc, 0o644); err != nil {
		return "", fmt.Errorf("pdf: write %s: %w", path, err)
	}
	return path, nil
}

func summaryLines(f form.Form) []string {
	lines := []string{
		"Insurance Application Form",
		"",
		"Form ID: " + f.ID,
		"Status: " + string(f.Status),
		"Agent: " + f.AgentName,
	}
	if f.ApplicantName != nil {
		lines = append(lines, "Applicant: "+*f.ApplicantName)
	}
	if f.Email != nil {
		lines = append(lines, "Email: "+*f.Email)
	}
	if f.Phone != nil {
		lines = append(lines, "Phone: "+*f.Phone)
	}
	if f.InsuranceCompany != nil {
		lines = append(lines, "Insurance company: "+*f.InsuranceCompany)
	}
	if f.InsurancePlan != nil {
		lines = append(lines, "Plan: "+*f.InsurancePlan)
	}
	if f.PolicyNumber != nil {
		lines = append(lines, "Policy number: "+*f.PolicyNumber)
	}
	if f.ConfirmedAt != nil {
		lines = append(lines, "", "Confirmed at: "+f.ConfirmedAt.UTC().Format(time.RFC3339))
	}
	return lines
}

// buildDocument assembles a single-page PDF with one text block. Object
// offsets are tracked as the body is written so the xref table stays correct.
func buildDocument(lines []string) []byte {
	var content bytes.Buffer
	content.WriteString("BT\n/F1 11 Tf\n14 TL\n72 720 Td\n")
	for i, line := range lines {
		if i > 0 {
			content.WriteString("T*\n")
		}
		fmt.Fprintf(&content, "(%s) Tj\n", escapeText(line))
	}
	content.WriteString("ET\n")

	objects := []string{
		"<< /Type /Catalog /Pages 2 0 R >>",
		"<< /Type /Pages /Kids [3 0 R] /Count 1 >>",
		"<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] /Resources << /Font << /F1 4 0 R >> >> /Contents 5 0 R >>",
		"<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica >>",
		fmt.Sprintf("<< /Length %d >>\nstream\n%sendstream", content.Len(), content.String()),
	}

	var out bytes.Buffer
	out.WriteString("%PDF-1.4\n")

	offsets := make([]int, len(objects))
	for i, obj := range objects {
		offsets[i] = out.Len()
		fmt.Fprintf(&out, "%d 0 obj\n%s\nendobj\n", i+1, obj)
	}

	xrefStart := out.Len()
	fmt.Fprintf(&out, "xref\n0 %d\n", len(objects)+1)
	out.WriteString("0000000000 65535 f \n")
	for _, off := range offsets {
		fmt.Fprintf(&out, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&out, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(objects)+1, xrefStart)

	return out.Bytes()
}

func escapeText(s string) string {
	replacer := strings.NewReplacer(`\`, `\\`, "(", `\(`, ")", `\)`)
	return replacer.Replace(s)
}
