// Package extracttest builds document fixtures for tests.
package extracttest

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

// PDF returns a minimal valid document with one page per entry of pages.
// Lines within a page become separate text-showing operators.
func PDF(pages ...string) []byte {
	var b strings.Builder
	b.WriteString("%PDF-1.4\n")

	// Objects: 1 catalog, 2 page tree, 3 font, then a page and its content
	// stream per page.
	n := 3 + 2*len(pages)
	offsets := make([]int, n+1)

	kids := make([]string, len(pages))
	for i := range pages {
		kids[i] = strconv.Itoa(4+2*i) + " 0 R"
	}

	offsets[1] = b.Len()
	b.WriteString("1 0 obj\n<< /Type /Catalog /Pages 2 0 R >>\nendobj\n")
	offsets[2] = b.Len()
	b.WriteString("2 0 obj\n<< /Type /Pages /Kids [" + strings.Join(kids, " ") + "] /Count " + strconv.Itoa(len(pages)) + " >>\nendobj\n")
	offsets[3] = b.Len()
	b.WriteString("3 0 obj\n<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica >>\nendobj\n")

	for i, page := range pages {
		pageObj, contentObj := 4+2*i, 5+2*i
		stream := contentStream(page)

		offsets[pageObj] = b.Len()
		b.WriteString(strconv.Itoa(pageObj) + " 0 obj\n<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] /Contents " +
			strconv.Itoa(contentObj) + " 0 R /Resources << /Font << /F1 3 0 R >> >> >>\nendobj\n")

		offsets[contentObj] = b.Len()
		b.WriteString(strconv.Itoa(contentObj) + " 0 obj\n<< /Length " + strconv.Itoa(len(stream)) + " >>\nstream\n")
		b.WriteString(stream)
		b.WriteString("\nendstream\nendobj\n")
	}

	xref := b.Len()
	b.WriteString("xref\n0 " + strconv.Itoa(n+1) + "\n")
	b.WriteString("0000000000 65535 f \n")
	for i := 1; i <= n; i++ {
		b.WriteString(padOffset(offsets[i]) + " 00000 n \n")
	}
	b.WriteString("trailer\n<< /Size " + strconv.Itoa(n+1) + " /Root 1 0 R >>\nstartxref\n")
	b.WriteString(strconv.Itoa(xref))
	b.WriteString("\n%%EOF\n")
	return []byte(b.String())
}

func contentStream(page string) string {
	var sb strings.Builder
	sb.WriteString("BT\n/F1 12 Tf\n14 TL\n72 720 Td\n")
	for i, line := range strings.Split(page, "\n") {
		if i > 0 {
			sb.WriteString("T*\n")
		}
		sb.WriteString("(" + escape(line) + ") Tj\n")
	}
	sb.WriteString("ET")
	return sb.String()
}

func escape(s string) string {
	return strings.NewReplacer(`\`, `\\`, "(", `\(`, ")", `\)`).Replace(s)
}

func padOffset(n int) string {
	s := strconv.Itoa(n)
	return strings.Repeat("0", max(0, 10-len(s))) + s
}

// WritePDF writes PDF(pages...) to dir/name and returns the path.
func WritePDF(tb testing.TB, dir, name string, pages ...string) string {
	tb.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, PDF(pages...), 0o644); err != nil {
		tb.Fatalf("write %q: %v", path, err)
	}
	return path
}

// Encrypt writes an AES-256 encrypted copy of the document at path, openable
// only with userPW, and returns the new path.
func Encrypt(tb testing.TB, path, userPW string) string {
	tb.Helper()
	out := strings.TrimSuffix(path, filepath.Ext(path)) + ".locked.pdf"
	conf := model.NewAESConfiguration(userPW, userPW+"-owner", 256)
	if err := api.EncryptFile(path, out, conf); err != nil {
		tb.Fatalf("encrypt %q: %v", path, err)
	}
	return out
}
