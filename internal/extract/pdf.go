package extract

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"os"
	"regexp"
	"strings"
	"unicode"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

// readPDF parses and validates the document with an empty password.
func readPDF(path string) (*model.Context, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	pc, err := api.ReadValidateAndOptimize(f, model.NewDefaultConfiguration())
	if err != nil {
		if isEncryptionError(err) {
			return nil, fmt.Errorf("%w: %v", ErrEncrypted, err)
		}
		return nil, fmt.Errorf("pdfcpu read: %w", err)
	}
	return pc, nil
}

// isEncryptionError matches pdfcpu's password failures. Only the wrong
// password case has a sentinel; the others are plain errors.
func isEncryptionError(err error) bool {
	if errors.Is(err, pdfcpu.ErrWrongPassword) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "password") || strings.Contains(msg, "encrypt")
}

// pdfChunks yields one chunk per page with text. Pages that fail extraction
// are skipped with a warning.
func (s *Source) pdfChunks(ctx context.Context) iter.Seq2[Chunk, error] {
	return func(yield func(Chunk, error) bool) {
		pc := s.pdf
		var offset int64
		index := 0
		for pageNr := 1; pageNr <= pc.PageCount; pageNr++ {
			if err := ctx.Err(); err != nil {
				yield(Chunk{}, err)
				return
			}
			text, err := pageText(pc, pageNr)
			if err != nil {
				slog.Warn("pdf: skipping page", "path", s.path, "page", pageNr, "error", err)
				continue
			}
			if text == "" {
				continue
			}
			c := Chunk{Index: index, Offset: offset, Text: text, Owned: len(text), Bytes: int64(len(text))}
			if !yield(c, nil) {
				return
			}
			offset += int64(len(text)) + 1
			index++
		}
	}
}

func pageText(pc *model.Context, pageNr int) (string, error) {
	r, err := pdfcpu.ExtractPageContent(pc, pageNr)
	if err != nil {
		return "", err
	}
	if r == nil {
		return "", nil
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	return textFromContentStream(data), nil
}

var pdfString = regexp.MustCompile(`\(((?:\\.|[^\\)])*)\)`)

// textFromContentStream pulls string operands of the text-showing operators
// out of a page content stream.
func textFromContentStream(data []byte) string {
	var sb strings.Builder
	for _, line := range bytes.Split(data, []byte{'\n'}) {
		line = bytes.TrimSpace(line)
		switch {
		case len(line) == 0:
		case bytes.HasSuffix(line, []byte("Tj")), bytes.HasSuffix(line, []byte("TJ")):
			for _, m := range pdfString.FindAllSubmatch(line, -1) {
				sb.WriteString(unescapePDF(m[1]))
			}
		case bytes.HasSuffix(line, []byte("'")) && bytes.Contains(line, []byte("(")):
			for _, m := range pdfString.FindAllSubmatch(line, -1) {
				sb.WriteByte('\n')
				sb.WriteString(unescapePDF(m[1]))
			}
		case bytes.HasSuffix(line, []byte("Td")), bytes.HasSuffix(line, []byte("TD")):
			if sb.Len() > 0 {
				sb.WriteByte(' ')
			}
		case bytes.Equal(line, []byte("T*")), bytes.Equal(line, []byte("ET")):
			sb.WriteByte('\n')
		}
	}
	return normalizeSpace(sb.String())
}

func unescapePDF(raw []byte) string {
	var sb strings.Builder
	for i := 0; i < len(raw); i++ {
		if raw[i] != '\\' || i+1 == len(raw) {
			sb.WriteByte(raw[i])
			continue
		}
		i++
		switch c := raw[i]; c {
		case 'n':
			sb.WriteByte('\n')
		case 'r':
			sb.WriteByte('\r')
		case 't':
			sb.WriteByte('\t')
		case '0', '1', '2', '3', '4', '5', '6', '7':
			v := int(c - '0')
			for j := 0; j < 2 && i+1 < len(raw) && raw[i+1] >= '0' && raw[i+1] <= '7'; j++ {
				i++
				v = v*8 + int(raw[i]-'0')
			}
			sb.WriteByte(byte(v))
		default:
			sb.WriteByte(c)
		}
	}
	return sb.String()
}

// normalizeSpace collapses runs of blanks within lines and drops
// non-printable runes, keeping line breaks.
func normalizeSpace(text string) string {
	var sb strings.Builder
	pending := rune(0)
	for _, r := range text {
		switch {
		case r == '\n' || r == '\r':
			if sb.Len() > 0 {
				pending = '\n'
			}
		case unicode.IsSpace(r):
			if sb.Len() > 0 && pending == 0 {
				pending = ' '
			}
		case unicode.IsPrint(r):
			if pending != 0 {
				sb.WriteRune(pending)
				pending = 0
			}
			sb.WriteRune(r)
		}
	}
	return sb.String()
}
