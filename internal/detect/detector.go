package detect

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"strings"
	"unicode/utf8"

	"github.com/eargollo/piiscan/internal/config"
)

const (
	// classifyWindow is the context, in bytes, given to the classifier and
	// validator on each side of a candidate.
	classifyWindow = 100
	// displayWindow is the context kept on the hit for reporting.
	displayWindow = 30
)

// Recognizer is an additional source of candidate spans, such as a model
// backed named-entity recognizer. Spans go through the same validation and
// overlap resolution as pattern matches.
type Recognizer interface {
	Recognize(ctx context.Context, text string) ([]Span, error)
}

// Detector runs the pattern catalogue and any registered recognizers over a
// text. It is immutable after construction and safe for concurrent use.
type Detector struct {
	patterns    []Pattern
	recognizers []Recognizer
	validator   *Validator // nil when validation is disabled
	classifier  Classifier
}

// New returns a Detector using the built-in catalogue.
func New(cfg config.Detector, recognizers ...Recognizer) *Detector {
	return NewWithPatterns(cfg, DefaultPatterns(), recognizers...)
}

// NewWithPatterns returns a Detector with a caller-supplied catalogue.
func NewWithPatterns(cfg config.Detector, patterns []Pattern, recognizers ...Recognizer) *Detector {
	d := &Detector{patterns: patterns, recognizers: recognizers}
	if cfg.Validate {
		d.validator = NewValidator(cfg)
	}
	return d
}

// candidate is a scored span; seq records encounter order for tie-breaks.
type candidate struct {
	Span
	seq int
}

// Detect returns the accepted, non-overlapping hits in text ordered by start
// offset.
func (d *Detector) Detect(ctx context.Context, text string) ([]EntityHit, error) {
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}

	var raw []Span
	for _, p := range d.patterns {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		for _, loc := range p.Regexp.FindAllStringIndex(text, -1) {
			raw = append(raw, Span{Type: p.Type, Start: loc[0], End: loc[1], Confidence: p.Score})
		}
	}
	for _, r := range d.recognizers {
		spans, err := r.Recognize(ctx, text)
		if err != nil {
			return nil, fmt.Errorf("recognizer: %w", err)
		}
		raw = append(raw, spans...)
	}

	cands := make([]candidate, 0, len(raw))
	for _, s := range raw {
		if s.Start < 0 || s.End > len(text) || s.Start >= s.End {
			continue
		}
		value := text[s.Start:s.End]
		if !checksumOK(s.Type, value) {
			continue
		}
		if d.validator != nil {
			ok, conf := d.validator.Validate(s.Type, value, window(text, s.Start, s.End, classifyWindow), s.Confidence)
			if !ok {
				continue
			}
			s.Confidence = conf
		}
		cands = append(cands, candidate{Span: s, seq: len(cands)})
	}

	accepted := resolveOverlaps(cands)

	hits := make([]EntityHit, 0, len(accepted))
	for _, c := range accepted {
		value := text[c.Start:c.End]
		label, _ := d.classifier.Classify(c.Type, value, window(text, c.Start, c.End, classifyWindow))
		hits = append(hits, EntityHit{
			Type:         c.Type,
			Value:        value,
			Start:        c.Start,
			End:          c.End,
			Confidence:   c.Confidence,
			Label:        label,
			ContextLeft:  strings.TrimSpace(text[runeFloor(text, c.Start-displayWindow):c.Start]),
			ContextRight: strings.TrimSpace(text[c.End:runeCeil(text, c.End+displayWindow)]),
		})
	}
	slices.SortFunc(hits, func(a, b EntityHit) int { return cmp.Compare(a.Start, b.Start) })
	return hits, nil
}

// resolveOverlaps keeps the highest-confidence candidates whose spans do not
// intersect any already accepted span. Equal confidences keep encounter order.
func resolveOverlaps(cands []candidate) []candidate {
	slices.SortStableFunc(cands, func(a, b candidate) int {
		if c := cmp.Compare(b.Confidence, a.Confidence); c != 0 {
			return c
		}
		return cmp.Compare(a.seq, b.seq)
	})
	var accepted []candidate
	for _, c := range cands {
		clash := false
		for _, a := range accepted {
			if c.overlaps(a.Span) {
				clash = true
				break
			}
		}
		if !clash {
			accepted = append(accepted, c)
		}
	}
	return accepted
}

// checksumOK applies the checksum gates that hold whether or not validation
// is enabled.
func checksumOK(t EntityType, value string) bool {
	switch t {
	case TypeCreditCard:
		return Luhn(value)
	case TypeBankRouting:
		return ABARouting(value)
	}
	return true
}

// window returns text around [start, end) widened by n bytes on each side,
// cut on rune boundaries.
func window(text string, start, end, n int) string {
	return text[runeFloor(text, start-n):runeCeil(text, end+n)]
}

func runeFloor(s string, i int) int {
	if i <= 0 {
		return 0
	}
	for i > 0 && i < len(s) && !utf8.RuneStart(s[i]) {
		i--
	}
	return min(i, len(s))
}

func runeCeil(s string, i int) int {
	if i >= len(s) {
		return len(s)
	}
	for i < len(s) && !utf8.RuneStart(s[i]) {
		i++
	}
	return i
}
