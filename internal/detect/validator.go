package detect

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/eargollo/piiscan/internal/config"
)

var contextKeywords = []string{
	"ssn", "social security", "tax id", "tin", "itin", "ein",
	"employee id", "patient id", "member id", "account number",
	"name:", "address:", "phone:", "email:", "dob:", "date of birth:",
	"contact:", "customer:", "client:", "patient:", "employee:",
	"credit card", "debit card", "bank account", "routing number",
	"iban", "swift", "payment", "billing",
	"passport", "license", "visa", "permit", "certificate",
}

var falsePositiveIndicators = []string{
	"version", "build", "release", "commit", "hash", "uuid",
	"timestamp", "datetime", "epoch", "unix",
	"example", "sample", "test", "demo", "dummy", "fake",
	"placeholder", "template", "mock", "lorem ipsum",
	"documentation", "readme", "changelog", "license",
	"http://", "https://", "ftp://", "file://",
	"localhost", "127.0.0.1", "0.0.0.0",
}

// 123-45-6789 and 987-65-4321 are absent: they are real-world sample values
// that operators expect to be reported.
var invalidIDs = map[string]bool{
	"000-00-0000": true, "111-11-1111": true, "222-22-2222": true,
	"333-33-3333": true, "444-44-4444": true, "555-55-5555": true,
	"666-66-6666": true, "777-77-7777": true, "888-88-8888": true,
	"999-99-9999": true, "078-05-1120": true,
}

var invalidAreaCodes = map[string]bool{
	"000": true, "111": true, "222": true, "333": true, "444": true,
	"555": true, "666": true, "777": true, "888": true, "999": true,
}

var testCards = map[string]bool{
	"4111111111111111": true,
	"5555555555554444": true,
	"378282246310005":  true,
}

var (
	sampleEmailDomains  = []string{"example.com", "test.com", "demo.com", "sample.com", "localhost", "127.0.0.1"}
	systemEmailPrefixes = []string{"noreply@", "no-reply@", "donotreply@", "system@", "admin@", "root@"}
	placeholderAddrs    = []string{"123 main st", "123 fake st", "1234 test lane", "example address"}

	versionContext   = regexp.MustCompile(`(?i)version|v\d+\.\d+\.\d+`)
	timestampContext = regexp.MustCompile(`(?i)timestamp|unix|epoch|\d{10,13}`)
	usPhoneArea      = regexp.MustCompile(`^\(?(\d{3})\)?[-.\s]?\d{3}[-.\s]?\d{4}`)
)

// keywordRegexp builds a case-insensitive alternation that anchors each
// keyword on a word boundary only where the keyword itself has a word
// character at that edge.
func keywordRegexp(words []string) *regexp.Regexp {
	alts := make([]string, len(words))
	for i, w := range words {
		q := regexp.QuoteMeta(w)
		if isWordByte(w[0]) {
			q = `\b` + q
		}
		if isWordByte(w[len(w)-1]) {
			q += `\b`
		}
		alts[i] = q
	}
	return regexp.MustCompile(`(?i)(?:` + strings.Join(alts, "|") + `)`)
}

func isWordByte(c byte) bool {
	return c == '_' || c >= '0' && c <= '9' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z'
}

// Validator adjusts candidate confidence from surrounding context and rejects
// known sample values.
type Validator struct {
	cfg      config.Detector
	positive *regexp.Regexp
	negative *regexp.Regexp
}

// NewValidator compiles the context keyword sets.
func NewValidator(cfg config.Detector) *Validator {
	return &Validator{
		cfg:      cfg,
		positive: keywordRegexp(contextKeywords),
		negative: keywordRegexp(falsePositiveIndicators),
	}
}

// Validate returns whether the candidate is accepted and its adjusted
// confidence, clamped to [0, 1].
func (v *Validator) Validate(t EntityType, value, context string, base float64) (bool, float64) {
	var (
		ok  bool
		adj float64
	)
	switch t {
	case TypeID:
		ok, adj = v.validateID(value, context)
	case TypePhoneNumber:
		ok, adj = v.validatePhone(value, context)
	case TypeCreditCard:
		ok, adj = v.validateCard(value, context)
	case TypeEmailAddress:
		ok, adj = v.validateEmail(value, context)
	case TypeAddress:
		ok, adj = v.validateAddress(value, context)
	default:
		ok, adj = true, v.contextAdjustment(context)
	}
	if !ok {
		return false, 0
	}
	conf := min(max(base+adj, 0), 1)
	if conf < v.cfg.MinConfidence {
		return false, conf
	}
	return true, conf
}

func (v *Validator) contextAdjustment(context string) float64 {
	if context == "" {
		return 0
	}
	var adj float64
	if v.positive.MatchString(context) {
		adj += v.cfg.ContextBoost
	}
	if v.negative.MatchString(context) {
		adj -= v.cfg.FalsePositivePenalty
	}
	return adj
}

func (v *Validator) validateID(value, context string) (bool, float64) {
	if invalidIDs[value] {
		return false, 0
	}
	d := digitsOf(value)
	if len(d) < 3 {
		return false, 0
	}
	same := true
	for _, c := range d[1:] {
		if c != d[0] {
			same = false
			break
		}
	}
	if same || (sequentialRun(d) && !sampleIDs[string(digitsASCII(value))]) {
		return false, 0
	}
	area := int(d[0])*100 + int(d[1])*10 + int(d[2])
	if area == 0 || area == 666 || area > 899 {
		return false, 0
	}
	adj := v.contextAdjustment(context)
	if versionContext.MatchString(context) {
		adj -= 0.5
	}
	return true, adj
}

func (v *Validator) validatePhone(value, context string) (bool, float64) {
	if m := usPhoneArea.FindStringSubmatch(value); m != nil && invalidAreaCodes[m[1]] {
		if m[1] != "555" {
			return false, 0
		}
		// Fictional 555 numbers are accepted only in the 0100-0199 block.
		rest := strings.ReplaceAll(string(digitsASCII(value)), "555", "")
		if len(rest) < 4 {
			return false, 0
		}
		if n, _ := strconv.Atoi(rest[:4]); n < 100 || n > 199 {
			return false, 0
		}
	}
	adj := v.contextAdjustment(context)
	if timestampContext.MatchString(context) {
		adj -= 0.4
	}
	return true, adj
}

func (v *Validator) validateCard(value, context string) (bool, float64) {
	if !Luhn(value) {
		return false, 0
	}
	if testCards[string(digitsASCII(value))] {
		return false, 0
	}
	return true, v.contextAdjustment(context)
}

func (v *Validator) validateEmail(value, context string) (bool, float64) {
	lower := strings.ToLower(value)
	for _, s := range sampleEmailDomains {
		if strings.Contains(lower, s) {
			return false, 0
		}
	}
	var adj float64
	for _, p := range systemEmailPrefixes {
		if strings.Contains(lower, p) {
			adj = -0.3
			break
		}
	}
	return true, adj + v.contextAdjustment(context)
}

func (v *Validator) validateAddress(value, context string) (bool, float64) {
	lower := strings.ToLower(value)
	for _, p := range placeholderAddrs {
		if strings.Contains(lower, p) {
			return false, 0
		}
	}
	return true, v.contextAdjustment(context)
}

// sequentialRun reports whether every digit steps by +1 or by -1 from the
// previous one without wrapping, as in 012-34-5678 or 876-54-3210.
func sequentialRun(d []byte) bool {
	if len(d) < 3 {
		return false
	}
	step := int(d[1]) - int(d[0])
	if step != 1 && step != -1 {
		return false
	}
	for i := 2; i < len(d); i++ {
		if int(d[i])-int(d[i-1]) != step {
			return false
		}
	}
	return true
}

// sampleIDs are sequential but reported anyway; see invalidIDs.
var sampleIDs = map[string]bool{"123456789": true, "987654321": true}

func digitsASCII(s string) []byte {
	d := digitsOf(s)
	for i := range d {
		d[i] += '0'
	}
	return d
}
