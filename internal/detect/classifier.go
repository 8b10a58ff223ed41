package detect

import (
	"regexp"
	"strings"
)

var (
	phoneDomesticFull = regexp.MustCompile(`^\+?1[\s\-.]?\(?[2-9]\d{2}\)?[\s\-.]?\d{3}[\s\-.]?\d{4}$`)
	phoneCountryCode  = regexp.MustCompile(`^\+(\d{1,4})[\s\-.]?\d`)

	addrStateZIP    = regexp.MustCompile(`\b[A-Z]{2}\s+\d{5}(?:-\d{4})?\b`)
	addrLoneZIP     = regexp.MustCompile(`^\d{5}(?:-\d{4})?$`)
	addrUSStreet    = regexp.MustCompile(`(?i)\b\d+\s+[a-z\s]+(?:street|st|avenue|ave|road|rd|drive|dr|lane|ln|boulevard|blvd|way|court|ct|place|pl)\b`)
	// \b is ASCII-only in RE2, so words ending in a non-ASCII letter sit outside the group.
	addrNonEnglish  = regexp.MustCompile(`(?i)\b(?:rue|via|strasse|avenida|boulevard|platz|gatan|vägen|corso|rua|calle|postbus|boîte|casella)\b|\bstraße`)
	addrCountryName = regexp.MustCompile(`(?i)\b(?:uk|united kingdom|canada|australia|germany|france|italy|spain|netherlands|sweden|norway|denmark|finland|belgium|austria|switzerland)\b`)

	addrForeignPostal = []struct {
		re    *regexp.Regexp
		score float64
	}{
		{regexp.MustCompile(`\b[A-Z]{1,2}\d{1,2}[A-Z]?\s+\d[A-Z]{2}\b`), 0.95}, // UK
		{regexp.MustCompile(`\b[A-Z]\d[A-Z]\s+\d[A-Z]\d\b`), 0.95},             // Canada
		{regexp.MustCompile(`\b\d{4}\s*[A-Z]{2}\b`), 0.9},                      // Netherlands
		{regexp.MustCompile(`\b\d{5}\s+[A-Z][a-z]{2,}\b`), 0.85},               // continental Europe
	}

	emailOfficial = regexp.MustCompile(`(?i)\.(?:gov|mil|edu)$`)
	emailTLD      = regexp.MustCompile(`\.([A-Za-z]+)$`)

	intlContext     = regexp.MustCompile(`(?i)\b(?:international|global|worldwide|europe|asia|foreign|overseas|uk|canada|australia)\b`)
	profileContext  = regexp.MustCompile(`(?i)\b(?:uk|canada|australia|europe|asia|international|global)\b`)
	handleIntlWords = regexp.MustCompile(`(?i)\b(?:international|global|worldwide|europe|asia|foreign|overseas|uk|canada|australia|germany|france|italy|spain|netherlands)\b`)
	nonLatinScript  = regexp.MustCompile(`[\x{00C0}-\x{017F}\x{0400}-\x{04FF}\x{4E00}-\x{9FFF}]`)

	linkedinProfile = regexp.MustCompile(`(?i)linkedin\.com/in/.+`)
	facebookProfile = regexp.MustCompile(`(?i)facebook\.com/.+`)
)

var genericTLDs = map[string]bool{"com": true, "org": true, "net": true, "info": true, "biz": true}

// Classifier assigns a jurisdiction label to a finding. The zero value is
// ready to use.
//
// Ambiguous phone numbers and addresses default to Controlled while ambiguous
// email domains and handles default to NonControlled. The asymmetry is a
// product rule and must be kept.
type Classifier struct{}

// Classify returns the label and its confidence for value of type t, using
// context (the text surrounding the value) for the structural rules.
func (Classifier) Classify(t EntityType, value, context string) (Label, float64) {
	switch t {
	case TypeID:
		return Controlled, 0.95
	case TypeDriverLicense:
		return Controlled, 0.9
	case TypeEIN:
		return Controlled, 0.95
	case TypeZIP:
		return Controlled, 0.9
	case TypeCreditCard:
		return NonControlled, 0.8
	case TypePhoneNumber:
		return classifyPhone(value)
	case TypeAddress:
		return classifyAddress(value)
	case TypeEmailAddress:
		return classifyEmail(value, context)
	case TypeSocialMediaHandle:
		return classifySocial(value, context)
	default:
		return NonControlled, 0.5
	}
}

func classifyPhone(phone string) (Label, float64) {
	if phoneDomesticFull.MatchString(phone) {
		return Controlled, 0.95
	}
	if m := phoneCountryCode.FindStringSubmatch(phone); m != nil && m[1] != "1" {
		return NonControlled, 0.9
	}
	d := digitsOf(phone)
	switch {
	case len(d) == 10 && d[0] >= 2:
		return Controlled, 0.8
	case len(d) == 11 && d[0] == 1:
		return Controlled, 0.85
	case len(d) > 11:
		return NonControlled, 0.75
	case len(d) < 10:
		return NonControlled, 0.6
	}
	return Controlled, 0.5
}

func classifyAddress(addr string) (Label, float64) {
	if addrStateZIP.MatchString(addr) {
		return Controlled, 0.95
	}
	for _, p := range addrForeignPostal {
		if p.re.MatchString(addr) {
			return NonControlled, p.score
		}
	}
	if addrNonEnglish.MatchString(addr) {
		return NonControlled, 0.8
	}
	if addrCountryName.MatchString(addr) {
		return NonControlled, 0.85
	}
	if addrUSStreet.MatchString(addr) {
		return Controlled, 0.75
	}
	if addrLoneZIP.MatchString(strings.TrimSpace(addr)) {
		return Controlled, 0.9
	}
	return Controlled, 0.5
}

func classifyEmail(email, context string) (Label, float64) {
	if emailOfficial.MatchString(email) {
		return Controlled, 0.95
	}
	m := emailTLD.FindStringSubmatch(email)
	if m == nil {
		return NonControlled, 0.6
	}
	tld := strings.ToLower(m[1])
	if genericTLDs[tld] {
		if intlContext.MatchString(context) {
			return NonControlled, 0.7
		}
		return Controlled, 0.65
	}
	if len(tld) == 2 {
		return NonControlled, 0.9
	}
	return NonControlled, 0.6
}

func classifySocial(handle, context string) (Label, float64) {
	if linkedinProfile.MatchString(handle) {
		if profileContext.MatchString(context) {
			return NonControlled, 0.8
		}
		return Controlled, 0.7
	}
	if facebookProfile.MatchString(handle) {
		if profileContext.MatchString(context) {
			return NonControlled, 0.75
		}
		return Controlled, 0.65
	}
	if strings.HasPrefix(handle, "@") {
		if handleIntlWords.MatchString(context) || nonLatinScript.MatchString(context) {
			return NonControlled, 0.7
		}
		return Controlled, 0.6
	}
	return NonControlled, 0.5
}
