package detect

import "regexp"

// Pattern is one entry of the detection catalogue.
type Pattern struct {
	Type   EntityType
	Name   string
	Regexp *regexp.Regexp
	Score  float64
}

func pattern(t EntityType, name, expr string, score float64) Pattern {
	return Pattern{Type: t, Name: name, Regexp: regexp.MustCompile(expr), Score: score}
}

const streetSuffix = `(?:Street|St|Avenue|Ave|Road|Rd|Boulevard|Blvd|Drive|Dr|Lane|Ln|Court|Ct|Place|Pl|Way|Terrace|Ter|Circle|Cir|Parkway|Pkwy)`

// DefaultPatterns returns the built-in catalogue. Order is significant: it is
// the evaluation order and breaks confidence ties during overlap resolution.
//
// RE2 has no look-around, so the raw nine-digit forms rely on \b.
func DefaultPatterns() []Pattern {
	return []Pattern{
		pattern(TypeID, "ID_DASHED", `\b\d{3}-\d{2}-\d{4}\b`, 0.95),
		pattern(TypeID, "ID_SPACED", `\b\d{3} \d{2} \d{4}\b`, 0.95),
		pattern(TypeID, "ID_DOTTED", `\b\d{3}\.\d{2}\.\d{4}\b`, 0.95),
		pattern(TypeID, "ID_RAW", `\b\d{9}\b`, 0.6),

		pattern(TypePhoneNumber, "US_PHONE", `(?:\+?1[-.\s]?)?(?:\(\d{3}\)|\b\d{3})[-.\s]?\d{3}[-.\s]?\d{4}\b`, 0.9),
		pattern(TypePhoneNumber, "INTERNATIONAL_PHONE", `\+\d{1,3}[-.\s]?\d{1,4}[-.\s]?\d{1,4}[-.\s]?\d{1,9}\b`, 0.8),
		pattern(TypePhoneNumber, "PHONE_WITH_EXT", `(?i)(?:\(\d{3}\)|\b\d{3})[-.\s]?\d{3}[-.\s]?\d{4}\s?(?:ext|extension|x)\.?\s?\d+\b`, 0.9),

		pattern(TypeAddress, "FULL_ADDRESS", `\b\d+\s+[A-Za-z ]+`+streetSuffix+`(?:\s+(?:Apt|Apartment|Unit|Suite|Ste|#)\s*[A-Za-z0-9]+)?,\s+[A-Za-z ]+,\s+[A-Z]{2}\s+\d{5}(?:-\d{4})?\b`, 0.95),
		pattern(TypeAddress, "STREET_ADDRESS", `\b\d+\s+[A-Za-z ]+`+streetSuffix+`\b`, 0.85),
		pattern(TypeAddress, "CITY_STATE_ZIP", `\b[A-Za-z][A-Za-z ]*,\s+[A-Z]{2}\s+\d{5}(?:-\d{4})?\b`, 0.9),
		pattern(TypeAddress, "PO_BOX", `\bP\.?O\.?\s+Box\s+\d+\b`, 0.8),

		pattern(TypeEmailAddress, "EMAIL", `\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`, 0.99),

		pattern(TypeCreditCard, "CREDIT_CARD_FORMATTED", `\b\d{4}[-\s]?\d{4}[-\s]?\d{4}[-\s]?\d{4}\b`, 0.95),
		pattern(TypeCreditCard, "CREDIT_CARD_AMEX", `\b3[47]\d{2}[-\s]?\d{6}[-\s]?\d{5}\b`, 0.95),
		pattern(TypeCreditCard, "CREDIT_CARD_RAW", `\b(?:4\d{15}|5[1-5]\d{14}|3[47]\d{13}|6(?:011|5\d{2})\d{12})\b`, 0.9),

		pattern(TypeEIN, "EIN_FORMATTED", `\b\d{2}-\d{7}\b`, 0.95),
		pattern(TypeEIN, "EIN_RAW", `\b\d{9}\b`, 0.7),

		pattern(TypeZIP, "ZIP_EXTENDED", `\b\d{5}-\d{4}\b`, 0.95),
		pattern(TypeZIP, "ZIP_BASIC", `\b\d{5}\b`, 0.85),

		pattern(TypeDriverLicense, "DRIVER_LICENSE", `\b[A-Z]{1,2}\d{6,8}\b`, 0.8),

		pattern(TypeSocialMediaHandle, "TWITTER_X_HANDLE", `@[A-Za-z0-9_]{1,15}\b`, 0.9),
		pattern(TypeSocialMediaHandle, "INSTAGRAM_HANDLE", `@[A-Za-z0-9_.]{1,30}\b`, 0.9),
		pattern(TypeSocialMediaHandle, "LINKEDIN_HANDLE", `linkedin\.com/in/[A-Za-z0-9-]+`, 0.95),
		pattern(TypeSocialMediaHandle, "FACEBOOK_HANDLE", `facebook\.com/[A-Za-z0-9.]+`, 0.9),
		pattern(TypeSocialMediaHandle, "GENERIC_SOCIAL_HANDLE", `@[A-Za-z0-9_.-]{3,30}\b`, 0.7),

		pattern(TypeBankRouting, "BANK_ROUTING", `\b\d{9}\b`, 0.8),
	}
}
