// Package detect finds sensitive identifiers in text and labels each finding
// by jurisdiction.
package detect

// EntityType names a class of sensitive identifier.
type EntityType string

const (
	TypeID                EntityType = "ID"
	TypeEIN               EntityType = "EIN"
	TypeZIP               EntityType = "ZIP"
	TypePhoneNumber       EntityType = "PHONE_NUMBER"
	TypeAddress           EntityType = "ADDRESS"
	TypeEmailAddress      EntityType = "EMAIL_ADDRESS"
	TypeCreditCard        EntityType = "CREDIT_CARD"
	TypeDriverLicense     EntityType = "DRIVER_LICENSE"
	TypeSocialMediaHandle EntityType = "SOCIAL_MEDIA_HANDLE"
	TypeBankRouting       EntityType = "BANK_ROUTING"
)

// Label is the jurisdiction assigned to a finding.
type Label string

const (
	Controlled    Label = "Controlled"
	NonControlled Label = "NonControlled"
)

// EntityHit is one accepted finding. Start and End are byte offsets into the
// text that was scanned; callers re-base them when the text is a chunk of a
// larger document.
type EntityHit struct {
	Type         EntityType `json:"entity_type"`
	Value        string     `json:"value"`
	Start        int        `json:"start"`
	End          int        `json:"end"`
	Confidence   float64    `json:"confidence"`
	Label        Label      `json:"label"`
	ContextLeft  string     `json:"context_left"`
	ContextRight string     `json:"context_right"`
}

// Span is a raw candidate match before validation and overlap resolution.
type Span struct {
	Type       EntityType
	Start      int
	End        int
	Confidence float64
}

func (s Span) overlaps(o Span) bool {
	return s.Start < o.End && s.End > o.Start
}
