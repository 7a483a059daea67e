package domain

import "time"

type StatementType string

const (
	StatementVaccination StatementType = "v"
	StatementTest        StatementType = "t"
	StatementRecovery    StatementType = "r"
	StatementUnknown     StatementType = ""
)

// COSE algorithm identifiers carried in protected header label 1.
const (
	AlgES256 int64 = -7
	AlgPS256 int64 = -37
)

type Certificate struct {
	Raw         []byte
	Protected   []byte
	Payload     []byte
	Signature   []byte
	Algorithm   int64
	KID         []byte
	Issuer      string
	IssuedAt    time.Time
	Expiry      time.Time
	Health      HealthCertificate
	HealthJSON  []byte
	SchemaValid bool
}

// KeyID returns the trust-list key identifier: base64 of the first 8 KID bytes.
func (c *Certificate) KeyID() string {
	return KeyIDFromBytes(c.KID)
}

// RevocationKID returns the hex form of the first 8 KID bytes, as used by the
// revocation list protocol.
func (c *Certificate) RevocationKID() string {
	return RevocationKIDFromBytes(c.KID)
}

func (c *Certificate) StatementType() StatementType {
	return c.Health.StatementType()
}

// CountryCode is the issuing country of the health statement, falling back to
// the CWT issuer claim.
func (c *Certificate) CountryCode() string {
	if st := c.Health.firstStatement(); st != nil && st.Country != "" {
		return st.Country
	}
	return c.Issuer
}

func (c *Certificate) UVCI() string {
	if st := c.Health.firstStatement(); st != nil {
		return st.UVCI
	}
	return ""
}

type HealthCertificate struct {
	Version      string        `json:"ver"`
	Subject      Subject       `json:"nam"`
	DateOfBirth  string        `json:"dob"`
	Vaccinations []Vaccination `json:"v,omitempty"`
	Tests        []Test        `json:"t,omitempty"`
	Recoveries   []Recovery    `json:"r,omitempty"`
}

type Subject struct {
	FamilyName             string `json:"fn,omitempty"`
	FamilyNameStandardized string `json:"fnt"`
	GivenName              string `json:"gn,omitempty"`
	GivenNameStandardized  string `json:"gnt,omitempty"`
}

type Vaccination struct {
	Target         string `json:"tg"`
	Prophylaxis    string `json:"vp"`
	Product        string `json:"mp"`
	Manufacturer   string `json:"ma"`
	DoseNumber     int    `json:"dn"`
	TotalDoses     int    `json:"sd"`
	Date           string `json:"dt"`
	Country        string `json:"co"`
	CertIssuer     string `json:"is"`
	CertIdentifier string `json:"ci"`
}

type Test struct {
	Target         string `json:"tg"`
	TestType       string `json:"tt"`
	Name           string `json:"nm,omitempty"`
	Manufacturer   string `json:"ma,omitempty"`
	SampledAt      string `json:"sc"`
	Result         string `json:"tr"`
	Facility       string `json:"tc,omitempty"`
	Country        string `json:"co"`
	CertIssuer     string `json:"is"`
	CertIdentifier string `json:"ci"`
}

type Recovery struct {
	Target         string `json:"tg"`
	FirstPositive  string `json:"fr"`
	Country        string `json:"co"`
	CertIssuer     string `json:"is"`
	ValidFrom      string `json:"df"`
	ValidUntil     string `json:"du"`
	CertIdentifier string `json:"ci"`
}

// TestResultNotDetected is the SNOMED code for a negative test result.
const TestResultNotDetected = "260415000"

type statementRef struct {
	Type    StatementType
	Country string
	UVCI    string
}

func (h HealthCertificate) StatementCount() int {
	return len(h.Vaccinations) + len(h.Tests) + len(h.Recoveries)
}

func (h HealthCertificate) StatementType() StatementType {
	if st := h.firstStatement(); st != nil {
		return st.Type
	}
	return StatementUnknown
}

func (h HealthCertificate) firstStatement() *statementRef {
	switch {
	case len(h.Vaccinations) > 0:
		v := h.Vaccinations[0]
		return &statementRef{Type: StatementVaccination, Country: v.Country, UVCI: v.CertIdentifier}
	case len(h.Tests) > 0:
		t := h.Tests[0]
		return &statementRef{Type: StatementTest, Country: t.Country, UVCI: t.CertIdentifier}
	case len(h.Recoveries) > 0:
		r := h.Recoveries[0]
		return &statementRef{Type: StatementRecovery, Country: r.Country, UVCI: r.CertIdentifier}
	}
	return nil
}
