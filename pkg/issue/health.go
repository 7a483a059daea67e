package issue

import (
	"time"

	"dccgate/internal/domain"
)

const dateLayout = "2006-01-02"

func Vaccination(uvci, country string, date time.Time) domain.HealthCertificate {
	return domain.HealthCertificate{
		Version:     "1.3.0",
		Subject:     sampleSubject(),
		DateOfBirth: "1990-01-01",
		Vaccinations: []domain.Vaccination{{
			Target:         "840539006",
			Prophylaxis:    "1119349007",
			Product:        "EU/1/20/1528",
			Manufacturer:   "ORG-100030215",
			DoseNumber:     2,
			TotalDoses:     2,
			Date:           date.UTC().Format(dateLayout),
			Country:        country,
			CertIssuer:     "Ministry of Health",
			CertIdentifier: uvci,
		}},
	}
}

func Test(uvci, country string, sampledAt time.Time, result string) domain.HealthCertificate {
	return domain.HealthCertificate{
		Version:     "1.3.0",
		Subject:     sampleSubject(),
		DateOfBirth: "1990-01-01",
		Tests: []domain.Test{{
			Target:         "840539006",
			TestType:       "LP6464-4",
			Name:           "Roche LightCycler qPCR",
			SampledAt:      sampledAt.UTC().Format(time.RFC3339),
			Result:         result,
			Facility:       "Test Centre",
			Country:        country,
			CertIssuer:     "Ministry of Health",
			CertIdentifier: uvci,
		}},
	}
}

func Recovery(uvci, country string, validFrom, validUntil time.Time) domain.HealthCertificate {
	return domain.HealthCertificate{
		Version:     "1.3.0",
		Subject:     sampleSubject(),
		DateOfBirth: "1990-01-01",
		Recoveries: []domain.Recovery{{
			Target:         "840539006",
			FirstPositive:  validFrom.AddDate(0, 0, -11).UTC().Format(dateLayout),
			Country:        country,
			CertIssuer:     "Ministry of Health",
			ValidFrom:      validFrom.UTC().Format(dateLayout),
			ValidUntil:     validUntil.UTC().Format(dateLayout),
			CertIdentifier: uvci,
		}},
	}
}

func sampleSubject() domain.Subject {
	return domain.Subject{
		FamilyName:             "Musterfrau",
		FamilyNameStandardized: "MUSTERFRAU",
		GivenName:              "Erika",
		GivenNameStandardized:  "ERIKA",
	}
}
