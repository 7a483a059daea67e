package usecase

import (
	"encoding/hex"
	"testing"

	"dccgate/internal/domain"
)

func TestRevocationHash(t *testing.T) {
	sig := make([]byte, 64)
	for i := range sig {
		sig[i] = byte(i)
	}
	cert := &domain.Certificate{
		Signature: sig,
		Algorithm: domain.AlgES256,
		Issuer:    "AT",
		Health: domain.HealthCertificate{
			Vaccinations: []domain.Vaccination{{Country: "AT", CertIdentifier: "URN:UVCI:01:AT:X"}},
		},
	}
	cases := []struct {
		name string
		cert *domain.Certificate
		ht   domain.HashType
		want string
	}{
		{"ecdsa signature uses r", cert, domain.HashTypeSignature, "630dcd2966c4336691125448bbb25b4f"},
		{"rsa signature uses whole", func() *domain.Certificate { c := *cert; c.Algorithm = domain.AlgPS256; return &c }(),
			domain.HashTypeSignature, "fdeab9acf3710362bd2658cdc9a29e8f"},
		{"uci", cert, domain.HashTypeUCI, "ab40a6b990c0b8186aa2a74b570537a4"},
		{"country uci", cert, domain.HashTypeCountryCodeUCI, "67db570bdfb403f4b31dc65f8383cc76"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := RevocationHash(tc.cert, tc.ht)
			if err != nil {
				t.Fatalf("hash: %v", err)
			}
			if hex.EncodeToString(got) != tc.want {
				t.Fatalf("got %x want %s", got, tc.want)
			}
		})
	}

	if _, err := RevocationHash(&domain.Certificate{}, domain.HashTypeUCI); err == nil {
		t.Fatal("expected error without uvci")
	}
}

func TestNibbleMapper(t *testing.T) {
	hash, _ := hex.DecodeString("ab40a6b990c0b8186aa2a74b570537a4")
	cases := []struct {
		name  string
		width int
		mode  domain.RevocationMode
		x, y  string
		chunk string
	}{
		{"point", 1, domain.RevocationModePoint, "", "", "a"},
		{"vector", 1, domain.RevocationModeVector, "a", "", "b"},
		{"coordinate", 1, domain.RevocationModeCoordinate, "a", "b", "4"},
		{"coordinate width 2", 2, domain.RevocationModeCoordinate, "ab", "40", "a6"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			key := NibbleMapper{Width: tc.width}.LookupKey("kid", tc.mode, hash)
			if key.KID != "kid" || key.ChunkID != tc.chunk {
				t.Fatalf("unexpected key %+v", key)
			}
			if got := deref(key.X); got != tc.x || (tc.x == "" && key.X != nil) {
				t.Fatalf("x: got %v want %q", key.X, tc.x)
			}
			if got := deref(key.Y); got != tc.y || (tc.y == "" && key.Y != nil) {
				t.Fatalf("y: got %v want %q", key.Y, tc.y)
			}
		})
	}
}

func deref(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}
