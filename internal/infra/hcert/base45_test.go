package hcert

import (
	"bytes"
	"errors"
	"math/rand"
	"testing"

	"dccgate/internal/domain"
)

func TestBase45_KnownVectors(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"AB", "BB8"},
		{"Hello!!", "%69 VD92EX0"},
		{"base-45", "UJCLQE7W581"},
		{"ietf!", "QED8WEX0"},
		{"", ""},
	}
	for _, tc := range cases {
		if got := EncodeBase45([]byte(tc.in)); got != tc.want {
			t.Fatalf("encode %q: got %q want %q", tc.in, got, tc.want)
		}
		decoded, err := DecodeBase45(tc.want)
		if err != nil {
			t.Fatalf("decode %q: %v", tc.want, err)
		}
		if string(decoded) != tc.in {
			t.Fatalf("decode %q: got %q want %q", tc.want, decoded, tc.in)
		}
	}
}

func TestBase45_RoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(45))
	for n := 0; n < 200; n++ {
		in := make([]byte, rng.Intn(64))
		rng.Read(in)
		out, err := DecodeBase45(EncodeBase45(in))
		if err != nil {
			t.Fatalf("round trip %x: %v", in, err)
		}
		if !bytes.Equal(in, out) {
			t.Fatalf("round trip mismatch: %x != %x", in, out)
		}
	}
}

func TestDecodeBase45_Rejects(t *testing.T) {
	cases := map[string]string{
		"invalid symbol":  "BBa",
		"dangling symbol": "BB8B",
		"group overflow":  ":::",
		"pair overflow":   "::",
	}
	for name, input := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := DecodeBase45(input)
			if !errors.Is(err, domain.ErrDecode) {
				t.Fatalf("expected ErrDecode, got %v", err)
			}
		})
	}
}
