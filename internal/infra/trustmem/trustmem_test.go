package trustmem

import (
	"context"
	"reflect"
	"testing"

	"dccgate/internal/domain"
)

func TestStore_CollidingKIDsKeepAllCandidates(t *testing.T) {
	ctx := context.Background()
	s := New()
	for _, cert := range []string{"cert-a", "cert-b", "cert-a"} {
		if err := s.Add(ctx, domain.TrustKey{KID: "kid1", EncodedCert: cert}); err != nil {
			t.Fatalf("add: %v", err)
		}
	}
	got, err := s.Candidates(ctx, "kid1")
	if err != nil {
		t.Fatalf("candidates: %v", err)
	}
	if len(got) != 2 || got[0].EncodedCert != "cert-a" || got[1].EncodedCert != "cert-b" {
		t.Fatalf("unexpected candidates %+v", got)
	}
}

func TestStore_RetainAndSnapshot(t *testing.T) {
	ctx := context.Background()
	s := New()
	_ = s.Add(ctx, domain.TrustKey{KID: "keep", EncodedCert: "c1"})
	_ = s.Add(ctx, domain.TrustKey{KID: "drop", EncodedCert: "c2"})
	_ = s.Add(ctx, domain.TrustKey{KID: "drop", EncodedCert: "c3"})
	_ = s.SetResumeToken(ctx, "42")

	removed, err := s.Retain(ctx, []string{"keep", "unknown"})
	if err != nil {
		t.Fatalf("retain: %v", err)
	}
	if removed != 2 {
		t.Fatalf("expected 2 removed, got %d", removed)
	}
	if !reflect.DeepEqual(s.KIDs(), []string{"keep"}) {
		t.Fatalf("unexpected kids %v", s.KIDs())
	}
	snap, err := s.Snapshot(ctx)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	want := domain.TrustListSnapshot{Certificates: map[string][]string{"keep": {"c1"}}, ResumeToken: "42"}
	if !reflect.DeepEqual(snap, want) {
		t.Fatalf("snapshot: got %+v want %+v", snap, want)
	}
}
