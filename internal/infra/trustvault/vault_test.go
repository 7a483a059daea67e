package trustvault

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"dccgate/internal/domain"
)

func TestVault_SaveLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "trust.vault")
	vault, err := New(path, "correct horse battery staple")
	if err != nil {
		t.Fatalf("new vault: %v", err)
	}
	ctx := context.Background()

	if _, err := vault.Load(ctx); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound before first save, got %v", err)
	}

	snapshot := domain.TrustListSnapshot{
		Certificates: map[string][]string{"2Rk3X8HntrI=": {"MIIB", "MIIC"}},
		ResumeToken:  "42",
	}
	if err := vault.Save(ctx, snapshot); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, err := vault.Load(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !reflect.DeepEqual(got, snapshot) {
		t.Fatalf("round trip mismatch: %+v", got)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read sealed file: %v", err)
	}
	if len(raw) == 0 || bytes.Contains(raw, []byte("2Rk3X8HntrI=")) {
		t.Fatal("vault file must not contain plaintext")
	}
}

func TestVault_RejectsWrongSecret(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trust.vault")
	vault, _ := New(path, "secret-a")
	if err := vault.Save(context.Background(), domain.TrustListSnapshot{ResumeToken: "1"}); err != nil {
		t.Fatalf("save: %v", err)
	}
	other, _ := New(path, "secret-b")
	if _, err := other.Load(context.Background()); !errors.Is(err, ErrSealBroken) {
		t.Fatalf("expected ErrSealBroken, got %v", err)
	}
}

func TestVault_RejectsTampering(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trust.vault")
	vault, _ := New(path, "secret")
	if err := vault.Save(context.Background(), domain.TrustListSnapshot{ResumeToken: "1"}); err != nil {
		t.Fatalf("save: %v", err)
	}
	raw, _ := os.ReadFile(path)
	raw[len(raw)-1] ^= 0xff
	if err := os.WriteFile(path, raw, 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := vault.Load(context.Background()); !errors.Is(err, ErrSealBroken) {
		t.Fatalf("expected ErrSealBroken, got %v", err)
	}

	if err := os.WriteFile(path, []byte{1, 2, 3}, 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := vault.Load(context.Background()); !errors.Is(err, ErrSealBroken) {
		t.Fatalf("expected ErrSealBroken for truncated file, got %v", err)
	}
}

func TestNew_RequiresPathAndSecret(t *testing.T) {
	if _, err := New("", "s"); err == nil {
		t.Fatal("expected error for empty path")
	}
	if _, err := New("/tmp/x", ""); err == nil {
		t.Fatal("expected error for empty secret")
	}
}
