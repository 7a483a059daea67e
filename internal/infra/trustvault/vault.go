package trustvault

import (
	"context"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"dccgate/internal/domain"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

const (
	sealVersion byte = 1
	hkdfInfo         = "dccgate trust vault v1"
)

var ErrSealBroken = errors.New("trust vault seal broken")

// Vault persists the trust list snapshot as an XChaCha20-Poly1305 sealed
// file. Layout: version byte, salt, nonce, ciphertext.
type Vault struct {
	path   string
	secret []byte
}

func New(path, secret string) (*Vault, error) {
	if path == "" {
		return nil, errors.New("trust vault path is required")
	}
	if secret == "" {
		return nil, errors.New("trust vault secret is required")
	}
	return &Vault{path: path, secret: []byte(secret)}, nil
}

func (v *Vault) Save(ctx context.Context, snapshot domain.TrustListSnapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	plaintext, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	sealed, err := v.seal(plaintext)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(v.path), 0o700); err != nil {
		return fmt.Errorf("create vault dir: %w", err)
	}
	tmp := v.path + ".tmp"
	if err := os.WriteFile(tmp, sealed, 0o600); err != nil {
		return fmt.Errorf("write vault: %w", err)
	}
	if err := os.Rename(tmp, v.path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("replace vault: %w", err)
	}
	return nil
}

func (v *Vault) Load(ctx context.Context) (domain.TrustListSnapshot, error) {
	var snapshot domain.TrustListSnapshot
	if err := ctx.Err(); err != nil {
		return snapshot, err
	}
	sealed, err := os.ReadFile(v.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return snapshot, domain.ErrNotFound
		}
		return snapshot, fmt.Errorf("read vault: %w", err)
	}
	plaintext, err := v.open(sealed)
	if err != nil {
		return snapshot, err
	}
	if err := json.Unmarshal(plaintext, &snapshot); err != nil {
		return snapshot, fmt.Errorf("%w: %v", ErrSealBroken, err)
	}
	return snapshot, nil
}

func (v *Vault) seal(plaintext []byte) ([]byte, error) {
	salt := make([]byte, sha256.Size)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, err
	}
	aead, err := v.aead(salt)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}
	header := make([]byte, 0, 1+len(salt))
	header = append(header, sealVersion)
	header = append(header, salt...)
	out := make([]byte, 0, len(header)+len(nonce)+len(plaintext)+aead.Overhead())
	out = append(out, header...)
	out = append(out, nonce...)
	return aead.Seal(out, nonce, plaintext, header), nil
}

func (v *Vault) open(sealed []byte) ([]byte, error) {
	headerLen := 1 + sha256.Size
	if len(sealed) < headerLen+chacha20poly1305.NonceSizeX+chacha20poly1305.Overhead {
		return nil, fmt.Errorf("%w: truncated", ErrSealBroken)
	}
	if sealed[0] != sealVersion {
		return nil, fmt.Errorf("%w: unknown version %d", ErrSealBroken, sealed[0])
	}
	header := sealed[:headerLen]
	aead, err := v.aead(header[1:])
	if err != nil {
		return nil, err
	}
	nonce := sealed[headerLen : headerLen+aead.NonceSize()]
	plaintext, err := aead.Open(nil, nonce, sealed[headerLen+aead.NonceSize():], header)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSealBroken, err)
	}
	return plaintext, nil
}

func (v *Vault) aead(salt []byte) (cipher.AEAD, error) {
	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, v.secret, salt, []byte(hkdfInfo)), key); err != nil {
		return nil, fmt.Errorf("derive vault key: %w", err)
	}
	return chacha20poly1305.NewX(key)
}
