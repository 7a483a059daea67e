package trustmem

import (
	"context"
	"sort"
	"sync"

	"dccgate/internal/domain"
)

// Store is the process-wide trust key cache. Keys sharing a KID are kept in
// insertion order and deduplicated by encoded certificate.
type Store struct {
	mu          sync.RWMutex
	keys        map[string][]domain.TrustKey
	resumeToken string
}

func New() *Store {
	return &Store{keys: make(map[string][]domain.TrustKey)}
}

func (s *Store) Candidates(ctx context.Context, kid string) ([]domain.TrustKey, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]domain.TrustKey(nil), s.keys[kid]...), nil
}

func (s *Store) Add(ctx context.Context, key domain.TrustKey) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	existing := s.keys[key.KID]
	for i, k := range existing {
		if k.EncodedCert == key.EncodedCert {
			existing[i] = key
			return nil
		}
	}
	s.keys[key.KID] = append(existing, key)
	return nil
}

// Retain drops every KID not in kids and returns how many keys were removed.
func (s *Store) Retain(ctx context.Context, kids []string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	keep := make(map[string]bool, len(kids))
	for _, kid := range kids {
		keep[kid] = true
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for kid, keys := range s.keys {
		if !keep[kid] {
			removed += len(keys)
			delete(s.keys, kid)
		}
	}
	return removed, nil
}

func (s *Store) Snapshot(ctx context.Context) (domain.TrustListSnapshot, error) {
	if err := ctx.Err(); err != nil {
		return domain.TrustListSnapshot{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	certs := make(map[string][]string, len(s.keys))
	for kid, keys := range s.keys {
		for _, k := range keys {
			certs[kid] = append(certs[kid], k.EncodedCert)
		}
	}
	return domain.TrustListSnapshot{Certificates: certs, ResumeToken: s.resumeToken}, nil
}

func (s *Store) SetResumeToken(ctx context.Context, token string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	s.resumeToken = token
	s.mu.Unlock()
	return nil
}

func (s *Store) KIDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.keys))
	for kid := range s.keys {
		out = append(out, kid)
	}
	sort.Strings(out)
	return out
}
