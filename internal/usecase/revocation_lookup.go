package usecase

import (
	"context"
	"encoding/hex"
	"errors"
	"sync"
	"time"

	"dccgate/internal/domain"

	"github.com/sirupsen/logrus"
)

const (
	filterCacheLimit = 1024

	// DefaultCleanupLockWait bounds how long a lookup waits for the writer lock
	// before skipping expiry cleanup.
	DefaultCleanupLockWait = 20 * time.Millisecond
)

// CoordinateMapper derives the partition bucket of a revocation hash.
type CoordinateMapper interface {
	LookupKey(kid string, mode domain.RevocationMode, hash []byte) domain.LookupKey
}

// NibbleMapper buckets by leading hex digits of the hash. Width is the number
// of hex digits per coordinate.
type NibbleMapper struct {
	Width int
}

func (m NibbleMapper) LookupKey(kid string, mode domain.RevocationMode, hash []byte) domain.LookupKey {
	w := m.Width
	if w <= 0 {
		w = 1
	}
	digits := hex.EncodeToString(hash)
	part := func(i int) string {
		start, end := i*w, (i+1)*w
		if start >= len(digits) {
			return ""
		}
		if end > len(digits) {
			end = len(digits)
		}
		return digits[start:end]
	}
	key := domain.LookupKey{KID: kid}
	switch mode {
	case domain.RevocationModeVector:
		x := part(0)
		key.X = &x
		key.ChunkID = part(1)
	case domain.RevocationModeCoordinate:
		x, y := part(0), part(1)
		key.X = &x
		key.Y = &y
		key.ChunkID = part(2)
	default:
		key.ChunkID = part(0)
	}
	return key
}

type RevocationLookup struct {
	Store   RevocationStore
	Mapper  CoordinateMapper
	Decode  func(domain.Slice) (domain.FilterKind, error)
	Locker  KeyedLocker
	Metrics Metrics
	Logger  logrus.FieldLogger
	Now     func() time.Time

	// CleanupLockWait overrides DefaultCleanupLockWait.
	CleanupLockWait time.Duration

	mu      sync.Mutex
	filters map[string]domain.MembershipFilter
}

// IsRevoked reports whether any configured revocation hash of cert hits a
// cached filter slice. Unknown KIDs are not revoked.
func (l *RevocationLookup) IsRevoked(ctx context.Context, cert *domain.Certificate) (bool, error) {
	if l.Store == nil {
		return false, errors.New("revocation store is required")
	}
	kid := cert.RevocationKID()
	entry, err := l.Store.GetEntry(ctx, kid)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	now := l.now()
	if !entry.Expires.IsZero() && entry.Expires.Before(now) {
		l.withLock(ctx, kid, func() error { return l.Store.DeleteEntry(ctx, kid) })
		return false, nil
	}

	mapper := l.Mapper
	if mapper == nil {
		mapper = NibbleMapper{Width: 1}
	}
	for _, hashType := range domain.HashTypeOrder {
		if !entry.HasHashType(hashType) {
			continue
		}
		hash, err := RevocationHash(cert, hashType)
		if err != nil {
			l.logger().WithError(err).WithField("hash_type", hashType).Debug("revocation hash unavailable")
			continue
		}
		hit, err := l.query(ctx, mapper.LookupKey(kid, entry.Mode, hash), hash, now)
		if err != nil {
			return false, err
		}
		if hit {
			if l.Metrics != nil {
				l.Metrics.ObserveRevocationHit(hashType)
			}
			return true, nil
		}
	}
	return false, nil
}

func (l *RevocationLookup) query(ctx context.Context, key domain.LookupKey, hash []byte, now time.Time) (bool, error) {
	slices, err := l.Store.FindSlices(ctx, key)
	if err != nil {
		return false, err
	}
	expired := map[string]bool{}
	for _, stored := range slices {
		if !stored.Slice.Expires.IsZero() && stored.Slice.Expires.Before(now) {
			expired[stored.Key.PartitionID] = true
			continue
		}
		if len(stored.Slice.Payload) == 0 {
			continue
		}
		filter, err := l.filter(stored.Slice)
		if err != nil {
			l.logger().WithError(err).WithFields(logrus.Fields{
				"kid":       stored.Key.KID,
				"partition": stored.Key.PartitionID,
				"chunk":     stored.Key.ChunkID,
				"slice":     stored.Slice.HashID,
			}).Warn("skipping revocation slice")
			continue
		}
		if filter.MightContain(hash) {
			return true, nil
		}
	}
	for partitionID := range expired {
		partitionID := partitionID
		l.withLock(ctx, key.KID, func() error { return l.Store.DeletePartition(ctx, key.KID, partitionID) })
	}
	return false, nil
}

func (l *RevocationLookup) filter(slice domain.Slice) (domain.MembershipFilter, error) {
	cacheKey := slice.Hash
	if cacheKey != "" {
		l.mu.Lock()
		cached, ok := l.filters[cacheKey]
		l.mu.Unlock()
		if ok {
			return cached, nil
		}
	}
	if l.Decode == nil {
		return nil, errors.New("revocation filter decoder is required")
	}
	kind, err := l.Decode(slice)
	if err != nil {
		return nil, err
	}
	if kind.Tag != domain.FilterKindBloom || kind.Filter == nil {
		return nil, domain.ErrUnsupportedFilter
	}
	if cacheKey != "" {
		l.mu.Lock()
		if l.filters == nil || len(l.filters) >= filterCacheLimit {
			l.filters = map[string]domain.MembershipFilter{}
		}
		l.filters[cacheKey] = kind.Filter
		l.mu.Unlock()
	}
	return kind.Filter, nil
}

// withLock runs an opportunistic cleanup; failures are logged only. When a
// sync holds the key the cleanup is skipped and left to the sync's pruning.
func (l *RevocationLookup) withLock(ctx context.Context, kid string, fn func() error) {
	if l.Locker != nil {
		wait := l.CleanupLockWait
		if wait <= 0 {
			wait = DefaultCleanupLockWait
		}
		lockCtx, cancel := context.WithTimeout(ctx, wait)
		unlock, err := l.Locker.Lock(lockCtx, kid)
		cancel()
		if err != nil {
			l.logger().WithError(err).WithField("kid", kid).Debug("revocation cleanup skipped, key busy")
			return
		}
		defer unlock()
	}
	if err := fn(); err != nil && !errors.Is(err, domain.ErrNotFound) {
		l.logger().WithError(err).WithField("kid", kid).Warn("revocation cleanup failed")
	}
}

func (l *RevocationLookup) now() time.Time {
	if l.Now != nil {
		return l.Now()
	}
	return time.Now().UTC()
}

func (l *RevocationLookup) logger() logrus.FieldLogger {
	if l.Logger != nil {
		return l.Logger
	}
	return logrus.StandardLogger()
}
