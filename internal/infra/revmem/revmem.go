package revmem

import (
	"context"
	"sort"
	"sync"
	"time"

	"dccgate/internal/domain"
)

type Store struct {
	mu      sync.RWMutex
	entries map[string]*entryState
}

type entryState struct {
	entry      domain.RevocationEntry
	partitions map[string]*domain.Partition
}

func New() *Store {
	return &Store{entries: make(map[string]*entryState)}
}

func (s *Store) ListEntries(ctx context.Context) ([]domain.RevocationEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.RevocationEntry, 0, len(s.entries))
	for _, st := range s.entries {
		out = append(out, copyEntry(st.entry))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].KID < out[j].KID })
	return out, nil
}

func (s *Store) GetEntry(ctx context.Context, kid string) (*domain.RevocationEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.entries[kid]
	if !ok {
		return nil, domain.ErrNotFound
	}
	entry := copyEntry(st.entry)
	return &entry, nil
}

func (s *Store) SaveEntry(ctx context.Context, entry domain.RevocationEntry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.entries[entry.KID]; ok {
		st.entry = copyEntry(entry)
		return nil
	}
	s.entries[entry.KID] = &entryState{
		entry:      copyEntry(entry),
		partitions: make(map[string]*domain.Partition),
	}
	return nil
}

func (s *Store) DeleteEntry(ctx context.Context, kid string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, kid)
	return nil
}

func (s *Store) DeleteDescendants(ctx context.Context, kid string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.entries[kid]; ok {
		st.partitions = make(map[string]*domain.Partition)
	}
	return nil
}

func (s *Store) ListPartitions(ctx context.Context, kid string) ([]domain.Partition, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.entries[kid]
	if !ok {
		return nil, nil
	}
	out := make([]domain.Partition, 0, len(st.partitions))
	for _, p := range st.partitions {
		out = append(out, copyPartition(*p))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// UpsertPartition replaces the partition metadata. Slice payloads survive
// only when the slice content hash is unchanged.
func (s *Store) UpsertPartition(ctx context.Context, partition domain.Partition) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.entries[partition.KID]
	if !ok {
		return domain.ErrNotFound
	}
	next := copyPartition(partition)
	if existing, ok := st.partitions[partition.ID]; ok {
		payloads := map[string][]byte{}
		for _, chunk := range existing.Chunks {
			for _, slice := range chunk.Slices {
				payloads[sliceRef(chunk.ID, slice.HashID, slice.Hash)] = slice.Payload
			}
		}
		for ci := range next.Chunks {
			chunk := &next.Chunks[ci]
			for si := range chunk.Slices {
				slice := &chunk.Slices[si]
				if slice.Payload == nil {
					slice.Payload = payloads[sliceRef(chunk.ID, slice.HashID, slice.Hash)]
				}
			}
		}
	}
	st.partitions[partition.ID] = &next
	return nil
}

func (s *Store) DeletePartition(ctx context.Context, kid, partitionID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.entries[kid]; ok {
		delete(st.partitions, partitionID)
	}
	return nil
}

func (s *Store) AttachSlicePayload(ctx context.Context, key domain.SliceKey, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.entries[key.KID]
	if !ok {
		return domain.ErrNotFound
	}
	p, ok := st.partitions[key.PartitionID]
	if !ok {
		return domain.ErrNotFound
	}
	for ci := range p.Chunks {
		if p.Chunks[ci].ID != key.ChunkID {
			continue
		}
		for si := range p.Chunks[ci].Slices {
			if p.Chunks[ci].Slices[si].HashID == key.HashID {
				p.Chunks[ci].Slices[si].Payload = append([]byte(nil), payload...)
				return nil
			}
		}
	}
	return domain.ErrNotFound
}

func (s *Store) FindSlices(ctx context.Context, key domain.LookupKey) ([]domain.StoredSlice, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.entries[key.KID]
	if !ok {
		return nil, nil
	}
	var out []domain.StoredSlice
	for _, p := range st.partitions {
		if !sameCoordinate(p.X, key.X) || !sameCoordinate(p.Y, key.Y) {
			continue
		}
		for _, chunk := range p.Chunks {
			if chunk.ID != key.ChunkID {
				continue
			}
			for _, slice := range chunk.Slices {
				slice.Payload = append([]byte(nil), slice.Payload...)
				if slice.Expires.IsZero() {
					slice.Expires = p.Expires
				}
				out = append(out, domain.StoredSlice{
					Key:   domain.SliceKey{KID: key.KID, PartitionID: p.ID, ChunkID: chunk.ID, HashID: slice.HashID},
					Slice: slice,
				})
			}
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Key.PartitionID != out[j].Key.PartitionID {
			return out[i].Key.PartitionID < out[j].Key.PartitionID
		}
		return out[i].Key.HashID < out[j].Key.HashID
	})
	return out, nil
}

func (s *Store) PendingChunks(ctx context.Context, kid, partitionID string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.entries[kid]
	if !ok {
		return nil, nil
	}
	p, ok := st.partitions[partitionID]
	if !ok {
		return nil, nil
	}
	var out []string
	for _, chunk := range p.Chunks {
		for _, slice := range chunk.Slices {
			if len(slice.Payload) == 0 {
				out = append(out, chunk.ID)
				break
			}
		}
	}
	sort.Strings(out)
	return out, nil
}

func (s *Store) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	deleted := 0
	for kid, st := range s.entries {
		if expired(st.entry.Expires, now) {
			delete(s.entries, kid)
			deleted++
			continue
		}
		for id, p := range st.partitions {
			if expired(p.Expires, now) {
				delete(st.partitions, id)
				deleted++
			}
		}
	}
	return deleted, nil
}

func expired(expires, now time.Time) bool {
	return !expires.IsZero() && expires.Before(now)
}

func sameCoordinate(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func sliceRef(chunkID, hashID, hash string) string {
	return chunkID + "/" + hashID + "/" + hash
}

func copyEntry(e domain.RevocationEntry) domain.RevocationEntry {
	e.HashTypes = append([]domain.HashType(nil), e.HashTypes...)
	return e
}

func copyPartition(p domain.Partition) domain.Partition {
	p.X = copyString(p.X)
	p.Y = copyString(p.Y)
	chunks := make([]domain.Chunk, len(p.Chunks))
	for i, chunk := range p.Chunks {
		slices := make([]domain.Slice, len(chunk.Slices))
		for j, slice := range chunk.Slices {
			if slice.Payload != nil {
				slice.Payload = append([]byte(nil), slice.Payload...)
			}
			slices[j] = slice
		}
		chunks[i] = domain.Chunk{ID: chunk.ID, Slices: slices}
	}
	p.Chunks = chunks
	return p
}

func copyString(v *string) *string {
	if v == nil {
		return nil
	}
	out := *v
	return &out
}
