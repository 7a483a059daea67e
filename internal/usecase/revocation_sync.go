package usecase

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"dccgate/internal/domain"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

type ReconcileAction string

const (
	ActionDelete        ReconcileAction = "delete"
	ActionDeleteExpired ReconcileAction = "delete_expired"
	ActionCreate        ReconcileAction = "create"
	ActionRefetch       ReconcileAction = "refetch"
	ActionRefresh       ReconcileAction = "refresh"
)

type ReconcileStep struct {
	KID    string
	Action ReconcileAction
	Remote domain.RemoteRevocationList
}

// Reconcile compares local entries with the remote listing and returns the
// per-KID work of one sync cycle, ordered by KID.
func Reconcile(local []domain.RevocationEntry, remote []domain.RemoteRevocationList, now time.Time) []ReconcileStep {
	remoteByKID := make(map[string]domain.RemoteRevocationList, len(remote))
	for _, r := range remote {
		remoteByKID[r.KID] = r
	}
	localByKID := make(map[string]domain.RevocationEntry, len(local))
	var steps []ReconcileStep
	for _, entry := range local {
		localByKID[entry.KID] = entry
		r, ok := remoteByKID[entry.KID]
		switch {
		case !ok:
			steps = append(steps, ReconcileStep{KID: entry.KID, Action: ActionDelete})
		case expired(r.Expires, now):
			steps = append(steps, ReconcileStep{KID: entry.KID, Action: ActionDeleteExpired})
		case r.Mode != entry.Mode:
			steps = append(steps, ReconcileStep{KID: entry.KID, Action: ActionRefetch, Remote: r})
		case r.LastUpdated.After(entry.LastUpdated):
			steps = append(steps, ReconcileStep{KID: entry.KID, Action: ActionRefresh, Remote: r})
		case expired(entry.Expires, now):
			steps = append(steps, ReconcileStep{KID: entry.KID, Action: ActionDeleteExpired})
		}
	}
	for _, r := range remote {
		if expired(r.Expires, now) {
			continue
		}
		if _, ok := localByKID[r.KID]; !ok {
			steps = append(steps, ReconcileStep{KID: r.KID, Action: ActionCreate, Remote: r})
		}
	}
	sort.Slice(steps, func(i, j int) bool { return steps[i].KID < steps[j].KID })
	return steps
}

func expired(expires, now time.Time) bool {
	return !expires.IsZero() && expires.Before(now)
}

type RevocationSyncResult struct {
	Deleted   int      `json:"deleted"`
	Expired   int      `json:"expired"`
	Created   int      `json:"created"`
	Refetched int      `json:"refetched"`
	Refreshed int      `json:"refreshed"`
	Pruned    int      `json:"pruned"`
	Failed    []string `json:"failed,omitempty"`
}

type RevocationSync struct {
	Source      RevocationSource
	Store       RevocationStore
	Locker      KeyedLocker
	Concurrency int
	Metrics     Metrics
	Logger      logrus.FieldLogger
	Now         func() time.Time

	mu     sync.Mutex
	cycle  uint64
	cancel context.CancelFunc
}

// Execute runs one sync cycle. A newer cycle cancels the one in flight.
func (s *RevocationSync) Execute(ctx context.Context) (RevocationSyncResult, error) {
	start := time.Now()
	ctx, done := s.beginCycle(ctx)
	defer done()

	result, err := s.run(ctx)
	if s.Metrics != nil {
		s.Metrics.ObserveSync("revocation", err, time.Since(start))
	}
	return result, err
}

func (s *RevocationSync) beginCycle(parent context.Context) (context.Context, func()) {
	ctx, cancel := context.WithCancel(parent)
	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	s.cycle++
	cycle := s.cycle
	s.cancel = cancel
	s.mu.Unlock()
	return ctx, func() {
		s.mu.Lock()
		if s.cycle == cycle {
			s.cancel = nil
		}
		s.mu.Unlock()
		cancel()
	}
}

func (s *RevocationSync) run(ctx context.Context) (RevocationSyncResult, error) {
	var result RevocationSyncResult
	if s.Source == nil || s.Store == nil {
		return result, errors.New("revocation source and store are required")
	}
	now := s.now()
	log := s.logger()

	remote, err := s.Source.ListRevocations(ctx)
	if err != nil {
		return result, fmt.Errorf("%w: list revocations: %v", domain.ErrSyncFailure, err)
	}
	local, err := s.Store.ListEntries(ctx)
	if err != nil {
		return result, fmt.Errorf("%w: list local entries: %v", domain.ErrStorage, err)
	}

	steps := Reconcile(local, remote, now)
	var (
		mu     sync.Mutex
		failed []string
	)
	g := new(errgroup.Group)
	g.SetLimit(s.concurrency())
	for _, step := range steps {
		step := step
		g.Go(func() error {
			err := s.apply(ctx, step)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				log.WithError(err).WithFields(logrus.Fields{"kid": step.KID, "action": step.Action}).Warn("revocation sync step failed")
				failed = append(failed, step.KID)
				return nil
			}
			switch step.Action {
			case ActionDelete:
				result.Deleted++
			case ActionDeleteExpired:
				result.Expired++
			case ActionCreate:
				result.Created++
			case ActionRefetch:
				result.Refetched++
			case ActionRefresh:
				result.Refreshed++
			}
			return nil
		})
	}
	_ = g.Wait()

	// Leftover expired partitions and slices of live entries.
	pruned, err := s.Store.DeleteExpired(ctx, now)
	if err != nil {
		log.WithError(err).Warn("pruning expired revocation data failed")
	}
	result.Pruned = pruned

	sort.Strings(failed)
	result.Failed = failed
	if err := ctx.Err(); err != nil {
		return result, fmt.Errorf("%w: %v", domain.ErrSyncFailure, err)
	}
	if len(failed) > 0 {
		return result, fmt.Errorf("%w: %d of %d entries failed: %s", domain.ErrSyncFailure, len(failed), len(steps), strings.Join(failed, ","))
	}
	log.WithFields(logrus.Fields{
		"deleted":   result.Deleted,
		"expired":   result.Expired,
		"created":   result.Created,
		"refetched": result.Refetched,
		"refreshed": result.Refreshed,
		"pruned":    result.Pruned,
	}).Info("revocation sync completed")
	return result, nil
}

func (s *RevocationSync) apply(ctx context.Context, step ReconcileStep) error {
	if s.Locker != nil {
		unlock, err := s.Locker.Lock(ctx, step.KID)
		if err != nil {
			return fmt.Errorf("lock %s: %w", step.KID, err)
		}
		defer unlock()
	}
	switch step.Action {
	case ActionDelete, ActionDeleteExpired:
		return s.Store.DeleteEntry(ctx, step.KID)
	case ActionRefetch:
		if err := s.Store.DeleteDescendants(ctx, step.KID); err != nil {
			return err
		}
		return s.fetchEntry(ctx, step.Remote, true)
	case ActionCreate:
		return s.fetchEntry(ctx, step.Remote, true)
	case ActionRefresh:
		return s.fetchEntry(ctx, step.Remote, false)
	}
	return nil
}

// fetchEntry syncs the partitions of one entry. The entry's lastUpdated is
// only advanced once every partition and payload has been stored, so a failed
// fetch is retried by the next cycle.
func (s *RevocationSync) fetchEntry(ctx context.Context, remote domain.RemoteRevocationList, reset bool) error {
	entry := remote.Entry()
	if reset {
		placeholder := entry
		placeholder.LastUpdated = time.Time{}
		if err := s.Store.SaveEntry(ctx, placeholder); err != nil {
			return err
		}
	}

	partitions, err := s.Source.Partitions(ctx, remote.KID)
	if err != nil {
		return fmt.Errorf("%w: partitions: %v", domain.ErrSyncFailure, err)
	}
	local, err := s.Store.ListPartitions(ctx, remote.KID)
	if err != nil {
		return err
	}
	localByID := make(map[string]domain.Partition, len(local))
	for _, p := range local {
		localByID[p.ID] = p
	}
	now := s.now()
	live := partitions[:0:0]
	for _, p := range partitions {
		if expired(p.Expires, now) {
			continue
		}
		p.KID = remote.KID
		if p.ID == "" {
			p.ID = domain.NullPartitionID
		}
		live = append(live, p)
	}
	partitions = live

	remoteIDs := make(map[string]bool, len(partitions))
	for _, p := range partitions {
		remoteIDs[p.ID] = true
		if existing, ok := localByID[p.ID]; ok && !p.LastUpdated.After(existing.LastUpdated) {
			continue
		}
		if err := s.Store.UpsertPartition(ctx, p); err != nil {
			return err
		}
	}
	for id := range localByID {
		if !remoteIDs[id] {
			if err := s.Store.DeletePartition(ctx, remote.KID, id); err != nil {
				return err
			}
		}
	}

	g := new(errgroup.Group)
	g.SetLimit(s.concurrency())
	for _, p := range partitions {
		p := p
		g.Go(func() error {
			return s.fetchPayloads(ctx, remote.KID, p)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	return s.Store.SaveEntry(ctx, entry)
}

func (s *RevocationSync) fetchPayloads(ctx context.Context, kid string, partition domain.Partition) error {
	pending, err := s.Store.PendingChunks(ctx, kid, partition.ID)
	if err != nil {
		return err
	}
	if len(pending) == 0 {
		return nil
	}
	payloads, err := s.Source.SlicePayloads(ctx, kid, partition.ID, pending)
	if err != nil {
		return fmt.Errorf("%w: slices of partition %s: %v", domain.ErrSyncFailure, partition.ID, err)
	}
	expected := sliceHashes(partition)
	for _, payload := range payloads {
		ref := payload.ChunkID + "/" + payload.HashID
		want, ok := expected[ref]
		if !ok {
			s.logger().WithFields(logrus.Fields{"kid": kid, "partition": partition.ID, "slice": ref}).Debug("ignoring unknown slice payload")
			continue
		}
		if want != "" && !strings.EqualFold(want, contentHash(payload.Payload)) {
			return fmt.Errorf("%w: slice %s content hash mismatch", domain.ErrSyncFailure, ref)
		}
		key := domain.SliceKey{KID: kid, PartitionID: partition.ID, ChunkID: payload.ChunkID, HashID: payload.HashID}
		if err := s.Store.AttachSlicePayload(ctx, key, payload.Payload); err != nil {
			return err
		}
	}
	return nil
}

func sliceHashes(p domain.Partition) map[string]string {
	out := map[string]string{}
	for _, chunk := range p.Chunks {
		for _, slice := range chunk.Slices {
			out[chunk.ID+"/"+slice.HashID] = slice.Hash
		}
	}
	return out
}

func contentHash(payload []byte) string {
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}

func (s *RevocationSync) concurrency() int {
	if s.Concurrency > 0 {
		return s.Concurrency
	}
	return 4
}

func (s *RevocationSync) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now().UTC()
}

func (s *RevocationSync) logger() logrus.FieldLogger {
	if s.Logger != nil {
		return s.Logger
	}
	return logrus.StandardLogger()
}
