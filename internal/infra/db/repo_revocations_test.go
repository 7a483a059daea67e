//go:build integration
// +build integration

package db

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"
	"time"

	"dccgate/internal/domain"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func strPtr(v string) *string { return &v }

func seedEntry(t *testing.T, repo *RevocationRepository, kid string, expires time.Time) {
	t.Helper()
	err := repo.SaveEntry(context.Background(), domain.RevocationEntry{
		KID:         kid,
		Mode:        domain.RevocationModeVector,
		HashTypes:   []domain.HashType{domain.HashTypeSignature, domain.HashTypeUCI},
		Expires:     expires,
		LastUpdated: time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("save entry: %v", err)
	}
}

func vectorPartition(kid, id, x string, expires time.Time, hash string) domain.Partition {
	return domain.Partition{
		KID:         kid,
		ID:          id,
		X:           strPtr(x),
		Expires:     expires,
		LastUpdated: time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC),
		Chunks: []domain.Chunk{{ID: "c", Slices: []domain.Slice{
			{HashID: "1", Type: domain.SliceTypeBloomFilter, Version: "1.0", Hash: hash},
		}}},
	}
}

func TestRevocationRepository_EntryRoundTrip(t *testing.T) {
	db := setupTestDB(t)
	resetDB(t, db)
	repo := NewRevocationRepository(db)
	ctx := context.Background()

	expires := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	seedEntry(t, repo, "d919375fc1e7b6b2", expires)

	entry, err := repo.GetEntry(ctx, "d919375fc1e7b6b2")
	if err != nil {
		t.Fatalf("get entry: %v", err)
	}
	if entry.Mode != domain.RevocationModeVector || !entry.Expires.Equal(expires) {
		t.Fatalf("unexpected entry %+v", entry)
	}
	if len(entry.HashTypes) != 2 || entry.HashTypes[1] != domain.HashTypeUCI {
		t.Fatalf("unexpected hash types %v", entry.HashTypes)
	}

	entry.Mode = domain.RevocationModePoint
	if err := repo.SaveEntry(ctx, *entry); err != nil {
		t.Fatalf("update entry: %v", err)
	}
	entries, err := repo.ListEntries(ctx)
	if err != nil {
		t.Fatalf("list entries: %v", err)
	}
	if len(entries) != 1 || entries[0].Mode != domain.RevocationModePoint {
		t.Fatalf("unexpected entries %+v", entries)
	}

	if _, err := repo.GetEntry(ctx, "missing"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRevocationRepository_PartitionHierarchy(t *testing.T) {
	db := setupTestDB(t)
	resetDB(t, db)
	repo := NewRevocationRepository(db)
	ctx := context.Background()
	expires := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)

	if err := repo.UpsertPartition(ctx, vectorPartition("K", "p1", "a", expires, "h1")); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound without entry, got %v", err)
	}
	seedEntry(t, repo, "K", expires)
	if err := repo.UpsertPartition(ctx, vectorPartition("K", "p1", "a", expires, "h1")); err != nil {
		t.Fatalf("upsert partition: %v", err)
	}

	pending, err := repo.PendingChunks(ctx, "K", "p1")
	if err != nil {
		t.Fatalf("pending chunks: %v", err)
	}
	if len(pending) != 1 || pending[0] != "c" {
		t.Fatalf("unexpected pending %v", pending)
	}

	payload := []byte{0x00, 0x01, 0x07, 0x00}
	key := domain.SliceKey{KID: "K", PartitionID: "p1", ChunkID: "c", HashID: "1"}
	if err := repo.AttachSlicePayload(ctx, key, payload); err != nil {
		t.Fatalf("attach payload: %v", err)
	}
	missing := key
	missing.HashID = "9"
	if err := repo.AttachSlicePayload(ctx, missing, payload); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown slice, got %v", err)
	}

	slices, err := repo.FindSlices(ctx, domain.LookupKey{KID: "K", X: strPtr("a"), ChunkID: "c"})
	if err != nil {
		t.Fatalf("find slices: %v", err)
	}
	if len(slices) != 1 || !bytes.Equal(slices[0].Slice.Payload, payload) || !slices[0].Slice.Expires.Equal(expires) {
		t.Fatalf("unexpected slices %+v", slices)
	}
	if other, _ := repo.FindSlices(ctx, domain.LookupKey{KID: "K", ChunkID: "c"}); len(other) != 0 {
		t.Fatalf("null coordinate must not match x=a, got %+v", other)
	}

	// Same content hash keeps the payload.
	if err := repo.UpsertPartition(ctx, vectorPartition("K", "p1", "a", expires, "h1")); err != nil {
		t.Fatalf("re-upsert: %v", err)
	}
	if pending, _ := repo.PendingChunks(ctx, "K", "p1"); len(pending) != 0 {
		t.Fatalf("payload lost on unchanged hash, pending %v", pending)
	}
	// A new content hash drops it.
	if err := repo.UpsertPartition(ctx, vectorPartition("K", "p1", "a", expires, "h2")); err != nil {
		t.Fatalf("upsert changed hash: %v", err)
	}
	if pending, _ := repo.PendingChunks(ctx, "K", "p1"); len(pending) != 1 {
		t.Fatalf("expected payload reset, pending %v", pending)
	}

	parts, err := repo.ListPartitions(ctx, "K")
	if err != nil {
		t.Fatalf("list partitions: %v", err)
	}
	if len(parts) != 1 || parts[0].Chunks[0].Slices[0].Hash != "h2" {
		t.Fatalf("unexpected partitions %+v", parts)
	}
}

func TestRevocationRepository_CascadeAndExpiry(t *testing.T) {
	db := setupTestDB(t)
	resetDB(t, db)
	repo := NewRevocationRepository(db)
	ctx := context.Background()
	now := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)

	seedEntry(t, repo, "A", now.Add(time.Hour))
	seedEntry(t, repo, "B", now.Add(-time.Hour))
	for _, p := range []domain.Partition{
		vectorPartition("A", "live", "0", now.Add(time.Hour), "h"),
		vectorPartition("A", "stale", "1", now.Add(-time.Minute), "h"),
		vectorPartition("B", "p", "0", now.Add(time.Hour), "h"),
	} {
		if err := repo.UpsertPartition(ctx, p); err != nil {
			t.Fatalf("upsert %s: %v", p.ID, err)
		}
	}

	deleted, err := repo.DeleteExpired(ctx, now)
	if err != nil {
		t.Fatalf("delete expired: %v", err)
	}
	if deleted != 2 {
		t.Fatalf("expected 2 deletions, got %d", deleted)
	}
	parts, _ := repo.ListPartitions(ctx, "A")
	if len(parts) != 1 || parts[0].ID != "live" {
		t.Fatalf("unexpected partitions %+v", parts)
	}

	var slices int64
	if err := db.Model(&RevocationSliceModel{}).Count(&slices).Error; err != nil {
		t.Fatalf("count slices: %v", err)
	}
	if slices != 1 {
		t.Fatalf("expected cascaded slice rows, got %d", slices)
	}

	if err := repo.DeleteDescendants(ctx, "A"); err != nil {
		t.Fatalf("delete descendants: %v", err)
	}
	if _, err := repo.GetEntry(ctx, "A"); err != nil {
		t.Fatalf("entry must survive descendant delete: %v", err)
	}
	if err := repo.DeleteEntry(ctx, "A"); err != nil {
		t.Fatalf("delete entry: %v", err)
	}
	var chunks int64
	if err := db.Model(&RevocationChunkModel{}).Count(&chunks).Error; err != nil {
		t.Fatalf("count chunks: %v", err)
	}
	if chunks != 0 {
		t.Fatalf("expected no chunk rows, got %d", chunks)
	}
}

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := strings.TrimSpace(os.Getenv("POSTGRES_DSN_TEST"))
	if dsn == "" {
		t.Skip("POSTGRES_DSN_TEST not set")
	}
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	lockTestDB(t, db)
	applyMigrations(t, db)
	return db
}

func lockTestDB(t *testing.T, db *gorm.DB) {
	t.Helper()
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("get sql db: %v", err)
	}
	conn, err := sqlDB.Conn(context.Background())
	if err != nil {
		t.Fatalf("open db conn: %v", err)
	}
	if _, err := conn.ExecContext(context.Background(), "SELECT pg_advisory_lock(987654321)"); err != nil {
		_ = conn.Close()
		t.Fatalf("acquire db lock: %v", err)
	}
	t.Cleanup(func() {
		_, _ = conn.ExecContext(context.Background(), "SELECT pg_advisory_unlock(987654321)")
		_ = conn.Close()
	})
}

func applyMigrations(t *testing.T, db *gorm.DB) {
	t.Helper()
	dir := filepath.Join("..", "..", "..", "migrations")
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read migrations dir: %v", err)
	}
	var files []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if strings.HasSuffix(name, ".sql") {
			files = append(files, name)
		}
	}
	sort.Strings(files)
	for _, name := range files {
		sqlBytes, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			t.Fatalf("read migration %s: %v", name, err)
		}
		if err := db.Exec(string(sqlBytes)).Error; err != nil {
			t.Fatalf("apply migration %s: %v", name, err)
		}
	}
}

func resetDB(t *testing.T, db *gorm.DB) {
	t.Helper()
	if err := db.Exec(`
		TRUNCATE revocation_entries,
			revocation_partitions,
			revocation_chunks,
			revocation_slices
		RESTART IDENTITY CASCADE`).Error; err != nil {
		t.Fatalf("truncate tables: %v", err)
	}
}
