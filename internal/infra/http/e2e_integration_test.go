//go:build integration
// +build integration

package http

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"
	"time"

	"dccgate/internal/domain"
	"dccgate/internal/infra/bloom"
	"dccgate/internal/infra/db"
	"dccgate/internal/infra/lock"
	"dccgate/internal/infra/revocationclient"
	"dccgate/internal/usecase"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func TestRevocationSyncAndVerify_E2E(t *testing.T) {
	dbConn := setupTestDB(t)
	resetDB(t, dbConn)

	f := newServerFixture(t)
	revokedPayload := f.issue(t, "URN:UVCI:01:AT:E2E-REVOKED")
	cleanPayload := f.issue(t, "URN:UVCI:01:AT:E2E-CLEAN")

	cert, err := f.server.decoder.Decode(revokedPayload)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	hash, err := usecase.RevocationHash(cert, domain.HashTypeUCI)
	if err != nil {
		t.Fatalf("revocation hash: %v", err)
	}
	filter, err := bloom.NewWithProbability(100, 0.001)
	if err != nil {
		t.Fatalf("new bloom: %v", err)
	}
	filter.Add(hash)
	payload, err := filter.MarshalBinary()
	if err != nil {
		t.Fatalf("marshal bloom: %v", err)
	}

	remote := newRemoteRevocationServer(t, cert.RevocationKID(), hex.EncodeToString(hash)[:1], payload)

	repo := db.NewRevocationRepository(dbConn)
	locker := lock.NewMemoryLocker()
	now := func() time.Time { return testClock }
	f.server.revocationSync = &usecase.RevocationSync{
		Source:      revocationclient.New(remote.URL, 5*time.Second),
		Store:       repo,
		Locker:      locker,
		Concurrency: 2,
		Logger:      f.server.logger,
		Now:         now,
	}
	f.server.verifyUC.Revocation = &usecase.RevocationLookup{
		Store:  repo,
		Mapper: usecase.NibbleMapper{Width: 1},
		Decode: bloom.DecodeSlice,
		Locker: locker,
		Logger: f.server.logger,
		Now:    now,
	}
	f.server.revocations = repo

	w := f.do(t, http.MethodPost, "/v1/revocation:sync", nil, map[string]string{"X-Admin-Key": testAdminKey})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, strings.TrimSpace(w.Body.String()))
	}
	var result usecase.RevocationSyncResult
	if err := json.Unmarshal(w.Body.Bytes(), &result); err != nil {
		t.Fatalf("decode sync result: %v", err)
	}
	if result.Created != 1 || len(result.Failed) != 0 {
		t.Fatalf("unexpected sync result %+v", result)
	}

	w = f.do(t, http.MethodGet, "/v1/revocation/lists", nil, nil)
	var lists []revocationListResponse
	if err := json.Unmarshal(w.Body.Bytes(), &lists); err != nil {
		t.Fatalf("decode lists: %v", err)
	}
	if len(lists) != 1 || lists[0].KID != cert.RevocationKID() {
		t.Fatalf("unexpected lists %+v", lists)
	}

	revoked := verifyPayload(t, f, revokedPayload)
	if revoked.Valid || revoked.Validity.Revocation != domain.RevocationRevoked {
		t.Fatalf("expected revoked certificate, got %+v", revoked.Validity)
	}
	clean := verifyPayload(t, f, cleanPayload)
	if !clean.Valid {
		t.Fatalf("expected clean certificate to be valid, got %+v", clean.Validity)
	}
}

func verifyPayload(t *testing.T, f *serverFixture, payload string) verifyResponse {
	t.Helper()
	w := f.do(t, http.MethodPost, "/v1/certificates:verify", verifyRequest{Payload: payload}, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, strings.TrimSpace(w.Body.String()))
	}
	var resp verifyResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return resp
}

func newRemoteRevocationServer(t *testing.T, kid, chunkID string, payload []byte) *httptest.Server {
	t.Helper()
	sum := sha256.Sum256(payload)
	expires := testClock.Add(24 * time.Hour).Format(time.RFC3339)
	updated := testClock.Add(-time.Hour).Format(time.RFC3339)
	archive := gzipTar(t, map[string][]byte{chunkID + "/1": payload})

	mux := http.NewServeMux()
	mux.HandleFunc("/lists", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `[{"kid":%q,"mode":"POINT","hashTypes":["UCI"],"expires":%q,"lastUpdated":%q}]`, kid, expires, updated)
	})
	mux.HandleFunc("/lists/"+kid+"/partitions", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `[{"expires":%q,"lastUpdated":%q,"chunks":{%q:{"1":{"type":"BLOOMFILTER","version":"1.0","hash":%q}}}}]`,
			expires, updated, chunkID, hex.EncodeToString(sum[:]))
	})
	mux.HandleFunc("/lists/"+kid+"/partitions/null/slices", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/gzip")
		_, _ = w.Write(archive)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func gzipTar(t *testing.T, entries map[string][]byte) []byte {
	t.Helper()
	names := make([]string, 0, len(entries))
	for name := range entries {
		names = append(names, name)
	}
	sort.Strings(names)

	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)
	for _, name := range names {
		data := entries[name]
		if err := tw.WriteHeader(&tar.Header{Name: name, Mode: 0o644, Size: int64(len(data)), Typeflag: tar.TypeReg}); err != nil {
			t.Fatalf("write header: %v", err)
		}
		if _, err := io.Copy(tw, bytes.NewReader(data)); err != nil {
			t.Fatalf("write entry: %v", err)
		}
	}
	if err := tw.Close(); err != nil {
		t.Fatalf("close tar: %v", err)
	}
	if err := gz.Close(); err != nil {
		t.Fatalf("close gzip: %v", err)
	}
	return buf.Bytes()
}

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := strings.TrimSpace(os.Getenv("POSTGRES_DSN_TEST"))
	if dsn == "" {
		t.Skip("POSTGRES_DSN_TEST not set")
	}
	dbConn, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	applyMigrations(t, dbConn)
	return dbConn
}

func applyMigrations(t *testing.T, dbConn *gorm.DB) {
	t.Helper()
	path := filepath.Join("..", "..", "..", "migrations", "0001_init.sql")
	sqlBytes, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read migrations: %v", err)
	}
	if err := dbConn.Exec(string(sqlBytes)).Error; err != nil {
		t.Fatalf("apply migrations: %v", err)
	}
}

func resetDB(t *testing.T, dbConn *gorm.DB) {
	t.Helper()
	if err := dbConn.Exec(`
		TRUNCATE revocation_entries,
			revocation_partitions,
			revocation_chunks,
			revocation_slices
		RESTART IDENTITY CASCADE`).Error; err != nil {
		t.Fatalf("truncate tables: %v", err)
	}
}
