package usecase

import (
	"context"
	"time"

	"dccgate/internal/domain"
)

type CertificateDecoder interface {
	Decode(payload string) (*domain.Certificate, error)
}

type SignatureVerifier interface {
	VerifyCertificate(cert *domain.Certificate, candidates []domain.TrustKey) (domain.TrustKey, error)
}

type TrustKeyParser interface {
	ParseTrustKey(kid, encodedCert string) (domain.TrustKey, error)
}

type TrustKeyStore interface {
	Candidates(ctx context.Context, kid string) ([]domain.TrustKey, error)
	Add(ctx context.Context, key domain.TrustKey) error
	Retain(ctx context.Context, kids []string) (int, error)
	Snapshot(ctx context.Context) (domain.TrustListSnapshot, error)
	SetResumeToken(ctx context.Context, token string) error
}

type TrustVault interface {
	Save(ctx context.Context, snapshot domain.TrustListSnapshot) error
	Load(ctx context.Context) (domain.TrustListSnapshot, error)
}

type TrustListSource interface {
	Status(ctx context.Context) ([]string, error)
	Update(ctx context.Context, resumeToken string) (*domain.TrustListUpdate, error)
}

type RevocationStore interface {
	ListEntries(ctx context.Context) ([]domain.RevocationEntry, error)
	GetEntry(ctx context.Context, kid string) (*domain.RevocationEntry, error)
	SaveEntry(ctx context.Context, entry domain.RevocationEntry) error
	DeleteEntry(ctx context.Context, kid string) error
	DeleteDescendants(ctx context.Context, kid string) error
	ListPartitions(ctx context.Context, kid string) ([]domain.Partition, error)
	UpsertPartition(ctx context.Context, partition domain.Partition) error
	DeletePartition(ctx context.Context, kid, partitionID string) error
	AttachSlicePayload(ctx context.Context, key domain.SliceKey, payload []byte) error
	FindSlices(ctx context.Context, key domain.LookupKey) ([]domain.StoredSlice, error)
	PendingChunks(ctx context.Context, kid, partitionID string) ([]string, error)
	DeleteExpired(ctx context.Context, now time.Time) (int, error)
}

type RevocationSource interface {
	ListRevocations(ctx context.Context) ([]domain.RemoteRevocationList, error)
	Partitions(ctx context.Context, kid string) ([]domain.Partition, error)
	SlicePayloads(ctx context.Context, kid, partitionID string, chunkIDs []string) ([]domain.SlicePayload, error)
}

// KeyedLocker serializes writers per key. The returned func releases the lock.
type KeyedLocker interface {
	Lock(ctx context.Context, key string) (func(), error)
}

type RuleEngine interface {
	ValidateIssuer(ctx context.Context, input domain.RuleInput) ([]domain.RuleVerdict, error)
	ValidateDestination(ctx context.Context, input domain.RuleInput) ([]domain.RuleVerdict, error)
	ValidateTraveller(ctx context.Context, input domain.RuleInput) ([]domain.RuleVerdict, error)
}

type RevocationChecker interface {
	IsRevoked(ctx context.Context, cert *domain.Certificate) (bool, error)
}

type Metrics interface {
	ObserveVerification(state domain.ValidityState)
	ObserveSync(kind string, err error, elapsed time.Duration)
	ObserveRevocationHit(hashType domain.HashType)
}
