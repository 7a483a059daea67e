package usecase

import (
	"context"
	stdcrypto "crypto"
	"encoding/asn1"
	"encoding/base64"
	"io"
	"sync"
	"testing"
	"time"

	"dccgate/internal/domain"
	"dccgate/internal/infra/bloom"
	cryptoinfra "dccgate/internal/infra/crypto"
	"dccgate/internal/infra/hcert"
	"dccgate/internal/infra/trustmem"
	"dccgate/pkg/issue"

	"github.com/sirupsen/logrus"
)

func quietLogger() logrus.FieldLogger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

type certFixture struct {
	signer  stdcrypto.Signer
	key     domain.TrustKey
	issuer  *issue.Issuer
	decoder *hcert.Decoder
	keys    *trustmem.Store
}

func newCertFixture(t *testing.T, alg string, usages ...asn1.ObjectIdentifier) *certFixture {
	t.Helper()
	signer, err := issue.GenerateKey(alg)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	der, err := issue.NewDSC(signer, issue.DSCOptions{Country: "AT", Usages: usages})
	if err != nil {
		t.Fatalf("new dsc: %v", err)
	}
	kid := issue.KIDForCertificate(der)
	key, err := (&cryptoinfra.Service{}).ParseTrustKey(domain.KeyIDFromBytes(kid), base64.StdEncoding.EncodeToString(der))
	if err != nil {
		t.Fatalf("parse trust key: %v", err)
	}
	iss, err := issue.New(kid, signer)
	if err != nil {
		t.Fatalf("new issuer: %v", err)
	}
	dec, err := hcert.NewDecoder(true, quietLogger())
	if err != nil {
		t.Fatalf("new decoder: %v", err)
	}
	keys := trustmem.New()
	if err := keys.Add(context.Background(), key); err != nil {
		t.Fatalf("add key: %v", err)
	}
	return &certFixture{signer: signer, key: key, issuer: iss, decoder: dec, keys: keys}
}

func (f *certFixture) issue(t *testing.T, health any, iat, exp time.Time) string {
	t.Helper()
	payload, err := f.issuer.Issue(issue.Claims{Issuer: "AT", IssuedAt: iat, Expiry: exp, Health: health})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	return payload
}

func (f *certFixture) decode(t *testing.T, payload string) *domain.Certificate {
	t.Helper()
	cert, err := f.decoder.Decode(payload)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	return cert
}

func bloomPayload(t *testing.T, elements ...[]byte) []byte {
	t.Helper()
	f, err := bloom.NewWithProbability(100, 0.001)
	if err != nil {
		t.Fatalf("new bloom: %v", err)
	}
	for _, e := range elements {
		f.Add(e)
	}
	blob, err := f.MarshalBinary()
	if err != nil {
		t.Fatalf("marshal bloom: %v", err)
	}
	return blob
}

type staticRules struct {
	verdicts   []domain.RuleVerdict
	err        error
	inputs     []domain.RuleInput
	categories []domain.RuleCategory
}

func (r *staticRules) evaluate(input domain.RuleInput, category domain.RuleCategory) ([]domain.RuleVerdict, error) {
	r.inputs = append(r.inputs, input)
	r.categories = append(r.categories, category)
	if r.err != nil {
		return nil, r.err
	}
	var out []domain.RuleVerdict
	for _, v := range r.verdicts {
		if v.Category == category {
			out = append(out, v)
		}
	}
	return out, nil
}

func (r *staticRules) ValidateIssuer(_ context.Context, input domain.RuleInput) ([]domain.RuleVerdict, error) {
	return r.evaluate(input, domain.RuleCategoryIssuer)
}

func (r *staticRules) ValidateDestination(_ context.Context, input domain.RuleInput) ([]domain.RuleVerdict, error) {
	return r.evaluate(input, domain.RuleCategoryDestination)
}

func (r *staticRules) ValidateTraveller(_ context.Context, input domain.RuleInput) ([]domain.RuleVerdict, error) {
	return r.evaluate(input, domain.RuleCategoryTraveller)
}

type countingRevocation struct {
	RevocationChecker
	calls int
}

func (c *countingRevocation) IsRevoked(ctx context.Context, cert *domain.Certificate) (bool, error) {
	c.calls++
	if c.RevocationChecker == nil {
		return false, nil
	}
	return c.RevocationChecker.IsRevoked(ctx, cert)
}

type fakeRevocationSource struct {
	mu         sync.Mutex
	lists      []domain.RemoteRevocationList
	listErr    error
	partitions map[string][]domain.Partition
	partErr    error
	payloads   map[string][]domain.SlicePayload
	sliceCalls []string
}

func (f *fakeRevocationSource) ListRevocations(context.Context) ([]domain.RemoteRevocationList, error) {
	return f.lists, f.listErr
}

func (f *fakeRevocationSource) Partitions(_ context.Context, kid string) ([]domain.Partition, error) {
	if f.partErr != nil {
		return nil, f.partErr
	}
	return f.partitions[kid], nil
}

func (f *fakeRevocationSource) SlicePayloads(_ context.Context, kid, partitionID string, chunkIDs []string) ([]domain.SlicePayload, error) {
	f.mu.Lock()
	f.sliceCalls = append(f.sliceCalls, kid+"/"+partitionID)
	f.mu.Unlock()
	want := map[string]bool{}
	for _, id := range chunkIDs {
		want[id] = true
	}
	var out []domain.SlicePayload
	for _, p := range f.payloads[kid+"/"+partitionID] {
		if want[p.ChunkID] {
			out = append(out, p)
		}
	}
	return out, nil
}

type recordingMetrics struct {
	mu            sync.Mutex
	verifications []domain.ValidityState
	syncs         []string
	hits          []domain.HashType
}

func (m *recordingMetrics) ObserveVerification(state domain.ValidityState) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.verifications = append(m.verifications, state)
}

func (m *recordingMetrics) ObserveSync(kind string, err error, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.syncs = append(m.syncs, kind+":"+outcome)
}

func (m *recordingMetrics) ObserveRevocationHit(hashType domain.HashType) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hits = append(m.hits, hashType)
}
