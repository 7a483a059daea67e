package revocationclient

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"dccgate/internal/config"
	"dccgate/internal/domain"

	"github.com/go-playground/validator/v10"
)

const (
	maxListBytes    = 16 << 20
	maxArchiveBytes = 256 << 20
)

type listDTO struct {
	KID         string    `json:"kid" validate:"required,hexadecimal"`
	Mode        string    `json:"mode" validate:"required,oneof=POINT VECTOR COORDINATE"`
	HashTypes   []string  `json:"hashTypes" validate:"dive,oneof=SIGNATURE UCI COUNTRYCODEUCI"`
	Expires     time.Time `json:"expires"`
	LastUpdated time.Time `json:"lastUpdated" validate:"required"`
}

type sliceDTO struct {
	Type    string `json:"type" validate:"required"`
	Version string `json:"version"`
	Hash    string `json:"hash" validate:"omitempty,hexadecimal"`
}

type partitionDTO struct {
	ID          *string                        `json:"id"`
	X           *string                        `json:"x"`
	Y           *string                        `json:"y"`
	Expires     time.Time                      `json:"expires"`
	LastUpdated time.Time                      `json:"lastUpdated"`
	Chunks      map[string]map[string]sliceDTO `json:"chunks" validate:"dive,dive"`
}

type Client struct {
	baseURL    string
	httpClient *http.Client
	validate   *validator.Validate
}

func New(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		validate:   validator.New(),
	}
}

func NewFromConfig(cfg config.Config) (*Client, error) {
	if cfg.RevocationBaseURL == "" {
		return nil, errors.New("REVOCATION_BASE_URL is required")
	}
	return New(cfg.RevocationBaseURL, cfg.HTTPTimeout()), nil
}

func (c *Client) ListRevocations(ctx context.Context) ([]domain.RemoteRevocationList, error) {
	body, err := c.do(ctx, http.MethodGet, "/lists", nil, maxListBytes)
	if err != nil {
		return nil, err
	}
	var dtos []listDTO
	if err := json.Unmarshal(body, &dtos); err != nil {
		return nil, fmt.Errorf("decode lists: %w", err)
	}
	out := make([]domain.RemoteRevocationList, 0, len(dtos))
	for _, dto := range dtos {
		if err := c.validate.Struct(dto); err != nil {
			return nil, fmt.Errorf("invalid list %q: %w", dto.KID, err)
		}
		hashTypes := make([]domain.HashType, 0, len(dto.HashTypes))
		for _, ht := range dto.HashTypes {
			hashTypes = append(hashTypes, domain.HashType(ht))
		}
		out = append(out, domain.RemoteRevocationList{
			KID:         strings.ToLower(dto.KID),
			Mode:        domain.RevocationMode(dto.Mode),
			HashTypes:   hashTypes,
			Expires:     dto.Expires.UTC(),
			LastUpdated: dto.LastUpdated.UTC(),
		})
	}
	return out, nil
}

func (c *Client) Partitions(ctx context.Context, kid string) ([]domain.Partition, error) {
	path := "/lists/" + url.PathEscape(kid) + "/partitions"
	body, err := c.do(ctx, http.MethodGet, path, nil, maxListBytes)
	if err != nil {
		return nil, err
	}
	var dtos []partitionDTO
	if err := json.Unmarshal(body, &dtos); err != nil {
		return nil, fmt.Errorf("decode partitions: %w", err)
	}
	out := make([]domain.Partition, 0, len(dtos))
	for _, dto := range dtos {
		if err := c.validate.Struct(dto); err != nil {
			return nil, fmt.Errorf("invalid partition of %s: %w", kid, err)
		}
		out = append(out, partitionFromDTO(kid, dto))
	}
	return out, nil
}

// SlicePayloads downloads the slices of the given chunks as a gzip tar
// archive with entries named <chunkId>/<sliceHashId>.
func (c *Client) SlicePayloads(ctx context.Context, kid, partitionID string, chunkIDs []string) ([]domain.SlicePayload, error) {
	path := "/lists/" + url.PathEscape(kid) + "/partitions/" + url.PathEscape(partitionID) + "/slices"
	body, err := c.do(ctx, http.MethodPost, path, chunkIDs, maxArchiveBytes)
	if err != nil {
		return nil, err
	}
	return ReadSliceArchive(bytes.NewReader(body))
}

func ReadSliceArchive(r io.Reader) ([]domain.SlicePayload, error) {
	gz, err := gzip.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("open slice archive: %w", err)
	}
	defer gz.Close()
	tr := tar.NewReader(gz)
	var out []domain.SlicePayload
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read slice archive: %w", err)
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}
		name := strings.Trim(hdr.Name, "/")
		chunkID, hashID, ok := strings.Cut(name, "/")
		if !ok || chunkID == "" || hashID == "" || strings.Contains(hashID, "/") {
			return nil, fmt.Errorf("unexpected slice archive entry %q", hdr.Name)
		}
		payload, err := io.ReadAll(io.LimitReader(tr, maxArchiveBytes))
		if err != nil {
			return nil, fmt.Errorf("read slice %s: %w", name, err)
		}
		out = append(out, domain.SlicePayload{ChunkID: chunkID, HashID: hashID, Payload: payload})
	}
	return out, nil
}

func partitionFromDTO(kid string, dto partitionDTO) domain.Partition {
	p := domain.Partition{
		KID:         kid,
		ID:          domain.NullPartitionID,
		X:           dto.X,
		Y:           dto.Y,
		Expires:     dto.Expires.UTC(),
		LastUpdated: dto.LastUpdated.UTC(),
	}
	if dto.ID != nil && *dto.ID != "" {
		p.ID = *dto.ID
	}
	chunkIDs := make([]string, 0, len(dto.Chunks))
	for id := range dto.Chunks {
		chunkIDs = append(chunkIDs, id)
	}
	sort.Strings(chunkIDs)
	for _, chunkID := range chunkIDs {
		chunk := domain.Chunk{ID: chunkID}
		slices := dto.Chunks[chunkID]
		hashIDs := make([]string, 0, len(slices))
		for id := range slices {
			hashIDs = append(hashIDs, id)
		}
		sort.Strings(hashIDs)
		for _, hashID := range hashIDs {
			s := slices[hashID]
			chunk.Slices = append(chunk.Slices, domain.Slice{
				HashID:  hashID,
				Type:    domain.SliceType(s.Type),
				Version: s.Version,
				Hash:    strings.ToLower(s.Hash),
				Expires: p.Expires,
			})
		}
		p.Chunks = append(p.Chunks, chunk)
	}
	return p
}

func (c *Client) do(ctx context.Context, method, path string, payload any, limit int64) ([]byte, error) {
	if c == nil || c.baseURL == "" {
		return nil, errors.New("revocation client missing configuration")
	}
	var reader io.Reader = http.NoBody
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(encoded)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, limit))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("revocation service %s %s failed: status %d", method, path, resp.StatusCode)
	}
	return body, nil
}
