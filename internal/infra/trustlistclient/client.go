package trustlistclient

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"dccgate/internal/config"
	"dccgate/internal/domain"
)

const (
	headerResumeToken = "X-RESUME-TOKEN"
	headerKID         = "X-KID"

	maxBodyBytes = 1 << 20
)

type Client struct {
	baseURL    string
	httpClient *http.Client
}

func New(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

func NewFromConfig(cfg config.Config) (*Client, error) {
	if cfg.TrustListBaseURL == "" {
		return nil, errors.New("TRUSTLIST_BASE_URL is required")
	}
	return New(cfg.TrustListBaseURL, cfg.HTTPTimeout()), nil
}

// Status returns the KIDs the distribution service currently vouches for.
func (c *Client) Status(ctx context.Context) ([]string, error) {
	resp, body, err := c.get(ctx, "/signercertificateStatus", nil)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("trust list status failed: status %d", resp.StatusCode)
	}
	var kids []string
	if err := json.Unmarshal(body, &kids); err != nil {
		return nil, fmt.Errorf("decode trust list status: %w", err)
	}
	return kids, nil
}

// Update fetches the key following resumeToken. It returns nil once the
// service answers 204.
func (c *Client) Update(ctx context.Context, resumeToken string) (*domain.TrustListUpdate, error) {
	headers := map[string]string{}
	if resumeToken != "" {
		headers[headerResumeToken] = resumeToken
	}
	resp, body, err := c.get(ctx, "/signercertificateUpdate", headers)
	if err != nil {
		return nil, err
	}
	switch resp.StatusCode {
	case http.StatusNoContent:
		return nil, nil
	case http.StatusOK:
	default:
		return nil, fmt.Errorf("trust list update failed: status %d", resp.StatusCode)
	}

	kid := resp.Header.Get(headerKID)
	token := resp.Header.Get(headerResumeToken)
	if kid == "" || token == "" {
		return nil, errors.New("trust list update missing kid or resume token header")
	}
	encoded := strings.TrimSpace(string(body))
	if _, err := base64.StdEncoding.DecodeString(encoded); err != nil {
		return nil, fmt.Errorf("trust list update for %s is not base64: %w", kid, err)
	}
	return &domain.TrustListUpdate{KID: kid, EncodedCert: encoded, ResumeToken: token}, nil
}

func (c *Client) get(ctx context.Context, path string, headers map[string]string) (*http.Response, []byte, error) {
	if c == nil || c.baseURL == "" {
		return nil, nil, errors.New("trust list client missing configuration")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, nil, err
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, nil, err
	}
	return resp, body, nil
}
