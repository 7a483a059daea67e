package http

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"dccgate/internal/domain"
	"dccgate/internal/usecase"

	"github.com/gin-gonic/gin"
)

type errorResponse struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

type verifyRequest struct {
	Payload         string `json:"payload"`
	CountryCode     string `json:"country_code,omitempty"`
	ValidationClock string `json:"validation_clock,omitempty"`
}

type decodeRequest struct {
	Payload string `json:"payload"`
}

type certificateResponse struct {
	KID           string          `json:"kid"`
	RevocationKID string          `json:"revocation_kid"`
	Algorithm     int64           `json:"alg"`
	Issuer        string          `json:"issuer,omitempty"`
	IssuedAt      string          `json:"issued_at,omitempty"`
	ExpiresAt     string          `json:"expires_at,omitempty"`
	StatementType string          `json:"statement_type,omitempty"`
	UVCI          string          `json:"uvci,omitempty"`
	SchemaValid   bool            `json:"schema_valid"`
	Health        json.RawMessage `json:"hcert"`
}

type verifyResponse struct {
	Valid       bool                 `json:"valid"`
	Certificate certificateResponse  `json:"certificate"`
	Validity    domain.ValidityState `json:"validity"`
}

type revocationListResponse struct {
	KID         string   `json:"kid"`
	Mode        string   `json:"mode"`
	HashTypes   []string `json:"hash_types"`
	Expires     string   `json:"expires,omitempty"`
	LastUpdated string   `json:"last_updated,omitempty"`
}

func (s *Server) handleHealth(c *gin.Context) {
	status, dbMode := "ok", "no-db"
	code := http.StatusOK
	if s.database != nil {
		dbMode = "db"
		if err := s.database.Ping(c.Request.Context()); err != nil {
			status, code = "degraded", http.StatusServiceUnavailable
		}
	}
	c.JSON(code, gin.H{"status": status, "mode": dbMode})
}

func (s *Server) handleNoRoute(c *gin.Context) {
	if c.Request.Method == http.MethodPost {
		switch c.Request.URL.Path {
		case "/v1/certificates:verify":
			s.handleVerify(c)
			return
		case "/v1/certificates:decode":
			s.handleDecode(c)
			return
		case "/v1/revocation:sync":
			s.handleRevocationSync(c)
			return
		case "/v1/trustlist:sync":
			s.handleTrustSync(c)
			return
		}
	}
	writeErrorCode(c, http.StatusNotFound, "NOT_FOUND", "route not found")
}

func (s *Server) handleVerify(c *gin.Context) {
	if s.verifyUC == nil {
		writeError(c, domain.ErrNotFound)
		return
	}
	var req verifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeErrorCode(c, http.StatusBadRequest, "INVALID_JSON", "invalid json")
		return
	}
	if strings.TrimSpace(req.Payload) == "" {
		writeErrorCode(c, http.StatusBadRequest, "INVALID_REQUEST", "payload is required")
		return
	}
	var clock time.Time
	if req.ValidationClock != "" {
		parsed, err := time.Parse(time.RFC3339, req.ValidationClock)
		if err != nil {
			writeErrorCode(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid validation_clock")
			return
		}
		clock = parsed.UTC()
	}

	res, err := s.verifyUC.Execute(c.Request.Context(), usecase.VerifyCertificateRequest{
		Payload:         req.Payload,
		CountryCode:     strings.ToUpper(req.CountryCode),
		ValidationClock: clock,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, verifyResponse{
		Valid:       res.State.IsValid(),
		Certificate: buildCertificateResponse(res.Certificate),
		Validity:    res.State,
	})
}

func (s *Server) handleDecode(c *gin.Context) {
	if s.decoder == nil {
		writeError(c, domain.ErrNotFound)
		return
	}
	var req decodeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeErrorCode(c, http.StatusBadRequest, "INVALID_JSON", "invalid json")
		return
	}
	cert, err := s.decoder.Decode(req.Payload)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, buildCertificateResponse(cert))
}

func (s *Server) handleRevocationSync(c *gin.Context) {
	if !s.requireAdmin(c) {
		return
	}
	if s.revocationSync == nil {
		writeError(c, domain.ErrNotFound)
		return
	}
	result, err := s.revocationSync.Execute(c.Request.Context())
	if err != nil {
		s.logger.WithError(err).Warn("revocation sync failed")
		writeSyncError(c, err, map[string]any{"result": result})
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *Server) handleTrustSync(c *gin.Context) {
	if !s.requireAdmin(c) {
		return
	}
	if s.trustSync == nil {
		writeError(c, domain.ErrNotFound)
		return
	}
	result, err := s.trustSync.Execute(c.Request.Context())
	if err != nil {
		s.logger.WithError(err).Warn("trust list sync failed")
		writeSyncError(c, err, map[string]any{"result": result})
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *Server) handleListRevocations(c *gin.Context) {
	if s.revocations == nil {
		writeError(c, domain.ErrNotFound)
		return
	}
	entries, err := s.revocations.ListEntries(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	out := make([]revocationListResponse, 0, len(entries))
	for _, entry := range entries {
		out = append(out, buildRevocationListResponse(entry))
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) requireAdmin(c *gin.Context) bool {
	if s.adminAPIKey == "" {
		writeErrorCode(c, http.StatusUnauthorized, "UNAUTHORIZED", "admin key required")
		return false
	}
	key := strings.TrimSpace(c.GetHeader("X-Admin-Key"))
	if key == "" || subtle.ConstantTimeCompare([]byte(key), []byte(s.adminAPIKey)) != 1 {
		writeErrorCode(c, http.StatusUnauthorized, "UNAUTHORIZED", "invalid admin key")
		return false
	}
	return true
}

func buildCertificateResponse(cert *domain.Certificate) certificateResponse {
	if cert == nil {
		return certificateResponse{}
	}
	out := certificateResponse{
		KID:           cert.KeyID(),
		RevocationKID: cert.RevocationKID(),
		Algorithm:     cert.Algorithm,
		Issuer:        cert.Issuer,
		IssuedAt:      formatTime(cert.IssuedAt),
		ExpiresAt:     formatTime(cert.Expiry),
		StatementType: statementName(cert.StatementType()),
		UVCI:          cert.UVCI(),
		SchemaValid:   cert.SchemaValid,
		Health:        json.RawMessage(cert.HealthJSON),
	}
	if len(out.Health) == 0 {
		out.Health = json.RawMessage("null")
	}
	return out
}

func buildRevocationListResponse(entry domain.RevocationEntry) revocationListResponse {
	hashTypes := make([]string, 0, len(entry.HashTypes))
	for _, ht := range entry.HashTypes {
		hashTypes = append(hashTypes, string(ht))
	}
	return revocationListResponse{
		KID:         entry.KID,
		Mode:        string(entry.Mode),
		HashTypes:   hashTypes,
		Expires:     formatTime(entry.Expires),
		LastUpdated: formatTime(entry.LastUpdated),
	}
}

func statementName(st domain.StatementType) string {
	switch st {
	case domain.StatementVaccination:
		return "vaccination"
	case domain.StatementTest:
		return "test"
	case domain.StatementRecovery:
		return "recovery"
	}
	return ""
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func writeSyncError(c *gin.Context, err error, details map[string]any) {
	status, code := http.StatusInternalServerError, "INTERNAL"
	switch {
	case errors.Is(err, domain.ErrSyncFailure):
		status, code = http.StatusBadGateway, "SYNC_FAILURE"
	case errors.Is(err, domain.ErrStorage):
		status, code = http.StatusServiceUnavailable, "STORAGE_UNAVAILABLE"
	}
	c.JSON(status, errorResponse{Code: code, Message: err.Error(), Details: details})
}

func writeError(c *gin.Context, err error) {
	status, code := http.StatusInternalServerError, "INTERNAL"
	switch {
	case domain.IsCertificateError(err):
		status, code = http.StatusUnprocessableEntity, certificateErrorCode(err)
	case errors.Is(err, domain.ErrNotFound):
		status, code = http.StatusNotFound, "NOT_FOUND"
	case errors.Is(err, domain.ErrUnauthorized):
		status, code = http.StatusUnauthorized, "UNAUTHORIZED"
	case errors.Is(err, domain.ErrStorage):
		status, code = http.StatusServiceUnavailable, "STORAGE_UNAVAILABLE"
	}
	writeErrorCode(c, status, code, err.Error())
}

func certificateErrorCode(err error) string {
	switch {
	case errors.Is(err, domain.ErrSchemaViolation):
		return "SCHEMA_VIOLATION"
	case errors.Is(err, domain.ErrMalformedCertificate):
		return "CERTIFICATE_MALFORMED"
	case errors.Is(err, domain.ErrSignatureInvalid):
		return "SIGNATURE_INVALID"
	}
	return "CERTIFICATE_DECODE"
}

func writeErrorCode(c *gin.Context, status int, code, message string) {
	c.JSON(status, errorResponse{
		Code:    code,
		Message: message,
	})
}
