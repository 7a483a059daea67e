package db

import (
	"errors"
	"strings"
	"time"

	"dccgate/internal/domain"

	"github.com/google/uuid"
)

var errDBUnavailable = errors.New("db unavailable")

func newUUID() string {
	return uuid.NewString()
}

func copyBytes(in []byte) []byte {
	if in == nil {
		return nil
	}
	out := make([]byte, len(in))
	copy(out, in)
	return out
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	u := t.UTC()
	return &u
}

func timeValue(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return t.UTC()
}

func joinHashTypes(types []domain.HashType) string {
	parts := make([]string, len(types))
	for i, t := range types {
		parts[i] = string(t)
	}
	return strings.Join(parts, ",")
}

func splitHashTypes(value string) []domain.HashType {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	out := make([]domain.HashType, 0, len(parts))
	for _, p := range parts {
		out = append(out, domain.HashType(p))
	}
	return out
}
