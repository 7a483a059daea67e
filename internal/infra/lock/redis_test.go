package lock

import (
	"testing"
	"time"
)

func TestRenewInterval(t *testing.T) {
	tests := []struct {
		ttl  time.Duration
		want time.Duration
	}{
		{ttl: 60 * time.Second, want: 20 * time.Second},
		{ttl: 300 * time.Millisecond, want: 100 * time.Millisecond},
		{ttl: 6 * time.Millisecond, want: 10 * time.Millisecond},
	}
	for _, tt := range tests {
		if got := renewInterval(tt.ttl); got != tt.want {
			t.Fatalf("renewInterval(%s) = %s, want %s", tt.ttl, got, tt.want)
		}
	}
}

func TestNewRedisLocker_RequiresAddr(t *testing.T) {
	if _, err := NewRedisLocker("", "", 0, time.Second); err == nil {
		t.Fatal("expected error for empty addr")
	}
}
