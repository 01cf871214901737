package idgen

import (
	"regexp"
	"strings"
	"testing"
	"time"
)

var tracePattern = regexp.MustCompile(`^Root=1-[0-9a-f]{8}-[0-9a-f]{24};Parent=[0-9a-f]{16};Sampled=0$`)

func TestTraceID_Format(t *testing.T) {
	now := time.Unix(0x5bef4de7, 0)
	for i := 0; i < 100; i++ {
		id, err := TraceID(now)
		if err != nil {
			t.Fatalf("TraceID() error on iteration %d: %v", i, err)
		}
		if !tracePattern.MatchString(id) {
			t.Fatalf("TraceID() = %q, does not match expected format", id)
		}
		if !strings.HasPrefix(id, "Root=1-5bef4de7-") {
			t.Fatalf("TraceID() = %q, want epoch 5bef4de7", id)
		}
	}
}

func TestTraceID_Unique(t *testing.T) {
	seen := make(map[string]bool)
	now := time.Now()
	for i := 0; i < 1000; i++ {
		id, err := TraceID(now)
		if err != nil {
			t.Fatalf("TraceID() error: %v", err)
		}
		if seen[id] {
			t.Fatalf("duplicate trace id %q after %d iterations", id, i)
		}
		seen[id] = true
	}
}

func TestSessionID(t *testing.T) {
	pattern := regexp.MustCompile(`^[a-z0-9]{12}$`)
	a, err := SessionID()
	if err != nil {
		t.Fatalf("SessionID() error: %v", err)
	}
	b, err := SessionID()
	if err != nil {
		t.Fatalf("SessionID() error: %v", err)
	}
	if !pattern.MatchString(a) || !pattern.MatchString(b) {
		t.Fatalf("SessionID() = %q, %q, does not match expected charset", a, b)
	}
	if a == b {
		t.Fatalf("SessionID() returned the same id twice: %q", a)
	}
}
