package domain

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestParseLane(t *testing.T) {
	tests := []struct {
		in   string
		want Lane
		ok   bool
	}{
		{"rot", LaneRoT, true},
		{" Production ", LaneRoT, true},
		{"sandbox", LaneSandbox, true},
		{"TEST", LaneSandbox, true},
		{"", "", false},
		{"staging", "", false},
	}
	for _, tt := range tests {
		got, err := ParseLane(tt.in)
		if tt.ok != (err == nil) || got != tt.want {
			t.Fatalf("ParseLane(%q) = %q, %v", tt.in, got, err)
		}
		if err != nil && !errors.Is(err, ErrValidation) {
			t.Fatalf("expected validation error, got %v", err)
		}
	}
}

func TestCheckLane(t *testing.T) {
	if err := CheckLane(LaneRoT, LaneRoT, "record"); err != nil {
		t.Fatalf("unexpected error %v", err)
	}
	err := CheckLane(LaneRoT, LaneSandbox, "record")
	if !errors.Is(err, ErrValidation) || CodeOf(err) != CodeLaneMismatch {
		t.Fatalf("expected lane mismatch, got %v", err)
	}
}

func TestClampExpiry(t *testing.T) {
	tests := []struct {
		seconds int
		def     time.Duration
		want    time.Duration
	}{
		{0, 0, DefaultSignedURLExpiry},
		{-5, 0, DefaultSignedURLExpiry},
		{0, 30 * time.Second, MinSignedURLExpiry},
		{0, 2 * time.Hour, MaxSignedURLExpiry},
		{10, 0, MinSignedURLExpiry},
		{600, 0, 600 * time.Second},
		{86400, 0, MaxSignedURLExpiry},
	}
	for _, tt := range tests {
		if got := ClampExpiry(tt.seconds, tt.def); got != tt.want {
			t.Fatalf("ClampExpiry(%d, %s) = %s, want %s", tt.seconds, tt.def, got, tt.want)
		}
	}
}

func TestObjectPath(t *testing.T) {
	if got := ObjectPath("/holdings/", "signed", "E1.pdf"); got != "holdings/signed/E1.pdf" {
		t.Fatalf("unexpected path %q", got)
	}
	if (Pointer{Bucket: "b"}).IsZero() != true || (Pointer{Bucket: "b", Path: "p"}).IsZero() {
		t.Fatal("unexpected IsZero result")
	}
}

func TestNormalizeEmailAndPartyStatus(t *testing.T) {
	if got := NormalizeEmail("  Alice@Example.COM "); got != "alice@example.com" {
		t.Fatalf("unexpected email %q", got)
	}
	if s, err := ParsePartyStatus("Signed"); err != nil || s != PartySigned {
		t.Fatalf("unexpected status %q %v", s, err)
	}
	if _, err := ParsePartyStatus("maybe"); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if !EnvelopeDraft.Open() || !EnvelopePending.Open() || EnvelopeCompleted.Open() || EnvelopeCancelled.Open() {
		t.Fatal("unexpected open states")
	}
}

func TestCodeOf(t *testing.T) {
	cause := errors.New("socket closed")
	dep := Dependency(CodeStorageFailed, "upload failed", cause)
	if !errors.Is(dep, ErrDependency) || !errors.Is(dep, cause) {
		t.Fatalf("dependency error should unwrap to kind and cause: %v", dep)
	}
	tests := []struct {
		err  error
		want string
	}{
		{NotFound(CodeRecordNotFound, "x"), CodeRecordNotFound},
		{fmt.Errorf("wrapped: %w", Conflict(CodeEnvelopeClosed, "x")), CodeEnvelopeClosed},
		{dep, CodeStorageFailed},
		{ErrNotFound, "NOT_FOUND"},
		{errors.Join(ErrDuplicate, cause), "CONFLICT"},
		{cause, CodeInternal},
	}
	for _, tt := range tests {
		if got := CodeOf(tt.err); got != tt.want {
			t.Fatalf("CodeOf(%v) = %s, want %s", tt.err, got, tt.want)
		}
	}
}
