package auth

import (
	"errors"
	"testing"
	"time"
)

func TestGrantIssueCheck(t *testing.T) {
	g := NewGrantIssuer("this_is_a_valid_long_signing_key_123456", time.Hour)
	tok, exp, err := g.Issue("G1")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if time.Until(exp) <= 0 {
		t.Fatalf("expected future expiry")
	}
	if err := g.Check(tok, "G1"); err != nil {
		t.Fatalf("expected grant to be valid: %v", err)
	}
	if err := g.Check(tok, "G2"); !errors.Is(err, ErrInvalidGrant) {
		t.Fatalf("expected grant for another gallery to fail, got %v", err)
	}
}

func TestGrantRejectsForeignKeyAndExpiry(t *testing.T) {
	g := NewGrantIssuer("this_is_a_valid_long_signing_key_123456", time.Hour)
	tok, _, err := g.Issue("G1")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	other := NewGrantIssuer("a_completely_different_signing_key_0000", time.Hour)
	if err := other.Check(tok, "G1"); !errors.Is(err, ErrInvalidGrant) {
		t.Fatalf("expected foreign signature to fail, got %v", err)
	}

	g.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	if err := g.Check(tok, "G1"); !errors.Is(err, ErrInvalidGrant) {
		t.Fatalf("expected expired grant to fail, got %v", err)
	}
}
