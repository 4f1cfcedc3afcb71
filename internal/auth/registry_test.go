package auth

import "testing"

func TestIssueAndVerify(t *testing.T) {
	r := NewRegistry()

	token, err := r.Issue("hospital-a")
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}
	if len(token) != 32 {
		t.Errorf("Expected 32 hex chars (128 bits). Got: %d", len(token))
	}

	if !r.Verify("hospital-a", token) {
		t.Error("Expected the issued token to verify")
	}
	if r.Verify("hospital-a", "deadbeef") {
		t.Error("Expected a wrong token to fail verification")
	}
	if r.Verify("hospital-b", token) {
		t.Error("Expected an unknown client to fail verification")
	}
}

func TestIssue_DuplicateClient(t *testing.T) {
	r := NewRegistry()

	first, err := r.Issue("hospital-a")
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}
	if _, err := r.Issue("hospital-a"); err == nil {
		t.Error("Expected duplicate registration to fail")
	}

	// The original token stays valid after a duplicate attempt
	if !r.Verify("hospital-a", first) {
		t.Error("Expected the first token to survive a duplicate registration attempt")
	}
}

func TestTokensAreUnique(t *testing.T) {
	r := NewRegistry()

	a, _ := r.Issue("hospital-a")
	b, _ := r.Issue("hospital-b")
	if a == b {
		t.Error("Expected distinct clients to receive distinct tokens")
	}
	if r.Count() != 2 {
		t.Errorf("Expected 2 registered clients. Got: %d", r.Count())
	}
}

func TestRevoke(t *testing.T) {
	r := NewRegistry()

	token, _ := r.Issue("hospital-a")
	if !r.Revoke("hospital-a") {
		t.Error("Expected revoke of a known client to succeed")
	}
	if r.Verify("hospital-a", token) {
		t.Error("Expected a revoked token to fail verification")
	}
	if r.Revoke("hospital-z") {
		t.Error("Expected revoke of an unknown client to report false")
	}
}
