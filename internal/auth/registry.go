package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"time"
)

// ──────────────────────────────────────────────────────────────────
// Client Token Registry
//
// Issues one secret token per client at registration time and verifies
// tokens on every authenticated request. Tokens are 128 bits of
// cryptographic randomness, hex-encoded, and compared in constant time
// to prevent timing-based enumeration.
//
// Token values MUST NOT be written to logs or embedded in error strings.
// ──────────────────────────────────────────────────────────────────

const tokenBytes = 16 // 128 bits

// ClientRecord is the registry's view of one client. The registry is the
// exclusive owner of these records; other ledgers reference clients by id.
type ClientRecord struct {
	ClientID  string
	token     string
	FirstSeen time.Time
	LastSeen  time.Time
	Revoked   bool
}

// Registry maps client ids to their issued tokens. It is not self-locking:
// all mutations go through the coordinator's serialized region.
type Registry struct {
	clients map[string]*ClientRecord
}

func NewRegistry() *Registry {
	return &Registry{clients: make(map[string]*ClientRecord)}
}

// Issue registers a client and returns its freshly generated token.
// Issuing twice for the same id fails; the first token stays valid.
func (r *Registry) Issue(clientID string) (string, error) {
	if _, exists := r.clients[clientID]; exists {
		return "", fmt.Errorf("client %s already has a token", clientID)
	}

	buf := make([]byte, tokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("token generation failed: %w", err)
	}
	token := hex.EncodeToString(buf)

	now := time.Now()
	r.clients[clientID] = &ClientRecord{
		ClientID:  clientID,
		token:     token,
		FirstSeen: now,
		LastSeen:  now,
	}
	return token, nil
}

// Verify checks a presented token against the client's issued token using a
// constant-time comparison. A valid presentation refreshes last-seen.
func (r *Registry) Verify(clientID, token string) bool {
	rec, ok := r.clients[clientID]
	if !ok || rec.Revoked || token == "" {
		return false
	}
	if subtle.ConstantTimeCompare([]byte(rec.token), []byte(token)) != 1 {
		return false
	}
	rec.LastSeen = time.Now()
	return true
}

// IsRegistered reports whether a client id has a (non-revoked) record.
func (r *Registry) IsRegistered(clientID string) bool {
	rec, ok := r.clients[clientID]
	return ok && !rec.Revoked
}

// Revoke invalidates a client's token. The record is kept so the id cannot
// be re-registered by an impostor.
func (r *Registry) Revoke(clientID string) bool {
	rec, ok := r.clients[clientID]
	if !ok || rec.Revoked {
		return false
	}
	rec.Revoked = true
	return true
}

// Touch refreshes last-seen for a client, if known.
func (r *Registry) Touch(clientID string) {
	if rec, ok := r.clients[clientID]; ok {
		rec.LastSeen = time.Now()
	}
}

// Count returns the number of registered clients.
func (r *Registry) Count() int { return len(r.clients) }
