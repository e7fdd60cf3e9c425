// Package apikey parses the two client API key formats described in
// spec.md §4.7: a structured key that encodes its owning machine id, and a
// legacy opaque key that does not.
package apikey

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Parsed is the result of splitting an incoming key into routing metadata.
type Parsed struct {
	// MachineID is empty for legacy keys; the caller falls back to the
	// request's path-prefixed or default machine id.
	MachineID string
	KeyID     string
	Checksum  string
	Legacy    bool
	Raw       string
}

// Parse splits key into its structured fields without verifying the
// checksum — verification needs the per-deployment HMAC secret and happens
// in Verify.
func Parse(key string) Parsed {
	key = strings.TrimSpace(key)
	if !strings.HasPrefix(key, "sk-") {
		return Parsed{Raw: key, Legacy: true}
	}
	rest := strings.TrimPrefix(key, "sk-")
	parts := strings.Split(rest, "-")
	if len(parts) != 3 {
		// legacy "sk-{random8}" shape, or anything else not matching the
		// 3-field structured format.
		return Parsed{Raw: key, Legacy: true}
	}
	return Parsed{MachineID: parts[0], KeyID: parts[1], Checksum: parts[2], Raw: key}
}

// Checksum8 computes the 8 hex-char checksum for machineID+keyID under secret:
// the first 8 hex characters of HMAC-SHA256(secret, machineID+keyID).
func Checksum8(secret, machineID, keyID string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(machineID + keyID))
	sum := hex.EncodeToString(mac.Sum(nil))
	return sum[:8]
}

// Verify reports whether a structured key's checksum matches secret. Legacy
// keys always fail verification here — callers compare those against the
// machine document's stored key list instead.
func (p Parsed) Verify(secret string) bool {
	if p.Legacy {
		return false
	}
	return p.Checksum == Checksum8(secret, p.MachineID, p.KeyID)
}
