// Package fingerprint canonicalizes a request's message list into a stable
// cache key.
//
// Two requests that differ only in casing, extra whitespace, or the presence
// of a configured set of filler words ("please", "could you", the assistant's
// name) share the same fingerprint and therefore the same cached response.
// All functions are pure and deterministic across processes.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/MrWong99/aide/pkg/types"
)

// DefaultFillers is the closed set of vocative filler words stripped during
// canonicalization. Callers may append the configured assistant name.
var DefaultFillers = []string{
	"please",
	"could you",
	"can you",
	"would you",
	"kindly",
}

// Canonicalize reduces msgs to their canonical form: each message rendered as
// "role:content" with the content lower-cased, filler words removed, and
// whitespace runs collapsed to single spaces. Messages are joined with '\n'.
func Canonicalize(msgs []types.Message, fillers []string) string {
	var sb strings.Builder
	for i, m := range msgs {
		if i > 0 {
			sb.WriteByte('\n')
		}
		sb.WriteString(m.Role)
		sb.WriteByte(':')
		sb.WriteString(canonicalText(m.Content, fillers))
	}
	return sb.String()
}

// Compute returns the hex-encoded SHA-256 digest of the canonical form of
// msgs. An empty message list yields the digest of the empty canonical form,
// not an error.
func Compute(msgs []types.Message, fillers []string) string {
	sum := sha256.Sum256([]byte(Canonicalize(msgs, fillers)))
	return hex.EncodeToString(sum[:])
}

// ComputeText fingerprints a single user message. Convenience for cache
// lookups keyed on a bare query string.
func ComputeText(text string, fillers []string) string {
	return Compute([]types.Message{{Role: "user", Content: text}}, fillers)
}

// canonicalText lower-cases s, strips filler words, and collapses whitespace.
//
// Filler stripping is substring-based on the lowered text. Multi-word fillers
// ("could you") must be removed before whitespace collapsing so that the
// leftover gap merges cleanly.
func canonicalText(s string, fillers []string) string {
	lower := strings.ToLower(s)

	for _, f := range fillers {
		if f == "" {
			continue
		}
		lower = strings.ReplaceAll(lower, strings.ToLower(f), " ")
	}

	// Collapse all whitespace runs (including the gaps left by filler
	// removal) to single spaces.
	return strings.Join(strings.Fields(lower), " ")
}
