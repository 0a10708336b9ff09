package confirm

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"github.com/gowebpki/jcs"
)

// InputHash computes a deterministic hash of a tool input. The payload is
// first normalized to its RFC 8785 canonical form (object keys sorted
// recursively, array order preserved), so semantically identical payloads
// with different key ordering hash identically.
func InputHash(raw json.RawMessage) (string, error) {
	if len(raw) == 0 {
		raw = json.RawMessage("null")
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}
