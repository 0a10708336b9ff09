package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
)

// Tool inputs can carry unpublished draft content, so redaction keeps only a
// salted hash of the input alongside the decision metadata.
func redactRecord(rec Record, salt []byte) Record {
	rec.ActorID = hashString(rec.ActorID, salt)
	rec.InputRaw = redactInput(rec.InputRaw, salt)
	return rec
}

func redactInput(raw json.RawMessage, salt []byte) json.RawMessage {
	if len(raw) == 0 {
		return raw
	}
	payload := map[string]string{"input_hash": hashBytes(raw, salt)}
	if !json.Valid(raw) {
		payload["redaction_error"] = "invalid_json"
	}
	b, _ := json.Marshal(payload)
	return b
}

func hashString(v string, salt []byte) string {
	return hashBytes([]byte(v), salt)
}

func hashBytes(b []byte, salt []byte) string {
	h := sha256.New()
	if len(salt) > 0 {
		_, _ = h.Write(salt)
	}
	_, _ = h.Write(b)
	return hex.EncodeToString(h.Sum(nil))
}
