package payload

import (
	"crypto/sha1"
	"encoding/base64"
	"encoding/json"
)

// HashRoutes returns the dedup hash for a sanitized route list: SHA-1
// over its canonical JSON, base64-encoded. Sanitized routes marshal
// deterministically, so identical uploads hash identically.
func HashRoutes(routes []Route) string {
	canonical, err := json.Marshal(routes)
	if err != nil {
		// A sanitized route list is always marshalable.
		panic("payload: route list not marshalable: " + err.Error())
	}
	return sha1Base64(canonical)
}

// HashState returns the dedup hash for a raw state blob. The blob is
// hashed as-is; the relay never interprets its content.
func HashState(blob string) string {
	return sha1Base64([]byte(blob))
}

func sha1Base64(data []byte) string {
	sum := sha1.Sum(data)
	return base64.StdEncoding.EncodeToString(sum[:])
}
