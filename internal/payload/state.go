package payload

import (
	"encoding/json"
	"errors"

	lzstring "github.com/daku10/go-lz-string"
)

var ErrBadStateBlob = errors.New("state blob does not decompress to JSON")

// VerifyStateBlob checks that a host state upload round-trips through the
// wire's compression codec into a valid JSON document. The content is
// otherwise opaque; the relay caches and forwards the blob untouched.
// Clients ship either base64 or URI-component lz-string output.
func VerifyStateBlob(blob string) error {
	if blob == "" {
		return ErrBadStateBlob
	}
	if decoded, err := lzstring.DecompressFromBase64(blob); err == nil && json.Valid([]byte(decoded)) {
		return nil
	}
	if decoded, err := lzstring.DecompressFromEncodedURIComponent(blob); err == nil && json.Valid([]byte(decoded)) {
		return nil
	}
	return ErrBadStateBlob
}
