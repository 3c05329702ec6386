package shared

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// maxRequestBody caps enqueue bodies; item payloads are small JSON blobs.
const maxRequestBody = 1 << 20

// DecodeJSON decodes the request body into v, rejecting unknown fields and
// oversized bodies.
func DecodeJSON(r *http.Request, v interface{}) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxRequestBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}
