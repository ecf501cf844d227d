package ingest

import (
	"bytes"
	"io"
	"mime"
	"net/http"
)

// MaxBodyBytes caps how much of a post body is read.
const MaxBodyBytes = 10 << 20

// FormField is the form field that carries the JSON document of a form post.
const FormField = "data"

// ExtractPayload returns the JSON text of a post. Form posts carry the
// document in the "data" field; any other body, whatever its declared type,
// is the document itself. ok is false when nothing was found.
func ExtractPayload(r *http.Request) ([]byte, bool) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))

	var raw []byte
	switch mediaType {
	case "application/x-www-form-urlencoded", "multipart/form-data":
		// ParseForm caps url-encoded bodies at 10MB on its own.
		raw = []byte(r.FormValue(FormField))
	default:
		body, err := io.ReadAll(io.LimitReader(r.Body, MaxBodyBytes))
		if err != nil {
			return nil, false
		}
		raw = body
	}

	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, false
	}
	return raw, true
}
