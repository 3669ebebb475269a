package httpmiddleware

import (
	"net/http"
	"slices"

	"github.com/go-faster/jx"
)

// Error is the JSON error envelope returned by the API.
type Error struct {
	// Kind is the error category, e.g. "validation_error".
	Kind    string
	Code    string
	Message string
	Status  int
	Fields  map[string]string
}

// WriteError writes e as JSON. The request id of r, if any, is included.
func WriteError(w http.ResponseWriter, r *http.Request, e Error) {
	status := e.Status
	if status == 0 {
		status = http.StatusInternalServerError
	}
	requestID := RequestIDFromContext(r.Context())

	var enc jx.Encoder
	enc.Obj(func(enc *jx.Encoder) {
		enc.Field("error", func(enc *jx.Encoder) { enc.Str(e.Kind) })
		enc.Field("code", func(enc *jx.Encoder) { enc.Str(e.Code) })
		enc.Field("message", func(enc *jx.Encoder) { enc.Str(e.Message) })
		enc.Field("status", func(enc *jx.Encoder) { enc.Int(status) })
		if requestID != "" {
			enc.Field("request_id", func(enc *jx.Encoder) { enc.Str(requestID) })
		}
		if len(e.Fields) > 0 {
			names := make([]string, 0, len(e.Fields))
			for name := range e.Fields {
				names = append(names, name)
			}
			slices.Sort(names)
			enc.Field("fields", func(enc *jx.Encoder) {
				enc.Obj(func(enc *jx.Encoder) {
					for _, name := range names {
						enc.Field(name, func(enc *jx.Encoder) { enc.Str(e.Fields[name]) })
					}
				})
			})
		}
	})

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(enc.Bytes())
}
