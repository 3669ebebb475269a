package idempotency

import (
	"bytes"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/NPatel10/jewellery-ecommerce/pkg/httpmiddleware"
)

const (
	defaultHeaderName = "Idempotency-Key"
	replayHeaderName  = "X-Idempotent-Replay"
	maxKeyLen         = 255
)

type middlewareConfig struct {
	headerName string
	ttl        time.Duration
	methods    map[string]struct{}
	clock      func() time.Time
	requester  func(*http.Request) string
}

// MiddlewareOption customises middleware behaviour.
type MiddlewareOption func(*middlewareConfig)

// WithHeader overrides the header carrying the key.
func WithHeader(name string) MiddlewareOption {
	return func(cfg *middlewareConfig) {
		if name = strings.TrimSpace(name); name != "" {
			cfg.headerName = name
		}
	}
}

// WithTTL sets how long completed responses are replayed.
func WithTTL(ttl time.Duration) MiddlewareOption {
	return func(cfg *middlewareConfig) {
		if ttl > 0 {
			cfg.ttl = ttl
		}
	}
}

// WithMethods restricts the guarded HTTP methods.
func WithMethods(methods ...string) MiddlewareOption {
	return func(cfg *middlewareConfig) {
		if len(methods) == 0 {
			return
		}
		cfg.methods = make(map[string]struct{}, len(methods))
		for _, m := range methods {
			if m = strings.ToUpper(strings.TrimSpace(m)); m != "" {
				cfg.methods[m] = struct{}{}
			}
		}
	}
}

// WithClock overrides the time source.
func WithClock(clock func() time.Time) MiddlewareOption {
	return func(cfg *middlewareConfig) {
		if clock != nil {
			cfg.clock = clock
		}
	}
}

// WithRequester scopes keys to the caller returned by fn, so two users
// sending the same key never see each other's responses.
func WithRequester(fn func(*http.Request) string) MiddlewareOption {
	return func(cfg *middlewareConfig) {
		if fn != nil {
			cfg.requester = fn
		}
	}
}

// Middleware replays the stored response when a mutating request repeats an
// Idempotency-Key. Requests without the header pass through untouched.
func Middleware(store Store, opts ...MiddlewareOption) func(http.Handler) http.Handler {
	if store == nil {
		return func(next http.Handler) http.Handler { return next }
	}

	cfg := middlewareConfig{
		headerName: defaultHeaderName,
		ttl:        DefaultTTL,
		methods: map[string]struct{}{
			http.MethodPost:   {},
			http.MethodPut:    {},
			http.MethodPatch:  {},
			http.MethodDelete: {},
		},
		clock:     time.Now,
		requester: func(*http.Request) string { return "anonymous" },
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, ok := cfg.methods[r.Method]; !ok {
				next.ServeHTTP(w, r)
				return
			}
			key := strings.TrimSpace(r.Header.Get(cfg.headerName))
			if key == "" {
				next.ServeHTTP(w, r)
				return
			}
			if len(key) > maxKeyLen {
				respondError(w, r, http.StatusBadRequest, "validation_error", "InvalidIdempotencyKey", "idempotency key is too long")
				return
			}

			lg := zctx.From(r.Context())
			body, err := readAndReplayBody(r)
			if err != nil {
				respondError(w, r, http.StatusBadRequest, "validation_error", "UnreadableBody", "unable to read request body")
				return
			}

			identity := cfg.requester(r)
			fingerprint := requestFingerprint(r, body, identity)
			scoped := key + "|" + identity

			reservation, err := store.Reserve(r.Context(), scoped, fingerprint, cfg.clock(), cfg.ttl)
			if err != nil {
				if errors.Is(err, ErrFingerprintMismatch) {
					respondError(w, r, http.StatusConflict, "conflict", "IdempotencyKeyReused", "idempotency key already used for a different request")
					return
				}
				lg.Error("Idempotency reserve failed", zap.Error(err))
				respondError(w, r, http.StatusInternalServerError, "internal", "Internal", "unable to process idempotency key")
				return
			}

			switch reservation.State {
			case ReservationStateCompleted:
				writeStoredResponse(w, reservation.Record)
				return
			case ReservationStatePending:
				respondError(w, r, http.StatusConflict, "conflict", "IdempotencyInProgress", "another request is processing this idempotency key")
				return
			}

			rec := newResponseRecorder(w)
			next.ServeHTTP(rec, r)

			// Server errors are not cached so the client may retry.
			if rec.Status() >= http.StatusInternalServerError {
				if err := store.Release(r.Context(), scoped, fingerprint); err != nil {
					lg.Warn("Idempotency release failed", zap.Error(err))
				}
			} else {
				resp := Response{Status: rec.Status(), Headers: rec.header.Clone(), Body: rec.Body()}
				if err := store.SaveResponse(r.Context(), scoped, fingerprint, resp, cfg.clock(), cfg.ttl); err != nil {
					lg.Error("Idempotency save failed", zap.Error(err))
					if err := store.Release(r.Context(), scoped, fingerprint); err != nil {
						lg.Warn("Idempotency release failed", zap.Error(err))
					}
				}
			}
			if err := rec.Commit(); err != nil {
				lg.Debug("Idempotency flush failed", zap.Error(err))
			}
		})
	}
}

func respondError(w http.ResponseWriter, r *http.Request, status int, kind, code, message string) {
	httpmiddleware.WriteError(w, r, httpmiddleware.Error{
		Kind:    kind,
		Code:    code,
		Message: message,
		Status:  status,
	})
}

func readAndReplayBody(r *http.Request) ([]byte, error) {
	if r.Body == nil {
		return nil, nil
	}
	data, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, err
	}
	if err := r.Body.Close(); err != nil {
		return nil, err
	}
	r.Body = io.NopCloser(bytes.NewReader(data))
	return data, nil
}

func requestFingerprint(r *http.Request, body []byte, identity string) string {
	var b strings.Builder
	for _, part := range []string{
		r.Method, r.URL.Path, r.URL.RawQuery, r.Header.Get("Content-Type"), identity,
	} {
		b.WriteString(part)
		b.WriteByte('|')
	}
	if len(body) > 0 {
		b.WriteString(sha256Hex(body))
	}
	return sha256Hex([]byte(b.String()))
}

func writeStoredResponse(w http.ResponseWriter, record Record) {
	for name, values := range record.ResponseHeaders {
		for _, v := range values {
			w.Header().Add(name, v)
		}
	}
	w.Header().Set(replayHeaderName, "true")

	status := record.ResponseStatus
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	if len(record.ResponseBody) > 0 {
		_, _ = w.Write(record.ResponseBody)
	}
}

// responseRecorder buffers the handler output so it can be stored before it
// reaches the client.
type responseRecorder struct {
	parent http.ResponseWriter
	header http.Header
	status int
	body   bytes.Buffer
}

func newResponseRecorder(parent http.ResponseWriter) *responseRecorder {
	return &responseRecorder{parent: parent, header: make(http.Header)}
}

func (r *responseRecorder) Header() http.Header { return r.header }

func (r *responseRecorder) WriteHeader(status int) {
	if r.status == 0 {
		r.status = status
	}
}

func (r *responseRecorder) Write(data []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.body.Write(data)
}

func (r *responseRecorder) Status() int {
	if r.status == 0 {
		return http.StatusOK
	}
	return r.status
}

func (r *responseRecorder) Body() []byte {
	if r.body.Len() == 0 {
		return nil
	}
	return r.body.Bytes()
}

func (r *responseRecorder) Commit() error {
	dst := r.parent.Header()
	for name, values := range r.header {
		dst[name] = values
	}
	r.parent.WriteHeader(r.Status())
	if r.body.Len() == 0 {
		return nil
	}
	_, err := r.parent.Write(r.body.Bytes())
	return err
}
