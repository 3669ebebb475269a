package idempotency

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-faster/jx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedTime = time.Date(2025, time.June, 15, 12, 0, 0, 0, time.UTC)

func fixedClock() time.Time { return fixedTime }

func created(calls *int) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		*calls++
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id":"ord-1"}`))
	})
}

func post(h http.Handler, key, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/orders", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if key != "" {
		req.Header.Set("Idempotency-Key", key)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func errorCode(t *testing.T, body []byte) string {
	t.Helper()
	var code string
	require.NoError(t, jx.DecodeBytes(body).Obj(func(d *jx.Decoder, key string) error {
		if key == "code" {
			v, err := d.Str()
			code = v
			return err
		}
		return d.Skip()
	}))
	return code
}

func TestMiddleware_WithoutHeaderPassesThrough(t *testing.T) {
	var calls int
	h := Middleware(NewMemoryStore(), WithClock(fixedClock))(created(&calls))

	post(h, "", `{"a":1}`)
	post(h, "", `{"a":1}`)
	assert.Equal(t, 2, calls)
}

func TestMiddleware_ReplaysStoredResponse(t *testing.T) {
	var calls int
	h := Middleware(NewMemoryStore(), WithClock(fixedClock))(created(&calls))

	first := post(h, "abc-123", `{"a":1}`)
	second := post(h, "abc-123", `{"a":1}`)

	assert.Equal(t, 1, calls)
	assert.Equal(t, http.StatusCreated, first.Code)
	assert.Equal(t, http.StatusCreated, second.Code)
	assert.Equal(t, first.Body.String(), second.Body.String())
	assert.Equal(t, "true", second.Header().Get(replayHeaderName))
	assert.Equal(t, "application/json", second.Header().Get("Content-Type"))
	assert.Empty(t, first.Header().Get(replayHeaderName))
}

func TestMiddleware_DifferentBodyIsConflict(t *testing.T) {
	var calls int
	h := Middleware(NewMemoryStore(), WithClock(fixedClock))(created(&calls))

	post(h, "same-key", `{"a":1}`)
	rr := post(h, "same-key", `{"a":2}`)

	assert.Equal(t, 1, calls)
	assert.Equal(t, http.StatusConflict, rr.Code)
	assert.Equal(t, "IdempotencyKeyReused", errorCode(t, rr.Body.Bytes()))
}

func TestMiddleware_PendingIsConflict(t *testing.T) {
	store := NewMemoryStore()
	var calls int
	h := Middleware(store, WithClock(fixedClock))(created(&calls))

	req := httptest.NewRequest(http.MethodPost, "/orders", strings.NewReader(`{"a":1}`))
	req.Header.Set("Content-Type", "application/json")
	fp := requestFingerprint(req, []byte(`{"a":1}`), "anonymous")
	_, err := store.Reserve(context.Background(), "busy|anonymous", fp, fixedTime, time.Minute)
	require.NoError(t, err)

	rr := post(h, "busy", `{"a":1}`)
	assert.Equal(t, http.StatusConflict, rr.Code)
	assert.Equal(t, "IdempotencyInProgress", errorCode(t, rr.Body.Bytes()))
	assert.Zero(t, calls)
}

func TestMiddleware_ServerErrorsAreNotStored(t *testing.T) {
	var calls int
	h := Middleware(NewMemoryStore(), WithClock(fixedClock))(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		w.WriteHeader(http.StatusInternalServerError)
	}))

	post(h, "retry-me", `{}`)
	rr := post(h, "retry-me", `{}`)
	assert.Equal(t, 2, calls)
	assert.Equal(t, http.StatusInternalServerError, rr.Code)
}

func TestMiddleware_KeysAreScopedByRequester(t *testing.T) {
	var calls int
	user := "alice"
	h := Middleware(NewMemoryStore(),
		WithClock(fixedClock),
		WithRequester(func(*http.Request) string { return user }),
	)(created(&calls))

	post(h, "k", `{}`)
	user = "bob"
	rr := post(h, "k", `{}`)

	assert.Equal(t, 2, calls)
	assert.Empty(t, rr.Header().Get(replayHeaderName))
}

func TestMiddleware_IgnoresSafeMethods(t *testing.T) {
	var calls int
	h := Middleware(NewMemoryStore())(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
	}))
	for range 2 {
		req := httptest.NewRequest(http.MethodGet, "/orders", nil)
		req.Header.Set("Idempotency-Key", "k")
		h.ServeHTTP(httptest.NewRecorder(), req)
	}
	assert.Equal(t, 2, calls)
}

func TestMemoryStore_Expiry(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	res, err := s.Reserve(ctx, "k", "fp", fixedTime, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, ReservationStateNew, res.State)

	require.NoError(t, s.SaveResponse(ctx, "k", "fp", Response{Status: 201, Body: []byte("x")}, fixedTime, time.Minute))
	res, err = s.Reserve(ctx, "k", "fp", fixedTime.Add(30*time.Second), time.Minute)
	require.NoError(t, err)
	assert.Equal(t, ReservationStateCompleted, res.State)
	assert.Equal(t, []byte("x"), res.Record.ResponseBody)

	n, err := s.CleanupExpired(ctx, fixedTime.Add(2*time.Minute), 0)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	res, err = s.Reserve(ctx, "k", "other", fixedTime.Add(2*time.Minute), time.Minute)
	require.NoError(t, err)
	assert.Equal(t, ReservationStateNew, res.State)
}

func TestRecordEncoding(t *testing.T) {
	in := Record{
		Key:             "k",
		Fingerprint:     "fp",
		Status:          StatusCompleted,
		ResponseStatus:  201,
		ResponseHeaders: map[string][]string{"Content-Type": {"application/json"}},
		ResponseBody:    []byte(`{"id":"1"}`),
		CreatedAt:       fixedTime,
		UpdatedAt:       fixedTime,
		ExpiresAt:       fixedTime.Add(time.Hour),
	}
	out, err := decodeRecord(encodeRecord(in))
	require.NoError(t, err)
	assert.Equal(t, in, out)

	pending := newPending("k", "fp", fixedTime, time.Hour)
	out, err = decodeRecord(encodeRecord(pending))
	require.NoError(t, err)
	assert.Nil(t, out.ResponseBody)
	assert.Equal(t, StatusPending, out.Status)
}
