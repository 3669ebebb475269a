package handler

import (
	"bytes"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/NPatel10/jewellery-ecommerce/internal/domain/fault"
	"github.com/NPatel10/jewellery-ecommerce/pkg/httpmiddleware"
)

const maxBodySize = 1 << 20

var errAdminOnly = fault.New(fault.AccessDenied, "AccessDenied", "administrator role required")

var statusByKind = map[fault.Kind]int{
	fault.Validation:         http.StatusBadRequest,
	fault.NotFound:           http.StatusNotFound,
	fault.Conflict:           http.StatusConflict,
	fault.PreconditionFailed: http.StatusBadRequest,
	fault.AccessDenied:       http.StatusForbidden,
	fault.Unauthenticated:    http.StatusUnauthorized,
	fault.Internal:           http.StatusInternalServerError,
}

func writeJSON(w http.ResponseWriter, status int, body func(e *jx.Encoder)) {
	var e jx.Encoder
	body(&e)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(e.Bytes())
}

// writeError maps err onto the error envelope. Messages of unclassified
// errors are logged and never sent to the client.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	kind := fault.KindOf(err)
	status, ok := statusByKind[kind]
	if !ok {
		status = http.StatusInternalServerError
	}

	msg := "internal server error"
	var c fault.Classified
	if kind != fault.Internal && errors.As(err, &c) {
		msg = c.Error()
	} else {
		zctx.From(r.Context()).Error("Request failed",
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
	}

	httpmiddleware.WriteError(w, r, httpmiddleware.Error{
		Kind:    string(kind),
		Code:    fault.CodeOf(err),
		Message: msg,
		Status:  status,
		Fields:  fault.FieldsOf(err),
	})
}

// decodeObject reads a JSON object body and calls field for every key.
// Malformed JSON becomes a validation error on "body"; classified errors
// returned by field pass through.
func decodeObject(r *http.Request, field func(d *jx.Decoder, key string) error) error {
	data, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize+1))
	if err != nil {
		return fault.Invalid("body", "unreadable request body")
	}
	if len(data) > maxBodySize {
		return fault.Invalid("body", "request body too large")
	}
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return fault.Invalid("body", "required")
	}

	d := jx.DecodeBytes(data)
	if d.Next() != jx.Object {
		return fault.Invalid("body", "must be a JSON object")
	}
	if err := d.Obj(field); err != nil {
		var c fault.Classified
		if errors.As(err, &c) {
			return c
		}
		return fault.Invalid("body", "malformed JSON")
	}
	return nil
}

func decodeString(d *jx.Decoder, field string) (string, error) {
	switch d.Next() {
	case jx.String:
		return d.Str()
	case jx.Null:
		return "", d.Null()
	default:
		return "", fault.Invalid(field, "must be a string")
	}
}

func decodeInt(d *jx.Decoder, field string) (int, error) {
	if d.Next() != jx.Number {
		return 0, fault.Invalid(field, "must be an integer")
	}
	v, err := d.Int()
	if err != nil {
		return 0, fault.Invalid(field, "must be an integer")
	}
	return v, nil
}

func decodeBool(d *jx.Decoder, field string) (bool, error) {
	if d.Next() != jx.Bool {
		return false, fault.Invalid(field, "must be a boolean")
	}
	return d.Bool()
}

// decodeDecimal accepts a JSON number or a numeric string.
func decodeDecimal(d *jx.Decoder, field string) (decimal.Decimal, error) {
	var raw string
	switch d.Next() {
	case jx.Number:
		n, err := d.Num()
		if err != nil {
			return decimal.Decimal{}, fault.Invalid(field, "must be a number")
		}
		raw = n.String()
	case jx.String:
		s, err := d.Str()
		if err != nil {
			return decimal.Decimal{}, err
		}
		raw = strings.TrimSpace(s)
	default:
		return decimal.Decimal{}, fault.Invalid(field, "must be a number")
	}
	v, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Decimal{}, fault.Invalid(field, "must be a number")
	}
	return v, nil
}

func decodeTime(d *jx.Decoder, field string) (time.Time, error) {
	s, err := decodeString(d, field)
	if err != nil {
		return time.Time{}, err
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fault.Invalid(field, "must be an RFC 3339 timestamp")
	}
	return t.UTC(), nil
}

func decodeStrings(d *jx.Decoder, field string) ([]string, error) {
	if d.Next() == jx.Null {
		return nil, d.Null()
	}
	if d.Next() != jx.Array {
		return nil, fault.Invalid(field, "must be an array of strings")
	}
	out := []string{}
	err := d.Arr(func(d *jx.Decoder) error {
		s, err := decodeString(d, field)
		if err != nil {
			return err
		}
		out = append(out, s)
		return nil
	})
	return out, err
}

// pageParams reads the limit and offset query parameters.
func pageParams(r *http.Request, fe fault.FieldErrors) (limit, offset int) {
	return queryInt(r, "limit", fe), queryInt(r, "offset", fe)
}

func queryInt(r *http.Request, name string, fe fault.FieldErrors) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		fe.Add(name, "must be a non-negative integer")
		return 0
	}
	return v
}

func queryTime(r *http.Request, name string, fe fault.FieldErrors) *time.Time {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		fe.Add(name, "must be an RFC 3339 timestamp")
		return nil
	}
	t = t.UTC()
	return &t
}
