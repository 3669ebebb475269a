package idempotency

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/redis/go-redis/v9"
)

const defaultRedisPrefix = "idempotency:"

var _ Store = (*RedisStore)(nil)

// RedisStore keeps records in Redis with native key expiry, so instances
// behind a load balancer share reservations.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
}

// RedisOption customises a RedisStore.
type RedisOption func(*RedisStore)

// WithPrefix overrides the key prefix.
func WithPrefix(prefix string) RedisOption {
	return func(s *RedisStore) {
		if prefix != "" {
			s.prefix = prefix
		}
	}
}

// NewRedisStore creates a RedisStore on client.
func NewRedisStore(client redis.UniversalClient, opts ...RedisOption) *RedisStore {
	s := &RedisStore{client: client, prefix: defaultRedisPrefix}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *RedisStore) key(key string) string {
	return s.prefix + compositeKey(key)
}

// Reserve claims the key with SET NX. When the key exists the stored record
// decides the outcome.
func (s *RedisStore) Reserve(ctx context.Context, key, fingerprint string, now time.Time, ttl time.Duration) (Reservation, error) {
	now = now.UTC()
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	id := s.key(key)

	// The existing record may expire between SET NX and GET; one retry covers it.
	for range 2 {
		record := newPending(key, fingerprint, now, ttl)
		ok, err := s.client.SetNX(ctx, id, encodeRecord(record), ttl).Result()
		if err != nil {
			return Reservation{}, errors.Wrap(err, "reserve")
		}
		if ok {
			return Reservation{State: ReservationStateNew, Record: record}, nil
		}

		existing, err := s.get(ctx, id)
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return Reservation{}, err
		}
		return classify(existing, fingerprint)
	}
	return Reservation{}, errors.New("reserve: key churned during reservation")
}

func (s *RedisStore) SaveResponse(ctx context.Context, key, fingerprint string, resp Response, now time.Time, ttl time.Duration) error {
	now = now.UTC()
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	id := s.key(key)

	record, err := s.get(ctx, id)
	switch {
	case errors.Is(err, redis.Nil):
		record = Record{Key: key, Fingerprint: fingerprint, CreatedAt: now}
	case err != nil:
		return err
	case record.Fingerprint != fingerprint:
		return ErrFingerprintMismatch
	}
	complete(&record, resp, now, ttl)

	if err := s.client.Set(ctx, id, encodeRecord(record), ttl).Err(); err != nil {
		return errors.Wrap(err, "save response")
	}
	return nil
}

func (s *RedisStore) Release(ctx context.Context, key, _ string) error {
	if err := s.client.Del(ctx, s.key(key)).Err(); err != nil {
		return errors.Wrap(err, "release")
	}
	return nil
}

// CleanupExpired is a no-op: Redis expires keys itself.
func (s *RedisStore) CleanupExpired(context.Context, time.Time, int) (int, error) {
	return 0, nil
}

func (s *RedisStore) get(ctx context.Context, id string) (Record, error) {
	data, err := s.client.Get(ctx, id).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Record{}, err
		}
		return Record{}, errors.Wrap(err, "get record")
	}
	record, err := decodeRecord(data)
	if err != nil {
		return Record{}, errors.Wrap(err, "decode record")
	}
	return record, nil
}

func encodeRecord(r Record) []byte {
	var e jx.Encoder
	e.Obj(func(e *jx.Encoder) {
		e.Field("key", func(e *jx.Encoder) { e.Str(r.Key) })
		e.Field("fingerprint", func(e *jx.Encoder) { e.Str(r.Fingerprint) })
		e.Field("status", func(e *jx.Encoder) { e.Str(string(r.Status)) })
		e.Field("responseStatus", func(e *jx.Encoder) { e.Int(r.ResponseStatus) })
		e.Field("responseHeaders", func(e *jx.Encoder) {
			e.Obj(func(e *jx.Encoder) {
				for name, values := range r.ResponseHeaders {
					e.Field(name, func(e *jx.Encoder) {
						e.Arr(func(e *jx.Encoder) {
							for _, v := range values {
								e.Str(v)
							}
						})
					})
				}
			})
		})
		e.Field("responseBody", func(e *jx.Encoder) { e.Base64(r.ResponseBody) })
		e.Field("createdAt", func(e *jx.Encoder) { e.Int64(r.CreatedAt.UnixNano()) })
		e.Field("updatedAt", func(e *jx.Encoder) { e.Int64(r.UpdatedAt.UnixNano()) })
		e.Field("expiresAt", func(e *jx.Encoder) { e.Int64(r.ExpiresAt.UnixNano()) })
	})
	return e.Bytes()
}

func decodeRecord(data []byte) (Record, error) {
	var r Record
	unixNano := func(d *jx.Decoder, t *time.Time) error {
		n, err := d.Int64()
		if err != nil {
			return err
		}
		*t = time.Unix(0, n).UTC()
		return nil
	}
	err := jx.DecodeBytes(data).Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "key":
			r.Key, err = d.Str()
		case "fingerprint":
			r.Fingerprint, err = d.Str()
		case "status":
			var s string
			s, err = d.Str()
			r.Status = Status(s)
		case "responseStatus":
			r.ResponseStatus, err = d.Int()
		case "responseHeaders":
			r.ResponseHeaders = map[string][]string{}
			err = d.Obj(func(d *jx.Decoder, name string) error {
				return d.Arr(func(d *jx.Decoder) error {
					v, err := d.Str()
					r.ResponseHeaders[name] = append(r.ResponseHeaders[name], v)
					return err
				})
			})
		case "responseBody":
			if d.Next() == jx.Null {
				return d.Null()
			}
			r.ResponseBody, err = d.Base64()
		case "createdAt":
			err = unixNano(d, &r.CreatedAt)
		case "updatedAt":
			err = unixNano(d, &r.UpdatedAt)
		case "expiresAt":
			err = unixNano(d, &r.ExpiresAt)
		default:
			err = d.Skip()
		}
		return err
	})
	return r, err
}
