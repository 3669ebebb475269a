package coupon

import (
	"context"
	"time"

	"github.com/go-faster/errors"
)

// Validator evaluates coupon codes against an order context.
type Validator interface {
	// Validate is read-only and may be called any number of times.
	Validate(ctx context.Context, req Request) (*Result, error)
	// Redeem evaluates the coupon under a row lock and consumes one use. It
	// must run inside the unit of work that commits the order.
	Redeem(ctx context.Context, req Request) (*Result, error)
}

var _ Validator = (*RepoValidator)(nil)

// RepoValidator implements Validator on top of a Repository.
type RepoValidator struct {
	repo Repository
	now  func() time.Time
}

// NewRepoValidator creates a RepoValidator backed by the given Repository.
func NewRepoValidator(repo Repository) *RepoValidator {
	return &RepoValidator{repo: repo, now: time.Now}
}

// Validate looks up the coupon and evaluates it without changing usage.
func (v *RepoValidator) Validate(ctx context.Context, req Request) (*Result, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	c, err := v.repo.FindByCode(ctx, NormalizeCode(req.Code))
	if err != nil {
		return nil, lookupError(err)
	}
	res, err := c.Evaluate(req, v.now())
	if err != nil {
		return nil, err
	}
	return &res, nil
}

// Redeem locks the coupon row, evaluates it and increments its usage counter.
func (v *RepoValidator) Redeem(ctx context.Context, req Request) (*Result, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	code := NormalizeCode(req.Code)
	c, err := v.repo.LockByCode(ctx, code)
	if err != nil {
		return nil, lookupError(err)
	}
	res, err := c.Evaluate(req, v.now())
	if err != nil {
		return nil, err
	}
	if err := v.repo.IncrementUsage(ctx, code); err != nil {
		if errors.Is(err, ErrUsageLimitExceeded) {
			return nil, ErrUsageLimitExceeded
		}
		return nil, errors.Wrap(err, "increment coupon usage")
	}
	return &res, nil
}

func lookupError(err error) error {
	if errors.Is(err, ErrNotFound) {
		return ErrInvalidOrExpired
	}
	return errors.Wrap(err, "lookup coupon")
}
