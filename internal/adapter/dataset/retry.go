package dataset

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"

	"go.ngs.io/dsg-ingest/internal/domain"
	"go.ngs.io/dsg-ingest/internal/logger"
)

// RetryPolicy bounds the retries of transient read failures.
type RetryPolicy struct {
	MaxRetries      int
	InitialInterval time.Duration
	MaxElapsed      time.Duration
}

// DefaultRetryPolicy retries three times over at most a minute.
var DefaultRetryPolicy = RetryPolicy{
	MaxRetries:      3,
	InitialInterval: 500 * time.Millisecond,
	MaxElapsed:      time.Minute,
}

// WithRetry wraps src so variable reads are retried with exponential backoff.
// Errors that cannot succeed on retry are returned immediately.
func WithRetry(src Source, policy RetryPolicy, log logger.Logger) Source {
	if log == nil {
		log = logger.NopLogger
	}
	return &retrySource{Source: src, policy: policy, log: log}
}

type retrySource struct {
	Source
	policy RetryPolicy
	log    logger.Logger
}

func (r *retrySource) Variable(name string) (Variable, error) {
	v, err := r.Source.Variable(name)
	if err != nil {
		return nil, err
	}
	return &retryVariable{Variable: v, src: r}, nil
}

type retryVariable struct {
	Variable
	src *retrySource
}

func (v *retryVariable) Read(ctx context.Context, begin, end int) (Array, error) {
	var out Array
	op := func() error {
		a, err := v.Variable.Read(ctx, begin, end)
		if err != nil {
			if permanentReadError(err) {
				return backoff.Permanent(err)
			}
			return err
		}
		out = a
		return nil
	}
	notify := func(err error, wait time.Duration) {
		v.src.log.Warnf("read %s[%d:%d] failed, retrying in %s: %v", v.Name(), begin, end, wait, err)
	}
	if err := backoff.RetryNotify(op, v.src.newBackOff(ctx), notify); err != nil {
		return Array{}, err
	}
	return out, nil
}

func (r *retrySource) newBackOff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	if r.policy.InitialInterval > 0 {
		b.InitialInterval = r.policy.InitialInterval
	}
	if r.policy.MaxElapsed > 0 {
		b.MaxElapsedTime = r.policy.MaxElapsed
	}
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(max(r.policy.MaxRetries, 0))), ctx)
}

func permanentReadError(err error) bool {
	return errors.Is(err, domain.ErrVariableNotFound) ||
		errors.Is(err, domain.ErrUnsupportedShape) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}
