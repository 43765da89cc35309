package content

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/sethvargo/go-retry"

	"github.com/wholesum/bazaar/module"
)

const (
	DefaultRetryBase     = time.Second
	DefaultRetryCap      = 30 * time.Second
	DefaultRetryAttempts = 6
)

// RetryConfig bounds the exponential backoff applied to retryable errors.
type RetryConfig struct {
	Base     time.Duration
	Cap      time.Duration
	Attempts uint64
}

func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		Base:     DefaultRetryBase,
		Cap:      DefaultRetryCap,
		Attempts: DefaultRetryAttempts,
	}
}

var _ Store = (*RetryingStore)(nil)

// RetryingStore retries NotFound and Unavailable errors of the wrapped store
// with capped exponential backoff. The last error is returned once attempts
// are exhausted.
type RetryingStore struct {
	log     zerolog.Logger
	store   Store
	metrics module.StorageMetrics
	cfg     RetryConfig
}

func NewRetryingStore(log zerolog.Logger, store Store, metrics module.StorageMetrics, cfg RetryConfig) *RetryingStore {
	if cfg.Attempts == 0 {
		cfg.Attempts = 1
	}
	return &RetryingStore{
		log:     log.With().Str("component", "content_store").Logger(),
		store:   store,
		metrics: metrics,
		cfg:     cfg,
	}
}

func (r *RetryingStore) backoff() retry.Backoff {
	return retry.WithMaxRetries(r.cfg.Attempts-1, retry.WithCappedDuration(r.cfg.Cap, retry.NewExponential(r.cfg.Base)))
}

func (r *RetryingStore) Fetch(ctx context.Context, c string) ([]byte, error) {
	start := time.Now()
	var data []byte
	attempt := 0
	err := retry.Do(ctx, r.backoff(), func(ctx context.Context) error {
		attempt++
		var err error
		data, err = r.store.Fetch(ctx, c)
		if IsRetryable(err) {
			r.metrics.ContentFetchRetried()
			r.log.Debug().Err(err).Str("cid", c).Int("attempt", attempt).Msg("fetch failed, retrying")
			return retry.RetryableError(err)
		}
		return err
	})
	if err != nil {
		r.metrics.ContentFetchFailed()
		return nil, err
	}
	r.metrics.ContentFetched(len(data), time.Since(start))
	return data, nil
}

func (r *RetryingStore) Upload(ctx context.Context, data []byte) (string, error) {
	start := time.Now()
	var c string
	err := retry.Do(ctx, r.backoff(), func(ctx context.Context) error {
		var err error
		c, err = r.store.Upload(ctx, data)
		if IsRetryable(err) {
			r.log.Debug().Err(err).Msg("upload failed, retrying")
			return retry.RetryableError(err)
		}
		return err
	})
	if err != nil {
		return "", err
	}
	r.metrics.ContentUploaded(len(data), time.Since(start))
	return c, nil
}
