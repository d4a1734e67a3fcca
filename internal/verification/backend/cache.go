package backend

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"studentcheck/internal/verification/models"
	"studentcheck/internal/verification/ports"
	id "studentcheck/pkg/domain"
)

const (
	defaultStatusTTL = 30 * time.Second
	statusKeyPrefix  = "studentcheck:status:"
)

// KeyValue is the subset of the redis client the cache uses.
type KeyValue interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// CachedStatusSource caches status reads in redis. Submissions go through it
// so the cached status is dropped as soon as the backend accepts new
// documents. Redis failures degrade to a direct read.
type CachedStatusSource struct {
	source    ports.StatusSource
	submitter ports.Submitter
	kv        KeyValue
	ttl       time.Duration
	logger    *slog.Logger
}

type CacheOption func(*CachedStatusSource)

func WithCacheLogger(logger *slog.Logger) CacheOption {
	return func(c *CachedStatusSource) { c.logger = logger }
}

func WithTTL(ttl time.Duration) CacheOption {
	return func(c *CachedStatusSource) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

func NewCachedStatusSource(source ports.StatusSource, submitter ports.Submitter, kv KeyValue, opts ...CacheOption) *CachedStatusSource {
	c := &CachedStatusSource{
		source:    source,
		submitter: submitter,
		kv:        kv,
		ttl:       defaultStatusTTL,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func statusKey(applicantID id.ApplicantID) string {
	return statusKeyPrefix + applicantID.String()
}

// cachedStatus distinguishes "nothing on record" from a cache miss.
type cachedStatus struct {
	Status *models.CurrentStatus `json:"status"`
}

func (c *CachedStatusSource) CurrentStatus(ctx context.Context, applicantID id.ApplicantID) (*models.CurrentStatus, error) {
	key := statusKey(applicantID)
	raw, err := c.kv.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var entry cachedStatus
		if jsonErr := json.Unmarshal(raw, &entry); jsonErr == nil {
			return entry.Status, nil
		}
		c.logger.WarnContext(ctx, "discarding unreadable cached status", "applicant_id", applicantID.String())
	case !errors.Is(err, redis.Nil):
		c.logger.WarnContext(ctx, "status cache read failed", "applicant_id", applicantID.String(), "error", err)
	}

	current, err := c.source.CurrentStatus(ctx, applicantID)
	if err != nil {
		return nil, err
	}
	payload, err := json.Marshal(cachedStatus{Status: current})
	if err == nil {
		err = c.kv.Set(ctx, key, payload, c.ttl).Err()
	}
	if err != nil {
		c.logger.WarnContext(ctx, "status cache write failed", "applicant_id", applicantID.String(), "error", err)
	}
	return current, nil
}

// Submit forwards to the backend and invalidates the cached status once the
// submission is accepted.
func (c *CachedStatusSource) Submit(ctx context.Context, applicantID id.ApplicantID, req models.SubmissionRequest) (*models.Acknowledgment, error) {
	ack, err := c.submitter.Submit(ctx, applicantID, req)
	if err != nil {
		return nil, err
	}
	c.Invalidate(ctx, applicantID)
	return ack, nil
}

// Invalidate drops the cached status for the applicant.
func (c *CachedStatusSource) Invalidate(ctx context.Context, applicantID id.ApplicantID) {
	if err := c.kv.Del(ctx, statusKey(applicantID)).Err(); err != nil {
		c.logger.WarnContext(ctx, "status cache invalidation failed", "applicant_id", applicantID.String(), "error", err)
	}
}
