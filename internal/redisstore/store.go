// SPDX-FileCopyrightText: 2025 Mads R. Havmand <mads@v42.dk>
//
// SPDX-License-Identifier: AGPL-3.0-only

// Package redisstore keeps usage buckets in Redis. Each bucket is a hash
// whose counters are advanced with HINCRBY inside MULTI/EXEC, so concurrent
// increments of one bucket never overwrite each other. A sorted set per
// owner indexes the bucket keys by day for range reads.
package redisstore

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/MadsRC/tenantmeter"
	"github.com/MadsRC/tenantmeter/internal/monitoring"
	"github.com/coder/quartz"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
)

// Cost is held as an integer count of nano units so HINCRBY stays exact
const costScale = 9

const (
	fieldID         = "id"
	fieldCount      = "count"
	fieldTokenUsage = "token_usage"
	fieldDataSize   = "data_size"
	fieldCostNanos  = "cost_nanos"
	fieldCreatedAt  = "created_at"
	fieldUpdatedAt  = "updated_at"
)

var _ tenantmeter.UsageBucketStore = (*Store)(nil)

// Store implements tenantmeter.UsageBucketStore on Redis
type Store struct {
	client  redis.UniversalClient
	prefix  string
	clock   quartz.Clock
	logger  *slog.Logger
	metrics *monitoring.UsageMetrics
}

type Option func(*Store)

// WithKeyPrefix namespaces every key the store writes. Defaults to "tenantmeter".
func WithKeyPrefix(prefix string) Option {
	return func(s *Store) {
		s.prefix = prefix
	}
}

func WithClock(clock quartz.Clock) Option {
	return func(s *Store) {
		s.clock = clock
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

func WithMetrics(metrics *monitoring.UsageMetrics) Option {
	return func(s *Store) {
		s.metrics = metrics
	}
}

// New creates a Store on top of client
func New(client redis.UniversalClient, options ...Option) *Store {
	s := &Store{
		client: client,
		prefix: "tenantmeter",
		clock:  quartz.NewReal(),
		logger: slog.Default(),
	}
	for _, opt := range options {
		opt(s)
	}
	return s
}

// Connect parses a redis:// URL and verifies the server answers
func Connect(ctx context.Context, redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return client, nil
}

func (s *Store) bucketKey(key tenantmeter.BucketKey) string {
	return s.prefix + ":bucket:" + key.String()
}

func (s *Store) metadataKey(bucketKey string) string {
	return bucketKey + ":meta"
}

func (s *Store) indexKey(scope, ownerID string) string {
	return fmt.Sprintf("%s:index:%s:%s", s.prefix, scope, ownerID)
}

func dayScore(t time.Time) float64 {
	return float64(tenantmeter.Day(t).Unix())
}

var maxCostNanos = decimal.NewFromInt(math.MaxInt64)

// toNanos converts a non-negative cost to integer nano units. Costs that do
// not fit an int64 are rejected.
func toNanos(d decimal.Decimal) (int64, error) {
	n := d.Shift(costScale).Round(0)
	if n.GreaterThan(maxCostNanos) {
		return 0, fmt.Errorf("%w: cost %s exceeds the largest storable cost", tenantmeter.ErrInvalidArgument, d)
	}
	return n.IntPart(), nil
}

func fromNanos(n int64) decimal.Decimal {
	return decimal.New(n, -costScale)
}

// UpsertIncrement creates the bucket for key with a count of one or adds the
// deltas to it. Cost is rounded to nine decimal places.
func (s *Store) UpsertIncrement(ctx context.Context, key tenantmeter.BucketKey, deltas tenantmeter.BucketDeltas) (*tenantmeter.UsageBucket, error) {
	key.Date = tenantmeter.Day(key.Date)
	if err := key.Validate(); err != nil {
		return nil, err
	}
	if err := deltas.Validate(); err != nil {
		return nil, err
	}

	costNanos, err := toNanos(deltas.Cost)
	if err != nil {
		return nil, err
	}

	metadata := make(map[string]any, len(deltas.Metadata))
	for k, v := range deltas.Metadata {
		encoded, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("%w: metadata %q is not JSON encodable: %v", tenantmeter.ErrInvalidArgument, k, err)
		}
		metadata[k] = string(encoded)
	}

	bk := s.bucketKey(key)
	mk := s.metadataKey(bk)
	now := s.clock.Now().UTC().Format(time.RFC3339Nano)

	var (
		fields *redis.MapStringStringCmd
		meta   *redis.MapStringStringCmd
	)
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSetNX(ctx, bk, fieldID, uuid.NewString())
		pipe.HSetNX(ctx, bk, fieldCreatedAt, now)
		pipe.HIncrBy(ctx, bk, fieldCount, 1)
		pipe.HIncrBy(ctx, bk, fieldTokenUsage, deltas.TokenUsage)
		pipe.HIncrBy(ctx, bk, fieldDataSize, deltas.DataSize)
		pipe.HIncrBy(ctx, bk, fieldCostNanos, costNanos)
		pipe.HSet(ctx, bk, fieldUpdatedAt, now)
		if len(metadata) > 0 {
			pipe.HSet(ctx, mk, metadata)
		}
		pipe.ZAdd(ctx, s.indexKey(key.Scope(), key.OwnerID()), redis.Z{
			Score:  dayScore(key.Date),
			Member: bk,
		})
		fields = pipe.HGetAll(ctx, bk)
		meta = pipe.HGetAll(ctx, mk)
		return nil
	})
	if err != nil {
		s.logger.Error("Failed to upsert usage bucket", "error", err, "bucket", key.String())
		s.metrics.RecordStorageError(ctx, "upsert", "redis")
		return nil, tenantmeter.NewStorageError("upsert bucket", err)
	}

	bucket, err := decodeBucket(key, fields.Val(), meta.Val())
	if err != nil {
		return nil, tenantmeter.NewStorageError("decode bucket", err)
	}
	return bucket, nil
}

// FindByTenant returns the tenant level buckets dated within r
func (s *Store) FindByTenant(ctx context.Context, tenantID string, r tenantmeter.DateRange) ([]*tenantmeter.UsageBucket, error) {
	return s.find(ctx, "tenant", tenantID, r)
}

// FindByUser returns the user level buckets dated within r
func (s *Store) FindByUser(ctx context.Context, userID string, r tenantmeter.DateRange) ([]*tenantmeter.UsageBucket, error) {
	return s.find(ctx, "user", userID, r)
}

func (s *Store) find(ctx context.Context, scope, ownerID string, r tenantmeter.DateRange) ([]*tenantmeter.UsageBucket, error) {
	members, err := s.client.ZRangeByScore(ctx, s.indexKey(scope, ownerID), &redis.ZRangeBy{
		Min: strconv.FormatInt(tenantmeter.Day(r.Start).Unix(), 10),
		Max: strconv.FormatInt(tenantmeter.Day(r.End).Unix(), 10),
	}).Result()
	if err != nil {
		s.logger.Error("Failed to read usage bucket index", "error", err, "scope", scope, "owner", ownerID)
		s.metrics.RecordStorageError(ctx, "find", "redis")
		return nil, tenantmeter.NewStorageError("find buckets", err)
	}
	if len(members) == 0 {
		return nil, nil
	}

	type pending struct {
		fields *redis.MapStringStringCmd
		meta   *redis.MapStringStringCmd
	}
	reads := make([]pending, len(members))
	_, err = s.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, member := range members {
			reads[i] = pending{
				fields: pipe.HGetAll(ctx, member),
				meta:   pipe.HGetAll(ctx, s.metadataKey(member)),
			}
		}
		return nil
	})
	if err != nil {
		s.logger.Error("Failed to read usage buckets", "error", err, "scope", scope, "owner", ownerID)
		s.metrics.RecordStorageError(ctx, "find", "redis")
		return nil, tenantmeter.NewStorageError("find buckets", err)
	}

	buckets := make([]*tenantmeter.UsageBucket, 0, len(members))
	for i, member := range members {
		fields := reads[i].fields.Val()
		if len(fields) == 0 {
			// index entry outlived its hash
			continue
		}
		key, err := parseBucketKey(s.prefix, member)
		if err != nil {
			return nil, tenantmeter.NewStorageError("decode bucket", err)
		}
		b, err := decodeBucket(key, fields, reads[i].meta.Val())
		if err != nil {
			return nil, tenantmeter.NewStorageError("decode bucket", err)
		}
		buckets = append(buckets, b)
	}
	return buckets, nil
}

// parseBucketKey reverses bucketKey. Owner IDs may contain colons, so the
// scope is cut from the front and the type and date from the back.
func parseBucketKey(prefix, member string) (tenantmeter.BucketKey, error) {
	rest, ok := strings.CutPrefix(member, prefix+":bucket:")
	if !ok {
		return tenantmeter.BucketKey{}, fmt.Errorf("unexpected bucket key %q", member)
	}
	scope, rest, ok := strings.Cut(rest, ":")
	if !ok {
		return tenantmeter.BucketKey{}, fmt.Errorf("unexpected bucket key %q", member)
	}
	i := strings.LastIndex(rest, ":")
	if i < 0 {
		return tenantmeter.BucketKey{}, fmt.Errorf("unexpected bucket key %q", member)
	}
	rest, date := rest[:i], rest[i+1:]
	i = strings.LastIndex(rest, ":")
	if i < 0 {
		return tenantmeter.BucketKey{}, fmt.Errorf("unexpected bucket key %q", member)
	}
	owner, usageType := rest[:i], rest[i+1:]

	day, err := time.Parse(time.DateOnly, date)
	if err != nil {
		return tenantmeter.BucketKey{}, fmt.Errorf("bad date in bucket key %q: %w", member, err)
	}
	switch scope {
	case "tenant":
		return tenantmeter.TenantBucketKey(owner, tenantmeter.UsageType(usageType), day), nil
	case "user":
		return tenantmeter.UserBucketKey(owner, tenantmeter.UsageType(usageType), day), nil
	}
	return tenantmeter.BucketKey{}, fmt.Errorf("unknown scope in bucket key %q", member)
}

func decodeBucket(key tenantmeter.BucketKey, fields, meta map[string]string) (*tenantmeter.UsageBucket, error) {
	b := &tenantmeter.UsageBucket{
		ID:        fields[fieldID],
		TenantID:  key.TenantID,
		UserID:    key.UserID,
		UsageType: key.UsageType,
		Date:      tenantmeter.Day(key.Date),
	}

	ints := []struct {
		field string
		dst   *int64
	}{
		{fieldCount, &b.Count},
		{fieldTokenUsage, &b.TokenUsage},
		{fieldDataSize, &b.DataSize},
	}
	for _, f := range ints {
		n, err := parseInt(fields[f.field])
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", f.field, err)
		}
		*f.dst = n
	}

	nanos, err := parseInt(fields[fieldCostNanos])
	if err != nil {
		return nil, fmt.Errorf("field %s: %w", fieldCostNanos, err)
	}
	b.Cost = fromNanos(nanos)

	if b.CreatedAt, err = parseTime(fields[fieldCreatedAt]); err != nil {
		return nil, fmt.Errorf("field %s: %w", fieldCreatedAt, err)
	}
	if b.UpdatedAt, err = parseTime(fields[fieldUpdatedAt]); err != nil {
		return nil, fmt.Errorf("field %s: %w", fieldUpdatedAt, err)
	}

	if len(meta) > 0 {
		b.Metadata = make(map[string]any, len(meta))
		for k, raw := range meta {
			var v any
			if err := json.Unmarshal([]byte(raw), &v); err != nil {
				return nil, fmt.Errorf("metadata %s: %w", k, err)
			}
			b.Metadata[k] = v
		}
	}
	return b, nil
}

func parseInt(s string) (int64, error) {
	if s == "" {
		return 0, nil
	}
	return strconv.ParseInt(s, 10, 64)
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339Nano, s)
}
