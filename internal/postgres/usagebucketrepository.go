// SPDX-FileCopyrightText: 2025 Mads R. Havmand <mads@v42.dk>
//
// SPDX-License-Identifier: AGPL-3.0-only

package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/MadsRC/tenantmeter"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

const bucketColumns = `id, tenant_id, user_id, usage_type, usage_date,
		count, token_usage, data_size, cost::text, metadata,
		created_at, updated_at`

// The conflict target is the bucket identity. A single statement keeps the
// increment atomic without an explicit transaction.
const upsertBucketQuery = `
		INSERT INTO usage_buckets (
			id, tenant_id, user_id, usage_type, usage_date,
			count, token_usage, data_size, cost, metadata,
			created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, 1, $6, $7, $8::numeric, $9, $10, $10)
		ON CONFLICT (tenant_id, user_id, usage_type, usage_date) DO UPDATE SET
			count = usage_buckets.count + 1,
			token_usage = usage_buckets.token_usage + EXCLUDED.token_usage,
			data_size = usage_buckets.data_size + EXCLUDED.data_size,
			cost = usage_buckets.cost + EXCLUDED.cost,
			metadata = usage_buckets.metadata || EXCLUDED.metadata,
			updated_at = EXCLUDED.updated_at
		RETURNING ` + bucketColumns

const findTenantBucketsQuery = `
		SELECT ` + bucketColumns + `
		FROM usage_buckets
		WHERE tenant_id = $1 AND user_id = '' AND usage_date BETWEEN $2 AND $3
		ORDER BY usage_date, usage_type`

const findUserBucketsQuery = `
		SELECT ` + bucketColumns + `
		FROM usage_buckets
		WHERE user_id = $1 AND tenant_id = '' AND usage_date BETWEEN $2 AND $3
		ORDER BY usage_date, usage_type`

func scanBucket(row pgx.Row) (*tenantmeter.UsageBucket, error) {
	var (
		b         tenantmeter.UsageBucket
		usageType string
		cost      string
		metadata  []byte
	)
	err := row.Scan(
		&b.ID,
		&b.TenantID,
		&b.UserID,
		&usageType,
		&b.Date,
		&b.Count,
		&b.TokenUsage,
		&b.DataSize,
		&cost,
		&metadata,
		&b.CreatedAt,
		&b.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	b.UsageType = tenantmeter.UsageType(usageType)
	b.Date = tenantmeter.Day(b.Date)
	if b.Cost, err = decimal.NewFromString(cost); err != nil {
		return nil, fmt.Errorf("invalid cost %q: %w", cost, err)
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &b.Metadata); err != nil {
			return nil, fmt.Errorf("invalid metadata: %w", err)
		}
		if len(b.Metadata) == 0 {
			b.Metadata = nil
		}
	}
	return &b, nil
}

// UpsertIncrement creates the bucket for key with a count of one or adds the
// deltas to the existing row.
func (r *UsageBucketRepository) UpsertIncrement(ctx context.Context, key tenantmeter.BucketKey, deltas tenantmeter.BucketDeltas) (*tenantmeter.UsageBucket, error) {
	key.Date = tenantmeter.Day(key.Date)
	if err := key.Validate(); err != nil {
		return nil, err
	}
	if err := deltas.Validate(); err != nil {
		return nil, err
	}

	metadata := deltas.Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}
	metadataJSON, err := json.Marshal(metadata)
	if err != nil {
		return nil, fmt.Errorf("%w: metadata is not JSON encodable: %v", tenantmeter.ErrInvalidArgument, err)
	}

	now := r.options.Clock.Now().UTC()
	bucket, err := scanBucket(r.options.Db.QueryRow(ctx, upsertBucketQuery,
		uuid.NewString(),
		key.TenantID,
		key.UserID,
		string(key.UsageType),
		key.Date,
		deltas.TokenUsage,
		deltas.DataSize,
		deltas.Cost.String(),
		metadataJSON,
		now,
	))
	if err != nil {
		r.options.Logger.Error("Failed to upsert usage bucket", "error", err, "bucket", key.String())
		r.options.Metrics.RecordStorageError(ctx, "upsert", "postgres")
		return nil, tenantmeter.NewStorageError("upsert bucket", err)
	}
	return bucket, nil
}

// FindByTenant returns the tenant level buckets dated within rng
func (r *UsageBucketRepository) FindByTenant(ctx context.Context, tenantID string, rng tenantmeter.DateRange) ([]*tenantmeter.UsageBucket, error) {
	return r.find(ctx, findTenantBucketsQuery, tenantID, rng)
}

// FindByUser returns the user level buckets dated within rng
func (r *UsageBucketRepository) FindByUser(ctx context.Context, userID string, rng tenantmeter.DateRange) ([]*tenantmeter.UsageBucket, error) {
	return r.find(ctx, findUserBucketsQuery, userID, rng)
}

func (r *UsageBucketRepository) find(ctx context.Context, query string, ownerID string, rng tenantmeter.DateRange) ([]*tenantmeter.UsageBucket, error) {
	rows, err := r.options.Db.Query(ctx, query, ownerID, tenantmeter.Day(rng.Start), tenantmeter.Day(rng.End))
	if err != nil {
		r.options.Logger.Error("Failed to query usage buckets", "error", err, "owner", ownerID)
		r.options.Metrics.RecordStorageError(ctx, "find", "postgres")
		return nil, tenantmeter.NewStorageError("find buckets", err)
	}
	defer rows.Close()

	var buckets []*tenantmeter.UsageBucket
	for rows.Next() {
		b, err := scanBucket(rows)
		if err != nil {
			r.options.Logger.Error("Failed to scan usage bucket row", "error", err)
			return nil, tenantmeter.NewStorageError("scan bucket", err)
		}
		buckets = append(buckets, b)
	}

	if err := rows.Err(); err != nil {
		r.options.Logger.Error("Error iterating usage bucket rows", "error", err)
		r.options.Metrics.RecordStorageError(ctx, "find", "postgres")
		return nil, tenantmeter.NewStorageError("find buckets", err)
	}

	return buckets, nil
}
