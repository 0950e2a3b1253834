// SPDX-FileCopyrightText: 2025 Mads R. Havmand <mads@v42.dk>
//
// SPDX-License-Identifier: AGPL-3.0-only

package tenantmeter

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// UsageType identifies the kind of metered operation
type UsageType string

const (
	UsageTypeDocumentUpload      UsageType = "document_upload"
	UsageTypeDocumentSearch      UsageType = "document_search"
	UsageTypeChatMessage         UsageType = "chat_message"
	UsageTypeAIResponse          UsageType = "ai_response"
	UsageTypeEmbeddingGeneration UsageType = "embedding_generation"
)

// AllUsageTypes returns every known usage type in a stable order
func AllUsageTypes() []UsageType {
	return []UsageType{
		UsageTypeDocumentUpload,
		UsageTypeDocumentSearch,
		UsageTypeChatMessage,
		UsageTypeAIResponse,
		UsageTypeEmbeddingGeneration,
	}
}

func (u UsageType) String() string {
	return string(u)
}

// IsValid reports whether u is one of the known usage types
func (u UsageType) IsValid() bool {
	switch u {
	case UsageTypeDocumentUpload,
		UsageTypeDocumentSearch,
		UsageTypeChatMessage,
		UsageTypeAIResponse,
		UsageTypeEmbeddingGeneration:
		return true
	}
	return false
}

// DisplayName returns the human readable form used in user-facing messages,
// e.g. "document upload".
func (u UsageType) DisplayName() string {
	return strings.ReplaceAll(string(u), "_", " ")
}

// ParseUsageType converts s into a UsageType, rejecting unknown values
func ParseUsageType(s string) (UsageType, error) {
	u := UsageType(strings.ToLower(strings.TrimSpace(s)))
	if !u.IsValid() {
		return "", fmt.Errorf("%w: unknown usage type %q", ErrInvalidArgument, s)
	}
	return u, nil
}

// Day truncates t to midnight UTC. Every bucket date in the system goes
// through this function so day boundaries never depend on server locale.
func Day(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// BucketKey is the identity of a [UsageBucket]. Exactly one of TenantID and
// UserID is set; an empty string means the identity is absent.
type BucketKey struct {
	TenantID  string
	UserID    string
	UsageType UsageType
	Date      time.Time
}

// TenantBucketKey builds the key for an organization level bucket
func TenantBucketKey(tenantID string, usageType UsageType, date time.Time) BucketKey {
	return BucketKey{TenantID: tenantID, UsageType: usageType, Date: Day(date)}
}

// UserBucketKey builds the key for a user level bucket
func UserBucketKey(userID string, usageType UsageType, date time.Time) BucketKey {
	return BucketKey{UserID: userID, UsageType: usageType, Date: Day(date)}
}

// Validate checks the key carries exactly one identity, a known usage type and a date
func (k BucketKey) Validate() error {
	if (k.TenantID == "") == (k.UserID == "") {
		return fmt.Errorf("%w: bucket key needs exactly one of tenant or user", ErrInvalidArgument)
	}
	if !k.UsageType.IsValid() {
		return fmt.Errorf("%w: unknown usage type %q", ErrInvalidArgument, k.UsageType)
	}
	if k.Date.IsZero() {
		return fmt.Errorf("%w: bucket key has no date", ErrInvalidArgument)
	}
	return nil
}

// Scope returns "tenant" or "user" depending on which identity the key carries
func (k BucketKey) Scope() string {
	if k.TenantID != "" {
		return "tenant"
	}
	return "user"
}

// OwnerID returns whichever identity the key carries
func (k BucketKey) OwnerID() string {
	if k.TenantID != "" {
		return k.TenantID
	}
	return k.UserID
}

func (k BucketKey) String() string {
	return fmt.Sprintf("%s:%s:%s:%s", k.Scope(), k.OwnerID(), k.UsageType, Day(k.Date).Format(time.DateOnly))
}

// BucketDeltas are the increments applied to a bucket for one usage event.
// Count always grows by exactly one.
type BucketDeltas struct {
	TokenUsage int64
	DataSize   int64
	Cost       decimal.Decimal
	Metadata   map[string]any
}

// Validate rejects decrements, bucket counters only ever grow
func (d BucketDeltas) Validate() error {
	if d.TokenUsage < 0 || d.DataSize < 0 || d.Cost.IsNegative() {
		return fmt.Errorf("%w: usage deltas must not be negative", ErrInvalidArgument)
	}
	return nil
}

// UsageBucket holds one day of accumulated usage for one identity and usage type
type UsageBucket struct {
	ID         string          `json:"id"`
	TenantID   string          `json:"tenantId,omitempty"`
	UserID     string          `json:"userId,omitempty"`
	UsageType  UsageType       `json:"usageType"`
	Date       time.Time       `json:"date"`
	Count      int64           `json:"count"`
	TokenUsage int64           `json:"tokenUsage"`
	DataSize   int64           `json:"dataSize"`
	Cost       decimal.Decimal `json:"cost"`
	Metadata   map[string]any  `json:"metadata,omitempty"`
	CreatedAt  time.Time       `json:"createdAt"`
	UpdatedAt  time.Time       `json:"updatedAt"`
}

// Key returns the identity tuple of the bucket
func (b *UsageBucket) Key() BucketKey {
	return BucketKey{TenantID: b.TenantID, UserID: b.UserID, UsageType: b.UsageType, Date: Day(b.Date)}
}

// Apply adds deltas to the bucket in place. Metadata is merged shallowly,
// new keys overwrite old ones.
func (b *UsageBucket) Apply(d BucketDeltas) {
	b.Count++
	b.TokenUsage += d.TokenUsage
	b.DataSize += d.DataSize
	b.Cost = b.Cost.Add(d.Cost)
	if len(d.Metadata) > 0 && b.Metadata == nil {
		b.Metadata = make(map[string]any, len(d.Metadata))
	}
	for k, v := range d.Metadata {
		b.Metadata[k] = v
	}
}

// Clone returns a deep enough copy for handing out of a store
func (b *UsageBucket) Clone() *UsageBucket {
	c := *b
	if b.Metadata != nil {
		c.Metadata = make(map[string]any, len(b.Metadata))
		for k, v := range b.Metadata {
			c.Metadata[k] = v
		}
	}
	return &c
}

// DateRange is an inclusive range of days
type DateRange struct {
	Start time.Time
	End   time.Time
}

// Contains reports whether the day of t lies within the range, both ends inclusive
func (r DateRange) Contains(t time.Time) bool {
	d := Day(t)
	return !d.Before(Day(r.Start)) && !d.After(Day(r.End))
}

// Days lists every day in the range in ascending order
func (r DateRange) Days() []time.Time {
	var days []time.Time
	for d := Day(r.Start); !d.After(Day(r.End)); d = d.AddDate(0, 0, 1) {
		days = append(days, d)
	}
	return days
}

// UsageBucketStore is the durable keyed storage of daily usage buckets.
// UpsertIncrement must be atomic per key: concurrent calls for the same key
// never lose an increment.
type UsageBucketStore interface {
	// UpsertIncrement creates the bucket with Count=1 or adds deltas to the existing one
	UpsertIncrement(ctx context.Context, key BucketKey, deltas BucketDeltas) (*UsageBucket, error)

	// FindByTenant returns the tenant level buckets dated within r
	FindByTenant(ctx context.Context, tenantID string, r DateRange) ([]*UsageBucket, error)

	// FindByUser returns the user level buckets dated within r
	FindByUser(ctx context.Context, userID string, r DateRange) ([]*UsageBucket, error)
}
