// SPDX-FileCopyrightText: 2025 Mads R. Havmand <mads@v42.dk>
//
// SPDX-License-Identifier: AGPL-3.0-only

package tenantmeter

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// SubscriptionTier is the subscription level of an organization
type SubscriptionTier string

const (
	TierFree         SubscriptionTier = "free"
	TierBasic        SubscriptionTier = "basic"
	TierProfessional SubscriptionTier = "professional"
	TierEnterprise   SubscriptionTier = "enterprise"
)

// AllTiers returns the known tiers ordered from most to least restrictive
func AllTiers() []SubscriptionTier {
	return []SubscriptionTier{TierFree, TierBasic, TierProfessional, TierEnterprise}
}

func (t SubscriptionTier) String() string {
	return string(t)
}

// IsValid reports whether t is one of the known tiers
func (t SubscriptionTier) IsValid() bool {
	switch t {
	case TierFree, TierBasic, TierProfessional, TierEnterprise:
		return true
	}
	return false
}

// ParseSubscriptionTier converts s into a SubscriptionTier, rejecting unknown values
func ParseSubscriptionTier(s string) (SubscriptionTier, error) {
	t := SubscriptionTier(strings.ToLower(strings.TrimSpace(s)))
	if !t.IsValid() {
		return "", fmt.Errorf("%w: unknown subscription tier %q", ErrInvalidArgument, s)
	}
	return t, nil
}

const unlimitedText = "unlimited"

// Limit is a quota magnitude. The zero value is a limit of 0; "unlimited" is
// a distinct state that never takes part in numeric comparisons.
type Limit struct {
	n         int64
	unlimited bool
}

// LimitOf returns a finite limit of n
func LimitOf(n int64) Limit {
	return Limit{n: n}
}

// Unlimited returns the unlimited sentinel
func Unlimited() Limit {
	return Limit{unlimited: true}
}

func (l Limit) IsUnlimited() bool {
	return l.unlimited
}

// Value returns the numeric limit. It is meaningless for unlimited limits.
func (l Limit) Value() int64 {
	return l.n
}

// Admits reports whether one more event is allowed given current admitted events.
// The limit is the maximum number of admitted events: current < limit.
func (l Limit) Admits(current int64) bool {
	if l.unlimited {
		return true
	}
	return current < l.n
}

// Remaining returns how many more events fit, or -1 for unlimited
func (l Limit) Remaining(current int64) int64 {
	if l.unlimited {
		return -1
	}
	if current >= l.n {
		return 0
	}
	return l.n - current
}

func (l Limit) String() string {
	if l.unlimited {
		return unlimitedText
	}
	return strconv.FormatInt(l.n, 10)
}

// MarshalJSON encodes finite limits as numbers and the sentinel as "unlimited"
func (l Limit) MarshalJSON() ([]byte, error) {
	if l.unlimited {
		return json.Marshal(unlimitedText)
	}
	return json.Marshal(l.n)
}

func (l *Limit) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		return l.parse(s)
	}
	var n int64
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("%w: limit must be a number or %q", ErrInvalidArgument, unlimitedText)
	}
	if n < 0 {
		return fmt.Errorf("%w: limit must not be negative", ErrInvalidArgument)
	}
	*l = LimitOf(n)
	return nil
}

// ParseLimit parses "unlimited" or a non-negative integer
func ParseLimit(s string) (Limit, error) {
	var l Limit
	err := l.parse(s)
	return l, err
}

func (l *Limit) parse(s string) error {
	s = strings.TrimSpace(s)
	if strings.EqualFold(s, unlimitedText) {
		*l = Unlimited()
		return nil
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil || n < 0 {
		return fmt.Errorf("%w: invalid limit %q", ErrInvalidArgument, s)
	}
	*l = LimitOf(n)
	return nil
}

// LimitField names one of the quotas in [TierLimits]
type LimitField string

const (
	LimitMaxDocuments       LimitField = "max_documents"
	LimitMaxQueriesPerMonth LimitField = "max_queries_per_month"
	LimitMaxStorageBytes    LimitField = "max_storage_bytes"
	LimitMaxUsersPerOrg     LimitField = "max_users_per_org"
)

// IsValid reports whether f names a field of [TierLimits]
func (f LimitField) IsValid() bool {
	switch f {
	case LimitMaxDocuments, LimitMaxQueriesPerMonth, LimitMaxStorageBytes, LimitMaxUsersPerOrg:
		return true
	}
	return false
}

// TierLimits holds the quotas granted by a subscription tier
type TierLimits struct {
	MaxDocuments       Limit `json:"maxDocuments"`
	MaxQueriesPerMonth Limit `json:"maxQueriesPerMonth"`
	MaxStorageBytes    Limit `json:"maxStorageBytes"`
	MaxUsersPerOrg     Limit `json:"maxUsersPerOrg"`
}

// Field returns the limit named by f. Unknown fields yield a limit of zero,
// which admits nothing.
func (t TierLimits) Field(f LimitField) Limit {
	switch f {
	case LimitMaxDocuments:
		return t.MaxDocuments
	case LimitMaxQueriesPerMonth:
		return t.MaxQueriesPerMonth
	case LimitMaxStorageBytes:
		return t.MaxStorageBytes
	case LimitMaxUsersPerOrg:
		return t.MaxUsersPerOrg
	}
	return LimitOf(0)
}

// SetField replaces the limit named by f
func (t *TierLimits) SetField(f LimitField, l Limit) error {
	switch f {
	case LimitMaxDocuments:
		t.MaxDocuments = l
	case LimitMaxQueriesPerMonth:
		t.MaxQueriesPerMonth = l
	case LimitMaxStorageBytes:
		t.MaxStorageBytes = l
	case LimitMaxUsersPerOrg:
		t.MaxUsersPerOrg = l
	default:
		return fmt.Errorf("%w: unknown limit field %q", ErrInvalidArgument, f)
	}
	return nil
}
