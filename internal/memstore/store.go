// SPDX-FileCopyrightText: 2025 Mads R. Havmand <mads@v42.dk>
//
// SPDX-License-Identifier: AGPL-3.0-only

// Package memstore keeps usage buckets and organizations in process memory.
// It backs tests and single-instance deployments started with --store memory.
package memstore

import (
	"context"
	"sort"
	"sync"

	"github.com/MadsRC/tenantmeter"
	"github.com/coder/quartz"
	"github.com/google/uuid"
)

type entry struct {
	mu     sync.Mutex
	bucket tenantmeter.UsageBucket
}

// Store is an in-memory UsageBucketStore. The map lock is only held to find
// or insert a bucket; increments lock the bucket itself.
type Store struct {
	mu      sync.RWMutex
	buckets map[tenantmeter.BucketKey]*entry
	clock   quartz.Clock
}

// StoreOption configures a Store
type StoreOption func(*Store)

func WithClock(clock quartz.Clock) StoreOption {
	return func(s *Store) {
		s.clock = clock
	}
}

// NewStore creates an empty Store
func NewStore(options ...StoreOption) *Store {
	s := &Store{
		buckets: make(map[tenantmeter.BucketKey]*entry),
		clock:   quartz.NewReal(),
	}

	for _, opt := range options {
		opt(s)
	}

	return s
}

func (s *Store) UpsertIncrement(ctx context.Context, key tenantmeter.BucketKey, deltas tenantmeter.BucketDeltas) (*tenantmeter.UsageBucket, error) {
	if err := ctx.Err(); err != nil {
		return nil, tenantmeter.NewStorageError("upsert", err)
	}
	key.Date = tenantmeter.Day(key.Date)
	if err := key.Validate(); err != nil {
		return nil, err
	}
	if err := deltas.Validate(); err != nil {
		return nil, err
	}

	e := s.entryFor(key)
	now := s.clock.Now().UTC()

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.bucket.Count == 0 {
		e.bucket.CreatedAt = now
	}
	e.bucket.Apply(deltas)
	e.bucket.UpdatedAt = now

	return e.bucket.Clone(), nil
}

func (s *Store) entryFor(key tenantmeter.BucketKey) *entry {
	s.mu.RLock()
	e, ok := s.buckets[key]
	s.mu.RUnlock()
	if ok {
		return e
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if e, ok := s.buckets[key]; ok {
		return e
	}
	e = &entry{bucket: tenantmeter.UsageBucket{
		ID:        uuid.NewString(),
		TenantID:  key.TenantID,
		UserID:    key.UserID,
		UsageType: key.UsageType,
		Date:      key.Date,
	}}
	s.buckets[key] = e
	return e
}

func (s *Store) FindByTenant(ctx context.Context, tenantID string, r tenantmeter.DateRange) ([]*tenantmeter.UsageBucket, error) {
	return s.find(ctx, func(k tenantmeter.BucketKey) bool {
		return k.TenantID == tenantID && k.UserID == ""
	}, r)
}

func (s *Store) FindByUser(ctx context.Context, userID string, r tenantmeter.DateRange) ([]*tenantmeter.UsageBucket, error) {
	return s.find(ctx, func(k tenantmeter.BucketKey) bool {
		return k.UserID == userID && k.TenantID == ""
	}, r)
}

func (s *Store) find(ctx context.Context, match func(tenantmeter.BucketKey) bool, r tenantmeter.DateRange) ([]*tenantmeter.UsageBucket, error) {
	if err := ctx.Err(); err != nil {
		return nil, tenantmeter.NewStorageError("find", err)
	}

	s.mu.RLock()
	var entries []*entry
	for k, e := range s.buckets {
		if match(k) && r.Contains(k.Date) {
			entries = append(entries, e)
		}
	}
	s.mu.RUnlock()

	buckets := make([]*tenantmeter.UsageBucket, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		if e.bucket.Count > 0 {
			buckets = append(buckets, e.bucket.Clone())
		}
		e.mu.Unlock()
	}

	sort.Slice(buckets, func(i, j int) bool {
		if !buckets[i].Date.Equal(buckets[j].Date) {
			return buckets[i].Date.Before(buckets[j].Date)
		}
		return buckets[i].UsageType < buckets[j].UsageType
	})
	return buckets, nil
}
