package booking

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"clinsched/models"

	"github.com/go-redis/redis/v8"
)

// ErrDraftNotFound is returned when no draft exists under the key. Routine:
// the draft TTL lapsed or the wizard was never started.
var ErrDraftNotFound = errors.New("booking draft not found")

const draftKeyPrefix = "draft:"

// DraftKey builds the tenant-scoped key a draft is persisted under.
func DraftKey(clinicID, sessionID string) string {
	return clinicID + ":" + sessionID
}

// DraftStore is the persistence primitive that lets a booking draft survive
// an identity-verification redirect: get/set/remove by tenant-scoped key,
// nothing more.
type DraftStore interface {
	Get(ctx context.Context, key string) (*models.BookingDraft, error)
	Set(ctx context.Context, key string, draft models.BookingDraft) error
	Remove(ctx context.Context, key string) error
}

// RedisDraftStore keeps drafts as JSON with a TTL, the same way booking
// session state is cached elsewhere in the platform.
type RedisDraftStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisDraftStore builds a store over the given client.
func NewRedisDraftStore(client *redis.Client, ttl time.Duration) *RedisDraftStore {
	return &RedisDraftStore{client: client, ttl: ttl}
}

func (s *RedisDraftStore) Get(ctx context.Context, key string) (*models.BookingDraft, error) {
	raw, err := s.client.Get(ctx, draftKeyPrefix+key).Result()
	if err == redis.Nil {
		return nil, ErrDraftNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load booking draft: %w", err)
	}
	var draft models.BookingDraft
	if err := json.Unmarshal([]byte(raw), &draft); err != nil {
		return nil, fmt.Errorf("failed to parse booking draft: %w", err)
	}
	return &draft, nil
}

func (s *RedisDraftStore) Set(ctx context.Context, key string, draft models.BookingDraft) error {
	data, err := json.Marshal(draft)
	if err != nil {
		return fmt.Errorf("failed to marshal booking draft: %w", err)
	}
	if err := s.client.Set(ctx, draftKeyPrefix+key, data, s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to store booking draft: %w", err)
	}
	return nil
}

func (s *RedisDraftStore) Remove(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, draftKeyPrefix+key).Err(); err != nil {
		return fmt.Errorf("failed to remove booking draft: %w", err)
	}
	return nil
}

// MemoryDraftStore is an in-process DraftStore for tests and single-node use.
type MemoryDraftStore struct {
	mu     sync.RWMutex
	drafts map[string]models.BookingDraft
}

// NewMemoryDraftStore builds an empty store.
func NewMemoryDraftStore() *MemoryDraftStore {
	return &MemoryDraftStore{drafts: make(map[string]models.BookingDraft)}
}

func (s *MemoryDraftStore) Get(_ context.Context, key string) (*models.BookingDraft, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	draft, ok := s.drafts[key]
	if !ok {
		return nil, ErrDraftNotFound
	}
	return &draft, nil
}

func (s *MemoryDraftStore) Set(_ context.Context, key string, draft models.BookingDraft) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.drafts[key] = draft
	return nil
}

func (s *MemoryDraftStore) Remove(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.drafts, key)
	return nil
}
