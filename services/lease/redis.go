package lease

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"clinsched/models"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

const (
	providerKeyPrefix = "lease:"     // lease:{clinic}:{provider} -> hash lockID -> record JSON
	sessionKeyPrefix  = "leasesess:" // leasesess:{clinic}:{session} -> set of provider|lockID
	lockIndexPrefix   = "leaseidx:"  // leaseidx:{lockID} -> clinic|provider
)

// keyHorizon bounds how long lease keys linger in Redis after their last
// write. Hygiene only; every script and read filters on the per-lease expiry.
const keyHorizon = 24 * time.Hour

// leaseRecord is the wire form stored in Redis. Instants are epoch
// milliseconds so the Lua scripts can compare them numerically.
type leaseRecord struct {
	LockID     string `json:"lockId"`
	ClinicID   string `json:"clinicId"`
	ProviderID string `json:"providerId"`
	StartMs    int64  `json:"startMs"`
	EndMs      int64  `json:"endMs"`
	SessionID  string `json:"sessionId"`
	UserID     string `json:"userId,omitempty"`
	ExpiresMs  int64  `json:"expiresMs"`
}

func (r leaseRecord) toLease() models.Lease {
	return models.Lease{
		LockID:     r.LockID,
		ClinicID:   r.ClinicID,
		ProviderID: r.ProviderID,
		SlotStart:  time.UnixMilli(r.StartMs).UTC(),
		SlotEnd:    time.UnixMilli(r.EndMs).UTC(),
		SessionID:  r.SessionID,
		UserID:     r.UserID,
		ExpiresAt:  time.UnixMilli(r.ExpiresMs).UTC(),
	}
}

// acquireScript atomically checks every lease on the provider hash for an
// active overlap and inserts the new lease only when none exists. Expired
// entries found along the way are pruned. Redis executes scripts serially per
// node, which gives the per-provider single-writer guarantee.
var acquireScript = redis.NewScript(`
local now = tonumber(ARGV[1])
local slotStart = tonumber(ARGV[2])
local slotEnd = tonumber(ARGV[3])
local entries = redis.call('HGETALL', KEYS[1])
for i = 1, #entries, 2 do
  local rec = cjson.decode(entries[i+1])
  if rec.expiresMs <= now then
    redis.call('HDEL', KEYS[1], entries[i])
  elseif rec.startMs < slotEnd and rec.endMs > slotStart then
    return 0
  end
end
redis.call('HSET', KEYS[1], ARGV[4], ARGV[5])
redis.call('SADD', KEYS[2], ARGV[6])
redis.call('PEXPIRE', KEYS[1], ARGV[7])
redis.call('PEXPIRE', KEYS[2], ARGV[7])
return 1
`)

// extendScript resets the expiry from now for the holding session only.
var extendScript = redis.NewScript(`
local raw = redis.call('HGET', KEYS[1], ARGV[1])
if not raw then return -1 end
local rec = cjson.decode(raw)
if rec.sessionId ~= ARGV[2] then return -2 end
if rec.expiresMs <= tonumber(ARGV[3]) then return -3 end
rec.expiresMs = tonumber(ARGV[4])
redis.call('HSET', KEYS[1], ARGV[1], cjson.encode(rec))
redis.call('PEXPIRE', KEYS[1], ARGV[5])
return 1
`)

// releaseScript deletes the lease when owned; absent or expired locks are a
// no-op success so double release stays harmless.
var releaseScript = redis.NewScript(`
local raw = redis.call('HGET', KEYS[1], ARGV[1])
if not raw then return 0 end
local rec = cjson.decode(raw)
if rec.expiresMs <= tonumber(ARGV[3]) then
  redis.call('HDEL', KEYS[1], ARGV[1])
  redis.call('SREM', KEYS[2], ARGV[4])
  return 0
end
if rec.sessionId ~= ARGV[2] then return -2 end
redis.call('HDEL', KEYS[1], ARGV[1])
redis.call('SREM', KEYS[2], ARGV[4])
return 1
`)

// releaseAllScript walks the session index set and drops every lease it
// points at, counting only the ones that were still active.
var releaseAllScript = redis.NewScript(`
local members = redis.call('SMEMBERS', KEYS[1])
local count = 0
for _, m in ipairs(members) do
  local sep = string.find(m, '|', 1, true)
  local provider = string.sub(m, 1, sep-1)
  local lockId = string.sub(m, sep+1)
  local raw = redis.call('HGET', ARGV[1] .. provider, lockId)
  if raw then
    local rec = cjson.decode(raw)
    if rec.expiresMs > tonumber(ARGV[2]) then count = count + 1 end
    redis.call('HDEL', ARGV[1] .. provider, lockId)
  end
end
redis.call('DEL', KEYS[1])
return count
`)

// RedisManager is the production Manager. Leases for one provider live in a
// single hash, so acquire/extend/release for that provider serialize on the
// Redis side while unrelated providers never contend.
type RedisManager struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisManager builds a manager over the given client with a fixed TTL.
func NewRedisManager(client *redis.Client, ttl time.Duration) *RedisManager {
	return &RedisManager{client: client, ttl: ttl}
}

func (m *RedisManager) providerHashKey(clinicID, providerID string) string {
	return providerKeyPrefix + clinicID + ":" + providerID
}

func (m *RedisManager) sessionSetKey(clinicID, sessionID string) string {
	return sessionKeyPrefix + clinicID + ":" + sessionID
}

// Acquire implements Manager.
func (m *RedisManager) Acquire(ctx context.Context, req AcquireRequest) (*Grant, error) {
	now := time.Now()
	rec := leaseRecord{
		LockID:     uuid.New().String(),
		ClinicID:   req.ClinicID,
		ProviderID: req.ProviderID,
		StartMs:    req.SlotStart.UnixMilli(),
		EndMs:      req.SlotEnd.UnixMilli(),
		SessionID:  req.SessionID,
		UserID:     req.UserID,
		ExpiresMs:  now.Add(m.ttl).UnixMilli(),
	}
	payload, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal lease: %w", err)
	}

	keys := []string{
		m.providerHashKey(req.ClinicID, req.ProviderID),
		m.sessionSetKey(req.ClinicID, req.SessionID),
	}
	res, err := acquireScript.Run(ctx, m.client, keys,
		now.UnixMilli(), rec.StartMs, rec.EndMs,
		rec.LockID, string(payload),
		req.ProviderID+"|"+rec.LockID,
		keyHorizon.Milliseconds(),
	).Int()
	if err != nil {
		return nil, fmt.Errorf("lease acquire failed: %w", err)
	}
	if res == 0 {
		return nil, ErrConflict
	}

	// Lock index lets extend/release address the lease by lock ID alone.
	idxVal := req.ClinicID + "|" + req.ProviderID + "|" + req.SessionID
	if err := m.client.Set(ctx, lockIndexPrefix+rec.LockID, idxVal, keyHorizon).Err(); err != nil {
		return nil, fmt.Errorf("failed to index lease: %w", err)
	}

	return &Grant{LockID: rec.LockID, ExpiresAt: time.UnixMilli(rec.ExpiresMs).UTC()}, nil
}

// resolve reads the lock index. Returns ErrNotFound when the index is gone,
// which can only happen well after the lease itself expired.
func (m *RedisManager) resolve(ctx context.Context, lockID string) (clinicID, providerID string, err error) {
	val, err := m.client.Get(ctx, lockIndexPrefix+lockID).Result()
	if err == redis.Nil {
		return "", "", ErrNotFound
	}
	if err != nil {
		return "", "", fmt.Errorf("lease index lookup failed: %w", err)
	}
	parts := strings.SplitN(val, "|", 3)
	if len(parts) < 2 {
		return "", "", ErrNotFound
	}
	return parts[0], parts[1], nil
}

// Extend implements Manager.
func (m *RedisManager) Extend(ctx context.Context, lockID, sessionID string) (*Grant, error) {
	clinicID, providerID, err := m.resolve(ctx, lockID)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	expiresAt := now.Add(m.ttl)
	res, err := extendScript.Run(ctx, m.client,
		[]string{m.providerHashKey(clinicID, providerID)},
		lockID, sessionID, now.UnixMilli(), expiresAt.UnixMilli(), keyHorizon.Milliseconds(),
	).Int()
	if err != nil {
		return nil, fmt.Errorf("lease extend failed: %w", err)
	}
	switch res {
	case 1:
		return &Grant{LockID: lockID, ExpiresAt: expiresAt.UTC()}, nil
	case -2:
		return nil, ErrNotOwner
	case -3:
		return nil, ErrExpired
	default:
		return nil, ErrNotFound
	}
}

// Release implements Manager.
func (m *RedisManager) Release(ctx context.Context, lockID, sessionID string) error {
	clinicID, providerID, err := m.resolve(ctx, lockID)
	if err == ErrNotFound {
		// Already released or long expired: the net effect the caller wants
		// (lock absent) holds.
		return nil
	}
	if err != nil {
		return err
	}

	res, err := releaseScript.Run(ctx, m.client,
		[]string{
			m.providerHashKey(clinicID, providerID),
			m.sessionSetKey(clinicID, sessionID),
		},
		lockID, sessionID, time.Now().UnixMilli(), providerID+"|"+lockID,
	).Int()
	if err != nil {
		return fmt.Errorf("lease release failed: %w", err)
	}
	if res == -2 {
		return ErrNotOwner
	}
	m.client.Del(ctx, lockIndexPrefix+lockID)
	return nil
}

// ReleaseAllForSession implements Manager.
func (m *RedisManager) ReleaseAllForSession(ctx context.Context, clinicID, sessionID string) (int, error) {
	count, err := releaseAllScript.Run(ctx, m.client,
		[]string{m.sessionSetKey(clinicID, sessionID)},
		providerKeyPrefix+clinicID+":", time.Now().UnixMilli(),
	).Int()
	if err != nil {
		return 0, fmt.Errorf("lease bulk release failed: %w", err)
	}
	return count, nil
}

// Validate implements Manager.
func (m *RedisManager) Validate(ctx context.Context, lockID, sessionID string) (*models.Lease, error) {
	clinicID, providerID, err := m.resolve(ctx, lockID)
	if err != nil {
		return nil, err
	}

	raw, err := m.client.HGet(ctx, m.providerHashKey(clinicID, providerID), lockID).Result()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("lease lookup failed: %w", err)
	}

	var rec leaseRecord
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return nil, fmt.Errorf("failed to decode lease: %w", err)
	}
	if rec.SessionID != sessionID {
		return nil, ErrNotOwner
	}
	if rec.ExpiresMs <= time.Now().UnixMilli() {
		return nil, ErrExpired
	}
	l := rec.toLease()
	return &l, nil
}

// ActiveForProvider implements Manager.
func (m *RedisManager) ActiveForProvider(ctx context.Context, clinicID, providerID string) ([]models.Lease, error) {
	entries, err := m.client.HGetAll(ctx, m.providerHashKey(clinicID, providerID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list leases: %w", err)
	}

	nowMs := time.Now().UnixMilli()
	var active []models.Lease
	for _, raw := range entries {
		var rec leaseRecord
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			continue
		}
		if rec.ExpiresMs > nowMs {
			active = append(active, rec.toLease())
		}
	}
	return active, nil
}

// Sweep implements Manager. Walks provider hashes and prunes expired entries.
func (m *RedisManager) Sweep(ctx context.Context) (int, error) {
	removed := 0
	nowMs := time.Now().UnixMilli()

	var cursor uint64
	for {
		keys, next, err := m.client.Scan(ctx, cursor, providerKeyPrefix+"*", 100).Result()
		if err != nil {
			return removed, fmt.Errorf("lease sweep scan failed: %w", err)
		}
		for _, key := range keys {
			entries, err := m.client.HGetAll(ctx, key).Result()
			if err != nil {
				continue
			}
			for lockID, raw := range entries {
				var rec leaseRecord
				if err := json.Unmarshal([]byte(raw), &rec); err != nil || rec.ExpiresMs <= nowMs {
					if m.client.HDel(ctx, key, lockID).Err() == nil {
						removed++
					}
				}
			}
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return removed, nil
}
