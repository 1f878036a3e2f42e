package data

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/target/mmk-autoingest/internal/core"
	"github.com/target/mmk-autoingest/internal/domain/model"
)

// fieldSep joins case name and data source into a hash field.
const fieldSep = "\x1f"

// insertRetries bounds the read-then-write loop in RedisStore.Insert.
const insertRetries = 8

// insertScript writes a record only when the field is absent.
var insertScript = redis.NewScript(`
if redis.call('HSETNX', KEYS[1], ARGV[1], ARGV[2]) == 0 then
  return 0
end
redis.call('PUBLISH', ARGV[3], ARGV[1])
return 1
`)

// casScript replaces a record when its stored version matches ARGV[2].
// Returns -1 when the field is missing, 0 on a version mismatch, 1 on success.
var casScript = redis.NewScript(`
local cur = redis.call('HGET', KEYS[1], ARGV[1])
if not cur then
  return -1
end
if tonumber(cjson.decode(cur)['version']) ~= tonumber(ARGV[2]) then
  return 0
end
redis.call('HSET', KEYS[1], ARGV[1], ARGV[3])
redis.call('PUBLISH', ARGV[4], ARGV[1])
return 1
`)

// purgeScript deletes (field, version) pairs from ARGV[2:] whose version is unchanged.
var purgeScript = redis.NewScript(`
local n = 0
for i = 2, #ARGV, 2 do
  local cur = redis.call('HGET', KEYS[1], ARGV[i])
  if cur and tonumber(cjson.decode(cur)['version']) == tonumber(ARGV[i + 1]) then
    redis.call('HDEL', KEYS[1], ARGV[i])
    n = n + 1
  end
end
if n > 0 then
  redis.call('PUBLISH', ARGV[1], 'retention')
end
return n
`)

// RedisStore keeps every job as a JSON value in one hash. Writes run as Lua
// scripts so each check-and-set is atomic; each write also PUBLISHes the key.
type RedisStore struct {
	client  redis.UniversalClient
	hashKey string
	channel string
	clock   core.TimeProvider
	logger  *slog.Logger
}

// NewRedisStore creates a RedisStore under keyPrefix. The hash key carries a
// hash tag so it maps to a single cluster slot.
func NewRedisStore(client redis.UniversalClient, keyPrefix string, cfg StoreConfig) *RedisStore {
	keyPrefix = strings.TrimSpace(keyPrefix)
	if keyPrefix == "" {
		keyPrefix = "autoingest"
	}
	return &RedisStore{
		client:  client,
		hashKey: "{" + keyPrefix + "}:jobs",
		channel: keyPrefix + ":changes",
		clock:   cfg.clock(),
		logger:  cfg.logger("redis_store"),
	}
}

func jobField(key model.JobKey) string {
	return key.CaseName + fieldSep + key.DataSource
}

func encodeJob(rec model.JobRecord) (string, error) {
	b, err := json.Marshal(rec)
	if err != nil {
		return "", fmt.Errorf("encode job %s: %w", rec.JobKey, err)
	}
	return string(b), nil
}

func decodeJob(field, raw string) (model.JobRecord, error) {
	var rec model.JobRecord
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return model.JobRecord{}, fmt.Errorf("decode job %q: %w", field, err)
	}
	return rec, nil
}

// wrapRedis maps client transport failures onto model.ErrStoreUnavailable.
// Server error replies and context errors pass through with op attached.
func wrapRedis(op string, err error) error {
	var replyErr redis.Error
	switch {
	case err == nil:
		return nil
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%s: %w", op, err)
	case errors.As(err, &replyErr):
		return fmt.Errorf("%s: %w", op, err)
	default:
		return fmt.Errorf("%s: %w: %w", op, model.ErrStoreUnavailable, err)
	}
}

// Insert adds a pending record or replaces a terminal one for the same key.
func (s *RedisStore) Insert(ctx context.Context, rec model.JobRecord) (model.JobRecord, error) {
	if err := validateWrite(rec); err != nil {
		return model.JobRecord{}, err
	}
	field := jobField(rec.JobKey)

	for range insertRetries {
		cur, err := s.Get(ctx, rec.JobKey)
		switch {
		case errors.Is(err, model.ErrJobNotFound):
			next := rec.Clone()
			next.Version = 1
			payload, encErr := encodeJob(next)
			if encErr != nil {
				return model.JobRecord{}, encErr
			}
			ok, runErr := insertScript.Run(ctx, s.client, []string{s.hashKey}, field, payload, s.channel).Int()
			if runErr != nil {
				return model.JobRecord{}, wrapRedis("insert job", runErr)
			}
			if ok == 1 {
				return next, nil
			}
		case err != nil:
			return model.JobRecord{}, err
		case !cur.State.Terminal():
			return model.JobRecord{}, fmt.Errorf("%w: %s is %s", model.ErrDuplicateJob, rec.JobKey, cur.State)
		default:
			// A finished record is replaced wholesale, identity included.
			stored, casErr := s.swap(ctx, cur.Version, rec)
			if casErr == nil {
				return stored, nil
			}
			if !errors.Is(casErr, model.ErrVersionConflict) && !errors.Is(casErr, model.ErrJobNotFound) {
				return model.JobRecord{}, casErr
			}
		}
	}
	return model.JobRecord{}, fmt.Errorf("insert job %s: %w", rec.JobKey, model.ErrVersionConflict)
}

// CompareAndSwap writes next when the stored version equals expectedVersion.
// The stored ID and CreatedAt are kept; only Insert may replace them.
func (s *RedisStore) CompareAndSwap(ctx context.Context, expectedVersion int64, next model.JobRecord) (model.JobRecord, error) {
	if err := validateWrite(next); err != nil {
		return model.JobRecord{}, err
	}

	cur, err := s.Get(ctx, next.JobKey)
	if err != nil {
		return model.JobRecord{}, err
	}
	if cur.Version != expectedVersion {
		return model.JobRecord{}, fmt.Errorf("%w: %s expected version %d", model.ErrVersionConflict, next.JobKey, expectedVersion)
	}

	stored := next.Clone()
	stored.ID = cur.ID
	stored.CreatedAt = cur.CreatedAt
	return s.swap(ctx, expectedVersion, stored)
}

// swap writes rec as-is at expectedVersion+1. The script rechecks the
// version, so a concurrent writer between the read and the swap loses.
func (s *RedisStore) swap(ctx context.Context, expectedVersion int64, rec model.JobRecord) (model.JobRecord, error) {
	stored := rec.Clone()
	stored.Version = expectedVersion + 1
	payload, err := encodeJob(stored)
	if err != nil {
		return model.JobRecord{}, err
	}

	res, err := casScript.Run(ctx, s.client, []string{s.hashKey},
		jobField(rec.JobKey), expectedVersion, payload, s.channel).Int()
	if err != nil {
		return model.JobRecord{}, wrapRedis("compare and swap job", err)
	}
	switch res {
	case 1:
		return stored, nil
	case -1:
		return model.JobRecord{}, fmt.Errorf("%w: %s", model.ErrJobNotFound, rec.JobKey)
	default:
		return model.JobRecord{}, fmt.Errorf("%w: %s expected version %d", model.ErrVersionConflict, rec.JobKey, expectedVersion)
	}
}

// Get returns the record stored for key.
func (s *RedisStore) Get(ctx context.Context, key model.JobKey) (model.JobRecord, error) {
	field := jobField(key)
	raw, err := s.client.HGet(ctx, s.hashKey, field).Result()
	if errors.Is(err, redis.Nil) {
		return model.JobRecord{}, fmt.Errorf("%w: %s", model.ErrJobNotFound, key)
	}
	if err != nil {
		return model.JobRecord{}, wrapRedis("get job", err)
	}
	return decodeJob(field, raw)
}

// List returns every record ordered by key.
func (s *RedisStore) List(ctx context.Context) ([]model.JobRecord, error) {
	all, err := s.client.HGetAll(ctx, s.hashKey).Result()
	if err != nil {
		return nil, wrapRedis("list jobs", err)
	}

	out := make([]model.JobRecord, 0, len(all))
	for field, raw := range all {
		rec, decErr := decodeJob(field, raw)
		if decErr != nil {
			s.logger.WarnContext(ctx, "skipping undecodable job", "field", field, "error", decErr)
			continue
		}
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].JobKey.Less(out[j].JobKey) })
	return out, nil
}

// WaitForChange blocks until a change is published on the store channel.
func (s *RedisStore) WaitForChange(ctx context.Context) error {
	sub := s.client.Subscribe(ctx, s.channel)
	defer func() {
		if err := sub.Close(); err != nil {
			s.logger.DebugContext(ctx, "close change subscription", "error", err)
		}
	}()

	// The first reply confirms the subscription.
	if _, err := sub.Receive(ctx); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return wrapRedis("subscribe changes", err)
	}
	msg, err := sub.ReceiveMessage(ctx)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return wrapRedis("wait for change", err)
	}
	s.logger.DebugContext(ctx, "store change notification", "job", strings.ReplaceAll(msg.Payload, fieldSep, "/"))
	return nil
}

// PurgeTerminal deletes up to BatchSize aged records in params.State, oldest
// first. Records changed since they were read are left alone.
func (s *RedisStore) PurgeTerminal(ctx context.Context, params core.PurgeTerminalParams) (int64, error) {
	if !params.State.Terminal() {
		return 0, fmt.Errorf("invalid purge state: %s", params.State)
	}
	cutoff := s.clock.Now().Add(-params.MaxAge)

	recs, err := s.List(ctx)
	if err != nil {
		return 0, err
	}
	var victims []model.JobRecord
	for _, rec := range recs {
		if rec.State == params.State && rec.CompletedAt != nil && rec.CompletedAt.Before(cutoff) {
			victims = append(victims, rec)
		}
	}
	if len(victims) == 0 {
		return 0, nil
	}
	sort.Slice(victims, func(i, j int) bool { return victims[i].CompletedAt.Before(*victims[j].CompletedAt) })
	if params.BatchSize > 0 && len(victims) > params.BatchSize {
		victims = victims[:params.BatchSize]
	}

	args := make([]any, 0, 1+2*len(victims))
	args = append(args, s.channel)
	for _, rec := range victims {
		args = append(args, jobField(rec.JobKey), rec.Version)
	}
	n, err := purgeScript.Run(ctx, s.client, []string{s.hashKey}, args...).Int64()
	if err != nil {
		return 0, wrapRedis("purge terminal jobs", err)
	}
	return n, nil
}

// Close closes the Redis client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
