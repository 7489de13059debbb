package breaker

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/bomyoungkim-gmail/vivacampo-app-sub001/internal/cache"
	"github.com/redis/go-redis/v9"
)

// casScript swaps the state hash only when the stored version matches.
// A missing key has version 0.
var casScript = redis.NewScript(`
local v = redis.call('HGET', KEYS[1], 'version')
if not v then v = '0' end
if v ~= ARGV[1] then return 0 end
redis.call('HSET', KEYS[1], 'version', ARGV[2], 'data', ARGV[3])
return 1
`)

// RedisStore keeps breaker state in Redis so every worker shares it.
type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) Get(ctx context.Context, provider string) (State, error) {
	vals, err := s.client.HMGet(ctx, cache.BreakerKey(provider), "version", "data").Result()
	if err != nil {
		return State{}, fmt.Errorf("reading breaker state: %w", err)
	}
	if vals[0] == nil || vals[1] == nil {
		return Closed(provider), nil
	}

	raw, _ := vals[1].(string)
	var st State
	if err := json.Unmarshal([]byte(raw), &st); err != nil {
		return State{}, fmt.Errorf("decoding breaker state: %w", err)
	}
	version, err := strconv.ParseInt(fmt.Sprint(vals[0]), 10, 64)
	if err != nil {
		return State{}, fmt.Errorf("decoding breaker version: %w", err)
	}
	st.Provider = provider
	st.Version = version
	return st, nil
}

func (s *RedisStore) CompareAndSet(ctx context.Context, provider string, expected, next State) (bool, error) {
	next.Provider = provider
	next.Version = expected.Version + 1
	data, err := json.Marshal(next)
	if err != nil {
		return false, fmt.Errorf("encoding breaker state: %w", err)
	}

	res, err := casScript.Run(ctx, s.client,
		[]string{cache.BreakerKey(provider)},
		strconv.FormatInt(expected.Version, 10),
		strconv.FormatInt(next.Version, 10),
		string(data),
	).Int()
	if err != nil {
		return false, fmt.Errorf("breaker compare-and-set: %w", err)
	}
	return res == 1, nil
}

// Compile-time check that RedisStore implements Store.
var _ Store = (*RedisStore)(nil)
