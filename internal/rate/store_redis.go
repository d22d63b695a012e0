package rate

import (
	"context"
	"fmt"
	"time"

	rdb "github.com/redis/go-redis/v9"
)

// slideScript hace la operación completa en un solo round-trip atómico:
// podar, contar, registrar condicionalmente y refrescar expiry.
//
// KEYS[1] = key
// ARGV[1] = now (microsegundos unix)
// ARGV[2] = window (microsegundos)
// ARGV[3] = max
// ARGV[4] = member único para el evento
var slideScript = rdb.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local max = tonumber(ARGV[3])
local member = ARGV[4]

redis.call('ZREMRANGEBYSCORE', key, '-inf', now - window)
local hits = redis.call('ZCARD', key)
local recorded = 0
if hits < max then
  redis.call('ZADD', key, now, member)
  redis.call('PEXPIRE', key, math.ceil(window / 1000))
  recorded = 1
end
local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
local oldestScore = 0
if oldest[2] then
  oldestScore = tonumber(oldest[2])
end
return {hits, recorded, oldestScore}
`)

// RedisStore implementa Store sobre un sorted-set de Redis.
type RedisStore struct {
	Client *rdb.Client
	seq    func() string
}

func NewRedisStore(client *rdb.Client) *RedisStore {
	return &RedisStore{Client: client}
}

func (s *RedisStore) Slide(ctx context.Context, key string, now time.Time, window time.Duration, max int64) (SlideResult, error) {
	nowUs := now.UnixMicro()
	member := fmt.Sprintf("%d-%d", nowUs, now.Nanosecond())
	vals, err := slideScript.Run(ctx, s.Client,
		[]string{key}, nowUs, window.Microseconds(), max, member).Int64Slice()
	if err != nil {
		return SlideResult{}, err
	}
	if len(vals) != 3 {
		return SlideResult{}, fmt.Errorf("rate: unexpected script reply of %d values", len(vals))
	}
	out := SlideResult{Hits: vals[0], Recorded: vals[1] == 1}
	if vals[2] > 0 {
		out.Oldest = time.UnixMicro(vals[2]).UTC()
	}
	return out, nil
}
