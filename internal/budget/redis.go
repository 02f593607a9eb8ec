package budget

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/blueberrycongee/llmcore/pkg/types"
)

// RedisStore is the distributed counterpart to InstanceBudget, for
// multi-process gateway deployments that need a shared rolling-minute
// window. It is grounded in the teacher's minute-bucketed Redis usage
// hash (tpm/rpm fields per current-minute key, §SPEC_FULL DOMAIN STACK),
// expressed here as a single atomic Lua script so the check-then-incr
// sequence cannot race across processes.
//
// The in-memory InstanceBudget remains the default; this is an optional
// knob, not a replacement. Exercised in redis_test.go against a miniredis
// instance, the same pattern internal/idempotency uses for its Redis
// store, so neither needs a live Redis to run.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
	script *redis.Script
}

const redisBudgetScript = `
local key = KEYS[1]
local tokens = tonumber(ARGV[1])
local effRPM = tonumber(ARGV[2])
local effTPM = tonumber(ARGV[3])
local windowSec = tonumber(ARGV[4])

local rpm = tonumber(redis.call("HGET", key, "rpm") or "0")
local tpm = tonumber(redis.call("HGET", key, "tpm") or "0")

local nextRPM = rpm + 1
local nextTPM = tpm + tokens

if effRPM > 0 and nextRPM > effRPM then
  return 0
end
if effTPM > 0 and nextTPM > effTPM then
  return 0
end

redis.call("HSET", key, "rpm", nextRPM, "tpm", nextTPM)
redis.call("EXPIRE", key, windowSec)
return 1
`

// NewRedisStore returns a RedisStore keying entries under prefix by
// instance ID and current minute.
func NewRedisStore(client redis.UniversalClient, prefix string) *RedisStore {
	return &RedisStore{client: client, prefix: prefix, script: redis.NewScript(redisBudgetScript)}
}

// TryAcquire runs the check-and-increment atomically in Redis, keyed by
// instance ID and the current UTC minute, so the window rolls when the
// minute changes; each key expires 65 seconds after its last write.
func (s *RedisStore) TryAcquire(ctx context.Context, inst *types.ModelInstance, tokens int) (bool, error) {
	if inst == nil || !inst.Healthy() {
		return false, nil
	}
	if tokens < 0 {
		tokens = 0
	}
	key := s.minuteKey(inst.ID)
	res, err := s.script.Run(ctx, s.client, []string{key}, tokens, inst.EffectiveRPM(), inst.EffectiveTPM(), 65).Result()
	if err != nil {
		return false, err
	}
	n, _ := res.(int64)
	return n == 1, nil
}

func (s *RedisStore) minuteKey(instanceID string) string {
	minuteBucket := types.NowMs() / windowMs
	return fmt.Sprintf("%s:{%s}:%d", s.prefix, instanceID, minuteBucket)
}
