package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	latest "telemetry-engine/internal/latest/domain"
)

const (
	valuesPrefix = "latest:"
	timesPrefix  = "latest_ts:"
)

// rejectOlderScript writes only when the stored measurement time is not newer.
var rejectOlderScript = goredis.NewScript(`
local cur = redis.call('HGET', KEYS[2], ARGV[1])
if cur and tonumber(cur) > tonumber(ARGV[3]) then
	return 0
end
redis.call('HSET', KEYS[1], ARGV[1], ARGV[2])
redis.call('HSET', KEYS[2], ARGV[1], ARGV[3])
return 1
`)

// Store keeps one hash per system: field = logical path, value = JSON entry.
// A sibling hash holds measurement times for the ordering check.
type Store struct {
	client  goredis.UniversalClient
	breaker *gobreaker.CircuitBreaker
	log     *zap.Logger
}

// NewStore constructs a Redis-backed cache guarded by a circuit breaker.
func NewStore(client goredis.UniversalClient, log *zap.Logger) (*Store, error) {
	if client == nil {
		return nil, errors.New("latest redis: nil client")
	}
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("latest.redis")
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "latest-cache",
		MaxRequests: 3,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			ratio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 3 && ratio >= 0.6
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			log.Warn("circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})
	return &Store{client: client, breaker: cb, log: log}, nil
}

func valuesKey(systemID int64) string {
	return valuesPrefix + "{" + strconv.FormatInt(systemID, 10) + "}"
}

func timesKey(systemID int64) string {
	return timesPrefix + "{" + strconv.FormatInt(systemID, 10) + "}"
}

// Put writes e under the policy.
func (s *Store) Put(ctx context.Context, e latest.Entry, policy latest.OrderingPolicy) (bool, error) {
	payload, err := json.Marshal(e)
	if err != nil {
		return false, err
	}
	ts := e.MeasurementTime.UnixMilli()
	result, err := s.execute(func() (interface{}, error) {
		if policy == latest.RejectOlder {
			n, err := rejectOlderScript.Run(ctx, s.client,
				[]string{valuesKey(e.SystemID), timesKey(e.SystemID)},
				e.LogicalPath, payload, ts,
			).Int()
			return n == 1, err
		}
		_, err := s.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			pipe.HSet(ctx, valuesKey(e.SystemID), e.LogicalPath, payload)
			pipe.HSet(ctx, timesKey(e.SystemID), e.LogicalPath, ts)
			return nil
		})
		return true, err
	})
	if err != nil {
		return false, err
	}
	return result.(bool), nil
}

// Get returns the entry for a path.
func (s *Store) Get(ctx context.Context, systemID int64, logicalPath string) (latest.Entry, bool, error) {
	result, err := s.execute(func() (interface{}, error) {
		raw, err := s.client.HGet(ctx, valuesKey(systemID), logicalPath).Result()
		if errors.Is(err, goredis.Nil) {
			return nil, nil
		}
		return raw, err
	})
	if err != nil {
		return latest.Entry{}, false, err
	}
	if result == nil {
		return latest.Entry{}, false, nil
	}
	var e latest.Entry
	if err := json.Unmarshal([]byte(result.(string)), &e); err != nil {
		return latest.Entry{}, false, fmt.Errorf("latest redis: decode %s: %w", logicalPath, err)
	}
	return e, true, nil
}

// GetAll returns every entry of a system.
func (s *Store) GetAll(ctx context.Context, systemID int64) (map[string]latest.Entry, error) {
	result, err := s.execute(func() (interface{}, error) {
		return s.client.HGetAll(ctx, valuesKey(systemID)).Result()
	})
	if err != nil {
		return nil, err
	}
	raw := result.(map[string]string)
	out := make(map[string]latest.Entry, len(raw))
	for path, value := range raw {
		var e latest.Entry
		if err := json.Unmarshal([]byte(value), &e); err != nil {
			s.log.Warn("skipping undecodable entry", zap.Int64("system_id", systemID), zap.String("path", path), zap.Error(err))
			continue
		}
		out[path] = e
	}
	return out, nil
}

// Clear deletes a system namespace.
func (s *Store) Clear(ctx context.Context, systemID int64) error {
	_, err := s.execute(func() (interface{}, error) {
		return nil, s.client.Del(ctx, valuesKey(systemID), timesKey(systemID)).Err()
	})
	return err
}

// ClearAll scans every namespace and deletes it.
func (s *Store) ClearAll(ctx context.Context) (int, error) {
	result, err := s.execute(func() (interface{}, error) {
		systems := make(map[int64]struct{})
		for _, prefix := range []string{valuesPrefix, timesPrefix} {
			iter := s.client.Scan(ctx, 0, prefix+"*", 100).Iterator()
			var batch []string
			for iter.Next(ctx) {
				batch = append(batch, iter.Val())
				if id, ok := systemIDFromKey(iter.Val()); ok {
					systems[id] = struct{}{}
				}
				if len(batch) == 100 {
					if err := s.client.Del(ctx, batch...).Err(); err != nil {
						return len(systems), err
					}
					batch = batch[:0]
				}
			}
			if err := iter.Err(); err != nil {
				return len(systems), err
			}
			if len(batch) > 0 {
				if err := s.client.Del(ctx, batch...).Err(); err != nil {
					return len(systems), err
				}
			}
		}
		return len(systems), nil
	})
	if err != nil {
		return 0, err
	}
	return result.(int), nil
}

// execute runs fn through the breaker and maps backend failures to ErrUnavailable.
func (s *Store) execute(fn func() (interface{}, error)) (interface{}, error) {
	result, err := s.breaker.Execute(fn)
	if err == nil {
		return result, nil
	}
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, fmt.Errorf("%w: breaker %s", latest.ErrUnavailable, s.breaker.State())
	}
	s.log.Warn("redis command failed", zap.Error(err))
	return nil, fmt.Errorf("%w: %v", latest.ErrUnavailable, err)
}

// systemIDFromKey parses "latest:{42}" or "latest_ts:{42}".
func systemIDFromKey(key string) (int64, bool) {
	var rest string
	switch {
	case strings.HasPrefix(key, timesPrefix):
		rest = strings.TrimPrefix(key, timesPrefix)
	case strings.HasPrefix(key, valuesPrefix):
		rest = strings.TrimPrefix(key, valuesPrefix)
	default:
		return 0, false
	}
	if !strings.HasPrefix(rest, "{") || !strings.HasSuffix(rest, "}") {
		return 0, false
	}
	id, err := strconv.ParseInt(rest[1:len(rest)-1], 10, 64)
	return id, err == nil
}
