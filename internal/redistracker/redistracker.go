// Package redistracker stores reinforcement state in Redis so it survives
// restarts and is shared by every replica of the service.
package redistracker

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/lazypower/retain/internal/tracker"
)

// DefaultPrefix namespaces keys when no prefix is configured.
const DefaultPrefix = "retain:reinforcement"

const (
	fieldCount = "count"
	fieldAt    = "at"
)

// Increment and stamp in one script so a reinforcement is never half applied.
const reinforceScript = `
local count = redis.call('HINCRBY', KEYS[1], 'count', 1)
redis.call('HSET', KEYS[1], 'at', ARGV[1])
return count
`

// Tracker implements tracker.Tracker on a Redis hash per memory:
// {prefix}:{id} -> {count, at (unix nanos)}.
type Tracker struct {
	client redis.UniversalClient
	prefix string
	script *redis.Script
}

var _ tracker.Tracker = (*Tracker)(nil)

// New creates a Tracker. An empty prefix uses DefaultPrefix.
func New(client redis.UniversalClient, prefix string) *Tracker {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Tracker{
		client: client,
		prefix: prefix,
		script: redis.NewScript(reinforceScript),
	}
}

func (t *Tracker) key(id int64) string {
	return t.prefix + ":" + strconv.FormatInt(id, 10)
}

func (t *Tracker) Get(ctx context.Context, id int64) (tracker.State, error) {
	if err := ctx.Err(); err != nil {
		return tracker.State{}, err
	}

	vals, err := t.client.HMGet(ctx, t.key(id), fieldCount, fieldAt).Result()
	if err != nil {
		return tracker.State{}, t.wrap(ctx, "get", id, err)
	}
	if len(vals) != 2 {
		return tracker.State{}, fmt.Errorf("%w: get %d: unexpected reply length %d", tracker.ErrUnavailable, id, len(vals))
	}

	var st tracker.State
	if vals[0] != nil {
		n, err := parseInt(vals[0])
		if err != nil {
			return tracker.State{}, fmt.Errorf("%w: get %d: parse count: %w", tracker.ErrUnavailable, id, err)
		}
		st.AccessCount = n
	}
	if vals[1] != nil {
		ns, err := parseInt(vals[1])
		if err != nil {
			return tracker.State{}, fmt.Errorf("%w: get %d: parse timestamp: %w", tracker.ErrUnavailable, id, err)
		}
		st.LastReinforcedAt = time.Unix(0, ns)
	}
	return st, nil
}

func (t *Tracker) Reinforce(ctx context.Context, id int64, now time.Time) (tracker.State, error) {
	if err := ctx.Err(); err != nil {
		return tracker.State{}, err
	}

	count, err := t.script.Run(ctx, t.client, []string{t.key(id)}, now.UnixNano()).Int64()
	if err != nil {
		return tracker.State{}, t.wrap(ctx, "reinforce", id, err)
	}
	return tracker.State{
		AccessCount:      count,
		LastReinforcedAt: time.Unix(0, now.UnixNano()),
	}, nil
}

func (t *Tracker) Remove(ctx context.Context, id int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := t.client.Del(ctx, t.key(id)).Err(); err != nil {
		return t.wrap(ctx, "remove", id, err)
	}
	return nil
}

// Ping checks that Redis is reachable.
func (t *Tracker) Ping(ctx context.Context) error {
	if err := t.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: ping: %w", tracker.ErrUnavailable, err)
	}
	return nil
}

func (t *Tracker) wrap(ctx context.Context, op string, id int64, err error) error {
	if ctx.Err() != nil {
		return fmt.Errorf("%s %d: %w", op, id, err)
	}
	return fmt.Errorf("%w: %s %d: %w", tracker.ErrUnavailable, op, id, err)
}

func parseInt(v interface{}) (int64, error) {
	switch x := v.(type) {
	case string:
		return strconv.ParseInt(x, 10, 64)
	case int64:
		return x, nil
	default:
		return strconv.ParseInt(fmt.Sprintf("%v", x), 10, 64)
	}
}
