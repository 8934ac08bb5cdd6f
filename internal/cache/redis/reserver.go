package redis

import (
	"context"
	"fmt"
	"io"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"parimutuel-escrow/internal/storage"
)

// reserveLua claims every key or none.
const reserveLua = `
for _, k in ipairs(KEYS) do
    if redis.call('EXISTS', k) == 1 then
        return 0
    end
end
for _, k in ipairs(KEYS) do
    redis.call('SET', k, ARGV[1], 'PX', ARGV[2])
end
return 1
`

// releaseLua deletes only the keys still holding the caller's token.
const releaseLua = `
local n = 0
for _, k in ipairs(KEYS) do
    if redis.call('GET', k) == ARGV[1] then
        n = n + redis.call('DEL', k)
    end
end
return n
`

// Reserver implements storage.Reserver with one key per fund record.
type Reserver struct {
	rdb       *redis.Client
	prefix    string
	reserveSc *redis.Script
	releaseSc *redis.Script
	logger    *log.Logger
}

// NewReserver creates a Reserver backed by the given Client.
// A nil logger discards release failures.
func NewReserver(c *Client, prefix string, logger *log.Logger) *Reserver {
	if prefix == "" {
		prefix = "escrow:fund:"
	}
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Reserver{
		rdb:       c.rdb,
		prefix:    prefix,
		reserveSc: redis.NewScript(reserveLua),
		releaseSc: redis.NewScript(releaseLua),
		logger:    logger,
	}
}

// Compile-time interface check.
var _ storage.Reserver = (*Reserver)(nil)

func (r *Reserver) keys(fundIDs []string) []string {
	keys := make([]string, len(fundIDs))
	for i, id := range fundIDs {
		keys[i] = r.prefix + id
	}
	return keys
}

// Reserve claims all fundIDs or none. Returns storage.ErrReserved if any is held.
func (r *Reserver) Reserve(ctx context.Context, fundIDs []string, ttl time.Duration) (func(), error) {
	if len(fundIDs) == 0 {
		return func() {}, nil
	}
	token := uuid.New().String()
	keys := r.keys(fundIDs)

	ok, err := r.reserveSc.Run(ctx, r.rdb, keys, token, ttl.Milliseconds()).Int()
	if err != nil {
		return nil, fmt.Errorf("redis: reserve %d funds: %w", len(fundIDs), err)
	}
	if ok == 0 {
		return nil, storage.ErrReserved
	}

	released := false
	release := func() {
		if released {
			return
		}
		released = true

		// Release even if the caller's context is already cancelled.
		releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := r.releaseSc.Run(releaseCtx, r.rdb, keys, token).Err(); err != nil {
			// keys stay held until the ttl expires
			r.logger.Printf("redis: release %d funds (ttl %s): %v", len(keys), ttl, err)
		}
	}
	return release, nil
}

// Reserved returns the subset of fundIDs currently claimed.
func (r *Reserver) Reserved(ctx context.Context, fundIDs []string) (map[string]bool, error) {
	held := make(map[string]bool)
	if len(fundIDs) == 0 {
		return held, nil
	}

	vals, err := r.rdb.MGet(ctx, r.keys(fundIDs)...).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: read reservations: %w", err)
	}
	for i, v := range vals {
		if v != nil {
			held[fundIDs[i]] = true
		}
	}
	return held, nil
}
