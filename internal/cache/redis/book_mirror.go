package redis

import (
	"context"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/karb/internal/domain"
)

// bestAskLua writes the best-ask hash only when the update's sequence number
// is newer than the stored one, so concurrent feed connections cannot roll
// the mirror backwards.
const bestAskLua = `
local cur = redis.call('HGET', KEYS[1], 'seq')
if cur and tonumber(cur) >= tonumber(ARGV[3]) then
    return 0
end
redis.call('HSET', KEYS[1], 'ask', ARGV[1], 'size', ARGV[2], 'seq', ARGV[3])
return 1
`

// BookMirror implements domain.BookMirror. Each token's best ask lives in a
// small hash so dashboards and sibling processes can read top of book without
// a websocket connection of their own.
//
// Key schema:
//
//	ask:{tokenID} - hash with fields "ask" (ticks), "size" (units), "seq"
type BookMirror struct {
	rdb     *redis.Client
	bestAsk *redis.Script
}

// NewBookMirror creates a BookMirror backed by the given Client.
func NewBookMirror(c *Client) *BookMirror {
	return &BookMirror{
		rdb:     c.rdb,
		bestAsk: redis.NewScript(bestAskLua),
	}
}

func askKey(tokenID string) string { return "ask:" + tokenID }

// SetBestAsk records the latest best ask for a token. Updates with a sequence
// number at or below the stored one are dropped.
func (m *BookMirror) SetBestAsk(ctx context.Context, tokenID string, priceTicks, sizeUnits int64, seq uint64) error {
	keys := []string{askKey(tokenID)}
	args := []interface{}{
		strconv.FormatInt(priceTicks, 10),
		strconv.FormatInt(sizeUnits, 10),
		strconv.FormatUint(seq, 10),
	}
	if err := m.bestAsk.Run(ctx, m.rdb, keys, args...).Err(); err != nil {
		return fmt.Errorf("redis: set best ask %s: %w", tokenID, err)
	}
	return nil
}

// GetBestAsk reads the mirrored best ask for a token. It returns
// domain.ErrNotFound when the token has never been mirrored.
func (m *BookMirror) GetBestAsk(ctx context.Context, tokenID string) (priceTicks, sizeUnits int64, err error) {
	vals, err := m.rdb.HGetAll(ctx, askKey(tokenID)).Result()
	if err != nil {
		return 0, 0, fmt.Errorf("redis: get best ask %s: %w", tokenID, err)
	}
	if len(vals) == 0 {
		return 0, 0, domain.ErrNotFound
	}
	if s, ok := vals["ask"]; ok {
		priceTicks, _ = strconv.ParseInt(s, 10, 64)
	}
	if s, ok := vals["size"]; ok {
		sizeUnits, _ = strconv.ParseInt(s, 10, 64)
	}
	return priceTicks, sizeUnits, nil
}

// Compile-time interface check.
var _ domain.BookMirror = (*BookMirror)(nil)
