package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/AnthusAI/Plexus-sub006/internal/retry"
)

// ErrNotFound is returned by RedisMutator.Get for an unknown score.
var ErrNotFound = errors.New("score update not found")

// replaceScoreResult writes the document unless it would move a COMPLETED
// score back to RUNNING, and indexes the score under its run.
//
// KEYS[1] = score key
// KEYS[2] = run index key
// ARGV[1] = JSON document
// ARGV[2] = status
// ARGV[3] = score id
// ARGV[4] = TTL in milliseconds (0 keeps the key forever)
//
// Returns 1 when written and 0 on a refused regression.
const replaceScoreResult = `
	local current = redis.call('HGET', KEYS[1], 'status')
	if current == 'COMPLETED' and ARGV[2] ~= 'COMPLETED' then
		return 0
	end
	redis.call('HSET', KEYS[1], 'status', ARGV[2], 'document', ARGV[1])
	redis.call('SADD', KEYS[2], ARGV[3])
	local ttl = tonumber(ARGV[4]) or 0
	if ttl > 0 then
		redis.call('PEXPIRE', KEYS[1], ttl)
		redis.call('PEXPIRE', KEYS[2], ttl)
	end
	return 1
`

var replaceScoreResultScript = redis.NewScript(replaceScoreResult)

// RedisMutator stores score updates in Redis hashes for dashboards that
// read from a shared cache.
type RedisMutator struct {
	client redis.Cmdable
	ttl    time.Duration
}

// NewRedisMutator wraps an existing client. A zero ttl disables expiry.
func NewRedisMutator(client redis.Cmdable, ttl time.Duration) *RedisMutator {
	return &RedisMutator{client: client, ttl: ttl}
}

// ScoreKey returns the hash key of one score of one run.
func ScoreKey(runID, scoreID string) string {
	return fmt.Sprintf("scorecard:run:%s:score:%s", runID, scoreID)
}

// RunIndexKey returns the set key listing the scores of a run.
func RunIndexKey(runID string) string {
	return fmt.Sprintf("scorecard:run:%s:scores", runID)
}

// UpdateScoreResult implements Mutator.
func (m *RedisMutator) UpdateScoreResult(ctx context.Context, update ScoreUpdate) error {
	if err := update.Validate(); err != nil {
		return retry.Permanent(err)
	}
	doc, err := json.Marshal(update)
	if err != nil {
		return retry.Permanent(fmt.Errorf("failed to marshal update: %w", err))
	}

	written, err := replaceScoreResultScript.Run(ctx, m.client,
		[]string{ScoreKey(update.RunID, update.ScoreID), RunIndexKey(update.RunID)},
		string(doc), string(update.Status), update.ScoreID, m.ttl.Milliseconds(),
	).Int()
	if err != nil {
		return fmt.Errorf("redis score update failed: %w", err)
	}
	if written == 0 {
		return retry.Permanent(fmt.Errorf("%w: %s/%s", ErrStatusRegression, update.RunID, update.ScoreID))
	}
	return nil
}

// Get reads back the stored update.
func (m *RedisMutator) Get(ctx context.Context, runID, scoreID string) (ScoreUpdate, error) {
	raw, err := m.client.HGet(ctx, ScoreKey(runID, scoreID), "document").Result()
	if errors.Is(err, redis.Nil) {
		return ScoreUpdate{}, fmt.Errorf("%w: %s/%s", ErrNotFound, runID, scoreID)
	}
	if err != nil {
		return ScoreUpdate{}, fmt.Errorf("redis read failed: %w", err)
	}
	var u ScoreUpdate
	if err := json.Unmarshal([]byte(raw), &u); err != nil {
		return ScoreUpdate{}, fmt.Errorf("corrupt score document: %w", err)
	}
	return u, nil
}

// ScoreIDs lists the scores written for a run.
func (m *RedisMutator) ScoreIDs(ctx context.Context, runID string) ([]string, error) {
	ids, err := m.client.SMembers(ctx, RunIndexKey(runID)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis read failed: %w", err)
	}
	return ids, nil
}
