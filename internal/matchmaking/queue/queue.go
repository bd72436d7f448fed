// Package queue implements the atomic queue scripts: every mutation against
// the shared Redis sorted-set queue is a single round-trip Lua script, so
// concurrent matchmakers across pods can never double-pop or double-add a
// player.
package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/redis/go-redis/v9"
)

// enqueueScript adds member (player_id) with score, storing metadata in a
// sidecar hash keyed the same as the sorted set, and returns
// [added_flag, current_size].
var enqueueScript = redis.NewScript(`
local queue_key = KEYS[1]
local meta_key = queue_key .. ":meta"
local player_id = ARGV[1]
local score = tonumber(ARGV[2])
local metadata = ARGV[3]

local added = redis.call("ZADD", queue_key, "NX", score, player_id)
if added == 1 then
	redis.call("HSET", meta_key, player_id, metadata)
end
local size = redis.call("ZCARD", queue_key)
return {added, size}
`)

// dequeueScript removes at most one member and returns
// [removed_flag, current_size, metadata_or_empty].
var dequeueScript = redis.NewScript(`
local queue_key = KEYS[1]
local meta_key = queue_key .. ":meta"
local player_id = ARGV[1]

local removed = redis.call("ZREM", queue_key, player_id)
local metadata = ""
if removed == 1 then
	metadata = redis.call("HGET", meta_key, player_id) or ""
	redis.call("HDEL", meta_key, player_id)
end
local size = redis.call("ZCARD", queue_key)
return {removed, size, metadata}
`)

// popCandidatesScript atomically pops up to batch_size lowest-score members
// (oldest-enqueued first) and returns a flat [player_id, score, metadata]*k
// list.
var popCandidatesScript = redis.NewScript(`
local queue_key = KEYS[1]
local meta_key = queue_key .. ":meta"
local batch_size = tonumber(ARGV[1])

local popped = redis.call("ZPOPMIN", queue_key, batch_size)
local out = {}
for i = 1, #popped, 2 do
	local player_id = popped[i]
	local score = popped[i + 1]
	local metadata = redis.call("HGET", meta_key, player_id) or ""
	redis.call("HDEL", meta_key, player_id)
	table.insert(out, player_id)
	table.insert(out, score)
	table.insert(out, metadata)
end
return out
`)

// requeueScript restores one or more player_ids at the given score and
// returns [size_before, added_count, size_after].
var requeueScript = redis.NewScript(`
local queue_key = KEYS[1]
local score = tonumber(ARGV[1])
local size_before = redis.call("ZCARD", queue_key)
local added = 0
for i = 2, #ARGV do
	local ok = redis.call("ZADD", queue_key, "NX", score, ARGV[i])
	added = added + ok
end
local size_after = redis.call("ZCARD", queue_key)
return {size_before, added, size_after}
`)

// Key builds the hash-tagged queue key for a mode, e.g. "queue:{normal_1v1}"
// so the whole script runs on a single cluster shard.
func Key(mode string) string {
	return fmt.Sprintf("queue:{%s}", mode)
}

// Queue wraps a redis.Client with the four atomic operations.
type Queue struct {
	rdb *redis.Client
}

func New(rdb *redis.Client) *Queue {
	return &Queue{rdb: rdb}
}

// enqueueRetryPolicy bounds the exponential backoff applied to a transient
// Redis failure during enqueue (spec §7 "transient infrastructure errors
// ... retried with bounded exponential backoff") before it is surfaced to
// the caller as internal_error.
func enqueueRetryPolicy(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 20 * time.Millisecond
	b.MaxInterval = 200 * time.Millisecond
	b.MaxElapsedTime = 500 * time.Millisecond
	return backoff.WithContext(backoff.WithMaxRetries(b, 3), ctx)
}

// Enqueue adds player_id with score and metadata to mode's queue. addedFlag
// is false when the player was already present. A transient Redis error is
// retried under bounded exponential backoff before being wrapped and
// returned.
func (q *Queue) Enqueue(ctx context.Context, mode, playerID string, score int64, metadata string) (addedFlag bool, size int64, err error) {
	var vals []interface{}
	op := func() error {
		res, runErr := enqueueScript.Run(ctx, q.rdb, []string{Key(mode)}, playerID, score, metadata).Result()
		if runErr != nil {
			return runErr
		}
		vals = res.([]interface{})
		return nil
	}
	if retryErr := backoff.Retry(op, enqueueRetryPolicy(ctx)); retryErr != nil {
		return false, 0, fmt.Errorf("queue: enqueue: %w", unwrapBackoff(retryErr))
	}
	return toInt64(vals[0]) == 1, toInt64(vals[1]), nil
}

func unwrapBackoff(err error) error {
	var permanent *backoff.PermanentError
	if errors.As(err, &permanent) {
		return permanent.Unwrap()
	}
	return err
}

// Dequeue removes player_id from mode's queue if present.
func (q *Queue) Dequeue(ctx context.Context, mode, playerID string) (removed bool, size int64, metadata string, err error) {
	res, err := dequeueScript.Run(ctx, q.rdb, []string{Key(mode)}, playerID).Result()
	if err != nil {
		return false, 0, "", fmt.Errorf("queue: dequeue: %w", err)
	}
	vals := res.([]interface{})
	meta, _ := vals[2].(string)
	return toInt64(vals[0]) == 1, toInt64(vals[1]), meta, nil
}

// Candidate is one popped queue member.
type Candidate struct {
	PlayerID string
	Score    int64
	Metadata string
}

// PopCandidates atomically pops up to batchSize members from mode's queue.
func (q *Queue) PopCandidates(ctx context.Context, mode string, batchSize int) ([]Candidate, error) {
	res, err := popCandidatesScript.Run(ctx, q.rdb, []string{Key(mode)}, batchSize).Result()
	if err != nil {
		return nil, fmt.Errorf("queue: pop_candidates: %w", err)
	}
	vals := res.([]interface{})
	out := make([]Candidate, 0, len(vals)/3)
	for i := 0; i+2 < len(vals); i += 3 {
		playerID, _ := vals[i].(string)
		scoreStr, _ := vals[i+1].(string)
		metadata, _ := vals[i+2].(string)
		out = append(out, Candidate{
			PlayerID: playerID,
			Score:    parseScore(scoreStr),
			Metadata: metadata,
		})
	}
	return out, nil
}

// Requeue restores playerIDs at score, used to recover candidates on
// transient allocation failure or odd-leftover chunks.
func (q *Queue) Requeue(ctx context.Context, mode string, score int64, playerIDs []string) (sizeBefore, added, sizeAfter int64, err error) {
	if len(playerIDs) == 0 {
		return 0, 0, 0, nil
	}
	args := make([]interface{}, 0, len(playerIDs)+1)
	args = append(args, score)
	for _, id := range playerIDs {
		args = append(args, id)
	}
	res, err := requeueScript.Run(ctx, q.rdb, []string{Key(mode)}, args...).Result()
	if err != nil {
		return 0, 0, 0, fmt.Errorf("queue: requeue: %w", err)
	}
	vals := res.([]interface{})
	return toInt64(vals[0]), toInt64(vals[1]), toInt64(vals[2]), nil
}

func toInt64(v interface{}) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	default:
		return 0
	}
}

func parseScore(s string) int64 {
	var n int64
	fmt.Sscanf(s, "%d", &n)
	return n
}
