package redis

import (
	"context"
	"encoding/json"
	"math/rand"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"chainquiz-service/internal/app"
	"chainquiz-service/internal/domain"
)

const (
	activeIDsKey   = "qb:active_ids"
	correctHashKey = "qb:correct"
)

// QuestionBank caches the hot question-bank reads in Redis and falls back
// to the underlying bank on miss. Active ids are stored as a JSON list,
// correct options as a hash: HSET qb:correct {questionID} {optionID}.
// Question text and option snapshots are served by the underlying bank;
// sessions persist their own option snapshots anyway.
type QuestionBank struct {
	client *redis.Client
	source app.QuestionBank
	ttl    time.Duration
	sf     singleflight.Group
	rnd    *rand.Rand
}

func NewQuestionBank(client *redis.Client, source app.QuestionBank, ttl time.Duration) *QuestionBank {
	return &QuestionBank{
		client: client,
		source: source,
		ttl:    ttl,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (b *QuestionBank) ActiveQuestionIDs(ctx context.Context) ([]int64, error) {
	raw, err := b.client.Get(ctx, activeIDsKey).Bytes()
	if err == nil {
		var ids []int64
		if err := json.Unmarshal(raw, &ids); err == nil {
			return ids, nil
		}
	}

	result, err, _ := b.sf.Do(activeIDsKey, func() (interface{}, error) {
		// Re-check in case another goroutine filled the cache.
		raw, err := b.client.Get(ctx, activeIDsKey).Bytes()
		if err == nil {
			var ids []int64
			if err := json.Unmarshal(raw, &ids); err == nil {
				return ids, nil
			}
		}
		ids, err := b.source.ActiveQuestionIDs(ctx)
		if err != nil {
			return nil, err
		}
		if encoded, err := json.Marshal(ids); err == nil {
			_ = b.client.Set(ctx, activeIDsKey, encoded, b.ttlWithJitter()).Err()
		}
		return ids, nil
	})
	if err != nil {
		return nil, err
	}
	return result.([]int64), nil
}

func (b *QuestionBank) CorrectOptions(ctx context.Context, questionIDs []int64) (map[int64]int64, error) {
	fields := make([]string, 0, len(questionIDs))
	for _, qid := range questionIDs {
		fields = append(fields, strconv.FormatInt(qid, 10))
	}
	cached, err := b.client.HMGet(ctx, correctHashKey, fields...).Result()
	if err == nil {
		out := make(map[int64]int64, len(questionIDs))
		complete := true
		for i, v := range cached {
			s, ok := v.(string)
			if !ok {
				complete = false
				break
			}
			oid, err := strconv.ParseInt(s, 10, 64)
			if err != nil {
				complete = false
				break
			}
			out[questionIDs[i]] = oid
		}
		if complete {
			return out, nil
		}
	}

	out, err := b.source.CorrectOptions(ctx, questionIDs)
	if err != nil {
		return nil, err
	}
	pipe := b.client.Pipeline()
	for qid, oid := range out {
		pipe.HSet(ctx, correctHashKey, strconv.FormatInt(qid, 10), strconv.FormatInt(oid, 10))
	}
	if b.ttl > 0 {
		pipe.Expire(ctx, correctHashKey, b.ttlWithJitter())
	}
	_, _ = pipe.Exec(ctx)
	return out, nil
}

func (b *QuestionBank) QuestionsByID(ctx context.Context, ids []int64) (map[int64]domain.Question, error) {
	return b.source.QuestionsByID(ctx, ids)
}

func (b *QuestionBank) OptionsFor(ctx context.Context, questionID int64) ([]domain.OptionSnapshot, error) {
	return b.source.OptionsFor(ctx, questionID)
}

// Invalidate drops the cached catalog, e.g. after an admin import.
func (b *QuestionBank) Invalidate(ctx context.Context) error {
	return b.client.Del(ctx, activeIDsKey, correctHashKey).Err()
}

// ttlWithJitter spreads expiry by up to 10% so keys written together do
// not all expire on the same tick.
func (b *QuestionBank) ttlWithJitter() time.Duration {
	if b.ttl <= 0 {
		return 0
	}
	jitter := time.Duration(b.rnd.Int63n(int64(b.ttl)/10 + 1))
	return b.ttl + jitter
}
