package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"
	"github.com/tg-antispam-go/internal/config"
	"github.com/tg-antispam-go/internal/models"
)

// RedisStorage implements storage using Redis.
// Warnings live in one hash per chat so HINCRBY gives atomic increments.
type RedisStorage struct {
	client    *redis.Client
	sampleCap int
	logger    *logrus.Logger
}

func NewRedisStorage(cfg *config.Config, logger *logrus.Logger) (*RedisStorage, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Storage.Redis.Addr,
		Password: cfg.Storage.Redis.Password,
		DB:       cfg.Storage.Redis.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &RedisStorage{
		client:    client,
		sampleCap: cfg.Storage.SampleCap,
		logger:    logger,
	}, nil
}

func keywordsKey(chatID int64) string {
	return fmt.Sprintf("keywords:%d", chatID)
}

func keywordEpochKey(chatID int64) string {
	return fmt.Sprintf("keywords_epoch:%d", chatID)
}

func warningsKey(chatID int64) string {
	return fmt.Sprintf("warnings:%d", chatID)
}

func settingsKey(chatID int64) string {
	return fmt.Sprintf("moderation_settings:%d", chatID)
}

func samplesKey(chatID int64) string {
	return fmt.Sprintf("ai_samples:%d", chatID)
}

func redisError(err error) error {
	if errors.Is(err, redis.TxFailedErr) {
		return fmt.Errorf("%w: %v", ErrBusy, err)
	}
	return err
}

func toMembers(keywords []string) []interface{} {
	members := make([]interface{}, len(keywords))
	for i, k := range keywords {
		members[i] = k
	}
	return members
}

// Keyword writes and the epoch bump run as one script so no reader sees the
// new set under the old epoch. The epoch moves only when the set changed.
var (
	mutateKeywordsScript = redis.NewScript(`
local n = redis.call(ARGV[1], KEYS[1], unpack(ARGV, 2))
if n > 0 then
	redis.call('INCR', KEYS[2])
end
return n
`)

	clearKeywordsScript = redis.NewScript(`
local n = redis.call('SCARD', KEYS[1])
if n > 0 then
	redis.call('DEL', KEYS[1])
	redis.call('INCR', KEYS[2])
end
return n
`)
)

func (r *RedisStorage) mutateKeywords(ctx context.Context, op string, chatID int64, keywords []string) (int, error) {
	if len(keywords) == 0 {
		return 0, nil
	}
	args := append([]interface{}{op}, toMembers(keywords)...)
	n, err := mutateKeywordsScript.Run(ctx, r.client, []string{keywordsKey(chatID), keywordEpochKey(chatID)}, args...).Int()
	if err != nil {
		return 0, redisError(err)
	}
	return n, nil
}

func (r *RedisStorage) AddKeywords(ctx context.Context, chatID int64, keywords []string) (int, error) {
	return r.mutateKeywords(ctx, "SADD", chatID, keywords)
}

func (r *RedisStorage) RemoveKeywords(ctx context.Context, chatID int64, keywords []string) (int, error) {
	return r.mutateKeywords(ctx, "SREM", chatID, keywords)
}

func (r *RedisStorage) ClearKeywords(ctx context.Context, chatID int64) (int, error) {
	n, err := clearKeywordsScript.Run(ctx, r.client, []string{keywordsKey(chatID), keywordEpochKey(chatID)}).Int()
	if err != nil {
		return 0, redisError(err)
	}
	return n, nil
}

func (r *RedisStorage) GetKeywords(ctx context.Context, chatID int64) (*models.KeywordSet, error) {
	var epoch *redis.StringCmd
	var members *redis.StringSliceCmd
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		epoch = pipe.Get(ctx, keywordEpochKey(chatID))
		members = pipe.SMembers(ctx, keywordsKey(chatID))
		return nil
	})
	if err != nil && err != redis.Nil {
		return nil, redisError(err)
	}

	set := &models.KeywordSet{ChatID: chatID}
	if v, err := epoch.Uint64(); err == nil {
		set.Epoch = v
	} else if err != redis.Nil {
		return nil, err
	}
	set.Keywords = members.Val()
	if set.Keywords == nil {
		set.Keywords = []string{}
	}
	sort.Strings(set.Keywords)
	return set, nil
}

func (r *RedisStorage) GetKeywordEpoch(ctx context.Context, chatID int64) (uint64, error) {
	epoch, err := r.client.Get(ctx, keywordEpochKey(chatID)).Uint64()
	if err == redis.Nil {
		return 0, nil
	}
	return epoch, err
}

func (r *RedisStorage) IncrementWarning(ctx context.Context, chatID, userID int64) (int, error) {
	count, err := r.client.HIncrBy(ctx, warningsKey(chatID), strconv.FormatInt(userID, 10), 1).Result()
	if err != nil {
		return 0, redisError(err)
	}
	return int(count), nil
}

func (r *RedisStorage) GetWarning(ctx context.Context, chatID, userID int64) (int, error) {
	count, err := r.client.HGet(ctx, warningsKey(chatID), strconv.FormatInt(userID, 10)).Int()
	if err == redis.Nil {
		return 0, nil
	}
	return count, err
}

func (r *RedisStorage) ListWarnings(ctx context.Context, chatID int64) ([]models.WarningRecord, error) {
	values, err := r.client.HGetAll(ctx, warningsKey(chatID)).Result()
	if err != nil {
		return nil, err
	}

	records := make([]models.WarningRecord, 0, len(values))
	for field, value := range values {
		userID, err := strconv.ParseInt(field, 10, 64)
		if err != nil {
			continue
		}
		count, err := strconv.Atoi(value)
		if err != nil {
			continue
		}
		records = append(records, models.WarningRecord{ChatID: chatID, UserID: userID, Count: count})
	}
	sortWarnings(records)
	return records, nil
}

func (r *RedisStorage) ResetWarnings(ctx context.Context, chatID int64) error {
	return r.client.Del(ctx, warningsKey(chatID)).Err()
}

func (r *RedisStorage) ResetUserWarning(ctx context.Context, chatID, userID int64) error {
	return r.client.HDel(ctx, warningsKey(chatID), strconv.FormatInt(userID, 10)).Err()
}

func (r *RedisStorage) LoadSettings(ctx context.Context, chatID int64, defaults models.ModerationSetting) (*models.ModerationSetting, error) {
	key := settingsKey(chatID)

	defaults.ChatID = chatID
	defaults.UpdatedAt = time.Now()
	data, err := json.Marshal(defaults)
	if err != nil {
		return nil, err
	}
	// Persist the default row on first read; no-op when it already exists.
	if err := r.client.SetNX(ctx, key, data, 0).Err(); err != nil {
		return nil, redisError(err)
	}

	raw, err := r.client.Get(ctx, key).Bytes()
	if err != nil {
		return nil, redisError(err)
	}
	var setting models.ModerationSetting
	if err := json.Unmarshal(raw, &setting); err != nil {
		return nil, err
	}
	return &setting, nil
}

func (r *RedisStorage) UpdateSettings(ctx context.Context, chatID int64, defaults models.ModerationSetting, mutate func(*models.ModerationSetting)) (*models.ModerationSetting, error) {
	key := settingsKey(chatID)
	var updated models.ModerationSetting

	// WATCH makes a concurrent writer abort this transaction with TxFailedErr,
	// which the manager retries.
	err := r.client.Watch(ctx, func(tx *redis.Tx) error {
		current := defaults
		raw, err := tx.Get(ctx, key).Bytes()
		switch {
		case err == redis.Nil:
		case err != nil:
			return err
		default:
			if err := json.Unmarshal(raw, &current); err != nil {
				return err
			}
		}

		mutate(&current)
		current.ChatID = chatID
		current.UpdatedAt = time.Now()
		data, err := json.Marshal(current)
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, 0)
			return nil
		})
		if err == nil {
			updated = current
		}
		return err
	}, key)
	if err != nil {
		return nil, redisError(err)
	}
	return &updated, nil
}

func (r *RedisStorage) AppendSample(ctx context.Context, sample *models.AiSample) error {
	data, err := json.Marshal(sample)
	if err != nil {
		return err
	}

	key := samplesKey(sample.ChatID)
	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LPush(ctx, key, data)
		if r.sampleCap > 0 {
			pipe.LTrim(ctx, key, 0, int64(r.sampleCap-1))
		}
		return nil
	})
	return redisError(err)
}

func (r *RedisStorage) RecentSamples(ctx context.Context, chatID int64, limit int) ([]models.AiSample, error) {
	result := []models.AiSample{}
	if limit <= 0 {
		return result, nil
	}

	values, err := r.client.LRange(ctx, samplesKey(chatID), 0, int64(limit-1)).Result()
	if err != nil {
		return nil, err
	}
	for _, value := range values {
		var sample models.AiSample
		if err := json.Unmarshal([]byte(value), &sample); err != nil {
			r.logger.WithError(err).Warn("Skipping malformed classifier sample")
			continue
		}
		result = append(result, sample)
	}
	return result, nil
}

func (r *RedisStorage) Close() error {
	return r.client.Close()
}
