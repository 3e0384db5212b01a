package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"cfprogress/internal/models"

	"github.com/redis/go-redis/v9"
)

const (
	// RatingsKey is the sorted set of handles scored by rating
	RatingsKey = "students:ratings"

	// MetadataKey maps handle to its plain rating for display
	MetadataKey = "students:ratings:meta"

	// VersionKey is bumped whenever a student is created, changed or removed
	VersionKey = "students:version"

	// SyncSummaryKey holds the JSON summary of the last batch sync run
	SyncSummaryKey = "sync:last_summary"

	// TimestampDivisor keeps the time component of a composite score below 1
	TimestampDivisor = 10_000_000_000
)

// RedisRepository is the Redis-backed Board
type RedisRepository struct {
	client *redis.Client
}

// NewRedisRepository creates a new Redis repository
func NewRedisRepository(client *redis.Client) *RedisRepository {
	return &RedisRepository{
		client: client,
	}
}

// ComputeCompositeScore folds a unix timestamp (seconds) into the fractional
// part of the rating: rating + (1 - ts/10^10). Equal ratings order by who got
// there first and the integer part is always the rating.
func ComputeCompositeScore(rating int, timestamp int64) float64 {
	return float64(rating) + (1.0 - float64(timestamp)/TimestampDivisor)
}

// ExtractBaseScore extracts the integer rating from a composite score
func ExtractBaseScore(compositeScore float64) int {
	return int(compositeScore)
}

// UpdateRating places handle on the board and bumps the version
func (r *RedisRepository) UpdateRating(ctx context.Context, handle string, rating int) error {
	compositeScore := ComputeCompositeScore(rating, time.Now().Unix())

	pipe := r.client.TxPipeline()
	pipe.ZAdd(ctx, RatingsKey, redis.Z{
		Score:  compositeScore,
		Member: handle,
	})
	pipe.HSet(ctx, MetadataKey, handle, rating)
	pipe.Incr(ctx, VersionKey)

	_, err := pipe.Exec(ctx)
	return err
}

// RemoveHandle drops handle from the board and bumps the version
func (r *RedisRepository) RemoveHandle(ctx context.Context, handle string) error {
	pipe := r.client.TxPipeline()
	pipe.ZRem(ctx, RatingsKey, handle)
	pipe.HDel(ctx, MetadataKey, handle)
	pipe.Incr(ctx, VersionKey)

	_, err := pipe.Exec(ctx)
	return err
}

// BulkUpdateRatings replaces the whole board with ratings in one transaction
func (r *RedisRepository) BulkUpdateRatings(ctx context.Context, ratings map[string]int) error {
	pipe := r.client.TxPipeline()
	pipe.Del(ctx, RatingsKey, MetadataKey)

	timestamp := time.Now().Unix()
	for handle, rating := range ratings {
		pipe.ZAdd(ctx, RatingsKey, redis.Z{
			Score:  ComputeCompositeScore(rating, timestamp),
			Member: handle,
		})
		pipe.HSet(ctx, MetadataKey, handle, rating)
	}

	// Increment version once for entire batch
	pipe.Incr(ctx, VersionKey)

	_, err := pipe.Exec(ctx)
	return err
}

// GetTop returns up to limit entries starting at offset, best first
func (r *RedisRepository) GetTop(ctx context.Context, offset, limit int) ([]models.BoardEntry, error) {
	start := int64(offset)
	stop := int64(offset + limit - 1)

	results, err := r.client.ZRevRangeWithScores(ctx, RatingsKey, start, stop).Result()
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return []models.BoardEntry{}, nil
	}

	handles := make([]string, len(results))
	for i, z := range results {
		handles[i] = z.Member.(string)
	}
	ratings, err := r.getRatingBatch(ctx, handles)
	if err != nil {
		return nil, err
	}

	entries := make([]models.BoardEntry, 0, len(results))
	for i, z := range results {
		rating, ok := ratings[handles[i]]
		if !ok {
			rating = ExtractBaseScore(z.Score)
		}
		entries = append(entries, models.BoardEntry{Handle: handles[i], Rating: rating})
	}
	return entries, nil
}

// getRatingBatch retrieves display ratings for multiple handles using HMGET
func (r *RedisRepository) getRatingBatch(ctx context.Context, handles []string) (map[string]int, error) {
	results, err := r.client.HMGet(ctx, MetadataKey, handles...).Result()
	if err != nil {
		return nil, err
	}

	ratings := make(map[string]int, len(handles))
	for i, result := range results {
		s, ok := result.(string)
		if !ok {
			continue
		}
		rating, err := strconv.Atoi(s)
		if err != nil {
			continue
		}
		ratings[handles[i]] = rating
	}
	return ratings, nil
}

// GetRank returns the tie-aware rank and rating of handle. Students sharing a
// rating share a rank: rank = 1 + number of strictly higher ratings.
func (r *RedisRepository) GetRank(ctx context.Context, handle string) (int, int, error) {
	compositeScore, err := r.client.ZScore(ctx, RatingsKey, handle).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, 0, models.ErrNotFound
		}
		return 0, 0, err
	}
	rating := ExtractBaseScore(compositeScore)

	count, err := r.client.ZCount(ctx, RatingsKey, strconv.Itoa(rating+1), "+inf").Result()
	if err != nil {
		return 0, 0, err
	}

	if s, err := r.client.HGet(ctx, MetadataKey, handle).Result(); err == nil {
		if v, convErr := strconv.Atoi(s); convErr == nil {
			rating = v
		}
	}
	return int(count) + 1, rating, nil
}

// GetTotal returns the number of handles on the board
func (r *RedisRepository) GetTotal(ctx context.Context) (int64, error) {
	return r.client.ZCard(ctx, RatingsKey).Result()
}

// GetVersion returns the current change version
func (r *RedisRepository) GetVersion(ctx context.Context) (int64, error) {
	version, err := r.client.Get(ctx, VersionKey).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, err
	}
	return version, nil
}

// BumpVersion signals a change that did not touch the board itself
func (r *RedisRepository) BumpVersion(ctx context.Context) error {
	return r.client.Incr(ctx, VersionKey).Err()
}

// SaveSyncSummary stores the last batch sync summary
func (r *RedisRepository) SaveSyncSummary(ctx context.Context, summary models.SyncSummary) error {
	payload, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("marshal sync summary: %w", err)
	}
	return r.client.Set(ctx, SyncSummaryKey, payload, 0).Err()
}

// GetSyncSummary loads the last batch sync summary
func (r *RedisRepository) GetSyncSummary(ctx context.Context) (*models.SyncSummary, error) {
	payload, err := r.client.Get(ctx, SyncSummaryKey).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}

	var summary models.SyncSummary
	if err := json.Unmarshal(payload, &summary); err != nil {
		return nil, fmt.Errorf("decode sync summary: %w", err)
	}
	return &summary, nil
}

// Ping checks if Redis is reachable
func (r *RedisRepository) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Close closes the Redis connection
func (r *RedisRepository) Close() error {
	return r.client.Close()
}
