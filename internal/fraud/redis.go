package fraud

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"marketplace-ledger-go/internal/models"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// velocityTTL keeps an hour bucket around long enough to be read by late requests.
const velocityTTL = 2 * time.Hour

// RedisStore keeps fraud state in Redis
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore connects to Redis. An unreachable server is logged, not
// returned, since the detector fails open.
func NewRedisStore(ctx context.Context, cfg models.RedisConfig) *RedisStore {
	client := redis.NewClient(&redis.Options{
		Addr:            cfg.Addr,
		Password:        cfg.Password,
		DB:              cfg.DB,
		DialTimeout:     cfg.DialTimeout,
		ReadTimeout:     cfg.ReadTimeout,
		WriteTimeout:    cfg.WriteTimeout,
		PoolSize:        20,
		MinIdleConns:    2,
		ConnMaxIdleTime: 5 * time.Minute,
		MaxRetries:      1,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		zap.L().Warn("Fraud state store unreachable, detector will fail open",
			zap.String("addr", cfg.Addr),
			zap.Error(err))
	} else {
		zap.L().Info("Fraud state store connected", zap.String("addr", cfg.Addr))
	}
	return NewRedisStoreFromClient(client)
}

func NewRedisStoreFromClient(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

func velocityKey(userId, currency string, bucket int64) string {
	return fmt.Sprintf("fraud:v1:velocity:%s:%s:%d", userId, currency, bucket)
}

func baselineKey(userId, currency string) string {
	return fmt.Sprintf("fraud:v1:baseline:%s:%s", userId, currency)
}

func payeesKey(userId string) string {
	return fmt.Sprintf("fraud:v1:payees:%s", userId)
}

func blockKey(subject, id string) string {
	return fmt.Sprintf("fraud:v1:block:%s:%s", subject, id)
}

func profileKey(userId string) string {
	return fmt.Sprintf("fraud:v1:profile:%s", userId)
}

func (s *RedisStore) AddVelocity(ctx context.Context, userId, currency string, amount int64, at time.Time) (Window, error) {
	bucket := velocityBucket(at)
	key := velocityKey(userId, currency, bucket)

	pipe := s.client.TxPipeline()
	count := pipe.HIncrBy(ctx, key, "count", 1)
	sum := pipe.HIncrBy(ctx, key, "sum", amount)
	pipe.Expire(ctx, key, velocityTTL)
	prev := pipe.HGetAll(ctx, velocityKey(userId, currency, bucket-velocityPeriod))
	if _, err := pipe.Exec(ctx); err != nil {
		return Window{}, fmt.Errorf("velocity update: %w", err)
	}
	return slidingWindow(Window{Count: count.Val(), Sum: sum.Val()}, parseWindow(prev.Val()), at), nil
}

func (s *RedisStore) Baseline(ctx context.Context, userId, currency string) (Window, error) {
	vals, err := s.client.HGetAll(ctx, baselineKey(userId, currency)).Result()
	if err != nil {
		return Window{}, fmt.Errorf("baseline get: %w", err)
	}
	return parseWindow(vals), nil
}

func parseWindow(vals map[string]string) Window {
	var w Window
	if v, ok := vals["count"]; ok {
		w.Count, _ = strconv.ParseInt(v, 10, 64)
	}
	if v, ok := vals["sum"]; ok {
		w.Sum, _ = strconv.ParseInt(v, 10, 64)
	}
	return w
}

func (s *RedisStore) AddBaseline(ctx context.Context, userId, currency string, amount int64) error {
	key := baselineKey(userId, currency)
	pipe := s.client.TxPipeline()
	pipe.HIncrBy(ctx, key, "count", 1)
	pipe.HIncrBy(ctx, key, "sum", amount)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("baseline update: %w", err)
	}
	return nil
}

func (s *RedisStore) PayeeFirstSeen(ctx context.Context, userId, payee string) (time.Time, bool, error) {
	v, err := s.client.HGet(ctx, payeesKey(userId), payee).Int64()
	if errors.Is(err, redis.Nil) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("payee get: %w", err)
	}
	return time.Unix(v, 0).UTC(), true, nil
}

func (s *RedisStore) RememberPayee(ctx context.Context, userId, payee string, at time.Time) error {
	if err := s.client.HSetNX(ctx, payeesKey(userId), payee, at.Unix()).Err(); err != nil {
		return fmt.Errorf("payee set: %w", err)
	}
	return nil
}

func (s *RedisStore) IsBlocked(ctx context.Context, subject, id string) (bool, error) {
	n, err := s.client.Exists(ctx, blockKey(subject, id)).Result()
	if err != nil {
		return false, fmt.Errorf("block lookup: %w", err)
	}
	return n > 0, nil
}

func (s *RedisStore) SetBlocked(ctx context.Context, subject, id string, blocked bool) error {
	var err error
	if blocked {
		err = s.client.Set(ctx, blockKey(subject, id), time.Now().UTC().Format(time.RFC3339), 0).Err()
	} else {
		err = s.client.Del(ctx, blockKey(subject, id)).Err()
	}
	if err != nil {
		return fmt.Errorf("block update: %w", err)
	}
	return nil
}

func (s *RedisStore) SaveScore(ctx context.Context, userId string, score int, action string, at time.Time) error {
	err := s.client.HSet(ctx, profileKey(userId),
		"last_risk_score", score,
		"last_action", action,
		"updated_at", at.UTC().Unix()).Err()
	if err != nil {
		return fmt.Errorf("profile update: %w", err)
	}
	return nil
}

func (s *RedisStore) Profile(ctx context.Context, userId string) (*Profile, error) {
	vals, err := s.client.HGetAll(ctx, profileKey(userId)).Result()
	if err != nil {
		return nil, fmt.Errorf("profile get: %w", err)
	}
	blocked, err := s.IsBlocked(ctx, SubjectUser, userId)
	if err != nil {
		return nil, err
	}

	p := &Profile{UserId: userId, Blocked: blocked, LastAction: vals["last_action"]}
	if v, ok := vals["last_risk_score"]; ok {
		p.LastRiskScore, _ = strconv.Atoi(v)
	}
	if v, ok := vals["updated_at"]; ok {
		if ts, err := strconv.ParseInt(v, 10, 64); err == nil {
			p.UpdatedAt = time.Unix(ts, 0).UTC()
		}
	}
	return p, nil
}
