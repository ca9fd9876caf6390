package history

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

const maxSessionsPerContact = 100

// RedisOptions параметры подключения к Redis
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	// TTL записей истории, 0 - без ограничения
	TTL time.Duration
}

// RedisStore хранит историю в Redis
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

// NewRedisStore подключается к Redis и проверяет соединение
func NewRedisStore(ctx context.Context, opts RedisOptions, logger *slog.Logger) (*RedisStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, errors.Wrapf(err, "failed to connect to redis at %s", opts.Addr)
	}

	logger.Info("Подключение к Redis установлено", slog.String("addr", opts.Addr))
	return &RedisStore{
		client: rdb,
		ttl:    opts.TTL,
		logger: logger.With(slog.String("component", "history")),
	}, nil
}

// Close закрывает соединение
func (r *RedisStore) Close() error {
	return r.client.Close()
}

func statusKey(msgID string) string {
	return fmt.Sprintf("imdn:%s:status", msgID)
}

func sessionsKey(contact string) string {
	return fmt.Sprintf("contact:%s:sessions", contact)
}

func (r *RedisStore) RecordDeliveryStatus(ctx context.Context, msgID, status string) error {
	if err := r.client.Set(ctx, statusKey(msgID), status, r.ttl).Err(); err != nil {
		return errors.Wrap(err, "failed to store delivery status")
	}
	return nil
}

func (r *RedisStore) RecordNewSession(ctx context.Context, rec SessionRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return errors.Wrap(err, "failed to marshal session record")
	}

	key := sessionsKey(rec.Contact)
	if err := r.client.LPush(ctx, key, data).Err(); err != nil {
		return errors.Wrap(err, "failed to store session record")
	}
	if err := r.client.LTrim(ctx, key, 0, maxSessionsPerContact-1).Err(); err != nil {
		r.logger.Warn("Не удалось обрезать историю сессий", slog.String("contact", rec.Contact), slog.Any("error", err))
	}
	if r.ttl > 0 {
		if err := r.client.Expire(ctx, key, r.ttl).Err(); err != nil {
			r.logger.Warn("Не удалось установить TTL истории", slog.String("contact", rec.Contact), slog.Any("error", err))
		}
	}
	return nil
}

// DeliveryStatus возвращает последний записанный статус сообщения
func (r *RedisStore) DeliveryStatus(ctx context.Context, msgID string) (string, error) {
	status, err := r.client.Get(ctx, statusKey(msgID)).Result()
	if err == redis.Nil {
		return "", ErrNotFound
	}
	if err != nil {
		return "", errors.Wrap(err, "failed to read delivery status")
	}
	return status, nil
}

// Sessions возвращает сессии контакта от старых к новым
func (r *RedisStore) Sessions(ctx context.Context, contact string) ([]SessionRecord, error) {
	data, err := r.client.LRange(ctx, sessionsKey(contact), 0, -1).Result()
	if err != nil && err != redis.Nil {
		return nil, errors.Wrap(err, "failed to read session history")
	}

	out := make([]SessionRecord, 0, len(data))
	for i := len(data) - 1; i >= 0; i-- {
		var rec SessionRecord
		if err := json.Unmarshal([]byte(data[i]), &rec); err != nil {
			r.logger.Warn("Некорректная запись истории", slog.Any("error", err))
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}
