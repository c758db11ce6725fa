package database

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/npezzotti/room-relay/internal/types"
	"github.com/redis/go-redis/v9"
)

const (
	defaultRedisPrefix = "room-relay:"
	// defaultRedisMaxLen bounds each room's message list.
	defaultRedisMaxLen = 1000
)

type RedisMessageStore struct {
	client *redis.Client
	prefix string
	maxLen int64
}

func NewRedisMessageStore(ctx context.Context, addr string) (*RedisMessageStore, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	return newRedisMessageStore(client), nil
}

func newRedisMessageStore(client *redis.Client) *RedisMessageStore {
	return &RedisMessageStore{
		client: client,
		prefix: defaultRedisPrefix,
		maxLen: defaultRedisMaxLen,
	}
}

func (s *RedisMessageStore) seqKey(roomId string) string {
	return s.prefix + "room:" + roomId + ":seq"
}

func (s *RedisMessageStore) messagesKey(roomId string) string {
	return s.prefix + "room:" + roomId + ":messages"
}

func (s *RedisMessageStore) AppendMessage(ctx context.Context, roomId string, msg types.Message) (int64, error) {
	seqId, err := s.client.Incr(ctx, s.seqKey(roomId)).Result()
	if err != nil {
		return 0, fmt.Errorf("incr seq id: %w", err)
	}

	msg.SeqId = seqId
	msg.RoomId = roomId
	data, err := json.Marshal(msg)
	if err != nil {
		return 0, fmt.Errorf("marshal message: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.RPush(ctx, s.messagesKey(roomId), data)
	if s.maxLen > 0 {
		pipe.LTrim(ctx, s.messagesKey(roomId), -s.maxLen, -1)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("push message: %w", err)
	}

	return seqId, nil
}

func (s *RedisMessageStore) FetchRecent(ctx context.Context, roomId string, limit int) ([]types.Message, error) {
	if limit <= 0 {
		return []types.Message{}, nil
	}

	vals, err := s.client.LRange(ctx, s.messagesKey(roomId), int64(-limit), -1).Result()
	if err != nil {
		return nil, fmt.Errorf("lrange messages: %w", err)
	}

	msgs := make([]types.Message, 0, len(vals))
	for _, v := range vals {
		var msg types.Message
		if err := json.Unmarshal([]byte(v), &msg); err != nil {
			return nil, fmt.Errorf("unmarshal message: %w", err)
		}
		msgs = append(msgs, msg)
	}

	return msgs, nil
}

func (s *RedisMessageStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisMessageStore) Close() error {
	return s.client.Close()
}
