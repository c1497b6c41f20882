package xstream

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Stream 绑定一条 Redis 流与一个消费组。
type Stream struct {
	client redis.UniversalClient
	name   string
	group  string
}

// New 创建 Stream 实例。
// client 必须是已初始化的 redis.UniversalClient。
func New(client redis.UniversalClient, name, group string) (*Stream, error) {
	if client == nil {
		return nil, ErrNilClient
	}
	if name == "" {
		return nil, ErrEmptyStream
	}
	if group == "" {
		return nil, ErrEmptyGroup
	}
	return &Stream{client: client, name: name, group: group}, nil
}

// Name 返回流名。
func (s *Stream) Name() string { return s.name }

// Group 返回消费组名。
func (s *Stream) Group() string { return s.group }

// Client 返回底层的 go-redis 客户端。
func (s *Stream) Client() redis.UniversalClient { return s.client }

// EnsureGroup 幂等地创建消费组。
//
// 使用 MKSTREAM 在流不存在时一并创建，起始位置 "0" 使组能够
// 消费建组前已写入的消息。组已存在（BUSYGROUP）不视为错误，
// 适合在每次进程启动时调用。
func (s *Stream) EnsureGroup(ctx context.Context) error {
	err := s.client.XGroupCreateMkStream(ctx, s.name, s.group, "0").Err()
	if err != nil && !isBusyGroup(err) {
		return fmt.Errorf("xstream: create group %s on %s: %w", s.group, s.name, err)
	}
	return nil
}

// Add 追加一条消息，返回存储端分配的消息 ID。
func (s *Stream) Add(ctx context.Context, values map[string]any) (string, error) {
	id, err := s.client.XAdd(ctx, &redis.XAddArgs{
		Stream: s.name,
		Values: values,
	}).Result()
	if err != nil {
		return "", fmt.Errorf("xstream: add to %s: %w", s.name, err)
	}
	return id, nil
}

// ReadNew 以消费组身份读取尚未投递过的消息（offset ">"）。
//
// block 为阻塞等待上限；流中无新消息且等待超时返回 (nil, nil)。
// 读到的消息进入该 consumer 的 pending 集合，处理成功后须调用 Ack。
func (s *Stream) ReadNew(ctx context.Context, consumer string, count int64, block time.Duration) ([]redis.XMessage, error) {
	return s.readGroup(ctx, consumer, ">", count, block)
}

// ReadPending 从该 consumer 自己的最旧未确认位置读取（offset "0"）。
//
// 用于崩溃恢复：重新投递已投递但未 Ack 的消息。没有 pending 消息时
// 返回 (nil, nil)。
func (s *Stream) ReadPending(ctx context.Context, consumer string, count int64) ([]redis.XMessage, error) {
	return s.readGroup(ctx, consumer, "0", count, 0)
}

// readGroup 执行 XREADGROUP 并展开单流结果。
func (s *Stream) readGroup(ctx context.Context, consumer, offset string, count int64, block time.Duration) ([]redis.XMessage, error) {
	if consumer == "" {
		return nil, ErrEmptyConsumer
	}

	args := &redis.XReadGroupArgs{
		Group:    s.group,
		Consumer: consumer,
		Streams:  []string{s.name, offset},
		Count:    count,
	}
	if block > 0 {
		args.Block = block
	}

	res, err := s.client.XReadGroup(ctx, args).Result()
	if err != nil {
		// 无消息：阻塞超时返回 redis.Nil
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("xstream: read group %s on %s: %w", s.group, s.name, err)
	}
	if len(res) == 0 || len(res[0].Messages) == 0 {
		return nil, nil
	}
	return res[0].Messages, nil
}

// Ack 确认消息，将其从 pending 集合移除。
func (s *Stream) Ack(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	if err := s.client.XAck(ctx, s.name, s.group, ids...).Err(); err != nil {
		return fmt.Errorf("xstream: ack on %s: %w", s.name, err)
	}
	return nil
}

// isBusyGroup 判断错误是否为"消费组已存在"。
func isBusyGroup(err error) bool {
	return err != nil && strings.Contains(err.Error(), "BUSYGROUP")
}
