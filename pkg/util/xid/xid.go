package xid

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	// ErrNilClient 表示传入的 Redis 客户端为 nil。
	ErrNilClient = errors.New("xid: client is nil")

	// ErrEmptyPrefix 表示业务前缀为空字符串。
	ErrEmptyPrefix = errors.New("xid: empty prefix")

	// ErrSequenceOverflow 表示当日序列超出 32 位可用空间。
	// 单前缀单日超过 2^32 次生成才会触发，视为配置或滥用问题。
	ErrSequenceOverflow = errors.New("xid: daily sequence overflow")

	// ErrInvalidEpoch 表示纪元锚点在当前时间之后。
	ErrInvalidEpoch = errors.New("xid: epoch is in the future")
)

// ID 位布局常量。
const (
	// sequenceBits 当日序列占用的位数。
	sequenceBits = 32

	// maxSequence 当日序列的最大值。
	maxSequence = int64(1)<<sequenceBits - 1
)

// DefaultEpoch 默认纪元锚点（2024-01-01T00:00:00Z）。
// 部署后不可变更，否则新旧 ID 的时间序关系会被破坏。
var DefaultEpoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// counterKeyLayout 计数器 key 的日期格式（incr:<prefix>:<yyyy:MM:dd>）。
const counterKeyLayout = "2006:01:02"

// Generator 分布式唯一 ID 生成器。
//
// 所有方法都是并发安全的；唯一性由存储端 INCR 的原子性保证，
// 多节点部署无需额外协调。
type Generator struct {
	client redis.UniversalClient
	epoch  time.Time
	now    func() time.Time
}

// Option 定义配置 Generator 的函数类型。
type Option func(*Generator)

// WithEpoch 设置纪元锚点。
// 仅用于新部署；已有 ID 的系统变更锚点会破坏时间序。
func WithEpoch(epoch time.Time) Option {
	return func(g *Generator) {
		if !epoch.IsZero() {
			g.epoch = epoch
		}
	}
}

// WithNow 设置时钟函数，测试中用于注入固定时间。
func WithNow(now func() time.Time) Option {
	return func(g *Generator) {
		if now != nil {
			g.now = now
		}
	}
}

// NewGenerator 创建 ID 生成器。
// client 必须是已初始化的 redis.UniversalClient。
func NewGenerator(client redis.UniversalClient, opts ...Option) (*Generator, error) {
	if client == nil {
		return nil, ErrNilClient
	}

	g := &Generator{
		client: client,
		epoch:  DefaultEpoch,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// NextID 生成下一个全局唯一 ID。
//
// prefix 区分业务域（如 "order"），不同前缀使用独立的计数器。
// 同一前缀同一自然日内，ID 按生成顺序严格递增。
func (g *Generator) NextID(ctx context.Context, prefix string) (int64, error) {
	if prefix == "" {
		return 0, ErrEmptyPrefix
	}

	now := g.now().UTC()
	offset := now.Unix() - g.epoch.Unix()
	if offset < 0 {
		return 0, fmt.Errorf("%w: epoch=%s now=%s", ErrInvalidEpoch, g.epoch, now)
	}

	seq, err := g.client.Incr(ctx, g.counterKey(prefix, now)).Result()
	if err != nil {
		return 0, fmt.Errorf("xid: increment counter: %w", err)
	}
	if seq > maxSequence {
		return 0, fmt.Errorf("%w: prefix=%s seq=%d", ErrSequenceOverflow, prefix, seq)
	}

	return offset<<sequenceBits | seq, nil
}

// counterKey 返回按天分段的计数器 key。
func (g *Generator) counterKey(prefix string, now time.Time) string {
	return "incr:" + prefix + ":" + now.Format(counterKeyLayout)
}
