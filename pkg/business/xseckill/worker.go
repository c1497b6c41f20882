package xseckill

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	retry "github.com/avast/retry-go/v5"
	"github.com/redis/go-redis/v9"

	"github.com/omeyang/hotkit/pkg/distributed/xdlock"
	"github.com/omeyang/hotkit/pkg/mq/xstream"
)

// 默认配置值。
const (
	// DefaultBlock 读取新消息的阻塞等待上限。
	DefaultBlock = 2 * time.Second

	// DefaultErrorBackoff 处理失败后的退避时间。
	DefaultErrorBackoff = 200 * time.Millisecond

	// DefaultRecoveryInterval pending 消息重放的扫描间隔。
	DefaultRecoveryInterval = 2 * time.Second
)

// orderLockPrefix 用户级订单锁的 key 前缀（锁工厂会再加自身前缀）。
const orderLockPrefix = "order:"

// pendingBatchSize 每轮恢复读取的 pending 消息数。
const pendingBatchSize = 16

// errLockContended 表示用户级订单锁被其他消费者持有。
// 暂时性失败，消息保持未确认等待重放。
var errLockContended = errors.New("xseckill: order lock contended")

// Worker 订单落库消费者。
//
// Run 消费新消息，RunRecovery 重放已投递未确认的消息，二者配合
// 提供至少一次的落库保证。两个循环都只在 ctx 取消时退出，
// 单条消息的处理失败不会终止消费。
type Worker struct {
	stream           *xstream.Stream
	store            Store
	locks            xdlock.Factory
	consumer         string
	deadLetter       string
	block            time.Duration
	errBackoff       time.Duration
	recoveryInterval time.Duration
	logger           *slog.Logger
}

// WorkerOption 定义配置 Worker 的函数类型。
type WorkerOption func(*Worker)

// WithBlock 设置读取新消息的阻塞等待上限。
func WithBlock(d time.Duration) WorkerOption {
	return func(w *Worker) {
		if d > 0 {
			w.block = d
		}
	}
}

// WithDeadLetter 设置死信流名，默认 <stream>:dead。
func WithDeadLetter(name string) WorkerOption {
	return func(w *Worker) {
		if name != "" {
			w.deadLetter = name
		}
	}
}

// WithErrorBackoff 设置处理失败后的退避时间。
func WithErrorBackoff(d time.Duration) WorkerOption {
	return func(w *Worker) {
		if d > 0 {
			w.errBackoff = d
		}
	}
}

// WithRecoveryInterval 设置 pending 重放的扫描间隔。
func WithRecoveryInterval(d time.Duration) WorkerOption {
	return func(w *Worker) {
		if d > 0 {
			w.recoveryInterval = d
		}
	}
}

// WithWorkerLogger 设置 Worker 的 Logger。传入 nil 禁用日志输出。
func WithWorkerLogger(logger *slog.Logger) WorkerOption {
	return func(w *Worker) {
		w.logger = logger
	}
}

// NewWorker 创建订单落库消费者。
// consumer 是该实例在消费组内的身份，崩溃重启后须复用同一名字
// 才能通过 RunRecovery 取回自己的 pending 消息。
func NewWorker(stream *xstream.Stream, store Store, locks xdlock.Factory,
	consumer string, opts ...WorkerOption) (*Worker, error) {
	if stream == nil {
		return nil, ErrNilStream
	}
	if store == nil {
		return nil, ErrNilStore
	}
	if locks == nil {
		return nil, ErrNilLockFactory
	}
	if consumer == "" {
		return nil, ErrEmptyConsumer
	}

	w := &Worker{
		stream:           stream,
		store:            store,
		locks:            locks,
		consumer:         consumer,
		deadLetter:       stream.Name() + ":dead",
		block:            DefaultBlock,
		errBackoff:       DefaultErrorBackoff,
		recoveryInterval: DefaultRecoveryInterval,
		logger:           slog.Default(),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// Run 消费订单流的新消息，直到 ctx 取消。
//
// 处理失败的消息保持未确认，由 RunRecovery 重放；消费循环本身
// 不因单条消息失败而退出。
func (w *Worker) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		msgs, err := w.stream.ReadNew(ctx, w.consumer, 1, w.block)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			w.logWarn("xseckill: read orders stream failed", "error", err)
			w.sleep(ctx, w.errBackoff)
			continue
		}

		for _, msg := range msgs {
			if herr := w.handle(ctx, msg); herr != nil {
				w.logWarn("xseckill: order persist failed, message left pending",
					"messageId", msg.ID, "error", herr)
				w.sleep(ctx, w.errBackoff)
			}
		}
	}
}

// RunRecovery 周期性重放该 consumer 已投递未确认的消息，直到 ctx 取消。
func (w *Worker) RunRecovery(ctx context.Context) error {
	ticker := time.NewTicker(w.recoveryInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		if err := w.drainPending(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			w.logWarn("xseckill: pending replay failed", "error", err)
		}
	}
}

// handle 处理一条新消息。
// 解码失败的消息进死信流并确认；落库成功后确认；
// 暂时性失败返回错误且不确认。
func (w *Worker) handle(ctx context.Context, msg redis.XMessage) error {
	order, derr := decodeOrder(msg)
	if derr != nil {
		w.toDeadLetter(ctx, msg, derr)
		return w.stream.Ack(ctx, msg.ID)
	}

	if err := w.persist(ctx, order); err != nil {
		return err
	}
	return w.stream.Ack(ctx, msg.ID)
}

// drainPending 取回并处理该 consumer 的全部 pending 消息。
func (w *Worker) drainPending(ctx context.Context) error {
	for {
		msgs, err := w.stream.ReadPending(ctx, w.consumer, pendingBatchSize)
		if err != nil {
			return err
		}
		if len(msgs) == 0 {
			return nil
		}

		for _, msg := range msgs {
			if rerr := w.redeliver(ctx, msg); rerr != nil {
				return rerr
			}
		}
	}
}

// redeliver 重放一条 pending 消息。
// 落库不限次数重试，直到成功或 ctx 取消；消息不会被丢弃。
func (w *Worker) redeliver(ctx context.Context, msg redis.XMessage) error {
	order, derr := decodeOrder(msg)
	if derr != nil {
		w.toDeadLetter(ctx, msg, derr)
		return w.stream.Ack(ctx, msg.ID)
	}

	err := retry.New(
		retry.Context(ctx),
		retry.UntilSucceeded(),
		retry.DelayType(func(_ uint, _ error, _ retry.DelayContext) time.Duration {
			return w.errBackoff
		}),
		retry.LastErrorOnly(true),
	).Do(func() error {
		return w.persist(ctx, order)
	})
	if err != nil {
		return err
	}
	return w.stream.Ack(ctx, msg.ID)
}

// persist 在用户级分布式锁内幂等落库。
//
// 一人一单检查命中（消息重复投递）与存储端库存冲突都是终态，
// 返回 nil 让消息被确认；锁竞争与存储故障是暂时性失败。
func (w *Worker) persist(ctx context.Context, order *Order) error {
	handle, err := w.locks.TryLock(ctx, orderLockPrefix+strconv.FormatInt(order.UserID, 10))
	if err != nil {
		return err
	}
	if handle == nil {
		return errLockContended
	}
	defer w.unlock(handle)

	dup, err := w.store.HasOrder(ctx, order.UserID, order.VoucherID)
	if err != nil {
		return err
	}
	if dup {
		// 重复投递：订单已落库，确认即可
		return nil
	}

	if cerr := w.store.CreateOrder(ctx, order); cerr != nil {
		if errors.Is(cerr, ErrStockConflict) {
			w.logWarn("xseckill: stock exhausted at persist, order dropped",
				"orderId", order.ID, "voucherId", order.VoucherID)
			return nil
		}
		return cerr
	}
	return nil
}

// toDeadLetter 把无法解析的消息复制到死信流，保留原始字段并附加原因。
func (w *Worker) toDeadLetter(ctx context.Context, msg redis.XMessage, cause error) {
	values := make(map[string]any, len(msg.Values)+2)
	for k, v := range msg.Values {
		values[k] = v
	}
	values["sourceId"] = msg.ID
	values["reason"] = cause.Error()

	if err := w.stream.Client().XAdd(ctx, &redis.XAddArgs{
		Stream: w.deadLetter,
		Values: values,
	}).Err(); err != nil {
		w.logWarn("xseckill: dead-letter write failed", "messageId", msg.ID, "error", err)
		return
	}
	w.logWarn("xseckill: malformed message moved to dead letter",
		"messageId", msg.ID, "reason", cause.Error())
}

// unlock 释放订单锁，使用独立超时的 ctx。
func (w *Worker) unlock(handle xdlock.LockHandle) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := handle.Unlock(ctx); err != nil && !errors.Is(err, xdlock.ErrNotLocked) {
		w.logWarn("xseckill: unlock order lock failed", "key", handle.Key(), "error", err)
	}
}

// sleep 等待 d，ctx 取消时提前返回。
func (w *Worker) sleep(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

// logWarn 记录警告日志（如果配置了 Logger）。
func (w *Worker) logWarn(msg string, args ...any) {
	if w.logger != nil {
		w.logger.Warn(msg, args...)
	}
}

// decodeOrder 从流消息解析订单。字段缺失或非法返回 ErrBadMessage。
func decodeOrder(msg redis.XMessage) (*Order, error) {
	id, err := int64Field(msg, "id")
	if err != nil {
		return nil, err
	}
	userID, err := int64Field(msg, "userId")
	if err != nil {
		return nil, err
	}
	voucherID, err := int64Field(msg, "voucherId")
	if err != nil {
		return nil, err
	}

	return &Order{
		ID:        id,
		UserID:    userID,
		VoucherID: voucherID,
		CreatedAt: time.Now(),
	}, nil
}

// int64Field 读取并解析消息中的整型字段。
func int64Field(msg redis.XMessage, name string) (int64, error) {
	raw, ok := msg.Values[name]
	if !ok {
		return 0, fmt.Errorf("%w: missing field %q in %s", ErrBadMessage, name, msg.ID)
	}
	str, ok := raw.(string)
	if !ok {
		return 0, fmt.Errorf("%w: field %q in %s is not a string", ErrBadMessage, name, msg.ID)
	}
	n, err := strconv.ParseInt(str, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: field %q in %s: %v", ErrBadMessage, name, msg.ID, err)
	}
	return n, nil
}
