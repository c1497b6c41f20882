package xseckill

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/omeyang/hotkit/pkg/mq/xstream"
	"github.com/omeyang/hotkit/pkg/storage/xcache"
	"github.com/omeyang/hotkit/pkg/util/xid"
)

// voucherCachePrefix 优惠券缓存的 key 前缀。
const voucherCachePrefix = "cache:voucher:"

// orderIDPrefix 订单 ID 生成器的业务前缀。
const orderIDPrefix = "order"

// DefaultVoucherTTL 优惠券缓存的默认 TTL。
const DefaultVoucherTTL = 30 * time.Minute

// Service 秒杀准入服务。
//
// Purchase 的快路径完全在 Redis 内完成，数据库只承担优惠券元数据的
// 回源加载（经缓存，带空值防穿透）与后续的异步落库。
type Service struct {
	client     redis.UniversalClient
	ids        *xid.Generator
	stream     *xstream.Stream
	store      Store
	cache      *xcache.Cache
	voucherTTL time.Duration
	logger     *slog.Logger
	now        func() time.Time
}

// ServiceOption 定义配置 Service 的函数类型。
type ServiceOption func(*Service)

// WithVoucherTTL 设置优惠券缓存的 TTL。
func WithVoucherTTL(ttl time.Duration) ServiceOption {
	return func(s *Service) {
		if ttl > 0 {
			s.voucherTTL = ttl
		}
	}
}

// WithServiceLogger 设置 Service 的 Logger。传入 nil 禁用日志输出。
func WithServiceLogger(logger *slog.Logger) ServiceOption {
	return func(s *Service) {
		s.logger = logger
	}
}

// WithServiceNow 设置时钟函数，测试中用于注入固定时间。
func WithServiceNow(now func() time.Time) ServiceOption {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// NewService 创建秒杀准入服务。
//
// 启动即把准入脚本加载进 Redis 脚本缓存，脚本有语法问题在这里
// 暴露而不是在第一笔请求时；同时幂等地创建订单流的消费组。
func NewService(ctx context.Context, client redis.UniversalClient, ids *xid.Generator,
	stream *xstream.Stream, store Store, cache *xcache.Cache, opts ...ServiceOption) (*Service, error) {
	if client == nil {
		return nil, ErrNilClient
	}
	if ids == nil {
		return nil, ErrNilGenerator
	}
	if stream == nil {
		return nil, ErrNilStream
	}
	if store == nil {
		return nil, ErrNilStore
	}
	if cache == nil {
		return nil, ErrNilCache
	}

	s := &Service{
		client:     client,
		ids:        ids,
		stream:     stream,
		store:      store,
		cache:      cache,
		voucherTTL: DefaultVoucherTTL,
		logger:     slog.Default(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}

	if err := EnsureAdmission(ctx, client, stream); err != nil {
		return nil, err
	}
	return s, nil
}

// EnsureAdmission 把准入脚本加载进 Redis 脚本缓存并幂等地创建
// 订单流的消费组。NewService 内部已调用；只运行消费端的进程
// （不构造 Service）可单独调用它完成启动校验。
func EnsureAdmission(ctx context.Context, client redis.UniversalClient, stream *xstream.Stream) error {
	if client == nil {
		return ErrNilClient
	}
	if stream == nil {
		return ErrNilStream
	}

	if err := admissionScript.Load(ctx, client).Err(); err != nil {
		return fmt.Errorf("xseckill: load admission script: %w", err)
	}
	return stream.EnsureGroup(ctx)
}

// PrewarmVoucher 发布优惠券：写入准入库存并预热元数据缓存。
// 库存 key 不设 TTL，活动下线由运营侧显式清理。
func (s *Service) PrewarmVoucher(ctx context.Context, v *Voucher) error {
	if v == nil {
		return fmt.Errorf("%w: nil voucher", ErrVoucherNotFound)
	}

	if err := s.client.Set(ctx, stockKey(v.ID), v.Stock, 0).Err(); err != nil {
		return fmt.Errorf("xseckill: prewarm stock for voucher %d: %w", v.ID, err)
	}
	if err := s.cache.Set(ctx, voucherCacheKey(v.ID), v, s.voucherTTL); err != nil {
		return err
	}
	if s.logger != nil {
		s.logger.Info("xseckill: voucher prewarmed", "voucherId", v.ID, "stock", v.Stock)
	}
	return nil
}

// Purchase 秒杀下单。
//
// 成功返回预生成的订单 ID，此时订单消息已原子地写入订单流，
// 落库由 Worker 异步完成。拒绝原因通过错误区分：
// [ErrVoucherNotFound]、[ErrSaleNotStarted]、[ErrSaleEnded]、
// [ErrStockInsufficient]、[ErrDuplicateOrder]。
func (s *Service) Purchase(ctx context.Context, voucherID, userID int64) (int64, error) {
	v, err := s.loadVoucher(ctx, voucherID)
	if err != nil {
		return 0, err
	}

	now := s.now()
	if now.Before(v.BeginAt) {
		return 0, fmt.Errorf("%w: voucher %d begins at %s", ErrSaleNotStarted, voucherID, v.BeginAt.Format(time.RFC3339))
	}
	if now.After(v.EndAt) {
		return 0, fmt.Errorf("%w: voucher %d ended at %s", ErrSaleEnded, voucherID, v.EndAt.Format(time.RFC3339))
	}

	orderID, err := s.ids.NextID(ctx, orderIDPrefix)
	if err != nil {
		return 0, fmt.Errorf("xseckill: mint order id: %w", err)
	}

	verdict, err := admissionScript.Run(ctx, s.client,
		[]string{stockKey(voucherID), claimedKey(voucherID), s.stream.Name()},
		voucherID, userID, orderID,
	).Int()
	if err != nil {
		return 0, fmt.Errorf("xseckill: run admission script: %w", err)
	}

	switch verdict {
	case admitOK:
		return orderID, nil
	case admitNoStock:
		return 0, ErrStockInsufficient
	case admitDuplicate:
		return 0, ErrDuplicateOrder
	default:
		return 0, fmt.Errorf("xseckill: unexpected admission verdict %d", verdict)
	}
}

// loadVoucher 经缓存加载优惠券元数据（旁路 + 空值防穿透）。
func (s *Service) loadVoucher(ctx context.Context, voucherID int64) (*Voucher, error) {
	v, err := xcache.QueryWithPassthrough(ctx, s.cache, voucherCachePrefix,
		strconv.FormatInt(voucherID, 10), s.voucherLoader, s.voucherTTL)
	if err != nil {
		if errors.Is(err, xcache.ErrNotFound) {
			return nil, fmt.Errorf("%w: id=%d", ErrVoucherNotFound, voucherID)
		}
		return nil, fmt.Errorf("xseckill: load voucher %d: %w", voucherID, err)
	}
	return &v, nil
}

// voucherLoader 适配 Store.GetVoucher 为缓存回源函数。
func (s *Service) voucherLoader(ctx context.Context, id string) (Voucher, error) {
	voucherID, err := strconv.ParseInt(id, 10, 64)
	if err != nil {
		return Voucher{}, fmt.Errorf("xseckill: bad voucher id %q: %w", id, err)
	}

	v, err := s.store.GetVoucher(ctx, voucherID)
	if err != nil {
		if errors.Is(err, ErrVoucherNotFound) {
			return Voucher{}, xcache.ErrNotFound
		}
		return Voucher{}, err
	}
	return *v, nil
}

// voucherCacheKey 返回优惠券的缓存 key。
func voucherCacheKey(voucherID int64) string {
	return voucherCachePrefix + strconv.FormatInt(voucherID, 10)
}
