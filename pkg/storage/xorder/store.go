package xorder

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/omeyang/hotkit/pkg/business/xseckill"
)

// ErrNilPool 表示传入的连接池为 nil。
var ErrNilPool = errors.New("xorder: nil pool")

// schema 订单库的表结构。
// EnsureSchema 幂等执行，适合在进程启动时调用。
const schema = `
CREATE TABLE IF NOT EXISTS seckill_vouchers (
    id        BIGINT PRIMARY KEY,
    stock     BIGINT NOT NULL CHECK (stock >= 0),
    begin_at  TIMESTAMPTZ NOT NULL,
    end_at    TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS voucher_orders (
    id          BIGINT PRIMARY KEY,
    user_id     BIGINT NOT NULL,
    voucher_id  BIGINT NOT NULL REFERENCES seckill_vouchers (id),
    created_at  TIMESTAMPTZ NOT NULL,
    UNIQUE (user_id, voucher_id)
);
`

// 确保 *Store 实现 xseckill.Store 接口
var _ xseckill.Store = (*Store)(nil)

// Store 基于 pgxpool 的订单存储。并发安全。
type Store struct {
	pool *pgxpool.Pool
}

// New 解析 DSN 并建立连接池。
func New(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("xorder: parse dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("xorder: connect: %w", err)
	}
	return &Store{pool: pool}, nil
}

// NewWithPool 复用已有的连接池，池的生命周期由调用方管理。
func NewWithPool(pool *pgxpool.Pool) (*Store, error) {
	if pool == nil {
		return nil, ErrNilPool
	}
	return &Store{pool: pool}, nil
}

// Close 关闭连接池。
func (s *Store) Close() {
	s.pool.Close()
}

// EnsureSchema 幂等地创建订单库表结构。
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("xorder: ensure schema: %w", err)
	}
	return nil
}

// SaveVoucher 写入或更新优惠券（发布与补库存共用）。
func (s *Store) SaveVoucher(ctx context.Context, v *xseckill.Voucher) error {
	_, err := s.pool.Exec(ctx, `
        INSERT INTO seckill_vouchers (id, stock, begin_at, end_at)
        VALUES ($1, $2, $3, $4)
        ON CONFLICT (id) DO UPDATE SET
          stock = EXCLUDED.stock,
          begin_at = EXCLUDED.begin_at,
          end_at = EXCLUDED.end_at
    `, v.ID, v.Stock, v.BeginAt, v.EndAt)
	if err != nil {
		return fmt.Errorf("xorder: save voucher %d: %w", v.ID, err)
	}
	return nil
}

// GetVoucher 按 ID 加载优惠券。
func (s *Store) GetVoucher(ctx context.Context, id int64) (*xseckill.Voucher, error) {
	var v xseckill.Voucher
	err := s.pool.QueryRow(ctx, `
        SELECT id, stock, begin_at, end_at
        FROM seckill_vouchers
        WHERE id = $1
    `, id).Scan(&v.ID, &v.Stock, &v.BeginAt, &v.EndAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: id=%d", xseckill.ErrVoucherNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("xorder: get voucher %d: %w", id, err)
	}
	return &v, nil
}

// HasOrder 判断用户是否已购买过该优惠券。
func (s *Store) HasOrder(ctx context.Context, userID, voucherID int64) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, `
        SELECT EXISTS (
            SELECT 1 FROM voucher_orders
            WHERE user_id = $1 AND voucher_id = $2
        )
    `, userID, voucherID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("xorder: check order user=%d voucher=%d: %w", userID, voucherID, err)
	}
	return exists, nil
}

// CreateOrder 在一个事务内扣减库存并写入订单。
// 扣减以 stock > 0 为条件，不满足返回 xseckill.ErrStockConflict
// 且整个事务回滚。
func (s *Store) CreateOrder(ctx context.Context, order *xseckill.Order) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("xorder: begin: %w", err)
	}
	defer func() {
		if tx != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	tag, err := tx.Exec(ctx, `
        UPDATE seckill_vouchers
        SET stock = stock - 1
        WHERE id = $1 AND stock > 0
    `, order.VoucherID)
	if err != nil {
		return fmt.Errorf("xorder: decrement stock voucher=%d: %w", order.VoucherID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: voucher=%d", xseckill.ErrStockConflict, order.VoucherID)
	}

	_, err = tx.Exec(ctx, `
        INSERT INTO voucher_orders (id, user_id, voucher_id, created_at)
        VALUES ($1, $2, $3, $4)
    `, order.ID, order.UserID, order.VoucherID, order.CreatedAt)
	if err != nil {
		return fmt.Errorf("xorder: insert order %d: %w", order.ID, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("xorder: commit: %w", err)
	}
	tx = nil
	return nil
}
