package xseckill

import (
	"context"
	"time"
)

// Voucher 限量优惠券。
type Voucher struct {
	ID      int64     `json:"id"`
	Stock   int64     `json:"stock"`
	BeginAt time.Time `json:"beginAt"`
	EndAt   time.Time `json:"endAt"`
}

// Order 秒杀订单。ID 在准入阶段由 ID 生成器预先分配。
type Order struct {
	ID        int64     `json:"id"`
	UserID    int64     `json:"userId"`
	VoucherID int64     `json:"voucherId"`
	CreatedAt time.Time `json:"createdAt"`
}

// Store 订单的关系存储。
//
// CreateOrder 必须在一个事务内完成库存扣减与订单写入：
// 扣减以 stock > 0 为前置条件，不满足时返回 [ErrStockConflict]
// 且不产生任何写入。实现需保证同一 Order.ID 重复写入可被察觉
// 或被 HasOrder 前置检查拦截。
type Store interface {
	// GetVoucher 按 ID 加载优惠券，不存在返回 ErrVoucherNotFound。
	GetVoucher(ctx context.Context, id int64) (*Voucher, error)

	// HasOrder 判断用户是否已购买过该优惠券。
	HasOrder(ctx context.Context, userID, voucherID int64) (bool, error)

	// CreateOrder 事务性地扣减库存并写入订单。
	CreateOrder(ctx context.Context, order *Order) error
}
