package xseckill

import "errors"

var (
	// ErrNilClient 表示传入的 Redis 客户端为 nil。
	ErrNilClient = errors.New("xseckill: nil client")

	// ErrNilGenerator 表示传入的 ID 生成器为 nil。
	ErrNilGenerator = errors.New("xseckill: nil id generator")

	// ErrNilStream 表示传入的订单流为 nil。
	ErrNilStream = errors.New("xseckill: nil stream")

	// ErrNilStore 表示传入的订单存储为 nil。
	ErrNilStore = errors.New("xseckill: nil store")

	// ErrNilCache 表示传入的缓存客户端为 nil。
	ErrNilCache = errors.New("xseckill: nil cache")

	// ErrNilLockFactory 表示传入的锁工厂为 nil。
	ErrNilLockFactory = errors.New("xseckill: nil lock factory")

	// ErrEmptyConsumer 表示消费者名为空。
	ErrEmptyConsumer = errors.New("xseckill: empty consumer name")

	// ErrVoucherNotFound 表示优惠券不存在。
	ErrVoucherNotFound = errors.New("xseckill: voucher not found")

	// ErrSaleNotStarted 表示秒杀尚未开始。
	ErrSaleNotStarted = errors.New("xseckill: sale not started")

	// ErrSaleEnded 表示秒杀已经结束。
	ErrSaleEnded = errors.New("xseckill: sale ended")

	// ErrStockInsufficient 表示库存不足，请求被准入脚本拒绝。
	ErrStockInsufficient = errors.New("xseckill: insufficient stock")

	// ErrDuplicateOrder 表示该用户已下过单（一人一单）。
	ErrDuplicateOrder = errors.New("xseckill: duplicate order")

	// ErrStockConflict 表示落库时存储端库存已耗尽。
	// 准入与落库之间的窗口内库存被外部修改才会出现，属于终态拒绝。
	ErrStockConflict = errors.New("xseckill: stock conflict on persist")

	// ErrBadMessage 表示流中的消息缺失字段或无法解析。
	// 这类消息会被复制到死信流并确认，不参与重试。
	ErrBadMessage = errors.New("xseckill: malformed stream message")
)
