package xseckill

import (
	"strconv"

	"github.com/redis/go-redis/v9"
)

// 准入脚本的返回码。
const (
	admitOK        = 0 // 准入成功，订单消息已入流
	admitNoStock   = 1 // 库存不存在或已耗尽
	admitDuplicate = 2 // 该用户已购买过
)

// Redis key 约定。
const (
	// stockKeyPrefix 库存计数器（string，准入阶段的权威库存）。
	stockKeyPrefix = "seckill:stock:"

	// claimedKeyPrefix 已购用户集合（set，一人一单判定）。
	claimedKeyPrefix = "seckill:order:"
)

// admissionScript 在一次原子执行内完成准入判定与副作用：
// 库存校验、一人一单校验、扣减库存、记录购买者、订单消息入流。
// 任一校验失败立即返回，不产生任何写入。
//
// KEYS[1] 库存 key，KEYS[2] 已购集合 key，KEYS[3] 订单流 key；
// ARGV[1] 优惠券 ID，ARGV[2] 用户 ID，ARGV[3] 预生成的订单 ID。
var admissionScript = redis.NewScript(`
local stock = redis.call("GET", KEYS[1])
if not stock or tonumber(stock) <= 0 then
    return 1
end
if redis.call("SISMEMBER", KEYS[2], ARGV[2]) == 1 then
    return 2
end
redis.call("DECR", KEYS[1])
redis.call("SADD", KEYS[2], ARGV[2])
redis.call("XADD", KEYS[3], "*", "id", ARGV[3], "userId", ARGV[2], "voucherId", ARGV[1])
return 0
`)

// stockKey 返回优惠券的库存 key。
func stockKey(voucherID int64) string {
	return stockKeyPrefix + strconv.FormatInt(voucherID, 10)
}

// claimedKey 返回优惠券的已购用户集合 key。
func claimedKey(voucherID int64) string {
	return claimedKeyPrefix + strconv.FormatInt(voucherID, 10)
}
