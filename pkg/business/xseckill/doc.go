// Package xseckill 提供限量优惠券的秒杀准入与订单落库管道。
//
// 架构分为两段：
//
//   - 准入（Service.Purchase）：库存校验、一人一单校验、扣减库存与
//     订单消息入流在一个 Lua 脚本内原子完成。脚本返回即代表准入结论，
//     调用方立即拿到预生成的订单 ID，不等待数据库。
//   - 落库（Worker）：以消费组身份从 Redis 流读取订单消息，在用户级
//     分布式锁内幂等地写入关系存储，成功后 Ack。未确认的消息由
//     RunRecovery 周期性重放，崩溃不丢单。
//
// 库存的权威计数在准入阶段是 Redis（seckill:stock:<voucherID>），
// 落库阶段由存储端事务再次以 stock > 0 守护，两级防线共同保证不超卖。
//
// 投递语义为至少一次，落库通过一人一单检查与唯一订单 ID 实现幂等，
// 重复投递不会产生重复订单。
package xseckill
