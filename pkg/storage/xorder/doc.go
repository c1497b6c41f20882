// Package xorder 提供秒杀订单的 PostgreSQL 存储实现。
//
// Store 实现 xseckill.Store：优惠券读取、一人一单检查、以及
// "扣减库存 + 写入订单"的单事务落库。库存扣减以 stock > 0 为
// 前置条件在 SQL 层守护，与准入层的 Redis 计数构成双重防线。
package xorder
