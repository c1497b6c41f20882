// Package xdlock 提供基于 Redis 的分布式互斥锁。
//
// # 核心语义
//
// 锁在 Redis 中表现为一个带 TTL 的 key，value 是本次获取生成的唯一持有者令牌。
// 释放锁时通过 Lua 脚本在一次原子操作中比较令牌并删除 key：
// 令牌不匹配（锁已过期并被其他持有者重新获取）时不做任何删除，
// 保证延迟到达的释放不会破坏新持有者的锁。
//
// # 两种实现
//
//   - NewTokenFactory：单节点令牌锁（SET NX + Lua 释放），
//     适用于缓存重建、消费者去重等短临界区。
//   - NewRedsyncFactory：基于 redsync 的实现，多节点时执行 Redlock 算法，
//     适用于跨实例串行化业务写入（如按用户的订单落库锁）。
//
// # 使用模式
//
//	handle, err := factory.TryLock(ctx, "order:1001")
//	if err != nil {
//	    return err // 锁服务异常
//	}
//	if handle == nil {
//	    return nil // 锁被其他持有者占用，竞争失败是正常结果
//	}
//	defer handle.Unlock(ctx)
//
// 锁 key 约定为 lock:<resource>:<id>，前缀通过 WithKeyPrefix 配置。
package xdlock
