// Package xcache 提供旁路缓存（Cache-Aside）客户端，针对三类缓存问题
// 内置对应策略：
//
//   - 缓存穿透：QueryWithPassthrough 在回源未命中时写入短 TTL 的空值标记，
//     后续对同一不存在 key 的查询不再触达数据库。
//   - 缓存击穿（互斥重建）：QueryWithMutex 在未命中时先经进程内 singleflight
//     合并，再以分布式锁保护回源，保证一个未命中窗口内数据库至多被查询一次；
//     未抢到锁的调用方退避等待后重读缓存。
//   - 缓存击穿（逻辑过期）：QueryWithLogicalExpiry 读取携带逻辑过期时间的
//     包装记录，过期后立即返回旧值，同时由独占重建锁 + 固定大小的后台
//     工作池异步刷新，同一 key 至多一个并发重建。该策略要求缓存预热
//     （SetLogical），不在请求路径上回源。
//
// # Key 约定
//
// 缓存 key 为 <domainPrefix><id>，例如 "cache:shop:7"；
// 重建锁 key 在其上再加 "lock:" 前缀。
//
// # 数据所有权
//
// Redis 是缓存值的唯一权威存储；Cache 本身不持有业务状态，
// 仅持有自己构造的重建工作池（Close 时一并关闭）。
//
// # 回源函数
//
// LoadFunc 以 ErrNotFound 表示源中不存在；其他错误会被包装为
// ErrSourceUnavailable 向调用方透传，且不会留下部分缓存写入。
package xcache
