// Package xid 提供集群全局唯一的 64 位 ID 生成器。
//
// # ID 结构
//
// ID 由两部分拼接而成（共 63 个有效位）：
//
//	| 31 bits 时间偏移（秒） | 32 bits 当日自增序列 |
//
// 时间偏移为当前时间减去固定纪元锚点（默认 2024-01-01T00:00:00Z）的秒数，
// 占据高位，保证 ID 跨天大致按时间递增；低 32 位来自 Redis INCR 的
// 按 (前缀, 自然日) 分段计数器，同一天内严格递增。
//
// 计数器 key 按天分段（incr:<prefix>:<yyyy:MM:dd>）以限制单 key 的增长，
// 避免序列溢出；INCR 在存储端原子执行，节点之间无需任何协调。
//
// # 使用
//
//	gen, _ := xid.NewGenerator(client)
//	orderID, err := gen.NextID(ctx, "order")
package xid
