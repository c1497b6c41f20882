// Package xstream 提供 Redis Streams 消费组的薄封装。
//
// # 投递模型
//
// 一个 Stream 绑定一条流与一个消费组。组内多个消费者（各自唯一的
// consumer 名）分摊消息投递；消息投递后进入该消费者的 pending 集合，
// 直到被 Ack 确认。消费者崩溃时未确认的消息保留在 pending 集合中，
// 可通过 ReadPending 从最旧未确认位置重新读取——这是至少一次投递
// 语义的基础。
//
// # 使用
//
//	s, _ := xstream.New(client, "stream.orders", "g1")
//	_ = s.EnsureGroup(ctx)                       // 启动时幂等注册
//	msgs, _ := s.ReadNew(ctx, "c1", 1, 2*time.Second)
//	// 处理成功后：
//	_ = s.Ack(ctx, msgs[0].ID)
//
// 读取结果直接暴露 go-redis 的 XMessage 类型，不做二次包装。
package xstream
