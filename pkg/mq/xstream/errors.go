package xstream

import "errors"

var (
	// ErrNilClient 表示传入的 Redis 客户端为 nil。
	ErrNilClient = errors.New("xstream: client is nil")

	// ErrEmptyStream 表示流名为空字符串。
	ErrEmptyStream = errors.New("xstream: empty stream name")

	// ErrEmptyGroup 表示消费组名为空字符串。
	ErrEmptyGroup = errors.New("xstream: empty group name")

	// ErrEmptyConsumer 表示消费者名为空字符串。
	ErrEmptyConsumer = errors.New("xstream: empty consumer name")
)
