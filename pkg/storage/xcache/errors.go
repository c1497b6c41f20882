package xcache

import "errors"

var (
	// ErrNilClient 表示传入的客户端为 nil。
	ErrNilClient = errors.New("xcache: nil client")

	// ErrNilLoader 表示回源函数为 nil。
	ErrNilLoader = errors.New("xcache: nil loader function")

	// ErrNotFound 表示值不存在。
	//
	// 三种情形统一返回该错误：缓存中是空值标记（已知不存在，不触达回源）；
	// 回源函数报告源中不存在；逻辑过期策略下 key 未预热。
	ErrNotFound = errors.New("xcache: value not found")

	// ErrSourceUnavailable 表示回源加载失败（数据库异常等）。
	// 包装原始错误，缓存层不做隐式重试。
	ErrSourceUnavailable = errors.New("xcache: source unavailable")

	// ErrLockContended 表示互斥策略在退避重试与阻塞式获取都耗尽后
	// 仍未拿到重建锁。回源只会在持有锁时发生，该错误保证本调用
	// 没有触达数据库。
	ErrLockContended = errors.New("xcache: rebuild lock contended")

	// ErrClosed 表示 Cache 已关闭。
	ErrClosed = errors.New("xcache: cache closed")
)
