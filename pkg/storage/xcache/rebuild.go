package xcache

import (
	"context"
	"sync"
)

// rebuildTask 一次后台重建。ctx 在池关闭时取消。
type rebuildTask func(ctx context.Context)

// rebuildPool 固定大小的后台重建工作池。
//
// 由 Cache 显式构造并持有，生命周期与 Cache 一致。
// 队列满时 submit 返回 false，调用方放弃本次重建。
type rebuildPool struct {
	tasks  chan rebuildTask
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

// newRebuildPool 创建并启动工作池。
func newRebuildPool(workers, queue int) *rebuildPool {
	ctx, cancel := context.WithCancel(context.Background())
	p := &rebuildPool{
		tasks:  make(chan rebuildTask, queue),
		ctx:    ctx,
		cancel: cancel,
	}

	p.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer p.wg.Done()
			for task := range p.tasks {
				task(p.ctx)
			}
		}()
	}
	return p
}

// submit 非阻塞提交任务。队列已满或池已关闭时返回 false。
func (p *rebuildPool) submit(task rebuildTask) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return false
	}
	select {
	case p.tasks <- task:
		return true
	default:
		return false
	}
}

// close 停止接收新任务，排空队列并等待在途任务完成。
func (p *rebuildPool) close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.tasks)
	p.mu.Unlock()

	p.wg.Wait()
	p.cancel()
}
