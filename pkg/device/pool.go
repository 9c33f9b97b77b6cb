package device

import (
	"sync"
	"sync/atomic"
)

// workerPool runs thread groups on a fixed set of goroutines.
//
// Every worker owns a queue. Groups are dealt round-robin; a worker whose
// queue is empty steals from its neighbours before blocking, which keeps the
// pool busy when some groups (rays through dense tissue) run longer than
// others.
type workerPool struct {
	workers int
	queues  []chan func()
	done    chan struct{}
	wg      sync.WaitGroup
	running atomic.Bool
}

func newWorkerPool(workers int) *workerPool {
	if workers < 1 {
		workers = 1
	}
	depth := workers * 4
	if depth < 8 {
		depth = 8
	}

	p := &workerPool{
		workers: workers,
		queues:  make([]chan func(), workers),
		done:    make(chan struct{}),
	}
	for i := range workers {
		p.queues[i] = make(chan func(), depth)
	}
	p.running.Store(true)

	p.wg.Add(workers)
	for i := range workers {
		go p.loop(i)
	}
	return p
}

func (p *workerPool) loop(id int) {
	defer p.wg.Done()
	own := p.queues[id]

	for {
		select {
		case <-p.done:
			p.drain(own)
			return
		case fn := <-own:
			fn()
		default:
			if fn := p.steal(id); fn != nil {
				fn()
				continue
			}
			select {
			case <-p.done:
				p.drain(own)
				return
			case fn := <-own:
				fn()
			}
		}
	}
}

func (p *workerPool) drain(q chan func()) {
	for {
		select {
		case fn := <-q:
			fn()
		default:
			return
		}
	}
}

func (p *workerPool) steal(id int) func() {
	for i := 1; i < p.workers; i++ {
		select {
		case fn := <-p.queues[(id+i)%p.workers]:
			return fn
		default:
		}
	}
	return nil
}

// run executes every group and returns when all of them have finished. On a
// closed pool the groups run on the calling goroutine.
func (p *workerPool) run(groups []func()) {
	if len(groups) == 0 {
		return
	}
	if !p.running.Load() {
		for _, fn := range groups {
			fn()
		}
		return
	}

	var wg sync.WaitGroup
	wg.Add(len(groups))
	for i, fn := range groups {
		task := fn
		wrapped := func() {
			defer wg.Done()
			task()
		}
		select {
		case p.queues[i%p.workers] <- wrapped:
		case <-p.done:
			wrapped()
		}
	}
	wg.Wait()
}

func (p *workerPool) close() {
	if !p.running.CompareAndSwap(true, false) {
		return
	}
	close(p.done)
	p.wg.Wait()
}
