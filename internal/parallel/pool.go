// Package parallel provides the worker pool used to record render work on
// several goroutines.
//
// Every worker has a stable id in [0, Workers()). Tasks receive the id of the
// worker that runs them, which lets callers index per-worker state such as
// frame allocators without locking.
package parallel

import (
	"runtime"
	"sync"
	"sync/atomic"
)

// Task is a unit of work. worker is the id of the goroutine running it.
type Task func(worker int)

// WorkerPool is a pool of goroutines with per-worker queues.
//
// Work is distributed round-robin. A worker whose queue is empty steals from
// the other queues, so a stolen task runs with the thief's id.
//
// Thread safety: WorkerPool is safe for concurrent use.
type WorkerPool struct {
	workers int

	// workQueues holds per-worker work queues.
	workQueues []chan Task

	done    chan struct{}
	wg      sync.WaitGroup
	running atomic.Bool

	// closeMu orders Close after in-flight submissions.
	closeMu sync.RWMutex
}

// NewWorkerPool creates a pool with the given number of workers.
// If workers is 0 or negative, GOMAXPROCS is used.
func NewWorkerPool(workers int) *WorkerPool {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}

	queueSize := max(workers*4, 8)

	p := &WorkerPool{
		workers:    workers,
		workQueues: make([]chan Task, workers),
		done:       make(chan struct{}),
	}
	for i := range workers {
		p.workQueues[i] = make(chan Task, queueSize)
	}

	p.running.Store(true)
	p.wg.Add(workers)
	for i := range workers {
		go p.worker(i)
	}
	return p
}

func (p *WorkerPool) worker(id int) {
	defer p.wg.Done()

	myQueue := p.workQueues[id]
	for {
		select {
		case <-p.done:
			p.drainQueue(id, myQueue)
			return
		case task := <-myQueue:
			run(task, id)
		default:
			if stolen := p.steal(id); stolen != nil {
				run(stolen, id)
				continue
			}
			select {
			case <-p.done:
				p.drainQueue(id, myQueue)
				return
			case task := <-myQueue:
				run(task, id)
			}
		}
	}
}

func run(task Task, id int) {
	if task != nil {
		task(id)
	}
}

// drainQueue runs all remaining work in a queue.
func (p *WorkerPool) drainQueue(id int, queue chan Task) {
	for {
		select {
		case task := <-queue:
			run(task, id)
		default:
			return
		}
	}
}

// steal takes work from another worker's queue, or returns nil.
func (p *WorkerPool) steal(myID int) Task {
	for i := range p.workers {
		if i == myID {
			continue
		}
		select {
		case task := <-p.workQueues[i]:
			return task
		default:
		}
	}
	return nil
}

// ExecuteAll distributes tasks across workers and waits for all of them.
// If the pool is closed, ExecuteAll runs nothing and returns false.
func (p *WorkerPool) ExecuteAll(tasks []Task) bool {
	if len(tasks) == 0 {
		return true
	}

	p.closeMu.RLock()
	defer p.closeMu.RUnlock()
	if !p.running.Load() {
		return false
	}

	var completion sync.WaitGroup
	completion.Add(len(tasks))
	for i, task := range tasks {
		p.workQueues[i%p.workers] <- func(worker int) {
			defer completion.Done()
			run(task, worker)
		}
	}
	completion.Wait()
	return true
}

// ForEach runs fn for every index in [0, n) on the pool and waits.
// Indices are split into contiguous chunks, at most a few per worker.
func (p *WorkerPool) ForEach(n int, fn func(worker, i int)) bool {
	if n <= 0 {
		return true
	}
	chunks := min(n, p.workers*4)
	size := (n + chunks - 1) / chunks

	tasks := make([]Task, 0, chunks)
	for start := 0; start < n; start += size {
		end := min(start+size, n)
		tasks = append(tasks, func(worker int) {
			for i := start; i < end; i++ {
				fn(worker, i)
			}
		})
	}
	return p.ExecuteAll(tasks)
}

// Submit queues a single task on the worker with the shortest queue.
// If the pool is closed, Submit is a no-op and returns false.
func (p *WorkerPool) Submit(task Task) bool {
	if task == nil {
		return false
	}

	p.closeMu.RLock()
	defer p.closeMu.RUnlock()
	if !p.running.Load() {
		return false
	}

	minLen := len(p.workQueues[0])
	minIdx := 0
	for i := 1; i < p.workers; i++ {
		if l := len(p.workQueues[i]); l < minLen {
			minLen = l
			minIdx = i
		}
	}
	p.workQueues[minIdx] <- task
	return true
}

// Close stops accepting work, runs everything already queued and stops the
// workers. Close is safe to call multiple times.
func (p *WorkerPool) Close() {
	p.closeMu.Lock()
	if !p.running.CompareAndSwap(true, false) {
		p.closeMu.Unlock()
		return
	}
	close(p.done)
	p.closeMu.Unlock()

	p.wg.Wait()
}

// Workers returns the number of workers in the pool.
func (p *WorkerPool) Workers() int {
	return p.workers
}

// IsRunning returns true if the pool is still accepting work.
func (p *WorkerPool) IsRunning() bool {
	return p.running.Load()
}

// QueuedWork returns the approximate number of queued tasks.
func (p *WorkerPool) QueuedWork() int {
	total := 0
	for _, q := range p.workQueues {
		total += len(q)
	}
	return total
}
