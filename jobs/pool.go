package jobs

import (
	"context"
	"fmt"
	"sync"

	apperrors "github.com/RaelFilh96/Analise-de-Aderencia/errors"
)

const (
	DefaultWorkers   = 4
	DefaultQueueSize = 8
)

// Task is a unit of work run by the pool. Run receives a context that is
// cancelled when the pool closes.
type Task struct {
	ID  string
	Run func(ctx context.Context)
}

// Pool runs tasks on a fixed number of workers fed from a bounded queue.
// Submit never blocks: when the queue is full the task is rejected.
type Pool struct {
	tasks     chan Task
	mu        sync.Mutex
	closed    bool
	closeOnce sync.Once
	ctx       context.Context
	stop      context.CancelFunc
	wg        sync.WaitGroup
}

func NewPool(workers, queueSize int) *Pool {
	if workers <= 0 {
		workers = DefaultWorkers
	}
	if queueSize < 0 {
		queueSize = DefaultQueueSize
	}
	ctx, stop := context.WithCancel(context.Background())
	p := &Pool{
		tasks: make(chan Task, queueSize),
		ctx:   ctx,
		stop:  stop,
	}
	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.work(i)
	}
	return p
}

func (p *Pool) work(worker int) {
	defer p.wg.Done()
	for t := range p.tasks {
		p.run(worker, t)
	}
}

func (p *Pool) run(worker int, t Task) {
	defer func() {
		if r := recover(); r != nil {
			log.Errorf("Worker %d: task %s panicked: %v", worker, t.ID, r)
		}
	}()

	log.Debugf("Worker %d: running task %s", worker, t.ID)
	t.Run(p.ctx)
}

// Submit queues t. It fails with PoolExhausted when the queue is full or the
// pool is closed.
func (p *Pool) Submit(t Task) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return apperrors.New(apperrors.PoolExhausted, "worker pool is shutting down")
	}
	select {
	case p.tasks <- t:
		return nil
	default:
		return apperrors.New(apperrors.PoolExhausted, fmt.Sprintf("worker pool is full (%d queued)", len(p.tasks)))
	}
}

// Queued is the number of tasks waiting for a worker.
func (p *Pool) Queued() int { return len(p.tasks) }

// Close stops accepting tasks, cancels the running ones and waits for every
// worker to return. Tasks still queued run with an already cancelled context.
func (p *Pool) Close() {
	p.closeOnce.Do(func() {
		p.mu.Lock()
		p.closed = true
		close(p.tasks)
		p.mu.Unlock()
		p.stop()
	})
	p.wg.Wait()
}
