package worker

import "context"

// Job is a unit of background work
type Job func(context.Context) error

// Background is a pool of Jobs. Its Submit matches the tick.Background
// interface, so elements can stage file or network reads on it.
type Background struct {
	*Pool[Job]
}

// NewBackground creates a job pool
func NewBackground(workers, queueSize int, opts ...Option[Job]) *Background {
	return &Background{Pool: NewPool(workers, queueSize, runJob, opts...)}
}

// Submit queues a job, failing with ErrQueueFull rather than blocking
func (b *Background) Submit(job func(context.Context) error) error {
	if job == nil {
		return ErrNilProcessor
	}
	return b.Pool.Submit(job)
}

func runJob(ctx context.Context, job Job) error {
	return job(ctx)
}
