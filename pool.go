package toolstream

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
)

// Pool runs decode jobs off the streaming critical path with bounded
// concurrency, per-job hard timeouts, and crash isolation. The bounded
// queue never blocks a caller: when it is full (or the pool has shut
// down) the same decode chain runs inline under the identical timeout
// discipline, so pooled and inline execution resolve identically.
type Pool struct {
	decode  DecodeFunc
	queue   chan *poolJob
	done    chan struct{}
	running sync.WaitGroup
	mu      sync.Mutex
	opts    poolOptions
	metrics *Metrics
}

type poolJob struct {
	ctx context.Context
	job ParseJob
	h   *Handle
}

// Handle resolves to exactly one ParseResult, timeout and crash
// included; a caller never holds a handle that stays unresolved.
type Handle struct {
	ch chan ParseResult
}

// Done returns a channel that delivers the job's single ParseResult.
func (h *Handle) Done() <-chan ParseResult { return h.ch }

func (h *Handle) resolve(res ParseResult) { h.ch <- res }

// NewPool creates a Pool decoding with codec and starts its workers.
func NewPool(codec *Codec, opts ...PoolOption) *Pool {
	o := defaultPoolOptions()
	for _, opt := range opts {
		opt(&o)
	}
	decode := codec.Decode
	for i := len(o.middlewares) - 1; i >= 0; i-- {
		decode = o.middlewares[i](decode)
	}
	if o.recoverPanics {
		decode = WithDecodeRecovery()(decode)
	}
	p := &Pool{
		decode:  decode,
		queue:   make(chan *poolJob, o.queueSize),
		done:    make(chan struct{}),
		opts:    o,
		metrics: &Metrics{},
	}
	for range o.workers {
		p.running.Add(1)
		go p.worker()
	}
	return p
}

// Metrics returns the pool's shared counters.
func (p *Pool) Metrics() *Metrics { return p.metrics }

// Observe records a result that resolved outside the pool, such as a
// span dropped before submission, keeping the shared counters complete.
func (p *Pool) Observe(res ParseResult) { p.metrics.observe(res) }

// Submit hands one job to the pool and returns its result handle.
// Submit never blocks: a full queue or a shut-down pool falls back to
// decoding inline before returning, preserving the non-blocking
// guarantee even without background workers available.
func (p *Pool) Submit(ctx context.Context, job ParseJob) *Handle {
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	if job.Budget <= 0 {
		job.Budget = p.opts.jobTimeout
	}
	h := &Handle{ch: make(chan ParseResult, 1)}

	p.mu.Lock()
	select {
	case <-p.done:
	default:
		select {
		case p.queue <- &poolJob{ctx: ctx, job: job, h: h}:
			p.mu.Unlock()
			return h
		default:
		}
	}
	p.mu.Unlock()

	p.metrics.inlineFallbacks.Add(1)
	h.resolve(p.run(ctx, job))
	return h
}

func (p *Pool) worker() {
	defer p.running.Done()
	for {
		select {
		case <-p.done:
			return
		case pj := <-p.queue:
			pj.h.resolve(p.run(pj.ctx, pj.job))
		}
	}
}

// run executes one job under its budget. The decode itself is pure and
// cannot be interrupted; on budget expiry the job resolves Timeout and
// the late result is discarded when the goroutine finishes on its own.
func (p *Pool) run(ctx context.Context, job ParseJob) ParseResult {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, job.Budget)
	defer cancel()
	resCh := make(chan ParseResult, 1)
	go func() {
		resCh <- p.decode(job)
	}()
	var res ParseResult
	select {
	case res = <-resCh:
	case <-ctx.Done():
		// a cancelled job is a caller-initiated abort, not a timeout
		if errors.Is(ctx.Err(), context.Canceled) {
			res = ParseResult{Kind: ResultCancelled, Format: job.Hint, Err: context.Canceled}
		} else {
			res = ParseResult{Kind: ResultTimeout, Format: job.Hint, Err: ErrTimeout}
		}
	}
	p.metrics.observe(res)
	return res
}

// Shutdown stops the workers, waits for in-flight jobs or ctx, then
// resolves anything left in the queue inline so no handle is ever
// abandoned. Submit keeps working after Shutdown via the inline path.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	select {
	case <-p.done:
		p.mu.Unlock()
		return nil
	default:
		close(p.done)
	}
	p.mu.Unlock()

	stopped := make(chan struct{})
	go func() {
		p.running.Wait()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-ctx.Done():
		return ctx.Err()
	}
	for {
		select {
		case pj := <-p.queue:
			pj.h.resolve(p.run(pj.ctx, pj.job))
		default:
			return nil
		}
	}
}
