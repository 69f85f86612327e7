package certify

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/pact/certstore"
	"github.com/teranos/pact/errors"
	"github.com/teranos/pact/ingest"
	"github.com/teranos/pact/logger"
	"github.com/teranos/pact/sym"
)

// Handler processes one message.
type Handler interface {
	Handle(ctx context.Context, msg ingest.Message) error
}

// PipelineConfig sizes the worker pool.
type PipelineConfig struct {
	Workers       int           // concurrent traces (default: 4)
	QueueSize     int           // buffered messages between source and workers (default: 64)
	SweepInterval time.Duration // janitor period (default: 1m)
	StopTimeout   time.Duration // wait for in-flight work on shutdown (default: 30s)
	Metrics       *Metrics
}

// DefaultPipelineConfig returns the defaults NewPipeline falls back to.
func DefaultPipelineConfig() PipelineConfig {
	return PipelineConfig{
		Workers:       4,
		QueueSize:     64,
		SweepInterval: time.Minute,
		StopTimeout:   30 * time.Second,
	}
}

const (
	maxConsecutiveErrors = 5
	initialBackoff       = time.Second
	maxBackoff           = 30 * time.Second
)

// stageLogger marks startup and shutdown with their glyphs.
type stageLogger struct {
	*zap.SugaredLogger
}

func (l stageLogger) Starting(msg string, keysAndValues ...interface{}) {
	l.Debugw(sym.Open+" "+msg, keysAndValues...)
}

func (l stageLogger) Closing(msg string, keysAndValues ...interface{}) {
	l.Warnw(sym.Close+" "+msg, keysAndValues...)
}

// Pipeline feeds messages from a source through a pool of workers.
type Pipeline struct {
	source  ingest.Source
	handler Handler
	cfg     PipelineConfig
	logger  stageLogger

	queue chan ingest.Message
	wg    sync.WaitGroup

	mu        sync.Mutex
	processed int64
	failed    int64
}

// NewPipeline wires source to handler, usually a *Certifier. A handler
// that is also a certstore.Sweeper is swept periodically. Zero config
// fields take their defaults.
func NewPipeline(source ingest.Source, handler Handler, cfg PipelineConfig, log *zap.SugaredLogger) *Pipeline {
	def := DefaultPipelineConfig()
	if cfg.Workers <= 0 {
		cfg.Workers = def.Workers
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = def.QueueSize
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = def.SweepInterval
	}
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = def.StopTimeout
	}
	return &Pipeline{
		source:  source,
		handler: handler,
		cfg:     cfg,
		logger:  stageLogger{logger.OrNop(log).Named("pipeline")},
	}
}

// Stats returns messages handled and messages whose handling failed.
func (p *Pipeline) Stats() (processed, failed int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.processed, p.failed
}

// Run consumes the source until ctx is canceled or the source is
// exhausted, then drains the queue. It returns the source error, or an
// error when workers outlive StopTimeout after cancellation.
func (p *Pipeline) Run(ctx context.Context) error {
	p.queue = make(chan ingest.Message, p.cfg.QueueSize)
	if reg, err := p.cfg.Metrics.ObserveQueue(func() int { return len(p.queue) }); err != nil {
		p.logger.Warnw("queue depth gauge unavailable", logger.FieldError, err)
	} else if reg != nil {
		defer func() { _ = reg.Unregister() }()
	}

	p.logger.Starting("certification pipeline",
		logger.FieldSource, p.source.Name(),
		"workers", p.cfg.Workers,
		"queue_size", p.cfg.QueueSize)

	work, stopWork := p.graceContext(ctx)
	defer stopWork()
	for i := 0; i < p.cfg.Workers; i++ {
		p.wg.Add(1)
		go p.worker(ctx, work, i)
	}

	janitorCtx, stopJanitor := context.WithCancel(ctx)
	janitorDone := make(chan struct{})
	go func() {
		defer close(janitorDone)
		if sw, ok := p.handler.(certstore.Sweeper); ok {
			p.janitor(janitorCtx, sw)
		}
	}()

	srcErr := p.source.Run(ctx, p.queue)
	close(p.queue)
	if srcErr != nil && ctx.Err() == nil {
		p.logger.Errorw("source failed", logger.FieldSource, p.source.Name(), logger.FieldError, srcErr)
	}

	err := p.wait(ctx)
	stopJanitor()
	<-janitorDone

	processed, failed := p.Stats()
	p.logger.Closing("certification pipeline stopped",
		logger.FieldSource, p.source.Name(),
		"processed", processed,
		"failed", failed)
	return errors.CombineErrors(srcErr, err)
}

// graceContext returns the context messages are handled under. It keeps
// the values of ctx but is canceled only StopTimeout after ctx is, so the
// message in hand can finish during shutdown.
func (p *Pipeline) graceContext(ctx context.Context) (context.Context, context.CancelFunc) {
	work, cancel := context.WithCancel(context.WithoutCancel(ctx))
	go func() {
		select {
		case <-work.Done():
			return
		case <-ctx.Done():
		}
		timer := time.NewTimer(p.cfg.StopTimeout)
		defer timer.Stop()
		select {
		case <-work.Done():
		case <-timer.C:
			cancel()
		}
	}()
	return work, cancel
}

// wait lets workers drain the queue. Once ctx is canceled they stop taking
// messages and get StopTimeout to finish the one in hand.
func (p *Pipeline) wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
	}
	select {
	case <-done:
		return nil
	case <-time.After(p.cfg.StopTimeout):
		p.logger.Closing("timeout waiting for workers to stop", "timeout", p.cfg.StopTimeout)
		return errors.Mark(errors.Newf("workers still running after %s", p.cfg.StopTimeout), errors.ErrTimeout)
	}
}

// worker takes messages until ctx is canceled and handles them under work.
func (p *Pipeline) worker(ctx, work context.Context, id int) {
	defer p.wg.Done()

	errorCount := 0
	backoff := initialBackoff
	for {
		var msg ingest.Message
		var ok bool
		select {
		case <-ctx.Done():
			return
		case msg, ok = <-p.queue:
			if !ok {
				return
			}
		}

		err := p.handler.Handle(work, msg)
		p.record(err)
		if err == nil {
			if cerr := msg.Commit(work); cerr != nil && work.Err() == nil {
				p.logger.Warnw("commit failed",
					logger.FieldSource, msg.Source,
					"offset", msg.Offset,
					logger.FieldError, cerr)
			}
			if errorCount > 0 {
				p.logger.Infow("worker recovered from errors",
					"worker_id", id,
					"previous_error_count", errorCount)
			}
			errorCount = 0
			backoff = initialBackoff
			continue
		}

		if ctx.Err() != nil || errors.Is(err, sql.ErrConnDone) {
			return
		}
		errorCount++
		p.logger.Errorw("worker error handling message",
			"worker_id", id,
			logger.FieldSource, msg.Source,
			"offset", msg.Offset,
			logger.FieldError, err,
			"consecutive_errors", errorCount)
		if errorCount >= maxConsecutiveErrors {
			p.logger.Warnw("worker backing off due to consecutive errors",
				"worker_id", id,
				"backoff", backoff,
				"consecutive_errors", errorCount)
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			backoff = min(backoff*2, maxBackoff)
		}
	}
}

func (p *Pipeline) record(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.processed++
	if err != nil {
		p.failed++
	}
}

func (p *Pipeline) janitor(ctx context.Context, sw certstore.Sweeper) {
	ticker := time.NewTicker(p.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := sw.Sweep(ctx)
			switch {
			case err != nil && ctx.Err() == nil:
				p.logger.Warnw("certificate sweep failed", logger.FieldError, err)
			case n > 0:
				p.logger.Debugw("expired certificates removed",
					logger.FieldSymbol, sym.Store,
					logger.FieldCount, n)
			}
		}
	}
}
