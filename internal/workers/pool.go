package workers

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	domain "github.com/homeprojects/lead-auction-exchange/internal/domain/auction"
	apperrors "github.com/homeprojects/lead-auction-exchange/internal/domain/errors"
	"github.com/homeprojects/lead-auction-exchange/internal/infrastructure/queue"
	"github.com/homeprojects/lead-auction-exchange/internal/metrics"
)

// Runner executes one auction; satisfied by the auction engine.
type Runner interface {
	Run(ctx context.Context, leadID uuid.UUID) (domain.Outcome, error)
}

// Pool drains the lead queue with N concurrent auction workers.
type Pool struct {
	queue   *queue.LeadQueue
	engine  Runner
	metrics *metrics.Metrics
	count   int
	logger  *zap.Logger

	wg sync.WaitGroup
}

// NewPool creates the worker pool; metrics may be nil.
func NewPool(q *queue.LeadQueue, engine Runner, m *metrics.Metrics, count int, logger *zap.Logger) *Pool {
	return &Pool{
		queue:   q,
		engine:  engine,
		metrics: m,
		count:   count,
		logger:  logger,
	}
}

// Start launches the workers. They drain until ctx is cancelled; in-flight
// auctions run to completion before Wait returns.
func (p *Pool) Start(ctx context.Context) {
	p.logger.Info("starting auction workers", zap.Int("count", p.count))
	for i := 0; i < p.count; i++ {
		p.wg.Add(1)
		go func(id int) {
			defer p.wg.Done()
			p.work(ctx, id)
		}(i)
	}
}

// Wait blocks until every worker has drained.
func (p *Pool) Wait() {
	p.wg.Wait()
	p.logger.Info("auction workers stopped")
}

func (p *Pool) work(ctx context.Context, id int) {
	logger := p.logger.With(zap.Int("worker", id))
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		job, err := p.queue.Dequeue(ctx)
		if err != nil {
			if errors.Is(err, queue.ErrEmpty) {
				p.observeDepth(ctx)
				continue
			}
			if ctx.Err() != nil {
				return
			}
			logger.Error("dequeue failed", zap.Error(err))
			continue
		}

		p.process(ctx, job, logger)
	}
}

// process runs one auction job. The run itself uses a detached context so a
// shutdown mid-auction cannot strand a lead in PROCESSING.
func (p *Pool) process(ctx context.Context, job *queue.Job, logger *zap.Logger) {
	runCtx := context.WithoutCancel(ctx)

	start := time.Now()
	outcome, err := p.engine.Run(runCtx, job.LeadID)
	if err != nil {
		p.observe("error")
		if dropJob(err) {
			logger.Warn("dropping auction job",
				zap.String("lead_id", job.LeadID.String()),
				zap.Error(err))
			return
		}
		logger.Error("auction run failed",
			zap.String("lead_id", job.LeadID.String()),
			zap.Int("attempt", job.Attempts+1),
			zap.Error(err))
		if rerr := p.queue.Retry(runCtx, job, err); rerr != nil {
			logger.Error("job retry failed", zap.Error(rerr))
		}
		return
	}

	p.observe(strings.ToLower(string(outcome.Result)))
	if p.metrics != nil {
		p.metrics.AuctionDuration.Observe(time.Since(start).Seconds())
		p.metrics.AuctionOutcomes.WithLabelValues(string(outcome.Result), outcome.Reason).Inc()
	}
	logger.Debug("auction completed",
		zap.String("lead_id", job.LeadID.String()),
		zap.String("result", string(outcome.Result)),
		zap.String("reason", outcome.Reason))
}

// dropJob reports errors that a retry can never fix: the lead is gone or
// another worker already holds it.
func dropJob(err error) bool {
	return apperrors.IsType(err, apperrors.ErrorTypeResource)
}

func (p *Pool) observe(outcome string) {
	if p.metrics != nil {
		p.metrics.JobsProcessed.WithLabelValues(outcome).Inc()
	}
}

func (p *Pool) observeDepth(ctx context.Context) {
	if p.metrics == nil {
		return
	}
	if depth, err := p.queue.Depth(ctx); err == nil {
		p.metrics.QueueDepth.Set(float64(depth))
	}
}
