// Package settlement contains the background worker that drains the durable
// settlement job queue: one job per session, submitted in creation order,
// retried with a bounded attempt count.
package settlement

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"chainquiz-service/internal/app"
	"chainquiz-service/internal/domain"
)

// MaxAttempts is the failed-attempt cap; the job turns terminally FAILED on
// the MaxAttempts-th failure. A successful submission does not count.
const MaxAttempts = 3

// healthEvery is how many loop iterations pass between health checks
// (12 iterations at the 5s default interval is roughly once a minute).
const healthEvery = 12

// maxErrorLen bounds the error text stored on a job.
const maxErrorLen = 500

// JobStore is the durable queue view used by the worker.
type JobStore interface {
	// PendingJobs returns all PENDING jobs ordered by creation time.
	PendingJobs(ctx context.Context) ([]domain.SettlementJob, error)
	UpdateJob(ctx context.Context, job *domain.SettlementJob, columns ...string) error
	CountByStatus(ctx context.Context) (map[domain.JobStatus]int, error)
}

// Submitter is the external settlement authority: it signs and submits the
// settle action for one session outcome and exposes the pool state needed
// for pre-checks.
type Submitter interface {
	// OwnerAddress returns the on-chain settlement authority.
	OwnerAddress(ctx context.Context) (string, error)
	// SignerAddress returns the identity this submitter signs with.
	SignerAddress() string
	EntryFee(ctx context.Context) (int64, error)
	PoolFunds(ctx context.Context) (int64, error)
	BlockNumber(ctx context.Context) (uint64, error)
	// Submit settles one outcome and waits for confirmation. A confirmation
	// wait that times out returns the tx id with a nil error: the submission
	// is treated as likely successful rather than retried.
	Submit(ctx context.Context, addr string, won bool) (txHash string, err error)
}

// Worker drains pending settlement jobs on a fixed tick. It shares no
// in-memory state with request handling; the job table is the only contract.
type Worker struct {
	jobs     JobStore
	chain    Submitter
	interval time.Duration
	log      *logrus.Logger
	metrics  *Metrics
	now      func() time.Time
}

func NewWorker(jobs JobStore, chain Submitter, interval time.Duration, log *logrus.Logger, metrics *Metrics) *Worker {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Worker{
		jobs:     jobs,
		chain:    chain,
		interval: interval,
		log:      log,
		metrics:  metrics,
		now:      time.Now,
	}
}

// Run verifies the signing identity, then loops until ctx is cancelled,
// always finishing the iteration in flight before returning.
func (w *Worker) Run(ctx context.Context) error {
	if err := w.verifyOwner(ctx); err != nil {
		return err
	}
	w.log.Info("settlement worker started")

	// Chain and store calls run detached from the shutdown context, so
	// cancellation is observed only between iterations and never turns an
	// in-flight submission into a failed attempt.
	workCtx := context.WithoutCancel(ctx)
	w.healthCheck(workCtx)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	iteration := 0
	for {
		select {
		case <-ctx.Done():
			w.log.Info("settlement worker stopping")
			return nil
		case <-ticker.C:
		}
		iteration++
		if iteration%healthEvery == 0 {
			w.healthCheck(workCtx)
		}
		if err := w.processJobs(workCtx); err != nil {
			w.log.WithError(err).Error("job processing failed")
		}
	}
}

// verifyOwner aborts startup when the configured signer is not the on-chain
// settlement authority. Continuing would silently fail every settlement.
func (w *Worker) verifyOwner(ctx context.Context) error {
	signer := strings.ToLower(w.chain.SignerAddress())
	if signer == "" {
		return fmt.Errorf("%w: no signer configured", domain.ErrOwnerMismatch)
	}
	owner, err := w.chain.OwnerAddress(ctx)
	if err != nil {
		return fmt.Errorf("verify owner: %w", err)
	}
	if strings.ToLower(owner) != signer {
		w.log.WithFields(logrus.Fields{
			"signer": signer,
			"owner":  strings.ToLower(owner),
		}).Error("owner verification failed")
		return domain.ErrOwnerMismatch
	}
	w.log.WithField("signer", signer).Info("owner verification passed")
	return nil
}

// processJobs settles every pending job strictly in creation order. A
// failure on one job never stops the rest of the batch.
func (w *Worker) processJobs(ctx context.Context) error {
	jobs, err := w.jobs.PendingJobs(ctx)
	if err != nil {
		return err
	}
	if len(jobs) == 0 {
		return nil
	}
	w.log.WithField("pending", len(jobs)).Info("processing settlement batch")

	for i := range jobs {
		job := &jobs[i]
		jlog := w.log.WithFields(logrus.Fields{
			"job":      job.ID,
			"session":  job.SessionID,
			"address":  job.UserAddress,
			"won":      job.Won,
			"attempts": job.Attempts,
		})

		txHash, err := w.settle(ctx, job)
		if err != nil {
			w.recordFailure(ctx, job, err, jlog)
			continue
		}
		job.Status = domain.JobConfirmed
		job.TxHash = txHash
		job.UpdatedAt = w.now()
		if err := w.jobs.UpdateJob(ctx, job, "status", "tx_hash", "updated_at"); err != nil {
			jlog.WithError(err).Error("job update failed after confirmation")
			continue
		}
		if w.metrics != nil {
			w.metrics.Settled.Inc()
		}
		jlog.WithField("tx", txHash).Info("settlement confirmed")
	}
	return nil
}

// settle runs the pool pre-check for winners, then submits.
func (w *Worker) settle(ctx context.Context, job *domain.SettlementJob) (string, error) {
	if job.Won {
		entryFee, err := w.chain.EntryFee(ctx)
		if err != nil {
			return "", fmt.Errorf("read entry fee: %w", err)
		}
		funds, err := w.chain.PoolFunds(ctx)
		if err != nil {
			return "", fmt.Errorf("read pool funds: %w", err)
		}
		payout := app.WinPayoutMicro(entryFee)
		if funds < payout {
			return "", fmt.Errorf("%w: %d < %d", domain.ErrInsufficientPoolFunds, funds, payout)
		}
	}
	return w.chain.Submit(ctx, job.UserAddress, job.Won)
}

func (w *Worker) recordFailure(ctx context.Context, job *domain.SettlementJob, cause error, jlog *logrus.Entry) {
	// A cancelled submission is a shutdown artifact, not a settlement
	// failure; the job stays untouched and is retried on the next run.
	if errors.Is(cause, context.Canceled) {
		jlog.WithError(cause).Warn("submission interrupted, attempt not counted")
		return
	}
	msg := cause.Error()
	if len(msg) > maxErrorLen {
		msg = msg[:maxErrorLen]
	}
	job.Attempts++
	job.LastError = msg
	job.UpdatedAt = w.now()
	if job.Attempts >= MaxAttempts {
		job.Status = domain.JobFailed
		jlog.WithError(cause).Errorf("job marked FAILED after %d attempts", job.Attempts)
	} else {
		jlog.WithError(cause).Warnf("settlement failed, will retry (attempt %d/%d)", job.Attempts, MaxAttempts)
	}
	if err := w.jobs.UpdateJob(ctx, job, "status", "attempts", "last_error", "updated_at"); err != nil {
		jlog.WithError(err).Error("job update failed after error")
	}
	if w.metrics != nil && errors.Is(cause, domain.ErrInsufficientPoolFunds) {
		w.metrics.PoolShortfalls.Inc()
	}
}

// healthCheck logs connectivity and queue depth. Failures here are logged
// only and never alter job state.
func (w *Worker) healthCheck(ctx context.Context) {
	fields := logrus.Fields{}
	if block, err := w.chain.BlockNumber(ctx); err != nil {
		fields["chain_error"] = err.Error()
	} else {
		fields["block"] = block
	}
	counts, err := w.jobs.CountByStatus(ctx)
	if err != nil {
		w.log.WithError(err).WithFields(fields).Error("health check failed")
		return
	}
	fields["pending"] = counts[domain.JobPending]
	fields["confirmed"] = counts[domain.JobConfirmed]
	fields["failed"] = counts[domain.JobFailed]
	if w.metrics != nil {
		w.metrics.SetJobCounts(counts)
	}
	w.log.WithFields(fields).Info("health check")
}
