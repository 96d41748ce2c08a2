package settlement

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"chainquiz-service/internal/domain"
)

type fakeJobStore struct {
	jobs map[int64]*domain.SettlementJob
}

func newFakeJobStore(jobs ...domain.SettlementJob) *fakeJobStore {
	s := &fakeJobStore{jobs: make(map[int64]*domain.SettlementJob)}
	for i := range jobs {
		j := jobs[i]
		s.jobs[j.ID] = &j
	}
	return s
}

func (s *fakeJobStore) PendingJobs(context.Context) ([]domain.SettlementJob, error) {
	var out []domain.SettlementJob
	for _, j := range s.jobs {
		if j.Status == domain.JobPending {
			out = append(out, *j)
		}
	}
	sort.Slice(out, func(i, k int) bool {
		if !out[i].CreatedAt.Equal(out[k].CreatedAt) {
			return out[i].CreatedAt.Before(out[k].CreatedAt)
		}
		return out[i].ID < out[k].ID
	})
	return out, nil
}

func (s *fakeJobStore) UpdateJob(_ context.Context, job *domain.SettlementJob, _ ...string) error {
	stored, ok := s.jobs[job.ID]
	if !ok {
		return fmt.Errorf("job %d not found", job.ID)
	}
	*stored = *job
	return nil
}

func (s *fakeJobStore) CountByStatus(context.Context) (map[domain.JobStatus]int, error) {
	counts := make(map[domain.JobStatus]int)
	for _, j := range s.jobs {
		counts[j.Status]++
	}
	return counts, nil
}

type fakeSubmitter struct {
	owner     string
	signer    string
	entryFee  int64
	poolFunds int64
	submitErr error
	submitted []string
}

func (c *fakeSubmitter) OwnerAddress(context.Context) (string, error) { return c.owner, nil }

func (c *fakeSubmitter) SignerAddress() string { return c.signer }

func (c *fakeSubmitter) EntryFee(context.Context) (int64, error) { return c.entryFee, nil }

func (c *fakeSubmitter) PoolFunds(context.Context) (int64, error) { return c.poolFunds, nil }

func (c *fakeSubmitter) BlockNumber(context.Context) (uint64, error) { return 12345, nil }

func (c *fakeSubmitter) Submit(ctx context.Context, addr string, _ bool) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if c.submitErr != nil {
		return "", c.submitErr
	}
	c.submitted = append(c.submitted, addr)
	return fmt.Sprintf("0xtx-%d", len(c.submitted)), nil
}

func wellFundedSubmitter() *fakeSubmitter {
	return &fakeSubmitter{
		owner:     "0xhouse",
		signer:    "0xhouse",
		entryFee:  1_000_000,
		poolFunds: 100_000_000,
	}
}

func pendingJob(id int64, addr string, won bool, createdAt time.Time) domain.SettlementJob {
	return domain.SettlementJob{
		ID:          id,
		SessionID:   id,
		UserAddress: addr,
		Won:         won,
		Status:      domain.JobPending,
		CreatedAt:   createdAt,
	}
}

func newTestWorker(jobs JobStore, chain Submitter) *Worker {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return NewWorker(jobs, chain, time.Second, log, nil)
}

func TestVerifyOwnerMismatchAborts(t *testing.T) {
	chain := wellFundedSubmitter()
	chain.signer = "0xintruder"
	w := newTestWorker(newFakeJobStore(), chain)
	err := w.Run(context.Background())
	if !errors.Is(err, domain.ErrOwnerMismatch) {
		t.Fatalf("err = %v, want ErrOwnerMismatch", err)
	}
}

func TestVerifyOwnerIsCaseInsensitive(t *testing.T) {
	chain := wellFundedSubmitter()
	chain.owner = "0xHOUSE"
	w := newTestWorker(newFakeJobStore(), chain)
	if err := w.verifyOwner(context.Background()); err != nil {
		t.Fatalf("verify owner: %v", err)
	}
}

func TestProcessJobsConfirmsInCreationOrder(t *testing.T) {
	base := time.Now()
	store := newFakeJobStore(
		pendingJob(2, "0xsecond", false, base.Add(time.Minute)),
		pendingJob(1, "0xfirst", true, base),
		pendingJob(3, "0xthird", true, base.Add(2*time.Minute)),
	)
	chain := wellFundedSubmitter()
	w := newTestWorker(store, chain)

	if err := w.processJobs(context.Background()); err != nil {
		t.Fatalf("process: %v", err)
	}
	want := []string{"0xfirst", "0xsecond", "0xthird"}
	if len(chain.submitted) != 3 {
		t.Fatalf("submitted %d jobs, want 3", len(chain.submitted))
	}
	for i, addr := range want {
		if chain.submitted[i] != addr {
			t.Fatalf("submission %d = %s, want %s", i, chain.submitted[i], addr)
		}
	}
	for id, job := range store.jobs {
		if job.Status != domain.JobConfirmed {
			t.Fatalf("job %d status = %s, want CONFIRMED", id, job.Status)
		}
		if job.TxHash == "" {
			t.Fatalf("job %d missing tx hash", id)
		}
	}
}

func TestPoolShortfallRetriesThenConfirms(t *testing.T) {
	store := newFakeJobStore(pendingJob(1, "0xwinner", true, time.Now()))
	chain := wellFundedSubmitter()
	chain.poolFunds = 100 // below the 1.8x payout
	w := newTestWorker(store, chain)
	ctx := context.Background()

	if err := w.processJobs(ctx); err != nil {
		t.Fatalf("process: %v", err)
	}
	job := store.jobs[1]
	if job.Status != domain.JobPending || job.Attempts != 1 {
		t.Fatalf("after shortfall: status=%s attempts=%d, want PENDING/1", job.Status, job.Attempts)
	}
	if job.LastError == "" {
		t.Fatal("expected last_error to be recorded")
	}

	chain.poolFunds = 10_000_000
	if err := w.processJobs(ctx); err != nil {
		t.Fatalf("process after refill: %v", err)
	}
	if job.Status != domain.JobConfirmed {
		t.Fatalf("status = %s, want CONFIRMED after refill", job.Status)
	}
}

func TestJobFailsPermanentlyAfterMaxAttempts(t *testing.T) {
	store := newFakeJobStore(pendingJob(1, "0xloser", false, time.Now()))
	chain := wellFundedSubmitter()
	chain.submitErr = errors.New("relay exploded")
	w := newTestWorker(store, chain)
	ctx := context.Background()

	for i := 0; i < MaxAttempts; i++ {
		if err := w.processJobs(ctx); err != nil {
			t.Fatalf("process %d: %v", i+1, err)
		}
	}
	job := store.jobs[1]
	if job.Status != domain.JobFailed || job.Attempts != MaxAttempts {
		t.Fatalf("status=%s attempts=%d, want FAILED/%d", job.Status, job.Attempts, MaxAttempts)
	}

	// A FAILED job is never picked up again.
	chain.submitErr = nil
	if err := w.processJobs(ctx); err != nil {
		t.Fatalf("process after failure: %v", err)
	}
	if len(chain.submitted) != 0 {
		t.Fatalf("failed job was resubmitted")
	}
}

func TestOneBadJobDoesNotBlockTheBatch(t *testing.T) {
	base := time.Now()
	store := newFakeJobStore(
		pendingJob(1, "0xwinner", true, base),
		pendingJob(2, "0xother", false, base.Add(time.Second)),
	)
	chain := wellFundedSubmitter()
	chain.poolFunds = 0 // job 1 fails its pre-check, job 2 needs no funds
	w := newTestWorker(store, chain)

	if err := w.processJobs(context.Background()); err != nil {
		t.Fatalf("process: %v", err)
	}
	if store.jobs[1].Status != domain.JobPending {
		t.Fatalf("job 1 status = %s, want PENDING", store.jobs[1].Status)
	}
	if store.jobs[2].Status != domain.JobConfirmed {
		t.Fatalf("job 2 status = %s, want CONFIRMED", store.jobs[2].Status)
	}
}

func TestLongErrorsAreTruncated(t *testing.T) {
	store := newFakeJobStore(pendingJob(1, "0xloser", false, time.Now()))
	chain := wellFundedSubmitter()
	long := make([]byte, 2*maxErrorLen)
	for i := range long {
		long[i] = 'x'
	}
	chain.submitErr = errors.New(string(long))
	w := newTestWorker(store, chain)

	if err := w.processJobs(context.Background()); err != nil {
		t.Fatalf("process: %v", err)
	}
	if got := len(store.jobs[1].LastError); got != maxErrorLen {
		t.Fatalf("last_error length = %d, want %d", got, maxErrorLen)
	}
}

func TestInterruptedSubmitIsNotAFailedAttempt(t *testing.T) {
	store := newFakeJobStore(pendingJob(1, "0xplayer", false, time.Now()))
	chain := wellFundedSubmitter()
	w := newTestWorker(store, chain)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := w.processJobs(ctx); err != nil {
		t.Fatalf("process: %v", err)
	}
	job := store.jobs[1]
	if job.Status != domain.JobPending || job.Attempts != 0 {
		t.Fatalf("after interrupt: status=%s attempts=%d, want PENDING/0", job.Status, job.Attempts)
	}
	if job.LastError != "" {
		t.Fatalf("last_error = %q, want empty", job.LastError)
	}
}

func TestRunStopsOnContextCancel(t *testing.T) {
	w := newTestWorker(newFakeJobStore(), wellFundedSubmitter())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run returned %v, want nil on cancel", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop after cancel")
	}
}
