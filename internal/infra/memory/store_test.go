package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"chainquiz-service/internal/app"
	"chainquiz-service/internal/domain"
)

func TestWithUserLockSerializesPerAddress(t *testing.T) {
	store := NewStore()
	ctx := context.Background()

	const workers = 20
	counter := 0
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = store.WithUserLock(ctx, "0xab", func(ctx context.Context, tx app.Tx) error {
				v := counter
				time.Sleep(time.Millisecond)
				counter = v + 1
				return nil
			})
		}()
	}
	wg.Wait()
	if counter != workers {
		t.Fatalf("counter = %d, want %d: lock did not serialize", counter, workers)
	}
}

func TestSessionOwnershipFilter(t *testing.T) {
	store := NewStore()
	ctx := context.Background()

	var id int64
	err := store.WithTx(ctx, func(ctx context.Context, tx app.Tx) error {
		sess := &domain.QuizSession{UserAddress: "0xab", State: domain.SessionActive, TotalQuestions: 1, ExpiresAt: time.Now().Add(time.Minute)}
		if err := tx.InsertSession(ctx, sess); err != nil {
			return err
		}
		id = sess.ID
		return nil
	})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}

	if _, err := store.GetSession(ctx, id, "0xab"); err != nil {
		t.Fatalf("owner read: %v", err)
	}
	if _, err := store.GetSession(ctx, id, "0xcd"); err != domain.ErrSessionNotFound {
		t.Fatalf("foreign read err = %v, want ErrSessionNotFound", err)
	}
	// Empty address skips the filter (autosubmit path).
	if _, err := store.GetSession(ctx, id, ""); err != nil {
		t.Fatalf("unfiltered read: %v", err)
	}
}

func TestUpsertAnswerOverwrites(t *testing.T) {
	store := NewStore()
	ctx := context.Background()

	err := store.WithTx(ctx, func(ctx context.Context, tx app.Tx) error {
		if err := tx.UpsertAnswer(ctx, 1, 10, 100); err != nil {
			return err
		}
		if err := tx.UpsertAnswer(ctx, 1, 10, 200); err != nil {
			return err
		}
		answers, err := tx.Answers(ctx, 1)
		if err != nil {
			return err
		}
		if len(answers) != 1 {
			t.Fatalf("got %d answers, want 1", len(answers))
		}
		if answers[0].OptionID != 200 {
			t.Fatalf("option = %d, want 200", answers[0].OptionID)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("tx: %v", err)
	}
}

func TestCreateSettlementJobIsIdempotent(t *testing.T) {
	store := NewStore()
	ctx := context.Background()

	err := store.WithTx(ctx, func(ctx context.Context, tx app.Tx) error {
		if err := tx.CreateSettlementJob(ctx, &domain.SettlementJob{SessionID: 1, UserAddress: "0xab", Status: domain.JobPending}); err != nil {
			return err
		}
		return tx.CreateSettlementJob(ctx, &domain.SettlementJob{SessionID: 1, UserAddress: "0xab", Status: domain.JobPending})
	})
	if err != nil {
		t.Fatalf("tx: %v", err)
	}
	jobs, err := store.PendingJobs(ctx)
	if err != nil {
		t.Fatalf("pending: %v", err)
	}
	if len(jobs) != 1 {
		t.Fatalf("got %d jobs, want 1", len(jobs))
	}
}

func TestPendingJobsOrderedByCreation(t *testing.T) {
	store := NewStore()
	ctx := context.Background()
	base := time.Now()

	err := store.WithTx(ctx, func(ctx context.Context, tx app.Tx) error {
		for i, offset := range []time.Duration{2 * time.Minute, 0, time.Minute} {
			job := &domain.SettlementJob{
				SessionID:   int64(i + 1),
				UserAddress: "0xab",
				Status:      domain.JobPending,
				CreatedAt:   base.Add(offset),
			}
			if err := tx.CreateSettlementJob(ctx, job); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("tx: %v", err)
	}

	jobs, err := store.PendingJobs(ctx)
	if err != nil {
		t.Fatalf("pending: %v", err)
	}
	for i := 1; i < len(jobs); i++ {
		if jobs[i].CreatedAt.Before(jobs[i-1].CreatedAt) {
			t.Fatalf("jobs out of creation order: %v", jobs)
		}
	}
}

func TestExpiredSessionIDsHonorsLimit(t *testing.T) {
	store := NewStore()
	ctx := context.Background()
	now := time.Now()

	err := store.WithTx(ctx, func(ctx context.Context, tx app.Tx) error {
		for i := 0; i < 5; i++ {
			sess := &domain.QuizSession{
				UserAddress: "0xab",
				State:       domain.SessionActive,
				ExpiresAt:   now.Add(-time.Duration(i+1) * time.Minute),
			}
			if err := tx.InsertSession(ctx, sess); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("tx: %v", err)
	}

	ids, err := store.ExpiredSessionIDs(ctx, now, 3)
	if err != nil {
		t.Fatalf("expired: %v", err)
	}
	if len(ids) != 3 {
		t.Fatalf("got %d ids, want 3", len(ids))
	}
}
