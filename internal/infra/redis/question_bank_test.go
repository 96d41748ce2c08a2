package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"

	"chainquiz-service/internal/domain"
	"chainquiz-service/internal/infra/memory"
)

type countingBank struct {
	*memory.StaticQuestionBank
	activeCalls  int
	correctCalls int
}

func (b *countingBank) ActiveQuestionIDs(ctx context.Context) ([]int64, error) {
	b.activeCalls++
	return b.StaticQuestionBank.ActiveQuestionIDs(ctx)
}

func (b *countingBank) CorrectOptions(ctx context.Context, ids []int64) (map[int64]int64, error) {
	b.correctCalls++
	return b.StaticQuestionBank.CorrectOptions(ctx, ids)
}

func newTestBank(t *testing.T) (*QuestionBank, *countingBank, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	source := &countingBank{StaticQuestionBank: memory.NewStaticQuestionBank(
		[]domain.Question{
			{ID: 1, Text: "q1", IsActive: true},
			{ID: 2, Text: "q2", IsActive: true},
			{ID: 3, Text: "q3", IsActive: false},
		},
		[]domain.QuestionOption{
			{ID: 10, QuestionID: 1, Text: "a", IsCorrect: true},
			{ID: 11, QuestionID: 1, Text: "b"},
			{ID: 20, QuestionID: 2, Text: "a"},
			{ID: 21, QuestionID: 2, Text: "b", IsCorrect: true},
		},
	)}
	return NewQuestionBank(client, source, time.Minute), source, mr
}

func TestActiveQuestionIDsCached(t *testing.T) {
	bank, source, _ := newTestBank(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		ids, err := bank.ActiveQuestionIDs(ctx)
		if err != nil {
			t.Fatalf("ActiveQuestionIDs: %v", err)
		}
		if len(ids) != 2 || ids[0] != 1 || ids[1] != 2 {
			t.Fatalf("unexpected ids %v", ids)
		}
	}
	if source.activeCalls != 1 {
		t.Fatalf("expected 1 source call, got %d", source.activeCalls)
	}
}

func TestActiveQuestionIDsCacheExpiry(t *testing.T) {
	bank, source, mr := newTestBank(t)
	ctx := context.Background()

	if _, err := bank.ActiveQuestionIDs(ctx); err != nil {
		t.Fatalf("ActiveQuestionIDs: %v", err)
	}
	mr.FastForward(2 * time.Minute)
	if _, err := bank.ActiveQuestionIDs(ctx); err != nil {
		t.Fatalf("ActiveQuestionIDs after expiry: %v", err)
	}
	if source.activeCalls != 2 {
		t.Fatalf("expected reload after expiry, got %d calls", source.activeCalls)
	}
}

func TestCorrectOptionsCached(t *testing.T) {
	bank, source, _ := newTestBank(t)
	ctx := context.Background()

	want := map[int64]int64{1: 10, 2: 21}
	for i := 0; i < 2; i++ {
		got, err := bank.CorrectOptions(ctx, []int64{1, 2})
		if err != nil {
			t.Fatalf("CorrectOptions: %v", err)
		}
		for qid, oid := range want {
			if got[qid] != oid {
				t.Fatalf("question %d: got option %d, want %d", qid, got[qid], oid)
			}
		}
	}
	if source.correctCalls != 1 {
		t.Fatalf("expected 1 source call, got %d", source.correctCalls)
	}
}

func TestCorrectOptionsPartialMissFallsThrough(t *testing.T) {
	bank, source, _ := newTestBank(t)
	ctx := context.Background()

	if _, err := bank.CorrectOptions(ctx, []int64{1}); err != nil {
		t.Fatalf("CorrectOptions: %v", err)
	}
	// Question 2 is not cached yet, so the whole lookup goes to source.
	got, err := bank.CorrectOptions(ctx, []int64{1, 2})
	if err != nil {
		t.Fatalf("CorrectOptions: %v", err)
	}
	if got[2] != 21 {
		t.Fatalf("question 2: got option %d, want 21", got[2])
	}
	if source.correctCalls != 2 {
		t.Fatalf("expected 2 source calls, got %d", source.correctCalls)
	}
}

func TestInvalidate(t *testing.T) {
	bank, source, _ := newTestBank(t)
	ctx := context.Background()

	if _, err := bank.ActiveQuestionIDs(ctx); err != nil {
		t.Fatalf("ActiveQuestionIDs: %v", err)
	}
	if err := bank.Invalidate(ctx); err != nil {
		t.Fatalf("Invalidate: %v", err)
	}
	if _, err := bank.ActiveQuestionIDs(ctx); err != nil {
		t.Fatalf("ActiveQuestionIDs: %v", err)
	}
	if source.activeCalls != 2 {
		t.Fatalf("expected reload after invalidate, got %d calls", source.activeCalls)
	}
}
