package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"chainquiz-service/internal/app"
	"chainquiz-service/internal/domain"
)

// Store is an in-memory implementation of app.Store and the settlement
// job store, used by tests and by demo mode when no Postgres is configured.
// Closures run without rollback; every caller validates before writing, so
// the durable store's transactional guarantees are not load-bearing here.
type Store struct {
	mu        sync.Mutex
	userLocks map[string]*sync.Mutex

	sessions    map[int64]*domain.QuizSession
	sessionQs   map[int64][]domain.SessionQuestion
	answers     map[int64][]domain.Answer
	jobs        map[int64]*domain.SettlementJob
	plays       []domain.PlayTrackerEntry
	nextSession int64
	nextJob     int64
	nextAnswer  int64
	nextPlay    int64
}

func NewStore() *Store {
	return &Store{
		userLocks: make(map[string]*sync.Mutex),
		sessions:  make(map[int64]*domain.QuizSession),
		sessionQs: make(map[int64][]domain.SessionQuestion),
		answers:   make(map[int64][]domain.Answer),
		jobs:      make(map[int64]*domain.SettlementJob),
	}
}

func (s *Store) lockFor(addr string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	if mu, ok := s.userLocks[addr]; ok {
		return mu
	}
	mu := &sync.Mutex{}
	s.userLocks[addr] = mu
	return mu
}

// WithUserLock serializes callers per address with a plain mutex, the
// in-process analogue of the advisory lock backend.
func (s *Store) WithUserLock(ctx context.Context, addr string, fn func(ctx context.Context, tx app.Tx) error) error {
	mu := s.lockFor(addr)
	mu.Lock()
	defer mu.Unlock()
	return fn(ctx, &memTx{store: s})
}

func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context, tx app.Tx) error) error {
	return fn(ctx, &memTx{store: s})
}

func (s *Store) GetSession(_ context.Context, id int64, addr string) (*domain.QuizSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessionLocked(id, addr)
}

func (s *Store) sessionLocked(id int64, addr string) (*domain.QuizSession, error) {
	sess, ok := s.sessions[id]
	if !ok || (addr != "" && sess.UserAddress != addr) {
		return nil, domain.ErrSessionNotFound
	}
	cp := *sess
	return &cp, nil
}

func (s *Store) SessionQuestions(_ context.Context, sessionID int64) ([]domain.SessionQuestion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.SessionQuestion(nil), s.sessionQs[sessionID]...), nil
}

func (s *Store) SettlementJobForSession(_ context.Context, sessionID int64, addr string) (*domain.SettlementJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[sessionID]
	if !ok || (addr != "" && job.UserAddress != addr) {
		return nil, nil
	}
	cp := *job
	return &cp, nil
}

func (s *Store) CountPlaysSince(_ context.Context, addr string, tournamentID int64, since time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.countPlaysLocked(addr, tournamentID, since), nil
}

func (s *Store) countPlaysLocked(addr string, tournamentID int64, since time.Time) int {
	count := 0
	for _, p := range s.plays {
		if p.UserAddress == addr && p.TournamentID == tournamentID && !p.PlayedAt.Before(since) {
			count++
		}
	}
	return count
}

func (s *Store) RecentPlays(_ context.Context, addr string, tournamentID int64, limit int) ([]domain.PlayTrackerEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.PlayTrackerEntry
	for _, p := range s.plays {
		if p.UserAddress == addr && p.TournamentID == tournamentID {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PlayedAt.After(out[j].PlayedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) ExpiredSessionIDs(_ context.Context, now time.Time, limit int) ([]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var expired []*domain.QuizSession
	for _, sess := range s.sessions {
		if sess.State != domain.SessionScored && !now.Before(sess.ExpiresAt) {
			expired = append(expired, sess)
		}
	}
	sort.Slice(expired, func(i, j int) bool { return expired[i].ExpiresAt.Before(expired[j].ExpiresAt) })
	ids := make([]int64, 0, len(expired))
	for _, sess := range expired {
		if len(ids) == limit {
			break
		}
		ids = append(ids, sess.ID)
	}
	return ids, nil
}

func (s *Store) StatsFor(_ context.Context, addr string) (played, won, totalPayout int64, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sess := range s.sessions {
		if sess.FinishedAt.IsZero() || (addr != "" && sess.UserAddress != addr) {
			continue
		}
		played++
		if sess.Passed {
			won++
		}
		totalPayout += sess.PayoutAmountSmallest
	}
	return played, won, totalPayout, nil
}

func (s *Store) MarkSessionRecorded(_ context.Context, sessionID int64, txHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		return domain.ErrSessionNotFound
	}
	sess.RecordedOnChain = true
	sess.TxHash = txHash
	return nil
}

// memTx provides the transactional view over the shared maps.
type memTx struct {
	store *Store
}

func (t *memTx) CountPendingSessions(_ context.Context, addr string) (int, error) {
	s := t.store
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for _, sess := range s.sessions {
		if sess.UserAddress == addr && (sess.State == domain.SessionActive || sess.State == domain.SessionSubmitted) {
			count++
		}
	}
	return count, nil
}

func (t *memTx) InsertSession(_ context.Context, sess *domain.QuizSession) error {
	s := t.store
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextSession++
	sess.ID = s.nextSession
	cp := *sess
	s.sessions[sess.ID] = &cp
	return nil
}

func (t *memTx) InsertSessionQuestions(_ context.Context, items []domain.SessionQuestion) error {
	s := t.store
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range items {
		items[i].ID = int64(len(s.sessionQs[items[i].SessionID]) + 1)
		s.sessionQs[items[i].SessionID] = append(s.sessionQs[items[i].SessionID], items[i])
	}
	return nil
}

func (t *memTx) SessionForUpdate(_ context.Context, id int64, addr string) (*domain.QuizSession, error) {
	s := t.store
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessionLocked(id, addr)
}

func (t *memTx) SessionQuestions(ctx context.Context, sessionID int64) ([]domain.SessionQuestion, error) {
	return t.store.SessionQuestions(ctx, sessionID)
}

func (t *memTx) UpdateSession(_ context.Context, sess *domain.QuizSession, _ ...string) error {
	s := t.store
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[sess.ID]; !ok {
		return domain.ErrSessionNotFound
	}
	cp := *sess
	s.sessions[sess.ID] = &cp
	return nil
}

func (t *memTx) UpsertAnswer(_ context.Context, sessionID, questionID, optionID int64) error {
	s := t.store
	s.mu.Lock()
	defer s.mu.Unlock()
	answers := s.answers[sessionID]
	for i := range answers {
		if answers[i].QuestionID == questionID {
			answers[i].OptionID = optionID
			return nil
		}
	}
	s.nextAnswer++
	s.answers[sessionID] = append(answers, domain.Answer{
		ID:         s.nextAnswer,
		SessionID:  sessionID,
		QuestionID: questionID,
		OptionID:   optionID,
		CreatedAt:  time.Now(),
	})
	return nil
}

func (t *memTx) Answers(_ context.Context, sessionID int64) ([]domain.Answer, error) {
	s := t.store
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.Answer(nil), s.answers[sessionID]...), nil
}

func (t *memTx) InsertPlayEntry(_ context.Context, entry *domain.PlayTrackerEntry) error {
	s := t.store
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextPlay++
	entry.ID = s.nextPlay
	s.plays = append(s.plays, *entry)
	return nil
}

func (t *memTx) CountPlaysSince(_ context.Context, addr string, tournamentID int64, since time.Time) (int, error) {
	s := t.store
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.countPlaysLocked(addr, tournamentID, since), nil
}

func (t *memTx) CreateSettlementJob(_ context.Context, job *domain.SettlementJob) error {
	s := t.store
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[job.SessionID]; ok {
		return nil
	}
	s.nextJob++
	job.ID = s.nextJob
	cp := *job
	s.jobs[job.SessionID] = &cp
	return nil
}

// PendingJobs implements settlement.JobStore.
func (s *Store) PendingJobs(_ context.Context) ([]domain.SettlementJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.SettlementJob
	for _, job := range s.jobs {
		if job.Status == domain.JobPending {
			out = append(out, *job)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *Store) UpdateJob(_ context.Context, job *domain.SettlementJob, _ ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *job
	s.jobs[job.SessionID] = &cp
	return nil
}

func (s *Store) CountByStatus(_ context.Context) (map[domain.JobStatus]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	counts := make(map[domain.JobStatus]int)
	for _, job := range s.jobs {
		counts[job.Status]++
	}
	return counts, nil
}
