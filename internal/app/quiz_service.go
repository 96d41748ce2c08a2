package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"chainquiz-service/internal/domain"
	"chainquiz-service/internal/rng"
)

// Store abstracts the durable session state (Postgres, in-memory). Methods
// taking a closure run it inside one ACID transaction; WithUserLock
// additionally holds the per-address lock for the transaction lifetime.
type Store interface {
	WithUserLock(ctx context.Context, addr string, fn func(ctx context.Context, tx Tx) error) error
	WithTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error

	GetSession(ctx context.Context, id int64, addr string) (*domain.QuizSession, error)
	SessionQuestions(ctx context.Context, sessionID int64) ([]domain.SessionQuestion, error)
	SettlementJobForSession(ctx context.Context, sessionID int64, addr string) (*domain.SettlementJob, error)
	CountPlaysSince(ctx context.Context, addr string, tournamentID int64, since time.Time) (int, error)
	RecentPlays(ctx context.Context, addr string, tournamentID int64, limit int) ([]domain.PlayTrackerEntry, error)
	ExpiredSessionIDs(ctx context.Context, now time.Time, limit int) ([]int64, error)
	StatsFor(ctx context.Context, addr string) (played, won, totalPayout int64, err error)
	MarkSessionRecorded(ctx context.Context, sessionID int64, txHash string) error
}

// Tx is the transactional view handed to Store closures. SessionForUpdate
// takes a row-level exclusive lock; an empty addr skips the owner filter.
type Tx interface {
	CountPendingSessions(ctx context.Context, addr string) (int, error)
	InsertSession(ctx context.Context, sess *domain.QuizSession) error
	InsertSessionQuestions(ctx context.Context, items []domain.SessionQuestion) error
	SessionForUpdate(ctx context.Context, id int64, addr string) (*domain.QuizSession, error)
	SessionQuestions(ctx context.Context, sessionID int64) ([]domain.SessionQuestion, error)
	UpdateSession(ctx context.Context, sess *domain.QuizSession, columns ...string) error
	UpsertAnswer(ctx context.Context, sessionID, questionID, optionID int64) error
	Answers(ctx context.Context, sessionID int64) ([]domain.Answer, error)
	InsertPlayEntry(ctx context.Context, entry *domain.PlayTrackerEntry) error
	CountPlaysSince(ctx context.Context, addr string, tournamentID int64, since time.Time) (int, error)
	CreateSettlementJob(ctx context.Context, job *domain.SettlementJob) error
}

// QuestionBank is the read-only view of active questions and their options.
type QuestionBank interface {
	ActiveQuestionIDs(ctx context.Context) ([]int64, error)
	QuestionsByID(ctx context.Context, ids []int64) (map[int64]domain.Question, error)
	OptionsFor(ctx context.Context, questionID int64) ([]domain.OptionSnapshot, error)
	CorrectOptions(ctx context.Context, questionIDs []int64) (map[int64]int64, error)
}

// CreditSource reports the externally tracked credit balance of an address.
type CreditSource interface {
	Credits(ctx context.Context, addr string) (int64, error)
}

// Settings are the quiz-level knobs taken from config.
type Settings struct {
	TimeLimitSecs       int
	DefaultCount        int
	MaxCount            int
	EntryFeeMicro       int64
	SettleAutomatically bool
}

// QuizService contains the session lifecycle use cases: credit-gated start,
// time-boxed answer recording, idempotent scoring and settlement enqueue.
type QuizService struct {
	store    Store
	bank     QuestionBank
	credits  CreditSource
	settings Settings
	log      *logrus.Logger
	now      func() time.Time
	newSeed  func() (int64, error)
}

// Option customizes a QuizService; used by tests for deterministic clocks
// and seeds.
type Option func(*QuizService)

func WithClock(now func() time.Time) Option {
	return func(s *QuizService) { s.now = now }
}

func WithSeedSource(newSeed func() (int64, error)) Option {
	return func(s *QuizService) { s.newSeed = newSeed }
}

func NewQuizService(store Store, bank QuestionBank, credits CreditSource, settings Settings, log *logrus.Logger, opts ...Option) *QuizService {
	s := &QuizService{
		store:    store,
		bank:     bank,
		credits:  credits,
		settings: settings,
		log:      log,
		now:      time.Now,
		newSeed:  rng.NewSeed,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start creates a session for addr with up to count questions. The credit
// check and all writes happen in one transaction under the per-user lock,
// so two concurrent starts cannot both pass the gate.
func (s *QuizService) Start(ctx context.Context, addr string, count int) (*domain.StartResult, error) {
	addr, err := normalizeAddr(addr)
	if err != nil {
		return nil, err
	}
	count = s.clampCount(count)

	var (
		sess *domain.QuizSession
		out  *domain.StartResult
	)
	err = s.store.WithUserLock(ctx, addr, func(ctx context.Context, tx Tx) error {
		credits, err := s.credits.Credits(ctx, addr)
		if err != nil {
			return fmt.Errorf("read credits: %w", err)
		}
		pending, err := tx.CountPendingSessions(ctx, addr)
		if err != nil {
			return err
		}
		if credits-int64(pending) <= 0 {
			return domain.ErrInsufficientCredit
		}
		var items []domain.SessionQuestion
		sess, items, err = s.createSession(ctx, tx, addr, count, s.settings.TimeLimitSecs, 0)
		if err != nil {
			return err
		}
		// The payload read stays inside the transaction: a failure rolls
		// the session back instead of charging for one the caller never saw.
		out, err = s.startResult(ctx, sess, items)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.log.WithFields(logrus.Fields{
		"session": sess.ID,
		"address": addr,
		"count":   sess.TotalQuestions,
	}).Info("session started")
	return out, nil
}

// createSession samples and shuffles questions from the stored seed and
// persists the session with its per-question snapshots. Runs inside the
// caller's transaction; on error nothing is committed.
func (s *QuizService) createSession(ctx context.Context, tx Tx, addr string, count, timeLimitSecs int, tournamentID int64) (*domain.QuizSession, []domain.SessionQuestion, error) {
	ids, err := s.bank.ActiveQuestionIDs(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("active questions: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil, domain.ErrNoQuestions
	}
	if count > len(ids) {
		count = len(ids)
	}

	seed, err := s.newSeed()
	if err != nil {
		return nil, nil, err
	}
	now := s.now()
	sess := &domain.QuizSession{
		UserAddress:    addr,
		StartedAt:      now,
		RngSeed:        seed,
		TotalQuestions: count,
		State:          domain.SessionActive,
		TimeLimitSecs:  timeLimitSecs,
		ExpiresAt:      now.Add(time.Duration(timeLimitSecs) * time.Second),
		TournamentID:   tournamentID,
	}
	if err := tx.InsertSession(ctx, sess); err != nil {
		return nil, nil, err
	}

	seq := rng.New(seed)
	picks := seq.Sample(ids, count)
	items := make([]domain.SessionQuestion, 0, len(picks))
	for idx, qid := range picks {
		opts, err := s.bank.OptionsFor(ctx, qid)
		if err != nil {
			return nil, nil, fmt.Errorf("options for %d: %w", qid, err)
		}
		seq.Shuffle(len(opts), func(i, j int) { opts[i], opts[j] = opts[j], opts[i] })
		items = append(items, domain.SessionQuestion{
			SessionID:       sess.ID,
			QuestionID:      qid,
			Position:        idx + 1,
			ShuffledOptions: opts,
		})
	}
	if err := tx.InsertSessionQuestions(ctx, items); err != nil {
		return nil, nil, err
	}
	return sess, items, nil
}

func (s *QuizService) startResult(ctx context.Context, sess *domain.QuizSession, items []domain.SessionQuestion) (*domain.StartResult, error) {
	qids := make([]int64, 0, len(items))
	for _, it := range items {
		qids = append(qids, it.QuestionID)
	}
	questions, err := s.bank.QuestionsByID(ctx, qids)
	if err != nil {
		return nil, fmt.Errorf("question payload: %w", err)
	}

	views := make([]domain.SessionQuestionView, 0, len(items))
	for _, it := range items {
		q := questions[it.QuestionID]
		views = append(views, domain.SessionQuestionView{
			Position:   it.Position,
			QuestionID: it.QuestionID,
			Text:       q.Text,
			Difficulty: q.Difficulty,
			Category:   q.Category,
			Options:    it.ShuffledOptions,
		})
	}
	return &domain.StartResult{
		SessionID:    sess.ID,
		TournamentID: sess.TournamentID,
		TimeLimit:    sess.TimeLimitSecs,
		ExpiresAt:    sess.ExpiresAt,
		Questions:    views,
	}, nil
}

// Answer upserts the submitted choices for a session. The whole call is
// validated against the persisted option snapshots before any write; a
// single bad pair rejects everything.
func (s *QuizService) Answer(ctx context.Context, addr string, sessionID int64, subs []domain.AnswerSubmission) error {
	addr, err := normalizeAddr(addr)
	if err != nil {
		return err
	}
	return s.store.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		sess, err := tx.SessionForUpdate(ctx, sessionID, addr)
		if err != nil {
			return err
		}
		if sess.State != domain.SessionActive && sess.State != domain.SessionSubmitted {
			return domain.ErrInvalidState
		}
		if sess.Expired(s.now()) {
			return domain.ErrSessionExpired
		}

		items, err := tx.SessionQuestions(ctx, sessionID)
		if err != nil {
			return err
		}
		bySession := make(map[int64]*domain.SessionQuestion, len(items))
		for i := range items {
			bySession[items[i].QuestionID] = &items[i]
		}
		for _, sub := range subs {
			sq, ok := bySession[sub.QuestionID]
			if !ok || !sq.AllowsOption(sub.OptionID) {
				return &domain.UnprocessableOptionError{QuestionID: sub.QuestionID, OptionID: sub.OptionID}
			}
		}
		for _, sub := range subs {
			if err := tx.UpsertAnswer(ctx, sessionID, sub.QuestionID, sub.OptionID); err != nil {
				return err
			}
		}
		if sess.State == domain.SessionActive {
			sess.State = domain.SessionSubmitted
			return tx.UpdateSession(ctx, sess, "state")
		}
		return nil
	})
}

// Finish scores the session, writes the payout once and enqueues the
// settlement job. Repeat calls return the stored result unchanged.
func (s *QuizService) Finish(ctx context.Context, addr string, sessionID int64) (*domain.FinishResult, error) {
	addr, err := normalizeAddr(addr)
	if err != nil {
		return nil, err
	}
	var out *domain.FinishResult
	err = s.store.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		sess, err := tx.SessionForUpdate(ctx, sessionID, addr)
		if err != nil {
			return err
		}
		if sess.State != domain.SessionScored {
			if err := s.scoreLocked(ctx, tx, sess); err != nil {
				return err
			}
			if err := s.settleLocked(ctx, tx, sess); err != nil {
				return err
			}
		}
		out = finishResult(sess)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// scoreLocked is the scoring engine: absent answers count as wrong, passing
// requires every question correct. No-op when already SCORED. The caller
// must hold the session row lock.
func (s *QuizService) scoreLocked(ctx context.Context, tx Tx, sess *domain.QuizSession) error {
	if sess.State == domain.SessionScored {
		return nil
	}
	items, err := tx.SessionQuestions(ctx, sess.ID)
	if err != nil {
		return err
	}
	answers, err := tx.Answers(ctx, sess.ID)
	if err != nil {
		return err
	}
	chosen := make(map[int64]int64, len(answers))
	for _, a := range answers {
		chosen[a.QuestionID] = a.OptionID
	}
	qids := make([]int64, 0, len(items))
	for _, it := range items {
		qids = append(qids, it.QuestionID)
	}
	correctByQuestion, err := s.bank.CorrectOptions(ctx, qids)
	if err != nil {
		return fmt.Errorf("correct options: %w", err)
	}

	correct := 0
	for _, it := range items {
		if oid, ok := chosen[it.QuestionID]; ok && oid == correctByQuestion[it.QuestionID] {
			correct++
		}
	}
	sess.CorrectCount = correct
	sess.Passed = correct == sess.TotalQuestions
	sess.State = domain.SessionScored
	sess.FinishedAt = s.now()
	return tx.UpdateSession(ctx, sess, "correct_count", "passed", "state", "finished_at")
}

// settleLocked writes the payout (once, only when won) and enqueues the
// settlement job when automatic settlement is enabled. Job creation is
// idempotent; a second enqueue for the same session is a no-op.
func (s *QuizService) settleLocked(ctx context.Context, tx Tx, sess *domain.QuizSession) error {
	if sess.Passed && sess.PayoutAmountSmallest == 0 {
		sess.PayoutAmountSmallest = WinPayoutMicro(s.settings.EntryFeeMicro)
		if err := tx.UpdateSession(ctx, sess, "payout_amount_smallest"); err != nil {
			return err
		}
	}
	if !s.settings.SettleAutomatically {
		return nil
	}
	return tx.CreateSettlementJob(ctx, &domain.SettlementJob{
		SessionID:   sess.ID,
		UserAddress: sess.UserAddress,
		Won:         sess.Passed,
		Status:      domain.JobPending,
		CreatedAt:   s.now(),
		UpdatedAt:   s.now(),
	})
}

// Status returns the polling view of a session.
func (s *QuizService) Status(ctx context.Context, addr string, sessionID int64) (*domain.SessionStatus, error) {
	addr, err := normalizeAddr(addr)
	if err != nil {
		return nil, err
	}
	sess, err := s.store.GetSession(ctx, sessionID, addr)
	if err != nil {
		return nil, err
	}
	remaining := sess.ExpiresAt.Sub(s.now()).Milliseconds()
	if remaining < 0 {
		remaining = 0
	}
	return &domain.SessionStatus{
		SessionID:   sess.ID,
		State:       sess.State,
		RemainingMs: remaining,
		ExpiresAt:   sess.ExpiresAt,
	}, nil
}

// SettlementStatus reports the settlement job for a session; a session
// without a job yields an empty tx hash and no status.
func (s *QuizService) SettlementStatus(ctx context.Context, addr string, sessionID int64) (*domain.SettlementStatus, error) {
	addr, err := normalizeAddr(addr)
	if err != nil {
		return nil, err
	}
	job, err := s.store.SettlementJobForSession(ctx, sessionID, addr)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return &domain.SettlementStatus{}, nil
	}
	return &domain.SettlementStatus{TxHash: job.TxHash, Status: job.Status}, nil
}

// Stats aggregates finished sessions for addr, or globally when addr is empty.
func (s *QuizService) Stats(ctx context.Context, addr string) (*domain.QuizStats, error) {
	addr = strings.ToLower(strings.TrimSpace(addr))
	played, won, totalPayout, err := s.store.StatsFor(ctx, addr)
	if err != nil {
		return nil, err
	}
	rate := 0
	if played > 0 {
		rate = int(won * 100 / played)
	}
	return &domain.QuizStats{
		Played:        played,
		Won:           won,
		WinRate:       rate,
		TotalEarnings: formatMicro(totalPayout),
		Currency:      "cUSD",
	}, nil
}

// AutosubmitExpired scores sessions whose answer window has closed, in
// expiry order, each under its own row lock. Returns how many were scored.
func (s *QuizService) AutosubmitExpired(ctx context.Context, limit int) (int, error) {
	ids, err := s.store.ExpiredSessionIDs(ctx, s.now(), limit)
	if err != nil {
		return 0, err
	}
	count := 0
	for _, id := range ids {
		err := s.store.WithTx(ctx, func(ctx context.Context, tx Tx) error {
			sess, err := tx.SessionForUpdate(ctx, id, "")
			if err != nil {
				return err
			}
			if sess.State == domain.SessionScored || !sess.Expired(s.now()) {
				return nil
			}
			if err := s.scoreLocked(ctx, tx, sess); err != nil {
				return err
			}
			if err := s.settleLocked(ctx, tx, sess); err != nil {
				return err
			}
			count++
			return nil
		})
		if err != nil {
			s.log.WithError(err).WithField("session", id).Warn("autosubmit failed")
		}
	}
	return count, nil
}

// WinPayoutMicro is the payout owed for a won session, in micro units.
func WinPayoutMicro(entryFeeMicro int64) int64 {
	return entryFeeMicro * domain.PayoutNumerator / domain.PayoutDenominator
}

func (s *QuizService) clampCount(count int) int {
	if count <= 0 {
		count = s.settings.DefaultCount
	}
	if count < 1 {
		count = 1
	}
	if count > s.settings.MaxCount {
		count = s.settings.MaxCount
	}
	return count
}

func finishResult(sess *domain.QuizSession) *domain.FinishResult {
	return &domain.FinishResult{
		Correct:       sess.CorrectCount,
		Total:         sess.TotalQuestions,
		Passed:        sess.Passed,
		PassThreshold: sess.TotalQuestions,
		Payout:        sess.PayoutAmountSmallest,
		ExpiresAt:     sess.ExpiresAt,
	}
}

func normalizeAddr(addr string) (string, error) {
	addr = strings.ToLower(strings.TrimSpace(addr))
	if addr == "" {
		return "", domain.ErrAuthRequired
	}
	return addr, nil
}

// formatMicro renders a micro-unit amount as a fixed six-decimal string.
func formatMicro(v int64) string {
	scale := int64(1)
	for i := 0; i < domain.TokenDecimals; i++ {
		scale *= 10
	}
	return fmt.Sprintf("%d.%06d", v/scale, v%scale)
}
