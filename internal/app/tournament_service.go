package app

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"chainquiz-service/internal/domain"
)

// TournamentInfo is the on-chain configuration of one tournament.
type TournamentInfo struct {
	EntryFee            int64
	RegistrationEnd     time.Time
	Start               time.Time
	End                 time.Time
	QuestionsPerSession int
	TimePerQuestion     int
	Settled             bool
	TotalPool           int64
	PlayerCount         int
}

// TournamentChain is the tournament contract collaborator: registration,
// pass balances and score recording through the house identity.
type TournamentChain interface {
	Info(ctx context.Context, tournamentID int64) (TournamentInfo, error)
	PlayerInfo(ctx context.Context, tournamentID int64, addr string) (registered bool, totalPoints int64, err error)
	PlayerPasses(ctx context.Context, tournamentID int64, addr string) (int, error)
	RecordScore(ctx context.Context, tournamentID int64, addr string, points int) (txHash string, err error)
}

// TournamentService layers the daily play quota and the on-chain tournament
// gating over the shared session factory.
type TournamentService struct {
	quiz          *QuizService
	chain         TournamentChain
	maxDailyPlays int
	log           *logrus.Logger
}

func NewTournamentService(quiz *QuizService, chain TournamentChain, maxDailyPlays int, log *logrus.Logger) *TournamentService {
	return &TournamentService{quiz: quiz, chain: chain, maxDailyPlays: maxDailyPlays, log: log}
}

// Start creates a tournament session. The quota is checked before any
// write and re-checked inside the locked transaction together with the
// play-tracker append, so the (maxPerDay+1)-th concurrent start cannot slip
// through.
func (s *TournamentService) Start(ctx context.Context, addr string, tournamentID int64, count int) (*domain.StartResult, error) {
	addr, err := normalizeAddr(addr)
	if err != nil {
		return nil, err
	}

	dayStart := startOfUTCDay(s.quiz.now())
	playsToday, err := s.quiz.store.CountPlaysSince(ctx, addr, tournamentID, dayStart)
	if err != nil {
		return nil, err
	}
	if playsToday >= s.maxDailyPlays {
		return nil, &domain.QuotaExceededError{PlaysToday: playsToday, MaxDailyPlays: s.maxDailyPlays}
	}

	info, err := s.chain.Info(ctx, tournamentID)
	if err != nil {
		return nil, err
	}
	now := s.quiz.now()
	if now.Before(info.Start) {
		return nil, domain.ErrTournamentNotStarted
	}
	if now.After(info.End) {
		return nil, domain.ErrTournamentEnded
	}
	if info.Settled {
		return nil, domain.ErrTournamentSettled
	}

	registered, _, err := s.chain.PlayerInfo(ctx, tournamentID, addr)
	if err != nil {
		return nil, fmt.Errorf("player info: %w", err)
	}
	if !registered {
		return nil, domain.ErrNotRegistered
	}
	passes, err := s.chain.PlayerPasses(ctx, tournamentID, addr)
	if err != nil {
		return nil, fmt.Errorf("player passes: %w", err)
	}
	if passes <= 0 {
		return nil, domain.ErrNoPassesRemaining
	}

	n := count
	if n <= 0 {
		n = info.QuestionsPerSession
	}
	if n < 1 {
		n = 1
	}
	if n > info.QuestionsPerSession {
		n = info.QuestionsPerSession
	}
	timeLimit := info.TimePerQuestion * n

	var (
		sess   *domain.QuizSession
		result *domain.StartResult
	)
	err = s.quiz.store.WithUserLock(ctx, addr, func(ctx context.Context, tx Tx) error {
		playsToday, err = tx.CountPlaysSince(ctx, addr, tournamentID, dayStart)
		if err != nil {
			return err
		}
		if playsToday >= s.maxDailyPlays {
			return &domain.QuotaExceededError{PlaysToday: playsToday, MaxDailyPlays: s.maxDailyPlays}
		}
		var items []domain.SessionQuestion
		sess, items, err = s.quiz.createSession(ctx, tx, addr, n, timeLimit, tournamentID)
		if err != nil {
			return err
		}
		if err := tx.InsertPlayEntry(ctx, &domain.PlayTrackerEntry{
			UserAddress:  addr,
			TournamentID: tournamentID,
			SessionID:    sess.ID,
			PlayedAt:     s.quiz.now(),
		}); err != nil {
			return err
		}
		// Payload read inside the transaction: a failure rolls back the
		// session and the play-tracker entry together.
		result, err = s.quiz.startResult(ctx, sess, items)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.log.WithFields(logrus.Fields{
		"session":    sess.ID,
		"tournament": tournamentID,
		"address":    addr,
		"playsToday": playsToday + 1,
	}).Info("tournament session started")

	result.PassesRemaining = passes
	result.PlaysToday = playsToday + 1
	result.MaxDailyPlays = s.maxDailyPlays
	return result, nil
}

// Finish scores a tournament session and records the score on-chain through
// the house identity. Scoring is durable either way; recording failures are
// reported on the result, never raised. Expired sessions are still scored:
// the answers on file were recorded before the deadline.
func (s *TournamentService) Finish(ctx context.Context, addr string, sessionID, tournamentID int64) (*domain.FinishResult, error) {
	addr, err := normalizeAddr(addr)
	if err != nil {
		return nil, err
	}

	var (
		out         *domain.FinishResult
		alreadyDone bool
	)
	err = s.quiz.store.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		sess, err := tx.SessionForUpdate(ctx, sessionID, addr)
		if err != nil {
			return err
		}
		if sess.State == domain.SessionScored {
			alreadyDone = true
		} else if err := s.quiz.scoreLocked(ctx, tx, sess); err != nil {
			return err
		}
		out = finishResult(sess)
		return nil
	})
	if err != nil {
		return nil, err
	}

	record := &domain.TournamentRecord{}
	out.Tournament = record
	if alreadyDone {
		record.Reason = "session already scored"
		record.PassesRemaining = s.passesOrZero(ctx, tournamentID, addr)
		return out, nil
	}
	record.Attempted = true

	if reason := s.recordableReason(ctx, tournamentID); reason != "" {
		record.Reason = reason
		return out, nil
	}

	passes := s.passesOrZero(ctx, tournamentID, addr)
	if passes <= 0 {
		record.Reason = domain.ErrNoPassesRemaining.Error()
		return out, nil
	}

	txHash, err := s.chain.RecordScore(ctx, tournamentID, addr, out.Correct)
	if err != nil {
		s.log.WithError(err).WithFields(logrus.Fields{
			"session":    sessionID,
			"tournament": tournamentID,
		}).Warn("score recording failed")
		record.Reason = err.Error()
		record.PassesRemaining = passes
		return out, nil
	}

	if err := s.quiz.store.MarkSessionRecorded(ctx, sessionID, txHash); err != nil {
		s.log.WithError(err).WithField("session", sessionID).Warn("mark recorded failed")
	}
	record.Recorded = true
	record.TxHash = txHash
	record.PassesRemaining = s.passesOrZero(ctx, tournamentID, addr)
	return out, nil
}

// PlayCount returns the daily quota view plus the most recent plays.
func (s *TournamentService) PlayCount(ctx context.Context, addr string, tournamentID int64) (*domain.PlayCount, error) {
	addr, err := normalizeAddr(addr)
	if err != nil {
		return nil, err
	}
	dayStart := startOfUTCDay(s.quiz.now())
	playsToday, err := s.quiz.store.CountPlaysSince(ctx, addr, tournamentID, dayStart)
	if err != nil {
		return nil, err
	}
	recent, err := s.quiz.store.RecentPlays(ctx, addr, tournamentID, 5)
	if err != nil {
		return nil, err
	}
	return &domain.PlayCount{
		TournamentID:  tournamentID,
		PlaysToday:    playsToday,
		MaxDailyPlays: s.maxDailyPlays,
		LimitReached:  playsToday >= s.maxDailyPlays,
		RecentPlays:   recent,
	}, nil
}

// recordableReason checks whether the tournament can still accept scores;
// an empty string means recording may proceed.
func (s *TournamentService) recordableReason(ctx context.Context, tournamentID int64) string {
	info, err := s.chain.Info(ctx, tournamentID)
	if err != nil {
		return fmt.Sprintf("failed to validate tournament: %v", err)
	}
	now := s.quiz.now()
	switch {
	case now.Before(info.Start):
		return domain.ErrTournamentNotStarted.Error()
	case now.After(info.End):
		return domain.ErrTournamentEnded.Error()
	case info.Settled:
		return domain.ErrTournamentSettled.Error()
	}
	return ""
}

func (s *TournamentService) passesOrZero(ctx context.Context, tournamentID int64, addr string) int {
	passes, err := s.chain.PlayerPasses(ctx, tournamentID, addr)
	if err != nil {
		return 0
	}
	return passes
}

func startOfUTCDay(now time.Time) time.Time {
	y, m, d := now.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
