package postgres

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/uptrace/bun"

	"chainquiz-service/internal/app"
	"chainquiz-service/internal/domain"
)

// LockMode selects the per-user lock backend. Advisory uses the native
// transaction-scoped named lock; RowLock emulates it with SELECT FOR UPDATE
// on a synthetic per-address row.
type LockMode string

const (
	LockAdvisory LockMode = "advisory"
	LockRow      LockMode = "rowlock"
)

// ParseLockMode maps the config string to a LockMode, defaulting to advisory.
func ParseLockMode(raw string) (LockMode, error) {
	switch strings.ToLower(raw) {
	case "", string(LockAdvisory):
		return LockAdvisory, nil
	case string(LockRow):
		return LockRow, nil
	}
	return "", fmt.Errorf("unknown lock mode %q", raw)
}

// Store is the bun-backed implementation of app.Store.
type Store struct {
	db       *bun.DB
	lockMode LockMode
}

func NewStore(db *bun.DB, lockMode LockMode) *Store {
	return &Store{db: db, lockMode: lockMode}
}

// WithUserLock runs fn inside one transaction holding the per-address lock.
// The lock is released by Postgres when the transaction ends, commit or
// rollback; there is no explicit release path.
func (s *Store) WithUserLock(ctx context.Context, addr string, fn func(ctx context.Context, tx app.Tx) error) error {
	return s.db.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		if err := s.acquireUserLock(ctx, tx, addr); err != nil {
			return fmt.Errorf("acquire user lock: %w", err)
		}
		return fn(ctx, &pgTx{tx: tx})
	})
}

func (s *Store) acquireUserLock(ctx context.Context, tx bun.Tx, addr string) error {
	addr = strings.ToLower(addr)
	switch s.lockMode {
	case LockRow:
		if _, err := tx.NewInsert().
			Model(&domain.UserLock{Address: addr}).
			On("CONFLICT (address) DO NOTHING").
			Exec(ctx); err != nil {
			return err
		}
		var lock domain.UserLock
		return tx.NewSelect().
			Model(&lock).
			Where("address = ?", addr).
			For("UPDATE").
			Scan(ctx)
	default:
		_, err := tx.ExecContext(ctx, "SELECT pg_advisory_xact_lock(?)", advisoryKey(addr))
		return err
	}
}

// advisoryKey derives a stable 64-bit lock key from the lowercased address.
func advisoryKey(addr string) int64 {
	sum := sha256.Sum256([]byte(strings.ToLower(addr)))
	return int64(binary.BigEndian.Uint64(sum[:8]))
}

func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context, tx app.Tx) error) error {
	return s.db.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		return fn(ctx, &pgTx{tx: tx})
	})
}

func (s *Store) GetSession(ctx context.Context, id int64, addr string) (*domain.QuizSession, error) {
	sess := new(domain.QuizSession)
	q := s.db.NewSelect().Model(sess).Where("qs.id = ?", id)
	if addr != "" {
		q = q.Where("qs.user_address = ?", addr)
	}
	if err := q.Scan(ctx); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrSessionNotFound
		}
		return nil, err
	}
	return sess, nil
}

func (s *Store) SessionQuestions(ctx context.Context, sessionID int64) ([]domain.SessionQuestion, error) {
	return sessionQuestions(ctx, s.db, sessionID)
}

func (s *Store) SettlementJobForSession(ctx context.Context, sessionID int64, addr string) (*domain.SettlementJob, error) {
	job := new(domain.SettlementJob)
	q := s.db.NewSelect().Model(job).Where("sj.session_id = ?", sessionID)
	if addr != "" {
		q = q.Where("sj.user_address = ?", addr)
	}
	if err := q.Scan(ctx); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return job, nil
}

func (s *Store) CountPlaysSince(ctx context.Context, addr string, tournamentID int64, since time.Time) (int, error) {
	return countPlaysSince(ctx, s.db, addr, tournamentID, since)
}

func (s *Store) RecentPlays(ctx context.Context, addr string, tournamentID int64, limit int) ([]domain.PlayTrackerEntry, error) {
	var entries []domain.PlayTrackerEntry
	err := s.db.NewSelect().
		Model(&entries).
		Where("pt.user_address = ?", addr).
		Where("pt.tournament_id = ?", tournamentID).
		Order("pt.played_at DESC").
		Limit(limit).
		Scan(ctx)
	return entries, err
}

func (s *Store) ExpiredSessionIDs(ctx context.Context, now time.Time, limit int) ([]int64, error) {
	var ids []int64
	err := s.db.NewSelect().
		Model((*domain.QuizSession)(nil)).
		Column("qs.id").
		Where("qs.state IN (?)", bun.In([]domain.SessionState{domain.SessionActive, domain.SessionSubmitted})).
		Where("qs.expires_at <= ?", now).
		Order("qs.expires_at ASC").
		Limit(limit).
		Scan(ctx, &ids)
	return ids, err
}

func (s *Store) StatsFor(ctx context.Context, addr string) (played, won, totalPayout int64, err error) {
	q := s.db.NewSelect().
		Model((*domain.QuizSession)(nil)).
		ColumnExpr("count(*)").
		ColumnExpr("count(*) FILTER (WHERE passed)").
		ColumnExpr("coalesce(sum(payout_amount_smallest), 0)").
		Where("qs.finished_at IS NOT NULL")
	if addr != "" {
		q = q.Where("lower(qs.user_address) = lower(?)", addr)
	}
	err = q.Scan(ctx, &played, &won, &totalPayout)
	return played, won, totalPayout, err
}

func (s *Store) MarkSessionRecorded(ctx context.Context, sessionID int64, txHash string) error {
	_, err := s.db.NewUpdate().
		Model((*domain.QuizSession)(nil)).
		Set("recorded_on_chain = TRUE").
		Set("tx_hash = ?", txHash).
		Where("id = ?", sessionID).
		Exec(ctx)
	return err
}

// pgTx implements app.Tx on a bun transaction.
type pgTx struct {
	tx bun.Tx
}

func (t *pgTx) CountPendingSessions(ctx context.Context, addr string) (int, error) {
	return t.tx.NewSelect().
		Model((*domain.QuizSession)(nil)).
		Where("qs.user_address = ?", addr).
		Where("qs.state IN (?)", bun.In([]domain.SessionState{domain.SessionActive, domain.SessionSubmitted})).
		Count(ctx)
}

func (t *pgTx) InsertSession(ctx context.Context, sess *domain.QuizSession) error {
	_, err := t.tx.NewInsert().Model(sess).Returning("id").Exec(ctx)
	return err
}

func (t *pgTx) InsertSessionQuestions(ctx context.Context, items []domain.SessionQuestion) error {
	if len(items) == 0 {
		return nil
	}
	_, err := t.tx.NewInsert().Model(&items).Exec(ctx)
	return err
}

func (t *pgTx) SessionForUpdate(ctx context.Context, id int64, addr string) (*domain.QuizSession, error) {
	sess := new(domain.QuizSession)
	q := t.tx.NewSelect().Model(sess).Where("qs.id = ?", id).For("UPDATE")
	if addr != "" {
		q = q.Where("qs.user_address = ?", addr)
	}
	if err := q.Scan(ctx); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrSessionNotFound
		}
		return nil, err
	}
	return sess, nil
}

func (t *pgTx) SessionQuestions(ctx context.Context, sessionID int64) ([]domain.SessionQuestion, error) {
	return sessionQuestions(ctx, t.tx, sessionID)
}

func (t *pgTx) UpdateSession(ctx context.Context, sess *domain.QuizSession, columns ...string) error {
	q := t.tx.NewUpdate().Model(sess).WherePK()
	if len(columns) > 0 {
		q = q.Column(columns...)
	}
	_, err := q.Exec(ctx)
	return err
}

func (t *pgTx) UpsertAnswer(ctx context.Context, sessionID, questionID, optionID int64) error {
	ans := &domain.Answer{
		SessionID:  sessionID,
		QuestionID: questionID,
		OptionID:   optionID,
		CreatedAt:  time.Now(),
	}
	_, err := t.tx.NewInsert().
		Model(ans).
		On("CONFLICT (session_id, question_id) DO UPDATE").
		Set("option_id = EXCLUDED.option_id").
		Exec(ctx)
	return err
}

func (t *pgTx) Answers(ctx context.Context, sessionID int64) ([]domain.Answer, error) {
	var answers []domain.Answer
	err := t.tx.NewSelect().
		Model(&answers).
		Where("a.session_id = ?", sessionID).
		Scan(ctx)
	return answers, err
}

func (t *pgTx) InsertPlayEntry(ctx context.Context, entry *domain.PlayTrackerEntry) error {
	_, err := t.tx.NewInsert().Model(entry).Returning("id").Exec(ctx)
	return err
}

func (t *pgTx) CountPlaysSince(ctx context.Context, addr string, tournamentID int64, since time.Time) (int, error) {
	return countPlaysSince(ctx, t.tx, addr, tournamentID, since)
}

// CreateSettlementJob is idempotent: the unique session_id constraint plus
// DO NOTHING makes a second enqueue for the same session a no-op.
func (t *pgTx) CreateSettlementJob(ctx context.Context, job *domain.SettlementJob) error {
	_, err := t.tx.NewInsert().
		Model(job).
		On("CONFLICT (session_id) DO NOTHING").
		Exec(ctx)
	return err
}

func sessionQuestions(ctx context.Context, db bun.IDB, sessionID int64) ([]domain.SessionQuestion, error) {
	var items []domain.SessionQuestion
	err := db.NewSelect().
		Model(&items).
		Where("sq.session_id = ?", sessionID).
		Order("sq.position ASC").
		Scan(ctx)
	return items, err
}

func countPlaysSince(ctx context.Context, db bun.IDB, addr string, tournamentID int64, since time.Time) (int, error) {
	return db.NewSelect().
		Model((*domain.PlayTrackerEntry)(nil)).
		Where("pt.user_address = ?", strings.ToLower(addr)).
		Where("pt.tournament_id = ?", tournamentID).
		Where("pt.played_at >= ?", since).
		Count(ctx)
}
