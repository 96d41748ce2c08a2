package domain

import (
	"time"

	"github.com/uptrace/bun"
)

// SessionState is the lifecycle state of a quiz session.
// Sessions only advance ACTIVE -> SUBMITTED -> SCORED (or ACTIVE -> SCORED
// directly when finished without an explicit submit).
type SessionState string

const (
	SessionActive    SessionState = "ACTIVE"
	SessionSubmitted SessionState = "SUBMITTED"
	SessionScored    SessionState = "SCORED"
)

// JobStatus is the lifecycle state of a settlement job.
type JobStatus string

const (
	JobPending      JobStatus = "PENDING"
	JobSending      JobStatus = "SENDING"
	JobConfirmed    JobStatus = "CONFIRMED"
	JobBlockedFunds JobStatus = "BLOCKED_FUNDS"
	JobFailed       JobStatus = "FAILED"
)

// Payout multiplier applied to the entry fee when a session is won,
// expressed as an integer ratio (1.8x) so micro-unit math stays exact.
const (
	PayoutNumerator   = 9
	PayoutDenominator = 5
)

// TokenDecimals is the number of decimals of the settlement token;
// all amounts in this package are in smallest (micro) units.
const TokenDecimals = 6

// Question is an active-bank MCQ question.
type Question struct {
	bun.BaseModel `bun:"table:questions,alias:q"`

	ID          int64  `bun:"id,pk,autoincrement" json:"id"`
	Text        string `bun:"text,notnull" json:"text"`
	Category    string `bun:"category,notnull,default:''" json:"category"`
	Difficulty  string `bun:"difficulty,notnull,default:''" json:"difficulty"`
	IsActive    bool   `bun:"is_active,notnull,default:true" json:"isActive"`
	Explanation string `bun:"explanation,notnull,default:''" json:"-"`
}

// QuestionOption is one selectable answer for a question. Exactly one
// option per question carries IsCorrect.
type QuestionOption struct {
	bun.BaseModel `bun:"table:options,alias:o"`

	ID         int64  `bun:"id,pk,autoincrement" json:"id"`
	QuestionID int64  `bun:"question_id,notnull" json:"questionId"`
	Text       string `bun:"text,notnull" json:"text"`
	IsCorrect  bool   `bun:"is_correct,notnull,default:false" json:"-"`
	OrderHint  int    `bun:"order_hint,notnull,default:0" json:"-"`
}

// OptionSnapshot is the per-session persisted view of an option. The
// snapshot order stored on SessionQuestion is authoritative for validating
// and re-displaying answers.
type OptionSnapshot struct {
	ID   int64  `json:"id"`
	Text string `json:"text"`
}

// QuizSession is one quiz attempt by one address. Rows are never deleted.
type QuizSession struct {
	bun.BaseModel `bun:"table:quiz_sessions,alias:qs"`

	ID                   int64        `bun:"id,pk,autoincrement"`
	UserAddress          string       `bun:"user_address,notnull"`
	StartedAt            time.Time    `bun:"started_at,notnull,default:current_timestamp"`
	FinishedAt           time.Time    `bun:"finished_at,nullzero"`
	RngSeed              int64        `bun:"rng_seed,notnull"`
	TotalQuestions       int          `bun:"total_questions,notnull"`
	CorrectCount         int          `bun:"correct_count,notnull,default:0"`
	Passed               bool         `bun:"passed,notnull,default:false"`
	State                SessionState `bun:"state,notnull,default:'ACTIVE'"`
	TimeLimitSecs        int          `bun:"time_limit_secs,notnull"`
	ExpiresAt            time.Time    `bun:"expires_at,notnull"`
	PayoutAmountSmallest int64        `bun:"payout_amount_smallest,notnull,default:0"`
	TournamentID         int64        `bun:"tournament_id,nullzero"`
	RecordedOnChain      bool         `bun:"recorded_on_chain,notnull,default:false"`
	TxHash               string       `bun:"tx_hash,nullzero"`
}

// Expired reports whether the answer window has closed at the given instant.
func (s *QuizSession) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

// SessionQuestion pins one question into a session at a fixed position with
// a persisted shuffled-option snapshot. Created atomically with the session,
// immutable afterwards.
type SessionQuestion struct {
	bun.BaseModel `bun:"table:session_questions,alias:sq"`

	ID              int64            `bun:"id,pk,autoincrement"`
	SessionID       int64            `bun:"session_id,notnull"`
	QuestionID      int64            `bun:"question_id,notnull"`
	Position        int              `bun:"position,notnull"`
	ShuffledOptions []OptionSnapshot `bun:"shuffled_options,type:jsonb"`
}

// AllowsOption reports whether the given option id is part of this
// question's persisted snapshot.
func (sq *SessionQuestion) AllowsOption(optionID int64) bool {
	for _, opt := range sq.ShuffledOptions {
		if opt.ID == optionID {
			return true
		}
	}
	return false
}

// Answer records the selected option for one (session, question) pair.
// Unique per pair; re-submitting overwrites the earlier choice.
type Answer struct {
	bun.BaseModel `bun:"table:answers,alias:a"`

	ID         int64     `bun:"id,pk,autoincrement"`
	SessionID  int64     `bun:"session_id,notnull"`
	QuestionID int64     `bun:"question_id,notnull"`
	OptionID   int64     `bun:"option_id,notnull"`
	CreatedAt  time.Time `bun:"created_at,notnull,default:current_timestamp"`
}

// SettlementJob is the durable unit of work for recording one session's
// win/loss outcome on-chain. At most one job exists per session.
type SettlementJob struct {
	bun.BaseModel `bun:"table:settlement_jobs,alias:sj"`

	ID          int64     `bun:"id,pk,autoincrement"`
	SessionID   int64     `bun:"session_id,notnull,unique"`
	UserAddress string    `bun:"user_address,notnull"`
	Won         bool      `bun:"won,notnull"`
	Status      JobStatus `bun:"status,notnull,default:'PENDING'"`
	TxHash      string    `bun:"tx_hash,notnull,default:''"`
	Attempts    int       `bun:"attempts,notnull,default:0"`
	LastError   string    `bun:"last_error,notnull,default:''"`
	CreatedAt   time.Time `bun:"created_at,notnull,default:current_timestamp"`
	UpdatedAt   time.Time `bun:"updated_at,notnull,default:current_timestamp"`
}

// PlayTrackerEntry is an append-only audit row used to enforce the daily
// tournament quota. Entries are never edited or removed.
type PlayTrackerEntry struct {
	bun.BaseModel `bun:"table:play_tracker,alias:pt"`

	ID           int64     `bun:"id,pk,autoincrement"`
	UserAddress  string    `bun:"user_address,notnull"`
	TournamentID int64     `bun:"tournament_id,notnull"`
	SessionID    int64     `bun:"session_id,notnull"`
	PlayedAt     time.Time `bun:"played_at,notnull,default:current_timestamp"`
}

// UserLock is the synthetic per-address row locked by the row-lock backend
// of the lock provider. Rows are created on first use and carry no data.
type UserLock struct {
	bun.BaseModel `bun:"table:user_locks,alias:ul"`

	Address string `bun:"address,pk"`
}

// AnswerSubmission is one (question, option) choice submitted by a caller.
type AnswerSubmission struct {
	QuestionID int64 `json:"questionId"`
	OptionID   int64 `json:"optionId"`
}

// SessionQuestionView is the display payload for one question in a started
// session: text plus the persisted shuffled options.
type SessionQuestionView struct {
	Position   int              `json:"order"`
	QuestionID int64            `json:"questionId"`
	Text       string           `json:"text"`
	Difficulty string           `json:"difficulty"`
	Category   string           `json:"category"`
	Options    []OptionSnapshot `json:"options"`
}

// StartResult is returned when a session is created.
type StartResult struct {
	SessionID       int64                 `json:"sessionId"`
	TournamentID    int64                 `json:"tournamentId,omitempty"`
	TimeLimit       int                   `json:"timeLimit"`
	ExpiresAt       time.Time             `json:"expiresAt"`
	Questions       []SessionQuestionView `json:"questions"`
	PassesRemaining int                   `json:"passesRemaining,omitempty"`
	PlaysToday      int                   `json:"playsToday,omitempty"`
	MaxDailyPlays   int                   `json:"maxDailyPlays,omitempty"`
}

// TournamentRecord describes the on-chain recording outcome of a tournament
// finish. Recording failures are reported, not raised: the score itself is
// already persisted.
type TournamentRecord struct {
	Attempted       bool   `json:"attempted"`
	Recorded        bool   `json:"recorded"`
	TxHash          string `json:"txHash,omitempty"`
	Reason          string `json:"reason,omitempty"`
	PassesRemaining int    `json:"passesRemaining,omitempty"`
}

// FinishResult is the single response shape for finishing a session,
// identical for first and repeat calls and across the single-player and
// tournament paths.
type FinishResult struct {
	Correct       int               `json:"correct"`
	Total         int               `json:"total"`
	Passed        bool              `json:"passed"`
	PassThreshold int               `json:"passThreshold"`
	Payout        int64             `json:"payout"`
	ExpiresAt     time.Time         `json:"expiresAt"`
	Tournament    *TournamentRecord `json:"tournament,omitempty"`
}

// SessionStatus is the polling view of a session.
type SessionStatus struct {
	SessionID   int64        `json:"sessionId"`
	State       SessionState `json:"state"`
	RemainingMs int64        `json:"remainingMs"`
	ExpiresAt   time.Time    `json:"expiresAt"`
}

// SettlementStatus reports the settlement outcome for one session.
type SettlementStatus struct {
	TxHash string    `json:"txHash"`
	Status JobStatus `json:"status,omitempty"`
}

// PlayCount is the daily quota view for one (user, tournament) pair.
type PlayCount struct {
	TournamentID  int64              `json:"tournamentId"`
	PlaysToday    int                `json:"playsToday"`
	MaxDailyPlays int                `json:"maxDailyPlays"`
	LimitReached  bool               `json:"limitReached"`
	RecentPlays   []PlayTrackerEntry `json:"recentPlays,omitempty"`
}

// QuizStats aggregates finished sessions for an address (or globally when
// the address is empty).
type QuizStats struct {
	Played        int64  `json:"played"`
	Won           int64  `json:"won"`
	WinRate       int    `json:"winRate"`
	TotalEarnings string `json:"totalEarnings"`
	Currency      string `json:"currency"`
}
