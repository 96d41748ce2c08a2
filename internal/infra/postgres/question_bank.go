package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v4/pgxpool"

	"chainquiz-service/internal/domain"
)

// QuestionBank reads the active question catalog straight from Postgres.
// It is read-only and deliberately separate from the transactional Store:
// question content never participates in session transactions.
type QuestionBank struct {
	pool *pgxpool.Pool
}

func NewQuestionBank(pool *pgxpool.Pool) *QuestionBank {
	return &QuestionBank{pool: pool}
}

func (b *QuestionBank) ActiveQuestionIDs(ctx context.Context) ([]int64, error) {
	rows, err := b.pool.Query(ctx, `SELECT id FROM questions WHERE is_active ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("active question ids: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (b *QuestionBank) QuestionsByID(ctx context.Context, ids []int64) (map[int64]domain.Question, error) {
	rows, err := b.pool.Query(ctx,
		`SELECT id, text, category, difficulty FROM questions WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, fmt.Errorf("questions by id: %w", err)
	}
	defer rows.Close()

	out := make(map[int64]domain.Question, len(ids))
	for rows.Next() {
		var q domain.Question
		if err := rows.Scan(&q.ID, &q.Text, &q.Category, &q.Difficulty); err != nil {
			return nil, err
		}
		out[q.ID] = q
	}
	return out, rows.Err()
}

func (b *QuestionBank) OptionsFor(ctx context.Context, questionID int64) ([]domain.OptionSnapshot, error) {
	rows, err := b.pool.Query(ctx,
		`SELECT id, text FROM options WHERE question_id = $1 ORDER BY order_hint, id`, questionID)
	if err != nil {
		return nil, fmt.Errorf("options for %d: %w", questionID, err)
	}
	defer rows.Close()

	var opts []domain.OptionSnapshot
	for rows.Next() {
		var o domain.OptionSnapshot
		if err := rows.Scan(&o.ID, &o.Text); err != nil {
			return nil, err
		}
		opts = append(opts, o)
	}
	return opts, rows.Err()
}

func (b *QuestionBank) CorrectOptions(ctx context.Context, questionIDs []int64) (map[int64]int64, error) {
	rows, err := b.pool.Query(ctx,
		`SELECT question_id, id FROM options WHERE question_id = ANY($1) AND is_correct`, questionIDs)
	if err != nil {
		return nil, fmt.Errorf("correct options: %w", err)
	}
	defer rows.Close()

	out := make(map[int64]int64, len(questionIDs))
	for rows.Next() {
		var qid, oid int64
		if err := rows.Scan(&qid, &oid); err != nil {
			return nil, err
		}
		out[qid] = oid
	}
	return out, rows.Err()
}
