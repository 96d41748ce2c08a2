package postgres

import (
	"context"

	"github.com/uptrace/bun"

	"chainquiz-service/internal/domain"
)

// JobStore is the bun-backed settlement queue. The worker is the only
// writer once jobs exist; request handling only creates and reads them.
type JobStore struct {
	db *bun.DB
}

func NewJobStore(db *bun.DB) *JobStore {
	return &JobStore{db: db}
}

func (s *JobStore) PendingJobs(ctx context.Context) ([]domain.SettlementJob, error) {
	var jobs []domain.SettlementJob
	err := s.db.NewSelect().
		Model(&jobs).
		Where("sj.status = ?", domain.JobPending).
		Order("sj.created_at ASC").
		Order("sj.id ASC").
		Scan(ctx)
	return jobs, err
}

func (s *JobStore) UpdateJob(ctx context.Context, job *domain.SettlementJob, columns ...string) error {
	q := s.db.NewUpdate().Model(job).WherePK()
	if len(columns) > 0 {
		q = q.Column(columns...)
	}
	_, err := q.Exec(ctx)
	return err
}

func (s *JobStore) CountByStatus(ctx context.Context) (map[domain.JobStatus]int, error) {
	var rows []struct {
		Status domain.JobStatus `bun:"status"`
		Count  int              `bun:"count"`
	}
	err := s.db.NewSelect().
		Model((*domain.SettlementJob)(nil)).
		Column("status").
		ColumnExpr("count(*) AS count").
		Group("status").
		Scan(ctx, &rows)
	if err != nil {
		return nil, err
	}
	counts := make(map[domain.JobStatus]int, len(rows))
	for _, row := range rows {
		counts[row.Status] = row.Count
	}
	return counts, nil
}
