package memory

import (
	"context"
	"sort"

	"chainquiz-service/internal/domain"
)

// StaticQuestionBank serves a fixed question set from memory (tests, demos).
type StaticQuestionBank struct {
	questions map[int64]domain.Question
	options   map[int64][]domain.QuestionOption
}

func NewStaticQuestionBank(questions []domain.Question, options []domain.QuestionOption) *StaticQuestionBank {
	b := &StaticQuestionBank{
		questions: make(map[int64]domain.Question, len(questions)),
		options:   make(map[int64][]domain.QuestionOption),
	}
	for _, q := range questions {
		b.questions[q.ID] = q
	}
	for _, o := range options {
		b.options[o.QuestionID] = append(b.options[o.QuestionID], o)
	}
	for qid := range b.options {
		opts := b.options[qid]
		sort.Slice(opts, func(i, j int) bool {
			if opts[i].OrderHint != opts[j].OrderHint {
				return opts[i].OrderHint < opts[j].OrderHint
			}
			return opts[i].ID < opts[j].ID
		})
	}
	return b
}

func (b *StaticQuestionBank) ActiveQuestionIDs(_ context.Context) ([]int64, error) {
	ids := make([]int64, 0, len(b.questions))
	for id, q := range b.questions {
		if q.IsActive {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func (b *StaticQuestionBank) QuestionsByID(_ context.Context, ids []int64) (map[int64]domain.Question, error) {
	out := make(map[int64]domain.Question, len(ids))
	for _, id := range ids {
		if q, ok := b.questions[id]; ok {
			out[id] = q
		}
	}
	return out, nil
}

func (b *StaticQuestionBank) OptionsFor(_ context.Context, questionID int64) ([]domain.OptionSnapshot, error) {
	opts := b.options[questionID]
	out := make([]domain.OptionSnapshot, 0, len(opts))
	for _, o := range opts {
		out = append(out, domain.OptionSnapshot{ID: o.ID, Text: o.Text})
	}
	return out, nil
}

func (b *StaticQuestionBank) CorrectOptions(_ context.Context, questionIDs []int64) (map[int64]int64, error) {
	out := make(map[int64]int64, len(questionIDs))
	for _, qid := range questionIDs {
		for _, o := range b.options[qid] {
			if o.IsCorrect {
				out[qid] = o.ID
				break
			}
		}
	}
	return out, nil
}
