package ptp

import (
	"context"
	"time"
)

type Service struct {
	repo *Repository
}

func NewService(repo *Repository) *Service {
	return &Service{repo: repo}
}

func (s *Service) Record(ctx context.Context, agreementNo, agentName string, amount float64, dueDate time.Time) (Promise, error) {
	return s.repo.Record(ctx, agreementNo, agentName, amount, dueDate)
}

func (s *Service) List(ctx context.Context, agreementNo string) ([]Promise, error) {
	return s.repo.List(ctx, agreementNo)
}

func (s *Service) Settle(ctx context.Context, promiseID string, status Status) (Promise, error) {
	return s.repo.Settle(ctx, promiseID, status)
}
