package company

import "context"

// Lookup abstracts repository operations for callers and handler tests.
type Lookup interface {
	Upsert(ctx context.Context, maskedName, canonicalName, notes string) (Mapping, error)
	Resolve(ctx context.Context, maskedName string) (string, error)
	List(ctx context.Context) ([]Mapping, error)
}

// Service exposes dictionary operations to the API layer.
type Service struct {
	repo Lookup
}

func NewService(repo Lookup) *Service {
	return &Service{repo: repo}
}

func (s *Service) Upsert(ctx context.Context, maskedName, canonicalName, notes string) (Mapping, error) {
	return s.repo.Upsert(ctx, maskedName, canonicalName, notes)
}

func (s *Service) Resolve(ctx context.Context, maskedName string) (string, error) {
	return s.repo.Resolve(ctx, maskedName)
}

func (s *Service) List(ctx context.Context) ([]Mapping, error) {
	return s.repo.List(ctx)
}
