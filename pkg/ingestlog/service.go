package ingestlog

import (
	"context"

	"github.com/cropsight/platform/pkg/gateway/auth"
)

// Service gates the log queries behind the logs:list and logs:read
// capabilities of the caller's role.
type Service struct {
	reader Reader
}

func NewService(reader Reader) *Service {
	return &Service{reader: reader}
}

func (s *Service) List(ctx context.Context, role string, limit int) ([]Entry, error) {
	if err := auth.RequirePermission(role, "logs", "list"); err != nil {
		return nil, err
	}
	return s.reader.List(ctx, limit)
}

func (s *Service) Search(ctx context.Context, role string, opts SearchOptions) (*SearchResult, error) {
	if err := auth.RequirePermission(role, "logs", "list"); err != nil {
		return nil, err
	}
	return s.reader.Search(ctx, opts)
}

func (s *Service) Get(ctx context.Context, role string, id int64) (*Entry, error) {
	if err := auth.RequirePermission(role, "logs", "read"); err != nil {
		return nil, err
	}
	if id <= 0 {
		return nil, ErrInvalidID
	}
	return s.reader.Get(ctx, id)
}
