package audit

import (
	"context"
	"fmt"

	"github.com/stackdesk/stackdesk/internal/shared"
)

// RepositoryPort is the persistence surface the service needs.
type RepositoryPort interface {
	Window(ctx context.Context, filters TimelineFilters, limit, offset int) ([]Entry, int, error)
}

// Service coordinates audit timeline reads.
type Service struct {
	repo RepositoryPort
}

// NewService constructs an audit timeline service.
func NewService(repo RepositoryPort) *Service {
	return &Service{repo: repo}
}

// Timeline fetches one page of audit entries, clamping the page size.
func (s *Service) Timeline(ctx context.Context, filters TimelineFilters) (Result, error) {
	if s.repo == nil {
		return Result{}, fmt.Errorf("audit: repository not configured")
	}
	pageSize := filters.PageSize
	if pageSize <= 0 {
		pageSize = 20
	}
	if pageSize > 50 {
		pageSize = 50
	}
	page := filters.Page
	if page <= 0 {
		page = 1
	}
	offset := (page - 1) * pageSize
	rows, total, err := s.repo.Window(ctx, filters, pageSize, offset)
	if err != nil {
		return Result{}, err
	}
	return Result{Rows: rows, Pagination: shared.NewPagination(page, pageSize, total)}, nil
}
