package audit

import (
	"context"

	"log/slog"

	"github.com/Tecnologia-odonto/SupplyArt-sub001/internal/rbac"
	"github.com/Tecnologia-odonto/SupplyArt-sub001/internal/shared"
)

const (
	defaultPageSize = 20
	maxPageSize     = 50
)

// RepositoryPort is the storage dependency of the service.
type RepositoryPort interface {
	Window(ctx context.Context, f Filters, limit, offset int) ([]Entry, error)
	All(ctx context.Context, f Filters) ([]Entry, error)
}

type Service struct {
	repo   RepositoryPort
	logger *slog.Logger
}

// NewService constructs a Service.
func NewService(repo RepositoryPort, logger *slog.Logger) *Service {
	return &Service{repo: repo, logger: logger}
}

// Timeline returns one page of the audit trail. The repository fetches one
// row beyond the page so HasNext needs no second query.
func (s *Service) Timeline(ctx context.Context, actor shared.Actor, f Filters) (Result, error) {
	if err := rbac.Check(actor, rbac.CapAuditView); err != nil {
		return Result{}, err
	}
	pageSize := f.PageSize
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}
	page := f.Page
	if page <= 0 {
		page = 1
	}
	offset := (page - 1) * pageSize

	entries, err := s.repo.Window(ctx, f, pageSize+1, offset)
	if err != nil {
		return Result{}, err
	}
	hasNext := len(entries) > pageSize
	if hasNext {
		entries = entries[:pageSize]
	}
	paging := PagingInfo{Page: page, PageSize: pageSize, HasNext: hasNext}
	if page > 1 {
		paging.PrevPage = page - 1
	}
	if hasNext {
		paging.NextPage = page + 1
	}
	return Result{Entries: entries, Paging: paging}, nil
}

// Export returns every matching entry, for the CSV download.
func (s *Service) Export(ctx context.Context, actor shared.Actor, f Filters) ([]Entry, error) {
	if err := rbac.Check(actor, rbac.CapAuditView); err != nil {
		return nil, err
	}
	return s.repo.All(ctx, f)
}
