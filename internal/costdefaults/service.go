package costdefaults

import (
	"context"
	"strconv"

	"github.com/loomcart/loomcart/internal/shared"
)

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	Upsert(ctx context.Context, entry DefaultCost) (DefaultCost, error)
	ByVariant(ctx context.Context, variantID int64) (DefaultCost, error)
	List(ctx context.Context) ([]DefaultCost, error)
}

// AuditPort abstracts audit logging.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service owns the default-cost registry.
type Service struct {
	repo  RepositoryPort
	audit AuditPort
}

// NewService builds Service. audit may be nil.
func NewService(repo RepositoryPort, audit AuditPort) *Service {
	return &Service{repo: repo, audit: audit}
}

// Upsert writes the per-variant default cost used by barcode-based intake.
func (s *Service) Upsert(ctx context.Context, actor string, entry DefaultCost) (DefaultCost, error) {
	if entry.VariantID <= 0 {
		return DefaultCost{}, ErrNotFound
	}
	saved, err := s.repo.Upsert(ctx, entry)
	if err != nil {
		return DefaultCost{}, err
	}
	if s.audit != nil {
		_ = s.audit.Record(ctx, shared.AuditLog{
			Actor:    actor,
			Action:   "cost_default:upsert",
			Entity:   "cost_default",
			EntityID: strconv.FormatInt(saved.VariantID, 10),
			Meta:     map[string]any{"unit_cost": saved.UnitCost, "supplier": saved.Supplier},
		})
	}
	return saved, nil
}

// ByVariant returns the default cost for one variant.
func (s *Service) ByVariant(ctx context.Context, variantID int64) (DefaultCost, error) {
	return s.repo.ByVariant(ctx, variantID)
}

// List returns every registered default cost.
func (s *Service) List(ctx context.Context) ([]DefaultCost, error) {
	return s.repo.List(ctx)
}
