package barcodes

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/loomcart/loomcart/internal/catalog"
	"github.com/loomcart/loomcart/internal/costdefaults"
	"github.com/loomcart/loomcart/internal/shared"
)

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	InsertBatch(ctx context.Context, items []Barcode) error
	GetByCode(ctx context.Context, code string) (Barcode, error)
	SaveStatus(ctx context.Context, code string, status Status, condition Condition, logs []UpdatedLog) (Barcode, error)
	List(ctx context.Context, filter Filter) ([]Barcode, int, error)
}

// VariantResolver resolves a SKU to its catalog variant.
type VariantResolver interface {
	VariantBySKU(ctx context.Context, sku string) (catalog.Variant, error)
}

// DefaultCostReader reads the per-variant default cost.
type DefaultCostReader interface {
	ByVariant(ctx context.Context, variantID int64) (costdefaults.DefaultCost, error)
}

// SequencePort hands out monotonically increasing serials for code generation.
type SequencePort interface {
	Next(ctx context.Context, key string) (int64, error)
}

// AuditPort abstracts audit logging.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// serialKey scopes the code-generation counter.
const serialKey = "barcode:serial"

// Service owns the barcode registry.
type Service struct {
	repo      RepositoryPort
	variants  VariantResolver
	costs     DefaultCostReader
	sequences SequencePort
	audit     AuditPort
	now       func() time.Time
}

// NewService builds Service. audit may be nil.
func NewService(repo RepositoryPort, variants VariantResolver, costs DefaultCostReader, sequences SequencePort, audit AuditPort) *Service {
	return &Service{repo: repo, variants: variants, costs: costs, sequences: sequences, audit: audit, now: func() time.Time { return time.Now().UTC() }}
}

// CreateForStock registers count fresh codes for a SKU, all in qc_pending.
func (s *Service) CreateForStock(ctx context.Context, sku string, count int, note, actor string) ([]Barcode, error) {
	if count <= 0 {
		return nil, errors.New("barcodes: count must be positive")
	}
	variant, err := s.variants.VariantBySKU(ctx, sku)
	if err != nil {
		return nil, err
	}

	// Codes printed together share a batch id in their first log entry.
	batchID := uuid.NewString()
	created := make([]Barcode, 0, count)
	for i := 0; i < count; i++ {
		serial, err := s.sequences.Next(ctx, serialKey)
		if err != nil {
			return nil, err
		}
		created = append(created, Barcode{
			Code:      NewCode(serial),
			SKU:       variant.SKU,
			VariantID: variant.ID,
			ProductID: variant.ProductID,
			Status:    StatusQCPending,
			Condition: ConditionNew,
			UpdatedLogs: []UpdatedLog{{
				Name:          actor,
				Date:          s.now(),
				AdminNote:     note,
				SystemMessage: "barcode registered, batch " + batchID,
			}},
		})
	}
	if err := s.repo.InsertBatch(ctx, created); err != nil {
		return nil, err
	}
	if s.audit != nil {
		_ = s.audit.Record(ctx, shared.AuditLog{
			Actor:    actor,
			Action:   "barcode:create",
			Entity:   "barcode",
			EntityID: variant.SKU,
			Meta:     map[string]any{"count": count, "note": note, "batch_id": batchID},
		})
	}
	return created, nil
}

// UpdateStatus transitions a barcode, prepending an immutable log entry
// describing the old and new state before the mutation lands.
func (s *Service) UpdateStatus(ctx context.Context, code string, status Status, condition Condition, actor, role, note string) (Barcode, error) {
	if !status.Valid() {
		return Barcode{}, ErrInvalidStatus
	}
	if !condition.Valid() {
		return Barcode{}, ErrInvalidCondition
	}
	current, err := s.repo.GetByCode(ctx, code)
	if err != nil {
		return Barcode{}, err
	}
	entry := UpdatedLog{
		Name:      actor,
		Role:      role,
		Date:      s.now(),
		AdminNote: note,
		SystemMessage: fmt.Sprintf("status changed %s -> %s, condition %s -> %s",
			current.Status, status, current.Condition, condition),
	}
	logs := append([]UpdatedLog{entry}, current.UpdatedLogs...)
	updated, err := s.repo.SaveStatus(ctx, code, status, condition, logs)
	if err != nil {
		return Barcode{}, err
	}
	if s.audit != nil {
		_ = s.audit.Record(ctx, shared.AuditLog{
			Actor:    actor,
			Role:     role,
			Action:   "barcode:status",
			Entity:   "barcode",
			EntityID: code,
			Meta:     map[string]any{"status": string(status), "conditions": string(condition)},
		})
	}
	return updated, nil
}

// ListBySKU pages through the registry by SKU, code, status or usage.
func (s *Service) ListBySKU(ctx context.Context, filter Filter) ([]Barcode, shared.Pagination, error) {
	items, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, shared.Pagination{}, err
	}
	return items, shared.NewPagination(filter.Page, filter.PerPage, total), nil
}

// CheckUsedOrNot probes the single-use flag. The probe also requires a
// complete default cost for the barcode's variant, since its only caller
// intent is a subsequent purchase conversion.
func (s *Service) CheckUsedOrNot(ctx context.Context, code string) (UsedCheck, error) {
	b, err := s.repo.GetByCode(ctx, code)
	if err != nil {
		return UsedCheck{}, err
	}
	entry, err := s.costs.ByVariant(ctx, b.VariantID)
	if err != nil {
		return UsedCheck{}, err
	}
	if err := entry.Validate(); err != nil {
		return UsedCheck{}, err
	}
	return UsedCheck{Barcode: b.Code, IsUsed: b.IsUsed, Status: b.Status, Condition: b.Condition}, nil
}
