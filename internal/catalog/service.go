package catalog

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"log/slog"

	"github.com/google/uuid"
	"golang.org/x/text/collate"
	"golang.org/x/text/language"

	"github.com/Tecnologia-odonto/SupplyArt-sub001/internal/rbac"
	"github.com/Tecnologia-odonto/SupplyArt-sub001/internal/shared"
)

// AuditPort records catalog mutations.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service orchestrates catalog reads and writes.
type Service struct {
	repo   Repository
	audit  AuditPort
	logger *slog.Logger
}

// NewService constructs a Service.
func NewService(repo Repository, audit AuditPort, logger *slog.Logger) *Service {
	return &Service{repo: repo, audit: audit, logger: logger}
}

// Item names carry Portuguese diacritics; byte order would file "Ácido"
// after "Zinco". Listings sort with a pt-BR collator instead.
var itemCollator = collate.New(language.BrazilianPortuguese, collate.IgnoreCase)

// ListItems returns catalog items ordered by locale-aware name.
func (s *Service) ListItems(ctx context.Context, filter ItemFilter) ([]Item, error) {
	items, err := s.repo.ListItems(ctx, filter)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(items, func(i, j int) bool {
		return itemCollator.CompareString(items[i].Name, items[j].Name) < 0
	})
	return items, nil
}

// GetItem fetches a single item.
func (s *Service) GetItem(ctx context.Context, id uuid.UUID) (Item, error) {
	return s.repo.GetItem(ctx, id)
}

// ItemInput carries item creation/update fields.
type ItemInput struct {
	Code        string `json:"code" validate:"required,max=40"`
	Name        string `json:"name" validate:"required,max=160"`
	UnitMeasure string `json:"unit_measure" validate:"required,max=20"`
	Category    string `json:"category" validate:"max=80"`
	Description string `json:"description" validate:"max=2000"`
}

// CreateItem registers a new item.
func (s *Service) CreateItem(ctx context.Context, actor shared.Actor, input ItemInput) (Item, error) {
	if err := rbac.Check(actor, rbac.CapCatalogWrite); err != nil {
		return Item{}, err
	}
	if strings.TrimSpace(input.Code) == "" || strings.TrimSpace(input.Name) == "" {
		return Item{}, fmt.Errorf("%w: item code and name are required", shared.ErrValidation)
	}
	now := time.Now()
	item := Item{
		ID:          uuid.New(),
		Code:        strings.TrimSpace(input.Code),
		Name:        strings.TrimSpace(input.Name),
		UnitMeasure: input.UnitMeasure,
		Category:    input.Category,
		Description: input.Description,
		Active:      true,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.repo.InsertItem(ctx, item); err != nil {
		return Item{}, err
	}
	s.recordAudit(ctx, actor, "catalog.item.create", "items", item.ID.String(), nil, item)
	return item, nil
}

// UpdateItem rewrites item fields.
func (s *Service) UpdateItem(ctx context.Context, actor shared.Actor, id uuid.UUID, input ItemInput) (Item, error) {
	if err := rbac.Check(actor, rbac.CapCatalogWrite); err != nil {
		return Item{}, err
	}
	before, err := s.repo.GetItem(ctx, id)
	if err != nil {
		return Item{}, err
	}
	item := before
	item.Code = strings.TrimSpace(input.Code)
	item.Name = strings.TrimSpace(input.Name)
	item.UnitMeasure = input.UnitMeasure
	item.Category = input.Category
	item.Description = input.Description
	item.UpdatedAt = time.Now()
	if item.Code == "" || item.Name == "" {
		return Item{}, fmt.Errorf("%w: item code and name are required", shared.ErrValidation)
	}
	if err := s.repo.UpdateItem(ctx, item); err != nil {
		return Item{}, err
	}
	s.recordAudit(ctx, actor, "catalog.item.update", "items", item.ID.String(), before, item)
	return item, nil
}

// DeactivateItem soft-deletes an item. Rows referenced by ledgers stay.
func (s *Service) DeactivateItem(ctx context.Context, actor shared.Actor, id uuid.UUID) error {
	if err := rbac.Check(actor, rbac.CapCatalogWrite); err != nil {
		return err
	}
	before, err := s.repo.GetItem(ctx, id)
	if err != nil {
		return err
	}
	if err := s.repo.SetItemActive(ctx, id, false); err != nil {
		return err
	}
	after := before
	after.Active = false
	s.recordAudit(ctx, actor, "catalog.item.deactivate", "items", id.String(), before, after)
	return nil
}

// ListUnits returns org units.
func (s *Service) ListUnits(ctx context.Context, filter UnitFilter) ([]OrgUnit, error) {
	return s.repo.ListUnits(ctx, filter)
}

// GetUnit fetches an org unit.
func (s *Service) GetUnit(ctx context.Context, id uuid.UUID) (OrgUnit, error) {
	return s.repo.GetUnit(ctx, id)
}

// UnitInput carries org unit creation/update fields.
type UnitInput struct {
	Code    string     `json:"code" validate:"required,max=40"`
	Name    string     `json:"name" validate:"required,max=160"`
	Address string     `json:"address" validate:"max=400"`
	IsCD    bool       `json:"is_cd"`
	CDID    *uuid.UUID `json:"cd_id"`
}

// CreateUnit registers an org unit.
func (s *Service) CreateUnit(ctx context.Context, actor shared.Actor, input UnitInput) (OrgUnit, error) {
	if err := rbac.Check(actor, rbac.CapCatalogWrite); err != nil {
		return OrgUnit{}, err
	}
	if input.IsCD && input.CDID != nil {
		return OrgUnit{}, fmt.Errorf("%w: a distribution center cannot point at another CD", shared.ErrValidation)
	}
	if input.CDID != nil {
		cd, err := s.repo.GetUnit(ctx, *input.CDID)
		if err != nil {
			return OrgUnit{}, err
		}
		if !cd.IsCD {
			return OrgUnit{}, fmt.Errorf("%w: cd_id must reference a distribution center", shared.ErrValidation)
		}
	}
	now := time.Now()
	unit := OrgUnit{
		ID:        uuid.New(),
		Code:      strings.TrimSpace(input.Code),
		Name:      strings.TrimSpace(input.Name),
		Address:   input.Address,
		IsCD:      input.IsCD,
		CDID:      input.CDID,
		Active:    true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if unit.Code == "" || unit.Name == "" {
		return OrgUnit{}, fmt.Errorf("%w: unit code and name are required", shared.ErrValidation)
	}
	if err := s.repo.InsertUnit(ctx, unit); err != nil {
		return OrgUnit{}, err
	}
	s.recordAudit(ctx, actor, "catalog.unit.create", "org_units", unit.ID.String(), nil, unit)
	return unit, nil
}

// UpdateUnit rewrites unit fields. The is_cd flag is immutable: ledgers
// partition on it.
func (s *Service) UpdateUnit(ctx context.Context, actor shared.Actor, id uuid.UUID, input UnitInput) (OrgUnit, error) {
	if err := rbac.Check(actor, rbac.CapCatalogWrite); err != nil {
		return OrgUnit{}, err
	}
	before, err := s.repo.GetUnit(ctx, id)
	if err != nil {
		return OrgUnit{}, err
	}
	if input.IsCD != before.IsCD {
		return OrgUnit{}, fmt.Errorf("%w: is_cd cannot change after creation", shared.ErrValidation)
	}
	unit := before
	unit.Code = strings.TrimSpace(input.Code)
	unit.Name = strings.TrimSpace(input.Name)
	unit.Address = input.Address
	unit.CDID = input.CDID
	unit.UpdatedAt = time.Now()
	if err := s.repo.UpdateUnit(ctx, unit); err != nil {
		return OrgUnit{}, err
	}
	s.recordAudit(ctx, actor, "catalog.unit.update", "org_units", unit.ID.String(), before, unit)
	return unit, nil
}

// DeactivateUnit soft-deletes an org unit.
func (s *Service) DeactivateUnit(ctx context.Context, actor shared.Actor, id uuid.UUID) error {
	if err := rbac.Check(actor, rbac.CapCatalogWrite); err != nil {
		return err
	}
	before, err := s.repo.GetUnit(ctx, id)
	if err != nil {
		return err
	}
	if err := s.repo.SetUnitActive(ctx, id, false); err != nil {
		return err
	}
	after := before
	after.Active = false
	s.recordAudit(ctx, actor, "catalog.unit.deactivate", "org_units", id.String(), before, after)
	return nil
}

// ListSuppliers returns suppliers.
func (s *Service) ListSuppliers(ctx context.Context, onlyActive bool) ([]Supplier, error) {
	return s.repo.ListSuppliers(ctx, onlyActive)
}

// GetSupplier returns one supplier.
func (s *Service) GetSupplier(ctx context.Context, id uuid.UUID) (Supplier, error) {
	return s.repo.GetSupplier(ctx, id)
}

// SupplierInput carries supplier creation/update fields.
type SupplierInput struct {
	Name    string `json:"name" validate:"required,max=160"`
	CNPJ    string `json:"cnpj" validate:"required,max=18"`
	Email   string `json:"email" validate:"omitempty,email"`
	Phone   string `json:"phone" validate:"max=30"`
	Address string `json:"address" validate:"max=400"`
}

// CreateSupplier registers a supplier.
func (s *Service) CreateSupplier(ctx context.Context, actor shared.Actor, input SupplierInput) (Supplier, error) {
	if err := rbac.Check(actor, rbac.CapCatalogWrite); err != nil {
		return Supplier{}, err
	}
	if strings.TrimSpace(input.Name) == "" || strings.TrimSpace(input.CNPJ) == "" {
		return Supplier{}, fmt.Errorf("%w: supplier name and cnpj are required", shared.ErrValidation)
	}
	now := time.Now()
	supplier := Supplier{
		ID:        uuid.New(),
		Name:      strings.TrimSpace(input.Name),
		CNPJ:      strings.TrimSpace(input.CNPJ),
		Email:     input.Email,
		Phone:     input.Phone,
		Address:   input.Address,
		Active:    true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.repo.InsertSupplier(ctx, supplier); err != nil {
		return Supplier{}, err
	}
	s.recordAudit(ctx, actor, "catalog.supplier.create", "suppliers", supplier.ID.String(), nil, supplier)
	return supplier, nil
}

// UpdateSupplier rewrites supplier fields.
func (s *Service) UpdateSupplier(ctx context.Context, actor shared.Actor, id uuid.UUID, input SupplierInput) (Supplier, error) {
	if err := rbac.Check(actor, rbac.CapCatalogWrite); err != nil {
		return Supplier{}, err
	}
	before, err := s.repo.GetSupplier(ctx, id)
	if err != nil {
		return Supplier{}, err
	}
	supplier := before
	supplier.Name = strings.TrimSpace(input.Name)
	supplier.CNPJ = strings.TrimSpace(input.CNPJ)
	supplier.Email = input.Email
	supplier.Phone = input.Phone
	supplier.Address = input.Address
	supplier.UpdatedAt = time.Now()
	if supplier.Name == "" || supplier.CNPJ == "" {
		return Supplier{}, fmt.Errorf("%w: supplier name and cnpj are required", shared.ErrValidation)
	}
	if err := s.repo.UpdateSupplier(ctx, supplier); err != nil {
		return Supplier{}, err
	}
	s.recordAudit(ctx, actor, "catalog.supplier.update", "suppliers", supplier.ID.String(), before, supplier)
	return supplier, nil
}

// DeactivateSupplier soft-deletes a supplier.
func (s *Service) DeactivateSupplier(ctx context.Context, actor shared.Actor, id uuid.UUID) error {
	if err := rbac.Check(actor, rbac.CapCatalogWrite); err != nil {
		return err
	}
	before, err := s.repo.GetSupplier(ctx, id)
	if err != nil {
		return err
	}
	if err := s.repo.SetSupplierActive(ctx, id, false); err != nil {
		return err
	}
	after := before
	after.Active = false
	s.recordAudit(ctx, actor, "catalog.supplier.deactivate", "suppliers", id.String(), before, after)
	return nil
}

func (s *Service) recordAudit(ctx context.Context, actor shared.Actor, action, entity, entityID string, before, after any) {
	if s.audit == nil {
		return
	}
	err := s.audit.Record(ctx, shared.AuditLog{
		ActorID:   actor.UserID,
		ActorName: actor.Name,
		Action:    action,
		Entity:    entity,
		EntityID:  entityID,
		Before:    before,
		After:     after,
	})
	if err != nil && s.logger != nil {
		s.logger.Error("record audit", slog.String("action", action), slog.Any("error", err))
	}
}
