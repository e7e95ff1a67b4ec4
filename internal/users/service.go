package users

import (
	"context"
	"fmt"

	"log/slog"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/Tecnologia-odonto/SupplyArt-sub001/internal/rbac"
	"github.com/Tecnologia-odonto/SupplyArt-sub001/internal/shared"
)

// RepositoryPort defines data access for accounts.
type RepositoryPort interface {
	List(ctx context.Context) ([]User, error)
	Get(ctx context.Context, id uuid.UUID) (User, error)
	Insert(ctx context.Context, u *User) error
	Update(ctx context.Context, id uuid.UUID, in UpdateInput) (User, error)
	SetActive(ctx context.Context, id uuid.UUID, active bool) (User, error)
	SetPasswordHash(ctx context.Context, id uuid.UUID, hash string) error
}

// AuditPort records account mutations.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service handles account administration.
type Service struct {
	repo       RepositoryPort
	audit      AuditPort
	logger     *slog.Logger
	bcryptCost int
}

// NewService builds a Service. A cost of zero falls back to the bcrypt default.
func NewService(repo RepositoryPort, audit AuditPort, logger *slog.Logger, bcryptCost int) *Service {
	if bcryptCost == 0 {
		bcryptCost = bcrypt.DefaultCost
	}
	return &Service{repo: repo, audit: audit, logger: logger, bcryptCost: bcryptCost}
}

// List returns all accounts.
func (s *Service) List(ctx context.Context, actor shared.Actor) ([]User, error) {
	if err := rbac.Check(actor, rbac.CapUsersManage); err != nil {
		return nil, err
	}
	return s.repo.List(ctx)
}

// Get returns one account.
func (s *Service) Get(ctx context.Context, actor shared.Actor, id uuid.UUID) (User, error) {
	if err := rbac.Check(actor, rbac.CapUsersManage); err != nil {
		return User{}, err
	}
	return s.repo.Get(ctx, id)
}

// Create registers a new account with a bcrypt-hashed password.
func (s *Service) Create(ctx context.Context, actor shared.Actor, in CreateInput) (User, error) {
	if err := rbac.Check(actor, rbac.CapUsersManage); err != nil {
		return User{}, err
	}
	if !in.Role.IsValid() {
		return User{}, fmt.Errorf("%w: unknown role %q", shared.ErrValidation, in.Role)
	}
	if !in.Role.IsGlobal() && in.UnitID == nil {
		return User{}, fmt.Errorf("%w: role %s requires a home location", shared.ErrValidation, in.Role)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), s.bcryptCost)
	if err != nil {
		return User{}, err
	}
	user := User{
		ID:           uuid.New(),
		Email:        in.Email,
		Name:         in.Name,
		Role:         in.Role,
		UnitID:       in.UnitID,
		IsActive:     true,
		PasswordHash: string(hash),
	}
	if err := s.repo.Insert(ctx, &user); err != nil {
		return User{}, err
	}
	s.recordAudit(ctx, actor, "user.create", user.ID, nil, user)
	return user, nil
}

// Update writes name, role and unit affiliation.
func (s *Service) Update(ctx context.Context, actor shared.Actor, id uuid.UUID, in UpdateInput) (User, error) {
	if err := rbac.Check(actor, rbac.CapUsersManage); err != nil {
		return User{}, err
	}
	if !in.Role.IsValid() {
		return User{}, fmt.Errorf("%w: unknown role %q", shared.ErrValidation, in.Role)
	}
	if !in.Role.IsGlobal() && in.UnitID == nil {
		return User{}, fmt.Errorf("%w: role %s requires a home location", shared.ErrValidation, in.Role)
	}
	before, err := s.repo.Get(ctx, id)
	if err != nil {
		return User{}, err
	}
	after, err := s.repo.Update(ctx, id, in)
	if err != nil {
		return User{}, err
	}
	s.recordAudit(ctx, actor, "user.update", id, before, after)
	return after, nil
}

// SetActive toggles an account. Actors cannot deactivate themselves.
func (s *Service) SetActive(ctx context.Context, actor shared.Actor, id uuid.UUID, active bool) (User, error) {
	if err := rbac.Check(actor, rbac.CapUsersManage); err != nil {
		return User{}, err
	}
	if !active && actor.UserID == id {
		return User{}, fmt.Errorf("%w: cannot deactivate own account", shared.ErrValidation)
	}
	before, err := s.repo.Get(ctx, id)
	if err != nil {
		return User{}, err
	}
	after, err := s.repo.SetActive(ctx, id, active)
	if err != nil {
		return User{}, err
	}
	s.recordAudit(ctx, actor, "user.set_active", id, before, after)
	return after, nil
}

// ChangePassword verifies the current password before storing a new hash.
// Any authenticated actor may change their own password.
func (s *Service) ChangePassword(ctx context.Context, actor shared.Actor, in ChangePasswordInput) error {
	user, err := s.repo.Get(ctx, actor.UserID)
	if err != nil {
		return err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(in.CurrentPassword)); err != nil {
		return shared.ErrInvalidCredentials
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(in.NewPassword), s.bcryptCost)
	if err != nil {
		return err
	}
	if err := s.repo.SetPasswordHash(ctx, actor.UserID, string(hash)); err != nil {
		return err
	}
	s.recordAudit(ctx, actor, "user.change_password", actor.UserID, nil, nil)
	return nil
}

func (s *Service) recordAudit(ctx context.Context, actor shared.Actor, action string, id uuid.UUID, before, after any) {
	if s.audit == nil {
		return
	}
	err := s.audit.Record(ctx, shared.AuditLog{
		ActorID:   actor.UserID,
		ActorName: actor.Name,
		Action:    action,
		Entity:    "users",
		EntityID:  id.String(),
		Before:    before,
		After:     after,
	})
	if err != nil && s.logger != nil {
		s.logger.Error("record audit", slog.String("action", action), slog.Any("error", err))
	}
}
