package auth_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/Tecnologia-odonto/SupplyArt-sub001/internal/auth"
	"github.com/Tecnologia-odonto/SupplyArt-sub001/internal/shared"
)

type memoryRepo struct {
	byEmail map[string]auth.User
	byID    map[uuid.UUID]auth.User
}

func newMemoryRepo(users ...auth.User) *memoryRepo {
	r := &memoryRepo{byEmail: map[string]auth.User{}, byID: map[uuid.UUID]auth.User{}}
	for _, u := range users {
		r.byEmail[u.Email] = u
		r.byID[u.ID] = u
	}
	return r
}

func (r *memoryRepo) FindByEmail(ctx context.Context, email string) (auth.User, error) {
	u, ok := r.byEmail[email]
	if !ok {
		return auth.User{}, shared.ErrNotFound
	}
	return u, nil
}

func (r *memoryRepo) FindByID(ctx context.Context, id uuid.UUID) (auth.User, error) {
	u, ok := r.byID[id]
	if !ok {
		return auth.User{}, shared.ErrNotFound
	}
	return u, nil
}

func testUser(t *testing.T, email, password string, active bool) auth.User {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	require.NoError(t, err)
	return auth.User{
		ID:           uuid.New(),
		Email:        email,
		Name:         "Operator",
		PasswordHash: string(hash),
		Role:         shared.RoleUnitOperator,
		IsActive:     active,
	}
}

func setupHandler(t *testing.T, repo auth.Repository) (*auth.Handler, *shared.SessionManager) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	sessions := shared.NewSessionManager(client, "supplyart_session", "test-secret", time.Hour, false)
	csrf := shared.NewCSRFManager("csrf-secret")
	service := auth.NewService(repo)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return auth.NewHandler(logger, service, sessions, csrf), sessions
}

func testRouter(h *auth.Handler) http.Handler {
	r := chi.NewRouter()
	r.Route("/auth", h.MountRoutes)
	return r
}

func withSession(t *testing.T, sessions *shared.SessionManager, r *http.Request) *http.Request {
	t.Helper()
	sess, err := sessions.Load(r.Context(), r)
	require.NoError(t, err)
	return r.WithContext(shared.ContextWithSession(r.Context(), sess))
}

func TestLoginReturnsActorAndCSRFToken(t *testing.T) {
	user := testUser(t, "ana@supplyart.test", "s3cret-pass", true)
	handler, sessions := setupHandler(t, newMemoryRepo(user))

	body := strings.NewReader(`{"email":"ana@supplyart.test","password":"s3cret-pass"}`)
	req := httptest.NewRequest(http.MethodPost, "/auth/login", body)
	req = withSession(t, sessions, req)
	rr := httptest.NewRecorder()

	router := testRouter(handler)
	router.ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	var resp struct {
		UserID    string `json:"user_id"`
		Role      string `json:"role"`
		CSRFToken string `json:"csrf_token"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	require.Equal(t, user.ID.String(), resp.UserID)
	require.Equal(t, "unit_operator", resp.Role)
	require.NotEmpty(t, resp.CSRFToken)
}

func TestLoginRejectsWrongPassword(t *testing.T) {
	user := testUser(t, "ana@supplyart.test", "s3cret-pass", true)
	handler, sessions := setupHandler(t, newMemoryRepo(user))

	body := strings.NewReader(`{"email":"ana@supplyart.test","password":"wrong-pass1"}`)
	req := httptest.NewRequest(http.MethodPost, "/auth/login", body)
	req = withSession(t, sessions, req)
	rr := httptest.NewRecorder()

	testRouter(handler).ServeHTTP(rr, req)

	require.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestLoginRejectsInactiveUser(t *testing.T) {
	user := testUser(t, "ana@supplyart.test", "s3cret-pass", false)
	handler, sessions := setupHandler(t, newMemoryRepo(user))

	body := strings.NewReader(`{"email":"ana@supplyart.test","password":"s3cret-pass"}`)
	req := httptest.NewRequest(http.MethodPost, "/auth/login", body)
	req = withSession(t, sessions, req)
	rr := httptest.NewRecorder()

	testRouter(handler).ServeHTTP(rr, req)

	require.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestLoginValidatesPayload(t *testing.T) {
	handler, sessions := setupHandler(t, newMemoryRepo())

	body := strings.NewReader(`{"email":"not-an-email","password":"x"}`)
	req := httptest.NewRequest(http.MethodPost, "/auth/login", body)
	req = withSession(t, sessions, req)
	rr := httptest.NewRecorder()

	testRouter(handler).ServeHTTP(rr, req)

	require.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestMeRequiresActor(t *testing.T) {
	handler, _ := setupHandler(t, newMemoryRepo())

	req := httptest.NewRequest(http.MethodGet, "/auth/me", nil)
	rr := httptest.NewRecorder()

	testRouter(handler).ServeHTTP(rr, req)

	require.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestResolveRejectsDeactivatedUser(t *testing.T) {
	user := testUser(t, "ana@supplyart.test", "s3cret-pass", false)
	service := auth.NewService(newMemoryRepo(user))

	_, err := service.Resolve(context.Background(), user.ID.String())
	require.ErrorIs(t, err, shared.ErrNotFound)
}
