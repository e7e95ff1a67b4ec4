package app

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"log/slog"

	"github.com/stretchr/testify/require"

	"github.com/Tecnologia-odonto/SupplyArt-sub001/internal/shared"
)

type fakeGuard struct {
	claims   []string
	releases []string
	claimErr error
}

func (g *fakeGuard) Claim(_ context.Context, key, _ string) error {
	g.claims = append(g.claims, key)
	return g.claimErr
}

func (g *fakeGuard) Release(_ context.Context, key string) error {
	g.releases = append(g.releases, key)
	return nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func idempotencyRequest(method, key string) *http.Request {
	r := httptest.NewRequest(method, "/requests", nil)
	if key != "" {
		r.Header.Set(IdempotencyHeader, key)
	}
	return r
}

func TestIdempotencyReplayConflicts(t *testing.T) {
	guard := &fakeGuard{claimErr: shared.ErrIdempotencyConflict}
	handlerCalled := false
	h := idempotencyMiddleware(guard, discardLogger())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handlerCalled = true
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, idempotencyRequest(http.MethodPost, "abc-123"))

	require.Equal(t, http.StatusConflict, rec.Code)
	require.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))
	require.False(t, handlerCalled, "a replayed key must not reach the handler")
	require.Equal(t, []string{"abc-123"}, guard.claims)
}

func TestIdempotencyReleasesKeyOnServerError(t *testing.T) {
	guard := &fakeGuard{}
	h := idempotencyMiddleware(guard, discardLogger())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, idempotencyRequest(http.MethodPost, "abc-123"))

	require.Equal(t, []string{"abc-123"}, guard.claims)
	require.Equal(t, []string{"abc-123"}, guard.releases, "failed mutations stay retryable")
}

func TestIdempotencyKeepsKeyOnSuccess(t *testing.T) {
	guard := &fakeGuard{}
	h := idempotencyMiddleware(guard, discardLogger())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, idempotencyRequest(http.MethodPost, "abc-123"))

	require.Equal(t, http.StatusCreated, rec.Code)
	require.Empty(t, guard.releases)
}

func TestIdempotencySkipsReadsAndMissingKeys(t *testing.T) {
	guard := &fakeGuard{}
	h := idempotencyMiddleware(guard, discardLogger())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, idempotencyRequest(http.MethodGet, "abc-123"))
	h.ServeHTTP(rec, idempotencyRequest(http.MethodPost, ""))

	require.Empty(t, guard.claims)
}
