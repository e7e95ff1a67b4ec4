package rbac

import (
	"net/http"

	"log/slog"

	"github.com/Tecnologia-odonto/SupplyArt-sub001/internal/platform/httpx"
	"github.com/Tecnologia-odonto/SupplyArt-sub001/internal/shared"
)

// Middleware wires capability checks into HTTP routing. It expects the actor
// to already sit in the request context (see app.ActorMiddleware).
type Middleware struct {
	Logger *slog.Logger
}

// Require ensures the current actor holds at least one of the capabilities.
func (m Middleware) Require(caps ...Capability) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if len(caps) == 0 {
				next.ServeHTTP(w, r)
				return
			}
			actor, ok := shared.ActorFromContext(r.Context())
			if !ok {
				httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "authentication required")
				return
			}
			granted := For(actor.Role)
			for _, cap := range caps {
				if granted.Has(cap) {
					next.ServeHTTP(w, r)
					return
				}
			}
			if m.Logger != nil {
				m.Logger.Warn("capability denied",
					slog.String("role", string(actor.Role)),
					slog.String("path", r.URL.Path))
			}
			httpx.Problem(w, http.StatusForbidden, "Forbidden", "role lacks required capability")
		})
	}
}
