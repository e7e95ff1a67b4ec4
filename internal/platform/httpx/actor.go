package httpx

import (
	"net/http"

	"github.com/Tecnologia-odonto/SupplyArt-sub001/internal/shared"
)

// RequireActor pulls the actor from the request context, writing a 401
// problem when absent. Callers bail out when ok is false.
func RequireActor(w http.ResponseWriter, r *http.Request) (shared.Actor, bool) {
	actor, ok := shared.ActorFromContext(r.Context())
	if !ok {
		Problem(w, http.StatusUnauthorized, "Unauthorized", "authentication required")
	}
	return actor, ok
}
