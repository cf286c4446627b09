package handlers

import (
	"net/http"

	"github.com/mlqa/lingo/internal/services"
	"github.com/mlqa/lingo/pkg/httpext"
)

// HandleHealth reports liveness together with the state of optional dependencies
func HandleHealth(s *services.Services, w http.ResponseWriter, r *http.Request) {
	httpext.JsonResponse(w, http.StatusOK, map[string]interface{}{
		"status":       "ok",
		"dependencies": s.Health(r.Context()),
	})
}
