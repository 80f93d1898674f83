package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/kedeai/imagehub/lib/containers"
	"github.com/kedeai/imagehub/lib/middleware"
)

type restartRequest struct {
	AppName     string `json:"app_name"`
	VariantName string `json:"variant_name"`
}

// RestartContainer restarts the caller's container for an app variant.
func (s *ApiService) RestartContainer(w http.ResponseWriter, r *http.Request) {
	var body restartRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, r, http.StatusBadRequest, errorBody{Code: "invalid_request", Message: err.Error()})
		return
	}

	userID := middleware.GetUserIDFromContext(r.Context())
	msg, err := s.Restarter.Restart(r.Context(), body.AppName, body.VariantName, userID)
	if err != nil {
		switch {
		case errors.Is(err, containers.ErrInvalidName):
			writeError(w, r, http.StatusBadRequest, errorBody{Code: "invalid_name", Message: err.Error()})
		case errors.Is(err, containers.ErrNotFound):
			writeError(w, r, http.StatusNotFound, errorBody{Code: "not_found", Message: err.Error()})
		default:
			writeError(w, r, http.StatusInternalServerError, errorBody{Message: err.Error()})
		}
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": msg})
}

// ContainerURL returns the path an app variant of the caller is served under.
func (s *ApiService) ContainerURL(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	uri, err := containers.URLPath(middleware.GetUserIDFromContext(r.Context()), q.Get("app_name"), q.Get("variant_name"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, errorBody{Code: "invalid_name", Message: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"uri": uri})
}
