package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/kedeai/imagehub/cmd/api/config"
	"github.com/kedeai/imagehub/lib/builds"
	"github.com/kedeai/imagehub/lib/containers"
	"github.com/kedeai/imagehub/lib/images"
	"github.com/kedeai/imagehub/lib/logger"
	"github.com/kedeai/imagehub/lib/middleware"
	"github.com/kedeai/imagehub/lib/paths"
	"github.com/kedeai/imagehub/lib/templates"
)

// ApiService serves the /containers endpoints.
type ApiService struct {
	Config       *config.Config
	Paths        *paths.Paths
	Coordinator  *builds.Coordinator
	Puller       *images.Puller
	Synchronizer *templates.Synchronizer
	Restarter    *containers.Restarter
}

// New creates a new ApiService
func New(
	config *config.Config,
	p *paths.Paths,
	coordinator *builds.Coordinator,
	puller *images.Puller,
	synchronizer *templates.Synchronizer,
	restarter *containers.Restarter,
) *ApiService {
	return &ApiService{
		Config:       config,
		Paths:        p,
		Coordinator:  coordinator,
		Puller:       puller,
		Synchronizer: synchronizer,
		Restarter:    restarter,
	}
}

// Routes mounts the container endpoints on r. User endpoints require a JWT;
// add_template requires the admin token instead.
func (s *ApiService) Routes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(middleware.VerifyJWT(s.Config.JwtSecret))
		r.Post("/build_image", s.BuildImage)
		r.Post("/restart_container", s.RestartContainer)
		r.Get("/templates", s.ListTemplates)
		r.Get("/templates/{image_name}/images", s.PullTemplateImage)
		r.Get("/images", s.ListImages)
		r.Get("/container_url", s.ContainerURL)
	})
	r.Group(func(r chi.Router) {
		r.Use(middleware.RequireAdminToken(s.Config.AdminToken))
		r.Put("/add_template", s.AddTemplate)
		r.Post("/templates/sync", s.SyncTemplates)
	})
}

// errorBody is the JSON body of every non-2xx response.
type errorBody struct {
	Code    string   `json:"code,omitempty"`
	Message string   `json:"message"`
	Meta    string   `json:"meta,omitempty"`
	Log     []string `json:"log,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, status int, body errorBody) {
	if status >= http.StatusInternalServerError {
		logger.FromContext(r.Context()).ErrorContext(r.Context(), "request failed",
			"status", status, "error", body.Message)
	}
	writeJSON(w, status, body)
}
