package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/kedeai/imagehub/lib/templates"
)

// templateImage is the image block of an add_template body.
type templateImage struct {
	Name         string `json:"name"`
	RepoName     string `json:"repo_name"`
	Tag          string `json:"tag"`
	Size         int64  `json:"size"`
	Architecture string `json:"architecture"`
	Title        string `json:"title"`
	Description  string `json:"description"`
	Digest       string `json:"digest"`
	Status       string `json:"status"`
	LastPushed   string `json:"last_pushed"`
	MediaType    string `json:"media_type"`
}

type addTemplateRequest struct {
	ID    templateID    `json:"id"`
	Image templateImage `json:"image"`
}

// templateID accepts the id as a JSON string or number.
type templateID string

func (id *templateID) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*id = templateID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return errors.New("id must be a string or a number")
	}
	*id = templateID(n.String())
	return nil
}

// ListTemplates returns the current template catalog.
func (s *ApiService) ListTemplates(w http.ResponseWriter, r *http.Request) {
	list, err := s.Synchronizer.Templates(r.Context())
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, errorBody{Message: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, list)
}

// AddTemplate stores one template outside of a sync pass.
func (s *ApiService) AddTemplate(w http.ResponseWriter, r *http.Request) {
	var body addTemplateRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, r, http.StatusBadRequest, errorBody{Code: "invalid_request", Message: err.Error()})
		return
	}

	t, err := s.Synchronizer.AddTemplate(r.Context(), templates.Template{
		ID:           string(body.ID),
		Name:         body.Image.Name,
		RepoName:     body.Image.RepoName,
		Tag:          body.Image.Tag,
		Title:        body.Image.Title,
		Description:  body.Image.Description,
		Size:         body.Image.Size,
		Architecture: body.Image.Architecture,
		Digest:       body.Image.Digest,
		MediaType:    body.Image.MediaType,
		Status:       body.Image.Status,
		LastPushed:   body.Image.LastPushed,
	})
	if err != nil {
		if errors.Is(err, templates.ErrInvalid) {
			writeError(w, r, http.StatusBadRequest, errorBody{Code: "invalid_template", Message: err.Error()})
			return
		}
		writeError(w, r, http.StatusInternalServerError, errorBody{Message: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, t)
}

// SyncTemplates runs one synchronization pass and reports its result.
func (s *ApiService) SyncTemplates(w http.ResponseWriter, r *http.Request) {
	res, err := s.Synchronizer.Sync(r.Context())
	if err != nil {
		writeError(w, r, http.StatusBadGateway, errorBody{Code: "sync_aborted", Message: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, res)
}
