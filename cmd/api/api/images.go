package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"

	"github.com/go-chi/chi/v5"
	"github.com/nrednav/cuid2"

	"github.com/kedeai/imagehub/lib/builds"
	"github.com/kedeai/imagehub/lib/images"
	"github.com/kedeai/imagehub/lib/logger"
	"github.com/kedeai/imagehub/lib/middleware"
	"github.com/kedeai/imagehub/lib/templates"
)

// uploadField is the multipart field carrying the source archive.
const uploadField = "tar_file"

// multipartOverhead covers headers and boundaries around the archive.
const multipartOverhead = 1 << 20

// BuildImage stores the uploaded archive, queues a build and waits for it.
func (s *ApiService) BuildImage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logger.FromContext(ctx)

	req := images.BuildRequest{
		ID:          cuid2.Generate(),
		AppName:     r.URL.Query().Get("app_name"),
		VariantName: r.URL.Query().Get("variant_name"),
		UserID:      middleware.GetUserIDFromContext(ctx),
	}
	if req.AppName == "" || req.VariantName == "" {
		writeError(w, r, http.StatusBadRequest, errorBody{Code: "invalid_request", Message: "app_name and variant_name are required"})
		return
	}

	archivePath, err := s.saveUpload(w, r, req.ID)
	if err != nil {
		_ = os.RemoveAll(s.Paths.BuildDir(req.ID))
		log.WarnContext(ctx, "rejected build upload", "error", err)
		writeError(w, r, http.StatusBadRequest, errorBody{Code: "invalid_upload", Message: err.Error()})
		return
	}
	req.ArchivePath = archivePath

	h, err := s.Coordinator.Submit(ctx, req)
	if err != nil {
		_ = os.RemoveAll(s.Paths.BuildDir(req.ID))
		switch {
		case errors.Is(err, images.ErrInvalidName):
			writeError(w, r, http.StatusBadRequest, errorBody{Code: "invalid_name", Message: err.Error()})
		case errors.Is(err, builds.ErrQueueClosed):
			writeError(w, r, http.StatusServiceUnavailable, errorBody{Code: "unavailable", Message: err.Error()})
		default:
			writeError(w, r, http.StatusInternalServerError, errorBody{Message: err.Error()})
		}
		return
	}
	if h.ID != req.ID {
		// Joined a build already in flight for this tag; our upload is unused.
		_ = os.RemoveAll(s.Paths.BuildDir(req.ID))
		log.InfoContext(ctx, "joined in-flight build", "image_tag", h.Tag, "build_id", h.ID)
	}

	img, err := h.Wait(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		body := errorBody{Message: err.Error()}
		var be *images.BuildError
		if errors.As(err, &be) {
			body.Code = "build_failed"
			body.Log = be.Log
		}
		writeError(w, r, http.StatusInternalServerError, body)
		return
	}
	writeJSON(w, http.StatusOK, img)
}

// saveUpload streams the tar_file part into the build's upload directory.
func (s *ApiService) saveUpload(w http.ResponseWriter, r *http.Request, id string) (string, error) {
	limit := int64(s.Config.MaxArchiveSize.Bytes())
	r.Body = http.MaxBytesReader(w, r.Body, limit+multipartOverhead)

	mr, err := r.MultipartReader()
	if err != nil {
		return "", fmt.Errorf("expected multipart form: %w", err)
	}
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			return "", fmt.Errorf("missing %s field", uploadField)
		}
		if err != nil {
			return "", fmt.Errorf("read multipart: %w", err)
		}
		if part.FormName() != uploadField {
			part.Close()
			continue
		}

		dir := s.Paths.BuildUploadDir(id)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return "", fmt.Errorf("create upload dir: %w", err)
		}
		dst := filepath.Join(dir, "archive")
		f, err := os.Create(dst)
		if err != nil {
			return "", fmt.Errorf("create upload file: %w", err)
		}
		n, err := io.Copy(f, io.LimitReader(part, limit+1))
		f.Close()
		part.Close()
		if err != nil {
			return "", fmt.Errorf("store upload: %w", err)
		}
		if n > limit {
			return "", fmt.Errorf("%w: upload exceeds %s", images.ErrArchiveTooLarge, s.Config.MaxArchiveSize.HR())
		}
		if n == 0 {
			return "", fmt.Errorf("empty %s", uploadField)
		}
		return dst, nil
	}
}

// pullResponse matches the shape returned for both cached and pulled images.
type pullResponse struct {
	ImageTag string `json:"image_tag"`
	ImageID  string `json:"image_id"`
}

// PullTemplateImage returns the local image of a template, pulling
// {owner}/{repo}:{image_name} from the registry when it is not present.
func (s *ApiService) PullTemplateImage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	imageName := chi.URLParam(r, "image_name")

	if img := s.localTemplateImage(ctx, imageName); img != nil {
		writeJSON(w, http.StatusOK, pullResponse{ImageTag: img.Tags, ImageID: img.ID})
		return
	}

	res, err := s.Puller.Pull(ctx, images.PullRequest{
		Repository: s.Config.RepoOwner + "/" + s.Config.RepoName,
		Tag:        imageName,
		Username:   s.Config.RegistryUser,
		Password:   s.Config.RegistryPass,
		Registry:   s.Config.RegistryLocation,
	})
	if err != nil {
		switch {
		case errors.Is(err, images.ErrNotFound), errors.Is(err, images.ErrInvalidName):
			writeError(w, r, http.StatusNotFound, errorBody{Message: "Image with tag does not exist", Meta: err.Error()})
		case errors.Is(err, images.ErrAuth):
			writeError(w, r, http.StatusBadGateway, errorBody{Code: "registry_auth", Message: err.Error()})
		case ctx.Err() != nil:
		default:
			writeError(w, r, http.StatusInternalServerError, errorBody{Message: err.Error()})
		}
		return
	}
	writeJSON(w, http.StatusOK, pullResponse{ImageTag: res.Ref, ImageID: res.ImageID})
}

// localTemplateImage returns the already pulled image of the template
// matching imageName, or nil.
func (s *ApiService) localTemplateImage(ctx context.Context, imageName string) *images.Image {
	log := logger.FromContext(ctx)

	t, err := s.Synchronizer.Find(ctx, imageName)
	if err != nil {
		if !errors.Is(err, templates.ErrNotFound) {
			log.WarnContext(ctx, "template lookup failed", "image_name", imageName, "error", err)
		}
		return nil
	}
	ref, err := images.PullRef(images.PullRequest{
		Repository: t.RepoName,
		Tag:        t.Tag,
		Registry:   s.Config.RegistryLocation,
	})
	if err != nil {
		return nil
	}
	img, err := s.Puller.FindLocal(ctx, ref.String())
	if err != nil {
		if !errors.Is(err, images.ErrNotFound) {
			log.WarnContext(ctx, "local image lookup failed", "template_id", t.ID, "error", err)
		}
		return nil
	}
	return img
}

// ListImages lists images in the local runtime.
func (s *ApiService) ListImages(w http.ResponseWriter, r *http.Request) {
	imgs, err := s.Puller.ListLocal(r.Context())
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, errorBody{Message: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, imgs)
}
