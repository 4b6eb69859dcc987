package api

import (
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"postboard/internal/domain/media"
	"postboard/internal/platform/apperr"
)

const uploadField = "image"

// readUpload pulls the image part out of a multipart form, refusing bodies
// over the image limit.
func readUpload(w http.ResponseWriter, r *http.Request) (media.File, error) {
	r.Body = http.MaxBytesReader(w, r.Body, media.MaxImageSize+1<<20)
	f, hdr, err := r.FormFile(uploadField)
	if err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			return media.File{}, media.ErrTooLarge
		}
		if errors.Is(err, http.ErrMissingFile) {
			return media.File{}, media.ErrEmptyFile
		}
		return media.File{}, apperr.BadRequest("invalid_input", "expected multipart form with an image field", err)
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, media.MaxImageSize+1))
	if err != nil {
		return media.File{}, apperr.BadRequest("invalid_input", "could not read upload", err)
	}
	return media.File{Name: hdr.Filename, Data: data}, nil
}

// @Summary     Upload a post image
// @Tags        media
// @Accept      multipart/form-data
// @Produce     json
// @Param       image  formData  file  true  "jpeg, png, gif or webp, at most 5 MiB"
// @Success     201    {object}  map[string]string
// @Failure     400    {object}  map[string]any  "invalid image"
// @Failure     413    {object}  map[string]any  "too large"
// @Failure     422    {object}  map[string]any  "blocked by moderation"
// @Router      /api/v1/upload/post [post]
func (h *Handler) handleUploadPostImage(w http.ResponseWriter, r *http.Request) {
	file, err := readUpload(w, r)
	if err != nil {
		errorResponse(w, err)
		return
	}
	url, err := h.media.UploadPostImage(r.Context(), file)
	if err != nil {
		errorResponse(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"url": url})
}

// @Summary     Upload the banner or background
// @Tags        admin
// @Security    BearerAuth
// @Accept      multipart/form-data
// @Produce     json
// @Param       kind   path      string  true  "banner or background"
// @Param       image  formData  file    true  "jpeg, png, gif or webp, at most 5 MiB"
// @Success     201    {object}  map[string]string
// @Failure     400    {object}  map[string]any  "invalid image"
// @Failure     401    {object}  map[string]any  "unauthorized"
// @Failure     403    {object}  map[string]any  "forbidden"
// @Failure     413    {object}  map[string]any  "too large"
// @Router      /api/v1/admin/upload/{kind} [post]
func (h *Handler) handleUploadSiteImage(w http.ResponseWriter, r *http.Request) {
	kind, err := media.ParseKind(chi.URLParam(r, "kind"))
	if err != nil {
		errorResponse(w, err)
		return
	}
	file, err := readUpload(w, r)
	if err != nil {
		errorResponse(w, err)
		return
	}
	url, err := h.media.Upload(r.Context(), kind, file)
	if err != nil {
		errorResponse(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"kind": string(kind), "url": url})
}

// @Summary     Current banner or background
// @Tags        media
// @Produce     json
// @Param       kind  path      string  true  "banner or background"
// @Success     200   {object}  map[string]string
// @Failure     400   {object}  map[string]any  "unknown kind"
// @Router      /api/v1/site/{kind} [get]
func (h *Handler) handleSiteImage(w http.ResponseWriter, r *http.Request) {
	kind, err := media.ParseKind(chi.URLParam(r, "kind"))
	if err != nil {
		errorResponse(w, err)
		return
	}
	url, err := h.media.Current(r.Context(), kind)
	if err != nil {
		errorResponse(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"kind": string(kind), "url": url})
}
