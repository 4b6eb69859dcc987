package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"postboard/internal/domain/post"
	"postboard/internal/platform/apperr"
)

type createPostRequest struct {
	Type          string   `json:"type"`
	Content       string   `json:"content"`
	ImageURL      string   `json:"imageUrl"`
	Question      string   `json:"question"`
	Options       []string `json:"options"`
	AllowMultiple bool     `json:"allowMultiple"`
}

type likeRequest struct {
	Liked *bool `json:"liked"`
}

type commentRequest struct {
	Content string `json:"content"`
}

// @Summary     List posts
// @Description Newest first. Poll posts carry freshly computed percentages.
// @Tags        posts
// @Produce     json
// @Success     200  {array}   post.View
// @Failure     500  {object}  map[string]any  "server error"
// @Router      /api/v1/posts [get]
func (h *Handler) handleListPosts(w http.ResponseWriter, r *http.Request) {
	posts, err := h.posts.List(r.Context())
	if err != nil {
		errorResponse(w, err)
		return
	}
	id := identityFromCtx(r)
	views := make([]post.View, len(posts))
	for i := range posts {
		views[i] = posts[i].ViewFor(id)
	}
	writeJSON(w, http.StatusOK, views)
}

// @Summary     Create a post
// @Description type is text, image or poll. Polls take question, options and allowMultiple.
// @Tags        posts
// @Accept      json
// @Produce     json
// @Param       request  body      createPostRequest  true  "Post payload"
// @Success     201      {object}  post.View
// @Failure     400      {object}  map[string]any  "invalid post"
// @Failure     422      {object}  map[string]any  "blocked by moderation"
// @Router      /api/v1/posts [post]
func (h *Handler) handleCreatePost(w http.ResponseWriter, r *http.Request) {
	var req createPostRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errorResponse(w, apperr.BadRequest("invalid_input", "invalid body", err))
		return
	}

	var (
		p   *post.Post
		err error
	)
	switch post.Kind(req.Type) {
	case post.KindPoll:
		p, err = h.posts.CreatePoll(r.Context(), req.Question, req.Options, req.AllowMultiple)
	case post.KindText, post.KindImage, "":
		p, err = h.posts.CreatePost(r.Context(), req.Content, req.ImageURL)
	default:
		err = apperr.BadRequest("invalid_post", "type must be text, image or poll", nil)
	}
	if err != nil {
		errorResponse(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, p.ViewFor(identityFromCtx(r)))
}

// @Summary     Get a post
// @Tags        posts
// @Produce     json
// @Param       id   path      string  true  "Post ID"
// @Success     200  {object}  post.View
// @Failure     404  {object}  map[string]any  "not found"
// @Router      /api/v1/posts/{id} [get]
func (h *Handler) handleGetPost(w http.ResponseWriter, r *http.Request) {
	p, err := h.posts.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		errorResponse(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p.ViewFor(identityFromCtx(r)))
}

// @Summary     Like or unlike a post
// @Tags        posts
// @Accept      json
// @Produce     json
// @Param       id       path      string       true  "Post ID"
// @Param       request  body      likeRequest  true  "liked=true to like, false to withdraw"
// @Success     200      {object}  map[string]any
// @Failure     400      {object}  map[string]any  "invalid body"
// @Failure     404      {object}  map[string]any  "not found"
// @Router      /api/v1/posts/{id}/like [post]
func (h *Handler) handleLike(w http.ResponseWriter, r *http.Request) {
	var req likeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Liked == nil {
		errorResponse(w, apperr.BadRequest("invalid_input", "liked is required", err))
		return
	}
	id := identityFromCtx(r)
	if id == "" {
		errorResponse(w, apperr.BadRequest("missing_identity", "could not identify the client", nil))
		return
	}

	likes, err := h.posts.Like(r.Context(), chi.URLParam(r, "id"), id, *req.Liked)
	if err != nil {
		errorResponse(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"likes": likes, "liked": *req.Liked})
}

// @Summary     List comments
// @Tags        comments
// @Produce     json
// @Param       id   path      string  true  "Post ID"
// @Success     200  {array}   post.Comment
// @Failure     404  {object}  map[string]any  "not found"
// @Router      /api/v1/posts/{id}/comments [get]
func (h *Handler) handleListComments(w http.ResponseWriter, r *http.Request) {
	comments, err := h.posts.Comments(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		errorResponse(w, err)
		return
	}
	writeJSON(w, http.StatusOK, comments)
}

// @Summary     Add a comment
// @Tags        comments
// @Accept      json
// @Produce     json
// @Param       id       path      string          true  "Post ID"
// @Param       request  body      commentRequest  true  "Comment payload"
// @Success     201      {array}   post.Comment
// @Failure     400      {object}  map[string]any  "invalid comment"
// @Failure     404      {object}  map[string]any  "not found"
// @Failure     422      {object}  map[string]any  "blocked by moderation"
// @Router      /api/v1/posts/{id}/comments [post]
func (h *Handler) handleAddComment(w http.ResponseWriter, r *http.Request) {
	var req commentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errorResponse(w, apperr.BadRequest("invalid_input", "invalid body", err))
		return
	}

	comments, err := h.posts.AddComment(r.Context(), chi.URLParam(r, "id"), req.Content)
	if err != nil {
		errorResponse(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, comments)
}
