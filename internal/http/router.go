package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	httpSwagger "github.com/swaggo/http-swagger"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"golang.org/x/time/rate"

	"postboard/internal/domain/admin"
	"postboard/internal/domain/identity"
	"postboard/internal/domain/media"
	"postboard/internal/domain/post"
	"postboard/internal/domain/push"
	"postboard/internal/domain/vote"
	jwtpkg "postboard/internal/platform/jwt"
	"postboard/internal/worker"
)

// Deps is everything the router serves.
type Deps struct {
	Posts    *post.Service
	Votes    *vote.Service
	Media    *media.Service
	Push     *push.Service
	Admin    *admin.Service
	Identity identity.Resolver
	JWT      *jwtpkg.Manager
	VoteCh   chan<- worker.VoteEvent
	// Ready pings the backing store; nil reports not ready.
	Ready func(ctx context.Context) error
}

type Handler struct {
	posts  *post.Service
	votes  *vote.Service
	media  *media.Service
	push   *push.Service
	admin  *admin.Service
	voteCh chan<- worker.VoteEvent
	ready  func(ctx context.Context) error
}

func NewRouter(d Deps) http.Handler {
	h := &Handler{
		posts:  d.Posts,
		votes:  d.Votes,
		media:  d.Media,
		push:   d.Push,
		admin:  d.Admin,
		voteCh: d.VoteCh,
		ready:  d.Ready,
	}

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)
	r.Use(chimw.Timeout(60 * time.Second))
	r.Use(RequestLogger)
	r.Use(CORSMiddleware)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/ready", h.handleReady)
	r.Get("/swagger/*", httpSwagger.WrapHandler)
	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(IdentityMiddleware(d.Identity))

		r.Get("/posts", h.handleListPosts)
		r.With(RateLimit(rate.Every(time.Minute/10), 5)).Post("/posts", h.handleCreatePost)
		r.Get("/posts/{id}", h.handleGetPost)
		r.With(RateLimit(rate.Every(time.Minute/30), 10)).Post("/posts/{id}/vote", h.handleVote)
		r.Get("/posts/{id}/results", h.handlePollResults)
		r.With(RateLimit(rate.Every(time.Minute/60), 20)).Post("/posts/{id}/like", h.handleLike)
		r.Get("/posts/{id}/comments", h.handleListComments)
		r.With(RateLimit(rate.Every(time.Minute/10), 5)).Post("/posts/{id}/comments", h.handleAddComment)

		r.With(RateLimit(rate.Every(time.Minute/5), 3)).Post("/upload/post", h.handleUploadPostImage)
		r.Get("/site/{kind}", h.handleSiteImage)

		r.Get("/push/key", h.handlePushKey)
		r.Post("/push/subscribe", h.handleSubscribe)
		r.Post("/push/unsubscribe", h.handleUnsubscribe)

		r.With(RateLimit(rate.Every(time.Minute/5), 5)).Post("/admin/login", h.handleAdminLogin)

		r.Group(func(r chi.Router) {
			r.Use(AuthMiddleware(d.JWT))
			r.Use(RequireRole(jwtpkg.RoleAdmin))
			r.Post("/admin/upload/{kind}", h.handleUploadSiteImage)
			r.Post("/admin/notify", h.handleNotify)
		})
	})

	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (h *Handler) handleReady(w http.ResponseWriter, r *http.Request) {
	if h.ready == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error":   "db_unavailable",
			"message": "database not configured",
		})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := h.ready(ctx); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error":   "db_unavailable",
			"message": "database not ready",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}
