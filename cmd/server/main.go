package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.mongodb.org/mongo-driver/mongo/readpref"

	_ "postboard/docs"
	"postboard/internal/config"
	"postboard/internal/domain/admin"
	"postboard/internal/domain/identity"
	"postboard/internal/domain/media"
	"postboard/internal/domain/poll"
	"postboard/internal/domain/post"
	"postboard/internal/domain/push"
	"postboard/internal/domain/vote"
	api "postboard/internal/http"
	"postboard/internal/metrics"
	"postboard/internal/platform/database"
	jwtpkg "postboard/internal/platform/jwt"
	"postboard/internal/platform/moderation"
	"postboard/internal/platform/objectstore"
	"postboard/internal/platform/webpush"
	"postboard/internal/repository/mongodb"
	"postboard/internal/repository/postgres"
	"postboard/internal/worker"
)

type postStore interface {
	post.Repository
	poll.Store
}

type wordStore interface {
	moderation.WordSource
	Seed(ctx context.Context, words []moderation.Word) error
}

// stores is one backend's set of repositories.
type stores struct {
	posts  postStore
	assets media.AssetRepository
	subs   push.Repository
	words  wordStore
	ready  func(ctx context.Context) error
	close  func()
}

func openStores(ctx context.Context, cfg config.Config) (*stores, error) {
	switch cfg.StoreDriver {
	case "mongo":
		db, err := database.NewMongo(ctx, cfg.MongoURI, cfg.MongoDatabase)
		if err != nil {
			return nil, err
		}
		if err := mongodb.EnsureIndexes(ctx, db); err != nil {
			return nil, err
		}
		return &stores{
			posts:  mongodb.NewPostRepo(db),
			assets: mongodb.NewAssetRepo(db),
			subs:   mongodb.NewSubscriptionRepo(db),
			words:  mongodb.NewWordRepo(db),
			ready: func(ctx context.Context) error {
				return db.Client().Ping(ctx, readpref.Primary())
			},
			close: func() {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = db.Client().Disconnect(ctx)
			},
		}, nil
	default:
		db, err := database.NewPostgres(ctx, cfg.DB_DSN)
		if err != nil {
			return nil, err
		}
		if err := postgres.CreateSchema(ctx, db); err != nil {
			db.Close()
			return nil, err
		}
		return &stores{
			posts:  postgres.NewPostRepo(db),
			assets: postgres.NewAssetRepo(db),
			subs:   postgres.NewSubscriptionRepo(db),
			words:  postgres.NewWordRepo(db),
			ready:  db.PingContext,
			close:  func() { db.Close() },
		}, nil
	}
}

func openImageStore(ctx context.Context, cfg config.Config) (media.ImageStore, func(), error) {
	if cfg.MediaBucket == "" {
		return nil, func() {}, nil
	}
	if cfg.MediaDriver == "gcs" {
		s, err := objectstore.NewGCS(ctx, cfg.MediaBucket, cfg.MediaPublicBaseURL)
		if err != nil {
			return nil, nil, err
		}
		return s, func() { _ = s.Close() }, nil
	}
	s, err := objectstore.NewS3(ctx, cfg.MediaBucket, cfg.MediaRegion, cfg.MediaPublicBaseURL)
	if err != nil {
		return nil, nil, err
	}
	return s, func() {}, nil
}

// @title           Postboard API
// @version         1.0
// @description     Anonymous post board with polls, likes, comments and push notifications
// @BasePath        /api/v1
// @securityDefinitions.apikey BearerAuth
// @in              header
// @name            Authorization
func main() {
	cfg := config.Load()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)
	api.SetLogger(logger)
	metrics.Register()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st, err := openStores(ctx, cfg)
	if err != nil {
		log.Fatalf("store init error: %v", err)
	}
	defer st.close()

	if seed := moderation.ParseWordList(cfg.ModerationWords); len(seed) > 0 {
		if err := st.words.Seed(ctx, seed); err != nil {
			log.Fatalf("seed blocked words: %v", err)
		}
	}

	var classifier moderation.Classifier
	if cfg.GeminiAPIKey != "" {
		classifier = moderation.NewGeminiClassifier(cfg.GeminiAPIKey, cfg.GeminiModel, 10*time.Second)
	} else {
		logger.Warn("GEMINI_API_KEY not set, moderation uses the lexicon only")
	}
	gateway, err := moderation.New(st.words, classifier, moderation.Config{Languages: cfg.ModerationLanguages})
	if err != nil {
		log.Fatalf("moderation init error: %v", err)
	}
	gateway.SetLogger(logger)

	postPolicy, err := moderation.ParsePolicy(cfg.ModerationPostPolicy, moderation.FailClosed)
	if err != nil {
		log.Fatal(err)
	}
	commentPolicy, err := moderation.ParsePolicy(cfg.ModerationCommentPolicy, moderation.FailOpen)
	if err != nil {
		log.Fatal(err)
	}
	votePolicy, err := vote.ParsePolicy(cfg.VotePolicy)
	if err != nil {
		log.Fatal(err)
	}

	var sender push.Sender
	if cfg.VAPIDPrivateKey != "" {
		sender = webpush.NewSender(cfg.VAPIDPublicKey, cfg.VAPIDPrivateKey, cfg.VAPIDSubject)
	} else {
		logger.Warn("VAPID keys not set, push notifications disabled")
	}
	pushSvc := push.NewService(st.subs, sender, cfg.VAPIDPublicKey, cfg.PushWorkers)
	pushSvc.SetLogger(logger)

	images, closeImages, err := openImageStore(ctx, cfg)
	if err != nil {
		log.Fatalf("media store init error: %v", err)
	}
	defer closeImages()
	if images == nil {
		logger.Warn("MEDIA_BUCKET not set, image uploads disabled")
	}

	postSvc := post.NewService(st.posts, gateway, post.Policies{Post: postPolicy, Comment: commentPolicy})
	postSvc.SetLogger(logger)

	voteCfg := vote.DefaultConfig()
	voteCfg.Policy = votePolicy
	voteCfg.Timeout = cfg.PersistTimeout
	voteCfg.Attempts = cfg.PersistAttempts
	voteCfg.BaseDelay = cfg.PersistBackoff
	voteSvc := vote.NewService(st.posts, voteCfg)
	voteSvc.SetLogger(logger)

	mediaSvc := media.NewService(images, st.assets, gateway, pushSvc)
	mediaSvc.SetLogger(logger)

	jwtMgr := jwtpkg.NewManager(cfg.JWTSecret, "postboard")
	adminSvc := admin.NewService(cfg.AdminPassHash, jwtMgr)
	if cfg.AdminPassHash == "" {
		logger.Warn("ADMIN_PASSWORD_HASH not set, admin login disabled")
	}

	voteCh := make(chan worker.VoteEvent, 100)
	statsWorker := worker.NewStatsWorker(voteCh)
	statsWorker.SetLogger(logger)

	router := api.NewRouter(api.Deps{
		Posts:    postSvc,
		Votes:    voteSvc,
		Media:    mediaSvc,
		Push:     pushSvc,
		Admin:    adminSvc,
		Identity: identity.NewHashResolver(cfg.IdentitySecret, cfg.TrustProxy, cfg.IdentityClientToken),
		JWT:      jwtMgr,
		VoteCh:   voteCh,
		Ready:    st.ready,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go statsWorker.Run(ctx)

	go func() {
		logger.Info("server listening", "port", cfg.Port, "store", cfg.StoreDriver, "vote_policy", votePolicy)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("listen error: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	logger.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", "error", err)
	}
	cancel()
	pushSvc.Close()

	logger.Info("server stopped")
}
