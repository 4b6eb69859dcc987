package media

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"postboard/internal/platform/moderation"
)

type Kind string

const (
	KindBanner     Kind = "banner"
	KindBackground Kind = "background"
)

const MaxImageSize = 5 << 20

var extensions = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
	"image/gif":  ".gif",
	"image/webp": ".webp",
}

var (
	ErrInvalidKind      = errors.New("unknown site image kind")
	ErrEmptyFile        = errors.New("no image uploaded")
	ErrTooLarge         = errors.New("image exceeds 5 MiB")
	ErrUnsupportedImage = errors.New("only jpeg, png, gif and webp images are accepted")
	ErrImageBlocked     = errors.New("image blocked by moderation")
	ErrStorageDisabled  = errors.New("image storage is not configured")
)

func ParseKind(s string) (Kind, error) {
	switch Kind(s) {
	case KindBanner, KindBackground:
		return Kind(s), nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidKind, s)
}

type File struct {
	Name string
	Data []byte
}

// ImageStore writes an object and returns its public URL.
type ImageStore interface {
	Put(ctx context.Context, key, contentType string, data []byte) (string, error)
}

type AssetRepository interface {
	SetAsset(ctx context.Context, kind Kind, url string) error
	// Asset returns "" when nothing was uploaded yet.
	Asset(ctx context.Context, kind Kind) (string, error)
}

type ImageModerator interface {
	CheckImage(ctx context.Context, data []byte, mimeType string, policy moderation.Policy) moderation.Verdict
}

type Notifier interface {
	Notify(title, body, url, kind string)
}

type Service struct {
	store     ImageStore
	assets    AssetRepository
	moderator ImageModerator
	notifier  Notifier
	now       func() time.Time
	log       *slog.Logger
}

// NewService wires the media service. store, moderator and notifier may be
// nil; without a store every upload fails with ErrStorageDisabled.
func NewService(store ImageStore, assets AssetRepository, moderator ImageModerator, notifier Notifier) *Service {
	return &Service{
		store:     store,
		assets:    assets,
		moderator: moderator,
		notifier:  notifier,
		now:       time.Now,
		log:       slog.Default(),
	}
}

func (s *Service) SetLogger(l *slog.Logger) {
	if l != nil {
		s.log = l
	}
}

// Upload replaces the site image of the given kind.
func (s *Service) Upload(ctx context.Context, kind Kind, f File) (string, error) {
	if _, err := ParseKind(string(kind)); err != nil {
		return "", err
	}
	url, err := s.put(ctx, string(kind), f)
	if err != nil {
		return "", err
	}
	if err := s.assets.SetAsset(ctx, kind, url); err != nil {
		return "", fmt.Errorf("record %s: %w", kind, err)
	}
	s.log.Info("site image updated", "kind", kind, "url", url)

	if kind == KindBanner && s.notifier != nil {
		s.notifier.Notify("New banner", "The board has a new banner.", "/", "banner")
	}
	return url, nil
}

func (s *Service) Current(ctx context.Context, kind Kind) (string, error) {
	if _, err := ParseKind(string(kind)); err != nil {
		return "", err
	}
	return s.assets.Asset(ctx, kind)
}

// UploadPostImage stores an attachment for a post and returns its URL.
func (s *Service) UploadPostImage(ctx context.Context, f File) (string, error) {
	return s.put(ctx, "posts", f)
}

func (s *Service) put(ctx context.Context, prefix string, f File) (string, error) {
	if s.store == nil {
		return "", ErrStorageDisabled
	}
	if len(f.Data) == 0 {
		return "", ErrEmptyFile
	}
	if len(f.Data) > MaxImageSize {
		return "", ErrTooLarge
	}
	contentType := http.DetectContentType(f.Data)
	ext, ok := extensions[contentType]
	if !ok {
		return "", fmt.Errorf("%w: got %s", ErrUnsupportedImage, contentType)
	}
	if s.moderator != nil {
		if v := s.moderator.CheckImage(ctx, f.Data, contentType, moderation.FailClosed); v.Blocked {
			return "", fmt.Errorf("%w: %v", ErrImageBlocked, v.Reasons)
		}
	}

	key := fmt.Sprintf("%s/%s-%s%s", prefix, s.now().UTC().Format("20060102"), uuid.NewString(), ext)
	url, err := s.store.Put(ctx, key, contentType, f.Data)
	if err != nil {
		return "", fmt.Errorf("store image: %w", err)
	}
	return url, nil
}
