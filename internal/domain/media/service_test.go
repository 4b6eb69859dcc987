package media

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"postboard/internal/platform/moderation"
)

var pngHeader = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")

type memoryStore struct {
	mu      sync.Mutex
	objects map[string][]byte
	types   map[string]string
	err     error
}

func newMemoryStore() *memoryStore {
	return &memoryStore{objects: make(map[string][]byte), types: make(map[string]string)}
}

func (s *memoryStore) Put(ctx context.Context, key, contentType string, data []byte) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[key] = data
	s.types[key] = contentType
	return "https://cdn.example/" + key, nil
}

type memoryAssets struct {
	mu     sync.Mutex
	assets map[Kind]string
}

func (a *memoryAssets) SetAsset(ctx context.Context, kind Kind, url string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.assets == nil {
		a.assets = make(map[Kind]string)
	}
	a.assets[kind] = url
	return nil
}

func (a *memoryAssets) Asset(ctx context.Context, kind Kind) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.assets[kind], nil
}

type stubImageModerator struct{ blocked bool }

func (m stubImageModerator) CheckImage(ctx context.Context, data []byte, mimeType string, policy moderation.Policy) moderation.Verdict {
	if policy != moderation.FailClosed {
		panic("images are screened fail-closed")
	}
	return moderation.Verdict{Blocked: m.blocked}
}

type recordingNotifier struct {
	kinds []string
}

func (n *recordingNotifier) Notify(title, body, url, kind string) {
	n.kinds = append(n.kinds, kind)
}

func TestUploadSiteImages(t *testing.T) {
	store := newMemoryStore()
	assets := &memoryAssets{}
	notifier := &recordingNotifier{}
	svc := NewService(store, assets, stubImageModerator{}, notifier)

	current, err := svc.Current(context.Background(), KindBanner)
	if err != nil || current != "" {
		t.Fatalf("expected no banner yet, got %q %v", current, err)
	}

	url, err := svc.Upload(context.Background(), KindBanner, File{Name: "b.png", Data: pngHeader})
	if err != nil {
		t.Fatalf("upload banner: %v", err)
	}
	if !strings.HasPrefix(url, "https://cdn.example/banner/") || !strings.HasSuffix(url, ".png") {
		t.Fatalf("unexpected url %q", url)
	}
	if got, _ := svc.Current(context.Background(), KindBanner); got != url {
		t.Fatalf("current banner = %q, want %q", got, url)
	}

	if _, err := svc.Upload(context.Background(), KindBackground, File{Data: pngHeader}); err != nil {
		t.Fatalf("upload background: %v", err)
	}
	if len(notifier.kinds) != 1 || notifier.kinds[0] != "banner" {
		t.Fatalf("only banner uploads notify, got %v", notifier.kinds)
	}

	if _, err := svc.Upload(context.Background(), Kind("logo"), File{Data: pngHeader}); !errors.Is(err, ErrInvalidKind) {
		t.Fatalf("expected ErrInvalidKind, got %v", err)
	}
}

func TestUploadRejections(t *testing.T) {
	cases := []struct {
		name string
		data []byte
		mod  stubImageModerator
		want error
	}{
		{"empty", nil, stubImageModerator{}, ErrEmptyFile},
		{"too large", append(bytes.Clone(pngHeader), bytes.Repeat([]byte{0}, MaxImageSize)...), stubImageModerator{}, ErrTooLarge},
		{"not an image", []byte("plain text, not a picture"), stubImageModerator{}, ErrUnsupportedImage},
		{"blocked", pngHeader, stubImageModerator{blocked: true}, ErrImageBlocked},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			store := newMemoryStore()
			svc := NewService(store, &memoryAssets{}, tc.mod, nil)
			if _, err := svc.UploadPostImage(context.Background(), File{Data: tc.data}); !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
			if len(store.objects) != 0 {
				t.Fatalf("rejected image must not be stored")
			}
		})
	}
}

func TestUploadStoreFailure(t *testing.T) {
	store := newMemoryStore()
	store.err = errors.New("bucket unavailable")
	assets := &memoryAssets{}
	svc := NewService(store, assets, nil, nil)

	if _, err := svc.Upload(context.Background(), KindBanner, File{Data: pngHeader}); err == nil {
		t.Fatalf("expected store error")
	}
	if got, _ := assets.Asset(context.Background(), KindBanner); got != "" {
		t.Fatalf("failed upload must not change the banner")
	}
}

func TestUploadWithoutStore(t *testing.T) {
	svc := NewService(nil, &memoryAssets{}, nil, nil)

	_, err := svc.UploadPostImage(context.Background(), File{Name: "a.png", Data: bytes.Clone(pngHeader)})
	if !errors.Is(err, ErrStorageDisabled) {
		t.Fatalf("expected ErrStorageDisabled, got %v", err)
	}
}
