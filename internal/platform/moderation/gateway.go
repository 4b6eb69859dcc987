// Package moderation screens user text and images before they are stored.
//
// A Gateway combines a local lexicon with an optional remote classifier.
// When either source is unavailable the caller's Policy decides the
// outcome: FailOpen lets the content through, FailClosed blocks it.
package moderation

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru"

	"postboard/internal/metrics"
)

type Policy string

const (
	FailOpen   Policy = "fail-open"
	FailClosed Policy = "fail-closed"
)

func ParsePolicy(s string, def Policy) (Policy, error) {
	switch Policy(s) {
	case "":
		return def, nil
	case FailOpen, FailClosed:
		return Policy(s), nil
	default:
		return "", fmt.Errorf("unknown moderation policy %q", s)
	}
}

const (
	ReasonLexicon     = "contains blocked words"
	ReasonClassifier  = "flagged as inappropriate"
	ReasonUnavailable = "moderation unavailable"
)

type Verdict struct {
	Blocked    bool     `json:"blocked"`
	Reasons    []string `json:"reasons,omitempty"`
	FoundWords []string `json:"-"`
	// Degraded is set when a source failed and the policy decided.
	Degraded bool `json:"-"`
}

type Config struct {
	Languages  []string
	LexiconTTL time.Duration
	CacheSize  int
	Timeout    time.Duration
}

type Gateway struct {
	lexicon    *Lexicon
	classifier Classifier
	cache      *lru.Cache
	timeout    time.Duration
	log        *slog.Logger
}

// New builds a gateway. classifier may be nil, in which case only the
// lexicon is consulted.
func New(words WordSource, classifier Classifier, cfg Config) (*Gateway, error) {
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = 1024
	}
	if cfg.LexiconTTL <= 0 {
		cfg.LexiconTTL = time.Minute
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if len(cfg.Languages) == 0 {
		cfg.Languages = []string{"en"}
	}
	cache, err := lru.New(cfg.CacheSize)
	if err != nil {
		return nil, err
	}
	return &Gateway{
		lexicon:    NewLexicon(words, cfg.Languages, cfg.LexiconTTL),
		classifier: classifier,
		cache:      cache,
		timeout:    cfg.Timeout,
		log:        slog.Default(),
	}, nil
}

func (g *Gateway) SetLogger(l *slog.Logger) {
	if l != nil {
		g.log = l
	}
}

// Check screens text. It never returns an error: source failures are
// folded into the verdict according to policy.
func (g *Gateway) Check(ctx context.Context, text string, policy Policy) Verdict {
	key := cacheKey(text)
	if v, ok := g.cache.Get(key); ok {
		return v.(Verdict)
	}

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	var (
		wg                  sync.WaitGroup
		found               []string
		lexErr, classErr    error
		toxic, classifierOK bool
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		found, lexErr = g.lexicon.Match(ctx, text)
	}()
	if g.classifier != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			verdicts, err := g.classifier.Classify(ctx, []string{text})
			if err != nil {
				classErr = err
				return
			}
			toxic, classifierOK = verdicts[0], true
		}()
	}
	wg.Wait()

	v := Verdict{FoundWords: found}
	if len(found) > 0 {
		v.Blocked = true
		v.Reasons = append(v.Reasons, ReasonLexicon)
	}
	if classifierOK && toxic {
		v.Blocked = true
		v.Reasons = append(v.Reasons, ReasonClassifier)
	}
	if lexErr != nil || classErr != nil {
		g.log.Warn("moderation source failed", "lexicon_error", lexErr, "classifier_error", classErr, "policy", policy)
		v = g.degrade(v, policy)
	}

	g.record(v)
	if !v.Degraded {
		g.cache.Add(key, v)
	}
	return v
}

// CheckImage screens an uploaded image with the classifier. Without a
// classifier the image is allowed.
func (g *Gateway) CheckImage(ctx context.Context, data []byte, mimeType string, policy Policy) Verdict {
	if g.classifier == nil {
		return Verdict{}
	}
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	unsafe, err := g.classifier.ClassifyImage(ctx, data, mimeType)
	var v Verdict
	if err != nil {
		g.log.Warn("image moderation failed", "error", err, "policy", policy)
		v = g.degrade(v, policy)
	} else if unsafe {
		v = Verdict{Blocked: true, Reasons: []string{ReasonClassifier}}
	}
	g.record(v)
	return v
}

func (g *Gateway) degrade(v Verdict, policy Policy) Verdict {
	v.Degraded = true
	if policy == FailClosed && !v.Blocked {
		v.Blocked = true
		v.Reasons = append(v.Reasons, ReasonUnavailable)
	}
	return v
}

func (g *Gateway) record(v Verdict) {
	switch {
	case v.Blocked && v.Degraded:
		metrics.IncModeration("blocked_degraded")
	case v.Blocked:
		metrics.IncModeration("blocked")
	case v.Degraded:
		metrics.IncModeration("allowed_degraded")
	default:
		metrics.IncModeration("allowed")
	}
}

func cacheKey(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}
