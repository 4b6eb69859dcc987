package moderation

import (
	"context"
	"strings"
	"sync"
	"time"
	"unicode"
	"unicode/utf8"
)

// Word is one blocked lexicon entry.
type Word struct {
	Word       string   `json:"word"`
	Language   string   `json:"language"`
	Variations []string `json:"variations,omitempty"`
}

// WordSource supplies the active blocked words for a set of languages.
type WordSource interface {
	ActiveWords(ctx context.Context, languages []string) ([]Word, error)
}

// StaticWords is a fixed in-process word list.
type StaticWords []Word

func (s StaticWords) ActiveWords(_ context.Context, languages []string) ([]Word, error) {
	out := make([]Word, 0, len(s))
	for _, w := range s {
		for _, lang := range languages {
			if w.Language == lang {
				out = append(out, w)
				break
			}
		}
	}
	return out, nil
}

// ParseWordList reads "lang:word|variation|variation" entries separated by
// commas or newlines. Entries without a language default to en.
func ParseWordList(raw string) StaticWords {
	var out StaticWords
	for _, entry := range strings.FieldsFunc(raw, func(r rune) bool { return r == ',' || r == '\n' }) {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		lang := "en"
		if l, rest, ok := strings.Cut(entry, ":"); ok {
			lang, entry = strings.ToLower(strings.TrimSpace(l)), rest
		}
		parts := strings.Split(entry, "|")
		w := Word{Word: strings.ToLower(strings.TrimSpace(parts[0])), Language: lang}
		if w.Word == "" {
			continue
		}
		for _, v := range parts[1:] {
			if v = strings.ToLower(strings.TrimSpace(v)); v != "" {
				w.Variations = append(w.Variations, v)
			}
		}
		out = append(out, w)
	}
	return out
}

// Lexicon caches the blocked word set and refreshes it from its source
// after ttl.
type Lexicon struct {
	source    WordSource
	languages []string
	ttl       time.Duration

	mu       sync.Mutex
	words    map[string]struct{}
	loadedAt time.Time
}

func NewLexicon(source WordSource, languages []string, ttl time.Duration) *Lexicon {
	langs := append([]string{}, languages...)
	hasEnglish := false
	for _, l := range langs {
		if l == "en" {
			hasEnglish = true
		}
	}
	if !hasEnglish {
		langs = append(langs, "en")
	}
	return &Lexicon{source: source, languages: langs, ttl: ttl}
}

// Match returns the normalised tokens of text that hit the lexicon.
func (l *Lexicon) Match(ctx context.Context, text string) ([]string, error) {
	set, err := l.wordSet(ctx)
	if err != nil {
		return nil, err
	}
	var found []string
	for _, token := range tokens(text) {
		if _, ok := set[token]; ok {
			found = append(found, token)
			continue
		}
		for bad := range set {
			if utf8.RuneCountInString(bad) > 3 && strings.Contains(token, bad) {
				found = append(found, token)
				break
			}
		}
	}
	return found, nil
}

func (l *Lexicon) wordSet(ctx context.Context) (map[string]struct{}, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.words != nil && time.Since(l.loadedAt) < l.ttl {
		return l.words, nil
	}
	words, err := l.source.ActiveWords(ctx, l.languages)
	if err != nil {
		// a stale list beats none
		if l.words != nil {
			return l.words, nil
		}
		return nil, err
	}
	set := make(map[string]struct{}, len(words))
	for _, w := range words {
		set[strings.ToLower(w.Word)] = struct{}{}
		for _, v := range w.Variations {
			set[strings.ToLower(v)] = struct{}{}
		}
	}
	l.words = set
	l.loadedAt = time.Now()
	return set, nil
}

var leet = strings.NewReplacer(
	"0", "o", "3", "e", "1", "i", "4", "a", "5", "s", "7", "t",
	"-", "", "_", "", ".", "",
)

// tokens lower-cases text, undoes common digit substitutions and splits on
// anything that is not a letter or digit. Single-rune tokens are dropped.
func tokens(text string) []string {
	normalized := leet.Replace(strings.ToLower(text))
	fields := strings.FieldsFunc(normalized, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
	out := fields[:0]
	for _, f := range fields {
		if utf8.RuneCountInString(f) > 1 {
			out = append(out, f)
		}
	}
	return out
}
