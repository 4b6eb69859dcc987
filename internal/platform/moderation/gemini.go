package moderation

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"
)

const defaultGeminiBaseURL = "https://generativelanguage.googleapis.com/v1beta"

var (
	ErrClassifierResponse = errors.New("unexpected classifier response")

	jsonArrayPattern = regexp.MustCompile(`\[[\s\S]*\]`)
	boolPattern      = regexp.MustCompile(`(?i)\b(true|false)\b`)
)

// Classifier is the remote toxicity model.
type Classifier interface {
	// Classify returns one verdict per text, true meaning toxic.
	Classify(ctx context.Context, texts []string) ([]bool, error)
	ClassifyImage(ctx context.Context, data []byte, mimeType string) (bool, error)
}

// GeminiClassifier asks a Gemini model to label texts and images.
type GeminiClassifier struct {
	apiKey  string
	model   string
	baseURL string
	client  *http.Client
}

func NewGeminiClassifier(apiKey, model string, timeout time.Duration) *GeminiClassifier {
	if model == "" {
		model = "gemini-2.5-flash"
	}
	return &GeminiClassifier{
		apiKey:  apiKey,
		model:   model,
		baseURL: defaultGeminiBaseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

// WithBaseURL points the classifier at another endpoint.
func (g *GeminiClassifier) WithBaseURL(u string) *GeminiClassifier {
	g.baseURL = strings.TrimRight(u, "/")
	return g
}

type geminiPart struct {
	Text       string            `json:"text,omitempty"`
	InlineData *geminiInlineData `json:"inlineData,omitempty"`
}

type geminiInlineData struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiRequest struct {
	Contents []geminiContent `json:"contents"`
}

type geminiResponse struct {
	Candidates []struct {
		Content geminiContent `json:"content"`
	} `json:"candidates"`
}

func (g *GeminiClassifier) Classify(ctx context.Context, texts []string) ([]bool, error) {
	var b strings.Builder
	b.WriteString("You are a strict content moderation system.\n")
	b.WriteString("For each sentence below, output only a JSON array of booleans.\n")
	b.WriteString("Output true if toxic/inappropriate, false if safe.\n\nSentences:\n")
	for i, t := range texts {
		fmt.Fprintf(&b, "%d. %s\n", i+1, t)
	}

	out, err := g.generate(ctx, []geminiPart{{Text: b.String()}})
	if err != nil {
		return nil, err
	}
	match := jsonArrayPattern.FindString(out)
	if match == "" {
		return nil, fmt.Errorf("%w: no JSON array", ErrClassifierResponse)
	}
	var raw []any
	if err := json.Unmarshal([]byte(match), &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrClassifierResponse, err)
	}
	if len(raw) != len(texts) {
		return nil, fmt.Errorf("%w: got %d verdicts for %d texts", ErrClassifierResponse, len(raw), len(texts))
	}
	verdicts := make([]bool, len(raw))
	for i, v := range raw {
		switch val := v.(type) {
		case bool:
			verdicts[i] = val
		case string:
			verdicts[i] = strings.EqualFold(val, "true")
		}
	}
	return verdicts, nil
}

func (g *GeminiClassifier) ClassifyImage(ctx context.Context, data []byte, mimeType string) (bool, error) {
	out, err := g.generate(ctx, []geminiPart{
		{Text: "Analyze this image. Respond with only 'true' if inappropriate/unsafe, 'false' if safe."},
		{InlineData: &geminiInlineData{MimeType: mimeType, Data: base64.StdEncoding.EncodeToString(data)}},
	})
	if err != nil {
		return false, err
	}
	match := boolPattern.FindString(out)
	if match == "" {
		return false, fmt.Errorf("%w: no verdict", ErrClassifierResponse)
	}
	return strings.EqualFold(match, "true"), nil
}

func (g *GeminiClassifier) generate(ctx context.Context, parts []geminiPart) (string, error) {
	body, err := json.Marshal(geminiRequest{Contents: []geminiContent{{Role: "user", Parts: parts}}})
	if err != nil {
		return "", err
	}
	endpoint := fmt.Sprintf("%s/models/%s:generateContent?key=%s", g.baseURL, url.PathEscape(g.model), url.QueryEscape(g.apiKey))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return "", fmt.Errorf("classifier returned HTTP %d", resp.StatusCode)
	}

	var decoded geminiResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return "", fmt.Errorf("%w: %v", ErrClassifierResponse, err)
	}
	if len(decoded.Candidates) == 0 || len(decoded.Candidates[0].Content.Parts) == 0 {
		return "", fmt.Errorf("%w: empty candidates", ErrClassifierResponse)
	}
	return strings.TrimSpace(decoded.Candidates[0].Content.Parts[0].Text), nil
}
