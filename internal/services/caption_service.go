package services

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/snapvault/backend/internal/config"
)

// CaptionService calls an OpenAI-compatible chat-completions endpoint to
// produce a short caption for an uploaded image. Every call is bounded by the
// configured timeout; callers decide whether a failure is fatal (explicit
// caption request) or not (enrichment during upload).
type CaptionService struct {
	cfg        *config.Config
	httpClient *http.Client
}

func NewCaptionService(cfg *config.Config) *CaptionService {
	return &CaptionService{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.CaptionTimeout},
	}
}

// Enabled reports whether caption generation is configured
func (s *CaptionService) Enabled() bool {
	return s.cfg.CaptionEnabled()
}

type captionRequest struct {
	Model     string           `json:"model"`
	Messages  []captionMessage `json:"messages"`
	MaxTokens int              `json:"max_tokens"`
}

type captionMessage struct {
	Role    string        `json:"role"`
	Content []captionPart `json:"content"`
}

type captionPart struct {
	Type     string           `json:"type"`
	Text     string           `json:"text,omitempty"`
	ImageURL *captionImageURL `json:"image_url,omitempty"`
}

type captionImageURL struct {
	URL string `json:"url"`
}

type captionResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Generate produces a one-sentence caption for the given image bytes
func (s *CaptionService) Generate(ctx context.Context, data []byte, mimeType string) (string, error) {
	if !s.Enabled() {
		return "", fmt.Errorf("%w: caption generation not configured", ErrUpstream)
	}

	dataURL := fmt.Sprintf("data:%s;base64,%s", mimeType, base64.StdEncoding.EncodeToString(data))
	payload := captionRequest{
		Model: s.cfg.CaptionModel,
		Messages: []captionMessage{
			{
				Role: "user",
				Content: []captionPart{
					{Type: "text", Text: "Describe this image in one short sentence."},
					{Type: "image_url", ImageURL: &captionImageURL{URL: dataURL}},
				},
			},
		},
		MaxTokens: 60,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.CaptionAPIURL, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.cfg.CaptionAPIKey)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUpstream, err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: caption API returned status %d", ErrUpstream, resp.StatusCode)
	}

	var parsed captionResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return "", fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	if parsed.Error != nil {
		return "", fmt.Errorf("%w: %s", ErrUpstream, parsed.Error.Message)
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("%w: caption API returned no choices", ErrUpstream)
	}

	caption := strings.TrimSpace(parsed.Choices[0].Message.Content)
	if caption == "" {
		return "", fmt.Errorf("%w: caption API returned empty caption", ErrUpstream)
	}
	return caption, nil
}
