package stage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/canvaslab/emergence/internal/core"
	"github.com/canvaslab/emergence/internal/logging"
)

const (
	defaultGeminiBaseURL = "https://generativelanguage.googleapis.com/v1"
	dataURLPrefix        = "data:image/png;base64,"
)

// GeminiConfig configures the generative collaborator client.
type GeminiConfig struct {
	APIKey          string
	Model           string
	Temperature     float64
	MaxOutputTokens int
	BaseURL         string
	RequestTimeout  time.Duration
	ConnectTimeout  time.Duration
}

// DefaultGeminiConfig returns production defaults. Stage calls are slow;
// the request timeout is generous on purpose.
func DefaultGeminiConfig() GeminiConfig {
	return GeminiConfig{
		Model:           "gemini-2.5-flash",
		Temperature:     0.7,
		MaxOutputTokens: 16000,
		BaseURL:         defaultGeminiBaseURL,
		RequestTimeout:  120 * time.Second,
		ConnectTimeout:  30 * time.Second,
	}
}

// GeminiGenerator implements core.TextGenerator against the
// generativelanguage REST API.
type GeminiGenerator struct {
	cfg    GeminiConfig
	client *http.Client
	log    *logging.Logger
}

// NewGeminiGenerator creates a generator. Missing config fields fall back
// to defaults; only the API key is mandatory.
func NewGeminiGenerator(cfg GeminiConfig, log *logging.Logger) (*GeminiGenerator, error) {
	if cfg.APIKey == "" {
		return nil, core.ErrValidation(core.CodeInvalidConfig, "generator API key is required")
	}
	def := DefaultGeminiConfig()
	if cfg.Model == "" {
		cfg.Model = def.Model
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = def.BaseURL
	}
	if cfg.MaxOutputTokens == 0 {
		cfg.MaxOutputTokens = def.MaxOutputTokens
	}
	if cfg.RequestTimeout == 0 {
		cfg.RequestTimeout = def.RequestTimeout
	}
	if cfg.ConnectTimeout == 0 {
		cfg.ConnectTimeout = def.ConnectTimeout
	}

	dialer := &net.Dialer{Timeout: cfg.ConnectTimeout}
	return &GeminiGenerator{
		cfg: cfg,
		client: &http.Client{
			Timeout: cfg.RequestTimeout,
			Transport: &http.Transport{
				DialContext:         dialer.DialContext,
				TLSHandshakeTimeout: cfg.ConnectTimeout,
			},
		},
		log: log,
	}, nil
}

type geminiPart struct {
	Text       string            `json:"text,omitempty"`
	InlineData *geminiInlineData `json:"inline_data,omitempty"`
}

type geminiInlineData struct {
	MimeType string `json:"mime_type"`
	Data     string `json:"data"`
}

type geminiRequest struct {
	Contents []struct {
		Parts []geminiPart `json:"parts"`
	} `json:"contents"`
	GenerationConfig struct {
		Temperature     float64 `json:"temperature"`
		MaxOutputTokens int     `json:"maxOutputTokens"`
	} `json:"generationConfig"`
}

type geminiResponse struct {
	Candidates []struct {
		Content struct {
			Parts []struct {
				Text string `json:"text"`
			} `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
	UsageMetadata struct {
		CandidatesTokenCount int `json:"candidatesTokenCount"`
	} `json:"usageMetadata"`
}

// Generate implements core.TextGenerator.
func (g *GeminiGenerator) Generate(ctx context.Context, req core.GenerateRequest) (*core.GenerateResult, error) {
	parts := []geminiPart{{Text: req.Prompt}}
	if req.ImageB64 != "" {
		parts = append(parts, geminiPart{
			InlineData: &geminiInlineData{
				MimeType: "image/png",
				Data:     strings.TrimPrefix(req.ImageB64, dataURLPrefix),
			},
		})
	}

	var body geminiRequest
	body.Contents = make([]struct {
		Parts []geminiPart `json:"parts"`
	}, 1)
	body.Contents[0].Parts = parts
	body.GenerationConfig.Temperature = g.cfg.Temperature
	body.GenerationConfig.MaxOutputTokens = g.cfg.MaxOutputTokens

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encoding generation request: %w", err)
	}

	url := fmt.Sprintf("%s/models/%s:generateContent?key=%s", g.cfg.BaseURL, g.cfg.Model, g.cfg.APIKey)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("building generation request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(httpReq)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, core.ErrTimeout("generation request timed out").WithCause(err)
		}
		return nil, core.ErrNetwork("generation request failed").WithCause(err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, core.ErrNetwork("reading generation response").WithCause(err)
	}

	if resp.StatusCode != http.StatusOK {
		g.log.Warn("generation call rejected",
			"status", resp.StatusCode,
			"body", g.log.Sanitize(truncate(string(raw), 500)))
		return nil, core.ErrExecution(core.CodeStageUnavailable,
			fmt.Sprintf("generation endpoint returned %d", resp.StatusCode))
	}

	var decoded geminiResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, core.ErrParse("undecodable generation response").WithCause(err)
	}

	var text strings.Builder
	if len(decoded.Candidates) > 0 {
		for _, part := range decoded.Candidates[0].Content.Parts {
			text.WriteString(part.Text)
		}
	}

	if len(strings.TrimSpace(text.String())) < 10 {
		return nil, core.ErrExecution(core.CodeEmptyResponse, "empty or too short generation response")
	}

	return &core.GenerateResult{
		Text:         text.String(),
		OutputTokens: decoded.UsageMetadata.CandidatesTokenCount,
	}, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
