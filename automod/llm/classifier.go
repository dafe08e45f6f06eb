// Best-effort skill classification with a hosted LLM (OpenAI responses API).
//
// Parse problems never surface as errors: anything other than a JSON object with a boolean "flag" is "no result". Transport and HTTP status failures are returned, and callers are expected to log and carry on.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/clawdhub/skillguard/models"
	"github.com/clawdhub/skillguard/pkg/robusthttp"
)

const (
	DefaultHost     = "https://api.openai.com"
	DefaultModel    = "gpt-4.1-mini"
	maxOutputTokens = 120
)

type Result struct {
	Flag   bool   `json:"flag"`
	Reason string `json:"reason,omitempty"`
}

type OpenAIClassifier struct {
	Client  *http.Client
	Host    string
	APIKey  string
	Model   string
	Guard   *Guard
	Limiter *rate.Limiter
	Logger  *slog.Logger
}

func NewOpenAIClassifier(apiKey, model string) *OpenAIClassifier {
	if model == "" {
		model = DefaultModel
	}
	return &OpenAIClassifier{
		Client:  robusthttp.NewClient(robusthttp.WithMaxRetries(1)),
		Host:    DefaultHost,
		APIKey:  apiKey,
		Model:   model,
		Guard:   NewGuard(5, 10*time.Minute),
		Limiter: rate.NewLimiter(rate.Limit(2), 4),
		Logger:  slog.Default().With("component", "llm"),
	}
}

type responsesRequest struct {
	Model           string `json:"model"`
	Instructions    string `json:"instructions"`
	Input           string `json:"input"`
	MaxOutputTokens int    `json:"max_output_tokens"`
}

// Returns (nil, nil) when there is no usable verdict: no API key, classifier cooling down, or an unparseable response.
func (c *OpenAIClassifier) Classify(ctx context.Context, skill *models.Skill, version *models.SkillVersion) (*Result, error) {
	if c.APIKey == "" {
		return nil, nil
	}
	if !c.Guard.Allow() {
		classifyOutcome.WithLabelValues("skipped").Inc()
		return nil, nil
	}
	if c.Limiter != nil {
		if err := c.Limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	body, err := json.Marshal(responsesRequest{
		Model:           c.Model,
		Instructions:    Instructions,
		Input:           BuildPrompt(skill, version),
		MaxOutputTokens: maxOutputTokens,
	})
	if err != nil {
		return nil, err
	}

	payload, err := c.post(ctx, body)
	if err != nil {
		c.Guard.RecordFailure()
		return nil, err
	}
	c.Guard.RecordSuccess()

	text := ResponseText(payload)
	res := ParseResult(text)
	switch {
	case res == nil:
		classifyOutcome.WithLabelValues("unparsed").Inc()
		c.Logger.Debug("classifier response had no verdict", "slug", skill.Slug, "text", text)
	case res.Flag:
		classifyOutcome.WithLabelValues("flagged").Inc()
	default:
		classifyOutcome.WithLabelValues("unflagged").Inc()
	}
	return res, nil
}

func (c *OpenAIClassifier) post(ctx context.Context, body []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, "POST", strings.TrimRight(c.Host, "/")+"/v1/responses", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.APIKey)

	start := time.Now()
	defer func() {
		classifyDuration.Observe(time.Since(start).Seconds())
	}()

	resp, err := c.Client.Do(req)
	if err != nil {
		classifyCount.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("classifier request failed: %w", err)
	}
	defer resp.Body.Close()

	classifyCount.WithLabelValues(fmt.Sprint(resp.StatusCode)).Inc()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("classifier request failed statusCode=%d", resp.StatusCode)
	}

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read classifier resp body: %w", err)
	}
	return payload, nil
}
