// Client for external file reputation reports (VirusTotal v3 API), looked up by skill bundle hash.
package reputation

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"golang.org/x/time/rate"

	"github.com/clawdhub/skillguard/automod/cachestore"
	"github.com/clawdhub/skillguard/pkg/robusthttp"
)

const (
	StatusPending    = "pending"
	StatusNotFound   = "not_found"
	StatusError      = "error"
	StatusClean      = "clean"
	StatusSuspicious = "suspicious"
	StatusMalicious  = "malicious"

	DefaultHost = "https://www.virustotal.com"
	cacheName   = "reputation"
)

type Stats struct {
	Malicious  int64 `json:"malicious"`
	Suspicious int64 `json:"suspicious"`
	Undetected int64 `json:"undetected"`
	Harmless   int64 `json:"harmless"`
}

type Report struct {
	Status     string `json:"status"`
	URL        string `json:"url,omitempty"`
	AIVerdict  string `json:"aiVerdict,omitempty"`
	AIAnalysis string `json:"aiAnalysis,omitempty"`
	AISource   string `json:"aiSource,omitempty"`
	Stats      *Stats `json:"stats,omitempty"`
}

type Client struct {
	Client  *http.Client
	Host    string
	APIKey  string
	Cache   cachestore.CacheStore
	Limiter *rate.Limiter
	Logger  *slog.Logger
}

// The public API allows four lookups a minute.
func NewClient(apiKey string, cache cachestore.CacheStore) *Client {
	return &Client{
		Client:  robusthttp.NewClient(),
		Host:    DefaultHost,
		APIKey:  apiKey,
		Cache:   cache,
		Limiter: rate.NewLimiter(rate.Every(15*time.Second), 4),
		Logger:  slog.Default().With("component", "reputation"),
	}
}

// Looks up the reputation report for a bundle hash. Failures are folded in to the returned status ("error"), never returned.
func (c *Client) Lookup(ctx context.Context, sha256hash string) *Report {
	sha256hash = strings.ToLower(strings.TrimSpace(sha256hash))
	if sha256hash == "" {
		return &Report{Status: StatusNotFound}
	}
	if c.APIKey == "" {
		c.Logger.Warn("reputation lookup skipped, API key not configured")
		return &Report{Status: StatusError}
	}

	if c.Cache != nil {
		cached, ok, err := cachestore.GetJSON[Report](ctx, c.Cache, cacheName, sha256hash)
		if err != nil {
			c.Logger.Warn("reputation cache read failed", "err", err)
		} else if ok {
			lookupCount.WithLabelValues("cached").Inc()
			return cached
		}
	}

	rep, err := c.fetch(ctx, sha256hash)
	if err != nil {
		c.Logger.Warn("reputation lookup failed", "sha256", sha256hash, "err", err)
		lookupCount.WithLabelValues(StatusError).Inc()
		return &Report{Status: StatusError}
	}
	lookupCount.WithLabelValues(rep.Status).Inc()

	if c.Cache != nil {
		if err := cachestore.SetJSON(ctx, c.Cache, cacheName, sha256hash, rep); err != nil {
			c.Logger.Warn("reputation cache write failed", "err", err)
		}
	}
	return rep
}

func (c *Client) fetch(ctx context.Context, sha256hash string) (*Report, error) {
	if c.Limiter != nil {
		if err := c.Limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	req, err := http.NewRequestWithContext(ctx, "GET", fmt.Sprintf("%s/api/v3/files/%s", strings.TrimRight(c.Host, "/"), sha256hash), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("x-apikey", c.APIKey)
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	defer func() {
		lookupDuration.Observe(time.Since(start).Seconds())
	}()

	resp, err := c.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("reputation request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return &Report{Status: StatusNotFound}, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("reputation request failed statusCode=%d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read reputation resp body: %w", err)
	}
	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("reputation resp is not valid JSON")
	}

	rep := ParseFileReport(body)
	rep.URL = fmt.Sprintf("%s/gui/file/%s", strings.TrimRight(c.Host, "/"), sha256hash)
	return rep, nil
}

// Derives a report from a raw file object response. Fields with unexpected shapes are ignored.
func ParseFileReport(body []byte) *Report {
	attrs := gjson.GetBytes(body, "data.attributes")
	rep := &Report{}

	var stats *Stats
	if s := attrs.Get("last_analysis_stats"); s.IsObject() {
		stats = &Stats{
			Malicious:  s.Get("malicious").Int(),
			Suspicious: s.Get("suspicious").Int(),
			Undetected: s.Get("undetected").Int(),
			Harmless:   s.Get("harmless").Int(),
		}
		rep.Stats = stats
	}

	ai := attrs.Get(`crowdsourced_ai_results.#(category=="code_insight")`)
	if ai.IsObject() {
		rep.AIVerdict = ai.Get("verdict").String()
		rep.AIAnalysis = ai.Get("analysis").String()
		rep.AISource = ai.Get("source").String()
	}

	switch {
	case stats != nil && stats.Malicious > 0:
		rep.Status = StatusMalicious
	case stats != nil && stats.Suspicious > 0:
		rep.Status = StatusSuspicious
	case rep.AIVerdict != "":
		rep.Status = strings.ToLower(rep.AIVerdict)
	case stats != nil && stats.Undetected > 0:
		rep.Status = StatusClean
	default:
		rep.Status = StatusPending
	}
	return rep
}
