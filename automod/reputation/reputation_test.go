package reputation

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"golang.org/x/time/rate"

	"github.com/clawdhub/skillguard/automod/cachestore"
	"github.com/clawdhub/skillguard/pkg/robusthttp"
)

func TestParseFileReport(t *testing.T) {
	assert := assert.New(t)

	fixtures := []struct {
		body   string
		status string
	}{
		{`{"data":{"attributes":{"last_analysis_stats":{"malicious":2,"suspicious":1,"undetected":50}}}}`, StatusMalicious},
		{`{"data":{"attributes":{"last_analysis_stats":{"malicious":0,"suspicious":1,"undetected":50}}}}`, StatusSuspicious},
		{`{"data":{"attributes":{"last_analysis_stats":{"malicious":0,"suspicious":0,"undetected":50},"crowdsourced_ai_results":[{"category":"other","verdict":"malicious"},{"category":"code_insight","verdict":"Benign","analysis":"looks fine","source":"palm"}]}}}`, "benign"},
		{`{"data":{"attributes":{"last_analysis_stats":{"malicious":0,"suspicious":0,"undetected":12}}}}`, StatusClean},
		{`{"data":{"attributes":{"last_analysis_stats":{"malicious":0,"suspicious":0,"undetected":0}}}}`, StatusPending},
		{`{"data":{"attributes":{}}}`, StatusPending},
		{`{"data":{"attributes":{"last_analysis_stats":"garbage","crowdsourced_ai_results":"nope"}}}`, StatusPending},
		{`[]`, StatusPending},
	}

	for _, fix := range fixtures {
		assert.Equal(fix.status, ParseFileReport([]byte(fix.body)).Status, fix.body)
	}

	rep := ParseFileReport([]byte(fixtures[2].body))
	assert.Equal("Benign", rep.AIVerdict)
	assert.Equal("looks fine", rep.AIAnalysis)
	assert.Equal("palm", rep.AISource)
	assert.Equal(&Stats{Undetected: 50}, rep.Stats)
}

func testClient(host string, cache cachestore.CacheStore) *Client {
	c := NewClient("secret", cache)
	c.Client = robusthttp.TestingHTTPClient()
	c.Host = host
	c.Limiter = rate.NewLimiter(rate.Inf, 1)
	return c
}

func TestLookup(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if r.Header.Get("x-apikey") != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		switch r.URL.Path {
		case "/api/v3/files/aaaa":
			w.Write([]byte(`{"data":{"attributes":{"last_analysis_stats":{"malicious":0,"suspicious":0,"undetected":40,"harmless":0}}}}`))
		case "/api/v3/files/bbbb":
			w.WriteHeader(http.StatusNotFound)
		default:
			w.WriteHeader(http.StatusBadRequest)
		}
	}))
	defer srv.Close()

	c := testClient(srv.URL, cachestore.NewMemCacheStore(100, time.Minute))

	rep := c.Lookup(ctx, "AAAA")
	assert.Equal(StatusClean, rep.Status)
	assert.Equal(srv.URL+"/gui/file/aaaa", rep.URL)

	// second lookup served from cache
	rep = c.Lookup(ctx, "aaaa")
	assert.Equal(StatusClean, rep.Status)
	assert.Equal(int32(1), calls.Load())

	assert.Equal(StatusNotFound, c.Lookup(ctx, "bbbb").Status)
	assert.Equal(StatusError, c.Lookup(ctx, "cccc").Status)
	assert.Equal(StatusNotFound, c.Lookup(ctx, "").Status)

	// errors are not cached
	before := calls.Load()
	c.Lookup(ctx, "cccc")
	assert.Equal(before+1, calls.Load())

	c.APIKey = ""
	assert.Equal(StatusError, c.Lookup(ctx, "dddd").Status)

	down := testClient("http://127.0.0.1:1", nil)
	assert.Equal(StatusError, down.Lookup(ctx, "aaaa").Status)
}
