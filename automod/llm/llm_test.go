package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/clawdhub/skillguard/models"
	"github.com/clawdhub/skillguard/pkg/robusthttp"
)

func strPtr(s string) *string { return &s }

func TestBuildPrompt(t *testing.T) {
	assert := assert.New(t)

	skill := &models.Skill{Slug: "pdf-tools", DisplayName: "PDF Tools", Summary: strPtr("Merge and split PDFs")}
	version := &models.SkillVersion{
		Version: "1.2.0",
		Files:   []models.SkillFile{{Path: "SKILL.md"}, {Path: "scripts/merge.py"}},
	}
	assert.Equal("Skill: pdf-tools\nDisplay name: PDF Tools\nSummary: Merge and split PDFs\nLatest version: 1.2.0\nFiles: SKILL.md, scripts/merge.py", BuildPrompt(skill, version))

	skill.Summary = nil
	assert.Equal("Skill: pdf-tools\nDisplay name: PDF Tools\nLatest version: unknown\nFiles: none", BuildPrompt(skill, nil))

	many := &models.SkillVersion{Version: "1"}
	for i := 0; i < 100; i++ {
		many.Files = append(many.Files, models.SkillFile{Path: fmt.Sprintf("f%d", i)})
	}
	p := BuildPrompt(skill, many)
	assert.Contains(p, "f79")
	assert.NotContains(p, "f80")
}

func TestResponseText(t *testing.T) {
	assert := assert.New(t)

	payload := `{"id":"resp_1","output":[
		{"type":"reasoning","summary":[]},
		{"type":"message","content":[
			{"type":"output_text","text":"{\"flag\": true,"},
			{"type":"refusal","refusal":"no"},
			{"type":"output_text","text":"   "},
			{"type":"output_text","text":"\"reason\": \"token stealer\"}"}
		]},
		{"type":"message","content":"not a list"}
	]}`
	assert.Equal("{\"flag\": true,\n\"reason\": \"token stealer\"}", ResponseText([]byte(payload)))

	assert.Equal("", ResponseText([]byte(`{"output":{"content":[]}}`)))
	assert.Equal("", ResponseText([]byte(`{}`)))
	assert.Equal("", ResponseText([]byte(`not json`)))
	assert.Equal("", ResponseText([]byte(`{"output":[{"content":[{"type":"output_text","text":42}]}]}`)))
}

func TestParseResult(t *testing.T) {
	assert := assert.New(t)

	fixtures := []struct {
		text string
		out  *Result
	}{
		{`{"flag": true, "reason": "bundled exe"}`, &Result{Flag: true, Reason: "bundled exe"}},
		{`{"flag": false}`, &Result{Flag: false}},
		{"```json\n{\"flag\": true, \"reason\": \"drainer\"}\n```", &Result{Flag: true, Reason: "drainer"}},
		{`Sure! Here you go: {"flag": true, "reason": "uses {curly} braces"} hope this helps`, &Result{Flag: true, Reason: "uses {curly} braces"}},
		{`{"flag": "true"}`, nil},
		{`{"reason": "no flag field"}`, nil},
		{`{"flag": tru`, nil},
		{`not json at all`, nil},
		{``, nil},
		{`{"flag": true, "reason": 7}`, &Result{Flag: true}},
	}

	for _, fix := range fixtures {
		assert.Equal(fix.out, ParseResult(fix.text), fix.text)
	}
}

func TestGuard(t *testing.T) {
	assert := assert.New(t)

	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	g := NewGuard(2, time.Minute)
	g.now = func() time.Time { return now }

	assert.True(g.Allow())
	g.RecordFailure()
	assert.True(g.Allow())
	g.RecordFailure()
	assert.False(g.Allow())
	assert.Equal(2, g.Failures())

	now = now.Add(2 * time.Minute)
	assert.True(g.Allow())

	g.RecordSuccess()
	assert.Equal(0, g.Failures())

	var nilGuard *Guard
	assert.True(nilGuard.Allow())
	nilGuard.RecordFailure()
}

func openAIResponse(text string) []byte {
	b, _ := json.Marshal(map[string]any{
		"output": []any{
			map[string]any{
				"type":    "message",
				"content": []any{map[string]any{"type": "output_text", "text": text}},
			},
		},
	})
	return b
}

func testClassifier(host string) *OpenAIClassifier {
	c := NewOpenAIClassifier("sk-test", "")
	c.Client = robusthttp.TestingHTTPClient()
	c.Host = host
	c.Limiter = rate.NewLimiter(rate.Inf, 1)
	return c
}

func TestClassify(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	reply := `{"flag": true, "reason": "credential theft"}`
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/responses" || r.Header.Get("Authorization") != "Bearer sk-test" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		var req responsesRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if req.Model != DefaultModel || req.MaxOutputTokens != 120 || !strings.HasPrefix(req.Input, "Skill: ") {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.Write(openAIResponse(reply))
	}))
	defer srv.Close()

	skill := &models.Skill{Slug: "nitro-gen", DisplayName: "Nitro Gen"}
	c := testClassifier(srv.URL)

	res, err := c.Classify(ctx, skill, nil)
	assert.NoError(err)
	require.NotNil(t, res)
	assert.True(res.Flag)
	assert.Equal("credential theft", res.Reason)

	reply = "I cannot help with that"
	res, err = c.Classify(ctx, skill, nil)
	assert.NoError(err)
	assert.Nil(res)

	c.APIKey = ""
	res, err = c.Classify(ctx, skill, nil)
	assert.NoError(err)
	assert.Nil(res)
}

func TestClassifyFailures(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	skill := &models.Skill{Slug: "x", DisplayName: "X"}
	c := testClassifier(srv.URL)
	c.Guard = NewGuard(2, time.Hour)

	_, err := c.Classify(ctx, skill, nil)
	assert.Error(err)
	_, err = c.Classify(ctx, skill, nil)
	assert.Error(err)

	// guard has tripped: no call, no error, no result
	res, err := c.Classify(ctx, skill, nil)
	assert.NoError(err)
	assert.Nil(res)
}
