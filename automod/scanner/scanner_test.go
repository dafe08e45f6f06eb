package scanner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clawdhub/skillguard/automod/blobstore"
	"github.com/clawdhub/skillguard/models"
	"github.com/clawdhub/skillguard/pkg/robusthttp"
)

func TestHandleScanResultClean(t *testing.T) {
	assert := assert.New(t)

	flags, err := HandleScanResult(&ScanResult{
		Verdict:  VerdictClean,
		Findings: []Finding{},
		Summary:  Summary{},
	})
	assert.NoError(err)
	assert.Equal([]string{}, flags)
}

func TestHandleScanResultFlagged(t *testing.T) {
	assert := assert.New(t)

	flags, err := HandleScanResult(&ScanResult{
		Verdict: VerdictFlagged,
		Findings: []Finding{
			{RuleID: "suspicious.webhook", Engine: "code", Severity: SeverityHigh, Message: "Discord webhook URL detected"},
			{RuleID: "suspicious.secrets", Engine: "code", Severity: SeverityMedium, Message: "Potential API key pattern"},
		},
		Summary: Summary{Critical: 0, High: 1, Total: 2},
	})
	assert.NoError(err)
	assert.Equal([]string{"suspicious.webhook", "suspicious.secrets"}, flags)
}

func TestHandleScanResultBlocked(t *testing.T) {
	assert := assert.New(t)

	_, err := HandleScanResult(&ScanResult{
		Verdict: VerdictBlocked,
		Findings: []Finding{
			{RuleID: "code.data_exfiltration", Engine: "code", Severity: SeverityCritical, Message: "Data exfiltration pattern", FilePath: "backdoor.js", LineNumber: 42},
			{RuleID: "code.obfuscation", Engine: "code", Severity: SeverityMedium, Message: "Obfuscated code"},
		},
		Summary: Summary{Critical: 1, High: 0, Total: 2},
	})
	assert.Error(err)

	var secErr *SecurityError
	require.True(t, errors.As(err, &secErr))
	assert.Equal(CodeSecurityBlocked, secErr.Code)
	assert.Equal(2, secErr.FindingsCount)
	assert.Equal(1, secErr.CriticalCount)
	assert.Equal(0, secErr.HighCount)
	assert.Equal([]string{"Data exfiltration pattern (backdoor.js)"}, secErr.Findings)
	assert.Contains(secErr.Error(), "backdoor.js")
	assert.Equal("Skill blocked due to security findings:\n• Data exfiltration pattern (backdoor.js)", secErr.Message)
}

func TestHandleScanResultBlockedTruncates(t *testing.T) {
	assert := assert.New(t)

	findings := []Finding{}
	for i := 0; i < 8; i++ {
		findings = append(findings, Finding{RuleID: "r", Severity: SeverityHigh, Message: "bad"})
	}
	findings = append(findings, Finding{RuleID: "r", Severity: SeverityCritical, Message: "worse"})

	_, err := HandleScanResult(&ScanResult{Verdict: VerdictBlocked, Findings: findings})
	var secErr *SecurityError
	require.True(t, errors.As(err, &secErr))
	assert.Len(secErr.Findings, 5)
	assert.Equal(9, secErr.FindingsCount)
	// no summary from the service, so counts come from the findings
	assert.Equal(1, secErr.CriticalCount)
	assert.Equal(8, secErr.HighCount)
}

func TestHandleScanResultUnknownVerdict(t *testing.T) {
	assert := assert.New(t)

	_, err := HandleScanResult(&ScanResult{
		Verdict:  "weird",
		Findings: []Finding{{RuleID: "x", Severity: SeverityCritical, Message: "boom"}},
	})
	assert.Error(err)

	flags, err := HandleScanResult(&ScanResult{
		Verdict:  "weird",
		Findings: []Finding{{RuleID: "x", Severity: SeverityLow, Message: "meh"}},
	})
	assert.NoError(err)
	assert.Empty(flags)

	_, err = HandleScanResult(nil)
	assert.Error(err)
}

func TestVerdictFromFindings(t *testing.T) {
	assert := assert.New(t)

	assert.Equal(VerdictClean, VerdictFromFindings(nil))
	assert.Equal(VerdictBlocked, VerdictFromFindings([]Finding{{Severity: SeverityCritical}, {Severity: SeverityHigh}}))
	assert.Equal(VerdictFlagged, VerdictFromFindings([]Finding{{Severity: SeverityHigh}, {Severity: SeverityHigh}, {Severity: SeverityMedium}}))
	assert.Equal(VerdictClean, VerdictFromFindings([]Finding{{Severity: SeverityMedium}, {Severity: SeverityInfo}}))

	assert.Equal(Summary{Critical: 1, High: 2, Total: 4}, Summarize([]Finding{
		{Severity: SeverityCritical}, {Severity: SeverityHigh}, {Severity: SeverityHigh}, {Severity: SeverityLow},
	}))
}

func testClient(host string, blobs blobstore.BlobStore) *Client {
	c := NewClient(host, blobs)
	c.Client = robusthttp.TestingHTTPClient()
	return c
}

func testBlobs() *blobstore.MemBlobStore {
	bs := blobstore.NewMemBlobStore()
	bs.Put("ref-skill", []byte("# Skill\n"))
	bs.Put("ref-script", []byte("echo hi\n"))
	return bs
}

var testFiles = []models.SkillFile{
	{Path: "SKILL.md", StorageRef: "ref-skill"},
	{Path: "scripts/run.sh", StorageRef: "ref-script"},
	{Path: "missing.txt", StorageRef: "ref-missing"},
}

func TestScanFiles(t *testing.T) {
	assert := assert.New(t)

	var mu sync.Mutex
	uploaded := map[string]string{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/scan" || r.Method != "POST" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		parts, err := readUploadedFiles(r)
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		mu.Lock()
		for name, body := range parts {
			uploaded[name] = body
		}
		mu.Unlock()
		json.NewEncoder(w).Encode(ScanResult{
			Verdict:        VerdictFlagged,
			Findings:       []Finding{{RuleID: "suspicious.curl_pipe", Engine: "code", Severity: SeverityHigh, Message: "curl piped to shell", FilePath: "scripts/run.sh"}},
			FilesScanned:   2,
			ScannerVersion: "0.3.1",
			Summary:        Summary{High: 1, Total: 1},
		})
	}))
	defer srv.Close()

	c := testClient(srv.URL, testBlobs())
	res := c.ScanFiles(context.Background(), testFiles)
	assert.Equal(VerdictFlagged, res.Verdict)
	assert.Equal("0.3.1", res.ScannerVersion)
	assert.Equal(map[string]string{"SKILL.md": "# Skill\n", "scripts/run.sh": "echo hi\n"}, uploaded)

	flags, err := HandleScanResult(res)
	assert.NoError(err)
	assert.Equal([]string{"suspicious.curl_pipe"}, flags)
}

// Collects "files" parts keyed by the raw filename parameter. multipart.Part.FileName
// strips directories, so the Content-Disposition header is parsed directly.
func readUploadedFiles(r *http.Request) (map[string]string, error) {
	mr, err := r.MultipartReader()
	if err != nil {
		return nil, err
	}
	out := map[string]string{}
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			return out, nil
		} else if err != nil {
			return nil, err
		}
		_, params, err := mime.ParseMediaType(part.Header.Get("Content-Disposition"))
		if err != nil {
			return nil, err
		}
		if params["name"] != "files" {
			continue
		}
		b, err := io.ReadAll(part)
		if err != nil {
			return nil, err
		}
		out[params["filename"]] = string(b)
	}
}

type errBlobStore struct {
	blobstore.BlobStore
	failRef string
	err     error
}

func (s *errBlobStore) Get(ctx context.Context, ref string) ([]byte, error) {
	if ref == s.failRef {
		return nil, s.err
	}
	return s.BlobStore.Get(ctx, ref)
}

func TestScanFilesUnreadableBlob(t *testing.T) {
	ctx := context.Background()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		json.NewEncoder(w).Encode(ScanResult{Verdict: VerdictClean, Findings: []Finding{}})
	}))
	defer srv.Close()

	// an oversized payload exists but can't be scanned, so the whole scan fails closed
	blobs := &errBlobStore{BlobStore: testBlobs(), failRef: "ref-script", err: fmt.Errorf("blob ref-script: %w", blobstore.ErrTooLarge)}
	c := testClient(srv.URL, blobs)
	assertUnavailable(t, c.ScanFiles(ctx, testFiles))

	blobs.err = errors.New("connection reset")
	assertUnavailable(t, c.ScanFiles(ctx, testFiles))
	assert.Equal(t, int32(0), calls.Load())

	// missing blobs are still skipped
	res := c.ScanFiles(ctx, []models.SkillFile{testFiles[0], testFiles[2]})
	assert.Equal(t, VerdictClean, res.Verdict)
	assert.Equal(t, int32(1), calls.Load())
}

func assertUnavailable(t *testing.T, res *ScanResult) {
	assert := assert.New(t)
	require.NotNil(t, res)
	assert.Equal(VerdictBlocked, res.Verdict)
	require.Len(t, res.Findings, 1)
	assert.Equal(RuleScannerUnavailable, res.Findings[0].RuleID)
	assert.Equal("system", res.Findings[0].Engine)
	assert.Equal(SeverityCritical, res.Findings[0].Severity)
	assert.Equal("error", res.ScannerVersion)
	assert.Equal(Summary{Critical: 1, High: 0, Total: 1}, res.Summary)
}

func TestScanFilesFailsClosed(t *testing.T) {
	ctx := context.Background()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	// non-2xx
	c := testClient(srv.URL, testBlobs())
	assertUnavailable(t, c.ScanFiles(ctx, testFiles))
	assert.Equal(t, int32(1), calls.Load())

	// zero files resolvable: the scanner is never called
	c = testClient(srv.URL, blobstore.NewMemBlobStore())
	assertUnavailable(t, c.ScanFiles(ctx, testFiles))
	assertUnavailable(t, c.ScanFiles(ctx, nil))
	assert.Equal(t, int32(1), calls.Load())

	// bad JSON
	badJSON := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<html>oops</html>"))
	}))
	defer badJSON.Close()
	c = testClient(badJSON.URL, testBlobs())
	assertUnavailable(t, c.ScanFiles(ctx, testFiles))

	// transport failure
	c = testClient("http://127.0.0.1:1", testBlobs())
	assertUnavailable(t, c.ScanFiles(ctx, testFiles))

	_, err := HandleScanResult(UnavailableResult(time.Now()))
	var secErr *SecurityError
	require.True(t, errors.As(err, &secErr))
	assert.Equal(t, []string{unavailableMessage}, secErr.Findings)
}

func TestHealth(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	status := "ok"
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/health" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		json.NewEncoder(w).Encode(map[string]string{"status": status})
	}))
	defer srv.Close()

	c := testClient(srv.URL, testBlobs())
	assert.True(c.Health(ctx))

	status = "degraded"
	assert.False(c.Health(ctx))

	c = testClient("http://127.0.0.1:1", testBlobs())
	assert.False(c.Health(ctx))
}
