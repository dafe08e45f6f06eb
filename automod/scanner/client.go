package scanner

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/clawdhub/skillguard/automod/blobstore"
	"github.com/clawdhub/skillguard/models"
	"github.com/clawdhub/skillguard/pkg/robusthttp"
)

var timeNow = time.Now

var ErrNoFiles = errors.New("no files available for scanning")

type Client struct {
	Client *http.Client
	Host   string
	Blobs  blobstore.BlobStore
	Logger *slog.Logger
}

func NewClient(host string, blobs blobstore.BlobStore) *Client {
	return &Client{
		Client: robusthttp.NewClient(),
		Host:   strings.TrimRight(host, "/"),
		Blobs:  blobs,
		Logger: slog.Default().With("component", "scanner"),
	}
}

// Submits every file of a skill version to the scanner. Files with no stored blob are skipped.
//
// Never returns nil: if the scan could not be completed for any reason, the result is a synthesized blocked verdict.
func (c *Client) ScanFiles(ctx context.Context, files []models.SkillFile) *ScanResult {
	res, err := c.scanFiles(ctx, files)
	if err != nil {
		c.Logger.Error("security scan failed, blocking", "err", err, "files", len(files))
		res = UnavailableResult(timeNow())
	}
	scanVerdictCount.WithLabelValues(string(res.Verdict)).Inc()
	return res
}

func (c *Client) scanFiles(ctx context.Context, files []models.SkillFile) (*ScanResult, error) {
	body := &bytes.Buffer{}
	mw := multipart.NewWriter(body)

	added := 0
	for _, f := range files {
		blob, err := c.Blobs.Get(ctx, f.StorageRef)
		if errors.Is(err, blobstore.ErrNotFound) {
			scanFilesMissing.Inc()
			c.Logger.Warn("file not available for scanning", "path", f.Path, "ref", f.StorageRef)
			continue
		} else if err != nil {
			// a file that exists but can't be read must not be left out of the scan
			return nil, fmt.Errorf("reading %s for scan: %w", f.Path, err)
		}
		part, err := mw.CreateFormFile("files", f.Path)
		if err != nil {
			return nil, err
		}
		if _, err := part.Write(blob); err != nil {
			return nil, err
		}
		added++
	}
	if added == 0 {
		return nil, ErrNoFiles
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.Host+"/api/scan", body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Accept", "application/json")

	c.Logger.Debug("submitting files to scanner", "files", added, "size", body.Len())

	start := time.Now()
	defer func() {
		scanAPIDuration.Observe(time.Since(start).Seconds())
	}()

	resp, err := c.Client.Do(req)
	if err != nil {
		scanAPICount.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("scanner request failed: %w", err)
	}
	defer resp.Body.Close()

	scanAPICount.WithLabelValues(fmt.Sprint(resp.StatusCode)).Inc()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("scanner request failed statusCode=%d body=%q", resp.StatusCode, msg)
	}

	respBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read scanner resp body: %w", err)
	}

	var result ScanResult
	if err := json.Unmarshal(respBytes, &result); err != nil {
		return nil, fmt.Errorf("failed to parse scanner resp JSON: %w", err)
	}
	if result.Verdict == "" {
		return nil, fmt.Errorf("scanner response missing verdict")
	}
	return &result, nil
}

// Returns true only if the scanner reports itself healthy.
func (c *Client) Health(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, "GET", c.Host+"/health", nil)
	if err != nil {
		return false
	}
	resp, err := c.Client.Do(req)
	if err != nil {
		c.Logger.Warn("scanner health check failed", "err", err)
		return false
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return false
	}

	var status struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return false
	}
	return status.Status == "ok"
}
