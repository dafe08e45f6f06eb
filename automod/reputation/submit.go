package reputation

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/clawdhub/skillguard/automod/blobstore"
	"github.com/clawdhub/skillguard/models"
)

// Largest file the direct upload endpoint accepts.
const MaxUploadSize = 32 << 20

// Placeholder source reference recorded for every release in bundle metadata.
const DefaultBundleSource = "https://github.com/clawdbot/skills"

var (
	ErrNotConfigured   = errors.New("reputation API key not configured")
	ErrVersionNotFound = errors.New("skill version not found")
	ErrNoStoredFiles   = errors.New("none of the version's files are in storage")
)

type SubmitResult struct {
	Sha256 string `json:"sha256"`
	// true if the bundle was sent for a fresh analysis
	Uploaded   bool    `json:"uploaded"`
	AnalysisID string  `json:"analysisId,omitempty"`
	Report     *Report `json:"report,omitempty"`
}

// Makes sure the reputation service has analyzed a bundle.
//
// A bundle the service already knows, with a code insight verdict attached, is not uploaded again and its report is returned. Otherwise (unknown, no verdict yet, or the lookup failed) the bundle is uploaded for analysis.
func (c *Client) Submit(ctx context.Context, bundle []byte, sha256hash string) (*SubmitResult, error) {
	if c.APIKey == "" {
		return nil, ErrNotConfigured
	}
	res := &SubmitResult{Sha256: sha256hash}

	existing, err := c.fetch(ctx, sha256hash)
	if err != nil {
		c.Logger.Warn("reputation check before upload failed, uploading anyway", "sha256", sha256hash, "err", err)
	} else if existing.Status != StatusNotFound && existing.AIVerdict != "" {
		submitCount.WithLabelValues("known").Inc()
		res.Report = existing
		return res, nil
	}

	id, err := c.upload(ctx, bundle)
	if err != nil {
		submitCount.WithLabelValues("error").Inc()
		return nil, err
	}
	submitCount.WithLabelValues("uploaded").Inc()
	res.Uploaded = true
	res.AnalysisID = id
	return res, nil
}

func (c *Client) upload(ctx context.Context, bundle []byte) (string, error) {
	if len(bundle) > MaxUploadSize {
		return "", fmt.Errorf("bundle too large to upload (%d bytes)", len(bundle))
	}
	if c.Limiter != nil {
		if err := c.Limiter.Wait(ctx); err != nil {
			return "", err
		}
	}

	body := &bytes.Buffer{}
	mw := multipart.NewWriter(body)
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="file"; filename="skill.zip"`)
	h.Set("Content-Type", "application/zip")
	part, err := mw.CreatePart(h)
	if err != nil {
		return "", err
	}
	if _, err := part.Write(bundle); err != nil {
		return "", err
	}
	if err := mw.Close(); err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, "POST", strings.TrimRight(c.Host, "/")+"/api/v3/files", body)
	if err != nil {
		return "", err
	}
	req.Header.Set("x-apikey", c.APIKey)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Accept", "application/json")

	resp, err := c.Client.Do(req)
	if err != nil {
		return "", fmt.Errorf("reputation upload failed: %w", err)
	}
	defer resp.Body.Close()

	respBytes, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("failed to read reputation upload resp body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("reputation upload failed statusCode=%d body=%q", resp.StatusCode, truncate(respBytes, 512))
	}
	return gjson.GetBytes(respBytes, "data.id").String(), nil
}

func truncate(b []byte, n int) []byte {
	if len(b) > n {
		return b[:n]
	}
	return b
}

// Persistence needed to bundle and submit a stored skill version.
type BundleStore interface {
	// Returns (nil, nil) if there is no such version.
	GetVersion(ctx context.Context, id uint) (*models.SkillVersion, error)
	// Returns (nil, nil) if there is no such skill.
	GetSkill(ctx context.Context, id uint) (*models.Skill, error)
	// Returns (nil, nil) if there is no such user.
	GetUser(ctx context.Context, id uint) (*models.User, error)
	ListVersions(ctx context.Context, skillID uint) ([]models.SkillVersion, error)
	SetVersionHash(ctx context.Context, versionID uint, sha256hash string) error
	SetReputation(ctx context.Context, versionID uint, status string, checkedAt time.Time) error
}

// Bundles stored skill versions, records their hashes, and submits them for reputation analysis.
type Submitter struct {
	Client *Client
	Store  BundleStore
	Blobs  blobstore.BlobStore
	// recorded as the commit of every release in bundle metadata
	Source string
	Logger *slog.Logger

	now func() time.Time
}

func NewSubmitter(client *Client, st BundleStore, blobs blobstore.BlobStore, logger *slog.Logger) *Submitter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Submitter{
		Client: client,
		Store:  st,
		Blobs:  blobs,
		Source: DefaultBundleSource,
		Logger: logger.With("component", "reputation-submit"),
		now:    time.Now,
	}
}

// Builds and hashes the version's bundle, stores the hash, then submits the bundle. If no API key is configured, only the hash is stored.
//
// Files missing from storage are left out of the bundle. If every file is missing, ErrNoStoredFiles is returned. A final status from an already-known bundle is stored on the version.
func (s *Submitter) SubmitVersion(ctx context.Context, versionID uint) (*SubmitResult, error) {
	ver, err := s.Store.GetVersion(ctx, versionID)
	if err != nil {
		return nil, err
	}
	if ver == nil {
		return nil, ErrVersionNotFound
	}
	logger := s.Logger.With("version", ver.ID)

	files := make([]BundleFile, 0, len(ver.Files))
	for _, f := range ver.Files {
		blob, err := s.Blobs.Get(ctx, f.StorageRef)
		if errors.Is(err, blobstore.ErrNotFound) {
			logger.Warn("file missing from storage, left out of bundle", "path", f.Path)
			continue
		} else if err != nil {
			return nil, fmt.Errorf("reading %s for bundle: %w", f.Path, err)
		}
		files = append(files, BundleFile{Path: f.Path, Content: blob})
	}
	if len(ver.Files) > 0 && len(files) == 0 {
		return nil, ErrNoStoredFiles
	}

	meta, err := s.bundleMeta(ctx, ver)
	if err != nil {
		return nil, err
	}
	bundle, hash, err := BuildBundle(files, meta)
	if err != nil {
		return nil, err
	}
	if err := s.Store.SetVersionHash(ctx, ver.ID, hash); err != nil {
		return nil, fmt.Errorf("storing bundle hash: %w", err)
	}

	if s.Client == nil || s.Client.APIKey == "" {
		logger.Info("reputation API key not configured, stored bundle hash only", "sha256", hash)
		return &SubmitResult{Sha256: hash}, nil
	}

	res, err := s.Client.Submit(ctx, bundle, hash)
	if err != nil {
		return nil, err
	}
	if res.Report != nil && isFinalStatus(res.Report.Status) {
		if err := s.Store.SetReputation(ctx, ver.ID, res.Report.Status, s.now()); err != nil {
			return nil, fmt.Errorf("storing reputation status: %w", err)
		}
	}
	logger.Info("bundle submitted for reputation analysis", "sha256", hash, "uploaded", res.Uploaded, "analysis", res.AnalysisID)
	return res, nil
}

func (s *Submitter) bundleMeta(ctx context.Context, ver *models.SkillVersion) (*BundleMeta, error) {
	skill, err := s.Store.GetSkill(ctx, ver.SkillID)
	if err != nil {
		return nil, err
	}
	if skill == nil {
		return nil, nil
	}
	owner, err := s.Store.GetUser(ctx, skill.OwnerID)
	if err != nil {
		return nil, err
	}
	versions, err := s.Store.ListVersions(ctx, skill.ID)
	if err != nil {
		return nil, err
	}

	meta := &BundleMeta{
		Owner:       "unknown",
		Slug:        skill.Slug,
		DisplayName: skill.DisplayName,
		Latest: BundleRelease{
			Version:     ver.Version,
			PublishedAt: ver.CreatedAt.UnixMilli(),
			Commit:      s.Source,
		},
		History: []BundleRelease{},
	}
	if owner != nil && owner.Handle != "" {
		meta.Owner = owner.Handle
	}
	for _, v := range versions {
		if v.Version == ver.Version {
			continue
		}
		meta.History = append(meta.History, BundleRelease{
			Version:     v.Version,
			PublishedAt: v.CreatedAt.UnixMilli(),
			Commit:      s.Source,
		})
	}
	return meta, nil
}

// statuses which won't change without a new upload
func isFinalStatus(status string) bool {
	switch status {
	case StatusClean, StatusSuspicious, StatusMalicious, "benign":
		return true
	}
	return false
}
