package reputation

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/zip"
)

const MetaFileName = "_meta.json"

var ErrEmptyBundle = errors.New("bundle has no files")

// Fixed entry timestamp, the earliest a zip header can represent, so bundle bytes depend only on content.
var bundleEpoch = time.Date(1980, 1, 1, 0, 0, 0, 0, time.UTC)

type BundleFile struct {
	Path    string
	Content []byte
}

type BundleRelease struct {
	Version     string `json:"version"`
	PublishedAt int64  `json:"publishedAt"`
	Commit      string `json:"commit"`
}

// Written in to the bundle as _meta.json.
type BundleMeta struct {
	Owner       string          `json:"owner"`
	Slug        string          `json:"slug"`
	DisplayName string          `json:"displayName"`
	Latest      BundleRelease   `json:"latest"`
	History     []BundleRelease `json:"history"`
}

// Builds a deterministic zip of a skill version and returns it with its hex SHA-256.
//
// Entries are sorted by path, share a fixed timestamp and use deflate level 6. History is ordered newest first. meta may be nil.
func BuildBundle(files []BundleFile, meta *BundleMeta) ([]byte, string, error) {
	sorted := append([]BundleFile(nil), files...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Path < sorted[j].Path })

	if meta != nil {
		m := *meta
		m.History = append([]BundleRelease{}, meta.History...)
		sort.SliceStable(m.History, func(i, j int) bool { return m.History[i].PublishedAt > m.History[j].PublishedAt })
		b, err := json.MarshalIndent(m, "", "  ")
		if err != nil {
			return nil, "", fmt.Errorf("encoding bundle metadata: %w", err)
		}
		sorted = append(sorted, BundleFile{Path: MetaFileName, Content: b})
	}
	if len(sorted) == 0 {
		return nil, "", ErrEmptyBundle
	}

	buf := &bytes.Buffer{}
	zw := zip.NewWriter(buf)
	zw.RegisterCompressor(zip.Deflate, func(w io.Writer) (io.WriteCloser, error) {
		return flate.NewWriter(w, 6)
	})
	for _, f := range sorted {
		w, err := zw.CreateHeader(&zip.FileHeader{
			Name:     f.Path,
			Method:   zip.Deflate,
			Modified: bundleEpoch,
		})
		if err != nil {
			return nil, "", fmt.Errorf("adding %s to bundle: %w", f.Path, err)
		}
		if _, err := w.Write(f.Content); err != nil {
			return nil, "", fmt.Errorf("writing %s to bundle: %w", f.Path, err)
		}
	}
	if err := zw.Close(); err != nil {
		return nil, "", err
	}

	sum := sha256.Sum256(buf.Bytes())
	return buf.Bytes(), hex.EncodeToString(sum[:]), nil
}
