package quality

import (
	"context"
	"fmt"
	"time"

	"github.com/clawdhub/skillguard/automod/countstore"

	"github.com/spaolacci/murmur3"
)

const similarityCounterName = "skill-fingerprint"

// Time-windowed index of recent submissions, keyed by (submitter, structural fingerprint).
type SimilarityIndex struct {
	Counts countstore.CountStore
	Window time.Duration
}

func NewSimilarityIndex(counts countstore.CountStore, window time.Duration) *SimilarityIndex {
	if window <= 0 {
		window = countstore.DefaultHorizon
	}
	return &SimilarityIndex{
		Counts: counts,
		Window: window,
	}
}

// returns a fast, compact hash of a fingerprint
func fingerprintHash(fp string) string {
	return fmt.Sprintf("%016x", murmur3.Sum64([]byte(fp)))
}

func similarityKey(submitterID, fingerprint string) string {
	return submitterID + "/" + fingerprintHash(fingerprint)
}

// Records a submission. Empty fingerprints (blank documents) are not indexed.
func (si *SimilarityIndex) Record(ctx context.Context, submitterID, fingerprint string, at time.Time) error {
	if fingerprint == "" || submitterID == "" {
		return nil
	}
	return si.Counts.Increment(ctx, similarityCounterName, similarityKey(submitterID, fingerprint), at)
}

// Counts submissions by the same submitter sharing this fingerprint within the window ending at 'now'.
func (si *SimilarityIndex) CountRecent(ctx context.Context, submitterID, fingerprint string, now time.Time) (int, error) {
	if fingerprint == "" || submitterID == "" {
		return 0, nil
	}
	return si.Counts.CountWindow(ctx, similarityCounterName, similarityKey(submitterID, fingerprint), now, si.Window)
}
