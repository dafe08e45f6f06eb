package main

import (
	"context"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clawdhub/skillguard/automod/blobstore"
	"github.com/clawdhub/skillguard/automod/countstore"
	"github.com/clawdhub/skillguard/automod/engine"
	"github.com/clawdhub/skillguard/automod/reputation"
	"github.com/clawdhub/skillguard/automod/store"
	"github.com/clawdhub/skillguard/models"
	"github.com/clawdhub/skillguard/util/cliutil"
)

func TestAutomodLoop(t *testing.T) {
	assert := assert.New(t)

	eng, st := engine.EngineTestFixture()
	summary := "token grabber for discord"
	st.AddSkill(models.Skill{ID: 1, Slug: "grab", DisplayName: "Grab", Summary: &summary, UpdatedAt: 5}, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	err := runAutomodLoop(ctx, &eng, engine.Config{}, 20*time.Millisecond, slog.New(slog.DiscardHandler))
	assert.NoError(err)
	assert.Len(st.Reports, 1)
	assert.Equal(int64(5), st.Cursors[engine.CursorKey])
}

func TestAutomodLoopDisabled(t *testing.T) {
	assert := assert.New(t)

	eng, st := engine.EngineTestFixture()
	assert.NoError(runAutomodLoop(context.Background(), &eng, engine.Config{}, 0, slog.New(slog.DiscardHandler)))
	assert.Equal(0, st.ListCalls)
}

func TestAutomodLoopActorMissing(t *testing.T) {
	assert := assert.New(t)

	eng, _ := engine.EngineTestFixture()
	eng.ActorID = 0
	err := runAutomodLoop(context.Background(), &eng, engine.Config{}, time.Minute, slog.New(slog.DiscardHandler))
	assert.ErrorIs(err, engine.ErrActorNotConfigured)
}

func TestCountPruneLoop(t *testing.T) {
	assert := assert.New(t)

	counts := countstore.NewMemCountStore(time.Hour)
	assert.NoError(counts.Increment(context.Background(), "skill-fingerprint", "stale", time.Now().Add(-2*time.Hour)))

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	assert.NoError(runCountPruneLoop(ctx, counts, 10*time.Millisecond, slog.New(slog.DiscardHandler)))
	assert.Equal(0, counts.Events.Size())
}

func TestReputationSubmitLoop(t *testing.T) {
	assert := assert.New(t)

	db, err := cliutil.SetupDatabase("sqlite://:memory:", 1)
	require.NoError(t, err)
	st := store.NewGormStore(db)
	require.NoError(t, st.Migrate())

	owner := models.User{Handle: "looper"}
	require.NoError(t, db.Create(&owner).Error)
	sk := models.Skill{Slug: "looped", DisplayName: "Looped", OwnerID: owner.ID, UpdatedAt: 1}
	require.NoError(t, db.Create(&sk).Error)
	blobs := blobstore.NewMemBlobStore()
	var ids []uint
	for i, v := range []string{"1.0.0", "1.1.0", "1.2.0"} {
		ref := fmt.Sprintf("ref-%d", i)
		blobs.Put(ref, []byte("# Looped "+v))
		ver := models.SkillVersion{SkillID: sk.ID, Version: v, Files: []models.SkillFile{{Path: "SKILL.md", StorageRef: ref}}}
		require.NoError(t, db.Create(&ver).Error)
		ids = append(ids, ver.ID)
	}

	sub := reputation.NewSubmitter(nil, st, blobs, slog.New(slog.DiscardHandler))
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	assert.NoError(runReputationSubmitLoop(ctx, sub, st, 10*time.Millisecond, 2, slog.New(slog.DiscardHandler)))

	for _, id := range ids {
		ver, err := st.GetVersion(context.Background(), id)
		require.NoError(t, err)
		require.NotNil(t, ver.Sha256hash)
		assert.Len(*ver.Sha256hash, 64)
	}
	pending, err := st.ListVersionsMissingHash(context.Background(), 0, 10)
	require.NoError(t, err)
	assert.Empty(pending)
}

func TestReputationSubmitLoopDisabled(t *testing.T) {
	assert := assert.New(t)
	assert.NoError(runReputationSubmitLoop(context.Background(), nil, nil, 0, 4, slog.New(slog.DiscardHandler)))
}
