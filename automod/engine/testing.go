package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/clawdhub/skillguard/automod/llm"
	"github.com/clawdhub/skillguard/models"
)

// In-memory Store and CursorStore, for tests and local development.
type MemStore struct {
	mu       sync.Mutex
	Skills   map[uint]*models.Skill
	Versions map[uint]*models.SkillVersion
	Reports  map[[2]uint]string
	Cursors  map[string]int64

	// IDs of versions which have been fetched
	VersionLookups []uint
	ListCalls      int
	// when set, returned from SetCursor
	SetCursorErr error
}

var _ Store = (*MemStore)(nil)
var _ CursorStore = (*MemStore)(nil)

func NewMemStore() *MemStore {
	return &MemStore{
		Skills:   make(map[uint]*models.Skill),
		Versions: make(map[uint]*models.SkillVersion),
		Reports:  make(map[[2]uint]string),
		Cursors:  make(map[string]int64),
	}
}

// Adds a skill, and a latest version if one is given.
func (s *MemStore) AddSkill(skill models.Skill, version *models.SkillVersion) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if version != nil {
		version.SkillID = skill.ID
		s.Versions[version.ID] = version
		id := version.ID
		skill.LatestVersionID = &id
	}
	s.Skills[skill.ID] = &skill
}

func (s *MemStore) ListSkillsUpdatedAfter(ctx context.Context, cursor int64, limit int) ([]models.Skill, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ListCalls++
	out := []models.Skill{}
	for _, sk := range s.Skills {
		if sk.UpdatedAt > cursor {
			out = append(out, *sk)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].UpdatedAt == out[j].UpdatedAt {
			return out[i].ID < out[j].ID
		}
		return out[i].UpdatedAt < out[j].UpdatedAt
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemStore) GetVersion(ctx context.Context, id uint) (*models.SkillVersion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.VersionLookups = append(s.VersionLookups, id)
	v, ok := s.Versions[id]
	if !ok {
		return nil, nil
	}
	return v, nil
}

func (s *MemStore) ReportSkill(ctx context.Context, skillID, userID uint, reason string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sk, ok := s.Skills[skillID]
	if !ok {
		return false, fmt.Errorf("skill not found: %d", skillID)
	}
	if sk.IsSoftDeleted() {
		return false, nil
	}
	key := [2]uint{skillID, userID}
	if _, ok := s.Reports[key]; ok {
		return false, nil
	}
	s.Reports[key] = reason
	sk.ReportCount++
	return true, nil
}

func (s *MemStore) GetCursor(ctx context.Context, key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Cursors[key], nil
}

func (s *MemStore) SetCursor(ctx context.Context, key string, value int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.SetCursorErr != nil {
		return s.SetCursorErr
	}
	s.Cursors[key] = max(s.Cursors[key], value)
	return nil
}

// Classifier returning canned verdicts by skill slug.
type MockClassifier struct {
	mu      sync.Mutex
	Results map[string]*llm.Result
	Errors  map[string]error
	Calls   []string
}

func (c *MockClassifier) Classify(ctx context.Context, skill *models.Skill, version *models.SkillVersion) (*llm.Result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Calls = append(c.Calls, skill.Slug)
	if err, ok := c.Errors[skill.Slug]; ok {
		return nil, err
	}
	return c.Results[skill.Slug], nil
}

type MockNotifier struct {
	mu    sync.Mutex
	Sent  []string
	Error error
}

func (n *MockNotifier) SendReport(ctx context.Context, skill *models.Skill, reason string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.Sent = append(n.Sent, skill.Slug)
	return n.Error
}

func EngineTestFixture() (Engine, *MemStore) {
	store := NewMemStore()
	engine := Engine{
		Logger:     slog.Default(),
		Store:      store,
		Cursors:    store,
		Classifier: &MockClassifier{},
		ActorID:    1,
	}
	return engine, store
}
