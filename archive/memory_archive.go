package archive

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/nakamura-labs/kaizen/types"
)

// MemoryArchive is an in-memory Archive. Suitable for local development,
// tests, and single-process deployments.
type MemoryArchive struct {
	mu       sync.RWMutex
	versions map[string]*types.OrchestratorVersion
	byOrch   map[string][]string // orchestratorID -> version ids, creation order
	tests    map[string]*ABTest
	samples  map[string]map[string][]float64 // testID -> versionID -> scores
	logger   *zap.Logger
}

// NewMemoryArchive creates an in-memory version archive.
func NewMemoryArchive(logger *zap.Logger) *MemoryArchive {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MemoryArchive{
		versions: make(map[string]*types.OrchestratorVersion),
		byOrch:   make(map[string][]string),
		tests:    make(map[string]*ABTest),
		samples:  make(map[string]map[string][]float64),
		logger:   logger.With(zap.String("component", "version_archive_memory")),
	}
}

// EnsureOrchestrator implements Archive.
func (a *MemoryArchive) EnsureOrchestrator(ctx context.Context, orchestratorID string, config types.OrchestratorConfig) (*types.OrchestratorVersion, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	if v := a.activeLocked(orchestratorID); v != nil {
		return copyVersion(v), nil
	}

	version := &types.OrchestratorVersion{
		ID:             uuid.NewString(),
		OrchestratorID: orchestratorID,
		Version:        a.nextVersionLocked(orchestratorID),
		Status:         types.VersionStatusActive,
		Config:         config,
		CreatedAt:      time.Now(),
		UpdatedAt:      time.Now(),
	}
	a.versions[version.ID] = version
	a.byOrch[orchestratorID] = append(a.byOrch[orchestratorID], version.ID)

	a.logger.Info("orchestrator bootstrapped",
		zap.String("orchestrator_id", orchestratorID),
		zap.String("version_id", version.ID))
	return copyVersion(version), nil
}

// GetActiveVersion implements Archive.
func (a *MemoryArchive) GetActiveVersion(ctx context.Context, orchestratorID string) (*types.OrchestratorVersion, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	a.mu.RLock()
	defer a.mu.RUnlock()

	if v := a.activeLocked(orchestratorID); v != nil {
		return copyVersion(v), nil
	}
	return nil, types.NewError(types.ErrNoActiveVersion, "no active version for orchestrator "+orchestratorID)
}

// CreateNewVersion implements Archive.
func (a *MemoryArchive) CreateNewVersion(ctx context.Context, orchestratorID string, req CreateVersionRequest) (*types.OrchestratorVersion, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	version := &types.OrchestratorVersion{
		ID:             uuid.NewString(),
		OrchestratorID: orchestratorID,
		Version:        a.nextVersionLocked(orchestratorID),
		Status:         types.VersionStatusDraft,
		Config:         req.Config,
		Improvements:   append([]string(nil), req.Improvements...),
		CreatedAt:      time.Now(),
		UpdatedAt:      time.Now(),
	}
	a.versions[version.ID] = version
	a.byOrch[orchestratorID] = append(a.byOrch[orchestratorID], version.ID)

	a.logger.Info("version created",
		zap.String("orchestrator_id", orchestratorID),
		zap.String("version_id", version.ID),
		zap.Int("version", version.Version))
	return copyVersion(version), nil
}

// StartABTest implements Archive.
func (a *MemoryArchive) StartABTest(ctx context.Context, candidateID, baselineID string, cfg ABTestConfig) (*ABTest, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	candidate, ok := a.versions[candidateID]
	if !ok {
		return nil, types.NewError(types.ErrVersionNotFound, "candidate version "+candidateID+" not found")
	}
	if _, ok := a.versions[baselineID]; !ok {
		return nil, types.NewError(types.ErrVersionNotFound, "baseline version "+baselineID+" not found")
	}
	for _, id := range a.byOrch[candidate.OrchestratorID] {
		if a.versions[id].Status == types.VersionStatusCandidate {
			return nil, types.NewError(types.ErrCandidateExists,
				"orchestrator "+candidate.OrchestratorID+" already has a candidate under test")
		}
	}

	candidate.Status = types.VersionStatusCandidate
	candidate.UpdatedAt = time.Now()

	test := &ABTest{
		ID:             uuid.NewString(),
		OrchestratorID: candidate.OrchestratorID,
		CandidateID:    candidateID,
		BaselineID:     baselineID,
		Config:         cfg,
		Status:         ABTestStatusRunning,
		StartedAt:      time.Now(),
	}
	a.tests[test.ID] = test
	a.samples[test.ID] = make(map[string][]float64)

	a.logger.Info("ab test started",
		zap.String("test_id", test.ID),
		zap.String("candidate_id", candidateID),
		zap.Float64("traffic_split", cfg.TrafficSplit))
	copied := *test
	return &copied, nil
}

// RecordSample implements Archive.
func (a *MemoryArchive) RecordSample(ctx context.Context, testID, versionID string, score float64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	if _, ok := a.tests[testID]; !ok {
		return types.NewError(types.ErrTestNotFound, "test "+testID+" not found")
	}
	a.samples[testID][versionID] = append(a.samples[testID][versionID], score)
	return nil
}

// EvaluateABTest implements Archive.
func (a *MemoryArchive) EvaluateABTest(ctx context.Context, testID string) (*TestEvaluation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	a.mu.RLock()
	defer a.mu.RUnlock()

	test, ok := a.tests[testID]
	if !ok {
		return nil, types.NewError(types.ErrTestNotFound, "test "+testID+" not found")
	}
	candidate, ok := a.versions[test.CandidateID]
	if !ok {
		return nil, types.NewError(types.ErrVersionNotFound, "candidate version "+test.CandidateID+" not found")
	}

	baseline := a.samples[testID][test.BaselineID]
	samples := a.samples[testID][test.CandidateID]
	return evaluateTest(test, candidate, baseline, samples, time.Now()), nil
}

// PromoteVersion implements Archive. The active pointer swap is atomic
// under the archive lock.
func (a *MemoryArchive) PromoteVersion(ctx context.Context, versionID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	version, ok := a.versions[versionID]
	if !ok {
		return types.NewError(types.ErrVersionNotFound, "version "+versionID+" not found")
	}

	if current := a.activeLocked(version.OrchestratorID); current != nil && current.ID != versionID {
		current.Status = types.VersionStatusRetired
		current.UpdatedAt = time.Now()
	}
	version.Status = types.VersionStatusActive
	version.UpdatedAt = time.Now()

	a.logger.Info("version promoted",
		zap.String("orchestrator_id", version.OrchestratorID),
		zap.String("version_id", versionID),
		zap.Int("version", version.Version))
	return nil
}

// EndABTest implements Archive.
func (a *MemoryArchive) EndABTest(ctx context.Context, testID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	test, ok := a.tests[testID]
	if !ok {
		return types.NewError(types.ErrTestNotFound, "test "+testID+" not found")
	}
	if test.Status == ABTestStatusEnded {
		return nil
	}
	test.Status = ABTestStatusEnded
	now := time.Now()
	test.EndedAt = &now

	// Candidate that was not promoted is retired.
	if candidate, ok := a.versions[test.CandidateID]; ok && candidate.Status == types.VersionStatusCandidate {
		candidate.Status = types.VersionStatusRetired
		candidate.UpdatedAt = now
	}

	a.logger.Info("ab test ended", zap.String("test_id", testID))
	return nil
}

// GetVersionHistory implements Archive. Newest first.
func (a *MemoryArchive) GetVersionHistory(ctx context.Context, orchestratorID string) ([]*types.OrchestratorVersion, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	a.mu.RLock()
	defer a.mu.RUnlock()

	ids := a.byOrch[orchestratorID]
	history := make([]*types.OrchestratorVersion, 0, len(ids))
	for _, id := range ids {
		history = append(history, copyVersion(a.versions[id]))
	}
	sort.Slice(history, func(i, j int) bool {
		return history[i].Version > history[j].Version
	})
	return history, nil
}

func (a *MemoryArchive) activeLocked(orchestratorID string) *types.OrchestratorVersion {
	for _, id := range a.byOrch[orchestratorID] {
		if a.versions[id].Status == types.VersionStatusActive {
			return a.versions[id]
		}
	}
	return nil
}

func (a *MemoryArchive) nextVersionLocked(orchestratorID string) int {
	next := 1
	for _, id := range a.byOrch[orchestratorID] {
		if v := a.versions[id].Version; v >= next {
			next = v + 1
		}
	}
	return next
}

func copyVersion(v *types.OrchestratorVersion) *types.OrchestratorVersion {
	copied := *v
	copied.Improvements = append([]string(nil), v.Improvements...)
	return &copied
}
