package archive

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/nakamura-labs/kaizen/types"
)

// versionRecord is the gorm row for one orchestrator version. Config,
// metrics, and improvements are stored as JSON so the schema stays stable
// as the config struct grows.
type versionRecord struct {
	ID             string `gorm:"primaryKey"`
	OrchestratorID string `gorm:"index"`
	Version        int
	Status         string `gorm:"index"`
	ConfigJSON     string
	MetricsJSON    string
	Improvements   string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

func (versionRecord) TableName() string { return "orchestrator_versions" }

type abTestRecord struct {
	ID              string `gorm:"primaryKey"`
	OrchestratorID  string `gorm:"index"`
	CandidateID     string
	BaselineID      string
	TrafficSplit    float64
	MinSampleSize   int
	MaxDurationDays int
	Status          string
	StartedAt       time.Time
	EndedAt         *time.Time
}

func (abTestRecord) TableName() string { return "ab_tests" }

type sampleRecord struct {
	ID        uint   `gorm:"primaryKey;autoIncrement"`
	TestID    string `gorm:"index"`
	VersionID string `gorm:"index"`
	Score     float64
	CreatedAt time.Time
}

func (sampleRecord) TableName() string { return "ab_test_samples" }

// SQLArchive is a gorm-backed Archive using an embedded sqlite database.
// Suitable for single-node production deployments.
type SQLArchive struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewSQLArchive opens (or creates) the sqlite database at path and
// migrates the schema. Use ":memory:" for tests.
func NewSQLArchive(path string, logger *zap.Logger) (*SQLArchive, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("open archive database: %w", err)
	}
	if err := db.AutoMigrate(&versionRecord{}, &abTestRecord{}, &sampleRecord{}); err != nil {
		return nil, fmt.Errorf("migrate archive schema: %w", err)
	}
	return &SQLArchive{
		db:     db,
		logger: logger.With(zap.String("component", "version_archive_sql")),
	}, nil
}

// EnsureOrchestrator implements Archive.
func (a *SQLArchive) EnsureOrchestrator(ctx context.Context, orchestratorID string, config types.OrchestratorConfig) (*types.OrchestratorVersion, error) {
	var out *types.OrchestratorVersion
	err := a.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var rec versionRecord
		err := tx.Where("orchestrator_id = ? AND status = ?", orchestratorID, types.VersionStatusActive).
			First(&rec).Error
		if err == nil {
			out, err = recordToVersion(&rec)
			return err
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		version := &types.OrchestratorVersion{
			ID:             uuid.NewString(),
			OrchestratorID: orchestratorID,
			Version:        1,
			Status:         types.VersionStatusActive,
			Config:         config,
			CreatedAt:      time.Now(),
			UpdatedAt:      time.Now(),
		}
		newRec, err := versionToRecord(version)
		if err != nil {
			return err
		}
		if err := tx.Create(newRec).Error; err != nil {
			return err
		}
		out = version
		a.logger.Info("orchestrator bootstrapped",
			zap.String("orchestrator_id", orchestratorID),
			zap.String("version_id", version.ID))
		return nil
	})
	return out, err
}

// GetActiveVersion implements Archive.
func (a *SQLArchive) GetActiveVersion(ctx context.Context, orchestratorID string) (*types.OrchestratorVersion, error) {
	var rec versionRecord
	err := a.db.WithContext(ctx).
		Where("orchestrator_id = ? AND status = ?", orchestratorID, types.VersionStatusActive).
		First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, types.NewError(types.ErrNoActiveVersion, "no active version for orchestrator "+orchestratorID)
	}
	if err != nil {
		return nil, err
	}
	return recordToVersion(&rec)
}

// CreateNewVersion implements Archive.
func (a *SQLArchive) CreateNewVersion(ctx context.Context, orchestratorID string, req CreateVersionRequest) (*types.OrchestratorVersion, error) {
	var out *types.OrchestratorVersion
	err := a.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var maxVersion int
		if err := tx.Model(&versionRecord{}).
			Where("orchestrator_id = ?", orchestratorID).
			Select("COALESCE(MAX(version), 0)").
			Scan(&maxVersion).Error; err != nil {
			return err
		}

		version := &types.OrchestratorVersion{
			ID:             uuid.NewString(),
			OrchestratorID: orchestratorID,
			Version:        maxVersion + 1,
			Status:         types.VersionStatusDraft,
			Config:         req.Config,
			Improvements:   req.Improvements,
			CreatedAt:      time.Now(),
			UpdatedAt:      time.Now(),
		}
		rec, err := versionToRecord(version)
		if err != nil {
			return err
		}
		if err := tx.Create(rec).Error; err != nil {
			return err
		}
		out = version
		return nil
	})
	if err != nil {
		return nil, err
	}
	a.logger.Info("version created",
		zap.String("orchestrator_id", orchestratorID),
		zap.String("version_id", out.ID),
		zap.Int("version", out.Version))
	return out, nil
}

// StartABTest implements Archive.
func (a *SQLArchive) StartABTest(ctx context.Context, candidateID, baselineID string, cfg ABTestConfig) (*ABTest, error) {
	var test *ABTest
	err := a.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var candidate versionRecord
		if err := tx.First(&candidate, "id = ?", candidateID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return types.NewError(types.ErrVersionNotFound, "candidate version "+candidateID+" not found")
			}
			return err
		}
		var baselineCount int64
		if err := tx.Model(&versionRecord{}).Where("id = ?", baselineID).Count(&baselineCount).Error; err != nil {
			return err
		}
		if baselineCount == 0 {
			return types.NewError(types.ErrVersionNotFound, "baseline version "+baselineID+" not found")
		}

		var existing int64
		if err := tx.Model(&versionRecord{}).
			Where("orchestrator_id = ? AND status = ?", candidate.OrchestratorID, types.VersionStatusCandidate).
			Count(&existing).Error; err != nil {
			return err
		}
		if existing > 0 {
			return types.NewError(types.ErrCandidateExists,
				"orchestrator "+candidate.OrchestratorID+" already has a candidate under test")
		}

		if err := tx.Model(&versionRecord{}).Where("id = ?", candidateID).
			Updates(map[string]any{"status": string(types.VersionStatusCandidate), "updated_at": time.Now()}).Error; err != nil {
			return err
		}

		rec := abTestRecord{
			ID:              uuid.NewString(),
			OrchestratorID:  candidate.OrchestratorID,
			CandidateID:     candidateID,
			BaselineID:      baselineID,
			TrafficSplit:    cfg.TrafficSplit,
			MinSampleSize:   cfg.MinSampleSize,
			MaxDurationDays: cfg.MaxDurationDays,
			Status:          string(ABTestStatusRunning),
			StartedAt:       time.Now(),
		}
		if err := tx.Create(&rec).Error; err != nil {
			return err
		}
		test = recordToTest(&rec)
		return nil
	})
	if err != nil {
		return nil, err
	}
	a.logger.Info("ab test started",
		zap.String("test_id", test.ID),
		zap.String("candidate_id", candidateID),
		zap.Float64("traffic_split", cfg.TrafficSplit))
	return test, nil
}

// RecordSample implements Archive.
func (a *SQLArchive) RecordSample(ctx context.Context, testID, versionID string, score float64) error {
	var count int64
	if err := a.db.WithContext(ctx).Model(&abTestRecord{}).Where("id = ?", testID).Count(&count).Error; err != nil {
		return err
	}
	if count == 0 {
		return types.NewError(types.ErrTestNotFound, "test "+testID+" not found")
	}
	return a.db.WithContext(ctx).Create(&sampleRecord{
		TestID:    testID,
		VersionID: versionID,
		Score:     score,
		CreatedAt: time.Now(),
	}).Error
}

// EvaluateABTest implements Archive.
func (a *SQLArchive) EvaluateABTest(ctx context.Context, testID string) (*TestEvaluation, error) {
	var rec abTestRecord
	if err := a.db.WithContext(ctx).First(&rec, "id = ?", testID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, types.NewError(types.ErrTestNotFound, "test "+testID+" not found")
		}
		return nil, err
	}
	var candidateRec versionRecord
	if err := a.db.WithContext(ctx).First(&candidateRec, "id = ?", rec.CandidateID).Error; err != nil {
		return nil, err
	}
	candidate, err := recordToVersion(&candidateRec)
	if err != nil {
		return nil, err
	}

	baseline, err := a.scores(ctx, testID, rec.BaselineID)
	if err != nil {
		return nil, err
	}
	samples, err := a.scores(ctx, testID, rec.CandidateID)
	if err != nil {
		return nil, err
	}
	return evaluateTest(recordToTest(&rec), candidate, baseline, samples, time.Now()), nil
}

// PromoteVersion implements Archive.
func (a *SQLArchive) PromoteVersion(ctx context.Context, versionID string) error {
	err := a.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var rec versionRecord
		if err := tx.First(&rec, "id = ?", versionID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return types.NewError(types.ErrVersionNotFound, "version "+versionID+" not found")
			}
			return err
		}

		now := time.Now()
		if err := tx.Model(&versionRecord{}).
			Where("orchestrator_id = ? AND status = ? AND id <> ?", rec.OrchestratorID, types.VersionStatusActive, versionID).
			Updates(map[string]any{"status": string(types.VersionStatusRetired), "updated_at": now}).Error; err != nil {
			return err
		}
		return tx.Model(&versionRecord{}).Where("id = ?", versionID).
			Updates(map[string]any{"status": string(types.VersionStatusActive), "updated_at": now}).Error
	})
	if err != nil {
		return err
	}
	a.logger.Info("version promoted", zap.String("version_id", versionID))
	return nil
}

// EndABTest implements Archive.
func (a *SQLArchive) EndABTest(ctx context.Context, testID string) error {
	return a.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var rec abTestRecord
		if err := tx.First(&rec, "id = ?", testID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return types.NewError(types.ErrTestNotFound, "test "+testID+" not found")
			}
			return err
		}
		if rec.Status == string(ABTestStatusEnded) {
			return nil
		}

		now := time.Now()
		if err := tx.Model(&abTestRecord{}).Where("id = ?", testID).
			Updates(map[string]any{"status": string(ABTestStatusEnded), "ended_at": now}).Error; err != nil {
			return err
		}
		// Candidate that was not promoted is retired.
		return tx.Model(&versionRecord{}).
			Where("id = ? AND status = ?", rec.CandidateID, types.VersionStatusCandidate).
			Updates(map[string]any{"status": string(types.VersionStatusRetired), "updated_at": now}).Error
	})
}

// GetVersionHistory implements Archive. Newest first.
func (a *SQLArchive) GetVersionHistory(ctx context.Context, orchestratorID string) ([]*types.OrchestratorVersion, error) {
	var recs []versionRecord
	if err := a.db.WithContext(ctx).
		Where("orchestrator_id = ?", orchestratorID).
		Order("version DESC").
		Find(&recs).Error; err != nil {
		return nil, err
	}
	history := make([]*types.OrchestratorVersion, 0, len(recs))
	for i := range recs {
		v, err := recordToVersion(&recs[i])
		if err != nil {
			return nil, err
		}
		history = append(history, v)
	}
	return history, nil
}

func (a *SQLArchive) scores(ctx context.Context, testID, versionID string) ([]float64, error) {
	var scores []float64
	err := a.db.WithContext(ctx).Model(&sampleRecord{}).
		Where("test_id = ? AND version_id = ?", testID, versionID).
		Order("id").
		Pluck("score", &scores).Error
	return scores, err
}

func versionToRecord(v *types.OrchestratorVersion) (*versionRecord, error) {
	configJSON, err := json.Marshal(v.Config)
	if err != nil {
		return nil, fmt.Errorf("marshal version config: %w", err)
	}
	metricsJSON, err := json.Marshal(v.Metrics)
	if err != nil {
		return nil, fmt.Errorf("marshal version metrics: %w", err)
	}
	improvements, err := json.Marshal(v.Improvements)
	if err != nil {
		return nil, fmt.Errorf("marshal version improvements: %w", err)
	}
	return &versionRecord{
		ID:             v.ID,
		OrchestratorID: v.OrchestratorID,
		Version:        v.Version,
		Status:         string(v.Status),
		ConfigJSON:     string(configJSON),
		MetricsJSON:    string(metricsJSON),
		Improvements:   string(improvements),
		CreatedAt:      v.CreatedAt,
		UpdatedAt:      v.UpdatedAt,
	}, nil
}

func recordToVersion(rec *versionRecord) (*types.OrchestratorVersion, error) {
	v := &types.OrchestratorVersion{
		ID:             rec.ID,
		OrchestratorID: rec.OrchestratorID,
		Version:        rec.Version,
		Status:         types.VersionStatus(rec.Status),
		CreatedAt:      rec.CreatedAt,
		UpdatedAt:      rec.UpdatedAt,
	}
	if err := json.Unmarshal([]byte(rec.ConfigJSON), &v.Config); err != nil {
		return nil, fmt.Errorf("unmarshal version config: %w", err)
	}
	if rec.MetricsJSON != "" {
		if err := json.Unmarshal([]byte(rec.MetricsJSON), &v.Metrics); err != nil {
			return nil, fmt.Errorf("unmarshal version metrics: %w", err)
		}
	}
	if rec.Improvements != "" {
		if err := json.Unmarshal([]byte(rec.Improvements), &v.Improvements); err != nil {
			return nil, fmt.Errorf("unmarshal version improvements: %w", err)
		}
	}
	return v, nil
}

func recordToTest(rec *abTestRecord) *ABTest {
	return &ABTest{
		ID:             rec.ID,
		OrchestratorID: rec.OrchestratorID,
		CandidateID:    rec.CandidateID,
		BaselineID:     rec.BaselineID,
		Config: ABTestConfig{
			TrafficSplit:    rec.TrafficSplit,
			MinSampleSize:   rec.MinSampleSize,
			MaxDurationDays: rec.MaxDurationDays,
		},
		Status:    ABTestStatus(rec.Status),
		StartedAt: rec.StartedAt,
		EndedAt:   rec.EndedAt,
	}
}
