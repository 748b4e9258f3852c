package scoring

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/bluesky-social/agora/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const statusKeyLastRun = "scoring.last_run"

// RunSummary describes one completed scoring run.
type RunSummary struct {
	RunID      string         `json:"runId"`
	EpochID    uint64         `json:"epochId"`
	StartedAt  time.Time      `json:"startedAt"`
	FinishedAt time.Time      `json:"finishedAt"`
	DurationMs int64          `json:"durationMs"`
	Weights    models.Weights `json:"weights"`

	Candidates int `json:"candidates"`
	Filtered   int `json:"filtered"`
	Failed     int `json:"failed"`
	Scored     int `json:"scored"`
	Published  int `json:"published"`
}

var ErrNoRun = errors.New("no scoring run recorded")

func saveRunSummary(ctx context.Context, db *gorm.DB, sum *RunSummary) error {
	raw, err := json.Marshal(sum)
	if err != nil {
		return err
	}
	row := models.SystemStatus{Key: statusKeyLastRun, Value: string(raw), UpdatedAt: sum.FinishedAt}
	return db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "status_key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&row).Error
}

// LastRun returns the summary of the most recent completed run.
func LastRun(ctx context.Context, db *gorm.DB) (*RunSummary, error) {
	var row models.SystemStatus
	if err := db.WithContext(ctx).Where("status_key = ?", statusKeyLastRun).First(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNoRun
		}
		return nil, err
	}
	var sum RunSummary
	if err := json.Unmarshal([]byte(row.Value), &sum); err != nil {
		return nil, fmt.Errorf("decoding run summary: %w", err)
	}
	return &sum, nil
}
