package testutil

import (
	"context"
	"testing"
	"time"

	types "github.com/yungbote/modmon/internal/domain"
	"gorm.io/gorm"
)

func SeedTeam(tb testing.TB, ctx context.Context, tx *gorm.DB, name string) *types.Team {
	tb.Helper()
	t := &types.Team{
		Name:         name,
		ContactName:  "A Person",
		ContactEmail: "a.person@example.org",
	}
	if err := tx.WithContext(ctx).Create(t).Error; err != nil {
		tb.Fatalf("seed team: %v", err)
	}
	return t
}

func SeedModel(tb testing.TB, ctx context.Context, tx *gorm.DB, id int64, team, name string) *types.Model {
	tb.Helper()
	q := &types.ResearchQuestion{ID: id, Description: "question " + name}
	if err := tx.WithContext(ctx).Create(q).Error; err != nil {
		tb.Fatalf("seed question: %v", err)
	}
	m := &types.Model{
		ID:         id,
		TeamName:   team,
		QuestionID: q.ID,
		Name:       name,
	}
	if err := tx.WithContext(ctx).Create(m).Error; err != nil {
		tb.Fatalf("seed model: %v", err)
	}
	return m
}

func SeedDataset(tb testing.TB, ctx context.Context, tx *gorm.DB, id int64, database string, start, end time.Time) *types.Dataset {
	tb.Helper()
	ds := &types.Dataset{
		ID:           id,
		DatabaseName: &database,
		Description:  "seeded",
		StartDate:    &start,
		EndDate:      &end,
	}
	if err := tx.WithContext(ctx).Create(ds).Error; err != nil {
		tb.Fatalf("seed dataset: %v", err)
	}
	return ds
}

func SeedModelVersion(tb testing.TB, ctx context.Context, tx *gorm.DB, modelID int64, version string, active bool, location string) *types.ModelVersion {
	tb.Helper()
	mv := &types.ModelVersion{
		ModelID:           modelID,
		Version:           version,
		TrainingDatasetID: 1,
		TestDatasetID:     1,
		Location:          location,
		ScoreCommand:      "python " + ScoreScript + " <start_date> <end_date> <database>",
		PredictCommand:    "python " + PredictScript + " <start_date> <end_date> <database>",
		RetrainCommand:    "python " + TrainScript + " <start_date> <end_date> <database>",
		Active:            active,
		CreatedAt:         time.Now().UTC(),
	}
	if err := tx.WithContext(ctx).Create(mv).Error; err != nil {
		tb.Fatalf("seed model version: %v", err)
	}
	return mv
}
