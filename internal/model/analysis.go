package model

import "time"

// Result is the output of one full pipeline pass.
type Result struct {
	Health      HealthRecord   `json:"health_data" yaml:"health_data"`
	Ingredients IngredientList `json:"ingredients" yaml:"ingredients"`
	Analysis    string         `json:"analysis" yaml:"analysis"`
}

// AnalysisRecord is a persisted analysis for a user.
type AnalysisRecord struct {
	ID          string         `json:"id"`
	UserID      string         `json:"user_id"`
	Ingredients IngredientList `json:"ingredients"`
	Analysis    string         `json:"analysis"`
	CreatedAt   time.Time      `json:"created_at"`
}
