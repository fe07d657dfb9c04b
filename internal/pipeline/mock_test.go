package pipeline

import (
	"context"
	"io"

	"github.com/stretchr/testify/mock"

	"github.com/sells-group/diet-analysis/internal/model"
)

type mockExtractor struct {
	mock.Mock
}

func (m *mockExtractor) ExtractHealthData(ctx context.Context, r io.ReadSeeker) model.HealthRecord {
	args := m.Called(ctx, r)
	return args.Get(0).(model.HealthRecord)
}

func (m *mockExtractor) ExtractIngredients(ctx context.Context, r io.ReadSeeker) model.IngredientList {
	args := m.Called(ctx, r)
	return args.Get(0).(model.IngredientList)
}

type mockAnalyzer struct {
	mock.Mock
}

func (m *mockAnalyzer) Analyze(ctx context.Context, h model.HealthRecord, i model.IngredientList) string {
	args := m.Called(ctx, h, i)
	return args.String(0)
}

type mockStore struct {
	mock.Mock
}

func (m *mockStore) GetHealthRecord(ctx context.Context, uid string) (model.HealthRecord, error) {
	args := m.Called(ctx, uid)
	rec, _ := args.Get(0).(model.HealthRecord)
	return rec, args.Error(1)
}

func (m *mockStore) SetHealthRecord(ctx context.Context, uid string, rec model.HealthRecord) error {
	return m.Called(ctx, uid, rec).Error(0)
}

func (m *mockStore) SaveAnalysis(ctx context.Context, rec model.AnalysisRecord) (*model.AnalysisRecord, error) {
	args := m.Called(ctx, rec)
	out, _ := args.Get(0).(*model.AnalysisRecord)
	return out, args.Error(1)
}

func (m *mockStore) ListAnalyses(ctx context.Context, uid string, limit int) ([]model.AnalysisRecord, error) {
	args := m.Called(ctx, uid, limit)
	out, _ := args.Get(0).([]model.AnalysisRecord)
	return out, args.Error(1)
}

func (m *mockStore) Migrate(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *mockStore) Close() error {
	return m.Called().Error(0)
}
