package pipeline

import (
	"bytes"
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/diet-analysis/internal/model"
	"github.com/sells-group/diet-analysis/internal/store"
)

var (
	report = bytes.NewReader([]byte("report"))
	label  = bytes.NewReader([]byte("label"))
)

func TestRun_ExtractsConcurrentlyThenAnalyzes(t *testing.T) {
	health := model.HealthRecord{"conditions": []any{"hypertension"}}
	ingredients := model.IngredientList{"salt", "sugar"}

	// Each extraction waits for the other to start; serial execution would
	// deadlock and trip the timeout.
	var started atomic.Int32
	waitBoth := func(mock.Arguments) {
		started.Add(1)
		deadline := time.Now().Add(2 * time.Second)
		for started.Load() < 2 && time.Now().Before(deadline) {
			time.Sleep(time.Millisecond)
		}
	}

	e := &mockExtractor{}
	e.On("ExtractHealthData", mock.Anything, report).Run(waitBoth).Return(health)
	e.On("ExtractIngredients", mock.Anything, label).Run(waitBoth).Return(ingredients)
	a := &mockAnalyzer{}
	a.On("Analyze", mock.Anything, health, ingredients).Return("Summary: watch sodium")

	res, err := New(e, a, nil).Run(context.Background(), report, label)
	require.NoError(t, err)
	assert.Equal(t, health, res.Health)
	assert.Equal(t, ingredients, res.Ingredients)
	assert.Equal(t, "Summary: watch sodium", res.Analysis)
	assert.Equal(t, int32(2), started.Load())
	e.AssertExpectations(t)
	a.AssertExpectations(t)
}

func TestRun_EmptyHealthStillAnalyzed(t *testing.T) {
	e := &mockExtractor{}
	e.On("ExtractHealthData", mock.Anything, report).Return(model.HealthRecord{})
	e.On("ExtractIngredients", mock.Anything, label).Return(model.IngredientList{"oats"})
	a := &mockAnalyzer{}
	a.On("Analyze", mock.Anything, model.HealthRecord{}, model.IngredientList{"oats"}).Return("ok")

	res, err := New(e, a, nil).Run(context.Background(), report, label)
	require.NoError(t, err)
	assert.Equal(t, "ok", res.Analysis)
}

func TestRun_NoIngredients(t *testing.T) {
	e := &mockExtractor{}
	e.On("ExtractHealthData", mock.Anything, report).Return(model.HealthRecord{"a": "b"})
	e.On("ExtractIngredients", mock.Anything, label).Return(model.IngredientList{})
	a := &mockAnalyzer{}

	res, err := New(e, a, nil).Run(context.Background(), report, label)
	assert.ErrorIs(t, err, ErrNoIngredients)
	require.NotNil(t, res)
	assert.Equal(t, model.HealthRecord{"a": "b"}, res.Health)
	a.AssertNotCalled(t, "Analyze", mock.Anything, mock.Anything, mock.Anything)
}

func TestRun_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	e := &mockExtractor{}
	e.On("ExtractHealthData", mock.Anything, report).Return(model.HealthRecord{})
	e.On("ExtractIngredients", mock.Anything, label).Return(model.IngredientList{})

	_, err := New(e, &mockAnalyzer{}, nil).Run(ctx, report, label)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestUploadHealthReport(t *testing.T) {
	rec := model.HealthRecord{"blood_sugar": "200 mg/dL"}
	e := &mockExtractor{}
	e.On("ExtractHealthData", mock.Anything, report).Return(rec)
	st := &mockStore{}
	st.On("SetHealthRecord", mock.Anything, "u1", rec).Return(nil)

	got, err := New(e, &mockAnalyzer{}, st).UploadHealthReport(context.Background(), "u1", report)
	require.NoError(t, err)
	assert.Equal(t, rec, got)
	st.AssertExpectations(t)
}

func TestUploadHealthReport_EmptyNotStored(t *testing.T) {
	e := &mockExtractor{}
	e.On("ExtractHealthData", mock.Anything, report).Return(model.HealthRecord{})
	st := &mockStore{}

	_, err := New(e, &mockAnalyzer{}, st).UploadHealthReport(context.Background(), "u1", report)
	assert.ErrorIs(t, err, ErrNoHealthData)
	st.AssertNotCalled(t, "SetHealthRecord", mock.Anything, mock.Anything, mock.Anything)
}

func TestUploadHealthReport_StoreFailure(t *testing.T) {
	e := &mockExtractor{}
	e.On("ExtractHealthData", mock.Anything, report).Return(model.HealthRecord{"a": "b"})
	st := &mockStore{}
	st.On("SetHealthRecord", mock.Anything, "u1", mock.Anything).Return(store.ErrStorageUnavailable)

	_, err := New(e, &mockAnalyzer{}, st).UploadHealthReport(context.Background(), "u1", report)
	assert.ErrorIs(t, err, store.ErrStorageUnavailable)
}

func TestAnalyzeForUser(t *testing.T) {
	health := model.HealthRecord{"conditions": []any{"gout"}}
	ingredients := model.IngredientList{"anchovy"}

	st := &mockStore{}
	st.On("GetHealthRecord", mock.Anything, "u1").Return(health, nil)
	st.On("SaveAnalysis", mock.Anything, mock.MatchedBy(func(r model.AnalysisRecord) bool {
		return r.UserID == "u1" && r.Analysis == "avoid purines" && len(r.Ingredients) == 1
	})).Return(&model.AnalysisRecord{ID: "a1"}, nil)
	e := &mockExtractor{}
	e.On("ExtractIngredients", mock.Anything, label).Return(ingredients)
	a := &mockAnalyzer{}
	a.On("Analyze", mock.Anything, health, ingredients).Return("avoid purines")

	res, err := New(e, a, st).AnalyzeForUser(context.Background(), "u1", label)
	require.NoError(t, err)
	assert.Equal(t, ingredients, res.Ingredients)
	assert.Equal(t, "avoid purines", res.Analysis)
	st.AssertExpectations(t)
}

func TestAnalyzeForUser_NoHealthRecord(t *testing.T) {
	st := &mockStore{}
	st.On("GetHealthRecord", mock.Anything, "u1").Return(nil, store.ErrNotFound)
	e := &mockExtractor{}

	_, err := New(e, &mockAnalyzer{}, st).AnalyzeForUser(context.Background(), "u1", label)
	assert.ErrorIs(t, err, store.ErrNotFound)
	e.AssertNotCalled(t, "ExtractIngredients", mock.Anything, mock.Anything)
}

func TestAnalyzeForUser_EmptyHealthRecord(t *testing.T) {
	st := &mockStore{}
	st.On("GetHealthRecord", mock.Anything, "u1").Return(model.HealthRecord{}, nil)

	_, err := New(&mockExtractor{}, &mockAnalyzer{}, st).AnalyzeForUser(context.Background(), "u1", label)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestAnalyzeForUser_NoIngredients(t *testing.T) {
	st := &mockStore{}
	st.On("GetHealthRecord", mock.Anything, "u1").Return(model.HealthRecord{"a": "b"}, nil)
	e := &mockExtractor{}
	e.On("ExtractIngredients", mock.Anything, label).Return(model.IngredientList{})
	a := &mockAnalyzer{}

	_, err := New(e, a, st).AnalyzeForUser(context.Background(), "u1", label)
	assert.ErrorIs(t, err, ErrNoIngredients)
	a.AssertNotCalled(t, "Analyze", mock.Anything, mock.Anything, mock.Anything)
}

func TestAnalyzeForUser_SaveFailureKeepsResult(t *testing.T) {
	st := &mockStore{}
	st.On("GetHealthRecord", mock.Anything, "u1").Return(model.HealthRecord{"a": "b"}, nil)
	st.On("SaveAnalysis", mock.Anything, mock.Anything).Return(nil, errors.New("disk full"))
	e := &mockExtractor{}
	e.On("ExtractIngredients", mock.Anything, label).Return(model.IngredientList{"salt"})
	a := &mockAnalyzer{}
	a.On("Analyze", mock.Anything, mock.Anything, mock.Anything).Return("text")

	res, err := New(e, a, st).AnalyzeForUser(context.Background(), "u1", label)
	require.NoError(t, err)
	assert.Equal(t, "text", res.Analysis)
}

func TestHistory(t *testing.T) {
	recs := []model.AnalysisRecord{{ID: "a2"}, {ID: "a1"}}
	st := &mockStore{}
	st.On("ListAnalyses", mock.Anything, "u1", 10).Return(recs, nil)

	got, err := New(&mockExtractor{}, &mockAnalyzer{}, st).History(context.Background(), "u1", 10)
	require.NoError(t, err)
	assert.Equal(t, recs, got)
}

func TestUserFlows_RequireStore(t *testing.T) {
	p := New(&mockExtractor{}, &mockAnalyzer{}, nil)
	_, err := p.UploadHealthReport(context.Background(), "u1", report)
	assert.Error(t, err)
	_, err = p.AnalyzeForUser(context.Background(), "u1", label)
	assert.Error(t, err)
	_, err = p.History(context.Background(), "u1", 1)
	assert.Error(t, err)
}
