package reminder

import (
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		days int
		want Stage
	}{
		{365, StageFarFuture},
		{21, StageFarFuture},
		{20, StageNone},
		{10, StageNone},
		{4, StageNone},
		{3, StageH3},
		{2, StageH2},
		{1, StageH1},
		{0, StageH0},
		{-1, StageH0},
		{-40, StageH0},
	}
	var c Classifier
	for _, tt := range tests {
		assert.Equal(t, tt.want, c.Classify(tt.days), "days_left=%d", tt.days)
	}

	wide := Classifier{RenewalThreshold: 30}
	assert.Equal(t, StageNone, wide.Classify(25))
	assert.Equal(t, StageFarFuture, wide.Classify(31))
}

func TestDateMath(t *testing.T) {
	a, err := ParseDate("2024-02-28")
	require.NoError(t, err)
	b, err := ParseDate("2024-03-01")
	require.NoError(t, err)
	assert.Equal(t, 2, a.DaysUntil(b))
	assert.Equal(t, -2, b.DaysUntil(a))
	assert.Equal(t, b, a.AddDays(2))
	assert.Equal(t, "2024-02-28", a.String())
	assert.True(t, a.Before(b))
	assert.True(t, Date{}.IsZero())
	assert.Equal(t, "", Date{}.String())

	_, err = ParseDate("28/02/2024")
	assert.Error(t, err)
}

func TestTodayUsesLocation(t *testing.T) {
	jakarta, err := time.LoadLocation("Asia/Jakarta")
	require.NoError(t, err)
	now := time.Date(2026, 10, 18, 20, 0, 0, 0, time.UTC)
	assert.Equal(t, Date{2026, time.October, 19}, Today(now, jakarta))
	assert.Equal(t, Date{2026, time.October, 18}, Today(now, time.UTC))
}

func TestParseStage(t *testing.T) {
	assert.Equal(t, StageH1, ParseStage("h1"))
	assert.Equal(t, Stage(""), ParseStage(""))
	assert.Equal(t, Stage(""), ParseStage("h9"))
	assert.True(t, StageH0.IsBucket())
	assert.False(t, StageFarFuture.IsBucket())
}

func TestCadenceWithMax(t *testing.T) {
	base := DefaultCadence()
	c := base.WithMax(StageH1, 3)
	assert.Equal(t, 3, c.Max(StageH1))
	assert.Equal(t, 5, base.Max(StageH1), "original must not change")
	assert.Equal(t, 8, c.WithMax(StageH0, 0).Max(StageH0))
	_, ok := c.Policy(StageNone)
	assert.False(t, ok)
}
