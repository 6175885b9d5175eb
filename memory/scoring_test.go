package memory

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCosineSimilarity(t *testing.T) {
	tests := []struct {
		name string
		a, b []float64
		want float64
	}{
		{"identical", []float64{1, 2, 3}, []float64{1, 2, 3}, 1.0},
		{"orthogonal", []float64{1, 0}, []float64{0, 1}, 0.0},
		{"opposite", []float64{1, 0}, []float64{-1, 0}, -1.0},
		{"dimension mismatch", []float64{1, 2}, []float64{1, 2, 3}, 0.0},
		{"empty", nil, nil, 0.0},
		{"zero vector", []float64{0, 0}, []float64{1, 1}, 0.0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, CosineSimilarity(tt.a, tt.b), 1e-9)
		})
	}
}

func TestKeywordOverlap(t *testing.T) {
	tests := []struct {
		name    string
		query   string
		content string
		want    float64
	}{
		{"full overlap", "hiking boots", "I bought hiking boots yesterday", 1.0},
		{"half overlap", "hiking boots", "hiking is fun", 0.5},
		{"no overlap", "quantum physics", "I like cooking pasta", 0.0},
		{"case insensitive", "HIKING", "i went hiking", 1.0},
		{"punctuation split", "what's my name", "My name is Alice, what else?", 0.75},
		{"empty query", "", "anything", 0.0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, KeywordOverlap(tt.query, tt.content), 1e-9)
		})
	}
}

func TestRecencyDecay(t *testing.T) {
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	halfLife := 30 * 24 * time.Hour

	assert.InDelta(t, 1.0, RecencyDecay(now, now, halfLife), 1e-9)
	assert.InDelta(t, 0.5, RecencyDecay(now.Add(-halfLife), now, halfLife), 1e-9)
	assert.InDelta(t, 0.25, RecencyDecay(now.Add(-2*halfLife), now, halfLife), 1e-9)

	// 未来时间戳不放大
	assert.InDelta(t, 1.0, RecencyDecay(now.Add(time.Hour), now, halfLife), 1e-9)
	// 半衰期未配置时不衰减
	assert.InDelta(t, 1.0, RecencyDecay(now.Add(-365*24*time.Hour), now, 0), 1e-9)
}

func TestComposite_WeightsAndNormalization(t *testing.T) {
	cfg := DefaultScoringConfig()
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	// 全部分量拉满: sim=1, kw=1, 刚写入 (recency=1), importance=5 (归一化为 1)
	score := cfg.Composite(1, 1, now, 5, now)
	assert.InDelta(t, 1.0, score, 1e-9)

	// importance=1 归一化为 0
	score = cfg.Composite(1, 1, now, 1, now)
	assert.InDelta(t, 1.0-cfg.ImportanceWeight, score, 1e-9)

	// 相似度占主导
	simOnly := cfg.Composite(1, 0, now.Add(-100*365*24*time.Hour), 1, now)
	kwOnly := cfg.Composite(0, 1, now.Add(-100*365*24*time.Hour), 1, now)
	assert.Greater(t, simOnly, kwOnly)
}

func TestComposite_ClampsImportance(t *testing.T) {
	cfg := DefaultScoringConfig()
	now := time.Now()

	over := cfg.Composite(0, 0, now, 99, now)
	atMax := cfg.Composite(0, 0, now, 5, now)
	assert.InDelta(t, atMax, over, 1e-9)

	under := cfg.Composite(0, 0, now, -3, now)
	atMin := cfg.Composite(0, 0, now, 1, now)
	assert.InDelta(t, atMin, under, 1e-9)
}

func TestAdmissible(t *testing.T) {
	cfg := DefaultScoringConfig()

	// 向量模式：相似度或词面重叠任一达标即可
	assert.True(t, cfg.Admissible(0.7, 0.0, 0.6, true))
	assert.True(t, cfg.Admissible(0.1, 0.5, 0.6, true))
	assert.False(t, cfg.Admissible(0.1, 0.1, 0.6, true))

	// 关键词模式：只看词面重叠
	assert.True(t, cfg.Admissible(0.0, 0.2, 0.6, false))
	assert.False(t, cfg.Admissible(0.9, 0.1, 0.6, false))
}

func TestTokenize(t *testing.T) {
	assert.Equal(t, []string{"what", "s", "my", "name"}, tokenize("What's my name?"))
	assert.Empty(t, tokenize("!!! ... ---"))
}
