package memory

import (
	"math"
	"strings"
	"time"
	"unicode"
)

// ScoringConfig 组合评分配置。
// 权重与阈值是经验值，需要按部署校准，因此全部可配置。
type ScoringConfig struct {
	// SimilarityWeight 向量余弦相似度权重 (w1，默认占主导)
	SimilarityWeight float64 `yaml:"similarity_weight"`
	// KeywordWeight 词面重叠权重 (w2)
	KeywordWeight float64 `yaml:"keyword_weight"`
	// RecencyWeight 新近度衰减权重 (w3)
	RecencyWeight float64 `yaml:"recency_weight"`
	// ImportanceWeight 重要性权重 (w4)
	ImportanceWeight float64 `yaml:"importance_weight"`

	// RecencyHalfLife 新近度指数衰减半衰期
	RecencyHalfLife time.Duration `yaml:"recency_half_life"`

	// MinKeywordOverlap 词面重叠准入下限。
	// 相似度与词面重叠同时低于下限的记录被整体排除，
	// 防止记忆"漂移"到无关话题。
	MinKeywordOverlap float64 `yaml:"min_keyword_overlap"`
}

// DefaultScoringConfig 返回默认评分配置。
func DefaultScoringConfig() ScoringConfig {
	return ScoringConfig{
		SimilarityWeight:  0.55,
		KeywordWeight:     0.15,
		RecencyWeight:     0.15,
		ImportanceWeight:  0.15,
		RecencyHalfLife:   30 * 24 * time.Hour,
		MinKeywordOverlap: 0.2,
	}
}

// CosineSimilarity 计算余弦相似度；维度不一致或零向量返回 0。
func CosineSimilarity(a, b []float64) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// KeywordOverlap 计算查询词项在内容中出现的比例 (0-1)。
func KeywordOverlap(query, content string) float64 {
	queryTerms := tokenize(query)
	if len(queryTerms) == 0 {
		return 0
	}
	contentTerms := make(map[string]bool)
	for _, term := range tokenize(content) {
		contentTerms[term] = true
	}
	matched := 0
	for _, term := range queryTerms {
		if contentTerms[term] {
			matched++
		}
	}
	return float64(matched) / float64(len(queryTerms))
}

// RecencyDecay 计算新近度衰减因子: exp(-ln2 * age / halfLife)，单调递减。
func RecencyDecay(createdAt, now time.Time, halfLife time.Duration) float64 {
	if halfLife <= 0 {
		return 1
	}
	age := now.Sub(createdAt)
	if age <= 0 {
		return 1
	}
	return math.Exp(-math.Ln2 * float64(age) / float64(halfLife))
}

// Composite 计算组合得分:
// w1*similarity + w2*keywordOverlap + w3*recencyDecay + w4*importance。
func (c ScoringConfig) Composite(similarity, keywordOverlap float64, createdAt time.Time, importance int, now time.Time) float64 {
	recency := RecencyDecay(createdAt, now, c.RecencyHalfLife)
	imp := float64(ClampImportance(importance)-1) / 4.0
	return c.SimilarityWeight*similarity +
		c.KeywordWeight*keywordOverlap +
		c.RecencyWeight*recency +
		c.ImportanceWeight*imp
}

// Admissible 判断记录是否通过准入门槛。
// 相似度与词面重叠必须至少一项达标；否则即便新近度/重要性很高也排除。
// 无查询向量（关键词模式）时只看词面重叠。
func (c ScoringConfig) Admissible(similarity, keywordOverlap, minSimilarity float64, hasEmbedding bool) bool {
	if !hasEmbedding {
		return keywordOverlap >= c.MinKeywordOverlap
	}
	return similarity >= minSimilarity || keywordOverlap >= c.MinKeywordOverlap
}

// tokenize 分词：转小写，按非字母数字切分。
func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
}
