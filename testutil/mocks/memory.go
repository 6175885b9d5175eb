package mocks

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/BaSui01/mindflow/memory"
)

// MockStore 是 memory.Store 的内存模拟实现。
// 保留自然键幂等语义；检索评分使用与生产实现相同的评分函数。
type MockStore struct {
	mu      sync.Mutex
	records map[string]*memory.Record // by natural key
	scoring memory.ScoringConfig

	appendErr error
	queryErr  error
}

// NewMockStore 创建新的 MockStore
func NewMockStore() *MockStore {
	return &MockStore{
		records: make(map[string]*memory.Record),
		scoring: memory.DefaultScoringConfig(),
	}
}

// WithAppendError 注入 Append 错误
func (s *MockStore) WithAppendError(err error) *MockStore {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.appendErr = err
	return s
}

// WithQueryError 注入 Query 错误
func (s *MockStore) WithQueryError(err error) *MockStore {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queryErr = err
	return s
}

// Append 实现 memory.Store
func (s *MockStore) Append(ctx context.Context, record *memory.Record) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.appendErr != nil {
		return "", s.appendErr
	}
	key := record.NaturalKey
	if key == "" {
		key = memory.ComputeNaturalKey(record.UserID, record.ConversationID, record.Content)
	}
	if existing, ok := s.records[key]; ok {
		return existing.ID, nil
	}
	r := *record
	r.NaturalKey = key
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}
	r.Active = true
	s.records[r.NaturalKey] = &r
	return r.ID, nil
}

// Query 实现 memory.Store
func (s *MockStore) Query(ctx context.Context, input memory.QueryInput) (*memory.RetrievalResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.queryErr != nil {
		return nil, s.queryErr
	}

	now := time.Now()
	result := &memory.RetrievalResult{}
	for _, r := range s.records {
		if r.UserID != input.UserID || !r.Active {
			continue
		}
		sim := memory.CosineSimilarity(input.Embedding, r.Embedding)
		kw := memory.KeywordOverlap(input.Text, r.Content)
		if sim > result.MaxSimilarity {
			result.MaxSimilarity = sim
		}
		if !s.scoring.Admissible(sim, kw, input.MinSimilarity, len(input.Embedding) > 0) {
			continue
		}
		result.Records = append(result.Records, memory.ScoredRecord{
			Record:         *r,
			Similarity:     sim,
			KeywordOverlap: kw,
			Composite:      s.scoring.Composite(sim, kw, r.CreatedAt, r.Importance, now),
		})
	}

	sort.Slice(result.Records, func(i, j int) bool {
		return result.Records[i].Composite > result.Records[j].Composite
	})
	// Found 统计截断前的命中数，与生产存储保持一致
	result.Found = len(result.Records)
	if input.Limit > 0 && len(result.Records) > input.Limit {
		result.Records = result.Records[:input.Limit]
	}
	return result, nil
}

// SweepExpired 实现 memory.Store
func (s *MockStore) SweepExpired(ctx context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, r := range s.records {
		if r.Active && !r.ExpiresAt.IsZero() && r.ExpiresAt.Before(before) {
			r.Active = false
			n++
		}
	}
	return n, nil
}

// Count 返回当前存储的记录数
func (s *MockStore) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

// Records 返回全部记录副本
func (s *MockStore) Records() []memory.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]memory.Record, 0, len(s.records))
	for _, r := range s.records {
		out = append(out, *r)
	}
	return out
}
