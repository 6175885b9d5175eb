package memory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/BaSui01/mindflow/types"
)

// GormStoreConfig 存储配置。
type GormStoreConfig struct {
	// Scoring 组合评分配置
	Scoring ScoringConfig `yaml:"scoring"`
	// Retention 记录保留时长（ExpiresAt 缺省值；经验值，可配置）
	Retention time.Duration `yaml:"retention"`
	// ScanLimit 单次检索扫描的候选记录上限（按创建时间倒序取最近 N 条）
	ScanLimit int `yaml:"scan_limit"`
}

// DefaultGormStoreConfig 返回默认存储配置。
func DefaultGormStoreConfig() GormStoreConfig {
	return GormStoreConfig{
		Scoring:   DefaultScoringConfig(),
		Retention: 8 * 30 * 24 * time.Hour,
		ScanLimit: 500,
	}
}

// GormStore 基于 gorm 的记忆存储实现。
// 检索先按用户取活跃候选集，再在进程内做混合评分排序，
// 对每用户数千条记录的规模足够。
type GormStore struct {
	db     *gorm.DB
	config GormStoreConfig
	now    func() time.Time
	logger *zap.Logger

	// 每用户写锁：同一用户的并发 Append 串行化，避免丢失更新；
	// 读不加锁，检索接受最终一致。
	userMu sync.Map // userID -> *sync.Mutex
}

// NewGormStore 创建存储并迁移表结构。
func NewGormStore(db *gorm.DB, config GormStoreConfig, logger *zap.Logger) (*GormStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.ScanLimit <= 0 {
		config.ScanLimit = 500
	}
	if config.Retention <= 0 {
		config.Retention = 8 * 30 * 24 * time.Hour
	}
	if config.Scoring.SimilarityWeight <= 0 {
		config.Scoring = DefaultScoringConfig()
	}
	if err := db.AutoMigrate(&Record{}); err != nil {
		return nil, fmt.Errorf("migrate memory records: %w", err)
	}
	return &GormStore{
		db:     db,
		config: config,
		now:    time.Now,
		logger: logger.With(zap.String("component", "memory_store")),
	}, nil
}

var _ Store = (*GormStore)(nil)

// Append 实现 Store.Append。
// 相同自然键幂等：重复写入返回已存在记录的 ID，不产生新行。
func (s *GormStore) Append(ctx context.Context, record *Record) (string, error) {
	if record == nil {
		return "", fmt.Errorf("record is nil")
	}
	if record.UserID == "" {
		return "", fmt.Errorf("record user id is required")
	}
	if record.Content == "" {
		return "", fmt.Errorf("record content is required")
	}

	now := s.now()
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	if record.NaturalKey == "" {
		record.NaturalKey = ComputeNaturalKey(record.UserID, record.ConversationID, record.Content)
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = now
	}
	if record.ExpiresAt.IsZero() {
		record.ExpiresAt = now.Add(s.config.Retention)
	}
	record.Importance = ClampImportance(record.Importance)
	record.Active = true

	mu := s.lockUser(record.UserID)
	mu.Lock()
	defer mu.Unlock()

	// 幂等检查：自然键命中直接返回已有记录
	var existing Record
	err := s.db.WithContext(ctx).
		Select("id").
		Where("natural_key = ?", record.NaturalKey).
		First(&existing).Error
	if err == nil {
		s.logger.Debug("append deduplicated by natural key",
			zap.String("user_id", record.UserID),
			zap.String("record_id", existing.ID))
		return existing.ID, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return "", s.storeError("append lookup", err)
	}

	if err := s.db.WithContext(ctx).Create(record).Error; err != nil {
		return "", s.storeError("append create", err)
	}

	s.logger.Debug("memory record appended",
		zap.String("user_id", record.UserID),
		zap.String("record_id", record.ID),
		zap.Int("importance", record.Importance))
	return record.ID, nil
}

// Query 实现 Store.Query。
func (s *GormStore) Query(ctx context.Context, input QueryInput) (*RetrievalResult, error) {
	if input.UserID == "" {
		return nil, fmt.Errorf("query user id is required")
	}
	if input.Limit <= 0 {
		input.Limit = 5
	}

	start := s.now()
	var candidates []Record
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND active = ?", input.UserID, true).
		Order("created_at DESC").
		Limit(s.config.ScanLimit).
		Find(&candidates).Error
	if err != nil {
		return nil, s.storeError("query", err)
	}

	hasEmbedding := len(input.Embedding) > 0
	scored := make([]ScoredRecord, 0, len(candidates))
	maxSim := 0.0

	for _, rec := range candidates {
		sim := 0.0
		if hasEmbedding {
			sim = CosineSimilarity(input.Embedding, rec.Embedding)
		}
		kw := KeywordOverlap(input.Text, rec.Content)

		if !s.config.Scoring.Admissible(sim, kw, input.MinSimilarity, hasEmbedding) {
			continue
		}

		if sim > maxSim {
			maxSim = sim
		}
		scored = append(scored, ScoredRecord{
			Record:         rec,
			Similarity:     sim,
			KeywordOverlap: kw,
			Composite:      s.config.Scoring.Composite(sim, kw, rec.CreatedAt, rec.Importance, start),
		})
	}

	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].Composite > scored[j].Composite
	})

	found := len(scored)
	if len(scored) > input.Limit {
		scored = scored[:input.Limit]
	}

	return &RetrievalResult{
		Records:       scored,
		Found:         found,
		MaxSimilarity: maxSim,
		QueryLatency:  s.now().Sub(start),
	}, nil
}

// SweepExpired 实现 Store.SweepExpired。
func (s *GormStore) SweepExpired(ctx context.Context, before time.Time) (int64, error) {
	res := s.db.WithContext(ctx).
		Model(&Record{}).
		Where("active = ? AND expires_at < ?", true, before).
		Update("active", false)
	if res.Error != nil {
		return 0, s.storeError("sweep", res.Error)
	}
	if res.RowsAffected > 0 {
		s.logger.Info("expired memory records deactivated",
			zap.Int64("count", res.RowsAffected))
	}
	return res.RowsAffected, nil
}

func (s *GormStore) lockUser(userID string) *sync.Mutex {
	v, _ := s.userMu.LoadOrStore(userID, &sync.Mutex{})
	return v.(*sync.Mutex)
}

func (s *GormStore) storeError(op string, err error) error {
	return types.NewError(types.ErrMemoryUnavailable, "memory store "+op+" failed").WithCause(err)
}

// SetNowFunc 注入时钟，用于测试。
func (s *GormStore) SetNowFunc(now func() time.Time) { s.now = now }
