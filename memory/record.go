// Package memory 实现按用户隔离的会话记忆存储与混合检索。
//
// 存储为追加式：记录只通过 Append 写入，过期只做软删除（active=false），
// 正常运行期间不物理删除。
package memory

import (
	"crypto/sha256"
	"database/sql/driver"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"
)

// Vector 嵌入向量，按 JSON 存入数据库。
type Vector []float64

// Value 实现 driver.Valuer。
func (v Vector) Value() (driver.Value, error) {
	if v == nil {
		return nil, nil
	}
	return json.Marshal(v)
}

// Scan 实现 sql.Scanner。
func (v *Vector) Scan(value any) error {
	if value == nil {
		*v = nil
		return nil
	}
	switch data := value.(type) {
	case []byte:
		return json.Unmarshal(data, v)
	case string:
		return json.Unmarshal([]byte(data), v)
	default:
		return fmt.Errorf("unsupported vector column type %T", value)
	}
}

// Tags 字符串标签集合，按 JSON 存入数据库。
type Tags []string

// Value 实现 driver.Valuer。
func (t Tags) Value() (driver.Value, error) {
	if t == nil {
		return nil, nil
	}
	return json.Marshal(t)
}

// Scan 实现 sql.Scanner。
func (t *Tags) Scan(value any) error {
	if value == nil {
		*t = nil
		return nil
	}
	switch data := value.(type) {
	case []byte:
		return json.Unmarshal(data, t)
	case string:
		return json.Unmarshal([]byte(data), t)
	default:
		return fmt.Errorf("unsupported tags column type %T", value)
	}
}

// Contains 检查标签是否存在。
func (t Tags) Contains(tag string) bool {
	for _, v := range t {
		if v == tag {
			return true
		}
	}
	return false
}

// Record 一条会话记忆：一轮用户消息 + 系统回复，连同嵌入与相关性元数据。
type Record struct {
	ID             string    `gorm:"primaryKey;size:64" json:"id"`
	UserID         string    `gorm:"index:idx_user_active,priority:1;size:128;not null" json:"user_id"`
	ConversationID string    `gorm:"size:128" json:"conversation_id"`
	Content        string    `gorm:"type:text;not null" json:"content"`
	Embedding      Vector    `gorm:"type:text" json:"embedding,omitempty"`
	Importance     int       `gorm:"default:3" json:"importance"`
	TagList        Tags      `gorm:"column:tags;type:text" json:"tags,omitempty"`
	NaturalKey     string    `gorm:"uniqueIndex;size:64;not null" json:"natural_key"`
	CreatedAt      time.Time `json:"created_at"`
	ExpiresAt      time.Time `gorm:"index" json:"expires_at"`
	Active         bool      `gorm:"index:idx_user_active,priority:2;default:true" json:"active"`
}

// TableName 实现 gorm 表名约定。
func (Record) TableName() string { return "mf_memory_records" }

// ComputeNaturalKey 计算幂等自然键: sha256(user|conversation|message hash)。
// 相同自然键的重复 Append 只会存储一条记录。
func ComputeNaturalKey(userID, conversationID, message string) string {
	msgHash := sha256.Sum256([]byte(message))
	sum := sha256.Sum256([]byte(userID + "|" + conversationID + "|" + hex.EncodeToString(msgHash[:])))
	return hex.EncodeToString(sum[:])
}

// ClampImportance 将重要性约束到 1-5。
func ClampImportance(v int) int {
	if v < 1 {
		return 1
	}
	if v > 5 {
		return 5
	}
	return v
}

// ScoredRecord 带评分的检索命中。
type ScoredRecord struct {
	Record         Record  `json:"record"`
	Similarity     float64 `json:"similarity"`
	KeywordOverlap float64 `json:"keyword_overlap"`
	Composite      float64 `json:"composite"`
}

// RetrievalResult 单次检索的有序结果与聚合统计。请求级临时对象。
type RetrievalResult struct {
	Records       []ScoredRecord `json:"records"`
	Found         int            `json:"found"`
	MaxSimilarity float64        `json:"max_similarity"`
	QueryLatency  time.Duration  `json:"query_latency"`
}

// IDs 返回命中记录的 ID 列表（保持排序）。
func (r *RetrievalResult) IDs() []string {
	ids := make([]string, 0, len(r.Records))
	for _, sr := range r.Records {
		ids = append(ids, sr.Record.ID)
	}
	return ids
}
