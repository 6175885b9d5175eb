// =============================================================================
// 📦 测试数据工厂 - 编排请求与记忆记录
// =============================================================================
// 提供预定义的编排请求和记忆记录，用于测试
// =============================================================================
package fixtures

import (
	"time"

	"github.com/BaSui01/mindflow/memory"
	"github.com/BaSui01/mindflow/types"
)

// =============================================================================
// 🎯 编排请求工厂
// =============================================================================

// SimpleRequest 返回一般类查询请求
func SimpleRequest(userID, message string) *types.OrchestrationRequest {
	return &types.OrchestrationRequest{
		UserID:         userID,
		ConversationID: "conv-001",
		Message:        message,
	}
}

// PersonalRequest 返回个人类查询请求
func PersonalRequest(userID, message string) *types.OrchestrationRequest {
	return &types.OrchestrationRequest{
		UserID:          userID,
		ConversationID:  "conv-001",
		Message:         message,
		IsPersonalQuery: true,
	}
}

// =============================================================================
// 🗂️ 记忆记录工厂
// =============================================================================

// MemoryRecord 返回一条活跃的记忆记录
func MemoryRecord(userID, content string, importance int) *memory.Record {
	return &memory.Record{
		UserID:         userID,
		ConversationID: "conv-001",
		Content:        content,
		Importance:     importance,
		NaturalKey:     memory.ComputeNaturalKey(userID, "conv-001", content),
		CreatedAt:      time.Now().Add(-time.Hour),
		ExpiresAt:      time.Now().Add(30 * 24 * time.Hour),
		Active:         true,
	}
}

// NameFactRecord 返回一条高重要性的名字事实记录
func NameFactRecord(userID, name string) *memory.Record {
	return MemoryRecord(userID, "User: my name is "+name+"\nAssistant: Nice to meet you, "+name+"!", 5)
}
