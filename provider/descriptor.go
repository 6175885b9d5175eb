package provider

import "fmt"

// Descriptor 描述一个已配置后端的静态属性。
// 注册后不可变；运行期状态全部保存在 HealthStatus 中。
type Descriptor struct {
	// ID 后端唯一标识
	ID string `json:"id"`

	// Capabilities 声明的能力集合
	Capabilities []Capability `json:"capabilities"`

	// CostTier 成本档位（1 最低）
	CostTier int `json:"cost_tier"`

	// RateLimitPerMin 声明的速率上限（每分钟请求数，0 表示无限制）
	RateLimitPerMin int `json:"rate_limit_per_min"`

	// PriorityWeight 优先级权重（越大越优先）
	PriorityWeight float64 `json:"priority_weight"`
}

// Validate 校验描述符。
func (d *Descriptor) Validate() error {
	if d.ID == "" {
		return fmt.Errorf("descriptor id is required")
	}
	if len(d.Capabilities) == 0 {
		return fmt.Errorf("descriptor %s declares no capabilities", d.ID)
	}
	if d.PriorityWeight < 0 {
		return fmt.Errorf("descriptor %s has negative priority weight", d.ID)
	}
	return nil
}

// HasCapability 检查是否声明了指定能力。
func (d *Descriptor) HasCapability(c Capability) bool {
	for _, cap := range d.Capabilities {
		if cap == c {
			return true
		}
	}
	return false
}
