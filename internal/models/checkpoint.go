package models

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"
)

// RateState 速率控制器可持久化状态
// delay = base_delay * backoff_factor^level,base_delay/backoff_factor
// 属于配置,不随检查点保存
type RateState struct {
	Level                int `json:"level"`                 // 当前退避等级
	ConsecutiveSuccesses int `json:"consecutive_successes"` // 连续成功计数
}

// CheckpointSnapshot 爬取进度快照
// 任务开始时创建空快照,每处理完一页后更新,启动时加载;
// 指纹与当前任务不匹配时视为不存在(冷启动,不是错误)
type CheckpointSnapshot struct {
	Fingerprint      string    `json:"fingerprint"`        // 任务谱系指纹
	CurrentPage      int       `json:"current_page"`       // 当前页码
	CollectedItemIDs []string  `json:"collected_item_ids"` // 已采集条目ID集合(规范化URL哈希)
	RateState        RateState `json:"rate_state"`         // 速率控制器状态
	CreatedAt        time.Time `json:"created_at"`         // 创建时间
	UpdatedAt        time.Time `json:"updated_at"`         // 最后更新时间
}

// NewCheckpointSnapshot 创建空快照
func NewCheckpointSnapshot(fingerprint string) *CheckpointSnapshot {
	now := time.Now()
	return &CheckpointSnapshot{
		Fingerprint:      fingerprint,
		CurrentPage:      1,
		CollectedItemIDs: make([]string, 0),
		CreatedAt:        now,
		UpdatedAt:        now,
	}
}

// TaskFingerprint 计算任务谱系指纹
// 同一(起始URL, 任务描述)组合在多次运行间产生相同指纹,
// 用于将检查点与其所属的爬取任务谱系关联
func TaskFingerprint(listURL, taskDescription string) string {
	sum := sha256.Sum256([]byte(listURL + "\n" + taskDescription))
	return hex.EncodeToString(sum[:16])
}

// CheckpointFilename 生成检查点sidecar文件名
func CheckpointFilename(fingerprint string) string {
	return fmt.Sprintf("checkpoint_%s.json", fingerprint)
}

// CollectedFilename 生成已采集ID列表文件名(每行一个ID,追加写入)
func CollectedFilename(fingerprint string) string {
	return fmt.Sprintf("collected_%s.txt", fingerprint)
}

// HasCollected 检查条目ID是否已采集
// 注意: 线性查找,热路径应使用CollectedSet构建map
func (c *CheckpointSnapshot) HasCollected(itemID string) bool {
	for _, id := range c.CollectedItemIDs {
		if id == itemID {
			return true
		}
	}
	return false
}

// CollectedSet 构建已采集ID的查找集合
func (c *CheckpointSnapshot) CollectedSet() map[string]bool {
	set := make(map[string]bool, len(c.CollectedItemIDs))
	for _, id := range c.CollectedItemIDs {
		set[id] = true
	}
	return set
}

// AddCollected 记录新采集的条目ID(去重)
func (c *CheckpointSnapshot) AddCollected(itemID string) {
	if c.HasCollected(itemID) {
		return
	}
	c.CollectedItemIDs = append(c.CollectedItemIDs, itemID)
	c.UpdatedAt = time.Now()
}

// ToJSON 序列化为JSON
func (c *CheckpointSnapshot) ToJSON() ([]byte, error) {
	return json.MarshalIndent(c, "", "  ")
}

// FromJSON 从JSON反序列化
func (c *CheckpointSnapshot) FromJSON(data []byte) error {
	return json.Unmarshal(data, c)
}
