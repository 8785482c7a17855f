package models

import (
	"encoding/json"
	"time"
)

// TaskState 任务状态
type TaskState string

const (
	TaskStatePending  TaskState = "pending"   // 待领取
	TaskStateInFlight TaskState = "in_flight" // 已领取,处理中
	TaskStateDone     TaskState = "done"      // 已完成
	TaskStateDead     TaskState = "dead"      // 重试耗尽,进入死信
)

// TaskRecord 队列任务记录
// 标识: TaskID为规范化URL的稳定哈希,首次Publish时创建,之后永不删除
// (done/dead状态作为历史保留,用于去重和死信查询)
type TaskRecord struct {
	TaskID       string            `json:"task_id"`              // 规范化URL哈希
	URL          string            `json:"url"`                  // 原始URL
	Metadata     map[string]string `json:"metadata,omitempty"`   // 附加元数据
	State        TaskState         `json:"state"`                // 当前状态
	AttemptCount int               `json:"attempt_count"`        // 已尝试次数
	LastError    string            `json:"last_error,omitempty"` // 最后一次失败原因
	CreatedAt    time.Time         `json:"created_at"`           // 创建时间
	UpdatedAt    time.Time         `json:"updated_at"`           // 最后更新时间
}

// ToJSON 序列化为JSON
func (t *TaskRecord) ToJSON() ([]byte, error) {
	return json.Marshal(t)
}

// FromJSON 从JSON反序列化
func (t *TaskRecord) FromJSON(data []byte) error {
	return json.Unmarshal(data, t)
}

// DeliveryEntry 投递租约(至少一次投递的凭证)
// 仅在所属任务处于in_flight状态时存在:
//   - Claim创建
//   - Ack/Fail销毁
//   - RecoverStale超时后转移给新消费者
type DeliveryEntry struct {
	DeliveryID string    `json:"delivery_id"` // 投递唯一ID (UUID)
	ConsumerID string    `json:"consumer_id"` // 持有者
	TaskID     string    `json:"task_id"`     // 关联任务
	ClaimedAt  time.Time `json:"claimed_at"`  // 领取时间(租约起点)
}

// ToJSON 序列化为JSON
func (d *DeliveryEntry) ToJSON() ([]byte, error) {
	return json.Marshal(d)
}

// FromJSON 从JSON反序列化
func (d *DeliveryEntry) FromJSON(data []byte) error {
	return json.Unmarshal(data, d)
}

// Delivery Claim返回给消费者的投递项
type Delivery struct {
	DeliveryID string            // 投递ID,用于Ack/Fail
	TaskID     string            // 任务ID
	URL        string            // 任务URL
	Metadata   map[string]string // 附加元数据
}

// QueueStats 队列统计(供CLI/日志层观测)
type QueueStats struct {
	Pending  int `json:"pending"`   // 待领取任务数
	InFlight int `json:"in_flight"` // 处理中任务数
	Done     int `json:"done"`      // 已完成任务数
	Dead     int `json:"dead"`      // 死信任务数
}

// Total 任务总数
func (s QueueStats) Total() int {
	return s.Pending + s.InFlight + s.Done + s.Dead
}
