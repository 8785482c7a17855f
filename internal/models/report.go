package models

import (
	"encoding/json"
	"time"
)

// CrawlRunReport 单次爬取运行报告
// 面向外部CLI/日志层的观测口: 速率等级变化、恢复所用策略、
// 死信数量都在这里暴露
type CrawlRunReport struct {
	Fingerprint     string    `json:"fingerprint"`      // 任务谱系指纹
	ListURL         string    `json:"list_url"`         // 列表起始URL
	TaskDescription string    `json:"task_description"` // 任务描述
	StartTime       time.Time `json:"start_time"`       // 开始时间
	EndTime         time.Time `json:"end_time"`         // 结束时间
	Duration        float64   `json:"duration"`         // 总耗时(秒)

	ResumedFromCheckpoint bool   `json:"resumed_from_checkpoint"` // 是否从检查点恢复
	ResumeStrategy        string `json:"resume_strategy"`         // 恢复所用策略
	ResumedAtPage         int    `json:"resumed_at_page"`         // 恢复到达的页码

	PagesProcessed int `json:"pages_processed"`  // 本次处理页数
	ItemsPublished int `json:"items_published"`  // 新发布任务数
	Penalties      int `json:"penalties"`        // 收到的惩罚信号数
	FinalRateLevel int `json:"final_rate_level"` // 结束时退避等级

	Queue QueueStats `json:"queue"` // 队列统计

	DeadTasks []*TaskRecord `json:"dead_tasks,omitempty"` // 死信任务(供人工排查)
}

// ToJSON 序列化为JSON
func (r *CrawlRunReport) ToJSON() ([]byte, error) {
	return json.MarshalIndent(r, "", "  ")
}

// FromJSON 从JSON反序列化
func (r *CrawlRunReport) FromJSON(data []byte) error {
	return json.Unmarshal(data, r)
}
