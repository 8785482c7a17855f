package main

import (
	"fmt"

	"github.com/RecoveryAshes/CrawlGuard/internal/models"
)

// ValidateFlags 验证命令行标志
func ValidateFlags(
	listURL string,
	taskDescription string,
	maxPages int,
	maxRetries int,
	maxWorkers int,
	queueBackend string,
	checkpointBackend string,
) error {
	// 验证URL
	if err := models.ValidateURL(listURL); err != nil {
		return fmt.Errorf("无效的列表URL: %w", err)
	}

	// 任务描述参与谱系指纹计算,留空会让不同任务共享检查点
	if taskDescription == "" {
		return fmt.Errorf("任务描述不能为空 (使用 -T 指定)")
	}

	// 验证页数上限
	if maxPages < 0 {
		return fmt.Errorf("最大页数不能为负数,当前值: %d", maxPages)
	}

	// 验证重试次数(0表示使用配置文件值)
	if maxRetries < 0 || maxRetries > 100 {
		return fmt.Errorf("重试上限必须在0-100之间,当前值: %d", maxRetries)
	}

	// 验证worker数(0表示使用配置文件值)
	if maxWorkers < 0 || maxWorkers > 100 {
		return fmt.Errorf("worker数必须在0-100之间,当前值: %d", maxWorkers)
	}

	// 验证队列后端
	if queueBackend != "" && queueBackend != "memory" && queueBackend != "badger" {
		return fmt.Errorf("无效的队列后端: %s (有效值: memory, badger)", queueBackend)
	}

	// 验证检查点后端
	if checkpointBackend != "" && checkpointBackend != "file" && checkpointBackend != "badger" {
		return fmt.Errorf("无效的检查点后端: %s (有效值: file, badger)", checkpointBackend)
	}

	return nil
}
