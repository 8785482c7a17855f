package checkpoint

import (
	"github.com/RecoveryAshes/CrawlGuard/internal/models"
)

// Store 检查点存储
// 按任务指纹保存/加载进度快照; 本地文件和Badger两种后端可互换。
//
// 写入方只有一个(编排的Collector,在固定检查点时机写入),
// 读取方最多一个(同一进程,启动时读取)
type Store interface {
	// Load 按指纹加载快照
	// 快照不存在、或存储中的指纹与请求不匹配时返回(nil, nil):
	// 视为冷启动,不是错误; 过期快照直接忽略
	Load(fingerprint string) (*models.CheckpointSnapshot, error)

	// Save 持久化快照
	Save(snapshot *models.CheckpointSnapshot) error

	// Close 释放资源
	Close() error
}
