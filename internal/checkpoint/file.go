package checkpoint

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/RecoveryAshes/CrawlGuard/internal/models"
	"github.com/RecoveryAshes/CrawlGuard/internal/utils"
)

// FileStore 本地文件检查点存储
// 布局: 每个指纹两个文件
//   checkpoint_<fp>.json  标量字段sidecar(页码、速率状态、时间戳)
//   collected_<fp>.txt    已采集条目ID,每行一个,只追加
//
// 已采集ID单独放追加文件,避免每次保存都重写整个集合
type FileStore struct {
	dir string

	// 已落盘的条目ID,用于计算增量追加
	flushed map[string]bool
}

// NewFileStore 创建文件检查点存储
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("创建检查点目录失败 [%s]: %w", dir, err)
	}
	return &FileStore{
		dir:     dir,
		flushed: make(map[string]bool),
	}, nil
}

// Load 按指纹加载快照
func (s *FileStore) Load(fingerprint string) (*models.CheckpointSnapshot, error) {
	sidecarPath := filepath.Join(s.dir, models.CheckpointFilename(fingerprint))

	data, err := os.ReadFile(sidecarPath)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("读取检查点文件失败: %w", err)
	}

	var snapshot models.CheckpointSnapshot
	if err := snapshot.FromJSON(data); err != nil {
		return nil, fmt.Errorf("解析检查点文件失败: %w", err)
	}

	// 指纹不匹配: 过期快照,视为不存在(冷启动)
	if snapshot.Fingerprint != fingerprint {
		utils.Warnf("检查点指纹不匹配, 忽略过期快照: %s", sidecarPath)
		return nil, nil
	}

	// 合并追加文件中的已采集ID
	ids, err := s.loadCollected(fingerprint)
	if err != nil {
		return nil, err
	}
	snapshot.CollectedItemIDs = ids

	for _, id := range ids {
		s.flushed[id] = true
	}

	utils.Infof("检查点已加载: 页码 %d, 已采集 %d 项", snapshot.CurrentPage, len(ids))
	return &snapshot, nil
}

// Save 持久化快照
// sidecar整体重写(体积小),已采集ID只追加新增部分
func (s *FileStore) Save(snapshot *models.CheckpointSnapshot) error {
	if err := s.appendCollected(snapshot); err != nil {
		return err
	}

	// sidecar不重复存放ID集合,落盘前清空
	sidecar := *snapshot
	sidecar.CollectedItemIDs = nil

	data, err := sidecar.ToJSON()
	if err != nil {
		return fmt.Errorf("序列化检查点失败: %w", err)
	}

	sidecarPath := filepath.Join(s.dir, models.CheckpointFilename(snapshot.Fingerprint))
	tmpPath := sidecarPath + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return fmt.Errorf("写入检查点文件失败: %w", err)
	}
	if err := os.Rename(tmpPath, sidecarPath); err != nil {
		return fmt.Errorf("替换检查点文件失败: %w", err)
	}

	utils.Debugf("检查点已保存: 页码 %d, 已采集 %d 项",
		snapshot.CurrentPage, len(snapshot.CollectedItemIDs))
	return nil
}

// Close 释放资源
func (s *FileStore) Close() error {
	return nil
}

// loadCollected 读取追加文件中的全部条目ID
func (s *FileStore) loadCollected(fingerprint string) ([]string, error) {
	path := filepath.Join(s.dir, models.CollectedFilename(fingerprint))

	file, err := os.Open(path)
	if os.IsNotExist(err) {
		return []string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("打开已采集ID文件失败: %w", err)
	}
	defer file.Close()

	ids := make([]string, 0)
	seen := make(map[string]bool)
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || seen[line] {
			continue
		}
		seen[line] = true
		ids = append(ids, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("读取已采集ID文件失败: %w", err)
	}
	return ids, nil
}

// appendCollected 追加快照中尚未落盘的条目ID
func (s *FileStore) appendCollected(snapshot *models.CheckpointSnapshot) error {
	fresh := make([]string, 0)
	for _, id := range snapshot.CollectedItemIDs {
		if !s.flushed[id] {
			fresh = append(fresh, id)
		}
	}
	if len(fresh) == 0 {
		return nil
	}

	path := filepath.Join(s.dir, models.CollectedFilename(snapshot.Fingerprint))
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("打开已采集ID文件失败: %w", err)
	}
	defer file.Close()

	writer := bufio.NewWriter(file)
	for _, id := range fresh {
		if _, err := writer.WriteString(id + "\n"); err != nil {
			return fmt.Errorf("写入已采集ID失败: %w", err)
		}
	}
	if err := writer.Flush(); err != nil {
		return fmt.Errorf("写入已采集ID失败: %w", err)
	}

	for _, id := range fresh {
		s.flushed[id] = true
	}
	return nil
}
