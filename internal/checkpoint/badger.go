package checkpoint

import (
	"fmt"

	"github.com/dgraph-io/badger/v4"

	"github.com/RecoveryAshes/CrawlGuard/internal/models"
	"github.com/RecoveryAshes/CrawlGuard/internal/utils"
)

// checkpointKeyPrefix Badger中检查点记录的键前缀
const checkpointKeyPrefix = "checkpoint:"

// BadgerStore Badger检查点存储
// 每个指纹一条JSON记录,键为 checkpoint:<fingerprint>;
// 可与BadgerQueue共用数据目录之外的独立库,也可单独部署
type BadgerStore struct {
	db *badger.DB

	// 是否由本实例打开(共享外部句柄时Close不关库)
	owned bool
}

// NewBadgerStore 打开(或创建)Badger检查点存储
func NewBadgerStore(dir string) (*BadgerStore, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("打开检查点存储失败 [%s]: %w", dir, err)
	}
	return &BadgerStore{db: db, owned: true}, nil
}

// NewBadgerStoreWithDB 复用已打开的Badger句柄
func NewBadgerStoreWithDB(db *badger.DB) *BadgerStore {
	return &BadgerStore{db: db, owned: false}
}

// Load 按指纹加载快照
func (s *BadgerStore) Load(fingerprint string) (*models.CheckpointSnapshot, error) {
	var snapshot *models.CheckpointSnapshot

	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(checkpointKeyPrefix + fingerprint))
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			var loaded models.CheckpointSnapshot
			if err := loaded.FromJSON(val); err != nil {
				return err
			}
			snapshot = &loaded
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("加载检查点失败: %w", err)
	}

	if snapshot == nil {
		return nil, nil
	}

	// 指纹不匹配: 过期快照,视为不存在(冷启动)
	if snapshot.Fingerprint != fingerprint {
		utils.Warnf("检查点指纹不匹配, 忽略过期快照: %s", fingerprint)
		return nil, nil
	}

	utils.Infof("检查点已加载: 页码 %d, 已采集 %d 项",
		snapshot.CurrentPage, len(snapshot.CollectedItemIDs))
	return snapshot, nil
}

// Save 持久化快照
func (s *BadgerStore) Save(snapshot *models.CheckpointSnapshot) error {
	data, err := snapshot.ToJSON()
	if err != nil {
		return fmt.Errorf("序列化检查点失败: %w", err)
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(checkpointKeyPrefix+snapshot.Fingerprint), data)
	})
	if err != nil {
		return fmt.Errorf("保存检查点失败: %w", err)
	}

	utils.Debugf("检查点已保存: 页码 %d, 已采集 %d 项",
		snapshot.CurrentPage, len(snapshot.CollectedItemIDs))
	return nil
}

// Close 释放资源
func (s *BadgerStore) Close() error {
	if !s.owned {
		return nil
	}
	return s.db.Close()
}
