package checkpoint

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/RecoveryAshes/CrawlGuard/internal/models"
)

func TestFileStore_LoadAbsent(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("创建存储失败: %v", err)
	}
	defer store.Close()

	snapshot, err := store.Load("no-such-fingerprint")
	if err != nil {
		t.Fatalf("不存在的检查点不是错误, 实际: %v", err)
	}
	if snapshot != nil {
		t.Errorf("期望nil快照(冷启动), 实际: %+v", snapshot)
	}
}

func TestFileStore_SaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	store, _ := NewFileStore(dir)
	defer store.Close()

	fp := models.TaskFingerprint("https://example.com/list", "商品采集")
	snapshot := models.NewCheckpointSnapshot(fp)
	snapshot.CurrentPage = 5
	snapshot.AddCollected("id-1")
	snapshot.AddCollected("id-2")
	snapshot.RateState = models.RateState{Level: 2, ConsecutiveSuccesses: 3}

	if err := store.Save(snapshot); err != nil {
		t.Fatalf("保存失败: %v", err)
	}

	// 新实例加载(模拟进程重启)
	store2, _ := NewFileStore(dir)
	defer store2.Close()

	loaded, err := store2.Load(fp)
	if err != nil {
		t.Fatalf("加载失败: %v", err)
	}
	if loaded == nil {
		t.Fatal("期望加载到快照")
	}
	if loaded.CurrentPage != 5 {
		t.Errorf("期望页码=5, 实际=%d", loaded.CurrentPage)
	}
	if loaded.RateState.Level != 2 || loaded.RateState.ConsecutiveSuccesses != 3 {
		t.Errorf("速率状态不符: %+v", loaded.RateState)
	}
	if len(loaded.CollectedItemIDs) != 2 || !loaded.HasCollected("id-1") || !loaded.HasCollected("id-2") {
		t.Errorf("已采集集合不符: %v", loaded.CollectedItemIDs)
	}
}

func TestFileStore_FingerprintMismatch(t *testing.T) {
	dir := t.TempDir()
	store, _ := NewFileStore(dir)
	defer store.Close()

	snapshot := models.NewCheckpointSnapshot("old-fingerprint")
	snapshot.CurrentPage = 9
	if err := store.Save(snapshot); err != nil {
		t.Fatalf("保存失败: %v", err)
	}

	// 人为制造指纹不匹配: 把旧快照文件改名为新指纹的文件名
	oldPath := filepath.Join(dir, models.CheckpointFilename("old-fingerprint"))
	newPath := filepath.Join(dir, models.CheckpointFilename("new-fingerprint"))
	if err := os.Rename(oldPath, newPath); err != nil {
		t.Fatalf("改名失败: %v", err)
	}

	loaded, err := store.Load("new-fingerprint")
	if err != nil {
		t.Fatalf("指纹不匹配不是错误, 实际: %v", err)
	}
	if loaded != nil {
		t.Errorf("过期快照期望被忽略(冷启动), 实际: %+v", loaded)
	}
}

func TestFileStore_CollectedAppendOnly(t *testing.T) {
	dir := t.TempDir()
	store, _ := NewFileStore(dir)
	defer store.Close()

	fp := "fp-append"
	snapshot := models.NewCheckpointSnapshot(fp)
	snapshot.AddCollected("id-1")
	_ = store.Save(snapshot)

	snapshot.AddCollected("id-2")
	_ = store.Save(snapshot)
	// 重复保存不产生重复行
	_ = store.Save(snapshot)

	data, err := os.ReadFile(filepath.Join(dir, models.CollectedFilename(fp)))
	if err != nil {
		t.Fatalf("读取已采集文件失败: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 2 || lines[0] != "id-1" || lines[1] != "id-2" {
		t.Errorf("期望恰好两行id-1/id-2, 实际: %q", lines)
	}
}

func TestFileStore_SidecarExcludesCollected(t *testing.T) {
	dir := t.TempDir()
	store, _ := NewFileStore(dir)
	defer store.Close()

	fp := "fp-sidecar"
	snapshot := models.NewCheckpointSnapshot(fp)
	snapshot.AddCollected("id-1")
	_ = store.Save(snapshot)

	// sidecar只存标量字段,ID集合在追加文件里
	data, err := os.ReadFile(filepath.Join(dir, models.CheckpointFilename(fp)))
	if err != nil {
		t.Fatalf("读取sidecar失败: %v", err)
	}
	if strings.Contains(string(data), "id-1") {
		t.Error("sidecar不应包含已采集ID")
	}

	// 保存后原快照的ID集合不受影响
	if !snapshot.HasCollected("id-1") {
		t.Error("保存不应修改调用方的快照")
	}
}
