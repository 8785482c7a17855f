package queue

import (
	"context"
	"errors"
	"testing"
	"time"
)

func newTestBadgerQueue(t *testing.T) *BadgerQueue {
	t.Helper()
	q, err := NewBadgerQueue(t.TempDir(), 3)
	if err != nil {
		t.Fatalf("打开队列存储失败: %v", err)
	}
	t.Cleanup(func() { _ = q.Close() })
	return q
}

func TestBadgerQueue_PublishDedup(t *testing.T) {
	q := newTestBadgerQueue(t)

	ok, err := q.Publish("https://example.com/item/1", nil)
	if err != nil || !ok {
		t.Fatalf("首次发布期望true, 实际=%v, err=%v", ok, err)
	}
	ok, err = q.Publish("HTTPS://EXAMPLE.COM/item/1#frag", nil)
	if err != nil || ok {
		t.Errorf("等价URL期望false, 实际=%v, err=%v", ok, err)
	}

	stats, _ := q.Stats()
	if stats.Pending != 1 || stats.Total() != 1 {
		t.Errorf("期望待领取=1, 统计: %+v", stats)
	}
}

func TestBadgerQueue_ClaimAckLifecycle(t *testing.T) {
	q := newTestBadgerQueue(t)

	_, _ = q.Publish("https://example.com/item/1", map[string]string{"list_page": "2"})
	_, _ = q.Publish("https://example.com/item/2", nil)

	deliveries, err := q.Claim(context.Background(), "c1", 10, time.Second)
	if err != nil {
		t.Fatalf("领取失败: %v", err)
	}
	if len(deliveries) != 2 {
		t.Fatalf("期望领取2个, 实际=%d", len(deliveries))
	}
	if deliveries[0].URL != "https://example.com/item/1" {
		t.Errorf("发布顺序应保持, 首个=%s", deliveries[0].URL)
	}
	if deliveries[0].Metadata["list_page"] != "2" {
		t.Errorf("元数据丢失: %+v", deliveries[0].Metadata)
	}

	if err := q.Ack(deliveries[0].DeliveryID); err != nil {
		t.Fatalf("确认失败: %v", err)
	}
	// 重复Ack与未知Ack均为no-op
	if err := q.Ack(deliveries[0].DeliveryID); err != nil {
		t.Errorf("重复确认期望no-op: %v", err)
	}
	if err := q.Ack("no-such-delivery"); err != nil {
		t.Errorf("未知投递期望no-op: %v", err)
	}

	stats, _ := q.Stats()
	if stats.Done != 1 || stats.InFlight != 1 {
		t.Errorf("统计不符: %+v", stats)
	}
}

func TestBadgerQueue_ClaimTimeout(t *testing.T) {
	q := newTestBadgerQueue(t)

	deliveries, err := q.Claim(context.Background(), "c1", 1, 150*time.Millisecond)
	if err != nil {
		t.Fatalf("期望超时返回空列表, 实际错误: %v", err)
	}
	if len(deliveries) != 0 {
		t.Errorf("期望空列表, 实际=%d个", len(deliveries))
	}
}

func TestBadgerQueue_FailRequeueThenDead(t *testing.T) {
	q := newTestBadgerQueue(t)

	_, _ = q.Publish("https://example.com/item/1", nil)
	taskErr := errors.New("元素定位失败")

	for attempt := 1; attempt <= 3; attempt++ {
		deliveries, _ := q.Claim(context.Background(), "c1", 1, time.Second)
		if len(deliveries) != 1 {
			t.Fatalf("第%d次期望领到任务", attempt)
		}
		if err := q.Fail(deliveries[0].DeliveryID, deliveries[0].TaskID, taskErr); err != nil {
			t.Fatalf("上报失败出错: %v", err)
		}
	}

	stats, _ := q.Stats()
	if stats.Dead != 1 || stats.Pending != 0 {
		t.Errorf("重试耗尽后期望死信=1, 统计: %+v", stats)
	}

	dead, err := q.DeadTasks()
	if err != nil || len(dead) != 1 {
		t.Fatalf("期望死信列表长度=1, 实际=%d, err=%v", len(dead), err)
	}
	if dead[0].AttemptCount != 3 || dead[0].LastError != "元素定位失败" {
		t.Errorf("死信记录不符: %+v", dead[0])
	}
}

func TestBadgerQueue_RecoverStale(t *testing.T) {
	q := newTestBadgerQueue(t)

	_, _ = q.Publish("https://example.com/item/1", nil)

	first, _ := q.Claim(context.Background(), "c1", 1, time.Second)
	if len(first) != 1 {
		t.Fatal("期望领到1个任务")
	}

	// 等租约老化后以极小的maxIdle回收
	time.Sleep(50 * time.Millisecond)
	recovered, err := q.RecoverStale("c2", 10*time.Millisecond)
	if err != nil {
		t.Fatalf("回收失败: %v", err)
	}
	if len(recovered) != 1 || recovered[0].TaskID != first[0].TaskID {
		t.Fatalf("期望回收同一任务, 实际: %+v", recovered)
	}

	// 旧投递作废,新投递有效
	_ = q.Ack(first[0].DeliveryID)
	stats, _ := q.Stats()
	if stats.Done != 0 {
		t.Errorf("旧投递Ack应为no-op, 统计: %+v", stats)
	}
	_ = q.Ack(recovered[0].DeliveryID)
	stats, _ = q.Stats()
	if stats.Done != 1 {
		t.Errorf("新投递Ack应生效, 统计: %+v", stats)
	}

	// 较新的租约不被回收
	_, _ = q.Publish("https://example.com/item/2", nil)
	_, _ = q.Claim(context.Background(), "c1", 1, time.Second)
	recovered, _ = q.RecoverStale("c2", time.Hour)
	if len(recovered) != 0 {
		t.Errorf("新租约不应被回收, 实际回收=%d", len(recovered))
	}
}

func TestBadgerQueue_FailAfterRecoverStale(t *testing.T) {
	q := newTestBadgerQueue(t)

	_, _ = q.Publish("https://example.com/item/1", nil)

	first, _ := q.Claim(context.Background(), "c1", 1, time.Second)
	if len(first) != 1 {
		t.Fatal("期望领到1个任务")
	}

	// 等租约老化后转移给c2
	time.Sleep(50 * time.Millisecond)
	recovered, _ := q.RecoverStale("c2", 10*time.Millisecond)
	if len(recovered) != 1 {
		t.Fatal("期望回收1个超时租约")
	}

	// 僵尸c1复活后上报失败: 租约已转移,必须是no-op
	if err := q.Fail(first[0].DeliveryID, first[0].TaskID, errors.New("僵尸上报")); err != nil {
		t.Fatalf("上报失败出错: %v", err)
	}
	stats, _ := q.Stats()
	if stats.InFlight != 1 || stats.Pending != 0 {
		t.Errorf("任务应仍由c2持有, 统计: %+v", stats)
	}

	// c2的投递仍有效,尝试次数未被僵尸污染
	if err := q.Ack(recovered[0].DeliveryID); err != nil {
		t.Fatalf("确认失败: %v", err)
	}
	stats, _ = q.Stats()
	if stats.Done != 1 {
		t.Errorf("新投递Ack应生效, 统计: %+v", stats)
	}
	dead, _ := q.DeadTasks()
	if len(dead) != 0 {
		t.Errorf("不应有死信任务: %+v", dead)
	}
}

func TestBadgerQueue_PersistAcrossReopen(t *testing.T) {
	dir := t.TempDir()

	q, err := NewBadgerQueue(dir, 3)
	if err != nil {
		t.Fatalf("打开队列存储失败: %v", err)
	}
	_, _ = q.Publish("https://example.com/item/1", nil)
	_, _ = q.Publish("https://example.com/item/2", nil)
	if err := q.Close(); err != nil {
		t.Fatalf("关闭失败: %v", err)
	}

	// 重新打开: 任务和去重状态都还在
	q2, err := NewBadgerQueue(dir, 3)
	if err != nil {
		t.Fatalf("重新打开失败: %v", err)
	}
	defer q2.Close()

	ok, _ := q2.Publish("https://example.com/item/1", nil)
	if ok {
		t.Error("重启后重复发布仍应去重")
	}

	deliveries, _ := q2.Claim(context.Background(), "c1", 10, time.Second)
	if len(deliveries) != 2 {
		t.Errorf("重启后期望领取2个, 实际=%d", len(deliveries))
	}
}
