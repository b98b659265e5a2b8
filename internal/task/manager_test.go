package task

import (
	"Media_Catalog/internal/models"
	"Media_Catalog/pkg/logger"
	"context"
	"errors"
	"testing"
)

func TestManager_SingleRunningTask(t *testing.T) {
	m := NewManager(logger.Discard())
	release := make(chan struct{})
	id, err := m.Start(context.Background(), "import", func(ctx context.Context) (*models.BatchReport, error) {
		<-release
		r := models.NewBatchReport(models.OpCopyDirectory)
		r.Summary.Imported = 3
		return r, nil
	})
	if err != nil {
		t.Fatalf("启动任务失败：%v", err)
	}
	if _, err := m.Start(context.Background(), "normalize", nil); !errors.Is(err, ErrTaskRunning) {
		t.Fatalf("期望 ErrTaskRunning，实际：%v", err)
	}

	close(release)
	task, err := m.Wait(id)
	if err != nil {
		t.Fatalf("等待任务失败：%v", err)
	}
	if task.Status != StatusCompleted || task.Report.Summary.Imported != 3 || task.EndTime == nil {
		t.Fatalf("任务状态不符：%+v", task)
	}

	// 前一个任务结束后可以启动新任务
	id, err = m.Start(context.Background(), "validate", func(ctx context.Context) (*models.BatchReport, error) {
		return nil, errors.New("boom")
	})
	if err != nil {
		t.Fatalf("启动任务失败：%v", err)
	}
	if task, _ := m.Wait(id); task.Status != StatusFailed || task.Error != "boom" {
		t.Fatalf("任务应失败：%+v", task)
	}
}

func TestManager_Cancel(t *testing.T) {
	m := NewManager(logger.Discard())
	id, err := m.Start(context.Background(), "import", func(ctx context.Context) (*models.BatchReport, error) {
		<-ctx.Done()
		r := models.NewBatchReport(models.OpCopyDirectory)
		r.Cancelled = true
		return r, nil
	})
	if err != nil {
		t.Fatalf("启动任务失败：%v", err)
	}
	if err := m.Cancel(id); err != nil {
		t.Fatalf("取消失败：%v", err)
	}
	task, _ := m.Wait(id)
	if task.Status != StatusCancelled {
		t.Fatalf("任务应为 cancelled：%+v", task)
	}

	if err := m.Cancel("nope"); !errors.Is(err, ErrTaskNotFound) {
		t.Fatalf("期望 ErrTaskNotFound，实际：%v", err)
	}
	if _, err := m.GetTaskStatus("nope"); !errors.Is(err, ErrTaskNotFound) {
		t.Fatalf("期望 ErrTaskNotFound，实际：%v", err)
	}
}
