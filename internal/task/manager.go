package task

import (
	"Media_Catalog/internal/models"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// TaskStatus 定义了任务可能的状态。
type TaskStatus string

const (
	StatusPending   TaskStatus = "pending"
	StatusRunning   TaskStatus = "running"
	StatusCompleted TaskStatus = "completed"
	StatusFailed    TaskStatus = "failed"
	StatusCancelled TaskStatus = "cancelled"
)

// ErrTaskRunning 表示已有一个修改目录的任务在运行。目录同一时刻只允许一个写入者。
var ErrTaskRunning = errors.New("another task is running")

// ErrTaskNotFound 表示任务 ID 不存在。
var ErrTaskNotFound = errors.New("task not found")

// Func 是任务的具体工作。返回的报告被保存在任务上。
type Func func(ctx context.Context) (*models.BatchReport, error)

// Task 结构体代表一个具体的后台任务。
type Task struct {
	ID        string              `json:"id"`
	Kind      string              `json:"kind"`
	Status    TaskStatus          `json:"status"`
	Error     string              `json:"error,omitempty"`
	Report    *models.BatchReport `json:"report,omitempty"`
	StartTime time.Time           `json:"startTime"`
	EndTime   *time.Time          `json:"endTime,omitempty"`

	cancel context.CancelFunc
	done   chan struct{}
}

// Manager 结构体是任务管理器。
type Manager struct {
	tasks map[string]*Task
	mu    sync.RWMutex
	log   *slog.Logger
}

// NewManager 创建并返回一个新的任务管理器实例。
func NewManager(log *slog.Logger) *Manager {
	if log == nil {
		log = slog.Default()
	}
	return &Manager{
		tasks: make(map[string]*Task),
		log:   log,
	}
}

// Start 创建一个新任务，并立即在后台启动它。已有任务在运行时返回 ErrTaskRunning。
func (m *Manager) Start(ctx context.Context, kind string, fn Func) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, task := range m.tasks {
		if task.Status == StatusPending || task.Status == StatusRunning {
			return "", fmt.Errorf("%w (ID: %s)，请等待其完成后再试", ErrTaskRunning, task.ID)
		}
	}

	taskCtx, cancel := context.WithCancel(ctx)
	newTask := &Task{
		ID:        uuid.New().String(),
		Kind:      kind,
		Status:    StatusPending,
		StartTime: time.Now(),
		cancel:    cancel,
		done:      make(chan struct{}),
	}
	m.tasks[newTask.ID] = newTask

	go m.run(taskCtx, newTask, fn)

	return newTask.ID, nil
}

// run 是执行具体工作的内部函数。
func (m *Manager) run(ctx context.Context, task *Task, fn Func) {
	defer close(task.done)
	defer task.cancel()

	m.mu.Lock()
	task.Status = StatusRunning
	m.mu.Unlock()
	m.log.Info("任务启动", "id", task.ID, "kind", task.Kind)

	report, err := fn(ctx)

	m.mu.Lock()
	defer m.mu.Unlock()
	task.Report = report
	switch {
	case err != nil:
		task.Status = StatusFailed
		task.Error = err.Error()
	case report != nil && report.Cancelled:
		task.Status = StatusCancelled
	default:
		task.Status = StatusCompleted
	}
	endTime := time.Now()
	task.EndTime = &endTime
	m.log.Info("任务结束", "id", task.ID, "status", task.Status)
}

// Cancel 请求取消任务。任务在处理完当前文件后停止。
func (m *Manager) Cancel(taskID string) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	task, exists := m.tasks[taskID]
	if !exists {
		return fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
	}
	task.cancel()
	return nil
}

// Wait 阻塞到任务结束，返回任务的最终状态。
func (m *Manager) Wait(taskID string) (Task, error) {
	m.mu.RLock()
	task, exists := m.tasks[taskID]
	m.mu.RUnlock()
	if !exists {
		return Task{}, fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
	}
	<-task.done
	return m.GetTaskStatus(taskID)
}

// GetTaskStatus 根据任务ID检索特定任务的当前状态（副本）。
func (m *Manager) GetTaskStatus(taskID string) (Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	task, exists := m.tasks[taskID]
	if !exists {
		return Task{}, fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
	}
	return *task, nil
}
