package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/robfig/cron/v3"
	"github.com/segmentio/ksuid"
	"github.com/sirupsen/logrus"

	"github.com/chaos-io/placement/batch"
)

var ErrRunInProgress = errors.New("a batch run is already in progress")

// Runner 执行一次批处理，由 batch.Driver 实现
type Runner interface {
	RunWithID(ctx context.Context, runID string) (*batch.Summary, error)
}

type Status struct {
	Running   bool           `json:"running"`
	Current   string         `json:"current,omitempty"`
	Last      *batch.Summary `json:"last,omitempty"`
	LastError string         `json:"last_error,omitempty"`
}

// Scheduler 按 cron 表达式重复执行批处理，同一时刻最多一个运行
type Scheduler struct {
	runner Runner
	spec   string
	cron   *cron.Cron

	ctx context.Context
	wg  sync.WaitGroup

	mu      sync.Mutex
	running bool
	current string
	last    *batch.Summary
	lastErr string
}

func New(runner Runner, spec string) (*Scheduler, error) {
	if _, err := cron.ParseStandard(spec); err != nil {
		return nil, fmt.Errorf("invalid cron spec %q: %w", spec, err)
	}

	return &Scheduler{
		runner: runner,
		spec:   spec,
		cron:   cron.New(cron.WithLogger(cron.PrintfLogger(logrus.StandardLogger()))),
		ctx:    context.Background(),
	}, nil
}

// Start 注册定时任务并启动，ctx 取消后正在执行的批处理也会停止
func (s *Scheduler) Start(ctx context.Context) error {
	s.ctx = ctx
	_, err := s.cron.AddFunc(s.spec, func() {
		runID, err := s.Trigger()
		if errors.Is(err, ErrRunInProgress) {
			logrus.Warn("skip scheduled run: previous run still in progress")
			return
		}
		logrus.WithField("run_id", runID).Info("scheduled run triggered")
	})
	if err != nil {
		return fmt.Errorf("add cron job: %w", err)
	}

	s.cron.Start()
	logrus.WithField("spec", s.spec).Info("scheduler started")
	return nil
}

// Stop 停止调度并等待正在执行的批处理结束
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	s.wg.Wait()
}

// Trigger 立即异步执行一次批处理，返回 run id
func (s *Scheduler) Trigger() (string, error) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return "", ErrRunInProgress
	}
	runID := ksuid.New().String()
	s.running = true
	s.current = runID
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.run(runID)
	}()
	return runID, nil
}

func (s *Scheduler) run(runID string) {
	summary, err := s.runner.RunWithID(s.ctx, runID)
	if err != nil {
		logrus.WithError(err).WithField("run_id", runID).Error("batch run failed")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.running = false
	s.current = ""
	// 没有产生 summary 的失败（如目录创建失败）保留上一次的结果
	if summary != nil {
		s.last = summary
	}
	s.lastErr = ""
	if err != nil {
		s.lastErr = err.Error()
	}
}

// Wait 等待已触发的批处理全部结束
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

func (s *Scheduler) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	return Status{
		Running:   s.running,
		Current:   s.current,
		Last:      s.last,
		LastError: s.lastErr,
	}
}
