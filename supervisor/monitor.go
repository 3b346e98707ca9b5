package supervisor

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/LubyRuffy/freeloader/metrics"
	"github.com/robfig/cron/v3"
	log "github.com/sirupsen/logrus"
)

type MonitorConfig struct {
	// Backend 用作指标标签。
	Backend string
	BaseURL string
	// Schedule 是标准 cron 表达式（支持 @every 1m），为空时 Start 不调度任何任务。
	Schedule string
	Timeout  time.Duration
	Metrics  *metrics.Collector

	// probe 仅测试替换。
	probe func(ctx context.Context, baseURL string, timeout time.Duration) error
}

// Monitor 周期性探活后端，记录 backend_up 指标，并为 /healthz 提供最近一次结果。
type Monitor struct {
	backend  string
	baseURL  string
	schedule string
	timeout  time.Duration
	metrics  *metrics.Collector
	probe    func(ctx context.Context, baseURL string, timeout time.Duration) error

	cron    *cron.Cron
	running bool
	runMu   sync.Mutex

	mu        sync.RWMutex
	up        bool
	checkedAt time.Time
	lastErr   error
}

func NewMonitor(cfg MonitorConfig) (*Monitor, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, fmt.Errorf("monitor: base url is required")
	}
	schedule := strings.TrimSpace(cfg.Schedule)
	if schedule != "" {
		if _, err := cron.ParseStandard(schedule); err != nil {
			return nil, fmt.Errorf("invalid probe schedule %q: %w", schedule, err)
		}
	}
	probe := cfg.probe
	if probe == nil {
		probe = Probe
	}
	return &Monitor{
		backend:  cfg.Backend,
		baseURL:  cfg.BaseURL,
		schedule: schedule,
		timeout:  cfg.Timeout,
		metrics:  cfg.Metrics,
		probe:    probe,
		cron:     cron.New(),
	}, nil
}

// Check 立即探活一次并记录结果。
func (m *Monitor) Check(ctx context.Context) error {
	err := m.probe(ctx, m.baseURL, m.timeout)
	up := err == nil

	m.mu.Lock()
	prevUp, seen := m.up, !m.checkedAt.IsZero()
	m.up = up
	m.checkedAt = time.Now()
	m.lastErr = err
	m.mu.Unlock()

	m.metrics.SetBackendUp(m.backend, up)
	switch {
	case !seen && !up:
		log.Warnf("backend %s at %s is not reachable: %v", m.backend, m.baseURL, err)
	case seen && prevUp && !up:
		log.Warnf("backend %s at %s went down: %v", m.backend, m.baseURL, err)
	case seen && !prevUp && up:
		log.Infof("backend %s at %s is reachable again", m.backend, m.baseURL)
	default:
		log.Debugf("backend %s probe: up=%v", m.backend, up)
	}
	return err
}

// Healthy 实现 openaihttp.HealthChecker。
func (m *Monitor) Healthy() (bool, time.Time, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.up, m.checkedAt, m.lastErr
}

// Start 按 schedule 调度探活，ctx 结束时自动 Stop。schedule 为空时什么都不做。
func (m *Monitor) Start(ctx context.Context) error {
	m.runMu.Lock()
	defer m.runMu.Unlock()

	if m.schedule == "" {
		log.Debugf("probe schedule not configured, monitor disabled")
		return nil
	}
	if m.running {
		return nil
	}
	if _, err := m.cron.AddFunc(m.schedule, func() {
		_ = m.Check(ctx)
	}); err != nil {
		return fmt.Errorf("failed to schedule backend probe: %w", err)
	}
	m.cron.Start()
	m.running = true
	log.Infof("backend monitor started: schedule=%s url=%s", m.schedule, m.baseURL)

	go func() {
		<-ctx.Done()
		m.Stop()
	}()
	return nil
}

// Stop 停止调度并等待正在执行的探活结束。
func (m *Monitor) Stop() {
	m.runMu.Lock()
	defer m.runMu.Unlock()

	if !m.running {
		return
	}
	<-m.cron.Stop().Done()
	m.running = false
	log.Infof("backend monitor stopped")
}
