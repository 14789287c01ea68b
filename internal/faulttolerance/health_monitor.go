package faulttolerance

import (
	"context"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// HealthStatus represents the health status of a component
type HealthStatus string

const (
	HealthStatusHealthy   HealthStatus = "healthy"
	HealthStatusDegraded  HealthStatus = "degraded"
	HealthStatusUnhealthy HealthStatus = "unhealthy"
)

// HealthCheck is the last observed result of one dependency probe.
type HealthCheck struct {
	Name      string        `json:"name"`
	Status    HealthStatus  `json:"status"`
	Critical  bool          `json:"critical"`
	LastCheck time.Time     `json:"last_check"`
	Duration  time.Duration `json:"duration"`
	Error     string        `json:"error,omitempty"`

	checkFunc func(ctx context.Context) error
}

// HealthMonitor probes dependencies on an interval and serves the results.
// A failing critical check makes the process unhealthy; a failing
// non-critical one only degrades it.
type HealthMonitor struct {
	checks   map[string]*HealthCheck
	mutex    sync.RWMutex
	logger   *logrus.Logger
	interval time.Duration
	timeout  time.Duration
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

// NewHealthMonitor creates a new health monitor
func NewHealthMonitor(logger *logrus.Logger, interval time.Duration) *HealthMonitor {
	if interval <= 0 {
		interval = 30 * time.Second
	}

	return &HealthMonitor{
		checks:   make(map[string]*HealthCheck),
		logger:   logger,
		interval: interval,
		timeout:  10 * time.Second,
	}
}

// AddCheck registers a probe. Checks start healthy until the first run.
func (hm *HealthMonitor) AddCheck(name string, critical bool, checkFunc func(ctx context.Context) error) {
	hm.mutex.Lock()
	defer hm.mutex.Unlock()

	hm.checks[name] = &HealthCheck{
		Name:      name,
		Status:    HealthStatusHealthy,
		Critical:  critical,
		checkFunc: checkFunc,
	}
	hm.logger.Infof("Added health check: %s", name)
}

// Start runs all checks now and then on every interval until Stop or ctx is done.
func (hm *HealthMonitor) Start(ctx context.Context) {
	ctx, hm.cancel = context.WithCancel(ctx)

	hm.wg.Add(1)
	go func() {
		defer hm.wg.Done()

		ticker := time.NewTicker(hm.interval)
		defer ticker.Stop()

		hm.RunChecks(ctx)
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				hm.RunChecks(ctx)
			}
		}
	}()
	hm.logger.Info("Health monitor started")
}

// Stop stops the health monitoring
func (hm *HealthMonitor) Stop() {
	if hm.cancel != nil {
		hm.cancel()
	}
	hm.wg.Wait()
	hm.logger.Info("Health monitor stopped")
}

// RunChecks executes every registered check concurrently and waits for them.
func (hm *HealthMonitor) RunChecks(ctx context.Context) {
	hm.mutex.RLock()
	checks := make([]*HealthCheck, 0, len(hm.checks))
	for _, check := range hm.checks {
		checks = append(checks, check)
	}
	hm.mutex.RUnlock()

	var wg sync.WaitGroup
	for _, check := range checks {
		wg.Add(1)
		go func(check *HealthCheck) {
			defer wg.Done()
			hm.runCheck(ctx, check)
		}(check)
	}
	wg.Wait()
}

func (hm *HealthMonitor) runCheck(ctx context.Context, check *HealthCheck) {
	if check.checkFunc == nil {
		return
	}

	start := time.Now()
	checkCtx, cancel := context.WithTimeout(ctx, hm.timeout)
	defer cancel()

	err := check.checkFunc(checkCtx)
	duration := time.Since(start)

	hm.mutex.Lock()
	defer hm.mutex.Unlock()

	check.LastCheck = start
	check.Duration = duration

	next := HealthStatusHealthy
	if err != nil {
		next = HealthStatusDegraded
		if check.Critical {
			next = HealthStatusUnhealthy
		}
	}

	switch {
	case err != nil && check.Status == HealthStatusHealthy:
		hm.logger.Errorf("Health check '%s' failed: %v", check.Name, err)
	case err == nil && check.Status != HealthStatusHealthy:
		hm.logger.Infof("Health check '%s' recovered", check.Name)
	}

	check.Status = next
	check.Error = ""
	if err != nil {
		check.Error = err.Error()
	}
}

// GetHealth returns a copy of every check, sorted by name.
func (hm *HealthMonitor) GetHealth() []HealthCheck {
	hm.mutex.RLock()
	defer hm.mutex.RUnlock()

	result := make([]HealthCheck, 0, len(hm.checks))
	for _, check := range hm.checks {
		c := *check
		c.checkFunc = nil
		result = append(result, c)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result
}

// GetOverallHealth returns the overall health status
func (hm *HealthMonitor) GetOverallHealth() HealthStatus {
	hm.mutex.RLock()
	defer hm.mutex.RUnlock()

	overall := HealthStatusHealthy
	for _, check := range hm.checks {
		switch check.Status {
		case HealthStatusUnhealthy:
			return HealthStatusUnhealthy
		case HealthStatusDegraded:
			overall = HealthStatusDegraded
		}
	}
	return overall
}

// RegisterRoutes mounts /health, /health/ready and /health/live.
func (hm *HealthMonitor) RegisterRoutes(r gin.IRouter) {
	r.GET("/health", func(c *gin.Context) {
		overall := hm.GetOverallHealth()
		code := http.StatusOK
		if overall == HealthStatusUnhealthy {
			code = http.StatusServiceUnavailable
		}
		c.JSON(code, gin.H{
			"status":    overall,
			"checks":    hm.GetHealth(),
			"timestamp": time.Now().Format(time.RFC3339),
		})
	})

	r.GET("/health/ready", func(c *gin.Context) {
		if hm.GetOverallHealth() == HealthStatusUnhealthy {
			c.String(http.StatusServiceUnavailable, "Not Ready")
			return
		}
		c.String(http.StatusOK, "Ready")
	})

	r.GET("/health/live", func(c *gin.Context) {
		c.String(http.StatusOK, "Live")
	})
}
