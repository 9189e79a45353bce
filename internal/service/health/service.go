package health

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/seu-repo/ocpp-datum/internal/ports"
)

type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusUnhealthy Status = "unhealthy"
	StatusDegraded  Status = "degraded"
)

// CheckResult is the outcome of one dependency check.
type CheckResult struct {
	Name      string        `json:"name"`
	Status    Status        `json:"status"`
	Message   string        `json:"message,omitempty"`
	Duration  time.Duration `json:"duration_ms"`
	Timestamp time.Time     `json:"timestamp"`
}

type HealthResponse struct {
	Status    Status    `json:"status"`
	Version   string    `json:"version,omitempty"`
	Uptime    string    `json:"uptime,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// ReadyResponse is not ready only when a check is unhealthy. Degraded
// checks still serve traffic.
type ReadyResponse struct {
	Ready     bool                   `json:"ready"`
	Status    Status                 `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Checks    map[string]CheckResult `json:"checks"`
}

type Checker func(ctx context.Context) CheckResult

// StatusQueue reports how many connectivity updates wait to be written.
type StatusQueue interface {
	Pending() int
}

type Config struct {
	Version  string
	DB       *sql.DB
	Cache    ports.Cache
	Realtime ports.DatumPublisher
	Status   StatusQueue
	// MaxPendingStatus marks the status queue degraded above this depth.
	MaxPendingStatus int
	// CheckTimeout bounds each check; 5s when zero.
	CheckTimeout time.Duration
}

type Service struct {
	startTime    time.Time
	version      string
	checkTimeout time.Duration
	checkers     map[string]Checker
	log          *zap.Logger
	mu           sync.RWMutex
}

// NewService registers a checker for every dependency set in config.
func NewService(config *Config, log *zap.Logger) *Service {
	s := &Service{
		startTime:    time.Now(),
		version:      config.Version,
		checkTimeout: config.CheckTimeout,
		checkers:     make(map[string]Checker),
		log:          log,
	}
	if s.checkTimeout <= 0 {
		s.checkTimeout = 5 * time.Second
	}

	if config.DB != nil {
		s.RegisterChecker("database", s.pingChecker("database", StatusUnhealthy, config.DB.PingContext))
	}
	if config.Cache != nil {
		c := config.Cache
		// The local fallback keeps working without Redis.
		s.RegisterChecker("cache", s.pingChecker("cache", StatusDegraded, func(context.Context) error { return c.Ping() }))
	}
	if config.Realtime != nil {
		s.RegisterChecker("realtime", realtimeChecker(config.Realtime))
	}
	if config.Status != nil {
		s.RegisterChecker("status_queue", statusQueueChecker(config.Status, config.MaxPendingStatus))
	}
	return s
}

func (s *Service) RegisterChecker(name string, checker Checker) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checkers[name] = checker
	s.log.Debug("Registered health checker", zap.String("name", name))
}

// Health reports liveness; it never consults dependencies.
func (s *Service) Health(ctx context.Context) *HealthResponse {
	return &HealthResponse{
		Status:    StatusHealthy,
		Version:   s.version,
		Uptime:    time.Since(s.startTime).Round(time.Second).String(),
		Timestamp: time.Now(),
	}
}

// Ready runs every checker concurrently, each under the check timeout.
func (s *Service) Ready(ctx context.Context) *ReadyResponse {
	s.mu.RLock()
	checkers := make(map[string]Checker, len(s.checkers))
	for name, c := range s.checkers {
		checkers[name] = c
	}
	s.mu.RUnlock()

	results := make(map[string]CheckResult, len(checkers))
	var wg sync.WaitGroup
	var mu sync.Mutex
	for name, checker := range checkers {
		wg.Add(1)
		go func(name string, checker Checker) {
			defer wg.Done()
			checkCtx, cancel := context.WithTimeout(ctx, s.checkTimeout)
			defer cancel()
			r := checker(checkCtx)
			mu.Lock()
			results[name] = r
			mu.Unlock()
		}(name, checker)
	}
	wg.Wait()

	status := aggregate(results)
	return &ReadyResponse{
		Ready:     status != StatusUnhealthy,
		Status:    status,
		Timestamp: time.Now(),
		Checks:    results,
	}
}

func aggregate(results map[string]CheckResult) Status {
	status := StatusHealthy
	for _, r := range results {
		switch r.Status {
		case StatusUnhealthy:
			return StatusUnhealthy
		case StatusDegraded:
			status = StatusDegraded
		}
	}
	return status
}

// pingChecker reports failed when fn errors.
func (s *Service) pingChecker(name string, failed Status, fn func(context.Context) error) Checker {
	return func(ctx context.Context) CheckResult {
		start := time.Now()
		r := CheckResult{Name: name, Timestamp: start, Status: StatusHealthy, Message: "connection ok"}
		err := fn(ctx)
		r.Duration = time.Since(start)
		if err != nil {
			r.Status = failed
			r.Message = fmt.Sprintf("ping failed: %v", err)
			s.log.Warn("Health check failed", zap.String("name", name), zap.Error(err))
		}
		return r
	}
}

func realtimeChecker(rt ports.DatumPublisher) Checker {
	return func(ctx context.Context) CheckResult {
		r := CheckResult{Name: "realtime", Timestamp: time.Now(), Status: StatusHealthy, Message: "configured"}
		if !rt.IsConfigured() {
			r.Status, r.Message = StatusDegraded, "not configured"
		}
		return r
	}
}

func statusQueueChecker(q StatusQueue, limit int) Checker {
	return func(ctx context.Context) CheckResult {
		n := q.Pending()
		r := CheckResult{Name: "status_queue", Timestamp: time.Now(), Status: StatusHealthy, Message: fmt.Sprintf("%d pending", n)}
		if limit > 0 && n > limit {
			r.Status = StatusDegraded
		}
		return r
	}
}
