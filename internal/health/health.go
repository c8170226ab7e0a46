package health

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Status represents the health status of a component
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusUnhealthy Status = "unhealthy"
	StatusDegraded  Status = "degraded"
)

// ComponentHealth represents the health of a single component
type ComponentHealth struct {
	Status   Status `json:"status"`
	Message  string `json:"message,omitempty"`
	Duration string `json:"duration,omitempty"`
}

// HealthResponse represents the full health check response
type HealthResponse struct {
	Status     Status                     `json:"status"`
	Timestamp  string                     `json:"timestamp"`
	Components map[string]ComponentHealth `json:"components,omitempty"`
}

// Checker performs health checks on the service's dependencies.
type Checker struct {
	db           *sql.DB
	redis        *redis.Client
	blobCheck    func(ctx context.Context) error
	checkTimeout time.Duration
}

// CheckerConfig holds configuration for the health checker. Redis is
// optional; a nil client is simply not checked.
type CheckerConfig struct {
	DB        *sql.DB
	Redis     *redis.Client
	BlobCheck func(ctx context.Context) error
	Timeout   time.Duration
}

func NewChecker(cfg CheckerConfig) *Checker {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &Checker{
		db:           cfg.DB,
		redis:        cfg.Redis,
		blobCheck:    cfg.BlobCheck,
		checkTimeout: timeout,
	}
}

type namedCheck struct {
	name  string
	check func(ctx context.Context) error
	// degrades marks components whose failure leaves the service usable
	degrades bool
}

// Check runs all component checks concurrently.
func (c *Checker) Check(ctx context.Context) HealthResponse {
	checks := make([]namedCheck, 0, 3)
	if c.db != nil {
		checks = append(checks, namedCheck{name: "database", check: c.db.PingContext})
	}
	if c.blobCheck != nil {
		checks = append(checks, namedCheck{name: "blob_store", check: c.blobCheck})
	}
	if c.redis != nil {
		checks = append(checks, namedCheck{
			name:     "cache",
			check:    func(ctx context.Context) error { return c.redis.Ping(ctx).Err() },
			degrades: true,
		})
	}

	ctx, cancel := context.WithTimeout(ctx, c.checkTimeout)
	defer cancel()

	var (
		mu         sync.Mutex
		wg         sync.WaitGroup
		components = make(map[string]ComponentHealth, len(checks))
		overall    = StatusHealthy
	)

	for _, nc := range checks {
		wg.Add(1)
		go func(nc namedCheck) {
			defer wg.Done()

			start := time.Now()
			err := nc.check(ctx)
			elapsed := time.Since(start)

			ch := ComponentHealth{Status: StatusHealthy, Duration: elapsed.String()}
			if err != nil {
				ch.Status = StatusUnhealthy
				ch.Message = err.Error()
			}

			mu.Lock()
			components[nc.name] = ch
			if err != nil {
				if nc.degrades && overall == StatusHealthy {
					overall = StatusDegraded
				} else if !nc.degrades {
					overall = StatusUnhealthy
				}
			}
			mu.Unlock()
		}(nc)
	}
	wg.Wait()

	return HealthResponse{
		Status:     overall,
		Timestamp:  time.Now().UTC().Format(time.RFC3339),
		Components: components,
	}
}

// Handler serves the health check endpoint.
func (c *Checker) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := c.Check(r.Context())

		status := http.StatusOK
		if resp.Status == StatusUnhealthy {
			status = http.StatusServiceUnavailable
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		json.NewEncoder(w).Encode(resp)
	}
}
