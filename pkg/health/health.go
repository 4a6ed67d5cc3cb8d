package health

import (
	"context"
	"time"
)

// CheckType represents the type of health check
type CheckType string

const (
	CheckTypeHTTP CheckType = "http"
	CheckTypeTCP  CheckType = "tcp"
)

// Result represents the outcome of a health check
type Result struct {
	Healthy   bool
	Message   string
	CheckedAt time.Time
	Duration  time.Duration
}

// Checker checks one endpoint
type Checker interface {
	Check(ctx context.Context) Result
	Type() CheckType
}

// Config controls how check results turn into a health verdict
type Config struct {
	// Timeout bounds a single check
	Timeout time.Duration

	// Retries is the number of consecutive failures before the target is
	// considered unhealthy
	Retries int
}

// DefaultConfig returns the check settings used for hosts and controllers
func DefaultConfig() Config {
	return Config{
		Timeout: 5 * time.Second,
		Retries: 3,
	}
}

// Status accumulates check results for one target
type Status struct {
	ConsecutiveFailures  int
	ConsecutiveSuccesses int
	LastCheck            time.Time
	LastResult           Result
	Healthy              bool
}

// NewStatus creates a Status that starts out healthy
func NewStatus() *Status {
	return &Status{Healthy: true}
}

// Update folds a check result into the status. One success restores health;
// Retries consecutive failures take it away. It reports whether the verdict
// changed.
func (s *Status) Update(result Result, config Config) bool {
	before := s.Healthy
	s.LastCheck = result.CheckedAt
	s.LastResult = result

	if result.Healthy {
		s.ConsecutiveSuccesses++
		s.ConsecutiveFailures = 0
		s.Healthy = true
	} else {
		s.ConsecutiveFailures++
		s.ConsecutiveSuccesses = 0
		if s.ConsecutiveFailures >= config.Retries {
			s.Healthy = false
		}
	}

	return before != s.Healthy
}
