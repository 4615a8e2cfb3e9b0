package pipeline

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config bounds the fan-out and the retry policy of a generation run.
type Config struct {
	// Concurrency is the number of tasks in flight at once.
	Concurrency int
	// TaskRetries is the total number of attempts per task, first try
	// included.
	TaskRetries int
	// RetryDelay is the fixed wait between attempts.
	RetryDelay time.Duration
	// CallTimeout is the budget of a single model call.
	CallTimeout time.Duration
	// Iterations is the number of elicitation turns per task.
	Iterations int
	// RejectConcurrent makes Run fail when the diagram is already
	// generating instead of restarting it.
	RejectConcurrent bool
}

// LoadConfig reads pipeline settings from the environment, falling back to
// defaults for anything unset or malformed.
func LoadConfig() Config {
	cfg := Config{
		Concurrency: envInt("THREATCANVAS_PIPELINE_CONCURRENCY"),
		TaskRetries: envInt("THREATCANVAS_PIPELINE_TASK_RETRIES"),
		RetryDelay:  envDuration("THREATCANVAS_PIPELINE_RETRY_DELAY"),
		CallTimeout: envDuration("THREATCANVAS_PIPELINE_CALL_TIMEOUT"),
		Iterations:  envInt("THREATCANVAS_PIPELINE_ITERATIONS"),
	}
	if raw := strings.TrimSpace(os.Getenv("THREATCANVAS_PIPELINE_REJECT_CONCURRENT")); raw != "" {
		if parsed, err := strconv.ParseBool(raw); err == nil {
			cfg.RejectConcurrent = parsed
		}
	}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.Concurrency <= 0 {
		c.Concurrency = 5
	}
	if c.TaskRetries <= 0 {
		c.TaskRetries = 10
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = 90 * time.Second
	}
	if c.CallTimeout <= 0 {
		c.CallTimeout = 2 * time.Minute
	}
	if c.Iterations <= 0 {
		c.Iterations = 1
	}
}

func envInt(key string) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return 0
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil {
		return 0
	}
	return parsed
}

func envDuration(key string) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return 0
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return 0
	}
	return parsed
}
