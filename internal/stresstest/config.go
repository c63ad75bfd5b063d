package stresstest

import (
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/studiowebux/surge/internal/httpframe"
	"github.com/studiowebux/surge/internal/stats"
)

// Pattern selects how load is applied over time
type Pattern string

const (
	PatternCount     Pattern = "count"
	PatternSustained Pattern = "sustained"
	PatternStaircase Pattern = "staircase"
	PatternSpike     Pattern = "spike"
)

const (
	// Connection defaults
	DefaultMaxRequestsPerConn = 200
	DefaultConnectTimeout     = 5 * time.Second
	DefaultReadTimeout        = 30 * time.Second
	DefaultWriteTimeout       = 30 * time.Second
	DefaultSocketBuffer       = 4 * 1024 * 1024

	// Worker loop timings
	DefaultPopTimeout     = time.Second
	DefaultConnectBackoff = 100 * time.Millisecond
	DefaultFailureBackoff = 10 * time.Millisecond

	// Orchestrator timings
	DefaultPollInterval   = 500 * time.Millisecond
	DefaultReportInterval = 5 * time.Second
	DefaultShutdownGrace  = 5 * time.Second

	// Limits
	MaxConcurrency   = 10000
	MaxTotalRequests = 100_000_000
)

// Config represents one load run
type Config struct {
	Name    string
	Host    string
	Port    int
	Pattern Pattern

	// Count and sustained runs
	Concurrency    int
	TotalRequests  int
	RampUp         time.Duration
	Duration       time.Duration // count: optional cap, sustained: run length
	Rate           float64       // sustained: req/s across all workers, 0 means unpaced
	ReportInterval time.Duration

	// Staircase runs
	Levels            []int
	RequestsPerLevel  int
	WarmupRequests    int
	WarmupConcurrency int

	// Spike runs
	Baseline         int
	Spike            int
	BaselineDuration time.Duration
	SpikeDuration    time.Duration
	RecoveryDuration time.Duration

	// Connection behavior
	MaxRequestsPerConn int // 0 means never recycle
	KeepAlive          bool
	ChunkSize          int // 0 picks from the workload
	SocketBuffer       int // applied only to large-payload workloads
	LargePayload       bool
	ConnectTimeout     time.Duration
	ReadTimeout        time.Duration
	WriteTimeout       time.Duration

	// Loop timings, zero means default
	PopTimeout     time.Duration
	ConnectBackoff time.Duration
	PollInterval   time.Duration
	ShutdownGrace  time.Duration

	// Statistics
	SampleCapacity int
	Sampling       stats.Sampling
}

// Validate validates the run configuration
func (c *Config) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("target host is required")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("target port must be between 1 and 65535, got %d", c.Port)
	}
	if c.RampUp < 0 || c.Duration < 0 {
		return fmt.Errorf("durations cannot be negative")
	}
	if c.MaxRequestsPerConn < 0 {
		return fmt.Errorf("max requests per connection cannot be negative")
	}
	if c.ChunkSize < 0 || c.SocketBuffer < 0 || c.SampleCapacity < 0 {
		return fmt.Errorf("chunk size, socket buffer and sample capacity cannot be negative")
	}
	if c.Rate < 0 {
		return fmt.Errorf("rate cannot be negative")
	}

	switch c.Pattern {
	case PatternCount, "":
		if err := validateConcurrency(c.Concurrency); err != nil {
			return err
		}
		if c.TotalRequests <= 0 {
			return fmt.Errorf("total requests must be greater than 0")
		}
		if c.TotalRequests > MaxTotalRequests {
			return fmt.Errorf("total requests cannot exceed %d", MaxTotalRequests)
		}
	case PatternSustained:
		if err := validateConcurrency(c.Concurrency); err != nil {
			return err
		}
		if c.Duration <= 0 {
			return fmt.Errorf("sustained runs need a duration")
		}
	case PatternStaircase:
		if len(c.Levels) == 0 {
			return fmt.Errorf("staircase runs need at least one concurrency level")
		}
		for _, level := range c.Levels {
			if err := validateConcurrency(level); err != nil {
				return fmt.Errorf("level %d: %w", level, err)
			}
		}
		if c.RequestsPerLevel <= 0 {
			return fmt.Errorf("requests per level must be greater than 0")
		}
		if c.WarmupRequests < 0 {
			return fmt.Errorf("warm-up requests cannot be negative")
		}
		if c.WarmupRequests > 0 {
			if err := validateConcurrency(c.WarmupConcurrency); err != nil {
				return fmt.Errorf("warm-up: %w", err)
			}
		}
	case PatternSpike:
		if err := validateConcurrency(c.Baseline); err != nil {
			return fmt.Errorf("baseline: %w", err)
		}
		if c.Spike < 0 || c.Baseline+c.Spike > MaxConcurrency {
			return fmt.Errorf("spike workers must be between 0 and %d in total", MaxConcurrency)
		}
		if c.BaselineDuration <= 0 || c.SpikeDuration <= 0 || c.RecoveryDuration < 0 {
			return fmt.Errorf("spike runs need positive baseline and spike durations")
		}
	default:
		return fmt.Errorf("unknown pattern %q", c.Pattern)
	}
	return nil
}

func validateConcurrency(n int) error {
	if n <= 0 {
		return fmt.Errorf("concurrency must be greater than 0")
	}
	if n > MaxConcurrency {
		return fmt.Errorf("concurrency cannot exceed %d", MaxConcurrency)
	}
	return nil
}

// Addr returns host:port of the target
func (c *Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// HostHeader returns the value sent in the Host header
func (c *Config) HostHeader() string {
	if c.Port == 80 {
		return c.Host
	}
	return c.Addr()
}

// GetPattern returns the pattern, defaulting to a fixed-count run
func (c *Config) GetPattern() Pattern {
	if c.Pattern == "" {
		return PatternCount
	}
	return c.Pattern
}

// GetChunkSize returns the framer read size
func (c *Config) GetChunkSize() int {
	if c.ChunkSize > 0 {
		return c.ChunkSize
	}
	if c.LargePayload {
		return httpframe.LargeChunkSize
	}
	return httpframe.SmallChunkSize
}

// GetConnectTimeout returns the dial timeout
func (c *Config) GetConnectTimeout() time.Duration {
	return orDefault(c.ConnectTimeout, DefaultConnectTimeout)
}

// GetReadTimeout returns the per-response read deadline
func (c *Config) GetReadTimeout() time.Duration {
	return orDefault(c.ReadTimeout, DefaultReadTimeout)
}

// GetWriteTimeout returns the per-request write deadline
func (c *Config) GetWriteTimeout() time.Duration {
	return orDefault(c.WriteTimeout, DefaultWriteTimeout)
}

// GetPopTimeout returns how long a worker waits on an empty queue
func (c *Config) GetPopTimeout() time.Duration {
	return orDefault(c.PopTimeout, DefaultPopTimeout)
}

// GetConnectBackoff returns the pause after a failed dial
func (c *Config) GetConnectBackoff() time.Duration {
	return orDefault(c.ConnectBackoff, DefaultConnectBackoff)
}

// GetPollInterval returns how often completion is checked
func (c *Config) GetPollInterval() time.Duration {
	return orDefault(c.PollInterval, DefaultPollInterval)
}

// GetReportInterval returns the progress report period
func (c *Config) GetReportInterval() time.Duration {
	return orDefault(c.ReportInterval, DefaultReportInterval)
}

// GetShutdownGrace returns how long the join waits for workers
func (c *Config) GetShutdownGrace() time.Duration {
	return orDefault(c.ShutdownGrace, DefaultShutdownGrace)
}

// GetSocketBuffer returns the socket buffer size, 0 when buffers are left alone
func (c *Config) GetSocketBuffer() int {
	if !c.LargePayload {
		return 0
	}
	if c.SocketBuffer > 0 {
		return c.SocketBuffer
	}
	return DefaultSocketBuffer
}

// PeakConcurrency returns the largest number of workers the run starts
func (c *Config) PeakConcurrency() int {
	switch c.GetPattern() {
	case PatternStaircase:
		peak := c.WarmupConcurrency
		for _, level := range c.Levels {
			peak = max(peak, level)
		}
		return peak
	case PatternSpike:
		return c.Baseline + c.Spike
	default:
		return c.Concurrency
	}
}

func orDefault(d, def time.Duration) time.Duration {
	if d <= 0 {
		return def
	}
	return d
}
