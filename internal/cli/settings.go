package cli

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/viper"

	"github.com/studiowebux/surge/internal/config"
	"github.com/studiowebux/surge/internal/stats"
	"github.com/studiowebux/surge/internal/stresstest"
	"github.com/studiowebux/surge/internal/workload"
)

// Setting keys, shared by flags, SURGE_* variables and the config file
const (
	KeyName        = "name"
	KeyHost        = "host"
	KeyPort        = "port"
	KeyPreset      = "preset"
	KeyWorkload    = "workload"
	KeyRequests    = "requests"
	KeyConcurrency = "concurrency"
	KeyRampUp      = "ramp-up"
	KeyDuration    = "duration"
	KeyRate        = "rate"
	KeyReport      = "report-interval"

	KeyLevels            = "levels"
	KeyRequestsPerLevel  = "requests-per-level"
	KeyWarmup            = "warmup"
	KeyWarmupConcurrency = "warmup-concurrency"

	KeyBaseline         = "baseline"
	KeySpike            = "spike"
	KeyBaselineDuration = "baseline-duration"
	KeySpikeDuration    = "spike-duration"
	KeyRecoveryDuration = "recovery-duration"

	KeyMaxRequestsPerConn = "max-requests-per-conn"
	KeyKeepAlive          = "keep-alive"
	KeyChunkSize          = "chunk-size"
	KeySocketBuffer       = "socket-buffer"
	KeyConnectTimeout     = "connect-timeout"
	KeyReadTimeout        = "read-timeout"
	KeyWriteTimeout       = "write-timeout"
	KeySampleCapacity     = "sample-capacity"
	KeySampling           = "sampling"

	KeyOutput            = "output"
	KeySave              = "save"
	KeyHistoryEnabled    = "history.enabled"
	KeyDB                = "db"
	KeyMetricsAddr       = "metrics-addr"
	KeyLogLevel          = "log-level"
	KeyLogFormat         = "log-format"
	KeyPreflightAttempts = "preflight-attempts"
)

// ConfigFromViper builds the run configuration for pattern from settings
func ConfigFromViper(v *viper.Viper, pattern stresstest.Pattern) (*stresstest.Config, error) {
	sampling, ok := stats.ParseSampling(v.GetString(KeySampling))
	if !ok {
		return nil, fmt.Errorf("unknown sampling mode %q (want fill or reservoir)", v.GetString(KeySampling))
	}

	cfg := &stresstest.Config{
		Name:           v.GetString(KeyName),
		Host:           v.GetString(KeyHost),
		Port:           v.GetInt(KeyPort),
		Pattern:        pattern,
		Concurrency:    v.GetInt(KeyConcurrency),
		TotalRequests:  v.GetInt(KeyRequests),
		RampUp:         v.GetDuration(KeyRampUp),
		Duration:       v.GetDuration(KeyDuration),
		Rate:           v.GetFloat64(KeyRate),
		ReportInterval: v.GetDuration(KeyReport),

		RequestsPerLevel:  v.GetInt(KeyRequestsPerLevel),
		WarmupRequests:    v.GetInt(KeyWarmup),
		WarmupConcurrency: v.GetInt(KeyWarmupConcurrency),

		Baseline:         v.GetInt(KeyBaseline),
		Spike:            v.GetInt(KeySpike),
		BaselineDuration: v.GetDuration(KeyBaselineDuration),
		SpikeDuration:    v.GetDuration(KeySpikeDuration),
		RecoveryDuration: v.GetDuration(KeyRecoveryDuration),

		MaxRequestsPerConn: v.GetInt(KeyMaxRequestsPerConn),
		KeepAlive:          v.GetBool(KeyKeepAlive),
		ChunkSize:          v.GetInt(KeyChunkSize),
		SocketBuffer:       v.GetInt(KeySocketBuffer),
		ConnectTimeout:     v.GetDuration(KeyConnectTimeout),
		ReadTimeout:        v.GetDuration(KeyReadTimeout),
		WriteTimeout:       v.GetDuration(KeyWriteTimeout),

		SampleCapacity: v.GetInt(KeySampleCapacity),
		Sampling:       sampling,
	}

	if pattern == stresstest.PatternStaircase {
		levels, err := levelsFromViper(v)
		if err != nil {
			return nil, err
		}
		cfg.Levels = levels
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// PlanFromViper loads the workload file when one is set, otherwise the preset
func PlanFromViper(v *viper.Viper) (*workload.Plan, error) {
	if name := v.GetString(KeyWorkload); name != "" {
		path, err := config.ResolveWorkload(name)
		if err != nil {
			return nil, err
		}
		return workload.Load(path)
	}

	preset := v.GetString(KeyPreset)
	if preset == "" {
		preset = workload.DefaultPreset
	}
	return workload.Preset(preset)
}

// SaveEnabled reports whether runs should be written to the history
func SaveEnabled(v *viper.Viper) bool {
	return v.GetBool(KeySave) || v.GetBool(KeyHistoryEnabled)
}

// levelsFromViper accepts a comma separated string (flags, environment) or
// a list (config file)
func levelsFromViper(v *viper.Viper) ([]int, error) {
	switch raw := v.Get(KeyLevels).(type) {
	case nil:
		return nil, nil
	case string:
		return ParseLevels(raw)
	default:
		return v.GetIntSlice(KeyLevels), nil
	}
}

// ParseLevels parses a comma separated list of concurrency levels
func ParseLevels(s string) ([]int, error) {
	s = strings.Trim(strings.TrimSpace(s), "[]")
	if s == "" {
		return nil, nil
	}

	var levels []int
	for _, part := range strings.Split(s, ",") {
		n, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil {
			return nil, fmt.Errorf("invalid concurrency level %q", part)
		}
		levels = append(levels, n)
	}
	return levels, nil
}
