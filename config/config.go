package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/bnema/montage/internal/domain"
	"github.com/bnema/montage/internal/service"
)

var ErrMissingSecret = errors.New("AUTH_SECRET is required")

type Config struct {
	Port        int
	DataDir     string
	ScratchDir  string
	AuthSecret  string
	BehindProxy bool

	FFmpegPath  string
	FFprobePath string

	PollInterval        time.Duration
	ConcatTimeout       time.Duration
	ConcatFilterTimeout time.Duration
	MixTimeout          time.Duration
	TranscodeTimeout    time.Duration
	MinScratchFreeMB    int

	ProfilesFile   string
	PreviewProfile domain.Profile
	ExportProfile  domain.Profile

	LogLevel string
	LogJSON  bool
}

// Load reads the environment. AUTH_SECRET is checked by RequireSecret since
// only the server needs it.
func Load() (*Config, error) {
	port, err := strconv.Atoi(getEnv("PORT", "7890"))
	if err != nil {
		return nil, fmt.Errorf("invalid PORT: %w", err)
	}
	if port <= 0 || port > 65535 {
		return nil, fmt.Errorf("invalid PORT: %d out of range", port)
	}

	minFree, err := strconv.Atoi(getEnv("MIN_SCRATCH_FREE_MB", "512"))
	if err != nil {
		return nil, fmt.Errorf("invalid MIN_SCRATCH_FREE_MB: %w", err)
	}
	if minFree < 0 {
		return nil, fmt.Errorf("invalid MIN_SCRATCH_FREE_MB: %d is negative", minFree)
	}

	behindProxy, err := getBool("BEHIND_PROXY", false)
	if err != nil {
		return nil, err
	}
	logJSON, err := getBool("LOG_JSON", false)
	if err != nil {
		return nil, err
	}

	dataDir := getEnv("DATA_DIR", "/data")
	cfg := &Config{
		Port:         port,
		DataDir:      dataDir,
		ScratchDir:   getEnv("SCRATCH_DIR", filepath.Join(dataDir, "scratch")),
		AuthSecret:   os.Getenv("AUTH_SECRET"),
		BehindProxy:  behindProxy,
		FFmpegPath:   getEnv("FFMPEG_PATH", "ffmpeg"),
		FFprobePath:  getEnv("FFPROBE_PATH", "ffprobe"),
		ProfilesFile: os.Getenv("PROFILES_FILE"),
		LogLevel:     getEnv("LOG_LEVEL", "info"),
		LogJSON:      logJSON,

		MinScratchFreeMB: minFree,
		PreviewProfile:   domain.PreviewProfile(),
		ExportProfile:    domain.ExportProfile(),
	}

	durations := []struct {
		key  string
		def  string
		dest *time.Duration
	}{
		{"POLL_INTERVAL", "100ms", &cfg.PollInterval},
		{"CONCAT_TIMEOUT", "60s", &cfg.ConcatTimeout},
		{"CONCAT_FILTER_TIMEOUT", "60s", &cfg.ConcatFilterTimeout},
		{"MIX_TIMEOUT", "120s", &cfg.MixTimeout},
		{"TRANSCODE_TIMEOUT", "30m", &cfg.TranscodeTimeout},
	}
	for _, d := range durations {
		if *d.dest, err = getDuration(d.key, d.def); err != nil {
			return nil, err
		}
	}

	if cfg.ProfilesFile != "" {
		if err := cfg.loadProfiles(cfg.ProfilesFile); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

// RequireSecret fails when no token secret is configured.
func (c *Config) RequireSecret() error {
	if c.AuthSecret == "" {
		return ErrMissingSecret
	}
	return nil
}

func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

func (c *Config) Pipeline() service.PipelineConfig {
	return service.PipelineConfig{
		PollInterval:        c.PollInterval,
		TranscodeTimeout:    c.TranscodeTimeout,
		ConcatTimeout:       c.ConcatTimeout,
		ConcatFilterTimeout: c.ConcatFilterTimeout,
		MixTimeout:          c.MixTimeout,
		MinScratchFree:      uint64(c.MinScratchFreeMB) * 1024 * 1024,
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getBool(key string, defaultValue bool) (bool, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("invalid %s: %w", key, err)
	}
	return v, nil
}

func getDuration(key, defaultValue string) (time.Duration, error) {
	d, err := time.ParseDuration(getEnv(key, defaultValue))
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("invalid %s: must be positive", key)
	}
	return d, nil
}
