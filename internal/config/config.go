// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"
)

// ErrConfiguration marks invalid run parameters. It is always surfaced before any
// resource (output file, display, tracker) is acquired.
var ErrConfiguration = errors.New("configuration error")

// Calibration and bracket policies accepted by CALIBRATION_POLICY and BRACKET_POLICY.
const (
	CalibrateOnce     = "once"
	CalibratePerBlock = "per_block"

	BracketPerTrial = "per_trial"
	BracketPerBlock = "per_block"
)

// Output formats accepted by OUTPUT_FORMAT.
const (
	FormatCSV    = "csv"
	FormatSQLite = "sqlite"
	FormatBoth   = "both"
)

// Config holds every run parameter. It is immutable once Load returns.
type Config struct {
	// Experiment
	ExperimentName string
	DataDirectory  string
	Subject        string

	// Design
	Conditions        []string
	ShuffleConditions bool
	NumberOfBlocks    int
	TrialsPerBlock    int
	SetSizes          []int

	// Timing
	FixationTime    time.Duration
	SampleTime      time.Duration
	DelayTime       time.Duration
	ResponseTimeout time.Duration // 0 waits forever
	GetReadyTime    time.Duration
	ExitWait        time.Duration

	// Response keys
	SameKey      string
	DifferentKey string
	ContinueKey  string
	QuitKey      string

	// Output
	OutputFields []string // empty selects every known field
	OutputFormat string

	// Capabilities
	Recording          bool
	CalibrationPolicy  string
	BracketPolicy      string
	QuitHook           bool
	CalibrationRetries int

	// Tracker
	TrackerSimulated  bool
	TrackerPort       string
	TrackerBaudRate   int
	TrackerTimeout    time.Duration
	TrackerFilePrefix string
	TrackerEyes       string // LEFT, RIGHT, BOTH
	TriggerPin        string // empty disables the TTL line
	TriggerPulse      time.Duration

	// MQTT
	MQTTBroker   string // empty disables event publishing
	MQTTClientID string
	TopicEvents  string

	// Stimulus display
	DisplayAddr           string
	DisplayConnectTimeout time.Duration

	// Operator status panel
	StatusPanelI2CBus string // empty disables the panel

	LogLevel string
}

// Package-level singleton used by the binaries. Tests build Config values directly.
var (
	globalConfig *Config
	configOnce   sync.Once
	configMu     sync.RWMutex
)

// Default returns the parameters of the eye-tracking change detection task.
func Default() *Config {
	home, _ := os.UserHomeDir()
	return &Config{
		ExperimentName: "EyeTrackingChangeDetection",
		DataDirectory:  filepath.Join(home, "ChangeDetectionEyeTracking", "Data"),

		Conditions:        []string{"FreeGaze", "Fixated"},
		ShuffleConditions: true,
		NumberOfBlocks:    5,
		TrialsPerBlock:    80,
		SetSizes:          []int{6},

		FixationTime:    1000 * time.Millisecond,
		SampleTime:      750 * time.Millisecond,
		DelayTime:       1000 * time.Millisecond,
		ResponseTimeout: 0,
		GetReadyTime:    2 * time.Second,
		ExitWait:        10 * time.Second,

		SameKey:      "s",
		DifferentKey: "d",
		ContinueKey:  "space",
		QuitKey:      "escape",

		OutputFormat: FormatCSV,

		Recording:          true,
		CalibrationPolicy:  CalibratePerBlock,
		BracketPolicy:      BracketPerTrial,
		QuitHook:           true,
		CalibrationRetries: 0,

		TrackerPort:       "/dev/ttyUSB0",
		TrackerBaudRate:   115200,
		TrackerTimeout:    5 * time.Second,
		TrackerFilePrefix: "CDET",
		TrackerEyes:       "BOTH",
		TriggerPulse:      5 * time.Millisecond,

		MQTTClientID: "changedetection-controller",
		TopicEvents:  "changedetection/events",

		DisplayAddr:           ":8080",
		DisplayConnectTimeout: 2 * time.Minute,

		LogLevel: "info",
	}
}

// Load reads a KEY=VALUE configuration file on top of Default.
func Load(configPath string) (*Config, error) {
	file, err := os.Open(configPath)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open config file: %w", ErrConfiguration, err)
	}
	defer file.Close()

	return Parse(file)
}

// Parse reads KEY=VALUE pairs from r on top of Default and validates the result.
func Parse(r io.Reader) (*Config, error) {
	values, err := godotenv.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("%w: error reading config: %w", ErrConfiguration, err)
	}

	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	cfg := Default()
	for _, key := range keys {
		if err := cfg.setValue(key, strings.TrimSpace(values[key])); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrConfiguration, err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// setValue sets a config value based on the key.
func (c *Config) setValue(key, value string) error {
	var err error
	switch key {
	// Experiment
	case "EXPERIMENT_NAME":
		c.ExperimentName = value
	case "DATA_DIRECTORY":
		c.DataDirectory = expandHome(value)
	case "SUBJECT":
		c.Subject = value

	// Design
	case "CONDITIONS":
		c.Conditions = splitList(value)
	case "SHUFFLE_CONDITIONS":
		c.ShuffleConditions, err = parseBool(key, value)
	case "NUMBER_OF_BLOCKS":
		c.NumberOfBlocks, err = parseCount(key, value)
	case "TRIALS_PER_BLOCK":
		c.TrialsPerBlock, err = parseCount(key, value)
	case "SET_SIZES":
		c.SetSizes, err = parseIntList(key, value)

	// Timing
	case "FIXATION_MS":
		c.FixationTime, err = parseMillis(key, value)
	case "SAMPLE_TIME_MS":
		c.SampleTime, err = parseMillis(key, value)
	case "DELAY_TIME_MS":
		c.DelayTime, err = parseMillis(key, value)
	case "RESPONSE_TIMEOUT_MS":
		c.ResponseTimeout, err = parseMillis(key, value)
	case "GET_READY_MS":
		c.GetReadyTime, err = parseMillis(key, value)
	case "EXIT_WAIT_MS":
		c.ExitWait, err = parseMillis(key, value)

	// Response keys
	case "SAME_KEY":
		c.SameKey = strings.ToLower(value)
	case "DIFFERENT_KEY":
		c.DifferentKey = strings.ToLower(value)
	case "CONTINUE_KEY":
		c.ContinueKey = strings.ToLower(value)
	case "QUIT_KEY":
		c.QuitKey = strings.ToLower(value)

	// Output
	case "OUTPUT_FIELDS":
		c.OutputFields = splitList(value)
	case "OUTPUT_FORMAT":
		c.OutputFormat = strings.ToLower(value)

	// Capabilities
	case "RECORDING":
		c.Recording, err = parseBool(key, value)
	case "CALIBRATION_POLICY":
		c.CalibrationPolicy = strings.ToLower(value)
	case "BRACKET_POLICY":
		c.BracketPolicy = strings.ToLower(value)
	case "QUIT_HOOK":
		c.QuitHook, err = parseBool(key, value)
	case "CALIBRATION_RETRIES":
		c.CalibrationRetries, err = parseCount(key, value)

	// Tracker
	case "TRACKER_SIMULATED":
		c.TrackerSimulated, err = parseBool(key, value)
	case "TRACKER_PORT":
		c.TrackerPort = value
	case "TRACKER_BAUD_RATE":
		c.TrackerBaudRate, err = parseCount(key, value)
	case "TRACKER_TIMEOUT_MS":
		c.TrackerTimeout, err = parseMillis(key, value)
	case "TRACKER_FILE_PREFIX":
		c.TrackerFilePrefix = value
	case "TRACKER_EYES":
		c.TrackerEyes = strings.ToUpper(value)
	case "TRIGGER_PIN":
		c.TriggerPin = value
	case "TRIGGER_PULSE_MS":
		c.TriggerPulse, err = parseMillis(key, value)

	// MQTT
	case "MQTT_BROKER":
		c.MQTTBroker = value
	case "MQTT_CLIENT_ID":
		c.MQTTClientID = value
	case "TOPIC_EVENTS":
		c.TopicEvents = value

	// Stimulus display
	case "DISPLAY_ADDR":
		c.DisplayAddr = value
	case "DISPLAY_CONNECT_TIMEOUT_MS":
		c.DisplayConnectTimeout, err = parseMillis(key, value)

	// Operator status panel
	case "STATUS_PANEL_I2C_BUS":
		c.StatusPanelI2CBus = value

	case "LOG_LEVEL":
		c.LogLevel = value

	default:
		return fmt.Errorf("unknown config key: %q", key)
	}
	return err
}

// Validate checks cross-field constraints. Errors wrap ErrConfiguration.
func (c *Config) Validate() error {
	fail := func(format string, args ...any) error {
		return fmt.Errorf("%w: %s", ErrConfiguration, fmt.Sprintf(format, args...))
	}

	if c.DataDirectory == "" {
		return fail("DATA_DIRECTORY is required")
	}
	seen := make(map[string]bool, len(c.Conditions))
	for _, cond := range c.Conditions {
		if cond != "FreeGaze" && cond != "Fixated" {
			return fail("CONDITIONS: unknown condition %q (want FreeGaze or Fixated)", cond)
		}
		if seen[cond] {
			return fail("CONDITIONS: duplicate condition %q", cond)
		}
		seen[cond] = true
	}
	if len(c.SetSizes) == 0 {
		return fail("SET_SIZES is required")
	}
	for _, n := range c.SetSizes {
		if n <= 0 {
			return fail("SET_SIZES must be positive, got %d", n)
		}
	}
	if c.NumberOfBlocks > 0 && c.TrialsPerBlock <= 0 {
		return fail("TRIALS_PER_BLOCK must be positive when NUMBER_OF_BLOCKS > 0")
	}

	if c.SameKey == "" || c.DifferentKey == "" || c.ContinueKey == "" || c.QuitKey == "" {
		return fail("SAME_KEY, DIFFERENT_KEY, CONTINUE_KEY and QUIT_KEY are required")
	}
	// The continue key only acts between trials, so it may share a response key.
	if c.SameKey == c.DifferentKey || c.SameKey == c.QuitKey || c.DifferentKey == c.QuitKey {
		return fail("SAME_KEY, DIFFERENT_KEY and QUIT_KEY must be distinct")
	}
	if c.ContinueKey == c.QuitKey {
		return fail("CONTINUE_KEY and QUIT_KEY must be distinct")
	}

	switch c.OutputFormat {
	case FormatCSV, FormatSQLite, FormatBoth:
	default:
		return fail("OUTPUT_FORMAT must be csv, sqlite or both, got %q", c.OutputFormat)
	}
	switch c.CalibrationPolicy {
	case CalibrateOnce, CalibratePerBlock:
	default:
		return fail("CALIBRATION_POLICY must be once or per_block, got %q", c.CalibrationPolicy)
	}
	switch c.BracketPolicy {
	case BracketPerTrial, BracketPerBlock:
	default:
		return fail("BRACKET_POLICY must be per_trial or per_block, got %q", c.BracketPolicy)
	}

	if c.Recording {
		switch c.TrackerEyes {
		case "LEFT", "RIGHT", "BOTH":
		default:
			return fail("TRACKER_EYES must be LEFT, RIGHT or BOTH, got %q", c.TrackerEyes)
		}
		if !c.TrackerSimulated {
			if c.TrackerPort == "" {
				return fail("TRACKER_PORT is required when RECORDING is enabled")
			}
			if c.TrackerBaudRate == 0 {
				return fail("TRACKER_BAUD_RATE is required when RECORDING is enabled")
			}
		}
	}
	if c.MQTTBroker != "" && c.TopicEvents == "" {
		return fail("TOPIC_EVENTS is required when MQTT_BROKER is set")
	}
	return nil
}

// InitGlobal initializes the global configuration from file. Only the first call
// has an effect.
func InitGlobal(configPath string) error {
	var err error
	configOnce.Do(func() {
		configMu.Lock()
		defer configMu.Unlock()
		globalConfig, err = Load(configPath)
	})
	return err
}

// Get returns the global configuration instance, or nil before InitGlobal.
func Get() *Config {
	configMu.RLock()
	defer configMu.RUnlock()
	return globalConfig
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func parseBool(key, value string) (bool, error) {
	b, err := strconv.ParseBool(value)
	if err != nil {
		return false, fmt.Errorf("invalid %s %q: %w", key, value, err)
	}
	return b, nil
}

func parseCount(key, value string) (int, error) {
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, value, err)
	}
	if n < 0 {
		return 0, fmt.Errorf("%s must not be negative, got %d", key, n)
	}
	return n, nil
}

func parseMillis(key, value string) (time.Duration, error) {
	n, err := parseCount(key, value)
	if err != nil {
		return 0, err
	}
	return time.Duration(n) * time.Millisecond, nil
}

func parseIntList(key, value string) ([]int, error) {
	var out []int
	for _, part := range splitList(value) {
		n, err := strconv.Atoi(part)
		if err != nil {
			return nil, fmt.Errorf("invalid %s entry %q: %w", key, part, err)
		}
		out = append(out, n)
	}
	return out, nil
}

func expandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(path, "~"))
		}
	}
	return path
}
