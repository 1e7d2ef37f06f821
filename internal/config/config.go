// Package config handles monitor configuration
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	apperrors "github.com/GriffinCanCode/livetag/internal/errors"
)

// Config is loaded once at startup and never mutated afterwards.
type Config struct {
	Region     *RegionConfig    `yaml:"monitor_region"`
	Monitor    MonitorConfig    `yaml:"monitor"`
	Capture    CaptureConfig    `yaml:"capture"`
	OCR        OCRConfig        `yaml:"ocr"`
	Storage    StorageConfig    `yaml:"storage"`
	Classifier ClassifierConfig `yaml:"image_classifier"`
	Extract    ExtractConfig    `yaml:"extract"`
	Inference  InferenceConfig  `yaml:"inference"`
	Status     StatusConfig     `yaml:"status"`
}

// RegionConfig is the display rectangle to watch, in screen pixels.
type RegionConfig struct {
	Left   int `yaml:"left"`
	Top    int `yaml:"top"`
	Width  int `yaml:"width"`
	Height int `yaml:"height"`
}

type MonitorConfig struct {
	Interval           *float64 `yaml:"interval"` // seconds
	TriggerKeyword     string   `yaml:"trigger_keyword"`
	SkipSimilarFrames  bool     `yaml:"skip_similar_frames"`
	SimilarityDistance int      `yaml:"similarity_distance"`
}

type CaptureConfig struct {
	Timeout           time.Duration `yaml:"timeout"`
	CalibrationOutput string        `yaml:"calibration_output"`
}

type OCRConfig struct {
	Backend       string        `yaml:"backend"` // tesseract | remote
	Language      string        `yaml:"language"`
	MinConfidence float64       `yaml:"min_confidence"`
	Timeout       time.Duration `yaml:"timeout"`
}

type StorageConfig struct {
	SaveDir     string `yaml:"save_dir"`
	Format      string `yaml:"format"` // png | jpg
	Quality     int    `yaml:"quality"`
	DateFormat  string `yaml:"date_format"`
	HistoryFile string `yaml:"history_file"`
	LogsDir     string `yaml:"logs_dir"`
}

type ClassifierConfig struct {
	Enabled   bool          `yaml:"enabled"`
	ModelType string        `yaml:"model_type"`
	ModelPath string        `yaml:"model_path"`
	UseGPU    bool          `yaml:"use_gpu"`
	Timeout   time.Duration `yaml:"timeout"`
}

type ExtractConfig struct {
	SerialMarkers []string `yaml:"serial_markers"`
}

type InferenceConfig struct {
	Addr string `yaml:"addr"`
}

type StatusConfig struct {
	Addr string `yaml:"addr"`
}

// Default returns a Config with every optional key populated. Required keys
// (monitor_region, monitor.interval, monitor.trigger_keyword, storage.save_dir)
// are left unset so that Validate reports them.
func Default() *Config {
	return &Config{
		Monitor: MonitorConfig{
			SimilarityDistance: DefaultSimilarityDistance,
		},
		Capture: CaptureConfig{
			Timeout:           DefaultCaptureTimeout,
			CalibrationOutput: DefaultCalibrationOutput,
		},
		OCR: OCRConfig{
			Backend:       BackendTesseract,
			Language:      DefaultOCRLanguage,
			MinConfidence: DefaultMinConfidence,
			Timeout:       DefaultOCRTimeout,
		},
		Storage: StorageConfig{
			Format:      FormatPNG,
			Quality:     DefaultQuality,
			DateFormat:  DefaultDateFormat,
			HistoryFile: DefaultHistoryFile,
			LogsDir:     DefaultLogsDir,
		},
		Classifier: ClassifierConfig{
			ModelType: DefaultModelType,
			Timeout:   DefaultClassifierTimeout,
		},
		Inference: InferenceConfig{Addr: DefaultInferenceAddr},
	}
}

// Load reads a YAML config file, applies environment overrides and validates
// the result. It never touches the filesystem beyond reading path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, apperrors.Wrapf(err, apperrors.ConfigMissing, "config file %s not found", path)
		}
		return nil, apperrors.Wrapf(err, apperrors.ConfigInvalid, "read config %s", path)
	}
	return Parse(data)
}

// Parse decodes YAML config bytes. Unknown keys are rejected.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, apperrors.Wrap(err, apperrors.ConfigInvalid, "parse config")
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg.normalize()
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.Inference.Addr = getEnv("INFERENCE_ADDR", c.Inference.Addr)
	c.Status.Addr = getEnv("STATUS_ADDR", c.Status.Addr)
	c.OCR.Backend = getEnv("OCR_BACKEND", c.OCR.Backend)
	c.Classifier.UseGPU = getEnvBool("CLASSIFIER_USE_GPU", c.Classifier.UseGPU)
	if c.Monitor.Interval != nil {
		v := getEnvFloat("MONITOR_INTERVAL", *c.Monitor.Interval)
		c.Monitor.Interval = &v
	} else if _, ok := os.LookupEnv("MONITOR_INTERVAL"); ok {
		v := getEnvFloat("MONITOR_INTERVAL", 0)
		c.Monitor.Interval = &v
	}
}

// Validate reports every missing or out-of-range setting in one error.
func (c *Config) Validate() error {
	var missing, invalid []string

	if c.Region == nil {
		missing = append(missing, "monitor_region")
	} else {
		if c.Region.Width <= 0 {
			invalid = append(invalid, fmt.Sprintf("monitor_region.width must be > 0 (got %d)", c.Region.Width))
		}
		if c.Region.Height <= 0 {
			invalid = append(invalid, fmt.Sprintf("monitor_region.height must be > 0 (got %d)", c.Region.Height))
		}
		if c.Region.Left < 0 || c.Region.Top < 0 {
			invalid = append(invalid, fmt.Sprintf("monitor_region origin must be non-negative (got %d,%d)", c.Region.Left, c.Region.Top))
		}
	}

	if c.Monitor.Interval == nil {
		missing = append(missing, "monitor.interval")
	} else if v := *c.Monitor.Interval; !(v > 0) || v > MaxIntervalSeconds {
		invalid = append(invalid, fmt.Sprintf("monitor.interval must be within (0, %d] seconds (got %g)", MaxIntervalSeconds, v))
	}
	if strings.TrimSpace(c.Monitor.TriggerKeyword) == "" {
		missing = append(missing, "monitor.trigger_keyword")
	}
	if c.Monitor.SimilarityDistance < 0 {
		invalid = append(invalid, "monitor.similarity_distance must be >= 0")
	}

	if strings.TrimSpace(c.Storage.SaveDir) == "" {
		missing = append(missing, "storage.save_dir")
	}
	switch strings.ToLower(c.Storage.Format) {
	case FormatPNG, FormatJPG, "jpeg":
	default:
		invalid = append(invalid, fmt.Sprintf("storage.format must be png or jpg (got %q)", c.Storage.Format))
	}
	if c.Storage.Quality < 1 || c.Storage.Quality > 100 {
		invalid = append(invalid, fmt.Sprintf("storage.quality must be within 1-100 (got %d)", c.Storage.Quality))
	}
	if c.Storage.DateFormat == "" {
		invalid = append(invalid, "storage.date_format must not be empty")
	}
	if c.Storage.HistoryFile == "" || strings.ContainsAny(c.Storage.HistoryFile, `/\`) {
		invalid = append(invalid, fmt.Sprintf("storage.history_file must be a plain file name (got %q)", c.Storage.HistoryFile))
	}

	if strings.TrimSpace(c.Storage.LogsDir) == "" {
		invalid = append(invalid, "storage.logs_dir must not be empty")
	}

	if c.Capture.Timeout <= 0 {
		invalid = append(invalid, "capture.timeout must be > 0")
	}
	if c.Capture.CalibrationOutput == "" {
		invalid = append(invalid, "capture.calibration_output must not be empty")
	}

	switch c.OCR.Backend {
	case BackendTesseract, BackendRemote:
	default:
		invalid = append(invalid, fmt.Sprintf("ocr.backend must be %s or %s (got %q)", BackendTesseract, BackendRemote, c.OCR.Backend))
	}
	if c.OCR.MinConfidence < 0 || c.OCR.MinConfidence > 1 {
		invalid = append(invalid, fmt.Sprintf("ocr.min_confidence must be within 0-1 (got %g)", c.OCR.MinConfidence))
	}
	if c.OCR.Timeout <= 0 {
		invalid = append(invalid, "ocr.timeout must be > 0")
	}

	if c.Classifier.Enabled {
		if !validModelTypes[c.Classifier.ModelType] {
			invalid = append(invalid, fmt.Sprintf("image_classifier.model_type %q is not supported", c.Classifier.ModelType))
		}
		if c.Classifier.Timeout <= 0 {
			invalid = append(invalid, "image_classifier.timeout must be > 0")
		}
	}
	if (c.Classifier.Enabled || c.OCR.Backend == BackendRemote) && c.Inference.Addr == "" {
		missing = append(missing, "inference.addr")
	}

	if len(missing) > 0 {
		err := apperrors.Newf(apperrors.ConfigMissing, "missing required settings: %s", strings.Join(missing, ", "))
		if len(invalid) > 0 {
			err.WithMetadata("invalid", strings.Join(invalid, "; "))
		}
		return err
	}
	if len(invalid) > 0 {
		return apperrors.Newf(apperrors.ConfigInvalid, "invalid settings: %s", strings.Join(invalid, "; "))
	}
	return nil
}

func (c *Config) normalize() {
	c.Storage.Format = strings.ToLower(c.Storage.Format)
	if c.Storage.Format == "jpeg" {
		c.Storage.Format = FormatJPG
	}
	c.Monitor.TriggerKeyword = strings.TrimSpace(c.Monitor.TriggerKeyword)
}

// IntervalDuration returns the cycle cadence.
func (c *Config) IntervalDuration() time.Duration {
	if c.Monitor.Interval == nil {
		return 0
	}
	return time.Duration(*c.Monitor.Interval * float64(time.Second))
}

// Path returns the config file path from LIVETAG_CONFIG or the default.
func Path() string {
	return getEnv("LIVETAG_CONFIG", DefaultPath)
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getEnvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		return v == "true" || v == "1"
	}
	return def
}
