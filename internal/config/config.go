package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/mcuadros/go-defaults"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Database DatabaseConfig `yaml:"database"`
	Face     FaceConfig     `yaml:"face"`
	Web      WebConfig      `yaml:"web"`
	Log      LogConfig      `yaml:"log"`
}

type DatabaseConfig struct {
	URL           string `yaml:"url"`                           // postgres:// or mysql:// connection URL
	MaxOpenConns  int    `yaml:"max_open_conns" default:"25"`   // Maximum open connections
	MaxIdleConns  int    `yaml:"max_idle_conns" default:"5"`    // Maximum idle connections
	HNSWIndexPath string `yaml:"hnsw_index_path"`               // Path to persist the descriptor index (optional)
	IndexMinSize  int    `yaml:"index_min_size" default:"5000"` // Known-set size at which the HNSW prefilter is used
}

type FaceConfig struct {
	ModelsDir          string  `yaml:"models_dir" default:"models"`
	DetectorModel      string  `yaml:"detector_model" default:"face_detection_yunet_2023mar.onnx"`
	RecognizerModel    string  `yaml:"recognizer_model" default:"face_recognition_sface_2021dec.onnx"`
	DetectionThreshold float64 `yaml:"detection_threshold" default:"0.4"`
	MatchThreshold     float64 `yaml:"match_threshold" default:"0.45"`
	DownscaleSide      int     `yaml:"downscale_side" default:"640"`
	GrayscaleRetry     bool    `yaml:"grayscale_retry" default:"true"`
	UploadDir          string  `yaml:"upload_dir" default:"uploads"` // where bare photo filenames are resolved
}

// DetectorPath returns the detector model location resolved against ModelsDir.
func (c *FaceConfig) DetectorPath() string {
	return resolveModelPath(c.ModelsDir, c.DetectorModel)
}

// RecognizerPath returns the recognizer model location resolved against ModelsDir.
func (c *FaceConfig) RecognizerPath() string {
	return resolveModelPath(c.ModelsDir, c.RecognizerModel)
}

func resolveModelPath(dir, name string) string {
	if filepath.IsAbs(name) || dir == "" {
		return name
	}
	return filepath.Join(dir, name)
}

type WebConfig struct {
	Host           string   `yaml:"host" default:"0.0.0.0"`
	Port           int      `yaml:"port" default:"8080"`
	APIToken       string   `yaml:"api_token"`       // bearer token required on /api/v1 when set
	AllowedOrigins []string `yaml:"allowed_origins"` // CORS origins besides localhost
}

type LogConfig struct {
	File       string `yaml:"file"`                     // rotatelogs pattern, e.g. /var/log/facelookup.%Y%m%d.log
	Verbosity  int    `yaml:"verbosity" default:"0"`    // logr V-level enabled on stderr
	MaxAgeDays int    `yaml:"max_age_days" default:"7"` // rotated files older than this are removed
}

// envInt reads an environment variable and parses it as a positive integer.
// Returns the default value if the env var is unset, empty, or invalid.
func envInt(key string, defaultVal int) int {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if n, err := strconv.Atoi(s); err == nil && n > 0 {
		return n
	}
	return defaultVal
}

// envFloat reads an environment variable as a float. An unparsable value is
// an error; range checks are left to Validate.
func envFloat(key string, defaultVal float64) (float64, error) {
	s := strings.TrimSpace(os.Getenv(key))
	if s == "" {
		return defaultVal, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return defaultVal, fmt.Errorf("%s: invalid number %q", key, s)
	}
	return f, nil
}

// envBool reads an environment variable as a bool (1/0, true/false).
func envBool(key string, defaultVal bool) bool {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if b, err := strconv.ParseBool(s); err == nil {
		return b
	}
	return defaultVal
}

func envString(key, defaultVal string) string {
	if s := os.Getenv(key); s != "" {
		return s
	}
	return defaultVal
}

// envList reads a comma-separated environment variable, dropping empty items.
func envList(key string) []string {
	var out []string
	for item := range strings.SplitSeq(os.Getenv(key), ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// Load builds the configuration from struct defaults, the optional YAML file
// named by CONFIG_FILE, and environment variables (highest priority).
func Load() (*Config, error) {
	cfg := &Config{}
	defaults.SetDefaults(cfg)

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path) //nolint:gosec // path is from trusted config
	if err != nil {
		return fmt.Errorf("reading config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parsing config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() error {
	detection, errDetection := envFloat("FACE_DETECTION_THRESHOLD", c.Face.DetectionThreshold)
	match, errMatch := envFloat("FACE_MATCH_THRESHOLD", c.Face.MatchThreshold)
	if err := errors.Join(errDetection, errMatch); err != nil {
		return fmt.Errorf("invalid environment: %w", err)
	}

	c.Database = DatabaseConfig{
		URL:           envString("DATABASE_URL", c.Database.URL),
		MaxOpenConns:  envInt("DATABASE_MAX_OPEN_CONNS", c.Database.MaxOpenConns),
		MaxIdleConns:  envInt("DATABASE_MAX_IDLE_CONNS", c.Database.MaxIdleConns),
		HNSWIndexPath: envString("HNSW_INDEX_PATH", c.Database.HNSWIndexPath),
		IndexMinSize:  envInt("FACE_INDEX_MIN_SIZE", c.Database.IndexMinSize),
	}
	c.Face = FaceConfig{
		ModelsDir:          envString("FACE_MODELS_DIR", c.Face.ModelsDir),
		DetectorModel:      envString("FACE_DETECTOR_MODEL", c.Face.DetectorModel),
		RecognizerModel:    envString("FACE_RECOGNIZER_MODEL", c.Face.RecognizerModel),
		DetectionThreshold: detection,
		MatchThreshold:     match,
		DownscaleSide:      envInt("FACE_DOWNSCALE_SIDE", c.Face.DownscaleSide),
		GrayscaleRetry:     envBool("FACE_GRAYSCALE_RETRY", c.Face.GrayscaleRetry),
		UploadDir:          envString("UPLOAD_FOLDER", c.Face.UploadDir),
	}
	c.Web.Host = envString("WEB_HOST", c.Web.Host)
	c.Web.Port = envInt("WEB_PORT", c.Web.Port)
	c.Web.APIToken = envString("WEB_API_TOKEN", c.Web.APIToken)
	if origins := envList("WEB_ALLOWED_ORIGINS"); len(origins) > 0 {
		c.Web.AllowedOrigins = origins
	}
	c.Log.File = envString("LOG_FILE", c.Log.File)
	c.Log.Verbosity = envInt("LOG_VERBOSITY", c.Log.Verbosity)
	c.Log.MaxAgeDays = envInt("LOG_MAX_AGE_DAYS", c.Log.MaxAgeDays)
	return nil
}

// Validate rejects thresholds that cannot produce meaningful results.
func (c *Config) Validate() error {
	if c.Face.DetectionThreshold <= 0 || c.Face.DetectionThreshold >= 1 {
		return fmt.Errorf("face detection threshold must be in (0, 1), got %v", c.Face.DetectionThreshold)
	}
	if c.Face.MatchThreshold <= 0 || c.Face.MatchThreshold > 2 {
		return fmt.Errorf("face match threshold must be in (0, 2], got %v", c.Face.MatchThreshold)
	}
	if c.Face.DownscaleSide <= 0 {
		return errors.New("face downscale side must be positive")
	}
	return nil
}
