package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrMissingOption is returned by Validate when a required option is empty.
var ErrMissingOption = errors.New("missing required option")

// DefaultPath is where the CLI looks for a config file when --config is not given.
const DefaultPath = "faceclari.yaml"

// Config holds every option consumed by the matching engine and the CLI.
type Config struct {
	Recognition RecognitionConfig `yaml:"recognition"`
	Dirs        DirsConfig        `yaml:"dir"`
	Vision      VisionConfig      `yaml:"vision"`
	Scan        ScanConfig        `yaml:"scan"`
	Database    DatabaseConfig    `yaml:"database"`
	MQTT        MQTTConfig        `yaml:"mqtt"`
}

type RecognitionConfig struct {
	Tolerance     float64 `yaml:"tolerance"`
	DrawRectangle bool    `yaml:"drawrect"`
	RectThickness int     `yaml:"rect_thickness"`
	Model         string  `yaml:"model"` // hog or cnn
}

type DirsConfig struct {
	Known   string `yaml:"sample"`
	Matched string `yaml:"matched"`
	Scan    string `yaml:"scandir"`
}

type VisionConfig struct {
	Provider      string `yaml:"provider"` // python or dlib
	PythonWorker  string `yaml:"python_worker"`
	ModelDir      string `yaml:"model_dir"` // dlib model files
	WorkerTimeout string `yaml:"worker_timeout"`
}

type ScanConfig struct {
	Workers    int      `yaml:"workers"`
	Extensions []string `yaml:"extensions"`
	Progress   bool     `yaml:"progress"`
}

type DatabaseConfig struct {
	URL string `yaml:"url"` // optional; enables the match ledger
}

type MQTTConfig struct {
	Broker string `yaml:"broker"` // optional; enables match notifications
	Topic  string `yaml:"topic"`
}

// Default returns the configuration used when neither file nor environment set a value.
func Default() *Config {
	return &Config{
		Recognition: RecognitionConfig{
			Tolerance:     0.45,
			DrawRectangle: true,
			RectThickness: 2,
			Model:         "hog",
		},
		Dirs: DirsConfig{
			Known:   "sample_faces",
			Matched: "matched_faces",
			Scan:    "scan",
		},
		Vision: VisionConfig{
			Provider:      "python",
			PythonWorker:  "python/worker.py",
			ModelDir:      "models",
			WorkerTimeout: "60s",
		},
		Scan: ScanConfig{
			Workers:    1,
			Extensions: []string{".jpg", ".jpeg", ".png"},
			Progress:   true,
		},
		MQTT: MQTTConfig{
			Topic: "faceclari/matches",
		},
	}
}

// Load reads the YAML file at path on top of the defaults, then applies FACECLARI_* environment
// overrides. A missing file is not an error: the defaults and environment still apply.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
			}
		case errors.Is(err, os.ErrNotExist):
		default:
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	envString("FACECLARI_KNOWN_DIR", &c.Dirs.Known)
	envString("FACECLARI_MATCHED_DIR", &c.Dirs.Matched)
	envString("FACECLARI_SCAN_DIR", &c.Dirs.Scan)
	envString("FACECLARI_MODEL", &c.Recognition.Model)
	envString("FACECLARI_PROVIDER", &c.Vision.Provider)
	envString("FACECLARI_PYTHON_WORKER", &c.Vision.PythonWorker)
	envString("FACECLARI_MODEL_DIR", &c.Vision.ModelDir)
	envString("DATABASE_URL", &c.Database.URL)
	envString("MQTT_BROKER", &c.MQTT.Broker)
	envString("MQTT_TOPIC", &c.MQTT.Topic)

	if s := os.Getenv("FACECLARI_TOLERANCE"); s != "" {
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return fmt.Errorf("invalid FACECLARI_TOLERANCE %q: %w", s, err)
		}
		c.Recognition.Tolerance = v
	}
	if s := os.Getenv("FACECLARI_DRAW_RECT"); s != "" {
		v, err := strconv.ParseBool(s)
		if err != nil {
			return fmt.Errorf("invalid FACECLARI_DRAW_RECT %q: %w", s, err)
		}
		c.Recognition.DrawRectangle = v
	}
	if s := os.Getenv("FACECLARI_WORKERS"); s != "" {
		v, err := strconv.Atoi(s)
		if err != nil {
			return fmt.Errorf("invalid FACECLARI_WORKERS %q: %w", s, err)
		}
		c.Scan.Workers = v
	}
	return nil
}

func envString(key string, dst *string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

// WorkerTimeout parses Vision.WorkerTimeout. Validate guarantees it parses.
func (c *Config) WorkerTimeout() time.Duration {
	d, _ := time.ParseDuration(c.Vision.WorkerTimeout)
	return d
}

// Validate checks required options and value ranges. It runs before any file is touched.
func (c *Config) Validate() error {
	required := map[string]string{
		"dir.sample":  c.Dirs.Known,
		"dir.matched": c.Dirs.Matched,
		"dir.scandir": c.Dirs.Scan,
	}
	for _, key := range []string{"dir.sample", "dir.matched", "dir.scandir"} {
		if strings.TrimSpace(required[key]) == "" {
			return fmt.Errorf("%w: %s", ErrMissingOption, key)
		}
	}

	// Written as !(t > 0) so NaN is rejected too.
	if t := c.Recognition.Tolerance; !(t > 0) || math.IsInf(t, 0) {
		return fmt.Errorf("invalid tolerance: must be a finite number > 0, got %f", t)
	}
	if c.Recognition.Model != "hog" && c.Recognition.Model != "cnn" {
		return fmt.Errorf("invalid model '%s'. Must be 'hog' or 'cnn'", c.Recognition.Model)
	}
	if c.Recognition.RectThickness < 1 {
		c.Recognition.RectThickness = 1
	}
	if c.Vision.Provider != "python" && c.Vision.Provider != "dlib" {
		return fmt.Errorf("invalid provider '%s'. Must be 'python' or 'dlib'", c.Vision.Provider)
	}
	if _, err := time.ParseDuration(c.Vision.WorkerTimeout); err != nil {
		return fmt.Errorf("invalid worker_timeout format (use '30s', '1m'): %w", err)
	}
	if c.Scan.Workers < 1 {
		c.Scan.Workers = 1
	}
	if len(c.Scan.Extensions) == 0 {
		return fmt.Errorf("%w: scan.extensions", ErrMissingOption)
	}
	return nil
}
