package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"hdgwatch/internal/readings"
)

const (
	DefaultTable          = "hdg_meter"
	DefaultBucket         = "hackbunker"
	DefaultCatalogFile    = "hdg_format/data.json"
	DefaultLogFile        = "hdg_script.log"
	DefaultScreenshotHour = "0,12"
)

type Config struct {
	Sources     []readings.Source
	Supabase    SupabaseConfig
	Camera      CameraConfig
	Poll        PollConfig
	Log         LogConfig
	MetricsAddr string
}

type SupabaseConfig struct {
	URL    string
	Key    string
	Table  string
	Bucket string
	// DBDSN switches the reading sink from PostgREST to a direct Postgres
	// connection when set.
	DBDSN string
}

type CameraConfig struct {
	StreamAddress string
	Hours         string
	OnStart       bool
	CheckInterval time.Duration
	Warmup        time.Duration
	Timeout       time.Duration
	Quality       int
	FFmpegPath    string
}

type PollConfig struct {
	CatalogFile  string
	Interval     time.Duration
	MaxCooldown  time.Duration
	LoadRetry    time.Duration
	FetchTimeout time.Duration
	Pause        time.Duration
}

type LogConfig struct {
	File          string
	RetentionDays int
	MaxBytes      int64
}

// Enabled reports whether a stream address is configured.
func (c CameraConfig) Enabled() bool {
	return strings.TrimSpace(c.StreamAddress) != ""
}

func (c LogConfig) MaxAge() time.Duration {
	return time.Duration(c.RetentionDays) * 24 * time.Hour
}

// LoadConfig loads envPath into the process environment (a missing file is
// not an error) and builds a validated Config from it.
func LoadConfig(envPath string) (Config, error) {
	if strings.TrimSpace(envPath) != "" {
		if err := godotenv.Load(envPath); err != nil && !errors.Is(err, os.ErrNotExist) {
			return Config{}, fmt.Errorf("load %s: %w", envPath, err)
		}
	}
	cfg, err := FromEnv(os.Getenv)
	if err != nil {
		return Config{}, err
	}
	return cfg, cfg.Validate()
}

// FromEnv reads every recognized variable through getenv. Malformed numbers
// are reported; missing required values are left to Validate.
func FromEnv(getenv func(string) string) (Config, error) {
	e := envReader{getenv: getenv}
	cfg := Config{
		Sources: sourcesFromEnv(getenv),
		Supabase: SupabaseConfig{
			URL:    strings.TrimRight(e.str("SUPABASE_URL", ""), "/"),
			Key:    e.str("SUPABASE_KEY", ""),
			Table:  e.str("SUPABASE_TABLE", DefaultTable),
			Bucket: e.str("SUPABASE_BUCKET", DefaultBucket),
			DBDSN:  e.str("SUPABASE_DB_DSN", ""),
		},
		Camera: CameraConfig{
			StreamAddress: e.str("CAMERA", ""),
			Hours:         e.str("SCREENSHOT_HOURS", DefaultScreenshotHour),
			OnStart:       e.boolean("SCREENSHOT_ON_START", true),
			CheckInterval: e.seconds("SCREENSHOT_CHECK_SECONDS", 60),
			Warmup:        e.seconds("CAPTURE_WARMUP_SECONDS", 2),
			Timeout:       e.seconds("CAPTURE_TIMEOUT_SECONDS", 15),
			Quality:       e.integer("JPEG_QUALITY", 90),
			FFmpegPath:    e.str("FFMPEG_PATH", "ffmpeg"),
		},
		Poll: PollConfig{
			CatalogFile:  e.str("CATALOG_FILE", DefaultCatalogFile),
			Interval:     e.minutes("CYCLE_INTERVAL_MINUTES", 120),
			MaxCooldown:  e.minutes("MAX_COOLDOWN_MINUTES", 0),
			LoadRetry:    e.minutes("LOAD_RETRY_MINUTES", 10),
			FetchTimeout: e.seconds("FETCH_TIMEOUT_SECONDS", 5),
			Pause:        time.Duration(e.integer("FETCH_PAUSE_MS", 1000)) * time.Millisecond,
		},
		Log: LogConfig{
			File:          e.str("LOG_FILE", DefaultLogFile),
			RetentionDays: e.integer("LOG_RETENTION_DAYS", 7),
			MaxBytes:      int64(e.integer("LOG_MAX_BYTES", 0)),
		},
		MetricsAddr: e.str("METRICS_ADDR", ""),
	}
	if len(e.errs) > 0 {
		return cfg, errors.Join(e.errs...)
	}
	return cfg, nil
}

// sourcesFromEnv collects HDGIPn / HDG_NAMEn pairs starting at 1 and stops
// at the first index where neither is set. Indexes 1 and 2 are always
// present so Validate can name them.
func sourcesFromEnv(getenv func(string) string) []readings.Source {
	var sources []readings.Source
	for n := 1; ; n++ {
		addr := strings.TrimSpace(getenv("HDGIP" + strconv.Itoa(n)))
		name := strings.TrimSpace(getenv("HDG_NAME" + strconv.Itoa(n)))
		if addr == "" && name == "" && n > 2 {
			break
		}
		if name == "" {
			name = "Brenner " + strconv.Itoa(n)
		}
		sources = append(sources, readings.Source{Name: name, Address: addr})
	}
	return sources
}

func (c Config) Validate() error {
	var missing []string
	for i, src := range c.Sources {
		if i > 1 {
			break
		}
		if src.Address == "" {
			missing = append(missing, "HDGIP"+strconv.Itoa(i+1))
		}
	}
	if len(c.Sources) < 2 {
		for n := len(c.Sources) + 1; n <= 2; n++ {
			missing = append(missing, "HDGIP"+strconv.Itoa(n))
		}
	}
	if c.Supabase.URL == "" {
		missing = append(missing, "SUPABASE_URL")
	}
	if c.Supabase.Key == "" {
		missing = append(missing, "SUPABASE_KEY")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing essential environment variables: %s", strings.Join(missing, ", "))
	}
	if c.Poll.Interval <= 0 {
		return errors.New("CYCLE_INTERVAL_MINUTES must be positive")
	}
	if c.Poll.LoadRetry <= 0 {
		return errors.New("LOAD_RETRY_MINUTES must be positive")
	}
	if c.Poll.FetchTimeout <= 0 {
		return errors.New("FETCH_TIMEOUT_SECONDS must be positive")
	}
	if c.Camera.Quality < 1 || c.Camera.Quality > 100 {
		return errors.New("JPEG_QUALITY must be between 1 and 100")
	}
	if c.Camera.Enabled() && c.Camera.CheckInterval <= 0 {
		return errors.New("SCREENSHOT_CHECK_SECONDS must be positive")
	}
	return nil
}

type envReader struct {
	getenv func(string) string
	errs   []error
}

func (e *envReader) str(key, def string) string {
	if v := strings.TrimSpace(e.getenv(key)); v != "" {
		return v
	}
	return def
}

func (e *envReader) integer(key string, def int) int {
	raw := strings.TrimSpace(e.getenv(key))
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s: invalid integer %q", key, raw))
		return def
	}
	return v
}

func (e *envReader) boolean(key string, def bool) bool {
	raw := strings.TrimSpace(e.getenv(key))
	if raw == "" {
		return def
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s: invalid boolean %q", key, raw))
		return def
	}
	return v
}

func (e *envReader) seconds(key string, def int) time.Duration {
	return time.Duration(e.integer(key, def)) * time.Second
}

func (e *envReader) minutes(key string, def int) time.Duration {
	return time.Duration(e.integer(key, def)) * time.Minute
}
