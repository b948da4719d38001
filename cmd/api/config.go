package main

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"shopcatalog/internal/db"
	"shopcatalog/internal/params"
	"shopcatalog/internal/ratelimiter"
)

type config struct {
	addr         string
	env          string
	apiURL       string
	db           dbConfig
	images       imagesConfig
	journalPath  string
	sweeper      sweeperConfig
	itemsPerPage int
	logFile      string
	auth         authConfig
	rateLimiter  ratelimiter.Config
}

type dbConfig struct {
	driver       string
	addr         string
	maxOpenConns int
	maxIdleConns int
	maxIdleTime  string
}

type imagesConfig struct {
	backend       string // local or cloudinary
	root          string
	cloudinaryURL string
	folder        string // cloudinary asset folder
}

type sweeperConfig struct {
	schedule string // cron spec, empty disables the sweep
	grace    time.Duration
}

type authConfig struct {
	basic basicConfig
}

type basicConfig struct {
	user string
	pass string
}

// configured reports whether both credentials are set. Routes behind basic
// auth reject every request otherwise.
func (b basicConfig) configured() bool {
	return b.user != "" && b.pass != ""
}

// loadConfig reads the environment. The service starts with no configuration
// at all; basic auth credentials have no default and stay empty until set.
func loadConfig() (config, error) {
	var errs []error
	getInt := func(key string, fallback int) int {
		v, err := envInt(key, fallback)
		if err != nil {
			errs = append(errs, err)
		}
		return v
	}
	getDuration := func(key string, fallback time.Duration) time.Duration {
		v, err := envDuration(key, fallback)
		if err != nil {
			errs = append(errs, err)
		}
		return v
	}

	addr := envString("ADDR", ":2001")
	cfg := config{
		addr:   addr,
		env:    envString("ENV", "development"),
		apiURL: envString("EXTERNAL_URL", "http://localhost"+addr),
		db: dbConfig{
			driver:       envString("DB_DRIVER", db.DriverSQLite),
			addr:         envString("DB_ADDR", "./databases/catalog.db"),
			maxOpenConns: getInt("DB_MAX_OPEN_CONNS", 10),
			maxIdleConns: getInt("DB_MAX_IDLE_CONNS", 10),
			maxIdleTime:  envString("DB_MAX_IDLE_TIME", "15m"),
		},
		images: imagesConfig{
			backend:       envString("IMAGE_BACKEND", "local"),
			root:          envString("IMAGE_ROOT", "./databases/dbimages"),
			cloudinaryURL: os.Getenv("CLOUDINARY_URL"),
			folder:        envString("CLOUDINARY_FOLDER", "catalog"),
		},
		journalPath: envString("JOURNAL_PATH", "./databases/journal.db"),
		sweeper: sweeperConfig{
			schedule: envRaw("ORPHAN_SWEEP_SCHEDULE", "@every 1h"),
			grace:    getDuration("ORPHAN_GRACE", time.Hour),
		},
		itemsPerPage: getInt("ITEMS_PER_PAGE", params.DefaultItemsPerPage),
		logFile:      os.Getenv("LOG_FILE"),
		auth: authConfig{
			basic: basicConfig{
				user: os.Getenv("AUTH_BASIC_USER"),
				pass: os.Getenv("AUTH_BASIC_PASS"),
			},
		},
		rateLimiter: ratelimiter.Config{
			RequestsPerTimeFrame: getInt("RATELIMITER_REQUESTS_COUNT", 200),
			TimeFrame:            5 * time.Second,
			Enabled:              envBool("RATE_LIMITER_ENABLED", false),
		},
	}

	if len(errs) > 0 {
		return cfg, errs[0]
	}
	if cfg.itemsPerPage <= 0 {
		return cfg, fmt.Errorf("ITEMS_PER_PAGE must be positive, got %d", cfg.itemsPerPage)
	}
	if cfg.images.backend == "cloudinary" && cfg.images.cloudinaryURL == "" {
		return cfg, fmt.Errorf("IMAGE_BACKEND=cloudinary requires CLOUDINARY_URL")
	}
	return cfg, nil
}

func envString(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

// envRaw is envString except that a variable set to "" stays empty.
func envRaw(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) (int, error) {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback, fmt.Errorf("invalid value for %s: %w", key, err)
	}
	return n, nil
}

func envDuration(key string, fallback time.Duration) (time.Duration, error) {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback, fmt.Errorf("invalid value for %s: %w", key, err)
	}
	return d, nil
}

// envBool falls back to the default on unparsable values.
func envBool(key string, fallback bool) bool {
	v, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		fmt.Println("Invalid", key, "defaulting to", fallback)
		return fallback
	}
	return b
}
