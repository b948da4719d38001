package main

import (
	"context"
	"errors"
	"expvar"
	"fmt"
	"io/fs"
	"log"
	"os"
	"runtime"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"

	"shopcatalog/internal/db"
	"shopcatalog/internal/domain/catalog"
	"shopcatalog/internal/images"
	"shopcatalog/internal/journal"
	"shopcatalog/internal/ratelimiter"
	"shopcatalog/internal/service"
)

// NewLogger creates a zap logger with colored console output. When logFile
// is set, JSON records are also written to a rotating file.
func NewLogger(logFile string) (*zap.SugaredLogger, error) {
	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder

	level := zapcore.InfoLevel
	core := zapcore.NewCore(zapcore.NewConsoleEncoder(encoderCfg), zapcore.AddSync(os.Stdout), level)

	if logFile != "" {
		rotating := &lumberjack.Logger{
			Filename:   logFile,
			MaxSize:    64,
			MaxBackups: 7,
			MaxAge:     7,
		}
		fileCfg := zap.NewProductionEncoderConfig()
		fileCfg.EncodeTime = zapcore.ISO8601TimeEncoder
		core = zapcore.NewTee(
			core,
			zapcore.NewCore(zapcore.NewJSONEncoder(fileCfg), zapcore.AddSync(rotating), level),
		)
	}

	return zap.New(core).Sugar(), nil
}

var version = "1.0.0"

//	@title			Catalog API
//	@description	Product types and products with their images.

//	@contact.name	API Support
//	@contact.url	http://www.swagger.io/support
//	@contact.email	support@swagger.io

//	@license.name	Apache 2.0
//	@license.url	http://www.apache.org/licenses/LICENSE-2.0.html

//	@BasePath					/api
//	@securityDefinitions.basic	BasicAuth

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Fatalf("Error loading .env file: %v", err)
	}

	cfg, err := loadConfig()
	if err != nil {
		log.Fatal(err)
	}

	logger, err := NewLogger(cfg.logFile)
	if err != nil {
		fmt.Println("Error creating logger:", err)
		return
	}
	defer logger.Sync()

	if !cfg.auth.basic.configured() {
		logger.Warn("AUTH_BASIC_USER or AUTH_BASIC_PASS is unset, /health and /debug/vars will reject every request")
	}

	// Database
	conn, err := db.New(
		cfg.db.driver,
		cfg.db.addr,
		cfg.db.maxOpenConns,
		cfg.db.maxIdleConns,
		cfg.db.maxIdleTime,
	)
	if err != nil {
		logger.Fatal(err)
	}
	defer conn.Close()
	logger.Infow("database connection pool established", "driver", cfg.db.driver)

	if err := db.Migrate(context.Background(), conn); err != nil {
		logger.Fatal(err)
	}

	// Images
	imgs, err := newImageStore(cfg)
	if err != nil {
		logger.Fatal(err)
	}

	intents, err := journal.Open(cfg.journalPath)
	if err != nil {
		logger.Fatal(err)
	}
	defer intents.Close()

	catalogSvc := service.New(
		catalog.NewRepository(conn, logger),
		imgs,
		intents,
		logger,
		cfg.itemsPerPage,
	)

	// files of writes interrupted by a crash
	removed, err := catalogSvc.Recover(context.Background())
	if err != nil {
		logger.Fatal(err)
	}
	if removed > 0 {
		logger.Infow("removed files of interrupted writes", "count", removed)
	}

	// Rate limiter
	rateLimiter := ratelimiter.NewFixedWindowLimiter(
		cfg.rateLimiter.RequestsPerTimeFrame,
		cfg.rateLimiter.TimeFrame,
	)
	defer rateLimiter.Stop()

	app := &application{
		config:      cfg,
		logger:      logger,
		catalog:     catalogSvc,
		images:      imgs,
		rateLimiter: rateLimiter,
	}

	//Metrics collected http://localhost:2001/debug/vars
	expvar.NewString("version").Set(version)
	expvar.Publish("database", expvar.Func(func() any {
		return conn.Stats()
	}))
	expvar.Publish("goroutines", expvar.Func(func() any {
		return runtime.NumGoroutine()
	}))

	sched, err := app.startSweeper()
	if err != nil {
		logger.Fatal(err)
	}
	if sched != nil {
		defer sched.Stop()
	}

	mux := app.mount()

	logger.Fatal(app.run(mux))
}

func newImageStore(cfg config) (images.Store, error) {
	switch cfg.images.backend {
	case "local":
		return images.NewLocal(cfg.images.root, cfg.apiURL+"/images")
	case "cloudinary":
		return images.NewCloudinary(cfg.images.cloudinaryURL, cfg.images.folder)
	default:
		return nil, fmt.Errorf("unknown IMAGE_BACKEND %q", cfg.images.backend)
	}
}
