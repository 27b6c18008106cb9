// Command compliance runs the regulatory compliance and settlement engine:
// the HTTP boundary plus the daily scheduled monitor runs.
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/pesacore/emoney-compliance/internal/audit"
	"github.com/pesacore/emoney-compliance/internal/availability"
	"github.com/pesacore/emoney-compliance/internal/capital"
	"github.com/pesacore/emoney-compliance/internal/config"
	"github.com/pesacore/emoney-compliance/internal/dormancy"
	"github.com/pesacore/emoney-compliance/internal/server"
	"github.com/pesacore/emoney-compliance/internal/settlement"
	"github.com/pesacore/emoney-compliance/pkg/clock"
	"github.com/pesacore/emoney-compliance/pkg/logger"
	"github.com/pesacore/emoney-compliance/pkg/models"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	flag.Parse()

	// .env is optional; environment variables win either way.
	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		panic(err)
	}

	log, err := logger.New(cfg.Environment, cfg.LogLevel)
	if err != nil {
		panic(err)
	}
	defer func() { _ = log.Sync() }()

	if err := run(cfg, log); err != nil {
		log.Fatal("compliance engine exited", zap.Error(err))
	}
}

func run(cfg *config.Config, log *zap.Logger) error {
	db, err := openDatabase(cfg.Database)
	if err != nil {
		return err
	}
	if err := db.AutoMigrate(models.All()...); err != nil {
		return err
	}

	clk := clock.System{}

	trail, err := audit.NewTrail(db, log.Named("audit"), clk)
	if err != nil {
		return err
	}

	capitalMonitor := capital.NewMonitor(db, log.Named("capital"), clk, cfg.Regulatory, trail)
	dormancyManager := dormancy.NewManager(db, log.Named("dormancy"), clk, cfg.Regulatory, trail)
	availabilityMonitor := availability.NewMonitor(db, log.Named("availability"), clk, cfg.Regulatory, trail)

	// TODO: swap for the PSP rail adapter once provider credentials land.
	rail := settlement.NewLoggingRail(log.Named("rail"))
	settlementProcessor := settlement.NewProcessor(db, log.Named("settlement"), clk, trail, rail, cfg.Regulatory.RailTimeout)

	handler := server.NewHandler(capitalMonitor, dormancyManager, settlementProcessor, availabilityMonitor, log.Named("http"))

	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(ginzap.Ginzap(log.Named("gin"), time.RFC3339, true))
	router.Use(ginzap.RecoveryWithZap(log.Named("gin"), true))
	router.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	router.GET("/metrics", server.MetricsHandler())
	server.Routes(router.Group("/api/v1"), handler)

	// The deployment scheduler owns cadence in production; this in-process
	// cron covers single-node deployments with the same daily runs.
	scheduler := cron.New(cron.WithLocation(time.UTC))
	if _, err := scheduler.AddFunc("20 0 * * *", func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
		defer cancel()
		result, err := dormancyManager.RunDailyDormancyProcessing(ctx)
		if err != nil {
			log.Error("scheduled dormancy processing failed", zap.Error(err))
			return
		}
		for _, n := range result.Notifications {
			log.Info("dormancy notification queued",
				zap.String("wallet_id", n.WalletID.String()),
				zap.String("kind", n.Kind))
		}
	}); err != nil {
		return err
	}
	if _, err := scheduler.AddFunc("30 0 * * *", func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
		defer cancel()
		if _, err := settlementProcessor.RunDailySettlement(ctx); err != nil {
			log.Error("scheduled settlement run failed", zap.Error(err))
		}
	}); err != nil {
		return err
	}
	if _, err := scheduler.AddFunc("0 1 1 * *", func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
		defer cancel()
		// Previous month's report, generated on the first of the month.
		month := clk.Now().AddDate(0, -1, 0).Format(clock.MonthFormat)
		if _, err := dormancyManager.GenerateMonthlyReport(ctx, month); err != nil {
			log.Error("scheduled dormancy report failed", zap.Error(err))
		}
	}); err != nil {
		return err
	}
	scheduler.Start()
	defer scheduler.Stop()

	srv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("compliance engine listening",
			zap.String("addr", cfg.HTTP.Addr),
			zap.String("environment", cfg.Environment))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-stop:
		log.Info("shutting down", zap.String("signal", sig.String()))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return srv.Shutdown(ctx)
}

func openDatabase(cfg config.DatabaseConfig) (*gorm.DB, error) {
	switch cfg.Driver {
	case "postgres":
		return gorm.Open(postgres.Open(cfg.DSN), &gorm.Config{})
	default:
		return gorm.Open(sqlite.Open(cfg.DSN), &gorm.Config{})
	}
}
