package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/chaos-io/placement/batch"
	"github.com/chaos-io/placement/blend"
	"github.com/chaos-io/placement/config"
	"github.com/chaos-io/placement/inpaint"
	"github.com/chaos-io/placement/rembg"
	"github.com/chaos-io/placement/scheduler"
	"github.com/chaos-io/placement/server"
	"github.com/chaos-io/placement/util"
)

func main() {
	v, err := config.LoadConfig(config.GetEnv("CONFIG_PATH", ""))
	if err != nil {
		logrus.Fatalf("Failed to load config: %v", err)
	}
	cfg, err := config.ParseConfig(v)
	if err != nil {
		logrus.Fatalf("Failed to parse config: %v", err)
	}
	if err := util.SetupLogger(cfg.Log.Level, cfg.Log.Format); err != nil {
		logrus.Fatalf("Failed to setup logger: %v", err)
	}

	remover, err := rembg.New(cfg.Rembg)
	if err != nil {
		logrus.Fatalf("Failed to create background remover: %v", err)
	}

	driver := batch.NewDriver(
		batch.NewLayout(cfg.Workspace),
		remover,
		func(ctx context.Context) (inpaint.Inpainter, error) {
			return inpaint.LoadPipeline(ctx, cfg.Inpaint)
		},
		batch.Options{
			Workers:  cfg.Batch.Workers,
			Prompt:   cfg.Blend.Prompt,
			MaskMode: blend.MaskMode(cfg.Blend.MaskMode),
		},
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Schedule.Cron == "" {
		runOnce(ctx, driver)
		return
	}
	runScheduled(ctx, cfg, driver)
}

func runOnce(ctx context.Context, driver *batch.Driver) {
	logrus.Info("Starting batch processing...")
	summary, err := driver.Run(ctx)
	if err != nil {
		logrus.Fatalf("Batch processing failed: %v", err)
	}
	logrus.WithFields(logrus.Fields{
		"run_id":    summary.RunID,
		"succeeded": summary.Succeeded,
		"failed":    summary.Failed,
	}).Info("Processing complete. Check the output folder.")
}

func runScheduled(ctx context.Context, cfg *config.Config, driver *batch.Driver) {
	sched, err := scheduler.New(driver, cfg.Schedule.Cron)
	if err != nil {
		logrus.Fatalf("Failed to create scheduler: %v", err)
	}
	if err := sched.Start(ctx); err != nil {
		logrus.Fatalf("Failed to start scheduler: %v", err)
	}

	gin.SetMode(cfg.Server.Mode)
	srv := server.New(cfg.Server.Addr, sched)
	go func() {
		if err := srv.Run(); err != nil {
			logrus.Fatalf("Status server failed: %v", err)
		}
	}()

	<-ctx.Done()
	logrus.Info("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logrus.WithError(err).Error("status server shutdown")
	}
	sched.Stop()
	logrus.Info("Server exited")
}
