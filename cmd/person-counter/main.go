package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/andresvm/person-counter/internal/camera"
	"github.com/andresvm/person-counter/internal/config"
	"github.com/andresvm/person-counter/internal/detector"
	"github.com/andresvm/person-counter/internal/eventlog"
	"github.com/andresvm/person-counter/internal/logger"
	"github.com/andresvm/person-counter/internal/metrics"
	"github.com/andresvm/person-counter/internal/monitor"
	"github.com/andresvm/person-counter/internal/pipeline"
)

func main() {
	cfg := config.Default()

	var logLevel string
	var logColor bool
	var autoStart bool

	flag.IntVar(&cfg.Camera.DeviceIndex, "camera", cfg.Camera.DeviceIndex, "Camera device index")
	flag.IntVar(&cfg.Camera.Width, "width", cfg.Camera.Width, "Capture width")
	flag.IntVar(&cfg.Camera.Height, "height", cfg.Camera.Height, "Capture height")
	flag.IntVar(&cfg.Camera.FPS, "fps", cfg.Camera.FPS, "Capture frame rate")
	flag.StringVar(&cfg.Detector.WeightsPath, "weights", cfg.Detector.WeightsPath, "YOLO weights file")
	flag.StringVar(&cfg.Detector.ConfigPath, "model-config", cfg.Detector.ConfigPath, "YOLO network config file")
	flag.Float64Var(&cfg.Detector.ConfidenceThreshold, "confidence", cfg.Detector.ConfidenceThreshold, "Detection confidence threshold")
	flag.Float64Var(&cfg.Detector.NMSThreshold, "nms", cfg.Detector.NMSThreshold, "Non-max suppression threshold")
	flag.IntVar(&cfg.Detector.FrameSkip, "frame-skip", cfg.Detector.FrameSkip, "Run inference on every Nth frame")
	flag.IntVar(&cfg.Detector.SmoothWindow, "smooth-window", cfg.Detector.SmoothWindow, "Median smoothing window")
	flag.StringVar(&cfg.Monitor.Addr, "http", cfg.Monitor.Addr, "Monitor HTTP address")
	flag.StringVar(&cfg.Monitor.MetricsAddr, "metrics", cfg.Monitor.MetricsAddr, "Prometheus metrics address")
	flag.BoolVar(&autoStart, "start", false, "Start detection immediately")
	flag.StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error, silent)")
	flag.BoolVar(&logColor, "log-color", true, "Enable colored log output")
	flag.Parse()

	level, err := logger.ParseLevel(logLevel)
	if err != nil {
		log.Fatalf("Invalid log level: %v", err)
	}
	logger.Init(level, os.Stderr, logColor)

	events := eventlog.New(cfg.Monitor.EventHistory)
	mets := metrics.New()

	// A missing model is reported once and leaves detection disabled; the
	// monitor still comes up so the operator can see the error.
	det := detector.New(cfg.Detector)
	if err := det.Load(); err != nil {
		logger.Error("Main", "detector load failed: %v", err)
		events.Append("detector load failed: %v", err)
	}

	openSource := func() (pipeline.FrameSource, error) {
		return camera.Open(cfg.Camera)
	}
	pipe := pipeline.New(cfg, det, openSource, events, mets)

	server := monitor.NewServer(cfg.Monitor, pipe, events, mets)
	pipe.SetPublisher(server.Frames())

	events.Append("application started")
	logger.Info("Main", "monitor listening on %s", cfg.Monitor.Addr)
	logger.Info("Main", "metrics listening on %s", cfg.Monitor.MetricsAddr)
	logger.Info("Main", "log level: %s", level)

	go func() {
		if err := mets.StartServer(cfg.Monitor.MetricsAddr); err != nil && err != http.ErrServerClosed {
			logger.Error("Main", "metrics server error: %v", err)
		}
	}()

	if autoStart {
		if err := pipe.Start(); err != nil {
			logger.Error("Main", "auto-start failed: %v", err)
		}
	}

	httpServer := &http.Server{
		Addr:    cfg.Monitor.Addr,
		Handler: server.Handler(),
	}

	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	logger.Info("Main", "shutting down")
	pipe.Stop()
	server.Close()
	if err := det.Close(); err != nil {
		logger.Warn("Main", "detector close: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Warn("Main", "http shutdown: %v", err)
	}
}
