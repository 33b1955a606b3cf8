// Package config centralizes the tunable parameters of the person counter.
// Values arriving from the UI are clamped to their valid range rather than
// rejected.
package config

import (
	"fmt"
	"os"
	"time"
)

// Detection parameter bounds. Slider input outside these ranges is clamped
// silently.
const (
	MinConfidence = 0.1
	MaxConfidence = 0.9
	MinFrameSkip  = 1
	MaxFrameSkip  = 10
)

// Camera configures the capture device.
type Camera struct {
	DeviceIndex int
	Width       int
	Height      int
	FPS         int
}

// Detector configures the YOLO network and its post-processing.
type Detector struct {
	WeightsPath string
	ConfigPath  string

	InputWidth  int
	InputHeight int

	ConfidenceThreshold float64
	NMSThreshold        float64

	// FrameSkip runs inference on every Nth captured frame.
	FrameSkip int

	// SmoothWindow is the rolling buffer capacity for median smoothing.
	SmoothWindow int

	// PersonClassID is the COCO class index for "person".
	PersonClassID int
}

// Monitor configures the HTTP monitor and metrics endpoints.
type Monitor struct {
	Addr           string
	MetricsAddr    string
	StatusInterval time.Duration
	EventHistory   int
}

// Config is the full application configuration, passed at construction
// instead of read from globals.
type Config struct {
	Camera   Camera
	Detector Detector
	Monitor  Monitor
}

// Default returns the configuration matching the stock YOLOv4-tiny setup.
func Default() Config {
	return Config{
		Camera: Camera{
			DeviceIndex: 0,
			Width:       640,
			Height:      480,
			FPS:         15,
		},
		Detector: Detector{
			WeightsPath:         "yolov4-tiny.weights",
			ConfigPath:          "yolov4-tiny.cfg",
			InputWidth:          320,
			InputHeight:         320,
			ConfidenceThreshold: 0.4,
			NMSThreshold:        0.4,
			FrameSkip:           3,
			SmoothWindow:        5,
			PersonClassID:       0,
		},
		Monitor: Monitor{
			Addr:           ":8080",
			MetricsAddr:    ":9090",
			StatusInterval: 2 * time.Second,
			EventHistory:   100,
		},
	}
}

// ClampConfidence limits a confidence threshold to its valid range.
func ClampConfidence(v float64) float64 {
	if v < MinConfidence {
		return MinConfidence
	}
	if v > MaxConfidence {
		return MaxConfidence
	}
	return v
}

// ClampFrameSkip limits a frame-skip value to its valid range.
func ClampFrameSkip(v int) int {
	if v < MinFrameSkip {
		return MinFrameSkip
	}
	if v > MaxFrameSkip {
		return MaxFrameSkip
	}
	return v
}

// Validate reports the model files missing on disk. The detector cannot be
// loaded until both exist.
func (d Detector) Validate() error {
	var missing []string
	if !fileExists(d.WeightsPath) {
		missing = append(missing, d.WeightsPath)
	}
	if !fileExists(d.ConfigPath) {
		missing = append(missing, d.ConfigPath)
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing model files: %v", missing)
	}
	if d.SmoothWindow < 1 {
		return fmt.Errorf("smooth window must be >= 1, got %d", d.SmoothWindow)
	}
	return nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return !info.IsDir()
}
