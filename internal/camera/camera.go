// Package camera opens the capture device and hands frames to the pipeline
// as plain RGBA images, keeping OpenCV types out of the rest of the program.
package camera

import (
	"errors"
	"fmt"
	"image"
	"image/draw"

	"gocv.io/x/gocv"

	"github.com/andresvm/person-counter/internal/config"
	"github.com/andresvm/person-counter/internal/logger"
)

const moduleName = "camera"

// ErrReadFailed is returned when the device stops delivering frames.
var ErrReadFailed = errors.New("camera read failed")

// Camera is a frame source backed by an OpenCV capture device.
type Camera struct {
	cap *gocv.VideoCapture
	mat gocv.Mat
}

// Open acquires the configured device and applies its capture properties.
func Open(cfg config.Camera) (*Camera, error) {
	cap, err := gocv.OpenVideoCapture(cfg.DeviceIndex)
	if err != nil {
		return nil, fmt.Errorf("open camera %d: %w", cfg.DeviceIndex, err)
	}

	cap.Set(gocv.VideoCaptureFrameWidth, float64(cfg.Width))
	cap.Set(gocv.VideoCaptureFrameHeight, float64(cfg.Height))
	cap.Set(gocv.VideoCaptureFPS, float64(cfg.FPS))

	logger.Info(moduleName, "camera %d opened (%dx%d @ %d fps)",
		cfg.DeviceIndex, cfg.Width, cfg.Height, cfg.FPS)

	return &Camera{cap: cap, mat: gocv.NewMat()}, nil
}

// Read grabs the next frame. It returns ErrReadFailed when the device stops
// producing frames; callers treat that as fatal for the session.
func (c *Camera) Read() (*image.RGBA, error) {
	if !c.cap.Read(&c.mat) || c.mat.Empty() {
		return nil, ErrReadFailed
	}

	img, err := c.mat.ToImage()
	if err != nil {
		return nil, fmt.Errorf("convert frame: %w", err)
	}
	return toRGBA(img), nil
}

// Close releases the device and the scratch frame buffer.
func (c *Camera) Close() error {
	c.mat.Close()
	return c.cap.Close()
}

func toRGBA(img image.Image) *image.RGBA {
	if rgba, ok := img.(*image.RGBA); ok {
		return rgba
	}
	b := img.Bounds()
	dst := image.NewRGBA(b)
	draw.Draw(dst, b, img, b.Min, draw.Src)
	return dst
}
