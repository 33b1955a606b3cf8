// Package detector runs YOLO person detection on camera frames through the
// OpenCV DNN module. The tensor post-processing is kept free of OpenCV types
// so it can be exercised without a loaded network.
package detector

import (
	"fmt"
	"image"
	"sync"

	"gocv.io/x/gocv"

	"github.com/andresvm/person-counter/internal/config"
	"github.com/andresvm/person-counter/internal/logger"
	"github.com/andresvm/person-counter/pkg/types"
)

const moduleName = "detector"

// Detector wraps a YOLO network loaded from Darknet weights.
type Detector struct {
	mu          sync.Mutex
	cfg         config.Detector
	net         gocv.Net
	outputNames []string
	loaded      bool
}

// New returns an unloaded detector. Call Load before Detect.
func New(cfg config.Detector) *Detector {
	return &Detector{cfg: cfg}
}

// Load reads the network from disk and resolves its output layer names.
// On failure the detector stays unloaded and Detect returns no detections.
func (d *Detector) Load() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.loaded {
		return nil
	}
	if err := d.cfg.Validate(); err != nil {
		return err
	}

	net := gocv.ReadNet(d.cfg.WeightsPath, d.cfg.ConfigPath)
	if net.Empty() {
		return fmt.Errorf("read network from %s / %s", d.cfg.WeightsPath, d.cfg.ConfigPath)
	}
	if err := net.SetPreferableBackend(gocv.NetBackendOpenCV); err != nil {
		net.Close()
		return fmt.Errorf("set backend: %w", err)
	}
	if err := net.SetPreferableTarget(gocv.NetTargetCPU); err != nil {
		net.Close()
		return fmt.Errorf("set target: %w", err)
	}

	var names []string
	for _, idx := range net.GetUnconnectedOutLayers() {
		layer := net.GetLayer(idx)
		names = append(names, layer.GetName())
		layer.Close()
	}
	if len(names) == 0 {
		net.Close()
		return fmt.Errorf("network has no unconnected output layers")
	}

	d.net = net
	d.outputNames = names
	d.loaded = true
	logger.Info(moduleName, "model loaded: %s (outputs: %v)", d.cfg.WeightsPath, names)
	return nil
}

// Loaded reports whether the network is ready for inference.
func (d *Detector) Loaded() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.loaded
}

// Detect runs inference on one frame and returns the person detections that
// survive the confidence filter and non-max suppression. Thresholds are
// passed per call so the UI can retune them without reloading the network.
func (d *Detector) Detect(frame *image.RGBA, confThreshold, nmsThreshold float64) []types.Detection {
	if frame == nil {
		return nil
	}

	rgba, err := gocv.ImageToMatRGBA(frame)
	if err != nil {
		logger.Warn(moduleName, "frame conversion failed: %v", err)
		return nil
	}
	defer rgba.Close()

	bgr := gocv.NewMat()
	defer bgr.Close()
	gocv.CvtColor(rgba, &bgr, gocv.ColorRGBAToBGR)

	return d.detectMat(bgr, confThreshold, nmsThreshold)
}

func (d *Detector) detectMat(frame gocv.Mat, confThreshold, nmsThreshold float64) []types.Detection {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.loaded || frame.Empty() {
		return nil
	}

	blob := gocv.BlobFromImage(frame, 1.0/255.0,
		image.Pt(d.cfg.InputWidth, d.cfg.InputHeight),
		gocv.NewScalar(0, 0, 0, 0), true, false)
	defer blob.Close()

	d.net.SetInput(blob, "")
	outputs := d.net.ForwardLayers(d.outputNames)
	defer func() {
		for _, out := range outputs {
			out.Close()
		}
	}()

	frameW, frameH := frame.Cols(), frame.Rows()

	var rects []image.Rectangle
	var scores []float32
	for _, out := range outputs {
		data, err := out.DataPtrFloat32()
		if err != nil {
			logger.Warn(moduleName, "unreadable output tensor: %v", err)
			continue
		}
		for _, c := range filterCandidates(data, out.Cols(), frameW, frameH,
			float32(confThreshold), d.cfg.PersonClassID) {
			rects = append(rects, c.rect)
			scores = append(scores, c.score)
		}
	}
	if len(rects) == 0 {
		return nil
	}

	indices := gocv.NMSBoxes(rects, scores, float32(confThreshold), float32(nmsThreshold))

	detections := make([]types.Detection, 0, len(indices))
	for _, i := range indices {
		r := rects[i]
		detections = append(detections, types.Detection{
			ClassName:  "person",
			Confidence: float64(scores[i]),
			BBox: types.BoundingBox{
				X: r.Min.X,
				Y: r.Min.Y,
				W: r.Dx(),
				H: r.Dy(),
			},
		})
	}
	return detections
}

// Close releases the network. The detector cannot be reused afterwards.
func (d *Detector) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.loaded {
		return nil
	}
	d.loaded = false
	return d.net.Close()
}
