// Package pipeline runs the capture/detect/count loop. A single worker
// goroutine owns the camera and the counters and publishes immutable state
// snapshots through an atomic pointer; HTTP handlers never touch mutable
// loop state directly.
package pipeline

import (
	"bytes"
	"errors"
	"image"
	"image/jpeg"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/andresvm/person-counter/internal/config"
	"github.com/andresvm/person-counter/internal/counter"
	"github.com/andresvm/person-counter/internal/eventlog"
	"github.com/andresvm/person-counter/internal/logger"
	"github.com/andresvm/person-counter/internal/metrics"
	"github.com/andresvm/person-counter/internal/overlay"
	"github.com/andresvm/person-counter/pkg/types"
)

const moduleName = "pipeline"

var (
	// ErrAlreadyRunning is returned by Start while a session is active.
	ErrAlreadyRunning = errors.New("detection already running")
	// ErrDetectorNotLoaded is returned by Start when the model never loaded.
	ErrDetectorNotLoaded = errors.New("detector model not loaded")
)

const (
	jpegQuality = 75
	// fpsRecalcEvery sets how many processed frames pass between FPS
	// recalculations.
	fpsRecalcEvery = 10
	// fpsWindow bounds the number of frame intervals kept for the FPS median.
	fpsWindow = 30
)

// Detector runs person detection on one frame.
type Detector interface {
	Loaded() bool
	Detect(frame *image.RGBA, confThreshold, nmsThreshold float64) []types.Detection
}

// FrameSource produces frames for the detection loop. internal/camera
// provides the OpenCV-backed implementation.
type FrameSource interface {
	Read() (*image.RGBA, error)
	Close() error
}

// SourceFactory opens the capture device for a new session.
type SourceFactory func() (FrameSource, error)

// FramePublisher receives annotated JPEG frames for fanout to stream clients.
// Annotation and encoding are skipped while HasClients reports false.
type FramePublisher interface {
	HasClients() bool
	Publish(frame []byte)
}

// Pipeline coordinates a detection session.
type Pipeline struct {
	cfg        config.Config
	det        Detector
	openSource SourceFactory
	counter    *counter.Counter
	events     *eventlog.Log
	mets       *metrics.Metrics
	publisher  FramePublisher

	mu        sync.Mutex
	running   bool
	sessionID string
	stop      chan struct{}
	done      chan struct{}

	// Tunable at runtime from the UI.
	confidence float64
	nms        float64
	frameSkip  int

	framesCaptured atomic.Uint64
	snapshot       atomic.Pointer[types.Snapshot]

	// loopDelay paces the loop when the device delivers faster than the
	// configured rate.
	loopDelay time.Duration
}

// New creates a stopped pipeline.
func New(cfg config.Config, det Detector, open SourceFactory, events *eventlog.Log, mets *metrics.Metrics) *Pipeline {
	p := &Pipeline{
		cfg:        cfg,
		det:        det,
		openSource: open,
		counter:    counter.New(cfg.Detector.SmoothWindow),
		events:     events,
		mets:       mets,
		confidence: config.ClampConfidence(cfg.Detector.ConfidenceThreshold),
		nms:        cfg.Detector.NMSThreshold,
		frameSkip:  config.ClampFrameSkip(cfg.Detector.FrameSkip),
		loopDelay:  30 * time.Millisecond,
	}
	p.counter.SetLoaded(det.Loaded())
	p.publishSnapshot(nil, 0)
	return p
}

// SetPublisher attaches the stream fanout. Must be called before Start.
func (p *Pipeline) SetPublisher(pub FramePublisher) {
	p.publisher = pub
}

// Start opens the camera and launches the worker goroutine.
func (p *Pipeline) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return ErrAlreadyRunning
	}
	if !p.det.Loaded() {
		return ErrDetectorNotLoaded
	}

	src, err := p.openSource()
	if err != nil {
		p.events.Append("camera open failed: %v", err)
		return err
	}

	p.sessionID = uuid.NewString()
	p.stop = make(chan struct{})
	p.done = make(chan struct{})
	p.running = true
	p.framesCaptured.Store(0)

	logger.Info(moduleName, "detection started (session %s)", p.sessionID)
	p.events.Append("detection started")

	go p.run(src, p.stop, p.done)
	return nil
}

// Stop signals the worker and waits for it to exit. Stopping a stopped
// pipeline is a no-op.
func (p *Pipeline) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	stop, done := p.stop, p.done
	p.mu.Unlock()

	close(stop)
	<-done

	p.mu.Lock()
	p.running = false
	p.mu.Unlock()

	logger.Info(moduleName, "detection stopped")
	p.events.Append("detection stopped")
	p.publishSnapshot(p.latestDetection(), 0)
}

// Reset zeroes the occupancy counters without interrupting the session.
func (p *Pipeline) Reset() {
	p.counter.Reset()
	p.mets.UpdateOccupancy(0, 0, 0)
	p.events.Append("counters reset")

	snap := p.snapshot.Load()
	fps := 0.0
	if snap != nil {
		fps = snap.Pipeline.CurrentFPS
	}
	p.publishSnapshot(nil, fps)
}

// Running reports whether a session is active.
func (p *Pipeline) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

// Snapshot returns the latest published state. Never nil.
func (p *Pipeline) Snapshot() *types.Snapshot {
	return p.snapshot.Load()
}

// SetConfidence clamps and applies a new confidence threshold, returning the
// value in effect.
func (p *Pipeline) SetConfidence(v float64) float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.confidence = config.ClampConfidence(v)
	return p.confidence
}

// SetFrameSkip clamps and applies a new frame-skip value, returning the value
// in effect.
func (p *Pipeline) SetFrameSkip(v int) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.frameSkip = config.ClampFrameSkip(v)
	return p.frameSkip
}

// Settings returns the tunables currently in effect.
func (p *Pipeline) Settings() (confidence, nms float64, frameSkip int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.confidence, p.nms, p.frameSkip
}

func (p *Pipeline) run(src FrameSource, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	defer src.Close()

	var latest *types.DetectionResult
	var lastDetections []types.Detection
	var intervals []float64
	lastFrame := time.Now()
	processed := 0
	fps := 0.0

	for {
		select {
		case <-stop:
			return
		default:
		}

		frame, err := src.Read()
		if err != nil {
			logger.Error(moduleName, "camera read error: %v", err)
			p.events.Append("camera read error: %v", err)
			p.mets.CameraReadErrors.Add(1)
			p.markLoopFinished()
			return
		}

		frameIdx := p.framesCaptured.Add(1)
		p.mets.FramesCaptured.Add(1)
		p.counter.IncFrames()

		now := time.Now()
		intervals = append(intervals, now.Sub(lastFrame).Seconds())
		if len(intervals) > fpsWindow {
			intervals = intervals[1:]
		}
		lastFrame = now

		conf, nms, skip := p.Settings()

		if (frameIdx-1)%uint64(skip) == 0 {
			start := time.Now()
			dets := p.det.Detect(frame, conf, nms)
			p.mets.UpdateInferenceLatency(time.Since(start))
			p.mets.FramesProcessed.Add(1)
			processed++

			_, arrivals := p.counter.Update(len(dets))
			if arrivals > 0 {
				p.events.Append("%d new person(s) detected", arrivals)
			}
			stats := p.counter.Stats()
			p.mets.UpdateOccupancy(stats.CurrentPersons, stats.TotalCounted, stats.MaxSimultaneous)

			lastDetections = dets
			latest = &types.DetectionResult{
				FrameNumber:   frameIdx,
				Timestamp:     float64(now.UnixNano()) / 1e9,
				NumDetections: len(dets),
				Detections:    dets,
			}

			if processed%fpsRecalcEvery == 0 {
				fps = estimateFPS(intervals)
			}
			p.publishSnapshot(latest, fps)
		}

		if p.publisher != nil && p.publisher.HasClients() {
			overlay.Annotate(frame, lastDetections, p.counter.Stats())
			var buf bytes.Buffer
			if err := jpeg.Encode(&buf, frame, &jpeg.Options{Quality: jpegQuality}); err != nil {
				logger.Warn(moduleName, "jpeg encode failed: %v", err)
			} else {
				p.publisher.Publish(buf.Bytes())
				p.mets.FramesPublished.Add(1)
			}
		} else {
			p.mets.FramesDropped.Add(1)
		}

		select {
		case <-stop:
			return
		case <-time.After(p.loopDelay):
		}
	}
}

// markLoopFinished records a self-terminated session (camera failure).
func (p *Pipeline) markLoopFinished() {
	p.mu.Lock()
	p.running = false
	p.mu.Unlock()

	logger.Warn(moduleName, "detection loop finished")
	p.events.Append("detection loop finished")
	p.publishSnapshot(p.latestDetection(), 0)
}

func (p *Pipeline) latestDetection() *types.DetectionResult {
	if snap := p.snapshot.Load(); snap != nil {
		return snap.LatestDetection
	}
	return nil
}

func (p *Pipeline) publishSnapshot(latest *types.DetectionResult, fps float64) {
	p.mu.Lock()
	running := p.running
	sessionID := p.sessionID
	p.mu.Unlock()

	snap := &types.Snapshot{
		Pipeline: types.PipelineStats{
			Running:        running,
			SessionID:      sessionID,
			FramesCaptured: p.framesCaptured.Load(),
			CurrentFPS:     fps,
			DetectorLoaded: p.det.Loaded(),
		},
		Occupancy:       p.counter.Stats(),
		Session:         p.counter.Session(),
		LatestDetection: latest,
		CapturedAt:      time.Now(),
	}
	p.snapshot.Store(snap)
}

// estimateFPS derives a frame rate from the median of recent frame intervals.
// The median shrugs off the occasional stall that would skew a mean.
func estimateFPS(intervals []float64) float64 {
	if len(intervals) == 0 {
		return 0
	}
	sorted := make([]float64, len(intervals))
	copy(sorted, intervals)
	sort.Float64s(sorted)
	m := sorted[len(sorted)/2]
	if m <= 0 {
		return 0
	}
	return 1.0 / m
}
