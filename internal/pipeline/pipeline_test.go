package pipeline

import (
	"errors"
	"image"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/andresvm/person-counter/internal/config"
	"github.com/andresvm/person-counter/internal/eventlog"
	"github.com/andresvm/person-counter/internal/metrics"
	"github.com/andresvm/person-counter/pkg/types"
)

var errReadFailed = errors.New("camera read failed")

type stubSource struct {
	mu       sync.Mutex
	reads    int
	failFrom int // fail on the Nth read (1-based), 0 = never
	closed   bool
}

func (s *stubSource) Read() (*image.RGBA, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reads++
	if s.failFrom > 0 && s.reads >= s.failFrom {
		return nil, errReadFailed
	}
	return image.NewRGBA(image.Rect(0, 0, 64, 48)), nil
}

func (s *stubSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *stubSource) wasClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

type stubDetector struct {
	loaded  bool
	persons int
}

func (d *stubDetector) Loaded() bool { return d.loaded }

func (d *stubDetector) Detect(frame *image.RGBA, conf, nms float64) []types.Detection {
	dets := make([]types.Detection, d.persons)
	for i := range dets {
		dets[i] = types.Detection{
			ClassName:  "person",
			Confidence: 0.8,
			BBox:       types.BoundingBox{X: 10 * i, Y: 10, W: 8, H: 16},
		}
	}
	return dets
}

type stubPublisher struct {
	clients atomic.Bool
	mu      sync.Mutex
	frames  [][]byte
}

func (p *stubPublisher) HasClients() bool { return p.clients.Load() }

func (p *stubPublisher) Publish(frame []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.frames = append(p.frames, frame)
}

func (p *stubPublisher) published() [][]byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([][]byte(nil), p.frames...)
}

func newTestPipeline(t *testing.T, src *stubSource, det *stubDetector) (*Pipeline, *eventlog.Log) {
	t.Helper()
	cfg := config.Default()
	events := eventlog.New(cfg.Monitor.EventHistory)
	p := New(cfg, det, func() (FrameSource, error) { return src, nil }, events, metrics.New())
	p.loopDelay = time.Millisecond
	return p, events
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestStartRequiresLoadedDetector(t *testing.T) {
	p, _ := newTestPipeline(t, &stubSource{}, &stubDetector{loaded: false})

	if err := p.Start(); !errors.Is(err, ErrDetectorNotLoaded) {
		t.Fatalf("Start() = %v, want ErrDetectorNotLoaded", err)
	}
	if p.Running() {
		t.Fatal("pipeline running after failed start")
	}
}

func TestStartStopSession(t *testing.T) {
	src := &stubSource{}
	p, _ := newTestPipeline(t, src, &stubDetector{loaded: true, persons: 1})

	if err := p.Start(); err != nil {
		t.Fatalf("Start() = %v", err)
	}
	if err := p.Start(); !errors.Is(err, ErrAlreadyRunning) {
		t.Fatalf("second Start() = %v, want ErrAlreadyRunning", err)
	}

	waitFor(t, "frames", func() bool {
		return p.Snapshot().Pipeline.FramesCaptured >= 5
	})

	p.Stop()
	// A second Stop is a no-op.
	p.Stop()

	snap := p.Snapshot()
	if snap.Pipeline.Running {
		t.Error("snapshot still running after Stop")
	}
	if snap.Pipeline.SessionID == "" {
		t.Error("session id not assigned")
	}
	if snap.Occupancy.TotalCounted < 1 {
		t.Errorf("total counted = %d, want >= 1", snap.Occupancy.TotalCounted)
	}
	if !snap.Pipeline.DetectorLoaded {
		t.Error("detector loaded flag lost")
	}
	if !src.wasClosed() {
		t.Error("camera not released after Stop")
	}
}

func TestCameraFailureEndsSession(t *testing.T) {
	src := &stubSource{failFrom: 4}
	p, events := newTestPipeline(t, src, &stubDetector{loaded: true})

	if err := p.Start(); err != nil {
		t.Fatalf("Start() = %v", err)
	}

	waitFor(t, "self-stop", func() bool { return !p.Running() })

	var sawError, sawFinished bool
	for _, ev := range events.Recent() {
		switch {
		case ev.Message == "detection loop finished":
			sawFinished = true
		case len(ev.Message) >= 17 && ev.Message[:17] == "camera read error":
			sawError = true
		}
	}
	if !sawError {
		t.Error("no camera read error event logged")
	}
	if !sawFinished {
		t.Error("no loop finished event logged")
	}
	if !src.wasClosed() {
		t.Error("camera not released after failure")
	}
}

func TestResetClearsCounters(t *testing.T) {
	p, events := newTestPipeline(t, &stubSource{}, &stubDetector{loaded: true, persons: 2})

	if err := p.Start(); err != nil {
		t.Fatalf("Start() = %v", err)
	}
	waitFor(t, "arrivals", func() bool {
		return p.Snapshot().Occupancy.TotalCounted >= 2
	})
	p.Stop()

	p.Reset()

	snap := p.Snapshot()
	if snap.Occupancy.TotalCounted != 0 || snap.Occupancy.MaxSimultaneous != 0 {
		t.Errorf("counters not cleared: %+v", snap.Occupancy)
	}
	var sawReset bool
	for _, ev := range events.Recent() {
		if ev.Message == "counters reset" {
			sawReset = true
		}
	}
	if !sawReset {
		t.Error("no reset event logged")
	}
}

func TestPublishesJPEGFramesOnlyWithClients(t *testing.T) {
	pub := &stubPublisher{}
	p, _ := newTestPipeline(t, &stubSource{}, &stubDetector{loaded: true, persons: 1})
	p.SetPublisher(pub)

	if err := p.Start(); err != nil {
		t.Fatalf("Start() = %v", err)
	}
	defer p.Stop()

	// No clients yet: nothing gets published.
	waitFor(t, "frames", func() bool {
		return p.Snapshot().Pipeline.FramesCaptured >= 3
	})
	if got := len(pub.published()); got != 0 {
		t.Fatalf("published %d frames with no clients", got)
	}

	pub.clients.Store(true)
	waitFor(t, "published frame", func() bool { return len(pub.published()) > 0 })

	frame := pub.published()[0]
	if len(frame) < 2 || frame[0] != 0xFF || frame[1] != 0xD8 {
		t.Fatalf("published frame is not a JPEG (starts %x)", frame[:2])
	}
}

func TestSettingsClamped(t *testing.T) {
	p, _ := newTestPipeline(t, &stubSource{}, &stubDetector{loaded: true})

	if got := p.SetConfidence(0.02); got != config.MinConfidence {
		t.Errorf("SetConfidence(0.02) = %v", got)
	}
	if got := p.SetFrameSkip(50); got != config.MaxFrameSkip {
		t.Errorf("SetFrameSkip(50) = %d", got)
	}

	conf, nms, skip := p.Settings()
	if conf != config.MinConfidence || skip != config.MaxFrameSkip {
		t.Errorf("Settings() = (%v, %v, %d)", conf, nms, skip)
	}
}

func TestEstimateFPS(t *testing.T) {
	if got := estimateFPS(nil); got != 0 {
		t.Errorf("estimateFPS(nil) = %v", got)
	}
	// Steady 50ms intervals with one stall: median ignores the outlier.
	intervals := []float64{0.05, 0.05, 0.05, 0.5, 0.05}
	if got := estimateFPS(intervals); got < 19.9 || got > 20.1 {
		t.Errorf("estimateFPS = %v, want ~20", got)
	}
}
