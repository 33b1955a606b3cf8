package types

import "time"

// BoundingBox is a detection rectangle in pixel coordinates (top-left origin).
type BoundingBox struct {
	X int `json:"x"`
	Y int `json:"y"`
	W int `json:"w"`
	H int `json:"h"`
}

// Detection is a single accepted person detection.
type Detection struct {
	ClassName  string      `json:"class_name"`
	Confidence float64     `json:"confidence"`
	BBox       BoundingBox `json:"bbox"`
}

// DetectionResult groups the detections accepted for one processed frame.
type DetectionResult struct {
	FrameNumber   uint64      `json:"frame_number"`
	Timestamp     float64     `json:"timestamp"`
	NumDetections int         `json:"num_detections"`
	Detections    []Detection `json:"detections"`
}

// OccupancyStats is the counter state exposed to the UI layer.
// TotalCounted and MaxSimultaneous are non-decreasing between resets.
type OccupancyStats struct {
	CurrentPersons  int  `json:"current_persons"`
	TotalCounted    int  `json:"total_counted"`
	MaxSimultaneous int  `json:"max_simultaneous"`
	FramesProcessed int  `json:"frames_processed"`
	Loaded          bool `json:"loaded"`
}

// SessionStats aggregates smoothed occupancy over the current session.
type SessionStats struct {
	MeanOccupancy   float64 `json:"mean_occupancy"`
	StddevOccupancy float64 `json:"stddev_occupancy"`
	Samples         int     `json:"samples"`
}

// PipelineStats describes the capture/detection loop.
type PipelineStats struct {
	Running        bool    `json:"running"`
	SessionID      string  `json:"session_id"`
	FramesCaptured uint64  `json:"frames_captured"`
	CurrentFPS     float64 `json:"current_fps"`
	DetectorLoaded bool    `json:"detector_loaded"`
}

// Snapshot is the immutable state published by the pipeline for the UI.
// A new Snapshot replaces the previous one atomically; readers never see
// partially updated counters.
type Snapshot struct {
	Pipeline        PipelineStats    `json:"pipeline"`
	Occupancy       OccupancyStats   `json:"occupancy"`
	Session         SessionStats     `json:"session"`
	LatestDetection *DetectionResult `json:"latest_detection"`
	CapturedAt      time.Time        `json:"-"`
}
