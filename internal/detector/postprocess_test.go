package detector

import (
	"image"
	"testing"
)

// row builds one YOLO output row: normalized center box plus class scores.
func row(cx, cy, w, h float32, scores ...float32) []float32 {
	out := []float32{cx, cy, w, h, 1.0}
	return append(out, scores...)
}

func TestFilterCandidatesKeepsConfidentPersons(t *testing.T) {
	// Person centered in a 640x480 frame, half the frame wide and tall.
	data := row(0.5, 0.5, 0.5, 0.5, 0.9, 0.1, 0.05)
	cands := filterCandidates(data, len(data), 640, 480, 0.4, 0)

	if len(cands) != 1 {
		t.Fatalf("got %d candidates, want 1", len(cands))
	}
	want := image.Rect(160, 120, 480, 360)
	if cands[0].rect != want {
		t.Errorf("rect = %v, want %v", cands[0].rect, want)
	}
	if cands[0].score != 0.9 {
		t.Errorf("score = %v, want 0.9", cands[0].score)
	}
}

func TestFilterCandidatesDropsLowConfidence(t *testing.T) {
	data := row(0.5, 0.5, 0.2, 0.2, 0.3, 0.1)
	if cands := filterCandidates(data, len(data), 640, 480, 0.4, 0); len(cands) != 0 {
		t.Fatalf("low-confidence row survived: %v", cands)
	}

	// Score equal to the threshold is not enough.
	data = row(0.5, 0.5, 0.2, 0.2, 0.4, 0.1)
	if cands := filterCandidates(data, len(data), 640, 480, 0.4, 0); len(cands) != 0 {
		t.Fatalf("threshold-equal row survived: %v", cands)
	}
}

func TestFilterCandidatesDropsOtherClasses(t *testing.T) {
	// Top class is index 2, confidently. Not a person even though the person
	// score alone would pass the threshold.
	data := row(0.5, 0.5, 0.2, 0.2, 0.5, 0.1, 0.8)
	if cands := filterCandidates(data, len(data), 640, 480, 0.4, 0); len(cands) != 0 {
		t.Fatalf("non-person row survived: %v", cands)
	}
}

func TestFilterCandidatesMultipleRows(t *testing.T) {
	cols := 7
	var data []float32
	data = append(data, row(0.25, 0.25, 0.1, 0.2, 0.8, 0.0)...) // person
	data = append(data, row(0.75, 0.75, 0.1, 0.2, 0.2, 0.0)...) // too weak
	data = append(data, row(0.5, 0.5, 0.1, 0.2, 0.1, 0.9)...)   // wrong class
	data = append(data, row(0.5, 0.25, 0.2, 0.4, 0.6, 0.3)...)  // person

	cands := filterCandidates(data, cols, 320, 320, 0.4, 0)
	if len(cands) != 2 {
		t.Fatalf("got %d candidates, want 2", len(cands))
	}
}

func TestFilterCandidatesDegenerateInput(t *testing.T) {
	if cands := filterCandidates(nil, 7, 640, 480, 0.4, 0); cands != nil {
		t.Fatalf("nil data produced candidates: %v", cands)
	}
	// Too few columns for a class score section.
	if cands := filterCandidates(make([]float32, 5), 5, 640, 480, 0.4, 0); cands != nil {
		t.Fatalf("degenerate row produced candidates: %v", cands)
	}
}

func TestArgmax(t *testing.T) {
	idx, score := argmax([]float32{0.1, 0.7, 0.3})
	if idx != 1 || score != 0.7 {
		t.Fatalf("argmax = (%d, %v), want (1, 0.7)", idx, score)
	}
	// All-zero scores resolve to index 0 with score 0.
	idx, score = argmax([]float32{0, 0})
	if idx != 0 || score != 0 {
		t.Fatalf("argmax zeros = (%d, %v)", idx, score)
	}
}
