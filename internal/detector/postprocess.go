package detector

import "image"

// candidate is one person box that passed the class and confidence filters,
// before non-max suppression.
type candidate struct {
	rect  image.Rectangle
	score float32
}

// filterCandidates scans one raw YOLO output tensor laid out row-major as
// [cx, cy, w, h, objectness, class scores...] with all geometry normalized
// to [0,1]. It keeps rows whose top-scoring class is the person class and
// whose score exceeds confThreshold, converting the normalized center
// geometry into a pixel-space top-left rectangle.
func filterCandidates(data []float32, cols, frameW, frameH int, confThreshold float32, personClass int) []candidate {
	if cols < 6 {
		return nil
	}

	var out []candidate
	for off := 0; off+cols <= len(data); off += cols {
		row := data[off : off+cols]

		classID, score := argmax(row[5:])
		if classID != personClass || score <= confThreshold {
			continue
		}

		cx := int(row[0] * float32(frameW))
		cy := int(row[1] * float32(frameH))
		w := int(row[2] * float32(frameW))
		h := int(row[3] * float32(frameH))
		x := cx - w/2
		y := cy - h/2

		out = append(out, candidate{
			rect:  image.Rect(x, y, x+w, y+h),
			score: score,
		})
	}
	return out
}

func argmax(scores []float32) (int, float32) {
	best := 0
	bestScore := float32(0)
	for i, s := range scores {
		if s > bestScore {
			best = i
			bestScore = s
		}
	}
	return best, bestScore
}
