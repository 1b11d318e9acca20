package detect

import "sort"

// Tracker assigns persistent ids to boxes across consecutive frames by greedy
// IoU matching within the same class.
type Tracker struct {
	iouThreshold float64
	maxAge       int
	nextID       int
	tracks       []track
}

type track struct {
	id     int
	cls    int
	box    [4]float64
	missed int
}

// NewTracker creates a tracker. Tracks unmatched for more than maxAge frames are dropped.
func NewTracker(iouThreshold float64, maxAge int) *Tracker {
	if iouThreshold <= 0 {
		iouThreshold = 0.3
	}
	if maxAge < 0 {
		maxAge = 0
	}
	return &Tracker{iouThreshold: iouThreshold, maxAge: maxAge}
}

// Update matches boxes of the next frame to live tracks and returns a copy of
// boxes with TrackID set.
func (t *Tracker) Update(boxes []Box) []Box {
	out := make([]Box, len(boxes))
	copy(out, boxes)

	type pair struct {
		track, box int
		iou        float64
	}
	var pairs []pair
	for ti, tr := range t.tracks {
		for bi, b := range out {
			if b.Cls != tr.cls {
				continue
			}
			if v := IoU(tr.box, b.XYXY); v >= t.iouThreshold {
				pairs = append(pairs, pair{ti, bi, v})
			}
		}
	}
	sort.SliceStable(pairs, func(i, j int) bool { return pairs[i].iou > pairs[j].iou })

	trackUsed := make([]bool, len(t.tracks))
	boxUsed := make([]bool, len(out))
	for _, p := range pairs {
		if trackUsed[p.track] || boxUsed[p.box] {
			continue
		}
		trackUsed[p.track], boxUsed[p.box] = true, true
		t.tracks[p.track].box = out[p.box].XYXY
		t.tracks[p.track].missed = 0
		out[p.box].TrackID = t.tracks[p.track].id
	}

	live := t.tracks[:0]
	for i, tr := range t.tracks {
		if !trackUsed[i] {
			tr.missed++
		}
		if tr.missed <= t.maxAge {
			live = append(live, tr)
		}
	}
	t.tracks = live

	for i := range out {
		if boxUsed[i] {
			continue
		}
		t.nextID++
		out[i].TrackID = t.nextID
		t.tracks = append(t.tracks, track{id: t.nextID, cls: out[i].Cls, box: out[i].XYXY})
	}
	return out
}

// IoU is the intersection over union of two xyxy boxes.
func IoU(a, b [4]float64) float64 {
	ix := minf(a[2], b[2]) - maxf(a[0], b[0])
	iy := minf(a[3], b[3]) - maxf(a[1], b[1])
	if ix <= 0 || iy <= 0 {
		return 0
	}
	inter := ix * iy
	union := (a[2]-a[0])*(a[3]-a[1]) + (b[2]-b[0])*(b[3]-b[1]) - inter
	if union <= 0 {
		return 0
	}
	return inter / union
}

func minf(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

func maxf(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}
