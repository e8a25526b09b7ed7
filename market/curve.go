package market

import (
	"time"
)

// VolumeCurve is a historical intraday volume profile. An anchored curve has
// absolute bucket times (Start + i*BucketWidth); an unanchored one carries
// only relative weights and is spread evenly over whatever window it is
// applied to.
type VolumeCurve struct {
	Start       time.Time     `json:"start,omitempty" yaml:"start,omitempty"`
	BucketWidth time.Duration `json:"bucket_width,omitempty" yaml:"bucketWidth,omitempty"`
	Volumes     []float64     `json:"volumes" yaml:"volumes"`
}

// Bucket is one curve bucket clipped to a planning window.
type Bucket struct {
	Start  time.Time
	End    time.Time
	Volume float64
}

// Empty reports whether the curve has no buckets.
func (c VolumeCurve) Empty() bool { return len(c.Volumes) == 0 }

// Anchored reports whether bucket times are absolute.
func (c VolumeCurve) Anchored() bool { return !c.Start.IsZero() && c.BucketWidth > 0 }

// Anchor pins an unanchored curve to [start, end). Anchored curves are
// returned unchanged.
func (c VolumeCurve) Anchor(start, end time.Time) VolumeCurve {
	if c.Anchored() || c.Empty() || !end.After(start) {
		return c
	}
	width := end.Sub(start) / time.Duration(len(c.Volumes))
	if width <= 0 {
		width = 1
	}
	vols := make([]float64, len(c.Volumes))
	copy(vols, c.Volumes)
	return VolumeCurve{Start: start, BucketWidth: width, Volumes: vols}
}

// End is the close of the last bucket of an anchored curve.
func (c VolumeCurve) End() time.Time {
	return c.Start.Add(c.BucketWidth * time.Duration(len(c.Volumes)))
}

// Window clips the curve to [start, end). Partially covered buckets keep a
// pro-rata share of their volume. The final bucket is stretched to cover
// sub-bucket rounding left by Anchor.
func (c VolumeCurve) Window(start, end time.Time) []Bucket {
	if c.Empty() || !end.After(start) {
		return nil
	}
	curve := c.Anchor(start, end)
	out := make([]Bucket, 0, len(curve.Volumes))
	for i, v := range curve.Volumes {
		bs := curve.Start.Add(curve.BucketWidth * time.Duration(i))
		be := bs.Add(curve.BucketWidth)
		if i == len(curve.Volumes)-1 && !c.Anchored() {
			be = end
		}
		s, e := maxTime(bs, start), minTime(be, end)
		if !e.After(s) {
			continue
		}
		frac := float64(e.Sub(s)) / float64(be.Sub(bs))
		out = append(out, Bucket{Start: s, End: e, Volume: v * frac})
	}
	return out
}

func maxTime(a, b time.Time) time.Time {
	if a.After(b) {
		return a
	}
	return b
}

func minTime(a, b time.Time) time.Time {
	if a.Before(b) {
		return a
	}
	return b
}
