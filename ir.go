package detprep

// The intermediate annotation representation shared by the readers and the record writer.

import (
	"math"
	"strings"

	"github.com/pkg/errors"
)

// Object is a single labelled bounding box.
type Object struct {
	Coords  [4]float64 // xmin, ymin, xmax, ymax; fractions once normalised, pixels before.
	ClassID int64
}

// Width is the object width from o.Coords.
func (o Object) Width() float64 {
	return o.Coords[2] - o.Coords[0]
}

// Height is the object height from o.Coords.
func (o Object) Height() float64 {
	return o.Coords[3] - o.Coords[1]
}

// Annotation holds the objects of one image.
type Annotation struct {
	Width      int  // Declared image width in pixels, 0 if unknown.
	Height     int  // Declared image height in pixels, 0 if unknown.
	Normalized bool // Whether Objects hold fractions of the image size.
	Objects    []Object
}

// HasSize reports whether both image dimensions are known.
func (a Annotation) HasSize() bool {
	return a.Width > 0 && a.Height > 0
}

// Normalize divides absolute object coordinates by width (x) and height (y). It is a no-op on an
// annotation that is already normalised.
func (a *Annotation) Normalize(width, height float64) error {
	if a.Normalized {
		return nil
	}
	if width <= 0 || height <= 0 {
		return errors.Errorf("cannot normalise by %vx%v", width, height)
	}
	for i := range a.Objects {
		c := &a.Objects[i].Coords
		c[0] /= width
		c[1] /= height
		c[2] /= width
		c[3] /= height
	}
	a.Normalized = true
	return nil
}

// Columns returns the objects as the parallel arrays stored in a record.
func (a Annotation) Columns() (xmin, ymin, xmax, ymax []float32, classIDs []int64) {
	n := len(a.Objects)
	xmin = make([]float32, n)
	ymin = make([]float32, n)
	xmax = make([]float32, n)
	ymax = make([]float32, n)
	classIDs = make([]int64, n)
	for i, o := range a.Objects {
		xmin[i] = float32(o.Coords[0])
		ymin[i] = float32(o.Coords[1])
		xmax[i] = float32(o.Coords[2])
		ymax[i] = float32(o.Coords[3])
		classIDs[i] = o.ClassID
	}
	return
}

// BoxPolicy decides what happens to normalised boxes that are inverted or leave [0,1].
type BoxPolicy string

// The known box policies.
const (
	BoxClamp BoxPolicy = "clamp" // Swap inverted extents and clamp into [0,1].
	BoxDrop  BoxPolicy = "drop"  // Remove invalid boxes.
	BoxKeep  BoxPolicy = "keep"  // Write boxes unchanged.
)

// ParseBoxPolicy parses s, case insensitively. The empty string selects BoxClamp.
func ParseBoxPolicy(s string) (BoxPolicy, error) {
	switch p := BoxPolicy(strings.ToLower(s)); p {
	case "":
		return BoxClamp, nil
	case BoxClamp, BoxDrop, BoxKeep:
		return p, nil
	}
	return "", errors.Errorf("unknown box policy %q", s)
}

// valid reports whether the normalised box is ordered and inside the unit square.
func (o Object) valid() bool {
	for _, v := range o.Coords {
		if v < 0 || v > 1 || math.IsNaN(v) {
			return false
		}
	}
	return o.Coords[0] <= o.Coords[2] && o.Coords[1] <= o.Coords[3]
}

// ApplyBoxPolicy enforces policy on the normalised objects of a and returns the number of objects
// that were changed or removed.
func (a *Annotation) ApplyBoxPolicy(policy BoxPolicy) (int, error) {
	if !a.Normalized {
		return 0, errors.New("box policy requires normalised coordinates")
	}

	clamp := func(v float64) float64 {
		if math.IsNaN(v) {
			return 0
		}
		return math.Min(1, math.Max(0, v))
	}

	changed := 0
	switch policy {
	case BoxKeep:
	case BoxDrop:
		kept := a.Objects[:0]
		for _, o := range a.Objects {
			if o.valid() {
				kept = append(kept, o)
			} else {
				changed++
			}
		}
		a.Objects = kept
	case BoxClamp, "":
		for i := range a.Objects {
			o := &a.Objects[i]
			if o.valid() {
				continue
			}
			c := &o.Coords
			if c[0] > c[2] {
				c[0], c[2] = c[2], c[0]
			}
			if c[1] > c[3] {
				c[1], c[3] = c[3], c[1]
			}
			for j := range c {
				c[j] = clamp(c[j])
			}
			changed++
		}
	default:
		return 0, errors.Errorf("unknown box policy %q", policy)
	}
	return changed, nil
}
