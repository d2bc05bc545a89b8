package detprep

// Delimited-text annotation functionality.
//
// Each line holds an image path followed by zero or more boxes:
//
//	path/to/image.png x1,y1,x2,y2,x3,y3,x4,y4,class ...
//
// The four points may describe any quadrilateral; the axis-aligned extent of the points is used.

import (
	"math"
	"path"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// textValuesPerBox is the number of values that describe one box: four points and a class index.
const textValuesPerBox = 9

// TextAnnotation is the annotation of a single line of a delimited-text file.
type TextAnnotation struct {
	Annotation
	ImageName string // Base name of the image path.
}

// ParseTextLine parses a single annotation line. Coordinates are normalised by frame; class ids
// are the stored 0-based index plus one.
//
// ok is false if the line has no boxes. An error is returned if the values cannot be grouped into
// boxes.
func ParseTextLine(line string, frame Frame) (a TextAnnotation, ok bool, err error) {
	tokens := strings.Fields(line)
	if len(tokens) < 2 {
		return TextAnnotation{}, false, nil
	}

	// The values of all boxes are grouped in nines, independent of token boundaries.
	var values []int64
	for _, tok := range tokens[1:] {
		for _, s := range strings.Split(tok, ",") {
			v, err := strconv.ParseFloat(s, 64)
			if err != nil {
				return TextAnnotation{}, false, errors.Wrapf(err, "invalid value in %q", tok)
			}
			values = append(values, int64(v))
		}
	}
	if len(values)%textValuesPerBox != 0 {
		return TextAnnotation{}, false, errors.Errorf(
			"cannot group %d values into boxes of %d", len(values), textValuesPerBox)
	}

	a.ImageName = path.Base(strings.Replace(tokens[0], "\\", "/", -1))
	a.Normalized = true
	a.Objects = make([]Object, 0, len(values)/textValuesPerBox)
	for i := 0; i < len(values); i += textValuesPerBox {
		box := values[i : i+textValuesPerBox]
		xmin, ymin := math.Inf(1), math.Inf(1)
		xmax, ymax := math.Inf(-1), math.Inf(-1)
		for j := 0; j < 8; j += 2 {
			x, y := float64(box[j]), float64(box[j+1])
			xmin, xmax = math.Min(xmin, x), math.Max(xmax, x)
			ymin, ymax = math.Min(ymin, y), math.Max(ymax, y)
		}
		a.Objects = append(a.Objects, Object{
			Coords: [4]float64{
				xmin / frame.Width, ymin / frame.Height, xmax / frame.Width, ymax / frame.Height,
			},
			ClassID: box[8] + 1,
		})
	}

	return a, true, nil
}

// LoadTextAnnotations reads all annotated lines from the file at path. Lines without boxes are
// left out. The first malformed line fails the whole load.
func LoadTextAnnotations(path string, frame Frame) ([]TextAnnotation, error) {
	if frame.Width <= 0 || frame.Height <= 0 {
		return nil, errors.Errorf("invalid text frame %vx%v", frame.Width, frame.Height)
	}

	lines, err := readLines(path)
	if err != nil {
		return nil, err
	}

	data := make([]TextAnnotation, 0, len(lines))
	for i, line := range lines {
		a, ok, err := ParseTextLine(line, frame)
		if err != nil {
			return nil, errors.Wrapf(err, "%s:%d", path, i+1)
		}
		if !ok {
			continue
		}
		data = append(data, a)
	}

	return data, nil
}
