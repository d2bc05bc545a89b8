package detprep

// Pascal VOC specific functionality.

import (
	"encoding/xml"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// VOCBndBox is the bounding box of a VOC object in absolute pixels.
type VOCBndBox struct {
	XMin string `xml:"xmin"`
	YMin string `xml:"ymin"`
	XMax string `xml:"xmax"`
	YMax string `xml:"ymax"`
}

// VOCSize is the declared image size of a VOC annotation.
type VOCSize struct {
	Width  string `xml:"width"`
	Height string `xml:"height"`
}

// labelState tracks the label of the object whose children are being read.
type labelState int

const (
	labelUnseen   labelState = iota // No name element read yet.
	labelResolved                   // The last name is in the vocabulary.
	labelUnknown                    // The last name is not in the vocabulary.
)

// objectParse is the parse state of a single <object> element.
type objectParse struct {
	state   labelState
	classID int64
}

// setName moves the state according to whether name is in labels.
func (p *objectParse) setName(name string, labels LabelMap) {
	if id, ok := labels.Lookup(name); ok {
		p.state = labelResolved
		p.classID = id
	} else {
		p.state = labelUnknown
		p.classID = 0
	}
}

// ReadVOC reads and parses the Pascal VOC annotation file at path.
func ReadVOC(path string, labels LabelMap) (Annotation, error) {
	f, err := os.Open(path)
	if err != nil {
		return Annotation{}, err
	}
	defer f.Close()

	a, err := DecodeVOC(f, labels)
	if err != nil {
		return Annotation{}, errors.Wrapf(err, "failed to parse VOC annotation %q", path)
	}
	return a, nil
}

// DecodeVOC parses a Pascal VOC annotation from r.
//
// Only objects whose name is in labels are kept. The children of each <object> are read in
// document order, and a <bndbox> contributes an object only if a known <name> precedes it. When
// the document declares both width and height, the coordinates are normalised; otherwise they
// are left in pixels and Normalized is false.
func DecodeVOC(r io.Reader, labels LabelMap) (Annotation, error) {
	var a Annotation
	d := xml.NewDecoder(r)
	for {
		tok, err := d.Token()
		if err == io.EOF {
			break
		} else if err != nil {
			return Annotation{}, err
		}

		start, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}
		switch start.Name.Local {
		case "size":
			var size VOCSize
			if err := d.DecodeElement(&size, &start); err != nil {
				return Annotation{}, err
			}
			if size.Width != "" {
				if a.Width, err = parsePixels(size.Width); err != nil {
					return Annotation{}, errors.Wrap(err, "invalid width")
				}
			}
			if size.Height != "" {
				if a.Height, err = parsePixels(size.Height); err != nil {
					return Annotation{}, errors.Wrap(err, "invalid height")
				}
			}
		case "object":
			objects, err := decodeVOCObject(d, labels)
			if err != nil {
				return Annotation{}, err
			}
			a.Objects = append(a.Objects, objects...)
		}
	}

	if a.HasSize() {
		if err := a.Normalize(float64(a.Width), float64(a.Height)); err != nil {
			return Annotation{}, err
		}
	}
	return a, nil
}

// decodeVOCObject reads the children of an <object> element up to and including its end tag.
// Each <bndbox> read while the label is resolved yields one Object.
func decodeVOCObject(d *xml.Decoder, labels LabelMap) ([]Object, error) {
	var objects []Object
	var p objectParse
	for {
		tok, err := d.Token()
		if err != nil {
			return nil, err
		}

		switch t := tok.(type) {
		case xml.EndElement:
			return objects, nil
		case xml.StartElement:
			switch t.Name.Local {
			case "name":
				var name string
				if err := d.DecodeElement(&name, &t); err != nil {
					return nil, err
				}
				p.setName(strings.TrimSpace(name), labels)
			case "bndbox":
				var box VOCBndBox
				if err := d.DecodeElement(&box, &t); err != nil {
					return nil, err
				}
				if p.state != labelResolved {
					continue
				}
				coords, err := box.coords()
				if err != nil {
					return nil, err
				}
				objects = append(objects, Object{Coords: coords, ClassID: p.classID})
			default:
				if err := d.Skip(); err != nil {
					return nil, err
				}
			}
		}
	}
}

// coords parses the four bounding box values.
func (b VOCBndBox) coords() (c [4]float64, err error) {
	for i, v := range []string{b.XMin, b.YMin, b.XMax, b.YMax} {
		if c[i], err = strconv.ParseFloat(strings.TrimSpace(v), 64); err != nil {
			return c, errors.Wrap(err, "invalid bndbox")
		}
	}
	return c, nil
}

// parsePixels parses an image dimension. Fractional values are truncated.
func parsePixels(s string) (int, error) {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, err
	}
	return int(v), nil
}
