package detprep

import (
	"bytes"
	"path/filepath"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/pkg/errors"

	// Additional decoders for the size fallback. imaging registers gif, jpeg and png.
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// ErrImageNotFound is returned when no image file exists for an annotation.
var ErrImageNotFound = errors.New("image not found")

// candidateExts returns the image extensions to try, in order: ext, ".jpg", ".jpeg". Duplicates
// are removed and a missing leading dot is added.
func candidateExts(ext string) []string {
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}

	exts := make([]string, 0, 3)
	for _, e := range []string{ext, ".jpg", ".jpeg"} {
		if e == "" {
			continue
		}
		dup := false
		for _, v := range exts {
			dup = dup || v == e
		}
		if !dup {
			exts = append(exts, e)
		}
	}
	return exts
}

// resolveImage returns the first existing file dir/name+ext for ext in exts. The error wraps
// ErrImageNotFound if there is none.
func resolveImage(dir, name string, exts []string) (string, error) {
	var last string
	for _, ext := range exts {
		last = filepath.Join(dir, name+ext)
		if fileExists(last) {
			return last, nil
		}
	}
	return "", errors.Wrapf(ErrImageNotFound, "%s does not exist", last)
}

// decodeImageSize decodes the encoded image and returns its width and height.
func decodeImageSize(data []byte) (width, height int, err error) {
	img, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		return 0, 0, errors.Wrap(err, "failed to decode the image")
	}
	b := img.Bounds()
	return b.Dx(), b.Dy(), nil
}

// imageFormat returns the image/format value for the file at path.
func imageFormat(path string) string {
	switch ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(path), ".")); ext {
	case "jpg":
		return "jpeg"
	case "tif":
		return "tiff"
	default:
		return ext
	}
}
