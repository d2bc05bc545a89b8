package detprep

import (
	"encoding/binary"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"io/ioutil"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/golang/protobuf/proto"
	"github.com/ryszard/tfutils/proto/tensorflow/core/example" // package tensorflow
	"github.com/stretchr/testify/require"
)

// vocObject describes one <object> of a test annotation.
type vocObject struct {
	name                   string
	xmin, ymin, xmax, ymax int
}

// vocXML renders a Pascal VOC annotation. Width and height are left out when zero.
func vocXML(width, height int, objects ...vocObject) string {
	var b strings.Builder
	b.WriteString("<annotation>\n\t<folder>images</folder>\n")
	if width > 0 && height > 0 {
		fmt.Fprintf(&b, "\t<size>\n\t\t<width>%d</width>\n\t\t<height>%d</height>\n\t\t<depth>3</depth>\n\t</size>\n",
			width, height)
	}
	for _, o := range objects {
		fmt.Fprintf(&b, "\t<object>\n\t\t<name>%s</name>\n\t\t<difficult>0</difficult>\n", o.name)
		fmt.Fprintf(&b, "\t\t<bndbox><xmin>%d</xmin><ymin>%d</ymin><xmax>%d</xmax><ymax>%d</ymax></bndbox>\n",
			o.xmin, o.ymin, o.xmax, o.ymax)
		b.WriteString("\t</object>\n")
	}
	b.WriteString("</annotation>\n")
	return b.String()
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, ioutil.WriteFile(path, []byte(content), 0644))
}

// writePNG writes a blank width x height PNG to path.
func writePNG(t *testing.T, path string, width, height int) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))

	img := image.NewRGBA(image.Rect(0, 0, width, height))
	img.Set(0, 0, color.RGBA{R: 255, A: 255})
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, png.Encode(f, img))
}

// readShard reads all records of the TFRecord file at path and unmarshals them.
func readShard(t *testing.T, path string) []*tensorflow.Example {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var examples []*tensorflow.Example
	for {
		// Length, masked CRC of the length, data, masked CRC of the data.
		var header [12]byte
		if _, err := io.ReadFull(f, header[:]); err == io.EOF {
			break
		} else {
			require.NoError(t, err)
		}
		data := make([]byte, binary.LittleEndian.Uint64(header[:8]))
		_, err := io.ReadFull(f, data)
		require.NoError(t, err)
		var footer [4]byte
		_, err = io.ReadFull(f, footer[:])
		require.NoError(t, err)

		e := &tensorflow.Example{}
		require.NoError(t, proto.Unmarshal(data, e))
		examples = append(examples, e)
	}
	return examples
}

func featureString(e *tensorflow.Example, key string) string {
	return string(e.Features.Feature[key].GetBytesList().Value[0])
}

func featureInts(e *tensorflow.Example, key string) []int64 {
	return e.Features.Feature[key].GetInt64List().Value
}

func featureFloats(e *tensorflow.Example, key string) []float32 {
	return e.Features.Feature[key].GetFloatList().Value
}
