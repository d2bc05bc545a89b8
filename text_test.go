package detprep

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testFrame = Frame{Width: 2448, Height: 2048}

func TestParseTextLine(t *testing.T) {
	line := "data/train/img_001.png " +
		"0,0,2448,0,2448,2048,0,2048,0 " +
		"1224.7,1024,612,512,1224,512,612.2,1024.9,4"

	a, ok, err := ParseTextLine(line, testFrame)
	require.NoError(t, err)
	require.True(t, ok)

	assert.Equal(t, "img_001.png", a.ImageName)
	assert.True(t, a.Normalized)
	assert.False(t, a.HasSize())
	require.Len(t, a.Objects, 2)

	assert.Equal(t, Object{Coords: [4]float64{0, 0, 1, 1}, ClassID: 1}, a.Objects[0])
	// Values are truncated to integers before the extents are taken.
	assert.Equal(t, Object{
		Coords:  [4]float64{612.0 / 2448, 512.0 / 2048, 1224.0 / 2448, 1024.0 / 2048},
		ClassID: 5,
	}, a.Objects[1])
}

func TestParseTextLineQuadrilateral(t *testing.T) {
	// A rotated box: the extents cover all four points.
	a, ok, err := ParseTextLine("x.png 100,50,200,100,150,200,50,150,8", testFrame)
	require.NoError(t, err)
	require.True(t, ok)
	require.Len(t, a.Objects, 1)
	assert.Equal(t, [4]float64{50.0 / 2448, 50.0 / 2048, 200.0 / 2448, 200.0 / 2048},
		a.Objects[0].Coords)
	assert.Equal(t, int64(9), a.Objects[0].ClassID)
}

func TestParseTextLineWithoutBoxes(t *testing.T) {
	for _, line := range []string{"", "   ", "images/a.png", "images/a.png   "} {
		_, ok, err := ParseTextLine(line, testFrame)
		assert.NoError(t, err, line)
		assert.False(t, ok, line)
	}
}

func TestParseTextLineMalformed(t *testing.T) {
	_, _, err := ParseTextLine("a.png 1,2,3,4,5,6,7,8", testFrame)
	assert.Error(t, err)

	_, _, err = ParseTextLine("a.png 1,2,3,4,5,6,7,8,x", testFrame)
	assert.Error(t, err)
}

func TestLoadTextAnnotations(t *testing.T) {
	path := filepath.Join(t.TempDir(), "train.txt")
	writeFile(t, path, "a.png 0,0,10,0,10,10,0,10,0\n"+
		"b.png\n"+
		"\n"+
		"c.png 0,0,10,0,10,10,0,10,1 20,20,30,20,30,30,20,30,2\n")

	data, err := LoadTextAnnotations(path, testFrame)
	require.NoError(t, err)
	require.Len(t, data, 2)
	assert.Equal(t, "a.png", data[0].ImageName)
	assert.Len(t, data[0].Objects, 1)
	assert.Equal(t, "c.png", data[1].ImageName)
	assert.Len(t, data[1].Objects, 2)
	assert.Equal(t, int64(3), data[1].Objects[1].ClassID)
}

func TestLoadTextAnnotationsFailsOnMalformedLine(t *testing.T) {
	path := filepath.Join(t.TempDir(), "train.txt")
	writeFile(t, path, "a.png 0,0,10,0,10,10,0,10,0\nb.png 1,2,3\n")

	_, err := LoadTextAnnotations(path, testFrame)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "train.txt:2")
}
