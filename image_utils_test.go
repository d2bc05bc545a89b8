package detprep

import (
	"io/ioutil"
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCandidateExts(t *testing.T) {
	assert.Equal(t, []string{".png", ".jpg", ".jpeg"}, candidateExts(".png"))
	assert.Equal(t, []string{".png", ".jpg", ".jpeg"}, candidateExts("png"))
	assert.Equal(t, []string{".jpg", ".jpeg"}, candidateExts(".jpg"))
	assert.Equal(t, []string{".jpg", ".jpeg"}, candidateExts(""))
}

func TestResolveImage(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a.jpeg"), "x")
	writeFile(t, filepath.Join(dir, "a.jpg"), "x")
	writeFile(t, filepath.Join(dir, "b.jpeg"), "x")

	path, err := resolveImage(dir, "a", candidateExts(".png"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "a.jpg"), path)

	path, err = resolveImage(dir, "b", candidateExts(".png"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "b.jpeg"), path)

	_, err = resolveImage(dir, "c", candidateExts(".png"))
	require.Error(t, err)
	assert.Equal(t, ErrImageNotFound, errors.Cause(err))
}

func TestDecodeImageSize(t *testing.T) {
	path := filepath.Join(t.TempDir(), "img.png")
	writePNG(t, path, 31, 17)
	data, err := ioutil.ReadFile(path)
	require.NoError(t, err)

	w, h, err := decodeImageSize(data)
	require.NoError(t, err)
	assert.Equal(t, 31, w)
	assert.Equal(t, 17, h)

	_, _, err = decodeImageSize([]byte("not an image"))
	assert.Error(t, err)
}

func TestImageFormat(t *testing.T) {
	assert.Equal(t, "png", imageFormat("/a/b.PNG"))
	assert.Equal(t, "jpeg", imageFormat("b.jpg"))
	assert.Equal(t, "jpeg", imageFormat("b.jpeg"))
	assert.Equal(t, "", imageFormat("noext"))
}
