package detprep

// TFRecord object detection specific functionality.

import (
	"encoding/json"
	"fmt"
	"io/ioutil"
	"math/rand"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/golang/protobuf/proto"
	"github.com/pkg/errors"
	"github.com/ryszard/tfutils/go/example"
	"github.com/ryszard/tfutils/go/tfrecord"
	"github.com/ryszard/tfutils/proto/tensorflow/core/example" // package tensorflow
	log "github.com/sirupsen/logrus"
)

// TFFeatureMap maps feature names to their values. Values must be convertible to
// tensorflow.Feature.
type TFFeatureMap map[string]interface{}

// IDAllocator hands out image ids for one conversion run, starting at 1.
//
// Ids are not derived from file names: the training pipeline round-trips ids
// through float32, which cannot represent large integers such as 2008000002 exactly.
type IDAllocator struct {
	last int64
}

// Next returns the next id.
func (a *IDAllocator) Next() int64 {
	a.last++
	return a.last
}

// Stats summarises a conversion run.
type Stats struct {
	Files   int // Annotation files or lines processed.
	Records int // Records written.
	Skipped int // Files skipped.
	Objects int // Objects written across all records.
	Fixed   int // Objects changed or removed by the box policy.
}

// ShardPath returns the path of shard idx out of numShards.
func ShardPath(basePath string, idx, numShards int, suffix string) string {
	return fmt.Sprintf("%s-%05d-of-%05d%s", basePath, idx, numShards, suffix)
}

// IDMapPath returns the path of the id map written for basePath.
func IDMapPath(basePath string) string {
	return basePath + "_idmap.json"
}

// shardSet holds all shard files of a run open for writing.
type shardSet struct {
	files []*os.File
}

// openShards creates all numShards shard files. Already created files are closed again if one
// cannot be created.
func openShards(basePath string, numShards int, suffix string) (*shardSet, error) {
	if numShards <= 0 {
		numShards = 1
	}

	s := &shardSet{files: make([]*os.File, 0, numShards)}
	for i := 0; i < numShards; i++ {
		path := ShardPath(basePath, i, numShards, suffix)
		f, err := os.Create(path)
		if err != nil {
			_ = s.Close()
			return nil, errors.Wrapf(err, "failed to create shard at %q", path)
		}
		s.files = append(s.files, f)
	}
	return s, nil
}

// Write serialises the example and appends it as a TFRecord to shard (index mod number of
// shards).
func (s *shardSet) Write(index int, e *tensorflow.Example) error {
	enc, err := proto.Marshal(e)
	if err != nil {
		return err
	}

	f := s.files[index%len(s.files)]
	if err := tfrecord.Write(f, enc); err != nil {
		return errors.Wrapf(err, "failed to write to %q", f.Name())
	}
	return nil
}

// Close closes all shard files and returns the first error.
func (s *shardSet) Close() (err error) {
	for _, f := range s.files {
		closeWithErrCheck(f, &err)
	}
	s.files = nil
	return err
}

// recordPass is the state of one conversion run.
type recordPass struct {
	cfg    RecordConfig
	shards *shardSet
	ids    IDAllocator
	idMap  map[string]int64
	stats  Stats
}

func newRecordPass(basePath string, cfg RecordConfig) (*recordPass, error) {
	policy, err := ParseBoxPolicy(string(cfg.BoxPolicy))
	if err != nil {
		return nil, err
	}
	cfg.BoxPolicy = policy

	log.Infof("Writing %d shards to %s", cfg.NumShards, basePath)
	shards, err := openShards(basePath, cfg.NumShards, cfg.ShardSuffix)
	if err != nil {
		return nil, err
	}
	return &recordPass{cfg: cfg, shards: shards, idMap: make(map[string]int64)}, nil
}

// write converts one annotated image and writes it to the shard for index. A nil error with
// written=false means that the image was skipped.
func (p *recordPass) write(index int, a Annotation, imagePath string) (written bool, err error) {
	e, name, id, err := p.toExample(&a, imagePath)
	if err != nil {
		log.WithError(err).Warnf("Skipping %q", imagePath)
		return false, nil
	}

	if err := p.shards.Write(index, e); err != nil {
		return false, err
	}

	p.idMap[name] = id
	p.stats.Records++
	p.stats.Objects += len(a.Objects)
	return true, nil
}

// skip records a skipped file.
func (p *recordPass) skip(err error) {
	log.Warn(err)
	p.stats.Skipped++
}

// toExample builds the tensorflow.Example for the annotated image at imagePath, normalising and
// fixing the objects of a in place. It returns the image name used as image/filename and the
// allocated id.
func (p *recordPass) toExample(a *Annotation, imagePath string) (
	e *tensorflow.Example, name string, id int64, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Errorf("conversion to TensorFlow Example failed: %v", r)
		}
	}()

	// Read the image data.
	imgData, err := readFile(imagePath)
	if err != nil {
		return nil, "", 0, errors.Wrap(err, "failed to read the image")
	}

	// Decode the image only if the annotation does not declare its size.
	width, height := a.Width, a.Height
	if !a.HasSize() {
		if width, height, err = decodeImageSize(imgData); err != nil {
			return nil, "", 0, err
		}
	}
	if err := a.Normalize(float64(width), float64(height)); err != nil {
		return nil, "", 0, err
	}

	fixed, err := a.ApplyBoxPolicy(p.cfg.BoxPolicy)
	if err != nil {
		return nil, "", 0, err
	}
	if fixed > 0 {
		log.Debugf("Box policy %q changed %d objects in %q", p.cfg.BoxPolicy, fixed, imagePath)
		p.stats.Fixed += fixed
	}

	name = stem(imagePath)
	id = p.ids.Next()

	f := make(TFFeatureMap, 16)
	f["image/height"] = height
	f["image/width"] = width
	f["image/filename"] = name
	f["image/source_id"] = strconv.FormatInt(id, 10)
	f["image/encoded"] = imgData
	f["image/format"] = imageFormat(imagePath)

	xmins, ymins, xmaxs, ymaxs, classIDs := a.Columns()
	f["image/object/bbox/xmin"] = xmins
	f["image/object/bbox/xmax"] = xmaxs
	f["image/object/bbox/ymin"] = ymins
	f["image/object/bbox/ymax"] = ymaxs
	f["image/object/class/label"] = classIDs

	return example.New(f), name, id, nil
}

// finish closes the shards and logs a summary.
func (p *recordPass) finish() (Stats, error) {
	err := p.shards.Close()
	log.Infof("Wrote %d records (%d objects) from %d files, skipped %d",
		p.stats.Records, p.stats.Objects, p.stats.Files, p.stats.Skipped)
	return p.stats, err
}

// WriteVOCRecords converts the Pascal VOC annotations (*.xml) in annoDir and the images they
// describe in imageDir to sharded TFRecord files under basePath. It also writes a JSON map from
// image name to image/source_id to IDMapPath(basePath).
//
// Annotation files without an image or with an unreadable annotation are skipped.
func WriteVOCRecords(imageDir, annoDir, basePath string, labels LabelMap, cfg RecordConfig) (
	stats Stats, err error) {

	xmlFiles, err := filesByExtInDir(annoDir, ".xml")
	if err != nil {
		return Stats{}, err
	}
	log.Infof("Converting VOC labels for %d files", len(xmlFiles))

	if cfg.Shuffle {
		seed := cfg.Seed
		if seed == 0 {
			seed = time.Now().UnixNano()
		}
		rng := rand.New(rand.NewSource(seed))
		rng.Shuffle(len(xmlFiles), func(i, j int) {
			xmlFiles[i], xmlFiles[j] = xmlFiles[j], xmlFiles[i]
		})
	}

	p, err := newRecordPass(basePath, cfg)
	if err != nil {
		return Stats{}, err
	}
	defer func() {
		s, closeErr := p.finish()
		stats = s
		if err == nil {
			err = closeErr
		}
	}()

	exts := candidateExts(cfg.ImageExt)
	for i, xmlPath := range xmlFiles {
		p.stats.Files++

		imagePath, err := resolveImage(imageDir, stem(xmlPath), exts)
		if err != nil {
			p.skip(err)
			continue
		}

		a, err := ReadVOC(xmlPath, labels)
		if err != nil {
			p.skip(err)
			continue
		}

		if written, err := p.write(i, a, imagePath); err != nil {
			return p.stats, err
		} else if !written {
			p.stats.Skipped++
		}
	}

	return p.stats, writeIDMap(IDMapPath(basePath), p.idMap)
}

// WriteTextRecords converts the delimited-text annotations in txtPath and the images they name in
// imageDir to sharded TFRecord files under basePath. No id map is written.
func WriteTextRecords(imageDir, txtPath, basePath string, cfg RecordConfig) (
	stats Stats, err error) {

	annotations, err := LoadTextAnnotations(txtPath, cfg.TextFrame)
	if err != nil {
		return Stats{}, err
	}
	log.Infof("Converting text labels for %d images", len(annotations))

	p, err := newRecordPass(basePath, cfg)
	if err != nil {
		return Stats{}, err
	}
	defer func() {
		s, closeErr := p.finish()
		stats = s
		if err == nil {
			err = closeErr
		}
	}()

	for i, a := range annotations {
		p.stats.Files++

		imagePath := filepath.Join(imageDir, a.ImageName)
		if !fileExists(imagePath) {
			p.skip(errors.Wrapf(ErrImageNotFound, "%s does not exist", imagePath))
			continue
		}

		if written, err := p.write(i, a.Annotation, imagePath); err != nil {
			return p.stats, err
		} else if !written {
			p.stats.Skipped++
		}
	}

	return p.stats, nil
}

// writeIDMap writes idMap to path as a JSON object.
func writeIDMap(path string, idMap map[string]int64) error {
	enc, err := json.Marshal(idMap)
	if err != nil {
		return err
	}
	if err := ioutil.WriteFile(path, enc, 0644); err != nil {
		return errors.Wrapf(err, "cannot write id map %q", path)
	}
	return nil
}
