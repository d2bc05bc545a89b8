package detprep

// Per-size-bucket inference functionality.
//
// Images are grouped into directories named <height>x<width>. The inference tool is run once per
// directory with an image size that fits the bucket into the maximum inference dimension.

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// Bucket is an image size bucket.
type Bucket struct {
	Name   string
	Height int
	Width  int
}

// ParseBucket parses a directory name of the form <height>x<width>.
func ParseBucket(name string) (Bucket, error) {
	parts := strings.Split(name, "x")
	if len(parts) != 2 {
		return Bucket{}, errors.Errorf("bucket name %q is not <height>x<width>", name)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h <= 0 {
		return Bucket{}, errors.Errorf("invalid height in bucket name %q", name)
	}
	w, err := strconv.Atoi(parts[1])
	if err != nil || w <= 0 {
		return Bucket{}, errors.Errorf("invalid width in bucket name %q", name)
	}
	return Bucket{Name: name, Height: h, Width: w}, nil
}

// InferSize scales the bucket so that its longer side equals maxDim and returns the scaled size
// as "<height>x<width>", truncating fractions.
func (b Bucket) InferSize(maxDim int) string {
	longer := b.Height
	if b.Width > longer {
		longer = b.Width
	}
	scale := float64(maxDim) / float64(longer)
	return fmt.Sprintf("%dx%d", int(float64(b.Height)*scale), int(float64(b.Width)*scale))
}

// CommandRunner runs an external command to completion.
type CommandRunner interface {
	Run(ctx context.Context, name string, args ...string) error
}

// ExecRunner runs commands as child processes with the standard streams of this process.
type ExecRunner struct{}

// Run implements CommandRunner.
func (ExecRunner) Run(ctx context.Context, name string, args ...string) error {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	log.Debugf("cmd: %v", cmd.Args)
	return cmd.Run()
}

// Driver runs inference over all size buckets below a root directory, one bucket at a time.
type Driver struct {
	Config DriverConfig
	Labels LabelMap      // Provides the class count when Config.NumClasses is 0.
	Runner CommandRunner // Defaults to ExecRunner.
}

// Args returns the inference command line for bucket b, including the command itself.
func (d *Driver) Args(b Bucket) []string {
	c := d.Config
	numClasses := c.NumClasses
	if numClasses <= 0 {
		numClasses = d.Labels.NumClasses()
	}

	hparams := []string{
		"num_classes=" + strconv.Itoa(numClasses),
		"moving_average_decay=" + strconv.FormatFloat(c.MovingAverageDecay, 'g', -1, 64),
		"image_size=" + b.InferSize(c.MaxInferDim),
		"label_id_mapping=" + c.LabelMapPath,
	}
	dir := filepath.Join(c.Root, b.Name)

	args := append([]string{}, c.Command...)
	return append(args,
		"--runmode="+c.RunMode,
		"--model_name="+c.ModelName,
		"--ckpt_path="+c.CkptPath,
		"--hparams="+strings.Join(hparams, ","),
		"--input_image="+filepath.Join(dir, c.ImageGlob),
		"--output_image_dir="+dir,
		"--min_score_thresh="+strconv.FormatFloat(c.MinScoreThresh, 'g', -1, 64),
	)
}

// Buckets returns the size buckets found directly in the root directory, in name order.
// Directories whose names are not buckets are skipped.
func (d *Driver) Buckets() ([]Bucket, error) {
	names, err := subdirs(d.Config.Root)
	if err != nil {
		return nil, err
	}

	buckets := make([]Bucket, 0, len(names))
	for _, name := range names {
		b, err := ParseBucket(name)
		if err != nil {
			log.WithError(err).Warn("Skipping directory")
			continue
		}
		buckets = append(buckets, b)
	}
	return buckets, nil
}

// Run runs the inference command for every bucket in turn. A bucket whose command still fails
// after Config.Retries retries stops the run. Buckets listed in the ledger file, if one is
// configured, are not run again; completed buckets are appended to it.
func (d *Driver) Run(ctx context.Context) error {
	if len(d.Config.Command) == 0 {
		return errors.New("no inference command configured")
	}
	runner := d.Runner
	if runner == nil {
		runner = ExecRunner{}
	}

	buckets, err := d.Buckets()
	if err != nil {
		return err
	}

	done, err := readLedger(d.Config.LedgerPath)
	if err != nil {
		return err
	}

	for _, b := range buckets {
		logger := log.WithFields(log.Fields{"bucket": b.Name, "size": b.InferSize(d.Config.MaxInferDim)})
		if done[b.Name] {
			logger.Info("Already completed, skipping")
			continue
		}

		args := d.Args(b)
		for attempt := 0; ; attempt++ {
			logger.Infof("Running inference (attempt %d)", attempt+1)
			err = runner.Run(ctx, args[0], args[1:]...)
			if err == nil || attempt >= d.Config.Retries || ctx.Err() != nil {
				break
			}
			logger.WithError(err).Warn("Inference failed, retrying")
		}
		if err != nil {
			return errors.Wrapf(err, "inference failed for bucket %s", b.Name)
		}

		if err := appendLedger(d.Config.LedgerPath, b.Name); err != nil {
			return err
		}
	}

	return nil
}

// readLedger returns the bucket names recorded in the ledger at path. A missing file or an empty
// path yields an empty set.
func readLedger(path string) (map[string]bool, error) {
	done := make(map[string]bool)
	if path == "" {
		return done, nil
	}

	lines, err := readLines(path)
	if err != nil {
		if os.IsNotExist(errors.Cause(err)) {
			return done, nil
		}
		return nil, err
	}
	for _, line := range lines {
		if line = strings.TrimSpace(line); line != "" {
			done[line] = true
		}
	}
	return done, nil
}

// appendLedger records a completed bucket. It is a no-op for an empty path.
func appendLedger(path, name string) (err error) {
	if path == "" {
		return nil
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return errors.Wrapf(err, "cannot open ledger %q", path)
	}
	defer closeWithErrCheck(f, &err)

	_, err = fmt.Fprintln(f, name)
	return err
}
