package detprep

// Configuration shared by the conversion and inference CLIs.

import (
	"io/ioutil"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v2"
)

// Frame is the pixel size that delimited-text coordinates are normalised against.
type Frame struct {
	Width  float64 `json:"width" yaml:"width"`
	Height float64 `json:"height" yaml:"height"`
}

// RecordConfig configures the TFRecord conversion.
type RecordConfig struct {
	ImageExt    string    `json:"imageExt" yaml:"imageExt"`       // Tried first when resolving images.
	NumShards   int       `json:"numShards" yaml:"numShards"`     // Number of output shard files.
	ShardSuffix string    `json:"shardSuffix" yaml:"shardSuffix"` // Appended to every shard path.
	Shuffle     bool      `json:"shuffle" yaml:"shuffle"`         // Shuffle the annotation files.
	Seed        int64     `json:"seed" yaml:"seed"`               // Shuffle seed; 0 picks one.
	BoxPolicy   BoxPolicy `json:"boxPolicy" yaml:"boxPolicy"`
	TextFrame   Frame     `json:"textFrame" yaml:"textFrame"`
}

// DriverConfig configures the per-size-bucket inference driver.
type DriverConfig struct {
	Root               string   `json:"root" yaml:"root"`
	MaxInferDim        int      `json:"maxInferDim" yaml:"maxInferDim"`
	Command            []string `json:"command" yaml:"command"`
	RunMode            string   `json:"runMode" yaml:"runMode"`
	ModelName          string   `json:"modelName" yaml:"modelName"`
	CkptPath           string   `json:"ckptPath" yaml:"ckptPath"`
	NumClasses         int      `json:"numClasses" yaml:"numClasses"` // 0 uses the label map.
	MovingAverageDecay float64  `json:"movingAverageDecay" yaml:"movingAverageDecay"`
	LabelMapPath       string   `json:"labelMapPath" yaml:"labelMapPath"`
	ImageGlob          string   `json:"imageGlob" yaml:"imageGlob"`
	MinScoreThresh     float64  `json:"minScoreThresh" yaml:"minScoreThresh"`
	Retries            int      `json:"retries" yaml:"retries"`
	LedgerPath         string   `json:"ledgerPath" yaml:"ledgerPath"`
}

// Config is the top level configuration file.
type Config struct {
	Labels LabelMap     `json:"labels" yaml:"labels"`
	Record RecordConfig `json:"record" yaml:"record"`
	Driver DriverConfig `json:"driver" yaml:"driver"`
}

// DefaultConfig returns the configuration for the 9-class dataset.
func DefaultConfig() Config {
	return Config{
		Labels: DefaultLabelMap(),
		Record: RecordConfig{
			ImageExt:    ".png",
			NumShards:   10,
			ShardSuffix: ".tfrecord",
			Shuffle:     true,
			BoxPolicy:   BoxClamp,
			TextFrame:   Frame{Width: 2448, Height: 2048},
		},
		Driver: DriverConfig{
			MaxInferDim:    768,
			Command:        []string{"python3", "model_inspect.py"},
			RunMode:        "model_infer_estimator",
			ModelName:      "efficientdet-d0",
			ImageGlob:      "*.*",
			MinScoreThresh: 0.4,
		},
	}
}

// LoadConfig reads the YAML file at path on top of DefaultConfig. Keys missing from the file keep
// their default values. A labels list in the file replaces the default vocabulary entirely.
func LoadConfig(path string) (Config, error) {
	c := DefaultConfig()

	enc, err := ioutil.ReadFile(path)
	if err != nil {
		return c, errors.Wrapf(err, "cannot read config %q", path)
	}

	c.Labels = nil
	if err := yaml.Unmarshal(enc, &c); err != nil {
		return c, errors.Wrapf(err, "failed to parse config %q", path)
	}
	if len(c.Labels) == 0 {
		c.Labels = DefaultLabelMap()
	}

	if err := c.Validate(); err != nil {
		return c, errors.Wrapf(err, "invalid config %q", path)
	}
	return c, nil
}

// Validate checks the values that would otherwise fail late in a run.
func (c Config) Validate() error {
	if err := c.Labels.Validate(); err != nil {
		return err
	}
	if _, err := ParseBoxPolicy(string(c.Record.BoxPolicy)); err != nil {
		return err
	}
	if c.Record.TextFrame.Width <= 0 || c.Record.TextFrame.Height <= 0 {
		return errors.Errorf("text frame must be positive, got %vx%v",
			c.Record.TextFrame.Width, c.Record.TextFrame.Height)
	}
	if c.Driver.MaxInferDim <= 0 {
		return errors.Errorf("maxInferDim must be positive, got %d", c.Driver.MaxInferDim)
	}
	if c.Driver.Retries < 0 {
		return errors.Errorf("retries must not be negative, got %d", c.Driver.Retries)
	}
	return nil
}
