// Converts Pascal VOC XML or delimited-text annotations and their images to sharded TFRecord
// files of tensorflow.Example records.
package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"

	log "github.com/sirupsen/logrus"

	"github.com/sensorable/detprep"
)

var (
	configPath    string // Optional YAML configuration file.
	imageDirPath  string // The input directory with the images.
	annoDirPath   string // The input directory with the VOC XML files.
	textAnnoPath  string // The delimited-text annotation file (replaces -annotations).
	outBasePath   string // The base path of the output shards.
	labelMapPath  string // Optional output path for the JSON label map.
	imageExt      string // The image extension tried first.
	numShardFiles int    // The number of shard files to create.
	boxPolicy     string // The handling of invalid boxes.
	seed          int64  // The shuffle seed.
	noShuffle     bool   // Keep the annotation files in name order.
	verbose       bool   // Enable debug logging.
)

func init() {
	flag.Usage = func() {
		_, _ = fmt.Fprintf(os.Stderr, "Usage of %s:\n", filepath.Base(os.Args[0]))
		_, _ = fmt.Fprintln(os.Stderr, "  voc input options:\t-images <dir> -annotations <dir> -out <path>")
		_, _ = fmt.Fprintln(os.Stderr, "  text input options:\t-images <dir> -text <file> -out <path>")
		_, _ = fmt.Fprintln(os.Stderr)
		flag.PrintDefaults()
	}

	flag.StringVar(&configPath, "config", "", "The YAML configuration file `path`")
	flag.StringVar(&imageDirPath, "images", "", "The `path` to the image input directory")
	flag.StringVar(&annoDirPath, "annotations", "", "The `path` to the VOC XML input directory")
	flag.StringVar(&textAnnoPath, "text", "",
		"The `path` to a delimited-text annotation file (instead of -annotations)")
	flag.StringVar(&outBasePath, "out", "",
		"The base `path` for the shards, written as <path>-xxxxx-of-yyyyy.tfrecord")
	flag.StringVar(&labelMapPath, "label-map-out", "",
		"Also write the label vocabulary as an id to name JSON map to this `path`")
	flag.StringVar(&imageExt, "format", "", "The image file `extension` to try first (default .png)")
	flag.IntVar(&numShardFiles, "num-shards", 0, "The number of shard files to create (default 10)")
	flag.StringVar(&boxPolicy, "box-policy", "",
		"The handling of inverted or out of range boxes {clamp, drop, keep} (default clamp)")
	flag.Int64Var(&seed, "seed", 0, "The seed for shuffling the annotation files (0 picks one)")
	flag.BoolVar(&noShuffle, "no-shuffle", false, "Process the annotation files in name order")
	flag.BoolVar(&verbose, "v", false, "Enable debug logging")
}

func printUsageAndExit(msg ...interface{}) {
	log.Error(msg...)
	flag.Usage()
	os.Exit(1)
}

// loadConfig returns the configuration with the flag overrides applied.
func loadConfig() detprep.Config {
	cfg := detprep.DefaultConfig()
	if configPath != "" {
		var err error
		if cfg, err = detprep.LoadConfig(configPath); err != nil {
			log.WithError(err).Fatal("Failed to load the configuration")
		}
	}

	if imageExt != "" {
		cfg.Record.ImageExt = imageExt
	}
	if numShardFiles > 0 {
		cfg.Record.NumShards = numShardFiles
	}
	if boxPolicy != "" {
		p, err := detprep.ParseBoxPolicy(boxPolicy)
		if err != nil {
			printUsageAndExit(err)
		}
		cfg.Record.BoxPolicy = p
	}
	if seed != 0 {
		cfg.Record.Seed = seed
	}
	if noShuffle {
		cfg.Record.Shuffle = false
	}
	return cfg
}

func main() {
	flag.Parse()
	if verbose {
		log.SetLevel(log.DebugLevel)
	}

	if imageDirPath == "" || outBasePath == "" {
		printUsageAndExit("Missing image input or output path argument")
	}
	if (annoDirPath == "") == (textAnnoPath == "") {
		printUsageAndExit("Exactly one of -annotations and -text is required")
	}
	imageDirPath = filepath.Clean(imageDirPath)
	outBasePath = filepath.Clean(outBasePath)

	cfg := loadConfig()

	var stats detprep.Stats
	var err error
	if textAnnoPath != "" {
		stats, err = detprep.WriteTextRecords(imageDirPath, filepath.Clean(textAnnoPath),
			outBasePath, cfg.Record)
	} else {
		stats, err = detprep.WriteVOCRecords(imageDirPath, filepath.Clean(annoDirPath),
			outBasePath, cfg.Labels, cfg.Record)
	}
	if err != nil {
		log.WithError(err).Fatal("Conversion failed")
	}

	if labelMapPath != "" {
		if err := detprep.WriteLabelMap(labelMapPath, cfg.Labels); err != nil {
			log.WithError(err).Fatal("Failed to write the label map")
		}
	}

	log.Infof("Successfully wrote %d records to %s", stats.Records, outBasePath)
}
