// Runs the detection model over images grouped into <height>x<width> size bucket directories,
// scaling each bucket to the maximum inference dimension.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	log "github.com/sirupsen/logrus"

	"github.com/sensorable/detprep"
)

var (
	configPath   string  // Optional YAML configuration file.
	rootDirPath  string  // The directory holding the size buckets.
	maxInferDim  int     // The longer side of the inference image size.
	command      string  // The inference command, space separated.
	modelName    string  // The model name passed to the inference tool.
	ckptPath     string  // The checkpoint directory.
	labelMapPath string  // The label map JSON file.
	minScore     float64 // The minimum detection score.
	retries      int     // Retries per bucket.
	ledgerPath   string  // File recording completed buckets.
	verbose      bool    // Enable debug logging.
)

func init() {
	flag.Usage = func() {
		_, _ = fmt.Fprintf(os.Stderr, "Usage of %s:\n", filepath.Base(os.Args[0]))
		_, _ = fmt.Fprintln(os.Stderr, "  -root <dir> -ckpt <dir> -label-map <file> [options]")
		_, _ = fmt.Fprintln(os.Stderr)
		flag.PrintDefaults()
	}

	flag.StringVar(&configPath, "config", "", "The YAML configuration file `path`")
	flag.StringVar(&rootDirPath, "root", "", "The `path` to the directory of <height>x<width> buckets")
	flag.IntVar(&maxInferDim, "max-dim", 0, "The longer side in `pixels` of the inference size (default 768)")
	flag.StringVar(&command, "cmd", "", "The inference `command` (default \"python3 model_inspect.py\")")
	flag.StringVar(&modelName, "model", "", "The model `name` (default efficientdet-d0)")
	flag.StringVar(&ckptPath, "ckpt", "", "The checkpoint `path`")
	flag.StringVar(&labelMapPath, "label-map", "", "The label map JSON `path`")
	flag.Float64Var(&minScore, "min-score", 0, "The minimum detection score (default 0.4)")
	flag.IntVar(&retries, "retries", -1, "The number of retries per failed bucket (default 0)")
	flag.StringVar(&ledgerPath, "ledger", "",
		"A file `path` listing completed buckets; listed buckets are skipped")
	flag.BoolVar(&verbose, "v", false, "Enable debug logging")
}

func printUsageAndExit(msg ...interface{}) {
	log.Error(msg...)
	flag.Usage()
	os.Exit(1)
}

// loadConfig returns the driver configuration with the flag overrides applied.
func loadConfig() detprep.Config {
	cfg := detprep.DefaultConfig()
	if configPath != "" {
		var err error
		if cfg, err = detprep.LoadConfig(configPath); err != nil {
			log.WithError(err).Fatal("Failed to load the configuration")
		}
	}

	d := &cfg.Driver
	if rootDirPath != "" {
		d.Root = filepath.Clean(rootDirPath)
	}
	if maxInferDim > 0 {
		d.MaxInferDim = maxInferDim
	}
	if command != "" {
		d.Command = strings.Fields(command)
	}
	if modelName != "" {
		d.ModelName = modelName
	}
	if ckptPath != "" {
		d.CkptPath = ckptPath
	}
	if labelMapPath != "" {
		d.LabelMapPath = labelMapPath
	}
	if minScore > 0 {
		d.MinScoreThresh = minScore
	}
	if retries >= 0 {
		d.Retries = retries
	}
	if ledgerPath != "" {
		d.LedgerPath = ledgerPath
	}
	return cfg
}

func main() {
	flag.Parse()
	if verbose {
		log.SetLevel(log.DebugLevel)
	}

	cfg := loadConfig()
	if cfg.Driver.Root == "" || cfg.Driver.CkptPath == "" || cfg.Driver.LabelMapPath == "" {
		printUsageAndExit("Missing root, checkpoint or label map path")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	driver := &detprep.Driver{Config: cfg.Driver, Labels: cfg.Labels}
	if err := driver.Run(ctx); err != nil {
		log.WithError(err).Fatal("Inference run failed")
	}

	log.Info("All buckets completed")
}
