// Package config parses mlsgpu's command line, optionally merging in a
// TOML response file before applying command-line overrides, the way a
// deployment config loaded with BurntSushi/toml is layered under flags.
package config

import (
	"flag"
	"os"

	"github.com/BurntSushi/toml"

	"github.com/liuxinren/mlsgpu/mlserr"
)

// Options is the full set of tunables for one run, independent of how
// they were supplied (flag, response file, or default).
type Options struct {
	Inputs []string `toml:"-"`
	Output string   `toml:"output"`

	FitSmooth        float64 `toml:"fit-smooth"`
	FitGrid          float64 `toml:"fit-grid"`
	FitPrune         float64 `toml:"fit-prune"`
	FitKeepBoundary  bool    `toml:"fit-keep-boundary"`
	FitBoundaryLimit float64 `toml:"fit-boundary-limit"`

	Levels         int   `toml:"levels"`
	Subsampling    int   `toml:"subsampling"`
	MaxDeviceSplats int64 `toml:"max-device-splats"`
	MaxHostSplats   int64 `toml:"max-host-splats"`
	MaxSplit        int32 `toml:"max-split"`

	BucketThreads int `toml:"bucket-threads"`
	DeviceThreads int `toml:"device-threads"`

	Mesher string `toml:"mesher"`
	Writer string `toml:"writer"`

	Statistics     bool   `toml:"statistics"`
	StatisticsFile string `toml:"statistics-file"`

	ResponseFile string `toml:"-"`
}

// Defaults holds the CLI's defaults for every numeric/bool option the
// user is not required to set explicitly.
func Defaults() Options {
	return Options{
		FitSmooth:       4,
		FitGrid:         0.01,
		FitPrune:        0.02,
		FitKeepBoundary: true,
		Levels:          7,
		Subsampling:     2,
		MaxDeviceSplats: 4 << 20,
		MaxHostSplats:   1 << 28,
		MaxSplit:        2097152,
		BucketThreads:   4,
		DeviceThreads:   2,
		Mesher:          "stxxl",
		Writer:          "ply",
	}
}

// Parse parses args (typically os.Args[1:]) into Options, applying a
// --response-file's TOML contents first, then letting explicit flags on
// the command line override it: the file is a base, flags win.
func Parse(args []string) (Options, error) {
	opts := Defaults()

	fs := flag.NewFlagSet("mlsgpu", flag.ContinueOnError)
	fs.StringVar(&opts.Output, "output", "", "output chunk filename base")
	fs.Float64Var(&opts.FitSmooth, "fit-smooth", opts.FitSmooth, "MLS smoothing factor")
	fs.Float64Var(&opts.FitGrid, "fit-grid", opts.FitGrid, "output grid spacing")
	fs.Float64Var(&opts.FitPrune, "fit-prune", opts.FitPrune, "minimum kept component size, as a fraction of total output vertices")
	fs.BoolVar(&opts.FitKeepBoundary, "fit-keep-boundary", opts.FitKeepBoundary, "keep boundary triangles regardless of local splat density (skips the --fit-boundary-limit filter)")
	fs.Float64Var(&opts.FitBoundaryLimit, "fit-boundary-limit", opts.FitBoundaryLimit, "minimum local splat count required to keep a boundary triangle")
	fs.IntVar(&opts.Levels, "levels", opts.Levels, "octree levels")
	fs.IntVar(&opts.Subsampling, "subsampling", opts.Subsampling, "subsampling shift")
	fs.Int64Var(&opts.MaxDeviceSplats, "max-device-splats", opts.MaxDeviceSplats, "device bin splat budget")
	fs.Int64Var(&opts.MaxHostSplats, "max-host-splats", opts.MaxHostSplats, "host bin splat budget")
	var maxSplit int64
	fs.Int64Var(&maxSplit, "max-split", int64(opts.MaxSplit), "maximum Bucketer fan-out per split")
	fs.IntVar(&opts.BucketThreads, "bucket-threads", opts.BucketThreads, "DeviceBlock worker count")
	fs.IntVar(&opts.DeviceThreads, "device-threads", opts.DeviceThreads, "DeviceWorker worker count")
	fs.StringVar(&opts.Mesher, "mesher", opts.Mesher, "mesher backend (stxxl)")
	fs.StringVar(&opts.Writer, "writer", opts.Writer, "output writer backend (ply)")
	fs.BoolVar(&opts.Statistics, "statistics", opts.Statistics, "print run statistics")
	fs.StringVar(&opts.StatisticsFile, "statistics-file", opts.StatisticsFile, "write run statistics to a file instead of stderr")
	fs.StringVar(&opts.ResponseFile, "response-file", opts.ResponseFile, "TOML file of option defaults")

	if err := fs.Parse(args); err != nil {
		return Options{}, mlserr.ConfigErrorf("parsing command line: %v", err)
	}
	opts.MaxSplit = int32(maxSplit)
	opts.Inputs = fs.Args()

	if opts.ResponseFile != "" {
		if err := applyResponseFile(&opts, opts.ResponseFile); err != nil {
			return Options{}, err
		}
		maxSplit = int64(opts.MaxSplit)
		// Re-parse so command-line flags win over the response file's
		// values for any flag both supplied.
		if err := fs.Parse(args); err != nil {
			return Options{}, mlserr.ConfigErrorf("parsing command line: %v", err)
		}
		opts.MaxSplit = int32(maxSplit)
		opts.Inputs = fs.Args()
	}

	return opts, Validate(opts)
}

func applyResponseFile(opts *Options, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return mlserr.IOErrorf(path, err)
	}
	if _, err := toml.Decode(string(data), opts); err != nil {
		return mlserr.ConfigErrorf("parsing response file %s: %v", path, err)
	}
	return nil
}

// Validate checks the cross-field and range constraints that must hold
// before a run starts (positive levels, positive grid spacing, and so on).
func Validate(o Options) error {
	if len(o.Inputs) == 0 {
		return mlserr.ConfigErrorf("no input files given")
	}
	if o.Output == "" {
		return mlserr.ConfigErrorf("--output is required")
	}
	if o.FitGrid <= 0 {
		return mlserr.ConfigErrorf("--fit-grid must be positive, got %g", o.FitGrid)
	}
	if o.FitPrune < 0 || o.FitPrune > 1 {
		return mlserr.ConfigErrorf("--fit-prune must be in [0,1], got %g", o.FitPrune)
	}
	if o.Levels <= 0 {
		return mlserr.ConfigErrorf("--levels must be positive, got %d", o.Levels)
	}
	if o.Levels > 11 {
		return mlserr.ConfigErrorf("--levels must be at most 11, got %d", o.Levels)
	}
	if o.Subsampling < 0 {
		return mlserr.ConfigErrorf("--subsampling must be non-negative, got %d", o.Subsampling)
	}
	if o.MaxDeviceSplats <= 0 {
		return mlserr.ConfigErrorf("--max-device-splats must be positive")
	}
	if o.MaxHostSplats <= 0 {
		return mlserr.ConfigErrorf("--max-host-splats must be positive")
	}
	if o.MaxSplit < 2 {
		return mlserr.ConfigErrorf("--max-split must be at least 2, got %d", o.MaxSplit)
	}
	if o.BucketThreads <= 0 || o.DeviceThreads <= 0 {
		return mlserr.ConfigErrorf("--bucket-threads and --device-threads must be positive")
	}
	if o.Mesher != "stxxl" {
		return mlserr.ConfigErrorf("unsupported --mesher %q", o.Mesher)
	}
	if o.Writer != "ply" {
		return mlserr.ConfigErrorf("unsupported --writer %q", o.Writer)
	}
	return nil
}
