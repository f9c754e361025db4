package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"time"

	"hesxrd/internal/logging"
	"hesxrd/pkg/config"
	"hesxrd/pkg/experiment"
	"hesxrd/pkg/reduction"
	"hesxrd/pkg/rod"
	"hesxrd/pkg/store"
)

const usage = `Usage: hesxrd <command> [flags]

Commands:
  rod      extract a crystal truncation or superstructure rod along a line or rectangle
  hk       build in-plane (H,K) projections at fixed L
  total    write the per-pixel maximum of an image stack
  runs     list the runs in the results archive
  config   write a default run configuration

Run "hesxrd <command> -h" for the flags of a command.
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	var err error
	switch os.Args[1] {
	case "rod":
		err = runRod(ctx, os.Args[2:])
	case "hk":
		err = runHK(ctx, os.Args[2:])
	case "total":
		err = runTotal(ctx, os.Args[2:])
	case "runs":
		err = runRuns(ctx, os.Args[2:])
	case "config":
		err = runConfig(os.Args[2:])
	case "-h", "-help", "--help", "help":
		fmt.Print(usage)
		return
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", os.Args[1], usage)
		os.Exit(2)
	}
	if err != nil {
		slog.Error("hesxrd failed", "command", os.Args[1], "err", err)
		os.Exit(1)
	}
}

// common holds the flags shared by the reduction commands.
type common struct {
	fs         *flag.FlagSet
	experiment *string
	config     *string
	images     *string
	outDir     *string
	verbose    *bool
}

func newCommon(name string) *common {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	return &common{
		fs:         fs,
		experiment: fs.String("experiment", "", "Experiment file describing the beamline geometry"),
		config:     fs.String("config", "hesxrd.yaml", "Run configuration file (defaults apply if missing)"),
		images:     fs.String("images", "", "Directory containing the detector images (overrides source.dir)"),
		outDir:     fs.String("out-dir", "", "Output directory (overrides output.dir)"),
		verbose:    fs.Bool("v", false, "Verbose logging"),
	}
}

// setFlags returns the names of the flags given on the command line.
func setFlags(fs *flag.FlagSet) map[string]bool {
	set := map[string]bool{}
	fs.Visit(func(f *flag.Flag) { set[f.Name] = true })
	return set
}

// load reads the configuration, applies the shared overrides and installs
// the logger.
func (c *common) load() (*config.Config, error) {
	cfg, err := config.LoadConfig(*c.config)
	if err != nil {
		return nil, err
	}
	if *c.images != "" {
		cfg.Source.Driver = "dir"
		cfg.Source.Dir = *c.images
	}
	if *c.outDir != "" {
		cfg.Output.Dir = *c.outDir
	}
	if *c.verbose {
		cfg.Output.Verbose = true
	}

	level := slog.LevelInfo
	if cfg.Output.Verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
	logging.SetLogger(logger)
	return cfg, cfg.Validate()
}

func (c *common) loadExperiment() (*experiment.Experiment, error) {
	if *c.experiment == "" {
		c.fs.Usage()
		return nil, fmt.Errorf("-experiment is required")
	}
	return experiment.Load(*c.experiment)
}

// progress renders the extractor progress on one console line.
func progress(completed, total int, message string) {
	fmt.Printf("\r%s: %.1f%% complete", message, float64(completed)*100/float64(total))
	if completed == total {
		fmt.Println()
	}
}

func runRod(ctx context.Context, args []string) error {
	c := newCommon("rod")
	line := c.fs.String("line", "", "Line region x1,y1,x2,y2")
	rect := c.fs.String("rect", "", "Rectangle region x,y,w,h")
	out := c.fs.String("out", "", "Profiles file (default <out-dir>/rod_profiles.txt)")
	width := c.fs.Int("width", 0, "Columns summed around the path (overrides extraction.width)")
	step := c.fs.Int("step", 0, "Path rows per rocking curve (overrides extraction.step)")
	c.fs.Parse(args)

	cfg, err := c.load()
	if err != nil {
		return err
	}
	set := setFlags(c.fs)
	if set["width"] {
		cfg.Extraction.Width = *width
	}
	if set["step"] {
		cfg.Extraction.Step = *step
	}

	var region rod.Region
	switch {
	case *line != "" && *rect != "":
		return fmt.Errorf("give either -line or -rect, not both")
	case *line != "":
		region, err = reduction.ParseRegion("line", *line)
	case *rect != "":
		region, err = reduction.ParseRegion("rect", *rect)
	default:
		c.fs.Usage()
		return fmt.Errorf("a -line or -rect region is required")
	}
	if err != nil {
		return err
	}

	exp, err := c.loadExperiment()
	if err != nil {
		return err
	}
	r := reduction.NewReducer(cfg, exp)
	defer r.Close()
	r.SetProgressCallback(progress)

	start := time.Now()
	res, err := r.Rod(ctx, region, *out)
	if err != nil {
		return err
	}
	fmt.Printf("\nRod extracted in %.2f seconds: %d rows, %d skipped\n",
		time.Since(start).Seconds(), res.Rod.Len(), len(res.Rod.Failures()))
	fmt.Printf("Profiles saved to: %s\n", res.ProfilesPath)
	fmt.Printf("Results table saved to: %s\n", res.TablePath)
	if res.RunID != 0 {
		fmt.Printf("Archived as run %d\n", res.RunID)
	}
	return nil
}

func runHK(ctx context.Context, args []string) error {
	c := newCommon("hk")
	l := c.fs.Float64("l", 0, "L of a single projection")
	minL := c.fs.Float64("min", 0, "Lowest L of a projection series")
	maxL := c.fs.Float64("max", 0, "Highest L of a projection series")
	step := c.fs.Float64("step", 0, "L step of a projection series")
	interval := c.fs.Float64("interval", 0, "L interval integrated into each projection, 0 for none")
	azimuth := c.fs.Float64("azimuthal-step", 0, "Rotation between consecutive images in degrees")
	first := c.fs.Int("first", 0, "Number of the first image within the scan")
	c.fs.Parse(args)

	cfg, err := c.load()
	if err != nil {
		return err
	}
	set := setFlags(c.fs)
	p := &cfg.Projection
	if set["l"] {
		p.L = *l
	}
	if set["min"] {
		p.MinL = *minL
	}
	if set["max"] {
		p.MaxL = *maxL
	}
	if set["step"] {
		p.Step = *step
	}
	if set["interval"] {
		p.IntegrationInterval = *interval
	}
	if set["azimuthal-step"] {
		p.AzimuthalStep = *azimuth
	}
	if set["first"] {
		p.FirstImage = *first
	}
	if set["l"] && !set["step"] {
		p.Step = 0
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	exp, err := c.loadExperiment()
	if err != nil {
		return err
	}
	r := reduction.NewReducer(cfg, exp)
	defer r.Close()
	r.SetProgressCallback(progress)

	start := time.Now()
	res, err := r.Projections(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("\n%d projection(s) built in %.2f seconds\n", len(res.Projections), time.Since(start).Seconds())
	for _, path := range res.Paths {
		fmt.Println(path)
	}
	if res.RunID != 0 {
		fmt.Printf("Archived as run %d\n", res.RunID)
	}
	return nil
}

func runTotal(ctx context.Context, args []string) error {
	c := newCommon("total")
	out := c.fs.String("out", "total.tiff", "Output image; the extension selects the format")
	c.fs.Parse(args)

	cfg, err := c.load()
	if err != nil {
		return err
	}
	ext := filepath.Ext(*out)
	cfg.Output.Dir = filepath.Dir(*out)
	if ext != "" {
		cfg.Output.Format = strings.TrimPrefix(ext, ".")
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	r := reduction.NewReducer(cfg, nil)
	defer r.Close()
	r.SetProgressCallback(progress)
	path, err := r.Total(ctx, strings.TrimSuffix(filepath.Base(*out), ext))
	if err != nil {
		return err
	}
	fmt.Printf("Total image saved to: %s\n", path)
	return nil
}

func runRuns(ctx context.Context, args []string) error {
	c := newCommon("runs")
	c.fs.Parse(args)
	cfg, err := c.load()
	if err != nil {
		return err
	}
	s, err := store.Open(ctx, cfg.Storage.Driver, cfg.Storage.DSN)
	if err != nil {
		return err
	}
	defer s.Close()
	runs, err := s.Runs(ctx)
	if err != nil {
		return err
	}
	for _, run := range runs {
		fmt.Printf("%d\t%s\t%s\t%d images\t%s\n", run.ID, run.Kind,
			run.Created.Local().Format(time.DateTime), run.Images, run.Note)
	}
	return nil
}

func runConfig(args []string) error {
	fs := flag.NewFlagSet("config", flag.ExitOnError)
	out := fs.String("out", "hesxrd.yaml", "Configuration file to write")
	fs.Parse(args)
	if err := config.CreateDefaultConfigFile(*out); err != nil {
		return err
	}
	fmt.Printf("Default configuration written to: %s\n", *out)
	return nil
}
