package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"

	"github.com/wudi/handoutify/filters"
	"github.com/wudi/handoutify/handout"
	"github.com/wudi/handoutify/ir"
	"github.com/wudi/handoutify/observability"
	"github.com/wudi/handoutify/parser"
	"github.com/wudi/handoutify/recovery"
	"github.com/wudi/handoutify/security"
)

var version = "dev"

type options struct {
	input       string
	output      string
	configPath  string
	logLevel    string
	prune       bool
	renumber    bool
	overwrite   bool
	verify      bool
	dryRun      bool
	showVersion bool
	// set records the flags given on the command line, by their long name.
	set map[string]bool
}

func main() {
	opts, err := parseFlags(os.Args[1:], os.Stderr)
	if errors.Is(err, flag.ErrHelp) {
		return
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "handoutify: %v\n", err)
		os.Exit(2)
	}
	if opts.showVersion {
		fmt.Println("handoutify", version)
		return
	}
	cfg, err := resolveConfig(opts)
	if err != nil {
		fmt.Fprintf(os.Stderr, "handoutify: %v\n", err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	logger := observability.NewConsoleLogger(cfg.Log.Level)
	if err := run(ctx, opts, cfg, logger, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "handoutify: %v\n", err)
		stop()
		os.Exit(1)
	}
}

func parseFlags(args []string, stderr io.Writer) (options, error) {
	opts := options{set: make(map[string]bool)}
	fs := flag.NewFlagSet("handoutify", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "Usage: handoutify [flags] <PDF_FILE>\n\nCollapses the reveal steps of a presentation into one page per slide.\n\n")
		fs.PrintDefaults()
	}
	fs.StringVar(&opts.output, "output", "", "Output path (default <PDF_FILE without .pdf>_handout.pdf)")
	fs.StringVar(&opts.output, "o", "", "Shorthand for -output")
	fs.BoolVar(&opts.prune, "prune", false, "Drop objects unreachable from the trailer")
	fs.BoolVar(&opts.prune, "p", false, "Shorthand for -prune")
	fs.BoolVar(&opts.renumber, "renumber", false, "Renumber objects densely from 1")
	fs.BoolVar(&opts.renumber, "r", false, "Shorthand for -renumber")
	fs.BoolVar(&opts.overwrite, "overwrite", false, "Replace an existing output file")
	fs.BoolVar(&opts.verify, "verify", false, "Reload the written file with pdfcpu and check its page count")
	fs.BoolVar(&opts.dryRun, "dry-run", false, "Report the slide grouping without writing anything")
	fs.StringVar(&opts.configPath, "config", "", "TOML or YAML config file")
	fs.StringVar(&opts.logLevel, "log-level", "", "Log level: debug, info, warn or error")
	fs.BoolVar(&opts.showVersion, "version", false, "Print the version and exit")

	if err := fs.Parse(args); err != nil {
		return options{}, err
	}
	// Flags may also follow the input file.
	rest := fs.Args()
	if len(rest) > 0 {
		opts.input = rest[0]
		if err := fs.Parse(rest[1:]); err != nil {
			return options{}, err
		}
		rest = fs.Args()
	}
	fs.Visit(func(f *flag.Flag) { opts.set[longName(f.Name)] = true })

	if opts.showVersion {
		return opts, nil
	}
	if opts.input == "" {
		fs.Usage()
		return options{}, errors.New("missing PDF_FILE")
	}
	if len(rest) > 0 {
		return options{}, fmt.Errorf("unexpected arguments: %s", strings.Join(rest, " "))
	}
	return opts, nil
}

func longName(name string) string {
	switch name {
	case "o":
		return "output"
	case "p":
		return "prune"
	case "r":
		return "renumber"
	}
	return name
}

func run(ctx context.Context, opts options, cfg Config, logger observability.Logger, stdout io.Writer) error {
	output := opts.output
	if output == "" {
		output = defaultOutputPath(opts.input, cfg.OutputSuffix)
	}
	if !opts.dryRun && !cfg.Overwrite {
		if _, err := os.Stat(output); err == nil {
			return fmt.Errorf("%w: %s (use -overwrite to replace it)", errOutputExists, output)
		}
	}

	f, err := os.Open(opts.input)
	if err != nil {
		return fmt.Errorf("open pdf: %w", err)
	}
	defer f.Close()

	tracer := observability.LogTracer(logger)
	limits := security.Limits{MaxDecompressedSize: cfg.Limits.MaxDecompressedMB << 20}.WithDefaults()
	pipe := ir.New(ir.Config{
		Parser: parser.Config{
			Recovery: recovery.NewLenientStrategy(logger),
			Limits:   limits,
		},
		Logger: logger,
		Tracer: tracer,
	})
	doc, err := pipe.Load(ctx, f)
	if err != nil {
		return fmt.Errorf("load %s: %w", opts.input, err)
	}

	res, err := handout.Convert(ctx, doc,
		handout.WithLogger(logger),
		handout.WithTracer(tracer),
		handout.WithDecoders(filters.NewDefaultPipeline(filters.Limits{
			MaxDecompressedSize: limits.MaxDecompressedSize,
			MaxDecodeTime:       limits.MaxDecodeTime,
		})))
	if err != nil {
		return fmt.Errorf("convert %s: %w", opts.input, err)
	}
	for _, w := range res.Warnings {
		fmt.Fprintf(stdout, "warning: %s\n", w)
	}

	if opts.dryRun {
		printGroups(stdout, res)
		return nil
	}

	if cfg.Prune {
		pipe.Prune(ctx, doc)
	}
	if cfg.Renumber {
		pipe.Renumber(ctx, doc)
	}

	err = writeOutput(output, cfg.Overwrite, func(w io.Writer) error {
		return pipe.Save(ctx, doc, w)
	})
	if err != nil {
		return err
	}
	if cfg.Verify {
		if err := verifyOutput(output, res.OutputPages); err != nil {
			return err
		}
	}
	fmt.Fprintf(stdout, "%s: %d pages -> %d pages (%d removed, %d references retargeted)\n",
		output, res.InputPages, res.OutputPages, len(res.Removed), res.Retargeted)
	return nil
}

func printGroups(w io.Writer, res *handout.Result) {
	for i, g := range res.Groups {
		if g.Len() == 1 {
			fmt.Fprintf(w, "slide %d: page %d\n", i+1, g.First+1)
			continue
		}
		fmt.Fprintf(w, "slide %d: pages %d-%d, keeping %d\n", i+1, g.First+1, g.Last+1, g.Terminal()+1)
	}
	fmt.Fprintf(w, "%d pages -> %d pages\n", res.InputPages, res.OutputPages)
}
