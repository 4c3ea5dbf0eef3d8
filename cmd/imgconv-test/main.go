// Command imgconv-test drives the image-convert pipeline against the
// simulated hardware binding: convert a JPEG file (or a synthesized
// one) a number of times and report per-iteration results and
// throughput.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	imageconvert "github.com/e7canasta/orion-care-sensor/modules/image-convert"
	"github.com/e7canasta/orion-care-sensor/modules/image-convert/internal/hwsim"
)

const version = "v0.1.0"

// fileConfig mirrors the flag set for --config files.
type fileConfig struct {
	OutputWidth  int    `yaml:"output_width"`
	OutputHeight int    `yaml:"output_height"`
	Format       string `yaml:"format"`
	Iterations   int    `yaml:"iterations"`
	AltSetup     bool   `yaml:"alt_setup"`
	TimeoutMS    int    `yaml:"timeout_ms"`
}

type runOptions struct {
	outputWidth  int
	outputHeight int
	format       string
	iterations   int
	altSetup     bool
	timeoutMS    int
	debug        bool
	configPath   string
	synthesize   string // "WxH" to generate an input instead of reading one
	showVersion  bool
}

func main() {
	opts := &runOptions{}

	root := &cobra.Command{
		Use:   "imgconv-test [jpeg-file]",
		Short: "Convert a JPEG through the hardware decode+resize pipeline",
		Long: `imgconv-test converts a JPEG image to a raw pixel buffer using the
two-stage decode+resize pipeline on the simulated hardware binding,
reporting per-iteration success and overall throughput.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.showVersion {
				fmt.Println("imgconv-test", version)
				return nil
			}
			return run(cmd, args, opts)
		},
		SilenceUsage: true,
	}

	f := root.Flags()
	f.IntVar(&opts.outputWidth, "width", 1104, "output width in pixels")
	f.IntVar(&opts.outputHeight, "height", 621, "output height in pixels")
	f.StringVar(&opts.format, "format", "abgr8888", "output format: yuv420, rgb565, abgr8888")
	f.IntVarP(&opts.iterations, "iterations", "n", 1, "number of conversion iterations")
	f.BoolVar(&opts.altSetup, "alt-setup", false, "use the alternate pipeline setup order")
	f.IntVar(&opts.timeoutMS, "timeout", 250, "hardware wait timeout in milliseconds")
	f.BoolVar(&opts.debug, "debug", false, "enable debug logging")
	f.StringVar(&opts.configPath, "config", "", "YAML config file (flags override it)")
	f.StringVar(&opts.synthesize, "synthesize", "", "synthesize an input of WxH instead of reading a file (e.g. 1920x1080)")
	f.BoolVar(&opts.showVersion, "version", false, "print version and exit")

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string, opts *runOptions) error {
	if err := applyConfigFile(cmd, opts); err != nil {
		return err
	}

	level := slog.LevelInfo
	if opts.debug {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	format, err := parseFormat(opts.format)
	if err != nil {
		return err
	}

	inputPath, cleanup, err := resolveInput(args, opts)
	if err != nil {
		return err
	}
	if cleanup != nil {
		defer cleanup()
	}

	binding := hwsim.New()
	if err := binding.Init(); err != nil {
		return fmt.Errorf("init binding: %w", err)
	}
	defer binding.Deinit()

	dec, err := imageconvert.NewDecoder(imageconvert.Config{
		Binding:        binding,
		OutputWidth:    opts.outputWidth,
		OutputHeight:   opts.outputHeight,
		OutputFormat:   format,
		Timeout:        time.Duration(opts.timeoutMS) * time.Millisecond,
		AlternateSetup: opts.altSetup,
	})
	if err != nil {
		return err
	}
	defer dec.Close()

	iterations := opts.iterations
	if iterations < 1 {
		iterations = 1
	}

	start := time.Now()
	completed := 0
	for i := 1; i <= iterations; i++ {
		n, err := dec.ConvertFromFile(inputPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "iteration %d failed: %v\n", i, err)
			break
		}
		completed++
		fmt.Printf("iteration %d: %d bytes converted\n", i, n)
	}
	elapsed := time.Since(start)

	stats := dec.Stats()
	fmt.Printf("completed: %d/%d\n", completed, iterations)
	fmt.Printf("elapsed: %.3fs\n", elapsed.Seconds())
	if completed > 0 && elapsed > 0 {
		fmt.Printf("frames/sec: %.3f\n", float64(completed)/elapsed.Seconds())
		fmt.Printf("output buffer: %d bytes\n", stats.LastOutputBytes)
	}
	return nil
}

// applyConfigFile loads --config values for every flag the user did
// not set explicitly.
func applyConfigFile(cmd *cobra.Command, opts *runOptions) error {
	if opts.configPath == "" {
		return nil
	}
	raw, err := os.ReadFile(opts.configPath)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	var fc fileConfig
	if err := yaml.Unmarshal(raw, &fc); err != nil {
		return fmt.Errorf("parse config %s: %w", opts.configPath, err)
	}

	flags := cmd.Flags()
	if !flags.Changed("width") && fc.OutputWidth > 0 {
		opts.outputWidth = fc.OutputWidth
	}
	if !flags.Changed("height") && fc.OutputHeight > 0 {
		opts.outputHeight = fc.OutputHeight
	}
	if !flags.Changed("format") && fc.Format != "" {
		opts.format = fc.Format
	}
	if !flags.Changed("iterations") && fc.Iterations > 0 {
		opts.iterations = fc.Iterations
	}
	if !flags.Changed("alt-setup") {
		opts.altSetup = opts.altSetup || fc.AltSetup
	}
	if !flags.Changed("timeout") && fc.TimeoutMS > 0 {
		opts.timeoutMS = fc.TimeoutMS
	}
	return nil
}

func parseFormat(s string) (imageconvert.PixelFormat, error) {
	switch s {
	case "yuv420":
		return imageconvert.FormatYUV420PackedPlanar, nil
	case "rgb565":
		return imageconvert.FormatRGB565, nil
	case "abgr8888":
		return imageconvert.FormatABGR8888, nil
	default:
		return 0, fmt.Errorf("unknown format %q (want yuv420, rgb565 or abgr8888)", s)
	}
}

// resolveInput returns the input file path, synthesizing one when
// requested.
func resolveInput(args []string, opts *runOptions) (string, func(), error) {
	if opts.synthesize != "" {
		var w, h int
		if _, err := fmt.Sscanf(opts.synthesize, "%dx%d", &w, &h); err != nil || w <= 0 || h <= 0 {
			return "", nil, fmt.Errorf("invalid --synthesize %q (want WxH)", opts.synthesize)
		}
		data := hwsim.SynthesizeJPEG(w, h, 256*1024)
		path := filepath.Join(os.TempDir(), fmt.Sprintf("imgconv-test-%dx%d.jpg", w, h))
		if err := os.WriteFile(path, data, 0o644); err != nil {
			return "", nil, fmt.Errorf("write synthesized input: %w", err)
		}
		return path, func() { os.Remove(path) }, nil
	}
	if len(args) < 1 {
		return "", nil, fmt.Errorf("a jpeg file argument or --synthesize is required")
	}
	return args[0], nil, nil
}
