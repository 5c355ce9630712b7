package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/alecthomas/kong"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	aspectcropper "github.com/menta2k/aspect-cropper"
	"github.com/menta2k/aspect-cropper/internal/config"
	"github.com/menta2k/aspect-cropper/internal/utils"
	"github.com/menta2k/aspect-cropper/internal/web"
	"github.com/menta2k/aspect-cropper/pkg/sink"
	"github.com/menta2k/aspect-cropper/pkg/types"
)

func main() {
	if err := run(); err != nil {
		log.Fatal().Err(err).Send()
	}
}

func run() error {
	var args cliArgs
	cliCtx := kong.Parse(
		&args,
		kong.Name("aspect-cropper"),
		kong.Description("Crop images to fixed aspect ratios, with optional rotation and smart crop."),
		kong.UsageOnError(),
	)
	setupLogging(args.Verbose)
	return cliCtx.Run(&args.Globals)
}

// Globals are flags shared by every command
type Globals struct {
	Config  string `help:"Path to a YAML or JSON config file" type:"path" placeholder:"FILE"`
	Verbose bool   `short:"v" help:"Enable verbose logging"`
}

type cliArgs struct {
	Globals

	Serve   serveCmd   `cmd:"" help:"Run the HTTP API"`
	Crop    cropCmd    `cmd:"" help:"Crop files or URLs to one or more aspect ratios"`
	Ratios  ratiosCmd  `cmd:"" help:"List the supported aspect ratios"`
	Init    initCmd    `cmd:"" help:"Write the default configuration file"`
	Version versionCmd `cmd:"" help:"Print the version"`
}

func setupLogging(verbose bool) {
	level := zerolog.InfoLevel
	if verbose {
		level = zerolog.DebugLevel
	}
	log.Logger = log.Output(zerolog.NewConsoleWriter(func(w *zerolog.ConsoleWriter) {
		w.Out = os.Stderr
		w.TimeFormat = time.Kitchen
	})).Level(level)
	zerolog.DefaultContextLogger = &log.Logger
}

func (g *Globals) load() (*config.Config, error) {
	return config.Load(g.Config)
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	return log.Logger.WithContext(ctx), cancel
}

type serveCmd struct {
	Addr    string `help:"Listen address, overrides server.addr"`
	Backend string `help:"Smart crop backend: gemini, ollama, llamacpp, saliency or none"`
}

func (cmd *serveCmd) Run(g *Globals) error {
	cfg, err := g.load()
	if err != nil {
		return err
	}
	if cmd.Addr != "" {
		cfg.Server.Addr = cmd.Addr
	}
	if cmd.Backend != "" {
		cfg.Suggestion.Backend = cmd.Backend
	}

	cropper, err := aspectcropper.NewWithConfig(cfg)
	if err != nil {
		return err
	}
	format, _ := types.ParseFormat(cfg.Output.Format)

	ctx, cancel := signalContext()
	defer cancel()

	app := web.NewWebApp(web.Config{
		Store:      cropper.NewStore(),
		Suggester:  cropper.Suggester(),
		Clipboard:  sink.NewClipboardSink(cfg.Output.Clipboard...),
		Format:     format,
		Quality:    cfg.Output.Quality,
		BodyLimit:  cfg.Server.BodyLimit,
		SessionTTL: cfg.Server.SessionTTL,
		OnBeforeShutdown: func() {
			log.Ctx(ctx).Info().Msg("Shutting down web application...")
		},
		OnReady: func(addr string) {
			log.Ctx(ctx).Info().Str("backend", cropper.Suggester().Backend()).Msgf("Server started at %s", addr)
		},
	})

	return app.Run(ctx, cfg.Server.Addr)
}

type cropCmd struct {
	Inputs    []string `arg:"" help:"Image files, directories or http(s) URLs"`
	Ratio     []string `short:"r" help:"Target ratio, repeatable (16:9, 4:3, 1:1, 3:2, 5:4, 9:16, 1.85:1, 2.35:1)"`
	Rotation  int      `help:"Rotation in degrees, a multiple of 90" default:"0"`
	Smart     bool     `help:"Seed the crop from a smart crop suggestion"`
	Backend   string   `help:"Smart crop backend, overrides suggestion.backend"`
	Model     string   `help:"Model name for the smart crop backend"`
	Format    string   `short:"f" help:"Output format: webp, jpeg or png"`
	Quality   float64  `short:"q" help:"Output quality for lossy formats, 0.1 to 1"`
	Out       string   `short:"o" help:"Output directory, overrides output.output_dir"`
	Clipboard bool     `help:"Copy the first result to the clipboard instead of writing files"`
	Debug     bool     `help:"Also write a PNG overlay showing the suggestion and the crop"`
}

func (cmd *cropCmd) Run(g *Globals) error {
	cfg, err := g.load()
	if err != nil {
		return err
	}
	if cmd.Backend != "" {
		cfg.Suggestion.Backend = cmd.Backend
	}
	if cmd.Model != "" {
		cfg.Suggestion.Model = cmd.Model
	}
	if cmd.Out != "" {
		cfg.Output.OutputDir = cmd.Out
	}
	if !cmd.Smart {
		// no backend is contacted, so its settings need not be valid
		cfg.Suggestion.Backend = "none"
	}

	jobs, err := cmd.jobs(cfg)
	if err != nil {
		return err
	}
	cropper, err := aspectcropper.NewWithConfig(cfg)
	if err != nil {
		return err
	}
	inputs, err := expandSources(cmd.Inputs)
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	var out sink.Sink = sink.NewFileSink(cfg.Output.OutputDir)
	if cmd.Clipboard {
		out = sink.NewClipboardSink(cfg.Output.Clipboard...)
	}

	for _, input := range inputs {
		logger := log.Ctx(ctx).With().Str("input", input).Logger()
		start := time.Now()

		results, err := cropper.ProcessFile(ctx, input, jobs)
		if err != nil {
			return fmt.Errorf("%s: %w", input, err)
		}
		for _, r := range results {
			if r.Warning != "" {
				logger.Warn().Str("ratio", r.Job.Ratio.Label).Msg(r.Warning)
			}
		}

		if cmd.Clipboard {
			where, err := aspectcropper.WriteResults(ctx, out, results[:1], nil)
			if err != nil {
				return err
			}
			logger.Info().Strs("written", where).Msg("copied to clipboard")
			return nil
		}

		var name func(aspectcropper.Result) string
		if len(inputs) > 1 {
			name = func(r aspectcropper.Result) string {
				return utils.OutputName(input, r.Export.Filename)
			}
		}
		written, err := aspectcropper.WriteResults(ctx, out, results, name)
		if err != nil {
			return err
		}
		for i, path := range written {
			logger.Info().
				Str("ratio", results[i].Job.Ratio.Label).
				Stringer("region", results[i].Region).
				Str("size", utils.FormatFileSize(int64(len(results[i].Export.Data)))).
				Msgf("wrote %s", path)
		}

		if cmd.Debug {
			if err := cmd.writeOverlay(ctx, cropper, input, results[0], cfg.Output.OutputDir); err != nil {
				logger.Error().Err(err).Msg("failed to write debug overlay")
			}
		}
		logger.Debug().Dur("took", time.Since(start)).Msg("done")
	}

	return nil
}

func (cmd *cropCmd) jobs(cfg *config.Config) ([]aspectcropper.Job, error) {
	labels := cmd.Ratio
	if len(labels) == 0 {
		labels = []string{cfg.Crop.DefaultRatio}
	}
	rotation, err := types.NormalizeRotation(cmd.Rotation)
	if err != nil {
		return nil, err
	}

	var format types.Format
	if cmd.Format != "" {
		if format, err = types.ParseFormat(cmd.Format); err != nil {
			return nil, err
		}
	}

	jobs := make([]aspectcropper.Job, 0, len(labels))
	for _, label := range labels {
		ratio, err := types.ParseAspectRatio(label)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, aspectcropper.Job{
			Ratio:    ratio,
			Rotation: rotation,
			Smart:    cmd.Smart,
			Format:   format,
			Quality:  cmd.Quality,
		})
	}
	return jobs, nil
}

func (cmd *cropCmd) writeOverlay(ctx context.Context, c *aspectcropper.Cropper, input string, r aspectcropper.Result, dir string) error {
	img, _, err := loadSource(input)
	if err != nil {
		return err
	}
	data, err := encodePNG(c.DebugOverlay(img, r))
	if err != nil {
		return err
	}
	name := utils.OutputName(input, "debug-"+r.Job.Ratio.FileLabel()+".png")
	where, err := sink.NewFileSink(dir).Write(ctx, name, types.FormatPNG.MIMEType(), data)
	if err != nil {
		return err
	}
	log.Ctx(ctx).Info().Msgf("wrote debug overlay %s", where)
	return nil
}

// expandSources keeps URLs as they are and expands files and directories
func expandSources(inputs []string) ([]string, error) {
	var urls, paths []string
	for _, in := range inputs {
		if strings.HasPrefix(in, "http://") || strings.HasPrefix(in, "https://") {
			urls = append(urls, in)
		} else {
			paths = append(paths, in)
		}
	}
	files, err := utils.ExpandInputs(paths)
	if err != nil {
		return nil, err
	}
	sources := append(urls, files...)
	if len(sources) == 0 {
		return nil, fmt.Errorf("no image inputs found")
	}
	return sources, nil
}

type ratiosCmd struct{}

func (cmd *ratiosCmd) Run() error {
	for _, r := range types.AspectRatios() {
		fmt.Printf("%-7s %.4f  %s\n", r.Label, r.Value, r.FileLabel())
	}
	return nil
}

type initCmd struct {
	Force bool `help:"Overwrite an existing file"`
}

func (cmd *initCmd) Run(g *Globals) error {
	path := g.Config
	if path == "" {
		path = config.GetConfigPath()
	}
	if utils.FileExists(path) && !cmd.Force {
		return fmt.Errorf("%s already exists, use --force to overwrite", path)
	}
	if err := config.Default().SaveToFile(path); err != nil {
		return err
	}
	log.Info().Msgf("wrote %s", path)
	return nil
}

type versionCmd struct{}

func (cmd *versionCmd) Run() error {
	fmt.Println(aspectcropper.Version)
	return nil
}
