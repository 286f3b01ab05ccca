package main

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/abworrall/pano-composite/pkg/pano"
	"github.com/abworrall/pano-composite/pkg/panoio"
	"github.com/abworrall/pano-composite/pkg/perr"
)

func newLogger(w io.Writer, verbose string) *log.Logger {
	levels := map[string]log.Level{
		"fatal":   log.FatalLevel,
		"error":   log.ErrorLevel,
		"warning": log.WarnLevel,
		"info":    log.InfoLevel,
		"debug":   log.DebugLevel,
		"trace":   log.DebugLevel,
	}
	return log.NewWithOptions(w, log.Options{
		ReportTimestamp: true,
		TimeFormat:      "15:04:05.00",
		Level:           levels[verbose],
		ReportCaller:    verbose == "trace",
		Prefix:          "panocomp",
	})
}

// configFromViper layers the config file, PANOCOMP_ env vars and flags
// over the defaults.
func configFromViper(v *viper.Viper) (pano.Config, error) {
	cfg := pano.NewConfig()
	cfg.OutputFileType = v.GetString("outputFileType")
	cfg.ToneMapper = v.GetString("toneMapper")
	cfg.CompositerType = v.GetString("compositerType")
	cfg.UseGraphCut = v.GetBool("useGraphCut")
	cfg.StorageDataType = v.GetString("storageDataType")
	cfg.OverlayType = v.GetString("overlayType")
	cfg.CustomCacheFolder = v.GetString("customCacheFolder")
	cfg.VerboseLevel = v.GetString("verboseLevel")
	cfg.RegionSize = v.GetInt("regionSize")
	cfg.MaxLevels = v.GetInt("maxLevels")
	cfg.TileSize = v.GetInt("tileSize")
	cfg.MemoryBudgetMB = v.GetInt("memoryBudgetMB")
	cfg.Workers = v.GetInt("workers")
	cfg.GraphCutMaxIterations = v.GetInt("graphCutMaxIterations")
	cfg.GraphCutMaxNodes = v.GetInt("graphCutMaxNodes")
	cfg.FeatherPasses = v.GetInt("featherPasses")
	cfg.HalfTolerance = v.GetFloat64("halfTolerance")
	cfg.Resume = v.GetBool("resume")
	return cfg, cfg.Validate()
}

func newRootCmd(stderr io.Writer) *cobra.Command {
	var cfgFile string
	v := viper.New()

	root := &cobra.Command{
		Use:           "panocomp",
		Short:         "Composite warped images into a seamless panorama",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&cfgFile, "config", "", "yaml config file")

	comp := &cobra.Command{
		Use:   "composite",
		Short: "Blend a warping folder into panorama.<ext>",
		Long: `composite reads a warping folder (panorama.yaml plus one warped image,
and optionally a mask, per view), chooses seams between overlapping views,
blends them and writes panorama.<ext> into the output directory.

Example:
  panocomp composite -i warping/ -o out/ --compositerType multiband --outputFileType tif`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if cfgFile != "" {
				v.SetConfigFile(cfgFile)
				if err := v.ReadInConfig(); err != nil {
					return perr.Wrap(perr.InputError, err, "reading config %s", cfgFile)
				}
			}
			cfg, err := configFromViper(v)
			if err != nil {
				return err
			}
			logger := newLogger(stderr, cfg.VerboseLevel)
			logger.Debug("final configuration\n" + cfg.AsYaml())

			return run(cmd.Context(), cfg, v.GetString("input"), v.GetString("output"), v.GetBool("dumpSeams"), logger)
		},
	}

	def := pano.NewConfig()
	f := comp.Flags()
	f.StringP("input", "i", "", "warping folder")
	f.StringP("output", "o", ".", "output folder")
	f.Bool("dumpSeams", false, "also write the seam labels as seams.png")
	f.String("outputFileType", def.OutputFileType, strings.Join(pano.OutputFileTypes, ", "))
	f.String("toneMapper", def.ToneMapper, strings.Join(pano.ToneMappers, ", "))
	f.String("compositerType", def.CompositerType, strings.Join(pano.CompositerTypes, ", "))
	f.Bool("useGraphCut", def.UseGraphCut, "optimize seams with graph cut")
	f.String("storageDataType", def.StorageDataType, "float, half, halfFinite, auto")
	f.String("overlayType", def.OverlayType, "none, borders, seams, all")
	f.String("customCacheFolder", def.CustomCacheFolder, "keep intermediate tiles here")
	f.String("verboseLevel", def.VerboseLevel, strings.Join(pano.VerboseLevels, ", "))
	f.Int("regionSize", def.RegionSize, "core size of a work region, in pixels")
	f.Int("maxLevels", def.MaxLevels, "pyramid depth cap")
	f.Int("tileSize", def.TileSize, "tile size of the intermediate store")
	f.Int("memoryBudgetMB", def.MemoryBudgetMB, "resident tile memory before spilling to disk")
	f.Int("workers", def.Workers, "regions blended at once")
	f.Int("graphCutMaxIterations", def.GraphCutMaxIterations, "expansion passes before giving up")
	f.Int("graphCutMaxNodes", def.GraphCutMaxNodes, "graph cut problem size before downsampling")
	f.Int("featherPasses", def.FeatherPasses, "blurs applied to the seam mask")
	f.Float64("halfTolerance", def.HalfTolerance, "relative error auto storage allows for half")
	f.Bool("resume", def.Resume, "resume from customCacheFolder")

	if err := v.BindPFlags(f); err != nil {
		panic(err)
	}
	v.SetEnvPrefix("PANOCOMP")
	v.AutomaticEnv()

	root.AddCommand(comp)
	return root
}

func run(ctx context.Context, cfg pano.Config, in, out string, dumpSeams bool, logger *log.Logger) error {
	if in == "" {
		return perr.New(perr.InputError, "no warping folder given (use --input)")
	}
	m, err := panoio.LoadManifest(in)
	if err != nil {
		return err
	}

	p, err := pano.NewPanorama(cfg, m.Width, m.Height, logger)
	if err != nil {
		return err
	}
	defer p.Close()

	for _, view := range m.Views {
		src, err := panoio.OpenView(in, view)
		if err != nil {
			return err
		}
		if err := p.AddImage(src); err != nil {
			return err
		}
	}

	sink := panoio.NewFileSink(out, cfg.OutputFileType, cfg.ToneMapper, logger)
	res, err := p.Composite(ctx, sink)
	if err != nil {
		return err
	}

	if dumpSeams {
		labels, err := p.SeamLabels(p.Bounds())
		if err != nil {
			return err
		}
		if err := labels.ToImg(filepath.Join(out, "seams.png")); err != nil {
			return perr.Wrap(perr.IOFailure, err, "writing seams.png")
		}
	}

	logger.Info(fmt.Sprintf("wrote %s (%dx%d, %s)", sink.Path, res.Width, res.Height, res.DataType),
		"regions", res.Regions, "resumed", res.Resumed, "warnings", len(res.Warnings))
	if cfg.CustomCacheFolder != "" {
		logger.Info("cache kept", "dir", res.CacheDir)
	}
	return nil
}
