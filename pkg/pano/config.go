package pano

import (
	"fmt"
	"runtime"

	"gopkg.in/yaml.v2"

	"github.com/abworrall/pano-composite/pkg/overlay"
	"github.com/abworrall/pano-composite/pkg/perr"
	"github.com/abworrall/pano-composite/pkg/storage"
)

type Config struct {
	OutputFileType    string `yaml:"outputFileType"`    // jpg, png, tif, exr
	ToneMapper        string `yaml:"toneMapper"`        // develops jpg, png and tif output
	CompositerType    string `yaml:"compositerType"`    // multiband, replace, alpha
	UseGraphCut       bool   `yaml:"useGraphCut"`       // optimize seams, else nearest-centre
	StorageDataType   string `yaml:"storageDataType"`   // float, half, halfFinite, auto
	OverlayType       string `yaml:"overlayType"`       // none, borders, seams, all
	CustomCacheFolder string `yaml:"customCacheFolder"` // kept after the run if set
	VerboseLevel      string `yaml:"verboseLevel"`      // fatal, error, warning, info, debug, trace

	RegionSize            int     `yaml:"regionSize"` // core size of a work region, in pixels
	MaxLevels             int     `yaml:"maxLevels"`  // pyramid depth cap
	TileSize              int     `yaml:"tileSize"`
	MemoryBudgetMB        int     `yaml:"memoryBudgetMB"`
	Workers               int     `yaml:"workers"`
	GraphCutMaxIterations int     `yaml:"graphCutMaxIterations"`
	GraphCutMaxNodes      int     `yaml:"graphCutMaxNodes"`
	FeatherPasses         int     `yaml:"featherPasses"`
	HalfTolerance         float64 `yaml:"halfTolerance"` // relative error allowed by auto storage
	Resume                bool    `yaml:"resume"`        // pick up from CustomCacheFolder
}

var (
	OutputFileTypes = []string{"jpg", "png", "tif", "exr"}
	ToneMappers     = []string{"none", "linear", "drago03", "durand", "icam06", "reinhard05"}
	CompositerTypes = []string{"multiband", "replace", "alpha"}
	VerboseLevels   = []string{"fatal", "error", "warning", "info", "debug", "trace"}
)

func NewConfig() Config {
	return Config{
		OutputFileType:  "exr",
		ToneMapper:      "none",
		CompositerType:  "multiband",
		UseGraphCut:     true,
		StorageDataType: "float",
		OverlayType:     "none",
		VerboseLevel:    "info",

		RegionSize:            512,
		MaxLevels:             6,
		TileSize:              256,
		MemoryBudgetMB:        512,
		Workers:               runtime.NumCPU(),
		GraphCutMaxIterations: 10,
		GraphCutMaxNodes:      1 << 16,
		FeatherPasses:         2,
		HalfTolerance:         1e-3,
	}
}

// NewConfigFromYaml starts from the defaults, so a file only needs the
// fields it changes.
func NewConfigFromYaml(b []byte) (Config, error) {
	c := NewConfig()
	if err := yaml.Unmarshal(b, &c); err != nil {
		return c, perr.Wrap(perr.InputError, err, "parsing config")
	}
	return c, c.Validate()
}

func (c Config) AsYaml() string {
	b, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Sprintf("# can't marshal config: %v\n", err)
	}
	return string(b)
}

func oneOf(field, v string, legal []string) error {
	for _, l := range legal {
		if v == l {
			return nil
		}
	}
	return perr.New(perr.InputError, "%s %q is not one of %v", field, v, legal)
}

// Validate checks every field against its legal values.
func (c Config) Validate() error {
	if err := oneOf("outputFileType", c.OutputFileType, OutputFileTypes); err != nil {
		return err
	}
	if err := oneOf("toneMapper", c.ToneMapper, ToneMappers); err != nil {
		return err
	}
	if err := oneOf("compositerType", c.CompositerType, CompositerTypes); err != nil {
		return err
	}
	if err := oneOf("verboseLevel", c.VerboseLevel, VerboseLevels); err != nil {
		return err
	}
	if _, err := storage.ParseDataType(c.StorageDataType); err != nil {
		return err
	}
	if _, err := overlay.ParseMode(c.OverlayType); err != nil {
		return err
	}

	switch {
	case c.RegionSize < 16:
		return perr.New(perr.InputError, "regionSize %d is below 16", c.RegionSize)
	case c.MaxLevels < 1 || c.MaxLevels > 12:
		return perr.New(perr.InputError, "maxLevels %d is not in [1,12]", c.MaxLevels)
	case c.TileSize < 8:
		return perr.New(perr.InputError, "tileSize %d is below 8", c.TileSize)
	case c.MemoryBudgetMB < 1:
		return perr.New(perr.InputError, "memoryBudgetMB %d is below 1", c.MemoryBudgetMB)
	case c.Workers < 0:
		return perr.New(perr.InputError, "workers %d is negative", c.Workers)
	case c.GraphCutMaxIterations < 1:
		return perr.New(perr.InputError, "graphCutMaxIterations %d is below 1", c.GraphCutMaxIterations)
	case c.GraphCutMaxNodes < 4:
		return perr.New(perr.InputError, "graphCutMaxNodes %d is below 4", c.GraphCutMaxNodes)
	case c.FeatherPasses < 0:
		return perr.New(perr.InputError, "featherPasses %d is negative", c.FeatherPasses)
	case c.HalfTolerance < 0:
		return perr.New(perr.InputError, "halfTolerance %g is negative", c.HalfTolerance)
	case c.Resume && c.CustomCacheFolder == "":
		return perr.New(perr.InputError, "resume needs a customCacheFolder")
	}
	return nil
}

func (c Config) workers() int {
	if c.Workers <= 0 {
		return runtime.NumCPU()
	}
	return c.Workers
}
