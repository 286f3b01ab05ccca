// Package panoio reads a folder of warped views and writes the finished
// panorama to disk.
package panoio

import (
	"errors"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v2"

	"github.com/abworrall/pano-composite/pkg/perr"
)

const ManifestName = "panorama.yaml"

// A Manifest describes a warping folder: the panorama size, and where
// each warped view sits in it.
type Manifest struct {
	Width  int    `yaml:"width"`
	Height int    `yaml:"height"`
	Views  []View `yaml:"views"`
}

type View struct {
	Name   string `yaml:"name"`
	Image  string `yaml:"image"`          // relative to the folder
	Mask   string `yaml:"mask,omitempty"` // if empty, the image alpha is used
	Offset [2]int `yaml:"offset"`         // top-left in the panorama
}

func LoadManifest(dir string) (Manifest, error) {
	m := Manifest{}
	filename := filepath.Join(dir, ManifestName)
	b, err := os.ReadFile(filename)
	if errIsNotExist(err) {
		return m, perr.Wrap(perr.InputError, err, "%s is not a warping folder", dir)
	} else if err != nil {
		return m, perr.Wrap(perr.IOFailure, err, "reading %s", filename)
	}
	if err := yaml.Unmarshal(b, &m); err != nil {
		return m, perr.Wrap(perr.InputError, err, "parsing %s", filename)
	}
	return m, m.Validate()
}

func (m Manifest) Validate() error {
	if m.Width <= 0 || m.Height <= 0 {
		return perr.New(perr.InputError, "panorama size %dx%d is empty", m.Width, m.Height)
	}
	if len(m.Views) == 0 {
		return perr.New(perr.InputError, "no views")
	}
	names := map[string]bool{}
	for i, v := range m.Views {
		if v.Image == "" {
			return perr.New(perr.InputError, "view %d has no image", i)
		}
		if v.Name == "" {
			v.Name = v.Image
		}
		if names[v.Name] {
			return perr.New(perr.InputError, "view %q listed twice", v.Name)
		}
		names[v.Name] = true
	}
	return nil
}

// Save writes the manifest into dir.
func (m Manifest) Save(dir string) error {
	b, err := yaml.Marshal(m)
	if err != nil {
		return perr.Wrap(perr.InputError, err, "marshaling manifest")
	}
	filename := filepath.Join(dir, ManifestName)
	if err := os.WriteFile(filename, b, 0o644); err != nil {
		return perr.Wrap(perr.IOFailure, err, "writing %s", filename)
	}
	return nil
}

func errIsNotExist(err error) bool { return errors.Is(err, os.ErrNotExist) }
