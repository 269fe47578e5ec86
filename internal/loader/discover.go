package loader

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pkg/errors"
)

// Preset names one sample-set directory.
type Preset struct {
	Name string
	Dir  string
}

// Discover lists the preset directories below root in name order, which is
// the order presets are stepped through. Hidden directories are skipped.
func Discover(root string) ([]Preset, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, errors.Wrapf(err, "read samples dir %s", root)
	}
	var out []Preset
	for _, e := range entries {
		if !e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		out = append(out, Preset{Name: e.Name(), Dir: filepath.Join(root, e.Name())})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}
