package mapping

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// File is the YAML layout of a mapping table.
type File struct {
	Version     string       `yaml:"version"`
	Instruments []Instrument `yaml:"instruments"`
}

// Load reads instrument tables from a YAML file. An empty path yields the
// built-in tables. The file replaces the defaults as a whole.
func Load(path string) (*Registry, error) {
	if path == "" {
		return DefaultRegistry(), nil
	}
	content, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("read mapping file: %w", err)
	}
	return Parse(content)
}

// Parse compiles a YAML mapping table.
func Parse(content []byte) (*Registry, error) {
	var f File
	if err := yaml.Unmarshal(content, &f); err != nil {
		return nil, fmt.Errorf("decode mapping file: %w", err)
	}
	if len(f.Instruments) == 0 {
		return nil, errors.New("no instruments configured")
	}
	return NewRegistry(f.Instruments)
}

// Dump renders instruments in the layout Load reads.
func Dump(instruments []Instrument) ([]byte, error) {
	return yaml.Marshal(File{Version: "1", Instruments: instruments})
}
