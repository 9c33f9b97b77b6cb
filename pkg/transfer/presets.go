package transfer

import (
	_ "embed"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

//go:embed presets.yaml
var builtinPresets []byte

// presetFile is the YAML layout of a preset document.
type presetFile struct {
	Presets []presetSpec `yaml:"presets"`
}

type presetSpec struct {
	Name       string       `yaml:"name"`
	ColorSpace string       `yaml:"colorSpace"`
	Domain     Domain       `yaml:"domain"`
	Shift      float64      `yaml:"shift"`
	Colors     []ColorPoint `yaml:"colors"`
	Alphas     []AlphaPoint `yaml:"alphas"`
}

func (p presetSpec) transferFunction() (TransferFunction, error) {
	if p.Name == "" {
		return TransferFunction{}, fmt.Errorf("preset without a name")
	}
	if p.Domain.Max <= p.Domain.Min {
		return TransferFunction{}, fmt.Errorf("preset %q: empty domain [%g,%g]", p.Name, p.Domain.Min, p.Domain.Max)
	}
	cs := ColorSpaceLinear
	switch strings.ToLower(p.ColorSpace) {
	case "", "linear":
	case "srgb":
		cs = ColorSpaceSRGB
	default:
		return TransferFunction{}, fmt.Errorf("preset %q: unknown color space %q", p.Name, p.ColorSpace)
	}
	return TransferFunction{
		Name:        p.Name,
		ColorPoints: p.Colors,
		AlphaPoints: p.Alphas,
		Domain:      p.Domain,
		Shift:       p.Shift,
		ColorSpace:  cs,
	}, nil
}

var (
	presetsMu sync.RWMutex
	presets   map[string]TransferFunction
)

func init() {
	loaded, err := parsePresets(builtinPresets)
	if err != nil {
		panic(fmt.Sprintf("transfer: invalid built-in presets: %v", err))
	}
	presets = loaded
}

func parsePresets(data []byte) (map[string]TransferFunction, error) {
	var file presetFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("error parsing presets: %w", err)
	}
	out := make(map[string]TransferFunction, len(file.Presets))
	for _, spec := range file.Presets {
		tf, err := spec.transferFunction()
		if err != nil {
			return nil, err
		}
		out[tf.Name] = tf
	}
	return out, nil
}

// Preset returns the named transfer function.
func Preset(name string) (TransferFunction, error) {
	presetsMu.RLock()
	defer presetsMu.RUnlock()
	tf, ok := presets[name]
	if !ok {
		return TransferFunction{}, fmt.Errorf("unknown transfer function preset %q", name)
	}
	return tf, nil
}

// PresetNames returns all registered preset names in sorted order.
func PresetNames() []string {
	presetsMu.RLock()
	defer presetsMu.RUnlock()
	names := make([]string, 0, len(presets))
	for name := range presets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// LoadPresets reads a YAML preset document and registers its presets,
// replacing built-ins with the same name. It returns the registered names.
func LoadPresets(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading preset file: %w", err)
	}
	loaded, err := parsePresets(data)
	if err != nil {
		return nil, err
	}

	presetsMu.Lock()
	defer presetsMu.Unlock()
	names := make([]string, 0, len(loaded))
	for name, tf := range loaded {
		presets[name] = tf
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}
