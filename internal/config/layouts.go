package config

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/couchcryptid/station-data-etl/internal/domain"
	"gopkg.in/yaml.v3"
)

//go:embed layouts.yaml
var defaultLayouts []byte

//go:embed variables.yaml
var defaultVariables []byte

type layoutsFile struct {
	Basins []basinYAML `yaml:"basins"`
}

type basinYAML struct {
	Name               string                  `yaml:"name"`
	Timezone           string                  `yaml:"timezone"`
	UTMZone            int                     `yaml:"utm_zone"`
	UTMNorthern        bool                    `yaml:"utm_northern"`
	SplitDateFrom      string                  `yaml:"split_date_from"`
	DateFormats        []string                `yaml:"date_formats"`
	PreferCombinedDate bool                    `yaml:"prefer_combined_date"`
	Keep               []string                `yaml:"keep"`
	Drop               []string                `yaml:"drop"`
	Rename             map[string]string       `yaml:"rename"`
	Stations           []string                `yaml:"stations"`
	Overrides          map[string]overrideYAML `yaml:"overrides"`
}

type overrideYAML struct {
	Keep   []string          `yaml:"keep"`
	Drop   []string          `yaml:"drop"`
	Rename map[string]string `yaml:"rename"`
}

type variablesFile struct {
	Variables []variableYAML `yaml:"variables"`
}

type variableYAML struct {
	Name  string   `yaml:"name"`
	Label string   `yaml:"label"`
	Unit  string   `yaml:"unit"`
	Rain  bool     `yaml:"rain"`
	Min   *float64 `yaml:"min"`
	Max   *float64 `yaml:"max"`
}

// LoadLayouts reads the station layout table from path, or the embedded
// default when path is empty.
func LoadLayouts(path string) (*domain.LayoutRegistry, error) {
	data, err := readOrDefault(path, defaultLayouts)
	if err != nil {
		return nil, fmt.Errorf("read layouts: %w", err)
	}
	return ParseLayouts(data)
}

// ParseLayouts decodes a YAML station layout table.
func ParseLayouts(data []byte) (*domain.LayoutRegistry, error) {
	var f layoutsFile
	if err := decodeStrict(data, &f); err != nil {
		return nil, fmt.Errorf("decode layouts: %w", err)
	}
	if len(f.Basins) == 0 {
		return nil, errors.New("layouts: no basins defined")
	}

	basins := make([]domain.BasinLayout, 0, len(f.Basins))
	for _, b := range f.Basins {
		if b.Name == "" {
			return nil, errors.New("layouts: basin without name")
		}
		if b.UTMZone < 0 || b.UTMZone > 60 {
			return nil, fmt.Errorf("layouts: basin %s: utm_zone %d out of range", b.Name, b.UTMZone)
		}
		overrides := make(map[string]domain.StationOverride, len(b.Overrides))
		for station, o := range b.Overrides {
			overrides[station] = domain.StationOverride{Rename: o.Rename, Keep: o.Keep, Drop: o.Drop}
		}
		basins = append(basins, domain.BasinLayout{
			Name:               b.Name,
			Rename:             b.Rename,
			Keep:               b.Keep,
			Drop:               b.Drop,
			SplitDateFrom:      b.SplitDateFrom,
			DateFormats:        b.DateFormats,
			PreferCombinedDate: b.PreferCombinedDate,
			UTMZone:            b.UTMZone,
			UTMNorthern:        b.UTMNorthern,
			Timezone:           b.Timezone,
			Stations:           b.Stations,
			Overrides:          overrides,
		})
	}
	return domain.NewLayoutRegistry(basins)
}

// LoadVariables reads the variable catalog from path, or the embedded
// default when path is empty.
func LoadVariables(path string) (domain.VariableCatalog, error) {
	data, err := readOrDefault(path, defaultVariables)
	if err != nil {
		return nil, fmt.Errorf("read variables: %w", err)
	}
	return ParseVariables(data)
}

// ParseVariables decodes a YAML variable catalog.
func ParseVariables(data []byte) (domain.VariableCatalog, error) {
	var f variablesFile
	if err := decodeStrict(data, &f); err != nil {
		return nil, fmt.Errorf("decode variables: %w", err)
	}

	seen := make(map[string]bool, len(f.Variables))
	out := make(domain.VariableCatalog, 0, len(f.Variables))
	for _, v := range f.Variables {
		if v.Name == "" {
			return nil, errors.New("variables: entry without name")
		}
		if seen[v.Name] {
			return nil, fmt.Errorf("variables: %s defined twice", v.Name)
		}
		seen[v.Name] = true
		if v.Min != nil && v.Max != nil && *v.Min > *v.Max {
			return nil, fmt.Errorf("variables: %s: min %g above max %g", v.Name, *v.Min, *v.Max)
		}
		out = append(out, domain.VariableSpec{
			Name:   v.Name,
			Label:  v.Label,
			Unit:   v.Unit,
			IsRain: v.Rain,
			Limits: domain.Limits{Min: v.Min, Max: v.Max},
		})
	}
	return out, nil
}

func readOrDefault(path string, def []byte) ([]byte, error) {
	if path == "" {
		return def, nil
	}
	return os.ReadFile(path)
}

func decodeStrict(data []byte, v any) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}
