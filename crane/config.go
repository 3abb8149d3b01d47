package crane

import (
	"fmt"
	"os"

	"github.com/Masterminds/semver/v3"
	"gopkg.in/yaml.v2"
)

// GeometryVersion is the range of geometry file versions this build understands.
const GeometryVersion = "^1.0"

type GeometryConfig struct {
	Version string         `yaml:"version"`
	Links   []LinkGeometry `yaml:"links"`
}

type YAMLLink struct {
	Name  string    `yaml:"name"`
	DH    []float64 `yaml:"dh,flow"` // offset (m), length (m), twist (deg)
	Joint string    `yaml:"joint"`   // revolute or prismatic
}

func (l LinkGeometry) MarshalYAML() (interface{}, error) {
	joint := "revolute"
	if l.Prismatic {
		joint = "prismatic"
	}
	return &YAMLLink{
		Name:  l.Name,
		DH:    []float64{l.Offset, l.Length, l.Twist},
		Joint: joint,
	}, nil
}

func (l *LinkGeometry) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var yl YAMLLink
	if err := unmarshal(&yl); err != nil {
		return err
	}
	if len(yl.DH) != 3 {
		return fmt.Errorf("link %q: dh needs offset, length and twist, got %d values", yl.Name, len(yl.DH))
	}

	switch yl.Joint {
	case "", "revolute":
		l.Prismatic = false
	case "prismatic":
		l.Prismatic = true
	default:
		return fmt.Errorf("link %q: unknown joint type %q", yl.Name, yl.Joint)
	}

	l.Name = yl.Name
	l.Offset, l.Length, l.Twist = yl.DH[0], yl.DH[1], yl.DH[2]
	return nil
}

// Geometry validates the file version and link count.
func (c GeometryConfig) Geometry() (g Geometry, err error) {
	version, err := semver.NewVersion(c.Version)
	if err != nil {
		return g, fmt.Errorf("geometry version %q: %w", c.Version, err)
	}

	constraint, err := semver.NewConstraint(GeometryVersion)
	if err != nil {
		return g, err
	}
	if !constraint.Check(version) {
		return g, fmt.Errorf("unable to use geometry version %s - require %s", version, GeometryVersion)
	}

	if len(c.Links) != NumLinks {
		return g, fmt.Errorf("geometry must describe %d links, got %d", NumLinks, len(c.Links))
	}
	copy(g[:], c.Links)

	return g, nil
}

// ParseGeometry reads a YAML geometry document.
func ParseGeometry(data []byte) (Geometry, error) {
	var config GeometryConfig
	if err := yaml.Unmarshal(data, &config); err != nil {
		return Geometry{}, fmt.Errorf("unable to unmarshal geometry: %w", err)
	}
	return config.Geometry()
}

// LoadGeometry reads a geometry file. An empty path yields DefaultGeometry.
func LoadGeometry(filename string) (Geometry, error) {
	if filename == "" {
		return DefaultGeometry, nil
	}

	data, err := os.ReadFile(filename)
	if err != nil {
		return Geometry{}, fmt.Errorf("unable to read geometry file: %w", err)
	}
	return ParseGeometry(data)
}

// MarshalGeometry renders a geometry in the same format ParseGeometry reads.
func MarshalGeometry(g Geometry) ([]byte, error) {
	return yaml.Marshal(GeometryConfig{
		Version: "1.0.0",
		Links:   g[:],
	})
}
