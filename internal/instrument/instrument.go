// Package instrument holds the static registry of instrument profiles: which
// files belong to which filetype, how they sort and how they are displayed.
package instrument

import (
	_ "embed"
	"errors"
	"fmt"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/fist-tools/fist/internal/imaging"
)

//go:embed profiles.yaml
var profilesYAML []byte

// ErrUnknownInstrument is returned by Load for names missing from the registry.
var ErrUnknownInstrument = errors.New("unknown instrument")

// Patterns is one or more glob patterns. In YAML it may be a scalar or a sequence.
type Patterns []string

func (p *Patterns) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		*p = Patterns{value.Value}
		return nil
	case yaml.SequenceNode:
		var list []string
		if err := value.Decode(&list); err != nil {
			return err
		}
		*p = list
		return nil
	}
	return fmt.Errorf("patterns: unexpected yaml node kind %d", value.Kind)
}

// Profile describes one instrument.
type Profile struct {
	Key             string              `json:"key" yaml:"-"`
	Name            string              `json:"name" yaml:"name"`
	StartFolder     string              `json:"start_folder" yaml:"start_folder"`
	Autofetch       bool                `json:"autofetch" yaml:"autofetch"`
	SortKey         string              `json:"sort_key" yaml:"sort_key"`
	Sources         map[int]string      `json:"sources,omitempty" yaml:"sources"`
	Filetypes       map[string]Patterns `json:"filetypes" yaml:"filetypes"`
	FiletypeList    []string            `json:"filetype_list" yaml:"filetype_list"`
	DefaultFiletype string              `json:"default_filetype" yaml:"default_filetype"`
	Scaling         imaging.ScaleParams `json:"default_scaling" yaml:"default_scaling"`
	Transform       imaging.Transform   `json:"transform" yaml:"transform"`
	Palette         string              `json:"default_palette" yaml:"default_palette"`
}

var registry map[string]*Profile

func init() {
	raw := make(map[string]*Profile)
	if err := yaml.Unmarshal(profilesYAML, &raw); err != nil {
		panic(fmt.Sprintf("instrument: invalid embedded profiles: %v", err))
	}
	registry = make(map[string]*Profile, len(raw))
	for key, p := range raw {
		p.Key = key
		p.applyDefaults()
		registry[strings.ToUpper(key)] = p
	}
}

func (p *Profile) applyDefaults() {
	if p.Name == "" {
		p.Name = p.Key
	}
	if p.StartFolder == "" {
		p.StartFolder = "."
	}
	if p.SortKey == "" {
		p.SortKey = "MJD-OBS"
	}
	if p.Scaling.PMin == 0 && p.Scaling.PMax == 0 {
		p.Scaling.PMin, p.Scaling.PMax = 1, 99
	}
	if p.Scaling.Gamma == 0 {
		p.Scaling.Gamma = 1
	}
	if p.Scaling.Contrast == 0 {
		p.Scaling.Contrast = 1
	}
	if p.Scaling.Stretch == "" {
		p.Scaling.Stretch = imaging.StretchLinear
	}
	if p.Palette == "" {
		p.Palette = "viridis"
	}
	if len(p.FiletypeList) == 0 {
		for ft := range p.Filetypes {
			p.FiletypeList = append(p.FiletypeList, ft)
		}
		sort.Strings(p.FiletypeList)
	}
	if p.DefaultFiletype == "" && len(p.FiletypeList) > 0 {
		p.DefaultFiletype = p.FiletypeList[0]
	}
}

// Names returns the registered instrument keys, sorted.
func Names() []string {
	names := make([]string, 0, len(registry))
	for _, p := range registry {
		names = append(names, p.Key)
	}
	sort.Strings(names)
	return names
}

// Load returns a private copy of the named profile. The lookup ignores case.
func Load(name string) (*Profile, error) {
	p, ok := registry[strings.ToUpper(strings.TrimSpace(name))]
	if !ok {
		return nil, fmt.Errorf("%w: %s (available: %s)", ErrUnknownInstrument, name, strings.Join(Names(), ", "))
	}
	return p.clone(), nil
}

func (p *Profile) clone() *Profile {
	c := *p
	if p.Sources != nil {
		c.Sources = make(map[int]string, len(p.Sources))
		for k, v := range p.Sources {
			c.Sources[k] = v
		}
	}
	c.Filetypes = make(map[string]Patterns, len(p.Filetypes))
	for k, v := range p.Filetypes {
		c.Filetypes[k] = append(Patterns(nil), v...)
	}
	c.FiletypeList = append([]string(nil), p.FiletypeList...)
	return &c
}

// Patterns returns the glob patterns of filetype and whether it is known.
func (p *Profile) Patterns(filetype string) ([]string, bool) {
	pats, ok := p.Filetypes[filetype]
	return pats, ok
}

// SourceLabel names plane i of a cube, falling back to "src<i>".
func (p *Profile) SourceLabel(i int) string {
	if label, ok := p.Sources[i]; ok {
		return label
	}
	return fmt.Sprintf("src%d", i)
}

// SourceLabels names the planes of a cube of the given depth.
func (p *Profile) SourceLabels(depth int) []string {
	labels := make([]string, depth)
	for i := range labels {
		labels[i] = p.SourceLabel(i)
	}
	return labels
}

// SourceIndex maps a label from SourceLabels back to its plane. Unknown labels map to 0.
func (p *Profile) SourceIndex(label string, depth int) int {
	for i := 0; i < depth; i++ {
		if p.SourceLabel(i) == label {
			return i
		}
	}
	return 0
}
