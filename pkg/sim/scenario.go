package sim

import (
	"bytes"
	"fmt"
	"math"
	"math/rand/v2"
	"os"

	"gopkg.in/yaml.v3"

	"rovers/pkg/protocol"
)

// Scenario is the initial world: rovers, known worksites and hidden markers.
type Scenario struct {
	Name      string
	Agents    []AgentSpec
	Worksites []protocol.Worksite
	Markers   []Marker
	// Warnings lists entries skipped because they were malformed.
	Warnings []string
}

// AgentSpec places one rover.
type AgentSpec struct {
	ID       string            `yaml:"id"`
	Position protocol.Position `yaml:"position"`
}

type worksiteSpec struct {
	Name     string            `yaml:"name"`
	Position protocol.Position `yaml:"position"`
	Readings protocol.Readings `yaml:"readings"`
}

type markerSpec struct {
	ID       *int              `yaml:"id"`
	Position protocol.Position `yaml:"position"`
	Readings protocol.Readings `yaml:"readings"`
}

type scenarioFile struct {
	Name      string      `yaml:"name"`
	Agents    []yaml.Node `yaml:"agents"`
	Worksites []yaml.Node `yaml:"worksites"`
	Markers   []yaml.Node `yaml:"markers"`
}

// ParseScenarioYAML decodes a scenario. Entries that fail to decode or
// validate are skipped and recorded in Warnings; only an unreadable document
// is an error.
func ParseScenarioYAML(data []byte) (*Scenario, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, fmt.Errorf("scenario: payload is empty")
	}
	var raw scenarioFile
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("scenario: decode: %w", err)
	}

	s := &Scenario{Name: raw.Name}
	warn := func(section string, i int, format string, args ...any) {
		s.Warnings = append(s.Warnings, fmt.Sprintf("%s[%d]: %s", section, i, fmt.Sprintf(format, args...)))
	}

	agentIDs := map[string]bool{}
	for i, n := range raw.Agents {
		var a AgentSpec
		if err := n.Decode(&a); err != nil {
			warn("agents", i, "%v", err)
			continue
		}
		switch {
		case a.ID == "":
			warn("agents", i, "missing id")
		case agentIDs[a.ID]:
			warn("agents", i, "duplicate id %q", a.ID)
		case !finite(a.Position):
			warn("agents", i, "bad position")
		default:
			agentIDs[a.ID] = true
			s.Agents = append(s.Agents, a)
		}
	}

	siteNames := map[string]bool{}
	for i, n := range raw.Worksites {
		var w worksiteSpec
		if err := n.Decode(&w); err != nil {
			warn("worksites", i, "%v", err)
			continue
		}
		if msg := checkWorksite(w.Name, w.Position, w.Readings); msg != "" {
			warn("worksites", i, "%s", msg)
			continue
		}
		if siteNames[w.Name] {
			warn("worksites", i, "duplicate name %q", w.Name)
			continue
		}
		siteNames[w.Name] = true
		s.Worksites = append(s.Worksites, protocol.Worksite{Name: w.Name, Position: w.Position, Readings: w.Readings})
	}

	markerIDs := map[int]bool{}
	for i, n := range raw.Markers {
		var m markerSpec
		if err := n.Decode(&m); err != nil {
			warn("markers", i, "%v", err)
			continue
		}
		switch {
		case m.ID == nil || *m.ID < 0:
			warn("markers", i, "missing or negative id")
			continue
		case markerIDs[*m.ID]:
			warn("markers", i, "duplicate id %d", *m.ID)
			continue
		}
		if msg := checkWorksite(protocol.WorksiteNameForMarker(*m.ID), m.Position, m.Readings); msg != "" {
			warn("markers", i, "%s", msg)
			continue
		}
		markerIDs[*m.ID] = true
		s.Markers = append(s.Markers, Marker{ID: *m.ID, Position: m.Position, Readings: m.Readings})
	}

	return s, nil
}

// LoadScenarioFile reads and parses the scenario at path.
func LoadScenarioFile(path string) (*Scenario, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("scenario: read %s: %w", path, err)
	}
	s, err := ParseScenarioYAML(content)
	if err != nil {
		return nil, fmt.Errorf("scenario: %s: %w", path, err)
	}
	return s, nil
}

type scenarioOut struct {
	Name      string         `yaml:"name,omitempty"`
	Agents    []AgentSpec    `yaml:"agents,omitempty"`
	Worksites []worksiteSpec `yaml:"worksites,omitempty"`
	Markers   []markerSpec   `yaml:"markers,omitempty"`
}

// Encode renders s in the format ParseScenarioYAML reads. Warnings are not
// written.
func (s *Scenario) Encode() ([]byte, error) {
	out := scenarioOut{Name: s.Name, Agents: s.Agents}
	for _, w := range s.Worksites {
		out.Worksites = append(out.Worksites, worksiteSpec{Name: w.Name, Position: w.Position, Readings: w.Readings})
	}
	for _, m := range s.Markers {
		id := m.ID
		out.Markers = append(out.Markers, markerSpec{ID: &id, Position: m.Position, Readings: m.Readings})
	}
	b, err := yaml.Marshal(out)
	if err != nil {
		return nil, fmt.Errorf("scenario: encode: %w", err)
	}
	return b, nil
}

func checkWorksite(name string, pos protocol.Position, r protocol.Readings) string {
	switch {
	case name == "":
		return "missing name"
	case !finite(pos):
		return "bad position"
	case r.Moisture < 0 || r.Moisture > 100 || math.IsNaN(r.Moisture):
		return fmt.Sprintf("moisture %v outside [0,100]", r.Moisture)
	case r.Acidity < 0 || r.Acidity > 14 || math.IsNaN(r.Acidity):
		return fmt.Sprintf("acidity %v outside [0,14]", r.Acidity)
	}
	return ""
}

func finite(p protocol.Position) bool {
	for _, v := range []float64{p.X, p.Y, p.Z} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

var biomes = []string{protocol.BiomeBacteria, protocol.BiomeFungi, protocol.BiomeAlgae, protocol.BiomeArchaea}

// RandomScenario lays out worksites at random inside ±6.5 with no two closer
// than one unit on both axes, plus agents spread along the southern edge.
// Readings start in the ranges the stock fields use.
func RandomScenario(seed uint64, worksites, agents int) *Scenario {
	rng := rand.New(rand.NewPCG(seed, seed^0x5eed))
	s := &Scenario{Name: fmt.Sprintf("random-%d", seed)}

	round := func(v float64) float64 { return math.Round(v*100) / 100 }
	overlaps := func(x, y float64) bool {
		for _, w := range s.Worksites {
			if math.Abs(w.Position.X-x) < 1 && math.Abs(w.Position.Y-y) < 1 {
				return true
			}
		}
		return false
	}

	for i := range worksites {
		var x, y float64
		for tries := 0; ; tries++ {
			x = round(-6.5 + rng.Float64()*13)
			y = round(-6.5 + rng.Float64()*13)
			if !overlaps(x, y) || tries > 1000 {
				break
			}
		}
		s.Worksites = append(s.Worksites, protocol.Worksite{
			Name:     fmt.Sprintf("field-%d", i),
			Position: protocol.Position{X: x, Y: y, Z: 0.2},
			Readings: protocol.Readings{
				Moisture:    round(40 + rng.Float64()*30),
				Acidity:     round(5.5 + rng.Float64()*2.5),
				Biome:       biomes[rng.IntN(len(biomes))],
				Temperature: round(15 + rng.Float64()*15),
				Minerals:    "Silicon, Iron",
			},
		})
	}

	for i := range agents {
		x := -6.0
		if agents > 1 {
			x += 12 * float64(i) / float64(agents-1)
		}
		s.Agents = append(s.Agents, AgentSpec{
			ID:       fmt.Sprintf("rover-%d", i),
			Position: protocol.Position{X: x, Y: -6.8},
		})
	}
	return s
}
