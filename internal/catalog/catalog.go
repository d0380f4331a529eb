// Package catalog holds the read-only set of scenario definitions.
package catalog

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/xiaot623/gogo/scenarios/internal/domain"
)

//go:embed scenarios.yaml
var builtinYAML []byte

// Catalog is an immutable store of scenarios keyed by name.
// It is safe for concurrent use because nothing mutates it after construction.
type Catalog struct {
	scenarios map[string]*domain.Scenario
}

type fileFormat struct {
	Scenarios []scenarioEntry `yaml:"scenarios"`
}

type scenarioEntry struct {
	Name           string       `yaml:"name"`
	Description    string       `yaml:"description"`
	Duration       float64      `yaml:"duration"`
	ExpectedEvents []eventEntry `yaml:"expected_events"`
}

type eventEntry struct {
	Type    string                 `yaml:"type"`
	Offset  float64                `yaml:"offset"`
	Payload map[string]interface{} `yaml:"payload"`
}

// New builds a catalog from already-constructed scenarios.
func New(scenarios ...domain.Scenario) (*Catalog, error) {
	c := &Catalog{scenarios: make(map[string]*domain.Scenario, len(scenarios))}
	for i := range scenarios {
		if err := c.add(scenarios[i]); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Builtin returns the catalog shipped with the binary.
func Builtin() (*Catalog, error) {
	scenarios, err := Parse(bytes.NewReader(builtinYAML))
	if err != nil {
		return nil, fmt.Errorf("failed to parse builtin catalog: %w", err)
	}
	return New(scenarios...)
}

// Load returns the builtin catalog, with scenarios from path added on top.
// A scenario in the file replaces a builtin one with the same name.
func Load(path string) (*Catalog, error) {
	builtin, err := Parse(bytes.NewReader(builtinYAML))
	if err != nil {
		return nil, fmt.Errorf("failed to parse builtin catalog: %w", err)
	}
	if path == "" {
		return New(builtin...)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open scenarios file: %w", err)
	}
	defer f.Close()

	extra, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}

	merged := make(map[string]domain.Scenario, len(builtin)+len(extra))
	for _, s := range builtin {
		merged[s.Name] = s
	}
	for _, s := range extra {
		merged[s.Name] = s
	}
	all := make([]domain.Scenario, 0, len(merged))
	for _, s := range merged {
		all = append(all, s)
	}
	return New(all...)
}

// Parse decodes a YAML scenario document. Scenarios are validated by New.
func Parse(r io.Reader) ([]domain.Scenario, error) {
	var doc fileFormat
	if err := yaml.NewDecoder(r).Decode(&doc); err != nil && err != io.EOF {
		return nil, err
	}

	out := make([]domain.Scenario, 0, len(doc.Scenarios))
	for _, entry := range doc.Scenarios {
		s := domain.Scenario{
			Name:           entry.Name,
			Description:    entry.Description,
			Duration:       entry.Duration,
			ExpectedEvents: make([]domain.ExpectedEvent, 0, len(entry.ExpectedEvents)),
		}
		for _, e := range entry.ExpectedEvents {
			ev := domain.ExpectedEvent{Type: e.Type, Offset: e.Offset}
			if len(e.Payload) > 0 {
				payload, err := json.Marshal(e.Payload)
				if err != nil {
					return nil, fmt.Errorf("scenario %s: invalid payload: %w", entry.Name, err)
				}
				ev.Payload = payload
			}
			s.ExpectedEvents = append(s.ExpectedEvents, ev)
		}
		out = append(out, s)
	}
	return out, nil
}

func (c *Catalog) add(s domain.Scenario) error {
	if err := validate(&s); err != nil {
		return err
	}
	if _, exists := c.scenarios[s.Name]; exists {
		return domain.Validationf("duplicate scenario %q", s.Name)
	}
	events := make([]domain.ExpectedEvent, len(s.ExpectedEvents))
	copy(events, s.ExpectedEvents)
	sort.SliceStable(events, func(i, j int) bool { return events[i].Offset < events[j].Offset })
	s.ExpectedEvents = events
	c.scenarios[s.Name] = &s
	return nil
}

func validate(s *domain.Scenario) error {
	if strings.TrimSpace(s.Name) == "" {
		return domain.Validationf("scenario name is required")
	}
	if s.Duration <= 0 {
		return domain.Validationf("scenario %s: duration must be positive", s.Name)
	}
	for i, e := range s.ExpectedEvents {
		if e.Type == "" {
			return domain.Validationf("scenario %s: event %d has no type", s.Name, i)
		}
		if e.Offset < 0 || e.Offset > s.Duration {
			return domain.Validationf("scenario %s: event %d offset %.2f outside [0, %.2f]", s.Name, i, e.Offset, s.Duration)
		}
	}
	return nil
}

// Get returns a copy of the named scenario.
func (c *Catalog) Get(name string) (*domain.Scenario, error) {
	s, ok := c.scenarios[name]
	if !ok {
		return nil, domain.NotFoundf("scenario %q", name)
	}
	out := *s
	out.ExpectedEvents = make([]domain.ExpectedEvent, len(s.ExpectedEvents))
	for i, e := range s.ExpectedEvents {
		if e.Payload != nil {
			e.Payload = append(json.RawMessage(nil), e.Payload...)
		}
		out.ExpectedEvents[i] = e
	}
	return &out, nil
}

// List returns every scenario summary ordered by name.
func (c *Catalog) List() []domain.ScenarioSummary {
	out := make([]domain.ScenarioSummary, 0, len(c.scenarios))
	for _, s := range c.scenarios {
		out = append(out, s.Summary())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Len returns the number of scenarios.
func (c *Catalog) Len() int {
	return len(c.scenarios)
}
