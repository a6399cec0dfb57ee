package funnel

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"sort"
	"time"

	"github.com/xokuso/peluquerias-app-sub000/internal/pixel"
	"gopkg.in/yaml.v3"
)

// Step is one entry of a static funnel definition. Order is 1-based.
type Step struct {
	Name     string `yaml:"name" json:"name"`
	Order    int    `yaml:"order" json:"order"`
	Required bool   `yaml:"required" json:"required"`
	// TimeoutSeconds, when positive, abandons the step with reason "timeout" if it
	// is still active that long after entry.
	TimeoutSeconds int `yaml:"timeout_seconds,omitempty" json:"timeout_seconds,omitempty"`
	// PixelEvent is the standard ad-network event emitted on entry, if any.
	PixelEvent string `yaml:"pixel_event,omitempty" json:"pixel_event,omitempty"`

	// Timeout overrides TimeoutSeconds with sub-second precision.
	Timeout time.Duration `yaml:"-" json:"-"`
}

func (s Step) timeout() time.Duration {
	if s.Timeout > 0 {
		return s.Timeout
	}
	if s.TimeoutSeconds > 0 {
		return time.Duration(s.TimeoutSeconds) * time.Second
	}
	return 0
}

type Definition struct {
	Name    string `yaml:"name" json:"name"`
	Version int    `yaml:"version,omitempty" json:"version,omitempty"`
	Steps   []Step `yaml:"steps" json:"steps"`
}

func (d Definition) Step(name string) (Step, bool) {
	for _, s := range d.Steps {
		if s.Name == name {
			return s, true
		}
	}
	return Step{}, false
}

// Catalog is the read-only set of funnel definitions the engine validates against.
type Catalog struct {
	byName map[string]Definition
	names  []string
}

var namePattern = regexp.MustCompile(`^[a-z0-9_]{1,100}$`)

// NewCatalog validates defs: names are lowercase identifiers, step names are unique
// within a funnel and orders run 1..n without gaps.
func NewCatalog(defs ...Definition) (*Catalog, error) {
	c := &Catalog{byName: make(map[string]Definition, len(defs))}
	for _, d := range defs {
		if !namePattern.MatchString(d.Name) {
			return nil, fmt.Errorf("funnel %q: invalid name", d.Name)
		}
		if _, dup := c.byName[d.Name]; dup {
			return nil, fmt.Errorf("funnel %q: defined twice", d.Name)
		}
		if len(d.Steps) == 0 {
			return nil, fmt.Errorf("funnel %q: no steps", d.Name)
		}
		steps := append([]Step(nil), d.Steps...)
		sort.SliceStable(steps, func(i, j int) bool { return steps[i].Order < steps[j].Order })
		seen := map[string]struct{}{}
		for i, s := range steps {
			if !namePattern.MatchString(s.Name) {
				return nil, fmt.Errorf("funnel %q: invalid step name %q", d.Name, s.Name)
			}
			if _, dup := seen[s.Name]; dup {
				return nil, fmt.Errorf("funnel %q: duplicate step %q", d.Name, s.Name)
			}
			seen[s.Name] = struct{}{}
			if s.Order != i+1 {
				return nil, fmt.Errorf("funnel %q: step %q has order %d, want %d", d.Name, s.Name, s.Order, i+1)
			}
			if s.TimeoutSeconds < 0 || s.Timeout < 0 {
				return nil, fmt.Errorf("funnel %q: step %q has negative timeout", d.Name, s.Name)
			}
			if s.PixelEvent != "" && !pixel.IsStandard(s.PixelEvent) {
				return nil, fmt.Errorf("funnel %q: step %q emits unknown pixel event %q", d.Name, s.Name, s.PixelEvent)
			}
		}
		d.Steps = steps
		c.byName[d.Name] = d
		c.names = append(c.names, d.Name)
	}
	sort.Strings(c.names)
	return c, nil
}

func (c *Catalog) Lookup(funnel, step string) (Definition, Step, error) {
	d, ok := c.byName[funnel]
	if !ok {
		return Definition{}, Step{}, fmt.Errorf("%w: %q", ErrUnknownFunnel, funnel)
	}
	s, ok := d.Step(step)
	if !ok {
		return Definition{}, Step{}, fmt.Errorf("%w: %q in funnel %q", ErrUnknownStep, step, funnel)
	}
	return d, s, nil
}

func (c *Catalog) Get(name string) (Definition, bool) {
	d, ok := c.byName[name]
	return d, ok
}

func (c *Catalog) All() []Definition {
	out := make([]Definition, 0, len(c.names))
	for _, n := range c.names {
		out = append(out, c.byName[n])
	}
	return out
}

type fileFormat struct {
	Funnels []Definition `yaml:"funnels"`
}

// LoadFile reads a YAML file of the form `funnels: [{name, steps: [...]}]`.
func LoadFile(path string) (*Catalog, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(b)
}

func Parse(b []byte) (*Catalog, error) {
	var f fileFormat
	if err := yaml.Unmarshal(b, &f); err != nil {
		return nil, fmt.Errorf("parse funnels: %w", err)
	}
	if len(f.Funnels) == 0 {
		return nil, errors.New("parse funnels: no funnels defined")
	}
	return NewCatalog(f.Funnels...)
}

// DefaultDefinitions is the built-in funnel table.
func DefaultDefinitions() []Definition {
	return []Definition{
		{
			Name: "main_purchase", Version: 1,
			Steps: []Step{
				{Name: "landing", Order: 1, Required: true},
				{Name: "template_selection", Order: 2, Required: true, PixelEvent: pixel.EventViewContent},
				{Name: "customization", Order: 3, Required: false},
				{Name: "checkout", Order: 4, Required: true, TimeoutSeconds: 1800, PixelEvent: pixel.EventInitiateCheckout},
				{Name: "payment", Order: 5, Required: true, TimeoutSeconds: 900, PixelEvent: pixel.EventAddPaymentInfo},
				{Name: "confirmation", Order: 6, Required: true},
			},
		},
		{
			Name: "promo_purchase", Version: 1,
			Steps: []Step{
				{Name: "promo_landing", Order: 1, Required: true},
				{Name: "plan_selection", Order: 2, Required: true, PixelEvent: pixel.EventViewContent},
				{Name: "checkout", Order: 3, Required: true, TimeoutSeconds: 1800, PixelEvent: pixel.EventInitiateCheckout},
				{Name: "payment", Order: 4, Required: true, TimeoutSeconds: 900, PixelEvent: pixel.EventAddPaymentInfo},
				{Name: "confirmation", Order: 5, Required: true},
			},
		},
		{
			Name: "contact", Version: 1,
			Steps: []Step{
				{Name: "form_view", Order: 1, Required: true},
				{Name: "form_start", Order: 2, Required: true, TimeoutSeconds: 600},
				{Name: "form_submit", Order: 3, Required: true, PixelEvent: pixel.EventContact},
			},
		},
		{
			Name: "signup", Version: 1,
			Steps: []Step{
				{Name: "signup_start", Order: 1, Required: true},
				{Name: "account_details", Order: 2, Required: true, TimeoutSeconds: 900},
				{Name: "verification", Order: 3, Required: false, TimeoutSeconds: 1800},
				{Name: "signup_complete", Order: 4, Required: true, PixelEvent: pixel.EventCompleteRegistration},
			},
		},
	}
}

func DefaultCatalog() *Catalog {
	c, err := NewCatalog(DefaultDefinitions()...)
	if err != nil {
		panic(err)
	}
	return c
}
