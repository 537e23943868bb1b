package templates

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"regexp"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"gopkg.in/yaml.v3"

	"contentflow/internal/pipeline"
	"contentflow/internal/services"
)

//go:embed builtin.yaml
var builtinYAML []byte

var namePattern = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

// ErrUnknownTemplate reports a template name the registry does not know.
var ErrUnknownTemplate = errors.New("unknown template")

// Settings are optional option values. Nil fields leave the lower layer untouched.
type Settings struct {
	AutoApprove       *bool    `yaml:"auto_approve,omitempty" json:"auto_approve,omitempty"`
	SkipInsightReview *bool    `yaml:"skip_insight_review,omitempty" json:"skip_insight_review,omitempty"`
	SkipPostReview    *bool    `yaml:"skip_post_review,omitempty" json:"skip_post_review,omitempty"`
	Platforms         []string `yaml:"platforms,omitempty" json:"platforms,omitempty"`
	MaxRetries        *int     `yaml:"max_retries,omitempty" json:"max_retries,omitempty"`
	EntityMaxRetries  *int     `yaml:"entity_max_retries,omitempty" json:"entity_max_retries,omitempty"`
	Parallelism       *int     `yaml:"parallelism,omitempty" json:"parallelism,omitempty"`
}

// Apply layers s over base.
func (s Settings) Apply(base pipeline.Options) pipeline.Options {
	out := base
	if s.AutoApprove != nil {
		out.AutoApprove = *s.AutoApprove
	}
	if s.SkipInsightReview != nil {
		out.SkipInsightReview = *s.SkipInsightReview
	}
	if s.SkipPostReview != nil {
		out.SkipPostReview = *s.SkipPostReview
	}
	if s.Platforms != nil {
		out.Platforms = append([]string(nil), s.Platforms...)
	} else if base.Platforms != nil {
		out.Platforms = append([]string(nil), base.Platforms...)
	}
	if s.MaxRetries != nil {
		out.MaxRetries = *s.MaxRetries
	}
	if s.EntityMaxRetries != nil {
		out.EntityMaxRetries = *s.EntityMaxRetries
	}
	if s.Parallelism != nil {
		out.Parallelism = *s.Parallelism
	}
	return out
}

func (s Settings) merge(over Settings) Settings {
	out := s
	if over.AutoApprove != nil {
		out.AutoApprove = over.AutoApprove
	}
	if over.SkipInsightReview != nil {
		out.SkipInsightReview = over.SkipInsightReview
	}
	if over.SkipPostReview != nil {
		out.SkipPostReview = over.SkipPostReview
	}
	if over.Platforms != nil {
		out.Platforms = over.Platforms
	}
	if over.MaxRetries != nil {
		out.MaxRetries = over.MaxRetries
	}
	if over.EntityMaxRetries != nil {
		out.EntityMaxRetries = over.EntityMaxRetries
	}
	if over.Parallelism != nil {
		out.Parallelism = over.Parallelism
	}
	return out
}

func (s Settings) validate() error {
	for field, v := range map[string]*int{
		"max_retries":        s.MaxRetries,
		"entity_max_retries": s.EntityMaxRetries,
	} {
		if v != nil && *v < 0 {
			return fmt.Errorf("%s must be >= 0", field)
		}
	}
	if s.Parallelism != nil && *s.Parallelism < 1 {
		return errors.New("parallelism must be >= 1")
	}
	for _, p := range s.Platforms {
		if strings.TrimSpace(p) == "" {
			return errors.New("platforms must not contain empty names")
		}
	}
	return nil
}

// Template is a named configuration bundle.
type Template struct {
	Name        string `yaml:"name" json:"name"`
	Description string `yaml:"description,omitempty" json:"description,omitempty"`
	Settings    `yaml:",inline"`
}

// Title returns the display name, e.g. "Fast Track".
func (t Template) Title() string {
	return cases.Title(language.English).String(strings.ReplaceAll(t.Name, "_", " "))
}

type document struct {
	Templates []Template `yaml:"templates"`
}

// Registry holds templates in definition order.
type Registry struct {
	byName map[string]Template
	order  []string
}

// Builtin returns the registry of embedded templates.
func Builtin() (*Registry, error) {
	r := &Registry{byName: make(map[string]Template)}
	if err := r.merge(builtinYAML, "builtin"); err != nil {
		return nil, err
	}
	return r, nil
}

// Load returns the built-in templates overlaid with the YAML file at path. A
// blank path or a missing file yields the built-ins unchanged.
func Load(path string) (*Registry, error) {
	r, err := Builtin()
	if err != nil {
		return nil, err
	}
	path = strings.TrimSpace(path)
	if path == "" {
		return r, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return r, nil
		}
		return nil, services.Wrap(services.ErrConfiguration, "templates", "read", path, err)
	}
	if err := r.merge(data, path); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Registry) merge(data []byte, source string) error {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return services.Wrap(services.ErrConfiguration, "templates", "decode", source, err)
	}
	for _, tpl := range doc.Templates {
		tpl.Name = strings.ToLower(strings.TrimSpace(tpl.Name))
		if !namePattern.MatchString(tpl.Name) {
			return services.Wrap(services.ErrConfiguration, "templates", "validate", fmt.Sprintf("%s: invalid template name %q", source, tpl.Name), nil)
		}
		if err := tpl.Settings.validate(); err != nil {
			return services.Wrap(services.ErrConfiguration, "templates", "validate", fmt.Sprintf("%s: template %s", source, tpl.Name), err)
		}
		existing, ok := r.byName[tpl.Name]
		if !ok {
			r.byName[tpl.Name] = tpl
			r.order = append(r.order, tpl.Name)
			continue
		}
		existing.Settings = existing.Settings.merge(tpl.Settings)
		if desc := strings.TrimSpace(tpl.Description); desc != "" {
			existing.Description = desc
		}
		r.byName[tpl.Name] = existing
	}
	return nil
}

// Get returns the named template.
func (r *Registry) Get(name string) (Template, bool) {
	tpl, ok := r.byName[strings.ToLower(strings.TrimSpace(name))]
	return tpl, ok
}

// Names returns template names in definition order.
func (r *Registry) Names() []string {
	return append([]string(nil), r.order...)
}

// List returns templates in definition order.
func (r *Registry) List() []Template {
	out := make([]Template, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.byName[name])
	}
	return out
}

// Resolve layers base options, the named template, and overrides.
func (r *Registry) Resolve(name string, base pipeline.Options, overrides Settings) (pipeline.Options, error) {
	tpl, ok := r.Get(name)
	if !ok {
		return pipeline.Options{}, fmt.Errorf("%w: %w: %q", services.ErrValidation, ErrUnknownTemplate, name)
	}
	if err := overrides.validate(); err != nil {
		return pipeline.Options{}, services.Wrap(services.ErrValidation, "templates", "resolve", name, err)
	}
	return overrides.Apply(tpl.Settings.Apply(base)), nil
}

// Bool returns a pointer to v.
func Bool(v bool) *bool { return &v }

// Int returns a pointer to v.
func Int(v int) *int { return &v }
