package manifest

import (
	"errors"
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"github.com/mwm126/anaconda-recipes/pkg/engine"
)

// FileName is the manifest file that marks a recipe directory.
const FileName = "meta.yaml"

// document is the typed view of a manifest. Both the flat layout
// (build.requirements, run.requirements) and the conda layout
// (requirements.build, requirements.run) are accepted.
type document struct {
	Package *struct {
		Name    scalar `yaml:"name"`
		Version scalar `yaml:"version"`
	} `yaml:"package"`
	Name    scalar `yaml:"name"`
	Version scalar `yaml:"version"`

	Source *struct {
		Filename string     `yaml:"fn"`
		URL      stringList `yaml:"url"`
		GitURL   string     `yaml:"git_url"`
		GitTag   scalar     `yaml:"git_tag"`
		GitRev   scalar     `yaml:"git_rev"`
		MD5      string     `yaml:"md5"`
		SHA256   string     `yaml:"sha256"`
		Patches  []rawEntry `yaml:"patches"`
	} `yaml:"source"`

	Build *struct {
		Number       int        `yaml:"number"`
		Requirements []rawEntry `yaml:"requirements"`
	} `yaml:"build"`

	Run *struct {
		Requirements []rawEntry `yaml:"requirements"`
	} `yaml:"run"`

	Requirements *struct {
		Build []rawEntry `yaml:"build"`
		Host  []rawEntry `yaml:"host"`
		Run   []rawEntry `yaml:"run"`
	} `yaml:"requirements"`

	Test *struct {
		Imports  []rawEntry `yaml:"imports"`
		Commands []rawEntry `yaml:"commands"`
		Requires []rawEntry `yaml:"requires"`
	} `yaml:"test"`

	About struct {
		Home        string `yaml:"home"`
		License     string `yaml:"license"`
		Summary     string `yaml:"summary"`
		Description string `yaml:"description"`
		DocURL      string `yaml:"doc_url"`
		DevURL      string `yaml:"dev_url"`
	} `yaml:"about"`
}

// requirementSection is one list of requirement entries with its field name.
type requirementSection struct {
	field   string
	phase   engine.Phase
	entries []rawEntry
}

// Parser turns manifest documents into validated recipes.
type Parser struct {
	schema   *schemaChecker
	validate *validator.Validate
	logger   zerolog.Logger
}

// ParserOption configures a Parser.
type ParserOption func(*Parser)

// WithLogger sets the parser logger.
func WithLogger(l zerolog.Logger) ParserOption {
	return func(p *Parser) { p.logger = l }
}

// NewParser creates a parser. It fails only if the built-in schema does not compile.
func NewParser(opts ...ParserOption) (*Parser, error) {
	sc, err := newSchemaChecker()
	if err != nil {
		return nil, err
	}

	p := &Parser{
		schema:   sc,
		validate: newValidator(),
		logger:   log.Logger.With().Str("component", "manifest").Logger(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// ParseFile reads and parses the manifest at path for target.
func (p *Parser) ParseFile(path string, target engine.Platform) (*engine.Recipe, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest %s: %w", path, err)
	}

	r, err := p.Parse(data, target)
	if err != nil {
		var ee *engine.EngineError
		if errors.As(err, &ee) {
			ee.WithDetail("path", path)
		}
		return nil, err
	}
	r.Path = path
	return r, nil
}

// Parse converts one manifest document into a Recipe for target.
//
// Requirements whose selector excludes target are dropped. Patches and test
// entries keep their selectors so they can be filtered per platform later.
func (p *Parser) Parse(data []byte, target engine.Platform) (*engine.Recipe, error) {
	if _, err := engine.ParsePlatform(string(target)); err != nil {
		return nil, err
	}

	// Shape check on the generic form
	var generic map[string]interface{}
	if err := yaml.Unmarshal(data, &generic); err != nil {
		return nil, engine.NewPermanentError("manifest is not valid YAML", err).
			WithCode(engine.ErrCodeMalformedManifest)
	}
	if generic == nil {
		return nil, engine.NewMalformedManifest("", "manifest is empty")
	}
	if err := p.schema.Check(generic); err != nil {
		return nil, err
	}

	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, engine.NewPermanentError("manifest could not be decoded", err).
			WithCode(engine.ErrCodeMalformedManifest)
	}

	r, err := p.build(&doc, target)
	if err != nil {
		return nil, err
	}

	p.logger.Debug().
		Str("recipe", r.ID().String()).
		Str("target", string(target)).
		Int("build_requirements", len(r.BuildRequirements)).
		Int("run_requirements", len(r.RunRequirements)).
		Int("patches", len(r.Source.Patches)).
		Msg("Parsed manifest")

	return r, nil
}

func (p *Parser) build(doc *document, target engine.Platform) (*engine.Recipe, error) {
	r := &engine.Recipe{
		Name:    string(doc.Name),
		Version: string(doc.Version),
	}
	if doc.Package != nil {
		if r.Name == "" {
			r.Name = string(doc.Package.Name)
		}
		if r.Version == "" {
			r.Version = string(doc.Package.Version)
		}
	}
	if r.Name == "" {
		return nil, engine.NewMalformedManifest("name", "name is required")
	}
	if r.Version == "" {
		return nil, engine.NewMalformedManifest("version", "version is required")
	}
	id := r.ID()

	fail := func(err error) (*engine.Recipe, error) {
		var ee *engine.EngineError
		if errors.As(err, &ee) && ee.Recipe == "" {
			ee.WithRecipe(id)
		}
		return nil, err
	}

	// Source
	if doc.Source == nil {
		return fail(engine.NewMalformedManifest("source", "source is required"))
	}
	src := doc.Source
	r.Source = engine.Source{
		Filename: src.Filename,
		GitURL:   src.GitURL,
		GitTag:   string(src.GitTag),
		MD5:      src.MD5,
		SHA256:   src.SHA256,
	}
	if r.Source.GitTag == "" {
		r.Source.GitTag = string(src.GitRev)
	}
	if len(src.URL) > 0 {
		r.Source.URL = src.URL[0]
	}
	if !r.Source.Verifiable() {
		return fail(engine.NewMalformedManifest("source",
			"source needs an md5 or sha256 checksum, or a git_url pinned by git_tag"))
	}
	for i, e := range src.Patches {
		field := fmt.Sprintf("source.patches[%d]", i)
		sel, err := e.selector(field)
		if err != nil {
			return fail(err)
		}
		if e.Value == "" {
			return fail(engine.NewMalformedManifest(field, "empty patch reference"))
		}
		r.Source.Patches = append(r.Source.Patches, engine.PatchRef{Path: e.Value, Selector: sel})
	}

	// Requirements
	var sections []requirementSection
	if doc.Build != nil {
		r.BuildNumber = doc.Build.Number
		sections = append(sections, requirementSection{"build.requirements", engine.PhaseBuild, doc.Build.Requirements})
	}
	if doc.Requirements != nil {
		sections = append(sections,
			requirementSection{"requirements.build", engine.PhaseBuild, doc.Requirements.Build},
			requirementSection{"requirements.host", engine.PhaseBuild, doc.Requirements.Host},
			requirementSection{"requirements.run", engine.PhaseRun, doc.Requirements.Run},
		)
	}
	if doc.Run != nil {
		sections = append(sections, requirementSection{"run.requirements", engine.PhaseRun, doc.Run.Requirements})
	}
	for _, s := range sections {
		for i, e := range s.entries {
			field := fmt.Sprintf("%s[%d]", s.field, i)
			req, keep, err := p.requirement(e, s.phase, target, field)
			if err != nil {
				return fail(err)
			}
			if !keep {
				continue
			}
			if req.Name == r.Name {
				return fail(engine.NewMalformedManifest(field, "recipe requires itself"))
			}
			if s.phase == engine.PhaseBuild {
				r.BuildRequirements = append(r.BuildRequirements, req)
			} else {
				r.RunRequirements = append(r.RunRequirements, req)
			}
		}
	}

	// Test
	if t := doc.Test; t != nil {
		if len(t.Imports) == 0 && len(t.Commands) == 0 {
			return fail(engine.NewMalformedManifest("test", "test section needs imports or commands"))
		}
		spec := &engine.TestSpec{}
		var err error
		if spec.Imports, err = entries(t.Imports, "test.imports"); err != nil {
			return fail(err)
		}
		if spec.Commands, err = entries(t.Commands, "test.commands"); err != nil {
			return fail(err)
		}
		for i, e := range t.Requires {
			field := fmt.Sprintf("test.requires[%d]", i)
			req, keep, err := p.requirement(e, engine.PhaseRun, target, field)
			if err != nil {
				return fail(err)
			}
			if keep {
				spec.Requires = append(spec.Requires, req)
			}
		}
		r.Test = spec
	}

	r.About = engine.About{
		Home:        doc.About.Home,
		License:     doc.About.License,
		Summary:     doc.About.Summary,
		Description: doc.About.Description,
		DocURL:      doc.About.DocURL,
		DevURL:      doc.About.DevURL,
	}

	if err := validateRecipe(p.validate, r); err != nil {
		return fail(err)
	}
	return r, nil
}

// requirement parses one entry and reports whether it applies to target.
func (p *Parser) requirement(e rawEntry, phase engine.Phase, target engine.Platform, field string) (engine.Requirement, bool, error) {
	sel, err := e.selector(field)
	if err != nil {
		return engine.Requirement{}, false, err
	}
	ok, err := sel.Applies(target)
	if err != nil {
		return engine.Requirement{}, false, withField(err, field)
	}
	if !ok {
		return engine.Requirement{}, false, nil
	}
	req, err := parseRequirement(e.Value, phase, sel, field)
	if err != nil {
		return engine.Requirement{}, false, err
	}
	return req, true, nil
}

func entries(raw []rawEntry, field string) ([]engine.Entry, error) {
	out := make([]engine.Entry, 0, len(raw))
	for i, e := range raw {
		f := fmt.Sprintf("%s[%d]", field, i)
		sel, err := e.selector(f)
		if err != nil {
			return nil, err
		}
		if e.Value == "" {
			return nil, engine.NewMalformedManifest(f, "empty entry")
		}
		out = append(out, engine.Entry{Value: e.Value, Selector: sel})
	}
	return out, nil
}
