package manifest

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/mwm126/anaconda-recipes/pkg/engine"
	"github.com/mwm126/anaconda-recipes/pkg/semver"
)

var (
	// bracketSelector matches "value [selector]".
	bracketSelector = regexp.MustCompile(`^(.*?)\s*\[([^\[\]]*)\]$`)

	// commentSelector matches a YAML line comment of the form "# [selector]".
	commentSelector = regexp.MustCompile(`^#\s*\[([^\[\]]*)\]`)
)

// scalar is a YAML scalar kept as its literal text, so that versions such as
// 1.10 are not turned into floats.
type scalar string

func (s *scalar) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: expected a scalar", node.Line)
	}
	if node.Tag == "!!null" {
		*s = ""
		return nil
	}
	*s = scalar(strings.TrimSpace(node.Value))
	return nil
}

// stringList accepts either a scalar or a sequence of scalars.
type stringList []string

func (l *stringList) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		if node.Tag != "!!null" && node.Value != "" {
			*l = stringList{node.Value}
		}
		return nil
	case yaml.SequenceNode:
		var items []string
		if err := node.Decode(&items); err != nil {
			return err
		}
		*l = items
		return nil
	}
	return fmt.Errorf("line %d: expected a string or a list of strings", node.Line)
}

// rawEntry is a list item that may carry a platform selector, either as a
// bracketed suffix or as a trailing "# [selector]" comment.
type rawEntry struct {
	Value    string
	Selector string
	Line     int
}

func (e *rawEntry) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: expected a scalar list entry", node.Line)
	}
	e.Line = node.Line
	e.Value = strings.TrimSpace(node.Value)

	if m := bracketSelector.FindStringSubmatch(e.Value); m != nil {
		e.Value = strings.TrimSpace(m[1])
		e.Selector = m[2]
		return nil
	}
	if m := commentSelector.FindStringSubmatch(strings.TrimSpace(node.LineComment)); m != nil {
		e.Selector = m[1]
	}
	return nil
}

// selector validates the entry's selector and attaches field on failure.
func (e rawEntry) selector(field string) (engine.Selector, error) {
	sel, err := engine.ParseSelector(e.Selector)
	if err != nil {
		return "", withField(err, field)
	}
	return sel, nil
}

// parseRequirement splits "name [constraint [build-string]]".
func parseRequirement(raw string, phase engine.Phase, sel engine.Selector, field string) (engine.Requirement, error) {
	fields := strings.Fields(raw)
	if len(fields) == 0 {
		return engine.Requirement{}, engine.NewMalformedManifest(field, "empty requirement")
	}
	if len(fields) > 3 {
		return engine.Requirement{}, engine.NewMalformedManifest(field,
			fmt.Sprintf("requirement %q has more than name, constraint and build string", raw))
	}

	req := engine.Requirement{Name: fields[0], Phase: phase, Selector: sel}
	if !packageNameRe.MatchString(req.Name) {
		return engine.Requirement{}, engine.NewMalformedManifest(field,
			fmt.Sprintf("invalid package name %q", req.Name))
	}
	if len(fields) > 1 {
		req.Constraint = fields[1]
		if _, err := semver.ParseConstraint(req.Constraint); err != nil {
			return engine.Requirement{}, engine.NewPermanentError(
				fmt.Sprintf("invalid version constraint %q", req.Constraint), err,
			).WithCode(engine.ErrCodeMalformedManifest).WithField(field)
		}
	}
	if len(fields) > 2 {
		req.BuildString = fields[2]
	}
	return req, nil
}

func withField(err error, field string) error {
	var ee *engine.EngineError
	if errors.As(err, &ee) && ee.Field == "" {
		ee.WithField(field)
	}
	return err
}
