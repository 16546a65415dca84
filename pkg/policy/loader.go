package policy

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/open-policy-agent/opa/ast"
	"github.com/rs/zerolog"
)

// policyNamespace is the package prefix that names a policy by its last
// path segment. Modules outside it are named after their file.
const policyNamespace = "data.arbiter.policies."

// Loader reads recipe lint policies from .rego files.
type Loader struct {
	logger zerolog.Logger
}

// NewLoader creates a new policy loader.
func NewLoader(logger zerolog.Logger) *Loader {
	return &Loader{
		logger: logger.With().Str("component", "policy-loader").Logger(),
	}
}

// LoadFromPaths loads the policies found at paths. A path is either a .rego
// file or a directory searched recursively. Any file that fails to parse
// aborts the load: a lint rule that silently disappears hides the defects it
// was written to catch.
func (l *Loader) LoadFromPaths(ctx context.Context, paths []string) ([]Policy, error) {
	var all []Policy
	seen := make(map[string]string)

	for _, path := range paths {
		files, err := regoFiles(path)
		if err != nil {
			return nil, fmt.Errorf("failed to load from path %s: %w", path, err)
		}

		for _, file := range files {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			p, err := l.loadFromFile(file)
			if err != nil {
				return nil, err
			}
			if prev, dup := seen[p.Name]; dup {
				return nil, fmt.Errorf("policy %s defined by both %s and %s", p.Name, prev, file)
			}
			seen[p.Name] = file
			all = append(all, *p)
		}
	}

	l.logger.Debug().
		Int("total", len(all)).
		Int("sources", len(paths)).
		Msg("Policies loaded from paths")

	return all, nil
}

// regoFiles lists the policy files at path in lexical order. Rego test
// files (*_test.rego) are skipped.
func regoFiles(path string) ([]string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return []string{path}, nil
	}

	var files []string
	err = filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(p, ".rego") || strings.HasSuffix(p, "_test.rego") {
			return nil
		}
		files = append(files, p)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(files)
	return files, nil
}

// loadFromFile parses one .rego file into a Policy.
func (l *Loader) loadFromFile(filePath string) (*Policy, error) {
	if !strings.HasSuffix(filePath, ".rego") {
		return nil, fmt.Errorf("unsupported file type: %s", filePath)
	}

	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read policy: %w", err)
	}

	module, err := ast.ParseModule(filePath, string(data))
	if err != nil {
		return nil, fmt.Errorf("failed to parse policy: %w", err)
	}
	if module == nil {
		return nil, fmt.Errorf("%s: empty policy", filePath)
	}
	if !definesWarn(module) {
		return nil, fmt.Errorf("%s: policy %s defines no warn rule", filePath, module.Package.Path)
	}

	description, tags := leadingComments(module)
	p := &Policy{
		Name:        policyName(filePath, module),
		Description: description,
		Rego:        string(data),
		Enabled:     true,
		Tags:        tags,
		Metadata: map[string]interface{}{
			"source":  filePath,
			"package": module.Package.Path.String(),
		},
	}

	l.logger.Debug().
		Str("path", filePath).
		Str("policy", p.Name).
		Msg("Policy loaded from file")

	return p, nil
}

// policyName names a module in the arbiter.policies namespace after its
// package, anything else after its file.
func policyName(filePath string, module *ast.Module) string {
	if pkg := module.Package.Path.String(); strings.HasPrefix(pkg, policyNamespace) {
		if name := strings.TrimPrefix(pkg, policyNamespace); !strings.Contains(name, ".") {
			return name
		}
	}
	return strings.TrimSuffix(filepath.Base(filePath), ".rego")
}

func definesWarn(module *ast.Module) bool {
	for _, rule := range module.Rules {
		if rule.Head.Ref().String() == "warn" {
			return true
		}
	}
	return false
}

// leadingComments reads the comment block above the package clause. A
// "tags:" line lists comma separated tags, every other line is part of the
// description.
func leadingComments(module *ast.Module) (string, []string) {
	var (
		lines []string
		tags  []string
	)
	pkgRow := module.Package.Location.Row
	for _, c := range module.Comments {
		if c.Location.Row >= pkgRow {
			break
		}
		text := strings.TrimSpace(strings.TrimPrefix(string(c.Text), "#"))
		if rest, ok := strings.CutPrefix(text, "tags:"); ok {
			for _, tag := range strings.Split(rest, ",") {
				if tag = strings.TrimSpace(tag); tag != "" {
					tags = append(tags, tag)
				}
			}
			continue
		}
		if text != "" {
			lines = append(lines, text)
		}
	}
	return strings.Join(lines, " "), tags
}
