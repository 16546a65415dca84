package policy

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/open-policy-agent/opa/ast"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writePolicy(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("Failed to create dir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("Failed to write test file: %v", err)
	}
}

const minimalPolicy = `package %s

import rego.v1

warn contains "always" if true
`

func sprintfPolicy(pkg string) string {
	return fmt.Sprintf(minimalPolicy, pkg)
}

func parseTestModule(content string) (*ast.Module, error) {
	return ast.ParseModule("test.rego", content)
}

func TestLoadFromFile_Rego(t *testing.T) {
	loader := NewLoader(zerolog.Nop())

	policyFile := filepath.Join(t.TempDir(), "test-policy.rego")
	regoContent := `# Recipes must pin their sources
# tags: source, integrity
package test.policy

import rego.v1

warn contains "always" if true`
	writePolicy(t, policyFile, regoContent)

	policy, err := loader.loadFromFile(policyFile)
	if err != nil {
		t.Fatalf("Failed to load policy: %v", err)
	}

	if policy.Name != "test-policy" {
		t.Errorf("Expected name 'test-policy', got '%s'", policy.Name)
	}
	if policy.Rego != regoContent {
		t.Error("Rego content doesn't match")
	}
	if !policy.Enabled {
		t.Error("Policy should be enabled by default")
	}
	if policy.Description != "Recipes must pin their sources" {
		t.Errorf("Unexpected description %q", policy.Description)
	}
	assert.Equal(t, []string{"source", "integrity"}, policy.Tags)
	if policy.Metadata["source"] != policyFile {
		t.Errorf("Expected source metadata %s, got %v", policyFile, policy.Metadata["source"])
	}
	if policy.Metadata["package"] != "data.test.policy" {
		t.Errorf("Expected package metadata, got %v", policy.Metadata["package"])
	}
}

func TestLoadFromFile_NamespaceName(t *testing.T) {
	loader := NewLoader(zerolog.Nop())
	dir := t.TempDir()

	file := filepath.Join(dir, "whatever.rego")
	writePolicy(t, file, `package arbiter.policies.summary

import rego.v1

warn contains "x" if false
`)
	p, err := loader.loadFromFile(file)
	require.NoError(t, err)
	assert.Equal(t, "summary", p.Name)

	nested := filepath.Join(dir, "deep.rego")
	writePolicy(t, nested, `package arbiter.policies.a.b

import rego.v1

warn contains "x" if false
`)
	p, err = loader.loadFromFile(nested)
	require.NoError(t, err)
	assert.Equal(t, "deep", p.Name, "nested packages fall back to the file name")
}

func TestLoadFromDirectory_Recursive(t *testing.T) {
	loader := NewLoader(zerolog.Nop())

	dir := t.TempDir()
	writePolicy(t, filepath.Join(dir, "a.rego"), sprintfPolicy("a"))
	writePolicy(t, filepath.Join(dir, "nested", "b.rego"), sprintfPolicy("b"))
	writePolicy(t, filepath.Join(dir, "nested", "b_test.rego"), "package b_test")
	writePolicy(t, filepath.Join(dir, "README.md"), "not a policy")

	policies, err := loader.LoadFromPaths(context.Background(), []string{dir})
	if err != nil {
		t.Fatalf("Failed to load policies: %v", err)
	}

	if len(policies) != 2 {
		t.Fatalf("Expected 2 policies, got %d", len(policies))
	}
	if policies[0].Name != "a" || policies[1].Name != "b" {
		t.Errorf("Unexpected policies %s, %s", policies[0].Name, policies[1].Name)
	}
}

func TestLoadFromPaths_Errors(t *testing.T) {
	tests := []struct {
		name  string
		files map[string]string
	}{
		{
			name:  "syntax error",
			files: map[string]string{"broken.rego": "package broken\n\nwarn contains msg if {"},
		},
		{
			name:  "no warn rule",
			files: map[string]string{"deny.rego": "package deny\n\nimport rego.v1\n\ndeny contains \"x\" if true\n"},
		},
		{
			name: "duplicate name",
			files: map[string]string{
				"one/dup.rego": sprintfPolicy("one"),
				"two/dup.rego": sprintfPolicy("two"),
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			for name, content := range tt.files {
				writePolicy(t, filepath.Join(dir, name), content)
			}

			_, err := NewLoader(zerolog.Nop()).LoadFromPaths(context.Background(), []string{dir})
			assert.Error(t, err)
		})
	}
}

func TestLeadingComments(t *testing.T) {
	tests := []struct {
		name     string
		content  string
		expected string
		tags     []string
	}{
		{
			name: "single line comment",
			content: `# This is a test policy
package test`,
			expected: "This is a test policy",
		},
		{
			name: "multi line comments",
			content: `# This is a test policy
# that spans multiple lines
package test`,
			expected: "This is a test policy that spans multiple lines",
		},
		{
			name: "no comments",
			content: `package test

import rego.v1

# not a description
warn contains "x" if false`,
			expected: "",
		},
		{
			name: "empty lines and tags",
			content: `# First line
#
# tags: about
# Second line
package test`,
			expected: "First line Second line",
			tags:     []string{"about"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			module, err := parseTestModule(tt.content)
			require.NoError(t, err)

			description, tags := leadingComments(module)
			assert.Equal(t, tt.expected, description)
			assert.Equal(t, tt.tags, tags)
		})
	}
}

func TestLoadFromFile_UnsupportedType(t *testing.T) {
	loader := NewLoader(zerolog.Nop())

	path := filepath.Join(t.TempDir(), "policy.json")
	writePolicy(t, path, "{}")

	if _, err := loader.loadFromFile(path); err == nil {
		t.Error("Expected error for unsupported file type")
	}
}

func TestLoadFromPath_NonExistent(t *testing.T) {
	loader := NewLoader(zerolog.Nop())

	_, err := loader.LoadFromPaths(context.Background(), []string{"/non/existent/path"})
	if err == nil {
		t.Error("Expected error for non-existent path")
	}
}
