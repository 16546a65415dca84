package builder

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"text/template"
	"time"

	"github.com/rs/zerolog"

	"github.com/mwm126/anaconda-recipes/pkg/engine"
)

// outputTail is how many trailing output lines a BuildFailed error keeps.
const outputTail = 20

// waitDelay bounds how long a cancelled build may hold its output open.
const waitDelay = 2 * time.Second

// ExecConfig configures an Executor.
type ExecConfig struct {
	// Command is a text/template rendered with StepVars.
	Command string

	// Shell runs the rendered command as "shell -c command".
	Shell string

	// Env is added to the inherited environment.
	Env map[string]string

	// Timeout bounds one build. Zero means no limit.
	Timeout time.Duration
}

// StepVars are the values available to the command template.
type StepVars struct {
	Name        string
	Version     string
	BuildNumber int
	Stage       int
	Position    int
	Target      string
	RecipeDir   string
	SourceDir   string
	Patches     int
}

// Executor runs a shell command per plan step.
type Executor struct {
	tmpl    *template.Template
	shell   string
	env     map[string]string
	timeout time.Duration
	target  engine.Platform
	logger  zerolog.Logger
}

var _ engine.BuildExecutor = (*Executor)(nil)

// NewExecutor parses the command template.
func NewExecutor(cfg ExecConfig, target engine.Platform, logger zerolog.Logger) (*Executor, error) {
	if strings.TrimSpace(cfg.Command) == "" {
		return nil, fmt.Errorf("build command is required")
	}
	tmpl, err := template.New("build").Option("missingkey=error").Parse(cfg.Command)
	if err != nil {
		return nil, fmt.Errorf("invalid build command template: %w", err)
	}

	shell := cfg.Shell
	if shell == "" {
		shell = "sh"
	}

	return &Executor{
		tmpl:    tmpl,
		shell:   shell,
		env:     cfg.Env,
		timeout: cfg.Timeout,
		target:  target,
		logger:  logger.With().Str("component", "build-executor").Logger(),
	}, nil
}

// Vars returns the template values for step.
func (e *Executor) Vars(step *engine.PlanStep, tree *engine.SourceTree) StepVars {
	r := step.Recipe
	v := StepVars{
		Name:        r.Name,
		Version:     r.Version,
		BuildNumber: r.BuildNumber,
		Stage:       step.Stage,
		Position:    step.Position,
		Target:      string(e.target),
		Patches:     len(step.Patches),
	}
	if r.Path != "" {
		v.RecipeDir = absPath(filepath.Dir(r.Path))
	}
	if tree != nil {
		v.SourceDir = tree.Dir
	}
	return v
}

// Render returns the command that Build would run for step.
func (e *Executor) Render(step *engine.PlanStep, tree *engine.SourceTree) (string, error) {
	var buf bytes.Buffer
	if err := e.tmpl.Execute(&buf, e.Vars(step, tree)); err != nil {
		return "", fmt.Errorf("failed to render build command: %w", err)
	}
	return buf.String(), nil
}

// Build renders the command for step and runs it. The command runs in the
// source tree when there is one, else in the recipe directory. A non-zero
// exit is reported as BuildFailed carrying the exit code and output tail.
func (e *Executor) Build(ctx context.Context, step *engine.PlanStep, tree *engine.SourceTree) error {
	command, err := e.Render(step, tree)
	if err != nil {
		return engine.NewBuildFailed(-1, err)
	}

	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	vars := e.Vars(step, tree)
	cmd := exec.CommandContext(ctx, e.shell, "-c", command)
	switch {
	case vars.SourceDir != "":
		cmd.Dir = vars.SourceDir
	case vars.RecipeDir != "":
		cmd.Dir = vars.RecipeDir
	}
	cmd.Env = append(os.Environ(), e.environ(vars)...)
	cmd.WaitDelay = waitDelay

	var output bytes.Buffer
	cmd.Stdout = &output
	cmd.Stderr = &output

	e.logger.Debug().
		Str("recipe", step.Recipe.ID().String()).
		Str("command", command).
		Str("dir", cmd.Dir).
		Msg("Running build command")

	start := time.Now()
	err = cmd.Run()
	duration := time.Since(start)

	if err == nil {
		e.logger.Debug().
			Str("recipe", step.Recipe.ID().String()).
			Dur("duration", duration).
			Msg("Build command finished")
		return nil
	}

	exitCode := -1
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		exitCode = exitErr.ExitCode()
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		err = fmt.Errorf("%w: %w", ctxErr, err)
	}

	return engine.NewBuildFailed(exitCode, err).
		WithDetail("command", command).
		WithDetail("output", tail(output.String(), outputTail))
}

// environ returns the ARBITER_* variables and the configured extras,
// sorted so runs are reproducible.
func (e *Executor) environ(v StepVars) []string {
	env := []string{
		"ARBITER_RECIPE=" + v.Name,
		"ARBITER_VERSION=" + v.Version,
		"ARBITER_TARGET=" + v.Target,
		"ARBITER_RECIPE_DIR=" + v.RecipeDir,
		fmt.Sprintf("ARBITER_STAGE=%d", v.Stage),
	}
	if v.SourceDir != "" {
		env = append(env, "SRC_DIR="+v.SourceDir)
	}

	keys := make([]string, 0, len(e.env))
	for k := range e.env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		env = append(env, k+"="+e.env[k])
	}
	return env
}

func tail(s string, n int) string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n")
}
