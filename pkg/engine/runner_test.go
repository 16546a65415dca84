package engine

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"reflect"
	"testing"

	"github.com/rs/zerolog"
)

type fakeFetcher struct {
	data  map[string][]byte
	fail  map[string]error
	calls []string
}

func (f *fakeFetcher) Fetch(_ context.Context, r *Recipe) (*SourceArchive, error) {
	f.calls = append(f.calls, r.Name)
	if err := f.fail[r.Name]; err != nil {
		return nil, err
	}
	return &SourceArchive{Recipe: r.ID(), Data: f.data[r.Name]}, nil
}

type fakePatcher struct {
	applied map[string][]string
	fail    map[string]error
}

func (f *fakePatcher) Apply(_ context.Context, r *Recipe, _ *SourceArchive, patches []PatchRef) (*SourceTree, error) {
	if err := f.fail[r.Name]; err != nil {
		return nil, err
	}
	if f.applied == nil {
		f.applied = make(map[string][]string)
	}
	f.applied[r.Name] = patchPaths(patches)
	return &SourceTree{Recipe: r.ID(), Dir: "/work/" + r.Name}, nil
}

type fakeExecutor struct {
	built []RecipeID
	dirs  []string
	fail  map[string]error
}

func (f *fakeExecutor) Build(_ context.Context, step *PlanStep, tree *SourceTree) error {
	if err := f.fail[step.Recipe.Name]; err != nil {
		return err
	}
	f.built = append(f.built, step.Recipe.ID())
	if tree != nil {
		f.dirs = append(f.dirs, tree.Dir)
	}
	return nil
}

func planFor(t *testing.T, recipes ...*Recipe) *BuildPlan {
	t.Helper()
	plan, err := newTestPlanner().Plan(context.Background(), recipes, PlatformLinux)
	if err != nil {
		t.Fatalf("Plan failed: %v", err)
	}
	return plan
}

func TestRunner_Run_BuildsInPlanOrder(t *testing.T) {
	b := newRecipe("B", "1.0")
	b.Source.Patches = []PatchRef{{Path: "win.patch", Selector: SelectorWin}, {Path: "all.patch"}}
	plan := planFor(t, newRecipe("A", "1.0", "B"), b)

	patcher := &fakePatcher{}
	executor := &fakeExecutor{}
	recorder := &fakeRecorder{}
	runner := NewRunner(executor,
		WithFetcher(&fakeFetcher{}),
		WithPatchApplier(patcher),
		WithRunRecorder(recorder),
		WithRunLogger(zerolog.Nop()),
	)

	result, err := runner.Run(context.Background(), plan)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	want := []RecipeID{id("B", "1.0"), id("A", "1.0")}
	if !reflect.DeepEqual(executor.built, want) {
		t.Errorf("Expected build order %v, got %v", want, executor.built)
	}
	if !reflect.DeepEqual(result.Built, want) {
		t.Errorf("Expected result %v, got %v", want, result.Built)
	}
	if got := patcher.applied["B"]; !reflect.DeepEqual(got, []string{"all.patch"}) {
		t.Errorf("Expected filtered patches for B, got %v", got)
	}
	if !reflect.DeepEqual(executor.dirs, []string{"/work/B", "/work/A"}) {
		t.Errorf("Expected patched trees to reach the executor, got %v", executor.dirs)
	}
	if len(recorder.builds) != 2 {
		t.Errorf("Expected 2 recorded builds, got %v", recorder.builds)
	}
}

func TestRunner_Run_WithoutOptionalCollaborators(t *testing.T) {
	plan := planFor(t, newRecipe("psutil", "4.1.0"))
	executor := &fakeExecutor{}

	if _, err := NewRunner(executor, WithRunLogger(zerolog.Nop())).Run(context.Background(), plan); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(executor.built) != 1 || len(executor.dirs) != 0 {
		t.Errorf("Expected one build without a source tree, got built=%v dirs=%v", executor.built, executor.dirs)
	}
}

func TestRunner_Run_FailFast(t *testing.T) {
	plan := planFor(t,
		newRecipe("A", "1.0", "B"),
		newRecipe("B", "1.0", "C"),
		newRecipe("C", "1.0"),
	)
	executor := &fakeExecutor{fail: map[string]error{"B": NewBuildFailed(2, nil)}}

	result, err := NewRunner(executor, WithRunLogger(zerolog.Nop())).Run(context.Background(), plan)
	if !errors.Is(err, ErrBuildFailed) {
		t.Fatalf("Expected build failed error, got: %v", err)
	}

	var ee *EngineError
	if !errors.As(err, &ee) || ee.Recipe != "B@1.0" {
		t.Errorf("Expected recipe B@1.0 on error, got: %v", err)
	}
	if ee.Details["exit_code"] != 2 {
		t.Errorf("Expected exit code 2, got %v", ee.Details["exit_code"])
	}
	if !reflect.DeepEqual(executor.built, []RecipeID{id("C", "1.0")}) {
		t.Errorf("Expected only C to be built, got %v", executor.built)
	}
	if result.Failed == nil || *result.Failed != id("B", "1.0") {
		t.Errorf("Expected failed step B, got %v", result.Failed)
	}
}

func TestRunner_Run_CollaboratorErrors(t *testing.T) {
	boom := errors.New("connection reset")

	tests := []struct {
		name      string
		fetcher   *fakeFetcher
		patcher   *fakePatcher
		executor  *fakeExecutor
		wantErr   error
		transient bool
	}{
		{
			name:      "unclassified fetch failure",
			fetcher:   &fakeFetcher{fail: map[string]error{"ecos": boom}},
			executor:  &fakeExecutor{},
			wantErr:   ErrFetchError,
			transient: true,
		},
		{
			name:     "integrity mismatch",
			fetcher:  &fakeFetcher{data: map[string][]byte{"ecos": []byte("tampered")}},
			executor: &fakeExecutor{},
			wantErr:  ErrIntegrityMismatch,
		},
		{
			name:     "patch rejected",
			fetcher:  &fakeFetcher{},
			patcher:  &fakePatcher{fail: map[string]error{"ecos": NewPatchRejected("fix.patch", "hunk #2", nil)}},
			executor: &fakeExecutor{},
			wantErr:  ErrPatchRejected,
		},
		{
			name:     "unclassified build failure",
			executor: &fakeExecutor{fail: map[string]error{"ecos": boom}},
			wantErr:  ErrBuildFailed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			plan := planFor(t, newRecipe("ecos", "2.0.4"))

			opts := []RunnerOption{WithRunLogger(zerolog.Nop())}
			if tt.fetcher != nil {
				opts = append(opts, WithFetcher(tt.fetcher))
			}
			if tt.patcher != nil {
				opts = append(opts, WithPatchApplier(tt.patcher))
			}

			_, err := NewRunner(tt.executor, opts...).Run(context.Background(), plan)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Expected %v, got: %v", tt.wantErr, err)
			}
			if IsTransient(err) != tt.transient {
				t.Errorf("Expected transient=%v, got %v", tt.transient, IsTransient(err))
			}

			var ee *EngineError
			if errors.As(err, &ee) && ee.Recipe != "ecos@2.0.4" {
				t.Errorf("Expected recipe identity, got %q", ee.Recipe)
			}
			if len(tt.executor.built) != 0 {
				t.Errorf("Executor must not run after a failure")
			}
			if tt.fetcher != nil && len(tt.fetcher.calls) != 1 {
				t.Errorf("Fetch must not be retried, got %d calls", len(tt.fetcher.calls))
			}
		})
	}
}

func TestRunner_Run_Cancelled(t *testing.T) {
	plan := planFor(t, newRecipe("A", "1.0"))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	executor := &fakeExecutor{}
	_, err := NewRunner(executor, WithRunLogger(zerolog.Nop())).Run(ctx, plan)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Expected context.Canceled, got: %v", err)
	}
	if len(executor.built) != 0 {
		t.Errorf("Expected nothing built, got %v", executor.built)
	}
}

func TestVerifyIntegrity(t *testing.T) {
	data := []byte("psutil-4.1.0.tar.gz contents")
	sum := sha256.Sum256(data)

	if err := VerifyIntegrity(Source{SHA256: hex.EncodeToString(sum[:])}, data); err != nil {
		t.Errorf("Expected matching sha256 to verify, got: %v", err)
	}
	if err := VerifyIntegrity(Source{MD5: "0123456789abcdef0123456789abcdef"}, data); !errors.Is(err, ErrIntegrityMismatch) {
		t.Errorf("Expected md5 mismatch, got: %v", err)
	}
	if err := VerifyIntegrity(Source{GitURL: "https://github.com/x/y", GitTag: "v1"}, data); err != nil {
		t.Errorf("Git-pinned sources have nothing to verify, got: %v", err)
	}
}
