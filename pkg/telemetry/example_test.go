package telemetry_test

import (
	"context"
	"fmt"
	"time"

	"github.com/mwm126/anaconda-recipes/pkg/engine"
	"github.com/mwm126/anaconda-recipes/pkg/telemetry"
)

// Example_planner demonstrates wiring telemetry into the planner.
func Example_planner() {
	cfg := telemetry.DefaultConfig()
	cfg.Logging.Level = "error"

	tel, err := telemetry.NewTelemetry(cfg)
	if err != nil {
		panic(err)
	}
	defer tel.Shutdown(context.Background())

	planner := engine.NewPlanner(
		engine.WithLogger(tel.Logger.NewComponentLogger("planner").Zerolog()),
		engine.WithRecorder(tel.Metrics),
	)

	recipes := []*engine.Recipe{
		{Name: "zlib", Version: "1.2.8", Source: engine.Source{MD5: "44d667c142d7cda120332623eab69f40"}},
	}
	plan, err := planner.Plan(context.Background(), recipes, engine.PlatformLinux)
	if err != nil {
		panic(err)
	}

	fmt.Println(len(plan.Steps), "step(s)")
	// Output: 1 step(s)
}

// Example_instrumentedOperation demonstrates spans around CLI operations.
func Example_instrumentedOperation() {
	tel, err := telemetry.NewTelemetry(telemetry.DefaultConfig())
	if err != nil {
		panic(err)
	}
	ctx := tel.WithContext(context.Background())

	op := telemetry.StartOperation(ctx, "cli.plan", telemetry.AttrTarget.String("osx"))
	time.Sleep(time.Millisecond)
	op.End(nil)

	fmt.Println(op.Duration() > 0)
	// Output: true
}
