// Package policy lints recipes with Open Policy Agent (OPA) Rego policies.
//
// Each policy is a Rego module whose warn set yields findings for the recipe
// given as input.recipe. Findings never fail planning: the planner turns each
// one into a POLICY_VIOLATION warning on the plan.
//
// # Usage
//
//	eng, err := policy.NewEngine(logger)
//	if err != nil {
//	    return err
//	}
//	if err := eng.LoadPolicies(ctx, []string{"policies/"}); err != nil {
//	    return err
//	}
//	planner := engine.NewPlanner(engine.WithPolicyEngine(eng))
//
// # Built-in Policies
//
//  1. checksum - source archives should carry a sha256
//  2. git-pinning - git sources must not track a branch
//  3. homepage - about.home must be an http(s) url
//  4. license - about.license must be set
//
// # Custom Policies
//
// A custom policy is a .rego file defining a warn rule. A module in package
// arbiter.policies.<name> is called <name>; any other module is named after
// its file. The comment block above the package clause is the description,
// and a "tags:" line in it lists tags. Files that fail to parse abort the
// load. Elements of the warn set are either strings or objects with msg and
// field keys:
//
//	# Recipes must ship a test section
//	# tags: test
//	package arbiter.policies.tested
//
//	import rego.v1
//
//	warn contains finding if {
//	    not input.recipe.test
//	    finding := {"msg": "recipe has no test section", "field": "test"}
//	}
//
// input.context.recipe holds the recipe identity as name@version.
package policy
