package policy

// GetBuiltinPolicies returns all built-in policies.
func GetBuiltinPolicies() []Policy {
	return []Policy{
		licensePolicy(),
		checksumPolicy(),
		gitPinningPolicy(),
		homepagePolicy(),
	}
}

// licensePolicy requires an about.license entry.
func licensePolicy() Policy {
	return Policy{
		Name:        "license",
		Description: "Recipes must declare the license of the packaged software",
		Enabled:     true,
		Tags:        []string{"about", "legal"},
		Rego: `package arbiter.policies.license

import rego.v1

warn contains finding if {
	not input.recipe.about.license
	finding := {
		"msg": "recipe does not declare a license",
		"field": "about.license",
	}
}`,
	}
}

// checksumPolicy prefers sha256 over md5 for source archives.
func checksumPolicy() Policy {
	return Policy{
		Name:        "checksum",
		Description: "Source archives should be verified by sha256",
		Enabled:     true,
		Tags:        []string{"source", "integrity"},
		Rego: `package arbiter.policies.checksum

import rego.v1

warn contains finding if {
	input.recipe.source.md5
	not input.recipe.source.sha256
	finding := {
		"msg": "source is verified by md5 only, add a sha256 checksum",
		"field": "source.sha256",
	}
}

# A url next to a pinned git checkout is downloaded unverified
warn contains finding if {
	url := input.recipe.source.url
	not input.recipe.source.md5
	not input.recipe.source.sha256
	finding := {
		"msg": sprintf("source url %s carries no checksum", [url]),
		"field": "source.url",
	}
}`,
	}
}

// gitPinningPolicy flags git sources that track a branch.
func gitPinningPolicy() Policy {
	return Policy{
		Name:        "git-pinning",
		Description: "Git sources must be pinned to a tag or commit, not a branch",
		Enabled:     true,
		Tags:        []string{"source", "reproducibility"},
		Rego: `package arbiter.policies.git

import rego.v1

floating_refs := {"master", "main", "develop", "trunk", "HEAD"}

warn contains finding if {
	input.recipe.source.git_url
	tag := input.recipe.source.git_tag
	tag in floating_refs
	finding := {
		"msg": sprintf("git_tag %s names a branch, pin a release tag or commit", [tag]),
		"field": "source.git_tag",
	}
}`,
	}
}

// homepagePolicy requires an http(s) about.home entry.
func homepagePolicy() Policy {
	return Policy{
		Name:        "homepage",
		Description: "Recipes should link the upstream project homepage",
		Enabled:     true,
		Tags:        []string{"about"},
		Rego: `package arbiter.policies.homepage

import rego.v1

warn contains finding if {
	not input.recipe.about.home
	finding := {
		"msg": "recipe does not declare a homepage",
		"field": "about.home",
	}
}

warn contains finding if {
	home := input.recipe.about.home
	not startswith(home, "http://")
	not startswith(home, "https://")
	finding := {
		"msg": sprintf("homepage %s is not an http(s) url", [home]),
		"field": "about.home",
	}
}`,
	}
}
