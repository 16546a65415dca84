package semver

import "testing"

func TestSatisfies(t *testing.T) {
	c := MustParseConstraint("^1.2.0")

	if !Satisfies(MustParseVersion("1.2.0"), c) {
		t.Fatalf("expected 1.2.0 to satisfy ^1.2.0")
	}
	if !Satisfies(MustParseVersion("1.9.9"), c) {
		t.Fatalf("expected 1.9.9 to satisfy ^1.2.0")
	}
	if Satisfies(MustParseVersion("2.0.0"), c) {
		t.Fatalf("expected 2.0.0 to NOT satisfy ^1.2.0")
	}
}

func TestSatisfies_CondaSpellings(t *testing.T) {
	tests := []struct {
		constraint string
		version    string
		want       bool
	}{
		{">=1.0,<2", "1.5.0", true},
		{">=1.0,<2", "2.0.0", false},
		{"1.11*", "1.11.3", true},
		{"1.11*", "1.12.0", false},
		{"==1.1.1", "1.1.1", true},
		{"==1.1.1", "1.1.2", false},
		{"1.1.1", "1.1.1", true},
		{"1.0|1.1", "1.1.0", true},
		{"1.0|1.1", "1.2.0", false},
		{"", "0.0.1", true},
		{">=1.0.0", "1.0.0rc1", false},
	}

	for _, tt := range tests {
		t.Run(tt.constraint+"/"+tt.version, func(t *testing.T) {
			got := Satisfies(MustParseVersion(tt.version), MustParseConstraint(tt.constraint))
			if got != tt.want {
				t.Errorf("Satisfies(%s, %s) = %v, want %v", tt.version, tt.constraint, got, tt.want)
			}
		})
	}
}

func TestParseVersion_Loose(t *testing.T) {
	for _, raw := range []string{"2016.1", "1.0.0rc1", "4.8.7", "0.4.9"} {
		v, err := ParseVersion(raw)
		if err != nil {
			t.Fatalf("ParseVersion(%q) error: %v", raw, err)
		}
		if v.String() != raw {
			t.Errorf("String() = %q, want %q", v.String(), raw)
		}
	}
}

func TestCompareStrings(t *testing.T) {
	if CompareStrings("1.10.0", "1.9.0") <= 0 {
		t.Errorf("expected 1.10.0 > 1.9.0")
	}
	if CompareStrings("1.0", "1.0") != 0 {
		t.Errorf("expected equal versions to compare 0")
	}
	if CompareStrings("abc", "1.0") >= 0 {
		t.Errorf("expected unparseable version to sort first")
	}
}

func TestMaxSatisfying(t *testing.T) {
	c := MustParseConstraint(">=1.0.0 <2.0.0")
	candidates := []Version{
		MustParseVersion("0.9.0"),
		MustParseVersion("1.0.0"),
		MustParseVersion("1.5.0"),
		MustParseVersion("2.0.0"),
	}

	best, ok := MaxSatisfying(c, candidates)
	if !ok {
		t.Fatalf("expected to find a satisfying version")
	}
	if Compare(best, MustParseVersion("1.5.0")) != 0 {
		t.Fatalf("expected best=1.5.0")
	}
}
