package schedule

import "testing"

func TestAliasGeneratorSuffixes(t *testing.T) {
	t.Parallel()
	var g aliasGenerator
	tests := []struct {
		in   string
		want string
	}{
		{"light", "light"},
		{"light", "light_2"},
		{"light", "light_3"},
		{"other", "other"},
	}
	for _, tt := range tests {
		if got := g.generate(tt.in); got != tt.want {
			t.Fatalf("generate(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestAliasGeneratorReset(t *testing.T) {
	t.Parallel()
	var g aliasGenerator
	g.generate("light")
	g.generate("light")
	g.reset()
	if got := g.generate("light"); got != "light" {
		t.Fatalf("after reset generate = %q, want %q", got, "light")
	}
}
