package trigger

import "testing"

func TestMatch(t *testing.T) {
	tests := []struct {
		name    string
		keyword string
		lines   []string
		want    bool
	}{
		{"exact", "fafa", []string{"fafa 12"}, true},
		{"mixed case text", "fafa", []string{"ID: 41", "FaFa 2362"}, true},
		{"mixed case keyword", "FAFA", []string{"xfafax"}, true},
		{"absent", "fafa", []string{"ID: 41", "2362"}, false},
		{"no lines", "fafa", nil, false},
		{"empty keyword", "", []string{"anything"}, false},
		{"not across line break", "fafa", []string{"fa", "fa"}, false},
		{"unicode", "发发", []string{"编号 发发 12"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := New(tt.keyword).Match(tt.lines); got != tt.want {
				t.Errorf("Match(%q) = %v, want %v", tt.lines, got, tt.want)
			}
		})
	}
}

func TestKeywordNormalized(t *testing.T) {
	if k := New("  FaFa ").Keyword(); k != "fafa" {
		t.Errorf("Keyword() = %q, want %q", k, "fafa")
	}
}
