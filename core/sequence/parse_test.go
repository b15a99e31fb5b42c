package sequence

import (
	"testing"

	"github.com/FocuswithJustin/sigid/core/errors"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name   string
		anchor Anchor
		expr   string
		offset Gap
		subs   int
		steps  int
		want   string
	}{
		{"hex gap", AnchorBOF, "4142{2-4}4344", Fixed(0), 1, 2, "4142{2-4}4344"},
		{"bof offset", AnchorBOF, "{10}'PK'", Fixed(10), 1, 1, "{10}504B"},
		{"eof offset", AnchorEOF, "'%%EOF'{0-1024}", Range(0, 1024), 1, 1, "2525454F46{0-1024}"},
		{"variable leading star", AnchorVariable, "*4142", AtLeast(0), 1, 1, "4142"},
		{"variable leading gap", AnchorVariable, "{4}4142", AtLeast(4), 1, 1, "{4-*}4142"},
		{"separations", AnchorVariable, "41*42{5-*}43", AtLeast(0), 3, 3, "41*42{5-*}43"},
		{"adjacent gaps add up", AnchorBOF, "41{2}{3}42", Fixed(0), 1, 2, "41{5}42"},
		{"bounded plus unbounded", AnchorBOF, "41{2}*42", Fixed(0), 2, 2, "41{2-*}42"},
		{"wildcards", AnchorBOF, "41 42 ?? 43", Fixed(0), 1, 1, "4142 ??43"},
		{"alternatives", AnchorBOF, "(41|4243)44", Fixed(0), 1, 2, "(41|4243) 44"},
		{"classes", AnchorBOF, "41[!42:45][&0F][~80]", Fixed(0), 1, 1, "41 [!42:45] [&0F] [~80]"},
		{"lower case hex", AnchorBOF, "ff d8", Fixed(0), 1, 1, "FFD8"},
		{"far side gap ignored", AnchorBOF, "4142*", Fixed(0), 1, 1, "4142"},
		{"eof leading gap ignored", AnchorEOF, "{3}4142", Fixed(0), 1, 1, "4142"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			seq, err := Parse(tt.anchor, tt.expr)
			if err != nil {
				t.Fatalf("Parse(%q): %v", tt.expr, err)
			}
			if seq.Anchor != tt.anchor {
				t.Errorf("Anchor = %v, want %v", seq.Anchor, tt.anchor)
			}
			if seq.Offset != tt.offset {
				t.Errorf("Offset = %+v, want %+v", seq.Offset, tt.offset)
			}
			if len(seq.Subsequences) != tt.subs {
				t.Errorf("got %d sub-sequences, want %d", len(seq.Subsequences), tt.subs)
			}
			steps := 0
			for _, sub := range seq.Subsequences {
				steps += len(sub.Steps)
			}
			if steps != tt.steps {
				t.Errorf("got %d steps, want %d", steps, tt.steps)
			}
			if got := seq.String(); got != tt.want {
				t.Errorf("String() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestParseCaseInsensitiveString(t *testing.T) {
	for _, data := range []string{"AB1", "ab1", "aB1"} {
		if _, ok := find(t, AnchorBOF, "`ab1`", []byte(data), 0); !ok {
			t.Errorf("`ab1` did not match %q", data)
		}
	}
	if _, ok := find(t, AnchorBOF, "`ab1`", []byte("ab2"), 0); ok {
		t.Error("`ab1` matched ab2")
	}
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name string
		expr string
	}{
		{"empty", ""},
		{"odd hex digits", "414"},
		{"inverted gap", "41{3-1}42"},
		{"only a gap", "{5}"},
		{"only a star", "*"},
		{"unclosed alternation", "41(42"},
		{"empty class", "[&]"},
		{"empty string", "''"},
		{"bare bar", "41|42"},
		{"bad gap", "41{2-x}42"},
		{"unknown character", "41 zz"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(AnchorBOF, tt.expr)
			if err == nil {
				t.Fatalf("Parse(%q) should fail", tt.expr)
			}
			var parseErr *errors.ParseError
			if !errors.As(err, &parseErr) {
				t.Errorf("error %v is not a ParseError", err)
			}
			if !errors.Is(err, errors.ErrInvalidInput) {
				t.Errorf("error %v does not wrap ErrInvalidInput", err)
			}
		})
	}
}

func TestParseAnchor(t *testing.T) {
	tests := []struct {
		in      string
		want    Anchor
		wantErr bool
	}{
		{"BOFoffset", AnchorBOF, false},
		{"bof", AnchorBOF, false},
		{"EOFoffset", AnchorEOF, false},
		{"eof", AnchorEOF, false},
		{"Variable", AnchorVariable, false},
		{"", AnchorVariable, false},
		{"IndirectBOFoffset", AnchorVariable, true},
	}
	for _, tt := range tests {
		got, err := ParseAnchor(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseAnchor(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
		}
		if err == nil && got != tt.want {
			t.Errorf("ParseAnchor(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestGapString(t *testing.T) {
	tests := []struct {
		g    Gap
		want string
	}{
		{Fixed(0), ""},
		{Fixed(3), "{3}"},
		{Range(1, 4), "{1-4}"},
		{AtLeast(0), "*"},
		{AtLeast(7), "{7-*}"},
	}
	for _, tt := range tests {
		if got := tt.g.String(); got != tt.want {
			t.Errorf("%+v.String() = %q, want %q", tt.g, got, tt.want)
		}
	}
	if !Range(1, 4).Contains(4) || Range(1, 4).Contains(5) || !AtLeast(2).Contains(1<<40) {
		t.Error("Gap.Contains is wrong")
	}
}
