package log

import "testing"

func TestFormatAttrValueQuoting(t *testing.T) {
	for _, tt := range []struct {
		in   string
		want string
	}{
		{"NiceMessage", "NiceMessage"},
		{"Space Message", `"Space Message"`},
		{"Enter\nMessage", "\"Enter\\nMessage\""},
	} {
		if have := formatAttrValueString(tt.in); have != tt.want {
			t.Errorf("formatAttrValueString(%q) = %q, want %q", tt.in, have, tt.want)
		}
	}
}
