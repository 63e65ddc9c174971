package dbus

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestSignatureValid(t *testing.T) {
	tests := []struct {
		sig  Signature
		want bool
	}{
		{"", true}, // void
		{"y", true},
		{"b", true},
		{"n", true},
		{"q", true},
		{"i", true},
		{"u", true},
		{"x", true},
		{"t", true},
		{"d", true},
		{"s", true},
		{"o", true},
		{"g", true},
		{"v", true},
		{"ai", true},
		{"aai", true},
		{"(i)", true},
		{"(isv)", true},
		{"((i)(s))", true},
		{"a(yv)", true},
		{"a{sv}", true},
		{"a{s(iu)}", true},
		{"aa{sv}", true},
		{"susv", true}, // multiple complete types
		{"a", false},   // array missing element
		{"(", false},
		{"()", false}, // empty struct
		{"(i", false},
		{"i)", false},
		{"{sv}", false},   // dict entry outside array
		{"a{vv}", false},  // container key
		{"a{avv}", false}, // container key
		{"a{s}", false},   // missing value
		{"a{svv}", false}, // too many types
		{"z", false},
		{Signature(strings.Repeat("a", 100) + "i"), false}, // too deep
	}
	for _, tc := range tests {
		if got := tc.sig.Valid(); got != tc.want {
			t.Errorf("Signature(%q).Valid() = %v, want %v", tc.sig, got, tc.want)
		}
	}
}

func TestSignatureSingle(t *testing.T) {
	tests := []struct {
		sig  Signature
		want bool
	}{
		{"", false},
		{"i", true},
		{"ai", true},
		{"(isv)", true},
		{"ii", false},
		{"a{sv}", true},
		{"z", false},
	}
	for _, tc := range tests {
		if got := tc.sig.Single(); got != tc.want {
			t.Errorf("Signature(%q).Single() = %v, want %v", tc.sig, got, tc.want)
		}
	}
}

func TestSignatureSplit(t *testing.T) {
	tests := []struct {
		sig  Signature
		want []Signature
	}{
		{"", nil},
		{"i", []Signature{"i"}},
		{"sai(uu)", []Signature{"s", "ai", "(uu)"}},
		{"a{sv}v", []Signature{"a{sv}", "v"}},
	}
	for _, tc := range tests {
		got, err := tc.sig.Split()
		if err != nil {
			t.Errorf("Signature(%q).Split() failed: %v", tc.sig, err)
			continue
		}
		if diff := cmp.Diff(got, tc.want); diff != "" {
			t.Errorf("Signature(%q).Split() diff (-got+want):\n%s", tc.sig, diff)
		}
	}
}

func TestSignatureAlignment(t *testing.T) {
	tests := []struct {
		sig  Signature
		want int
	}{
		{"y", 1},
		{"g", 1},
		{"v", 1},
		{"n", 2},
		{"q", 2},
		{"b", 4},
		{"i", 4},
		{"u", 4},
		{"s", 4},
		{"o", 4},
		{"ai", 4},
		{"at", 4}, // the array, not its elements
		{"x", 8},
		{"t", 8},
		{"d", 8},
		{"(y)", 8},
		{"{sv}", 8},
	}
	for _, tc := range tests {
		if got := tc.sig.alignment(); got != tc.want {
			t.Errorf("Signature(%q).alignment() = %d, want %d", tc.sig, got, tc.want)
		}
	}
}
