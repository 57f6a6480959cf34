package scheduler

import (
	"reflect"
	"testing"
)

func TestParseHours(t *testing.T) {
	tests := []struct {
		expr string
		want []int
	}{
		{"0,12", []int{0, 12}},
		{"8,20", []int{8, 20}},
		{"*/6", []int{0, 6, 12, 18}},
		{"9-11", []int{9, 10, 11}},
		{" 23 ", []int{23}},
	}
	for _, tt := range tests {
		set, err := ParseHours(tt.expr)
		if err != nil {
			t.Fatalf("ParseHours(%q): %v", tt.expr, err)
		}
		if got := set.List(); !reflect.DeepEqual(got, tt.want) {
			t.Errorf("ParseHours(%q) = %v, want %v", tt.expr, got, tt.want)
		}
	}
}

func TestParseHoursStar(t *testing.T) {
	set, err := ParseHours("*")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(set.List()) != 24 {
		t.Fatalf("hours: %v", set.List())
	}
}

func TestParseHoursInvalid(t *testing.T) {
	for _, expr := range []string{"", "24", "noon", "0 12", "-1"} {
		if _, err := ParseHours(expr); err == nil {
			t.Errorf("ParseHours(%q): expected error", expr)
		}
	}
}

func TestHourSet(t *testing.T) {
	set := Hours(8, 20, 25, -1)
	if !set.Contains(8) || !set.Contains(20) || set.Contains(9) || set.Contains(25) {
		t.Fatalf("set: %v", set.List())
	}
	if set.String() != "8,20" {
		t.Fatalf("string: %q", set.String())
	}
}
