package dataset

import "testing"

func TestMoveAction(t *testing.T) {
	cases := []struct {
		dx, dy, dz float64
		want       ActionLabel
		ok         bool
	}{
		{0, 0.2, 0, ActionForward, true},
		{0, -0.2, 0, ActionBackward, true},
		{-0.2, 0, 0, ActionLeft, true},
		{0.2, 0, 0, ActionRight, true},
		{0, 0, 0.2, ActionUp, true},
		{0, 0, -0.2, ActionDown, true},
		{0.2, 0.2, 0.2, ActionForward, true},
		{0, 0, 0, 0, false},
	}
	for _, tc := range cases {
		got, ok := MoveAction(tc.dx, tc.dy, tc.dz)
		if ok != tc.ok || (ok && got != tc.want) {
			t.Fatalf("MoveAction(%v,%v,%v)=%v,%v want %v,%v", tc.dx, tc.dy, tc.dz, got, ok, tc.want, tc.ok)
		}
	}
}

func TestRotateActionAndNames(t *testing.T) {
	if a, ok := RotateAction(10); !ok || a != ActionYawLeft {
		t.Fatalf("positive yaw: %v %v", a, ok)
	}
	if a, ok := RotateAction(-10); !ok || a != ActionYawRight {
		t.Fatalf("negative yaw: %v %v", a, ok)
	}
	if _, ok := RotateAction(0); ok {
		t.Fatalf("zero yaw must not change the label")
	}
	if ActionHover != 8 || ActionHover.String() != "hover" {
		t.Fatalf("hover=%d %q", ActionHover, ActionHover)
	}
	if s := ActionLabel(42).String(); s != "action(42)" {
		t.Fatalf("unknown label string %q", s)
	}
}
