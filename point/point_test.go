package point

import "testing"

func TestEqualIsIdentityOverCommonAddressAndIOA(t *testing.T) {
	a := New(1, 1001, MMeNc1, F32Value(1), true, 0)
	a.ID = "a"
	b := New(1, 1001, MSpNa1, BoolValue(true), false, 123)
	b.ID = "b"

	if !a.Equal(b) {
		t.Fatalf("points sharing (ca, ioa) must be equal regardless of other fields")
	}

	c := New(1, 1002, MMeNc1, F32Value(1), true, 0)
	if a.Equal(c) {
		t.Fatalf("points with different ioa must not be equal")
	}
}

func TestSetValueRefreshesLastUpdated(t *testing.T) {
	p := NewDefault(1, 1001)
	first := p.LastUpdated()

	p.SetValue(F64Value(42))
	if p.Value().F64 != 42 {
		t.Fatalf("SetValue did not take effect")
	}
	if p.LastUpdated() < first {
		t.Fatalf("LastUpdated must be monotonically non-decreasing")
	}
}

func TestAsFloatWidensNumericVariants(t *testing.T) {
	p := NewDefault(1, 1001)
	p.SetValue(I32Value(7))

	got, err := p.AsFloat()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != 7 {
		t.Fatalf("want 7, got %v", got)
	}
}

func TestAsBoolRejectsIncompatibleVariant(t *testing.T) {
	p := NewDefault(1, 1001)
	p.SetValue(BytesValue([]byte{1, 2, 3}))

	if _, err := p.AsBool(); err == nil {
		t.Fatalf("expected type-mismatch error for bytes -> bool")
	}
}

func TestCloneIsIndependentOfOriginal(t *testing.T) {
	p := NewDefault(1, 1001)
	p.SetValue(F64Value(1))

	clone := p.Clone()
	p.SetValue(F64Value(2))

	if clone.Value().F64 != 1 {
		t.Fatalf("clone must not observe later writes to the original")
	}
}
