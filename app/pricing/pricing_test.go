package pricing

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestComputeCharge(t *testing.T) {
	cases := []struct {
		name    string
		base    string
		vehicle string
		subtype string
		want    string
	}{
		{name: "sedan", base: "500", vehicle: "sedan", want: "500"},
		{name: "suv", base: "500", vehicle: "suv", want: "650"},
		{name: "van", base: "300", vehicle: "van", want: "450"},
		{name: "pickup case insensitive", base: "250", vehicle: " PickUp ", want: "350"},
		{name: "motorcycle without subtype", base: "1000", vehicle: "motorcycle", want: "600"},
		{name: "motorcycle big", base: "1000", vehicle: "motorcycle", subtype: "big", want: "780"},
		{name: "motorcycle small", base: "1000", vehicle: "motorcycle", subtype: "small", want: "480"},
		{name: "subtype ignored for cars", base: "500", vehicle: "suv", subtype: "big", want: "650"},
		{name: "unknown subtype ignored", base: "1000", vehicle: "motorcycle", subtype: "huge", want: "600"},
		{name: "unknown vehicle returns base", base: "499.99", vehicle: "tank", want: "499.99"},
		{name: "unknown vehicle keeps base precision", base: "12.345", vehicle: "tank", want: "12.345"},
		{name: "empty vehicle keeps base precision", base: "0.005", vehicle: "", want: "0.005"},
		{name: "rounds half up", base: "0.05", vehicle: "suv", want: "0.07"},
		{name: "rounds down below half", base: "10.01", vehicle: "suv", want: "13.01"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := ComputeCharge(decimal.RequireFromString(tc.base), tc.vehicle, tc.subtype)
			if !got.Equal(decimal.RequireFromString(tc.want)) {
				t.Fatalf("ComputeCharge(%s, %q, %q) = %s, want %s", tc.base, tc.vehicle, tc.subtype, got, tc.want)
			}
		})
	}
}

func TestComputeChargeIsDeterministic(t *testing.T) {
	base := decimal.RequireFromString("777.77")
	first := ComputeCharge(base, "motorcycle", "big")
	for i := 0; i < 10; i++ {
		if !ComputeCharge(base, "motorcycle", "big").Equal(first) {
			t.Fatal("expected identical results for identical input")
		}
	}
}

func TestCentsConversion(t *testing.T) {
	if got := ToCents(decimal.RequireFromString("650.00")); got != 65000 {
		t.Fatalf("expected 65000 cents, got %d", got)
	}
	if got := ToCents(decimal.RequireFromString("12.345")); got != 1235 {
		t.Fatalf("expected 1235 cents, got %d", got)
	}
	if got := FromCents(78000); !got.Equal(decimal.RequireFromString("780")) {
		t.Fatalf("expected 780, got %s", got)
	}
}

func TestKnownVehicleType(t *testing.T) {
	if !KnownVehicleType("SUV") {
		t.Fatal("expected suv to be known")
	}
	if KnownVehicleType("hovercraft") {
		t.Fatal("expected hovercraft to be unknown")
	}
}
