// Package pricing computes the amount charged for a wash from the service base
// price and the vehicle multiplier table.
package pricing

import (
	"strings"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

const (
	VehicleSedan      = "sedan"
	VehicleSUV        = "suv"
	VehicleVan        = "van"
	VehiclePickup     = "pickup"
	VehicleMotorcycle = "motorcycle"

	MotorcycleSmall  = "small"
	MotorcycleMedium = "medium"
	MotorcycleBig    = "big"
)

// Currency minor-unit precision (centavos).
const minorUnitPlaces int32 = 2

var vehicleMultipliers = map[string]decimal.Decimal{
	VehicleSedan:      decimal.RequireFromString("1.0"),
	VehicleSUV:        decimal.RequireFromString("1.3"),
	VehicleVan:        decimal.RequireFromString("1.5"),
	VehiclePickup:     decimal.RequireFromString("1.4"),
	VehicleMotorcycle: decimal.RequireFromString("0.6"),
}

var motorcycleMultipliers = map[string]decimal.Decimal{
	MotorcycleSmall:  decimal.RequireFromString("0.8"),
	MotorcycleMedium: decimal.RequireFromString("1.0"),
	MotorcycleBig:    decimal.RequireFromString("1.3"),
}

var logger = logrus.WithField("module", "pricing")

// ComputeCharge applies the vehicle multiplier (and the motorcycle subtype
// multiplier when relevant) to base, rounding half-up to centavos. Unknown
// vehicle types return base as given, unrounded.
func ComputeCharge(base decimal.Decimal, vehicleTypeID string, motorcycleSubtypeID string) decimal.Decimal {
	vehicleTypeID = normalizeID(vehicleTypeID)
	motorcycleSubtypeID = normalizeID(motorcycleSubtypeID)

	multiplier, ok := vehicleMultipliers[vehicleTypeID]
	if !ok {
		logger.WithField("vehicle_type_id", vehicleTypeID).Warn("Unknown vehicle type, charging base amount")
		return base
	}

	amount := base.Mul(multiplier)
	if vehicleTypeID == VehicleMotorcycle && motorcycleSubtypeID != "" {
		subtypeMultiplier, ok := motorcycleMultipliers[motorcycleSubtypeID]
		if ok {
			amount = amount.Mul(subtypeMultiplier)
		} else {
			logger.WithField("motorcycle_subtype_id", motorcycleSubtypeID).Warn("Unknown motorcycle subtype, ignoring")
		}
	}

	// decimal.Round rounds half away from zero, which is half-up for positive amounts.
	return amount.Round(minorUnitPlaces)
}

func KnownVehicleType(vehicleTypeID string) bool {
	_, ok := vehicleMultipliers[normalizeID(vehicleTypeID)]
	return ok
}

func ToCents(amount decimal.Decimal) int64 {
	return amount.Round(minorUnitPlaces).Shift(minorUnitPlaces).IntPart()
}

func FromCents(cents int64) decimal.Decimal {
	return decimal.New(cents, -minorUnitPlaces)
}

func normalizeID(v string) string {
	return strings.ToLower(strings.TrimSpace(v))
}
