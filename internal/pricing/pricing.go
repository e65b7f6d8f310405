// Package pricing quotes delivery prices from a YAML price table.
package pricing

import (
	_ "embed"
	"errors"
	"fmt"
	"math"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"courier-dispatch/internal/domain"
)

//go:embed default.yaml
var defaultTable []byte

// Table is the price list. Local jobs (pickup and dropoff in the same city)
// pay a flat price per package size; intercity jobs pay a base plus a
// per-kilometre rate, scaled by speed.
type Table struct {
	BaseFee           float64                          `yaml:"base_fee"`
	DiscountedFee     float64                          `yaml:"discounted_fee"`
	DiscountThreshold int                              `yaml:"discount_threshold"`
	Minimum           int                              `yaml:"minimum"`
	Local             map[domain.PackageSize]int       `yaml:"local"`
	Base              map[domain.PackageSize]float64   `yaml:"base"`
	PerKm             map[domain.PackageSize]float64   `yaml:"per_km"`
	SpeedMultiplier   map[domain.SpeedCategory]float64 `yaml:"speed_multiplier"`
}

// Quote is a priced job: what the requester pays and what the fulfiller
// is offered.
type Quote struct {
	Requester int
	Fulfiller int
}

// Default returns the embedded price table.
func Default() (*Table, error) {
	return Parse(defaultTable)
}

// Load reads a price table from path.
func Load(path string) (*Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("pricing: read %s: %w", path, err)
	}
	return Parse(data)
}

func Parse(data []byte) (*Table, error) {
	var t Table
	if err := yaml.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("pricing: parse table: %w", err)
	}
	if err := t.validate(); err != nil {
		return nil, err
	}
	return &t, nil
}

func (t *Table) validate() error {
	if t.BaseFee < 0 || t.DiscountedFee < 0 {
		return errors.New("pricing: fees must not be negative")
	}
	for _, size := range []domain.PackageSize{domain.PackageSmall, domain.PackageBig, domain.PackageLarge} {
		if t.Local[size] <= 0 {
			return fmt.Errorf("pricing: missing local price for %s", size)
		}
		if _, ok := t.PerKm[size]; !ok {
			return fmt.Errorf("pricing: missing per_km rate for %s", size)
		}
	}
	for _, speed := range []domain.SpeedCategory{domain.SpeedExpress, domain.SpeedToday, domain.SpeedTomorrow, domain.SpeedTwoDays} {
		if t.SpeedMultiplier[speed] <= 0 {
			return fmt.Errorf("pricing: missing speed multiplier for %s", speed)
		}
	}
	return nil
}

// Quote prices a job between two locations.
func (t *Table) Quote(pickup, dropoff domain.Location, size domain.PackageSize, speed domain.SpeedCategory, returning bool) (Quote, error) {
	if !size.Valid() {
		return Quote{}, fmt.Errorf("pricing: unknown package size %q", size)
	}
	if !speed.Valid() {
		return Quote{}, fmt.Errorf("pricing: unknown speed %q", speed)
	}

	intercity := Intercity(pickup, dropoff)
	var fulfiller int
	if intercity {
		km := Distance(pickup, dropoff) / 1000
		raw := (t.Base[size] + t.PerKm[size]*km) * t.SpeedMultiplier[speed]
		fulfiller = int(math.Floor(raw))
	} else {
		fulfiller = t.Local[size]
	}
	if fulfiller < t.Minimum {
		fulfiller = t.Minimum
	}

	fee := t.BaseFee
	if (returning && intercity) || fulfiller > t.DiscountThreshold {
		fee = t.DiscountedFee
	}
	return Quote{
		Requester: int(math.Floor(float64(fulfiller) * (1 + fee))),
		Fulfiller: fulfiller,
	}, nil
}

// Intercity reports whether a job crosses city limits. Unknown cities are
// treated as intercity.
func Intercity(a, b domain.Location) bool {
	if a.City == "" || b.City == "" {
		return true
	}
	return !strings.EqualFold(strings.TrimSpace(a.City), strings.TrimSpace(b.City))
}

const earthRadius = 6371e3

// Distance is the great-circle distance between two locations in metres.
func Distance(a, b domain.Location) float64 {
	phi1 := a.Lat * math.Pi / 180
	phi2 := b.Lat * math.Pi / 180
	dPhi := (b.Lat - a.Lat) * math.Pi / 180
	dLambda := (b.Lng - a.Lng) * math.Pi / 180

	h := math.Sin(dPhi/2)*math.Sin(dPhi/2) +
		math.Cos(phi1)*math.Cos(phi2)*math.Sin(dLambda/2)*math.Sin(dLambda/2)
	return earthRadius * 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
}
