// Package solar computes sunrise and sunset instants for the daylight
// annotation.
package solar

import (
	"context"
	"errors"
	"fmt"

	"github.com/couchcryptid/station-data-etl/internal/domain"
	sunrise "github.com/nathan-osman/go-sunrise"
)

// ErrNoSunEvent is returned for polar day or polar night, when the sun does
// not cross the horizon on the requested date.
var ErrNoSunEvent = errors.New("sun does not rise or set on this date")

// Calculator implements domain.SunCalculator on top of go-sunrise.
type Calculator struct{}

// NewCalculator creates a Calculator.
func NewCalculator() *Calculator {
	return &Calculator{}
}

func (c *Calculator) SunriseSunset(ctx context.Context, lat, lon float64, date domain.Date) (domain.SunTimes, error) {
	if err := ctx.Err(); err != nil {
		return domain.SunTimes{}, err
	}
	mid := date.Midnight()
	rise, set := sunrise.SunriseSunset(lat, lon, mid.Year(), mid.Month(), mid.Day())
	if rise.IsZero() || set.IsZero() {
		return domain.SunTimes{}, fmt.Errorf("%s at (%.4f, %.4f): %w", date, lat, lon, ErrNoSunEvent)
	}
	return domain.SunTimes{Sunrise: rise.UTC(), Sunset: set.UTC()}, nil
}
