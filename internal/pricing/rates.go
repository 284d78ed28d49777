package pricing

import (
	"fmt"
	"math/rand"

	"github.com/shopspring/decimal"

	"lotledger/backend/internal/domain"
	"lotledger/backend/internal/store"
)

// RateSource supplies an annual interest rate (percent) for a credit
// score band. Injected so tests can pin the draw.
type RateSource interface {
	RateFor(band string) (decimal.Decimal, error)
}

type rateBracket struct {
	low, high float64
}

var rateBrackets = map[string]rateBracket{
	domain.CreditBandExcellent: {0.0, 0.9},
	domain.CreditBandVeryGood:  {1.0, 2.0},
	domain.CreditBandGood:      {2.0, 5.0},
	domain.CreditBandAverage:   {5.0, 7.0},
	domain.CreditBandPoor:      {7.0, 10.0},
}

// RandomRateSource draws uniformly from the band's bracket, rounded to
// two decimals. Safe for concurrent use.
type RandomRateSource struct{}

func (RandomRateSource) RateFor(band string) (decimal.Decimal, error) {
	b, ok := rateBrackets[band]
	if !ok {
		return decimal.Zero, fmt.Errorf("%w: unknown credit score band %q", store.ErrValidation, band)
	}
	r := b.low + rand.Float64()*(b.high-b.low)
	return decimal.NewFromFloat(r).Round(2), nil
}

// FixedRateSource always returns the midpoint of the band's bracket.
// Used in tests and anywhere a deterministic quote is needed.
type FixedRateSource struct{}

func (FixedRateSource) RateFor(band string) (decimal.Decimal, error) {
	b, ok := rateBrackets[band]
	if !ok {
		return decimal.Zero, fmt.Errorf("%w: unknown credit score band %q", store.ErrValidation, band)
	}
	return decimal.NewFromFloat((b.low + b.high) / 2).Round(2), nil
}
