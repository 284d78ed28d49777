// Package pricing holds the price-authorization rules shared by the
// promotion and sales paths, plus loan rate and amortization math.
package pricing

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"lotledger/backend/internal/domain"
	"lotledger/backend/internal/store"
)

var (
	ErrOutOfBounds     = errors.New("price out of bounds")
	ErrProfitViolation = errors.New("profit margin violation")
	ErrLimitExceeded   = errors.New("price update limit exceeded")
)

const (
	// MarginFloor applies to PR updates, buyer intake and rep sale prices.
	MarginFloor = 0.20
	// AdminMarginFloor is the relaxed floor for privileged roles.
	AdminMarginFloor = 0.05
	// MaxSwingPercent bounds a single price move for non-privileged roles.
	MaxSwingPercent = 10.0
	// PRUpdateLimit is the lifetime cap on PR-channel edits per VIN.
	PRUpdateLimit = 2
)

var hundred = decimal.NewFromInt(100)

// RoundMoney applies the engine's half-even 2dp money policy.
func RoundMoney(d decimal.Decimal) decimal.Decimal {
	return d.RoundBank(2)
}

// Margin returns (price - cost) / price rounded half-even to 2dp.
// Rounding happens before comparison so that boundary values do not
// flap on representation noise.
func Margin(price, cost decimal.Decimal) decimal.Decimal {
	if price.IsZero() {
		return decimal.Zero
	}
	return price.Sub(cost).Div(price).RoundBank(2)
}

// MarginFloorFor returns the floor the actor's role must clear.
func MarginFloorFor(actor domain.Actor) decimal.Decimal {
	if actor.Privileged() {
		return decimal.NewFromFloat(AdminMarginFloor)
	}
	return decimal.NewFromFloat(MarginFloor)
}

// ResolvePRPrice resolves a promotion-channel price change against the
// current car record and returns the new rounded price. It enforces the
// exactly-one-input rule, the percent band, the lifetime update limit
// and the margin floor. Privileged actors skip the band and the limit
// and get the relaxed floor.
func ResolvePRPrice(car *domain.Car, req domain.PriceUpdateRequest, actor domain.Actor) (decimal.Decimal, error) {
	supplied := 0
	if req.SalePrice != nil {
		supplied++
	}
	if req.DiscountPercent != nil {
		supplied++
	}
	if req.RaisePercent != nil {
		supplied++
	}
	if supplied != 1 {
		return decimal.Zero, fmt.Errorf("%w: exactly one of sale_price, discount_percent, raise_percent required", store.ErrValidation)
	}

	privileged := actor.Privileged()
	if !privileged && car.PRUpdateCount >= PRUpdateLimit {
		return decimal.Zero, fmt.Errorf("%w: vin %s already updated %d times", ErrLimitExceeded, car.VIN, car.PRUpdateCount)
	}

	var newPrice decimal.Decimal
	switch {
	case req.SalePrice != nil:
		newPrice = *req.SalePrice
		if newPrice.LessThanOrEqual(decimal.Zero) {
			return decimal.Zero, fmt.Errorf("%w: sale_price must be positive", store.ErrValidation)
		}
		if !privileged {
			if err := CheckSwing(car.SalePrice, newPrice); err != nil {
				return decimal.Zero, err
			}
		}
	case req.DiscountPercent != nil:
		pct, err := checkPercent(*req.DiscountPercent, privileged)
		if err != nil {
			return decimal.Zero, err
		}
		newPrice = car.SalePrice.Mul(decimal.NewFromInt(1).Sub(pct.Div(hundred)))
	default:
		pct, err := checkPercent(*req.RaisePercent, privileged)
		if err != nil {
			return decimal.Zero, err
		}
		newPrice = car.SalePrice.Mul(decimal.NewFromInt(1).Add(pct.Div(hundred)))
	}

	newPrice = RoundMoney(newPrice)
	floor := MarginFloorFor(actor)
	if Margin(newPrice, car.Cost).LessThan(floor) {
		return decimal.Zero, fmt.Errorf("%w: margin below %s", ErrProfitViolation, floor.String())
	}
	return newPrice, nil
}

func checkPercent(pct float64, privileged bool) (decimal.Decimal, error) {
	if pct <= 0 {
		return decimal.Zero, fmt.Errorf("%w: percent must be positive", store.ErrValidation)
	}
	if !privileged && pct > MaxSwingPercent {
		return decimal.Zero, fmt.Errorf("%w: percent above %.0f", ErrOutOfBounds, MaxSwingPercent)
	}
	return decimal.NewFromFloat(pct), nil
}

// CheckSwing rejects a proposed price further than MaxSwingPercent from
// the reference price.
func CheckSwing(reference, proposed decimal.Decimal) error {
	if reference.IsZero() {
		return nil
	}
	swing := proposed.Sub(reference).Abs().Div(reference).Mul(hundred)
	if swing.GreaterThan(decimal.NewFromFloat(MaxSwingPercent)) {
		return fmt.Errorf("%w: %s is more than %.0f%% from listed price %s",
			ErrOutOfBounds, proposed.StringFixed(2), MaxSwingPercent, reference.StringFixed(2))
	}
	return nil
}

// ValidateSalePrice runs the sales-rep channel checks: the proposed
// price must sit within the swing band of the listed price and clear
// the margin floor against the inventory cost. Privileged actors skip
// the band and use the relaxed floor. It never touches PRUpdateCount.
func ValidateSalePrice(car *domain.Car, proposed decimal.Decimal, actor domain.Actor) error {
	if proposed.LessThanOrEqual(decimal.Zero) {
		return fmt.Errorf("%w: sale_price must be positive", store.ErrValidation)
	}
	if !actor.Privileged() {
		if err := CheckSwing(car.SalePrice, proposed); err != nil {
			return err
		}
	}
	floor := MarginFloorFor(actor)
	if Margin(RoundMoney(proposed), car.Cost).LessThan(floor) {
		return fmt.Errorf("%w: margin below %s", ErrProfitViolation, floor.String())
	}
	return nil
}

// MonthlyPayment computes the standard amortization payment for a loan
// principal of salePrice - deposit at the given annual percentage rate
// over termMonths. A zero rate degenerates to straight division.
func MonthlyPayment(salePrice, deposit, annualRatePct decimal.Decimal, termMonths int) (decimal.Decimal, error) {
	if termMonths <= 0 {
		return decimal.Zero, fmt.Errorf("%w: term_months must be positive", store.ErrValidation)
	}
	principal := salePrice.Sub(deposit)
	if principal.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero, nil
	}
	if annualRatePct.IsZero() {
		return RoundMoney(principal.Div(decimal.NewFromInt(termMonths64(termMonths)))), nil
	}
	// P = (r * L) / (1 - (1+r)^-n) with r the monthly rate. decimal has
	// no fractional Pow, so the (1+r)^n factor runs through float64; the
	// magnitudes involved keep this well inside float64 precision.
	r, _ := annualRatePct.Div(hundred).Div(decimal.NewFromInt(12)).Float64()
	l, _ := principal.Float64()
	factor := pow1p(r, termMonths)
	p := (r * l * factor) / (factor - 1)
	return RoundMoney(decimal.NewFromFloat(p)), nil
}

func termMonths64(n int) int64 { return int64(n) }

func pow1p(r float64, n int) float64 {
	f := 1.0
	base := 1 + r
	for i := 0; i < n; i++ {
		f *= base
	}
	return f
}
