// Package finance derives the read-only finance ledger from inventory
// and sales state. The ledger is rebuilt wholesale on every run and is
// never authoritative on its own.
package finance

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"lotledger/backend/internal/domain"
	"lotledger/backend/internal/pricing"
	"lotledger/backend/internal/store"
)

const (
	// CardFeeRate is the surcharge on Credit deals, percent of sale price.
	CardFeeRate = 3.0
	// DefaultTaxRate is the sales tax applied once a deal closes.
	DefaultTaxRate = 6.0
)

type Engine struct {
	repo    store.Repository
	taxRate decimal.Decimal
	now     func() time.Time
}

func NewEngine(repo store.Repository, taxRatePercent float64, now func() time.Time) *Engine {
	if now == nil {
		now = time.Now
	}
	if taxRatePercent <= 0 {
		taxRatePercent = DefaultTaxRate
	}
	return &Engine{repo: repo, taxRate: decimal.NewFromFloat(taxRatePercent), now: now}
}

// MonthsPaidSince counts loan installments due between saleDate and
// today, assuming payments fall due on the 10th of each month. Capped
// at termMonths.
func MonthsPaidSince(saleDate, today time.Time, termMonths int) int {
	if termMonths <= 0 {
		return 0
	}
	sy, sm, sd := saleDate.Date()
	if saleDate.After(today) {
		return 0
	}

	firstDue := time.Date(sy, sm, 10, 0, 0, 0, 0, time.UTC)
	if sd > 10 {
		firstDue = firstDue.AddDate(0, 1, 0)
	}
	if today.Before(firstDue) {
		return 0
	}

	ty, tm, td := today.Date()
	months := (ty-firstDue.Year())*12 + int(tm-firstDue.Month())
	if td >= 10 {
		months++
	}
	if months < 0 {
		months = 0
	}
	if months > termMonths {
		return termMonths
	}
	return months
}

// RunSnapshot rebuilds the full finance ledger: one row per sale plus a
// partial row for every unsold car with no sale. The replace is atomic
// and the output is deterministic for a given store state and date.
func (e *Engine) RunSnapshot(ctx context.Context) (*domain.SnapshotResult, error) {
	sales, err := e.repo.ListSales(ctx, "")
	if err != nil {
		return nil, err
	}
	cars, err := e.repo.ListCars(ctx, domain.InventoryFilter{})
	if err != nil {
		return nil, err
	}

	sort.Slice(sales, func(i, j int) bool { return sales[i].ID < sales[j].ID })
	sort.Slice(cars, func(i, j int) bool { return cars[i].VIN < cars[j].VIN })

	carsByVIN := make(map[string]domain.Car, len(cars))
	for _, c := range cars {
		carsByVIN[c.VIN] = c
	}

	runID := uuid.NewString()
	now := e.now()
	today := now.UTC().Truncate(24 * time.Hour)

	records := make([]domain.FinanceRecord, 0, len(sales)+len(cars))
	seq := 0
	saleVINs := make(map[string]bool, len(sales))

	for _, s := range sales {
		seq++
		saleVINs[s.VIN] = true
		cost := decimal.Zero
		if car, ok := carsByVIN[s.VIN]; ok {
			cost = car.Cost
		}
		rec := e.buildSaleRow(s, cost, today)
		rec.ID = fmt.Sprintf("F%06d", seq)
		rec.SnapshotRunID = runID
		rec.CreatedAt = now
		records = append(records, rec)
	}

	invRows := 0
	for _, c := range cars {
		if c.Status == domain.CarStatusSold || saleVINs[c.VIN] {
			continue
		}
		seq++
		invRows++
		records = append(records, domain.FinanceRecord{
			ID:            fmt.Sprintf("I%06d", seq),
			VIN:           c.VIN,
			Status:        c.Status,
			Cost:          c.Cost,
			SalePrice:     c.SalePrice,
			SnapshotRunID: runID,
			CreatedAt:     now,
		})
	}

	if err := e.repo.ReplaceFinanceRecords(ctx, runID, records); err != nil {
		return nil, err
	}
	return &domain.SnapshotResult{
		RunID:         runID,
		SaleRows:      len(sales),
		InventoryRows: invRows,
		GeneratedAt:   now,
	}, nil
}

func (e *Engine) buildSaleRow(s domain.Sale, cost decimal.Decimal, today time.Time) domain.FinanceRecord {
	rec := domain.FinanceRecord{
		VIN:            s.VIN,
		SaleID:         s.ID,
		CustomerName:   s.CustomerName,
		Status:         s.Status,
		PaymentMethod:  s.PaymentMethod,
		Cost:           cost,
		SalePrice:      s.SalePrice,
		Deposit:        s.Deposit,
		TermMonths:     s.TermMonths,
		InterestRate:   s.InterestRate,
		MonthlyPayment: s.MonthlyPayment,
	}

	if s.PaymentMethod == domain.PaymentCredit {
		rec.CardFee = pricing.RoundMoney(s.SalePrice.Mul(decimal.NewFromFloat(CardFeeRate)).Div(hundred))
	}
	if s.Status == domain.SaleStatusSold {
		rec.Tax = pricing.RoundMoney(s.SalePrice.Mul(e.taxRate).Div(hundred))
	}
	rec.FinalSalePrice = pricing.RoundMoney(s.SalePrice.Add(rec.CardFee).Add(rec.Tax))

	if s.Status != domain.SaleStatusSold {
		return rec
	}

	saleDate := s.UpdatedAt
	if s.SoldAt != nil {
		saleDate = *s.SoldAt
	}
	sd := saleDate.UTC().Truncate(24 * time.Hour)
	rec.SaleDate = &sd

	switch s.PaymentMethod {
	case domain.PaymentLoan:
		if s.TermMonths != nil && s.MonthlyPayment != nil {
			rec.MonthsPaid = MonthsPaidSince(sd, today, *s.TermMonths)
			paid := s.Deposit.Add(s.MonthlyPayment.Mul(decimal.NewFromInt(int64(rec.MonthsPaid))))
			if paid.GreaterThan(rec.FinalSalePrice) {
				paid = rec.FinalSalePrice
			}
			rec.AmountPaid = pricing.RoundMoney(paid)
		}
	default:
		rec.AmountPaid = rec.FinalSalePrice
	}
	rec.Remaining = pricing.RoundMoney(rec.FinalSalePrice.Sub(rec.AmountPaid))
	rec.NetProfit = pricing.RoundMoney(rec.FinalSalePrice.Sub(cost).Sub(rec.CardFee))
	rec.ProfitNow = pricing.RoundMoney(rec.AmountPaid.Sub(cost))
	return rec
}

var hundred = decimal.NewFromInt(100)

// Summary aggregates the live inventory and the current ledger rows.
func (e *Engine) Summary(ctx context.Context) (*domain.FinanceSummary, error) {
	cars, err := e.repo.ListCars(ctx, domain.InventoryFilter{})
	if err != nil {
		return nil, err
	}
	rows, err := e.repo.ListFinanceRecords(ctx)
	if err != nil {
		return nil, err
	}

	sum := &domain.FinanceSummary{GeneratedAt: e.now()}
	for _, c := range cars {
		if c.Status == domain.CarStatusSold {
			continue
		}
		sum.TotalAssets = sum.TotalAssets.Add(c.Cost)
		sum.ProjectedSale = sum.ProjectedSale.Add(c.SalePrice)
	}
	sum.ProjectedProfit = sum.ProjectedSale.Sub(sum.TotalAssets)

	for _, r := range rows {
		if r.Status == domain.SaleStatusSold {
			sum.TotalFinalSold = sum.TotalFinalSold.Add(r.FinalSalePrice)
			sum.TotalTax = sum.TotalTax.Add(r.Tax)
		}
		sum.TotalAvailableFunds = sum.TotalAvailableFunds.Add(r.AmountPaid)
		sum.TotalProfitNow = sum.TotalProfitNow.Add(r.ProfitNow)
	}

	sum.TotalAssets = pricing.RoundMoney(sum.TotalAssets)
	sum.ProjectedSale = pricing.RoundMoney(sum.ProjectedSale)
	sum.ProjectedProfit = pricing.RoundMoney(sum.ProjectedProfit)
	sum.TotalFinalSold = pricing.RoundMoney(sum.TotalFinalSold)
	sum.TotalTax = pricing.RoundMoney(sum.TotalTax)
	sum.TotalAvailableFunds = pricing.RoundMoney(sum.TotalAvailableFunds)
	sum.TotalProfitNow = pricing.RoundMoney(sum.TotalProfitNow)
	return sum, nil
}
