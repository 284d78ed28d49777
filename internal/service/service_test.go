package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"lotledger/backend/internal/cache"
	"lotledger/backend/internal/domain"
	"lotledger/backend/internal/finance"
	"lotledger/backend/internal/pricing"
	"lotledger/backend/internal/store"
	"lotledger/backend/internal/store/memory"
)

func newTestService() (*Service, *memory.Store) {
	repo := memory.NewSeeded()
	fin := finance.NewEngine(repo, 6, nil)
	svc := New(repo, pricing.FixedRateSource{}, fin, cache.NoopSummaryCache{}, time.Minute, 72*time.Hour)
	return svc, repo
}

func adminCtx() context.Context {
	return WithActor(context.Background(), domain.Actor{Username: "admin", Role: domain.RoleAdmin, Location: "HQ"})
}

func actorCtx(username, role, location string) context.Context {
	return WithActor(context.Background(), domain.Actor{Username: username, Role: role, Location: location})
}

func seedCar(t *testing.T, svc *Service, vin, price, cost string) {
	t.Helper()
	_, err := svc.CreateCar(adminCtx(), domain.CarCreateRequest{
		VIN:       vin,
		Make:      "Honda",
		Model:     "Civic",
		Year:      2021,
		Mileage:   30000,
		Condition: domain.ConditionGood,
		Cost:      decimal.RequireFromString(cost),
		SalePrice: decimal.RequireFromString(price),
		Location:  "Denver",
	})
	if err != nil {
		t.Fatalf("seed car %s: %v", vin, err)
	}
}

func intPtr(v int) *int { return &v }

func floatPtr(v float64) *float64 { return &v }

func decPtr(s string) *decimal.Decimal {
	d := decimal.RequireFromString(s)
	return &d
}

// ---------- Inventory ----------

func TestCreateCarRejectsOldAndWorn(t *testing.T) {
	svc, _ := newTestService()

	_, err := svc.CreateCar(adminCtx(), domain.CarCreateRequest{
		VIN: "OLDCAR00000000001", Make: "Ford", Model: "Taurus", Year: 1995, Mileage: 90000,
		Condition: domain.ConditionGood, Cost: decimal.NewFromInt(2000), SalePrice: decimal.NewFromInt(4000), Location: "Denver",
	})
	if !errors.Is(err, store.ErrValidation) {
		t.Fatalf("age: err = %v, want ErrValidation", err)
	}

	_, err = svc.CreateCar(adminCtx(), domain.CarCreateRequest{
		VIN: "WORNCAR0000000001", Make: "Ford", Model: "Taurus", Year: 2020, Mileage: 150000,
		Condition: domain.ConditionGood, Cost: decimal.NewFromInt(2000), SalePrice: decimal.NewFromInt(4000), Location: "Denver",
	})
	if !errors.Is(err, store.ErrValidation) {
		t.Fatalf("mileage: err = %v, want ErrValidation", err)
	}
}

func TestCreateCarDamagedGoesStraightToService(t *testing.T) {
	svc, repo := newTestService()

	car, err := svc.CreateCar(adminCtx(), domain.CarCreateRequest{
		VIN: "DMGCAR00000000001", Make: "Mazda", Model: "3", Year: 2019, Mileage: 50000,
		Condition: domain.ConditionDamaged, Cost: decimal.NewFromInt(5000), SalePrice: decimal.NewFromInt(9000), Location: "Denver",
	})
	if err != nil {
		t.Fatalf("create damaged car: %v", err)
	}
	if car.Status != domain.CarStatusInService {
		t.Fatalf("status = %s, want In Service", car.Status)
	}

	records, err := repo.ListServiceRecords(context.Background(), car.VIN, true)
	if err != nil || len(records) != 1 {
		t.Fatalf("service records = %d (%v), want 1 open record", len(records), err)
	}
	rec := records[0]
	if rec.Seriousness != domain.SeriousnessHigh || rec.EstimatedDays != 3 || !rec.CostAdded.Equal(decimal.NewFromInt(2000)) {
		t.Fatalf("intake service defaults wrong: %+v", rec)
	}
}

func TestCreateCarBuyerRepFloorAndLocation(t *testing.T) {
	svc, _ := newTestService()
	ctx := actorCtx("buyer_rep_A", domain.RoleBuyerRep, "Denver")

	// 15% margin is under the rep floor.
	_, err := svc.CreateCar(ctx, domain.CarCreateRequest{
		VIN: "THINMARGIN0000001", Make: "Kia", Model: "Rio", Year: 2020, Mileage: 40000,
		Condition: domain.ConditionGood, Cost: decimal.NewFromInt(8500), SalePrice: decimal.NewFromInt(10000), Location: "Rockville",
	})
	if !errors.Is(err, pricing.ErrProfitViolation) {
		t.Fatalf("err = %v, want ErrProfitViolation", err)
	}

	car, err := svc.CreateCar(ctx, domain.CarCreateRequest{
		VIN: "REPCAR00000000001", Make: "Kia", Model: "Rio", Year: 2020, Mileage: 40000,
		Condition: domain.ConditionGood, Cost: decimal.NewFromInt(7500), SalePrice: decimal.NewFromInt(10000), Location: "Rockville",
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if car.Location != "Denver" {
		t.Fatalf("location = %s, want forced to rep location Denver", car.Location)
	}
}

func TestBulkImportCollectsRowErrors(t *testing.T) {
	svc, _ := newTestService()

	resp, err := svc.BulkImportCars(adminCtx(), domain.BulkImportRequest{Cars: []domain.CarCreateRequest{
		{VIN: "BULKOK00000000001", Make: "Honda", Model: "Fit", Year: 2019, Mileage: 52000, Condition: domain.ConditionGood, Cost: decimal.NewFromInt(6000), SalePrice: decimal.NewFromInt(9000), Location: "Denver"},
		{VIN: "BULKBAD0000000001", Make: "Honda", Model: "Fit", Year: 1980, Mileage: 52000, Condition: domain.ConditionGood, Cost: decimal.NewFromInt(6000), SalePrice: decimal.NewFromInt(9000), Location: "Denver"},
		{VIN: "BULKOK00000000002", Make: "Honda", Model: "Fit", Year: 2020, Mileage: 41000, Condition: domain.ConditionGood, Cost: decimal.NewFromInt(6500), SalePrice: decimal.NewFromInt(9500), Location: "Denver"},
	}})
	if err != nil {
		t.Fatalf("bulk import: %v", err)
	}
	if resp.Imported != 2 {
		t.Fatalf("imported = %d, want 2", resp.Imported)
	}
	if len(resp.Errors) != 1 || resp.Errors[0].Row != 1 {
		t.Fatalf("errors = %+v, want one error on row 1", resp.Errors)
	}
}

// ---------- Price authorization ----------

func TestUpdatePriceRaiseScenario(t *testing.T) {
	svc, _ := newTestService()
	seedCar(t, svc, "PRICECAR000000001", "10000", "8000")
	ctx := actorCtx("pr_user_A", domain.RolePR, "Denver")

	resp, err := svc.UpdatePrice(ctx, domain.PriceUpdateRequest{VIN: "PRICECAR000000001", RaisePercent: floatPtr(5)})
	if err != nil {
		t.Fatalf("raise 5%%: %v", err)
	}
	if !resp.NewPrice.Equal(decimal.NewFromInt(10500)) {
		t.Fatalf("new price = %s, want 10500", resp.NewPrice)
	}
	if resp.PRUpdateCount != 1 {
		t.Fatalf("pr_update_count = %d, want 1", resp.PRUpdateCount)
	}

	if _, err := svc.UpdatePrice(ctx, domain.PriceUpdateRequest{VIN: "PRICECAR000000001", RaisePercent: floatPtr(2)}); err != nil {
		t.Fatalf("second update: %v", err)
	}
	_, err = svc.UpdatePrice(ctx, domain.PriceUpdateRequest{VIN: "PRICECAR000000001", RaisePercent: floatPtr(1)})
	if !errors.Is(err, pricing.ErrLimitExceeded) {
		t.Fatalf("third update: err = %v, want ErrLimitExceeded", err)
	}
}

func TestUpdatePriceLocationAndStatusGuards(t *testing.T) {
	svc, _ := newTestService()
	seedCar(t, svc, "GUARDCAR000000001", "10000", "7000")

	_, err := svc.UpdatePrice(actorCtx("pr_user_B", domain.RolePR, "Rockville"), domain.PriceUpdateRequest{VIN: "GUARDCAR000000001", RaisePercent: floatPtr(3)})
	if !errors.Is(err, ErrForbidden) {
		t.Fatalf("wrong location: err = %v, want ErrForbidden", err)
	}

	// Move the car into the sales pipeline, then PR edits must conflict.
	repCtx := actorCtx("sales_rep_A", domain.RoleSalesRep, "Denver")
	if _, err := svc.CreateOrUpdateSale(repCtx, domain.SaleRequest{
		VIN: "GUARDCAR000000001", CustomerName: "Dana Lee", SalePrice: decimal.NewFromInt(10000),
		PaymentMethod: domain.PaymentCash, Status: domain.SaleStatusUnderWriting,
	}); err != nil {
		t.Fatalf("start sale: %v", err)
	}
	_, err = svc.UpdatePrice(actorCtx("pr_user_A", domain.RolePR, "Denver"), domain.PriceUpdateRequest{VIN: "GUARDCAR000000001", RaisePercent: floatPtr(3)})
	if !errors.Is(err, store.ErrConflict) {
		t.Fatalf("pipelined car: err = %v, want ErrConflict", err)
	}
}

func TestUpdatePriceWritesHistory(t *testing.T) {
	svc, _ := newTestService()
	seedCar(t, svc, "HISTCAR0000000001", "10000", "7000")
	ctx := actorCtx("pr_user_A", domain.RolePR, "Denver")

	if _, err := svc.UpdatePrice(ctx, domain.PriceUpdateRequest{VIN: "HISTCAR0000000001", DiscountPercent: floatPtr(5)}); err != nil {
		t.Fatalf("discount: %v", err)
	}

	history, err := svc.PriceHistory(ctx, "HISTCAR0000000001", 10)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 1 {
		t.Fatalf("history entries = %d, want 1", len(history))
	}
	if !history[0].OldPrice.Equal(decimal.NewFromInt(10000)) || !history[0].NewPrice.Equal(decimal.NewFromInt(9500)) {
		t.Fatalf("history row = %+v", history[0])
	}
}

// ---------- Sales ----------

func TestCreateOrUpdateSaleIdempotentPerVIN(t *testing.T) {
	svc, _ := newTestService()
	seedCar(t, svc, "SALECAR0000000001", "10000", "7000")
	ctx := actorCtx("sales_rep_A", domain.RoleSalesRep, "Denver")

	req := domain.SaleRequest{
		VIN: "SALECAR0000000001", CustomerName: "Riley Fox", SalePrice: decimal.NewFromInt(9800),
		PaymentMethod: domain.PaymentCash, Status: domain.SaleStatusUnderWriting,
	}
	first, err := svc.CreateOrUpdateSale(ctx, req)
	if err != nil {
		t.Fatalf("first call: %v", err)
	}
	second, err := svc.CreateOrUpdateSale(ctx, req)
	if err != nil {
		t.Fatalf("second call: %v", err)
	}
	if first.ID != second.ID {
		t.Fatalf("sale ids differ: %s vs %s", first.ID, second.ID)
	}

	sales, err := svc.ListSales(adminCtx())
	if err != nil {
		t.Fatalf("list sales: %v", err)
	}
	if len(sales) != 1 {
		t.Fatalf("sales = %d, want 1", len(sales))
	}
}

func TestSaleStatusMirroredOntoInventory(t *testing.T) {
	svc, _ := newTestService()
	seedCar(t, svc, "MIRRORCAR00000001", "10000", "7000")
	ctx := actorCtx("sales_rep_A", domain.RoleSalesRep, "Denver")

	steps := []string{domain.SaleStatusUnderWriting, domain.SaleStatusUnderContract, domain.SaleStatusSold}
	for _, status := range steps {
		req := domain.SaleRequest{
			VIN: "MIRRORCAR00000001", CustomerName: "Sam Hill", SalePrice: decimal.NewFromInt(10000),
			PaymentMethod: domain.PaymentLoan, Status: status, CreditScoreBand: domain.CreditBandGood,
			Deposit: decPtr("1000"), TermMonths: intPtr(36),
		}
		if _, err := svc.CreateOrUpdateSale(ctx, req); err != nil {
			t.Fatalf("to %s: %v", status, err)
		}
		car, err := svc.GetCar(adminCtx(), "MIRRORCAR00000001")
		if err != nil {
			t.Fatalf("get car: %v", err)
		}
		if car.Status != status {
			t.Fatalf("car status = %s, want %s", car.Status, status)
		}
	}

	// Terminal: any further call conflicts.
	_, err := svc.CreateOrUpdateSale(ctx, domain.SaleRequest{
		VIN: "MIRRORCAR00000001", SalePrice: decimal.NewFromInt(10000),
		PaymentMethod: domain.PaymentCash, Status: domain.SaleStatusSold,
	})
	if !errors.Is(err, store.ErrConflict) {
		t.Fatalf("after sold: err = %v, want ErrConflict", err)
	}
}

func TestSaleRejectsBackwardTransition(t *testing.T) {
	svc, _ := newTestService()
	seedCar(t, svc, "BACKCAR0000000001", "10000", "7000")
	ctx := actorCtx("sales_rep_A", domain.RoleSalesRep, "Denver")

	base := domain.SaleRequest{
		VIN: "BACKCAR0000000001", CustomerName: "Lee Park", SalePrice: decimal.NewFromInt(10000),
		PaymentMethod: domain.PaymentCash,
	}
	base.Status = domain.SaleStatusUnderContract
	if _, err := svc.CreateOrUpdateSale(ctx, base); err != nil {
		t.Fatalf("to under contract: %v", err)
	}
	base.Status = domain.SaleStatusUnderWriting
	if _, err := svc.CreateOrUpdateSale(ctx, base); !errors.Is(err, store.ErrConflict) {
		t.Fatalf("backward: err = %v, want ErrConflict", err)
	}
}

func TestSaleLoanRules(t *testing.T) {
	svc, _ := newTestService()
	seedCar(t, svc, "LOANCAR0000000001", "20000", "14000")
	ctx := actorCtx("sales_rep_A", domain.RoleSalesRep, "Denver")

	// Band is mandatory for Loan.
	_, err := svc.CreateOrUpdateSale(ctx, domain.SaleRequest{
		VIN: "LOANCAR0000000001", SalePrice: decimal.NewFromInt(20000),
		PaymentMethod: domain.PaymentLoan, Status: domain.SaleStatusUnderWriting,
	})
	if !errors.Is(err, store.ErrValidation) {
		t.Fatalf("missing band: err = %v, want ErrValidation", err)
	}

	// Deposit below 5% rejected.
	_, err = svc.CreateOrUpdateSale(ctx, domain.SaleRequest{
		VIN: "LOANCAR0000000001", SalePrice: decimal.NewFromInt(20000),
		PaymentMethod: domain.PaymentLoan, Status: domain.SaleStatusUnderContract,
		CreditScoreBand: domain.CreditBandGood, Deposit: decPtr("500"), TermMonths: intPtr(36),
	})
	if !errors.Is(err, store.ErrValidation) {
		t.Fatalf("thin deposit: err = %v, want ErrValidation", err)
	}

	// Term outside 12..48 rejected.
	_, err = svc.CreateOrUpdateSale(ctx, domain.SaleRequest{
		VIN: "LOANCAR0000000001", SalePrice: decimal.NewFromInt(20000),
		PaymentMethod: domain.PaymentLoan, Status: domain.SaleStatusUnderContract,
		CreditScoreBand: domain.CreditBandGood, Deposit: decPtr("2000"), TermMonths: intPtr(60),
	})
	if !errors.Is(err, store.ErrValidation) {
		t.Fatalf("long term: err = %v, want ErrValidation", err)
	}

	// Valid deal draws a rate from the band bracket and derives the payment.
	sale, err := svc.CreateOrUpdateSale(ctx, domain.SaleRequest{
		VIN: "LOANCAR0000000001", CustomerName: "Ana Cruz", SalePrice: decimal.NewFromInt(20000),
		PaymentMethod: domain.PaymentLoan, Status: domain.SaleStatusUnderContract,
		CreditScoreBand: domain.CreditBandGood, Deposit: decPtr("2000"), TermMonths: intPtr(36),
	})
	if err != nil {
		t.Fatalf("valid loan: %v", err)
	}
	if sale.InterestRate == nil || !sale.InterestRate.Equal(decimal.RequireFromString("3.5")) {
		t.Fatalf("interest rate = %v, want fixed midpoint 3.5", sale.InterestRate)
	}
	if sale.MonthlyPayment == nil {
		t.Fatal("monthly payment not derived")
	}

	// The drawn rate persists across updates.
	next, err := svc.CreateOrUpdateSale(ctx, domain.SaleRequest{
		VIN: "LOANCAR0000000001", SalePrice: decimal.NewFromInt(20000),
		PaymentMethod: domain.PaymentLoan, Status: domain.SaleStatusSold,
		CreditScoreBand: domain.CreditBandGood, Deposit: decPtr("2000"), TermMonths: intPtr(36),
	})
	if err != nil {
		t.Fatalf("to sold: %v", err)
	}
	if next.InterestRate == nil || !next.InterestRate.Equal(*sale.InterestRate) {
		t.Fatalf("rate re-drawn: %v vs %v", next.InterestRate, sale.InterestRate)
	}
}

func TestSaleCashClearsLoanFields(t *testing.T) {
	svc, _ := newTestService()
	seedCar(t, svc, "CASHCAR0000000001", "10000", "7000")
	ctx := actorCtx("sales_rep_A", domain.RoleSalesRep, "Denver")

	sale, err := svc.CreateOrUpdateSale(ctx, domain.SaleRequest{
		VIN: "CASHCAR0000000001", CustomerName: "Max Dorn", SalePrice: decimal.NewFromInt(10000),
		PaymentMethod: domain.PaymentCash, Status: domain.SaleStatusSold,
		CreditScoreBand: domain.CreditBandGood, Deposit: decPtr("2000"), TermMonths: intPtr(24),
	})
	if err != nil {
		t.Fatalf("cash sale: %v", err)
	}
	if sale.TermMonths != nil || sale.InterestRate != nil || sale.MonthlyPayment != nil || sale.CreditScoreBand != "" || !sale.Deposit.IsZero() {
		t.Fatalf("loan fields not cleared: %+v", sale)
	}
}

func TestSalePriceBandAgainstListedPrice(t *testing.T) {
	svc, _ := newTestService()
	seedCar(t, svc, "BANDCAR0000000001", "10000", "7000")
	ctx := actorCtx("sales_rep_A", domain.RoleSalesRep, "Denver")

	_, err := svc.CreateOrUpdateSale(ctx, domain.SaleRequest{
		VIN: "BANDCAR0000000001", SalePrice: decimal.NewFromInt(8800),
		PaymentMethod: domain.PaymentCash, Status: domain.SaleStatusUnderWriting,
	})
	if !errors.Is(err, pricing.ErrOutOfBounds) {
		t.Fatalf("err = %v, want ErrOutOfBounds", err)
	}
}

func TestReleaseStaleUnderwriting(t *testing.T) {
	svc, _ := newTestService()
	seedCar(t, svc, "STALECAR000000001", "10000", "7000")
	ctx := actorCtx("sales_rep_A", domain.RoleSalesRep, "Denver")

	if _, err := svc.CreateOrUpdateSale(ctx, domain.SaleRequest{
		VIN: "STALECAR000000001", CustomerName: "Ira Moss", SalePrice: decimal.NewFromInt(10000),
		PaymentMethod: domain.PaymentCash, Status: domain.SaleStatusUnderWriting,
	}); err != nil {
		t.Fatalf("start sale: %v", err)
	}

	// Nothing is stale yet.
	released, err := svc.ReleaseStaleUnderwriting(context.Background())
	if err != nil || released != 0 {
		t.Fatalf("released = %d (%v), want 0", released, err)
	}

	// Jump the clock past the holding window.
	svc.now = func() time.Time { return time.Now().Add(96 * time.Hour) }
	released, err = svc.ReleaseStaleUnderwriting(context.Background())
	if err != nil {
		t.Fatalf("release: %v", err)
	}
	if released != 1 {
		t.Fatalf("released = %d, want 1", released)
	}

	car, err := svc.GetCar(adminCtx(), "STALECAR000000001")
	if err != nil {
		t.Fatalf("get car: %v", err)
	}
	if car.Status != domain.CarStatusAvailable {
		t.Fatalf("car status = %s, want Available", car.Status)
	}
	if sales, _ := svc.ListSales(adminCtx()); len(sales) != 0 {
		t.Fatalf("sales = %d, want 0 after release", len(sales))
	}
}

// ---------- Service transitions ----------

func TestServiceLifecycle(t *testing.T) {
	svc, _ := newTestService()
	seedCar(t, svc, "SVCCAR00000000001", "10000", "7000")
	ctx := actorCtx("service_rep_A", domain.RoleServiceRep, "Denver")

	rec, err := svc.StartService(ctx, domain.ServiceStartRequest{VIN: "SVCCAR00000000001", Seriousness: domain.SeriousnessMedium})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if rec.EstimatedDays != 2 || !rec.CostAdded.Equal(decimal.NewFromInt(1200)) {
		t.Fatalf("medium defaults wrong: days=%d cost=%s", rec.EstimatedDays, rec.CostAdded)
	}

	car, _ := svc.GetCar(adminCtx(), "SVCCAR00000000001")
	if car.Status != domain.CarStatusInService {
		t.Fatalf("car status = %s, want In Service", car.Status)
	}

	// A second entry for the same car conflicts while it is in service.
	if _, err := svc.StartService(ctx, domain.ServiceStartRequest{VIN: "SVCCAR00000000001", Seriousness: domain.SeriousnessLow}); !errors.Is(err, store.ErrConflict) {
		t.Fatalf("double start: err = %v, want ErrConflict", err)
	}

	done, err := svc.CompleteService(ctx, rec.ID)
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if done.Status != domain.ServiceStatusCompleted || done.CompletedAt == nil {
		t.Fatalf("record not closed: %+v", done)
	}

	car, _ = svc.GetCar(adminCtx(), "SVCCAR00000000001")
	if car.Status != domain.CarStatusAvailable {
		t.Fatalf("car status = %s, want Available", car.Status)
	}
	if !car.Cost.Equal(decimal.NewFromInt(8200)) {
		t.Fatalf("cost = %s, want 8200 after repair", car.Cost)
	}

	// Completing again conflicts.
	if _, err := svc.CompleteService(ctx, rec.ID); !errors.Is(err, store.ErrConflict) {
		t.Fatalf("double complete: err = %v, want ErrConflict", err)
	}
}

func TestEditServiceRecostsOnSeriousnessChange(t *testing.T) {
	svc, _ := newTestService()
	seedCar(t, svc, "EDITCAR0000000001", "10000", "7000")
	ctx := actorCtx("service_rep_A", domain.RoleServiceRep, "Denver")

	rec, err := svc.StartService(ctx, domain.ServiceStartRequest{VIN: "EDITCAR0000000001", Seriousness: domain.SeriousnessLow})
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	high := domain.SeriousnessHigh
	updated, err := svc.EditService(ctx, rec.ID, domain.ServiceUpdateRequest{Seriousness: &high})
	if err != nil {
		t.Fatalf("edit: %v", err)
	}
	if !updated.CostAdded.Equal(decimal.NewFromInt(2000)) {
		t.Fatalf("cost = %s, want re-derived 2000", updated.CostAdded)
	}

	// Explicit cost wins over the default.
	updated, err = svc.EditService(ctx, rec.ID, domain.ServiceUpdateRequest{CostAdded: decPtr("1750")})
	if err != nil {
		t.Fatalf("edit cost: %v", err)
	}
	if !updated.CostAdded.Equal(decimal.RequireFromString("1750")) {
		t.Fatalf("cost = %s, want 1750", updated.CostAdded)
	}

	if _, err := svc.CompleteService(ctx, rec.ID); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if _, err := svc.EditService(ctx, rec.ID, domain.ServiceUpdateRequest{Seriousness: &high}); !errors.Is(err, store.ErrConflict) {
		t.Fatalf("edit closed: err = %v, want ErrConflict", err)
	}
}

func TestCompleteDueServices(t *testing.T) {
	svc, _ := newTestService()
	seedCar(t, svc, "DUECAR00000000001", "10000", "7000")
	ctx := actorCtx("service_rep_A", domain.RoleServiceRep, "Denver")

	if _, err := svc.StartService(ctx, domain.ServiceStartRequest{VIN: "DUECAR00000000001", Seriousness: domain.SeriousnessLow}); err != nil {
		t.Fatalf("start: %v", err)
	}

	completed, err := svc.CompleteDueServices(context.Background())
	if err != nil || completed != 0 {
		t.Fatalf("completed = %d (%v), want 0 before due date", completed, err)
	}

	svc.now = func() time.Time { return time.Now().Add(48 * time.Hour) }
	completed, err = svc.CompleteDueServices(context.Background())
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if completed != 1 {
		t.Fatalf("completed = %d, want 1", completed)
	}
	car, _ := svc.GetCar(adminCtx(), "DUECAR00000000001")
	if car.Status != domain.CarStatusAvailable {
		t.Fatalf("car status = %s, want Available", car.Status)
	}
}

// ---------- Finance ----------

func TestRunSnapshotDeterministic(t *testing.T) {
	svc, repo := newTestService()
	seedCar(t, svc, "FINCAR00000000001", "10000", "7000")
	ctx := actorCtx("sales_rep_A", domain.RoleSalesRep, "Denver")

	if _, err := svc.CreateOrUpdateSale(ctx, domain.SaleRequest{
		VIN: "FINCAR00000000001", CustomerName: "Joan Wu", SalePrice: decimal.NewFromInt(10000),
		PaymentMethod: domain.PaymentCredit, Status: domain.SaleStatusSold,
	}); err != nil {
		t.Fatalf("sell: %v", err)
	}

	finCtx := actorCtx("accountant", domain.RoleFinance, "HQ")
	if _, err := svc.RunSnapshot(finCtx); err != nil {
		t.Fatalf("first snapshot: %v", err)
	}
	first, err := repo.ListFinanceRecords(context.Background())
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if _, err := svc.RunSnapshot(finCtx); err != nil {
		t.Fatalf("second snapshot: %v", err)
	}
	second, err := repo.ListFinanceRecords(context.Background())
	if err != nil {
		t.Fatalf("list: %v", err)
	}

	if len(first) != len(second) {
		t.Fatalf("row counts differ: %d vs %d", len(first), len(second))
	}
	for i := range first {
		a, b := first[i], second[i]
		if a.ID != b.ID || a.VIN != b.VIN || !a.FinalSalePrice.Equal(b.FinalSalePrice) ||
			!a.AmountPaid.Equal(b.AmountPaid) || !a.NetProfit.Equal(b.NetProfit) || !a.ProfitNow.Equal(b.ProfitNow) {
			t.Fatalf("row %d differs between runs:\n%+v\n%+v", i, a, b)
		}
	}
}

func TestSnapshotCreditSoldFigures(t *testing.T) {
	svc, repo := newTestService()
	seedCar(t, svc, "CREDITCAR00000001", "10000", "7000")
	ctx := actorCtx("sales_rep_A", domain.RoleSalesRep, "Denver")

	if _, err := svc.CreateOrUpdateSale(ctx, domain.SaleRequest{
		VIN: "CREDITCAR00000001", CustomerName: "Gil Ram", SalePrice: decimal.NewFromInt(10000),
		PaymentMethod: domain.PaymentCredit, Status: domain.SaleStatusSold,
	}); err != nil {
		t.Fatalf("sell: %v", err)
	}

	if _, err := svc.RunSnapshot(actorCtx("accountant", domain.RoleFinance, "HQ")); err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	rows, _ := repo.ListFinanceRecords(context.Background())

	var row *domain.FinanceRecord
	for i := range rows {
		if rows[i].VIN == "CREDITCAR00000001" {
			row = &rows[i]
			break
		}
	}
	if row == nil {
		t.Fatal("no finance row for sold car")
	}
	// ccFee 3% = 300, tax 6% = 600, final = 10900.
	if !row.CardFee.Equal(decimal.NewFromInt(300)) || !row.Tax.Equal(decimal.NewFromInt(600)) || !row.FinalSalePrice.Equal(decimal.NewFromInt(10900)) {
		t.Fatalf("fee/tax/final = %s/%s/%s, want 300/600/10900", row.CardFee, row.Tax, row.FinalSalePrice)
	}
	if !row.AmountPaid.Equal(decimal.NewFromInt(10900)) || !row.Remaining.IsZero() {
		t.Fatalf("paid/remaining = %s/%s, want 10900/0", row.AmountPaid, row.Remaining)
	}
	// netProfit = 10900 - 7000 - 300 = 3600; profitNow = 10900 - 7000.
	if !row.NetProfit.Equal(decimal.NewFromInt(3600)) || !row.ProfitNow.Equal(decimal.NewFromInt(3900)) {
		t.Fatalf("net/now = %s/%s, want 3600/3900", row.NetProfit, row.ProfitNow)
	}
}

func TestFinanceSummary(t *testing.T) {
	svc, _ := newTestService()
	finCtx := actorCtx("accountant", domain.RoleFinance, "HQ")

	if _, err := svc.RunSnapshot(finCtx); err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	summary, err := svc.FinanceSummary(finCtx)
	if err != nil {
		t.Fatalf("summary: %v", err)
	}
	if summary.TotalAssets.LessThanOrEqual(decimal.Zero) || summary.ProjectedSale.LessThanOrEqual(decimal.Zero) {
		t.Fatalf("summary not aggregated over seeded inventory: %+v", summary)
	}
	if !summary.ProjectedProfit.Equal(summary.ProjectedSale.Sub(summary.TotalAssets)) {
		t.Fatalf("projected profit mismatch: %+v", summary)
	}
}

func TestFinanceEndpointsRequireFinanceRole(t *testing.T) {
	svc, _ := newTestService()
	ctx := actorCtx("sales_rep_A", domain.RoleSalesRep, "Denver")

	if _, err := svc.RunSnapshot(ctx); !errors.Is(err, ErrForbidden) {
		t.Fatalf("snapshot as rep: err = %v, want ErrForbidden", err)
	}
	if _, err := svc.FinanceSummary(ctx); !errors.Is(err, ErrForbidden) {
		t.Fatalf("summary as rep: err = %v, want ErrForbidden", err)
	}
}
