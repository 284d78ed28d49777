package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"lotledger/backend/internal/cache"
	"lotledger/backend/internal/domain"
	"lotledger/backend/internal/finance"
	"lotledger/backend/internal/logger"
	"lotledger/backend/internal/pricing"
	"lotledger/backend/internal/store"
	"lotledger/backend/internal/xid"
)

// ErrForbidden marks role or location authorization failures.
var ErrForbidden = errors.New("forbidden")

const summaryCacheKey = "finance:summary"

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

type Service struct {
	repo       store.Repository
	rates      pricing.RateSource
	fin        *finance.Engine
	summaries  cache.SummaryCache
	summaryTTL time.Duration
	uwMaxAge   time.Duration
	now        func() time.Time

	vinMu    sync.Mutex
	vinLocks map[string]*sync.Mutex
}

func New(repo store.Repository, rates pricing.RateSource, fin *finance.Engine, summaries cache.SummaryCache, summaryTTL time.Duration, uwMaxAge time.Duration) *Service {
	if rates == nil {
		rates = pricing.RandomRateSource{}
	}
	if summaries == nil {
		summaries = cache.NoopSummaryCache{}
	}
	if summaryTTL <= 0 {
		summaryTTL = time.Minute
	}
	if uwMaxAge <= 0 {
		uwMaxAge = 72 * time.Hour
	}

	return &Service{
		repo:       repo,
		rates:      rates,
		fin:        fin,
		summaries:  summaries,
		summaryTTL: summaryTTL,
		uwMaxAge:   uwMaxAge,
		now:        time.Now,
		vinLocks:   make(map[string]*sync.Mutex),
	}
}

// lockVIN serializes mutations per VIN so concurrent price and sale
// calls cannot lose updates to prUpdateCount or status.
func (s *Service) lockVIN(vin string) func() {
	s.vinMu.Lock()
	mu, ok := s.vinLocks[vin]
	if !ok {
		mu = &sync.Mutex{}
		s.vinLocks[vin] = mu
	}
	s.vinMu.Unlock()

	mu.Lock()
	return mu.Unlock
}

func (s *Service) requireRole(ctx context.Context, roles ...string) (domain.Actor, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return domain.Actor{}, fmt.Errorf("%w: no actor", ErrForbidden)
	}
	for _, role := range roles {
		if actor.Role == role {
			return actor, nil
		}
	}
	return domain.Actor{}, fmt.Errorf("%w: role %s not allowed", ErrForbidden, actor.Role)
}

// ---------- Inventory ----------

func (s *Service) ListInventory(ctx context.Context, filter domain.InventoryFilter) ([]domain.Car, error) {
	actor, err := s.requireRole(ctx, domain.RoleAdmin, domain.RoleFinance, domain.RoleBuyerRep, domain.RolePR, domain.RoleSalesRep)
	if err != nil {
		return nil, err
	}
	if !actor.Privileged() {
		filter.Location = actor.Location
	}

	cars, err := s.repo.ListCars(ctx, filter)
	if err != nil {
		return nil, err
	}
	if actor.Role == domain.RolePR {
		visible := cars[:0]
		for _, c := range cars {
			if c.Status == domain.CarStatusUnderContract || c.Status == domain.CarStatusSold {
				continue
			}
			visible = append(visible, c)
		}
		cars = visible
	}
	return cars, nil
}

func (s *Service) GetCar(ctx context.Context, vin string) (domain.Car, error) {
	actor, err := s.requireRole(ctx, domain.RoleAdmin, domain.RoleFinance, domain.RoleBuyerRep, domain.RolePR, domain.RoleSalesRep, domain.RoleServiceRep)
	if err != nil {
		return domain.Car{}, err
	}
	car, err := s.repo.GetCarByVIN(ctx, vin)
	if err != nil {
		return domain.Car{}, err
	}
	if !actor.Privileged() && car.Location != actor.Location {
		return domain.Car{}, fmt.Errorf("%w: vin not in your location", ErrForbidden)
	}
	return *car, nil
}

func (s *Service) CreateCar(ctx context.Context, req domain.CarCreateRequest) (domain.Car, error) {
	actor, err := s.requireRole(ctx, domain.RoleAdmin, domain.RoleBuyerRep)
	if err != nil {
		return domain.Car{}, err
	}

	car, err := s.buildCar(req, actor)
	if err != nil {
		return domain.Car{}, err
	}

	created, err := s.repo.CreateCar(ctx, *car)
	if err != nil {
		return domain.Car{}, err
	}

	if created.Status == domain.CarStatusInService {
		if err := s.openDamageIntakeService(ctx, created.VIN); err != nil {
			return domain.Car{}, err
		}
	}

	s.logAudit(ctx, created.Location, "car_create", "car", created.VIN, fmt.Sprintf("make=%s,model=%s,price=%s", created.Make, created.Model, created.SalePrice.StringFixed(2)))
	return *created, nil
}

// buildCar validates an intake request and produces the record to
// persist. Shared by single create and bulk import.
func (s *Service) buildCar(req domain.CarCreateRequest, actor domain.Actor) (*domain.Car, error) {
	if actor.Role == domain.RoleBuyerRep {
		req.Location = actor.Location
	}
	req.Make = strings.TrimSpace(req.Make)
	req.Model = strings.TrimSpace(req.Model)
	req.VIN = strings.ToUpper(strings.TrimSpace(req.VIN))

	if req.Make == "" || req.Model == "" || req.Location == "" {
		return nil, fmt.Errorf("%w: make, model and location are required", store.ErrValidation)
	}
	if !domain.ValidCondition(req.Condition) {
		return nil, fmt.Errorf("%w: unknown condition %q", store.ErrValidation, req.Condition)
	}
	if age := s.now().Year() - req.Year; age > 25 || age < 0 {
		return nil, fmt.Errorf("%w: car age exceeds 25 years limit", store.ErrValidation)
	}
	if req.Mileage < 0 || req.Mileage >= 150000 {
		return nil, fmt.Errorf("%w: mileage must be less than 150000", store.ErrValidation)
	}
	if req.Cost.LessThanOrEqual(decimal.Zero) {
		return nil, fmt.Errorf("%w: cost must be greater than 0", store.ErrValidation)
	}
	if req.SalePrice.LessThanOrEqual(decimal.Zero) {
		return nil, fmt.Errorf("%w: sale_price must be greater than 0", store.ErrValidation)
	}

	floor := pricing.MarginFloorFor(actor)
	if pricing.Margin(pricing.RoundMoney(req.SalePrice), req.Cost).LessThan(floor) {
		return nil, fmt.Errorf("%w: margin below %s", pricing.ErrProfitViolation, floor.String())
	}

	status := domain.CarStatusAvailable
	if req.Condition == domain.ConditionDamaged {
		status = domain.CarStatusInService
	}
	if req.VIN == "" {
		req.VIN = xid.NewVIN()
	}

	return &domain.Car{
		VIN:       req.VIN,
		Make:      req.Make,
		Model:     req.Model,
		Year:      req.Year,
		Mileage:   req.Mileage,
		Condition: req.Condition,
		Cost:      pricing.RoundMoney(req.Cost),
		SalePrice: pricing.RoundMoney(req.SalePrice),
		Status:    status,
		Location:  req.Location,
	}, nil
}

// openDamageIntakeService creates the automatic repair record for a car
// taken in Damaged.
func (s *Service) openDamageIntakeService(ctx context.Context, vin string) error {
	_, err := s.repo.CreateServiceRecord(ctx, domain.ServiceRecord{
		VIN:           vin,
		Seriousness:   domain.SeriousnessHigh,
		EstimatedDays: 3,
		CostAdded:     decimal.NewFromInt(2000),
		Status:        domain.ServiceStatusOpen,
		StartedAt:     s.now().UTC(),
	})
	return err
}

func (s *Service) UpdateCar(ctx context.Context, vin string, req domain.CarUpdateRequest) (domain.Car, error) {
	actor, err := s.requireRole(ctx, domain.RoleAdmin)
	if err != nil {
		return domain.Car{}, err
	}

	unlock := s.lockVIN(vin)
	defer unlock()

	existing, err := s.repo.GetCarByVIN(ctx, vin)
	if err != nil {
		return domain.Car{}, err
	}

	car := *existing
	if req.Make != nil {
		car.Make = strings.TrimSpace(*req.Make)
	}
	if req.Model != nil {
		car.Model = strings.TrimSpace(*req.Model)
	}
	if req.Year != nil {
		car.Year = *req.Year
	}
	if req.Mileage != nil {
		car.Mileage = *req.Mileage
	}
	if req.Condition != nil {
		if !domain.ValidCondition(*req.Condition) {
			return domain.Car{}, fmt.Errorf("%w: unknown condition %q", store.ErrValidation, *req.Condition)
		}
		car.Condition = *req.Condition
	}
	if req.Cost != nil {
		car.Cost = pricing.RoundMoney(*req.Cost)
	}
	if req.SalePrice != nil {
		car.SalePrice = pricing.RoundMoney(*req.SalePrice)
	}
	if req.Status != nil {
		// Direct administrative overwrite. Does not reset prUpdateCount.
		if !domain.ValidCarStatus(*req.Status) {
			return domain.Car{}, fmt.Errorf("%w: unknown status %q", store.ErrValidation, *req.Status)
		}
		car.Status = *req.Status
	}
	if req.Location != nil {
		car.Location = *req.Location
	}

	if car.SalePrice.LessThanOrEqual(decimal.Zero) || car.Cost.LessThanOrEqual(decimal.Zero) {
		return domain.Car{}, fmt.Errorf("%w: cost and sale_price must be positive", store.ErrValidation)
	}
	if req.SalePrice != nil || req.Cost != nil {
		floor := pricing.MarginFloorFor(actor)
		if pricing.Margin(car.SalePrice, car.Cost).LessThan(floor) {
			return domain.Car{}, fmt.Errorf("%w: margin below %s", pricing.ErrProfitViolation, floor.String())
		}
	}

	updated, err := s.repo.UpdateCar(ctx, car)
	if err != nil {
		return domain.Car{}, err
	}
	if req.SalePrice != nil && !existing.SalePrice.Equal(updated.SalePrice) {
		s.recordPriceChange(ctx, actor, updated.VIN, existing.SalePrice, updated.SalePrice)
	}
	s.logAudit(ctx, updated.Location, "car_update", "car", updated.VIN, "")
	return *updated, nil
}

// BulkImportCars inserts intake rows in bulk, collecting per-row errors
// instead of aborting on the first failure.
func (s *Service) BulkImportCars(ctx context.Context, req domain.BulkImportRequest) (domain.BulkImportResponse, error) {
	actor, err := s.requireRole(ctx, domain.RoleAdmin, domain.RoleBuyerRep)
	if err != nil {
		return domain.BulkImportResponse{}, err
	}
	if len(req.Cars) == 0 {
		return domain.BulkImportResponse{}, fmt.Errorf("%w: no rows supplied", store.ErrValidation)
	}

	resp := domain.BulkImportResponse{Errors: []domain.BulkImportRowError{}}
	for i, row := range req.Cars {
		car, err := s.buildCar(row, actor)
		if err != nil {
			resp.Errors = append(resp.Errors, domain.BulkImportRowError{Row: i, VIN: row.VIN, Error: err.Error()})
			continue
		}
		created, err := s.repo.CreateCar(ctx, *car)
		if err != nil {
			resp.Errors = append(resp.Errors, domain.BulkImportRowError{Row: i, VIN: car.VIN, Error: err.Error()})
			continue
		}
		if created.Status == domain.CarStatusInService {
			if err := s.openDamageIntakeService(ctx, created.VIN); err != nil {
				logger.FromContext(ctx).Warn("bulk import: failed to open damage intake service record",
					zap.String("vin", created.VIN), zap.Error(err))
			}
		}
		resp.Imported++
	}

	s.logAudit(ctx, actor.Location, "car_bulk_import", "car", "", fmt.Sprintf("imported=%d,errors=%d", resp.Imported, len(resp.Errors)))
	return resp, nil
}

// ---------- Price authorization ----------

// PromotionInventory returns the cars PR may price, grouped by
// location. Cars under contract or sold are always hidden; in-service
// cars appear only when includeService is set.
func (s *Service) PromotionInventory(ctx context.Context, includeService bool) (map[string][]domain.Car, error) {
	_, err := s.requireRole(ctx, domain.RoleAdmin, domain.RolePR)
	if err != nil {
		return nil, err
	}

	cars, err := s.repo.ListCars(ctx, domain.InventoryFilter{})
	if err != nil {
		return nil, err
	}

	grouped := make(map[string][]domain.Car)
	for _, c := range cars {
		if c.Status == domain.CarStatusUnderContract || c.Status == domain.CarStatusSold || c.Status == domain.CarStatusUnderWriting {
			continue
		}
		if c.Status == domain.CarStatusInService && !includeService {
			continue
		}
		grouped[c.Location] = append(grouped[c.Location], c)
	}
	return grouped, nil
}

// UpdatePrice is the promotion-channel price edit. PR actors are bound
// to their location, the swing band, the lifetime update limit and the
// 20% margin floor; Admin bypasses the band and the limit with a 5%
// floor. Successful PR edits increment prUpdateCount.
func (s *Service) UpdatePrice(ctx context.Context, req domain.PriceUpdateRequest) (domain.PriceUpdateResponse, error) {
	actor, err := s.requireRole(ctx, domain.RoleAdmin, domain.RolePR)
	if err != nil {
		return domain.PriceUpdateResponse{}, err
	}

	vin := strings.ToUpper(strings.TrimSpace(req.VIN))
	if vin == "" {
		return domain.PriceUpdateResponse{}, fmt.Errorf("%w: vin is required", store.ErrValidation)
	}

	unlock := s.lockVIN(vin)
	defer unlock()

	car, err := s.repo.GetCarByVIN(ctx, vin)
	if err != nil {
		return domain.PriceUpdateResponse{}, err
	}
	if actor.Role == domain.RolePR && car.Location != actor.Location {
		return domain.PriceUpdateResponse{}, fmt.Errorf("%w: vin does not belong to your location", ErrForbidden)
	}
	if car.Status != domain.CarStatusAvailable {
		return domain.PriceUpdateResponse{}, fmt.Errorf("%w: car status %q does not allow price changes", store.ErrConflict, car.Status)
	}

	newPrice, err := pricing.ResolvePRPrice(car, req, actor)
	if err != nil {
		return domain.PriceUpdateResponse{}, err
	}

	oldPrice := car.SalePrice
	car.SalePrice = newPrice
	if !actor.Privileged() {
		car.PRUpdateCount++
	}

	updated, err := s.repo.UpdateCar(ctx, *car)
	if err != nil {
		return domain.PriceUpdateResponse{}, err
	}

	s.recordPriceChange(ctx, actor, vin, oldPrice, newPrice)
	s.logAudit(ctx, updated.Location, "price_update", "car", vin, fmt.Sprintf("old=%s,new=%s", oldPrice.StringFixed(2), newPrice.StringFixed(2)))

	return domain.PriceUpdateResponse{
		VIN:           vin,
		OldPrice:      oldPrice,
		NewPrice:      newPrice,
		PRUpdateCount: updated.PRUpdateCount,
	}, nil
}

func (s *Service) recordPriceChange(ctx context.Context, actor domain.Actor, vin string, oldPrice, newPrice decimal.Decimal) {
	if err := s.repo.CreatePriceHistory(ctx, domain.PriceHistory{
		VIN:       vin,
		OldPrice:  oldPrice,
		NewPrice:  newPrice,
		ChangedBy: actor.Username,
		ChangedAt: s.now().UTC(),
	}); err != nil {
		logger.FromContext(ctx).Warn("failed to record price history", zap.String("vin", vin), zap.Error(err))
	}
}

func (s *Service) PriceHistory(ctx context.Context, vin string, limit int) ([]domain.PriceHistory, error) {
	_, err := s.requireRole(ctx, domain.RoleAdmin, domain.RoleFinance, domain.RolePR)
	if err != nil {
		return nil, err
	}
	return s.repo.ListPriceHistory(ctx, vin, limit)
}

// ---------- Sales ----------

func (s *Service) ListSales(ctx context.Context) ([]domain.Sale, error) {
	actor, err := s.requireRole(ctx, domain.RoleAdmin, domain.RoleFinance, domain.RoleSalesRep)
	if err != nil {
		return nil, err
	}
	location := ""
	if !actor.Privileged() {
		location = actor.Location
	}
	return s.repo.ListSales(ctx, location)
}

// CreateOrUpdateSale drives the sale lifecycle for a VIN. It is
// idempotent per VIN: while the active sale is not Sold, repeated
// calls update it in place; once Sold, further calls conflict.
func (s *Service) CreateOrUpdateSale(ctx context.Context, req domain.SaleRequest) (domain.Sale, error) {
	actor, err := s.requireRole(ctx, domain.RoleAdmin, domain.RoleFinance, domain.RoleSalesRep)
	if err != nil {
		return domain.Sale{}, err
	}

	vin := strings.ToUpper(strings.TrimSpace(req.VIN))
	if vin == "" {
		return domain.Sale{}, fmt.Errorf("%w: vin is required", store.ErrValidation)
	}
	if !domain.ValidSaleStatus(req.Status) {
		return domain.Sale{}, fmt.Errorf("%w: unknown status %q", store.ErrValidation, req.Status)
	}
	if !domain.ValidPaymentMethod(req.PaymentMethod) {
		return domain.Sale{}, fmt.Errorf("%w: unknown payment method %q", store.ErrValidation, req.PaymentMethod)
	}

	unlock := s.lockVIN(vin)
	defer unlock()

	car, err := s.repo.GetCarByVIN(ctx, vin)
	if err != nil {
		return domain.Sale{}, err
	}
	if car.Status == domain.CarStatusSold {
		return domain.Sale{}, fmt.Errorf("%w: car already sold", store.ErrConflict)
	}
	if !actor.Privileged() && car.Location != actor.Location {
		return domain.Sale{}, fmt.Errorf("%w: vin not in your location", ErrForbidden)
	}

	if err := pricing.ValidateSalePrice(car, req.SalePrice, actor); err != nil {
		return domain.Sale{}, err
	}

	existing, err := s.repo.GetActiveSaleByVIN(ctx, vin)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return domain.Sale{}, err
	}
	if existing != nil && existing.Status == domain.SaleStatusSold {
		return domain.Sale{}, fmt.Errorf("%w: sale already closed for vin", store.ErrConflict)
	}
	if existing != nil {
		if err := checkSaleTransition(existing.Status, req.Status); err != nil {
			return domain.Sale{}, err
		}
	}

	sale := domain.Sale{
		VIN:           vin,
		CustomerName:  strings.TrimSpace(req.CustomerName),
		SalePrice:     pricing.RoundMoney(req.SalePrice),
		PaymentMethod: req.PaymentMethod,
		Status:        req.Status,
		Location:      car.Location,
		SalesRep:      actor.Username,
	}
	if existing != nil {
		sale.ID = existing.ID
		sale.CreatedAt = existing.CreatedAt
		sale.UnderWritingAt = existing.UnderWritingAt
		sale.UnderContractAt = existing.UnderContractAt
		sale.SoldAt = existing.SoldAt
		if sale.CustomerName == "" {
			sale.CustomerName = existing.CustomerName
		}
		if existing.InterestRate != nil && req.InterestRate == nil {
			req.InterestRate = existing.InterestRate
		}
	}
	if err := s.applyLoanTerms(&sale, req); err != nil {
		return domain.Sale{}, err
	}
	s.stampStatus(&sale)

	var saved *domain.Sale
	if existing == nil {
		saved, err = s.repo.CreateSale(ctx, sale)
	} else {
		saved, err = s.repo.UpdateSale(ctx, sale)
	}
	if err != nil {
		return domain.Sale{}, err
	}

	// Mirror the sale status onto the car record.
	car.Status = saved.Status
	if _, err := s.repo.UpdateCar(ctx, *car); err != nil {
		return domain.Sale{}, err
	}

	s.logAudit(ctx, saved.Location, "sale_upsert", "sale", saved.ID, fmt.Sprintf("vin=%s,status=%s,payment=%s", vin, saved.Status, saved.PaymentMethod))
	return *saved, nil
}

func checkSaleTransition(from, to string) error {
	allowed := map[string]map[string]bool{
		domain.SaleStatusUnderWriting:  {domain.SaleStatusUnderWriting: true, domain.SaleStatusUnderContract: true, domain.SaleStatusSold: true},
		domain.SaleStatusUnderContract: {domain.SaleStatusUnderContract: true, domain.SaleStatusSold: true},
	}
	next, ok := allowed[from]
	if !ok || !next[to] {
		return fmt.Errorf("%w: invalid status change from %s to %s", store.ErrConflict, from, to)
	}
	return nil
}

// applyLoanTerms enforces payment-method rules and derives the loan
// figures. Cash and Credit deals carry no loan fields at all.
func (s *Service) applyLoanTerms(sale *domain.Sale, req domain.SaleRequest) error {
	if sale.PaymentMethod != domain.PaymentLoan {
		sale.Deposit = decimal.Zero
		sale.TermMonths = nil
		sale.InterestRate = nil
		sale.MonthlyPayment = nil
		sale.CreditScoreBand = ""
		return nil
	}

	if req.CreditScoreBand == "" {
		return fmt.Errorf("%w: credit score band is required for Loan", store.ErrValidation)
	}
	if !domain.ValidCreditBand(req.CreditScoreBand) {
		return fmt.Errorf("%w: unknown credit score band %q", store.ErrValidation, req.CreditScoreBand)
	}
	sale.CreditScoreBand = req.CreditScoreBand

	committed := sale.Status == domain.SaleStatusUnderContract || sale.Status == domain.SaleStatusSold

	if req.TermMonths != nil {
		if *req.TermMonths <= 0 {
			return fmt.Errorf("%w: term_months must be positive", store.ErrValidation)
		}
		if *req.TermMonths < 12 || *req.TermMonths > 48 {
			return fmt.Errorf("%w: loan term must be between 12 and 48 months", store.ErrValidation)
		}
		sale.TermMonths = req.TermMonths
	} else if committed {
		return fmt.Errorf("%w: loan term is required", store.ErrValidation)
	}

	minDeposit := sale.SalePrice.Mul(decimal.NewFromFloat(0.05))
	if req.Deposit != nil {
		if req.Deposit.LessThan(minDeposit) {
			return fmt.Errorf("%w: deposit must be at least 5%% of sale price", store.ErrValidation)
		}
		sale.Deposit = pricing.RoundMoney(*req.Deposit)
	} else if committed {
		return fmt.Errorf("%w: deposit is required", store.ErrValidation)
	}

	if req.InterestRate != nil {
		if req.InterestRate.IsNegative() {
			return fmt.Errorf("%w: interest rate cannot be negative", store.ErrValidation)
		}
		sale.InterestRate = req.InterestRate
	} else if committed {
		rate, err := s.rates.RateFor(sale.CreditScoreBand)
		if err != nil {
			return err
		}
		sale.InterestRate = &rate
	}

	if sale.InterestRate != nil && sale.TermMonths != nil {
		payment, err := pricing.MonthlyPayment(sale.SalePrice, sale.Deposit, *sale.InterestRate, *sale.TermMonths)
		if err != nil {
			return err
		}
		sale.MonthlyPayment = &payment
	}
	return nil
}

// stampStatus records the first time a sale enters each status.
func (s *Service) stampStatus(sale *domain.Sale) {
	now := s.now().UTC()
	switch sale.Status {
	case domain.SaleStatusUnderWriting:
		if sale.UnderWritingAt == nil {
			sale.UnderWritingAt = &now
		}
	case domain.SaleStatusUnderContract:
		if sale.UnderContractAt == nil {
			sale.UnderContractAt = &now
		}
	case domain.SaleStatusSold:
		if sale.SoldAt == nil {
			sale.SoldAt = &now
		}
	}
}

// ReleaseStaleUnderwriting frees cars whose sale sat in Under Writing
// longer than the configured maximum: the sale is deleted and the car
// returns to Available. Returns the number of released cars.
func (s *Service) ReleaseStaleUnderwriting(ctx context.Context) (int, error) {
	cutoff := s.now().UTC().Add(-s.uwMaxAge)
	stale, err := s.repo.ListSalesInStatusBefore(ctx, domain.SaleStatusUnderWriting, cutoff)
	if err != nil {
		return 0, err
	}

	released := 0
	for _, sale := range stale {
		unlock := s.lockVIN(sale.VIN)
		if car, err := s.repo.GetCarByVIN(ctx, sale.VIN); err == nil {
			car.Status = domain.CarStatusAvailable
			if _, err := s.repo.UpdateCar(ctx, *car); err != nil {
				logger.FromContext(ctx).Warn("failed to restore car from stale underwriting", zap.String("vin", sale.VIN), zap.Error(err))
				unlock()
				continue
			}
		}
		if err := s.repo.DeleteSale(ctx, sale.ID); err != nil {
			logger.FromContext(ctx).Warn("failed to delete stale sale", zap.String("sale_id", sale.ID), zap.Error(err))
			unlock()
			continue
		}
		unlock()
		released++
		s.logAudit(ctx, sale.Location, "sale_stale_release", "sale", sale.ID, fmt.Sprintf("vin=%s", sale.VIN))
	}
	return released, nil
}

// ---------- Service transitions ----------

func (s *Service) ListServiceRecords(ctx context.Context, vin string, openOnly bool) ([]domain.ServiceRecord, error) {
	actor, err := s.requireRole(ctx, domain.RoleAdmin, domain.RoleServiceRep)
	if err != nil {
		return nil, err
	}
	records, err := s.repo.ListServiceRecords(ctx, vin, openOnly)
	if err != nil {
		return nil, err
	}
	if actor.Privileged() {
		return records, nil
	}
	visible := records[:0]
	for _, rec := range records {
		car, err := s.repo.GetCarByVIN(ctx, rec.VIN)
		if err != nil {
			continue
		}
		if car.Location == actor.Location {
			visible = append(visible, rec)
		}
	}
	return visible, nil
}

func defaultEstimatedDays(seriousness string) int {
	switch seriousness {
	case domain.SeriousnessHigh:
		return 3
	case domain.SeriousnessMedium:
		return 2
	default:
		return 1
	}
}

func defaultServiceCost(seriousness string) decimal.Decimal {
	switch seriousness {
	case domain.SeriousnessHigh:
		return decimal.NewFromInt(2000)
	case domain.SeriousnessMedium:
		return decimal.NewFromInt(1200)
	default:
		return decimal.NewFromInt(500)
	}
}

func (s *Service) StartService(ctx context.Context, req domain.ServiceStartRequest) (domain.ServiceRecord, error) {
	actor, err := s.requireRole(ctx, domain.RoleAdmin, domain.RoleServiceRep)
	if err != nil {
		return domain.ServiceRecord{}, err
	}
	if !domain.ValidSeriousness(req.Seriousness) {
		return domain.ServiceRecord{}, fmt.Errorf("%w: unknown seriousness %q", store.ErrValidation, req.Seriousness)
	}

	vin := strings.ToUpper(strings.TrimSpace(req.VIN))
	unlock := s.lockVIN(vin)
	defer unlock()

	car, err := s.repo.GetCarByVIN(ctx, vin)
	if err != nil {
		return domain.ServiceRecord{}, err
	}
	if !actor.Privileged() && car.Location != actor.Location {
		return domain.ServiceRecord{}, fmt.Errorf("%w: vin not in your location", ErrForbidden)
	}
	if car.Status != domain.CarStatusAvailable {
		return domain.ServiceRecord{}, fmt.Errorf("%w: car status %q does not allow service entry", store.ErrConflict, car.Status)
	}

	days := defaultEstimatedDays(req.Seriousness)
	if req.EstimatedDays != nil {
		if *req.EstimatedDays < 1 {
			return domain.ServiceRecord{}, fmt.Errorf("%w: estimated_days must be positive", store.ErrValidation)
		}
		days = *req.EstimatedDays
	}
	cost := defaultServiceCost(req.Seriousness)
	if req.CostAdded != nil {
		if req.CostAdded.IsNegative() {
			return domain.ServiceRecord{}, fmt.Errorf("%w: cost_added cannot be negative", store.ErrValidation)
		}
		cost = pricing.RoundMoney(*req.CostAdded)
	}

	rec, err := s.repo.CreateServiceRecord(ctx, domain.ServiceRecord{
		VIN:           vin,
		Seriousness:   req.Seriousness,
		EstimatedDays: days,
		CostAdded:     cost,
		Notes:         strings.TrimSpace(req.Notes),
		Status:        domain.ServiceStatusOpen,
		StartedAt:     s.now().UTC(),
	})
	if err != nil {
		return domain.ServiceRecord{}, err
	}

	car.Status = domain.CarStatusInService
	if _, err := s.repo.UpdateCar(ctx, *car); err != nil {
		return domain.ServiceRecord{}, err
	}

	s.logAudit(ctx, car.Location, "service_start", "service", rec.ID, fmt.Sprintf("vin=%s,seriousness=%s", vin, rec.Seriousness))
	return *rec, nil
}

// EditService updates an open record. A seriousness change without an
// explicit cost edit re-derives the default repair cost.
func (s *Service) EditService(ctx context.Context, id string, req domain.ServiceUpdateRequest) (domain.ServiceRecord, error) {
	actor, err := s.requireRole(ctx, domain.RoleAdmin, domain.RoleServiceRep)
	if err != nil {
		return domain.ServiceRecord{}, err
	}

	rec, err := s.repo.GetServiceRecordByID(ctx, id)
	if err != nil {
		return domain.ServiceRecord{}, err
	}
	if rec.Status != domain.ServiceStatusOpen {
		return domain.ServiceRecord{}, fmt.Errorf("%w: service record is closed", store.ErrConflict)
	}
	car, err := s.repo.GetCarByVIN(ctx, rec.VIN)
	if err != nil {
		return domain.ServiceRecord{}, err
	}
	if !actor.Privileged() && car.Location != actor.Location {
		return domain.ServiceRecord{}, fmt.Errorf("%w: vin not in your location", ErrForbidden)
	}

	oldCost := rec.CostAdded
	seriousnessChanged := false
	if req.Seriousness != nil && *req.Seriousness != rec.Seriousness {
		if !domain.ValidSeriousness(*req.Seriousness) {
			return domain.ServiceRecord{}, fmt.Errorf("%w: unknown seriousness %q", store.ErrValidation, *req.Seriousness)
		}
		rec.Seriousness = *req.Seriousness
		seriousnessChanged = true
	}
	if req.EstimatedDays != nil {
		if *req.EstimatedDays < 1 {
			return domain.ServiceRecord{}, fmt.Errorf("%w: estimated_days must be positive", store.ErrValidation)
		}
		rec.EstimatedDays = *req.EstimatedDays
	}
	if req.Notes != nil {
		rec.Notes = strings.TrimSpace(*req.Notes)
	}
	if req.CostAdded != nil && !req.CostAdded.Equal(oldCost) {
		if req.CostAdded.IsNegative() {
			return domain.ServiceRecord{}, fmt.Errorf("%w: cost_added cannot be negative", store.ErrValidation)
		}
		rec.CostAdded = pricing.RoundMoney(*req.CostAdded)
	} else if seriousnessChanged {
		rec.CostAdded = defaultServiceCost(rec.Seriousness)
	}

	updated, err := s.repo.UpdateServiceRecord(ctx, *rec)
	if err != nil {
		return domain.ServiceRecord{}, err
	}
	s.logAudit(ctx, car.Location, "service_edit", "service", updated.ID, "")
	return *updated, nil
}

// CompleteService closes the record, folds the repair cost into the
// car's cost and puts the car back on the lot.
func (s *Service) CompleteService(ctx context.Context, id string) (domain.ServiceRecord, error) {
	actor, err := s.requireRole(ctx, domain.RoleAdmin, domain.RoleServiceRep)
	if err != nil {
		return domain.ServiceRecord{}, err
	}

	rec, err := s.repo.GetServiceRecordByID(ctx, id)
	if err != nil {
		return domain.ServiceRecord{}, err
	}
	if rec.Status != domain.ServiceStatusOpen {
		return domain.ServiceRecord{}, fmt.Errorf("%w: service record already completed", store.ErrConflict)
	}

	unlock := s.lockVIN(rec.VIN)
	defer unlock()

	car, err := s.repo.GetCarByVIN(ctx, rec.VIN)
	if err != nil {
		return domain.ServiceRecord{}, err
	}
	if !actor.Privileged() && car.Location != actor.Location {
		return domain.ServiceRecord{}, fmt.Errorf("%w: vin not in your location", ErrForbidden)
	}

	now := s.now().UTC()
	rec.Status = domain.ServiceStatusCompleted
	rec.CompletedAt = &now
	updated, err := s.repo.UpdateServiceRecord(ctx, *rec)
	if err != nil {
		return domain.ServiceRecord{}, err
	}

	car.Cost = pricing.RoundMoney(car.Cost.Add(rec.CostAdded))
	car.Status = domain.CarStatusAvailable
	if _, err := s.repo.UpdateCar(ctx, *car); err != nil {
		return domain.ServiceRecord{}, err
	}

	s.logAudit(ctx, car.Location, "service_complete", "service", updated.ID, fmt.Sprintf("vin=%s,cost_added=%s", rec.VIN, rec.CostAdded.StringFixed(2)))
	return *updated, nil
}

// CompleteDueServices closes every open record whose estimated window
// has elapsed. Run nightly. Returns the number of completed records.
func (s *Service) CompleteDueServices(ctx context.Context) (int, error) {
	records, err := s.repo.ListServiceRecords(ctx, "", true)
	if err != nil {
		return 0, err
	}

	now := s.now().UTC()
	completed := 0
	for _, rec := range records {
		due := rec.StartedAt.AddDate(0, 0, rec.EstimatedDays)
		if now.Before(due) {
			continue
		}
		unlock := s.lockVIN(rec.VIN)
		car, err := s.repo.GetCarByVIN(ctx, rec.VIN)
		if err != nil {
			unlock()
			continue
		}
		rec.Status = domain.ServiceStatusCompleted
		rec.CompletedAt = &now
		if _, err := s.repo.UpdateServiceRecord(ctx, rec); err != nil {
			unlock()
			continue
		}
		car.Cost = pricing.RoundMoney(car.Cost.Add(rec.CostAdded))
		car.Status = domain.CarStatusAvailable
		if _, err := s.repo.UpdateCar(ctx, *car); err != nil {
			unlock()
			continue
		}
		unlock()
		completed++
		s.logAudit(ctx, car.Location, "service_auto_complete", "service", rec.ID, fmt.Sprintf("vin=%s", rec.VIN))
	}
	return completed, nil
}

// ---------- Finance ----------

func (s *Service) ListFinanceRecords(ctx context.Context) ([]domain.FinanceRecord, error) {
	_, err := s.requireRole(ctx, domain.RoleAdmin, domain.RoleFinance)
	if err != nil {
		return nil, err
	}
	return s.repo.ListFinanceRecords(ctx)
}

// RunSnapshot rebuilds the finance ledger and drops the cached summary.
func (s *Service) RunSnapshot(ctx context.Context) (domain.SnapshotResult, error) {
	_, err := s.requireRole(ctx, domain.RoleAdmin, domain.RoleFinance)
	if err != nil {
		return domain.SnapshotResult{}, err
	}
	return s.runSnapshot(ctx)
}

// runSnapshot is the unauthenticated core used by the scheduler.
func (s *Service) runSnapshot(ctx context.Context) (domain.SnapshotResult, error) {
	result, err := s.fin.RunSnapshot(ctx)
	if err != nil {
		return domain.SnapshotResult{}, err
	}
	if err := s.summaries.Invalidate(ctx, summaryCacheKey); err != nil {
		logger.FromContext(ctx).Warn("failed to invalidate summary cache", zap.Error(err))
	}
	s.logAudit(ctx, "", "finance_snapshot", "finance", result.RunID, fmt.Sprintf("sale_rows=%d,inventory_rows=%d", result.SaleRows, result.InventoryRows))
	return *result, nil
}

// RunScheduledSnapshot is the scheduler entry point: it also releases
// stale underwriting holds before rebuilding the ledger.
func (s *Service) RunScheduledSnapshot(ctx context.Context) (domain.SnapshotResult, error) {
	if released, err := s.ReleaseStaleUnderwriting(ctx); err != nil {
		logger.FromContext(ctx).Warn("stale underwriting release failed", zap.Error(err))
	} else if released > 0 {
		logger.FromContext(ctx).Info("released stale underwriting holds", zap.Int("count", released))
	}
	return s.runSnapshot(ctx)
}

func (s *Service) FinanceSummary(ctx context.Context) (domain.FinanceSummary, error) {
	_, err := s.requireRole(ctx, domain.RoleAdmin, domain.RoleFinance)
	if err != nil {
		return domain.FinanceSummary{}, err
	}

	if cached, ok, err := s.summaries.Get(ctx, summaryCacheKey); err == nil && ok {
		return *cached, nil
	} else if err != nil {
		logger.FromContext(ctx).Warn("summary cache read failed", zap.Error(err))
	}

	summary, err := s.fin.Summary(ctx)
	if err != nil {
		return domain.FinanceSummary{}, err
	}
	if err := s.summaries.Set(ctx, summaryCacheKey, summary, s.summaryTTL); err != nil {
		logger.FromContext(ctx).Warn("summary cache write failed", zap.Error(err))
	}
	return *summary, nil
}

// ---------- Users and audit ----------

func (s *Service) CreateUser(ctx context.Context, user domain.UserAccount) error {
	_, err := s.requireRole(ctx, domain.RoleAdmin)
	if err != nil {
		return err
	}
	if !domain.ValidRole(user.Role) {
		return fmt.Errorf("%w: unknown role %q", store.ErrValidation, user.Role)
	}
	if err := s.repo.CreateUser(ctx, user); err != nil {
		return err
	}
	s.logAudit(ctx, user.Location, "user_create", "user", user.Username, fmt.Sprintf("role=%s", user.Role))
	return nil
}

func (s *Service) ListUsers(ctx context.Context) ([]domain.User, error) {
	_, err := s.requireRole(ctx, domain.RoleAdmin)
	if err != nil {
		return nil, err
	}
	accounts, err := s.repo.ListUsers(ctx)
	if err != nil {
		return nil, err
	}
	users := make([]domain.User, 0, len(accounts))
	for _, a := range accounts {
		users = append(users, domain.User{
			Username:  a.Username,
			Role:      a.Role,
			Location:  a.Location,
			Active:    a.Active,
			CreatedAt: a.CreatedAt,
		})
	}
	return users, nil
}

func (s *Service) ListAuditLogs(ctx context.Context, location string, from, to time.Time, limit int) ([]domain.AuditLog, error) {
	_, err := s.requireRole(ctx, domain.RoleAdmin)
	if err != nil {
		return nil, err
	}
	return s.repo.ListAuditLogs(ctx, location, from, to, limit)
}

func (s *Service) logAudit(ctx context.Context, location string, action string, entityType string, entityID string, detail string) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		actor = domain.Actor{Username: "system", Role: "system"}
	}

	if err := s.repo.CreateAuditLog(ctx, domain.AuditLog{
		ID:            xid.New("audit"),
		Location:      location,
		ActorUsername: actor.Username,
		ActorRole:     actor.Role,
		Action:        action,
		EntityType:    entityType,
		EntityID:      entityID,
		Detail:        detail,
		CreatedAt:     s.now().UTC(),
	}); err != nil {
		logger.FromContext(ctx).Warn("failed to write audit log",
			zap.String("action", action), zap.String("entity", entityType+"/"+entityID), zap.Error(err))
	}
}
