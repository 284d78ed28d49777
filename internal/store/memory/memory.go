package memory

import (
	"context"
	"log"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"

	"lotledger/backend/internal/domain"
	"lotledger/backend/internal/store"
	"lotledger/backend/internal/xid"
)

type Store struct {
	mu                sync.RWMutex
	carsByVIN         map[string]domain.Car
	salesByID         map[string]domain.Sale
	servicesByID      map[string]domain.ServiceRecord
	financeRecords    []domain.FinanceRecord
	priceHistoryByVIN map[string][]domain.PriceHistory
	auditLogs         []domain.AuditLog
	usersByUsername   map[string]domain.UserAccount
}

// seedUsers builds the initial in-memory user accounts for dev/demo mode.
// Credentials come from SEED_ADMIN_PASSWORD and SEED_STAFF_PASSWORD; if
// unset, hardcoded dev defaults are used with a warning printed to
// stdout. They are never used in production (the backend uses PostgreSQL
// when DATABASE_URL is set).
func seedUsers() map[string]domain.UserAccount {
	adminPwd := envOr("SEED_ADMIN_PASSWORD", "admin123")
	staffPwd := envOr("SEED_STAFF_PASSWORD", "staff123")
	if os.Getenv("SEED_ADMIN_PASSWORD") == "" || os.Getenv("SEED_STAFF_PASSWORD") == "" {
		log.Println("[memory-store] WARNING: using default dev credentials. Set SEED_ADMIN_PASSWORD and SEED_STAFF_PASSWORD to override.")
	}

	now := time.Now().UTC()
	users := map[string]domain.UserAccount{}
	for _, u := range []struct {
		username string
		password string
		role     string
		location string
	}{
		{"admin", adminPwd, domain.RoleAdmin, "HQ"},
		{"accountant", staffPwd, domain.RoleFinance, "HQ"},
		{"pr_user_A", staffPwd, domain.RolePR, "Denver"},
		{"sales_rep_A", staffPwd, domain.RoleSalesRep, "Denver"},
		{"buyer_rep_A", staffPwd, domain.RoleBuyerRep, "Denver"},
		{"service_rep_A", staffPwd, domain.RoleServiceRep, "Denver"},
		{"pr_user_B", staffPwd, domain.RolePR, "Rockville"},
		{"sales_rep_B", staffPwd, domain.RoleSalesRep, "Rockville"},
		{"buyer_rep_B", staffPwd, domain.RoleBuyerRep, "Rockville"},
		{"service_rep_B", staffPwd, domain.RoleServiceRep, "Rockville"},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.DefaultCost)
		if err != nil {
			log.Fatalf("[memory-store] failed to hash seed password for %s: %v", u.username, err)
		}
		users[u.username] = domain.UserAccount{
			Username:  u.username,
			Password:  string(hash),
			Role:      u.role,
			Location:  u.location,
			Active:    true,
			CreatedAt: now,
		}
	}
	return users
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func NewSeeded() *Store {
	now := time.Now().UTC()
	cars := []domain.Car{
		{VIN: "1HGCM82633A004352", Make: "Honda", Model: "Accord", Year: 2019, Mileage: 42000, Condition: domain.ConditionGood, Cost: dec("14000"), SalePrice: dec("18500"), Status: domain.CarStatusAvailable, Location: "Denver"},
		{VIN: "2T1BURHE5JC014321", Make: "Toyota", Model: "Corolla", Year: 2018, Mileage: 61000, Condition: domain.ConditionGood, Cost: dec("10500"), SalePrice: dec("13900"), Status: domain.CarStatusAvailable, Location: "Denver"},
		{VIN: "3FA6P0H73HR227894", Make: "Ford", Model: "Fusion", Year: 2017, Mileage: 78000, Condition: domain.ConditionLikeNew, Cost: dec("9000"), SalePrice: dec("12400"), Status: domain.CarStatusAvailable, Location: "Rockville"},
		{VIN: "1C4RJFBG5FC618305", Make: "Jeep", Model: "Grand Cherokee", Year: 2015, Mileage: 98000, Condition: domain.ConditionGood, Cost: dec("12800"), SalePrice: dec("16900"), Status: domain.CarStatusAvailable, Location: "Rockville"},
		{VIN: "5YJ3E1EA7KF317218", Make: "Tesla", Model: "Model 3", Year: 2020, Mileage: 30500, Condition: domain.ConditionMint, Cost: dec("23000"), SalePrice: dec("29900"), Status: domain.CarStatusAvailable, Location: "Denver"},
	}

	carMap := make(map[string]domain.Car, len(cars))
	for _, c := range cars {
		c.CreatedAt = now
		c.UpdatedAt = now
		carMap[c.VIN] = c
	}

	return &Store{
		carsByVIN:         carMap,
		salesByID:         make(map[string]domain.Sale),
		servicesByID:      make(map[string]domain.ServiceRecord),
		financeRecords:    make([]domain.FinanceRecord, 0, 64),
		priceHistoryByVIN: make(map[string][]domain.PriceHistory),
		auditLogs:         make([]domain.AuditLog, 0, 128),
		usersByUsername:   seedUsers(),
	}
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func (s *Store) ListCars(_ context.Context, filter domain.InventoryFilter) ([]domain.Car, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cars := make([]domain.Car, 0, len(s.carsByVIN))
	for _, c := range s.carsByVIN {
		if !matchesFilter(c, filter) {
			continue
		}
		cars = append(cars, c)
	}

	slices.SortFunc(cars, func(a, b domain.Car) int {
		return cmpString(a.VIN, b.VIN)
	})
	return cars, nil
}

func matchesFilter(c domain.Car, f domain.InventoryFilter) bool {
	if f.Status != "" && c.Status != f.Status {
		return false
	}
	if f.Location != "" && c.Location != f.Location {
		return false
	}
	if f.Query != "" {
		q := strings.ToLower(f.Query)
		if !strings.Contains(strings.ToLower(c.VIN), q) &&
			!strings.Contains(strings.ToLower(c.Make), q) &&
			!strings.Contains(strings.ToLower(c.Model), q) {
			return false
		}
	}
	if f.MinYear != nil && c.Year < *f.MinYear {
		return false
	}
	if f.MaxYear != nil && c.Year > *f.MaxYear {
		return false
	}
	if f.MaxMileage != nil && c.Mileage > *f.MaxMileage {
		return false
	}
	if f.MinPrice != nil && c.SalePrice.LessThan(*f.MinPrice) {
		return false
	}
	if f.MaxPrice != nil && c.SalePrice.GreaterThan(*f.MaxPrice) {
		return false
	}
	return true
}

func (s *Store) GetCarByVIN(_ context.Context, vin string) (*domain.Car, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	car, exists := s.carsByVIN[vin]
	if !exists {
		return nil, store.ErrNotFound
	}
	copyCar := car
	return &copyCar, nil
}

func (s *Store) CreateCar(_ context.Context, car domain.Car) (*domain.Car, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if car.VIN == "" {
		return nil, store.ErrValidation
	}
	if _, exists := s.carsByVIN[car.VIN]; exists {
		return nil, store.ErrConflict
	}

	now := time.Now().UTC()
	if car.CreatedAt.IsZero() {
		car.CreatedAt = now
	}
	car.UpdatedAt = now
	s.carsByVIN[car.VIN] = car
	created := car
	return &created, nil
}

func (s *Store) UpdateCar(_ context.Context, car domain.Car) (*domain.Car, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, exists := s.carsByVIN[car.VIN]
	if !exists {
		return nil, store.ErrNotFound
	}
	car.CreatedAt = existing.CreatedAt
	car.UpdatedAt = time.Now().UTC()
	s.carsByVIN[car.VIN] = car
	updated := car
	return &updated, nil
}

func (s *Store) CreatePriceHistory(_ context.Context, entry domain.PriceHistory) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.ID == "" {
		entry.ID = xid.New("ph")
	}
	if entry.ChangedAt.IsZero() {
		entry.ChangedAt = time.Now().UTC()
	}
	s.priceHistoryByVIN[entry.VIN] = append(s.priceHistoryByVIN[entry.VIN], entry)
	return nil
}

func (s *Store) ListPriceHistory(_ context.Context, vin string, limit int) ([]domain.PriceHistory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	history := s.priceHistoryByVIN[vin]
	if len(history) == 0 {
		return []domain.PriceHistory{}, nil
	}

	result := make([]domain.PriceHistory, len(history))
	copy(result, history)
	slices.SortFunc(result, func(a, b domain.PriceHistory) int {
		if a.ChangedAt.Equal(b.ChangedAt) {
			return cmpString(b.ID, a.ID)
		}
		if a.ChangedAt.After(b.ChangedAt) {
			return -1
		}
		return 1
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *Store) ListSales(_ context.Context, location string) ([]domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sales := make([]domain.Sale, 0, len(s.salesByID))
	for _, sale := range s.salesByID {
		if location != "" && sale.Location != location {
			continue
		}
		sales = append(sales, sale)
	}
	slices.SortFunc(sales, func(a, b domain.Sale) int {
		return cmpString(a.ID, b.ID)
	})
	return sales, nil
}

func (s *Store) GetSaleByID(_ context.Context, id string) (*domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sale, exists := s.salesByID[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	copySale := sale
	return &copySale, nil
}

func (s *Store) GetActiveSaleByVIN(_ context.Context, vin string) (*domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var latest *domain.Sale
	for _, sale := range s.salesByID {
		if sale.VIN != vin {
			continue
		}
		copySale := sale
		if latest == nil || copySale.CreatedAt.After(latest.CreatedAt) {
			latest = &copySale
		}
	}
	if latest == nil {
		return nil, store.ErrNotFound
	}
	return latest, nil
}

func (s *Store) CreateSale(_ context.Context, sale domain.Sale) (*domain.Sale, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sale.ID == "" {
		sale.ID = xid.New("sale")
	}
	if _, exists := s.salesByID[sale.ID]; exists {
		return nil, store.ErrConflict
	}
	now := time.Now().UTC()
	if sale.CreatedAt.IsZero() {
		sale.CreatedAt = now
	}
	sale.UpdatedAt = now
	s.salesByID[sale.ID] = sale
	created := sale
	return &created, nil
}

func (s *Store) UpdateSale(_ context.Context, sale domain.Sale) (*domain.Sale, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, exists := s.salesByID[sale.ID]
	if !exists {
		return nil, store.ErrNotFound
	}
	sale.CreatedAt = existing.CreatedAt
	sale.UpdatedAt = time.Now().UTC()
	s.salesByID[sale.ID] = sale
	updated := sale
	return &updated, nil
}

func (s *Store) DeleteSale(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.salesByID[id]; !exists {
		return store.ErrNotFound
	}
	delete(s.salesByID, id)
	return nil
}

func (s *Store) ListSalesInStatusBefore(_ context.Context, status string, cutoff time.Time) ([]domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var stale []domain.Sale
	for _, sale := range s.salesByID {
		if sale.Status != status {
			continue
		}
		if sale.UpdatedAt.Before(cutoff) {
			stale = append(stale, sale)
		}
	}
	slices.SortFunc(stale, func(a, b domain.Sale) int {
		return cmpString(a.ID, b.ID)
	})
	return stale, nil
}

func (s *Store) ListServiceRecords(_ context.Context, vin string, openOnly bool) ([]domain.ServiceRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	records := make([]domain.ServiceRecord, 0, len(s.servicesByID))
	for _, rec := range s.servicesByID {
		if vin != "" && rec.VIN != vin {
			continue
		}
		if openOnly && rec.Status != domain.ServiceStatusOpen {
			continue
		}
		records = append(records, rec)
	}
	slices.SortFunc(records, func(a, b domain.ServiceRecord) int {
		return cmpString(a.ID, b.ID)
	})
	return records, nil
}

func (s *Store) GetServiceRecordByID(_ context.Context, id string) (*domain.ServiceRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, exists := s.servicesByID[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	copyRec := rec
	return &copyRec, nil
}

func (s *Store) CreateServiceRecord(_ context.Context, rec domain.ServiceRecord) (*domain.ServiceRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rec.ID == "" {
		rec.ID = xid.New("svc")
	}
	if _, exists := s.servicesByID[rec.ID]; exists {
		return nil, store.ErrConflict
	}
	now := time.Now().UTC()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	rec.UpdatedAt = now
	s.servicesByID[rec.ID] = rec
	created := rec
	return &created, nil
}

func (s *Store) UpdateServiceRecord(_ context.Context, rec domain.ServiceRecord) (*domain.ServiceRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, exists := s.servicesByID[rec.ID]
	if !exists {
		return nil, store.ErrNotFound
	}
	rec.CreatedAt = existing.CreatedAt
	rec.UpdatedAt = time.Now().UTC()
	s.servicesByID[rec.ID] = rec
	updated := rec
	return &updated, nil
}

func (s *Store) ListFinanceRecords(_ context.Context) ([]domain.FinanceRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.FinanceRecord, len(s.financeRecords))
	copy(result, s.financeRecords)
	return result, nil
}

func (s *Store) ReplaceFinanceRecords(_ context.Context, _ string, records []domain.FinanceRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	replacement := make([]domain.FinanceRecord, len(records))
	copy(replacement, records)
	s.financeRecords = replacement
	return nil
}

func (s *Store) CreateAuditLog(_ context.Context, entry domain.AuditLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	s.auditLogs = append(s.auditLogs, entry)
	return nil
}

func (s *Store) ListAuditLogs(_ context.Context, location string, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []domain.AuditLog
	for _, entry := range s.auditLogs {
		if location != "" && entry.Location != location {
			continue
		}
		if !from.IsZero() && entry.CreatedAt.Before(from) {
			continue
		}
		if !to.IsZero() && entry.CreatedAt.After(to) {
			continue
		}
		result = append(result, entry)
	}
	slices.SortFunc(result, func(a, b domain.AuditLog) int {
		if a.CreatedAt.Equal(b.CreatedAt) {
			return cmpString(b.ID, a.ID)
		}
		if a.CreatedAt.After(b.CreatedAt) {
			return -1
		}
		return 1
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if user.Username == "" || user.Password == "" {
		return store.ErrValidation
	}
	if _, exists := s.usersByUsername[user.Username]; exists {
		return store.ErrConflict
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	user.Active = true
	s.usersByUsername[user.Username] = user
	return nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]domain.UserAccount, 0, len(s.usersByUsername))
	for _, u := range s.usersByUsername {
		users = append(users, u)
	}
	slices.SortFunc(users, func(a, b domain.UserAccount) int {
		return cmpString(a.Username, b.Username)
	})
	return users, nil
}

func (s *Store) UpdateUserPassword(_ context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, exists := s.usersByUsername[username]
	if !exists {
		return store.ErrNotFound
	}
	user.Password = password
	s.usersByUsername[username] = user
	return nil
}

func cmpString(a, b string) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}
