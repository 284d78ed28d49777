package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type Car struct {
	VIN           string          `json:"vin"`
	Make          string          `json:"make"`
	Model         string          `json:"model"`
	Year          int             `json:"year"`
	Mileage       int             `json:"mileage"`
	Condition     string          `json:"condition"`
	Cost          decimal.Decimal `json:"cost"`
	SalePrice     decimal.Decimal `json:"sale_price"`
	Status        string          `json:"status"`
	Location      string          `json:"location"`
	PRUpdateCount int             `json:"pr_update_count"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

type CarCreateRequest struct {
	VIN       string          `json:"vin,omitempty"`
	Make      string          `json:"make"`
	Model     string          `json:"model"`
	Year      int             `json:"year"`
	Mileage   int             `json:"mileage"`
	Condition string          `json:"condition"`
	Cost      decimal.Decimal `json:"cost"`
	SalePrice decimal.Decimal `json:"sale_price"`
	Location  string          `json:"location"`
}

type CarUpdateRequest struct {
	Make      *string          `json:"make,omitempty"`
	Model     *string          `json:"model,omitempty"`
	Year      *int             `json:"year,omitempty"`
	Mileage   *int             `json:"mileage,omitempty"`
	Condition *string          `json:"condition,omitempty"`
	Cost      *decimal.Decimal `json:"cost,omitempty"`
	SalePrice *decimal.Decimal `json:"sale_price,omitempty"`
	Status    *string          `json:"status,omitempty"`
	Location  *string          `json:"location,omitempty"`
}

type BulkImportRowError struct {
	Row   int    `json:"row"`
	VIN   string `json:"vin,omitempty"`
	Error string `json:"error"`
}

type BulkImportRequest struct {
	Cars []CarCreateRequest `json:"cars"`
}

type BulkImportResponse struct {
	Imported int                  `json:"imported"`
	Errors   []BulkImportRowError `json:"errors"`
}

type InventoryFilter struct {
	Status     string           `json:"status,omitempty"`
	Location   string           `json:"location,omitempty"`
	Query      string           `json:"q,omitempty"`
	MinYear    *int             `json:"min_year,omitempty"`
	MaxYear    *int             `json:"max_year,omitempty"`
	MaxMileage *int             `json:"max_mileage,omitempty"`
	MinPrice   *decimal.Decimal `json:"min_price,omitempty"`
	MaxPrice   *decimal.Decimal `json:"max_price,omitempty"`
}

// PriceUpdateRequest carries exactly one of SalePrice, DiscountPercent
// or RaisePercent.
type PriceUpdateRequest struct {
	VIN             string           `json:"vin"`
	SalePrice       *decimal.Decimal `json:"sale_price,omitempty"`
	DiscountPercent *float64         `json:"discount_percent,omitempty"`
	RaisePercent    *float64         `json:"raise_percent,omitempty"`
}

type PriceUpdateResponse struct {
	VIN           string          `json:"vin"`
	OldPrice      decimal.Decimal `json:"old_price"`
	NewPrice      decimal.Decimal `json:"new_price"`
	PRUpdateCount int             `json:"pr_update_count"`
}

type PriceHistory struct {
	ID        string          `json:"id"`
	VIN       string          `json:"vin"`
	OldPrice  decimal.Decimal `json:"old_price"`
	NewPrice  decimal.Decimal `json:"new_price"`
	ChangedBy string          `json:"changed_by"`
	ChangedAt time.Time       `json:"changed_at"`
}

type Sale struct {
	ID                  string           `json:"id"`
	VIN                 string           `json:"vin"`
	CustomerName        string           `json:"customer_name"`
	SalePrice           decimal.Decimal  `json:"sale_price"`
	PaymentMethod       string           `json:"payment_method"`
	Deposit             decimal.Decimal  `json:"deposit"`
	TermMonths          *int             `json:"term_months,omitempty"`
	InterestRate        *decimal.Decimal `json:"interest_rate,omitempty"`
	MonthlyPayment      *decimal.Decimal `json:"monthly_payment,omitempty"`
	CreditScoreBand     string           `json:"credit_score_band,omitempty"`
	Status              string           `json:"status"`
	Location            string           `json:"location"`
	SalesRep            string           `json:"sales_rep"`
	UnderWritingAt      *time.Time       `json:"under_writing_at,omitempty"`
	UnderContractAt     *time.Time       `json:"under_contract_at,omitempty"`
	SoldAt              *time.Time       `json:"sold_at,omitempty"`
	CreatedAt           time.Time        `json:"created_at"`
	UpdatedAt           time.Time        `json:"updated_at"`
}

type SaleRequest struct {
	VIN             string           `json:"vin"`
	CustomerName    string           `json:"customer_name"`
	SalePrice       decimal.Decimal  `json:"sale_price"`
	PaymentMethod   string           `json:"payment_method"`
	Status          string           `json:"status"`
	Deposit         *decimal.Decimal `json:"deposit,omitempty"`
	TermMonths      *int             `json:"term_months,omitempty"`
	InterestRate    *decimal.Decimal `json:"interest_rate,omitempty"`
	CreditScoreBand string           `json:"credit_score_band,omitempty"`
	Location        string           `json:"location,omitempty"`
}

type ServiceRecord struct {
	ID            string          `json:"id"`
	VIN           string          `json:"vin"`
	Seriousness   string          `json:"seriousness"`
	EstimatedDays int             `json:"estimated_days"`
	CostAdded     decimal.Decimal `json:"cost_added"`
	Notes         string          `json:"notes,omitempty"`
	Status        string          `json:"status"`
	StartedAt     time.Time       `json:"started_at"`
	CompletedAt   *time.Time      `json:"completed_at,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

type ServiceStartRequest struct {
	VIN           string           `json:"vin"`
	Seriousness   string           `json:"seriousness"`
	EstimatedDays *int             `json:"estimated_days,omitempty"`
	CostAdded     *decimal.Decimal `json:"cost_added,omitempty"`
	Notes         string           `json:"notes,omitempty"`
}

type ServiceUpdateRequest struct {
	Seriousness   *string          `json:"seriousness,omitempty"`
	EstimatedDays *int             `json:"estimated_days,omitempty"`
	CostAdded     *decimal.Decimal `json:"cost_added,omitempty"`
	Notes         *string          `json:"notes,omitempty"`
}

type FinanceRecord struct {
	ID             string           `json:"id"`
	VIN            string           `json:"vin"`
	SaleID         string           `json:"sale_id,omitempty"`
	CustomerName   string           `json:"customer_name,omitempty"`
	Status         string           `json:"status"`
	PaymentMethod  string           `json:"payment_method,omitempty"`
	Cost           decimal.Decimal  `json:"cost"`
	SalePrice      decimal.Decimal  `json:"sale_price"`
	CardFee        decimal.Decimal  `json:"card_fee"`
	Tax            decimal.Decimal  `json:"tax"`
	FinalSalePrice decimal.Decimal  `json:"final_sale_price"`
	Deposit        decimal.Decimal  `json:"deposit"`
	TermMonths     *int             `json:"term_months,omitempty"`
	InterestRate   *decimal.Decimal `json:"interest_rate,omitempty"`
	MonthlyPayment *decimal.Decimal `json:"monthly_payment,omitempty"`
	MonthsPaid     int              `json:"months_paid"`
	AmountPaid     decimal.Decimal  `json:"amount_paid"`
	Remaining      decimal.Decimal  `json:"remaining"`
	NetProfit      decimal.Decimal  `json:"net_profit"`
	ProfitNow      decimal.Decimal  `json:"profit_now"`
	SaleDate       *time.Time       `json:"sale_date,omitempty"`
	SnapshotRunID  string           `json:"snapshot_run_id"`
	CreatedAt      time.Time        `json:"created_at"`
}

type FinanceSummary struct {
	TotalAssets         decimal.Decimal `json:"total_assets"`
	ProjectedSale       decimal.Decimal `json:"projected_sale"`
	ProjectedProfit     decimal.Decimal `json:"projected_profit"`
	TotalFinalSold      decimal.Decimal `json:"total_final_sold"`
	TotalTax            decimal.Decimal `json:"total_tax"`
	TotalAvailableFunds decimal.Decimal `json:"total_available_funds"`
	TotalProfitNow      decimal.Decimal `json:"total_profit_now"`
	GeneratedAt         time.Time       `json:"generated_at"`
}

type SnapshotResult struct {
	RunID         string    `json:"run_id"`
	SaleRows      int       `json:"sale_rows"`
	InventoryRows int       `json:"inventory_rows"`
	GeneratedAt   time.Time `json:"generated_at"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	Location    string `json:"location"`
	ExpiresAt   string `json:"expires_at"`
}

type Actor struct {
	Username string
	Role     string
	Location string
}

// Privileged reports whether the actor may act across locations.
func (a Actor) Privileged() bool {
	return a.Role == RoleAdmin || a.Role == RoleFinance
}

type UserCreateRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Role     string `json:"role"`
	Location string `json:"location"`
}

type User struct {
	Username  string    `json:"username"`
	Role      string    `json:"role"`
	Location  string    `json:"location"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

// UserAccount is an internal persistence model for auth credentials.
type UserAccount struct {
	Username  string
	Password  string
	Role      string
	Location  string
	Active    bool
	CreatedAt time.Time
}

type AuditLog struct {
	ID            string    `json:"id"`
	Location      string    `json:"location"`
	ActorUsername string    `json:"actor_username"`
	ActorRole     string    `json:"actor_role"`
	Action        string    `json:"action"`
	EntityType    string    `json:"entity_type"`
	EntityID      string    `json:"entity_id"`
	Detail        string    `json:"detail"`
	CreatedAt     time.Time `json:"created_at"`
}

const (
	CarStatusAvailable     = "Available"
	CarStatusUnderWriting  = "Under Writing"
	CarStatusUnderContract = "Under Contract"
	CarStatusSold          = "Sold"
	CarStatusInService     = "In Service"
)

const (
	SaleStatusUnderWriting  = "Under Writing"
	SaleStatusUnderContract = "Under Contract"
	SaleStatusSold          = "Sold"
)

const (
	PaymentCash   = "Cash"
	PaymentCredit = "Credit"
	PaymentLoan   = "Loan"
)

const (
	ConditionDamaged = "Damaged"
	ConditionGood    = "Good"
	ConditionMint    = "Mint"
	ConditionLikeNew = "Like New"
)

const (
	SeriousnessHigh   = "High"
	SeriousnessMedium = "Medium"
	SeriousnessLow    = "Low"
)

const (
	CreditBandExcellent = "Excellent"
	CreditBandVeryGood  = "Very Good"
	CreditBandGood      = "Good"
	CreditBandAverage   = "Average"
	CreditBandPoor      = "Poor"
)

const (
	ServiceStatusOpen      = "open"
	ServiceStatusCompleted = "completed"
)

const (
	RoleAdmin      = "Admin"
	RoleFinance    = "Finance"
	RolePR         = "PR"
	RoleSalesRep   = "SalesRep"
	RoleBuyerRep   = "BuyerRep"
	RoleServiceRep = "ServiceRep"
)

// ValidCarStatus reports whether s is one of the closed car status values.
func ValidCarStatus(s string) bool {
	switch s {
	case CarStatusAvailable, CarStatusUnderWriting, CarStatusUnderContract, CarStatusSold, CarStatusInService:
		return true
	}
	return false
}

func ValidSaleStatus(s string) bool {
	switch s {
	case SaleStatusUnderWriting, SaleStatusUnderContract, SaleStatusSold:
		return true
	}
	return false
}

func ValidPaymentMethod(s string) bool {
	switch s {
	case PaymentCash, PaymentCredit, PaymentLoan:
		return true
	}
	return false
}

func ValidCondition(s string) bool {
	switch s {
	case ConditionDamaged, ConditionGood, ConditionMint, ConditionLikeNew:
		return true
	}
	return false
}

func ValidSeriousness(s string) bool {
	switch s {
	case SeriousnessHigh, SeriousnessMedium, SeriousnessLow:
		return true
	}
	return false
}

func ValidCreditBand(s string) bool {
	switch s {
	case CreditBandExcellent, CreditBandVeryGood, CreditBandGood, CreditBandAverage, CreditBandPoor:
		return true
	}
	return false
}

func ValidRole(s string) bool {
	switch s {
	case RoleAdmin, RoleFinance, RolePR, RoleSalesRep, RoleBuyerRep, RoleServiceRep:
		return true
	}
	return false
}
