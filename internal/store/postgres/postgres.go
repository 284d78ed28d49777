package postgres

import (
	"context"
	"database/sql"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/shopspring/decimal"

	"lotledger/backend/internal/domain"
	"lotledger/backend/internal/store"
	"lotledger/backend/internal/xid"
)

type Store struct {
	db *sql.DB
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

const carColumns = `vin, make, model, year, mileage, condition, cost, sale_price, status, location, pr_update_count, created_at, updated_at`

func scanCar(row interface{ Scan(...any) error }) (*domain.Car, error) {
	var car domain.Car
	err := row.Scan(
		&car.VIN,
		&car.Make,
		&car.Model,
		&car.Year,
		&car.Mileage,
		&car.Condition,
		&car.Cost,
		&car.SalePrice,
		&car.Status,
		&car.Location,
		&car.PRUpdateCount,
		&car.CreatedAt,
		&car.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	car.CreatedAt = car.CreatedAt.UTC()
	car.UpdatedAt = car.UpdatedAt.UTC()
	return &car, nil
}

func (s *Store) ListCars(ctx context.Context, filter domain.InventoryFilter) ([]domain.Car, error) {
	query := `
		SELECT ` + carColumns + `
		FROM cars
		WHERE ($1 = '' OR status = $1)
			AND ($2 = '' OR location = $2)
			AND ($3 = '' OR make ILIKE '%' || $3 || '%' OR model ILIKE '%' || $3 || '%' OR vin ILIKE '%' || $3 || '%')
	`
	args := []any{filter.Status, filter.Location, strings.TrimSpace(filter.Query)}

	if filter.MinYear != nil {
		args = append(args, *filter.MinYear)
		query += ` AND year >= $` + strconv.Itoa(len(args))
	}
	if filter.MaxYear != nil {
		args = append(args, *filter.MaxYear)
		query += ` AND year <= $` + strconv.Itoa(len(args))
	}
	if filter.MaxMileage != nil {
		args = append(args, *filter.MaxMileage)
		query += ` AND mileage <= $` + strconv.Itoa(len(args))
	}
	if filter.MinPrice != nil {
		args = append(args, *filter.MinPrice)
		query += ` AND sale_price >= $` + strconv.Itoa(len(args))
	}
	if filter.MaxPrice != nil {
		args = append(args, *filter.MaxPrice)
		query += ` AND sale_price <= $` + strconv.Itoa(len(args))
	}
	query += ` ORDER BY vin ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cars := make([]domain.Car, 0, 128)
	for rows.Next() {
		car, err := scanCar(rows)
		if err != nil {
			return nil, err
		}
		cars = append(cars, *car)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return cars, nil
}

func (s *Store) GetCarByVIN(ctx context.Context, vin string) (*domain.Car, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+carColumns+`
		FROM cars
		WHERE vin = $1
	`, vin)
	car, err := scanCar(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return car, nil
}

func (s *Store) CreateCar(ctx context.Context, car domain.Car) (*domain.Car, error) {
	if car.VIN == "" {
		car.VIN = xid.NewVIN()
	}
	now := time.Now().UTC()
	if car.CreatedAt.IsZero() {
		car.CreatedAt = now
	}
	car.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO cars (`+carColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
	`, car.VIN, car.Make, car.Model, car.Year, car.Mileage, car.Condition, car.Cost, car.SalePrice,
		car.Status, car.Location, car.PRUpdateCount, car.CreatedAt, car.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrConflict
		}
		return nil, err
	}
	created := car
	return &created, nil
}

func (s *Store) UpdateCar(ctx context.Context, car domain.Car) (*domain.Car, error) {
	car.UpdatedAt = time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		UPDATE cars
		SET make = $2, model = $3, year = $4, mileage = $5, condition = $6, cost = $7,
			sale_price = $8, status = $9, location = $10, pr_update_count = $11, updated_at = $12
		WHERE vin = $1
	`, car.VIN, car.Make, car.Model, car.Year, car.Mileage, car.Condition, car.Cost, car.SalePrice,
		car.Status, car.Location, car.PRUpdateCount, car.UpdatedAt)
	if err != nil {
		return nil, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return nil, store.ErrNotFound
	}
	updated := car
	return &updated, nil
}

func (s *Store) CreatePriceHistory(ctx context.Context, entry domain.PriceHistory) error {
	if entry.ID == "" {
		entry.ID = xid.New("ph")
	}
	if entry.ChangedAt.IsZero() {
		entry.ChangedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO price_history (id, vin, old_price, new_price, changed_by, changed_at)
		VALUES ($1,$2,$3,$4,$5,$6)
	`, entry.ID, entry.VIN, entry.OldPrice, entry.NewPrice, entry.ChangedBy, entry.ChangedAt)
	return err
}

func (s *Store) ListPriceHistory(ctx context.Context, vin string, limit int) ([]domain.PriceHistory, error) {
	if limit < 1 {
		limit = 50
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, vin, old_price, new_price, changed_by, changed_at
		FROM price_history
		WHERE vin = $1
		ORDER BY changed_at DESC
		LIMIT $2
	`, vin, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	history := make([]domain.PriceHistory, 0, limit)
	for rows.Next() {
		var entry domain.PriceHistory
		if err := rows.Scan(&entry.ID, &entry.VIN, &entry.OldPrice, &entry.NewPrice, &entry.ChangedBy, &entry.ChangedAt); err != nil {
			return nil, err
		}
		entry.ChangedAt = entry.ChangedAt.UTC()
		history = append(history, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return history, nil
}

const saleColumns = `id, vin, customer_name, sale_price, payment_method, deposit, term_months,
	interest_rate, monthly_payment, credit_score_band, status, location, sales_rep,
	under_writing_at, under_contract_at, sold_at, created_at, updated_at`

func scanSale(row interface{ Scan(...any) error }) (*domain.Sale, error) {
	var sale domain.Sale
	var term sql.NullInt64
	var rate decimal.NullDecimal
	var monthly decimal.NullDecimal
	var band sql.NullString
	var uwAt, ucAt, soldAt sql.NullTime
	err := row.Scan(
		&sale.ID,
		&sale.VIN,
		&sale.CustomerName,
		&sale.SalePrice,
		&sale.PaymentMethod,
		&sale.Deposit,
		&term,
		&rate,
		&monthly,
		&band,
		&sale.Status,
		&sale.Location,
		&sale.SalesRep,
		&uwAt,
		&ucAt,
		&soldAt,
		&sale.CreatedAt,
		&sale.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if term.Valid {
		t := int(term.Int64)
		sale.TermMonths = &t
	}
	if rate.Valid {
		sale.InterestRate = &rate.Decimal
	}
	if monthly.Valid {
		sale.MonthlyPayment = &monthly.Decimal
	}
	if band.Valid {
		sale.CreditScoreBand = band.String
	}
	if uwAt.Valid {
		at := uwAt.Time.UTC()
		sale.UnderWritingAt = &at
	}
	if ucAt.Valid {
		at := ucAt.Time.UTC()
		sale.UnderContractAt = &at
	}
	if soldAt.Valid {
		at := soldAt.Time.UTC()
		sale.SoldAt = &at
	}
	sale.CreatedAt = sale.CreatedAt.UTC()
	sale.UpdatedAt = sale.UpdatedAt.UTC()
	return &sale, nil
}

func (s *Store) ListSales(ctx context.Context, location string) ([]domain.Sale, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+saleColumns+`
		FROM sales
		WHERE ($1 = '' OR location = $1)
		ORDER BY created_at DESC
	`, location)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	sales := make([]domain.Sale, 0, 64)
	for rows.Next() {
		sale, err := scanSale(rows)
		if err != nil {
			return nil, err
		}
		sales = append(sales, *sale)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return sales, nil
}

func (s *Store) GetSaleByID(ctx context.Context, id string) (*domain.Sale, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+saleColumns+`
		FROM sales
		WHERE id = $1
	`, id)
	sale, err := scanSale(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return sale, nil
}

func (s *Store) GetActiveSaleByVIN(ctx context.Context, vin string) (*domain.Sale, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+saleColumns+`
		FROM sales
		WHERE vin = $1
		ORDER BY created_at DESC
		LIMIT 1
	`, vin)
	sale, err := scanSale(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return sale, nil
}

func (s *Store) CreateSale(ctx context.Context, sale domain.Sale) (*domain.Sale, error) {
	if sale.ID == "" {
		sale.ID = xid.New("sale")
	}
	now := time.Now().UTC()
	if sale.CreatedAt.IsZero() {
		sale.CreatedAt = now
	}
	sale.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sales (`+saleColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18)
	`, sale.ID, sale.VIN, sale.CustomerName, sale.SalePrice, sale.PaymentMethod, sale.Deposit,
		nullInt(sale.TermMonths), nullDecimal(sale.InterestRate), nullDecimal(sale.MonthlyPayment),
		nullIfEmpty(sale.CreditScoreBand), sale.Status, sale.Location, sale.SalesRep,
		nullTime(sale.UnderWritingAt), nullTime(sale.UnderContractAt), nullTime(sale.SoldAt),
		sale.CreatedAt, sale.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrConflict
		}
		return nil, err
	}
	created := sale
	return &created, nil
}

func (s *Store) UpdateSale(ctx context.Context, sale domain.Sale) (*domain.Sale, error) {
	sale.UpdatedAt = time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		UPDATE sales
		SET customer_name = $2, sale_price = $3, payment_method = $4, deposit = $5,
			term_months = $6, interest_rate = $7, monthly_payment = $8, credit_score_band = $9,
			status = $10, location = $11, sales_rep = $12,
			under_writing_at = $13, under_contract_at = $14, sold_at = $15, updated_at = $16
		WHERE id = $1
	`, sale.ID, sale.CustomerName, sale.SalePrice, sale.PaymentMethod, sale.Deposit,
		nullInt(sale.TermMonths), nullDecimal(sale.InterestRate), nullDecimal(sale.MonthlyPayment),
		nullIfEmpty(sale.CreditScoreBand), sale.Status, sale.Location, sale.SalesRep,
		nullTime(sale.UnderWritingAt), nullTime(sale.UnderContractAt), nullTime(sale.SoldAt),
		sale.UpdatedAt)
	if err != nil {
		return nil, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return nil, store.ErrNotFound
	}
	updated := sale
	return &updated, nil
}

func (s *Store) DeleteSale(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM sales WHERE id = $1`, id)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) ListSalesInStatusBefore(ctx context.Context, status string, cutoff time.Time) ([]domain.Sale, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+saleColumns+`
		FROM sales
		WHERE status = $1 AND updated_at < $2
		ORDER BY updated_at ASC
	`, status, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	sales := make([]domain.Sale, 0, 16)
	for rows.Next() {
		sale, err := scanSale(rows)
		if err != nil {
			return nil, err
		}
		sales = append(sales, *sale)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return sales, nil
}

const serviceColumns = `id, vin, seriousness, estimated_days, cost_added, notes, status,
	started_at, completed_at, created_at, updated_at`

func scanServiceRecord(row interface{ Scan(...any) error }) (*domain.ServiceRecord, error) {
	var rec domain.ServiceRecord
	var completedAt sql.NullTime
	err := row.Scan(
		&rec.ID,
		&rec.VIN,
		&rec.Seriousness,
		&rec.EstimatedDays,
		&rec.CostAdded,
		&rec.Notes,
		&rec.Status,
		&rec.StartedAt,
		&completedAt,
		&rec.CreatedAt,
		&rec.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if completedAt.Valid {
		at := completedAt.Time.UTC()
		rec.CompletedAt = &at
	}
	rec.StartedAt = rec.StartedAt.UTC()
	rec.CreatedAt = rec.CreatedAt.UTC()
	rec.UpdatedAt = rec.UpdatedAt.UTC()
	return &rec, nil
}

func (s *Store) ListServiceRecords(ctx context.Context, vin string, openOnly bool) ([]domain.ServiceRecord, error) {
	query := `
		SELECT ` + serviceColumns + `
		FROM service_records
		WHERE ($1 = '' OR vin = $1)
	`
	if openOnly {
		query += ` AND status = '` + domain.ServiceStatusOpen + `'`
	}
	query += ` ORDER BY started_at DESC`

	rows, err := s.db.QueryContext(ctx, query, vin)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records := make([]domain.ServiceRecord, 0, 32)
	for rows.Next() {
		rec, err := scanServiceRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return records, nil
}

func (s *Store) GetServiceRecordByID(ctx context.Context, id string) (*domain.ServiceRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+serviceColumns+`
		FROM service_records
		WHERE id = $1
	`, id)
	rec, err := scanServiceRecord(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return rec, nil
}

func (s *Store) CreateServiceRecord(ctx context.Context, rec domain.ServiceRecord) (*domain.ServiceRecord, error) {
	if rec.ID == "" {
		rec.ID = xid.New("svc")
	}
	now := time.Now().UTC()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	if rec.StartedAt.IsZero() {
		rec.StartedAt = now
	}
	rec.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO service_records (`+serviceColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
	`, rec.ID, rec.VIN, rec.Seriousness, rec.EstimatedDays, rec.CostAdded, rec.Notes, rec.Status,
		rec.StartedAt, nullTime(rec.CompletedAt), rec.CreatedAt, rec.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrConflict
		}
		return nil, err
	}
	created := rec
	return &created, nil
}

func (s *Store) UpdateServiceRecord(ctx context.Context, rec domain.ServiceRecord) (*domain.ServiceRecord, error) {
	rec.UpdatedAt = time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		UPDATE service_records
		SET seriousness = $2, estimated_days = $3, cost_added = $4, notes = $5, status = $6,
			started_at = $7, completed_at = $8, updated_at = $9
		WHERE id = $1
	`, rec.ID, rec.Seriousness, rec.EstimatedDays, rec.CostAdded, rec.Notes, rec.Status,
		rec.StartedAt, nullTime(rec.CompletedAt), rec.UpdatedAt)
	if err != nil {
		return nil, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return nil, store.ErrNotFound
	}
	updated := rec
	return &updated, nil
}

const financeColumns = `id, vin, sale_id, customer_name, status, payment_method, cost, sale_price,
	card_fee, tax, final_sale_price, deposit, term_months, interest_rate, monthly_payment,
	months_paid, amount_paid, remaining, net_profit, profit_now, sale_date, snapshot_run_id, created_at`

func (s *Store) ListFinanceRecords(ctx context.Context) ([]domain.FinanceRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+financeColumns+`
		FROM finance_records
		ORDER BY id ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records := make([]domain.FinanceRecord, 0, 128)
	for rows.Next() {
		var rec domain.FinanceRecord
		var saleID, customerName, paymentMethod sql.NullString
		var term sql.NullInt64
		var rate, monthly decimal.NullDecimal
		var saleDate sql.NullTime
		if err := rows.Scan(
			&rec.ID,
			&rec.VIN,
			&saleID,
			&customerName,
			&rec.Status,
			&paymentMethod,
			&rec.Cost,
			&rec.SalePrice,
			&rec.CardFee,
			&rec.Tax,
			&rec.FinalSalePrice,
			&rec.Deposit,
			&term,
			&rate,
			&monthly,
			&rec.MonthsPaid,
			&rec.AmountPaid,
			&rec.Remaining,
			&rec.NetProfit,
			&rec.ProfitNow,
			&saleDate,
			&rec.SnapshotRunID,
			&rec.CreatedAt,
		); err != nil {
			return nil, err
		}
		if saleID.Valid {
			rec.SaleID = saleID.String
		}
		if customerName.Valid {
			rec.CustomerName = customerName.String
		}
		if paymentMethod.Valid {
			rec.PaymentMethod = paymentMethod.String
		}
		if term.Valid {
			t := int(term.Int64)
			rec.TermMonths = &t
		}
		if rate.Valid {
			rec.InterestRate = &rate.Decimal
		}
		if monthly.Valid {
			rec.MonthlyPayment = &monthly.Decimal
		}
		if saleDate.Valid {
			at := saleDate.Time.UTC()
			rec.SaleDate = &at
		}
		rec.CreatedAt = rec.CreatedAt.UTC()
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return records, nil
}

func (s *Store) ReplaceFinanceRecords(ctx context.Context, runID string, records []domain.FinanceRecord) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM finance_records`); err != nil {
		return err
	}

	for _, rec := range records {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO finance_records (`+financeColumns+`)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23)
		`, rec.ID, rec.VIN, nullIfEmpty(rec.SaleID), nullIfEmpty(rec.CustomerName), rec.Status,
			nullIfEmpty(rec.PaymentMethod), rec.Cost, rec.SalePrice, rec.CardFee, rec.Tax,
			rec.FinalSalePrice, rec.Deposit, nullInt(rec.TermMonths), nullDecimal(rec.InterestRate),
			nullDecimal(rec.MonthlyPayment), rec.MonthsPaid, rec.AmountPaid, rec.Remaining,
			rec.NetProfit, rec.ProfitNow, nullTime(rec.SaleDate), runID, rec.CreatedAt)
		if err != nil {
			return err
		}
	}

	return tx.Commit()
}

func (s *Store) CreateAuditLog(ctx context.Context, entry domain.AuditLog) error {
	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_logs (
			id, location, actor_username, actor_role, action, entity_type, entity_id, detail, created_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, entry.ID, entry.Location, entry.ActorUsername, entry.ActorRole, entry.Action, entry.EntityType, entry.EntityID, entry.Detail, entry.CreatedAt)
	return err
}

func (s *Store) ListAuditLogs(ctx context.Context, location string, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	if limit < 1 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, location, actor_username, actor_role, action, entity_type, entity_id, detail, created_at
		FROM audit_logs
		WHERE ($1 = '' OR location = $1)
			AND created_at >= $2
			AND created_at < $3
		ORDER BY created_at DESC
		LIMIT $4
	`, location, from, to, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	logs := make([]domain.AuditLog, 0, limit)
	for rows.Next() {
		var entry domain.AuditLog
		if err := rows.Scan(&entry.ID, &entry.Location, &entry.ActorUsername, &entry.ActorRole, &entry.Action, &entry.EntityType, &entry.EntityID, &entry.Detail, &entry.CreatedAt); err != nil {
			return nil, err
		}
		entry.CreatedAt = entry.CreatedAt.UTC()
		logs = append(logs, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return logs, nil
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	user.Username = strings.ToLower(strings.TrimSpace(user.Username))
	if user.Username == "" || strings.TrimSpace(user.Password) == "" {
		return store.ErrValidation
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO app_users (username, password, role, location, active, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,now())
	`, user.Username, user.Password, user.Role, user.Location, user.Active, user.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrConflict
		}
		return err
	}
	return nil
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT username, password, role, location, active, created_at
		FROM app_users
		ORDER BY username ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]domain.UserAccount, 0, 16)
	for rows.Next() {
		var user domain.UserAccount
		if err := rows.Scan(&user.Username, &user.Password, &user.Role, &user.Location, &user.Active, &user.CreatedAt); err != nil {
			return nil, err
		}
		user.CreatedAt = user.CreatedAt.UTC()
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return users, nil
}

func (s *Store) UpdateUserPassword(ctx context.Context, username string, password string) error {
	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(password) == "" {
		return store.ErrValidation
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE app_users
		SET password = $2, updated_at = now()
		WHERE username = $1
	`, username, password)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

func nullIfEmpty(val string) any {
	if val == "" {
		return nil
	}
	return val
}

func nullTime(val *time.Time) any {
	if val == nil {
		return nil
	}
	return *val
}

func nullInt(val *int) any {
	if val == nil {
		return nil
	}
	return *val
}

func nullDecimal(val *decimal.Decimal) any {
	if val == nil {
		return nil
	}
	return *val
}
