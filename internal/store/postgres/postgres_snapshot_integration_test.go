package postgres

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"lotledger/backend/internal/domain"
)

func TestReplaceFinanceRecordsIsAtomic(t *testing.T) {
	databaseURL := os.Getenv("LOTLEDGER_TEST_DATABASE_URL")
	if databaseURL == "" {
		t.Skip("set LOTLEDGER_TEST_DATABASE_URL to run postgres integration test")
	}

	ctx := context.Background()
	s, err := New(ctx, databaseURL)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(func() {
		_ = s.Close()
	})

	stamp := time.Now().UnixNano()
	vin := fmt.Sprintf("ITVIN%012d", stamp%1e12)

	t.Cleanup(func() {
		_, _ = s.db.ExecContext(ctx, `DELETE FROM finance_records`)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM cars WHERE vin = $1`, vin)
	})

	if _, err := s.CreateCar(ctx, domain.Car{
		VIN:       vin,
		Make:      "Honda",
		Model:     "Civic",
		Year:      2020,
		Mileage:   24000,
		Condition: domain.ConditionGood,
		Cost:      decimal.NewFromInt(11000),
		SalePrice: decimal.NewFromInt(14500),
		Status:    domain.CarStatusAvailable,
		Location:  "Denver",
	}); err != nil {
		t.Fatalf("create car: %v", err)
	}

	firstRun := fmt.Sprintf("run-a-%d", stamp)
	now := time.Now().UTC()
	err = s.ReplaceFinanceRecords(ctx, firstRun, []domain.FinanceRecord{
		{ID: "I000001", VIN: vin, Status: domain.CarStatusAvailable, Cost: decimal.NewFromInt(11000), SalePrice: decimal.NewFromInt(14500), SnapshotRunID: firstRun, CreatedAt: now},
		{ID: "I000002", VIN: vin, Status: domain.CarStatusAvailable, Cost: decimal.NewFromInt(11000), SalePrice: decimal.NewFromInt(14500), SnapshotRunID: firstRun, CreatedAt: now},
	})
	if err != nil {
		t.Fatalf("first replace: %v", err)
	}

	secondRun := fmt.Sprintf("run-b-%d", stamp)
	err = s.ReplaceFinanceRecords(ctx, secondRun, []domain.FinanceRecord{
		{ID: "I000001", VIN: vin, Status: domain.CarStatusAvailable, Cost: decimal.NewFromInt(11000), SalePrice: decimal.NewFromInt(14500), SnapshotRunID: secondRun, CreatedAt: now},
	})
	if err != nil {
		t.Fatalf("second replace: %v", err)
	}

	rows, err := s.ListFinanceRecords(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected 1 row after replace, got %d", len(rows))
	}
	if rows[0].SnapshotRunID != secondRun {
		t.Fatalf("expected run id %s, got %s", secondRun, rows[0].SnapshotRunID)
	}
}
