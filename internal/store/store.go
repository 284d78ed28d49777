package store

import (
	"context"
	"errors"
	"time"

	"lotledger/backend/internal/domain"
)

var (
	ErrNotFound   = errors.New("not found")
	ErrValidation = errors.New("validation failed")
	ErrConflict   = errors.New("conflict")
)

type Repository interface {
	ListCars(ctx context.Context, filter domain.InventoryFilter) ([]domain.Car, error)
	GetCarByVIN(ctx context.Context, vin string) (*domain.Car, error)
	CreateCar(ctx context.Context, car domain.Car) (*domain.Car, error)
	UpdateCar(ctx context.Context, car domain.Car) (*domain.Car, error)
	CreatePriceHistory(ctx context.Context, entry domain.PriceHistory) error
	ListPriceHistory(ctx context.Context, vin string, limit int) ([]domain.PriceHistory, error)

	ListSales(ctx context.Context, location string) ([]domain.Sale, error)
	GetSaleByID(ctx context.Context, id string) (*domain.Sale, error)
	GetActiveSaleByVIN(ctx context.Context, vin string) (*domain.Sale, error)
	CreateSale(ctx context.Context, sale domain.Sale) (*domain.Sale, error)
	UpdateSale(ctx context.Context, sale domain.Sale) (*domain.Sale, error)
	DeleteSale(ctx context.Context, id string) error
	ListSalesInStatusBefore(ctx context.Context, status string, cutoff time.Time) ([]domain.Sale, error)

	ListServiceRecords(ctx context.Context, vin string, openOnly bool) ([]domain.ServiceRecord, error)
	GetServiceRecordByID(ctx context.Context, id string) (*domain.ServiceRecord, error)
	CreateServiceRecord(ctx context.Context, rec domain.ServiceRecord) (*domain.ServiceRecord, error)
	UpdateServiceRecord(ctx context.Context, rec domain.ServiceRecord) (*domain.ServiceRecord, error)

	ListFinanceRecords(ctx context.Context) ([]domain.FinanceRecord, error)
	ReplaceFinanceRecords(ctx context.Context, runID string, records []domain.FinanceRecord) error

	CreateAuditLog(ctx context.Context, entry domain.AuditLog) error
	ListAuditLogs(ctx context.Context, location string, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error)

	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
}
