package minutes

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
)

// Catalog serves the read-only list of purchasable minute bundles.
type Catalog struct {
	store   Store
	options serviceOptions
}

// NewCatalog wires a Catalog.
func NewCatalog(store Store, options ...ServiceOption) (*Catalog, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: store dependency is nil", ErrInvalidServiceConfig)
	}
	return &Catalog{store: store, options: collectOptions(options)}, nil
}

// DefaultPackages returns the bundles provisioned on an empty catalog.
func DefaultPackages() []Package {
	return []Package{
		{
			ID:          1,
			Name:        "Basic Package",
			Description: "20 minutes of AI therapy",
			Price:       decimal.NewFromInt(199),
			Currency:    DefaultCurrency,
			Minutes:     20,
		},
		{
			ID:          2,
			Name:        "Standard Package",
			Description: "60 minutes of AI therapy",
			Price:       decimal.NewFromInt(499),
			Currency:    DefaultCurrency,
			Minutes:     60,
			Popular:     true,
		},
		{
			ID:          3,
			Name:        "Premium Package",
			Description: "150 minutes of AI therapy",
			Price:       decimal.NewFromInt(999),
			Currency:    DefaultCurrency,
			Minutes:     150,
		},
	}
}

// Seed inserts packages only when the catalog is empty.
func (catalog *Catalog) Seed(ctx context.Context, packages []Package) error {
	seeded := 0
	operationError := catalog.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		count, err := transactionStore.CountPackages(ctx)
		if err != nil {
			return err
		}
		if count > 0 {
			return nil
		}
		for _, item := range packages {
			if err := validatePackage(item); err != nil {
				return err
			}
			if err := transactionStore.InsertPackage(ctx, item); err != nil {
				return err
			}
			seeded++
		}
		return nil
	})
	entry := OperationLog{
		Operation: operationSeedCatalog,
		Detail:    fmt.Sprintf("seeded=%d", seeded),
		Error:     operationError,
	}
	if operationError == nil && seeded == 0 {
		entry.Status = operationStatusNoop
	}
	catalog.options.logOperation(ctx, entry)
	return operationError
}

// ListPackages returns every package ordered by id.
func (catalog *Catalog) ListPackages(ctx context.Context) ([]Package, error) {
	return catalog.store.ListPackages(ctx)
}

// GetPackage returns one package or ErrUnknownPackage.
func (catalog *Catalog) GetPackage(ctx context.Context, packageID PackageID) (Package, error) {
	return catalog.store.GetPackage(ctx, packageID)
}

func validatePackage(item Package) error {
	if _, err := NewPackageID(item.ID.Int64()); err != nil {
		return err
	}
	if !item.Price.IsPositive() {
		return fmt.Errorf("%w: package %d price must be positive", ErrValidation, item.ID)
	}
	if _, err := NewPositiveMinutes(item.Minutes.Float64()); err != nil {
		return err
	}
	return nil
}
