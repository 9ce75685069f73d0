// Package resolver maps a sold storefront line to the supplier that fulfills
// it, the supplier-side variant and the shipping method for the destination.
package resolver

import (
	"context"
	"log/slog"
	"strings"

	"github.com/BearBump/FulfillBox/internal/models"
	"github.com/pkg/errors"
	"golang.org/x/text/language"
)

// MaxBundleDepth bounds recursive bundle expansion.
const MaxBundleDepth = 3

type Catalog interface {
	GetProduct(ctx context.Context, id uint64) (*models.Product, error)
	GetSupplier(ctx context.Context, id uint64) (*models.Supplier, error)
	GetDefaultSupplier(ctx context.Context, productID uint64) (*models.Supplier, error)
	GetVariantRemap(ctx context.Context, storeID, productID uint64, variantID string) (string, error)
	GetSupplierAssignment(ctx context.Context, productID uint64, variantID string) (uint64, error)
	GetVariantMapping(ctx context.Context, supplierID uint64, variantID string) (*models.VariantMapping, error)
	GetShippingMapping(ctx context.Context, supplierID uint64, variantID string) (*models.ShippingMapping, error)
	GetBundleComponents(ctx context.Context, productID uint64, variantID string) ([]models.BundleComponent, error)
}

// Resolution is one purchasable unit a sold line expands into. A plain line
// yields one; a bundle yields one per component.
type Resolution struct {
	LineID         string
	ProductID      uint64
	SoldVariantID  string
	VariantID      string
	Quantity       int
	Fulfillable    bool
	Supplier       *models.Supplier
	Options        []models.VariantOption
	ShippingMethod *models.ShippingMethod
	BundleDepth    int
}

type Resolver struct {
	catalog Catalog
}

func New(catalog Catalog) *Resolver {
	return &Resolver{catalog: catalog}
}

// NormalizeVariantID maps absent variant ids to NoVariant.
func NormalizeVariantID(v string) string {
	v = strings.TrimSpace(v)
	if v == "" || v == "0" || v == "null" {
		return models.NoVariant
	}
	return v
}

// NormalizeCountry returns the canonical ISO-3166 alpha-2 code for alpha-2,
// alpha-3 or numeric input. "UK" is accepted as an alias of "GB". Unknown
// codes are returned upper-cased.
func NormalizeCountry(code string) string {
	c := strings.ToUpper(strings.TrimSpace(code))
	if c == "UK" {
		return "GB"
	}
	r, err := language.ParseRegion(c)
	if err != nil {
		return c
	}
	return r.Canonicalize().String()
}

// displayCountry is the code suppliers expect on output.
func displayCountry(code string) string {
	if code == "GB" {
		return "UK"
	}
	return code
}

// ResolveLine resolves a sold line for an order shipping to country.
func (r *Resolver) ResolveLine(ctx context.Context, store *models.Store, line models.LineItem, country string) ([]Resolution, error) {
	if store == nil {
		return nil, models.NewValidationError("store", "is required")
	}
	if line.ProductID == 0 {
		return nil, models.NewValidationError("product_id", "is required")
	}
	qty := line.Quantity
	if qty <= 0 {
		qty = 1
	}
	return r.resolve(ctx, store, line.ID, line.ProductID, line.VariantID, qty, country, 0)
}

func (r *Resolver) resolve(ctx context.Context, store *models.Store, lineID string, productID uint64, soldVariant string, qty int, country string, depth int) ([]Resolution, error) {
	if depth > MaxBundleDepth {
		return nil, models.NewValidationError("bundle", "nesting too deep")
	}
	if _, err := r.catalog.GetProduct(ctx, productID); err != nil {
		return nil, err
	}

	soldVariant = NormalizeVariantID(soldVariant)
	variant, err := r.RealVariant(ctx, store.ID, productID, soldVariant)
	if err != nil {
		return nil, err
	}

	comps, err := r.catalog.GetBundleComponents(ctx, productID, variant)
	if err != nil {
		return nil, err
	}
	if len(comps) > 0 {
		var out []Resolution
		for _, c := range comps {
			n := c.Quantity
			if n <= 0 {
				n = 1
			}
			sub, err := r.resolve(ctx, store, lineID, c.ProductID, c.VariantID, qty*n, country, depth+1)
			if err != nil {
				return nil, errors.Wrapf(err, "bundle component %d/%s", c.ProductID, c.VariantID)
			}
			out = append(out, sub...)
		}
		return out, nil
	}

	res := Resolution{
		LineID:        lineID,
		ProductID:     productID,
		SoldVariantID: soldVariant,
		VariantID:     variant,
		Quantity:      qty,
		BundleDepth:   depth,
	}

	sp, err := r.SupplierFor(ctx, store, productID, variant)
	if err != nil {
		return nil, err
	}
	if sp == nil {
		slog.Debug("line not fulfillable", "store_id", store.ID, "product_id", productID, "variant_id", variant)
		return []Resolution{res}, nil
	}
	res.Fulfillable = true
	res.Supplier = sp

	vm, err := r.catalog.GetVariantMapping(ctx, sp.ID, variant)
	if err != nil {
		return nil, err
	}
	if vm != nil {
		res.Options = vm.Options
	}

	if country != "" {
		res.ShippingMethod, err = r.GetShippingForVariant(ctx, sp.ID, variant, country)
		if err != nil {
			return nil, err
		}
	}
	return []Resolution{res}, nil
}

// RealVariant applies the operator remap table. Unmapped variants resolve to
// themselves.
func (r *Resolver) RealVariant(ctx context.Context, storeID, productID uint64, variantID string) (string, error) {
	variantID = NormalizeVariantID(variantID)
	remapped, err := r.catalog.GetVariantRemap(ctx, storeID, productID, variantID)
	if err != nil {
		return "", err
	}
	if remapped == "" {
		return variantID, nil
	}
	return remapped, nil
}

// SupplierFor returns the supplier of the variant, or nil when the product has
// none. The per-variant assignment wins unless the store forces the default
// supplier.
func (r *Resolver) SupplierFor(ctx context.Context, store *models.Store, productID uint64, variantID string) (*models.Supplier, error) {
	if !store.UseDefaultSupplier {
		id, err := r.catalog.GetSupplierAssignment(ctx, productID, variantID)
		if err != nil {
			return nil, err
		}
		if id != 0 {
			sp, err := r.catalog.GetSupplier(ctx, id)
			switch {
			case err == nil:
				return sp, nil
			case errors.Is(err, models.ErrNotFound):
				slog.Warn("assigned supplier missing, using default", "product_id", productID, "variant_id", variantID, "supplier_id", id)
			default:
				return nil, err
			}
		}
	}
	return r.catalog.GetDefaultSupplier(ctx, productID)
}

// GetShippingForVariant scans the shipping mapping for an exact country match.
// It returns nil when nothing matches; the caller falls back to the platform
// default. The returned method carries the output country code ("UK" for
// Great Britain).
func (r *Resolver) GetShippingForVariant(ctx context.Context, supplierID uint64, variantID, country string) (*models.ShippingMethod, error) {
	sm, err := r.catalog.GetShippingMapping(ctx, supplierID, NormalizeVariantID(variantID))
	if err != nil {
		return nil, err
	}
	if sm == nil {
		return nil, nil
	}
	want := NormalizeCountry(country)
	for _, m := range sm.Methods {
		if NormalizeCountry(m.CountryCode) == want {
			return &models.ShippingMethod{CountryCode: displayCountry(want), MethodName: m.MethodName}, nil
		}
	}
	return nil, nil
}
