package pgtrack

import (
	"context"
	"encoding/json"

	"github.com/BearBump/FulfillBox/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
)

const storeColumns = `id, platform, title, active, auto_fulfill, use_default_supplier,
  send_shipping_confirmation, validate_tracking_number, created_at`

func scanStore(row scanner) (*models.Store, error) {
	var st models.Store
	var mode string
	if err := row.Scan(&st.ID, &st.Platform, &st.Title, &st.Active, &st.AutoFulfill, &st.UseDefaultSupplier,
		&mode, &st.Notification.ValidateTrackingNumber, &st.CreatedAt); err != nil {
		return nil, err
	}
	st.Notification.SendShippingConfirmation = models.NotifyMode(mode)
	return &st, nil
}

func (s *Storage) CreateStore(ctx context.Context, st models.Store) (*models.Store, error) {
	mode := st.Notification.SendShippingConfirmation
	if mode == "" {
		mode = models.NotifyDefault
	}
	out, err := scanStore(s.db.QueryRow(ctx, `
INSERT INTO stores (platform, title, active, auto_fulfill, use_default_supplier, send_shipping_confirmation, validate_tracking_number)
VALUES ($1,$2,$3,$4,$5,$6,$7)
RETURNING `+storeColumns,
		st.Platform, st.Title, st.Active, st.AutoFulfill, st.UseDefaultSupplier, string(mode), st.Notification.ValidateTrackingNumber))
	if err != nil {
		return nil, errors.Wrap(err, "insert store")
	}
	return out, nil
}

func (s *Storage) GetStore(ctx context.Context, id uint64) (*models.Store, error) {
	st, err := scanStore(s.db.QueryRow(ctx, `SELECT `+storeColumns+` FROM stores WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, models.NewNotFoundError("store", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, "get store")
	}
	return st, nil
}

func (s *Storage) CreateProduct(ctx context.Context, p models.Product) (*models.Product, error) {
	out := p
	err := s.db.QueryRow(ctx, `INSERT INTO products (store_id, title) VALUES ($1,$2) RETURNING id`, p.StoreID, p.Title).Scan(&out.ID)
	if err != nil {
		return nil, errors.Wrap(err, "insert product")
	}
	return &out, nil
}

func (s *Storage) GetProduct(ctx context.Context, id uint64) (*models.Product, error) {
	var p models.Product
	err := s.db.QueryRow(ctx, `SELECT id, store_id, title FROM products WHERE id = $1`, id).Scan(&p.ID, &p.StoreID, &p.Title)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, models.NewNotFoundError("product", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, "get product")
	}
	return &p, nil
}

const supplierColumns = `id, product_id, store_id, name, url, type, supplier_product_id, is_default, created_at`

func scanSupplier(row scanner) (*models.Supplier, error) {
	var sp models.Supplier
	if err := row.Scan(&sp.ID, &sp.ProductID, &sp.StoreID, &sp.Name, &sp.URL, &sp.Type,
		&sp.SupplierProductID, &sp.IsDefault, &sp.CreatedAt); err != nil {
		return nil, err
	}
	return &sp, nil
}

// CreateSupplier inserts a supplier. A supplier created with IsDefault
// replaces the product's current default in the same transaction.
func (s *Storage) CreateSupplier(ctx context.Context, sp models.Supplier) (*models.Supplier, error) {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, errors.Wrap(err, "begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if sp.IsDefault {
		if _, err := tx.Exec(ctx, `UPDATE suppliers SET is_default = FALSE WHERE product_id = $1 AND is_default`, sp.ProductID); err != nil {
			return nil, errors.Wrap(err, "clear default supplier")
		}
	}
	out, err := scanSupplier(tx.QueryRow(ctx, `
INSERT INTO suppliers (product_id, store_id, name, url, type, supplier_product_id, is_default)
VALUES ($1,$2,$3,$4,$5,$6,$7)
RETURNING `+supplierColumns,
		sp.ProductID, sp.StoreID, sp.Name, sp.URL, sp.Type, sp.SupplierProductID, sp.IsDefault))
	if err != nil {
		return nil, errors.Wrap(err, "insert supplier")
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, errors.Wrap(err, "commit tx")
	}
	return out, nil
}

func (s *Storage) GetSupplier(ctx context.Context, id uint64) (*models.Supplier, error) {
	sp, err := scanSupplier(s.db.QueryRow(ctx, `SELECT `+supplierColumns+` FROM suppliers WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, models.NewNotFoundError("supplier", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, "get supplier")
	}
	return sp, nil
}

func (s *Storage) ListProductSuppliers(ctx context.Context, productID uint64) ([]*models.Supplier, error) {
	rows, err := s.db.Query(ctx, `SELECT `+supplierColumns+` FROM suppliers WHERE product_id = $1 ORDER BY id`, productID)
	if err != nil {
		return nil, errors.Wrap(err, "list suppliers")
	}
	defer rows.Close()

	var out []*models.Supplier
	for rows.Next() {
		sp, err := scanSupplier(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan supplier")
		}
		out = append(out, sp)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return out, nil
}

// GetDefaultSupplier returns the product's default supplier, or nil when none
// is set.
func (s *Storage) GetDefaultSupplier(ctx context.Context, productID uint64) (*models.Supplier, error) {
	sp, err := scanSupplier(s.db.QueryRow(ctx, `SELECT `+supplierColumns+` FROM suppliers WHERE product_id = $1 AND is_default`, productID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "get default supplier")
	}
	return sp, nil
}

// SetDefaultSupplier makes supplierID the product's only default supplier.
// Clearing the old default and setting the new one happen in one transaction.
func (s *Storage) SetDefaultSupplier(ctx context.Context, productID, supplierID uint64) error {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return errors.Wrap(err, "begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `UPDATE suppliers SET is_default = FALSE WHERE product_id = $1 AND is_default AND id <> $2`, productID, supplierID); err != nil {
		return errors.Wrap(err, "clear default supplier")
	}
	tag, err := tx.Exec(ctx, `UPDATE suppliers SET is_default = TRUE WHERE id = $1 AND product_id = $2`, supplierID, productID)
	if err != nil {
		return errors.Wrap(err, "set default supplier")
	}
	if tag.RowsAffected() == 0 {
		return models.NewNotFoundError("supplier", supplierID)
	}
	return errors.Wrap(tx.Commit(ctx), "commit tx")
}

func (s *Storage) PutVariantRemap(ctx context.Context, storeID, productID uint64, variantID, realVariantID string) error {
	_, err := s.db.Exec(ctx, `
INSERT INTO variant_remaps (store_id, product_id, variant_id, real_variant_id)
VALUES ($1,$2,$3,$4)
ON CONFLICT (store_id, product_id, variant_id) DO UPDATE SET real_variant_id = EXCLUDED.real_variant_id
`, storeID, productID, variantID, realVariantID)
	return errors.Wrap(err, "upsert variant remap")
}

// GetVariantRemap returns the real variant id, or "" when the variant is not
// remapped.
func (s *Storage) GetVariantRemap(ctx context.Context, storeID, productID uint64, variantID string) (string, error) {
	var realID string
	err := s.db.QueryRow(ctx, `
SELECT real_variant_id FROM variant_remaps
WHERE store_id = $1 AND product_id = $2 AND variant_id = $3`, storeID, productID, variantID).Scan(&realID)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", errors.Wrap(err, "get variant remap")
	}
	return realID, nil
}

func (s *Storage) PutSupplierAssignment(ctx context.Context, productID uint64, variantID string, supplierID uint64) error {
	_, err := s.db.Exec(ctx, `
INSERT INTO supplier_assignments (product_id, variant_id, supplier_id)
VALUES ($1,$2,$3)
ON CONFLICT (product_id, variant_id) DO UPDATE SET supplier_id = EXCLUDED.supplier_id
`, productID, variantID, supplierID)
	return errors.Wrap(err, "upsert supplier assignment")
}

// GetSupplierAssignment returns the supplier mapped to the variant, or 0.
func (s *Storage) GetSupplierAssignment(ctx context.Context, productID uint64, variantID string) (uint64, error) {
	var id uint64
	err := s.db.QueryRow(ctx, `SELECT supplier_id FROM supplier_assignments WHERE product_id = $1 AND variant_id = $2`,
		productID, variantID).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, errors.Wrap(err, "get supplier assignment")
	}
	return id, nil
}

func (s *Storage) PutVariantMapping(ctx context.Context, m models.VariantMapping) error {
	raw, err := json.Marshal(m.Options)
	if err != nil {
		return errors.Wrap(err, "marshal options")
	}
	_, err = s.db.Exec(ctx, `
INSERT INTO variant_mappings (supplier_id, variant_id, options, schema_version)
VALUES ($1,$2,$3::jsonb,$4)
ON CONFLICT (supplier_id, variant_id) DO UPDATE SET options = EXCLUDED.options, schema_version = EXCLUDED.schema_version
`, m.SupplierID, m.VariantID, string(raw), models.MappingSchemaVersion)
	return errors.Wrap(err, "upsert variant mapping")
}

// GetVariantMapping returns nil when the supplier has no mapping for the
// variant.
func (s *Storage) GetVariantMapping(ctx context.Context, supplierID uint64, variantID string) (*models.VariantMapping, error) {
	m := models.VariantMapping{SupplierID: supplierID, VariantID: variantID}
	var raw []byte
	err := s.db.QueryRow(ctx, `
SELECT options, schema_version FROM variant_mappings
WHERE supplier_id = $1 AND variant_id = $2`, supplierID, variantID).Scan(&raw, &m.SchemaVersion)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "get variant mapping")
	}
	if err := json.Unmarshal(raw, &m.Options); err != nil {
		return nil, errors.Wrap(err, "unmarshal options")
	}
	return &m, nil
}

func (s *Storage) PutShippingMapping(ctx context.Context, m models.ShippingMapping) error {
	raw, err := json.Marshal(m.Methods)
	if err != nil {
		return errors.Wrap(err, "marshal methods")
	}
	_, err = s.db.Exec(ctx, `
INSERT INTO shipping_mappings (supplier_id, variant_id, methods, schema_version)
VALUES ($1,$2,$3::jsonb,$4)
ON CONFLICT (supplier_id, variant_id) DO UPDATE SET methods = EXCLUDED.methods, schema_version = EXCLUDED.schema_version
`, m.SupplierID, m.VariantID, string(raw), models.MappingSchemaVersion)
	return errors.Wrap(err, "upsert shipping mapping")
}

func (s *Storage) GetShippingMapping(ctx context.Context, supplierID uint64, variantID string) (*models.ShippingMapping, error) {
	m := models.ShippingMapping{SupplierID: supplierID, VariantID: variantID}
	var raw []byte
	err := s.db.QueryRow(ctx, `
SELECT methods, schema_version FROM shipping_mappings
WHERE supplier_id = $1 AND variant_id = $2`, supplierID, variantID).Scan(&raw, &m.SchemaVersion)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "get shipping mapping")
	}
	if err := json.Unmarshal(raw, &m.Methods); err != nil {
		return nil, errors.Wrap(err, "unmarshal methods")
	}
	return &m, nil
}

// PutBundleComponents replaces the component list of a bundled variant.
func (s *Storage) PutBundleComponents(ctx context.Context, productID uint64, variantID string, comps []models.BundleComponent) error {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return errors.Wrap(err, "begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `DELETE FROM bundle_components WHERE product_id = $1 AND variant_id = $2`, productID, variantID); err != nil {
		return errors.Wrap(err, "delete bundle components")
	}
	for i, c := range comps {
		if _, err := tx.Exec(ctx, `
INSERT INTO bundle_components (product_id, variant_id, position, component_product_id, component_variant_id, quantity)
VALUES ($1,$2,$3,$4,$5,$6)`, productID, variantID, i, c.ProductID, c.VariantID, c.Quantity); err != nil {
			return errors.Wrap(err, "insert bundle component")
		}
	}
	return errors.Wrap(tx.Commit(ctx), "commit tx")
}

func (s *Storage) GetBundleComponents(ctx context.Context, productID uint64, variantID string) ([]models.BundleComponent, error) {
	rows, err := s.db.Query(ctx, `
SELECT component_product_id, component_variant_id, quantity
FROM bundle_components
WHERE product_id = $1 AND variant_id = $2
ORDER BY position`, productID, variantID)
	if err != nil {
		return nil, errors.Wrap(err, "select bundle components")
	}
	defer rows.Close()

	var out []models.BundleComponent
	for rows.Next() {
		var c models.BundleComponent
		if err := rows.Scan(&c.ProductID, &c.VariantID, &c.Quantity); err != nil {
			return nil, errors.Wrap(err, "scan bundle component")
		}
		out = append(out, c)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return out, nil
}
