package pgtrack

import (
	"context"

	"github.com/pkg/errors"
)

func (s *Storage) initSchema(ctx context.Context) error {
	stmts := []string{
		`
CREATE TABLE IF NOT EXISTS stores (
  id BIGSERIAL PRIMARY KEY,
  platform TEXT NOT NULL,
  title TEXT NOT NULL DEFAULT '',
  active BOOLEAN NOT NULL DEFAULT TRUE,
  auto_fulfill BOOLEAN NOT NULL DEFAULT TRUE,
  use_default_supplier BOOLEAN NOT NULL DEFAULT FALSE,
  send_shipping_confirmation TEXT NOT NULL DEFAULT 'default',
  validate_tracking_number BOOLEAN NOT NULL DEFAULT FALSE,
  created_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`,
		`
CREATE TABLE IF NOT EXISTS products (
  id BIGSERIAL PRIMARY KEY,
  store_id BIGINT NOT NULL REFERENCES stores(id) ON DELETE CASCADE,
  title TEXT NOT NULL DEFAULT ''
)`,
		`
CREATE TABLE IF NOT EXISTS suppliers (
  id BIGSERIAL PRIMARY KEY,
  product_id BIGINT NOT NULL REFERENCES products(id) ON DELETE CASCADE,
  store_id BIGINT NOT NULL REFERENCES stores(id) ON DELETE CASCADE,
  name TEXT NOT NULL DEFAULT '',
  url TEXT NOT NULL DEFAULT '',
  type TEXT NOT NULL,
  supplier_product_id TEXT NOT NULL DEFAULT '',
  is_default BOOLEAN NOT NULL DEFAULT FALSE,
  created_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`,
		// at most one default supplier per product
		`CREATE UNIQUE INDEX IF NOT EXISTS uq_suppliers_default ON suppliers(product_id) WHERE is_default`,
		`
CREATE TABLE IF NOT EXISTS variant_remaps (
  store_id BIGINT NOT NULL REFERENCES stores(id) ON DELETE CASCADE,
  product_id BIGINT NOT NULL,
  variant_id TEXT NOT NULL,
  real_variant_id TEXT NOT NULL,
  PRIMARY KEY (store_id, product_id, variant_id)
)`,
		`
CREATE TABLE IF NOT EXISTS supplier_assignments (
  product_id BIGINT NOT NULL REFERENCES products(id) ON DELETE CASCADE,
  variant_id TEXT NOT NULL,
  supplier_id BIGINT NOT NULL REFERENCES suppliers(id) ON DELETE CASCADE,
  PRIMARY KEY (product_id, variant_id)
)`,
		`
CREATE TABLE IF NOT EXISTS variant_mappings (
  supplier_id BIGINT NOT NULL REFERENCES suppliers(id) ON DELETE CASCADE,
  variant_id TEXT NOT NULL,
  options JSONB NOT NULL DEFAULT '[]',
  schema_version INT NOT NULL DEFAULT 1,
  PRIMARY KEY (supplier_id, variant_id)
)`,
		`
CREATE TABLE IF NOT EXISTS shipping_mappings (
  supplier_id BIGINT NOT NULL REFERENCES suppliers(id) ON DELETE CASCADE,
  variant_id TEXT NOT NULL,
  methods JSONB NOT NULL DEFAULT '[]',
  schema_version INT NOT NULL DEFAULT 1,
  PRIMARY KEY (supplier_id, variant_id)
)`,
		`
CREATE TABLE IF NOT EXISTS bundle_components (
  product_id BIGINT NOT NULL REFERENCES products(id) ON DELETE CASCADE,
  variant_id TEXT NOT NULL,
  position INT NOT NULL,
  component_product_id BIGINT NOT NULL,
  component_variant_id TEXT NOT NULL,
  quantity INT NOT NULL DEFAULT 1,
  PRIMARY KEY (product_id, variant_id, position)
)`,
		`
CREATE TABLE IF NOT EXISTS order_tracks (
  id BIGSERIAL PRIMARY KEY,
  store_id BIGINT NOT NULL REFERENCES stores(id) ON DELETE CASCADE,
  order_id TEXT NOT NULL,
  line_id TEXT NOT NULL,
  supplier_order_id TEXT NOT NULL DEFAULT '',
  supplier_type TEXT NOT NULL DEFAULT '',
  status TEXT NOT NULL,
  tracking_number TEXT NOT NULL DEFAULT '',
  status_detail TEXT NOT NULL DEFAULT '',
  hidden BOOLEAN NOT NULL DEFAULT FALSE,
  seen BOOLEAN NOT NULL DEFAULT FALSE,
  flagged BOOLEAN NOT NULL DEFAULT FALSE,
  check_count INT NOT NULL DEFAULT 0,
  check_fail_count INT NOT NULL DEFAULT 0,
  last_error TEXT NULL,
  next_check_at TIMESTAMPTZ NOT NULL,
  created_at TIMESTAMPTZ NOT NULL,
  updated_at TIMESTAMPTZ NOT NULL,
  status_updated_at TIMESTAMPTZ NULL,
  UNIQUE (store_id, order_id, line_id)
)`,
		`CREATE INDEX IF NOT EXISTS idx_order_tracks_next_check_at ON order_tracks(next_check_at)`,
		`CREATE INDEX IF NOT EXISTS idx_order_tracks_supplier_order ON order_tracks(store_id, supplier_order_id) WHERE supplier_order_id <> ''`,
		`
CREATE TABLE IF NOT EXISTS failed_tasks (
  id BIGSERIAL PRIMARY KEY,
  task_id TEXT NOT NULL UNIQUE,
  kind TEXT NOT NULL,
  store_id BIGINT NOT NULL,
  order_id TEXT NOT NULL,
  payload JSONB NULL,
  last_error TEXT NOT NULL,
  attempts INT NOT NULL,
  created_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`,
	}

	for _, q := range stmts {
		if _, err := s.db.Exec(ctx, q); err != nil {
			return errors.Wrap(err, "init schema")
		}
	}
	return nil
}
