package catalog

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/theapemachine/indexpilot/db"
)

/*
FieldActivation records that a field is in use for a tenant. Activation is
ground truth supplied by an external collaborator; the engine reads it to
decide eligibility and never writes it.
*/
type FieldActivation struct {
	TenantID    string    `json:"tenant_id"`
	Table       string    `json:"table"`
	Field       string    `json:"field"`
	Active      bool      `json:"active"`
	ActivatedAt time.Time `json:"activated_at"`
}

/*
TableEstimate carries the catalog's size estimates for a tenant's slice of a
table, used by the evaluator's build-cost model.
*/
type TableEstimate struct {
	RowCount         int64 `json:"row_count"`
	FieldCardinality int64 `json:"field_cardinality"`
}

/*
Catalog is the read interface over schema metadata: which fields are active
per tenant, which indexes exist, and how big tables are. The engine treats
everything it returns as externally owned.
*/
type Catalog interface {
	// IsFieldActive reports whether the field is active for the tenant
	IsFieldActive(ctx context.Context, tenantID, table, field string) (bool, error)
	// IndexExists reports whether the engine's index for the key exists
	IndexExists(ctx context.Context, tenantID, table, field string) (bool, error)
	// Estimate returns row count and field cardinality estimates for the key
	Estimate(ctx context.Context, tenantID, table, field string) (TableEstimate, error)
}

/*
IndexName derives the deterministic name of the engine-managed index for a
(tenant, table, field) key. The naming convention doubles as the idempotency
key: the same tuple always maps to the same index name.
*/
func IndexName(tenantID, table, field string) string {
	return fmt.Sprintf("ip_%s_%s_%s", tenantID, table, field)
}

/*
SQLCatalog implements Catalog against the target database, reading the
tenant_field_activation table maintained by the schema-discovery
collaborator and the live schema catalog.
*/
type SQLCatalog struct {
	conn *db.Conn
}

// NewSQLCatalog creates a catalog backed by the target database connection
func NewSQLCatalog(conn *db.Conn) *SQLCatalog {
	return &SQLCatalog{conn: conn}
}

// IsFieldActive implements Catalog
func (c *SQLCatalog) IsFieldActive(ctx context.Context, tenantID, table, field string) (bool, error) {
	var active bool
	err := c.conn.DB.QueryRowContext(ctx,
		`SELECT active FROM tenant_field_activation
		 WHERE tenant_id = ? AND table_name = ? AND field_name = ?`,
		tenantID, table, field,
	).Scan(&active)

	if err == sql.ErrNoRows {
		// Unknown fields are inactive: not all tenants use all fields.
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to read field activation: %w", err)
	}

	return active, nil
}

// IndexExists implements Catalog
func (c *SQLCatalog) IndexExists(ctx context.Context, tenantID, table, field string) (bool, error) {
	return c.conn.IndexExists(ctx, IndexName(tenantID, table, field))
}

// Estimate implements Catalog
func (c *SQLCatalog) Estimate(ctx context.Context, tenantID, table, field string) (TableEstimate, error) {
	var estimate TableEstimate
	err := c.conn.DB.QueryRowContext(ctx,
		`SELECT row_count, field_cardinality FROM table_estimates
		 WHERE tenant_id = ? AND table_name = ? AND field_name = ?`,
		tenantID, table, field,
	).Scan(&estimate.RowCount, &estimate.FieldCardinality)

	if err == sql.ErrNoRows {
		// No estimate yet: the evaluator treats zero as "unknown, assume cheap".
		return TableEstimate{}, nil
	}
	if err != nil {
		return TableEstimate{}, fmt.Errorf("failed to read table estimate: %w", err)
	}

	return estimate, nil
}
