package catalog

import (
	"context"
	"path/filepath"
	"testing"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/theapemachine/indexpilot/db"
)

func openTarget(t *testing.T) *db.Conn {
	t.Helper()

	conn, err := db.NewConn(context.Background(), filepath.Join(t.TempDir(), "target.db"))
	if err != nil {
		t.Fatalf("failed to open target database: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	stmts := []string{
		`CREATE TABLE orders (id INTEGER PRIMARY KEY, tenant_id TEXT, customer_id TEXT)`,
		`CREATE TABLE tenant_field_activation (
			tenant_id TEXT NOT NULL,
			table_name TEXT NOT NULL,
			field_name TEXT NOT NULL,
			active INTEGER NOT NULL,
			PRIMARY KEY (tenant_id, table_name, field_name)
		)`,
		`CREATE TABLE table_estimates (
			tenant_id TEXT NOT NULL,
			table_name TEXT NOT NULL,
			field_name TEXT NOT NULL,
			row_count INTEGER NOT NULL,
			field_cardinality INTEGER NOT NULL,
			PRIMARY KEY (tenant_id, table_name, field_name)
		)`,
	}
	for _, stmt := range stmts {
		if _, err := conn.DB.Exec(stmt); err != nil {
			t.Fatalf("failed to create schema: %v", err)
		}
	}

	return conn
}

func TestIndexName(t *testing.T) {
	Convey("Given a (tenant, table, field) key", t, func() {
		Convey("Then the derived index name should be deterministic", func() {
			So(IndexName("tenant-a", "orders", "customer_id"),
				ShouldEqual, "ip_tenant-a_orders_customer_id")
			So(IndexName("tenant-a", "orders", "customer_id"),
				ShouldEqual, IndexName("tenant-a", "orders", "customer_id"))
		})

		Convey("Then distinct keys should never collide", func() {
			So(IndexName("tenant-a", "orders", "status"),
				ShouldNotEqual, IndexName("tenant-b", "orders", "status"))
		})
	})
}

func TestIsFieldActive(t *testing.T) {
	Convey("Given activation rows in the target database", t, func() {
		conn := openTarget(t)
		cat := NewSQLCatalog(conn)
		ctx := context.Background()

		_, err := conn.DB.Exec(
			`INSERT INTO tenant_field_activation VALUES
			 ('tenant-a', 'orders', 'customer_id', 1),
			 ('tenant-a', 'orders', 'internal_notes', 0)`)
		So(err, ShouldBeNil)

		Convey("When checking an active field", func() {
			active, err := cat.IsFieldActive(ctx, "tenant-a", "orders", "customer_id")
			So(err, ShouldBeNil)
			So(active, ShouldBeTrue)
		})

		Convey("When checking a deactivated field", func() {
			active, err := cat.IsFieldActive(ctx, "tenant-a", "orders", "internal_notes")
			So(err, ShouldBeNil)
			So(active, ShouldBeFalse)
		})

		Convey("When checking a field the catalog has never seen", func() {
			active, err := cat.IsFieldActive(ctx, "tenant-b", "orders", "customer_id")

			Convey("Then unknown fields should be inactive, not an error", func() {
				So(err, ShouldBeNil)
				So(active, ShouldBeFalse)
			})
		})
	})
}

func TestIndexExists(t *testing.T) {
	Convey("Given a target database with one engine-managed index", t, func() {
		conn := openTarget(t)
		cat := NewSQLCatalog(conn)
		ctx := context.Background()

		_, err := conn.DB.Exec(`CREATE INDEX "ip_tenant-a_orders_customer_id" ON orders (tenant_id, customer_id)`)
		So(err, ShouldBeNil)

		Convey("When checking the indexed key", func() {
			exists, err := cat.IndexExists(ctx, "tenant-a", "orders", "customer_id")
			So(err, ShouldBeNil)
			So(exists, ShouldBeTrue)
		})

		Convey("When checking an unindexed key", func() {
			exists, err := cat.IndexExists(ctx, "tenant-b", "orders", "customer_id")
			So(err, ShouldBeNil)
			So(exists, ShouldBeFalse)
		})
	})
}

func TestEstimate(t *testing.T) {
	Convey("Given size estimates in the target database", t, func() {
		conn := openTarget(t)
		cat := NewSQLCatalog(conn)
		ctx := context.Background()

		_, err := conn.DB.Exec(
			`INSERT INTO table_estimates VALUES ('tenant-a', 'orders', 'customer_id', 250000, 1800)`)
		So(err, ShouldBeNil)

		Convey("When reading a known estimate", func() {
			estimate, err := cat.Estimate(ctx, "tenant-a", "orders", "customer_id")
			So(err, ShouldBeNil)
			So(estimate.RowCount, ShouldEqual, 250000)
			So(estimate.FieldCardinality, ShouldEqual, 1800)
		})

		Convey("When no estimate exists yet", func() {
			estimate, err := cat.Estimate(ctx, "tenant-b", "orders", "customer_id")

			Convey("Then a zero estimate should come back, not an error", func() {
				So(err, ShouldBeNil)
				So(estimate.RowCount, ShouldEqual, 0)
				So(estimate.FieldCardinality, ShouldEqual, 0)
			})
		})
	})
}
