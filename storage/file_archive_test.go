package storage

import (
	"context"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/theapemachine/indexpilot/advisor"
	"github.com/theapemachine/indexpilot/audit"
)

func archiveEntry(id, tenantID string, createdAt time.Time) *audit.MutationLogEntry {
	return &audit.MutationLogEntry{
		ID: id,
		Decision: advisor.Decision{
			ID: "decision-" + id,
			Candidate: advisor.IndexCandidate{
				TenantID: tenantID,
				Table:    "orders",
				Field:    "customer_id",
			},
			Action: advisor.ActionCreate,
			Reason: "benefit 5000 clears build cost 1000 at margin 1.50",
		},
		Outcome:   audit.OutcomeApplied,
		CreatedAt: createdAt,
	}
}

func TestFileArchiveSaveAndGet(t *testing.T) {
	Convey("Given a file archive", t, func() {
		archive, err := NewFileArchive(t.TempDir())
		So(err, ShouldBeNil)
		ctx := context.Background()

		Convey("When saving an entry", func() {
			entry := archiveEntry("entry-1", "tenant-a", time.Now())
			So(archive.SaveEntry(ctx, entry), ShouldBeNil)

			Convey("Then it should load back by ID and tenant", func() {
				loaded, err := archive.GetEntry(ctx, "entry-1", "tenant-a")
				So(err, ShouldBeNil)
				So(loaded.Outcome, ShouldEqual, audit.OutcomeApplied)
				So(loaded.Decision.Candidate.Field, ShouldEqual, "customer_id")
			})

			Convey("Then it should load back without naming the tenant", func() {
				loaded, err := archive.GetEntry(ctx, "entry-1")
				So(err, ShouldBeNil)
				So(loaded.ID, ShouldEqual, "entry-1")
			})

			Convey("Then a missing ID should fail", func() {
				_, err := archive.GetEntry(ctx, "no-such-entry")
				So(err, ShouldNotBeNil)
			})
		})

		Convey("When saving an entry without ID or timestamp", func() {
			entry := archiveEntry("", "tenant-a", time.Time{})
			So(archive.SaveEntry(ctx, entry), ShouldBeNil)

			Convey("Then both should be assigned", func() {
				So(entry.ID, ShouldNotBeEmpty)
				So(entry.CreatedAt.IsZero(), ShouldBeFalse)
			})
		})
	})
}

func TestFileArchiveList(t *testing.T) {
	Convey("Given entries across two tenants", t, func() {
		archive, err := NewFileArchive(t.TempDir())
		So(err, ShouldBeNil)
		ctx := context.Background()
		base := time.Date(2026, 8, 28, 10, 0, 0, 0, time.UTC)

		So(archive.SaveEntry(ctx, archiveEntry("entry-1", "tenant-a", base)), ShouldBeNil)
		So(archive.SaveEntry(ctx, archiveEntry("entry-2", "tenant-a", base.Add(time.Hour))), ShouldBeNil)
		So(archive.SaveEntry(ctx, archiveEntry("entry-3", "tenant-b", base.Add(30*time.Minute))), ShouldBeNil)

		Convey("When listing everything", func() {
			entries, err := archive.ListEntries(ctx)

			Convey("Then all entries should come back newest first", func() {
				So(err, ShouldBeNil)
				So(entries, ShouldHaveLength, 3)
				So(entries[0].ID, ShouldEqual, "entry-2")
				So(entries[2].ID, ShouldEqual, "entry-1")
			})
		})

		Convey("When listing one tenant", func() {
			entries, err := archive.ListEntriesByTenant(ctx, "tenant-a")

			Convey("Then only that tenant's entries should appear", func() {
				So(err, ShouldBeNil)
				So(entries, ShouldHaveLength, 2)
			})
		})

		Convey("When listing an unknown tenant", func() {
			entries, err := archive.ListEntriesByTenant(ctx, "tenant-z")

			Convey("Then the result should be empty, not an error", func() {
				So(err, ShouldBeNil)
				So(entries, ShouldBeEmpty)
			})
		})
	})
}

func TestFileArchiveRetention(t *testing.T) {
	Convey("Given a mix of old and recent entries", t, func() {
		archive, err := NewFileArchive(t.TempDir())
		So(err, ShouldBeNil)
		ctx := context.Background()

		So(archive.SaveEntry(ctx, archiveEntry("old-1", "tenant-a", time.Now().Add(-100*24*time.Hour))), ShouldBeNil)
		So(archive.SaveEntry(ctx, archiveEntry("old-2", "tenant-b", time.Now().Add(-200*24*time.Hour))), ShouldBeNil)
		So(archive.SaveEntry(ctx, archiveEntry("recent", "tenant-a", time.Now())), ShouldBeNil)

		Convey("When deleting entries past the retention period", func() {
			deleted, err := archive.DeleteOldEntries(ctx, 90*24*time.Hour)

			Convey("Then only the old entries should go", func() {
				So(err, ShouldBeNil)
				So(deleted, ShouldEqual, 2)

				remaining, err := archive.ListEntries(ctx)
				So(err, ShouldBeNil)
				So(remaining, ShouldHaveLength, 1)
				So(remaining[0].ID, ShouldEqual, "recent")
			})
		})
	})
}
