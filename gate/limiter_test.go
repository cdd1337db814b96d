package gate

import (
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"
)

func TestLimiterBurst(t *testing.T) {
	Convey("Given a limiter with a burst of two and a slow refill", t, func() {
		limiter := NewLimiter(1, time.Hour, 2)

		Convey("When one tenant drains the burst", func() {
			So(limiter.Allow("tenant-a"), ShouldBeTrue)
			So(limiter.Allow("tenant-a"), ShouldBeTrue)

			Convey("Then further requests should be denied", func() {
				So(limiter.Allow("tenant-a"), ShouldBeFalse)
			})

			Convey("Then the global bucket caps other tenants too", func() {
				So(limiter.Allow("tenant-b"), ShouldBeFalse)
			})
		})
	})
}

func TestLimiterSaturation(t *testing.T) {
	Convey("Given a fresh limiter", t, func() {
		limiter := NewLimiter(1, time.Hour, 4)

		Convey("Then it should start idle", func() {
			So(limiter.Saturation(), ShouldBeLessThan, 0.01)
		})

		Convey("When the bucket is drained", func() {
			for i := 0; i < 4; i++ {
				So(limiter.Allow("tenant-a"), ShouldBeTrue)
			}

			Convey("Then saturation should approach one", func() {
				So(limiter.Saturation(), ShouldBeGreaterThan, 0.99)
			})
		})
	})
}

func TestLimiterNoTokenLeak(t *testing.T) {
	Convey("Given a limiter with an exhausted global bucket", t, func() {
		limiter := NewLimiter(1, time.Hour, 1)
		So(limiter.Allow("tenant-a"), ShouldBeTrue)

		Convey("When a second tenant is denied repeatedly", func() {
			for i := 0; i < 5; i++ {
				So(limiter.Allow("tenant-b"), ShouldBeFalse)
			}

			Convey("Then the denied attempts should not burn future tokens", func() {
				// A cancelled reservation returns its token; saturation
				// reflects exactly the one granted build.
				So(limiter.Saturation(), ShouldBeGreaterThan, 0.99)
			})
		})
	})
}
