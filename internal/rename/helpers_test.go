package rename_test

import "time"

func testTime() time.Time {
	return time.Date(2000, 1, 2, 0, 0, 0, 0, time.UTC)
}
