package dispatch

import "time"

// timeNow is swapped by tests that assert on timestamps.
var timeNow = time.Now
