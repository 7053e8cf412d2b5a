package api

import (
	"testing"

	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		// HTTP/2 connection pool goroutines persist across tests
		goleak.IgnoreTopFunction("internal/poll.runtime_pollWait"),
		// OpenCensus stats worker is a global singleton that can't be stopped
		goleak.IgnoreTopFunction("go.opencensus.io/stats/view.(*worker).start"),
	)
}
