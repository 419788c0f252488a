package udp

import (
	"errors"
	"net"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/rifttrack/tracker/bittorrent"
	"github.com/rifttrack/tracker/pkg/metrics"
)

// recoveredPanics counts datagrams dropped because handling them panicked,
// per §7's requirement that no panic may escape a worker loop.
var recoveredPanics = prometheus.NewCounter(prometheus.CounterOpts{
	Name: "tracker_udp_recovered_panics_total",
	Help: "The total number of UDP requests dropped due to a recovered panic",
})

func init() {
	prometheus.MustRegister(recoveredPanics)
}

// recordResponseDuration records the time taken to answer a UDP request in
// pkg/metrics's shared request-duration histogram, labeled by the action
// name, the peer's address family, and the error (if any) it returned.
func recordResponseDuration(action string, ip net.IP, err error, duration time.Duration) {
	var errString string
	if err != nil {
		var clientErr bittorrent.ClientError
		if errors.As(err, &clientErr) {
			errString = clientErr.Error()
		} else {
			errString = "internal error"
		}
	}

	metrics.RequestDuration.
		WithLabelValues(action, metrics.AddressFamily(ip), errString).
		Observe(duration.Seconds())
}
