// Package metrics implements a standalone HTTP server for serving pprof
// profiles and Prometheus metrics, plus the Prometheus collectors shared by
// the rest of the tracker.
package metrics

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/pprof"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rifttrack/tracker/pkg/log"
	"github.com/rifttrack/tracker/pkg/stop"
)

// AddressFamily returns the label value for reporting the address family of
// an IP address.
func AddressFamily(ip net.IP) string {
	switch {
	case ip == nil:
		return "Unknown"
	case ip.To4() != nil:
		return "IPv4"
	case len(ip) == net.IPv6len:
		return "IPv6"
	default:
		return "Unknown"
	}
}

// RequestDuration is the per-request latency histogram, labeled by the UDP
// action handled, the address family of the requesting peer and the error
// returned, if any. frontend/udp observes into it for every handled
// request, but only measures the duration when its EnableRequestTiming
// option is set (observing zero otherwise), since timing every packet has a
// measurable cost on the hot path.
var RequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
	Name: "tracker_udp_request_duration_seconds",
	Help: "The duration of time it takes to handle a UDP request",
}, []string{"action", "address_family", "error"})

func init() {
	prometheus.MustRegister(RequestDuration)
}

// Server represents a standalone HTTP server for serving a Prometheus metrics
// endpoint.
type Server struct {
	srv *http.Server
}

// Stop shuts down the server.
func (s *Server) Stop() stop.Result {
	c := make(stop.Channel)
	go func() {
		c.Done(s.srv.Shutdown(context.Background()))
	}()

	return c.Result()
}

// NewServer creates a new instance of a Prometheus server that asynchronously
// serves requests.
func NewServer(addr string) *Server {
	mux := http.NewServeMux()

	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)

	s := &Server{
		srv: &http.Server{
			Addr:    addr,
			Handler: mux,
		},
	}

	go func() {
		if err := s.srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("failed while serving prometheus", log.Err(err))
		}
	}()

	return s
}
