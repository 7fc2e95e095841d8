// Package metrics exposes Prometheus counters/gauges for the mission-control
// daemon: the same promauto + promhttp wiring used elsewhere, renamed to
// this daemon's protocol concerns (registry size, stream occupancy, codec
// errors, orchestrator timeouts/retries, console traffic) instead of
// hub/backend counters.
package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/naokiiwakami/mission-control/internal/logging"
)

var (
	ModulesRegistered = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "modules_registered",
		Help: "Current number of modules known to the registry.",
	})
	StreamsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "streams_active",
		Help: "Current number of outstanding stream rendezvous points.",
	})
	AdminWiresInUse = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "admin_wires_in_use",
		Help: "Current number of admin-wire ids allocated from the pool.",
	})
	CodecDecodeErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "codec_decode_errors_total",
		Help: "Total property-chunk decode failures (overflow, truncated field).",
	})
	DispatcherDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dispatcher_dropped_frames_total",
		Help: "Inbound frames dropped by the dispatcher, by reason.",
	}, []string{"reason"})
	OrchestratorTimeouts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "orchestrator_timeouts_total",
		Help: "Command executions that ended in a timeout, by command.",
	}, []string{"command"})
	OrchestratorRetries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "orchestrator_retries_total",
		Help: "Command execution retries, by command.",
	}, []string{"command"})
	ConsoleConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "console_connections_active",
		Help: "Current number of connected operator console clients.",
	})
	ConsoleCommands = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "console_commands_total",
		Help: "Operator console commands processed, by command name.",
	}, []string{"command"})
	SocketCANRxFrames = promauto.NewCounter(prometheus.CounterOpts{
		Name: "socketcan_rx_frames_total",
		Help: "Total CAN frames read from the SocketCAN interface.",
	})
	SocketCANTxFrames = promauto.NewCounter(prometheus.CounterOpts{
		Name: "socketcan_tx_frames_total",
		Help: "Total CAN frames written to the SocketCAN interface.",
	})
	SerialRxFrames = promauto.NewCounter(prometheus.CounterOpts{
		Name: "serial_rx_frames_total",
		Help: "Total CAN frames decoded from the serial-attached adapter.",
	})
	SerialTxFrames = promauto.NewCounter(prometheus.CounterOpts{
		Name: "serial_tx_frames_total",
		Help: "Total CAN frames written to the serial-attached adapter.",
	})
	BuildInfo = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "build_info",
		Help: "Build metadata (value is always 1).",
	}, []string{"version", "commit", "date"})
	Errors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "errors_total",
		Help: "Error counters by subsystem.",
	}, []string{"where"})

	readinessMu sync.RWMutex
	readinessFn func() bool
)

// Error label constants (stable label values to bound cardinality).
const (
	ErrTCPRead       = "tcp_read"
	ErrTCPWrite      = "tcp_write"
	ErrSerialWrite   = "serial_write"
	ErrSerialRead    = "serial_read"
	ErrSerialOver    = "serial_tx_overflow"
	ErrSocketCANRead = "socketcan_read"
	ErrSocketCANWr   = "socketcan_write"
	ErrSocketCANOver = "socketcan_tx_overflow"
)

func IncError(where string) { Errors.WithLabelValues(where).Inc() }

func IncSocketCANRx() { SocketCANRxFrames.Inc() }
func IncSocketCANTx() { SocketCANTxFrames.Inc() }
func IncSerialRx()    { SerialRxFrames.Inc() }
func IncSerialTx()    { SerialTxFrames.Inc() }

func SetModulesRegistered(n int) { ModulesRegistered.Set(float64(n)) }
func SetStreamsActive(n int)     { StreamsActive.Set(float64(n)) }
func SetAdminWiresInUse(n int)   { AdminWiresInUse.Set(float64(n)) }
func IncCodecDecodeError()       { CodecDecodeErrors.Inc() }
func IncDispatcherDropped(reason string) {
	DispatcherDropped.WithLabelValues(reason).Inc()
}
func IncOrchestratorTimeout(command string) { OrchestratorTimeouts.WithLabelValues(command).Inc() }
func IncOrchestratorRetry(command string)   { OrchestratorRetries.WithLabelValues(command).Inc() }
func IncConsoleCommand(command string)      { ConsoleCommands.WithLabelValues(command).Inc() }
func SetConsoleConnections(n int)           { ConsoleConnections.Set(float64(n)) }

// SetReadinessFunc installs the predicate used by the /ready endpoint.
func SetReadinessFunc(fn func() bool) {
	readinessMu.Lock()
	readinessFn = fn
	readinessMu.Unlock()
}

// IsReady evaluates the installed readiness predicate (true if none set).
func IsReady() bool {
	readinessMu.RLock()
	fn := readinessFn
	readinessMu.RUnlock()
	if fn == nil {
		return true
	}
	return fn()
}

// InitBuildInfo records static build metadata as a gauge with value 1.
func InitBuildInfo(version, commit, date string) {
	BuildInfo.WithLabelValues(version, commit, date).Set(1)
}

// StartHTTP serves Prometheus metrics at /metrics and readiness at /ready.
func StartHTTP(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		if IsReady() {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ready\n"))
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("not ready\n"))
	})
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		logging.L().Info("metrics_listen", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.L().Error("metrics_http_error", "error", err)
		}
	}()
	return srv
}
