package metrics

import (
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Prometheus metrics
	ticksReceivedMetric = promauto.NewCounter(prometheus.CounterOpts{
		Name: "terminal_ticks_received_total",
		Help: "The total number of live ticks decoded and applied",
	})

	decodeErrorsMetric = promauto.NewCounter(prometheus.CounterOpts{
		Name: "terminal_decode_errors_total",
		Help: "Total number of rejected tick payloads",
	})

	fallbackTicksMetric = promauto.NewCounter(prometheus.CounterOpts{
		Name: "terminal_fallback_ticks_total",
		Help: "Total number of ticks sourced from the key/value store or synthesized",
	})

	busErrorsMetric = promauto.NewCounter(prometheus.CounterOpts{
		Name: "terminal_bus_errors_total",
		Help: "Total number of transient bus failures",
	})

	framesRenderedMetric = promauto.NewCounter(prometheus.CounterOpts{
		Name: "terminal_frames_rendered_total",
		Help: "Total number of frames composed and written",
	})

	renderErrorsMetric = promauto.NewCounter(prometheus.CounterOpts{
		Name: "terminal_render_errors_total",
		Help: "Total number of frames that failed to compose",
	})

	stateGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "terminal_state",
		Help: "Current orchestrator state as an enum value",
	})

	frameDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "terminal_frame_render_seconds",
		Help:    "Time spent composing each frame",
		Buckets: prometheus.LinearBuckets(0.001, 0.001, 10),
	})

	// Internal counters mirrored for the health endpoint
	ticksReceived uint64
	decodeErrors  uint64
	fallbackTicks uint64
	lastFrameUnix int64
	startTime     = time.Now()
)

func IncTickReceived() {
	atomic.AddUint64(&ticksReceived, 1)
	ticksReceivedMetric.Inc()
}

func IncDecodeError() {
	atomic.AddUint64(&decodeErrors, 1)
	decodeErrorsMetric.Inc()
}

func IncFallbackTick() {
	atomic.AddUint64(&fallbackTicks, 1)
	fallbackTicksMetric.Inc()
}

func IncBusError() {
	busErrorsMetric.Inc()
}

func IncFrameRendered() {
	framesRenderedMetric.Inc()
	atomic.StoreInt64(&lastFrameUnix, time.Now().Unix())
}

func IncRenderError() {
	renderErrorsMetric.Inc()
}

func SetState(state int) {
	stateGauge.Set(float64(state))
}

func RecordFrameDuration(duration time.Duration) {
	frameDuration.Observe(duration.Seconds())
}

func GetStats() (uint64, uint64, uint64, time.Time, time.Duration) {
	return atomic.LoadUint64(&ticksReceived),
		atomic.LoadUint64(&decodeErrors),
		atomic.LoadUint64(&fallbackTicks),
		time.Unix(atomic.LoadInt64(&lastFrameUnix), 0),
		time.Since(startTime)
}

// LastFrameAge returns how long ago the last frame was written; a
// large age means the render loop is stuck.
func LastFrameAge() time.Duration {
	last := atomic.LoadInt64(&lastFrameUnix)
	if last == 0 {
		return 0
	}
	return time.Since(time.Unix(last, 0))
}
