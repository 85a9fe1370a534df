package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/samsamfire/gochademo/pkg/controller"
	"github.com/samsamfire/gochademo/pkg/session"
)

const namespace = "chademo"

// What the collector reads on every scrape
type Source interface {
	Role() session.Role
	Phase() session.Phase
	Setpoint() session.Setpoint
	Stats() controller.Stats
}

type counter struct {
	desc  *prometheus.Desc
	value func(s controller.Stats) uint64
}

// Collector exports controller statistics and the session phase
type Collector struct {
	source      Source
	counters    []counter
	phase       *prometheus.Desc
	setpoint    *prometheus.Desc
	busError    *prometheus.Desc
	transitions *prometheus.CounterVec
}

func newCounter(name string, help string, role session.Role, value func(s controller.Stats) uint64) counter {
	return counter{
		desc: prometheus.NewDesc(prometheus.BuildFQName(namespace, "", name), help, nil,
			prometheus.Labels{"role": role.String()}),
		value: value,
	}
}

// Create a collector and register it with its transition counter
func NewCollector(source Source, reg prometheus.Registerer) (*Collector, error) {
	role := source.Role()
	labels := prometheus.Labels{"role": role.String()}
	c := &Collector{
		source: source,
		counters: []counter{
			newCounter("cycles_total", "Drive cycles run", role, func(s controller.Stats) uint64 { return s.Cycles }),
			newCounter("frames_received_total", "Peer frames decoded", role, func(s controller.Stats) uint64 { return s.FramesReceived }),
			newCounter("frames_sent_total", "Frames transmitted", role, func(s controller.Stats) uint64 { return s.FramesSent }),
			newCounter("decode_errors_total", "Frames discarded as malformed", role, func(s controller.Stats) uint64 { return s.DecodeErrors }),
			newCounter("unknown_frames_total", "Frames with an unknown identifier", role, func(s controller.Stats) uint64 { return s.UnknownFrames }),
			newCounter("transport_errors_total", "Frames that could not be sent", role, func(s controller.Stats) uint64 { return s.TransportErrors }),
			newCounter("frames_dropped_total", "Frames lost on reception", role, func(s controller.Stats) uint64 { return s.FramesDropped }),
			newCounter("warnings_total", "Safety warnings", role, func(s controller.Stats) uint64 { return s.Warnings }),
			newCounter("faults_total", "Faults latched", role, func(s controller.Stats) uint64 { return s.Faults }),
		},
		phase: prometheus.NewDesc(prometheus.BuildFQName(namespace, "session", "phase"),
			"Current session phase, 1 for the active phase", []string{"phase"}, labels),
		setpoint: prometheus.NewDesc(prometheus.BuildFQName(namespace, "session", "setpoint_amperes"),
			"Commanded current", []string{"direction"}, labels),
		busError: prometheus.NewDesc(prometheus.BuildFQName(namespace, "bus", "error_flags"),
			"CAN error flags seen during the last drive cycle", nil, labels),
	}
	if err := reg.Register(c); err != nil {
		return nil, err
	}
	c.transitions = promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
		Namespace:   namespace,
		Subsystem:   "session",
		Name:        "transitions_total",
		Help:        "Phase transitions by destination phase",
		ConstLabels: labels,
	}, []string{"phase"})
	return c, nil
}

// Record a phase change, to be chained into the phase change callback
func (c *Collector) ObservePhaseChange(from session.Phase, to session.Phase) {
	c.transitions.WithLabelValues(to.String()).Inc()
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	for _, counter := range c.counters {
		ch <- counter.desc
	}
	ch <- c.phase
	ch <- c.setpoint
	ch <- c.busError
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	stats := c.source.Stats()
	for _, counter := range c.counters {
		ch <- prometheus.MustNewConstMetric(counter.desc, prometheus.CounterValue, float64(counter.value(stats)))
	}
	current := c.source.Phase()
	for _, phase := range session.Phases {
		value := 0.0
		if phase == current {
			value = 1
		}
		ch <- prometheus.MustNewConstMetric(c.phase, prometheus.GaugeValue, value, phase.String())
	}
	setpoint := c.source.Setpoint()
	ch <- prometheus.MustNewConstMetric(c.setpoint, prometheus.GaugeValue, float64(setpoint.Current), setpoint.Direction.String())
	ch <- prometheus.MustNewConstMetric(c.busError, prometheus.GaugeValue, float64(stats.BusError))
}
