package agent

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	statusUpdatesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "skiff",
		Subsystem: "agent",
		Name:      "status_updates_total",
		Help:      "Status updates handled by the agent, by validity.",
	}, []string{"valid"})

	frameworkMessagesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "skiff",
		Subsystem: "agent",
		Name:      "framework_messages_total",
		Help:      "Framework messages relayed by the agent, by validity.",
	}, []string{"valid"})

	tasksTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "skiff",
		Subsystem: "agent",
		Name:      "tasks_total",
		Help:      "Tasks observed reaching each state.",
	}, []string{"state"})
)

func init() {
	prometheus.MustRegister(statusUpdatesTotal, frameworkMessagesTotal, tasksTotal)
}

// Stats mirrors the prometheus counters in a JSON-friendly snapshot for the stats endpoint.
type Stats struct {
	StartTime time.Time `json:"start_time"`
	Uptime    string    `json:"uptime"`

	Tasks map[string]uint64 `json:"tasks"`

	ValidStatusUpdates       uint64 `json:"valid_status_updates"`
	InvalidStatusUpdates     uint64 `json:"invalid_status_updates"`
	ValidFrameworkMessages   uint64 `json:"valid_framework_messages"`
	InvalidFrameworkMessages uint64 `json:"invalid_framework_messages"`
}

func newStats() Stats {
	return Stats{
		StartTime: time.Now(),
		Tasks:     make(map[string]uint64),
	}
}

func (s *Stats) countTask(state string) {
	s.Tasks[state]++
	tasksTotal.WithLabelValues(state).Inc()
}

func (s *Stats) countStatusUpdate(valid bool) {
	if valid {
		s.ValidStatusUpdates++
		statusUpdatesTotal.WithLabelValues("true").Inc()
	} else {
		s.InvalidStatusUpdates++
		statusUpdatesTotal.WithLabelValues("false").Inc()
	}
}

func (s *Stats) countFrameworkMessage(valid bool) {
	if valid {
		s.ValidFrameworkMessages++
		frameworkMessagesTotal.WithLabelValues("true").Inc()
	} else {
		s.InvalidFrameworkMessages++
		frameworkMessagesTotal.WithLabelValues("false").Inc()
	}
}
