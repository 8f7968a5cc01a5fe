package agent

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/docker/go-units"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/skiffworks/skiff/internal/agent/monitor"
	"github.com/skiffworks/skiff/pkg/actor"
	"github.com/skiffworks/skiff/pkg/actor/api"
	"github.com/skiffworks/skiff/pkg/logger"
	"github.com/skiffworks/skiff/pkg/sproto"
)

// StateSnapshot is the JSON document served by the state endpoint.
type StateSnapshot struct {
	Version   string           `json:"version"`
	State     SlaveState       `json:"state"`
	ID        sproto.SlaveID   `json:"id"`
	Info      sproto.SlaveInfo `json:"info"`
	StartTime time.Time        `json:"start_time"`

	MasterEndpoint string `json:"master_endpoint,omitempty"`

	Frameworks          []*Framework `json:"frameworks"`
	CompletedFrameworks []*Framework `json:"completed_frameworks"`
}

// snapshot returns a detached copy of the agent's records: the caller reads it outside the
// actor's thread.
func (s *Slave) snapshot() StateSnapshot {
	frameworks := make([]*Framework, 0, len(s.frameworks))
	for _, framework := range s.frameworks {
		frameworks = append(frameworks, framework)
	}
	live := StateSnapshot{
		Version:   s.version,
		State:     s.state,
		ID:        s.id,
		Info:      s.info,
		StartTime: s.stats.StartTime,

		MasterEndpoint: s.masterEndpoint,

		Frameworks:          frameworks,
		CompletedFrameworks: s.completedFrameworks,
	}

	data, err := json.Marshal(live)
	if err != nil {
		return live
	}
	var detached StateSnapshot
	if err := json.Unmarshal(data, &detached); err != nil {
		return live
	}
	return detached
}

// setupRoutes installs the agent's executor endpoint and its JSON inspection endpoints.
func setupRoutes(
	e *echo.Echo, system *actor.System, slave *actor.Ref, buffer *logger.LogBuffer,
) {
	e.GET("/executor", func(c echo.Context) error {
		resp := system.Ask(slave, api.WebSocketConnected{Ctx: c}).Get()
		switch resp := resp.(type) {
		case *actor.Ref:
			return nil
		case error:
			return resp
		default:
			return errors.Errorf("unexpected response accepting executor socket: %T", resp)
		}
	})

	e.GET("/agent/state", func(c echo.Context) error {
		resp := system.Ask(slave, GetState{}).Get()
		if err, ok := resp.(error); ok {
			return err
		}
		return c.JSON(http.StatusOK, resp)
	})

	e.GET("/agent/stats", func(c echo.Context) error {
		resp := system.Ask(slave, GetStats{}).Get()
		if err, ok := resp.(error); ok {
			return err
		}
		return c.JSON(http.StatusOK, resp)
	})

	e.GET("/agent/usage", func(c echo.Context) error {
		resp := system.AskAt(actor.Addr("slave", "monitor"), monitor.GetUsage{}).Get()
		usage, ok := resp.(monitor.Usage)
		if !ok {
			return errors.New("monitor is unavailable")
		}
		executors := make([]map[string]interface{}, 0, len(usage.Executors))
		for key, stats := range usage.Executors {
			executors = append(executors, map[string]interface{}{
				"framework_id":    key.FrameworkID,
				"executor_id":     key.ExecutorID,
				"statistics":      stats,
				"mem_rss":         units.BytesSize(float64(stats.MemoryRSSBytes)),
				"mem_limit":       units.BytesSize(float64(stats.MemoryLimit)),
				"cpu_user_time":   time.Duration(stats.CPUsUserTime * float64(time.Second)).String(),
				"cpu_system_time": time.Duration(stats.CPUsSystemTime * float64(time.Second)).String(),
			})
		}
		return c.JSON(http.StatusOK, executors)
	})

	e.GET("/agent/logs", func(c echo.Context) error {
		return c.JSON(http.StatusOK, buffer.Entries())
	})

	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
}
