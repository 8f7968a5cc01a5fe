package agent

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/skiffworks/skiff/internal/agent/isolator"
	"github.com/skiffworks/skiff/internal/agent/options"
	"github.com/skiffworks/skiff/pkg/actor"
	"github.com/skiffworks/skiff/pkg/logger"
)

// Run starts the node agent and blocks until it shuts down. The returned error is non-nil on a
// fatal failure, including a recovery failure under the strict option.
func Run(ctx context.Context, version string, opts options.Options) error {
	buffer := logger.NewLogBuffer(opts.LogRingSize)
	logrus.AddHook(buffer)

	var iso isolator.Isolator
	switch opts.Isolation {
	case "docker":
		docker, err := isolator.NewDockerIsolator()
		if err != nil {
			return err
		}
		iso = docker
	default:
		iso = isolator.NewProcessIsolator()
	}

	system := actor.NewSystem("skiff-agent")
	detector := StaticDetector{Endpoint: opts.MasterEndpoint()}
	slave, created := system.ActorOf(actor.Addr("slave"),
		NewSlave(version, opts, clock.New(), iso, detector))
	if !created {
		return errors.New("failed to create the slave actor")
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	setupRoutes(e, system, slave, buffer)

	bindAddr := fmt.Sprintf("%s:%d", opts.BindIP, opts.BindPort)
	go func() {
		if err := e.Start(bindAddr); err != nil && err != http.ErrServerClosed {
			logrus.WithError(err).Error("agent api server failed")
			slave.Stop()
		}
	}()
	logrus.Infof("serving executor and inspection endpoints on %s", bindAddr)

	err := slave.AwaitTermination()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if sErr := e.Shutdown(shutdownCtx); sErr != nil {
		logrus.WithError(sErr).Warn("failed to shut down the api server cleanly")
	}
	system.Stop()
	return err
}
