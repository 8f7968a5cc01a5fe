package agent

import (
	"context"

	"github.com/skiffworks/skiff/internal/agent/gc"
	"github.com/skiffworks/skiff/internal/agent/isolator"
	"github.com/skiffworks/skiff/internal/agent/options"
	"github.com/skiffworks/skiff/internal/agent/state"
	"github.com/skiffworks/skiff/internal/agent/updates"
	"github.com/skiffworks/skiff/pkg/actor"
	"github.com/skiffworks/skiff/pkg/actor/actors"
)

// recover reads the checkpointed state of the previous run and rebuilds the in-memory records.
// Under the reconnect policy, recovered executors stay in REGISTERING awaiting their
// re-registration; under cleanup they are shut down outright. Errors are fatal iff strict.
func (s *Slave) recover(ctx *actor.Context) error {
	recovered, err := state.Read(s.opts.MetaDir)
	if err != nil && s.opts.Strict {
		return err
	} else if err != nil {
		ctx.Log().WithError(err).Error("ignoring unrecoverable checkpoint entries")
	}
	if recovered == nil {
		ctx.Log().Info("no checkpointed state found; starting fresh")
		return nil
	}

	reconnect := s.opts.Recover == options.RecoverReconnect
	ctx.Log().Infof("recovering slave %s (reconnect: %v)", recovered.ID, reconnect)
	s.id = recovered.ID
	s.info.ID = recovered.ID

	var runs []isolator.RecoveredRun
	var streams []updates.RecoveredStream

	for fwID, fwState := range recovered.Frameworks {
		framework := newFramework(fwID, fwState.Info, fwState.Pid)
		s.frameworks[fwID] = framework

		for execID, execState := range fwState.Executors {
			run, ok := execState.Runs[execState.LatestRun]
			if !ok {
				continue
			}
			executor := newExecutor(fwID, execState.Info, execState.LatestRun,
				s.executorRunPath(fwID, execID, execState.LatestRun), true)
			framework.Executors[execID] = executor

			for taskID, taskState := range run.Tasks {
				executor.recoverTask(taskState)
				streams = append(streams, updates.RecoveredStream{
					FrameworkID: fwID,
					TaskID:      taskID,
					LogPath: state.TaskUpdatesPath(s.opts.MetaDir, s.id, fwID, execID,
						run.ID, taskID),
					Updates: taskState.Updates,
					Acked:   taskState.Acked,
				})
			}

			runs = append(runs, isolator.RecoveredRun{
				FrameworkID: fwID,
				ExecutorID:  execID,
				Handle: isolator.Handle{
					ForkedPid:   run.ForkedPid,
					ContainerID: run.ContainerID,
				},
			})

			// Older runs of the executor only hold garbage now.
			for runID := range execState.Runs {
				if runID != execState.LatestRun {
					ctx.Tell(s.gcRef, gc.Schedule{
						Path:  s.executorRunPath(fwID, execID, runID),
						Delay: s.opts.GCDelay,
					})
				}
			}

			ctx.Log().Infof("recovered executor %s of framework %s with %d live and %d pending tasks",
				execID, fwID, len(executor.LaunchedTasks), len(executor.TerminatedTasks))
		}
	}

	if err := s.iso.Recover(context.Background(), runs); err != nil {
		if s.opts.Strict {
			return err
		}
		ctx.Log().WithError(err).Error("isolator failed to recover some runs")
	}
	ctx.Tell(s.updatesMgr, updates.Recover{Streams: streams})

	// Watch every recovered run for exit, whether we reconnect to it or kill it.
	for _, framework := range s.frameworks {
		for _, executor := range framework.Executors {
			s.awaitExecutor(ctx, framework.ID, executor.ID, executor.RunID)
		}
	}

	if reconnect {
		actors.NotifyAfterOn(ctx, s.clk, s.opts.ExecutorReregistrationTimeout,
			reregisterTimeout{})
	} else {
		for _, framework := range s.frameworks {
			for _, executor := range framework.Executors {
				s.shutdownExecutor(ctx, framework, executor)
			}
		}
	}
	return nil
}

// reregisterExecutorTimeout shuts down every recovered executor that did not re-register within
// the grace period.
func (s *Slave) reregisterExecutorTimeout(ctx *actor.Context) {
	for _, framework := range s.frameworks {
		for _, executor := range framework.Executors {
			if executor.State == ExecutorRegistering {
				ctx.Log().Warnf("executor %s did not re-register within %s; shutting it down",
					executor.ID, s.opts.ExecutorReregistrationTimeout)
				s.shutdownExecutor(ctx, framework, executor)
			}
		}
	}
}
