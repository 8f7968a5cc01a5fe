// Package agent implements the node agent: the per-node daemon that accepts task launches from
// the master, supervises executors through an isolator, reports status updates reliably, and
// recovers its state across restarts.
package agent

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"syscall"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/skiffworks/skiff/internal/agent/gc"
	"github.com/skiffworks/skiff/internal/agent/isolator"
	"github.com/skiffworks/skiff/internal/agent/monitor"
	"github.com/skiffworks/skiff/internal/agent/options"
	"github.com/skiffworks/skiff/internal/agent/state"
	"github.com/skiffworks/skiff/internal/agent/updates"
	"github.com/skiffworks/skiff/pkg/actor"
	"github.com/skiffworks/skiff/pkg/actor/actors"
	"github.com/skiffworks/skiff/pkg/actor/api"
	"github.com/skiffworks/skiff/pkg/check"
	"github.com/skiffworks/skiff/pkg/mathx"
	"github.com/skiffworks/skiff/pkg/resource"
	"github.com/skiffworks/skiff/pkg/sproto"
)

// SlaveState represents the current state of the agent.
type SlaveState string

const (
	// SlaveRecovering means the agent is replaying checkpoints.
	SlaveRecovering SlaveState = "RECOVERING"
	// SlaveDisconnected means the agent is not registered with a master.
	SlaveDisconnected SlaveState = "DISCONNECTED"
	// SlaveRunning means the agent has (re-)registered with the master.
	SlaveRunning SlaveState = "RUNNING"
	// SlaveTerminating means the agent is shutting down.
	SlaveTerminating SlaveState = "TERMINATING"
)

// validSlaveTransitions is the agent's state machine. DISCONNECTED is the only re-enterable
// state; it is re-entered from RUNNING on master loss.
var validSlaveTransitions = map[SlaveState]map[SlaveState]bool{
	SlaveRecovering:   {SlaveDisconnected: true, SlaveTerminating: true},
	SlaveDisconnected: {SlaveRunning: true, SlaveTerminating: true},
	SlaveRunning:      {SlaveDisconnected: true, SlaveTerminating: true},
	SlaveTerminating:  {},
}

// Internal messages of the slave actor.
type (
	// masterConnected reports a successful dial of the master endpoint.
	masterConnected struct {
		endpoint string
		conn     *websocket.Conn
	}

	// masterDialFailed reports a failed dial of the master endpoint.
	masterDialFailed struct {
		endpoint string
		err      error
	}

	// registerTick drives reliable (re-)registration with the master.
	registerTick struct{}

	// runTaskReady resumes a task launch once the GC has unscheduled the executor's
	// directories.
	runTaskReady struct {
		msg sproto.RunTask
	}

	// launched reports the isolator's answer to an executor launch.
	launched struct {
		frameworkID sproto.FrameworkID
		executorID  sproto.ExecutorID
		runID       uuid.UUID
		handle      isolator.Handle
		err         error
	}

	// executorExited reports that an executor's process has exited.
	executorExited struct {
		frameworkID sproto.FrameworkID
		executorID  sproto.ExecutorID
		runID       uuid.UUID
		status      isolator.ExitStatus
	}

	// registerTimeout fires when an executor has not registered in time. The runID guards
	// against a stale timer firing for a re-launched executor with the same id.
	registerTimeout struct {
		frameworkID sproto.FrameworkID
		executorID  sproto.ExecutorID
		runID       uuid.UUID
	}

	// shutdownTimeout fires the kill phase of the two-phase executor shutdown.
	shutdownTimeout struct {
		frameworkID sproto.FrameworkID
		executorID  sproto.ExecutorID
		runID       uuid.UUID
	}

	// reregisterTimeout ends the recovery grace period for executor re-registration.
	reregisterTimeout struct{}

	// checkDisk triggers a disk usage probe.
	checkDisk struct{}

	// diskUsage reports the probed usage fraction.
	diskUsage struct {
		usage float64
		err   error
	}

	// GetState asks for a JSON-friendly snapshot of the agent.
	GetState struct{}

	// GetStats asks for the agent's counters.
	GetStats struct{}
)

// executorKey identifies an executor across the agent's socket bookkeeping.
type executorKey struct {
	frameworkID sproto.FrameworkID
	executorID  sproto.ExecutorID
}

// Slave is the top-level node agent actor.
type Slave struct {
	version  string
	opts     options.Options
	clk      clock.Clock
	iso      isolator.Isolator
	detector MasterDetector
	// diskUsageFn probes the used fraction of the work directory's filesystem.
	diskUsageFn func(string) (float64, error)

	state SlaveState
	info  sproto.SlaveInfo
	id    sproto.SlaveID

	masterEndpoint string
	masterSocket   *actor.Ref
	registerOff    *backoff.ExponentialBackOff

	frameworks          map[sproto.FrameworkID]*Framework
	completedFrameworks []*Framework
	socketToExecutor    map[*actor.Ref]executorKey

	updatesMgr *actor.Ref
	gcRef      *actor.Ref
	monitorRef *actor.Ref

	stats Stats
}

// NewSlave returns a node agent actor.
func NewSlave(
	version string, opts options.Options, clk clock.Clock,
	iso isolator.Isolator, detector MasterDetector,
) *Slave {
	off := backoff.NewExponentialBackOff()
	off.InitialInterval = registerInitialBackoff
	off.MaxInterval = registerMaxBackoff
	off.MaxElapsedTime = 0
	off.Reset()

	return &Slave{
		version:     version,
		opts:        opts,
		clk:         clk,
		iso:         iso,
		detector:    detector,
		diskUsageFn: diskUsageOf,

		state:       SlaveRecovering,
		registerOff: off,

		frameworks:       make(map[sproto.FrameworkID]*Framework),
		socketToExecutor: make(map[*actor.Ref]executorKey),

		stats: newStats(),
	}
}

// Receive implements the actor.Actor interface.
func (s *Slave) Receive(ctx *actor.Context) error {
	switch msg := ctx.Message().(type) {
	case actor.PreStart:
		return s.initialize(ctx)

	case NewMasterDetected:
		s.newMasterDetected(ctx, msg.Endpoint)
	case NoMasterDetected:
		ctx.Log().Warn("lost leading master")
		s.masterDisconnected(ctx)
	case masterConnected:
		s.masterConnected(ctx, msg)
	case masterDialFailed:
		ctx.Log().WithError(msg.err).Warnf("failed to connect to master at %s", msg.endpoint)
		s.retryMaster(ctx, msg.endpoint)
	case registerTick:
		s.doReliableRegistration(ctx)

	case sproto.SlaveMessage:
		s.receiveMasterMessage(ctx, msg)
	case sproto.ExecutorMessage:
		s.receiveExecutorMessage(ctx, msg)

	case api.WebSocketConnected:
		// An executor is connecting; it stays anonymous until it registers.
		msg.Accept(ctx, sproto.ExecutorMessage{})

	case runTaskReady:
		s.runTaskReady(ctx, msg.msg)
	case launched:
		s.launched(ctx, msg)
	case executorExited:
		s.executorExited(ctx, msg)
	case registerTimeout:
		s.registerExecutorTimeout(ctx, msg)
	case shutdownTimeout:
		s.shutdownExecutorTimeout(ctx, msg)
	case reregisterTimeout:
		s.reregisterExecutorTimeout(ctx)

	case updates.ForwardUpdate:
		s.forwardUpdateToMaster(ctx, msg.Update)
	case updates.Accepted:
		s.updateAccepted(ctx, msg)
	case updates.AckResult:
		s.acknowledgementDone(ctx, msg)

	case checkDisk:
		actors.NotifyAfterOn(ctx, s.clk, s.opts.DiskWatchInterval, checkDisk{})
		go s.probeDiskUsage(ctx)
	case diskUsage:
		s.checkDiskUsage(ctx, msg)

	case GetState:
		ctx.Respond(s.snapshot())
	case GetStats:
		stats := s.stats
		stats.Uptime = time.Since(s.stats.StartTime).String()
		stats.Tasks = make(map[string]uint64, len(s.stats.Tasks))
		for state, count := range s.stats.Tasks {
			stats.Tasks[state] = count
		}
		ctx.Respond(stats)

	case os.Signal:
		switch msg {
		case syscall.SIGINT, syscall.SIGTERM:
			ctx.Log().Info("shutting down agent")
			s.shutdown(ctx)
		default:
			ctx.Log().Infof("ignoring signal %s", msg)
		}

	case actor.ChildFailed:
		return s.childFailed(ctx, msg)
	case actor.ChildStopped:
		s.childStopped(ctx, msg.Child)

	case actor.PostStop:
		ctx.Log().Info("agent shut down")

	default:
		return actor.ErrUnexpectedMessage(ctx)
	}
	return nil
}

func (s *Slave) initialize(ctx *actor.Context) error {
	ctx.Log().Infof("skiff agent %s starting on %s", s.version, s.opts.Hostname)
	actors.NotifyOnSignal(ctx, syscall.SIGINT, syscall.SIGTERM)

	resources := detectResources()
	if s.opts.Resources != "" {
		parsed, err := resource.Parse(s.opts.Resources)
		if err != nil {
			return err
		}
		resources = parsed
	}
	attributes, err := sproto.ParseAttributes(s.opts.Attributes)
	if err != nil {
		return err
	}
	s.info = sproto.SlaveInfo{
		Hostname:   s.opts.Hostname,
		Port:       s.opts.BindPort,
		Resources:  resources,
		Attributes: attributes,
		Checkpoint: s.opts.Checkpoint,
	}
	ctx.Log().Infof("advertising resources %s", resources)

	updateOpts := updates.DefaultOptions()
	updateOpts.Strict = s.opts.Strict
	s.updatesMgr, _ = ctx.ActorOf("status-updates",
		updates.NewManager(updateOpts, s.clk, ctx.Self()))
	s.gcRef, _ = ctx.ActorOf("gc", gc.New(s.clk))
	s.monitorRef, _ = ctx.ActorOf("monitor",
		monitor.New(s.iso, s.clk, s.opts.DiskWatchInterval))

	if err := s.recover(ctx); err != nil {
		if s.opts.Strict {
			return err
		}
		ctx.Log().WithError(err).Error("recovery failed; continuing without the affected state")
	}
	s.transition(ctx, SlaveDisconnected)

	actors.NotifyAfterOn(ctx, s.clk, s.opts.DiskWatchInterval, checkDisk{})
	s.detector.Detect(ctx.Self().System(), ctx.Self())
	return nil
}

func (s *Slave) transition(ctx *actor.Context, to SlaveState) {
	check.Panic(check.True(validSlaveTransitions[s.state][to],
		"agent cannot transition from %s to %s", s.state, to))
	ctx.Log().Infof("agent state %s -> %s", s.state, to)
	s.state = to
}

// Master connection management.

func (s *Slave) newMasterDetected(ctx *actor.Context, endpoint string) {
	if s.state == SlaveTerminating {
		return
	}
	ctx.Log().Infof("new master detected at %s", endpoint)
	s.masterEndpoint = endpoint
	if s.masterSocket != nil {
		s.killSocket(ctx, s.masterSocket)
		s.masterSocket = nil
	}
	if s.state == SlaveRunning {
		s.masterDisconnected(ctx)
	}
	s.dialMaster(ctx, endpoint)
}

// killSocket kills a socket child without treating its stop as a failure.
func (s *Slave) killSocket(ctx *actor.Context, socket *actor.Ref) {
	ctx.Kill(socket.Address().Local())
}

func (s *Slave) dialMaster(ctx *actor.Context, endpoint string) {
	go func() {
		conn, resp, err := websocket.DefaultDialer.Dial(endpoint, nil)
		if resp != nil && resp.Body != nil {
			_ = resp.Body.Close()
		}
		if err != nil {
			ctx.Tell(ctx.Self(), masterDialFailed{endpoint: endpoint, err: err})
			return
		}
		ctx.Tell(ctx.Self(), masterConnected{endpoint: endpoint, conn: conn})
	}()
}

func (s *Slave) retryMaster(ctx *actor.Context, endpoint string) {
	if s.state == SlaveTerminating || endpoint != s.masterEndpoint {
		return
	}
	actors.NotifyAfterOn(ctx, s.clk, s.registerOff.NextBackOff(),
		NewMasterDetected{Endpoint: endpoint})
}

func (s *Slave) masterConnected(ctx *actor.Context, msg masterConnected) {
	if s.state == SlaveTerminating || msg.endpoint != s.masterEndpoint {
		_ = msg.conn.Close()
		return
	}
	socket, _ := ctx.ActorOf("master-socket-"+uuid.New().String(),
		api.WrapSocket(msg.conn, sproto.SlaveMessage{}))
	s.masterSocket = socket
	s.registerOff.Reset()
	s.doReliableRegistration(ctx)
}

// doReliableRegistration announces the agent to the master, retrying with exponential backoff
// and jitter until the master answers with Registered or Reregistered.
func (s *Slave) doReliableRegistration(ctx *actor.Context) {
	if s.state != SlaveDisconnected || s.masterSocket == nil {
		return
	}

	var msg sproto.MasterMessage
	if s.id == "" {
		msg.RegisterSlave = &sproto.RegisterSlave{Slave: s.info}
	} else {
		msg.ReregisterSlave = &sproto.ReregisterSlave{SlaveID: s.id, Slave: s.info}
	}
	if err := api.WriteSocketJSON(ctx, s.masterSocket, msg); err != nil {
		ctx.Log().WithError(err).Warn("failed to send registration to master")
	}
	actors.NotifyAfterOn(ctx, s.clk, s.registerOff.NextBackOff(), registerTick{})
}

func (s *Slave) registered(ctx *actor.Context, slaveID sproto.SlaveID, reregistration bool) {
	if s.state != SlaveDisconnected {
		ctx.Log().Debugf("ignoring registration reply in state %s", s.state)
		return
	}
	if s.id != "" && s.id != slaveID {
		ctx.Log().Errorf("master assigned a different slave id %s (have %s); shutting down",
			slaveID, s.id)
		s.shutdown(ctx)
		return
	}

	s.id = slaveID
	s.info.ID = slaveID
	if reregistration {
		ctx.Log().Infof("re-registered with master as slave %s", slaveID)
	} else {
		ctx.Log().Infof("registered with master as slave %s", slaveID)
	}
	if s.opts.Checkpoint {
		if err := state.CheckpointSlaveInfo(s.opts.MetaDir, s.info); err != nil {
			ctx.Log().WithError(err).Error("failed to checkpoint slave info")
		}
	}
	s.transition(ctx, SlaveRunning)
	ctx.Tell(s.updatesMgr, updates.MasterConnected{})
}

func (s *Slave) masterDisconnected(ctx *actor.Context) {
	if s.state == SlaveRunning {
		s.transition(ctx, SlaveDisconnected)
	}
	ctx.Tell(s.updatesMgr, updates.MasterDisconnected{})
}

// Message dispatch.

func (s *Slave) receiveMasterMessage(ctx *actor.Context, msg sproto.SlaveMessage) {
	switch {
	case msg.Registered != nil:
		s.registered(ctx, msg.Registered.SlaveID, false)
	case msg.Reregistered != nil:
		s.registered(ctx, msg.Reregistered.SlaveID, true)
	case msg.RunTask != nil:
		s.runTask(ctx, *msg.RunTask)
	case msg.KillTask != nil:
		s.killTask(ctx, *msg.KillTask)
	case msg.ShutdownFramework != nil:
		s.shutdownFramework(ctx, msg.ShutdownFramework.FrameworkID)
	case msg.UpdateFramework != nil:
		s.updateFramework(ctx, *msg.UpdateFramework)
	case msg.FrameworkToExecutorMessage != nil:
		s.frameworkMessage(ctx, *msg.FrameworkToExecutorMessage)
	case msg.StatusUpdateAcknowledgement != nil:
		s.statusUpdateAcknowledgement(ctx, *msg.StatusUpdateAcknowledgement)
	case msg.ShutdownSlave != nil:
		ctx.Log().Infof("master asked the agent to shut down: %s", msg.ShutdownSlave.Message)
		s.shutdown(ctx)
	case msg.Ping != nil:
		s.sendToMaster(ctx, sproto.MasterMessage{Pong: &sproto.Pong{SlaveID: s.id}})
	default:
		ctx.Log().Warn("dropping empty master message")
	}
}

func (s *Slave) receiveExecutorMessage(ctx *actor.Context, msg sproto.ExecutorMessage) {
	switch {
	case msg.RegisterExecutor != nil:
		s.registerExecutor(ctx, *msg.RegisterExecutor)
	case msg.ReregisterExecutor != nil:
		s.reregisterExecutor(ctx, *msg.ReregisterExecutor)
	case msg.StatusUpdate != nil:
		s.statusUpdate(ctx, *msg.StatusUpdate)
	case msg.ExecutorToFrameworkMessage != nil:
		s.executorMessage(ctx, *msg.ExecutorToFrameworkMessage)
	default:
		ctx.Log().Warn("dropping empty executor message")
	}
}

func (s *Slave) sendToMaster(ctx *actor.Context, msg sproto.MasterMessage) {
	if s.masterSocket == nil {
		ctx.Log().Debugf("not connected to a master; dropping %T", msg)
		return
	}
	if err := api.WriteSocketJSON(ctx, s.masterSocket, msg); err != nil {
		ctx.Log().WithError(err).Warn("failed to send message to master")
	}
}

func (s *Slave) sendToExecutor(
	ctx *actor.Context, executor *Executor, msg sproto.SlaveToExecutorMessage,
) {
	if executor.socket == nil {
		ctx.Log().Warnf("executor %s has no connection; dropping %T", executor.ID, msg)
		return
	}
	if err := api.WriteSocketJSON(ctx, executor.socket, msg); err != nil {
		ctx.Log().WithError(err).Warnf("failed to send message to executor %s", executor.ID)
	}
}

// Task launch path.

func (s *Slave) runTask(ctx *actor.Context, msg sproto.RunTask) {
	if s.state != SlaveRunning {
		ctx.Log().Warnf("dropping task %s: agent is %s", msg.Task.ID, s.state)
		return
	}
	task := msg.Task
	ctx.Log().Infof("got assigned task %s for framework %s", task.ID, msg.FrameworkID)

	framework, ok := s.frameworks[msg.FrameworkID]
	if !ok {
		framework = newFramework(msg.FrameworkID, msg.Framework, msg.Pid)
		s.frameworks[msg.FrameworkID] = framework
		if s.checkpointing(framework) {
			s.checkpointFramework(ctx, framework)
		}
	}
	if framework.State == FrameworkTerminating {
		ctx.Log().Warnf("dropping task %s: framework %s is terminating", task.ID, msg.FrameworkID)
		s.synthesizeUpdate(ctx, msg.FrameworkID, task.ID, sproto.TaskLost,
			"framework is terminating")
		return
	}

	// The agent enforces containment against its own advertised bundle; offer bookkeeping
	// belongs to the master.
	if !s.info.Resources.Contains(task.Resources) {
		ctx.Log().Warnf("dropping task %s: resources %s not contained in %s",
			task.ID, task.Resources, s.info.Resources)
		s.synthesizeUpdate(ctx, msg.FrameworkID, task.ID, sproto.TaskLost,
			"task resources exceed the agent's resources")
		return
	}

	executorInfo := s.getExecutorInfo(msg.FrameworkID, task)
	framework.addPending(executorInfo.ID, task.ID)

	// Any pending deletion of this executor's directories would shadow the new run's work, so
	// wait for the GC to forget them before continuing.
	workPath := s.executorWorkPath(msg.FrameworkID, executorInfo.ID)
	metaPath := state.ExecutorPath(s.opts.MetaDir, s.id, msg.FrameworkID, executorInfo.ID)
	go func() {
		ctx.Ask(s.gcRef, gc.Unschedule{Path: workPath}).Get()
		ctx.Ask(s.gcRef, gc.Unschedule{Path: metaPath}).Get()
		ctx.Tell(ctx.Self(), runTaskReady{msg: msg})
	}()
}

// runTaskReady is the continuation of runTask after the GC unschedules. Everything is
// revalidated: records may have changed while the operation was in flight.
func (s *Slave) runTaskReady(ctx *actor.Context, msg sproto.RunTask) {
	task := msg.Task
	framework, ok := s.frameworks[msg.FrameworkID]
	if !ok {
		ctx.Log().Warnf("dropping task %s: framework %s disappeared during setup",
			task.ID, msg.FrameworkID)
		return
	}

	executorInfo := s.getExecutorInfo(msg.FrameworkID, task)
	if !framework.removePending(executorInfo.ID, task.ID) {
		ctx.Log().Warnf("dropping task %s: no longer pending", task.ID)
		return
	}
	if framework.State == FrameworkTerminating {
		s.synthesizeUpdate(ctx, msg.FrameworkID, task.ID, sproto.TaskLost,
			"framework is terminating")
		return
	}

	executor := framework.getExecutor(executorInfo.ID)
	switch {
	case executor == nil:
		directory := "" // Assigned with the fresh run uuid below.
		newExec, err := framework.launchExecutor(executorInfo, directory, s.checkpointing(framework))
		if err != nil {
			ctx.Log().WithError(err).Errorf("failed to create executor for task %s", task.ID)
			s.synthesizeUpdate(ctx, msg.FrameworkID, task.ID, sproto.TaskLost, err.Error())
			return
		}
		newExec.Directory = s.executorRunPath(msg.FrameworkID, newExec.ID, newExec.RunID)
		newExec.addTask(task)
		s.checkpointExecutor(ctx, framework, newExec)
		s.checkpointTask(ctx, newExec, task)

		actors.NotifyAfterOn(ctx, s.clk, s.opts.ExecutorRegistrationTimeout, registerTimeout{
			frameworkID: framework.ID, executorID: newExec.ID, runID: newExec.RunID,
		})
		s.launchExecutor(ctx, newExec)

	case executor.State == ExecutorRunning:
		executor.addTask(task)
		s.checkpointTask(ctx, executor, task)
		if _, err := executor.launchTask(task.ID); err != nil {
			ctx.Log().WithError(err).Error("failed to move queued task to launched")
			return
		}
		s.sendToExecutor(ctx, executor, sproto.SlaveToExecutorMessage{RunTask: &msg})

	case executor.State == ExecutorRegistering:
		// Queued; flushed once the executor registers.
		executor.addTask(task)
		s.checkpointTask(ctx, executor, task)

	default:
		ctx.Log().Warnf("dropping task %s: executor %s is %s",
			task.ID, executor.ID, executor.State)
		s.synthesizeUpdate(ctx, msg.FrameworkID, task.ID, sproto.TaskLost,
			fmt.Sprintf("executor is %s", executor.State))
	}
}

func (s *Slave) launchExecutor(ctx *actor.Context, executor *Executor) {
	spec := isolator.LaunchSpec{
		FrameworkID:   executor.FrameworkID,
		ExecutorID:    executor.ID,
		Command:       executor.Info.Command,
		Resources:     executor.Resources,
		Directory:     executor.Directory,
		SlaveEndpoint: s.opts.SlaveEndpoint(),
	}
	frameworkID, executorID, runID := executor.FrameworkID, executor.ID, executor.RunID
	go func() {
		handle, err := s.iso.Launch(context.Background(), spec)
		ctx.Tell(ctx.Self(), launched{
			frameworkID: frameworkID, executorID: executorID, runID: runID,
			handle: handle, err: err,
		})
	}()
}

func (s *Slave) launched(ctx *actor.Context, msg launched) {
	executor := s.getExecutor(msg.frameworkID, msg.executorID)
	if executor == nil || executor.RunID != msg.runID {
		// The executor was torn down while the launch was in flight.
		if msg.err == nil {
			go func() {
				_ = s.iso.Destroy(context.Background(), msg.frameworkID, msg.executorID)
			}()
		}
		return
	}
	if msg.err != nil {
		ctx.Log().WithError(msg.err).Errorf("failed to launch executor %s", msg.executorID)
		s.executorExited(ctx, executorExited{
			frameworkID: msg.frameworkID, executorID: msg.executorID, runID: msg.runID,
			status: isolator.ExitStatus{Code: -1, Message: msg.err.Error()},
		})
		return
	}

	ctx.Log().Infof("launched executor %s of framework %s (run %s)",
		msg.executorID, msg.frameworkID, msg.runID)
	if executor.Checkpoint {
		if err := state.CheckpointRun(s.opts.MetaDir, s.id, msg.frameworkID, msg.executorID,
			state.RunState{
				ID: msg.runID, ForkedPid: msg.handle.ForkedPid, ContainerID: msg.handle.ContainerID,
			}); err != nil {
			ctx.Log().WithError(err).Error("failed to checkpoint executor run")
		}
	}
	s.awaitExecutor(ctx, msg.frameworkID, msg.executorID, msg.runID)
}

// awaitExecutor watches for the executor process's exit.
func (s *Slave) awaitExecutor(
	ctx *actor.Context, frameworkID sproto.FrameworkID, executorID sproto.ExecutorID,
	runID uuid.UUID,
) {
	go func() {
		status, err := s.iso.Wait(context.Background(), frameworkID, executorID)
		if err != nil {
			status = isolator.ExitStatus{Code: -1, Message: err.Error()}
		}
		ctx.Tell(ctx.Self(), executorExited{
			frameworkID: frameworkID, executorID: executorID, runID: runID, status: status,
		})
	}()
}

// Executor registration.

func (s *Slave) registerExecutor(ctx *actor.Context, msg sproto.RegisterExecutor) {
	socket := ctx.Sender()
	framework, executor := s.lookupExecutor(msg.FrameworkID, msg.ExecutorID)
	switch {
	case framework == nil || executor == nil:
		ctx.Log().Warnf("shutting down unknown executor %s of framework %s",
			msg.ExecutorID, msg.FrameworkID)
		s.shutdownSocket(ctx, socket)
		return
	case framework.State == FrameworkTerminating,
		executor.State == ExecutorTerminating, executor.State == ExecutorTerminated:
		s.shutdownSocket(ctx, socket)
		return
	case executor.State != ExecutorRegistering:
		ctx.Log().Warnf("executor %s attempted to register twice", msg.ExecutorID)
		s.shutdownSocket(ctx, socket)
		return
	}

	ctx.Log().Infof("executor %s of framework %s registered", msg.ExecutorID, msg.FrameworkID)
	executor.transition(ExecutorRunning)
	s.attachSocket(executor, socket)
	s.sendToExecutor(ctx, executor, sproto.SlaveToExecutorMessage{
		ExecutorRegistered: &sproto.ExecutorRegistered{
			Executor:    executor.Info,
			Framework:   framework.Info,
			FrameworkID: framework.ID,
			SlaveID:     s.id,
			Slave:       s.info,
		},
	})
	s.flushQueuedTasks(ctx, framework, executor)
	ctx.Tell(s.monitorRef, monitor.Watch{FrameworkID: framework.ID, ExecutorID: executor.ID})
}

func (s *Slave) reregisterExecutor(ctx *actor.Context, msg sproto.ReregisterExecutor) {
	socket := ctx.Sender()
	framework, executor := s.lookupExecutor(msg.FrameworkID, msg.ExecutorID)
	if framework == nil || executor == nil || executor.State != ExecutorRegistering {
		ctx.Log().Warnf("shutting down unexpected re-registration of executor %s", msg.ExecutorID)
		s.shutdownSocket(ctx, socket)
		return
	}

	ctx.Log().Infof("executor %s of framework %s re-registered", msg.ExecutorID, msg.FrameworkID)
	executor.transition(ExecutorRunning)
	s.attachSocket(executor, socket)
	s.sendToExecutor(ctx, executor, sproto.SlaveToExecutorMessage{
		ExecutorReregistered: &sproto.ExecutorReregistered{SlaveID: s.id, Slave: s.info},
	})

	// Updates the executor still holds unacknowledged re-enter through the regular path; the
	// status-update manager drops the ones it already has.
	for i := range msg.Updates {
		s.statusUpdate(ctx, msg.Updates[i])
	}
	s.flushQueuedTasks(ctx, framework, executor)
	ctx.Tell(s.monitorRef, monitor.Watch{FrameworkID: framework.ID, ExecutorID: executor.ID})
}

func (s *Slave) attachSocket(executor *Executor, socket *actor.Ref) {
	executor.socket = socket
	if socket != nil {
		s.socketToExecutor[socket] = executorKey{executor.FrameworkID, executor.ID}
	}
}

func (s *Slave) shutdownSocket(ctx *actor.Context, socket *actor.Ref) {
	if socket == nil {
		return
	}
	_ = api.WriteSocketJSON(ctx, socket, sproto.SlaveToExecutorMessage{
		ShutdownExecutor: &sproto.ShutdownExecutor{},
	})
	s.killSocket(ctx, socket)
}

func (s *Slave) flushQueuedTasks(ctx *actor.Context, framework *Framework, executor *Executor) {
	for taskID, info := range executor.QueuedTasks {
		if _, err := executor.launchTask(taskID); err != nil {
			ctx.Log().WithError(err).Errorf("failed to launch queued task %s", taskID)
			continue
		}
		s.sendToExecutor(ctx, executor, sproto.SlaveToExecutorMessage{
			RunTask: &sproto.RunTask{
				Framework:   framework.Info,
				FrameworkID: framework.ID,
				Pid:         framework.Pid,
				Task:        info,
			},
		})
	}
}

func (s *Slave) registerExecutorTimeout(ctx *actor.Context, msg registerTimeout) {
	framework, executor := s.lookupExecutor(msg.frameworkID, msg.executorID)
	if framework == nil || executor == nil || executor.RunID != msg.runID {
		return // Superseded; stale timer.
	}
	if executor.State != ExecutorRegistering {
		return
	}
	ctx.Log().Warnf("executor %s did not register within %s; shutting it down",
		msg.executorID, s.opts.ExecutorRegistrationTimeout)
	s.shutdownExecutor(ctx, framework, executor)
}

// Two-phase executor shutdown: a soft shutdown message now, a forced destroy on timeout.

func (s *Slave) shutdownExecutor(ctx *actor.Context, framework *Framework, executor *Executor) {
	if executor.State == ExecutorTerminating || executor.State == ExecutorTerminated {
		return
	}
	ctx.Log().Infof("shutting down executor %s of framework %s", executor.ID, framework.ID)
	executor.transition(ExecutorTerminating)
	if executor.socket != nil {
		s.sendToExecutor(ctx, executor, sproto.SlaveToExecutorMessage{
			ShutdownExecutor: &sproto.ShutdownExecutor{},
		})
	}
	actors.NotifyAfterOn(ctx, s.clk, s.opts.ExecutorShutdownGracePeriod, shutdownTimeout{
		frameworkID: framework.ID, executorID: executor.ID, runID: executor.RunID,
	})
}

func (s *Slave) shutdownExecutorTimeout(ctx *actor.Context, msg shutdownTimeout) {
	_, executor := s.lookupExecutor(msg.frameworkID, msg.executorID)
	if executor == nil || executor.RunID != msg.runID || executor.exited {
		return // Superseded; stale timer.
	}
	ctx.Log().Warnf("executor %s ignored its shutdown; destroying it", msg.executorID)
	go func() {
		if err := s.iso.Destroy(context.Background(), msg.frameworkID, msg.executorID); err != nil {
			ctx.Log().WithError(err).Errorf("failed to destroy executor %s", msg.executorID)
		}
	}()
}

// Executor exit handling.

func (s *Slave) executorExited(ctx *actor.Context, msg executorExited) {
	framework, executor := s.lookupExecutor(msg.frameworkID, msg.executorID)
	if framework == nil || executor == nil || executor.RunID != msg.runID {
		return
	}
	ctx.Log().Infof("executor %s of framework %s exited: code %d (destroyed: %v)",
		msg.executorID, msg.frameworkID, msg.status.Code, msg.status.Destroyed)

	executor.exited = true
	if executor.socket != nil {
		delete(s.socketToExecutor, executor.socket)
		s.killSocket(ctx, executor.socket)
		executor.socket = nil
	}
	ctx.Tell(s.monitorRef, monitor.Unwatch{FrameworkID: framework.ID, ExecutorID: executor.ID})

	// Every task the executor never finished dies with it: tasks it never received are lost,
	// tasks it was running failed if the executor was destroyed.
	launchedState := sproto.TaskLost
	message := fmt.Sprintf("executor exited with code %d", msg.status.Code)
	if msg.status.Destroyed {
		launchedState = sproto.TaskFailed
		message = "executor was destroyed"
	}
	for taskID := range executor.QueuedTasks {
		s.synthesizeUpdate(ctx, framework.ID, taskID, sproto.TaskLost, message)
	}
	for taskID := range executor.LaunchedTasks {
		s.synthesizeUpdate(ctx, framework.ID, taskID, launchedState, message)
	}

	if executor.State != ExecutorTerminating {
		executor.transition(ExecutorTerminating)
	}
	s.maybeRemoveExecutor(ctx, framework, executor)
}

// maybeRemoveExecutor finishes an executor whose process has exited once no terminal status
// update is left awaiting acknowledgement.
func (s *Slave) maybeRemoveExecutor(ctx *actor.Context, framework *Framework, executor *Executor) {
	if !executor.terminatable() {
		return
	}
	executor.transition(ExecutorTerminated)
	ctx.Log().Infof("cleaning up executor %s of framework %s", executor.ID, framework.ID)

	ctx.Tell(s.gcRef, gc.Schedule{
		Path:  s.executorWorkPath(framework.ID, executor.ID),
		Delay: s.opts.GCDelay,
	})
	if executor.Checkpoint {
		ctx.Tell(s.gcRef, gc.Schedule{
			Path:  state.ExecutorPath(s.opts.MetaDir, s.id, framework.ID, executor.ID),
			Delay: s.opts.GCDelay,
		})
	}
	framework.destroyExecutor(executor.ID)

	if len(framework.Executors) == 0 &&
		(framework.State == FrameworkTerminating || !framework.hasPending()) {
		s.removeFramework(ctx, framework)
	}
}

func (s *Slave) removeFramework(ctx *actor.Context, framework *Framework) {
	if len(framework.Executors) > 0 {
		return
	}
	ctx.Log().Infof("cleaning up framework %s", framework.ID)
	delete(s.frameworks, framework.ID)
	ctx.Tell(s.updatesMgr, updates.Cleanup{FrameworkID: framework.ID})

	ctx.Tell(s.gcRef, gc.Schedule{
		Path:  filepath.Join(s.frameworksWorkPath(), framework.ID.String()),
		Delay: s.opts.GCDelay,
	})
	if s.checkpointing(framework) {
		ctx.Tell(s.gcRef, gc.Schedule{
			Path:  state.FrameworkPath(s.opts.MetaDir, s.id, framework.ID),
			Delay: s.opts.GCDelay,
		})
	}

	if len(s.completedFrameworks) >= maxCompletedFrameworks {
		s.completedFrameworks = s.completedFrameworks[1:]
	}
	s.completedFrameworks = append(s.completedFrameworks, framework)
}

// Status update path.

// statusUpdate hands an update to the status-update manager; once it is durably handled, the
// executor is acknowledged through updateAccepted.
func (s *Slave) statusUpdate(ctx *actor.Context, update sproto.StatusUpdate) {
	framework, ok := s.frameworks[update.FrameworkID]
	if !ok {
		ctx.Log().Warnf("dropping %s: unknown framework", update)
		s.stats.countStatusUpdate(false)
		return
	}

	executor := framework.getExecutorForTask(update.Status.TaskID)
	if executor == nil {
		ctx.Log().Warnf("dropping %s: unknown task", update)
		s.stats.countStatusUpdate(false)
		return
	}

	s.stats.countStatusUpdate(true)
	s.stats.countTask(update.Status.State.String())
	if update.Status.State.Terminal() {
		executor.terminateTask(update.Status.TaskID, update.Status)
	} else {
		executor.updateTaskState(update.Status.TaskID, update.Status)
	}

	var logPath string
	if executor.Checkpoint {
		logPath = state.TaskUpdatesPath(s.opts.MetaDir, s.id, update.FrameworkID,
			executor.ID, executor.RunID, update.Status.TaskID)
	}
	// Tell, not ask: per-stream ordering rides on the mailbox order between the two actors.
	// The manager answers with an Accepted once the update is durably in its hands.
	ctx.Tell(s.updatesMgr, updates.Update{Update: update, LogPath: logPath})
}

// updateAccepted acknowledges the executor once its update is safely in the manager's hands.
func (s *Slave) updateAccepted(ctx *actor.Context, msg updates.Accepted) {
	if msg.Err != nil {
		ctx.Log().WithError(msg.Err).Errorf("status-update manager rejected %s", msg.Update)
		return
	}
	framework, ok := s.frameworks[msg.Update.FrameworkID]
	if !ok {
		return
	}
	executor := framework.getExecutorForTask(msg.Update.Status.TaskID)
	if executor == nil || executor.socket == nil {
		return
	}
	s.sendToExecutor(ctx, executor, sproto.SlaveToExecutorMessage{
		StatusUpdateAcknowledgement: &sproto.StatusUpdateAcknowledgement{
			SlaveID:     s.id,
			FrameworkID: msg.Update.FrameworkID,
			TaskID:      msg.Update.Status.TaskID,
			UUID:        msg.Update.UUID,
		},
	})
}

// synthesizeUpdate generates a status update on behalf of a task the agent had to decide about
// itself (dropped, lost with its executor, killed while queued).
func (s *Slave) synthesizeUpdate(
	ctx *actor.Context, frameworkID sproto.FrameworkID, taskID sproto.TaskID,
	taskState sproto.TaskState, message string,
) {
	update := sproto.NewStatusUpdate(s.id, frameworkID, "", sproto.TaskStatus{
		TaskID:  taskID,
		State:   taskState,
		Message: message,
	})
	if framework, ok := s.frameworks[frameworkID]; ok &&
		framework.getExecutorForTask(taskID) != nil {
		s.statusUpdate(ctx, update)
		return
	}
	// No local record to walk through; forward straight to the manager.
	s.stats.countTask(taskState.String())
	ctx.Tell(s.updatesMgr, updates.Update{Update: update})
}

func (s *Slave) forwardUpdateToMaster(ctx *actor.Context, update sproto.StatusUpdate) {
	s.sendToMaster(ctx, sproto.MasterMessage{StatusUpdate: &update})
}

func (s *Slave) statusUpdateAcknowledgement(
	ctx *actor.Context, msg sproto.StatusUpdateAcknowledgement,
) {
	ctx.Tell(s.updatesMgr, updates.Acknowledge{
		FrameworkID: msg.FrameworkID,
		TaskID:      msg.TaskID,
		UUID:        msg.UUID,
	})
}

func (s *Slave) acknowledgementDone(ctx *actor.Context, msg updates.AckResult) {
	if msg.Err != nil {
		ctx.Log().WithError(msg.Err).Warnf("invalid acknowledgement for task %s", msg.TaskID)
		s.stats.countStatusUpdate(false)
		return
	}
	framework, ok := s.frameworks[msg.FrameworkID]
	if !ok {
		return
	}
	executor := framework.getExecutorForTask(msg.TaskID)
	if executor == nil {
		return
	}
	if msg.Drained {
		executor.completeTask(msg.TaskID)
		s.maybeRemoveExecutor(ctx, framework, executor)
	}
}

// Task and framework teardown.

func (s *Slave) killTask(ctx *actor.Context, msg sproto.KillTask) {
	framework, ok := s.frameworks[msg.FrameworkID]
	if !ok {
		ctx.Log().Warnf("cannot kill task %s: unknown framework %s", msg.TaskID, msg.FrameworkID)
		s.synthesizeUpdate(ctx, msg.FrameworkID, msg.TaskID, sproto.TaskLost, "unknown framework")
		return
	}
	executor := framework.getExecutorForTask(msg.TaskID)
	if executor == nil {
		// The task may still be pending on asynchronous setup; clearing its mark makes the
		// deferred launch drop it.
		for executorID, tasks := range framework.Pending {
			if tasks[msg.TaskID] {
				framework.removePending(executorID, msg.TaskID)
				s.synthesizeUpdate(ctx, msg.FrameworkID, msg.TaskID, sproto.TaskKilled,
					"killed before its launch finished")
				return
			}
		}
		ctx.Log().Warnf("cannot kill task %s: unknown task", msg.TaskID)
		s.synthesizeUpdate(ctx, msg.FrameworkID, msg.TaskID, sproto.TaskLost, "unknown task")
		return
	}

	switch executor.State {
	case ExecutorRegistering:
		// The executor cannot be told anything yet; resolve the queued task here.
		s.synthesizeUpdate(ctx, msg.FrameworkID, msg.TaskID, sproto.TaskKilled,
			"killed before delivery to its executor")
	case ExecutorRunning:
		s.sendToExecutor(ctx, executor, sproto.SlaveToExecutorMessage{KillTask: &msg})
	default:
		// Terminating; its exit will resolve the task.
	}
}

func (s *Slave) shutdownFramework(ctx *actor.Context, frameworkID sproto.FrameworkID) {
	framework, ok := s.frameworks[frameworkID]
	if !ok {
		ctx.Log().Warnf("cannot shut down unknown framework %s", frameworkID)
		return
	}
	ctx.Log().Infof("shutting down framework %s", frameworkID)
	framework.State = FrameworkTerminating
	if len(framework.Executors) == 0 {
		s.removeFramework(ctx, framework)
		return
	}
	for _, executor := range framework.Executors {
		s.shutdownExecutor(ctx, framework, executor)
	}
}

func (s *Slave) updateFramework(ctx *actor.Context, msg sproto.UpdateFramework) {
	framework, ok := s.frameworks[msg.FrameworkID]
	if !ok {
		ctx.Log().Warnf("cannot update unknown framework %s", msg.FrameworkID)
		return
	}
	framework.Pid = msg.Pid
	if s.checkpointing(framework) {
		if err := state.CheckpointFrameworkPid(
			s.opts.MetaDir, s.id, framework.ID, framework.Pid); err != nil {
			ctx.Log().WithError(err).Error("failed to checkpoint framework pid")
		}
	}
}

func (s *Slave) frameworkMessage(ctx *actor.Context, msg sproto.FrameworkToExecutorMessage) {
	framework, executor := s.lookupExecutor(msg.FrameworkID, msg.ExecutorID)
	if framework == nil || executor == nil || executor.State != ExecutorRunning {
		ctx.Log().Warnf("dropping framework message for executor %s", msg.ExecutorID)
		s.stats.countFrameworkMessage(false)
		return
	}
	s.stats.countFrameworkMessage(true)
	s.sendToExecutor(ctx, executor, sproto.SlaveToExecutorMessage{
		FrameworkToExecutorMessage: &msg,
	})
}

func (s *Slave) executorMessage(ctx *actor.Context, msg sproto.ExecutorToFrameworkMessage) {
	if _, ok := s.frameworks[msg.FrameworkID]; !ok {
		s.stats.countFrameworkMessage(false)
		return
	}
	s.stats.countFrameworkMessage(true)
	s.sendToMaster(ctx, sproto.MasterMessage{ExecutorToFrameworkMessage: &msg})
}

// Disk pressure loop.

func (s *Slave) probeDiskUsage(ctx *actor.Context) {
	usage, err := s.diskUsageFn(s.opts.WorkDir)
	ctx.Tell(ctx.Self(), diskUsage{usage: usage, err: err})
}

func (s *Slave) checkDiskUsage(ctx *actor.Context, msg diskUsage) {
	if msg.err != nil {
		ctx.Log().WithError(msg.err).Debug("failed to probe disk usage")
		return
	}
	maxAge := s.age(msg.usage)
	ctx.Log().Debugf("disk usage %.2f; pruning sandboxes older than %s", msg.usage, maxAge)
	ctx.Tell(s.gcRef, gc.Prune{MaxAge: maxAge})
}

// age returns the maximum age of garbage-collectable directories allowed at the given disk
// usage: the fuller the disk, the sooner queued sandboxes go.
func (s *Slave) age(usage float64) time.Duration {
	scaled := time.Duration(float64(s.opts.GCDelay) * (1 - usage))
	return mathx.Clamp(0, scaled, s.opts.GCDelay)
}

// Shutdown and child management.

func (s *Slave) shutdown(ctx *actor.Context) {
	if s.state == SlaveTerminating {
		return
	}
	s.transition(ctx, SlaveTerminating)
	for _, framework := range s.frameworks {
		framework.State = FrameworkTerminating
		for _, executor := range framework.Executors {
			s.shutdownExecutor(ctx, framework, executor)
		}
	}
	ctx.Self().Stop()
}

func (s *Slave) childFailed(ctx *actor.Context, msg actor.ChildFailed) error {
	switch msg.Child {
	case s.updatesMgr, s.gcRef, s.monitorRef:
		return msg.Error
	}
	s.childStopped(ctx, msg.Child)
	return nil
}

func (s *Slave) childStopped(ctx *actor.Context, child *actor.Ref) {
	switch {
	case child == s.masterSocket:
		ctx.Log().Warn("master connection lost")
		s.masterSocket = nil
		s.masterDisconnected(ctx)
		s.retryMaster(ctx, s.masterEndpoint)
	default:
		if key, ok := s.socketToExecutor[child]; ok {
			delete(s.socketToExecutor, child)
			if _, executor := s.lookupExecutor(key.frameworkID, key.executorID); executor != nil &&
				executor.socket == child {
				ctx.Log().Warnf("executor %s connection lost", key.executorID)
				executor.socket = nil
			}
		}
	}
}

// Helpers.

func (s *Slave) lookupExecutor(
	frameworkID sproto.FrameworkID, executorID sproto.ExecutorID,
) (*Framework, *Executor) {
	framework, ok := s.frameworks[frameworkID]
	if !ok {
		return nil, nil
	}
	return framework, framework.getExecutor(executorID)
}

func (s *Slave) getExecutor(
	frameworkID sproto.FrameworkID, executorID sproto.ExecutorID,
) *Executor {
	_, executor := s.lookupExecutor(frameworkID, executorID)
	return executor
}

// checkpointing returns true when both the agent and the framework opted into checkpointing;
// the per-framework opt-in is authoritative.
func (s *Slave) checkpointing(framework *Framework) bool {
	return s.opts.Checkpoint && framework.Info.Checkpoint
}

// getExecutorInfo returns the executor for a task, synthesising a command executor keyed by the
// task id when the task carries a bare command: task-level commands each get their own executor.
func (s *Slave) getExecutorInfo(
	frameworkID sproto.FrameworkID, task sproto.TaskInfo,
) sproto.ExecutorInfo {
	if task.Executor != nil {
		return *task.Executor
	}
	return sproto.ExecutorInfo{
		ID:          sproto.ExecutorID(task.ID),
		FrameworkID: frameworkID,
		Command:     *task.Command,
		Resources:   task.Resources,
		Source:      task.ID.String(),
	}
}

func (s *Slave) checkpointFramework(ctx *actor.Context, framework *Framework) {
	if err := state.CheckpointFrameworkInfo(
		s.opts.MetaDir, s.id, framework.ID, framework.Info); err != nil {
		ctx.Log().WithError(err).Error("failed to checkpoint framework info")
	}
	if err := state.CheckpointFrameworkPid(
		s.opts.MetaDir, s.id, framework.ID, framework.Pid); err != nil {
		ctx.Log().WithError(err).Error("failed to checkpoint framework pid")
	}
}

func (s *Slave) checkpointExecutor(ctx *actor.Context, framework *Framework, executor *Executor) {
	if !executor.Checkpoint {
		return
	}
	if err := state.CheckpointExecutorInfo(
		s.opts.MetaDir, s.id, framework.ID, executor.Info); err != nil {
		ctx.Log().WithError(err).Error("failed to checkpoint executor info")
	}
}

func (s *Slave) checkpointTask(ctx *actor.Context, executor *Executor, task sproto.TaskInfo) {
	if !executor.Checkpoint {
		return
	}
	if err := state.CheckpointTaskInfo(s.opts.MetaDir, s.id, executor.FrameworkID,
		executor.ID, executor.RunID, task); err != nil {
		ctx.Log().WithError(err).Error("failed to checkpoint task info")
	}
}

func (s *Slave) frameworksWorkPath() string {
	return filepath.Join(s.opts.WorkDir, "slaves", s.id.String(), "frameworks")
}

func (s *Slave) executorWorkPath(
	frameworkID sproto.FrameworkID, executorID sproto.ExecutorID,
) string {
	return filepath.Join(s.frameworksWorkPath(), frameworkID.String(),
		"executors", executorID.String())
}

func (s *Slave) executorRunPath(
	frameworkID sproto.FrameworkID, executorID sproto.ExecutorID, runID uuid.UUID,
) string {
	return filepath.Join(s.executorWorkPath(frameworkID, executorID), "runs", runID.String())
}
