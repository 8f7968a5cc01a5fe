// Package options holds the node agent's configuration.
package options

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
)

// Recovery policies accepted by the recover option.
const (
	// RecoverReconnect attempts to reconnect to live executors recovered from checkpoints.
	RecoverReconnect = "reconnect"
	// RecoverCleanup shuts every recovered executor down.
	RecoverCleanup = "cleanup"
)

// Options is the set of recognised agent options.
type Options struct {
	ConfigFile string `json:"config_file"`

	// MasterHost and MasterPort locate the master when static detection is in use.
	MasterHost string `json:"master_host"`
	MasterPort int    `json:"master_port"`

	// BindIP and BindPort are where the agent serves its executor and inspection endpoints.
	BindIP   string `json:"bind_ip"`
	BindPort int    `json:"bind_port"`

	// Hostname is the name advertised to the master; defaults to the OS hostname.
	Hostname string `json:"hostname"`

	// Resources is the advertised resource bundle, e.g. "cpus:8;mem:16384". Autodetected when
	// empty.
	Resources string `json:"resources"`
	// Attributes are static key=value labels, e.g. "rack=r1;zone=east".
	Attributes string `json:"attributes"`

	// WorkDir is the root of executor sandboxes.
	WorkDir string `json:"work_dir"`
	// MetaDir is the root of checkpointed state; defaults to <work-dir>/meta.
	MetaDir string `json:"meta_dir"`

	// Checkpoint enables durable logging. Per-framework opt-in remains authoritative: only
	// frameworks that request checkpointing get durable streams.
	Checkpoint bool `json:"checkpoint"`
	// Recover selects the startup recovery policy, reconnect or cleanup.
	Recover string `json:"recover"`
	// Strict makes recovery errors fatal.
	Strict bool `json:"strict"`

	// Isolation selects the isolation backend, process or docker.
	Isolation string `json:"isolation"`

	ExecutorRegistrationTimeout   time.Duration `json:"executor_registration_timeout"`
	ExecutorReregistrationTimeout time.Duration `json:"executor_reregistration_timeout"`
	ExecutorShutdownGracePeriod   time.Duration `json:"executor_shutdown_grace_period"`
	GCDelay                       time.Duration `json:"gc_delay"`
	DiskWatchInterval             time.Duration `json:"disk_watch_interval"`

	// LogRingSize bounds the in-memory log ring served by the inspection endpoint.
	LogRingSize int `json:"log_ring_size"`
}

// DefaultOptions returns the default agent configuration.
func DefaultOptions() *Options {
	return &Options{
		MasterHost: "localhost",
		MasterPort: 5050,
		BindIP:     "0.0.0.0",
		BindPort:   5051,

		WorkDir: "/var/lib/skiff",

		Recover:   RecoverReconnect,
		Isolation: "process",

		ExecutorRegistrationTimeout:   time.Minute,
		ExecutorReregistrationTimeout: 2 * time.Second,
		ExecutorShutdownGracePeriod:   5 * time.Second,
		GCDelay:                       7 * 24 * time.Hour,
		DiskWatchInterval:             time.Minute,

		LogRingSize: 1024,
	}
}

// Resolve fills in derived and autodetected values.
func (o *Options) Resolve() error {
	if o.MetaDir == "" {
		o.MetaDir = filepath.Join(o.WorkDir, "meta")
	}
	if o.Hostname == "" {
		hostname, err := os.Hostname()
		if err != nil {
			return errors.Wrap(err, "resolving hostname")
		}
		o.Hostname = hostname
	}
	return nil
}

// Validate implements the check.Validatable interface.
func (o Options) Validate() []error {
	var errs []error
	if o.Recover != RecoverReconnect && o.Recover != RecoverCleanup {
		errs = append(errs, errors.Errorf(
			"recover must be %q or %q, got %q", RecoverReconnect, RecoverCleanup, o.Recover))
	}
	if o.Isolation != "process" && o.Isolation != "docker" {
		errs = append(errs, errors.Errorf("isolation must be process or docker, got %q", o.Isolation))
	}
	if o.WorkDir == "" {
		errs = append(errs, errors.New("work-dir must be set"))
	}
	for name, d := range map[string]time.Duration{
		"executor-registration-timeout":   o.ExecutorRegistrationTimeout,
		"executor-reregistration-timeout": o.ExecutorReregistrationTimeout,
		"executor-shutdown-grace-period":  o.ExecutorShutdownGracePeriod,
		"gc-delay":                        o.GCDelay,
		"disk-watch-interval":             o.DiskWatchInterval,
	} {
		if d <= 0 {
			errs = append(errs, errors.Errorf("%s must be positive", name))
		}
	}
	if o.LogRingSize <= 0 {
		errs = append(errs, errors.New("log-ring-size must be positive"))
	}
	return errs
}

// MasterEndpoint returns the websocket URL of the master's agent endpoint.
func (o Options) MasterEndpoint() string {
	return fmt.Sprintf("ws://%s:%d/slave", o.MasterHost, o.MasterPort)
}

// SlaveEndpoint returns the websocket URL executors register through.
func (o Options) SlaveEndpoint() string {
	return fmt.Sprintf("ws://%s:%d/executor", o.BindIP, o.BindPort)
}
