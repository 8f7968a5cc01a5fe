package main

import (
	"context"
	"os"
	"strings"

	"github.com/ghodss/yaml"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/skiffworks/skiff/internal/agent"
	"github.com/skiffworks/skiff/internal/agent/options"
	"github.com/skiffworks/skiff/pkg/check"
)

const defaultConfigPath = "/etc/skiff/agent.yaml"

func newRunCmd() *cobra.Command {
	defaults := options.DefaultOptions()
	var configFile string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "run the skiff agent",
		Args:  cobra.NoArgs,
	}

	flags := cmd.Flags()
	flags.StringVar(&configFile, "config-file", "", "path to the agent config file")
	flags.String("master-host", defaults.MasterHost, "hostname of the master")
	flags.Int("master-port", defaults.MasterPort, "port of the master")
	flags.String("bind-ip", defaults.BindIP, "ip address the agent's endpoints bind to")
	flags.Int("bind-port", defaults.BindPort, "port the agent's endpoints bind to")
	flags.String("hostname", "", "hostname advertised to the master (defaults to the OS hostname)")
	flags.String("resources", "",
		`advertised resource bundle, e.g. "cpus:8;mem:16384"; autodetected when empty`)
	flags.String("attributes", "", `static key=value labels, e.g. "rack=r1;zone=east"`)
	flags.String("work-dir", defaults.WorkDir, "root of executor sandboxes")
	flags.String("meta-dir", "", "root of checkpointed state (defaults to <work-dir>/meta)")
	flags.Bool("checkpoint", false, "enable durable logging of framework state")
	flags.String("recover", defaults.Recover, "recovery policy at startup: reconnect or cleanup")
	flags.Bool("strict", false, "treat recovery errors as fatal")
	flags.String("isolation", defaults.Isolation, "isolation backend: process or docker")
	flags.Duration("executor-registration-timeout", defaults.ExecutorRegistrationTimeout,
		"how long a launched executor may take to register")
	flags.Duration("executor-reregistration-timeout", defaults.ExecutorReregistrationTimeout,
		"how long recovered executors may take to re-register")
	flags.Duration("executor-shutdown-grace-period", defaults.ExecutorShutdownGracePeriod,
		"grace period between an executor's soft shutdown and its forced destruction")
	flags.Duration("gc-delay", defaults.GCDelay,
		"maximum age of sandboxes before garbage collection")
	flags.Duration("disk-watch-interval", defaults.DiskWatchInterval,
		"period of the disk usage probe")
	flags.Int("log-ring-size", defaults.LogRingSize,
		"capacity of the in-memory log ring served by the inspection endpoint")

	cmd.RunE = func(*cobra.Command, []string) error {
		// Precedence: flags > environment > config file > defaults, resolved through viper.
		v := viper.New()
		v.SetEnvPrefix("SKIFF")
		v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
		v.AutomaticEnv()
		if err := v.BindPFlags(flags); err != nil {
			return errors.Wrap(err, "cannot bind flags")
		}

		bs, err := readConfigFile(configFile)
		if err != nil {
			return err
		}
		if bs != nil {
			var configMap map[string]interface{}
			if err := yaml.Unmarshal(bs, &configMap); err != nil {
				return errors.Wrap(err, "cannot unmarshal yaml configuration file")
			}
			if err := v.MergeConfigMap(configMap); err != nil {
				return errors.Wrap(err, "cannot merge configuration file")
			}
		}

		opts := options.Options{
			ConfigFile: configFile,

			MasterHost: v.GetString("master-host"),
			MasterPort: v.GetInt("master-port"),
			BindIP:     v.GetString("bind-ip"),
			BindPort:   v.GetInt("bind-port"),
			Hostname:   v.GetString("hostname"),

			Resources:  v.GetString("resources"),
			Attributes: v.GetString("attributes"),

			WorkDir: v.GetString("work-dir"),
			MetaDir: v.GetString("meta-dir"),

			Checkpoint: v.GetBool("checkpoint"),
			Recover:    v.GetString("recover"),
			Strict:     v.GetBool("strict"),
			Isolation:  v.GetString("isolation"),

			ExecutorRegistrationTimeout:   v.GetDuration("executor-registration-timeout"),
			ExecutorReregistrationTimeout: v.GetDuration("executor-reregistration-timeout"),
			ExecutorShutdownGracePeriod:   v.GetDuration("executor-shutdown-grace-period"),
			GCDelay:                       v.GetDuration("gc-delay"),
			DiskWatchInterval:             v.GetDuration("disk-watch-interval"),

			LogRingSize: v.GetInt("log-ring-size"),
		}

		if err := opts.Resolve(); err != nil {
			return err
		}
		if err := check.Validate(opts); err != nil {
			return errors.Wrap(err, "illegal agent configuration")
		}
		return agent.Run(context.Background(), version, opts)
	}

	return cmd
}

func readConfigFile(configPath string) ([]byte, error) {
	isDefault := configPath == ""
	if isDefault {
		configPath = defaultConfigPath
	}

	if _, err := os.Stat(configPath); err != nil {
		if isDefault && os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.Wrapf(err, "error finding configuration file %s", configPath)
	}
	bs, err := os.ReadFile(configPath)
	if err != nil {
		return nil, errors.Wrapf(err, "error reading configuration file %s", configPath)
	}
	return bs, nil
}
