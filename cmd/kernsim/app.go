package main

import (
	"fmt"

	"github.com/patrick-huynh/os161/kernel/kconfig"
	"github.com/patrick-huynh/os161/kernel/kfmt"
	"github.com/patrick-huynh/os161/kernel/kmain"
	"github.com/patrick-huynh/os161/kernel/wait"
	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
)

const (
	configFlag   = "config"
	cmdlineFlag  = "cmdline"
	logLevelFlag = "log-level"
)

var appCommands = []*cli.Command{
	bootCommand,
	listCommand,
	runCommand,
	stressCommand,
}

func app() *cli.App {
	return &cli.App{
		Name:     "kernsim",
		Usage:    "Boot the teaching kernel and run user programs on it",
		Commands: appCommands,
		Before:   beforeApp,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    configFlag,
				Aliases: []string{"c"},
				Usage:   "load kernel settings from a TOML `FILE`",
			},
			&cli.StringFlag{
				Name:  cmdlineFlag,
				Usage: "boot command line of key=value pairs applied after the config file",
			},
			&cli.StringFlag{
				Name:  logLevelFlag,
				Usage: "kernel log level; overrides the configuration",
			},
		},
	}
}

func beforeApp(c *cli.Context) error {
	kfmt.SetOutputSink(c.App.ErrWriter)
	return nil
}

// loadConfig builds the kernel configuration from the global flags.
func loadConfig(c *cli.Context) (kconfig.Config, error) {
	cfg := kconfig.Default()
	if path := c.String(configFlag); path != "" {
		var err error
		if cfg, err = kconfig.Load(path); err != nil {
			return cfg, err
		}
	}

	if err := cfg.ApplyCmdline(c.String(cmdlineFlag)); err != nil {
		return cfg, err
	}

	if lvl := c.String(logLevelFlag); lvl != "" {
		cfg.LogLevel = lvl
	}
	return cfg, nil
}

func bootKernel(c *cli.Context) (*kmain.Kernel, error) {
	cfg, err := loadConfig(c)
	if err != nil {
		return nil, err
	}

	return kmain.Boot(cfg)
}

// describeStatus renders an encoded wait status.
func describeStatus(status int) string {
	switch {
	case wait.IfExited(status):
		return fmt.Sprintf("exited with code %d", wait.ExitStatus(status))
	case wait.IfSignaled(status):
		return fmt.Sprintf("killed by signal %d", wait.TermSig(status))
	case wait.IfCoreDump(status):
		return fmt.Sprintf("dumped core on signal %d", wait.TermSig(status))
	default:
		return fmt.Sprintf("stopped by signal %d", wait.StopSig(status))
	}
}

func shutdown(k *kmain.Kernel) error {
	return errors.Wrap(k.Shutdown(), "shutdown")
}
