package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/instrument-control/icb/internal/bridge"
	"github.com/instrument-control/icb/internal/channel"
	"github.com/instrument-control/icb/internal/config"
	"github.com/instrument-control/icb/internal/hostmock"
	"github.com/instrument-control/icb/internal/monitor"
	"github.com/instrument-control/icb/internal/validate"
)

// cliContext holds the wired components shared by all subcommands.
type cliContext struct {
	cfg     *config.Config
	channel *channel.Channel
	bridge  *bridge.Bridge
	monitor *monitor.Monitor
	demo    *hostmock.Host
}

func (c *cliContext) close() {
	if c.demo != nil {
		c.demo.Stop()
	}
	if c.channel != nil {
		_ = c.channel.Close()
	}
}

func newRootCmd() *cobra.Command {
	var (
		configPath string
		timeoutSec int
		demo       bool
		cli        cliContext
	)

	root := &cobra.Command{
		Use:           "icbctl",
		Short:         "Operate an instrument host console through the file bridge",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if timeoutSec > 0 {
				cfg.Timing.QueryTimeoutSec = timeoutSec
				cfg.Timing.ExecuteTimeoutSec = timeoutSec
			}
			if demo {
				// A scripted host answering the standard vocabulary,
				// so every subcommand can be exercised offline.
				cli.demo = hostmock.New(cfg.Medium.CommandFile, cfg.Medium.ResponseFile,
					50*time.Millisecond, hostmock.Scripted(demoReplies()))
				cli.demo.Start()
				cfg.Medium.ScanCadenceMs = 50
				cfg.Medium.PollIntervalMs = 60
			}

			ch, err := channel.New(cfg.Medium)
			if err != nil {
				return err
			}

			br := bridge.New(ch, cfg)
			br.SetValidator(validate.New(br, cfg))

			cli.cfg = cfg
			cli.channel = ch
			cli.bridge = br
			cli.monitor = monitor.New(br, cfg)
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			cli.close()
		},
	}

	root.PersistentFlags().StringVar(&configPath, "config", "", "path to YAML config file")
	root.PersistentFlags().IntVar(&timeoutSec, "timeout", 0, "reply timeout in seconds (overrides config)")
	root.PersistentFlags().BoolVar(&demo, "demo", false, "run against a built-in scripted host")

	root.AddCommand(
		newSendCmd(&cli),
		newStatusCmd(&cli),
		newModulesCmd(&cli),
		newVialsCmd(&cli),
		newWaitReadyCmd(&cli),
		newStartCmd(&cli),
		newAbortCmd(&cli),
	)

	return root
}

// demoReplies scripts a healthy idle instrument.
func demoReplies() map[string]string {
	return map[string]string{
		"STATUS SYSTEM":     "Standby",
		"STATUS MODULE CE1": "Idle",
		"STATUS MODULE CE2": "Idle",
		"STATUS VIALS":      "10=Carousel 11=Inlet 48=Replenishment",
		"STATUS PRESSURE":   "0",
		"STATUS RUNNING":    "0",
	}
}

func printKV(key string, value interface{}) {
	fmt.Printf("%-14s %v\n", key+":", value)
}
