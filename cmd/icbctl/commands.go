package main

import (
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/spf13/cobra"
)

func newSendCmd(cli *cliContext) *cobra.Command {
	var noResponse bool

	cmd := &cobra.Command{
		Use:   "send PAYLOAD",
		Short: "Send a raw console command",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if noResponse {
				if err := cli.bridge.Execute(cmd.Context(), args[0]); err != nil {
					return err
				}
				fmt.Println("acknowledged")
				return nil
			}
			reply, err := cli.bridge.Query(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Println(reply)
			return nil
		},
	}
	cmd.Flags().BoolVar(&noResponse, "no-response", false, "command carries no reply value, expect a bare acknowledgment")
	return cmd
}

func newStatusCmd(cli *cliContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the system state and run flag",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			systemState, err := cli.bridge.SystemState(cmd.Context())
			if err != nil {
				return err
			}
			running, err := cli.bridge.Running(cmd.Context())
			if err != nil {
				return err
			}
			printKV("system", systemState)
			printKV("running", running)
			return nil
		},
	}
}

func newModulesCmd(cli *cliContext) *cobra.Command {
	return &cobra.Command{
		Use:   "modules MODULE...",
		Short: "Show per-module states",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, id := range args {
				moduleState, err := cli.bridge.ModuleState(cmd.Context(), id)
				if err != nil {
					return fmt.Errorf("module %s: %w", id, err)
				}
				printKV(id, moduleState)
			}
			return nil
		},
	}
}

func newVialsCmd(cli *cliContext) *cobra.Command {
	return &cobra.Command{
		Use:   "vials",
		Short: "Show the vial position table",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			table, err := cli.bridge.VialPositions(cmd.Context())
			if err != nil {
				return err
			}
			if len(table) == 0 {
				fmt.Println("no vials reported")
				return nil
			}
			ids := make([]int, 0, len(table))
			for id := range table {
				ids = append(ids, id)
			}
			sort.Ints(ids)
			for _, id := range ids {
				printKV(strconv.Itoa(id), table[id])
			}
			return nil
		},
	}
}

func newWaitReadyCmd(cli *cliContext) *cobra.Command {
	var (
		timeoutSec int
		modules    []string
	)

	cmd := &cobra.Command{
		Use:   "wait-ready",
		Short: "Wait until the system (and optionally named modules) settle",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			timeout := time.Duration(timeoutSec) * time.Second

			ready, err := cli.monitor.WaitUntilReady(cmd.Context(), timeout)
			if err != nil {
				return err
			}
			if !ready {
				fmt.Println("not ready")
				// Not an error per se: the caller asked a question.
				return nil
			}

			if len(modules) > 0 {
				if err := cli.monitor.WaitUntilModulesReady(cmd.Context(), modules, timeout, true); err != nil {
					return err
				}
			}

			fmt.Println("ready")
			return nil
		},
	}
	cmd.Flags().IntVar(&timeoutSec, "wait", 60, "readiness wait in seconds")
	cmd.Flags().StringSliceVar(&modules, "modules", nil, "also wait for these modules to reach Idle")
	return cmd
}

func newStartCmd(cli *cliContext) *cobra.Command {
	return &cobra.Command{
		Use:   "start METHOD",
		Short: "Start a method and confirm the run actually began",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cli.bridge.StartMethod(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Println("started", args[0])
			return nil
		},
	}
}

func newAbortCmd(cli *cliContext) *cobra.Command {
	return &cobra.Command{
		Use:   "abort",
		Short: "Abort the current run",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cli.bridge.AbortRun(cmd.Context()); err != nil {
				return err
			}
			fmt.Println("aborted")
			return nil
		},
	}
}
