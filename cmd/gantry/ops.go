package main

import (
	"fmt"
	"sort"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/gantryhq/gantry/pkg/asg"
	"github.com/gantryhq/gantry/pkg/config"
	"github.com/gantryhq/gantry/pkg/coordination"
	"github.com/gantryhq/gantry/pkg/types"
)

var opsCmd = &cobra.Command{
	Use:   "ops",
	Short: "Operate on the coordination registers directly",
	Long: `Inspect and mutate the shared coordination state: the global lock, the
in-progress and paused registers, and the pause/cancel request sets.

These commands talk to the coordination store directly, so they work when
no server is running. Requests placed here are observed by the running
deployment at its next task boundary.`,
}

func init() {
	opsCmd.AddCommand(opsLockCmd)
	opsCmd.AddCommand(opsUnlockCmd)
	opsCmd.AddCommand(opsPauseCmd)
	opsCmd.AddCommand(opsCancelCmd)
	opsCmd.AddCommand(opsResumeMarkCmd)
	opsCmd.AddCommand(opsInProgressCmd)
	opsCmd.AddCommand(opsPausedCmd)
	opsCmd.AddCommand(opsResizeCmd)

	opsResizeCmd.Flags().String("ticket", "", "Audit reference recorded with the remote task")
}

// dialCoordinator loads configuration and connects to the coordination store
func dialCoordinator(cmd *cobra.Command) (*coordination.Coordinator, *config.Config, error) {
	configPath, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}

	rdb := coordination.Dial(coordination.Config{
		Address:  cfg.Redis.Address,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	coord := coordination.New(rdb, cfg.Redis.KeyPrefix)
	if err := coord.Healthy(cmd.Context()); err != nil {
		coord.Close()
		return nil, nil, err
	}
	return coord, cfg, nil
}

var opsLockCmd = &cobra.Command{
	Use:   "lock",
	Short: "Suspend intake of new deployments",
	RunE: func(cmd *cobra.Command, args []string) error {
		coord, _, err := dialCoordinator(cmd)
		if err != nil {
			return err
		}
		defer coord.Close()

		if err := coord.Lock(cmd.Context()); err != nil {
			return err
		}
		fmt.Println("✓ Deployments locked")
		return nil
	},
}

var opsUnlockCmd = &cobra.Command{
	Use:   "unlock",
	Short: "Resume intake of new deployments",
	RunE: func(cmd *cobra.Command, args []string) error {
		coord, _, err := dialCoordinator(cmd)
		if err != nil {
			return err
		}
		defer coord.Close()

		if err := coord.Unlock(cmd.Context()); err != nil {
			return err
		}
		fmt.Println("✓ Deployments unlocked")
		return nil
	},
}

var opsPauseCmd = &cobra.Command{
	Use:   "pause APPLICATION ENVIRONMENT REGION",
	Short: "Ask the running deployment on a target to pause at its next task boundary",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		coord, _, err := dialCoordinator(cmd)
		if err != nil {
			return err
		}
		defer coord.Close()

		key := types.EnvironmentKey(args[0], args[1], args[2])
		requested, err := coord.RequestPause(cmd.Context(), key)
		if err != nil {
			return err
		}
		if requested {
			fmt.Printf("✓ Pause requested for %s\n", key)
		} else {
			fmt.Printf("Pause already requested for %s\n", key)
		}
		return nil
	},
}

var opsCancelCmd = &cobra.Command{
	Use:   "cancel APPLICATION ENVIRONMENT REGION",
	Short: "Ask the running deployment on a target to stop at its next task boundary",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		coord, _, err := dialCoordinator(cmd)
		if err != nil {
			return err
		}
		defer coord.Close()

		key := types.EnvironmentKey(args[0], args[1], args[2])
		requested, err := coord.RequestCancel(cmd.Context(), key)
		if err != nil {
			return err
		}
		if requested {
			fmt.Printf("✓ Cancel requested for %s\n", key)
		} else {
			fmt.Printf("Cancel already requested for %s\n", key)
		}
		return nil
	},
}

var opsResumeMarkCmd = &cobra.Command{
	Use:   "resume-mark APPLICATION ENVIRONMENT REGION",
	Short: "Clear a target's paused record without restarting the deployment",
	Long: `Clear a target's paused record and withdraw any outstanding pause or
cancel request. The deployment itself is not restarted; use the resume
endpoint of a running server for that. This command is for repairing
coordination state after manual intervention.`,
	Args: cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		coord, _, err := dialCoordinator(cmd)
		if err != nil {
			return err
		}
		defer coord.Close()

		ctx := cmd.Context()
		key := types.EnvironmentKey(args[0], args[1], args[2])
		id, err := coord.Paused(ctx, key)
		if err != nil {
			return err
		}
		if id == "" {
			return fmt.Errorf("no paused deployment for %s", key)
		}

		if err := coord.ClearPaused(ctx, key); err != nil {
			return err
		}
		if err := coord.WithdrawPauseRequest(ctx, key); err != nil {
			return err
		}
		if err := coord.WithdrawCancelRequest(ctx, key); err != nil {
			return err
		}
		fmt.Printf("✓ Cleared paused record of %s for %s\n", id, key)
		return nil
	},
}

var opsInProgressCmd = &cobra.Command{
	Use:   "in-progress",
	Short: "List the in-progress register",
	RunE: func(cmd *cobra.Command, args []string) error {
		coord, _, err := dialCoordinator(cmd)
		if err != nil {
			return err
		}
		defer coord.Close()

		entries, err := coord.AllInProgress(cmd.Context())
		if err != nil {
			return err
		}
		printRegister(entries, "No deployments in progress")
		return nil
	},
}

var opsPausedCmd = &cobra.Command{
	Use:   "paused",
	Short: "List the paused register",
	RunE: func(cmd *cobra.Command, args []string) error {
		coord, _, err := dialCoordinator(cmd)
		if err != nil {
			return err
		}
		defer coord.Close()

		entries, err := coord.AllPaused(cmd.Context())
		if err != nil {
			return err
		}
		printRegister(entries, "No paused deployments")
		return nil
	},
}

func printRegister(entries map[string]string, emptyMessage string) {
	if len(entries) == 0 {
		fmt.Println(emptyMessage)
		return
	}
	keys := make([]string, 0, len(entries))
	for key := range entries {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		fmt.Printf("%-40s %s\n", key, entries[key])
	}
}

var opsResizeCmd = &cobra.Command{
	Use:   "resize ENVIRONMENT REGION GROUP SIZE",
	Short: "Resize an auto scaling group through the remote service",
	Long: `Set a group's minimum and maximum size to SIZE through the remote ASG
service and print the URL of the remote task doing the work. Useful for
shrinking an old generation by hand after a partially failed rollout.`,
	Args: cobra.ExactArgs(4),
	RunE: func(cmd *cobra.Command, args []string) error {
		size, err := strconv.Atoi(args[3])
		if err != nil || size < 0 {
			return fmt.Errorf("SIZE must be a non-negative integer, got %q", args[3])
		}

		configPath, _ := cmd.Flags().GetString("config")
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}

		remote := asg.New(asg.Config{
			BaseURL:         cfg.Remote.BaseURL,
			EnvironmentURLs: cfg.Remote.EnvironmentURLs,
			ConnectTimeout:  cfg.Remote.ConnectTimeout.Std(),
			Timeout:         cfg.Remote.Timeout.Std(),
		})

		ticket, _ := cmd.Flags().GetString("ticket")
		taskURL, err := remote.ResizeGroup(cmd.Context(), args[0], args[1], args[2], ticket, size)
		if err != nil {
			return err
		}
		fmt.Printf("✓ Resize task started: %s\n", taskURL)
		return nil
	},
}
