package main

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/gantryhq/gantry/pkg/client"
	"github.com/gantryhq/gantry/pkg/events"
	"github.com/gantryhq/gantry/pkg/intake"
	"github.com/gantryhq/gantry/pkg/types"
)

// apiClient builds a client for the server named by --server
func apiClient(cmd *cobra.Command) *client.Client {
	server, _ := cmd.Flags().GetString("server")
	return client.New(server)
}

var deployCmd = &cobra.Command{
	Use:   "deploy APPLICATION ENVIRONMENT REGION AMI",
	Short: "Submit a deployment to a running server",
	Long: `Submit a deployment request. The server validates the request, verifies
the image belongs to the application, merges parameters and queues the
deployment; the command returns as soon as the document is written.`,
	Args: cobra.ExactArgs(4),
	RunE: func(cmd *cobra.Command, args []string) error {
		user, _ := cmd.Flags().GetString("user")
		message, _ := cmd.Flags().GetString("message")
		rawParams, _ := cmd.Flags().GetStringArray("param")

		params := types.Parameters{}
		for _, raw := range rawParams {
			key, value, ok := strings.Cut(raw, "=")
			if !ok || key == "" {
				return fmt.Errorf("--param must be key=value, got %q", raw)
			}
			params[key] = value
		}

		req := intake.Request{
			Application: args[0],
			Environment: args[1],
			Region:      args[2],
			AMI:         args[3],
			User:        user,
			Message:     message,
			Parameters:  params,
		}

		id, err := apiClient(cmd).Deploy(cmd.Context(), req)
		if err != nil {
			return err
		}

		fmt.Printf("✓ Deployment queued: %s\n", id)
		fmt.Printf("  %s to %s/%s from %s\n", req.Application, req.Environment, req.Region, req.AMI)
		fmt.Printf("  Follow progress: gantry deployment %s\n", id)
		return nil
	},
}

var deploymentsCmd = &cobra.Command{
	Use:   "deployments",
	Short: "List deployment documents",
	RunE: func(cmd *cobra.Command, args []string) error {
		cl := apiClient(cmd)
		ctx := cmd.Context()

		application, _ := cmd.Flags().GetString("application")
		incomplete, _ := cmd.Flags().GetBool("incomplete")
		broken, _ := cmd.Flags().GetBool("broken")

		var list []*types.Deployment
		var err error
		switch {
		case broken:
			list, err = cl.BrokenDeployments(ctx)
		case incomplete:
			list, err = cl.IncompleteDeployments(ctx)
		case application != "":
			list, err = cl.DeploymentsByApplication(ctx, application)
		default:
			list, err = cl.Deployments(ctx)
		}
		if err != nil {
			return err
		}

		if len(list) == 0 {
			fmt.Println("No deployments")
			return nil
		}

		fmt.Printf("%-14s %-16s %-20s %-13s %-17s %s\n",
			"ID", "APPLICATION", "TARGET", "STATE", "CREATED", "USER")
		for _, d := range list {
			fmt.Printf("%-14s %-16s %-20s %-13s %-17s %s\n",
				d.ID, d.Application,
				d.Environment+"/"+d.Region,
				deploymentState(d),
				d.Created.Format("2006-01-02 15:04"),
				d.User)
		}
		return nil
	},
}

var deploymentCmd = &cobra.Command{
	Use:   "deployment ID",
	Short: "Show one deployment document",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := apiClient(cmd).Deployment(cmd.Context(), args[0])
		if err != nil {
			return err
		}

		asJSON, _ := cmd.Flags().GetBool("json")
		if asJSON {
			encoded, err := json.MarshalIndent(d, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(encoded))
			return nil
		}

		printDeployment(d)
		return nil
	},
}

var pauseCmd = &cobra.Command{
	Use:   "pause APPLICATION ENVIRONMENT REGION",
	Short: "Pause the target's running deployment at its next task boundary",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		requested, err := apiClient(cmd).RequestPause(cmd.Context(), args[0], args[1], args[2])
		if err != nil {
			return err
		}
		target := types.EnvironmentKey(args[0], args[1], args[2])
		if requested {
			fmt.Printf("✓ Pause requested for %s\n", target)
		} else {
			fmt.Printf("Pause already requested for %s\n", target)
		}
		return nil
	},
}

var resumeCmd = &cobra.Command{
	Use:   "resume APPLICATION ENVIRONMENT REGION",
	Short: "Restart the target's paused deployment",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := apiClient(cmd).RequestResume(cmd.Context(), args[0], args[1], args[2]); err != nil {
			return err
		}
		fmt.Printf("✓ Resume queued for %s\n", types.EnvironmentKey(args[0], args[1], args[2]))
		return nil
	},
}

var cancelCmd = &cobra.Command{
	Use:   "cancel APPLICATION ENVIRONMENT REGION",
	Short: "Cancel the target's running deployment at its next task boundary",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		requested, err := apiClient(cmd).RequestCancel(cmd.Context(), args[0], args[1], args[2])
		if err != nil {
			return err
		}
		target := types.EnvironmentKey(args[0], args[1], args[2])
		if requested {
			fmt.Printf("✓ Cancel requested for %s\n", target)
		} else {
			fmt.Printf("Cancel already requested for %s\n", target)
		}
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show server identity and the deployment lock",
	RunE: func(cmd *cobra.Command, args []string) error {
		cl := apiClient(cmd)
		ctx := cmd.Context()

		status, err := cl.Status(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("%s %s: %s\n", status.Name, status.Version, status.Status)

		locked, err := cl.Locked(ctx)
		if err != nil {
			return err
		}
		if locked {
			fmt.Println("⚠ Deployment lock is held; new deployments are refused")
		} else {
			fmt.Println("Deployment lock: released")
		}
		return nil
	},
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Stream deployment events from the server",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		fmt.Println("Watching deployment events (ctrl-c to stop)")
		return apiClient(cmd).Watch(ctx, func(e *events.Event) {
			target := e.DeploymentID
			if e.Application != "" {
				target = fmt.Sprintf("%s (%s)", types.EnvironmentKey(e.Application, e.Environment, e.Region), e.DeploymentID)
			}
			fmt.Printf("%s  %-22s %-45s %s\n", e.Timestamp.Format("15:04:05"), e.Type, target, e.Message)
		})
	},
}

func init() {
	deployCmd.Flags().String("user", os.Getenv("USER"), "User recorded on the deployment")
	deployCmd.Flags().String("message", "", "Free-form note recorded on the deployment")
	deployCmd.Flags().StringArray("param", nil, "Deployment parameter as key=value (repeatable)")

	deploymentsCmd.Flags().String("application", "", "Only list deployments of this application")
	deploymentsCmd.Flags().Bool("incomplete", false, "Only list deployments with unfinished tasks")
	deploymentsCmd.Flags().Bool("broken", false, "Only list incomplete deployments no worker is driving")

	deploymentCmd.Flags().Bool("json", false, "Print the raw document")
}

// deploymentState condenses a document into one word for list output
func deploymentState(d *types.Deployment) string {
	if d.End != nil {
		for _, task := range d.Tasks {
			if task.Status == types.TaskFailed || task.Status == types.TaskTerminated {
				return "failed"
			}
		}
		return "completed"
	}
	if d.Start != nil {
		return "in progress"
	}
	return "queued"
}

func printDeployment(d *types.Deployment) {
	fmt.Printf("Deployment %s\n", d.ID)
	fmt.Printf("  Application: %s\n", d.Application)
	fmt.Printf("  Target:      %s/%s\n", d.Environment, d.Region)
	fmt.Printf("  Image:       %s\n", d.AMI)
	fmt.Printf("  User:        %s\n", d.User)
	if d.Message != "" {
		fmt.Printf("  Message:     %s\n", d.Message)
	}
	fmt.Printf("  Created:     %s\n", d.Created.Format("2006-01-02 15:04:05 MST"))
	if d.Start != nil {
		fmt.Printf("  Started:     %s\n", d.Start.Format("2006-01-02 15:04:05 MST"))
	}
	if d.End != nil {
		fmt.Printf("  Ended:       %s\n", d.End.Format("2006-01-02 15:04:05 MST"))
	}

	fmt.Println("\nTasks:")
	for _, task := range d.Tasks {
		timing := ""
		if task.Start != nil && task.End != nil {
			timing = task.End.Sub(*task.Start).Round(100 * time.Millisecond).String()
		}
		fmt.Printf("  %-28s %-11s %s\n", task.Action, task.Status, timing)
	}

	for _, task := range d.Tasks {
		if len(task.Log) == 0 {
			continue
		}
		fmt.Printf("\n%s:\n", task.Action)
		for _, entry := range task.Log {
			fmt.Printf("  %s  %s\n", entry.Timestamp.Format("15:04:05"), entry.Message)
		}
	}
}
