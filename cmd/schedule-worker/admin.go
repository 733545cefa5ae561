package main

import (
	"context"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/keboola/schedule-coordinator/internal/pkg/service/schedule/config"
	"github.com/keboola/schedule-coordinator/internal/pkg/service/schedule/manager"
	"github.com/keboola/schedule-coordinator/internal/pkg/service/schedule/model"
	"github.com/keboola/schedule-coordinator/internal/pkg/service/schedule/server"
)

func taskTypeCommand(root *rootCommand) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "task-type",
		Short: "Manage definitions of base task types",
	}

	// simple runs an operation with one base task type argument
	simple := func(use, short, done string, fn func(ctx context.Context, data *manager.DataManager, base string) error) *cobra.Command {
		return &cobra.Command{
			Use:   use + " <baseTaskType>",
			Short: short,
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return root.withData(cmd, func(ctx context.Context, _ config.Config, data *manager.DataManager) error {
					if err := fn(ctx, data, args[0]); err != nil {
						return err
					}
					fmt.Fprintf(root.stdout, "Task type \"%s\" %s.\n", args[0], done)
					return nil
				})
			},
		}
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "create <baseTaskType> [taskItem...]",
			Short: "Create a base task type, items are \"id\" or \"id:{parameter}\"",
			Args:  cobra.MinimumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return root.withData(cmd, func(ctx context.Context, cfg config.Config, data *manager.DataManager) error {
					def, err := cfg.Schedule.TaskType(args[0], args[1:]...)
					if err != nil {
						return err
					}
					if err := data.TaskTypes().Create(ctx, def); err != nil {
						return err
					}
					fmt.Fprintf(root.stdout, "Task type \"%s\" created with %d task items.\n", def.BaseTaskType, len(def.TaskItems))
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "list",
			Short: "List base task types",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return root.withData(cmd, func(ctx context.Context, _ config.Config, data *manager.DataManager) error {
					defs, err := data.TaskTypes().LoadAll(ctx)
					if err != nil {
						return err
					}
					return printTaskTypes(root, defs)
				})
			},
		},
		&cobra.Command{
			Use:   "domains <baseTaskType>",
			Short: "List running domains of a base task type",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return root.withData(cmd, func(ctx context.Context, _ config.Config, data *manager.DataManager) error {
					domains, err := data.TaskTypes().ListDomains(ctx, args[0])
					if err != nil {
						return err
					}
					for _, d := range domains {
						fmt.Fprintf(root.stdout, "%s\t%s\n", d.TaskType, d.OwnSign)
					}
					return nil
				})
			},
		},
		simple("pause", "Pause all domains of a base task type", "paused", func(ctx context.Context, data *manager.DataManager, base string) error {
			return data.TaskTypes().Pause(ctx, base)
		}),
		simple("resume", "Resume all domains of a base task type", "resumed", func(ctx context.Context, data *manager.DataManager, base string) error {
			return data.TaskTypes().Resume(ctx, base)
		}),
		simple("clear", "Delete all domains of a base task type, the definition is kept", "cleared", func(ctx context.Context, data *manager.DataManager, base string) error {
			return data.TaskTypes().Clear(ctx, base)
		}),
		simple("delete", "Delete a base task type with all its domains", "deleted", func(ctx context.Context, data *manager.DataManager, base string) error {
			return data.TaskTypes().Delete(ctx, base)
		}),
	)
	return cmd
}

func serverCommand(root *rootCommand) *cobra.Command {
	query := server.Query{}
	list := &cobra.Command{
		Use:   "list",
		Short: "List live servers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return root.withData(cmd, func(ctx context.Context, _ config.Config, data *manager.DataManager) error {
				servers, err := data.Servers().Select(ctx, query)
				if err != nil {
					return err
				}
				w := tabwriter.NewWriter(root.stdout, 0, 0, 2, ' ', 0)
				fmt.Fprintln(w, "UUID\tTASK TYPE\tIP\tHOST\tHEARTBEAT\tLEADER")
				for _, s := range servers {
					names, err := data.Servers().ListNames(ctx, s.TaskType)
					if err != nil {
						return err
					}
					leader := ""
					if server.IsLeader(s.UUID, names) {
						leader = color.GreenString("yes")
					}
					fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n", s.UUID, s.TaskType, s.IP, s.HostName, model.FormatDate(s.HeartBeatTime), leader)
				}
				return w.Flush()
			})
		},
	}
	list.Flags().StringVar(&query.BaseTaskType, "base", "", "Filter by the base task type.")
	list.Flags().StringVar(&query.OwnSign, "own-sign", "", "Filter by the own sign, requires --base.")
	list.Flags().StringVar(&query.IP, "server-ip", "", "Filter by the IP address.")
	list.Flags().StringVar(&query.OrderBy, "order-by", "", "Comma separated order fields, for example \"IP,HEARTBEAT_TIME\".")

	cmd := &cobra.Command{Use: "server", Short: "Inspect server registrations"}
	cmd.AddCommand(list)
	return cmd
}

func itemCommand(root *rootCommand) *cobra.Command {
	cmd := &cobra.Command{Use: "item", Short: "Inspect task items"}
	cmd.AddCommand(&cobra.Command{
		Use:   "list <taskType>",
		Short: "List task items of a domain",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return root.withData(cmd, func(ctx context.Context, _ config.Config, data *manager.DataManager) error {
				items, err := data.TaskItems().ListAll(ctx, args[0])
				if err != nil {
					return err
				}
				w := tabwriter.NewWriter(root.stdout, 0, 0, 2, ' ', 0)
				fmt.Fprintln(w, "ID\tCURRENT\tREQUESTED\tSTATUS\tPARAMETER")
				for _, item := range items {
					fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", item.TaskItemID, item.CurrentServer, item.RequestServer, item.Status, item.Parameter)
				}
				return w.Flush()
			})
		},
	})
	return cmd
}

func printTaskTypes(root *rootCommand, defs []model.TaskType) error {
	w := tabwriter.NewWriter(root.stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tSTATUS\tHEARTBEAT\tJUDGE DEAD\tITEMS")
	for _, def := range defs {
		status := string(def.Status)
		if def.Paused() {
			status = color.YellowString(status)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", def.BaseTaskType, status, def.HeartBeatInterval(), def.JudgeDeadDuration(), strings.Join(def.TaskItems, ","))
	}
	return w.Flush()
}
