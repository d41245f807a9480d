// Package taskscmder provides the tasks command for inspecting vectorization
// tasks on a running quarry API server.
package taskscmder

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/papercomputeco/quarry/api/client"
	"github.com/papercomputeco/quarry/pkg/cliui"
	"github.com/papercomputeco/quarry/pkg/config"
	"github.com/papercomputeco/quarry/pkg/utils"
	"github.com/papercomputeco/quarry/pkg/vectorize"
)

const progressWidth = 20

type tasksCommander struct {
	apiTarget string
	jsonOut   bool
	watch     bool
	interval  time.Duration

	out io.Writer
}

const tasksLongDesc string = `Inspect vectorization tasks on the quarry API server.

Without a subcommand, lists every task newest first with its progress.
Use --watch to follow progress live until interrupted.

Examples:
  quarry tasks
  quarry tasks --watch
  quarry tasks show 5f0c...
  quarry tasks stats`

const tasksShortDesc string = "Inspect vectorization tasks"

func NewTasksCmd() *cobra.Command {
	cmder := &tasksCommander{}

	cmd := &cobra.Command{
		Use:   "tasks",
		Short: tasksShortDesc,
		Long:  tasksLongDesc,
		Args:  cobra.NoArgs,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			configDir, _ := cmd.Flags().GetString("config-dir")
			v, err := config.InitViper(configDir)
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			config.BindRegisteredFlags(v, cmd, config.ClientFlags, []string{config.FlagAPITarget})
			cmder.apiTarget = config.FromViper(v).Client.APITarget
			cmder.out = cmd.OutOrStdout()
			return nil
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			if cmder.watch {
				return cmder.runWatch(cmd.Context(), cmd.InOrStdin())
			}
			return cmder.runList(cmd.Context())
		},
	}

	config.AddPersistentStringFlag(cmd, config.ClientFlags, config.FlagAPITarget, &cmder.apiTarget)
	cmd.PersistentFlags().BoolVar(&cmder.jsonOut, "json", false, "Print raw JSON")
	cmd.Flags().BoolVarP(&cmder.watch, "watch", "w", false, "Follow task progress live")
	cmd.Flags().DurationVar(&cmder.interval, "interval", time.Second, "Polling interval for --watch")

	cmd.AddCommand(
		&cobra.Command{
			Use:   "show <task-id>",
			Short: "Show a single task",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return cmder.runShow(cmd.Context(), args[0])
			},
		},
		&cobra.Command{
			Use:   "stats",
			Short: "Show scheduler statistics",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return cmder.runStats(cmd.Context())
			},
		},
	)

	return cmd
}

func (c *tasksCommander) client() (*client.Client, error) {
	return client.New(c.apiTarget, nil)
}

func (c *tasksCommander) runList(ctx context.Context) error {
	api, err := c.client()
	if err != nil {
		return err
	}
	tasks, err := api.ListTasks(orBackground(ctx))
	if err != nil {
		return err
	}

	if c.jsonOut {
		return c.printJSON(tasks)
	}
	if len(tasks) == 0 {
		fmt.Fprintln(c.out, "No tasks.")
		return nil
	}
	for _, t := range tasks {
		fmt.Fprintln(c.out, taskLine(t))
	}
	return nil
}

func (c *tasksCommander) runShow(ctx context.Context, id string) error {
	api, err := c.client()
	if err != nil {
		return err
	}
	task, err := api.GetTask(orBackground(ctx), id)
	if err != nil {
		return fmt.Errorf("task %s: %w", id, err)
	}

	if c.jsonOut {
		return c.printJSON(task)
	}

	c.field("Task", task.ID)
	c.field("Document", fmt.Sprintf("%d", task.DocumentID))
	c.field("Status", fmt.Sprintf("%s %s", cliui.StatusMark(string(task.Status)), task.Status))
	c.field("Progress", cliui.ProgressBar(task.Progress, progressWidth))
	c.field("Chunks", fmt.Sprintf("%d/%d", task.ChunksProcessed, task.ChunksTotal))
	c.field("Created", task.CreatedAt.Local().Format(time.RFC3339))
	if task.StartedAt != nil {
		c.field("Started", task.StartedAt.Local().Format(time.RFC3339))
	}
	if task.CompletedAt != nil {
		c.field("Completed", task.CompletedAt.Local().Format(time.RFC3339))
		if task.StartedAt != nil {
			c.field("Duration", task.CompletedAt.Sub(*task.StartedAt).Round(time.Millisecond).String())
		}
	}
	if task.ErrorMessage != "" {
		c.field("Error", task.ErrorMessage)
	}
	return nil
}

func (c *tasksCommander) runStats(ctx context.Context) error {
	api, err := c.client()
	if err != nil {
		return err
	}
	stats, err := api.TaskStats(orBackground(ctx))
	if err != nil {
		return err
	}

	if c.jsonOut {
		return c.printJSON(stats)
	}

	c.field("Total", fmt.Sprintf("%d", stats.Total))
	c.field("Pending", fmt.Sprintf("%d", stats.Pending))
	c.field("Processing", fmt.Sprintf("%d", stats.Processing))
	c.field("Completed", fmt.Sprintf("%d", stats.Completed))
	c.field("Failed", fmt.Sprintf("%d", stats.Failed))
	c.field("Queued", fmt.Sprintf("%d", stats.Queued))
	c.field("Workers", fmt.Sprintf("%d", stats.Workers))
	return nil
}

func (c *tasksCommander) field(key, value string) {
	fmt.Fprintf(c.out, "%s %s\n", cliui.KeyStyle.Render(fmt.Sprintf("%-10s", key+":")), cliui.ValueStyle.Render(value))
}

func (c *tasksCommander) printJSON(v any) error {
	enc := json.NewEncoder(c.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// taskLine renders a task as a single list row.
func taskLine(t vectorize.Task) string {
	line := fmt.Sprintf("  %s %s  doc %-5d %-10s %s  %d/%d chunks",
		cliui.StatusMark(string(t.Status)),
		shortID(t.ID),
		t.DocumentID,
		t.Status,
		cliui.ProgressBar(t.Progress, progressWidth),
		t.ChunksProcessed,
		t.ChunksTotal,
	)
	if t.ErrorMessage != "" {
		line += "  " + cliui.DimStyle.Render(utils.Truncate(utils.OneLine(t.ErrorMessage), 60))
	}
	return line
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func orBackground(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}
	return ctx
}
