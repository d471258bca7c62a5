package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"planline/internal/config"
	"planline/internal/db"
	"planline/internal/domain"
	"planline/internal/engine"
	"planline/internal/migrate"
	"planline/internal/repo"
	"planline/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "pl",
	Short: "Planline CLI",
	Long: `Planline is a single-writer project record store for humans and agents.
- Workspace: the .planline directory holding the SQLite database.
- Projects: ordered records with status, priority, progress, tags and money totals.
- Agent runs: idempotent work session records linked to projects.
- Event ledger: append-only, insert-if-absent by id; actions ride on it for replay safety.
- Actions: small mutations (set_status, bump_progress, append_note, ...) agents can apply with optimistic concurrency.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		return nil
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("PLANLINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("agent-id", "local-user", "agent identifier for actions and events")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("agent-id", rootCmd.PersistentFlags().Lookup("agent-id"))
}

func registerCommands() {
	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(projectCmd())
	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(eventCmd())
	rootCmd.AddCommand(actionCmd())
	rootCmd.AddCommand(profileCmd())
	rootCmd.AddCommand(usageCmd())
	rootCmd.AddCommand(backupCmd())
	rootCmd.AddCommand(serveCmd())
}

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Initialize workspace, config and database",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			cfgPath := config.Path(workspace)
			if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
				if err := os.WriteFile(cfgPath, []byte(config.GenerateDefault()), 0o644); err != nil {
					return err
				}
				fmt.Println("wrote", cfgPath)
			}
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				fmt.Println("database ready at", db.Path(workspace))
				return nil
			})
		},
	}
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending schema migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			conn, err := db.Open(db.Config{Workspace: viper.GetString("workspace")})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn); err != nil {
				return err
			}
			v, err := migrate.Version(conn)
			if err != nil {
				return err
			}
			fmt.Printf("schema version %d\n", v)
			return nil
		},
	}
}

func projectCmd() *cobra.Command {
	prj := &cobra.Command{Use: "project", Short: "Manage projects"}
	prj.AddCommand(projectListCmd())
	prj.AddCommand(projectCreateCmd())
	prj.AddCommand(projectShowCmd())
	prj.AddCommand(projectPatchCmd())
	prj.AddCommand(projectDeleteCmd())
	prj.AddCommand(projectReorderCmd())
	prj.AddCommand(projectStatsCmd())
	return prj
}

func projectListCmd() *cobra.Command {
	var status, priority, category, tag, search string
	var limit, offset int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List projects",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, total, err := r.ListProjects(ctx, repo.ProjectFilter{
					Status:   status,
					Priority: priority,
					Category: category,
					Tag:      tag,
					Search:   search,
					Limit:    limit,
					Offset:   offset,
				})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"data": items, "total": total})
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "Status", "Priority", "Progress", "Category", "Updated"})
				for _, p := range items {
					tw.AppendRow(table.Row{p.ID, p.Name, p.Status, p.Priority, fmt.Sprintf("%d%%", p.Progress), p.Category, p.UpdatedAt})
				}
				tw.Render()
				fmt.Printf("%d of %d\n", len(items), total)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "filter by status")
	cmd.Flags().StringVar(&priority, "priority", "", "filter by priority")
	cmd.Flags().StringVar(&category, "category", "", "filter by category")
	cmd.Flags().StringVar(&tag, "tag", "", "filter by tag")
	cmd.Flags().StringVar(&search, "search", "", "substring search")
	cmd.Flags().IntVar(&limit, "limit", 0, "page size")
	cmd.Flags().IntVar(&offset, "offset", 0, "page offset")
	return cmd
}

func projectCreateCmd() *cobra.Command {
	var id, name, description, status, priority, category string
	var tags []string
	var progress int
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create project",
		RunE: func(cmd *cobra.Command, args []string) error {
			if name == "" {
				return fmt.Errorf("--name required")
			}
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				p, err := r.CreateProject(ctx, domain.Project{
					ID:          id,
					Name:        name,
					Description: description,
					Status:      status,
					Priority:    priority,
					Category:    category,
					Tags:        tags,
					Progress:    progress,
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "project id (generated when empty)")
	cmd.Flags().StringVar(&name, "name", "", "project name")
	cmd.Flags().StringVar(&description, "description", "", "description")
	cmd.Flags().StringVar(&status, "status", "", "status")
	cmd.Flags().StringVar(&priority, "priority", "", "priority")
	cmd.Flags().StringVar(&category, "category", "", "category")
	cmd.Flags().StringSliceVar(&tags, "tag", nil, "tag (repeatable)")
	cmd.Flags().IntVar(&progress, "progress", 0, "progress 0-100")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func projectShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show a project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				p, err := r.GetProject(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
}

func projectPatchCmd() *cobra.Command {
	var name, description, notes, status, priority, category, ifUpdatedAt string
	var tags []string
	var progress int
	var budget, actualCost float64
	cmd := &cobra.Command{
		Use:   "patch <id>",
		Short: "Patch a project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var patch repo.ProjectPatch
			if cmd.Flags().Changed("name") {
				patch.Name = &name
			}
			if cmd.Flags().Changed("description") {
				patch.Description = &description
			}
			if cmd.Flags().Changed("notes") {
				patch.Notes = &notes
			}
			if cmd.Flags().Changed("status") {
				patch.Status = &status
			}
			if cmd.Flags().Changed("priority") {
				patch.Priority = &priority
			}
			if cmd.Flags().Changed("category") {
				patch.Category = &category
			}
			if cmd.Flags().Changed("progress") {
				patch.Progress = &progress
			}
			if cmd.Flags().Changed("tag") {
				patch.Tags = &tags
			}
			if cmd.Flags().Changed("budget") {
				patch.Budget = &budget
			}
			if cmd.Flags().Changed("actual-cost") {
				patch.ActualCost = &actualCost
			}
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				p, err := r.PatchProject(ctx, args[0], patch, ifUpdatedAt)
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "name")
	cmd.Flags().StringVar(&description, "description", "", "description")
	cmd.Flags().StringVar(&notes, "notes", "", "notes")
	cmd.Flags().StringVar(&status, "status", "", "status")
	cmd.Flags().StringVar(&priority, "priority", "", "priority")
	cmd.Flags().StringVar(&category, "category", "", "category")
	cmd.Flags().IntVar(&progress, "progress", 0, "progress 0-100")
	cmd.Flags().StringSliceVar(&tags, "tag", nil, "replace tags (repeatable)")
	cmd.Flags().Float64Var(&budget, "budget", 0, "budget")
	cmd.Flags().Float64Var(&actualCost, "actual-cost", 0, "actual cost")
	cmd.Flags().StringVar(&ifUpdatedAt, "if-updated-at", "", "optimistic concurrency token")
	return cmd
}

func projectDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				if err := r.DeleteProject(ctx, args[0]); err != nil {
					return err
				}
				fmt.Println("deleted", args[0])
				return nil
			})
		},
	}
}

func projectReorderCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reorder <id> [id...]",
		Short: "Move the given projects to the front, in order",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				if err := r.ReorderProjects(ctx, args); err != nil {
					return err
				}
				items, _, err := r.ListProjects(ctx, repo.ProjectFilter{})
				if err != nil {
					return err
				}
				for _, p := range items {
					fmt.Printf("%2d  %s  %s\n", p.SortOrder, p.ID, p.Name)
				}
				return nil
			})
		},
	}
}

func projectStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Aggregate project statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				stats, err := r.ProjectStatistics(ctx)
				if err != nil {
					return err
				}
				return printJSONOrTable(stats)
			})
		},
	}
}

func runCmd() *cobra.Command {
	run := &cobra.Command{Use: "run", Short: "Manage agent runs"}
	run.AddCommand(runListCmd())
	run.AddCommand(runShowCmd())
	run.AddCommand(runCreateCmd())
	run.AddCommand(runPatchCmd())
	return run
}

func runListCmd() *cobra.Command {
	var projectID, agentID, status string
	var limit, offset int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List agent runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				runs, total, err := r.ListRuns(ctx, repo.RunFilter{
					ProjectID: projectID,
					AgentID:   agentID,
					Status:    status,
					Limit:     limit,
					Offset:    offset,
				})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"data": runs, "total": total})
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Project", "Agent", "Status", "Started", "Finished"})
				for _, run := range runs {
					tw.AppendRow(table.Row{run.ID, deref(run.ProjectID), deref(run.AgentID), run.Status, run.StartedAt, deref(run.FinishedAt)})
				}
				tw.Render()
				fmt.Printf("%d of %d\n", len(runs), total)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&projectID, "project", "", "filter by project id")
	cmd.Flags().StringVar(&agentID, "agent", "", "filter by agent id")
	cmd.Flags().StringVar(&status, "status", "", "filter by status")
	cmd.Flags().IntVar(&limit, "limit", 0, "page size")
	cmd.Flags().IntVar(&offset, "offset", 0, "page offset")
	return cmd
}

func runShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show an agent run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				run, err := r.GetRun(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(run)
			})
		},
	}
}

func runCreateCmd() *cobra.Command {
	var id, projectID, title string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create agent run (idempotent on --id)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				agentID := viper.GetString("agent-id")
				run := domain.AgentRun{ID: id, AgentID: &agentID}
				if projectID != "" {
					run.ProjectID = &projectID
				}
				if title != "" {
					run.Title = &title
				}
				created, wasNew, err := r.CreateRun(ctx, run)
				if err != nil {
					return err
				}
				if !wasNew {
					fmt.Println("run already exists, returning stored record")
				}
				return printJSONOrTable(created)
			})
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "run id (generated when empty)")
	cmd.Flags().StringVar(&projectID, "project", "", "project id")
	cmd.Flags().StringVar(&title, "title", "", "run title")
	return cmd
}

func runPatchCmd() *cobra.Command {
	var status, summary, finishedAt string
	cmd := &cobra.Command{
		Use:   "patch <id>",
		Short: "Patch an agent run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			patch := map[string]any{}
			if cmd.Flags().Changed("status") {
				patch["status"] = status
			}
			if cmd.Flags().Changed("summary") {
				patch["summary"] = summary
			}
			if cmd.Flags().Changed("finished-at") {
				patch["finishedAt"] = finishedAt
			}
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				run, err := r.PatchRun(ctx, args[0], patch)
				if err != nil {
					return err
				}
				return printJSONOrTable(run)
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "run status")
	cmd.Flags().StringVar(&summary, "summary", "", "summary")
	cmd.Flags().StringVar(&finishedAt, "finished-at", "", "finish timestamp (RFC3339)")
	return cmd
}

func eventCmd() *cobra.Command {
	evt := &cobra.Command{Use: "event", Short: "Ledger events"}
	evt.AddCommand(eventListCmd())
	evt.AddCommand(eventAppendCmd())
	return evt
}

func eventListCmd() *cobra.Command {
	var projectID, runID, agentID, evtType, sinceTS string
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List ledger events (oldest first)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				events, err := r.ListEvents(ctx, repo.EventFilter{
					ProjectID: projectID,
					RunID:     runID,
					AgentID:   agentID,
					Type:      evtType,
					SinceTS:   sinceTS,
					Limit:     limit,
				})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(events)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"TS", "ID", "Type", "Level", "Project", "Agent"})
				for _, ev := range events {
					tw.AppendRow(table.Row{ev.TS, ev.ID, ev.Type, ev.Level, deref(ev.ProjectID), deref(ev.AgentID)})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&projectID, "project", "", "filter by project id")
	cmd.Flags().StringVar(&runID, "run", "", "filter by run id")
	cmd.Flags().StringVar(&agentID, "agent", "", "filter by agent id")
	cmd.Flags().StringVar(&evtType, "type", "", "filter by type")
	cmd.Flags().StringVar(&sinceTS, "since", "", "events at or after this timestamp")
	cmd.Flags().IntVar(&limit, "limit", 0, "max events (default 200, cap 2000)")
	return cmd
}

func eventAppendCmd() *cobra.Command {
	var id, evtType, level, projectID, runID, title, message string
	cmd := &cobra.Command{
		Use:   "append",
		Short: "Append a ledger event (no-op when the id exists)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				agentID := viper.GetString("agent-id")
				ev := domain.AgentEvent{
					ID:      id,
					Type:    evtType,
					Level:   level,
					AgentID: &agentID,
				}
				if projectID != "" {
					ev.ProjectID = &projectID
				}
				if runID != "" {
					ev.RunID = &runID
				}
				if title != "" {
					ev.Title = &title
				}
				if message != "" {
					ev.Message = &message
				}
				stored, inserted, err := r.AppendEvent(ctx, ev)
				if err != nil {
					return err
				}
				if !inserted {
					fmt.Println("event already recorded")
				}
				return printJSONOrTable(stored)
			})
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "event id (generated when empty)")
	cmd.Flags().StringVar(&evtType, "type", "note", "event type")
	cmd.Flags().StringVar(&level, "level", "info", "event level")
	cmd.Flags().StringVar(&projectID, "project", "", "project id")
	cmd.Flags().StringVar(&runID, "run", "", "run id")
	cmd.Flags().StringVar(&title, "title", "", "title")
	cmd.Flags().StringVar(&message, "message", "", "message")
	return cmd
}

func actionCmd() *cobra.Command {
	act := &cobra.Command{Use: "action", Short: "Apply agent actions"}
	act.AddCommand(actionApplyCmd())
	return act
}

func actionApplyCmd() *cobra.Command {
	var id, projectID, runID, actType, status, priority, note, tag, ifUpdatedAt string
	var progress, delta int
	var recordOnly, alsoWrite bool
	cmd := &cobra.Command{
		Use:   "apply",
		Short: "Apply one action to a project",
		RunE: func(cmd *cobra.Command, args []string) error {
			if projectID == "" {
				return fmt.Errorf("--project required")
			}
			action := engine.Action{
				ID:          id,
				Type:        actType,
				RecordOnly:  recordOnly,
				IfUpdatedAt: ifUpdatedAt,
				Params: engine.ActionParams{
					Status:    status,
					Priority:  priority,
					Note:      note,
					AlsoWrite: alsoWrite,
					Tag:       tag,
				},
			}
			if cmd.Flags().Changed("progress") {
				action.Params.Progress = &progress
			}
			if cmd.Flags().Changed("delta") {
				action.Params.Delta = &delta
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				out, err := e.ProcessActions(ctx, engine.ActionRequest{
					AgentID:   viper.GetString("agent-id"),
					RunID:     runID,
					ProjectID: projectID,
					Actions:   []engine.Action{action},
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(out)
			})
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "action id (generated when empty; reuse for safe replay)")
	cmd.Flags().StringVar(&projectID, "project", "", "target project id")
	cmd.Flags().StringVar(&runID, "run", "", "run id to stamp on the ledger entry")
	cmd.Flags().StringVar(&actType, "type", "", "action type")
	cmd.Flags().StringVar(&status, "status", "", "status for set_status")
	cmd.Flags().StringVar(&priority, "priority", "", "priority for set_priority")
	cmd.Flags().IntVar(&progress, "progress", 0, "progress for set_progress")
	cmd.Flags().IntVar(&delta, "delta", 0, "delta for bump_progress")
	cmd.Flags().StringVar(&note, "note", "", "note for append_note")
	cmd.Flags().BoolVar(&alsoWrite, "also-write-notes", false, "append_note: also write the note into project notes")
	cmd.Flags().StringVar(&tag, "tag", "", "tag for add_tag/remove_tag")
	cmd.Flags().BoolVar(&recordOnly, "record-only", false, "record the action without mutating the project")
	cmd.Flags().StringVar(&ifUpdatedAt, "if-updated-at", "", "optimistic concurrency token")
	_ = cmd.MarkFlagRequired("type")
	return cmd
}

func profileCmd() *cobra.Command {
	prof := &cobra.Command{Use: "profile", Short: "Agent profiles"}
	prof.AddCommand(profileListCmd())
	prof.AddCommand(&cobra.Command{
		Use:   "show <agent-id>",
		Short: "Show an agent profile",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				p, err := r.GetProfile(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	})
	prof.AddCommand(profileSetCmd())
	return prof
}

func profileListCmd() *cobra.Command {
	var capability string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List agent profiles",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				profiles, err := r.ListProfiles(ctx, capability)
				if err != nil {
					return err
				}
				return printJSONOrTable(profiles)
			})
		},
	}
	cmd.Flags().StringVar(&capability, "capability", "", "filter by capability")
	return cmd
}

func profileSetCmd() *cobra.Command {
	var displayName, role, description string
	var capabilities []string
	cmd := &cobra.Command{
		Use:   "set <agent-id>",
		Short: "Upsert an agent profile",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				p, err := r.UpsertProfile(ctx, domain.AgentProfile{
					AgentID:      args[0],
					DisplayName:  displayName,
					Role:         role,
					Description:  description,
					Capabilities: capabilities,
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	cmd.Flags().StringVar(&displayName, "display-name", "", "display name")
	cmd.Flags().StringVar(&role, "role", "", "role")
	cmd.Flags().StringVar(&description, "description", "", "description")
	cmd.Flags().StringSliceVar(&capabilities, "capability", nil, "capability (repeatable)")
	return cmd
}

func usageCmd() *cobra.Command {
	usage := &cobra.Command{Use: "usage", Short: "Token usage records"}
	usage.AddCommand(usageIngestCmd())
	usage.AddCommand(usageReportCmd())
	return usage
}

func usageIngestCmd() *cobra.Command {
	var id, projectID, runID, model string
	var inputTokens, outputTokens int64
	var costUSD float64
	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Record token usage (idempotent on --id)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				rec := domain.TokenUsageRecord{
					ID:           id,
					AgentID:      viper.GetString("agent-id"),
					Model:        model,
					InputTokens:  inputTokens,
					OutputTokens: outputTokens,
					CostUSD:      costUSD,
				}
				if projectID != "" {
					rec.ProjectID = &projectID
				}
				if runID != "" {
					rec.RunID = &runID
				}
				stored, inserted, err := r.IngestUsage(ctx, rec)
				if err != nil {
					return err
				}
				if !inserted {
					fmt.Println("usage record already ingested")
				}
				return printJSONOrTable(stored)
			})
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "record id (generated when empty)")
	cmd.Flags().StringVar(&projectID, "project", "", "project id")
	cmd.Flags().StringVar(&runID, "run", "", "run id")
	cmd.Flags().StringVar(&model, "model", "", "model name")
	cmd.Flags().Int64Var(&inputTokens, "input", 0, "input tokens")
	cmd.Flags().Int64Var(&outputTokens, "output", 0, "output tokens")
	cmd.Flags().Float64Var(&costUSD, "cost", 0, "cost in USD")
	return cmd
}

func usageReportCmd() *cobra.Command {
	var agentID, projectID, model, sinceTS, untilTS string
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Aggregate token usage by agent and model",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				report, err := r.UsageReport(ctx, repo.UsageFilter{
					AgentID:   agentID,
					ProjectID: projectID,
					Model:     model,
					SinceTS:   sinceTS,
					UntilTS:   untilTS,
				})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(report)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Agent", "Model", "Records", "Input", "Output", "Cost USD"})
				for _, agg := range report {
					tw.AppendRow(table.Row{agg.AgentID, agg.Model, agg.Records, agg.InputTokens, agg.OutputTokens, fmt.Sprintf("%.4f", agg.CostUSD)})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&agentID, "agent", "", "filter by agent id")
	cmd.Flags().StringVar(&projectID, "project", "", "filter by project id")
	cmd.Flags().StringVar(&model, "model", "", "filter by model")
	cmd.Flags().StringVar(&sinceTS, "since", "", "window start (inclusive)")
	cmd.Flags().StringVar(&untilTS, "until", "", "window end (exclusive)")
	return cmd
}

func backupCmd() *cobra.Command {
	var dir string
	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Snapshot the database with VACUUM INTO",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			conn, err := db.Open(db.Config{Workspace: workspace})
			if err != nil {
				return err
			}
			defer conn.Close()
			if dir == "" {
				dir = filepath.Join(filepath.Dir(db.Path(workspace)), "backups")
			}
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return err
			}
			dest := filepath.Join(dir, "planline-"+time.Now().UTC().Format("20060102-150405")+".db")
			if _, err := conn.ExecContext(cmd.Context(), `VACUUM INTO ?`, dest); err != nil {
				return err
			}
			fmt.Println("backup written to", dest)
			return nil
		},
	}
	cmd.Flags().StringVar(&dir, "dir", "", "backup directory")
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			if _, err := db.EnsureWorkspace(workspace); err != nil {
				return err
			}
			cfg, err := config.LoadOptional(workspace)
			if err != nil {
				return err
			}
			conn, err := db.Open(db.Config{Workspace: workspace})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn); err != nil {
				return err
			}
			if cmd.Flags().Changed("addr") {
				cfg.Server.Addr = addr
			}
			if cmd.Flags().Changed("base-path") {
				cfg.Server.BasePath = basePath
			}
			if secret := os.Getenv("PLANLINE_JWT_SECRET"); secret != "" {
				cfg.Auth.JWTSecret = secret
			}
			if token := os.Getenv("PLANLINE_AGENT_TOKEN"); token != "" {
				cfg.Auth.AgentToken = token
			}
			e := engine.New(conn)
			handler, err := server.New(server.Config{
				Engine:   e,
				Config:   cfg,
				BasePath: cfg.Server.BasePath,
				DBPath:   db.Path(workspace),
				Auth: server.AuthConfig{
					JWTSecret:  cfg.Auth.JWTSecret,
					AgentToken: cfg.Auth.AgentToken,
					AdminUser:  cfg.Auth.AdminUser,
					AdminPass:  cfg.Auth.AdminPass,
					TokenTTL:   cfg.TokenTTL(),
				},
			})
			if err != nil {
				return err
			}
			srv := &http.Server{Addr: cfg.Server.Addr, Handler: handler}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			fmt.Printf("Serving Planline API on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at /docs)\n",
				cfg.Server.Addr, cfg.Server.BasePath, cfg.Server.BasePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", ":8787", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/api", "API base path")
	return cmd
}

// --- helpers ---

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	conn, err := openAndMigrate()
	if err != nil {
		return err
	}
	defer conn.Close()
	return fn(ctx, engine.New(conn))
}

func withRepo(ctx context.Context, fn func(context.Context, repo.Repo) error) error {
	conn, err := openAndMigrate()
	if err != nil {
		return err
	}
	defer conn.Close()
	return fn(ctx, repo.New(conn))
}

func openAndMigrate() (*sql.DB, error) {
	conn, err := db.Open(db.Config{Workspace: viper.GetString("workspace")})
	if err != nil {
		return nil, err
	}
	if err := migrate.Migrate(conn); err != nil {
		conn.Close()
		return nil, err
	}
	return conn, nil
}

func printJSONOrTable(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
