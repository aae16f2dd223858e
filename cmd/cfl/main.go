package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"caseflow/internal/config"
	"caseflow/internal/db"
	"caseflow/internal/engine"
	"caseflow/internal/migrate"
	"caseflow/internal/notify"
	"caseflow/internal/repo"
	"caseflow/internal/scheduler"
	"caseflow/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "cfl",
	Short: "Caseflow CLI",
	Long: `Caseflow runs review cycles and validation requests for planning cases.
- Case: one planning application under assessment; owns its items, cycles and requests.
- Items: revisable report sections (assessment narrative, site description, ...); every
  edit appends an immutable entry and status is derived, never stored.
- Recommendation cycle: officer submits, a manager accepts or challenges; a challenge
  opens the next cycle so earlier ones survive as history.
- Validation request: a question sent to the applicant (boundary change, heads of
  terms, ...); some types auto-close when the business-day window runs out.
- Scheduler: sweeps overdue open requests and retries undelivered notifications.
- Event log: append-only audit trail, view with 'cfl log tail'.`,
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
	viper.SetEnvPrefix("CASEFLOW")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "local-user", "actor identifier")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
}

func registerCommands() {
	rootCmd.AddCommand(caseCmd())
	rootCmd.AddCommand(entryCmd())
	rootCmd.AddCommand(recommendationCmd())
	rootCmd.AddCommand(requestCmd())
	rootCmd.AddCommand(schedulerCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(serveCmd())
}

func caseCmd() *cobra.Command {
	c := &cobra.Command{Use: "case", Short: "Manage cases"}
	c.AddCommand(caseCreateCmd())
	c.AddCommand(caseListCmd())
	c.AddCommand(caseShowCmd())
	c.AddCommand(caseStatusCmd())
	return c
}

func caseCreateCmd() *cobra.Command {
	var opts engine.CaseCreateOptions
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a case",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.ActorID = viper.GetString("actor-id")
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				c, err := e.CreateCase(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(c)
			})
		},
	}
	cmd.Flags().StringVar(&opts.ID, "id", "", "case id (optional)")
	cmd.Flags().StringVar(&opts.Reference, "reference", "", "case reference")
	cmd.Flags().StringVar(&opts.Description, "description", "", "description")
	_ = cmd.MarkFlagRequired("reference")
	return cmd
}

func caseListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List cases",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Repo.ListCases(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Reference", "Status", "Created"})
				for _, c := range items {
					tw.AppendRow(table.Row{c.ID, c.Reference, c.Status, c.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func caseShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show a case",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				c, err := e.Repo.GetCase(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(c)
			})
		},
	}
	return cmd
}

func caseStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status <id>",
		Short: "Resolved status for every item category",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				statuses, err := e.ResolveAll(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(statuses)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Category", "Status"})
				for category, st := range statuses {
					tw.AppendRow(table.Row{category, st})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func entryCmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "entry",
		Short: "Manage item entries",
		Long:  "Items carry a version history: every edit adds a new entry and the previous ones stay put. Review happens on the current entry only.",
	}
	c.AddCommand(entryAddCmd())
	c.AddCommand(entryShowCmd())
	c.AddCommand(entryReviewCmd())
	return c
}

func entryAddCmd() *cobra.Command {
	var opts engine.EntryOptions
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Append a new entry to an item",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.ActorID = viper.GetString("actor-id")
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				entry, err := e.AppendEntry(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(entry)
			})
		},
	}
	cmd.Flags().StringVar(&opts.CaseID, "case", "", "case id")
	cmd.Flags().StringVar(&opts.Category, "category", "", "item category")
	cmd.Flags().StringVar(&opts.AssessmentStatus, "assessment-status", "", "in_progress or complete")
	_ = cmd.MarkFlagRequired("case")
	_ = cmd.MarkFlagRequired("category")
	return cmd
}

func entryShowCmd() *cobra.Command {
	var caseID, category string
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show item history",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				item, err := e.Repo.LoadRevisableItem(ctx, caseID, category)
				if err != nil {
					return err
				}
				return printJSONOrTable(item)
			})
		},
	}
	cmd.Flags().StringVar(&caseID, "case", "", "case id")
	cmd.Flags().StringVar(&category, "category", "", "item category")
	_ = cmd.MarkFlagRequired("case")
	_ = cmd.MarkFlagRequired("category")
	return cmd
}

func entryReviewCmd() *cobra.Command {
	var opts engine.ReviewOptions
	cmd := &cobra.Command{
		Use:   "review",
		Short: "Record a reviewer pass over the current entry",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.ActorID = viper.GetString("actor-id")
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				entry, err := e.ReviewEntry(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(entry)
			})
		},
	}
	cmd.Flags().StringVar(&opts.CaseID, "case", "", "case id")
	cmd.Flags().StringVar(&opts.Category, "category", "", "item category")
	cmd.Flags().StringVar(&opts.Verdict, "verdict", "", "accepted or rejected (empty marks review started)")
	_ = cmd.MarkFlagRequired("case")
	_ = cmd.MarkFlagRequired("category")
	return cmd
}

func recommendationCmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "recommendation",
		Short: "Manage recommendation cycles",
		Long:  "The recommendation flows in_progress -> submitted_for_review -> review_complete. A challenge closes the cycle and opens the next one; withdraw takes a submission back.",
	}
	add := func(use, short string, fn func(ctx context.Context, e engine.Engine, caseID, actorID string) (any, error)) {
		c.AddCommand(&cobra.Command{
			Use:   use + " <case-id>",
			Short: short,
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
					res, err := fn(ctx, e, args[0], viper.GetString("actor-id"))
					if err != nil {
						return err
					}
					return printJSONOrTable(res)
				})
			},
		})
	}
	add("submit", "Submit the recommendation for review", func(ctx context.Context, e engine.Engine, caseID, actorID string) (any, error) {
		return e.SubmitRecommendation(ctx, caseID, actorID)
	})
	add("accept", "Accept a submitted recommendation", func(ctx context.Context, e engine.Engine, caseID, actorID string) (any, error) {
		return e.AcceptRecommendation(ctx, caseID, actorID)
	})
	add("challenge", "Challenge a submitted recommendation", func(ctx context.Context, e engine.Engine, caseID, actorID string) (any, error) {
		return e.ChallengeRecommendation(ctx, caseID, actorID)
	})
	add("withdraw", "Withdraw a submitted recommendation", func(ctx context.Context, e engine.Engine, caseID, actorID string) (any, error) {
		return e.WithdrawRecommendation(ctx, caseID, actorID)
	})
	add("history", "Show all cycles for a case", func(ctx context.Context, e engine.Engine, caseID, _ string) (any, error) {
		return e.Repo.LoadRecommendationCycles(ctx, caseID)
	})
	return c
}

func requestCmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "request",
		Short: "Manage validation requests",
		Long:  "Validation requests ask the applicant to confirm a change. They flow pending -> open -> closed (or cancelled); windowed types auto-close when overdue.",
	}
	c.AddCommand(requestCreateCmd())
	c.AddCommand(requestListCmd())
	c.AddCommand(requestGetCmd())
	c.AddCommand(requestNotifyCmd())
	c.AddCommand(requestRespondCmd())
	c.AddCommand(requestCancelCmd())
	c.AddCommand(requestOverdueCmd())
	return c
}

func requestCreateCmd() *cobra.Command {
	var opts engine.RequestCreateOptions
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a validation request",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.ActorID = viper.GetString("actor-id")
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				v, err := e.CreateRequest(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(v)
			})
		},
	}
	cmd.Flags().StringVar(&opts.CaseID, "case", "", "case id")
	cmd.Flags().StringVar(&opts.Type, "type", "", "request type")
	cmd.Flags().StringVar(&opts.Description, "description", "", "description")
	cmd.Flags().BoolVar(&opts.Open, "open", false, "send to the applicant immediately")
	_ = cmd.MarkFlagRequired("case")
	_ = cmd.MarkFlagRequired("type")
	return cmd
}

func requestListCmd() *cobra.Command {
	var f repo.RequestFilters
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List validation requests",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Repo.ListRequests(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Case", "Type", "State", "Window", "Notified"})
				for _, v := range items {
					notified := ""
					if v.NotifiedAt != nil {
						notified = *v.NotifiedAt
					}
					tw.AppendRow(table.Row{v.ID, v.CaseID, v.Type, v.State, v.CloseWindowDays, notified})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&f.CaseID, "case", "", "case filter")
	cmd.Flags().StringVar(&f.State, "state", "", "state filter")
	cmd.Flags().StringVar(&f.Type, "type", "", "type filter")
	return cmd
}

func requestGetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "get <id>",
		Short: "Get a validation request",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				v, err := e.Repo.GetRequest(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(v)
			})
		},
	}
	return cmd
}

func requestNotifyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "notify <id>",
		Short: "Send a pending request to the applicant",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				v, err := e.NotifyRequest(ctx, args[0], viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(v)
			})
		},
	}
	return cmd
}

func requestRespondCmd() *cobra.Command {
	var approved bool
	var reason string
	cmd := &cobra.Command{
		Use:   "respond <id>",
		Short: "Record the applicant's response",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				v, err := e.RespondRequest(ctx, engine.RespondOptions{
					ID:       args[0],
					Approved: approved,
					Reason:   reason,
					ActorID:  viper.GetString("actor-id"),
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(v)
			})
		},
	}
	cmd.Flags().BoolVar(&approved, "approved", false, "applicant approved the change")
	cmd.Flags().StringVar(&reason, "reason", "", "rejection reason (required when rejecting)")
	return cmd
}

func requestCancelCmd() *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   "cancel <id>",
		Short: "Cancel a pending or open request",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				v, err := e.CancelRequest(ctx, args[0], reason, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(v)
			})
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "cancellation reason")
	return cmd
}

func requestOverdueCmd() *cobra.Command {
	var asOfStr string
	cmd := &cobra.Command{
		Use:   "overdue",
		Short: "List open requests past their close window",
		RunE: func(cmd *cobra.Command, args []string) error {
			asOf := time.Now().UTC()
			if asOfStr != "" {
				parsed, err := time.Parse(time.RFC3339, asOfStr)
				if err != nil {
					return fmt.Errorf("invalid --as-of: %w", err)
				}
				asOf = parsed.UTC()
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.ListOverdue(ctx, asOf)
				if err != nil {
					return err
				}
				return printJSONOrTable(items)
			})
		},
	}
	cmd.Flags().StringVar(&asOfStr, "as-of", "", "evaluate overdue as of this RFC3339 instant")
	return cmd
}

func schedulerCmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "scheduler",
		Short: "Auto-close sweeps",
	}
	c.AddCommand(schedulerRunCmd())
	c.AddCommand(schedulerStartCmd())
	return c
}

func schedulerRunCmd() *cobra.Command {
	var asOfStr string
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one sweep and print the report",
		RunE: func(cmd *cobra.Command, args []string) error {
			asOf := time.Now().UTC()
			if asOfStr != "" {
				parsed, err := time.Parse(time.RFC3339, asOfStr)
				if err != nil {
					return fmt.Errorf("invalid --as-of: %w", err)
				}
				asOf = parsed.UTC()
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				s := scheduler.Scheduler{
					Engine:  e,
					Workers: e.Config.Scheduler.Workers,
				}
				rep, err := s.RunOnce(ctx, asOf)
				if err != nil {
					return err
				}
				return printJSONOrTable(rep)
			})
		},
	}
	cmd.Flags().StringVar(&asOfStr, "as-of", "", "evaluate overdue as of this RFC3339 instant")
	return cmd
}

func schedulerStartCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Run sweeps on the configured interval until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return withEngine(ctx, func(ctx context.Context, e engine.Engine) error {
				s := scheduler.Scheduler{
					Engine:   e,
					Interval: e.Config.Scheduler.Interval(),
					Workers:  e.Config.Scheduler.Workers,
				}
				fmt.Printf("scheduler running every %s\n", s.Interval)
				err := s.Start(ctx)
				if errors.Is(err, context.Canceled) {
					return nil
				}
				return err
			})
		},
	}
	return cmd
}

func configCmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "config",
		Short: "Inspect workspace config",
		Long:  "Config is the policy table: request types and their close windows, item categories, the holiday calendar and scheduler tuning. Stored in caseflow.yml.",
	}
	c.AddCommand(configInitCmd())
	c.AddCommand(configShowCmd())
	c.AddCommand(configValidateCmd())
	return c
}

func configInitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write the default caseflow.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s already exists", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			fmt.Printf("Wrote %s\n", path)
			return nil
		},
	}
	return cmd
}

func configShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show loaded config",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadOptional(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			return printJSONOrTable(cfg)
		},
	}
	return cmd
}

func configValidateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate workspace config",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadOptional(viper.GetString("workspace"))
			if err == nil {
				err = cfg.Validate()
			}
			if viper.GetBool("json") {
				return printJSON(map[string]any{"ok": err == nil, "error": fmt.Sprint(err)})
			}
			if err != nil {
				return err
			}
			fmt.Println("config OK")
			return nil
		},
	}
	return cmd
}

func logCmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "log",
		Short: "Event log",
		Long:  "The append-only diary of everything that happened: entries, reviews, cycles, request transitions and scheduler sweeps.",
	}
	c.AddCommand(logTailCmd())
	return c
}

func logTailCmd() *cobra.Command {
	var n int
	var caseID, evtType, entityKind, entityID string
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				events, err := e.Repo.LatestEvents(ctx, n, caseID, evtType, entityKind, entityID)
				if err != nil {
					return err
				}
				return printJSONOrTable(events)
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	cmd.Flags().StringVar(&caseID, "case", "", "case filter")
	cmd.Flags().StringVar(&evtType, "type", "", "event type filter")
	cmd.Flags().StringVar(&entityKind, "entity-kind", "", "entity kind")
	cmd.Flags().StringVar(&entityID, "entity-id", "", "entity id")
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	var noScheduler bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server with the background scheduler",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return withEngine(ctx, func(ctx context.Context, e engine.Engine) error {
				handler, err := server.New(server.Config{Engine: e, BasePath: basePath})
				if err != nil {
					return err
				}
				if !noScheduler {
					s := scheduler.Scheduler{
						Engine:   e,
						Interval: e.Config.Scheduler.Interval(),
						Workers:  e.Config.Scheduler.Workers,
					}
					go func() {
						if err := s.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
							fmt.Println("scheduler stopped:", err)
						}
					}()
				}
				srv := &http.Server{Addr: addr, Handler: handler}
				go func() {
					<-ctx.Done()
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					srv.Shutdown(shutdownCtx)
				}()
				fmt.Printf("Serving Caseflow API on http://%s%s (OpenAPI at /openapi.json, Swagger UI at /docs)\n", addr, basePath)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	cmd.Flags().BoolVar(&noScheduler, "no-scheduler", false, "serve the API without the auto-close scheduler")
	return cmd
}

// --- helpers ---

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	cfg, err := config.LoadOptional(workspace)
	if err != nil {
		return err
	}
	e, err := engine.New(conn, cfg)
	if err != nil {
		return err
	}
	if cfg.Notify.WebhookURL != "" {
		e.Dispatcher = notify.NewWebhookDispatcher(cfg.Notify.WebhookURL, cfg.Notify.Timeout())
	}
	return fn(ctx, e)
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
