package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"gigboard/internal/app"
	"gigboard/internal/config"
	"gigboard/internal/db"
	"gigboard/internal/engine"
	"gigboard/internal/migrate"
	"gigboard/internal/notify"
	"gigboard/internal/repo"
	"gigboard/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "gb",
	Short: "Gigboard CLI",
	Long: `Gigboard runs a campus task marketplace: short paid jobs, applicants,
per-applicant chats, and mutual ratings.
- Workspace: your .gigboard directory with the database; the marketplace
  config lives in the DB and is imported explicitly.
- Jobs: open -> in_progress -> completed (cancel and reopen are exits back).
  The poster assigns exactly one applicant.
- Conversations: one chat per (job, applicant); lifecycle notices land in the
  assigned applicant's chat as system messages.
- Ratings: after completion each side rates the other exactly once.
- Event log: diary of changes, view with 'gb log tail'.`,
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
	viper.SetEnvPrefix("GIGBOARD")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("user-id", "local-user", "acting user identifier")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("user-id", rootCmd.PersistentFlags().Lookup("user-id"))
}

func registerCommands() {
	rootCmd.AddCommand(jobCmd())
	rootCmd.AddCommand(applyCmd())
	rootCmd.AddCommand(applicantsCmd())
	rootCmd.AddCommand(msgCmd())
	rootCmd.AddCommand(inboxCmd())
	rootCmd.AddCommand(rateCmd())
	rootCmd.AddCommand(ratingsCmd())
	rootCmd.AddCommand(keyCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(serveCmd())
}

func jobCmd() *cobra.Command {
	job := &cobra.Command{
		Use:   "job",
		Short: "Manage jobs",
		Long:  "Jobs are the marketplace work items. They flow open -> in_progress -> completed; cancel works from open or in_progress, reopen from anything later than open.",
	}
	job.AddCommand(jobCreateCmd())
	job.AddCommand(jobListCmd())
	job.AddCommand(jobShowCmd())
	job.AddCommand(jobAssignCmd())
	job.AddCommand(jobCompleteCmd())
	job.AddCommand(jobCancelCmd())
	job.AddCommand(jobReopenCmd())
	job.AddCommand(jobDeleteCmd())
	return job
}

func jobCreateCmd() *cobra.Command {
	var opts engine.JobCreateOptions
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Post a job",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.OwnerID = viper.GetString("user-id")
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				j, err := e.CreateJob(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(j)
			})
		},
	}
	cmd.Flags().StringVar(&opts.Title, "title", "", "job title")
	cmd.Flags().StringVar(&opts.Description, "description", "", "description")
	cmd.Flags().IntVar(&opts.Price, "price", 0, "price in cents")
	cmd.Flags().StringVar(&opts.Urgency, "urgency", "", "urgency (flexible, this_week, three_days, today, asap)")
	cmd.Flags().StringVar(&opts.Location, "location", "", "location")
	cmd.Flags().StringVar(&opts.Category, "category", "", "category")
	_ = cmd.MarkFlagRequired("title")
	_ = cmd.MarkFlagRequired("location")
	return cmd
}

func jobListCmd() *cobra.Command {
	var f repo.JobFilters
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				jobs, err := e.Repo.ListJobs(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(jobs)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Title", "Status", "Price", "Urgency", "Owner", "Worker"})
				for _, j := range jobs {
					worker := ""
					if j.AssignedWorkerID != nil {
						worker = *j.AssignedWorkerID
					}
					tw.AppendRow(table.Row{j.ID, j.Title, j.Status, j.Price, j.Urgency, j.OwnerID, worker})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&f.Status, "status", "", "status filter")
	cmd.Flags().StringVar(&f.OwnerID, "owner", "", "owner filter")
	cmd.Flags().StringVar(&f.WorkerID, "worker", "", "assigned worker filter")
	cmd.Flags().StringVar(&f.Category, "category", "", "category filter")
	cmd.Flags().IntVar(&f.Limit, "limit", 0, "max rows (0 for all)")
	return cmd
}

func jobShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show a job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				j, err := e.Repo.GetJob(ctx, id)
				if err != nil {
					return err
				}
				return printJSONOrTable(j)
			})
		},
	}
	return cmd
}

func jobAssignCmd() *cobra.Command {
	var workerID string
	cmd := &cobra.Command{
		Use:   "assign <id>",
		Short: "Assign a worker to an open job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				j, err := e.AssignWorker(ctx, id, workerID, viper.GetString("user-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(j)
			})
		},
	}
	cmd.Flags().StringVar(&workerID, "worker", "", "worker user id")
	_ = cmd.MarkFlagRequired("worker")
	return cmd
}

func jobCompleteCmd() *cobra.Command {
	return jobStatusCmd("complete", "Mark a job completed", "completed")
}

func jobCancelCmd() *cobra.Command {
	return jobStatusCmd("cancel", "Cancel a job", "cancelled")
}

func jobReopenCmd() *cobra.Command {
	return jobStatusCmd("reopen", "Reopen a job", "open")
}

func jobStatusCmd(use, short, target string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   use + " <id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				j, err := e.SetJobStatus(ctx, id, target, viper.GetString("user-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(j)
			})
		},
	}
	return cmd
}

func jobDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a job and everything attached to it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.DeleteJob(ctx, id, viper.GetString("user-id"))
			})
		},
	}
	return cmd
}

func applyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "apply <job-id>",
		Short: "Apply to a job (opens your chat with the poster)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			jobID := args[0]
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				conv, err := e.GetOrCreateConversation(ctx, jobID, viper.GetString("user-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(conv)
			})
		},
	}
	return cmd
}

func applicantsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "applicants <job-id>",
		Short: "List applicant conversations for your job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			jobID := args[0]
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.ListApplicants(ctx, jobID, viper.GetString("user-id"))
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Conversation", "Worker", "Last message", "At"})
				for _, a := range items {
					last, at := "", ""
					if a.LastMessage != nil {
						last = a.LastMessage.Content
						at = a.LastMessage.CreatedAt
					}
					tw.AppendRow(table.Row{a.Conversation.ID, a.WorkerID, last, at})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func msgCmd() *cobra.Command {
	msg := &cobra.Command{Use: "msg", Short: "Conversation messages"}
	msg.AddCommand(msgSendCmd())
	msg.AddCommand(msgListCmd())
	return msg
}

func msgSendCmd() *cobra.Command {
	var content string
	cmd := &cobra.Command{
		Use:   "send <conversation-id>",
		Short: "Send a message",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			convID := args[0]
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				m, err := e.SendMessage(ctx, convID, viper.GetString("user-id"), content)
				if err != nil {
					return err
				}
				return printJSONOrTable(m)
			})
		},
	}
	cmd.Flags().StringVar(&content, "content", "", "message text")
	_ = cmd.MarkFlagRequired("content")
	return cmd
}

func msgListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list <conversation-id>",
		Short: "List conversation messages",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			convID := args[0]
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				msgs, err := e.ListMessages(ctx, convID, viper.GetString("user-id"))
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(msgs)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"At", "Sender", "Kind", "Content"})
				for _, m := range msgs {
					tw.AppendRow(table.Row{m.CreatedAt, m.SenderID, m.Kind, m.Content})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func inboxCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "inbox",
		Short: "Your conversations, newest activity first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				threads, err := e.Threads(ctx, viper.GetString("user-id"))
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(threads)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Conversation", "Job", "From", "Last message", "At"})
				for _, t := range threads {
					from := t.LastMessage.SenderID
					if t.Mine {
						from = "me"
					}
					tw.AppendRow(table.Row{t.Conversation.ID, t.JobTitle, from, t.LastMessage.Content, t.LastMessage.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func rateCmd() *cobra.Command {
	var opts engine.RatingOptions
	cmd := &cobra.Command{
		Use:   "rate <job-id>",
		Short: "Rate the counterpart on a completed job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.JobID = args[0]
			opts.RaterID = viper.GetString("user-id")
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				rt, err := e.SubmitRating(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(rt)
			})
		},
	}
	cmd.Flags().IntVar(&opts.Rating, "rating", 0, "rating 1..5")
	cmd.Flags().StringVar(&opts.Review, "review", "", "optional review text")
	cmd.Flags().StringVar(&opts.Direction, "direction", "", "poster_to_helper or helper_to_poster")
	_ = cmd.MarkFlagRequired("rating")
	_ = cmd.MarkFlagRequired("direction")
	return cmd
}

func ratingsCmd() *cobra.Command {
	var jobID, userID string
	cmd := &cobra.Command{
		Use:   "ratings",
		Short: "List ratings for a job or a user",
		RunE: func(cmd *cobra.Command, args []string) error {
			if jobID == "" && userID == "" {
				return fmt.Errorf("--job or --user required")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if jobID != "" {
					items, err := e.JobRatings(ctx, jobID)
					if err != nil {
						return err
					}
					return printJSONOrTable(items)
				}
				items, err := e.UserRatings(ctx, userID)
				if err != nil {
					return err
				}
				return printJSONOrTable(items)
			})
		},
	}
	cmd.Flags().StringVar(&jobID, "job", "", "job id")
	cmd.Flags().StringVar(&userID, "user", "", "user id")
	return cmd
}

func keyCmd() *cobra.Command {
	key := &cobra.Command{Use: "key", Short: "Manage API keys"}
	key.AddCommand(keyCreateCmd())
	key.AddCommand(keyListCmd())
	key.AddCommand(keyRevokeCmd())
	return key
}

func keyCreateCmd() *cobra.Command {
	var name, plaintext string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an API key for the acting user",
		RunE: func(cmd *cobra.Command, args []string) error {
			if plaintext == "" {
				return fmt.Errorf("--key required")
			}
			userID := viper.GetString("user-id")
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				k := server.KeyFromPlaintext(userID, name, plaintext, time.Now())
				if err := e.Repo.EnsureUser(ctx, nil, userID, ""); err != nil {
					return err
				}
				if err := e.Repo.InsertAPIKey(ctx, nil, k); err != nil {
					return err
				}
				return printJSONOrTable(k)
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "key label")
	cmd.Flags().StringVar(&plaintext, "key", "", "plaintext key value (stored hashed)")
	return cmd
}

func keyListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the acting user's API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				keys, err := e.Repo.ListAPIKeys(ctx, viper.GetString("user-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(keys)
			})
		},
	}
	return cmd
}

func keyRevokeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "revoke <id>",
		Short: "Revoke an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.Repo.DeleteAPIKey(ctx, id)
			})
		},
	}
	return cmd
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{
		Use:   "config",
		Short: "Inspect marketplace config",
		Long:  "Config is the marketplace rulebook (stored in DB): category catalog, posting limits, and the system message templates. Import from gigboard.yml if desired.",
	}
	cfg.AddCommand(configShowCmd())
	cfg.AddCommand(configImportCmd())
	cfg.AddCommand(configValidateCmd())
	cfg.AddCommand(configInitCmd())
	return cfg
}

func configShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show marketplace config stored in DB",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return printJSONOrTable(e.Config)
			})
		},
	}
	return cmd
}

func configImportCmd() *cobra.Command {
	var filePath string
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import marketplace config from YAML into the DB",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				cfg, err := app.ImportConfig(ctx, filePath, r)
				if err != nil {
					return err
				}
				return printJSONOrTable(cfg)
			})
		},
	}
	cmd.Flags().StringVar(&filePath, "file", "", "path to YAML config")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func configValidateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate stored config",
		RunE: func(cmd *cobra.Command, args []string) error {
			err := withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.Config.Validate()
			})
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

func configInitCmd() *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default gigboard.yml into the workspace",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			path := config.Path(workspace)
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s already exists", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault(name)), 0o644); err != nil {
				return err
			}
			fmt.Printf("Wrote %s\n", path)
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", app.DefaultMarketplaceName, "marketplace name")
	return cmd
}

func logCmd() *cobra.Command {
	log := &cobra.Command{
		Use:   "log",
		Short: "Event log",
		Long:  "The diary of everything that happened: job transitions, messages, ratings, and more.",
	}
	log.AddCommand(logTailCmd())
	return log
}

func logTailCmd() *cobra.Command {
	var n int
	var evtType, entityKind, entityID string
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				events, err := e.Repo.LatestEvents(ctx, n, evtType, entityKind, entityID)
				if err != nil {
					return err
				}
				return printJSONOrTable(events)
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	cmd.Flags().StringVar(&evtType, "type", "", "event type filter")
	cmd.Flags().StringVar(&entityKind, "entity-kind", "", "entity kind")
	cmd.Flags().StringVar(&entityID, "entity-id", "", "entity id")
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	var devLogin bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			if _, err := db.EnsureWorkspace(workspace); err != nil {
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
			r := repo.Repo{DB: conn}
			cfg, err := app.ResolveConfig(cmd.Context(), workspace, r)
			if err != nil {
				return err
			}
			e := engine.New(conn, cfg)
			authCfg := server.AuthConfig{JWTSecret: os.Getenv("GIGBOARD_JWT_SECRET"), DevLogin: devLogin}
			if authCfg.JWTSecret == "" {
				return fmt.Errorf("GIGBOARD_JWT_SECRET is required for bearer auth")
			}
			handler, err := server.New(server.Config{
				Engine:   e,
				Inbox:    notify.NewInbox(),
				BasePath: basePath,
				Auth:     authCfg,
			})
			if err != nil {
				return err
			}
			srv := &http.Server{Addr: addr, Handler: handler}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			fmt.Printf("Serving Gigboard API on http://%s%s (OpenAPI at /openapi.json, Swagger UI at /docs)\n", addr, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v1", "API base path")
	cmd.Flags().BoolVar(&devLogin, "dev-login", false, "enable the /auth/dev/login endpoint")
	return cmd
}

// --- helpers ---

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	return withRepo(ctx, func(ctx context.Context, r repo.Repo) error {
		workspace := viper.GetString("workspace")
		cfg, err := app.ResolveConfig(ctx, workspace, r)
		if err != nil {
			return err
		}
		e := engine.New(r.DB, cfg)
		return fn(ctx, e)
	})
}

func withRepo(ctx context.Context, fn func(context.Context, repo.Repo) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	return fn(ctx, repo.Repo{DB: conn})
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
