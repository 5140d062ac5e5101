package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"pfmt/internal/app"
	"pfmt/internal/config"
	"pfmt/internal/domain"
	"pfmt/internal/engine"
	"pfmt/internal/engine/auth"
	"pfmt/internal/migrate"
	"pfmt/internal/repo"
	"pfmt/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "pfmt",
	Short: "Project financial management backend",
	Long: `pfmt runs the project creation wizard and the project workflow API.

Projects are created either through the five-step wizard (basic info,
location, budget, team, review) or through the workflow
(initiate -> assign -> finalize). Every state change is written to the audit
log in the same transaction and delivered to configured webhooks.`,
	SilenceUsage: true,
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("PFMT")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	flags := rootCmd.PersistentFlags()
	flags.StringP("workspace", "w", ".", "workspace directory")
	flags.String("config", "", "config file (defaults to <workspace>/pfmt.yml)")
	flags.String("db-driver", "sqlite", "database driver: sqlite or postgres")
	flags.String("database-url", "", "postgres connection url")
	flags.String("log-level", "info", "log level")
	flags.String("log-format", "console", "log format: json or console")
	flags.Bool("json", false, "output JSON")
	flags.String("actor-id", "local-admin", "principal id used by CLI commands")
	flags.String("actor-role", auth.RoleAdmin, "principal role used by CLI commands")
	flags.String("jwt-secret", "", "HS256 secret for bearer tokens")
	for _, name := range []string{"workspace", "config", "db-driver", "database-url", "log-level", "log-format", "json", "actor-id", "actor-role", "jwt-secret"} {
		_ = viper.BindPFlag(name, flags.Lookup(name))
	}
}

func registerCommands() {
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(sessionCmd())
	rootCmd.AddCommand(projectCmd())
	rootCmd.AddCommand(versionCmd())
	rootCmd.AddCommand(tokenCmd())
	rootCmd.AddCommand(apiKeyCmd())
}

func settings() app.Settings {
	return app.Settings{
		Workspace:   viper.GetString("workspace"),
		ConfigPath:  viper.GetString("config"),
		DBDriver:    viper.GetString("db-driver"),
		DatabaseURL: viper.GetString("database-url"),
		LogLevel:    viper.GetString("log-level"),
		LogFormat:   viper.GetString("log-format"),
	}
}

func actor() auth.Principal {
	return auth.Principal{ID: viper.GetString("actor-id"), Role: viper.GetString("actor-role")}
}

func withRuntime(ctx context.Context, fn func(context.Context, *app.Runtime) error) error {
	rt, err := app.Open(ctx, settings())
	if err != nil {
		return err
	}
	defer rt.Close()
	return fn(ctx, rt)
}

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	return withRuntime(ctx, func(ctx context.Context, rt *app.Runtime) error {
		return fn(ctx, rt.Engine)
	})
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	var webhookInterval time.Duration
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				authCfg := server.AuthConfig{
					JWTSecret:       viper.GetString("jwt-secret"),
					AllowDevHeaders: viper.GetBool("allow-dev-headers"),
					AllowDevLogin:   viper.GetBool("allow-dev-login"),
					TokenTTL:        viper.GetDuration("token-ttl"),
				}
				if authCfg.JWTSecret == "" && !authCfg.AllowDevHeaders {
					return fmt.Errorf("PFMT_JWT_SECRET is required unless --allow-dev-headers is set")
				}
				handler, err := server.New(server.Config{
					Engine:   rt.Engine,
					BasePath: basePath,
					Auth:     authCfg,
					Metrics:  rt.Metrics,
					Logger:   rt.Log.Named("http"),
				})
				if err != nil {
					return err
				}
				hooksCtx, stopHooks := context.WithCancel(ctx)
				hooksDone := rt.StartWebhooks(hooksCtx, webhookInterval)
				defer func() {
					stopHooks()
					<-hooksDone
				}()

				srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
				go func() {
					<-ctx.Done()
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					srv.Shutdown(shutdownCtx)
				}()
				rt.Log.Info("serving pfmt api",
					zap.String("addr", addr),
					zap.String("base_path", basePath),
					zap.Int("webhooks", len(rt.Config.Webhooks)),
				)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/api", "API base path")
	cmd.Flags().DurationVar(&webhookInterval, "webhook-interval", 2*time.Second, "webhook polling interval")
	cmd.Flags().Bool("allow-dev-headers", false, "accept X-User-Id/X-User-Role without credentials")
	cmd.Flags().Bool("allow-dev-login", false, "expose POST /auth/dev/login")
	cmd.Flags().Duration("token-ttl", 12*time.Hour, "lifetime of dev login tokens")
	for _, name := range []string{"allow-dev-headers", "allow-dev-login", "token-ttl"} {
		_ = viper.BindPFlag(name, cmd.Flags().Lookup(name))
	}
	return cmd
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				v, err := migrate.Version(ctx, rt.Gateway)
				if err != nil {
					return err
				}
				fmt.Printf("schema version %d\n", v)
				return nil
			})
		},
	}
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "config", Short: "Manage pfmt.yml"}
	var force bool
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write the default pfmt.yml into the workspace",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			fmt.Println("wrote", path)
			return nil
		},
	}
	initCmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	validateCmd := &cobra.Command{
		Use:   "validate",
		Short: "Check the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := app.LoadConfig(settings())
			if err != nil {
				return err
			}
			fmt.Printf("ok: %d templates, %d webhooks\n", len(cfg.Templates), len(cfg.Webhooks))
			return nil
		},
	}
	cmd.AddCommand(initCmd, validateCmd)
	return cmd
}

func sessionCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "session", Short: "Inspect wizard sessions"}
	var status string
	list := &cobra.Command{
		Use:   "list",
		Short: "List the actor's wizard sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.ListSessions(ctx, actor(), status)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable("ID", "Step", "Status", "Version", "Project", "Updated")
				for _, s := range items {
					tw.AppendRow(table.Row{s.ID, s.CurrentStep, s.Status, s.Version, deref(s.ProjectID), s.UpdatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	list.Flags().StringVar(&status, "status", "", "status filter")
	show := &cobra.Command{
		Use:   "show <id>",
		Short: "Show a wizard session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				s, err := e.GetSession(ctx, actor(), args[0])
				if err != nil {
					return err
				}
				return printJSON(s)
			})
		},
	}
	cmd.AddCommand(list, show)
	return cmd
}

func projectCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "project", Short: "Inspect and move projects"}
	cmd.AddCommand(projectListCmd(), projectShowCmd(), projectStatusCmd(), projectTransitionCmd(), projectEventsCmd())
	return cmd
}

func projectListCmd() *cobra.Command {
	var f repo.ProjectFilters
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List projects",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.ListProjects(ctx, actor(), f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable("Code", "Name", "Workflow", "Lifecycle", "Budget", "Source")
				for _, p := range items {
					tw.AppendRow(table.Row{p.Code, p.Name, p.WorkflowStatus, p.LifecycleStatus, fmt.Sprintf("%.2f", p.Budget), p.Source})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&f.WorkflowStatus, "workflow-status", "", "workflow status filter")
	cmd.Flags().StringVar(&f.CreatedBy, "created-by", "", "creator filter")
	cmd.Flags().IntVar(&f.Limit, "limit", 50, "maximum rows")
	return cmd
}

func projectShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show a project with its dependent rows",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				d, err := e.GetProject(ctx, actor(), args[0])
				if err != nil {
					return err
				}
				return printJSON(d)
			})
		},
	}
}

func projectStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status <id>",
		Short: "Show workflow status and dependent row counts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				v, err := e.WorkflowStatus(ctx, actor(), args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(v)
				}
				tw := newTable("Field", "Value")
				tw.AppendRows([]table.Row{
					{"code", v.Project.Code},
					{"workflow", v.Project.WorkflowStatus},
					{"lifecycle", v.Project.LifecycleStatus},
					{"project manager", deref(v.Project.ProjectManagerID)},
					{"senior project manager", deref(v.Project.SeniorProjectManagerID)},
					{"stakeholders", v.Counts.Stakeholders},
					{"milestones", v.Counts.Milestones},
					{"budget items", v.Counts.BudgetItems},
					{"vendors", v.Counts.Vendors},
					{"risks", v.Counts.Risks},
				})
				tw.Render()
				return nil
			})
		},
	}
}

func projectTransitionCmd() *cobra.Command {
	var to string
	cmd := &cobra.Command{
		Use:   "transition <id>",
		Short: "Move a finalized project through its lifecycle",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, err := e.Transition(ctx, actor(), args[0], to)
				if err != nil {
					return err
				}
				return printJSONOrLine(p, fmt.Sprintf("%s is now %s", p.Code, p.WorkflowStatus))
			})
		},
	}
	cmd.Flags().StringVar(&to, "to", "", "target status: active, on_hold, complete or archived")
	_ = cmd.MarkFlagRequired("to")
	return cmd
}

func projectEventsCmd() *cobra.Command {
	var limit int
	var cursor int64
	cmd := &cobra.Command{
		Use:   "events <id>",
		Short: "Show a project's audit trail, newest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.ProjectEvents(ctx, actor(), args[0], limit, cursor)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable("ID", "TS", "Type", "Entity", "Actor")
				for _, evt := range items {
					tw.AppendRow(table.Row{evt.ID, evt.TS, evt.Type, evt.EntityKind + ":" + evt.EntityID, evt.ActorID})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "number of events")
	cmd.Flags().Int64Var(&cursor, "cursor", 0, "only events older than this id")
	return cmd
}

func versionCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "version", Short: "Manage project versions"}
	list := &cobra.Command{
		Use:   "list <project-id>",
		Short: "List versions of a project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.ListVersions(ctx, actor(), args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable("ID", "#", "Status", "Current", "Summary", "Decided By")
				for _, v := range items {
					tw.AppendRow(table.Row{v.ID, v.VersionNumber, v.Status, v.IsCurrent, v.ChangeSummary, deref(v.DecidedBy)})
				}
				tw.Render()
				return nil
			})
		},
	}
	submit := versionActionCmd("submit", "Submit a draft version for approval", func(ctx context.Context, e engine.Engine, project, id, _ string) (domain.ProjectVersion, error) {
		return e.SubmitVersion(ctx, actor(), project, id)
	})
	approve := versionActionCmd("approve", "Approve a pending version", func(ctx context.Context, e engine.Engine, project, id, _ string) (domain.ProjectVersion, error) {
		return e.ApproveVersion(ctx, actor(), project, id)
	})
	reject := versionActionCmd("reject", "Reject a pending version", func(ctx context.Context, e engine.Engine, project, id, reason string) (domain.ProjectVersion, error) {
		return e.RejectVersion(ctx, actor(), project, id, reason)
	})
	cmd.AddCommand(list, submit, approve, reject)
	return cmd
}

func versionActionCmd(use, short string, fn func(ctx context.Context, e engine.Engine, project, id, reason string) (domain.ProjectVersion, error)) *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   use + " <project-id> <version-id>",
		Short: short,
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				v, err := fn(ctx, e, args[0], args[1], reason)
				if err != nil {
					return err
				}
				return printJSONOrLine(v, fmt.Sprintf("version %d is %s", v.VersionNumber, v.Status))
			})
		},
	}
	if use == "reject" {
		cmd.Flags().StringVar(&reason, "reason", "", "rejection reason")
	}
	return cmd
}

func tokenCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "token", Short: "Bearer tokens"}
	var user, role string
	var ttl time.Duration
	mint := &cobra.Command{
		Use:   "mint",
		Short: "Mint an HS256 bearer token with PFMT_JWT_SECRET",
		RunE: func(cmd *cobra.Command, args []string) error {
			token, err := server.SignToken(viper.GetString("jwt-secret"), auth.Principal{ID: user, Role: role}, ttl)
			if err != nil {
				return err
			}
			fmt.Println(token)
			return nil
		},
	}
	mint.Flags().StringVar(&user, "user", "", "subject (user id)")
	mint.Flags().StringVar(&role, "role", auth.RoleUser, "role claim")
	mint.Flags().DurationVar(&ttl, "ttl", 12*time.Hour, "token lifetime")
	_ = mint.MarkFlagRequired("user")
	cmd.AddCommand(mint)
	return cmd
}

func apiKeyCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "apikey", Short: "Manage API keys"}
	var principalID, role, name string
	create := &cobra.Command{
		Use:   "create",
		Short: "Create an API key; the key is printed once",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				secret, err := newKeySecret()
				if err != nil {
					return err
				}
				key := domain.APIKey{
					ID:          uuid.NewString(),
					PrincipalID: principalID,
					Role:        role,
					Name:        name,
					KeyHash:     repo.HashAPIKey(secret),
					CreatedAt:   time.Now().UTC().Format(time.RFC3339),
				}
				if err := rt.Engine.Repo.InsertAPIKey(ctx, nil, key); err != nil {
					return err
				}
				return printJSONOrLine(map[string]string{"id": key.ID, "key": secret}, fmt.Sprintf("id:  %s\nkey: %s", key.ID, secret))
			})
		},
	}
	create.Flags().StringVar(&principalID, "principal", "", "principal id the key acts as")
	create.Flags().StringVar(&role, "role", auth.RoleUser, "role of the principal")
	create.Flags().StringVar(&name, "name", "", "label")
	_ = create.MarkFlagRequired("principal")

	var filter string
	list := &cobra.Command{
		Use:   "list",
		Short: "List API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				keys, err := rt.Engine.Repo.ListAPIKeys(ctx, filter)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(keys)
				}
				tw := newTable("ID", "Principal", "Role", "Name", "Created")
				for _, k := range keys {
					tw.AppendRow(table.Row{k.ID, k.PrincipalID, k.Role, k.Name, k.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	list.Flags().StringVar(&filter, "principal", "", "principal filter")

	revoke := &cobra.Command{
		Use:   "revoke <id>",
		Short: "Delete an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				return rt.Engine.Repo.DeleteAPIKey(ctx, args[0])
			})
		},
	}
	cmd.AddCommand(create, list, revoke)
	return cmd
}

// --- helpers ---

func newKeySecret() (string, error) {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return "pfmt_" + hex.EncodeToString(buf), nil
}

func newTable(header ...any) table.Writer {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row(header))
	return tw
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func printJSONOrLine(v any, line string) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	fmt.Println(line)
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
