package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"reportline/internal/archive"
	"reportline/internal/cache"
	"reportline/internal/config"
	"reportline/internal/db"
	"reportline/internal/engine"
	"reportline/internal/irm"
	"reportline/internal/migrate"
	"reportline/internal/server"
	"reportline/internal/timeutil"
)

var rootCmd = &cobra.Command{
	Use:   "rl",
	Short: "Reportline incident reporter",
	Long: `Reportline pulls incident records from a Grafana IRM workspace, caches them
locally, and renders daily, weekly, and monthly reliability reports with
MTTR/MTTD metrics, SLA tracking, and chat delivery. Every run is archived in
the workspace database for later inspection with 'rl history'.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if viper.GetBool("debug") {
			slog.SetLogLoggerLevel(slog.LevelDebug)
		}
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
	viper.SetEnvPrefix("REPORTLINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().String("url", "", "IRM provider base URL (overrides config)")
	rootCmd.PersistentFlags().String("token", "", "IRM API token")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().Bool("no-cache", false, "bypass the disk cache")
	rootCmd.PersistentFlags().Bool("debug", false, "enable debug logging")
	rootCmd.PersistentFlags().String("webhook", "", "chat webhook URL (adds to configured webhooks)")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("url", rootCmd.PersistentFlags().Lookup("url"))
	_ = viper.BindPFlag("token", rootCmd.PersistentFlags().Lookup("token"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("no-cache", rootCmd.PersistentFlags().Lookup("no-cache"))
	_ = viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug"))
	_ = viper.BindPFlag("webhook", rootCmd.PersistentFlags().Lookup("webhook"))
}

func registerCommands() {
	rootCmd.AddCommand(reportCmd())
	rootCmd.AddCommand(cacheCmd())
	rootCmd.AddCommand(historyCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(serveCmd())
}

func reportCmd() *cobra.Command {
	var (
		date        string
		startDate   string
		endDate     string
		weekly      bool
		weekOffset  int
		monthly     bool
		monthOffset int
		maxActive   int
		fetchAll    bool
		saveMD      bool
		mdPath      string
		noChat      bool
	)
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Generate an incident report",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("max-active") {
				cfg.Report.MaxActive = maxActive
			}
			e, cleanup, err := buildEngine(cfg, true)
			if err != nil {
				return err
			}
			defer cleanup()

			if fetchAll {
				warmed, err := e.WarmCache(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Printf("Warmed cache for %d incidents\n", warmed)
			}

			zone := timeutil.Zone(cfg.Report.TimezoneOffsetHours)
			w, err := resolveWindow(e.Now(), zone, date, startDate, endDate, weekly, weekOffset, monthly, monthOffset)
			if err != nil {
				return err
			}

			res, err := e.Run(cmd.Context(), w, engine.Options{
				NoChat:       noChat,
				SaveMarkdown: saveMD,
				MarkdownPath: mdPath,
			})
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(res)
			}
			fmt.Println(res.Body)
			if res.MarkdownFile != "" {
				fmt.Println("\nSaved markdown to", res.MarkdownFile)
			}
			if res.Delivered > 0 {
				fmt.Printf("Delivered to %d webhook(s)\n", res.Delivered)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&date, "date", "", "daily report for this date (YYYY-MM-DD, default yesterday)")
	cmd.Flags().StringVar(&startDate, "start-date", "", "custom range start (YYYY-MM-DD)")
	cmd.Flags().StringVar(&endDate, "end-date", "", "custom range end (YYYY-MM-DD, inclusive)")
	cmd.Flags().BoolVar(&weekly, "weekly", false, "weekly report for the last completed ISO week")
	cmd.Flags().IntVar(&weekOffset, "week-offset", 0, "weeks back from the last completed week")
	cmd.Flags().BoolVar(&monthly, "monthly", false, "monthly report for the last completed month")
	cmd.Flags().IntVar(&monthOffset, "month-offset", 0, "months back from the last completed month")
	cmd.Flags().IntVar(&maxActive, "max-active", 0, "cap the active incident listing (0 = all)")
	cmd.Flags().BoolVar(&fetchAll, "fetch-all", false, "warm the cache for the whole year before reporting")
	cmd.Flags().BoolVar(&saveMD, "save-md", false, "export the report body as markdown")
	cmd.Flags().StringVar(&mdPath, "md-path", "", "markdown export directory (default ./report)")
	cmd.Flags().BoolVar(&noChat, "no-chat", false, "skip webhook delivery")
	return cmd
}

func resolveWindow(now time.Time, zone *time.Location, date, startDate, endDate string, weekly bool, weekOffset int, monthly bool, monthOffset int) (timeutil.Window, error) {
	switch {
	case weekly && monthly:
		return timeutil.Window{}, fmt.Errorf("--weekly and --monthly are mutually exclusive")
	case monthly:
		return timeutil.MonthWindow(now, monthOffset), nil
	case weekly:
		return timeutil.WeekWindow(now, weekOffset), nil
	case startDate != "" || endDate != "":
		if startDate == "" || endDate == "" {
			return timeutil.Window{}, fmt.Errorf("--start-date and --end-date must be given together")
		}
		return timeutil.RangeWindow(startDate, endDate, zone)
	case date != "":
		day, err := time.ParseInLocation("2006-01-02", date, zone)
		if err != nil {
			return timeutil.Window{}, fmt.Errorf("invalid date %q: use YYYY-MM-DD", date)
		}
		return timeutil.DayWindow(day, zone), nil
	default:
		return timeutil.Yesterday(now, zone), nil
	}
}

func cacheCmd() *cobra.Command {
	cc := &cobra.Command{Use: "cache", Short: "Inspect and manage the incident cache"}
	cc.AddCommand(&cobra.Command{
		Use:   "stats",
		Short: "Show cache entry counts and size",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := openCache(nil)
			if err != nil {
				return err
			}
			stats := c.Stats()
			if viper.GetBool("json") {
				return printJSON(stats)
			}
			tw := table.NewWriter()
			tw.SetOutputMirror(os.Stdout)
			tw.AppendHeader(table.Row{"Enabled", "Dir", "Incidents", "Activity", "Preview Lists", "Size (bytes)"})
			tw.AppendRow(table.Row{stats.Enabled, stats.Dir, stats.Incidents, stats.Activity, stats.PreviewLists, stats.TotalSizeBytes})
			tw.Render()
			return nil
		},
	})
	cc.AddCommand(&cobra.Command{
		Use:   "clear",
		Short: "Delete every cache entry",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := openCache(nil)
			if err != nil {
				return err
			}
			if err := c.Clear(); err != nil {
				return err
			}
			fmt.Println("cache cleared")
			return nil
		},
	})
	return cc
}

func historyCmd() *cobra.Command {
	hc := &cobra.Command{Use: "history", Short: "Browse archived report runs"}

	var kind string
	var limit int
	list := &cobra.Command{
		Use:   "list",
		Short: "List archived runs, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withArchive(cmd.Context(), func(ctx context.Context, repo archive.Repo) error {
				runs, err := repo.ListRuns(ctx, kind, limit)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(runs)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Kind", "Window", "Opened", "Resolved", "Active", "Over SLA", "MTTR", "Created"})
				for _, run := range runs {
					window := shortDate(run.WindowStart) + ".." + shortDate(run.WindowEnd)
					tw.AppendRow(table.Row{run.ID, run.Kind, window, run.Opened, run.Resolved, run.Active, run.OverSLA, hoursCell(run.MTTRHours), run.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	list.Flags().StringVar(&kind, "kind", "", "filter by report kind (daily|weekly|monthly|range)")
	list.Flags().IntVar(&limit, "limit", 20, "maximum rows")
	hc.AddCommand(list)

	hc.AddCommand(&cobra.Command{
		Use:   "show <run-id>",
		Short: "Show one archived run, body included",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withArchive(cmd.Context(), func(ctx context.Context, repo archive.Repo) error {
				run, err := repo.GetRun(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(run)
				}
				fmt.Println(run.Body)
				return nil
			})
		},
	})
	return hc
}

func configCmd() *cobra.Command {
	cc := &cobra.Command{Use: "config", Short: "Inspect the workspace configuration"}
	cc.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(cfg)
			}
			out, err := yaml.Marshal(cfg)
			if err != nil {
				return err
			}
			fmt.Print(string(out))
			return nil
		},
	})
	cc.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Validate the workspace config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := config.Load(viper.GetString("workspace")); err != nil {
				return err
			}
			fmt.Println("config ok")
			return nil
		},
	})
	return cc
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			e, cleanup, err := buildEngine(cfg, true)
			if err != nil {
				return err
			}
			defer cleanup()

			authCfg := server.AuthConfig{JWTSecret: os.Getenv("REPORTLINE_JWT_SECRET")}
			if authCfg.JWTSecret == "" {
				return fmt.Errorf("REPORTLINE_JWT_SECRET is required for bearer auth")
			}
			handler, err := server.New(server.Config{Engine: e, BasePath: basePath, Auth: authCfg})
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
			fmt.Printf("Serving Reportline API on http://%s%s (OpenAPI at %s/openapi.json)\n", addr, basePath, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8484", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v1", "API base path")
	return cmd
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadOptional(viper.GetString("workspace"))
	if err != nil {
		return nil, err
	}
	if url := viper.GetString("url"); url != "" {
		cfg.Provider.URL = url
	}
	if hook := viper.GetString("webhook"); hook != "" {
		cfg.Webhooks = append(cfg.Webhooks, config.WebhookConfig{URL: hook})
	}
	return cfg, nil
}

// buildEngine wires the full pipeline. needToken guards commands that talk to
// the provider.
func buildEngine(cfg *config.Config, needToken bool) (engine.Engine, func(), error) {
	token := viper.GetString("token")
	if needToken && token == "" {
		return engine.Engine{}, nil, fmt.Errorf("IRM token required: set --token or REPORTLINE_TOKEN")
	}
	if cfg.Provider.URL == "" {
		return engine.Engine{}, nil, fmt.Errorf("provider URL required: set --url, REPORTLINE_URL, or provider.url in reportline.yml")
	}

	c, err := openCache(cfg)
	if err != nil {
		return engine.Engine{}, nil, err
	}
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return engine.Engine{}, nil, err
	}
	if err := migrate.Migrate(conn); err != nil {
		conn.Close()
		return engine.Engine{}, nil, err
	}
	repo := archive.Repo{DB: conn}
	client := irm.New(cfg.Provider.URL, token)
	e := engine.New(cfg, client, c, &repo)
	return e, func() { conn.Close() }, nil
}

func openCache(cfg *config.Config) (*cache.Cache, error) {
	if cfg == nil {
		loaded, err := loadConfig()
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	dir := cfg.Cache.Dir
	if dir == "" {
		dir = filepath.Join(viper.GetString("workspace"), ".reportline", "cache")
	}
	enabled := !viper.GetBool("no-cache")
	return cache.New(dir, enabled, cfg.Cache.EntityTTLHours, slog.Default())
}

func withArchive(ctx context.Context, fn func(context.Context, archive.Repo) error) error {
	conn, err := db.Open(db.Config{Workspace: viper.GetString("workspace")})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	return fn(ctx, archive.Repo{DB: conn})
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func shortDate(rfc3339 string) string {
	if len(rfc3339) >= 10 {
		return rfc3339[:10]
	}
	return rfc3339
}

func hoursCell(v *float64) string {
	if v == nil {
		return "-"
	}
	return fmt.Sprintf("%.1fh", *v)
}
