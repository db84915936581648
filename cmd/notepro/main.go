package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/MarcoPoloResearchLab/notepro/internal/app"
	"github.com/MarcoPoloResearchLab/notepro/internal/config"
	"github.com/MarcoPoloResearchLab/notepro/internal/logging"
	"github.com/MarcoPoloResearchLab/notepro/internal/notes"
	"github.com/MarcoPoloResearchLab/notepro/internal/search"
	"github.com/MarcoPoloResearchLab/notepro/internal/server"
)

const shutdownTimeout = 10 * time.Second

var (
	cfgFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "notepro",
		Short: "NotePro local note core",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		SilenceUsage: true,
	}

	setupFlags(rootCmd)
	rootCmd.AddCommand(newServeCommand(), newMigrateCommand(), newSearchCommand())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	cmd.PersistentFlags().String("profile", defaults.GetString("profile"), "Profile whose cache keys and settings are used")
	cmd.PersistentFlags().String("database-path", defaults.GetString("database.path"), "SQLite database path")
	cmd.PersistentFlags().Duration("autosave-delay", defaults.GetDuration("autosave.delay"), "Quiet interval before an edited note is saved")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("log-file", defaults.GetString("log.file"), "Optional rotating log file")
	cmd.PersistentFlags().String("http-address", defaults.GetString("http.address"), "HTTP listen address")
	cmd.PersistentFlags().String("ai-model", defaults.GetString("ai.model"), "Model used for note processing")

	bindFlag(cmd, "profile", "profile")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "autosave.delay", "autosave-delay")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "log.file", "log-file")
	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "ai.model", "ai-model")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}

	if err := viper.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if cfgFile != "" && errors.As(err, &configNotFound) {
			return err
		}
	}

	return nil
}

// openApp loads configuration, builds the logger and opens the session.
func openApp(opts app.Options) (*app.App, *zap.Logger, error) {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return nil, nil, err
	}
	logger, err := logging.NewLogger(appConfig.LogLevel, appConfig.LogFile)
	if err != nil {
		return nil, nil, err
	}
	opts.Logger = logger
	application, err := app.Open(appConfig, opts)
	if err != nil {
		_ = logger.Sync()
		return nil, nil, err
	}
	return application, logger, nil
}

func closeApp(application *app.App, logger *zap.Logger) error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	err := application.Close(ctx)
	_ = logger.Sync()
	return err
}

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the local JSON and event-stream API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}
}

func runServer(ctx context.Context) (err error) {
	realtime := server.NewRealtimeDispatcher()
	application, logger, err := openApp(app.Options{Notifier: realtime})
	if err != nil {
		return err
	}
	defer func() {
		err = errors.Join(err, closeApp(application, logger))
	}()

	handler, err := server.NewHTTPHandler(server.Dependencies{
		App:      application,
		Realtime: realtime,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		if _, migrateErr := application.Migrate(signalCtx); migrateErr != nil {
			logger.Error("note migration failed", zap.Error(migrateErr))
		}
	}()

	httpServer := &http.Server{
		Addr:    application.Config().HTTPAddress,
		Handler: handler,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", zap.String("address", httpServer.Addr))
		serveErr := httpServer.ListenAndServe()
		if serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			errCh <- serveErr
		}
		close(errCh)
	}()

	select {
	case <-signalCtx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case serveErr := <-errCh:
		return serveErr
	}
}

func newMigrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Reconcile cached notes with the durable store and exit",
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			application, logger, err := openApp(app.Options{})
			if err != nil {
				return err
			}
			defer func() {
				err = errors.Join(err, closeApp(application, logger))
			}()
			report, err := application.Migrate(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "outcome=%s loaded=%d converted=%d persisted=%d skipped=%d failed=%d\n",
				report.Outcome, report.Loaded, report.Converted, report.Persisted, report.Skipped, report.Failed)
			return nil
		},
	}
}

type searchOptions struct {
	term      string
	global    bool
	project   string
	format    string
	sortBy    string
	direction string
	tags      []string
}

func newSearchCommand() *cobra.Command {
	var opts searchOptions
	cmd := &cobra.Command{
		Use:   "search",
		Short: "List notes matching a term and filters",
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			application, logger, err := openApp(app.Options{})
			if err != nil {
				return err
			}
			defer func() {
				err = errors.Join(err, closeApp(application, logger))
			}()
			if _, err := application.Migrate(cmd.Context()); err != nil {
				return err
			}
			results, err := runSearch(application, opts)
			if err != nil {
				return err
			}
			return printNotes(cmd.OutOrStdout(), results)
		},
	}
	defaults := search.DefaultFilters()
	cmd.Flags().StringVar(&opts.term, "term", "", "Case-insensitive text to match in titles and text blocks")
	cmd.Flags().BoolVar(&opts.global, "global", false, "Search every project instead of the active one")
	cmd.Flags().StringVar(&opts.project, "project", "", "Project to search instead of the active one")
	cmd.Flags().StringVar(&opts.format, "format", "", "Only notes of this format")
	cmd.Flags().StringVar(&opts.sortBy, "sort-by", string(defaults.SortBy), "Sort key (updatedAt, createdAt, title)")
	cmd.Flags().StringVar(&opts.direction, "direction", string(defaults.SortDirection), "Sort direction (asc, desc)")
	cmd.Flags().StringSliceVar(&opts.tags, "tags", nil, "Only notes carrying any of these tags")
	return cmd
}

func runSearch(application *app.App, opts searchOptions) ([]notes.Note, error) {
	filters, err := search.ParseFilters(opts.format, opts.sortBy, opts.direction, opts.tags)
	if err != nil {
		return nil, err
	}
	session := application.Search()
	if err := session.SetFilters(filters); err != nil {
		return nil, err
	}
	session.SetTerm(opts.term)
	session.SetGlobal(opts.global)
	if project := strings.TrimSpace(opts.project); project != "" {
		scoped := application.Store().State()
		scoped.ActiveProject = project
		return session.Results(scoped), nil
	}
	return application.SearchResults(), nil
}

func printNotes(out io.Writer, results []notes.Note) error {
	writer := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(writer, "ID\tTITLE\tFORMAT\tPROJECT\tUPDATED")
	for _, note := range results {
		updated := time.UnixMilli(note.UpdatedAt).UTC().Format(time.RFC3339)
		fmt.Fprintf(writer, "%s\t%s\t%s\t%s\t%s\n", note.ID, note.Title, note.Format, note.ProjectID, updated)
	}
	return writer.Flush()
}
