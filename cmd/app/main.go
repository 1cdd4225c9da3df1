package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github-maintainer/internal/adapter/gemini"
	"github-maintainer/internal/adapter/github"
	"github-maintainer/internal/adapter/store"
	"github-maintainer/internal/analyzer"
	"github-maintainer/internal/common"
	"github-maintainer/internal/config"
	"github-maintainer/internal/domain"
	"github-maintainer/internal/issuer"
	"github-maintainer/internal/observe"
	"github-maintainer/internal/port"
	"github-maintainer/internal/service"
	"github-maintainer/internal/suggester"
)

var (
	flagUser            string
	flagConcurrency     int
	flagAuto            bool
	flagInterval        int
	flagLanguage        string
	flagVisibility      string
	flagIncludeArchived bool
	flagUpdatedDays     int
)

func main() {
	root := &cobra.Command{
		Use:   "github-maintainer",
		Short: "Analyzes your repositories and files maintenance issues",
		RunE:  runCmd,
	}
	root.Flags().StringVarP(&flagUser, "user", "u", "", "GitHub username to analyze (defaults to MAINTAINER_USER)")
	root.Flags().IntVarP(&flagConcurrency, "concurrency", "c", 0, "analysis concurrency (defaults to MAINTAINER_CONCURRENCY)")
	root.Flags().BoolVar(&flagAuto, "auto", false, "file all suggestions without asking")
	root.Flags().IntVar(&flagInterval, "interval", 0, "re-run every N minutes; 0 runs once")
	root.Flags().StringVar(&flagLanguage, "language", "", "only repositories with this primary language")
	root.Flags().StringVar(&flagVisibility, "visibility", "", "only public or private repositories")
	root.Flags().BoolVar(&flagIncludeArchived, "include-archived", false, "include archived repositories")
	root.Flags().IntVar(&flagUpdatedDays, "updated-within", 0, "only repositories updated within N days")

	purge := &cobra.Command{
		Use:   "purge <owner/name>",
		Short: "Delete a repository's suggestion history so its titles can be refiled",
		Args:  cobra.ExactArgs(1),
		RunE:  purgeCmd,
	}

	prefs := &cobra.Command{
		Use:   "prefs",
		Short: "Save run preferences for a user",
		RunE:  prefsCmd,
	}
	prefs.Flags().StringVarP(&flagUser, "user", "u", "", "user the preferences belong to")
	prefs.Flags().String("automation", "manual", "automation level: auto, manual or ask")
	prefs.Flags().StringSlice("labels", nil, "labels added to every filed issue")
	prefs.Flags().StringSlice("exclude", nil, "repositories (owner/name) to skip")
	prefs.Flags().StringSlice("focus", nil, "focus areas weighted into suggestion prompts")

	root.AddCommand(purge, prefs)
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newLogger(debug bool) (*zap.Logger, error) {
	if debug {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

// buildRun wires the full pipeline from config. The returned close function
// releases the generation client.
func buildRun(ctx context.Context, cfg *config.Config, log *zap.Logger, metrics *observe.Collector) (*service.Orchestrator, *store.Store, func(), error) {
	st, err := store.New(cfg.DatabaseDSN, store.WithLogger(log))
	if err != nil {
		return nil, nil, nil, err
	}

	countRetry := func(int, error) { metrics.Retry() }

	host, err := github.NewClient(cfg.GitHubToken,
		github.WithLogger(log),
		github.WithMaxPages(cfg.MaxPages),
		github.WithCallHook(metrics.APICall),
		github.WithRetryOptions(common.WithRetryIf(common.Retryable), common.WithOnRetry(countRetry)),
	)
	if err != nil {
		return nil, nil, nil, err
	}

	gen, err := gemini.NewGenerator(ctx, cfg.GeminiAPIKey,
		gemini.WithLogger(log),
		gemini.WithModel(cfg.GeminiModel),
		gemini.WithCallHook(metrics.GenerationCall),
		gemini.WithRetryOptions(common.WithRetryIf(common.Retryable), common.WithOnRetry(countRetry)),
	)
	if err != nil {
		return nil, nil, nil, err
	}

	unit := analyzer.New(host, gen, st,
		analyzer.WithLogger(log), analyzer.WithMetrics(metrics))
	stage := suggester.New(gen, st,
		suggester.WithLogger(log), suggester.WithMetrics(metrics))
	filer := issuer.New(host, st, issuer.WithLogger(log))

	orch := service.New(host, unit, stage, filer, st,
		service.WithLogger(log),
		service.WithMetrics(metrics),
		service.WithConcurrency(cfg.Concurrency),
	)
	return orch, st, func() { _ = gen.Close() }, nil
}

func runCmd(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if flagConcurrency > 0 {
		cfg.Concurrency = flagConcurrency
	}
	username := cfg.Username
	if flagUser != "" {
		username = flagUser
	}
	if username == "" {
		return fmt.Errorf("a username is required: pass --user or set MAINTAINER_USER")
	}

	log, err := newLogger(cfg.Debug)
	if err != nil {
		return err
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics := observe.NewCollector()
	orch, _, closeGen, err := buildRun(ctx, cfg, log, metrics)
	if err != nil {
		return err
	}
	defer closeGen()

	filters := domain.RepositoryFilters{
		Language:        flagLanguage,
		Visibility:      flagVisibility,
		IncludeArchived: flagIncludeArchived,
	}
	if flagUpdatedDays > 0 {
		filters.UpdatedSince = time.Now().AddDate(0, 0, -flagUpdatedDays)
	}

	var prefs *domain.UserPreferences
	if flagAuto {
		p := domain.DefaultPreferences(username)
		p.AutomationLevel = domain.AutomationAuto
		prefs = &p
	}

	sink := observe.NewLogSink(log)
	gate := port.ApprovalGate(service.AutoApproveGate{})
	if !flagAuto {
		gate = &consoleGate{in: bufio.NewReader(os.Stdin), out: os.Stdout}
	}

	runOnce := func() {
		report, err := orch.RunAnalysis(ctx, username, filters, prefs, sink, gate)
		if err != nil {
			log.Error("run finished with error", zap.String("run_id", report.RunID), zap.Error(err))
		}
		printReport(report)
	}

	runOnce()
	if flagInterval <= 0 {
		return nil
	}

	sched := cron.New()
	if _, err := sched.AddFunc(fmt.Sprintf("@every %dm", flagInterval), runOnce); err != nil {
		return err
	}
	sched.Start()
	log.Info("interval mode started", zap.Int("minutes", flagInterval))
	<-ctx.Done()
	<-sched.Stop().Done()
	return nil
}

func purgeCmd(_ *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	log, err := newLogger(cfg.Debug)
	if err != nil {
		return err
	}
	defer log.Sync()

	st, err := store.New(cfg.DatabaseDSN, store.WithLogger(log))
	if err != nil {
		return err
	}
	if err := st.PurgeSuggestionRecords(context.Background(), args[0]); err != nil {
		return err
	}
	fmt.Printf("suggestion history purged for %s\n", args[0])
	return nil
}

func prefsCmd(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	username := cfg.Username
	if flagUser != "" {
		username = flagUser
	}
	if username == "" {
		return fmt.Errorf("a username is required: pass --user or set MAINTAINER_USER")
	}

	automation, _ := cmd.Flags().GetString("automation")
	labels, _ := cmd.Flags().GetStringSlice("labels")
	exclude, _ := cmd.Flags().GetStringSlice("exclude")
	focus, _ := cmd.Flags().GetStringSlice("focus")

	prefs := domain.UserPreferences{
		UserID:          username,
		AutomationLevel: domain.AutomationLevel(automation),
		PreferredLabels: labels,
		ExcludedRepos:   exclude,
		FocusAreas:      focus,
	}
	if err := prefs.Validate(); err != nil {
		return err
	}

	log, err := newLogger(cfg.Debug)
	if err != nil {
		return err
	}
	defer log.Sync()

	st, err := store.New(cfg.DatabaseDSN, store.WithLogger(log))
	if err != nil {
		return err
	}
	if err := st.SavePreferences(context.Background(), prefs); err != nil {
		return err
	}
	fmt.Printf("preferences saved for %s\n", username)
	return nil
}

// consoleGate walks the ranked list on the terminal, one yes/no per
// suggestion. It blocks until the user has decided on every entry.
type consoleGate struct {
	in  *bufio.Reader
	out *os.File
}

func (g *consoleGate) Decide(ctx context.Context, ranked []domain.MaintenanceSuggestion) ([]domain.MaintenanceSuggestion, error) {
	fmt.Fprintf(g.out, "\n%d suggestions ready. Approve each to file an issue.\n\n", len(ranked))
	var approved []domain.MaintenanceSuggestion
	for i, s := range ranked {
		if err := ctx.Err(); err != nil {
			return approved, err
		}
		fmt.Fprintf(g.out, "[%d/%d] %s\n", i+1, len(ranked), s.RepositoryRef)
		fmt.Fprintf(g.out, "  %s (%s, %s priority, %s effort)\n", s.Title, s.Category, s.Priority, s.EstimatedEffort)
		if s.Rationale != "" {
			fmt.Fprintf(g.out, "  %s\n", s.Rationale)
		}
		fmt.Fprint(g.out, "  file this issue? [y/N] ")

		line, err := g.in.ReadString('\n')
		if err != nil {
			return approved, err
		}
		if strings.EqualFold(strings.TrimSpace(line), "y") {
			approved = append(approved, s)
		}
	}
	return approved, nil
}

func printReport(r *domain.RunReport) {
	fmt.Printf("\nrun %s %s in %s\n", r.RunID, r.State, r.Metrics.Elapsed.Round(time.Millisecond))
	fmt.Printf("  repositories: %d listed, %d analyzed, %d failed\n",
		r.Metrics.ReposListed, r.Metrics.ReposAnalyzed, len(r.Errors))
	fmt.Printf("  suggestions:  %d generated, %d issues created\n",
		r.Metrics.SuggestionsGenerated, r.Metrics.IssuesCreated)
	if r.Metrics.FallbacksUsed > 0 {
		fmt.Printf("  fallbacks:    %d\n", r.Metrics.FallbacksUsed)
	}
	for _, e := range r.Errors {
		fmt.Printf("  skipped %s (%s)\n", e.RepositoryRef, e.Kind)
	}
	for _, res := range r.IssueResults {
		if res.Success {
			fmt.Printf("  filed %s\n", res.IssueURL)
		} else {
			fmt.Printf("  failed %s: %s\n", res.RepositoryRef, res.ErrorMessage)
		}
	}
}
