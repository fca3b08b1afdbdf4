package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"

	"github.com/ivlasov/teamradar/internal/config"
	"github.com/ivlasov/teamradar/internal/scheduler"
	"github.com/ivlasov/teamradar/internal/store"
	"github.com/ivlasov/teamradar/pkg/alert"
	"github.com/ivlasov/teamradar/pkg/analyze"
	"github.com/ivlasov/teamradar/pkg/server"
	sig "github.com/ivlasov/teamradar/pkg/signal"
	"github.com/ivlasov/teamradar/pkg/source"
)

func loadConfig() (*config.Config, error) {
	path := cfgFile
	if path == "" {
		if _, err := os.Stat("config.yaml"); err == nil {
			path = "config.yaml"
		}
	}
	return config.Load(path)
}

func buildEngine(cfg *config.Config, db store.Store) *analyze.Engine {
	return analyze.NewEngine(db, analyze.Config{
		DuplicateThreshold: cfg.Analysis.DuplicateThreshold,
		RelatedThreshold:   cfg.Analysis.RelatedThreshold,
		MinTokenLen:        cfg.Analysis.MinTokenLen,
		MaxItems:           cfg.Analysis.MaxItems,
		MaxFeatures:        cfg.Analysis.MaxFeatures,
	})
}

func buildSources(cfg *config.Config) []source.Source {
	var sources []source.Source

	if cfg.Sources.Chat.Enabled && cfg.Sources.Chat.Token != "" {
		sources = append(sources, source.NewChat(cfg.Sources.Chat.Token, cfg.Sources.Chat.APIURL, cfg.Sources.Chat.Limit))
	}
	if cfg.Sources.Tracker.Enabled && cfg.Sources.Tracker.Token != "" {
		sources = append(sources, source.NewTracker(cfg.Sources.Tracker.Token, cfg.Sources.Tracker.FolderID, cfg.Sources.Tracker.APIURL))
	}
	if cfg.Sources.Feeds.Enabled && len(cfg.Sources.Feeds.Feeds) > 0 {
		feeds := make([]source.Feed, len(cfg.Sources.Feeds.Feeds))
		for i, f := range cfg.Sources.Feeds.Feeds {
			feeds[i] = source.Feed{Name: f.Name, URL: f.URL}
		}
		sources = append(sources, source.NewFeeds(feeds))
	}

	return sources
}

func buildAlertManager(cfg *config.Config) *alert.Manager {
	var notifiers []alert.Notifier

	if cfg.Alerts.Telegram.Enabled && cfg.Alerts.Telegram.Token != "" {
		notifiers = append(notifiers, alert.NewTelegram(cfg.Alerts.Telegram.Token, cfg.Alerts.Telegram.ChatID))
	}
	if cfg.Alerts.Slack.Enabled && cfg.Alerts.Slack.WebhookURL != "" {
		notifiers = append(notifiers, alert.NewSlack(cfg.Alerts.Slack.WebhookURL))
	}
	if cfg.Alerts.Webhook.Enabled && cfg.Alerts.Webhook.URL != "" {
		notifiers = append(notifiers, alert.NewWebhook(cfg.Alerts.Webhook.URL, cfg.Alerts.Webhook.Secret))
	}

	return alert.NewManager(notifiers)
}

func runCollect(filterSources []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	db, err := store.New(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer db.Close()

	allSources := buildSources(cfg)

	// Filter to requested sources only.
	var sources []source.Source
	if len(filterSources) > 0 {
		wanted := make(map[string]bool)
		for _, s := range filterSources {
			wanted[strings.ToLower(strings.TrimSpace(s))] = true
		}
		for _, s := range allSources {
			if wanted[string(s.Name())] {
				sources = append(sources, s)
			}
		}
		if len(sources) == 0 {
			return fmt.Errorf("no matching sources for: %s", strings.Join(filterSources, ", "))
		}
	} else {
		sources = allSources
	}

	if len(sources) == 0 {
		return fmt.Errorf("no sources enabled (check config.yaml or environment)")
	}

	sched := scheduler.New(db, sources, nil, nil, nil, 0, 0, 0, 0, 0, 0)

	ctx := context.Background()
	totalItems := 0

	for _, src := range sources {
		fmt.Fprintf(os.Stderr, "collecting from %s...\n", src.Name())
		items, err := src.Collect(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "  error: %v\n", err)
		}
		if len(items) == 0 {
			continue
		}

		stored, err := sched.Ingest(ctx, items)
		if err != nil {
			fmt.Fprintf(os.Stderr, "  store error: %v\n", err)
			continue
		}

		fmt.Fprintf(os.Stderr, "  stored %d items\n", stored)
		totalItems += stored
	}

	fmt.Fprintf(os.Stderr, "\ntotal: %d items from %d sources\n", totalItems, len(sources))
	return nil
}

func runAnalyze() error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	db, err := store.New(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer db.Close()

	engine := buildEngine(cfg, db)
	if err := engine.Run(context.Background()); err != nil {
		return fmt.Errorf("analysis: %w", err)
	}
	return nil
}

func runSignals(days int) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	db, err := store.New(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer db.Close()

	if days <= 0 {
		days = cfg.Signals.StalledAfterDays
	}

	eval := sig.NewEvaluator(db)
	ctx := context.Background()

	stalled, err := eval.DetectStalled(ctx, days)
	if err != nil {
		return fmt.Errorf("detect stalled: %w", err)
	}

	unread, err := eval.FindUnreadDirectMessages(ctx)
	if err != nil {
		return fmt.Errorf("find unread dms: %w", err)
	}

	fmt.Printf("stalled items (no update in %d days): %d\n", days, len(stalled))
	for _, id := range stalled {
		fmt.Printf("  #%d\n", id)
	}
	fmt.Printf("unread direct messages: %d\n", len(unread))
	for _, id := range unread {
		fmt.Printf("  #%d\n", id)
	}
	return nil
}

func runStatus(jsonOutput bool, limit int) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	db, err := store.New(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer db.Close()

	rows, err := db.ListStatusSnapshot(context.Background(), limit)
	if err != nil {
		return fmt.Errorf("list status: %w", err)
	}

	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(rows)
	}

	if len(rows) == 0 {
		fmt.Println("no items found (try collecting data first: teamradar collect)")
		return nil
	}

	urgent := color.New(color.FgRed, color.Bold)

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tPRIO\tSOURCE\tSTATUS\tLAST SEEN\tTITLE")
	for _, r := range rows {
		prio := "-"
		if r.Priority != nil {
			prio = fmt.Sprintf("%d", *r.Priority)
			if *r.Priority <= 500 {
				prio = urgent.Sprint(prio)
			}
		}
		status := "-"
		if r.Status != nil {
			status = *r.Status
		}
		lastSeen := "-"
		if r.LastSeen != nil {
			lastSeen = time.Unix(*r.LastSeen, 0).UTC().Format("2006-01-02 15:04")
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\n",
			r.ID, prio, r.Source, status, lastSeen, r.Title)
	}
	return w.Flush()
}

func runServe(port int) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if port == 0 {
		port = cfg.Server.Port
	}

	db, err := store.New(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer db.Close()

	engine := buildEngine(cfg, db)
	eval := sig.NewEvaluator(db)

	srv := server.New(db, engine, eval, port)
	return srv.ListenAndServe()
}

func runDaemon(port int) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if port == 0 {
		port = cfg.Server.Port
	}

	db, err := store.New(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer db.Close()

	engine := buildEngine(cfg, db)
	eval := sig.NewEvaluator(db)
	sources := buildSources(cfg)
	alertMgr := buildAlertManager(cfg)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	sched := scheduler.New(db, sources, engine, eval, alertMgr,
		cfg.Schedule.ParseCollectInterval(),
		cfg.Schedule.ParseAnalyzeInterval(),
		cfg.Schedule.ParseSignalInterval(),
		cfg.Signals.StalledAfterDays,
		cfg.Signals.SampleSize,
		cfg.Signals.ParseMinAlertInterval(),
	)

	// Start scheduler in background.
	go func() {
		if err := sched.Run(ctx); err != nil && ctx.Err() == nil {
			fmt.Fprintf(os.Stderr, "scheduler error: %v\n", err)
		}
	}()

	// Start HTTP server.
	srv := server.New(db, engine, eval, port)
	go func() {
		<-ctx.Done()
		fmt.Fprintln(os.Stderr, "\nshutting down...")
	}()

	return srv.ListenAndServe()
}
