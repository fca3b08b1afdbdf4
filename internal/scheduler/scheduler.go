package scheduler

import (
	"context"
	"fmt"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ivlasov/teamradar/internal/store"
	"github.com/ivlasov/teamradar/pkg/alert"
	"github.com/ivlasov/teamradar/pkg/analyze"
	"github.com/ivlasov/teamradar/pkg/signal"
	"github.com/ivlasov/teamradar/pkg/source"
)

// Scheduler runs periodic collection, analysis and signal evaluation. Each
// task is wrapped in catch-log-continue: a failed tick is logged and retried
// on the next scheduled tick, never escalated.
type Scheduler struct {
	store    store.Store
	sources  []source.Source
	engine   *analyze.Engine
	eval     *signal.Evaluator
	alertMgr *alert.Manager

	collectInt time.Duration
	analyzeInt time.Duration
	signalInt  time.Duration

	stalledDays int
	sampleSize  int
	minAlertInt time.Duration
}

// New creates a new scheduler.
func New(
	s store.Store,
	sources []source.Source,
	engine *analyze.Engine,
	eval *signal.Evaluator,
	alertMgr *alert.Manager,
	collectInt, analyzeInt, signalInt time.Duration,
	stalledDays, sampleSize int,
	minAlertInt time.Duration,
) *Scheduler {
	if collectInt == 0 {
		collectInt = 15 * time.Minute
	}
	if analyzeInt == 0 {
		analyzeInt = 10 * time.Minute
	}
	if signalInt == 0 {
		signalInt = 5 * time.Minute
	}
	if stalledDays == 0 {
		stalledDays = 14
	}
	if sampleSize == 0 {
		sampleSize = 5
	}
	if minAlertInt == 0 {
		minAlertInt = time.Hour
	}
	return &Scheduler{
		store:       s,
		sources:     sources,
		engine:      engine,
		eval:        eval,
		alertMgr:    alertMgr,
		collectInt:  collectInt,
		analyzeInt:  analyzeInt,
		signalInt:   signalInt,
		stalledDays: stalledDays,
		sampleSize:  sampleSize,
		minAlertInt: minAlertInt,
	}
}

// Run starts the scheduler loop. Blocks until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	collectTicker := time.NewTicker(s.collectInt)
	analyzeTicker := time.NewTicker(s.analyzeInt)
	signalTicker := time.NewTicker(s.signalInt)
	defer collectTicker.Stop()
	defer analyzeTicker.Stop()
	defer signalTicker.Stop()

	// Run immediately on start.
	fmt.Fprintln(os.Stderr, "scheduler: initial collection...")
	s.CollectAll(ctx)
	fmt.Fprintln(os.Stderr, "scheduler: initial analysis...")
	s.runAnalysis(ctx)
	fmt.Fprintln(os.Stderr, "scheduler: initial signal evaluation...")
	s.evaluateSignals(ctx)

	fmt.Fprintf(os.Stderr, "scheduler: running (collect %s, analyze %s, signals %s)\n",
		s.collectInt, s.analyzeInt, s.signalInt)

	for {
		select {
		case <-ctx.Done():
			fmt.Fprintln(os.Stderr, "scheduler: stopped")
			return ctx.Err()
		case <-collectTicker.C:
			fmt.Fprintln(os.Stderr, "scheduler: collecting...")
			s.CollectAll(ctx)
		case <-analyzeTicker.C:
			fmt.Fprintln(os.Stderr, "scheduler: analyzing...")
			s.runAnalysis(ctx)
		case <-signalTicker.C:
			fmt.Fprintln(os.Stderr, "scheduler: evaluating signals...")
			s.evaluateSignals(ctx)
		}
	}
}

// CollectAll polls every source concurrently and ingests the results. A
// poller failure is logged and never blocks the other pollers.
func (s *Scheduler) CollectAll(ctx context.Context) {
	g, gctx := errgroup.WithContext(ctx)
	for _, src := range s.sources {
		src := src
		g.Go(func() error {
			items, err := src.Collect(gctx)
			if err != nil {
				// Partial results are still ingested below.
				fmt.Fprintf(os.Stderr, "  %s error: %v\n", src.Name(), err)
			}
			if len(items) == 0 {
				return nil
			}
			ingested, err := s.Ingest(gctx, items)
			if err != nil {
				fmt.Fprintf(os.Stderr, "  %s store error: %v\n", src.Name(), err)
				return nil
			}
			fmt.Fprintf(os.Stderr, "  %s: %d items\n", src.Name(), ingested)
			return nil
		})
	}
	_ = g.Wait()
}

// Ingest writes collected items through the ingestion contract: item upsert,
// chat table maintenance, best-effort index refresh and source-status
// mirroring. Returns the number of items written.
func (s *Scheduler) Ingest(ctx context.Context, items []source.Item) (int, error) {
	count := 0
	for i := range items {
		it := &items[i]

		if it.Channel != nil {
			ch := store.ChatChannel{ID: it.Channel.ID, Name: it.Channel.Name, IsDM: it.Channel.IsDM}
			if err := s.store.UpsertChatChannel(ctx, &ch); err != nil {
				return count, err
			}
			msg := store.ChatMessage{
				ChannelID: it.Channel.ID,
				TS:        it.TS,
				Author:    it.Author,
				Text:      it.Body,
				IsDM:      it.Channel.IsDM,
			}
			if err := s.store.UpsertChatMessage(ctx, &msg); err != nil {
				return count, err
			}
		}

		id, err := s.store.UpsertItem(ctx, &store.Item{
			Source:    string(it.Source),
			SourceID:  it.SourceID,
			Title:     it.Title,
			Body:      it.Body,
			CreatedAt: it.CreatedAt,
			UpdatedAt: it.UpdatedAt,
			Author:    it.Author,
			URL:       it.URL,
		})
		if err != nil {
			return count, err
		}

		// Index refresh is best-effort; a broken FTS table must not fail
		// ingestion.
		if err := s.store.IndexContent(ctx, id, it.Title, it.Body); err != nil {
			fmt.Fprintf(os.Stderr, "  index error for %d: %v\n", id, err)
		}

		if it.Status != "" {
			st := it.Status
			if err := s.store.SetStatus(ctx, id, store.StatusUpdate{Status: &st}); err != nil {
				return count, err
			}
		}
		count++
	}
	return count, nil
}

func (s *Scheduler) runAnalysis(ctx context.Context) {
	if err := s.engine.Run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "  analysis error: %v\n", err)
	}
}

func (s *Scheduler) evaluateSignals(ctx context.Context) {
	count, sample, err := s.eval.StalledStats(ctx, s.stalledDays, s.sampleSize)
	if err != nil {
		fmt.Fprintf(os.Stderr, "  stalled evaluation error: %v\n", err)
	} else if count > 0 {
		s.maybeAlert(ctx, "stalled", count, signal.StalledMessage(count, sample))
	}

	dms, err := s.eval.FindUnreadDirectMessages(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "  unread dm evaluation error: %v\n", err)
	} else if len(dms) > 0 {
		sampleSize := s.sampleSize
		if sampleSize > len(dms) {
			sampleSize = len(dms)
		}
		s.maybeAlert(ctx, "unread_dms", len(dms), signal.UnreadMessage(len(dms), dms[:sampleSize]))
	}
}

// maybeAlert consults the persisted debounce state before broadcasting.
func (s *Scheduler) maybeAlert(ctx context.Context, key string, count int, message string) {
	if !s.alertMgr.HasNotifiers() {
		return
	}
	ok, err := s.eval.ShouldSendAlert(ctx, key, count, s.minAlertInt)
	if err != nil {
		fmt.Fprintf(os.Stderr, "  alert state error for %s: %v\n", key, err)
		return
	}
	if !ok {
		return
	}
	if err := s.alertMgr.Broadcast(ctx, message); err != nil {
		fmt.Fprintf(os.Stderr, "  alert error for %s: %v\n", key, err)
		return
	}
	fmt.Fprintf(os.Stderr, "  alerted: %s (count %d)\n", key, count)
}
