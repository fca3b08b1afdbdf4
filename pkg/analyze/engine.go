package analyze

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/ivlasov/teamradar/internal/store"
)

// Config holds the analysis knobs. DuplicateThreshold is expected to sit
// above RelatedThreshold; the engine does not validate this and degrades to
// classifying every qualifying pair as duplicate when they are inverted.
type Config struct {
	DuplicateThreshold float64
	RelatedThreshold   float64
	MinTokenLen        int
	MaxItems           int
	MaxFeatures        int
}

// Engine computes pairwise similarity over recently ingested items, records
// duplicate/related links, groups items into clusters and refreshes the
// per-item status heuristic.
type Engine struct {
	store store.Store
	cfg   Config
}

// NewEngine creates an analysis engine, filling zero config fields with the
// defaults (0.78 / 0.52 thresholds, 2-rune tokens, 5000-item window, 50000
// vocabulary cap).
func NewEngine(s store.Store, cfg Config) *Engine {
	if cfg.DuplicateThreshold == 0 {
		cfg.DuplicateThreshold = 0.78
	}
	if cfg.RelatedThreshold == 0 {
		cfg.RelatedThreshold = 0.52
	}
	if cfg.MinTokenLen == 0 {
		cfg.MinTokenLen = 2
	}
	if cfg.MaxItems == 0 {
		cfg.MaxItems = 5000
	}
	if cfg.MaxFeatures == 0 {
		cfg.MaxFeatures = 50000
	}
	return &Engine{store: s, cfg: cfg}
}

// ClusterCutoff is the distance below which two clusters may still merge.
// Clustering granularity is deliberately tied to the related threshold:
// clusters approximate connected components of "related-or-closer" items.
func (e *Engine) ClusterCutoff() float64 {
	return 1 - e.cfg.RelatedThreshold
}

// Run executes one full analysis pass: similarity links, cluster assignment,
// status heuristic. An empty item window is a no-op. Link writes within a run
// are not transactional with each other; a failure later in the run never
// rolls back links already committed.
func (e *Engine) Run(ctx context.Context) error {
	startedAt := time.Now().Unix()

	rows, err := e.store.FetchItemsForAnalysis(ctx, e.cfg.MaxItems)
	if err != nil {
		return fmt.Errorf("fetch items: %w", err)
	}
	if len(rows) == 0 {
		return nil
	}

	runID := uuid.New().String()[:8]
	itemIDs, corpus := buildCorpus(rows)
	n := len(itemIDs)
	fmt.Fprintf(os.Stderr, "  analyze %s: %d items\n", runID, n)

	filtered := make([]string, n)
	for i, text := range corpus {
		filtered[i] = dropShortTokens(text, e.cfg.MinTokenLen)
	}

	vectors := NewVectorizer(e.cfg.MaxFeatures).FitTransform(filtered)

	sim := make([][]float64, n)
	for i := range sim {
		sim[i] = make([]float64, n)
		sim[i][i] = 1
	}
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			s := cosine(vectors[i], vectors[j])
			sim[i][j], sim[j][i] = s, s
		}
	}

	linked := 0
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			kind, ok := e.linkKind(sim[i][j])
			if !ok {
				continue
			}
			if err := e.store.RecordLink(ctx, itemIDs[i], itemIDs[j], kind, sim[i][j], nil); err != nil {
				return fmt.Errorf("record %s link: %w", kind, err)
			}
			linked++
		}
	}

	if n >= 3 {
		if err := e.assignClusters(ctx, itemIDs, sim); err != nil {
			return fmt.Errorf("assign clusters: %w", err)
		}
	}

	for i := 0; i < n; i++ {
		priority := textPriority(corpus[i])
		upd := store.StatusUpdate{Priority: &priority, LastSeen: &startedAt}
		if err := e.store.SetStatus(ctx, itemIDs[i], upd); err != nil {
			return fmt.Errorf("set status %d: %w", itemIDs[i], err)
		}
	}

	fmt.Fprintf(os.Stderr, "  analyze %s: %d links written\n", runID, linked)
	return nil
}

// linkKind classifies a similarity score. The duplicate check runs first, so
// a pair above both thresholds is recorded only as duplicate. Both bounds are
// inclusive.
func (e *Engine) linkKind(score float64) (store.LinkKind, bool) {
	switch {
	case score >= e.cfg.DuplicateThreshold:
		return store.LinkDuplicate, true
	case score >= e.cfg.RelatedThreshold:
		return store.LinkRelated, true
	default:
		return "", false
	}
}

// assignClusters replaces the whole cluster table with the grouping from this
// run. The diagonal is forced to exactly zero before clustering to guard
// against float drift in self-similarity.
func (e *Engine) assignClusters(ctx context.Context, itemIDs []int64, sim [][]float64) error {
	n := len(itemIDs)
	dist := make([][]float64, n)
	for i := range dist {
		dist[i] = make([]float64, n)
		for j := range dist[i] {
			dist[i][j] = 1 - sim[i][j]
		}
		dist[i][i] = 0
	}

	labels := averageLinkage(dist, e.ClusterCutoff())

	labelByItem := make(map[int64]int64, n)
	for i, id := range itemIDs {
		labelByItem[id] = labels[i]
	}
	return e.store.ReplaceClusters(ctx, labelByItem, nil)
}

// buildCorpus concatenates each item's trimmed title and body with a blank
// line. Missing text fields degrade to empty strings, never errors.
func buildCorpus(rows []store.AnalysisRow) ([]int64, []string) {
	itemIDs := make([]int64, len(rows))
	corpus := make([]string, len(rows))
	for i, r := range rows {
		itemIDs[i] = r.ID
		title := strings.TrimSpace(r.Title)
		body := strings.TrimSpace(r.Body)
		corpus[i] = strings.TrimSpace(title + "\n\n" + body)
	}
	return itemIDs, corpus
}

// dropShortTokens removes whitespace-separated tokens shorter than minLen
// runes and rejoins the rest with single spaces.
func dropShortTokens(text string, minLen int) string {
	fields := strings.Fields(text)
	kept := fields[:0]
	for _, f := range fields {
		if utf8.RuneCountInString(f) >= minLen {
			kept = append(kept, f)
		}
	}
	return strings.Join(kept, " ")
}

// textPriority derives a priority from the unfiltered corpus text length:
// longer items are assumed to carry more substance, so priority falls (more
// urgent) as text grows, bottoming out at 1. 999 is the lowest-urgency
// sentinel for empty text. A coarse placeholder, kept for compatibility.
func textPriority(text string) int {
	bucket := utf8.RuneCountInString(text) / 500
	if bucket > 998 {
		bucket = 998
	}
	return 999 - bucket
}
