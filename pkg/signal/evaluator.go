// Package signal evaluates the store for items that need human attention:
// stalled work and un-actioned direct messages. Alert decisions are debounced
// through persisted per-key state so a fixed timer cannot cause alert storms.
package signal

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/ivlasov/teamradar/internal/store"
)

// maxResults caps every signal query.
const maxResults = 500

// Evaluator answers alerting questions against the shared store. It holds no
// state of its own; debounce state lives in the store's job_state table.
type Evaluator struct {
	store store.Store
}

func NewEvaluator(s store.Store) *Evaluator {
	return &Evaluator{store: s}
}

// DetectStalled returns items whose effective last activity (status.last_seen
// when present, else the item's updated_at) is older than the given number of
// days. Muted items are excluded. Most urgent first, newest id breaking ties.
func (e *Evaluator) DetectStalled(ctx context.Context, daysWithoutUpdate int) ([]int64, error) {
	cutoff := time.Now().Unix() - int64(daysWithoutUpdate)*86400
	ids, err := e.store.StalledItems(ctx, cutoff, maxResults)
	if err != nil {
		return nil, fmt.Errorf("detect stalled: %w", err)
	}
	return ids, nil
}

// FindUnreadDirectMessages returns non-muted items from direct-message
// channels, most recent first.
func (e *Evaluator) FindUnreadDirectMessages(ctx context.Context) ([]int64, error) {
	ids, err := e.store.UnreadDirectMessages(ctx, maxResults)
	if err != nil {
		return nil, fmt.Errorf("find unread dms: %w", err)
	}
	return ids, nil
}

// StalledStats returns the stalled count plus a small ordered sample for
// compact alert messages.
func (e *Evaluator) StalledStats(ctx context.Context, days, sampleSize int) (int, []int64, error) {
	ids, err := e.DetectStalled(ctx, days)
	if err != nil {
		return 0, nil, err
	}
	if sampleSize < 0 {
		sampleSize = 0
	}
	if sampleSize > len(ids) {
		sampleSize = len(ids)
	}
	return len(ids), ids[:sampleSize], nil
}

// alertState is the persisted debounce record for one alert key.
type alertState struct {
	LastSent  int64 `json:"last_sent"`
	LastCount int   `json:"last_count"`
}

// ShouldSendAlert decides whether an alert keyed by key may fire now. It
// returns true, and advances the persisted state, when the minimum interval
// has elapsed since the last send or the count differs from the last sent
// count; a change in magnitude bypasses the cool-down. Idempotent for
// identical inputs within the cool-down window.
func (e *Evaluator) ShouldSendAlert(ctx context.Context, key string, currentCount int, minInterval time.Duration) (bool, error) {
	stateKey := "alert:" + key
	now := time.Now().Unix()

	raw, ok, err := e.store.KVGet(ctx, stateKey)
	if err != nil {
		return false, fmt.Errorf("read alert state %s: %w", key, err)
	}

	if ok {
		var st alertState
		if err := json.Unmarshal([]byte(raw), &st); err == nil {
			elapsed := now-st.LastSent >= int64(minInterval.Seconds())
			if !elapsed && currentCount == st.LastCount {
				return false, nil
			}
		}
		// Unparseable state counts as never-sent.
	}

	b, err := json.Marshal(alertState{LastSent: now, LastCount: currentCount})
	if err != nil {
		return false, fmt.Errorf("marshal alert state %s: %w", key, err)
	}
	if err := e.store.KVSet(ctx, stateKey, string(b)); err != nil {
		return false, fmt.Errorf("write alert state %s: %w", key, err)
	}
	return true, nil
}

// StalledMessage builds the plain-text summary handed to notifiers,
// e.g. "Stalled items: 12. Examples: #4, #9".
func StalledMessage(count int, sample []int64) string {
	if count == 0 {
		return ""
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "Stalled items: %d.", count)
	if len(sample) > 0 {
		sb.WriteString(" Examples: ")
		for i, id := range sample {
			if i > 0 {
				sb.WriteString(", ")
			}
			fmt.Fprintf(&sb, "#%d", id)
		}
	}
	return sb.String()
}

// UnreadMessage builds the plain-text summary for un-actioned DMs.
func UnreadMessage(count int, sample []int64) string {
	if count == 0 {
		return ""
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "Unread direct messages: %d.", count)
	if len(sample) > 0 {
		sb.WriteString(" Examples: ")
		for i, id := range sample {
			if i > 0 {
				sb.WriteString(", ")
			}
			fmt.Fprintf(&sb, "#%d", id)
		}
	}
	return sb.String()
}
