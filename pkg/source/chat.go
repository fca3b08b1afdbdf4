package source

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"
)

// DefaultChatAPIURL is the Slack-compatible Web API endpoint.
const DefaultChatAPIURL = "https://slack.com/api"

// Chat collects messages from a Slack-style workspace: every channel the
// token can see, direct messages included. Channel metadata rides along on
// each item so the ingester can keep the chat tables current.
type Chat struct {
	client  *http.Client
	baseURL string
	token   string
	limit   int

	mu     sync.Mutex
	lastTS map[string]string // channel id -> newest ts already collected
}

// NewChat creates a new chat collector. baseURL other than
// DefaultChatAPIURL is mainly for tests; limit bounds messages per channel
// per poll (default 200).
func NewChat(token, baseURL string, limit int) *Chat {
	if baseURL == "" {
		baseURL = DefaultChatAPIURL
	}
	if limit <= 0 {
		limit = 200
	}
	return &Chat{
		client:  &http.Client{Timeout: 20 * time.Second},
		baseURL: baseURL,
		token:   token,
		limit:   limit,
		lastTS:  make(map[string]string),
	}
}

func (c *Chat) Name() SourceType { return SourceChat }

func (c *Chat) Collect(ctx context.Context) ([]Item, error) {
	channels, err := c.listChannels(ctx)
	if err != nil {
		return nil, fmt.Errorf("chat channels: %w", err)
	}

	var items []Item
	var errs []error
	for _, ch := range channels {
		msgs, err := c.fetchHistory(ctx, ch.ID)
		if err != nil {
			errs = append(errs, &IntegrationError{Channel: ch.Name, Err: err})
			continue
		}

		ref := ChannelRef{ID: ch.ID, Name: ch.Name, IsDM: ch.IsIM}
		newest := c.newestTS(ch.ID)
		for _, m := range msgs {
			created := tsToEpoch(m.TS)
			items = append(items, Item{
				Source:    SourceChat,
				SourceID:  ch.ID + ":" + m.TS,
				Body:      m.Text,
				CreatedAt: created,
				UpdatedAt: created,
				Author:    m.User,
				Channel:   &ref,
				TS:        m.TS,
			})
			if m.TS > newest {
				newest = m.TS
			}
		}
		c.setNewestTS(ch.ID, newest)
	}
	return items, errors.Join(errs...)
}

type chatChannel struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	User      string `json:"user"`
	IsIM      bool   `json:"is_im"`
	IsPrivate bool   `json:"is_private"`
}

type chatMessage struct {
	TS      string `json:"ts"`
	User    string `json:"user"`
	Text    string `json:"text"`
	Subtype string `json:"subtype"`
}

func (c *Chat) listChannels(ctx context.Context) ([]chatChannel, error) {
	var channels []chatChannel
	cursor := ""
	for {
		q := url.Values{
			"limit": {"200"},
			"types": {"public_channel,private_channel,im"},
		}
		if cursor != "" {
			q.Set("cursor", cursor)
		}

		var resp struct {
			OK       bool          `json:"ok"`
			Error    string        `json:"error"`
			Channels []chatChannel `json:"channels"`
			Metadata struct {
				NextCursor string `json:"next_cursor"`
			} `json:"response_metadata"`
		}
		if err := c.getJSON(ctx, "/conversations.list?"+q.Encode(), &resp); err != nil {
			return nil, err
		}
		if !resp.OK {
			return nil, fmt.Errorf("conversations.list: %s", resp.Error)
		}

		for _, ch := range resp.Channels {
			if ch.Name == "" {
				ch.Name = ch.User // DMs carry the peer user instead of a name
			}
			channels = append(channels, ch)
		}

		cursor = resp.Metadata.NextCursor
		if cursor == "" {
			return channels, nil
		}
	}
}

func (c *Chat) fetchHistory(ctx context.Context, channelID string) ([]chatMessage, error) {
	q := url.Values{
		"channel": {channelID},
		"limit":   {strconv.Itoa(c.limit)},
	}
	if oldest := c.newestTS(channelID); oldest != "" {
		q.Set("oldest", oldest)
	}

	var resp struct {
		OK       bool          `json:"ok"`
		Error    string        `json:"error"`
		Messages []chatMessage `json:"messages"`
	}
	if err := c.getJSON(ctx, "/conversations.history?"+q.Encode(), &resp); err != nil {
		return nil, err
	}
	if !resp.OK {
		return nil, fmt.Errorf("conversations.history %s: %s", channelID, resp.Error)
	}
	return resp.Messages, nil
}

// getJSON performs an authenticated GET, honouring Retry-After on 429 once
// per call.
func (c *Chat) getJSON(ctx context.Context, path string, out any) error {
	for attempt := 0; ; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
		if err != nil {
			return fmt.Errorf("create chat request: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+c.token)

		resp, err := c.client.Do(req)
		if err != nil {
			return fmt.Errorf("chat request: %w", err)
		}

		if resp.StatusCode == http.StatusTooManyRequests && attempt == 0 {
			retryAfter, _ := strconv.Atoi(resp.Header.Get("Retry-After"))
			resp.Body.Close()
			if retryAfter <= 0 {
				retryAfter = 30
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Duration(retryAfter) * time.Second):
			}
			continue
		}

		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("chat api status %d", resp.StatusCode)
		}
		return json.NewDecoder(resp.Body).Decode(out)
	}
}

func (c *Chat) newestTS(channelID string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastTS[channelID]
}

func (c *Chat) setNewestTS(channelID, ts string) {
	if ts == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastTS[channelID] = ts
}

// tsToEpoch converts a "1725432100.000200" chat timestamp to epoch seconds.
func tsToEpoch(ts string) *int64 {
	f, err := strconv.ParseFloat(ts, 64)
	if err != nil {
		return nil
	}
	return epoch(int64(f))
}
