package source

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"
)

// DefaultTrackerAPIURL is the ClickUp-compatible API endpoint.
const DefaultTrackerAPIURL = "https://api.clickup.com/api/v2"

// Tracker collects tasks from a ClickUp-style task tracker folder. Each task
// carries its lifecycle status, which the ingester mirrors into the status
// store.
type Tracker struct {
	client   *http.Client
	baseURL  string
	token    string
	folderID string
}

// NewTracker creates a new tracker collector.
func NewTracker(token, folderID, baseURL string) *Tracker {
	if baseURL == "" {
		baseURL = DefaultTrackerAPIURL
	}
	return &Tracker{
		client:   &http.Client{Timeout: 15 * time.Second},
		baseURL:  baseURL,
		token:    token,
		folderID: folderID,
	}
}

func (t *Tracker) Name() SourceType { return SourceTracker }

func (t *Tracker) Collect(ctx context.Context) ([]Item, error) {
	reqURL := fmt.Sprintf("%s/folder/%s/task", t.baseURL, t.folderID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create tracker request: %w", err)
	}
	req.Header.Set("Authorization", t.token)

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch tracker tasks: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("tracker status %d", resp.StatusCode)
	}

	var listing struct {
		Tasks []trackerTask `json:"tasks"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&listing); err != nil {
		return nil, fmt.Errorf("decode tracker tasks: %w", err)
	}

	var items []Item
	for _, task := range listing.Tasks {
		items = append(items, Item{
			Source:    SourceTracker,
			SourceID:  task.ID,
			Title:     task.Name,
			Body:      task.Description,
			CreatedAt: millisToEpoch(task.DateCreated),
			UpdatedAt: millisToEpoch(task.DateUpdated),
			Author:    task.creator(),
			URL:       task.webURL(),
			Status:    task.Status.Status,
		})
	}
	return items, nil
}

type trackerTask struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	DateCreated string `json:"date_created"`
	DateUpdated string `json:"date_updated"`
	URL         string `json:"url"`
	Status      struct {
		Status string `json:"status"`
	} `json:"status"`
	Creator struct {
		Username string `json:"username"`
	} `json:"creator"`
}

func (t trackerTask) creator() string {
	return t.Creator.Username
}

func (t trackerTask) webURL() string {
	if t.URL != "" {
		return t.URL
	}
	return "https://app.clickup.com/t/" + t.ID
}

// millisToEpoch parses the tracker's millisecond string timestamps.
func millisToEpoch(ms string) *int64 {
	v, err := strconv.ParseInt(ms, 10, 64)
	if err != nil {
		return nil
	}
	return epoch(v / 1000)
}
