package source

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChatCollect(t *testing.T) {
	var historyCalls []string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "Bearer xoxb-test", r.Header.Get("Authorization"))

		switch r.URL.Path {
		case "/conversations.list":
			fmt.Fprint(w, `{
				"ok": true,
				"channels": [
					{"id": "C1", "name": "general"},
					{"id": "D1", "user": "U42", "is_im": true}
				]
			}`)
		case "/conversations.history":
			historyCalls = append(historyCalls, r.URL.Query().Get("channel")+"|oldest="+r.URL.Query().Get("oldest"))
			switch r.URL.Query().Get("channel") {
			case "C1":
				fmt.Fprint(w, `{"ok": true, "messages": [
					{"ts": "100.000100", "user": "U1", "text": "deploy done"}
				]}`)
			default:
				fmt.Fprint(w, `{"ok": true, "messages": [
					{"ts": "200.000100", "user": "U42", "text": "got a minute?"}
				]}`)
			}
		default:
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
	}))
	defer srv.Close()

	c := NewChat("xoxb-test", srv.URL, 0)
	items, err := c.Collect(context.Background())
	require.NoError(t, err)
	require.Len(t, items, 2)

	assert.Equal(t, SourceChat, items[0].Source)
	assert.Equal(t, "C1:100.000100", items[0].SourceID)
	assert.Equal(t, "deploy done", items[0].Body)
	assert.Equal(t, "U1", items[0].Author)
	require.NotNil(t, items[0].CreatedAt)
	assert.Equal(t, int64(100), *items[0].CreatedAt)
	require.NotNil(t, items[0].Channel)
	assert.Equal(t, "general", items[0].Channel.Name)
	assert.False(t, items[0].Channel.IsDM)

	// DM channels carry the peer user as their name.
	require.NotNil(t, items[1].Channel)
	assert.Equal(t, "U42", items[1].Channel.Name)
	assert.True(t, items[1].Channel.IsDM)

	// A second poll resumes from the newest timestamp per channel.
	_, err = c.Collect(context.Background())
	require.NoError(t, err)
	assert.Contains(t, historyCalls, "C1|oldest=")
	assert.Contains(t, historyCalls, "C1|oldest=100.000100")
	assert.Contains(t, historyCalls, "D1|oldest=200.000100")
}

func TestChatCollectPartialFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/conversations.list":
			fmt.Fprint(w, `{"ok": true, "channels": [
				{"id": "C1", "name": "general"},
				{"id": "C2", "name": "broken"}
			]}`)
		case "/conversations.history":
			if r.URL.Query().Get("channel") == "C2" {
				fmt.Fprint(w, `{"ok": false, "error": "channel_not_found"}`)
				return
			}
			fmt.Fprint(w, `{"ok": true, "messages": [
				{"ts": "100.000100", "user": "U1", "text": "deploy done"}
			]}`)
		}
	}))
	defer srv.Close()

	c := NewChat("xoxb-test", srv.URL, 0)
	items, err := c.Collect(context.Background())

	// The healthy channel's messages come back alongside the error.
	require.Len(t, items, 1)
	require.Error(t, err)
	var ie *IntegrationError
	require.ErrorAs(t, err, &ie)
	assert.Equal(t, "broken", ie.Channel)
}

func TestChatCollectAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"ok": false, "error": "invalid_auth"}`)
	}))
	defer srv.Close()

	c := NewChat("bad", srv.URL, 0)
	_, err := c.Collect(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid_auth")
}

func TestTrackerCollect(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/folder/123/task", r.URL.Path)
		assert.Equal(t, "pk_test", r.Header.Get("Authorization"))
		fmt.Fprint(w, `{"tasks": [
			{
				"id": "abc1",
				"name": "Fix login redirect",
				"description": "Users end up on a blank page.",
				"date_created": "1725432100000",
				"date_updated": "1725518500000",
				"status": {"status": "in progress"},
				"creator": {"username": "dana"}
			},
			{
				"id": "abc2",
				"name": "No url task",
				"date_created": "bogus"
			}
		]}`)
	}))
	defer srv.Close()

	tr := NewTracker("pk_test", "123", srv.URL)
	items, err := tr.Collect(context.Background())
	require.NoError(t, err)
	require.Len(t, items, 2)

	assert.Equal(t, SourceTracker, items[0].Source)
	assert.Equal(t, "abc1", items[0].SourceID)
	assert.Equal(t, "Fix login redirect", items[0].Title)
	assert.Equal(t, "in progress", items[0].Status)
	assert.Equal(t, "dana", items[0].Author)
	require.NotNil(t, items[0].CreatedAt)
	assert.Equal(t, int64(1725432100), *items[0].CreatedAt)

	// Missing fields degrade instead of failing the whole poll.
	assert.Nil(t, items[1].CreatedAt)
	assert.Equal(t, "https://app.clickup.com/t/abc2", items[1].URL)
}

func TestTrackerCollectHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	tr := NewTracker("bad", "123", srv.URL)
	_, err := tr.Collect(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")
}

func TestTsToEpoch(t *testing.T) {
	ts := tsToEpoch("1725432100.000200")
	require.NotNil(t, ts)
	assert.Equal(t, int64(1725432100), *ts)
	assert.Nil(t, tsToEpoch("not-a-ts"))
}

func TestMillisToEpoch(t *testing.T) {
	ms := millisToEpoch("1725432100000")
	require.NotNil(t, ms)
	assert.Equal(t, int64(1725432100), *ms)
	assert.Nil(t, millisToEpoch(""))
}
