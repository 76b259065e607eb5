package collab

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"time"

	"github.com/lazypower/rekindle/internal/model"
)

// AnchorSource lists external events a shared-activity suggestion can use.
type AnchorSource interface {
	AnchorEvents(ctx context.Context, userID string, from, to time.Time) ([]model.AnchorEvent, error)
}

// NoAnchors is the AnchorSource used when no event feed is configured.
type NoAnchors struct{}

func (NoAnchors) AnchorEvents(context.Context, string, time.Time, time.Time) ([]model.AnchorEvent, error) {
	return nil, nil
}

// HTTPAvailability reads busy time from GET {base}/users/{id}/busy.
type HTTPAvailability struct {
	client *Client
}

func NewHTTPAvailability(c *Client) *HTTPAvailability {
	return &HTTPAvailability{client: c}
}

type busyResponse struct {
	Busy []model.BusyInterval `json:"busy"`
}

func (a *HTTPAvailability) BusyIntervals(ctx context.Context, userID string, from, to time.Time) ([]model.BusyInterval, error) {
	data, err := a.client.Get(ctx, "/users/"+url.PathEscape(userID)+"/busy", windowParams(from, to))
	if err != nil {
		return nil, err
	}
	var resp busyResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("decode busy intervals: %w", err)
	}
	for i, b := range resp.Busy {
		if !b.End.After(b.Start) {
			return nil, fmt.Errorf("busy interval %d: end %s not after start %s", i, b.End, b.Start)
		}
	}
	return resp.Busy, nil
}

// HTTPAnchors reads events from GET {base}/users/{id}/events.
type HTTPAnchors struct {
	client *Client
}

func NewHTTPAnchors(c *Client) *HTTPAnchors {
	return &HTTPAnchors{client: c}
}

type eventsResponse struct {
	Events []model.AnchorEvent `json:"events"`
}

func (a *HTTPAnchors) AnchorEvents(ctx context.Context, userID string, from, to time.Time) ([]model.AnchorEvent, error) {
	data, err := a.client.Get(ctx, "/users/"+url.PathEscape(userID)+"/events", windowParams(from, to))
	if err != nil {
		return nil, err
	}
	var resp eventsResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("decode anchor events: %w", err)
	}
	return resp.Events, nil
}
