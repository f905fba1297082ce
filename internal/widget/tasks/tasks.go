// Package tasks fetches open items from the user's default Google Tasks
// list.
package tasks

import (
	"context"
	"fmt"
	"net/url"
	"strconv"

	"github.com/alexjbarnes/ambient-dash/internal/models"
	"github.com/alexjbarnes/ambient-dash/internal/provider"
	"github.com/alexjbarnes/ambient-dash/internal/widget"
)

// ListURL is the Tasks API endpoint for the default list.
const ListURL = "https://tasks.googleapis.com/tasks/v1/lists/@default/tasks"

// DefaultMaxResults matches what fits in the widget row.
const DefaultMaxResults = 5

// ListResponse is the tasks.list payload. Items is absent for an empty
// list.
type ListResponse struct {
	Kind  string     `json:"kind"`
	Items []TaskItem `json:"items"`
}

type TaskItem struct {
	ID     string `json:"id"`
	Title  string `json:"title"`
	Status string `json:"status"`
	Due    string `json:"due"`
	Notes  string `json:"notes"`
	Hidden bool   `json:"hidden"`
}

// Fetcher polls the default task list.
type Fetcher struct {
	tokens     widget.TokenSource
	client     *provider.Client
	url        string
	maxResults int
}

// Option configures a Fetcher.
type Option func(*Fetcher)

// WithURL overrides the endpoint.
func WithURL(u string) Option {
	return func(f *Fetcher) { f.url = u }
}

// WithMaxResults sets how many tasks are requested.
func WithMaxResults(n int) Option {
	return func(f *Fetcher) { f.maxResults = n }
}

// NewFetcher creates a Fetcher that authenticates with tokens.
func NewFetcher(tokens widget.TokenSource, client *provider.Client, opts ...Option) *Fetcher {
	f := &Fetcher{tokens: tokens, client: client, url: ListURL, maxResults: DefaultMaxResults}
	for _, opt := range opts {
		opt(f)
	}

	return f
}

func (f *Fetcher) requestURL() (string, error) {
	u, err := url.Parse(f.url)
	if err != nil {
		return "", fmt.Errorf("parsing tasks url: %w", err)
	}

	q := u.Query()
	q.Set("showCompleted", "false")
	q.Set("maxResults", strconv.Itoa(f.maxResults))
	u.RawQuery = q.Encode()

	return u.String(), nil
}

// Fetch returns the open tasks. An empty list is data, not an error.
func (f *Fetcher) Fetch(ctx context.Context) (*models.TaskList, error) {
	token, err := f.tokens.Token(ctx)
	if err != nil {
		return nil, err
	}

	reqURL, err := f.requestURL()
	if err != nil {
		return nil, err
	}

	var resp ListResponse
	if err := f.client.GetJSON(ctx, reqURL, token, &resp); err != nil {
		return nil, widget.AuthFailed(f.tokens, err)
	}

	return resp.TaskList(), nil
}

// TaskList maps the response into the display model, skipping completed
// and hidden items the API may still return.
func (r *ListResponse) TaskList() *models.TaskList {
	list := &models.TaskList{Tasks: make([]models.Task, 0, len(r.Items))}

	for _, item := range r.Items {
		if item.Status == "completed" || item.Hidden {
			continue
		}

		list.Tasks = append(list.Tasks, models.Task{
			ID:    item.ID,
			Title: provider.Normalize(item.Title),
			Due:   item.Due,
			Notes: provider.Normalize(item.Notes),
		})
	}

	return list
}
