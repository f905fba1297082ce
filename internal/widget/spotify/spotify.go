// Package spotify fetches the user's currently playing track.
package spotify

import (
	"context"
	"fmt"
	"strings"

	apperrors "github.com/alexjbarnes/ambient-dash/internal/errors"
	"github.com/alexjbarnes/ambient-dash/internal/models"
	"github.com/alexjbarnes/ambient-dash/internal/provider"
	"github.com/alexjbarnes/ambient-dash/internal/widget"
)

// NowPlayingURL is the Spotify Web API currently-playing endpoint.
const NowPlayingURL = "https://api.spotify.com/v1/me/player/currently-playing"

const (
	unknownArtist = "Unknown artist"
	unknownAlbum  = "Unknown album"
)

// TrackResponse is the currently-playing payload. Item is nil when
// nothing is loaded in the player, or for ad breaks.
type TrackResponse struct {
	IsPlaying            bool   `json:"is_playing"`
	ProgressMs           *int64 `json:"progress_ms"`
	CurrentlyPlayingType string `json:"currently_playing_type"`
	Item                 *Item  `json:"item"`
}

// Item is a track or, for podcasts, an episode.
type Item struct {
	Name         string       `json:"name"`
	Type         string       `json:"type"`
	DurationMs   int64        `json:"duration_ms"`
	Album        *Album       `json:"album"`
	Artists      []Artist     `json:"artists"`
	Show         *Show        `json:"show"`
	Images       []Image      `json:"images"`
	ExternalURLs ExternalURLs `json:"external_urls"`
}

type Album struct {
	Name   string  `json:"name"`
	Images []Image `json:"images"`
}

type Artist struct {
	Name string `json:"name"`
}

type Show struct {
	Name      string `json:"name"`
	Publisher string `json:"publisher"`
}

type Image struct {
	URL    string `json:"url"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
}

type ExternalURLs struct {
	Spotify string `json:"spotify"`
}

// Fetcher polls the currently-playing endpoint.
type Fetcher struct {
	tokens widget.TokenSource
	client *provider.Client
	url    string
}

// Option configures a Fetcher.
type Option func(*Fetcher)

// WithURL overrides the endpoint.
func WithURL(u string) Option {
	return func(f *Fetcher) { f.url = u }
}

// NewFetcher creates a Fetcher that authenticates with tokens.
func NewFetcher(tokens widget.TokenSource, client *provider.Client, opts ...Option) *Fetcher {
	f := &Fetcher{tokens: tokens, client: client, url: NowPlayingURL}
	for _, opt := range opts {
		opt(f)
	}

	return f
}

// Fetch returns the current track. It returns ErrNoContent when nothing
// is playing and an ErrAuthRequired error, after clearing the token,
// when Spotify rejects it.
func (f *Fetcher) Fetch(ctx context.Context) (*models.NowPlaying, error) {
	token, err := f.tokens.Token(ctx)
	if err != nil {
		return nil, err
	}

	var resp TrackResponse
	if err := f.client.GetJSON(ctx, f.url, token, &resp); err != nil {
		return nil, widget.AuthFailed(f.tokens, err)
	}

	if resp.Item == nil {
		return nil, fmt.Errorf("%w: no item in player", apperrors.ErrNoContent)
	}

	return resp.NowPlaying(), nil
}

// NowPlaying maps the response into the display model. Item must be set.
func (r *TrackResponse) NowPlaying() *models.NowPlaying {
	item := r.Item

	np := &models.NowPlaying{
		IsPlaying:  r.IsPlaying,
		Title:      provider.Normalize(item.Name),
		Artist:     unknownArtist,
		Album:      unknownAlbum,
		DurationMs: item.DurationMs,
		URL:        item.ExternalURLs.Spotify,
	}

	if r.ProgressMs != nil {
		np.ProgressMs = *r.ProgressMs
	}

	if np.DurationMs > 0 {
		np.Progress = min(max(float64(np.ProgressMs)/float64(np.DurationMs), 0), 1)
	}

	names := make([]string, 0, len(item.Artists))
	for _, a := range item.Artists {
		if a.Name != "" {
			names = append(names, a.Name)
		}
	}

	switch {
	case len(names) > 0:
		np.Artist = provider.Normalize(strings.Join(names, ", "))
	case item.Show != nil && item.Show.Name != "":
		np.Artist = provider.Normalize(item.Show.Name)
	}

	images := item.Images
	if item.Album != nil {
		if item.Album.Name != "" {
			np.Album = provider.Normalize(item.Album.Name)
		}

		images = item.Album.Images
	} else if item.Show != nil && item.Show.Publisher != "" {
		np.Album = provider.Normalize(item.Show.Publisher)
	}

	if len(images) > 0 {
		np.AlbumImageURL = images[0].URL
	}

	return np
}
