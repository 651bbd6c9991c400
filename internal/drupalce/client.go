// Package drupalce fetches pages and menus from the CMS on behalf of a
// rendering session. It classifies page responses into redirect, hard error,
// soft error and success, keeps the per-path page cells up to date and feeds
// CMS messages into the session message queue.
package drupalce

import (
	"context"
	"errors"
	"net/http"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/drupal-ce/drupal-ce/internal/config"
	"github.com/drupal-ce/drupal-ce/internal/fetchopts"
	"github.com/drupal-ce/drupal-ce/internal/messages"
	"github.com/drupal-ce/drupal-ce/internal/state"
)

// Navigator performs the navigation requested by a CMS redirect payload.
type Navigator interface {
	Navigate(ctx context.Context, redirect Redirect) error
}

// ResponseSink lets the orchestrator touch the outbound response of the
// current render: the status for soft errors and pass-through headers.
type ResponseSink interface {
	SetStatus(code int)
	SetHeader(key, value string)
}

// Render bundles the per-render capabilities: the session owning page cells
// and messages, the inbound request headers, navigation and the response.
// Response may be nil when no outbound response exists.
type Render struct {
	Session   *state.Session
	Inbound   http.Header
	Navigator Navigator
	Response  ResponseSink
}

// CallOptions are the per-call knobs of FetchPage and FetchMenu.
type CallOptions struct {
	Fetch fetchopts.Options
	// OnError replaces the default error handling when set.
	OnError func(error)
}

// Client orchestrates page and menu fetches.
type Client struct {
	endpoints config.Endpoints
	options   *fetchopts.Builder
	fetcher   Fetcher
	queue     *messages.Queue
	logger    *logrus.Logger
	inflight  singleflight.Group
}

// NewClient wires the orchestrators. Server-side fetches go to
// Endpoints.ServerBaseURL so an internal CMS hostname can be used.
func NewClient(ep config.Endpoints, fetcher Fetcher, queue *messages.Queue, logger *logrus.Logger) (*Client, error) {
	if fetcher == nil {
		return nil, errors.New("fetcher is required")
	}
	if queue == nil {
		queue = messages.NewQueue()
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	builder, err := fetchopts.NewBuilder(ep.ServerBaseURL(), ep.FetchOptions, ep.FetchProxyHeaders)
	if err != nil {
		return nil, err
	}
	return &Client{
		endpoints: ep,
		options:   builder,
		fetcher:   fetcher,
		queue:     queue,
		logger:    logger,
	}, nil
}

// Endpoints returns the resolved endpoint set.
func (c *Client) Endpoints() config.Endpoints {
	return c.endpoints
}

// Messages returns the queue the client pushes to.
func (c *Client) Messages() *messages.Queue {
	return c.queue
}

// fetch collapses concurrent identical requests of one session into a single
// upstream call. The shared call is detached from any one caller's
// cancellation; each caller stops waiting when its own ctx is done.
func (c *Client) fetch(ctx context.Context, sess *state.Session, path string, opts fetchopts.Options) FetchResult {
	flightKey := sess.ID + "\x00" + opts.Key + "\x00" + opts.BaseURL + "\x00" + path + "?" + opts.Query.Encode()
	shared := context.WithoutCancel(ctx)
	ch := c.inflight.DoChan(flightKey, func() (interface{}, error) {
		return c.fetcher.Fetch(shared, path, opts), nil
	})
	select {
	case res := <-ch:
		return res.Val.(FetchResult)
	case <-ctx.Done():
		return FetchResult{Err: &FetchError{Message: ctx.Err().Error()}}
	}
}
