package drupalce

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/drupal-ce/drupal-ce/internal/logging"
	"github.com/drupal-ce/drupal-ce/internal/messages"
	"github.com/drupal-ce/drupal-ce/internal/metrics"
)

// Redirect is the redirect instruction a CMS page payload may carry.
type Redirect struct {
	URL        string `json:"url"`
	External   bool   `json:"external"`
	StatusCode int    `json:"statusCode"`
}

// Page is the cached result of one page fetch. Data is the payload to render;
// ErrorStatus/ErrorBody are set when it came from an upstream error response.
type Page struct {
	Data        json.RawMessage `json:"data"`
	Messages    *messages.Set   `json:"messages,omitempty"`
	ErrorStatus int             `json:"errorStatus,omitempty"`
	ErrorBody   json.RawMessage `json:"errorBody,omitempty"`
}

// pageEnvelope picks the fields the orchestrator interprets out of a payload.
type pageEnvelope struct {
	Redirect *Redirect     `json:"redirect"`
	Messages *messages.Set `json:"messages"`
}

// PageKey is the state key of the page cell for path.
func PageKey(path string) string {
	return "page-" + path
}

// FetchPage fetches the CMS page at path and classifies the response. It
// returns (nil, nil) after a redirect was handed to the navigator, a
// *PageFetchError when no renderable content exists, and the page otherwise.
func (c *Client) FetchPage(ctx context.Context, r *Render, path string, call CallOptions) (*Page, error) {
	key := PageKey(path)
	if err := r.Session.Init(ctx, key, nil); err != nil {
		return nil, fmt.Errorf("init page state: %w", err)
	}

	fetchOpts := call.Fetch
	fetchOpts.Key = key
	opts := c.options.Build(fetchOpts, r.Inbound)
	if c.endpoints.AddRequestContentFormat != "" {
		opts.SetQuery("_content_format", c.endpoints.AddRequestContentFormat)
	}
	if c.endpoints.AddRequestFormat {
		opts.SetQuery("_format", "json")
	}

	result := c.fetch(ctx, r.Session, path, opts)
	fields := logging.FetchFields("fetch_page", key, r.Session.ID)

	if result.Err == nil {
		if envelope := decodeEnvelope(result.Data); envelope.Redirect != nil {
			metrics.PageFetchTotal.WithLabelValues(metrics.OutcomeRedirect).Inc()
			fields["redirect"] = envelope.Redirect.URL
			fields["status"] = envelope.Redirect.StatusCode
			c.logger.WithFields(fields).Info("page_redirect")
			if r.Navigator == nil {
				return nil, fmt.Errorf("page %s: redirect to %s without navigator", path, envelope.Redirect.URL)
			}
			return nil, r.Navigator.Navigate(ctx, *envelope.Redirect)
		}
	}

	var page Page
	if result.Err != nil {
		fetchErr := result.Err
		if !hasRenderableContent(fetchErr.Data) || c.endpoints.CustomErrorPages {
			metrics.PageFetchTotal.WithLabelValues(metrics.OutcomeHardError).Inc()
			pageErr := &PageFetchError{
				Path:    path,
				Status:  fetchErr.Status,
				Message: fetchErr.Message,
				Body:    fetchErr.Data,
			}
			fields["upstream_status"] = fetchErr.Status
			c.logger.WithFields(fields).WithError(pageErr).Error("page_fetch_failed")
			if call.OnError != nil {
				call.OnError(pageErr)
				return nil, nil
			}
			return nil, pageErr
		}

		metrics.PageFetchTotal.WithLabelValues(metrics.OutcomeSoftError).Inc()
		soft := &SoftPageError{Path: path, Status: fetchErr.Status}
		fields["upstream_status"] = fetchErr.Status
		c.logger.WithFields(fields).WithError(soft).Warn("page_soft_error")
		if r.Response != nil {
			r.Response.SetStatus(fetchErr.Status)
		}
		page = Page{Data: fetchErr.Data, ErrorStatus: fetchErr.Status, ErrorBody: fetchErr.Data}
	} else {
		metrics.PageFetchTotal.WithLabelValues(metrics.OutcomeSuccess).Inc()
		page = Page{Data: result.Data}
	}

	c.passThroughHeaders(r, result.Header)

	if envelope := decodeEnvelope(page.Data); envelope.Messages != nil {
		page.Messages = envelope.Messages
		if _, err := c.queue.Push(ctx, r.Session, *envelope.Messages); err != nil {
			c.logger.WithFields(fields).WithError(err).Warn("push_messages_failed")
		}
	}

	if err := r.Session.Save(ctx, key, page); err != nil {
		return nil, fmt.Errorf("save page state: %w", err)
	}
	return &page, nil
}

// GetPage returns the cached page for path; false when the cell is missing or
// still pending.
func (c *Client) GetPage(ctx context.Context, r *Render, path string) (*Page, bool, error) {
	var page *Page
	found, err := r.Session.Load(ctx, PageKey(path), &page)
	if err != nil || !found || page == nil {
		return nil, false, err
	}
	return page, true, nil
}

func (c *Client) passThroughHeaders(r *Render, upstream http.Header) {
	if r.Response == nil || len(upstream) == 0 {
		return
	}
	for _, name := range c.endpoints.PassThroughHeaders {
		if value := upstream.Get(name); value != "" {
			r.Response.SetHeader(http.CanonicalHeaderKey(name), value)
		}
	}
}

// decodeEnvelope reads redirect and messages independently so a malformed
// field (Drupal sends [] for empty objects) does not hide the other one.
func decodeEnvelope(data json.RawMessage) pageEnvelope {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return pageEnvelope{}
	}
	var envelope pageEnvelope
	if raw, ok := fields["redirect"]; ok {
		var redirect Redirect
		if err := json.Unmarshal(raw, &redirect); err == nil && redirect.URL != "" {
			envelope.Redirect = &redirect
		}
	}
	if raw, ok := fields["messages"]; ok {
		var set messages.Set
		if err := json.Unmarshal(raw, &set); err == nil {
			envelope.Messages = &set
		}
	}
	return envelope
}

// hasRenderableContent reports whether an error body carries a truthy
// "content" field.
func hasRenderableContent(body json.RawMessage) bool {
	if len(body) == 0 {
		return false
	}
	var probe struct {
		Content json.RawMessage `json:"content"`
	}
	if err := json.Unmarshal(body, &probe); err != nil {
		return false
	}
	content := bytes.TrimSpace(probe.Content)
	switch string(content) {
	case "", "null", "false", "0", `""`:
		return false
	}
	return true
}
