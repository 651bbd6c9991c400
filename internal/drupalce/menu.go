package drupalce

import (
	"context"
	"encoding/json"

	"github.com/drupal-ce/drupal-ce/internal/logging"
	"github.com/drupal-ce/drupal-ce/internal/messages"
	"github.com/drupal-ce/drupal-ce/internal/metrics"
)

// MenuKey is the request key of the menu called name.
func MenuKey(name string) string {
	return "menu-" + name
}

// FetchMenu fetches the named menu. Failures never propagate: one error
// message is queued (or OnError is called) and (nil, nil) is returned.
func (c *Client) FetchMenu(ctx context.Context, r *Render, name string, call CallOptions) (json.RawMessage, error) {
	menuPath := c.endpoints.MenuPath(name)
	opts := c.options.Build(call.Fetch, r.Inbound)
	if call.Fetch.BaseURL == "" {
		opts.BaseURL = c.endpoints.MenuBaseURLFor(r.Session.Locale)
	}
	opts.Key = MenuKey(name)

	result := c.fetch(ctx, r.Session, menuPath, opts)
	if result.Err == nil {
		metrics.MenuFetchTotal.WithLabelValues(metrics.OutcomeSuccess).Inc()
		return result.Data, nil
	}

	metrics.MenuFetchTotal.WithLabelValues(metrics.OutcomeFailure).Inc()
	menuErr := &MenuFetchError{Name: name, Status: result.Err.Status, Message: result.Err.Message}
	fields := logging.FetchFields("fetch_menu", opts.Key, r.Session.ID)
	fields["upstream_status"] = result.Err.Status
	c.logger.WithFields(fields).WithError(menuErr).Warn("menu_fetch_failed")

	if call.OnError != nil {
		call.OnError(menuErr)
		return nil, nil
	}
	msg := messages.Message{Type: messages.TypeError, Message: menuErr.UserMessage()}
	if _, err := c.queue.Append(ctx, r.Session, msg); err != nil {
		c.logger.WithFields(fields).WithError(err).Warn("push_messages_failed")
	}
	return nil, nil
}
