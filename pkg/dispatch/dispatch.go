package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"tagbridge/pkg/destination"
	"tagbridge/pkg/metrics"
	"tagbridge/pkg/route"
	"tagbridge/pkg/update"
)

const messagePreviewLimit = 240

// Result summarizes one dispatched batch.
type Result struct {
	Updates   int
	Messages  int
	Skipped   int
	Matched   int
	Delivered int
	Failed    int
}

// Dispatcher evaluates every route against each message of a batch and forwards the
// full message text to all matching destinations.
type Dispatcher struct {
	routes *route.Table
	log    *slog.Logger
}

// New builds a dispatcher over a frozen route table.
func New(routes *route.Table, log *slog.Logger) (*Dispatcher, error) {
	if routes == nil {
		return nil, errors.New("route table is required")
	}
	if log == nil {
		log = slog.Default()
	}

	return &Dispatcher{
		routes: routes,
		log:    log.With("component", "dispatch"),
	}, nil
}

// Dispatch processes the batch in order. A failed delivery is logged and never stops
// the remaining routes or updates.
func (d *Dispatcher) Dispatch(ctx context.Context, batch []update.Update) Result {
	var result Result

	for _, u := range batch {
		result.Updates++

		if !u.IsMessage() {
			result.Skipped++
			metrics.UpdatesTotal.WithLabelValues(metrics.UpdateSkipped).Inc()
			d.log.Debug("Skipping non-message update", "update_id", u.ID, "kind", u.Kind)
			continue
		}
		result.Messages++

		msg := *u.Message
		matched := d.routes.Matching(msg)
		if len(matched) == 0 {
			metrics.UpdatesTotal.WithLabelValues(metrics.MessageUnmatched).Inc()
			continue
		}
		result.Matched++
		metrics.UpdatesTotal.WithLabelValues(metrics.MessageMatched).Inc()

		for _, r := range matched {
			if err := deliver(ctx, r.Destination, msg.Text); err != nil {
				result.Failed++
				metrics.DeliveriesTotal.WithLabelValues(r.Name, metrics.DeliveryFailed).Inc()
				d.log.Error("Failed to forward message", "route", r.Name, "update_id", u.ID, "error", err)
				continue
			}

			result.Delivered++
			metrics.DeliveriesTotal.WithLabelValues(r.Name, metrics.DeliveryDelivered).Inc()
			d.log.Info("Forwarded message", "route", r.Name, "update_id", u.ID, "chat_id", msg.ChatID, "content", previewText(msg.Text))
		}
	}

	return result
}

// deliver calls one destination, turning a panic into a DeliverError so a broken
// destination cannot take the poll loop down with it.
func deliver(ctx context.Context, dest destination.Destination, text string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = destination.NewDeliverError(dest.String(), fmt.Errorf("panic: %v", r))
		}
	}()

	return destination.NewDeliverError(dest.String(), dest.Deliver(ctx, text))
}

// previewText returns a bounded log-safe preview of message text.
func previewText(text string) string {
	trimmed := strings.TrimSpace(text)
	runes := []rune(trimmed)
	if len(runes) <= messagePreviewLimit {
		return trimmed
	}

	return string(runes[:messagePreviewLimit]) + "..."
}
