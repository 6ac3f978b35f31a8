package plugin

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/ayusman/moodwall/internal/emotion"
)

// Notifier forwards committed colors to every subscribed plugin.
type Notifier struct {
	manager  *Manager
	executor *Executor
}

// NewNotifier creates a Notifier over a discovered plugin set.
func NewNotifier(m *Manager, e *Executor) *Notifier {
	return &Notifier{manager: m, executor: e}
}

// ColorChanged runs each color-change plugin in name order. A failing plugin
// does not stop the others; all failures are returned joined.
func (n *Notifier) ColorChanged(ctx context.Context, ev emotion.ColorChange) error {
	var errs []error

	for _, p := range n.manager.Subscribers(EventColorChange) {
		req := &Request{
			Event:     EventColorChange,
			Emotion:   string(ev.Emotion),
			Color:     ev.Color.Name,
			Hex:       ev.Color.Hex,
			Timestamp: ev.At.UnixMilli(),
		}

		log := logrus.WithFields(logrus.Fields{"plugin": p.Manifest.Name, "color": ev.Color.Name})

		resp, err := n.executor.Execute(ctx, p, req)
		if err != nil {
			log.WithError(err).Warn("plugin failed")
			errs = append(errs, err)
			continue
		}
		if !resp.Success {
			err := fmt.Errorf("plugin %s: %s", p.Manifest.Name, resp.Error)
			log.WithError(err).Warn("plugin reported failure")
			errs = append(errs, err)
			continue
		}
		log.Debug("plugin notified")
	}

	return errors.Join(errs...)
}
