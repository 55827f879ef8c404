package gateway

import (
	"context"
	"encoding/json"
	"strings"

	"go.uber.org/zap"

	"github.com/arborhq/arbor/internal/common/logger"
	"github.com/arborhq/arbor/internal/events/bus"
	"github.com/arborhq/arbor/internal/platform"
	"github.com/arborhq/arbor/pkg/ws"
)

// Relay consumes the job:* and stream:* channel families and pushes each
// envelope verbatim to the clients of the subscribed user. Terminal job
// events drop the job's subscription.
type Relay struct {
	bus    bus.Bus
	hub    *Hub
	logger *logger.Logger
}

// NewRelay creates the bus-to-hub relay.
func NewRelay(eventBus bus.Bus, hub *Hub, log *logger.Logger) *Relay {
	return &Relay{
		bus:    eventBus,
		hub:    hub,
		logger: log.WithFields(zap.String("component", "ws_relay")),
	}
}

// Run consumes bus envelopes until ctx ends.
func (r *Relay) Run(ctx context.Context) error {
	sub, err := r.bus.PSubscribe(ctx, "job:*", "stream:*")
	if err != nil {
		return err
	}
	defer sub.Close()

	r.logger.Info("Relay started")
	defer r.logger.Info("Relay stopped")

	for {
		select {
		case msg, ok := <-sub.Messages():
			if !ok {
				return nil
			}
			r.forward(msg)
		case <-ctx.Done():
			return nil
		}
	}
}

func (r *Relay) forward(msg bus.Message) {
	var action, jobID string
	var terminal bool

	switch {
	case strings.HasPrefix(msg.Channel, "job:"):
		action = ws.ActionJobEvent
		jobID = strings.TrimPrefix(msg.Channel, "job:")

		var event platform.JobEvent
		if err := json.Unmarshal(msg.Payload, &event); err != nil {
			r.logger.Warn("Malformed job envelope", zap.String("channel", msg.Channel), zap.Error(err))
			return
		}
		terminal = event.Status.Terminal()

	case strings.HasPrefix(msg.Channel, "stream:"):
		action = ws.ActionStreamEvent
		jobID = strings.TrimPrefix(msg.Channel, "stream:")

	default:
		return
	}

	// The bus envelope is forwarded verbatim as the notification payload.
	data, err := json.Marshal(ws.RawNotification(action, msg.Payload))
	if err != nil {
		r.logger.Error("Marshal notification failed", zap.Error(err))
		return
	}
	r.hub.PushToJob(jobID, data)

	if terminal {
		r.hub.DropJob(jobID)
	}
}
