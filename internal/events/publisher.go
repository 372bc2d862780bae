// Package events publishes task lifecycle events so external systems can
// follow sync progress without polling the task API.
package events

import (
	"encoding/json"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/pulp/pulp-manager/internal/errors"
	"github.com/pulp/pulp-manager/internal/logfields"
	"github.com/pulp/pulp-manager/internal/store"
)

// TaskEvent is the wire payload published on each task state transition.
type TaskEvent struct {
	TaskID     int64     `json:"task_id"`
	Name       string    `json:"name"`
	TaskType   string    `json:"task_type"`
	State      string    `json:"state"`
	PulpServer string    `json:"pulp_server,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// Publisher emits task lifecycle events. Implementations must never block
// task processing on a slow broker.
type Publisher interface {
	TaskStateChanged(task *store.Task, server string)
	Close()
}

// NoopPublisher is the default when events.nats_url is not configured.
type NoopPublisher struct{}

func (NoopPublisher) TaskStateChanged(*store.Task, string) {}
func (NoopPublisher) Close()                               {}

// NATSPublisher publishes task events to subjects named
// <subject>.<state>, e.g. pulpmanager.tasks.completed.
type NATSPublisher struct {
	conn    *nats.Conn
	subject string
	log     *slog.Logger
}

// NewNATSPublisher connects to the broker. Reconnects are handled by the
// client; publishes while disconnected are buffered.
func NewNATSPublisher(url, subject string, log *slog.Logger) (*NATSPublisher, error) {
	conn, err := nats.Connect(url,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, errors.QueueError("connect to nats", err)
	}
	if subject == "" {
		subject = "pulpmanager.tasks"
	}
	if log == nil {
		log = slog.Default()
	}
	return &NATSPublisher{conn: conn, subject: subject, log: log}, nil
}

func eventFor(task *store.Task, server string) TaskEvent {
	return TaskEvent{
		TaskID:     task.ID,
		Name:       task.Name,
		TaskType:   task.TaskType.String(),
		State:      task.State.String(),
		PulpServer: server,
		OccurredAt: time.Now().UTC(),
	}
}

func subjectFor(base, state string) string {
	return base + "." + state
}

// TaskStateChanged publishes the transition; publish failures are logged and
// swallowed so event delivery never fails a task.
func (p *NATSPublisher) TaskStateChanged(task *store.Task, server string) {
	event := eventFor(task, server)
	payload, err := json.Marshal(event)
	if err != nil {
		p.log.Warn("encode task event", logfields.Error(err))
		return
	}
	subject := subjectFor(p.subject, event.State)
	if err := p.conn.Publish(subject, payload); err != nil {
		p.log.Warn("publish task event",
			logfields.TaskID(task.ID), slog.String("subject", subject), logfields.Error(err))
	}
}

// Close drains buffered publishes before disconnecting.
func (p *NATSPublisher) Close() {
	if err := p.conn.Drain(); err != nil {
		p.log.Warn("drain nats connection", logfields.Error(err))
	}
}
