package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
)

// Publisher announces run events.
type Publisher interface {
	Publish(ctx context.Context, evt RunEvent) error
}

// NATSBus publishes run events on a NATS core subject.
type NATSBus struct {
	nc      *nats.Conn
	subject string
}

type NATSConfig struct {
	URL     string
	Subject string
}

func NewNATSBus(cfg NATSConfig) (*NATSBus, error) {
	url := cfg.URL
	if url == "" {
		url = nats.DefaultURL
	}
	nc, err := nats.Connect(url,
		nats.Name("reportsync"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, err
	}
	subject := cfg.Subject
	if subject == "" {
		subject = "reportsync.runs"
	}
	return &NATSBus{nc: nc, subject: subject}, nil
}

// Subject returns the subject events go to. Run events are published on
// "<subject>.<type>".
func (b *NATSBus) Subject() string { return b.subject }

func (b *NATSBus) Publish(ctx context.Context, evt RunEvent) error {
	if !evt.MinimalValidate() {
		return fmt.Errorf("invalid event: missing required fields")
	}
	data, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	return b.nc.Publish(b.subject+"."+evt.Type, data)
}

// Subscribe delivers every run event until ctx is done.
func (b *NATSBus) Subscribe(ctx context.Context, handler func(RunEvent)) (*nats.Subscription, error) {
	sub, err := b.nc.Subscribe(b.subject+".>", func(msg *nats.Msg) {
		var evt RunEvent
		if err := json.Unmarshal(msg.Data, &evt); err == nil {
			handler(evt)
		}
	})
	if err != nil {
		return nil, err
	}
	go func() {
		<-ctx.Done()
		_ = sub.Drain()
	}()
	return sub, nil
}

// Close flushes pending events and closes the connection.
func (b *NATSBus) Close() {
	if b.nc == nil {
		return
	}
	_ = b.nc.Flush()
	b.nc.Close()
}

// Recorder keeps published events in memory.
type Recorder struct {
	mu     sync.Mutex
	Events []RunEvent
	Fail   error
}

func (r *Recorder) Publish(_ context.Context, evt RunEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Fail != nil {
		return r.Fail
	}
	if !evt.MinimalValidate() {
		return fmt.Errorf("invalid event: missing required fields")
	}
	r.Events = append(r.Events, evt)
	return nil
}

// Last returns the most recent event.
func (r *Recorder) Last() (RunEvent, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.Events) == 0 {
		return RunEvent{}, false
	}
	return r.Events[len(r.Events)-1], true
}
