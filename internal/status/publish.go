package status

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"
)

// Broker is the publishing half of an MQTT client.
type Broker interface {
	Publish(ctx context.Context, topic string, qos int, retain bool, payload []byte) error
}

// CommandEvent is the payload published for every emitted command.
type CommandEvent struct {
	Command   string    `json:"command"`
	Tag       string    `json:"tag,omitempty"`
	EmittedAt time.Time `json:"emitted_at"`
}

type publication struct {
	topic   string
	retain  bool
	payload []byte
}

// Publisher mirrors status updates onto a broker: each command label goes to
// the command topic and the full snapshot is kept retained on the status
// topic. Publishing happens on the Run goroutine so callers never block on
// the network.
type Publisher struct {
	broker       Broker
	commandTopic string
	statusTopic  string
	qos          int
	tagOf        func(string) string

	board  *Board
	queue  chan publication
	logger *slog.Logger
}

// PublisherConfig configures a Publisher.
type PublisherConfig struct {
	CommandTopic string
	StatusTopic  string
	QoS          int

	// TagOf maps a command label to a stable identifier. Optional.
	TagOf func(string) string
}

// NewPublisher returns a publisher with a bounded queue.
func NewPublisher(broker Broker, cfg PublisherConfig) *Publisher {
	tagOf := cfg.TagOf
	if tagOf == nil {
		tagOf = func(string) string { return "" }
	}
	return &Publisher{
		broker:       broker,
		commandTopic: cfg.CommandTopic,
		statusTopic:  cfg.StatusTopic,
		qos:          cfg.QoS,
		tagOf:        tagOf,
		board:        NewBoard(),
		queue:        make(chan publication, 64),
		logger:       slog.With("component", "status-publisher"),
	}
}

func (p *Publisher) SetMode(m Mode) {
	p.board.SetMode(m)
	p.publishSnapshot()
}

func (p *Publisher) SetTranscript(text string) {
	p.board.SetTranscript(text)
	p.publishSnapshot()
}

func (p *Publisher) SetSubstatus(text string) {
	p.board.SetSubstatus(text)
	p.publishSnapshot()
}

// SetCommand publishes the label on the command topic unless it is the
// empty placeholder shown after suspension.
func (p *Publisher) SetCommand(cmd string) {
	p.board.SetCommand(cmd)
	if cmd != "" && cmd != NoCommand && p.commandTopic != "" {
		payload, err := json.Marshal(CommandEvent{Command: cmd, Tag: p.tagOf(cmd), EmittedAt: time.Now()})
		if err == nil {
			p.enqueue(publication{topic: p.commandTopic, payload: payload})
		}
	}
	p.publishSnapshot()
}

func (p *Publisher) publishSnapshot() {
	if p.statusTopic == "" {
		return
	}
	payload, err := json.Marshal(p.board.Snapshot())
	if err != nil {
		return
	}
	p.enqueue(publication{topic: p.statusTopic, retain: true, payload: payload})
}

func (p *Publisher) enqueue(pub publication) {
	select {
	case p.queue <- pub:
	default:
		p.logger.Warn("publish queue full, dropping message", "topic", pub.topic)
	}
}

// Run publishes queued messages until ctx is cancelled.
func (p *Publisher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case pub := <-p.queue:
			pubCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			if err := p.broker.Publish(pubCtx, pub.topic, p.qos, pub.retain, pub.payload); err != nil {
				p.logger.Warn("publish failed", "topic", pub.topic, "error", err)
			}
			cancel()
		}
	}
}
