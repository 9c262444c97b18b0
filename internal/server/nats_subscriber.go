package server

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"
)

// Commander runs operator actions. *monitor.Service satisfies it.
type Commander interface {
	Command(ctx context.Context, uuid, action string) error
}

// natsConn is the part of *nats.Conn the subscriber uses.
type natsConn interface {
	Subscribe(subj string, cb nats.MsgHandler) (*nats.Subscription, error)
	Publish(subj string, data []byte) error
}

// CommandRequest is the body of a command message.
type CommandRequest struct {
	Action string `json:"action"`
}

// CommandReply is sent to the reply subject of a request.
type CommandReply struct {
	Modem  string `json:"modem"`
	Action string `json:"action"`
	OK     bool   `json:"ok"`
	Error  string `json:"error,omitempty"`
}

// NATSSubscriber executes operator commands received on
// <prefix>.modem.<uuid>.command.
type NATSSubscriber struct {
	nc        natsConn
	commander Commander
	prefix    string
	timeout   time.Duration
	subs      []*nats.Subscription
}

// NewNATSSubscriber creates NATS subscriber
func NewNATSSubscriber(nc natsConn, commander Commander, prefix string, timeout time.Duration) *NATSSubscriber {
	if prefix == "" {
		prefix = "hilink"
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &NATSSubscriber{
		nc:        nc,
		commander: commander,
		prefix:    prefix,
		timeout:   timeout,
		subs:      make([]*nats.Subscription, 0),
	}
}

// CommandSubject is the wildcard subject commands arrive on.
func (s *NATSSubscriber) CommandSubject() string {
	return s.prefix + ".modem.*.command"
}

// Start subscribes and blocks until ctx is done.
func (s *NATSSubscriber) Start(ctx context.Context) error {
	sub, err := s.nc.Subscribe(s.CommandSubject(), s.handleCommand)
	if err != nil {
		return fmt.Errorf("subscribe modem commands: %w", err)
	}
	s.subs = append(s.subs, sub)

	log.Info().
		Str("subject", s.CommandSubject()).
		Int("subscriptions", len(s.subs)).
		Msg("NATS subscriber started")

	<-ctx.Done()

	for _, sub := range s.subs {
		sub.Unsubscribe()
	}

	return ctx.Err()
}

// modemFromSubject extracts <uuid> from <prefix>.modem.<uuid>.command.
func (s *NATSSubscriber) modemFromSubject(subject string) string {
	id := strings.TrimPrefix(subject, s.prefix+".modem.")
	if id == subject {
		return ""
	}
	id = strings.TrimSuffix(id, ".command")
	if strings.Contains(id, ".") {
		return ""
	}
	return id
}

func (s *NATSSubscriber) handleCommand(msg *nats.Msg) {
	log.Debug().
		Str("subject", msg.Subject).
		Int("size", len(msg.Data)).
		Msg("Received modem command")

	reply := CommandReply{Modem: s.modemFromSubject(msg.Subject)}

	var req CommandRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		log.Error().Err(err).Msg("Failed to unmarshal modem command")
		reply.Error = "invalid command payload"
		s.respond(msg, reply)
		return
	}
	reply.Action = req.Action

	if reply.Modem == "" {
		reply.Error = "invalid subject"
		s.respond(msg, reply)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	if err := s.commander.Command(ctx, reply.Modem, req.Action); err != nil {
		log.Error().
			Err(err).
			Str("modem", reply.Modem).
			Str("action", req.Action).
			Msg("Modem command failed")
		reply.Error = err.Error()
	} else {
		reply.OK = true
		log.Info().
			Str("modem", reply.Modem).
			Str("action", req.Action).
			Msg("Modem command executed")
	}
	s.respond(msg, reply)
}

func (s *NATSSubscriber) respond(msg *nats.Msg, reply CommandReply) {
	if msg.Reply == "" {
		return
	}
	data, _ := json.Marshal(reply)
	if err := s.nc.Publish(msg.Reply, data); err != nil {
		log.Error().Err(err).Str("reply", msg.Reply).Msg("Failed to publish command reply")
	}
}
