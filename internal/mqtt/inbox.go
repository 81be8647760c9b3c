package mqtt

import (
	"strings"
	"sync"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/AaronLay10/AlchemyMachine/internal/events"
	"github.com/AaronLay10/AlchemyMachine/internal/puzzle"
)

// CommandInbox is a single-slot mailbox between the transport and the
// control loop. A newer command overwrites one that has not been polled
// yet. Nothing here runs puzzle logic.
type CommandInbox struct {
	mu       sync.Mutex
	pending  puzzle.Command
	has      bool
	received int64
	dropped  int64
}

// NewCommandInbox returns an empty inbox.
func NewCommandInbox() *CommandInbox {
	return &CommandInbox{}
}

// ParseCommand decodes a command token. Matching is case-insensitive and
// exact; anything else is rejected.
func ParseCommand(token string) (puzzle.Command, bool) {
	switch {
	case strings.EqualFold(token, string(puzzle.CommandSolve)):
		return puzzle.CommandSolve, true
	case strings.EqualFold(token, string(puzzle.CommandReset)):
		return puzzle.CommandReset, true
	}
	return "", false
}

// Offer places cmd in the slot, replacing any unconsumed command.
func (b *CommandInbox) Offer(cmd puzzle.Command, source string) {
	b.mu.Lock()
	overwritten := b.has
	prev := b.pending
	b.pending = cmd
	b.has = true
	b.received++
	if overwritten {
		b.dropped++
	}
	b.mu.Unlock()

	if overwritten {
		events.Emit("warning", "command.ignored", "overwritten by a newer command", map[string]interface{}{
			"command": string(prev),
			"by":      string(cmd),
			"source":  source,
		})
	}
}

// Poll takes the pending command, if any. Implements puzzle.CommandSource.
func (b *CommandInbox) Poll() (puzzle.Command, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.has {
		return "", false
	}
	cmd := b.pending
	b.pending = ""
	b.has = false
	return cmd, true
}

// Pending reports whether a command is waiting in the slot.
func (b *CommandInbox) Pending() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.has
}

// Stats returns how many commands were accepted and how many were
// overwritten before being consumed.
func (b *CommandInbox) Stats() (received, dropped int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.received, b.dropped
}

// Handler returns a paho handler for the prop's command topic.
func (b *CommandInbox) Handler() paho.MessageHandler {
	return func(_ paho.Client, msg paho.Message) {
		token := string(msg.Payload())
		cmd, ok := ParseCommand(token)
		if !ok {
			events.Emit("warning", "command.ignored", "unrecognized command", map[string]interface{}{
				"command": token,
				"topic":   msg.Topic(),
			})
			return
		}
		b.Offer(cmd, "mqtt")
	}
}
