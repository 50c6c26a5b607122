// Package peer implements the command protocol spoken with the payload.
//
// Frames are raw bytes: an opcode followed by an optional payload. The handler
// runs on the transport's callback goroutine, which plays the role of the bus
// interrupt: it must return quickly and only touch state the main loop
// expects to be touched.
package peer

import (
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/sweeney/payload-power/internal/logic"
)

// Opcode is the first byte of an inbound frame.
type Opcode byte

const (
	OpShutdown Opcode = 0x07
	OpSetMode  Opcode = 0x0D
)

// Command is a decoded inbound frame.
type Command struct {
	Op   Opcode
	Mode logic.Mode // OpSetMode only
}

// Decode parses a frame. Unknown opcodes, empty frames and SET_MODE without
// its payload byte are rejected. Bytes beyond the command are ignored.
func Decode(frame []byte) (Command, bool) {
	if len(frame) == 0 {
		return Command{}, false
	}
	switch op := Opcode(frame[0]); op {
	case OpSetMode:
		if len(frame) < 2 {
			return Command{}, false
		}
		return Command{Op: op, Mode: logic.ModeFromByte(frame[1])}, true
	case OpShutdown:
		return Command{Op: op}, true
	default:
		return Command{}, false
	}
}

// Target is the controller state the handler reads and writes.
type Target interface {
	// ApplyMode changes mode and re-evaluates the relay before returning.
	ApplyMode(m logic.Mode)
	// BatteryPercent returns the last computed battery percentage.
	BatteryPercent() uint8
}

// Stats counts frames seen by the handler.
type Stats struct {
	Accepted uint64
	Ignored  uint64
	Dropped  uint64 // shutdown already queued
	Requests uint64
}

// Handler decodes frames and answers status reads.
type Handler struct {
	target Target
	queue  chan<- Command
	log    zerolog.Logger

	accepted atomic.Uint64
	ignored  atomic.Uint64
	dropped  atomic.Uint64
	requests atomic.Uint64
}

// NewHandler creates a handler. SET_MODE goes straight to target; SHUTDOWN is
// queued for the main loop.
func NewHandler(target Target, queue chan<- Command, logger zerolog.Logger) *Handler {
	return &Handler{
		target: target,
		queue:  queue,
		log:    logger.With().Str("component", "peer").Logger(),
	}
}

// OnReceive handles one inbound frame.
func (h *Handler) OnReceive(frame []byte) {
	cmd, ok := Decode(frame)
	if !ok {
		h.ignored.Add(1)
		h.log.Debug().Hex("frame", frame).Msg("ignored frame")
		return
	}
	h.accepted.Add(1)

	switch cmd.Op {
	case OpSetMode:
		// Applied here, not deferred: the peer has no other way to know
		// when the mode took effect.
		h.target.ApplyMode(cmd.Mode)
	case OpShutdown:
		select {
		case h.queue <- cmd:
		default:
			// A shutdown is already pending; the request is a one-shot flag.
			h.dropped.Add(1)
		}
	}
}

// OnRequest answers a status read with the battery percentage.
func (h *Handler) OnRequest() byte {
	h.requests.Add(1)
	return h.target.BatteryPercent()
}

// Stats returns a snapshot of the frame counters.
func (h *Handler) Stats() Stats {
	return Stats{
		Accepted: h.accepted.Load(),
		Ignored:  h.ignored.Load(),
		Dropped:  h.dropped.Load(),
		Requests: h.requests.Load(),
	}
}
