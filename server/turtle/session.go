package turtle

import (
	"context"
	"sync"
	"time"

	"github.com/Speedy6451/avarus/server/world"
)

// CommandTimeout bounds how long the session waits for a caller to hand it
// a new command before telling the robot to idle. It must stay comfortably
// under the robot's own network read timeout.
const CommandTimeout = 250 * time.Millisecond

// IdleTime is the wait duration (in robot-side ticks) sent when no command
// is queued.
const IdleTime = 3

// Reply is what a caller blocked in Commander.Execute eventually receives:
// the robot's position and fuel as of its most recent update, the three
// observed block names, and the result of the command it just ran.
type Reply struct {
	Position           world.Position
	Fuel               uint32
	Ahead, Above, Below string
	Result             Response
}

// Session is the host-side half of one robot's poll/command protocol. A
// robot alternates sending an Update and receiving exactly one Command;
// Session bridges that synchronous exchange to the asynchronous callers in
// Commander, which block on Execute until the reply tied to their command
// arrives.
type Session struct {
	mu sync.Mutex

	world *world.World

	position   world.Position
	fuel       uint32
	queuedUnit world.Cell
	reload     bool

	// nextSeq/awaitingSeq correlate a dispatched command with the reply
	// built from the update that reports its outcome. awaitingSeq is 0
	// when no reply is owed; otherwise it's the seq of the command
	// currently in flight on the robot. Tagging replies this way (rather
	// than a bare awaiting bool) lets issue discard a reply meant for a
	// command its own caller already abandoned via ctx.Done(), instead of
	// handing that stale reply to whichever unrelated caller reads outbox
	// next.
	nextSeq     uint64
	awaitingSeq uint64

	// inbox/outbox are one-slot mailboxes: callers write a pendingCmd and
	// block on the matching pendingReply. Capacity 1 lets HandleUpdate pick
	// up a command that arrived before the robot's next poll, and lets a
	// caller's Execute return as soon as the following poll lands, without
	// either side busy-waiting.
	inbox  chan pendingCmd
	outbox chan pendingReply
}

// pendingCmd pairs a caller's Command with the sequence number issue
// assigned it.
type pendingCmd struct {
	cmd Command
	seq uint64
}

// pendingReply pairs a Reply with the sequence number of the command it
// answers, so issue can tell a current reply from a stale one.
type pendingReply struct {
	reply Reply
	seq   uint64
}

// NewSession creates a session for a robot first observed at pos with the
// given fuel. The session starts with its reload flag set, matching a
// freshly (re)booted robot that hasn't yet been told to skip the reload.
func NewSession(w *world.World, pos world.Position, fuel uint32) *Session {
	return &Session{
		world:  w,
		position: pos,
		fuel:   fuel,
		reload: true,
		inbox:  make(chan pendingCmd, 1),
		outbox: make(chan pendingReply, 1),
	}
}

// Position returns the session's current authoritative pose.
func (s *Session) Position() world.Position {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.position
}

// SetPosition overrides the authoritative pose, used by the setPosition
// endpoint to correct drift or bootstrap a robot's starting location.
func (s *Session) SetPosition(pos world.Position) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.position = pos
}

// Fuel returns the session's last observed fuel level.
func (s *Session) Fuel() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fuel
}

// RequestReload sets the one-bit "please re-pull code" flag, consumed on
// the robot's next update.
func (s *Session) RequestReload() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reload = true
}

// HandleUpdate runs one round of the poll/command exchange described on
// Session and returns the Command to send back to the physical robot.
// It is called once per incoming robot poll.
func (s *Session) HandleUpdate(u Update) Command {
	s.mu.Lock()
	if s.reload {
		s.reload = false
		s.mu.Unlock()
		return Command{Kind: ReloadCode}
	}

	if u.Fuel < s.fuel {
		moved := s.fuel - u.Fuel
		s.position.Cell = s.position.Cell.Add(scale(s.queuedUnit, moved))
		s.queuedUnit = world.Cell{}
	}
	s.fuel = u.Fuel
	pos := s.position
	awaitingSeq := s.awaitingSeq
	s.awaitingSeq = 0
	s.mu.Unlock()

	s.world.Set(pos.Cell.Add(pos.Dir.Unit()), u.Ahead)
	s.world.Set(pos.Cell.Add(world.Up), u.Above)
	s.world.Set(pos.Cell.Sub(world.Up), u.Below)

	// Only deliver a reply when this update reports the outcome of a
	// command a caller actually issued last round; idle Wait cycles have
	// no caller to deliver to. The seq tag lets issue recognize a reply
	// meant for a command its caller already abandoned (via ctx.Done())
	// and discard it instead of handing it to whichever later caller reads
	// outbox next.
	if awaitingSeq != 0 {
		reply := Reply{
			Position: pos,
			Fuel:     u.Fuel,
			Ahead:    u.Ahead,
			Above:    u.Above,
			Below:    u.Below,
			Result:   u.Result,
		}
		select {
		case s.outbox <- pendingReply{reply: reply, seq: awaitingSeq}:
		default:
		}
	}

	select {
	case pc := <-s.inbox:
		s.mu.Lock()
		s.awaitingSeq = pc.seq
		s.mu.Unlock()
		s.applyLocalEffects(pc.cmd)
		return pc.cmd
	case <-time.After(CommandTimeout):
		return Command{Kind: Wait, N: IdleTime}
	}
}

// applyLocalEffects mutates the parts of session state that are known
// immediately when a command is issued, rather than waiting for the robot
// to confirm it on its next update: facing rotates instantly, and movement
// commands stage the unit vector HandleUpdate will apply once fuel drops.
func (s *Session) applyLocalEffects(cmd Command) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch cmd.Kind {
	case Left:
		s.position.Dir = s.position.Dir.Left()
	case Right:
		s.position.Dir = s.position.Dir.Right()
	case Forward:
		s.queuedUnit = s.position.Dir.Unit()
	case Backward:
		s.queuedUnit = negate(s.position.Dir.Unit())
	case Up:
		s.queuedUnit = world.Up
	case Down:
		s.queuedUnit = world.Down
	}
}

// issue hands cmd to the session's inbox and blocks for the matching
// reply, or until ctx is done. Each call gets its own sequence number, so
// if an earlier caller abandoned a command via ctx.Done() and its stale
// reply is still sitting in outbox when this call starts waiting, issue
// discards it and keeps waiting rather than returning someone else's
// result as its own.
func (s *Session) issue(ctx context.Context, cmd Command) (Reply, error) {
	s.mu.Lock()
	s.nextSeq++
	seq := s.nextSeq
	s.mu.Unlock()

	select {
	case s.inbox <- pendingCmd{cmd: cmd, seq: seq}:
	case <-ctx.Done():
		return Reply{}, ctx.Err()
	}
	for {
		select {
		case pr := <-s.outbox:
			if pr.seq != seq {
				continue
			}
			return pr.reply, nil
		case <-ctx.Done():
			return Reply{}, ctx.Err()
		}
	}
}

func scale(u world.Cell, n uint32) world.Cell {
	return world.Cell{X: u.X * int32(n), Y: u.Y * int32(n), Z: u.Z * int32(n)}
}

func negate(c world.Cell) world.Cell {
	return world.Cell{X: -c.X, Y: -c.Y, Z: -c.Z}
}
