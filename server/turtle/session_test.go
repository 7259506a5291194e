package turtle

import (
	"context"
	"testing"
	"time"

	"github.com/Speedy6451/avarus/server/world"
)

func newTestSession() (*Session, *world.World) {
	w := world.New()
	s := NewSession(w, world.Position{Cell: world.Cell{0, 0, 0}, Dir: world.North}, 1000)
	return s, w
}

func TestFirstUpdateForcesReloadCode(t *testing.T) {
	s, _ := newTestSession()
	cmd := s.HandleUpdate(Update{Fuel: 1000})
	if cmd.Kind != ReloadCode {
		t.Fatalf("expected ReloadCode on first update, got %v", cmd.Kind)
	}
	// Second update proceeds normally and times out waiting for a command.
	start := time.Now()
	cmd = s.HandleUpdate(Update{Fuel: 1000})
	if cmd.Kind != Wait {
		t.Fatalf("expected Wait after timeout, got %v", cmd.Kind)
	}
	if time.Since(start) < CommandTimeout {
		t.Fatal("HandleUpdate returned before CommandTimeout elapsed")
	}
}

func TestHandleUpdateWritesObservedBlocks(t *testing.T) {
	s, w := newTestSession()
	s.HandleUpdate(Update{Fuel: 1000}) // consume the reload

	done := make(chan struct{})
	go func() {
		s.HandleUpdate(Update{Fuel: 1000, Ahead: "minecraft:stone", Above: "minecraft:air", Below: "minecraft:dirt"})
		close(done)
	}()
	<-done

	if name, ok := w.Get(world.Cell{0, 0, -1}); !ok || name != "minecraft:stone" {
		t.Errorf("ahead cell not recorded: %q ok=%v", name, ok)
	}
	if name, ok := w.Get(world.Cell{0, 1, 0}); !ok || name != "minecraft:air" {
		t.Errorf("above cell not recorded: %q ok=%v", name, ok)
	}
	if name, ok := w.Get(world.Cell{0, -1, 0}); !ok || name != "minecraft:dirt" {
		t.Errorf("below cell not recorded: %q ok=%v", name, ok)
	}
}

func TestExecuteRoundTripsThroughSession(t *testing.T) {
	s, _ := newTestSession()
	s.HandleUpdate(Update{Fuel: 1000})

	ctx := context.Background()
	type result struct {
		reply Reply
		err   error
	}
	results := make(chan result, 1)
	go func() {
		r, err := s.issue(ctx, Command{Kind: Forward, N: 1})
		results <- result{r, err}
	}()

	// Simulate the robot's next poll observing the command and reporting
	// one fuel consumed.
	cmd := s.HandleUpdate(Update{Fuel: 1000})
	if cmd.Kind != Forward {
		t.Fatalf("expected session to deliver queued Forward, got %v", cmd.Kind)
	}
	s.HandleUpdate(Update{Fuel: 999, Result: Response{Kind: RespSuccess}})

	r := <-results
	if r.err != nil {
		t.Fatalf("issue returned error: %v", r.err)
	}
	if r.reply.Result.Kind != RespSuccess {
		t.Fatalf("expected RespSuccess, got %v", r.reply.Result.Kind)
	}
	if s.Position().Cell != (world.Cell{0, 0, -1}) {
		t.Fatalf("expected position to advance one cell north, got %v", s.Position().Cell)
	}
}

func TestExecuteCancelSafety(t *testing.T) {
	s, _ := newTestSession()
	s.HandleUpdate(Update{Fuel: 1000})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := s.issue(ctx, Command{Kind: Wait}); err == nil {
		t.Fatal("expected issue to observe a cancelled context")
	}
}

// TestAbandonedReplyNeverReachesALaterCaller reproduces the scenario where
// a caller cancels while its command is still in flight on the robot: the
// eventual reply to that abandoned command must not be mistaken for the
// result of a later, unrelated command. The stale reply is drained
// directly here (rather than via a second goroutine) so the test doesn't
// depend on scheduling order to decide which reply a racing background
// reader would see first.
func TestAbandonedReplyNeverReachesALaterCaller(t *testing.T) {
	s, _ := newTestSession()
	s.HandleUpdate(Update{Fuel: 1000})

	ctxA, cancelA := context.WithCancel(context.Background())
	doneA := make(chan error, 1)
	go func() {
		_, err := s.issue(ctxA, Command{Kind: Forward, N: 1})
		doneA <- err
	}()

	// The robot picks up A's command and dispatches it.
	cmd := s.HandleUpdate(Update{Fuel: 1000})
	if cmd.Kind != Forward {
		t.Fatalf("expected Forward dispatched to the robot, got %v", cmd.Kind)
	}

	// A gives up before the robot reports back.
	cancelA()
	if err := <-doneA; err == nil {
		t.Fatal("expected A's issue to observe cancellation")
	}

	// B issues a new command; the scheduler would have freed the robot to
	// accept this under the real ctx.Done() path. Queue it directly so its
	// sequence number is deterministic.
	s.mu.Lock()
	s.nextSeq++
	seqB := s.nextSeq
	s.mu.Unlock()
	s.inbox <- pendingCmd{cmd: Command{Kind: Left}, seq: seqB}

	// The robot's next update reports A's command outcome, stale by now;
	// HandleUpdate also dispatches B's already-queued command in the same
	// call.
	cmd = s.HandleUpdate(Update{Fuel: 999, Result: Response{Kind: RespSuccess}})
	if cmd.Kind != Left {
		t.Fatalf("expected session to dispatch B's Left command, got %v", cmd.Kind)
	}

	stale := <-s.outbox
	if stale.seq != 1 {
		t.Fatalf("expected the stale reply to carry A's seq 1, got %d", stale.seq)
	}

	// The robot's update after that reports B's actual outcome.
	s.HandleUpdate(Update{Fuel: 999, Result: Response{Kind: RespFailure}})

	real := <-s.outbox
	if real.seq != seqB {
		t.Fatalf("expected B's reply to carry seq %d, got %d", seqB, real.seq)
	}
	if real.reply.Result.Kind != RespFailure {
		t.Fatalf("expected B's own RespFailure result, got %v (stale reply leaked through)", real.reply.Result.Kind)
	}
}

// TestIssueDiscardsMismatchedReply drives issue's skip-and-keep-waiting
// loop directly: a reply carrying a seq from before this call must be
// discarded rather than returned, and the call should instead return the
// reply that actually matches. Relies on outbox's capacity-1 buffer to
// order the two sends deterministically: the second send can't land until
// issue has drained the first.
func TestIssueDiscardsMismatchedReply(t *testing.T) {
	s, _ := newTestSession()

	s.outbox <- pendingReply{seq: 0, reply: Reply{Result: Response{Kind: RespFailure}}}

	type outcome struct {
		reply Reply
		err   error
	}
	done := make(chan outcome, 1)
	go func() {
		r, err := s.issue(context.Background(), Command{Kind: Wait})
		done <- outcome{r, err}
	}()

	s.outbox <- pendingReply{seq: 1, reply: Reply{Result: Response{Kind: RespSuccess}}}

	o := <-done
	if o.err != nil {
		t.Fatalf("issue returned an error: %v", o.err)
	}
	if o.reply.Result.Kind != RespSuccess {
		t.Fatalf("expected issue to skip the stale reply and return the matching one, got %v", o.reply.Result.Kind)
	}
}
