package server

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Speedy6451/avarus/server/depot"
	"github.com/Speedy6451/avarus/server/internal/store"
	"github.com/Speedy6451/avarus/server/task"
	"github.com/Speedy6451/avarus/server/turtle"
	"github.com/Speedy6451/avarus/server/world"
)

// defaultFuelLimit is assumed for a turtle whose registration omits one.
const defaultFuelLimit = 100000

// chunkDBName is the subdirectory of a save directory holding the
// goleveldb chunk database, matching spec.md's world.bin naming.
const chunkDBName = "world.bin"

// registeredTurtle is everything the Server keeps about one robot beyond
// what its Commander already tracks.
type registeredTurtle struct {
	id        uint32
	name      string
	session   *turtle.Session
	commander *turtle.Commander
}

// TurtleInfo is the snapshot returned by GET /turtle/{id}/info.
type TurtleInfo struct {
	ID       uint32
	Name     string
	Position world.Position
	Fuel     uint32
}

// Server wires together the world store, pathfinder-backed commanders,
// depot registry, and scheduler into the HTTP-facing control plane
// described in spec.md section 6.
type Server struct {
	cfg Config
	log *slog.Logger

	world  *world.World
	depots *depot.Registry
	sched  *task.Scheduler
	chunks *store.ChunkStore

	mu      sync.Mutex
	turtles map[uint32]*registeredTurtle
	byName  map[string]uint32
	nextID  atomic.Uint32
}

// New builds a Server from cfg, loading any persisted world/turtles/
// depots/tasks found under cfg.Save. A save directory that doesn't exist
// yet is created and treated as empty.
func New(cfg Config, log *slog.Logger) (*Server, error) {
	if log == nil {
		log = slog.Default()
	}

	w := world.New()
	chunks, err := store.OpenChunkStore(filepath.Join(cfg.Save, chunkDBName))
	if err != nil {
		return nil, fmt.Errorf("server: open chunk store: %w", err)
	}
	if err := chunks.LoadWorld(w); err != nil {
		return nil, fmt.Errorf("server: load world: %w", err)
	}

	snap, err := store.LoadSnapshot(cfg.Save)
	if err != nil {
		return nil, fmt.Errorf("server: load snapshot: %w", err)
	}

	depots := depot.New(snap.Depots)
	sched := task.NewScheduler(task.DefaultStartupAllowance, log)

	s := &Server{
		cfg:     cfg,
		log:     log,
		world:   w,
		depots:  depots,
		sched:   sched,
		chunks:  chunks,
		turtles: make(map[uint32]*registeredTurtle),
		byName:  make(map[string]uint32),
	}

	for _, rec := range snap.Turtles {
		s.reregisterTurtle(rec.Name, rec.Position, rec.Fuel, rec.FuelLimit)
	}
	for _, tt := range snap.Tasks {
		t, err := tt.Task()
		if err != nil {
			log.Error("skipping unreadable persisted task", "type", tt.Type, "error", err)
			continue
		}
		sched.AddTask(t)
	}

	return s, nil
}

// idFromName parses the sequential suffix of a "turtle.<n>" name back
// into its id, used when reloading a snapshot whose records only carry a
// name.
func idFromName(name string) (uint32, error) {
	var n uint32
	if _, err := fmt.Sscanf(name, "turtle.%d", &n); err != nil {
		return 0, fmt.Errorf("server: malformed turtle name %q: %w", name, err)
	}
	return n, nil
}

func (s *Server) reregisterTurtle(name string, pos world.Position, fuel, fuelLimit uint32) {
	id, err := idFromName(name)
	if err != nil {
		s.log.Error("dropping persisted turtle with unparseable name", "name", name, "error", err)
		return
	}
	if fuelLimit == 0 {
		fuelLimit = defaultFuelLimit
	}
	sess := turtle.NewSession(s.world, pos, fuel)
	c := turtle.NewCommander(name, sess, s.world, s.depots, fuelLimit)

	s.mu.Lock()
	s.turtles[id] = &registeredTurtle{id: id, name: name, session: sess, commander: c}
	s.byName[name] = id
	if id >= s.nextID.Load() {
		s.nextID.Store(id + 1)
	}
	s.mu.Unlock()

	s.sched.AddTurtle(name, c)
}

// RegisterTurtle creates a new robot session for a robot that has never
// connected before, returning the id and name it's now known by.
func (s *Server) RegisterTurtle(fuel, fuelLimit uint32, pos world.Position) (id uint32, name string) {
	id = s.nextID.Add(1) - 1
	name = fmt.Sprintf("turtle.%d", id)
	if fuelLimit == 0 {
		fuelLimit = defaultFuelLimit
	}

	sess := turtle.NewSession(s.world, pos, fuel)
	c := turtle.NewCommander(name, sess, s.world, s.depots, fuelLimit)

	s.mu.Lock()
	s.turtles[id] = &registeredTurtle{id: id, name: name, session: sess, commander: c}
	s.byName[name] = id
	s.mu.Unlock()

	s.sched.AddTurtle(name, c)
	return id, name
}

func (s *Server) turtleByID(id uint32) (*registeredTurtle, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.turtles[id]
	return t, ok
}

// Update runs the per-robot poll protocol for id, reporting false if id
// names no registered robot (the caller should reply ReloadCode so the
// robot re-registers, per spec.md section 7).
func (s *Server) Update(id uint32, u turtle.Update) (turtle.Command, bool) {
	t, ok := s.turtleByID(id)
	if !ok {
		return turtle.Command{}, false
	}
	return t.session.HandleUpdate(u), true
}

// SetPosition overwrites id's authoritative pose, used when a robot
// reports its position after a reboot.
func (s *Server) SetPosition(id uint32, pos world.Position) bool {
	t, ok := s.turtleByID(id)
	if !ok {
		return false
	}
	t.session.SetPosition(pos)
	return true
}

// ReRegister re-adds id to the scheduler, used after a robot reboots and
// needs to be picked up for assignment again.
func (s *Server) ReRegister(id uint32) bool {
	t, ok := s.turtleByID(id)
	if !ok {
		return false
	}
	s.sched.AddTurtle(t.name, t.commander)
	return true
}

// CreateMine enqueues a Quarry over the 16x16x16 grid-aligned region
// containing cell.
func (s *Server) CreateMine(cell world.Cell) {
	s.sched.AddTask(task.NewQuarryChunk(cell))
}

// CreateTreeFarm enqueues a TreeFarm rooted at cell.
func (s *Server) CreateTreeFarm(cell world.Cell) {
	s.sched.AddTask(task.NewTreeFarm(cell))
}

// Build enqueues a BuildSchematic printing the server's built-in default
// schematic at cell, pulling materials from the nearest depot. Decoding
// an arbitrary uploaded schematic file is out of scope (see spec.md
// section 1); the default pattern stands in for it.
func (s *Server) Build(cell world.Cell) error {
	region, size := defaultSchematic()
	input, err := s.depots.Nearest(context.Background(), world.Position{Cell: cell})
	if err != nil {
		return fmt.Errorf("server: find input depot for build: %w", err)
	}
	defer input.Release()
	s.sched.AddTask(task.NewBuildSchematic(cell, size, region, input.Position()))
	return nil
}

// RegisterDepot adds pos as a new depot.
func (s *Server) RegisterDepot(pos world.Position) {
	s.depots.Add(pos)
}

// SetGoal bypasses the scheduler and sends id directly to pos.
func (s *Server) SetGoal(id uint32, pos world.Position) bool {
	t, ok := s.turtleByID(id)
	if !ok {
		return false
	}
	return s.sched.DoOn(t.name, func(ctx context.Context, c *turtle.Commander) {
		if err := c.Goto(ctx, pos); err != nil {
			s.log.Warn("setGoal failed", "turtle", t.name, "error", err)
		}
	})
}

// Dock bypasses the scheduler and forces id through one dock cycle.
func (s *Server) Dock(id uint32) bool {
	t, ok := s.turtleByID(id)
	if !ok {
		return false
	}
	return s.sched.DoOn(t.name, func(ctx context.Context, c *turtle.Commander) {
		if _, err := c.Dock(ctx); err != nil {
			s.log.Warn("manual dock failed", "turtle", t.name, "error", err)
		}
	})
}

// Manual runs one raw command against id, bypassing the scheduler.
func (s *Server) Manual(ctx context.Context, id uint32, cmd turtle.Command) (turtle.Reply, error, bool) {
	t, ok := s.turtleByID(id)
	if !ok {
		return turtle.Reply{}, nil, false
	}
	reply, err := t.commander.Execute(ctx, cmd)
	return reply, err, true
}

// CancelTask aborts id's in-flight task.
func (s *Server) CancelTask(id uint32) bool {
	t, ok := s.turtleByID(id)
	if !ok {
		return false
	}
	s.sched.Cancel(t.name)
	return true
}

// UpdateAll requests a code reload from every registered robot on its
// next poll, the closest lever the Go session protocol exposes to the
// original's "pending_update" broadcast flag.
func (s *Server) UpdateAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.turtles {
		t.session.RequestReload()
	}
}

// PollScheduler runs one scheduler assignment tick.
func (s *Server) PollScheduler() {
	s.sched.Poll()
}

// Shutdown requests a graceful drain: no new task assignment, waiting for
// in-flight tasks, then flushing state to disk. It polls the scheduler
// itself while it waits, so it completes even after the Run loop stopped.
func (s *Server) Shutdown(ctx context.Context) error {
	done := s.sched.Shutdown()
	tick := time.NewTicker(50 * time.Millisecond)
	defer tick.Stop()
	for {
		s.sched.Poll()
		select {
		case <-done:
			return s.Flush(ctx)
		case <-ctx.Done():
			return ctx.Err()
		case <-tick.C:
		}
	}
}

// Flush snapshots the world and fleet state to cfg.Save now.
func (s *Server) Flush(ctx context.Context) error {
	if err := s.chunks.SaveWorld(s.world); err != nil {
		return fmt.Errorf("server: save world: %w", err)
	}

	s.mu.Lock()
	turtles := make([]store.TurtleRecord, 0, len(s.turtles))
	for _, t := range s.turtles {
		turtles = append(turtles, store.TurtleRecord{
			Name:      t.name,
			Position:  t.commander.Position(),
			Fuel:      t.commander.Fuel(),
			FuelLimit: t.commander.FuelCap(),
		})
	}
	s.mu.Unlock()

	var tagged []store.TaggedTask
	for _, t := range s.sched.Tasks() {
		tt, err := store.TagTask(t)
		if err != nil {
			s.log.Error("failed to persist task", "tag", t.Tag(), "error", err)
			continue
		}
		tagged = append(tagged, tt)
	}

	snap := store.Snapshot{
		Turtles: turtles,
		Depots:  s.depots.Positions(),
		Tasks:   tagged,
	}
	if err := store.SaveSnapshot(s.cfg.Save, snap); err != nil {
		return fmt.Errorf("server: save snapshot: %w", err)
	}
	return nil
}

// Close releases the underlying chunk database handle without flushing.
// Callers that want a clean shutdown should call Flush or Shutdown first.
func (s *Server) Close() error {
	return s.chunks.Close()
}

// Info returns id's current snapshot.
func (s *Server) Info(id uint32) (TurtleInfo, bool) {
	t, ok := s.turtleByID(id)
	if !ok {
		return TurtleInfo{}, false
	}
	return TurtleInfo{
		ID:       t.id,
		Name:     t.name,
		Position: t.commander.Position(),
		Fuel:     t.commander.Fuel(),
	}, true
}

// World returns the shared block store, used by the HTTP layer for
// read-only diagnostic routes.
func (s *Server) World() *world.World { return s.world }

// Run drives the scheduler's background poll loop until ctx is cancelled.
func (s *Server) Run(ctx context.Context, interval time.Duration) {
	s.sched.Run(ctx, interval)
}
