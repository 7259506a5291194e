package store

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"github.com/pelletier/go-toml"

	"github.com/Speedy6451/avarus/server/task"
	"github.com/Speedy6451/avarus/server/world"
)

// TurtleRecord is a persisted robot: enough to reconstruct its Session
// and Commander on reload.
type TurtleRecord struct {
	Name      string
	Position  world.Position
	Fuel      uint32
	FuelLimit uint32
}

// TaggedTask is a persisted task: Type names the registry tag it was
// saved under (task.Tag), Data holds its marshaled exported fields as a
// generic TOML-decoded map, reinflated against a fresh zero-value of the
// matching concrete type on load.
type TaggedTask struct {
	Type string
	Data map[string]interface{}
}

// Snapshot bundles every piece of fleet state that isn't the voxel world
// itself (that's ChunkStore's job).
type Snapshot struct {
	Turtles []TurtleRecord
	Depots  []world.Position
	Tasks   []TaggedTask
}

// TagTask converts a live Task into its persisted form.
func TagTask(t task.Task) (TaggedTask, error) {
	raw, err := toml.Marshal(t)
	if err != nil {
		return TaggedTask{}, fmt.Errorf("store: marshal task %s: %w", t.Tag(), err)
	}
	var data map[string]interface{}
	if err := toml.Unmarshal(raw, &data); err != nil {
		return TaggedTask{}, fmt.Errorf("store: decode task %s fields: %w", t.Tag(), err)
	}
	return TaggedTask{Type: t.Tag(), Data: data}, nil
}

// Task reconstructs the live Task a TaggedTask was saved from, rebuilding
// whatever derived state the concrete type keeps via task.AfterLoad.
func (tt TaggedTask) Task() (task.Task, error) {
	t, ok := task.NewTaskByTag(tt.Type)
	if !ok {
		return nil, fmt.Errorf("store: unknown task type %q", tt.Type)
	}
	raw, err := toml.Marshal(tt.Data)
	if err != nil {
		return nil, fmt.Errorf("store: re-marshal task %s fields: %w", tt.Type, err)
	}
	if err := toml.Unmarshal(raw, t); err != nil {
		return nil, fmt.Errorf("store: unmarshal task %s: %w", tt.Type, err)
	}
	task.AfterLoad(t)
	return t, nil
}

const (
	turtlesFile = "turtles.toml"
	depotsFile  = "depots.toml"
	tasksFile   = "tasks.toml"
)

// SaveSnapshot writes turtles.toml, depots.toml, and tasks.toml under dir,
// creating dir if it doesn't exist.
func SaveSnapshot(dir string, snap Snapshot) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("store: create save directory: %w", err)
	}
	if err := writeTOML(filepath.Join(dir, turtlesFile), struct{ Turtles []TurtleRecord }{snap.Turtles}); err != nil {
		return err
	}
	if err := writeTOML(filepath.Join(dir, depotsFile), struct{ Depots []world.Position }{snap.Depots}); err != nil {
		return err
	}
	if err := writeTOML(filepath.Join(dir, tasksFile), struct{ Tasks []TaggedTask }{snap.Tasks}); err != nil {
		return err
	}
	return nil
}

// LoadSnapshot reads turtles.toml, depots.toml, and tasks.toml from dir. A
// missing file loads as an empty collection rather than an error, matching
// a fresh save directory's initial state; unknown keys in a present file
// are rejected.
func LoadSnapshot(dir string) (Snapshot, error) {
	var snap Snapshot

	var turtles struct{ Turtles []TurtleRecord }
	if err := readTOMLStrict(filepath.Join(dir, turtlesFile), &turtles); err != nil {
		return Snapshot{}, err
	}
	snap.Turtles = turtles.Turtles

	var depots struct{ Depots []world.Position }
	if err := readTOMLStrict(filepath.Join(dir, depotsFile), &depots); err != nil {
		return Snapshot{}, err
	}
	snap.Depots = depots.Depots

	var tasks struct{ Tasks []TaggedTask }
	if err := readTOMLStrict(filepath.Join(dir, tasksFile), &tasks); err != nil {
		return Snapshot{}, err
	}
	snap.Tasks = tasks.Tasks

	return snap, nil
}

func writeTOML(path string, v interface{}) error {
	raw, err := toml.Marshal(v)
	if err != nil {
		return fmt.Errorf("store: marshal %s: %w", filepath.Base(path), err)
	}
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		return fmt.Errorf("store: write %s: %w", filepath.Base(path), err)
	}
	return nil
}

// readTOMLStrict decodes path into v, rejecting unrecognized keys. A
// missing file leaves v at its zero value.
func readTOMLStrict(path string, v interface{}) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("store: read %s: %w", filepath.Base(path), err)
	}
	dec := toml.NewDecoder(bytes.NewReader(raw)).Strict(true)
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("store: decode %s: %w", filepath.Base(path), err)
	}
	return nil
}
