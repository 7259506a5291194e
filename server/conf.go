package server

// Config is the control plane's run-time configuration: the two
// positional arguments the teacher's own config layer would otherwise
// read from a TOML file, kept this small and flag-parsed per spec.
type Config struct {
	// Port is the HTTP listen port robots and operators connect to.
	Port int
	// Save is the directory holding the world chunk database and the
	// turtles/depots/tasks TOML snapshots.
	Save string
}

// DefaultPort is the port a fresh install listens on.
const DefaultPort = 48228

// DefaultSave is the save directory a fresh install persists to.
const DefaultSave = "save"

// DefaultConfig returns the configuration a bare `avarusd` invocation uses.
func DefaultConfig() Config {
	return Config{Port: DefaultPort, Save: DefaultSave}
}
