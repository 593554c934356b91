// Package agentserver implements the Agent daemon's RPC surface: Ping,
// Reboot, ShutDown, and Suspend, each dispatched over JSON-over-HTTP.
//
// The original design called for a generated RPC client/server pair;
// without a .proto file and the toolchain to compile it, this package
// instead reuses the same gorilla/mux JSON-handler idiom the Controller's
// own HTTP surface uses.
package agentserver

import (
	"encoding/json"
	"net/http"
	"os/exec"
	"runtime"

	"github.com/gorilla/mux"
	"github.com/urfave/negroni"
	"go.uber.org/zap"
)

// PingResponse is the body returned by GET /ping.
type PingResponse struct {
	CurrentTarget string `json:"current_target"`
}

// errorResponse is the body returned for any failing power command.
type errorResponse struct {
	Error string `json:"error"`
}

// Command is an argv to spawn-and-detach for a power action. A nil or
// empty Command means the action is unimplemented on this Agent.
type Command []string

// Config holds everything the Agent RPC server needs to answer
// requests.
type Config struct {
	TargetName      string
	RebootCommand   Command
	ShutdownCommand Command
	SuspendCommand  Command
}

// DefaultCommands fills in platform-appropriate defaults for any
// command left unset, matching spec.md §4.6's per-OS table.
func DefaultCommands(cfg Config) Config {
	if cfg.RebootCommand == nil {
		cfg.RebootCommand = defaultRebootCommand()
	}
	if cfg.ShutdownCommand == nil {
		cfg.ShutdownCommand = defaultShutdownCommand()
	}
	if cfg.SuspendCommand == nil {
		cfg.SuspendCommand = defaultSuspendCommand()
	}
	return cfg
}

func defaultRebootCommand() Command {
	switch runtime.GOOS {
	case "linux":
		return Command{"systemctl", "reboot"}
	case "darwin":
		return Command{"osascript", "-e", `tell app "System Events" to restart`}
	case "windows":
		return Command{"shutdown", "/r"}
	default:
		return nil
	}
}

func defaultShutdownCommand() Command {
	switch runtime.GOOS {
	case "linux":
		return Command{"systemctl", "poweroff"}
	case "darwin":
		return Command{"osascript", "-e", `tell app "System Events" to shut down`}
	case "windows":
		return Command{"shutdown", "/s"}
	default:
		return nil
	}
}

func defaultSuspendCommand() Command {
	switch runtime.GOOS {
	case "linux":
		return Command{"systemctl", "suspend"}
	case "darwin":
		return Command{"pmset", "sleepnow"}
	default:
		// No Windows default; "Other" platforms have none either.
		return nil
	}
}

// Server dispatches Agent RPCs.
type Server struct {
	cfg Config
	log *zap.Logger
}

// NewServer builds a Server. cfg should already have DefaultCommands
// applied by the caller.
func NewServer(cfg Config, log *zap.Logger) *Server {
	return &Server{cfg: cfg, log: log}
}

// Router builds the mux.Router serving this Agent's RPC surface,
// wrapped with negroni panic recovery, matching the Controller's own
// server construction.
func (s *Server) Router() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/ping", s.handlePing).Methods("GET")
	r.HandleFunc("/reboot", s.handlePower(s.cfg.RebootCommand)).Methods("POST")
	r.HandleFunc("/shutdown", s.handlePower(s.cfg.ShutdownCommand)).Methods("POST")
	r.HandleFunc("/suspend", s.handlePower(s.cfg.SuspendCommand)).Methods("POST")

	n := negroni.New(negroni.NewRecovery())
	n.UseHandler(r)
	return n
}

func (s *Server) handlePing(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(PingResponse{CurrentTarget: s.cfg.TargetName})
}

// handlePower returns a handler that spawns cmd and detaches from it,
// without waiting for completion -- the subprocess typically kills the
// Agent itself by shutting down or rebooting the OS it runs in.
func (s *Server) handlePower(cmd Command) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if len(cmd) == 0 {
			writeError(w, http.StatusNotImplemented, "not implemented")
			return
		}

		c := exec.Command(cmd[0], cmd[1:]...)
		if err := c.Start(); err != nil {
			s.log.Error("failed to spawn power command", zap.Strings("command", cmd), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}

		// Deliberately not c.Wait(): the point is to detach, since the
		// command is expected to terminate this process's OS.
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte("{}"))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(errorResponse{Error: msg})
}
