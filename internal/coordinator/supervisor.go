// Package coordinator supervises the data process and routes renderer
// requests to it and to the update manager.
package coordinator

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"io"
	"os"
	"os/exec"
	"sync"

	"github.com/grovetools/appshell/errors"
	"github.com/grovetools/appshell/logging"
	"github.com/grovetools/appshell/pkg/alert"
	"github.com/grovetools/appshell/pkg/ipc"
	"github.com/grovetools/appshell/pkg/process"
	"github.com/grovetools/appshell/pkg/protocol"
	"github.com/grovetools/appshell/state"
	"github.com/sirupsen/logrus"
)

// ProcessName identifies the data process in transport errors.
const ProcessName = "database process"

// CommandFunc builds the command that runs the data process. Stdin and
// stdout are wired by the supervisor.
type CommandFunc func() (*exec.Cmd, error)

// DataCommand runs this executable's hidden data subcommand. timing asks
// the child to report its load and save phases on exit.
func DataCommand(configFile string, debug, timing bool) CommandFunc {
	return func() (*exec.Cmd, error) {
		exe, err := os.Executable()
		if err != nil {
			return nil, err
		}
		args := []string{"data"}
		if configFile != "" {
			args = append(args, "--config", configFile)
		}
		if debug {
			args = append(args, "--debug")
		}
		if timing {
			args = append(args, "--timing")
		}
		cmd := exec.Command(exe, args...)
		cmd.Stderr = os.Stderr
		return cmd, nil
	}
}

// SupervisorOptions configures a Supervisor.
type SupervisorOptions struct {
	Command  CommandFunc
	Settings *state.Store
	// Bus receives every alert emitted by the data process.
	Bus *alert.Bus
	// OnFatal is called once when the data process exits uncleanly.
	OnFatal func(err *errors.AppError)
}

// Supervisor owns the data process and the request channel to it. It is the
// channel's transport.
type Supervisor struct {
	opts    SupervisorOptions
	channel *ipc.Channel
	logger  *logrus.Entry

	mu        sync.Mutex
	cmd       *exec.Cmd
	stdin     io.WriteCloser
	enc       *protocol.Encoder
	connected bool
	stopping  bool
	done      chan struct{}
	exit      process.ExitInfo
	status    *protocol.Status
}

// NewSupervisor creates a supervisor. Nothing is spawned until Initialize.
func NewSupervisor(opts SupervisorOptions) *Supervisor {
	logger := logging.NewLogger("coordinator")
	if opts.Bus == nil {
		opts.Bus = alert.NewBus(nil)
	}
	s := &Supervisor{
		opts:    opts,
		logger:  logger,
		channel: ipc.NewChannel(ProcessName, nil, ipc.WithLogger(logger)),
	}
	s.channel.OnStatus(s.observe)
	s.opts.Bus.SetStatusProvider(s.Status)
	return s
}

// Bus returns the bus data process alerts are dispatched on.
func (s *Supervisor) Bus() *alert.Bus {
	return s.opts.Bus
}

// Send writes one frame to the data process.
func (s *Supervisor) Send(msg *protocol.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.connected {
		return errors.Disconnected(ProcessName)
	}
	return s.enc.Encode(msg)
}

// Connected reports whether the data process is running and its stdin is open.
func (s *Supervisor) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

// Initialize spawns the data process and reselects the last project
// directory. It returns false if the process was already started or could
// not be spawned.
func (s *Supervisor) Initialize(ctx context.Context) bool {
	s.mu.Lock()
	if s.cmd != nil {
		s.mu.Unlock()
		s.logger.Error("Failed to initialize the database process, it is already running.")
		return false
	}

	if err := s.spawnLocked(); err != nil {
		s.mu.Unlock()
		s.logger.WithError(err).Error("Failed to start the database process.")
		return false
	}
	s.mu.Unlock()

	s.channel.SetTransport(s)
	s.reselect(ctx)
	return true
}

func (s *Supervisor) spawnLocked() error {
	command := s.opts.Command
	if command == nil {
		return errors.New(errors.ErrCodeUninitialized, "no data process command configured")
	}
	cmd, err := command()
	if err != nil {
		return err
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return err
	}
	if err := cmd.Start(); err != nil {
		return err
	}

	s.cmd = cmd
	s.stdin = stdin
	s.enc = protocol.NewEncoder(stdin)
	s.connected = true
	s.done = make(chan struct{})

	s.logger.WithField("pid", cmd.Process.Pid).Info("Started database process")
	go s.readLoop(stdout)
	return nil
}

// reselect restores the persisted project directory. Failures clear it.
func (s *Supervisor) reselect(ctx context.Context) {
	settings := s.opts.Settings
	if settings == nil {
		return
	}

	value, ok, err := settings.Get(ctx, state.KeyProjectDirectory)
	if err != nil || !ok || value == nil {
		return
	}

	dir, isString := value.(string)
	if isString {
		_, err = s.SendRequest(ctx, protocol.DatabaseSelect, map[string]interface{}{"projectDirectory": dir})
		if err == nil {
			return
		}
		s.logger.WithError(err).WithField("directory", dir).Warn("Failed to reselect project directory")
	}

	settings.Delete(state.KeyProjectDirectory)
	if err := settings.Save(); err != nil {
		s.logger.WithError(err).Warn("Failed to save settings")
	}
}

func (s *Supervisor) readLoop(stdout io.Reader) {
	dec := protocol.NewDecoder(stdout)
	for {
		msg, err := dec.Decode()
		if err != nil {
			var frameErr *protocol.FrameError
			if stderrors.As(err, &frameErr) {
				s.logger.WithError(err).Warn("Dropping malformed frame from database process")
				continue
			}
			if err != io.EOF {
				s.logger.WithError(err).Debug("Database process output closed")
			}
			break
		}
		s.route(msg)
	}
	s.reap()
}

func (s *Supervisor) route(msg *protocol.Message) {
	if err := msg.Check(); err != nil {
		s.logger.WithError(err).Warn("Ignoring invalid message from database process")
		return
	}

	switch msg.Cmd {
	case protocol.CmdResponse:
		_ = s.channel.HandleResponse(msg)
	case protocol.CmdAlert:
		if msg.Status != nil {
			s.observe(msg.Status.Clone())
		}
		s.opts.Bus.Dispatch(msg)
	default:
		s.logger.WithFields(logrus.Fields{"cmd": msg.Cmd, "type": msg.Type}).Warn("Unexpected message from database process")
	}
}

// reap waits for the process, fails pending requests and classifies the exit.
func (s *Supervisor) reap() {
	s.mu.Lock()
	cmd := s.cmd
	s.mu.Unlock()

	_ = cmd.Wait()
	info := process.ExitInfoFromState(cmd.ProcessState)

	s.mu.Lock()
	s.connected = false
	s.exit = info
	stopping := s.stopping
	close(s.done)
	s.mu.Unlock()

	s.channel.Fail(errors.Disconnected(ProcessName))

	fields := logrus.Fields{"signal": info.Signal}
	if info.Code != nil {
		fields["code"] = *info.Code
	}

	if stopping || info.Clean() {
		s.logger.WithFields(fields).Info("Database process exited")
		return
	}

	fatal := errors.FatalProcess(info.Code, info.Signal)
	s.logger.WithFields(fields).Error(fatal.Message)
	if s.opts.OnFatal != nil {
		s.opts.OnFatal(fatal)
	}
}

// IsCleanExit classifies a data process exit. A nil code without a signal,
// or a zero code, is an orderly shutdown.
func IsCleanExit(code *int, signaled bool) bool {
	if signaled {
		return false
	}
	return process.ExitInfo{Code: code}.Clean()
}

// Go sends a request to the data process without waiting.
func (s *Supervisor) Go(requestType string, payload interface{}) *ipc.Call {
	return s.channel.Go(requestType, payload)
}

// SendRequest sends a request and waits for its response payload.
func (s *Supervisor) SendRequest(ctx context.Context, requestType string, payload interface{}) (json.RawMessage, error) {
	return s.channel.Send(ctx, requestType, payload)
}

func (s *Supervisor) observe(st *protocol.Status) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status == nil || st.Timestamp >= s.status.Timestamp {
		s.status = st
	}
}

// Status returns the latest snapshot seen from the data process, or nil.
func (s *Supervisor) Status() *protocol.Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status.Clone()
}

// IsLoaded reports whether the data process last reported a loaded product.
func (s *Supervisor) IsLoaded() bool {
	st := s.Status()
	return st != nil && st.SelectedProduct != nil
}

// Done is closed when the data process has exited. It is nil before
// Initialize.
func (s *Supervisor) Done() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done
}

// Exit returns how the data process ended.
func (s *Supervisor) Exit() process.ExitInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.exit
}

// Shutdown closes the data process stdin and waits for it to exit, killing
// it if ctx expires first.
func (s *Supervisor) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if s.cmd == nil {
		s.mu.Unlock()
		return nil
	}
	s.stopping = true
	s.connected = false
	stdin, done, cmd := s.stdin, s.done, s.cmd
	s.mu.Unlock()

	_ = stdin.Close()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		s.logger.Warn("Database process did not exit in time, killing it")
		_ = cmd.Process.Kill()
		<-done
		return ctx.Err()
	}
}
