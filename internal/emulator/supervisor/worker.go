package supervisor

import (
	"bufio"
	"context"
	_ "embed"
	"encoding/json"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/deskthing-dev/deskthing/internal/errors"
	"github.com/deskthing-dev/deskthing/internal/logger"
)

//go:embed runner.mjs
var runnerScript []byte

// workerEvent is one structured frame emitted by the worker process.
// Structured frames carry a type tag; bare {log}/{error} frames are raw
// console passthrough.
type workerEvent struct {
	Type    string          `json:"type,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Log     string          `json:"log,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// workerCommand is one command written to the worker's stdin.
type workerCommand struct {
	Type    string `json:"type"`
	Payload any    `json:"payload,omitempty"`
}

// workerOptions configures a worker launch.
type workerOptions struct {
	// ProjectDir is the developer's project root.
	ProjectDir string

	// ServerEntry is the app server entry script inside the project.
	ServerEntry string

	// ServerDir is the app server source root, exported to the process.
	ServerDir string
}

// worker owns one app server process: its exec handle, its stdin command
// stream, and the goroutines draining stdout/stderr.
type worker struct {
	cmd   *exec.Cmd
	stdin io.WriteCloser
	log   *logger.Logger
	done  chan struct{}
}

// writeRunner materializes the embedded worker entry script under the
// project's cache dir so node can load it.
func writeRunner(projectDir string) (string, error) {
	dir := filepath.Join(projectDir, ".deskthing")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	path := filepath.Join(dir, "serverRunner.mjs")
	if err := os.WriteFile(path, runnerScript, 0o644); err != nil {
		return "", err
	}
	return path, nil
}

// launchWorker starts the app server process and wires its streams.
// onEvent receives each structured or passthrough frame; onExit fires once
// with the exiting worker and its code after the process ends, so the
// caller can tell a stale exit from the current process going down.
func launchWorker(ctx context.Context, log *logger.Logger, opts workerOptions, onEvent func(workerEvent), onExit func(w *worker, code int)) (*worker, error) {
	runnerPath, err := writeRunner(opts.ProjectDir)
	if err != nil {
		return nil, errors.New("E201").Wrap(err)
	}

	cmd := exec.CommandContext(ctx, "node", runnerPath)
	cmd.Dir = opts.ProjectDir
	cmd.Env = append(os.Environ(),
		"SERVER_INDEX_PATH="+opts.ServerEntry,
		"DESKTHING_ROOT_PATH="+opts.ServerDir,
		"NODE_ENV=development",
	)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, errors.New("E201").Wrap(err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, errors.New("E201").Wrap(err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, errors.New("E201").Wrap(err)
	}

	if err := cmd.Start(); err != nil {
		return nil, errors.New("E201").Wrap(err)
	}

	w := &worker{
		cmd:   cmd,
		stdin: stdin,
		log:   log,
		done:  make(chan struct{}),
	}

	go w.readStdout(stdout, onEvent)
	go w.readStderr(stderr, onEvent)
	go func() {
		err := cmd.Wait()
		code := 0
		if exitErr, ok := err.(*exec.ExitError); ok {
			code = exitErr.ExitCode()
		} else if err != nil {
			code = -1
		}
		close(w.done)
		onExit(w, code)
	}()

	return w, nil
}

// post writes one command as a JSON line to the worker's stdin.
func (w *worker) post(cmd workerCommand) error {
	raw, err := json.Marshal(cmd)
	if err != nil {
		return err
	}
	_, err = w.stdin.Write(append(raw, '\n'))
	return err
}

// terminate kills the process and waits up to the given duration for it to
// exit. Safe to call after the process already exited.
func (w *worker) terminate(wait time.Duration) {
	w.stdin.Close()
	w.cmd.Process.Kill()
	select {
	case <-w.done:
	case <-time.After(wait):
		w.log.Warn("app server process did not exit within %s", wait)
	}
}

// readStdout parses each line as a worker frame. Lines that are not JSON
// objects are raw console output and pass through as log frames.
func (w *worker) readStdout(r io.Reader, onEvent func(workerEvent)) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		var event workerEvent
		if err := json.Unmarshal([]byte(line), &event); err != nil || (event.Type == "" && event.Log == "" && event.Error == "") {
			onEvent(workerEvent{Log: line})
			continue
		}
		onEvent(event)
	}
}

func (w *worker) readStderr(r io.Reader, onEvent func(workerEvent)) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		if line := scanner.Text(); line != "" {
			onEvent(workerEvent{Error: line})
		}
	}
}
