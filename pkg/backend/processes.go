package backend

import (
	"bytes"
	"context"
	"os/exec"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

const (
	stderrTailBytes = 4096
	// defaultWaitDelay bounds how long Run waits for output pipes after the process is killed.
	defaultWaitDelay = 5 * time.Second
)

// Processes runs Command work as child processes, one process per run.
//
// A run whose process is terminated by a signal it did not ask for (the kernel's OOM killer
// sends SIGKILL) is reported as a *WorkerLostError. Cancelling a run kills the whole process
// group, so cancellation is effective even for work that ignores it.
type Processes struct {
	log *logrus.Entry
}

// NewProcesses returns the process-based backend.
func NewProcesses() *Processes {
	return &Processes{log: logrus.WithField("component", "backend").WithField("backend", "processes")}
}

// Name implements Backend.
func (p *Processes) Name() string {
	return "processes"
}

// Run implements Backend. On success it returns the process's standard output as []byte.
func (p *Processes) Run(ctx context.Context, w Work) (interface{}, error) {
	c, ok := w.(Command)
	if !ok {
		return nil, unsupported(p, w)
	}
	if c.Path == "" {
		return nil, &TaskError{Err: errors.New("command has no path")}
	}

	cmd := exec.Command(c.Path, c.Args...) // #nosec G204
	cmd.Env = c.Env
	cmd.Dir = c.Dir
	if c.Stdin != nil {
		cmd.Stdin = bytes.NewReader(c.Stdin)
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.WaitDelay = defaultWaitDelay
	setProcessGroup(cmd)

	log := p.log.WithField("path", c.Path)
	if err := cmd.Start(); err != nil {
		return nil, &TaskError{Err: errors.Wrapf(err, "starting %s", c.Path)}
	}
	log = log.WithField("pid", cmd.Process.Pid)
	log.Debug("process started")

	waited := make(chan error, 1)
	go func() { waited <- cmd.Wait() }()

	var err error
	select {
	case err = <-waited:
	case <-ctx.Done():
		log.Debug("cancelling process")
		if kErr := killProcessGroup(cmd); kErr != nil {
			log.WithError(kErr).Warn("failed to kill process group")
		}
		<-waited
		return nil, errors.Wrap(ctx.Err(), "process cancelled")
	}

	if err == nil {
		return stdout.Bytes(), nil
	}

	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) {
		return nil, &WorkerLostError{Backend: p.Name(), Reason: "waiting for process", Err: err}
	}
	if sig, signaled := terminatingSignal(exitErr.ProcessState); signaled {
		log.WithField("signal", sig).Warn("process terminated by signal")
		return nil, &WorkerLostError{Backend: p.Name(), Reason: "process terminated by signal " + sig}
	}
	return nil, &TaskError{Err: &ExitError{
		Code:   exitErr.ExitCode(),
		Stderr: tail(stderr.String(), stderrTailBytes),
	}}
}

// Close implements Backend.
func (p *Processes) Close() error {
	return nil
}

func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return "..." + s[len(s)-n:]
}
