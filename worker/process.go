package worker

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os/exec"
	"strings"

	log "github.com/sirupsen/logrus"
)

// Executor runs external tools such as gdalwarp or the Graphab wrapper.
type Executor interface {
	Run(ctx context.Context, name string, args ...string) error
	Output(ctx context.Context, name string, args ...string) (string, error)
}

// Process runs tools as child processes and relays their output to the log.
type Process struct {
	Dir string
	Env []string
	Log log.FieldLogger
}

func NewProcess(logger log.FieldLogger) *Process {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Process{Log: logger}
}

func (p *Process) command(ctx context.Context, name string, args ...string) *exec.Cmd {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = p.Dir
	if len(p.Env) > 0 {
		cmd.Env = append(cmd.Environ(), p.Env...)
	}
	setProcAttr(cmd)
	return cmd
}

// Run starts the tool and blocks until it exits. Stdout and stderr are
// merged and logged line by line with the child pid.
func (p *Process) Run(ctx context.Context, name string, args ...string) error {
	cmd := p.command(ctx, name, args...)
	p.Log.Debugf("Running: %s %s", name, strings.Join(args, " "))

	combinedOutput, err := cmd.StderrPipe()
	if err != nil {
		combinedOutput = nil
		p.Log.Warnf("Failed to obtain subprocess stderr pipe: %v", err)
	} else {
		cmd.Stdout = cmd.Stderr
	}

	if err = cmd.Start(); err != nil {
		return fmt.Errorf("failed to start %s: %w", name, err)
	}
	pid := cmd.Process.Pid
	p.Log.Debugf("Process running with PID %d", pid)

	// relay subprocess stderr and stdout to our log, with pid
	if combinedOutput != nil {
		scanner := bufio.NewScanner(combinedOutput)
		scanner.Buffer(make([]byte, 64*1024), 1024*1024)
		for scanner.Scan() {
			p.Log.Infof("%d %s", pid, scanner.Text())
		}
		if err := scanner.Err(); err != nil {
			p.Log.Warnf("%d output relay stopped: %v", pid, err)
		}
		// the child blocks on a full pipe unless the rest is drained
		io.Copy(io.Discard, combinedOutput)
	}

	if err = cmd.Wait(); err != nil {
		return fmt.Errorf("%s exited: %w", name, err)
	}
	return nil
}

// Output runs the tool and returns its stdout. Stderr is attached to the
// returned error when the tool fails.
func (p *Process) Output(ctx context.Context, name string, args ...string) (string, error) {
	cmd := p.command(ctx, name, args...)
	p.Log.Debugf("Running: %s %s", name, strings.Join(args, " "))

	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		msg := strings.TrimSpace(stderr.String())
		if len(msg) > 0 {
			return string(out), fmt.Errorf("%s exited: %w: %s", name, err, msg)
		}
		return string(out), fmt.Errorf("%s exited: %w", name, err)
	}
	return string(out), nil
}
