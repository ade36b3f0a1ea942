// Package workertest provides an Executor that records invocations instead
// of running external tools.
package workertest

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
)

type Call struct {
	Name string
	Args []string
}

func (c Call) String() string {
	return strings.TrimSpace(c.Name + " " + strings.Join(c.Args, " "))
}

// Recorder implements worker.Executor. Hook, when set, runs for every call
// and can create the files the real tool would have written.
type Recorder struct {
	mu     sync.Mutex
	Calls  []Call
	Hook   func(call Call) error
	Stdout func(call Call) string
}

func (r *Recorder) record(name string, args []string) (Call, error) {
	call := Call{Name: name, Args: append([]string(nil), args...)}
	r.mu.Lock()
	r.Calls = append(r.Calls, call)
	r.mu.Unlock()
	if r.Hook != nil {
		return call, r.Hook(call)
	}
	return call, nil
}

func (r *Recorder) Run(ctx context.Context, name string, args ...string) error {
	_, err := r.record(name, args)
	return err
}

func (r *Recorder) Output(ctx context.Context, name string, args ...string) (string, error) {
	call, err := r.record(name, args)
	if err != nil {
		return "", err
	}
	if r.Stdout != nil {
		return r.Stdout(call), nil
	}
	return "", nil
}

// Names returns the tool names in call order.
func (r *Recorder) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, len(r.Calls))
	for i, c := range r.Calls {
		names[i] = c.Name
	}
	return names
}

// CopyArgs returns a Hook that copies the file named by args[src] to
// args[dst], standing in for a tool that rewrites a raster. Negative
// indexes count from the end.
func CopyArgs(src, dst int) func(Call) error {
	return func(call Call) error {
		at := func(i int) (string, error) {
			if i < 0 {
				i += len(call.Args)
			}
			if i < 0 || i >= len(call.Args) {
				return "", fmt.Errorf("%s: no argument %d", call, i)
			}
			return call.Args[i], nil
		}
		srcPath, err := at(src)
		if err != nil {
			return err
		}
		dstPath, err := at(dst)
		if err != nil {
			return err
		}
		return CopyFile(srcPath, dstPath)
	}
}

func CopyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err = io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
