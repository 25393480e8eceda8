package app

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"

	"vice/internal/config"
	"vice/internal/jobs"
	"vice/pkg/unitctl"
)

// routineFor builds the job body declared by jc.
func (a *App) routineFor(jc config.JobConfig) (jobs.Routine, error) {
	var r jobs.Routine
	switch jc.KindOrDefault() {
	case config.JobKindEcho:
		r = echoRoutine(jc.Args)
	case config.JobKindExec:
		if len(jc.Args) == 0 {
			return nil, errors.Newf("job %q: exec requires args", jc.Name)
		}
		r = execRoutine(strings.TrimSpace(jc.Name), jc.Args)
	case config.JobKindSystemd:
		if len(jc.Args) != 2 {
			return nil, errors.Newf("job %q: systemd requires args [action, unit]", jc.Name)
		}
		action, err := unitctl.ParseAction(jc.Args[0])
		if err != nil {
			return nil, err
		}
		r = systemdRoutine(a.units, action, jc.Args[1])
	default:
		return nil, errors.Newf("job %q: unknown kind %q", jc.Name, jc.Kind)
	}

	timeout, err := jc.RunTimeout()
	if err != nil {
		return nil, err
	}
	return withTimeout(r, timeout), nil
}

func withTimeout(r jobs.Routine, d time.Duration) jobs.Routine {
	if d <= 0 {
		return r
	}
	return func(ctx context.Context, parameter any, out io.Writer) error {
		ctx, cancel := context.WithTimeout(ctx, d)
		defer cancel()
		return r(ctx, parameter, out)
	}
}

// echoRoutine writes its args, or the parameter when there are none.
func echoRoutine(args []string) jobs.Routine {
	text := strings.Join(args, " ")
	return func(ctx context.Context, parameter any, out io.Writer) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		msg := text
		if msg == "" && parameter != nil {
			msg = fmt.Sprint(parameter)
		}
		_, err := fmt.Fprintln(out, msg)
		return err
	}
}

// execRoutine runs args[0] with the rest as arguments. The process is
// killed when the run is canceled. The job name and parameter are passed
// as VICE_JOB and VICE_PARAMETER.
func execRoutine(job string, args []string) jobs.Routine {
	argv := append([]string(nil), args...)
	return func(ctx context.Context, parameter any, out io.Writer) error {
		cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
		cmd.Stdout = out
		cmd.Stderr = out
		cmd.WaitDelay = 2 * time.Second
		cmd.Env = append(os.Environ(), "VICE_JOB="+job)
		if parameter != nil {
			cmd.Env = append(cmd.Env, "VICE_PARAMETER="+fmt.Sprint(parameter))
		}
		if err := cmd.Run(); err != nil {
			if ctx.Err() != nil {
				return errors.WithStack(ctx.Err())
			}
			return errors.Wrapf(err, "exec %s", argv[0])
		}
		return nil
	}
}

type unitRunner interface {
	Run(ctx context.Context, action unitctl.Action, unit string) (unitctl.Result, error)
	Close() error
}

// unitPool shares one lazily dialed systemd connection across jobs.
type unitPool struct {
	dial func(ctx context.Context) (unitRunner, error)

	mu   sync.Mutex
	conn unitRunner
}

func newUnitPool() *unitPool {
	return &unitPool{dial: func(ctx context.Context) (unitRunner, error) {
		c, err := unitctl.New(ctx)
		if err != nil {
			return nil, err
		}
		return c, nil
	}}
}

func (p *unitPool) get(ctx context.Context) (unitRunner, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.conn != nil {
		return p.conn, nil
	}
	c, err := p.dial(ctx)
	if err != nil {
		return nil, err
	}
	p.conn = c
	return c, nil
}

// drop closes c so the next run redials.
func (p *unitPool) drop(c unitRunner) {
	p.mu.Lock()
	if p.conn == c {
		p.conn = nil
	}
	p.mu.Unlock()
	_ = c.Close()
}

func (p *unitPool) Close() error {
	p.mu.Lock()
	c := p.conn
	p.conn = nil
	p.mu.Unlock()
	if c == nil {
		return nil
	}
	return c.Close()
}

func systemdRoutine(pool *unitPool, action unitctl.Action, unit string) jobs.Routine {
	return func(ctx context.Context, _ any, out io.Writer) error {
		c, err := pool.get(ctx)
		if err != nil {
			return err
		}
		res, err := c.Run(ctx, action, unit)
		if err != nil {
			if ctx.Err() == nil {
				pool.drop(c)
			}
			return err
		}
		_, err = fmt.Fprintf(out, "%s %s: %s\n", res.Action, res.Unit, res.JobResult)
		return err
	}
}
