//go:build linux

package unitctl

import (
	"context"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/coreos/go-systemd/v22/dbus"
)

// Controller owns one system bus connection.
type Controller struct {
	mu   sync.RWMutex
	conn *dbus.Conn
}

func New(ctx context.Context) (*Controller, error) {
	conn, err := dbus.NewSystemConnectionContext(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "connect to systemd")
	}
	return &Controller{conn: conn}, nil
}

func (c *Controller) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	return nil
}

// Run enqueues the unit job in "replace" mode and waits for its result
// or ctx.
func (c *Controller) Run(ctx context.Context, action Action, unit string) (Result, error) {
	unit = UnitName(unit)
	res := Result{Unit: unit, Action: action}

	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.conn == nil {
		return res, errors.New("systemd connection is closed")
	}

	done := make(chan string, 1)
	var err error
	switch action {
	case ActionStart:
		_, err = c.conn.StartUnitContext(ctx, unit, "replace", done)
	case ActionStop:
		_, err = c.conn.StopUnitContext(ctx, unit, "replace", done)
	case ActionRestart:
		_, err = c.conn.RestartUnitContext(ctx, unit, "replace", done)
	case ActionReload:
		_, err = c.conn.ReloadUnitContext(ctx, unit, "replace", done)
	default:
		return res, errors.Newf("unitctl: unknown action %q", action)
	}
	if err != nil {
		return res, errors.Wrapf(err, "%s %s", action, unit)
	}

	select {
	case <-ctx.Done():
		return res, ctx.Err()
	case res.JobResult = <-done:
	}
	if !res.OK() {
		return res, errors.Newf("%s %s: job %s", action, unit, res.JobResult)
	}
	return res, nil
}

// ActiveState returns the unit's ActiveState property ("active", "failed", ...).
func (c *Controller) ActiveState(ctx context.Context, unit string) (string, error) {
	unit = UnitName(unit)
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.conn == nil {
		return "", errors.New("systemd connection is closed")
	}
	prop, err := c.conn.GetUnitPropertyContext(ctx, unit, "ActiveState")
	if err != nil {
		return "", errors.Wrapf(err, "active state of %s", unit)
	}
	s, _ := prop.Value.Value().(string)
	return s, nil
}
