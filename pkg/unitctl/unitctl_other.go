//go:build !linux

package unitctl

import "context"

type Controller struct{}

func New(context.Context) (*Controller, error) { return nil, ErrUnsupported }

func (c *Controller) Close() error { return nil }

func (c *Controller) Run(_ context.Context, action Action, unit string) (Result, error) {
	return Result{Unit: UnitName(unit), Action: action}, ErrUnsupported
}

func (c *Controller) ActiveState(context.Context, string) (string, error) {
	return "", ErrUnsupported
}
