package device

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"

	"github.com/mattn/go-shellwords"
)

// execCatalog shells out to a configured command that prints the current
// device set as a JSON array of descriptors.
type execCatalog struct {
	cmd []string
}

func NewExecCatalog(command string) (Catalog, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(command)
	if err != nil {
		return nil, fmt.Errorf("parse device list command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("device list command empty")
	}
	return &execCatalog{cmd: args}, nil
}

func (c *execCatalog) enumerate(ctx context.Context) ([]Descriptor, error) {
	cmd := exec.CommandContext(ctx, c.cmd[0], c.cmd[1:]...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("%w: device enumeration failed: %v: %s", ErrUnavailable, err, stderr.String())
	}

	var devices []Descriptor
	if err := json.Unmarshal(stdout.Bytes(), &devices); err != nil {
		return nil, fmt.Errorf("%w: decode device list: %v", ErrUnavailable, err)
	}
	return devices, nil
}

func (c *execCatalog) List(ctx context.Context, dir Direction) ([]Descriptor, error) {
	devices, err := c.enumerate(ctx)
	if err != nil {
		return nil, err
	}
	var filtered []Descriptor
	for _, d := range devices {
		if d.Direction == dir {
			filtered = append(filtered, d)
		}
	}
	return filtered, nil
}

func (c *execCatalog) Resolve(ctx context.Context, id string) (Descriptor, error) {
	devices, err := c.enumerate(ctx)
	if err != nil {
		return Descriptor{}, err
	}
	for _, d := range devices {
		if d.ID == id || d.Name == id {
			return d, nil
		}
	}
	return Descriptor{}, fmt.Errorf("%w: %q", ErrNotFound, id)
}
