package main

import (
	"context"
	"fmt"
	"time"

	"github.com/appfort/warden/pkg/client"
)

// command bundles the CLI handlers. Every process operation talks to the
// daemon REST API; only serve runs a supervisor in this process.
type command struct {
	global *GlobalFlags
}

// apiClient builds a client for the configured daemon and verifies it is
// reachable before the actual operation runs.
func (c command) apiClient(ctx context.Context) (*client.Client, error) {
	cfg := client.DefaultConfig()
	if c.global.APIUrl != "" {
		cfg.BaseURL = c.global.APIUrl
	}
	if c.global.APITimeout > 0 {
		cfg.Timeout = c.global.APITimeout
	}
	cl := client.New(cfg)
	if !cl.IsReachable(ctx) {
		return nil, fmt.Errorf("daemon not reachable at %s - start it first with 'warden serve'", cfg.BaseURL)
	}
	return cl, nil
}

// Create registers a new process and prints its record.
func (c command) Create(f CreateFlags) error {
	ctx := context.Background()
	cl, err := c.apiClient(ctx)
	if err != nil {
		return err
	}
	p, err := cl.Create(ctx, f.ID, f.EntryFile)
	if err != nil {
		return err
	}
	printJSON(p)
	return nil
}

// Start launches a registered process.
func (c command) Start(f ProcessFlags) error {
	ctx := context.Background()
	cl, err := c.apiClient(ctx)
	if err != nil {
		return err
	}
	changed, err := cl.Start(ctx, f.ID)
	if err != nil {
		return err
	}
	if changed {
		fmt.Printf("started %s\n", f.ID)
	} else {
		fmt.Printf("%s is already running\n", f.ID)
	}
	return nil
}

// Stop terminates a running process.
func (c command) Stop(f ProcessFlags) error {
	ctx := context.Background()
	cl, err := c.apiClient(ctx)
	if err != nil {
		return err
	}
	changed, err := cl.Stop(ctx, f.ID)
	if err != nil {
		return err
	}
	if changed {
		fmt.Printf("stopped %s\n", f.ID)
	} else {
		fmt.Printf("%s is not running\n", f.ID)
	}
	return nil
}

// Delete stops a process if needed and removes its registration.
func (c command) Delete(f ProcessFlags) error {
	ctx := context.Background()
	cl, err := c.apiClient(ctx)
	if err != nil {
		return err
	}
	if err := cl.Delete(ctx, f.ID); err != nil {
		return err
	}
	fmt.Printf("deleted %s\n", f.ID)
	return nil
}

// Status prints one process record, or all of them when no id is given.
func (c command) Status(f StatusFlags) error {
	ctx := context.Background()
	cl, err := c.apiClient(ctx)
	if err != nil {
		return err
	}
	if f.ID != "" {
		p, err := cl.Get(ctx, f.ID)
		if err != nil {
			return err
		}
		printJSON(p)
		return nil
	}
	list, err := cl.List(ctx)
	if err != nil {
		return err
	}
	printJSON(list)
	return nil
}

// Logs prints recent output lines for a process, or clears them.
func (c command) Logs(f LogsFlags) error {
	ctx := context.Background()
	cl, err := c.apiClient(ctx)
	if err != nil {
		return err
	}
	if f.Clear {
		if err := cl.ClearLogs(ctx, f.ID); err != nil {
			return err
		}
		fmt.Printf("cleared logs for %s\n", f.ID)
		return nil
	}
	entries, err := cl.Logs(ctx, f.ID, f.Limit)
	if err != nil {
		return err
	}
	for _, e := range entries {
		fmt.Printf("%s [%s] %s\n", e.Timestamp.Format(time.RFC3339), e.Level, e.Message)
	}
	return nil
}
