// Package engine invokes the external decision-procedure engine.
//
// The engine is a black box: a subprocess consuming a CBOR request on
// stdin and producing a CBOR response on stdout. This package owns the
// wire format and the resource-limit semantics; it knows nothing about
// how verdicts are interpreted.
package engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"

	"github.com/fxamacker/cbor/v2"

	"github.com/vouchverify/vouch"
	"github.com/vouchverify/vouch/internal/logger"
)

// DefaultBinary is the engine executable resolved from PATH unless a
// client names another.
const DefaultBinary = "vouch-engine"

// Client runs one engine subprocess per Verify call. Safe for
// concurrent use; each call is independent.
type Client struct {
	// Path of the engine binary. Empty means DefaultBinary.
	Path string
}

// NewClient returns a client for the given engine binary.
func NewClient(path string) *Client {
	if path == "" {
		path = DefaultBinary
	}
	return &Client{Path: path}
}

// request is the top-level wire object written to the engine's stdin.
type request struct {
	Program    program          `cbor:"program"`
	Invocation vouch.Invocation `cbor:"invocation"`
}

type program struct {
	Name       string     `cbor:"name"`
	Procs      []proc     `cbor:"procs"`
	Arrays     []array    `cbor:"arrays"`
	Sites      []site     `cbor:"sites"`
	Properties []property `cbor:"properties"`
	Tracker    string     `cbor:"tracker"`
}

type proc struct {
	Name   string  `cbor:"name"`
	Params []local `cbor:"params,omitempty"`
	Locals []local `cbor:"locals,omitempty"`
	Blocks []block `cbor:"blocks"`
}

type local struct {
	Name  string `cbor:"name"`
	Width uint   `cbor:"width"`
}

type block struct {
	Label string   `cbor:"label"`
	Stmts []string `cbor:"stmts"`
}

type array struct {
	ID   uint64 `cbor:"id"`
	Name string `cbor:"name"`
	Size uint   `cbor:"size"`
}

type site struct {
	Variable string `cbor:"var"`
	Type     string `cbor:"type"`
	Width    uint   `cbor:"width"`
	Strategy string `cbor:"strategy"`
}

type property struct {
	Name  string `cbor:"name"`
	Class string `cbor:"class"`
	Pos   string `cbor:"pos"`
}

// response is the wire object read from the engine's stdout.
type response struct {
	Properties []vouch.PropertyResult `cbor:"properties"`

	// Exhausted names a resource limit the engine hit ("time" or
	// "memory"); empty on a completed run.
	Exhausted string `cbor:"exhausted,omitempty"`
}

// encode lowers the program into its wire form. Statements travel as
// their s-expression text; the engine parses them back.
func encode(p *vouch.IRProgram, inv vouch.Invocation) ([]byte, error) {
	w := program{Name: p.Name}
	if p.Tracker != nil {
		w.Tracker = p.Tracker.Name
	}
	for _, pr := range p.Procs {
		wp := proc{Name: pr.Name}
		for _, l := range pr.Params {
			wp.Params = append(wp.Params, local{Name: l.Name, Width: l.Width})
		}
		for _, l := range pr.Locals {
			wp.Locals = append(wp.Locals, local{Name: l.Name, Width: l.Width})
		}
		for _, b := range pr.Blocks {
			wb := block{Label: b.Label, Stmts: make([]string, 0, len(b.Stmts))}
			for _, stmt := range b.Stmts {
				wb.Stmts = append(wb.Stmts, stmt.String())
			}
			wp.Blocks = append(wp.Blocks, wb)
		}
		w.Procs = append(w.Procs, wp)
	}
	for _, a := range p.Arrays {
		w.Arrays = append(w.Arrays, array{ID: a.ID, Name: a.Name, Size: a.Size})
	}
	for _, s := range p.Sites {
		w.Sites = append(w.Sites, site{
			Variable: s.Variable(),
			Type:     s.TypeName,
			Width:    s.Width,
			Strategy: s.Strategy.String(),
		})
	}
	for _, prop := range p.Properties {
		w.Properties = append(w.Properties, property{
			Name:  prop.Name(),
			Class: string(prop.Class),
			Pos:   prop.Pos.String(),
		})
	}
	return cbor.Marshal(request{Program: w, Invocation: inv})
}

// Verify runs the engine to completion or to a resource limit. Hitting
// the timeout or memory ceiling returns ErrEngineTimeout or
// ErrEngineMemout respectively; the caller resolves every property as
// undetermined in that case, never as success. Cancellation kills the
// process and discards any partial output.
func (c *Client) Verify(ctx context.Context, prog *vouch.IRProgram, inv vouch.Invocation) (*vouch.EngineResult, error) {
	payload, err := encode(prog, inv)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	if inv.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, inv.Timeout)
		defer cancel()
	}

	path := c.Path
	if path == "" {
		path = DefaultBinary
	}
	args := []string{}
	if inv.Solver != "" {
		args = append(args, "--solver", inv.Solver)
	}
	if inv.MemLimitMB > 0 {
		args = append(args, "--mem-limit-mb", strconv.Itoa(inv.MemLimitMB))
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, path, args...)
	cmd.Stdin = bytes.NewReader(payload)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	log := logger.Logger()
	log.Debug().
		Str("harness", prog.Name).
		Str("engine", path).
		Msg("invoking engine")

	runErr := cmd.Run()

	// Context outcomes take priority: partial output is untrustworthy.
	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		return nil, vouch.ErrEngineTimeout
	case errors.Is(ctx.Err(), context.Canceled):
		return nil, vouch.ErrEngineCanceled
	}
	if runErr != nil {
		return nil, fmt.Errorf("engine %s: %w: %s", path, runErr, stderr.String())
	}

	var resp response
	if err := cbor.Unmarshal(stdout.Bytes(), &resp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	switch resp.Exhausted {
	case "":
	case "time":
		return nil, vouch.ErrEngineTimeout
	case "memory":
		return nil, vouch.ErrEngineMemout
	default:
		return nil, fmt.Errorf("engine reported unknown exhaustion %q", resp.Exhausted)
	}
	return &vouch.EngineResult{Properties: resp.Properties}, nil
}
