package engine

import (
	"context"
	"go/token"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/stretchr/testify/require"

	"github.com/vouchverify/vouch"
	"github.com/vouchverify/vouch/internal/logger"
)

func TestMain(m *testing.M) {
	logger.Disable()
	os.Exit(m.Run())
}

// testProgram builds a one-procedure program with a site and a property.
func testProgram(t *testing.T) *vouch.IRProgram {
	t.Helper()

	prog := vouch.NewIRProgram("HarnessAdd")
	proc := vouch.NewProcedure("main.HarnessAdd")
	b := proc.AddBlock("b0")
	dest := proc.AddLocal("t", 8)
	b.Add(&vouch.AssignStmt{Dest: dest, Value: vouch.NewConstantExpr(5, 8)})
	b.Add(&vouch.ReturnStmt{})
	prog.Procs = append(prog.Procs, proc)

	prog.AddSite(&vouch.NondetSite{TypeName: "uint8", Width: 8, Strategy: vouch.NondetSafe})
	prog.AddProperty("main.HarnessAdd", vouch.ClassOverflow, token.Position{})
	return prog
}

func TestEncode(t *testing.T) {
	prog := testProgram(t)
	inv := vouch.Invocation{Unwind: 3, Solver: "kissat", WantTrace: true}

	payload, err := encode(prog, inv)
	require.NoError(t, err)

	var req request
	require.NoError(t, cbor.Unmarshal(payload, &req))

	require.Equal(t, "HarnessAdd", req.Program.Name)
	require.Len(t, req.Program.Procs, 1)
	require.Equal(t, "main.HarnessAdd", req.Program.Procs[0].Name)
	require.Len(t, req.Program.Procs[0].Blocks, 1)
	require.Len(t, req.Program.Procs[0].Blocks[0].Stmts, 2)
	require.Contains(t, req.Program.Procs[0].Blocks[0].Stmts[0], "assign")

	require.Len(t, req.Program.Sites, 1)
	require.Equal(t, "nondet_0", req.Program.Sites[0].Variable)

	require.Len(t, req.Program.Properties, 1)
	require.Equal(t, "main.HarnessAdd.overflow.0", req.Program.Properties[0].Name)

	require.Equal(t, 3, req.Invocation.Unwind)
	require.Equal(t, "kissat", req.Invocation.Solver)
	require.True(t, req.Invocation.WantTrace)
}

// writeFakeEngine installs a shell script that ignores stdin and cats a
// canned CBOR response.
func writeFakeEngine(t *testing.T, resp response) string {
	t.Helper()

	dir := t.TempDir()
	respPath := filepath.Join(dir, "response.cbor")
	payload, err := cbor.Marshal(resp)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(respPath, payload, 0o644))

	script := "#!/bin/sh\ncat " + respPath + "\n"
	binPath := filepath.Join(dir, "fake-engine")
	require.NoError(t, os.WriteFile(binPath, []byte(script), 0o755))
	return binPath
}

func TestClient_Verify(t *testing.T) {
	t.Run("OK", func(t *testing.T) {
		bin := writeFakeEngine(t, response{Properties: []vouch.PropertyResult{
			{Name: "main.HarnessAdd.overflow.0", Status: vouch.StatusFailure, Trace: vouch.CounterexampleTrace{
				{Variable: "nondet_0", Value: []byte{0xc8}, Width: 8},
			}},
		}})
		c := NewClient(bin)

		result, err := c.Verify(context.Background(), testProgram(t), vouch.Invocation{})
		require.NoError(t, err)
		require.Len(t, result.Properties, 1)
		require.Equal(t, vouch.StatusFailure, result.Properties[0].Status)
		require.Equal(t, []byte{0xc8}, result.Properties[0].Trace[0].Value)
	})

	t.Run("ExhaustedTime", func(t *testing.T) {
		bin := writeFakeEngine(t, response{Exhausted: "time"})
		c := NewClient(bin)

		_, err := c.Verify(context.Background(), testProgram(t), vouch.Invocation{})
		require.ErrorIs(t, err, vouch.ErrEngineTimeout)
	})

	t.Run("ExhaustedMemory", func(t *testing.T) {
		bin := writeFakeEngine(t, response{Exhausted: "memory"})
		c := NewClient(bin)

		_, err := c.Verify(context.Background(), testProgram(t), vouch.Invocation{})
		require.ErrorIs(t, err, vouch.ErrEngineMemout)
	})

	t.Run("Timeout", func(t *testing.T) {
		dir := t.TempDir()
		binPath := filepath.Join(dir, "slow-engine")
		require.NoError(t, os.WriteFile(binPath, []byte("#!/bin/sh\nsleep 10\n"), 0o755))
		c := NewClient(binPath)

		_, err := c.Verify(context.Background(), testProgram(t), vouch.Invocation{Timeout: 50 * time.Millisecond})
		require.ErrorIs(t, err, vouch.ErrEngineTimeout)
	})

	t.Run("Canceled", func(t *testing.T) {
		dir := t.TempDir()
		binPath := filepath.Join(dir, "slow-engine")
		require.NoError(t, os.WriteFile(binPath, []byte("#!/bin/sh\nsleep 10\n"), 0o755))
		c := NewClient(binPath)

		ctx, cancel := context.WithCancel(context.Background())
		go func() {
			time.Sleep(50 * time.Millisecond)
			cancel()
		}()
		_, err := c.Verify(ctx, testProgram(t), vouch.Invocation{})
		require.ErrorIs(t, err, vouch.ErrEngineCanceled)
	})

	t.Run("MissingBinary", func(t *testing.T) {
		c := NewClient(filepath.Join(t.TempDir(), "no-such-engine"))
		_, err := c.Verify(context.Background(), testProgram(t), vouch.Invocation{})
		require.Error(t, err)
	})
}
