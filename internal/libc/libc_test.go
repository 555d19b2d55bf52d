package libc

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/lucet-runtime/lucet/internal/instance"
	"github.com/lucet-runtime/lucet/internal/module"
	"github.com/lucet-runtime/lucet/internal/region"
	"github.com/lucet-runtime/lucet/internal/rterr"
	"github.com/lucet-runtime/lucet/val"
)

func testRegion(t *testing.T) *region.Region {
	t.Helper()
	limits := region.DefaultLimits.
		WithHeapAddressSpaceSize(4 * 1024 * 1024).
		WithHeapMemorySize(1024 * 1024).
		WithStackSize(64 * 1024).
		WithGlobalsSize(4096)
	reg, err := region.NewRegion(1, limits)
	require.NoError(t, err)
	return reg
}

func testModule() *module.Module {
	return &module.Module{
		HeapSpec: region.HeapSpec{
			Reserved: 1024 * 1024,
			Guard:    64 * 1024,
			Initial:  64 * 1024,
		},
	}
}

func TestExitTerminatesInstance(t *testing.T) {
	reg := testRegion(t)
	mod := testModule()
	b := &Bridge{}

	mod.SetExport("main", func(vmctx uintptr, args []val.Value) (val.Value, error) {
		b.Exit(vmctx, 7)
		return val.Value{}, nil
	})

	inst, err := instance.Create(reg, mod, nil)
	require.NoError(t, err)
	defer inst.Release()

	err = inst.Run("main", nil)
	require.ErrorIs(t, err, rterr.ErrRuntimeTerminated)

	st := inst.State()
	require.Equal(t, "hostcall", st.Terminated.Reason)
	require.Equal(t, "exit(7)", st.Terminated.Info)
}

func TestAbortTerminatesInstanceWithMessage(t *testing.T) {
	reg := testRegion(t)
	mod := testModule()
	b := &Bridge{}

	mod.SetExport("main", func(vmctx uintptr, args []val.Value) (val.Value, error) {
		b.Abort(vmctx, "assertion failed")
		return val.Value{}, nil
	})

	inst, err := instance.Create(reg, mod, nil)
	require.NoError(t, err)
	defer inst.Release()

	err = inst.Run("main", nil)
	require.ErrorIs(t, err, rterr.ErrRuntimeTerminated)
	require.Equal(t, "abort: assertion failed", inst.State().Terminated.Info)
}

func TestPutsWritesToStdout(t *testing.T) {
	var out bytes.Buffer
	b := &Bridge{Stdout: &out}

	n, err := b.Puts("hello, guest\n")
	require.NoError(t, err)
	require.Equal(t, len("hello, guest\n"), n)
	require.Equal(t, "hello, guest\n", out.String())
}

func TestPutsDiscardsWithoutStdout(t *testing.T) {
	b := &Bridge{}
	n, err := b.Puts("ignored")
	require.NoError(t, err)
	require.Equal(t, len("ignored"), n)
}

func TestEputsWritesToStderr(t *testing.T) {
	var errBuf bytes.Buffer
	b := &Bridge{Stderr: &errBuf}

	_, err := b.Eputs("oops\n")
	require.NoError(t, err)
	require.Equal(t, "oops\n", errBuf.String())
}
