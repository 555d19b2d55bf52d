package lucet_test

import (
	"fmt"

	"github.com/lucet-runtime/lucet"
	"github.com/lucet-runtime/lucet/internal/module"
	"github.com/lucet-runtime/lucet/internal/region"
	"github.com/lucet-runtime/lucet/val"
)

// This example shows the minimal embedder-facing lifecycle: build a
// Region from a Config, hand it a Module, instantiate, and run an entry
// point. A real embedder loads the Module from a compiled guest plugin
// via Region.LoadModule; here it is built by hand to keep the example
// self-contained.
func Example() {
	reg, err := lucet.NewConfig().NewRegion(1)
	if err != nil {
		panic(err)
	}

	mod := &module.Module{
		HeapSpec: region.HeapSpec{Reserved: 1024 * 1024, Guard: 64 * 1024, Initial: 64 * 1024},
	}
	mod.SetExport("add_2", func(vmctx uintptr, args []val.Value) (val.Value, error) {
		return val.U64(args[0].U64() + args[1].U64()), nil
	})

	inst, err := reg.Instantiate(mod, nil)
	if err != nil {
		panic(err)
	}
	defer inst.Release()

	if err := inst.Run("add_2", val.U64(123), val.U64(456)); err != nil {
		panic(err)
	}
	fmt.Println(inst.State().Returned.U64())

	// Output:
	// 579
}
