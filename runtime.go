package lucet

import (
	"log"

	"github.com/lucet-runtime/lucet/internal/instance"
	"github.com/lucet-runtime/lucet/internal/libc"
	"github.com/lucet-runtime/lucet/internal/module"
	"github.com/lucet-runtime/lucet/internal/region"
	"github.com/lucet-runtime/lucet/val"
)

// Region owns a fixed-capacity pool of arenas sized by its Config's
// Limits, and is the entry point for loading modules and creating
// instances against them.
type Region struct {
	reg *region.Region
	cfg *Config
}

// NewRegion allocates n arenas under c's Limits. See region.NewRegion.
func (c *Config) NewRegion(n int) (*Region, error) {
	reg, err := region.NewRegion(n, c.limits)
	if err != nil {
		return nil, err
	}
	c.logger.Printf("lucet: region created with %d arenas", n)
	return &Region{reg: reg, cfg: c}, nil
}

// Limits returns the Limits this region's arenas were built with.
func (r *Region) Limits() region.Limits { return r.reg.Limits() }

// IncRef bumps the region's reference count. See region.Region.IncRef.
func (r *Region) IncRef() { r.reg.IncRef() }

// DecRef drops the region's reference count, possibly self-destructing
// the region. See region.Region.DecRef.
func (r *Region) DecRef() { r.reg.DecRef() }

// LoadModule loads the guest plugin at path, validating its specs
// against this region's Limits.
func (r *Region) LoadModule(path string) (*module.Module, error) {
	mod, err := module.Load(path, r.reg.Limits())
	if err != nil {
		r.cfg.logger.Printf("lucet: load module %s: %v", path, err)
		return nil, err
	}
	r.cfg.logger.Printf("lucet: loaded module %s", path)
	return mod, nil
}

// Instance binds a libc.Bridge (configured from the owning Region's
// Config) to an underlying instance.Instance, so embedders get stdio
// wired up for free without having to thread a Bridge through by hand.
type Instance struct {
	*instance.Instance
	libc   *libc.Bridge
	logger *log.Logger
}

// Instantiate acquires an arena from r and binds mod to it, exactly like
// instance.Create, additionally attaching a libc.Bridge sourced from r's
// Config (WithStdout/WithStderr).
func (r *Region) Instantiate(mod *module.Module, embedCtx any) (*Instance, error) {
	inst, err := instance.Create(r.reg, mod, embedCtx)
	if err != nil {
		r.cfg.logger.Printf("lucet: instantiate: %v", err)
		return nil, err
	}
	r.cfg.logger.Printf("lucet: instance created, vmctx %#x", inst.Vmctx())
	return &Instance{
		Instance: inst,
		libc:     &libc.Bridge{Stdout: r.cfg.stdout, Stderr: r.cfg.stderr},
		logger:   r.cfg.logger,
	}, nil
}

// Release frees the instance's arena runtime and returns the arena to
// its region.
func (i *Instance) Release() error {
	vmctx := i.Vmctx()
	if err := i.Instance.Release(); err != nil {
		i.logger.Printf("lucet: release instance vmctx %#x: %v", vmctx, err)
		return err
	}
	i.logger.Printf("lucet: released instance vmctx %#x", vmctx)
	return nil
}

// Libc returns the libc.Bridge attached to this instance, so a module's
// hostcall shims (guest_func_lucet_libc_*) can reach the stdout/stderr
// streams configured at the owning Region's Config.
func (i *Instance) Libc() *libc.Bridge { return i.libc }

// Run resolves entrypointName against the bound module and executes it.
// Thin re-export of instance.Instance.Run so callers only need to import
// this package and val for everyday use.
func (i *Instance) Run(entrypointName string, args ...val.Value) error {
	return i.Instance.Run(entrypointName, args)
}
