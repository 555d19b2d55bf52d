// Package lucet is the embedder-facing surface over the runtime core:
// Config builds a Region from a set of Limits, a Region loads Modules and
// instantiates them, and the resulting Instance runs guest entry points.
//
// The three layers underneath (internal/region, internal/module,
// internal/instance) are deliberately usable on their own by an embedder
// that wants finer control; this package exists for the common case of
// "load one module, run it a few times, done".
package lucet
