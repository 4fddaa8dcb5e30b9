// Package core defines the shared language of the sacred run store.
//
// This package contains:
//   - Domain entities (Run, Experiment, Source, Metric, etc.)
//   - The observer contract driven by an experiment's lifecycle (RunObserver)
//   - The read projection of a run (RunDocument)
//   - Sentinel errors shared by the store and the observers
//
// The Golden Rule: pkg/core imports ONLY stdlib.
// All other packages depend on core, not the reverse.
package core
