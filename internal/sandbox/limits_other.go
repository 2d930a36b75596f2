//go:build !linux

package sandbox

// On platforms without the Linux rlimit set the worker runs unconfined and
// the parent's wall-clock timeout and RSS sampling are the only ceilings.
func applyLimits(Limits) error { return nil }

func watchCPULimit(func()) {}
