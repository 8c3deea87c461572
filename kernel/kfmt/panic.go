package kfmt

import (
	"github.com/patrick-huynh/os161/kernel"
	"github.com/patrick-huynh/os161/kernel/cpu"
)

var (
	// cpuHaltFn is mocked by tests.
	cpuHaltFn = cpu.Halt

	errRuntimePanic = &kernel.Error{Module: "rt", Message: "unknown cause"}
)

// Panic outputs the supplied error (if not nil) to the log and halts the
// CPU. Calls to Panic never return unless cpuHaltFn has been replaced.
func Panic(e interface{}) {
	var err *kernel.Error

	switch t := e.(type) {
	case *kernel.Error:
		err = t
	case string:
		err = &kernel.Error{Module: errRuntimePanic.Module, Message: t}
	case error:
		err = &kernel.Error{Module: errRuntimePanic.Module, Message: t.Error()}
	}

	entry := logger.WithField("module", "kernel")
	if err != nil {
		entry.Errorf("[%s] unrecoverable error: %s", err.Module, err.Message)
	}
	entry.Error("*** kernel panic: system halted ***")

	cpuHaltFn()
}
