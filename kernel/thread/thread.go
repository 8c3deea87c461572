// Package thread runs kernel threads. Each thread is a goroutine tracked by
// a Group so the kernel can wait for every thread to finish before shutting
// down.
package thread

import (
	"runtime"
	"sync/atomic"

	"github.com/patrick-huynh/os161/kernel/cpu"
	"github.com/patrick-huynh/os161/kernel/kfmt"
	"golang.org/x/sync/errgroup"
)

var (
	// exitFn terminates the calling thread. It is mocked by tests.
	exitFn = runtime.Goexit
)

// Group tracks a set of kernel threads.
type Group struct {
	eg      errgroup.Group
	running int32
}

// Fork starts a new kernel thread that runs fn. A thread that halts the CPU
// stops the group: the halt is reported by Wait.
func (g *Group) Fork(name string, fn func()) {
	atomic.AddInt32(&g.running, 1)
	kfmt.Log("thread").Debugf("fork %q", name)

	g.eg.Go(func() (err error) {
		defer func() {
			atomic.AddInt32(&g.running, -1)
			if r := recover(); r != nil {
				if r != cpu.ErrHalted {
					panic(r)
				}
				err = cpu.ErrHalted
			}
		}()

		fn()
		return nil
	})
}

// Running returns the number of threads that have not finished yet.
func (g *Group) Running() int {
	return int(atomic.LoadInt32(&g.running))
}

// Wait blocks until every thread in the group has finished. It returns
// cpu.ErrHalted if any thread halted the CPU.
func (g *Group) Wait() error {
	return g.eg.Wait()
}

// Exit terminates the calling thread. Deferred calls run before the thread
// exits. Exit must be called from a thread started by Group.Fork.
func Exit() {
	exitFn()
}
