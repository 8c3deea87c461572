// Package testbin holds the user programs shipped with the kernel. They are
// assembled at install time and exercise the process system calls.
package testbin

import (
	"sort"

	"github.com/patrick-huynh/os161/kernel/gate"
	"github.com/patrick-huynh/os161/kernel/loader"
	"github.com/patrick-huynh/os161/kernel/usermode"
	"github.com/patrick-huynh/os161/kernel/wait"
	"github.com/pkg/errors"
)

const (
	zero = gate.RegZero
	v0   = gate.RegV0
	a0   = gate.RegA0
	a1   = gate.RegA1
	a2   = gate.RegA2
	a3   = gate.RegA3
	t0   = gate.RegT0
	t1   = gate.RegT0 + 1
	t2   = gate.RegT0 + 2
	t3   = gate.RegT0 + 3
	s0   = gate.RegS0
	s1   = gate.RegS0 + 1
	s2   = gate.RegS0 + 2
	s3   = gate.RegS0 + 3
)

// WideForkChildren is the number of children started by /testbin/widefork.
const WideForkChildren = 4

var programs = map[string]func() *usermode.Asm{
	"/bin/true":          trueProg,
	"/bin/false":         falseProg,
	"/testbin/argtest":   argtest,
	"/testbin/strlen":    strlenProg,
	"/testbin/forktest":  forktest,
	"/testbin/widefork":  widefork,
	"/testbin/exectest":  exectest,
	"/testbin/badexec":   badexec,
	"/testbin/faulter":   faulter,
	"/testbin/nullderef": nullderef,
	"/testbin/illegal":   illegal,
	"/testbin/spin":      spin,
}

// Paths returns the paths of the available programs in sorted order.
func Paths() []string {
	paths := make([]string, 0, len(programs))
	for path := range programs {
		paths = append(paths, path)
	}
	sort.Strings(paths)
	return paths
}

// Install assembles every program and registers it with fs.
func Install(fs *loader.MemFS) error {
	for _, path := range Paths() {
		img, err := programs[path]().Image("main")
		if err != nil {
			return errors.Wrapf(err, "assemble %s", path)
		}
		fs.Install(path, img)
	}

	return nil
}

// exitWithErrno makes the program exit with the errno in v0.
func exitWithErrno(a *usermode.Asm) *usermode.Asm {
	return a.Label("fail").
		Move(a0, v0).
		Sys(gate.SysExit)
}

func trueProg() *usermode.Asm {
	return usermode.NewAsm().
		Label("main").
		Move(a0, zero).
		Sys(gate.SysExit)
}

func falseProg() *usermode.Asm {
	return usermode.NewAsm().
		Label("main").
		Addiu(a0, zero, 1).
		Sys(gate.SysExit)
}

// argtest exits with its argument count.
func argtest() *usermode.Asm {
	return usermode.NewAsm().
		Label("main").
		Sys(gate.SysExit)
}

// strlen exits with the length of its first argument or 255 when it has
// none.
func strlenProg() *usermode.Asm {
	return usermode.NewAsm().
		Label("main").
		Slti(t0, a0, 2).
		Bne(t0, zero, "usage").
		Lw(t1, 4, a1).
		Move(a0, zero).
		Label("loop").
		Addu(t2, t1, a0).
		Lbu(t3, 0, t2).
		Beq(t3, zero, "done").
		Addiu(a0, a0, 1).
		B("loop").
		Label("done").
		Sys(gate.SysExit).
		Label("usage").
		Addiu(a0, zero, 255).
		Sys(gate.SysExit)
}

// forktest forks a child that exits with 7, waits for it and exits with the
// exit code of the child.
func forktest() *usermode.Asm {
	a := usermode.NewAsm().
		Word("status", 0).
		Label("main").
		Sys(gate.SysFork).
		Bne(a3, zero, "fail").
		Beq(v0, zero, "child").
		Move(a0, v0).
		La(a1, "status").
		Move(a2, zero).
		Sys(gate.SysWaitpid).
		Bne(a3, zero, "fail").
		La(t0, "status").
		Lw(a0, 0, t0).
		Sra(a0, a0, 2).
		Sys(gate.SysExit).
		Label("child").
		Addiu(a0, zero, 7).
		Sys(gate.SysExit)

	return exitWithErrno(a)
}

// widefork starts WideForkChildren children, the i-th of which exits with
// i+1, and exits with the sum of their exit codes.
func widefork() *usermode.Asm {
	a := usermode.NewAsm().
		Space("pids", 4*WideForkChildren).
		Word("status", 0).
		Label("main").
		Move(s0, zero).
		Move(s1, zero).
		Addiu(s2, zero, WideForkChildren).
		La(s3, "pids").
		Label("forkloop").
		Sys(gate.SysFork).
		Bne(a3, zero, "fail").
		Beq(v0, zero, "child").
		Sll(t0, s0, 2).
		Addu(t0, t0, s3).
		Sw(v0, 0, t0).
		Addiu(s0, s0, 1).
		Bne(s0, s2, "forkloop").
		Move(s0, zero).
		Label("waitloop").
		Sll(t0, s0, 2).
		Addu(t0, t0, s3).
		Lw(a0, 0, t0).
		La(a1, "status").
		Move(a2, zero).
		Sys(gate.SysWaitpid).
		Bne(a3, zero, "fail").
		La(t0, "status").
		Lw(t1, 0, t0).
		Sra(t1, t1, 2).
		Addu(s1, s1, t1).
		Addiu(s0, s0, 1).
		Bne(s0, s2, "waitloop").
		Move(a0, s1).
		Sys(gate.SysExit).
		Label("child").
		Addiu(a0, s0, 1).
		Sys(gate.SysExit)

	return exitWithErrno(a)
}

// exectest replaces itself with strlen("hello") and so exits with 5.
func exectest() *usermode.Asm {
	a := usermode.NewAsm().
		Asciz("path", "/testbin/strlen").
		Asciz("arg0", "strlen").
		Asciz("arg1", "hello").
		Word("argv", "arg0", "arg1", 0).
		Label("main").
		La(a0, "path").
		La(a1, "argv").
		Sys(gate.SysExecv)

	return exitWithErrno(a)
}

// badexec tries to exec a missing program and exits with the errno.
func badexec() *usermode.Asm {
	a := usermode.NewAsm().
		Asciz("path", "/testbin/missing").
		Word("argv", 0).
		Label("main").
		La(a0, "path").
		La(a1, "argv").
		Sys(gate.SysExecv)

	return exitWithErrno(a)
}

// faulter writes to its own code.
func faulter() *usermode.Asm {
	return usermode.NewAsm().
		Label("main").
		Li(t0, usermode.CodeBase).
		Sw(zero, 0, t0).
		Sys(gate.SysExit)
}

// nullderef loads from address 0.
func nullderef() *usermode.Asm {
	return usermode.NewAsm().
		Label("main").
		Lw(t0, 0, zero).
		Sys(gate.SysExit)
}

// illegal executes a breakpoint.
func illegal() *usermode.Asm {
	return usermode.NewAsm().
		Label("main").
		Break().
		Sys(gate.SysExit)
}

// spin never exits.
func spin() *usermode.Asm {
	return usermode.NewAsm().
		Label("main").
		B("main")
}

// ExpectedStatus returns the wait status each program terminates with when
// started with no arguments besides its name.
func ExpectedStatus(path string) (int, bool) {
	switch path {
	case "/bin/true":
		return wait.MkExit(0), true
	case "/bin/false", "/testbin/argtest":
		return wait.MkExit(1), true
	case "/testbin/strlen":
		return wait.MkExit(255), true
	case "/testbin/forktest":
		return wait.MkExit(7), true
	case "/testbin/widefork":
		return wait.MkExit(WideForkChildren * (WideForkChildren + 1) / 2), true
	case "/testbin/exectest":
		return wait.MkExit(5), true
	case "/testbin/badexec":
		return wait.MkExit(int(loader.ErrNotFound.Errno)), true
	case "/testbin/faulter", "/testbin/nullderef":
		return wait.MkSignaled(wait.SIGSEGV), true
	case "/testbin/illegal":
		return wait.MkSignaled(wait.SIGILL), true
	}

	return 0, false
}
