package main

import (
	"fmt"
	"sync"

	"github.com/mattn/go-shellwords"
	"github.com/patrick-huynh/os161/kernel"
	"github.com/patrick-huynh/os161/kernel/kfmt"
	"github.com/patrick-huynh/os161/kernel/wait"
	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"
)

var bootCommand = &cli.Command{
	Name:  "boot",
	Usage: "boot the kernel and print its configuration and memory map",
	Flags: []cli.Flag{
		&cli.BoolFlag{
			Name:  "dump",
			Usage: "dump every coremap entry",
		},
	},
	Action: func(c *cli.Context) error {
		k, err := bootKernel(c)
		if err != nil {
			return err
		}

		doc, err := k.Config.TOML()
		if err != nil {
			return err
		}

		w := c.App.Writer
		fmt.Fprint(w, doc)

		stats := k.Coremap.Stats()
		fmt.Fprintf(w, "\nram: %d bytes, %d frames managed, %d used by the coremap\n", k.RAM.Size(), stats.Total, stats.TablePages)
		if c.Bool("dump") {
			k.Coremap.Dump(&kfmt.PrefixWriter{Sink: w, Prefix: []byte("  ")})
		}

		return shutdown(k)
	},
}

var listCommand = &cli.Command{
	Name:    "list",
	Aliases: []string{"ls"},
	Usage:   "list the installed programs",
	Action: func(c *cli.Context) error {
		k, err := bootKernel(c)
		if err != nil {
			return err
		}

		for _, path := range k.FS.Paths() {
			fmt.Fprintln(c.App.Writer, path)
		}
		return shutdown(k)
	},
}

var runCommand = &cli.Command{
	Name:      "run",
	Usage:     "run a program and report how it terminated",
	ArgsUsage: "PROGRAM [ARG...]",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:  "cmd",
			Usage: "shell-quoted command line to run instead of the positional arguments",
		},
		&cli.BoolFlag{
			Name:  "exit-code",
			Usage: "exit with the program's exit code",
		},
	},
	Action: func(c *cli.Context) error {
		argv := c.Args().Slice()
		if line := c.String("cmd"); line != "" {
			var err error
			if argv, err = shellwords.Parse(line); err != nil {
				return errors.Wrap(err, "parse command")
			}
		}

		if len(argv) == 0 {
			return errors.New("no program given")
		}

		k, err := bootKernel(c)
		if err != nil {
			return err
		}

		status, err := k.Run(argv[0], argv)
		if err != nil {
			return errors.Wrap(err, kernel.ErrnoOf(err).String())
		}
		fmt.Fprintf(c.App.Writer, "%s: %s\n", argv[0], describeStatus(status))

		if err = shutdown(k); err != nil {
			return err
		}

		if c.Bool("exit-code") && (!wait.IfExited(status) || wait.ExitStatus(status) != 0) {
			code := 128 + wait.TermSig(status)
			if wait.IfExited(status) {
				code = wait.ExitStatus(status)
			}
			return cli.Exit("", code)
		}
		return nil
	},
}

var stressCommand = &cli.Command{
	Name:      "stress",
	Usage:     "run a program many times concurrently",
	ArgsUsage: "PROGRAM [ARG...]",
	Flags: []cli.Flag{
		&cli.IntFlag{
			Name:  "jobs",
			Value: 4,
			Usage: "number of concurrent runners",
		},
		&cli.IntFlag{
			Name:  "count",
			Value: 16,
			Usage: "number of runs per runner",
		},
	},
	Action: func(c *cli.Context) error {
		argv := c.Args().Slice()
		if len(argv) == 0 {
			return errors.New("no program given")
		}

		jobs, count := c.Int("jobs"), c.Int("count")
		if jobs < 1 || count < 1 {
			return errors.New("jobs and count must be positive")
		}

		k, err := bootKernel(c)
		if err != nil {
			return err
		}

		var (
			eg       errgroup.Group
			mu       sync.Mutex
			statuses = make(map[int]int)
		)

		for i := 0; i < jobs; i++ {
			eg.Go(func() error {
				for n := 0; n < count; n++ {
					status, err := k.Run(argv[0], argv)
					if err != nil {
						return errors.Wrapf(err, "run %d", n)
					}

					mu.Lock()
					statuses[status]++
					mu.Unlock()
				}
				return nil
			})
		}

		if err = eg.Wait(); err != nil {
			return err
		}

		if err = shutdown(k); err != nil {
			return err
		}

		stats := k.Coremap.Stats()
		fmt.Fprintf(c.App.Writer, "%d runs of %s\n", jobs*count, argv[0])
		for status, n := range statuses {
			fmt.Fprintf(c.App.Writer, "  %d x %s\n", n, describeStatus(status))
		}
		fmt.Fprintf(c.App.Writer, "frames in use after shutdown: %d\n", stats.Used)
		return nil
	},
}
