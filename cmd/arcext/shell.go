package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/chzyer/readline"
	"github.com/docker/go-units"
	"github.com/spf13/pflag"

	"github.com/meigma/arcext"
)

const shellPrompt = "arcext> "

func shellCommand(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	var sf serviceFlags
	fs := pflag.NewFlagSet("arcext shell", pflag.ContinueOnError)
	fs.SetOutput(stderr)
	sf.register(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}

	svc, err := sf.newService(ctx, stderr)
	if err != nil {
		return err
	}
	defer svc.Close()

	rl, err := readline.NewEx(&readline.Config{
		Prompt:            shellPrompt,
		InterruptPrompt:   "^C",
		EOFPrompt:         "quit",
		HistorySearchFold: true,
		AutoComplete: readline.NewPrefixCompleter(
			readline.PcItem("attach", readline.PcItemDynamic(func(string) []string { return svc.Manifest().Modules() })),
			readline.PcItem("detach", readline.PcItemDynamic(func(string) []string { return svc.Router().Attached() })),
			readline.PcItem("modules"),
			readline.PcItem("stats"),
			readline.PcItem("lookup"),
			readline.PcItem("wait"),
			readline.PcItem("help"),
			readline.PcItem("quit"),
		),
		Stdout: stdout,
		Stderr: stderr,
	})
	if err != nil {
		return err
	}
	defer rl.Close()

	for {
		line, err := rl.Readline()
		switch {
		case errors.Is(err, readline.ErrInterrupt):
			if line == "" {
				return nil
			}
			continue
		case errors.Is(err, io.EOF):
			return nil
		case err != nil:
			return err
		}

		quit, err := execLine(ctx, svc, stdout, line)
		if err != nil {
			fmt.Fprintf(stdout, "error: %v\n", err)
		}
		if quit {
			return nil
		}
	}
}

// execLine runs one shell command against svc.
func execLine(ctx context.Context, svc *arcext.Service, w io.Writer, line string) (quit bool, err error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return false, nil
	}
	cmd, args := fields[0], fields[1:]

	switch cmd {
	case "attach", "detach":
		if len(args) == 0 {
			return false, fmt.Errorf("%s: expected at least one module", cmd)
		}
		for _, module := range args {
			if cmd == "attach" {
				err = svc.Attach(ctx, module)
			} else {
				err = svc.Detach(ctx, module)
			}
			if err != nil {
				return false, err
			}
			fmt.Fprintf(w, "%sed %s\n", cmd, module)
		}
	case "modules":
		attached := make(map[string]bool)
		for _, m := range svc.Router().Attached() {
			attached[m] = true
		}
		for _, m := range svc.Manifest().Modules() {
			mark := " "
			if attached[m] {
				mark = "*"
			}
			fmt.Fprintf(w, "%s %s\n", mark, m)
		}
	case "stats":
		printStats(w, svc.Stats())
	case "lookup":
		if len(args) != 1 {
			return false, errors.New("lookup: expected one path")
		}
		slot, ok := svc.Lookup(args[0])
		if !ok {
			fmt.Fprintf(w, "%s: not in archive\n", args[0])
			return false, nil
		}
		st, err := svc.Resources().State(slot)
		if err != nil {
			return false, err
		}
		fmt.Fprintf(w, "%s: slot %d resource %d %s refs=%d size=%s version=%d\n",
			args[0], slot, st.Resource, st.Status, st.RefCount, units.BytesSize(float64(st.Size)), st.Version)
	case "wait":
		if err := svc.WaitIdle(ctx); err != nil {
			return false, err
		}
		fmt.Fprintln(w, "idle")
	case "help":
		fmt.Fprintln(w, "commands: attach MODULE..., detach MODULE..., modules, stats, lookup PATH, wait, quit")
	case "quit", "exit":
		return true, nil
	default:
		return false, fmt.Errorf("unknown command %q (try help)", cmd)
	}
	return false, nil
}
