// arcext extends a host archive with the files listed in a manifest.
//
// Usage:
//
//	arcext run --config arcext.yaml --attach common,fighter/mario [--detach fighter/mario] [--dump out.img]
//	arcext shell --config arcext.yaml
//	arcext inspect IMAGE
//
// Without --config the config path is read from ARCEXT_CONFIG.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"

	"github.com/docker/go-units"
	"github.com/spf13/pflag"

	"github.com/meigma/arcext"
	"github.com/meigma/arcext/archive"
	"github.com/meigma/arcext/config"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout, os.Stderr); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	if len(args) == 0 {
		printUsage(stderr)
		return errors.New("missing command")
	}
	switch args[0] {
	case "run":
		return runCommand(ctx, args[1:], stdout, stderr)
	case "shell":
		return shellCommand(ctx, args[1:], stdout, stderr)
	case "inspect":
		return inspectCommand(args[1:], stdout, stderr)
	case "help", "-h", "--help":
		printUsage(stdout)
		return nil
	default:
		printUsage(stderr)
		return fmt.Errorf("unknown command %q", args[0])
	}
}

func printUsage(w io.Writer) {
	fmt.Fprint(w, `arcext extends a host archive with manifest-listed files.

Usage:
  arcext run     --config FILE --attach MODULES [--detach MODULES] [--dump IMAGE]
  arcext shell   --config FILE
  arcext inspect IMAGE

Without --config the config path is read from ARCEXT_CONFIG.
`)
}

// serviceFlags are shared by commands that build a Service.
type serviceFlags struct {
	configPath string
	logLevel   string
}

func (f *serviceFlags) register(fs *pflag.FlagSet) {
	fs.StringVarP(&f.configPath, "config", "c", "", "config file (default: $ARCEXT_CONFIG)")
	fs.StringVar(&f.logLevel, "log-level", "", "override log.level: debug, info, warn, error")
}

// newService loads the config and builds a Service logging to stderr.
func (f *serviceFlags) newService(ctx context.Context, stderr io.Writer) (*arcext.Service, error) {
	var (
		cfg *config.Config
		err error
	)
	if f.configPath != "" {
		cfg, err = config.LoadFile(f.configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, err
	}
	if f.logLevel != "" {
		cfg.Log.Level = f.logLevel
	}
	opts, err := cfg.Options()
	if err != nil {
		return nil, err
	}
	level, _ := cfg.LogLevel()
	logger := slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: level}))

	opts = append(opts,
		arcext.WithLogger(logger),
		arcext.WithPlainConsumer(func(path string, data []byte) {
			logger.Info("plain file read", "path", path, "size", len(data))
		}),
	)
	return arcext.New(ctx, opts...)
}

func runCommand(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	var (
		sf          serviceFlags
		attach      []string
		detach      []string
		dump        string
		compression string
	)
	fs := pflag.NewFlagSet("arcext run", pflag.ContinueOnError)
	fs.SetOutput(stderr)
	sf.register(fs)
	fs.StringSliceVar(&attach, "attach", nil, "modules to attach, in order")
	fs.StringSliceVar(&detach, "detach", nil, "modules to detach after loading")
	fs.StringVar(&dump, "dump", "", "write the extended tables to an image file")
	fs.StringVar(&compression, "compression", "zstd", "image compression: none, zstd, lz4")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if len(attach) == 0 {
		return errors.New("run: --attach is required")
	}
	comp, err := archive.ParseCompression(compression)
	if err != nil {
		return err
	}

	svc, err := sf.newService(ctx, stderr)
	if err != nil {
		return err
	}
	defer svc.Close()

	for _, module := range attach {
		if err := svc.Attach(ctx, module); err != nil {
			return err
		}
	}
	if err := svc.WaitIdle(ctx); err != nil {
		return err
	}
	for _, module := range detach {
		if err := svc.Detach(ctx, module); err != nil {
			return err
		}
	}

	printStats(stdout, svc.Stats())
	if dump != "" {
		if err := writeImage(dump, svc.Index().Snapshot(), comp); err != nil {
			return err
		}
		fmt.Fprintf(stdout, "image written to %s\n", dump)
	}
	return nil
}

func writeImage(path string, t archive.Tables, c archive.Compression) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}()
	return archive.EncodeImage(f, t, c)
}

func inspectCommand(args []string, stdout, stderr io.Writer) error {
	fs := pflag.NewFlagSet("arcext inspect", pflag.ContinueOnError)
	fs.SetOutput(stderr)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return errors.New("inspect: expected exactly one IMAGE argument")
	}

	f, err := os.Open(fs.Arg(0))
	if err != nil {
		return err
	}
	defer f.Close()
	t, err := archive.DecodeImage(f)
	if err != nil {
		return err
	}

	printLengths(stdout, t.Lengths())
	var stored, loaded uint64
	for _, d := range t.Datas {
		stored += uint64(d.DecompSize)
	}
	for _, r := range t.Resources {
		if r.Status == archive.StatusLoaded {
			loaded++
		}
	}
	fmt.Fprintf(stdout, "stored:   %s\n", units.BytesSize(float64(stored)))
	fmt.Fprintf(stdout, "loaded:   %d resources\n", loaded)
	return nil
}

func printLengths(w io.Writer, l archive.Lengths) {
	for _, table := range archive.AllTables {
		fmt.Fprintf(w, "%-14s %d\n", table.String()+":", l[table])
	}
}

func printStats(w io.Writer, s arcext.Stats) {
	printLengths(w, s.Tables)
	fmt.Fprintf(w, "generation:    %d\n", s.Generation)
	fmt.Fprintf(w, "registered:    %d\n", s.Registered)
	fmt.Fprintf(w, "loaded:        %d (%s)\n", s.Loaded, units.BytesSize(float64(s.Bytes)))
	fmt.Fprintf(w, "queued:        %d\n", s.Queued)
	fmt.Fprintf(w, "attached:      %s\n", strings.Join(s.Attached, ", "))
}
