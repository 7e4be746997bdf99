// Command medley is a CLI for the directory subsystem: it renders the
// directory tree, watches the change feed, and issues create, rename, and
// delete commands against a remote store.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	gotree "github.com/disiqueira/gotree/v3"
	"github.com/joho/godotenv"
	"github.com/medleyhq/medley/internal/config"
	"github.com/medleyhq/medley/internal/logging"
	"github.com/medleyhq/medley/internal/metrics"
	"github.com/medleyhq/medley/pkg/directories"
	"github.com/medleyhq/medley/pkg/docstore"
	"github.com/medleyhq/medley/pkg/docstore/memstore"
	"github.com/medleyhq/medley/pkg/models"
	"go.uber.org/zap"
)

func usage() {
	fmt.Fprintf(os.Stderr, `Usage: medley <command> [flags]

Commands:
  tree      render the directory tree
  ls        list directories
  watch     follow the change feed and apply updates
  mkdir     create a directory
  rename    rename a directory
  rm        delete a directory (reparents children, detaches assets)
`)
	os.Exit(2)
}

func main() {
	if len(os.Args) < 2 {
		usage()
	}

	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}

	if err := logging.Init(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat}); err != nil {
		fmt.Fprintln(os.Stderr, "logging:", err)
		os.Exit(1)
	}
	defer logging.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.MetricsAddr != "" {
		go serveMetrics(cfg.MetricsAddr)
	}

	app := &app{cfg: cfg}
	if err := app.run(ctx, os.Args[1], os.Args[2:]); err != nil {
		if !errors.Is(err, context.Canceled) {
			fmt.Fprintln(os.Stderr, "medley:", err)
			os.Exit(1)
		}
	}
}

func serveMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	logging.Info("metrics listening", zap.String("addr", addr))
	if err := http.ListenAndServe(addr, mux); err != nil {
		logging.Error("metrics server failed", zap.Error(err))
	}
}

type app struct {
	cfg  *config.Config
	tree *directories.Store
	proc *directories.Processor
	rem  docstore.Store
}

// connect wires the tree store and processor against the configured
// remote store, or an in-memory store when none is configured.
func (a *app) connect(storeURL string, useMem bool) {
	if useMem || storeURL == "" {
		logging.Info("using in-memory store")
		a.rem = memstore.New()
	} else {
		a.rem = docstore.NewClient(docstore.Config{
			BaseURL:   storeURL,
			AuthToken: a.cfg.AuthToken,
		})
	}

	a.tree = directories.NewStore()
	var opts []directories.ProcessorOption
	if a.cfg.Throttle > 0 {
		opts = append(opts, directories.WithThrottle(a.cfg.Throttle))
	}
	a.proc = directories.NewProcessor(a.tree, a.rem, opts...)
}

func (a *app) run(ctx context.Context, command string, args []string) error {
	fs := flag.NewFlagSet(command, flag.ExitOnError)
	storeURL := fs.String("store", a.cfg.StoreURL, "remote store base URL")
	useMem := fs.Bool("mem", false, "use an in-memory store")

	parse := func() error {
		if err := fs.Parse(args); err != nil {
			return err
		}
		a.connect(*storeURL, *useMem)
		return nil
	}

	switch command {
	case "tree":
		if err := parse(); err != nil {
			return err
		}
		return a.cmdTree(ctx)

	case "ls":
		if err := parse(); err != nil {
			return err
		}
		return a.cmdLs(ctx)

	case "watch":
		if err := parse(); err != nil {
			return err
		}
		return a.cmdWatch(ctx)

	case "mkdir":
		name := fs.String("name", "", "directory name")
		parent := fs.String("parent", "", "parent directory id")
		asset := fs.String("asset", "", "asset id to link the new directory to")
		if err := parse(); err != nil {
			return err
		}
		return a.cmdMkdir(ctx, *name, *parent, *asset)

	case "rename":
		id := fs.String("id", "", "directory id")
		name := fs.String("name", "", "new name")
		if err := parse(); err != nil {
			return err
		}
		return a.cmdRename(ctx, *id, *name)

	case "rm":
		id := fs.String("id", "", "directory id")
		if err := parse(); err != nil {
			return err
		}
		return a.cmdRm(ctx, *id)

	default:
		usage()
		return nil
	}
}

func (a *app) cmdTree(ctx context.Context) error {
	if err := a.proc.Fetch(ctx); err != nil {
		return err
	}

	root := gotree.New(directories.RootNode().Name)
	for _, node := range directories.Roots(a.tree) {
		a.addBranch(root, node)
	}
	fmt.Print(root.Print())
	return nil
}

func (a *app) addBranch(parent gotree.Tree, node directories.Node) {
	branch := parent.Add(fmt.Sprintf("%s (%s)", node.Directory.Name, node.Directory.ID))
	for _, child := range directories.ChildrenOf(a.tree, node.Directory.ID) {
		a.addBranch(branch, child)
	}
}

func (a *app) cmdLs(ctx context.Context) error {
	if err := a.proc.Fetch(ctx); err != nil {
		return err
	}
	for _, node := range a.tree.List() {
		parent := node.Directory.ParentID()
		if parent == "" {
			parent = "-"
		}
		fmt.Printf("%-30s  %-24s  parent=%s\n", node.Directory.Name, node.Directory.ID, parent)
	}
	fmt.Printf("%d directories\n", a.tree.Len())
	return nil
}

func (a *app) cmdWatch(ctx context.Context) error {
	logging.SetLevel("debug")

	if err := a.proc.Fetch(ctx); err != nil {
		return err
	}
	logging.Info("watching directory changes", zap.Int("count", a.tree.Len()))

	listener := directories.NewListener(a.tree, a.rem, directories.ListenerConfig{
		BatchWindow:   a.cfg.BatchWindow,
		SortWindow:    a.cfg.SortWindow,
		BatchMaxItems: a.cfg.BatchMaxItems,
	})
	return listener.Run(ctx)
}

func (a *app) cmdMkdir(ctx context.Context, name, parent, asset string) error {
	if name == "" {
		return fmt.Errorf("mkdir: -name is required")
	}
	dir, err := a.proc.Create(ctx, name, parent, asset)
	if err != nil {
		return err
	}
	fmt.Printf("created %s (%s)\n", dir.Name, dir.ID)
	return nil
}

func (a *app) cmdRename(ctx context.Context, id, name string) error {
	if id == "" || name == "" {
		return fmt.Errorf("rename: -id and -name are required")
	}
	dir, err := a.lookup(ctx, id)
	if err != nil {
		return err
	}
	updated, err := a.proc.Rename(ctx, dir, name)
	if err != nil {
		return err
	}
	fmt.Printf("renamed %s to %s\n", updated.ID, updated.Name)
	return nil
}

func (a *app) cmdRm(ctx context.Context, id string) error {
	if id == "" {
		return fmt.Errorf("rm: -id is required")
	}
	dir, err := a.lookup(ctx, id)
	if err != nil {
		return err
	}
	if err := a.proc.Delete(ctx, dir); err != nil {
		return err
	}
	fmt.Printf("deleted %s\n", id)
	return nil
}

func (a *app) lookup(ctx context.Context, id string) (models.Directory, error) {
	if err := a.proc.Fetch(ctx); err != nil {
		return models.Directory{}, err
	}
	node, ok := a.tree.Get(id)
	if !ok {
		return models.Directory{}, fmt.Errorf("no directory with id %q", id)
	}
	return node.Directory, nil
}
