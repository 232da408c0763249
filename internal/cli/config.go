package cli

import (
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/roach88/viewkit/internal/chore"
	"github.com/roach88/viewkit/internal/compiler"
	"github.com/roach88/viewkit/internal/couch"
	"github.com/roach88/viewkit/internal/deploy"
	"github.com/roach88/viewkit/internal/engine"
	"github.com/roach88/viewkit/internal/humanid"
	"github.com/roach88/viewkit/internal/ir"
	"github.com/roach88/viewkit/internal/ledger"
	"github.com/roach88/viewkit/internal/migrate"
	"github.com/roach88/viewkit/internal/store"
)

const sqliteScheme = "sqlite:"

// Config is the resolved store and runtime configuration.
type Config struct {
	Store      string // sqlite:<path> or a CouchDB URL
	DB         string // CouchDB database name
	ProjectDir string
	Conflict   deploy.Strategy
	BatchSize  int
	ChunkSize  int
	LockFile   string
	LogLevel   string
	JSTarget   compiler.JSTarget
}

// setupStoreFlags adds the store connection flags shared by every command.
func setupStoreFlags(cmd *cobra.Command) {
	flags := cmd.PersistentFlags()
	flags.String("store", "sqlite:viewkit.db", "store location: sqlite:<path> or http(s)://host:port")
	flags.String("db", "", "database name on a CouchDB server")
	flags.String("project-dir", "", "directory of CUE view and migration definitions")
	flags.String("conflict", string(deploy.Update), "design document conflict strategy (update|use_old|fail)")
	flags.Int("batch-size", migrate.DefaultBatchSize, "migration intents read per page")
	flags.Int("chunk-size", 0, "embedded reduce chunk size (0 uses the engine default)")
	flags.String("lock-file", "", "migration lock file (defaults to <sqlite path>.lock)")
	flags.String("log-level", "warn", "log level (debug|info|warn|error)")
	flags.String("js-target", string(compiler.ES2015), "javascript level of the CouchDB view server (es2015|es5)")
}

// load resolves flags, environment and .env files into the options.
func (o *RootOptions) load(cmd *cobra.Command) error {
	// Missing env files are fine.
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	v := o.viper
	v.SetEnvPrefix("viewkit")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	if err := v.BindPFlags(cmd.Flags()); err != nil {
		return fmt.Errorf("binding flags: %w", err)
	}

	strategy, err := deploy.ParseStrategy(v.GetString("conflict"))
	if err != nil {
		return err
	}
	target, err := compiler.ParseJSTarget(v.GetString("js-target"))
	if err != nil {
		return err
	}

	o.Format = v.GetString("format")
	o.Verbose = v.GetBool("verbose")
	o.Config = Config{
		Store:      v.GetString("store"),
		DB:         v.GetString("db"),
		ProjectDir: v.GetString("project-dir"),
		Conflict:   strategy,
		BatchSize:  v.GetInt("batch-size"),
		ChunkSize:  v.GetInt("chunk-size"),
		LockFile:   v.GetString("lock-file"),
		LogLevel:   v.GetString("log-level"),
		JSTarget:   target,
	}

	o.Logger, err = newLogger(cmd.ErrOrStderr(), o.Config.LogLevel, o.Verbose)
	return err
}

// newLogger builds the text logger diagnostics go to. --verbose lowers
// the level to debug.
func newLogger(w io.Writer, level string, verbose bool) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid log level %q", level)
	}
	if verbose {
		lvl = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: lvl})), nil
}

// backend is an opened store plus the dialect its views compile to.
type backend struct {
	store   store.Store
	local   *store.Local // nil for remote stores
	dialect compiler.Dialect
	path    string
}

// Native reports whether the store executes Go closures. Builtin
// migrations need it; builtin views have a JavaScript form.
func (b *backend) Native() bool {
	return b.local != nil
}

// Close releases the embedded database.
func (b *backend) Close() error {
	if b.local != nil {
		return b.local.Close()
	}
	return nil
}

// openBackend opens the configured store.
func (o *RootOptions) openBackend() (*backend, error) {
	cfg := o.Config
	switch {
	case strings.HasPrefix(cfg.Store, sqliteScheme):
		path := strings.TrimPrefix(cfg.Store, sqliteScheme)
		if path == "" {
			return nil, fmt.Errorf("store %q has no database path", cfg.Store)
		}
		reg := ir.NewRegistry()
		if err := registerNative(reg, append(builtinViews(), builtinMigrations()...)...); err != nil {
			return nil, err
		}
		eopts := []engine.EngineOption{engine.WithLogger(o.Logger)}
		if cfg.ChunkSize > 0 {
			eopts = append(eopts, engine.WithChunkSize(cfg.ChunkSize))
		}
		local, err := store.Open(path,
			store.WithEngine(engine.New(reg, eopts...)),
			store.WithLogger(o.Logger))
		if err != nil {
			return nil, err
		}
		return &backend{store: local, local: local, dialect: compiler.Native{Registry: reg}, path: path}, nil

	case strings.HasPrefix(cfg.Store, "http://"), strings.HasPrefix(cfg.Store, "https://"):
		st, err := couch.Open(cfg.Store, cfg.DB, couch.WithLogger(o.Logger))
		if err != nil {
			return nil, err
		}
		return &backend{store: st, dialect: compiler.JavaScript{Target: cfg.JSTarget}}, nil
	}
	return nil, fmt.Errorf("unsupported store %q: want sqlite:<path> or an http(s) URL", cfg.Store)
}

// deployer returns a deployer for the backend using the configured
// conflict strategy.
func (o *RootOptions) deployer(b *backend) *deploy.Deployer {
	return deploy.New(b.store, b.dialect, o.Config.Conflict, deploy.WithLogger(o.Logger))
}

// builtinViews returns every view the read commands depend on.
func builtinViews() []ir.ViewDefinition {
	var defs []ir.ViewDefinition
	defs = append(defs, ledger.Views()...)
	defs = append(defs, chore.Views()...)
	defs = append(defs, humanid.Views()...)
	return defs
}

// scriptViews returns builtinViews in JavaScript source form.
func scriptViews() []ir.ViewDefinition {
	var defs []ir.ViewDefinition
	defs = append(defs, ledger.ScriptViews()...)
	defs = append(defs, chore.ScriptViews()...)
	defs = append(defs, humanid.ScriptViews()...)
	return defs
}

// BuiltinViews returns the builtin views in the form the store runs.
func (b *backend) BuiltinViews() []ir.ViewDefinition {
	if b.Native() {
		return builtinViews()
	}
	return scriptViews()
}

// builtinMigrations returns the migrations shipped with the binary.
func builtinMigrations() []ir.ViewDefinition {
	return []ir.ViewDefinition{humanid.Backfill()}
}

// registerNative registers every Go closure defs carry, so stored design
// documents can run before anything is redeployed in this process.
func registerNative(reg *ir.Registry, defs ...ir.ViewDefinition) error {
	for _, def := range defs {
		fns := []ir.Function{def.Map}
		if def.Reduce != nil {
			fns = append(fns, *def.Reduce)
		}
		for _, fn := range def.Reduces {
			fns = append(fns, fn)
		}
		for _, fn := range fns {
			if fn.Map == nil && fn.Reduce == nil {
				continue
			}
			if err := reg.Register(fn); err != nil {
				return fmt.Errorf("register view %s: %w", def.Name, err)
			}
		}
	}
	return nil
}
