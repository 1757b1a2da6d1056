package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"strings"

	"mmu/internal/config"
	"mmu/internal/console"
	"mmu/internal/debug"
	"mmu/internal/domain"
	appErrors "mmu/internal/errors"
	"mmu/internal/ledger"
	"mmu/internal/progress"
	"mmu/internal/update"
)

const (
	exitOK          = 0
	exitConfig      = 1
	exitUsage       = 2
	exitInterrupted = 130
)

const (
	actionInstall = "install"
	actionUpdate  = "update"
	actionHistory = "history"

	historyLimit = 50
	renderWidth  = 100
)

const usageText = `Usage:
  mmu [flags] <group>            show a mod group
  mmu [flags] install <group>    reserved, does nothing yet
  mmu [flags] update <group>     download the latest release of every mod
  mmu [flags] history <group>    list recorded installs

Flags:
`

// app holds the process-level wiring. Tests build one with buffers and a
// rewriting transport.
type app struct {
	stdout      io.Writer
	stderr      io.Writer
	interactive bool
	transport   http.RoundTripper
	apiBaseURL  string
	// initialize loads settings; nil means config.Initialize.
	initialize func(...config.Option) error

	log *console.Logger
}

type cliFlags struct {
	configPath string
	debug      bool
	plain      bool
	version    bool
	noLedger   bool
}

func (a *app) parseFlags(args []string) (cliFlags, []string, error) {
	var f cliFlags
	fs := flag.NewFlagSet("mmu", flag.ContinueOnError)
	fs.SetOutput(a.stderr)
	fs.StringVar(&f.configPath, "config", "", "Path to the mods file (default: ./"+config.ModsFileName+")")
	fs.BoolVar(&f.debug, "debug", false, "Write a debug log to ~/.mmu/debug.log")
	fs.BoolVar(&f.plain, "plain", false, "Disable colors and markdown styling")
	fs.BoolVar(&f.version, "version", false, "Print version information and exit")
	fs.BoolVar(&f.noLedger, "no-ledger", false, "Do not record installs in the history database")
	fs.Usage = func() {
		_, _ = io.WriteString(a.stderr, usageText)
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return f, nil, err
	}
	return f, fs.Args(), nil
}

func (a *app) run(ctx context.Context, args []string) int {
	flags, rest, err := a.parseFlags(args)
	if errors.Is(err, flag.ErrHelp) {
		return exitOK
	}
	if err != nil {
		return exitUsage
	}
	if flags.version {
		printVersion(a.stdout)
		return exitOK
	}

	a.log = console.New(a.stdout, console.WithPlain(flags.plain))
	action, groupName, err := parseArgs(rest)
	if err != nil {
		a.log.Fatalf("%v", err)
		_, _ = io.WriteString(a.stderr, usageText)
		return exitUsage
	}

	initialize := a.initialize
	if initialize == nil {
		initialize = config.Initialize
	}
	if err := initialize(); err != nil {
		a.log.Fatalf("Error initializing settings: %v", err)
		return exitConfig
	}
	if err := config.ApplyOverrides(flagOverrides(flags)); err != nil {
		a.log.Fatalf("Error applying flags: %v", err)
		return exitConfig
	}

	plain := strings.EqualFold(strings.TrimSpace(config.GetString(config.KeyOutputFormat)), "plain")
	a.log = console.New(a.stdout, console.WithPlain(plain))

	if err := debug.Init(flags.debug); err != nil {
		a.log.Warningf("Debug log unavailable: %v", err)
	}
	defer debug.Close()
	if debug.Enabled() {
		if path, err := debug.GetLogPath(); err == nil {
			a.log.Infof("Writing debug log to %s", path)
		}
	}
	debug.Event().Strs("args", args).Str("version", Version).Msg("mmu started")

	cfg, err := loadConfiguration(flags.configPath)
	if err != nil {
		a.log.Fatalf("%v", err)
		return exitConfig
	}

	group, err := cfg.Locate(groupName)
	if err != nil {
		a.log.Warningf("%v", err)
		return exitOK
	}

	switch action {
	case actionInstall:
		a.log.Infof("Install is not available yet; nothing was changed for '%s'", group.Name)
		return exitOK
	case actionUpdate:
		return a.update(ctx, group, plain)
	case actionHistory:
		return a.history(ctx, group, plain)
	default:
		a.log.Print(a.renderGroup(group, plain))
		return exitOK
	}
}

func flagOverrides(f cliFlags) map[string]any {
	overrides := map[string]any{}
	if p := strings.TrimSpace(f.configPath); p != "" {
		overrides[config.KeyConfigPath] = p
	}
	if f.plain {
		overrides[config.KeyOutputFormat] = "plain"
	}
	if f.noLedger {
		overrides[config.KeyLedgerEnabled] = false
	}
	return overrides
}

// parseArgs accepts "<group>" or "<action> <group>". An empty action means
// search mode.
func parseArgs(args []string) (action, group string, err error) {
	switch len(args) {
	case 1:
		return "", args[0], nil
	case 2:
		switch args[0] {
		case actionInstall, actionUpdate, actionHistory:
			return args[0], args[1], nil
		}
		return "", "", appErrors.New(appErrors.CodeUsage, fmt.Sprintf("Unknown action '%s'", args[0]), nil)
	default:
		return "", "", appErrors.New(appErrors.CodeUsage, "You did not provide a valid number of arguments!", nil)
	}
}

func loadConfiguration(explicit string) (domain.Configuration, error) {
	path, err := config.ResolveModsPath(explicit)
	if err != nil {
		return domain.Configuration{}, err
	}
	cfg, err := config.LoadMods(path)
	if err != nil {
		return cfg, err
	}
	debug.Logf("loaded %d groups from %s", len(cfg.Groups), path)
	return cfg, nil
}

func (a *app) update(ctx context.Context, group domain.ModGroup, plain bool) int {
	userAgent := config.GetString(config.KeyHTTPUserAgent)

	resolverOpts := []update.ResolverOption{
		update.WithHTTPClient(&http.Client{
			Timeout:   config.GetDuration(config.KeyHTTPTimeout),
			Transport: a.transport,
		}),
		update.WithUserAgent(userAgent),
	}
	if a.apiBaseURL != "" {
		resolverOpts = append(resolverOpts, update.WithAPIBaseURL(a.apiBaseURL))
	}

	syncerOpts := []update.SyncerOption{
		update.WithSyncerHTTPClient(&http.Client{
			Timeout:   config.GetDuration(config.KeyHTTPDownloadTimeout),
			Transport: a.transport,
		}),
		update.WithSyncerUserAgent(userAgent),
		update.WithAtomicReplace(config.GetBool(config.KeyInstallAtomic)),
	}
	stopDisplay := func() {}
	if a.interactive && !plain {
		display := progress.New(a.stderr)
		restore := a.log.Redirect(display.Writer())
		stopDisplay = func() {
			restore()
			display.Stop()
		}
		syncerOpts = append(syncerOpts, update.WithReporter(display))
	}

	var runnerOpts []update.RunnerOption
	if config.GetBool(config.KeyLedgerEnabled) {
		if l := a.openLedger(ctx); l != nil {
			defer func() { _ = l.Close() }()
			runnerOpts = append(runnerOpts, update.WithRecorder(l))
		}
	}

	runner := update.NewRunner(
		update.NewResolver(resolverOpts...),
		update.NewSyncer(syncerOpts...),
		a.log,
		runnerOpts...,
	)

	report, err := runner.UpdateGroup(ctx, group)
	stopDisplay()
	switch {
	case appErrors.IsCode(err, appErrors.CodeLocationMissing):
		a.log.Warningf("Skipping '%s': %v", group.Name, err)
		return exitOK
	case errors.Is(err, context.Canceled):
		a.log.Warningf("Update of '%s' interrupted", group.Name)
		a.printSummary(report)
		return exitInterrupted
	case err != nil:
		a.log.Warningf("Update of '%s' stopped: %v", group.Name, err)
	}

	a.printSummary(report)
	return exitOK
}

func (a *app) printSummary(report update.Report) {
	a.log.Infof("'%s': %d updated, %d current, %d skipped, %d failed",
		report.Group,
		report.Count(update.OutcomeUpdated),
		report.Count(update.OutcomeAlreadyCurrent),
		report.Count(update.OutcomeSkipped),
		report.Count(update.OutcomeFailed),
	)
}

// openLedger returns nil when the ledger cannot be opened; updates still
// proceed without history.
func (a *app) openLedger(ctx context.Context) *ledger.Ledger {
	path, err := config.LedgerPath()
	if err != nil {
		a.log.Warningf("Install history disabled: %v", err)
		return nil
	}
	l, err := ledger.Open(ctx, path)
	if err != nil {
		a.log.Warningf("Install history disabled: %v", err)
		return nil
	}
	debug.Event().Str("path", l.Path()).Msg("ledger opened")
	return l
}

func (a *app) history(ctx context.Context, group domain.ModGroup, plain bool) int {
	if !config.GetBool(config.KeyLedgerEnabled) {
		a.log.Warningf("Install history is disabled")
		return exitOK
	}
	l := a.openLedger(ctx)
	if l == nil {
		return exitOK
	}
	defer func() { _ = l.Close() }()

	entries, err := l.History(ctx, group.Name, historyLimit)
	if err != nil {
		a.log.Warningf("%v", err)
		return exitOK
	}
	if len(entries) == 0 {
		a.log.Infof("No installs recorded for '%s'", group.Name)
		return exitOK
	}
	a.log.Print(renderHistory(a.log.Writer(), entries, plain))
	return exitOK
}
