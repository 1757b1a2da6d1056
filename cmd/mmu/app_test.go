package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/charmbracelet/x/ansi"

	"mmu/internal/config"
	appErrors "mmu/internal/errors"
	"mmu/internal/update"
)

type testEnv struct {
	app     *app
	stdout  *bytes.Buffer
	stderr  *bytes.Buffer
	dir     string
	modsDir string
	cfgPath string
	apiHits *atomic.Int32

	mu sync.Mutex
	// onLookup runs inside the release lookup handler.
	onLookup   func(r *http.Request)
	userAgents []string
}

func (e *testEnv) setOnLookup(fn func(r *http.Request)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onLookup = fn
}

func (e *testEnv) agents() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.userAgents...)
}

// newTestEnv builds an app wired to a fake GitHub that publishes
// loader-2.1.jar for acme/loader.
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	cleanup := config.ResetForTesting(t)
	t.Cleanup(cleanup)

	dir := t.TempDir()
	if err := config.Set(config.KeyLedgerPath, filepath.Join(dir, "history.db")); err != nil {
		t.Fatalf("set ledger path: %v", err)
	}

	hits := &atomic.Int32{}
	env := &testEnv{apiHits: hits}
	var server *httptest.Server
	server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/repos/acme/loader/releases/latest":
			hits.Add(1)
			env.mu.Lock()
			env.userAgents = append(env.userAgents, r.Header.Get("User-Agent"))
			onLookup := env.onLookup
			env.mu.Unlock()
			if onLookup != nil {
				onLookup(r)
				return
			}
			_ = json.NewEncoder(w).Encode(map[string]any{
				"tag_name": "v2.1",
				"assets": []map[string]any{
					{"name": "loader-2.1.jar", "browser_download_url": server.URL + "/dl/loader-2.1.jar"},
				},
			})
		case "/dl/loader-2.1.jar":
			_, _ = w.Write([]byte("new loader"))
		default:
			hits.Add(1)
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(server.Close)

	modsDir := filepath.Join(dir, "mods")
	if err := os.MkdirAll(modsDir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	stdout, stderr := &bytes.Buffer{}, &bytes.Buffer{}
	env.app = &app{
		stdout:     stdout,
		stderr:     stderr,
		apiBaseURL: server.URL,
	}
	env.stdout = stdout
	env.stderr = stderr
	env.dir = dir
	env.modsDir = modsDir
	env.cfgPath = filepath.Join(dir, "mmu_config.json")
	env.writeConfig(t, modsDir)
	return env
}

func (e *testEnv) writeConfig(t *testing.T, location string) {
	t.Helper()
	doc := map[string]any{
		"mods": []map[string]any{
			{
				"name":     "fabric",
				"location": location,
				"mods": []map[string]any{
					{"name": "loader", "pattern": "loader-*.jar", "download_link": "https://github.com/acme/loader"},
				},
			},
		},
	}
	data, err := json.Marshal(doc)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if err := os.WriteFile(e.cfgPath, data, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
}

func (e *testEnv) run(args ...string) int {
	e.stdout.Reset()
	e.stderr.Reset()
	full := append([]string{"--plain", "--config", e.cfgPath}, args...)
	return e.app.run(context.Background(), full)
}

func (e *testEnv) output() string {
	return ansi.Strip(e.stdout.String())
}

func TestParseArgs(t *testing.T) {
	tests := []struct {
		name       string
		args       []string
		wantAction string
		wantGroup  string
		wantErr    bool
	}{
		{name: "search", args: []string{"fabric"}, wantGroup: "fabric"},
		{name: "install", args: []string{"install", "fabric"}, wantAction: "install", wantGroup: "fabric"},
		{name: "update", args: []string{"update", "fabric"}, wantAction: "update", wantGroup: "fabric"},
		{name: "history", args: []string{"history", "fabric"}, wantAction: "history", wantGroup: "fabric"},
		{name: "none", args: nil, wantErr: true},
		{name: "too many", args: []string{"update", "a", "b"}, wantErr: true},
		{name: "unknown action", args: []string{"remove", "fabric"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			action, group, err := parseArgs(tt.args)
			if tt.wantErr {
				if !appErrors.IsCode(err, appErrors.CodeUsage) {
					t.Fatalf("expected usage error, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if action != tt.wantAction || group != tt.wantGroup {
				t.Errorf("parseArgs() = (%q, %q), want (%q, %q)", action, group, tt.wantAction, tt.wantGroup)
			}
		})
	}
}

func TestRunUsageErrors(t *testing.T) {
	env := newTestEnv(t)

	if code := env.run(); code != exitUsage {
		t.Errorf("no args: exit %d, want %d", code, exitUsage)
	}
	if !strings.Contains(env.output(), "valid number of arguments") {
		t.Errorf("missing usage message: %q", env.output())
	}
	if !strings.Contains(env.stderr.String(), "Usage:") {
		t.Errorf("usage text should go to stderr: %q", env.stderr.String())
	}

	if code := env.run("remove", "fabric"); code != exitUsage {
		t.Errorf("unknown action: exit %d, want %d", code, exitUsage)
	}
	if code := env.run("--bogus"); code != exitUsage {
		t.Errorf("unknown flag: exit %d, want %d", code, exitUsage)
	}
}

func TestRunVersion(t *testing.T) {
	env := newTestEnv(t)
	if code := env.run("--version"); code != exitOK {
		t.Fatalf("exit %d", code)
	}
	if !strings.HasPrefix(env.stdout.String(), "mmu version dev") {
		t.Errorf("version output = %q", env.stdout.String())
	}
}

func TestRunConfigErrors(t *testing.T) {
	env := newTestEnv(t)

	if err := os.Remove(env.cfgPath); err != nil {
		t.Fatal(err)
	}
	if code := env.run("fabric"); code != exitConfig {
		t.Errorf("missing config: exit %d, want %d", code, exitConfig)
	}
	if !strings.Contains(env.output(), "fatal") {
		t.Errorf("expected a fatal line: %q", env.output())
	}

	if err := os.WriteFile(env.cfgPath, []byte(`{"mods": [`), 0o644); err != nil {
		t.Fatal(err)
	}
	if code := env.run("fabric"); code != exitConfig {
		t.Errorf("malformed config: exit %d, want %d", code, exitConfig)
	}
}

func TestRunGroupNotFound(t *testing.T) {
	env := newTestEnv(t)
	if code := env.run("fab"); code != exitOK {
		t.Fatalf("exit %d, want %d", code, exitOK)
	}
	out := env.output()
	if !strings.Contains(out, "warning") || !strings.Contains(out, "could not find 'fab'") {
		t.Errorf("unexpected output: %q", out)
	}
	if !strings.Contains(out, "did you mean 'fabric'") {
		t.Errorf("expected a suggestion: %q", out)
	}
}

func TestRunSearchShowsGroup(t *testing.T) {
	env := newTestEnv(t)
	if code := env.run("fabric"); code != exitOK {
		t.Fatalf("exit %d", code)
	}
	out := env.output()
	for _, want := range []string{"fabric", env.modsDir, "loader", "loader-*.jar", "https://github.com/acme/loader"} {
		if !strings.Contains(out, want) {
			t.Errorf("search output missing %q:\n%s", want, out)
		}
	}
	if env.apiHits.Load() != 0 {
		t.Error("search must not call the API")
	}
}

func TestRunInstallIsNoop(t *testing.T) {
	env := newTestEnv(t)
	if code := env.run("install", "fabric"); code != exitOK {
		t.Fatalf("exit %d", code)
	}
	if !strings.Contains(env.output(), "info") {
		t.Errorf("expected an info line: %q", env.output())
	}
	entries, _ := os.ReadDir(env.modsDir)
	if len(entries) != 0 || env.apiHits.Load() != 0 {
		t.Errorf("install should not touch anything: %d files, %d calls", len(entries), env.apiHits.Load())
	}
}

func TestRunUpdateAndHistory(t *testing.T) {
	env := newTestEnv(t)
	old := filepath.Join(env.modsDir, "loader-2.0.jar")
	if err := os.WriteFile(old, []byte("old"), 0o644); err != nil {
		t.Fatal(err)
	}

	if code := env.run("update", "fabric"); code != exitOK {
		t.Fatalf("update exit %d:\n%s", code, env.output())
	}
	out := env.output()
	if !strings.Contains(out, "Updated loader to loader-2.1.jar (v2.1)") {
		t.Errorf("missing success line:\n%s", out)
	}
	if !strings.Contains(out, "1 updated, 0 current, 0 skipped, 0 failed") {
		t.Errorf("missing summary:\n%s", out)
	}
	if _, err := os.Stat(old); !os.IsNotExist(err) {
		t.Errorf("old file should be removed, stat err = %v", err)
	}
	data, err := os.ReadFile(filepath.Join(env.modsDir, "loader-2.1.jar"))
	if err != nil || string(data) != "new loader" {
		t.Fatalf("new file = %q, %v", data, err)
	}

	if code := env.run("update", "fabric"); code != exitOK {
		t.Fatalf("second update exit %d", code)
	}
	if !strings.Contains(env.output(), "0 updated, 1 current") {
		t.Errorf("second run should be a no-op:\n%s", env.output())
	}

	if code := env.run("history", "fabric"); code != exitOK {
		t.Fatalf("history exit %d", code)
	}
	hist := env.output()
	for _, want := range []string{"loader-2.1.jar", "v2.1", "loader-2.0.jar"} {
		if !strings.Contains(hist, want) {
			t.Errorf("history missing %q:\n%s", want, hist)
		}
	}
}

func TestRunUpdateWithoutLedger(t *testing.T) {
	env := newTestEnv(t)
	if code := env.run("--no-ledger", "update", "fabric"); code != exitOK {
		t.Fatalf("exit %d", code)
	}
	if _, err := os.Stat(filepath.Join(env.dir, "history.db")); !os.IsNotExist(err) {
		t.Errorf("ledger should not be created, stat err = %v", err)
	}
}

func TestRunHistoryEmpty(t *testing.T) {
	env := newTestEnv(t)
	if code := env.run("history", "fabric"); code != exitOK {
		t.Fatalf("exit %d", code)
	}
	if !strings.Contains(env.output(), "No installs recorded for 'fabric'") {
		t.Errorf("unexpected output: %q", env.output())
	}
}

func TestRunUpdateMissingLocation(t *testing.T) {
	env := newTestEnv(t)
	env.writeConfig(t, filepath.Join(env.dir, "nowhere"))

	if code := env.run("update", "fabric"); code != exitOK {
		t.Fatalf("exit %d, want %d", code, exitOK)
	}
	if !strings.Contains(env.output(), "does not exist") {
		t.Errorf("expected a location warning: %q", env.output())
	}
	if env.apiHits.Load() != 0 {
		t.Errorf("expected no network calls, got %d", env.apiHits.Load())
	}
}

func TestRunUpdateInterrupted(t *testing.T) {
	env := newTestEnv(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	code := env.app.run(ctx, []string{"--plain", "--config", env.cfgPath, "update", "fabric"})
	if code != exitInterrupted {
		t.Fatalf("exit %d, want %d", code, exitInterrupted)
	}
	if env.apiHits.Load() != 0 {
		t.Errorf("cancelled run made %d calls", env.apiHits.Load())
	}
}

func TestRunUpdateInterruptedDuringLookup(t *testing.T) {
	env := newTestEnv(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	env.setOnLookup(func(r *http.Request) {
		cancel()
		<-r.Context().Done()
	})

	code := env.app.run(ctx, []string{"--plain", "--config", env.cfgPath, "update", "fabric"})
	if code != exitInterrupted {
		t.Fatalf("exit %d, want %d:\n%s", code, exitInterrupted, env.output())
	}
	if !strings.Contains(env.output(), "interrupted") {
		t.Errorf("expected an interrupted warning:\n%s", env.output())
	}
}

func TestRunChecksArgumentsBeforeSettings(t *testing.T) {
	env := newTestEnv(t)
	calls := 0
	env.app.initialize = func(...config.Option) error {
		calls++
		return errors.New("parse user config: yaml: line 1: did not find expected key")
	}

	if code := env.run("update", "fabric", "extra"); code != exitUsage {
		t.Fatalf("usage error exit %d, want %d", code, exitUsage)
	}
	if calls != 0 {
		t.Errorf("settings should not load for a usage error, loaded %d times", calls)
	}

	if code := env.run("fabric"); code != exitConfig {
		t.Fatalf("broken settings exit %d, want %d", code, exitConfig)
	}
	if !strings.Contains(env.output(), "Error initializing settings") {
		t.Errorf("unexpected output: %q", env.output())
	}
}

func TestRunUpdateSendsDefaultUserAgent(t *testing.T) {
	env := newTestEnv(t)
	if code := env.run("update", "fabric"); code != exitOK {
		t.Fatalf("exit %d", code)
	}
	if agents := env.agents(); len(agents) != 1 || agents[0] != update.DefaultUserAgent {
		t.Errorf("user agents = %q, want %q", agents, update.DefaultUserAgent)
	}
}

func TestRunDebugReportsLogPath(t *testing.T) {
	env := newTestEnv(t)
	home := t.TempDir()
	t.Setenv("HOME", home)

	if code := env.run("--debug", "fabric"); code != exitOK {
		t.Fatalf("exit %d", code)
	}
	logPath := filepath.Join(home, ".mmu", "debug.log")
	if !strings.Contains(env.output(), "Writing debug log to "+logPath) {
		t.Errorf("expected the debug log path:\n%s", env.output())
	}
	data, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("read debug log: %v", err)
	}
	if !strings.Contains(string(data), "loaded 1 groups") {
		t.Errorf("debug log missing load event:\n%s", data)
	}
}
