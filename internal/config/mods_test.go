package config

import (
	"os"
	"path/filepath"
	"testing"

	appErrors "mmu/internal/errors"
)

const sampleMods = `{
  "mods": [
    {
      "name": "Core",
      "location": "/srv/minecraft/mods",
      "mods": [
        {"name": "Loader", "pattern": "loader-*.jar", "download_link": "https://github.com/acme/loader"},
        {"name": "Sodium", "pattern": "sodium-fabric-*.jar", "download_link": "https://github.com/CaffeineMC/sodium-fabric"}
      ]
    },
    {"name": "empty", "location": "/tmp/empty", "mods": []}
  ]
}`

func TestParseMods(t *testing.T) {
	cfg, err := ParseMods([]byte(sampleMods))
	if err != nil {
		t.Fatalf("ParseMods returned error: %v", err)
	}
	if len(cfg.Groups) != 2 {
		t.Fatalf("expected 2 groups, got %d", len(cfg.Groups))
	}
	core := cfg.Groups[0]
	if core.Name != "Core" {
		t.Fatalf("group name = %q, want Core (values keep their case)", core.Name)
	}
	if core.Location != "/srv/minecraft/mods" {
		t.Fatalf("location = %q", core.Location)
	}
	if len(core.Mods) != 2 {
		t.Fatalf("expected 2 mods, got %d", len(core.Mods))
	}
	loader := core.Mods[0]
	if loader.Name != "Loader" || loader.Pattern != "loader-*.jar" || loader.DownloadLink != "https://github.com/acme/loader" {
		t.Fatalf("unexpected first mod: %+v", loader)
	}
	if core.Mods[1].Name != "Sodium" {
		t.Fatalf("mods must keep declared order, got %+v", core.Mods)
	}
	if len(cfg.Groups[1].Mods) != 0 {
		t.Fatalf("expected empty mod list, got %+v", cfg.Groups[1].Mods)
	}
}

func TestParseModsRejectsBadDocuments(t *testing.T) {
	cases := map[string]string{
		"empty":        "",
		"whitespace":   "   \n",
		"not json":     "mods: []",
		"truncated":    `{"mods": [`,
		"missing mods": `{"groups": []}`,
		"wrong shape":  `{"mods": "core"}`,
		"array root":   `[]`,
		"upper keys":   `{"MODS": []}`,
		"numeric name": `{"mods": [{"name": 123, "location": "/tmp", "mods": []}]}`,
		"bool mod":     `{"mods": [{"name": "a", "location": "/tmp", "mods": [{"name": true, "pattern": "a*", "download_link": "x"}]}]}`,
		"number link":  `{"mods": [{"name": "a", "location": "/tmp", "mods": [{"name": "m", "pattern": "a*", "download_link": 7}]}]}`,
		"upper field":  `{"mods": [{"NAME": "a", "location": "/tmp", "mods": []}]}`,
		"no location":  `{"mods": [{"name": "a", "mods": []}]}`,
		"no pattern":   `{"mods": [{"name": "a", "location": "/tmp", "mods": [{"name": "m", "download_link": "x"}]}]}`,
	}
	for name, doc := range cases {
		_, err := ParseMods([]byte(doc))
		if err == nil {
			t.Fatalf("%s: expected error", name)
		}
		if !appErrors.IsCode(err, appErrors.CodeConfigInvalid) {
			t.Fatalf("%s: code = %s, want %s", name, appErrors.CodeOf(err), appErrors.CodeConfigInvalid)
		}
	}
}

func TestParseModsIgnoresUnknownKeys(t *testing.T) {
	doc := `{"$schema": "mmu", "mods": [{"name": "a", "location": "/tmp", "comment": "x", "mods": []}]}`
	cfg, err := ParseMods([]byte(doc))
	if err != nil {
		t.Fatalf("ParseMods returned error: %v", err)
	}
	if len(cfg.Groups) != 1 || cfg.Groups[0].Name != "a" {
		t.Fatalf("unexpected config: %+v", cfg)
	}
}

func TestLoadModsMissingFile(t *testing.T) {
	_, err := LoadMods(filepath.Join(t.TempDir(), ModsFileName))
	if err == nil {
		t.Fatal("expected error for missing file")
	}
	if !appErrors.IsCode(err, appErrors.CodeConfigMissing) {
		t.Fatalf("code = %s, want %s", appErrors.CodeOf(err), appErrors.CodeConfigMissing)
	}
}

func TestLoadModsReadsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), ModsFileName)
	writeFile(t, path, sampleMods)

	cfg, err := LoadMods(path)
	if err != nil {
		t.Fatalf("LoadMods returned error: %v", err)
	}
	if _, err := cfg.Locate("Core"); err != nil {
		t.Fatalf("Locate(Core) returned error: %v", err)
	}
}

func TestResolveModsPathPrecedence(t *testing.T) {
	reset()
	t.Cleanup(reset)

	tmp := t.TempDir()
	if err := Initialize(WithWorkingDir(tmp), WithUserConfig(filepath.Join(tmp, "user.yaml"))); err != nil {
		t.Fatalf("Initialize returned error: %v", err)
	}

	got, err := ResolveModsPath("/explicit/mods.json")
	if err != nil || got != "/explicit/mods.json" {
		t.Fatalf("explicit path should win, got %q (%v)", got, err)
	}

	if err := Set(KeyConfigPath, "/setting/mods.json"); err != nil {
		t.Fatalf("Set returned error: %v", err)
	}
	got, err = ResolveModsPath("")
	if err != nil || got != "/setting/mods.json" {
		t.Fatalf("setting should win over discovery, got %q (%v)", got, err)
	}
}

func TestResolveModsPathDiscovery(t *testing.T) {
	reset()
	t.Cleanup(reset)

	workDir := t.TempDir()
	exeDir := t.TempDir()
	if err := Initialize(WithWorkingDir(workDir), WithUserConfig(filepath.Join(workDir, "user.yaml"))); err != nil {
		t.Fatalf("Initialize returned error: %v", err)
	}

	origExe := executablePath
	executablePath = func() (string, error) { return filepath.Join(exeDir, "mmu"), nil }
	t.Cleanup(func() { executablePath = origExe })
	t.Chdir(workDir)

	if _, err := ResolveModsPath(""); !appErrors.IsCode(err, appErrors.CodeConfigMissing) {
		t.Fatalf("expected config_missing when no file exists, got %v", err)
	}

	exeCfg := filepath.Join(exeDir, ModsFileName)
	writeFile(t, exeCfg, sampleMods)
	got, err := ResolveModsPath("")
	if err != nil {
		t.Fatalf("ResolveModsPath returned error: %v", err)
	}
	if !sameFile(t, got, exeCfg) {
		t.Fatalf("expected executable-dir config, got %q", got)
	}

	wdCfg := filepath.Join(workDir, ModsFileName)
	writeFile(t, wdCfg, sampleMods)
	got, err = ResolveModsPath("")
	if err != nil {
		t.Fatalf("ResolveModsPath returned error: %v", err)
	}
	if !sameFile(t, got, wdCfg) {
		t.Fatalf("working directory config should win, got %q", got)
	}
}

func sameFile(t *testing.T, a, b string) bool {
	t.Helper()
	ia, err := os.Stat(a)
	if err != nil {
		t.Fatalf("stat %s: %v", a, err)
	}
	ib, err := os.Stat(b)
	if err != nil {
		t.Fatalf("stat %s: %v", b, err)
	}
	return os.SameFile(ia, ib)
}
