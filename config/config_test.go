package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/hazyhaar/humanpace/browser"
)

const sample = `
browser:
  stealth: headful
  remote: ws://chrome:9222/devtools/browser/abc
  resource_blocking: [images, fonts]
resilience:
  max_attempts: 4
  base_delay: 2s
  jitter_min: 0.9
  jitter_max: 1.1
motion:
  click_pause_min: 100ms
  click_pause_max: 200ms
health:
  db: /tmp/hp.db
targets:
  - url: https://rewards.example/
  - name: search
    url: https://search.example/?q=weather
`

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "humanpace.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad(t *testing.T) {
	cfg, err := Load(writeFile(t, sample))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	rc := cfg.ResilienceConfig()
	if rc.MaxAttempts != 4 || rc.BaseDelay != 2*time.Second || rc.JitterMin != 0.9 {
		t.Fatalf("resilience = %+v", rc)
	}
	if rc.MaxDelay != 60*time.Second || rc.BreakerThreshold != 3 {
		t.Fatalf("unset fields must keep defaults: %+v", rc)
	}

	bc := cfg.BrowserConfig()
	if bc.Stealth != browser.LevelHeadful || bc.RemoteURL == "" || len(bc.ResourceBlocking) != 2 {
		t.Fatalf("browser = %+v", bc)
	}
	if cp := cfg.ClickPause(); cp.Min != 100*time.Millisecond || cp.Max != 200*time.Millisecond {
		t.Fatalf("click pause = %+v", cp)
	}
	if cfg.Targets[0].Name != "target-1" || cfg.Targets[1].Name != "search" {
		t.Fatalf("targets = %+v", cfg.Targets)
	}
	if cfg.Health.DB != "/tmp/hp.db" || cfg.Health.Listen != ":9464" {
		t.Fatalf("health = %+v", cfg.Health)
	}
	if len(cfg.Pools().Agents) == 0 {
		t.Fatal("built-in pools expected without a fingerprint section")
	}
}

func TestLoad_Invalid(t *testing.T) {
	body := `
browser:
  stealth: invisible
resilience:
  jitter_min: 2
  jitter_max: 1
targets:
  - name: a
`
	_, err := Load(writeFile(t, body))
	if err == nil {
		t.Fatal("expected validation error")
	}
	for _, want := range []string{"browser.stealth", "jitter", "url is required"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("error %q does not mention %q", err, want)
		}
	}
}

func TestLoad_EmptyPath(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults must validate: %v", err)
	}
}

func TestOverlayEnv(t *testing.T) {
	env := map[string]string{
		"MAX_RETRIES":       "5",
		"BASE_RETRY_DELAY":  "3",
		"MAX_RETRY_DELAY":   "90s",
		"JITTER_MIN":        "0.8",
		"JITTER_MAX":        "1.2",
		"HEALTH_DB":         "/var/lib/hp.db",
		"CHROME_REMOTE_URL": "ws://remote:9222",
	}
	cfg := Default()
	if err := cfg.overlayEnv(func(k string) string { return env[k] }); err != nil {
		t.Fatalf("overlayEnv: %v", err)
	}
	rc := cfg.ResilienceConfig()
	if rc.MaxAttempts != 5 || rc.BaseDelay != 3*time.Second || rc.MaxDelay != 90*time.Second {
		t.Fatalf("resilience = %+v", rc)
	}
	if rc.JitterMin != 0.8 || rc.JitterMax != 1.2 {
		t.Fatalf("jitter = %g..%g", rc.JitterMin, rc.JitterMax)
	}
	if cfg.Health.DB != "/var/lib/hp.db" || cfg.Browser.Remote != "ws://remote:9222" {
		t.Fatalf("overlay missed string vars: %+v %+v", cfg.Health, cfg.Browser)
	}
}

func TestOverlayEnv_Invalid(t *testing.T) {
	env := map[string]string{"MAX_RETRIES": "many", "BASE_RETRY_DELAY": "-1"}
	cfg := Default()
	err := cfg.overlayEnv(func(k string) string { return env[k] })
	if err == nil || !strings.Contains(err.Error(), "MAX_RETRIES") || !strings.Contains(err.Error(), "BASE_RETRY_DELAY") {
		t.Fatalf("err = %v", err)
	}
	if cfg.Resilience.MaxAttempts != 0 {
		t.Fatal("invalid value must not be applied")
	}
}

func TestLoadEnv_File(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	if err := os.WriteFile(path, []byte("HEALTH_DB=/env/file.db\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("HEALTH_DB", "")
	os.Unsetenv("HEALTH_DB")

	cfg := Default()
	if err := cfg.LoadEnv(path); err != nil {
		t.Fatalf("LoadEnv: %v", err)
	}
	if cfg.Health.DB != "/env/file.db" {
		t.Fatalf("health db = %q", cfg.Health.DB)
	}
	if err := cfg.LoadEnv(filepath.Join(dir, "missing.env")); err != nil {
		t.Fatalf("missing env file must be ignored: %v", err)
	}
}
