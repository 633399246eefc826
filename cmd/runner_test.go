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
	"testing"

	"github.com/desertthunder/ytsync/internal/shared"
	tu "github.com/desertthunder/ytsync/internal/testing"
)

type fixture struct {
	runner *Runner
	client *tu.MockCollectionClient
	output *bytes.Buffer
	config string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	client := tu.NewMockCollectionClient(2)
	client.SetCollection("PLfirst", "First", "a", "b", "c")
	client.SetCollection("PLsecond", "Second", "d")

	output := &bytes.Buffer{}
	runner := NewRunner(RunnerOpts{
		DB:     tu.NewTestDB(t),
		Client: client,
		Logger: shared.DiscardLogger(),
		Output: output,
	})
	return &fixture{runner: runner, client: client, output: output, config: filepath.Join(t.TempDir(), "missing.toml")}
}

// run executes the CLI with args and returns what it printed.
func (f *fixture) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	f.output.Reset()
	err := newApp(f.runner).Run(context.Background(), append([]string{"ytsync", "--config", f.config}, args...))
	return f.output.String(), err
}

func (f *fixture) mustRun(t *testing.T, args ...string) string {
	t.Helper()
	out, err := f.run(t, args...)
	if err != nil {
		t.Fatalf("%v failed: %v\noutput:\n%s", args, err, out)
	}
	return out
}

func TestRunner(t *testing.T) {
	t.Run("NewRunner", func(t *testing.T) {
		t.Run("with all dependencies provided", func(t *testing.T) {
			config := shared.DefaultConfig()
			logger := shared.NewLogger(nil)
			output := &bytes.Buffer{}
			db := tu.NewTestDB(t)
			client := tu.NewMockCollectionClient(0)

			runner := NewRunner(RunnerOpts{
				Config:     config,
				ConfigPath: "custom.toml",
				DB:         db,
				Client:     client,
				Logger:     logger,
				Output:     output,
			})

			if runner.config != config {
				t.Error("expected config to be set")
			}
			if runner.configPath != "custom.toml" {
				t.Errorf("expected config path custom.toml, got %s", runner.configPath)
			}
			if runner.db != db || runner.ownsDB {
				t.Error("expected injected database not to be owned by the runner")
			}
			if runner.client != client {
				t.Error("expected client to be set")
			}
			if runner.logger != logger {
				t.Error("expected logger to be set")
			}
			if runner.output != output {
				t.Error("expected output to be set")
			}
		})

		t.Run("with nil options uses defaults", func(t *testing.T) {
			runner := NewRunner(RunnerOpts{})

			if runner.config == nil {
				t.Error("expected default config to be set")
			}
			if runner.configPath != defaultConfigPath {
				t.Errorf("expected default config path, got %s", runner.configPath)
			}
			if runner.logger == nil {
				t.Error("expected default logger to be set")
			}
			if runner.output != os.Stdout {
				t.Error("expected stdout to be the default output")
			}
			if runner.metrics == nil {
				t.Error("expected metrics to be created")
			}
		})
	})

	t.Run("Before", func(t *testing.T) {
		t.Run("loads config file", func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "config.toml")
			if err := shared.CreateConfigFile(path); err != nil {
				t.Fatalf("failed to create config: %v", err)
			}

			f := newFixture(t)
			f.config = path
			original := f.runner.config
			f.mustRun(t, "auth", "status")

			if f.runner.config == original {
				t.Error("expected config to be replaced by the file contents")
			}
			if f.runner.configPath != path {
				t.Errorf("expected config path %s, got %s", path, f.runner.configPath)
			}
		})

		t.Run("invalid config fails", func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "config.toml")
			if err := os.WriteFile(path, []byte("[quota]\ndaily_limit = -1\n"), 0600); err != nil {
				t.Fatalf("failed to write config: %v", err)
			}

			f := newFixture(t)
			f.config = path
			if _, err := f.run(t, "collection", "list"); !errors.Is(err, shared.ErrInvalidConfig) {
				t.Errorf("expected ErrInvalidConfig, got %v", err)
			}
		})

		t.Run("missing config keeps defaults", func(t *testing.T) {
			f := newFixture(t)
			original := f.runner.config
			f.mustRun(t, "collection", "list")
			if f.runner.config != original {
				t.Error("expected defaults to be kept")
			}
		})
	})

	t.Run("SetupDatabase", func(t *testing.T) {
		t.Chdir(t.TempDir())

		output := &bytes.Buffer{}
		runner := NewRunner(RunnerOpts{Logger: shared.DiscardLogger(), Output: output})

		if err := newApp(runner).Run(context.Background(), []string{"ytsync", "--config", "config.toml", "setup", "database"}); err != nil {
			t.Fatalf("setup failed: %v", err)
		}

		tu.AssertFileExists(t, "config.toml")
		tu.AssertFileExists(t, runner.config.Database.Path)
		if runner.db != nil {
			t.Error("expected the database to be closed after the command")
		}
		if !strings.Contains(output.String(), "Database ready") {
			t.Errorf("unexpected output: %s", output.String())
		}

		output.Reset()
		if err := newApp(runner).Run(context.Background(), []string{"ytsync", "--config", "config.toml", "setup", "status"}); err != nil {
			t.Fatalf("setup status failed: %v", err)
		}
		if strings.Contains(output.String(), "pending") {
			t.Errorf("expected every migration applied:\n%s", output.String())
		}
	})
}

func TestCollectionCommands(t *testing.T) {
	f := newFixture(t)

	out := f.mustRun(t, "collection", "import", "PLfirst", "https://www.youtube.com/playlist?list=PLsecond")
	if !strings.Contains(out, "✓ First (PLfirst)") || !strings.Contains(out, "✓ Second (PLsecond)") {
		t.Errorf("unexpected import output:\n%s", out)
	}

	out = f.mustRun(t, "collection", "list", "--json")
	var rows []collectionRow
	if err := json.Unmarshal([]byte(out), &rows); err != nil {
		t.Fatalf("failed to decode list output: %v\n%s", err, out)
	}
	if len(rows) != 2 || rows[0].RemoteID != "PLfirst" || rows[1].RemoteID != "PLsecond" {
		t.Fatalf("unexpected collections: %+v", rows)
	}
	if rows[0].Status != "pending" {
		t.Errorf("expected pending status before the first sync, got %s", rows[0].Status)
	}

	t.Run("StatusFilter", func(t *testing.T) {
		if _, err := f.run(t, "collection", "list", "--status", "bogus"); !errors.Is(err, shared.ErrInvalidFlag) {
			t.Errorf("expected ErrInvalidFlag, got %v", err)
		}
		out := f.mustRun(t, "collection", "list", "--status", "completed")
		if !strings.Contains(out, "No playlists registered") {
			t.Errorf("expected no completed playlists, got:\n%s", out)
		}
	})

	t.Run("Sync", func(t *testing.T) {
		out := f.mustRun(t, "sync", "run", "PLfirst")
		if !strings.Contains(out, "✓ First: +3 -0 ~0") {
			t.Errorf("unexpected sync output:\n%s", out)
		}

		f.client.SetCollection("PLfirst", "First", "c", "a")
		out = f.mustRun(t, "sync", "run", "--json", rows[0].ID)
		var res syncRow
		if err := json.Unmarshal([]byte(out), &res); err != nil {
			t.Fatalf("failed to decode sync output: %v\n%s", err, out)
		}
		if res.Status != "completed" || res.Removed != 1 || res.ItemCount != 2 {
			t.Errorf("unexpected sync result: %+v", res)
		}
	})

	t.Run("SyncAll", func(t *testing.T) {
		out := f.mustRun(t, "sync", "all", "--concurrency", "1")
		if !strings.Contains(out, "2 succeeded, 0 failed") {
			t.Errorf("unexpected batch output:\n%s", out)
		}
	})

	t.Run("SyncFailureExitsWithError", func(t *testing.T) {
		f.client.FailNext(tu.MethodPage, shared.ErrCollectionNotFound)
		if _, err := f.run(t, "sync", "run", "PLsecond"); err == nil {
			t.Error("expected a failed sync to return an error")
		}
	})

	t.Run("Show", func(t *testing.T) {
		out := f.mustRun(t, "collection", "show", "PLfirst")
		if !strings.Contains(out, "1. Video c") || !strings.Contains(out, "2. Video a") {
			t.Errorf("expected members in remote order:\n%s", out)
		}
		if !strings.Contains(out, "Sync cost: ~1 units") {
			t.Errorf("expected a sync cost estimate:\n%s", out)
		}
	})

	t.Run("Audit", func(t *testing.T) {
		out := f.mustRun(t, "audit", "list", "--json", "PLfirst")
		var audits []auditRow
		if err := json.Unmarshal([]byte(out), &audits); err != nil {
			t.Fatalf("failed to decode audits: %v\n%s", err, out)
		}
		if len(audits) < 2 {
			t.Fatalf("expected at least 2 audits, got %d", len(audits))
		}
		if audits[0].StartedAt.Before(audits[len(audits)-1].StartedAt) {
			t.Error("expected newest audit first")
		}
	})

	t.Run("Quota", func(t *testing.T) {
		out := f.mustRun(t, "quota", "status", "--json")
		var row quotaRow
		if err := json.Unmarshal([]byte(out), &row); err != nil {
			t.Fatalf("failed to decode quota: %v\n%s", err, out)
		}
		if row.Used == 0 || row.Remaining != row.Limit-row.Used || len(row.Operations) == 0 {
			t.Errorf("unexpected quota status: %+v", row)
		}

		if _, err := f.run(t, "quota", "history", "--days", "0"); !errors.Is(err, shared.ErrInvalidFlag) {
			t.Errorf("expected ErrInvalidFlag, got %v", err)
		}
		out = f.mustRun(t, "quota", "status", "--json", "--log")
		var logged quotaRow
		if err := json.Unmarshal([]byte(out), &logged); err != nil {
			t.Fatalf("failed to decode quota log: %v\n%s", err, out)
		}
		logTotal := 0
		for _, e := range logged.Log {
			logTotal += e.Cost
		}
		if len(logged.Log) == 0 || logTotal != logged.Used {
			t.Errorf("expected log entries summing to %d, got %+v", logged.Used, logged.Log)
		}
		out = f.mustRun(t, "quota", "status", "--log")
		if !strings.Contains(out, "Reservations") {
			t.Errorf("expected a reservations section:\n%s", out)
		}

		out = f.mustRun(t, "quota", "history")
		if !strings.Contains(out, row.Day) {
			t.Errorf("expected today's row in history:\n%s", out)
		}
	})

	t.Run("Export", func(t *testing.T) {
		out := f.mustRun(t, "export", "PLfirst")
		if !strings.Contains(out, `"remote_id": "PLfirst"`) {
			t.Errorf("expected JSON export on stdout:\n%s", out)
		}

		t.Chdir(t.TempDir())
		f.mustRun(t, "export", "--format", "csv", "--output", "first", "PLfirst")
		tu.AssertFileExists(t, "first_videos.csv")
		tu.AssertFileExists(t, "first_metadata.json")

		if _, err := f.run(t, "export", "--format", "xml", "PLfirst"); !errors.Is(err, shared.ErrInvalidArgument) {
			t.Errorf("expected ErrInvalidArgument, got %v", err)
		}
	})

	t.Run("Unlock", func(t *testing.T) {
		out := f.mustRun(t, "sync", "unlock", "PLfirst")
		if !strings.Contains(out, "is not locked") {
			t.Errorf("unexpected unlock output:\n%s", out)
		}
	})

	t.Run("Remove", func(t *testing.T) {
		f.mustRun(t, "collection", "remove", "PLsecond")
		out := f.mustRun(t, "collection", "list")
		if strings.Contains(out, "Second") {
			t.Errorf("expected removed playlist to be hidden:\n%s", out)
		}

		f.mustRun(t, "collection", "import", "PLsecond")
		out = f.mustRun(t, "collection", "list")
		if !strings.Contains(out, "Second") {
			t.Errorf("expected re-import to restore the playlist:\n%s", out)
		}
	})

	t.Run("UnknownCollection", func(t *testing.T) {
		if _, err := f.run(t, "collection", "show", "PLnope"); !errors.Is(err, shared.ErrCollectionNotFound) {
			t.Errorf("expected ErrCollectionNotFound, got %v", err)
		}
		if _, err := f.run(t, "sync", "run"); !errors.Is(err, shared.ErrMissingArgument) {
			t.Errorf("expected ErrMissingArgument, got %v", err)
		}
	})
}

func TestImportFailure(t *testing.T) {
	f := newFixture(t)
	out, err := f.run(t, "collection", "import", "PLfirst", "PLmissing")
	if err == nil {
		t.Fatal("expected an error when one import fails")
	}
	if !strings.Contains(out, "✓ First") || !strings.Contains(out, "✗ PLmissing") {
		t.Errorf("expected per-playlist results:\n%s", out)
	}
}

func TestStatusRouter(t *testing.T) {
	f := newFixture(t)
	f.mustRun(t, "collection", "import", "PLfirst")

	router, err := f.runner.statusRouter(context.Background())
	if err != nil {
		t.Fatalf("statusRouter failed: %v", err)
	}
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)

	tests := []struct {
		path     string
		status   int
		contains string
	}{
		{"/healthz", http.StatusOK, `"ok"`},
		{"/api/collections", http.StatusOK, "PLfirst"},
		{"/api/quota", http.StatusOK, `"remaining"`},
		{"/api/breaker", http.StatusOK, `"closed"`},
		{"/metrics", http.StatusOK, "ytsync_quota_used_units"},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			resp, err := http.Get(srv.URL + tt.path)
			if err != nil {
				t.Fatalf("request failed: %v", err)
			}
			defer resp.Body.Close()

			buf := new(bytes.Buffer)
			buf.ReadFrom(resp.Body)
			if resp.StatusCode != tt.status {
				t.Errorf("expected status %d, got %d", tt.status, resp.StatusCode)
			}
			if !strings.Contains(buf.String(), tt.contains) {
				t.Errorf("expected body to contain %q, got %s", tt.contains, buf.String())
			}
		})
	}
}

func TestAuthStatus(t *testing.T) {
	t.Run("NoCredentials", func(t *testing.T) {
		f := newFixture(t)
		f.runner.config.Credentials.YouTube = shared.YouTubeConfig{}
		out, err := f.run(t, "auth", "status")
		if !errors.Is(err, shared.ErrMissingCredentials) {
			t.Errorf("expected ErrMissingCredentials, got %v", err)
		}
		if !strings.Contains(out, "Token: ✗ none") {
			t.Errorf("unexpected output:\n%s", out)
		}
	})

	t.Run("APIKeyOnly", func(t *testing.T) {
		f := newFixture(t)
		f.runner.config.Credentials.YouTube = shared.YouTubeConfig{APIKey: "key"}
		out := f.mustRun(t, "auth", "status")
		if !strings.Contains(out, "API key: ✓") || !strings.Contains(out, "OAuth client: ✗") {
			t.Errorf("unexpected output:\n%s", out)
		}
	})

	t.Run("LoginRequiresClient", func(t *testing.T) {
		f := newFixture(t)
		f.runner.config.Credentials.YouTube = shared.YouTubeConfig{APIKey: "key"}
		if _, err := f.run(t, "auth", "login"); !errors.Is(err, shared.ErrMissingCredentials) {
			t.Errorf("expected ErrMissingCredentials, got %v", err)
		}
	})
}

func TestParseRemoteID(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"PLabc", "PLabc"},
		{"  PLabc ", "PLabc"},
		{"https://www.youtube.com/playlist?list=PLabc", "PLabc"},
		{"https://www.youtube.com/watch?v=xyz&list=PLabc&index=2", "PLabc"},
		{"https://music.youtube.com/playlist?list=OLAK5uy_x", "OLAK5uy_x"},
		{"https://www.youtube.com/watch?v=xyz", "https://www.youtube.com/watch?v=xyz"},
	}

	for _, tt := range tests {
		if got := parseRemoteID(tt.in); got != tt.want {
			t.Errorf("parseRemoteID(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestCallbackAddr(t *testing.T) {
	tests := []struct {
		name, redirect, want string
	}{
		{"redirect with port", "http://127.0.0.1:3000/callback", "127.0.0.1:3000"},
		{"redirect without port", "http://localhost/callback", "localhost:80"},
		{"no redirect", "", "127.0.0.1:3000"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := shared.DefaultConfig()
			config.Credentials.YouTube.RedirectURI = tt.redirect
			runner := NewRunner(RunnerOpts{Config: config})
			if got := runner.callbackAddr(); got != tt.want {
				t.Errorf("expected %s, got %s", tt.want, got)
			}
		})
	}
}
