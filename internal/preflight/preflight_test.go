package preflight

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"contentflow/internal/config"
	"contentflow/internal/pipeline"
)

func TestCheckDirectoryAccess_OK(t *testing.T) {
	dir := t.TempDir()
	result := CheckDirectoryAccess("test", dir)
	if !result.Passed {
		t.Fatalf("expected pass for temp dir, got: %s", result.Detail)
	}
}

func TestCheckDirectoryAccess_NotExist(t *testing.T) {
	result := CheckDirectoryAccess("test", filepath.Join(t.TempDir(), "nope"))
	if result.Passed {
		t.Fatal("expected failure for missing dir")
	}
	if result.Detail == "" {
		t.Fatal("expected non-empty detail")
	}
}

func TestCheckDirectoryAccess_NotDir(t *testing.T) {
	f := filepath.Join(t.TempDir(), "file.txt")
	if err := os.WriteFile(f, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	result := CheckDirectoryAccess("test", f)
	if result.Passed {
		t.Fatal("expected failure for file path")
	}
}

func TestCheckTemplates(t *testing.T) {
	if result := CheckTemplates("", pipeline.TemplateStandard); !result.Passed {
		t.Fatalf("expected built-ins to pass, got: %s", result.Detail)
	}
	if result := CheckTemplates("", "does-not-exist"); result.Passed {
		t.Fatal("expected unknown default template to fail")
	}
	bad := filepath.Join(t.TempDir(), "templates.yaml")
	if err := os.WriteFile(bad, []byte("templates: [this is not a map"), 0o644); err != nil {
		t.Fatal(err)
	}
	if result := CheckTemplates(bad, pipeline.TemplateStandard); result.Passed {
		t.Fatal("expected malformed template file to fail")
	}
}

func TestCheckStageCommand(t *testing.T) {
	ctx := context.Background()
	if result := CheckStageCommand(ctx, pipeline.StageClean, ""); !result.Passed || !strings.Contains(result.Detail, "deferred") {
		t.Fatalf("expected blank command to pass as deferred, got %+v", result)
	}
	if result := CheckStageCommand(ctx, pipeline.StageClean, "sh -c true"); !result.Passed {
		t.Fatalf("expected sh to resolve, got %+v", result)
	}
	if result := CheckStageCommand(ctx, pipeline.StageClean, "clearly-not-present-binary --flag"); result.Passed {
		t.Fatal("expected missing binary to fail")
	}
}

func TestCheckNtfy(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/health" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_, _ = w.Write([]byte(`{"healthy":true}`))
	}))
	defer srv.Close()

	if result := CheckNtfy(context.Background(), srv.URL+"/contentflow"); !result.Passed {
		t.Fatalf("expected pass, got: %s", result.Detail)
	}
	if result := CheckNtfy(context.Background(), "not a url"); result.Passed {
		t.Fatal("expected invalid url to fail")
	}
}

func TestCheckNtfy_Unhealthy(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	if result := CheckNtfy(context.Background(), srv.URL+"/topic"); result.Passed {
		t.Fatal("expected failure for unhealthy server")
	}
}

func TestRunAll_NilConfig(t *testing.T) {
	if results := RunAll(context.Background(), nil); results != nil {
		t.Fatal("expected nil results for nil config")
	}
}

func TestRunAll_MinimalConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Paths.DataDir = t.TempDir()
	cfg.Paths.LogDir = t.TempDir()
	cfg.Paths.TemplatesFile = ""
	cfg.Notifications.NtfyTopic = ""

	results := RunAll(context.Background(), &cfg)
	// Directories, templates, and one entry per stage.
	if len(results) != 7 {
		t.Fatalf("expected 7 results, got %d", len(results))
	}
	if failed := Failed(results); len(failed) != 0 {
		t.Fatalf("unexpected failures: %+v", failed)
	}
}

func TestRunAll_IncludesNtfyWhenConfigured(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	cfg := config.Default()
	cfg.Paths.DataDir = t.TempDir()
	cfg.Paths.LogDir = t.TempDir()
	cfg.Paths.TemplatesFile = ""
	cfg.Notifications.NtfyTopic = srv.URL + "/contentflow"
	cfg.Stages.Clean = "definitely-missing-cleaner"

	results := RunAll(context.Background(), &cfg)
	var sawNtfy bool
	for _, r := range results {
		if r.Name == "ntfy" {
			sawNtfy = true
			if !r.Passed {
				t.Errorf("ntfy check failed: %s", r.Detail)
			}
		}
	}
	if !sawNtfy {
		t.Fatal("expected ntfy check in results")
	}
	failed := Failed(results)
	if len(failed) != 1 || failed[0].Name != "Stage clean" {
		t.Fatalf("expected only the clean stage to fail, got %+v", failed)
	}
}
