package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/nao1215/minispider/internal/config"
)

// TestNewInitCmd tests the init command creation.
func TestNewInitCmd(t *testing.T) {
	t.Parallel()

	cmd := NewInitCmd()
	if cmd.Use != "init" {
		t.Errorf("expected use 'init', got %q", cmd.Use)
	}

	output := cmd.Flags().Lookup("output")
	if output == nil {
		t.Fatal("expected output flag")
	}
	if output.Shorthand != "o" || output.DefValue != configFileName {
		t.Errorf("unexpected output flag: -%s default %q", output.Shorthand, output.DefValue)
	}

	force := cmd.Flags().Lookup("force")
	if force == nil {
		t.Fatal("expected force flag")
	}
	if force.Shorthand != "f" || force.DefValue != "false" {
		t.Errorf("unexpected force flag: -%s default %q", force.Shorthand, force.DefValue)
	}
}

func runInit(t *testing.T, args ...string) (string, error) {
	t.Helper()

	cmd := NewInitCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

// TestRunInitCmd tests the init command execution.
func TestRunInitCmd(t *testing.T) {
	t.Parallel()

	t.Run("creates config file", func(t *testing.T) {
		t.Parallel()

		path := filepath.Join(t.TempDir(), "conf", "spider.conf")
		out, err := runInit(t, "-o", path)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !strings.Contains(out, path) {
			t.Errorf("expected the path in the output, got %q", out)
		}

		info, err := os.Stat(path)
		if err != nil {
			t.Fatalf("config file not created: %v", err)
		}
		if info.Mode().Perm() != 0600 {
			t.Errorf("expected mode 0600, got %v", info.Mode().Perm())
		}
	})

	t.Run("refuses to overwrite without force", func(t *testing.T) {
		t.Parallel()

		path := filepath.Join(t.TempDir(), "spider.conf")
		if err := os.WriteFile(path, []byte("keep"), 0600); err != nil {
			t.Fatal(err)
		}
		if _, err := runInit(t, "-o", path); err == nil || !strings.Contains(err.Error(), "already exists") {
			t.Errorf("expected an already exists error, got %v", err)
		}
		data, err := os.ReadFile(path)
		if err != nil {
			t.Fatal(err)
		}
		if string(data) != "keep" {
			t.Error("existing file was modified")
		}

		if _, err := runInit(t, "-o", path, "-f"); err != nil {
			t.Fatalf("unexpected error with -f: %v", err)
		}
		data, err = os.ReadFile(path)
		if err != nil {
			t.Fatal(err)
		}
		if !strings.Contains(string(data), "[spider]") {
			t.Error("expected the template after -f")
		}
	})
}

// TestConfigTemplate checks that the embedded template is a loadable
// configuration once its url list exists.
func TestConfigTemplate(t *testing.T) {
	t.Parallel()

	content, err := configTemplate.ReadFile("templates/spider.conf")
	if err != nil {
		t.Fatalf("failed to read template: %v", err)
	}

	dir := t.TempDir()
	urls := filepath.Join(dir, "urls")
	if err := os.WriteFile(urls, []byte("http://example.com/\n"), 0600); err != nil {
		t.Fatal(err)
	}
	conf := strings.Replace(string(content), "url_list_file = ./urls", "url_list_file = "+urls, 1)
	path := filepath.Join(dir, "spider.conf")
	if err := os.WriteFile(path, []byte(conf), 0600); err != nil {
		t.Fatal(err)
	}

	cfg := config.NewConfig()
	if err := config.LoadSpiderConf(path, cfg); err != nil {
		t.Fatalf("LoadSpiderConf() error = %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if cfg.MaxDepth != 1 || len(cfg.Seeds) != 1 {
		t.Errorf("unexpected config: depth=%d seeds=%v", cfg.MaxDepth, cfg.Seeds)
	}
	if cfg.TargetPattern == nil || !cfg.TargetPattern.MatchString("http://example.com/A.JPG") {
		t.Error("expected the target_url pattern to match image links")
	}
	if len(cfg.XPathRules) != 0 || len(cfg.CSSRules) != 0 {
		t.Error("expected no extraction rules in the template")
	}
}
