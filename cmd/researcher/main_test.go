package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"

	"github.com/jxucoder/researcher/internal/config"
	"github.com/jxucoder/researcher/pkg/model"
)

func TestMaskSecret(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"", ""},
		{"short", "*****"},
		{"gsk_1234567890abcd", "gsk_**********abcd"},
	}
	for _, tt := range tests {
		if got := maskSecret(tt.in); got != tt.want {
			t.Errorf("maskSecret(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestValidateValue(t *testing.T) {
	tests := []struct {
		key, value string
		ok         bool
	}{
		{"GROQ_API_KEY", "gsk_abc", true},
		{"GROQ_API_KEY", "sk-abc", false},
		{"SLACK_BOT_TOKEN", "xoxb-1", true},
		{"SLACK_APP_TOKEN", "xoxb-1", false},
		{"RESEARCHER_DEPTH", "deep", true},
		{"RESEARCHER_DEPTH", "extreme", false},
		{"RESEARCHER_STORE", "json", true},
		{"RESEARCHER_STORE", "postgres", false},
		{"SOMETHING_ELSE", "anything", true},
	}
	for _, tt := range tests {
		err := validateValue(findKey(tt.key), tt.value)
		if (err == nil) != tt.ok {
			t.Errorf("validateValue(%s, %q) error = %v, want ok=%v", tt.key, tt.value, err, tt.ok)
		}
	}
}

func TestConfigSetAndShow(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.env")
	t.Setenv("GROQ_API_KEY", "")
	t.Setenv("RESEARCHER_DEPTH", "")

	var out bytes.Buffer
	if err := runConfigSet(&out, path, "GROQ_API_KEY", "gsk_1234567890abcd"); err != nil {
		t.Fatalf("set: %v", err)
	}
	if strings.Contains(out.String(), "1234567890") {
		t.Errorf("secret not masked: %q", out.String())
	}
	if err := runConfigSet(&out, path, "RESEARCHER_DEPTH", "quick"); err != nil {
		t.Fatalf("set depth: %v", err)
	}
	if err := runConfigSet(&out, path, "RESEARCHER_DEPTH", "bogus"); err == nil {
		t.Fatal("expected error for invalid depth")
	}

	values, err := config.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if values["GROQ_API_KEY"] != "gsk_1234567890abcd" || values["RESEARCHER_DEPTH"] != "quick" {
		t.Errorf("unexpected file values: %v", values)
	}

	out.Reset()
	if err := runConfigShow(&out, path); err != nil {
		t.Fatalf("show: %v", err)
	}
	shown := out.String()
	if !strings.Contains(shown, "gsk_**********abcd (from config file)") {
		t.Errorf("show output missing masked key:\n%s", shown)
	}
	if !strings.Contains(shown, "quick (from config file)") {
		t.Errorf("show output missing depth:\n%s", shown)
	}

	t.Setenv("RESEARCHER_DEPTH", "deep")
	out.Reset()
	if err := runConfigShow(&out, path); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out.String(), "deep (from env)") {
		t.Errorf("env value should win:\n%s", out.String())
	}
}

func TestConfigSetup_Interactive(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.env")
	t.Setenv("RESEARCHER_CONFIG", path)
	t.Setenv("GROQ_API_KEY", "")
	t.Setenv("RESEARCHER_DEPTH", "")
	t.Setenv("RESEARCHER_STORE", "")
	t.Setenv("TELEGRAM_BOT_TOKEN", "")

	// Wrong prefix first, then a valid key; skip defaults; no gist; telegram yes; no slack.
	input := strings.Join([]string{
		"not-a-key",
		"gsk_valid",
		"",
		"json",
		"n",
		"y",
		"123:abc",
		"n",
	}, "\n") + "\n"

	var out bytes.Buffer
	w := newWizard(strings.NewReader(input), &out, map[string]string{})
	if err := runConfigSetup(w); err != nil {
		t.Fatalf("setup: %v\n%s", err, out.String())
	}

	values, err := config.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	want := map[string]string{
		"GROQ_API_KEY":       "gsk_valid",
		"RESEARCHER_STORE":   "json",
		"TELEGRAM_BOT_TOKEN": "123:abc",
	}
	for k, v := range want {
		if values[k] != v {
			t.Errorf("%s = %q, want %q", k, values[k], v)
		}
	}
	if _, ok := values["RESEARCHER_PUBLISH_GIST"]; ok {
		t.Error("gist should not be enabled")
	}
	if !strings.Contains(out.String(), `expected prefix "gsk_"`) {
		t.Errorf("expected prefix warning in output:\n%s", out.String())
	}
}

func TestConfigSetup_NonInteractive(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.env")
	t.Setenv("RESEARCHER_CONFIG", path)

	setupGroqKey, setupDepth = "", ""
	t.Cleanup(func() { setupGroqKey, setupDepth = "", "" })

	var out bytes.Buffer
	if err := runNonInteractiveSetup(&out, map[string]string{}); err == nil {
		t.Fatal("expected error without key")
	}

	setupGroqKey, setupDepth = "gsk_ci", "deep"
	if err := runNonInteractiveSetup(&out, map[string]string{"SLACK_CHANNEL": "#research"}); err != nil {
		t.Fatalf("setup: %v", err)
	}
	values, err := config.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if values["GROQ_API_KEY"] != "gsk_ci" || values["RESEARCHER_DEPTH"] != "deep" || values["SLACK_CHANNEL"] != "#research" {
		t.Errorf("unexpected values: %v", values)
	}
}

func testReport() *model.Report {
	return &model.Report{
		ID:        "abc123",
		Topic:     "tidal energy",
		Depth:     model.DepthQuick,
		Body:      "## Findings\n\nTides are predictable.",
		CreatedAt: time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC),
	}
}

func TestWriteReport(t *testing.T) {
	dir := t.TempDir()
	r := testReport()

	path, err := writeReport(dir, r)
	if err != nil {
		t.Fatal(err)
	}
	if path != filepath.Join(dir, "report_20260304_050607.md") {
		t.Errorf("path = %q", path)
	}

	file := filepath.Join(dir, "nested", "out.md")
	path, err = writeReport(file, r)
	if err != nil {
		t.Fatal(err)
	}
	if path != file {
		t.Errorf("path = %q, want %q", path, file)
	}
	data, err := os.ReadFile(file)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "# Research Report: tidal energy") {
		t.Errorf("unexpected report content:\n%s", data)
	}
}

func TestPrintReports(t *testing.T) {
	var out bytes.Buffer
	if err := printReports(&out, nil); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out.String(), "No reports found.") {
		t.Errorf("got %q", out.String())
	}

	out.Reset()
	if err := printReports(&out, []model.Summary{testReport().Summary()}); err != nil {
		t.Fatal(err)
	}
	got := out.String()
	for _, want := range []string{"ID", "TOPIC", "abc123", "quick", "tidal energy"} {
		if !strings.Contains(got, want) {
			t.Errorf("output missing %q:\n%s", want, got)
		}
	}
}

func TestPrintReport(t *testing.T) {
	var out bytes.Buffer
	if err := printReport(&out, testReport()); err != nil {
		t.Fatal(err)
	}
	got := out.String()
	for _, want := range []string{"Report:     abc123", "Topic:      tidal energy", "Tides are predictable."} {
		if !strings.Contains(got, want) {
			t.Errorf("output missing %q:\n%s", want, got)
		}
	}
}

func TestApplyRunFlags_MaxResultsRange(t *testing.T) {
	t.Cleanup(func() { runMaxResults = 5 })

	tests := []struct {
		value string
		ok    bool
	}{
		{"1", false},
		{"3", true},
		{"10", true},
		{"50", false},
	}
	for _, tt := range tests {
		cmd := &cobra.Command{}
		cmd.Flags().IntVar(&runMaxResults, "max-results", 5, "")
		cmd.Flags().Float64Var(&runTemperature, "temperature", 0.7, "")
		if err := cmd.Flags().Set("max-results", tt.value); err != nil {
			t.Fatal(err)
		}

		cfg := &config.Config{MaxResults: 5}
		err := applyRunFlags(cmd, cfg)
		if (err == nil) != tt.ok {
			t.Errorf("--max-results=%s: error = %v, want ok=%v", tt.value, err, tt.ok)
		}
		if tt.ok && strconv.Itoa(cfg.MaxResults) != tt.value {
			t.Errorf("--max-results=%s: MaxResults = %d", tt.value, cfg.MaxResults)
		}
	}
}
