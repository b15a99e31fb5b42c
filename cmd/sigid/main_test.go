package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	json "github.com/goccy/go-json"

	"github.com/FocuswithJustin/sigid/core/errors"
	"github.com/FocuswithJustin/sigid/internal/config"
	"github.com/FocuswithJustin/sigid/internal/output"
)

const testCatalog = `version: "test-1"
formats:
  - id: pdf
    puid: fmt/18
    name: Acrobat PDF 1.4
    extensions: [pdf]
    priority_over: [pdf-generic]
    signatures: [pdf-1.4]
  - id: pdf-generic
    puid: fmt/pdf
    name: Acrobat PDF
    extensions: [pdf]
    signatures: [pdf-any]
  - id: png
    puid: fmt/11
    name: Portable Network Graphics
    extensions: [png]
    signatures: [png]
  - id: txt
    puid: x-fmt/111
    name: Plain Text File
    extensions: [txt]
  - id: marker
    puid: test/1
    name: Marker
    signatures: [marker]
signatures:
  - id: pdf-1.4
    specific: true
    sequences:
      - anchor: bof
        expression: "'%PDF-1.4'"
  - id: pdf-any
    sequences:
      - anchor: bof
        expression: "'%PDF-'"
  - id: png
    sequences:
      - anchor: bof
        expression: "89 'PNG' 0D0A1A0A"
  - id: marker
    sequences:
      - anchor: var
        expression: "'SIGID-MARKER'"
`

// Test helper functions

func captureStdout(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	prev := stdout
	stdout = &buf
	t.Cleanup(func() { stdout = prev })
	return &buf
}

func createTestFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to create test file: %v", err)
	}
	return path
}

func createTestCatalog(t *testing.T, dir string) string {
	t.Helper()
	t.Setenv(config.EnvVar, "")
	return createTestFile(t, dir, "sigs.yaml", testCatalog)
}

func identifyFlags(sigs string) IdentifyCmd {
	return IdentifyCmd{
		CatalogFlags: CatalogFlags{Signatures: sigs, LogLevel: "error"},
		MaxMatches:   -1,
		MaxBytes:     -1,
		Queue:        -1,
		Workers:      2,
		Output:       "json",
	}
}

func decodeRecords(t *testing.T, out string) map[string][]output.Record {
	t.Helper()
	records := make(map[string][]output.Record)
	for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
		if line == "" {
			continue
		}
		var r output.Record
		if err := json.Unmarshal([]byte(line), &r); err != nil {
			t.Fatalf("bad output line %q: %v", line, err)
		}
		records[filepath.Base(r.Name)] = append(records[filepath.Base(r.Name)], r)
	}
	return records
}

// Tests for IdentifyCmd

func TestIdentifyCmd_Run(t *testing.T) {
	dir := t.TempDir()
	sigs := createTestCatalog(t, dir)
	buf := captureStdout(t)

	cmd := identifyFlags(sigs)
	cmd.Hash = true
	cmd.Paths = []string{
		createTestFile(t, dir, "a.pdf", "%PDF-1.4\n..."),
		createTestFile(t, dir, "b.pdf", "%PDF-1.7\n..."),
		createTestFile(t, dir, "c.png", "\x89PNG\r\n\x1a\n...."),
		createTestFile(t, dir, "d.bin", "junk SIGID-MARKER junk"),
		createTestFile(t, dir, "e.txt", "hello"),
	}
	if err := cmd.Run(); err != nil {
		t.Fatalf("Run() = %v", err)
	}

	tests := []struct {
		file string
		want string
	}{
		{"a.pdf", "fmt/18"},
		{"b.pdf", "fmt/pdf"},
		{"c.png", "fmt/11"},
		{"d.bin", "test/1"},
		{"e.txt", ""},
	}
	records := decodeRecords(t, buf.String())
	for _, tt := range tests {
		t.Run(tt.file, func(t *testing.T) {
			rs := records[tt.file]
			if len(rs) != 1 {
				t.Fatalf("got %d records, want 1: %+v", len(rs), rs)
			}
			if rs[0].PUID != tt.want {
				t.Errorf("puid = %q, want %q", rs[0].PUID, tt.want)
			}
			if len(rs[0].Digest) != 64 {
				t.Errorf("digest = %q, want 64 hex digits", rs[0].Digest)
			}
			if rs[0].CorrelationID == "" {
				t.Error("correlation_id is empty")
			}
		})
	}
}

func TestIdentifyCmd_MissingFile(t *testing.T) {
	dir := t.TempDir()
	sigs := createTestCatalog(t, dir)
	buf := captureStdout(t)

	cmd := identifyFlags(sigs)
	cmd.Paths = []string{
		createTestFile(t, dir, "a.pdf", "%PDF-1.4"),
		filepath.Join(dir, "missing.pdf"),
	}
	err := cmd.Run()
	if err == nil || !strings.Contains(err.Error(), "1 of 2 resources") {
		t.Fatalf("Run() = %v, want a failure count", err)
	}
	records := decodeRecords(t, buf.String())
	if rs := records["a.pdf"]; len(rs) != 1 || rs[0].PUID != "fmt/18" {
		t.Errorf("a.pdf records = %+v", rs)
	}
	if rs := records["missing.pdf"]; len(rs) != 1 || rs[0].Error == "" {
		t.Errorf("missing.pdf records = %+v", rs)
	}
}

func TestIdentifyCmd_Directory(t *testing.T) {
	dir := t.TempDir()
	sigs := createTestCatalog(t, dir)
	tree := filepath.Join(dir, "tree")
	createTestFile(t, tree, "one.pdf", "%PDF-1.4")
	buf := captureStdout(t)

	cmd := identifyFlags(sigs)
	cmd.Paths = []string{tree, filepath.Join(tree, "one.pdf")}
	if err := cmd.Run(); err == nil {
		t.Fatal("Run() = nil, want an error for the directory")
	}
	records := decodeRecords(t, buf.String())
	if rs := records["tree"]; len(rs) != 1 || rs[0].Error == "" {
		t.Errorf("directory records = %+v, want one error record", rs)
	}
	if rs := records["one.pdf"]; len(rs) != 1 || rs[0].PUID != "fmt/18" {
		t.Errorf("one.pdf records = %+v", rs)
	}
}

func TestIdentifyCmd_Config(t *testing.T) {
	dir := t.TempDir()
	sigs := createTestCatalog(t, dir)
	cfgPath := createTestFile(t, dir, "sigid.yaml", `
signatures:
  path: `+sigs+`
identification:
  extensions: tentative
scheduler:
  core_workers: 1
  max_workers: 1
  queue_capacity: 0
logging:
  level: error
`)
	buf := captureStdout(t)

	cmd := identifyFlags("")
	cmd.Config = cfgPath
	cmd.Workers = 0
	cmd.Paths = []string{createTestFile(t, dir, "notes.txt", "plain words")}
	if err := cmd.Run(); err != nil {
		t.Fatalf("Run() = %v", err)
	}
	rs := decodeRecords(t, buf.String())["notes.txt"]
	if len(rs) != 1 || rs[0].PUID != "x-fmt/111" || rs[0].Method != "extension" {
		t.Errorf("notes.txt records = %+v, want a tentative extension match", rs)
	}
}

func TestIdentifyCmd_Errors(t *testing.T) {
	dir := t.TempDir()
	sigs := createTestCatalog(t, dir)
	file := createTestFile(t, dir, "a.pdf", "%PDF-1.4")

	tests := []struct {
		name    string
		modify  func(*IdentifyCmd)
		invalid bool
	}{
		{"no signatures", func(c *IdentifyCmd) { c.Signatures = "" }, true},
		{"missing catalog", func(c *IdentifyCmd) { c.Signatures = filepath.Join(dir, "none.xml") }, false},
		{"bad extensions", func(c *IdentifyCmd) { c.Extensions = "some" }, true},
		{"bad log level", func(c *IdentifyCmd) { c.LogLevel = "loud" }, true},
		{"no paths", func(c *IdentifyCmd) { c.Paths = nil }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			captureStdout(t)
			cmd := identifyFlags(sigs)
			cmd.Paths = []string{file}
			tt.modify(&cmd)
			err := cmd.Run()
			if err == nil {
				t.Fatal("Run() = nil, want error")
			}
			if tt.invalid && !errors.Is(err, errors.ErrInvalidInput) {
				t.Errorf("Run() = %v, want ErrInvalidInput", err)
			}
		})
	}
}

// Tests for catalog commands

func TestCatalogInfoCmd_Run(t *testing.T) {
	sigs := createTestCatalog(t, t.TempDir())
	buf := captureStdout(t)

	cmd := CatalogInfoCmd{CatalogFlags: CatalogFlags{Signatures: sigs, LogLevel: "error"}, JSON: true}
	if err := cmd.Run(); err != nil {
		t.Fatalf("Run() = %v", err)
	}
	var info catalogInfo
	if err := json.Unmarshal(buf.Bytes(), &info); err != nil {
		t.Fatal(err)
	}
	want := catalogInfo{Source: sigs, Version: "test-1", Formats: 5, Signatures: 4, Warnings: 1, Tentative: 1}
	if info != want {
		t.Errorf("info = %+v, want %+v", info, want)
	}
}

func TestCatalogCheckCmd_Run(t *testing.T) {
	sigs := createTestCatalog(t, t.TempDir())
	buf := captureStdout(t)

	cmd := CatalogCheckCmd{CatalogFlags: CatalogFlags{Signatures: sigs, LogLevel: "error"}}
	if err := cmd.Run(); err != nil {
		t.Fatalf("Run() = %v", err)
	}
	if !strings.Contains(buf.String(), "marker: ") || !strings.Contains(buf.String(), "4 signatures, 1 warnings") {
		t.Errorf("output = %q", buf.String())
	}

	cmd.Strict = true
	if err := cmd.Run(); err == nil {
		t.Error("Run() with --strict = nil, want error for warnings")
	}
}

// Tests for MatchCmd

func TestMatchCmd_Run(t *testing.T) {
	dir := t.TempDir()
	path := createTestFile(t, dir, "doc.pdf", "%PDF-1.4\n1 0 obj\n%%EOF\n")

	tests := []struct {
		name   string
		cmd    MatchCmd
		want   string
		errors bool
	}{
		{"bof", MatchCmd{Expr: "'%PDF-'", Anchor: "bof"}, "matched at 0-5", false},
		{"eof", MatchCmd{Expr: "'%%EOF'{0-2}", Anchor: "eof"}, "matched at 17-22", false},
		{"var", MatchCmd{Expr: "'obj'", Anchor: "var"}, "matched at 13-16", false},
		{"no match", MatchCmd{Expr: "'PNG'", Anchor: "bof"}, "no match", false},
		{"bad expression", MatchCmd{Expr: "'unterminated", Anchor: "bof"}, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := captureStdout(t)
			tt.cmd.Path = path
			err := tt.cmd.Run()
			if (err != nil) != tt.errors {
				t.Fatalf("Run() = %v, want error %v", err, tt.errors)
			}
			if !strings.Contains(buf.String(), tt.want) {
				t.Errorf("output = %q, want %q", buf.String(), tt.want)
			}
		})
	}
}

func TestVersionCmd_Run(t *testing.T) {
	buf := captureStdout(t)
	cmd := VersionCmd{}
	if err := cmd.Run(); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), version) {
		t.Errorf("output = %q, want version %s", buf.String(), version)
	}
}
