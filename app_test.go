package main

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"latex-equations/internal/config"
	"latex-equations/internal/editor"
	"latex-equations/internal/project"
	"latex-equations/internal/render"
	"latex-equations/internal/types"
)

type stubRenderer struct{}

func (stubRenderer) Name() string    { return "stub" }
func (stubRenderer) Version() string { return "stub-1" }

func (stubRenderer) Render(ctx context.Context, latex string, opts render.Options) (string, error) {
	return `<svg xmlns="http://www.w3.org/2000/svg" width="2ex" height="1ex" viewBox="0 0 100 50"><path d="M0 0"/></svg>`, nil
}

// newTestApp starts an App whose config, work directory and backups live in
// a temp dir, with debouncing off and a stub renderer.
func newTestApp(t *testing.T) *App {
	t.Helper()
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.json")

	cm, err := config.NewConfigManager(configPath)
	if err != nil {
		t.Fatalf("NewConfigManager() returned error: %v", err)
	}
	cfg := cm.GetConfig()
	cfg.WorkDirectory = filepath.Join(dir, "work")
	cfg.DebounceMillis = -1
	cfg.BackupEnabled = true
	cm.SetConfig(cfg)
	if err := cm.Save(); err != nil {
		t.Fatalf("Save() returned error: %v", err)
	}

	app, err := NewAppWithConfig(configPath)
	if err != nil {
		t.Fatalf("NewAppWithConfig() returned error: %v", err)
	}
	app.startup(context.Background())
	app.useRenderer(stubRenderer{})
	t.Cleanup(func() { app.shutdown(context.Background()) })
	return app
}

func TestNewApp(t *testing.T) {
	app := NewApp()
	if app == nil {
		t.Fatal("NewApp() returned nil")
	}
	if app.docEncoding != editor.EncodingUTF8 {
		t.Errorf("default encoding = %s, want UTF-8", app.docEncoding)
	}
}

func TestApp_Startup(t *testing.T) {
	app := newTestApp(t)

	if app.workDir == "" {
		t.Error("Work directory should be set after startup")
	}
	if _, err := os.Stat(app.workDir); err != nil {
		t.Errorf("Work directory was not created: %v", err)
	}
	if app.session == nil {
		t.Fatal("Session should be initialized after startup")
	}
	if app.files == nil || app.backups == nil || app.pasted == nil {
		t.Error("File layer should be initialized after startup")
	}
	if app.renderer.Name() != "stub" {
		t.Errorf("renderer = %s, want stub", app.renderer.Name())
	}
}

func TestApp_StartupUsesConfiguredEngine(t *testing.T) {
	dir := t.TempDir()
	app, err := NewAppWithConfig(filepath.Join(dir, "config.json"))
	if err != nil {
		t.Fatalf("NewAppWithConfig() returned error: %v", err)
	}
	cfg := app.config.GetConfig()
	cfg.WorkDirectory = dir
	app.config.SetConfig(cfg)
	if err := app.config.Save(); err != nil {
		t.Fatalf("Save() returned error: %v", err)
	}

	app.startup(context.Background())
	defer app.shutdown(context.Background())
	if app.renderer == nil || app.renderer.Name() != config.EngineMathJax {
		t.Errorf("default engine should be %s", config.EngineMathJax)
	}
}

func TestApp_SaveConfigRejectsBadEngine(t *testing.T) {
	app := newTestApp(t)
	cfg := *app.GetConfig()
	cfg.RenderEngine = "unknown"
	err := app.SaveConfig(&cfg)
	if types.CodeOf(err) != types.ErrConfig {
		t.Errorf("SaveConfig() error = %v, want CONFIG_ERROR", err)
	}
}

func TestApp_DocumentRoundTrip(t *testing.T) {
	app := newTestApp(t)
	path := filepath.Join(t.TempDir(), "equations.txt")
	if err := os.WriteFile(path, []byte("E=mc^2\n\\label{eq:einstein}\n\n---\n\nx^2\n"), 0644); err != nil {
		t.Fatal(err)
	}

	opened, err := app.OpenDocument(path)
	if err != nil {
		t.Fatalf("OpenDocument() returned error: %v", err)
	}
	if opened != path {
		t.Errorf("OpenDocument() = %q, want %q", opened, path)
	}
	eqs := app.GetEquations()
	if len(eqs) != 2 {
		t.Fatalf("got %d equations, want 2", len(eqs))
	}
	if eqs[0].Label != "eq:einstein" || eqs[1].Label != "eq1" {
		t.Errorf("labels = %q, %q", eqs[0].Label, eqs[1].Label)
	}
	if app.HasUnsavedChanges() {
		t.Error("a freshly opened document has no changes")
	}

	app.SetText("y^2")
	if !app.HasUnsavedChanges() {
		t.Error("SetText should mark the document changed")
	}
	if _, err := app.SaveDocument(""); err != nil {
		t.Fatalf("SaveDocument() returned error: %v", err)
	}
	if app.HasUnsavedChanges() {
		t.Error("saving clears the change flag")
	}

	data, _ := os.ReadFile(path)
	if string(data) != "y^2" {
		t.Errorf("saved content = %q", data)
	}
	backups, err := app.backups.ListBackups(path)
	if err != nil || len(backups) != 1 {
		t.Errorf("expected one backup, got %v (%v)", backups, err)
	}

	recent := app.GetRecentFiles()
	if len(recent) == 0 || recent[0].Path != path || recent[0].Kind != KindDocument {
		t.Errorf("recent files = %+v", recent)
	}
}

func TestApp_RestoreLatestBackup(t *testing.T) {
	app := newTestApp(t)
	if _, err := app.RestoreLatestBackup(); types.CodeOf(err) != types.ErrInvalidInput {
		t.Errorf("RestoreLatestBackup() without a document error = %v", err)
	}

	path := writeTemp(t, "a\n\n---\n\nb")
	if _, err := app.OpenDocument(path); err != nil {
		t.Fatal(err)
	}
	if _, err := app.RestoreLatestBackup(); types.CodeOf(err) != types.ErrFileNotFound {
		t.Errorf("RestoreLatestBackup() before any save error = %v", err)
	}

	app.SetText("c")
	if _, err := app.SaveDocument(""); err != nil {
		t.Fatalf("SaveDocument() returned error: %v", err)
	}
	backup, err := app.RestoreLatestBackup()
	if err != nil {
		t.Fatalf("RestoreLatestBackup() returned error: %v", err)
	}
	if backup == "" {
		t.Error("RestoreLatestBackup() should name the backup it used")
	}
	if got := app.GetText(); got != "a\n\n---\n\nb" {
		t.Errorf("text after restore = %q", got)
	}
	data, _ := os.ReadFile(path)
	if string(data) != "a\n\n---\n\nb" {
		t.Errorf("file after restore = %q", data)
	}
	if app.HasUnsavedChanges() {
		t.Error("a restored document has no changes")
	}
}

func TestApp_OpenDocumentMissing(t *testing.T) {
	app := newTestApp(t)
	_, err := app.OpenDocument(filepath.Join(t.TempDir(), "missing.txt"))
	if types.CodeOf(err) != types.ErrFileNotFound {
		t.Errorf("OpenDocument() error = %v, want FILE_NOT_FOUND", err)
	}
}

func TestApp_DialogsOutsideWails(t *testing.T) {
	app := newTestApp(t)
	app.SetText("x")

	path, err := app.SaveDocument("")
	if err != nil || path != "" {
		t.Errorf("SaveDocument() without a path = %q, %v", path, err)
	}
	status, err := app.ImportSVGFile("", 0)
	if err != nil || status != nil {
		t.Errorf("ImportSVGFile() without a path = %v, %v", status, err)
	}
}

func TestApp_ProjectRoundTrip(t *testing.T) {
	app := newTestApp(t)
	app.SetText("a\n\n---\n\nb")
	app.SetGlobalPreamble(`\def\R{\mathbb{R}}`)

	base := filepath.Join(t.TempDir(), "demo")
	path, err := app.SaveProject(base, "demo")
	if err != nil {
		t.Fatalf("SaveProject() returned error: %v", err)
	}
	if path != base+project.FileExtension {
		t.Errorf("SaveProject() = %q, want the project extension added", path)
	}

	other := newTestApp(t)
	if _, err := other.OpenProject(path); err != nil {
		t.Fatalf("OpenProject() returned error: %v", err)
	}
	if other.GetText() != "a\n\n---\n\nb" {
		t.Errorf("text = %q", other.GetText())
	}
	if other.session.GlobalPreamble() != `\def\R{\mathbb{R}}` {
		t.Errorf("preamble = %q", other.session.GlobalPreamble())
	}
	if len(other.GetEquations()) != 2 {
		t.Error("project equations were not parsed")
	}
}

func TestApp_ImportExport(t *testing.T) {
	app := newTestApp(t)
	app.SetText("x^2")

	out, err := app.ExportSVG()
	if err != nil {
		t.Fatalf("ExportSVG() returned error: %v", err)
	}
	if !strings.Contains(out, `data-latex="x^2"`) {
		t.Errorf("exported SVG does not carry the source: %s", out)
	}

	status, err := app.ImportSVG(out, -1)
	if err != nil {
		t.Fatalf("ImportSVG() returned error: %v", err)
	}
	if status.Done || status.Candidate == nil {
		t.Fatalf("re-importing the same SVG should ask about the duplicate: %+v", status)
	}

	if _, err := app.ResolveImport("sometimes"); types.CodeOf(err) != types.ErrInvalidInput {
		t.Errorf("ResolveImport() with a bad decision error = %v", err)
	}

	status, err = app.ResolveImport("keep-both")
	if err != nil {
		t.Fatalf("ResolveImport() returned error: %v", err)
	}
	if !status.Done {
		t.Error("import should be done after the only duplicate is resolved")
	}
	if got := app.GetText(); got != "x^2\n\n---\n\nx^2\n\\label{eq1-2}" {
		t.Errorf("text after keep-both = %q", got)
	}
	if !app.HasUnsavedChanges() {
		t.Error("an import marks the document changed")
	}

	src := newTestApp(t)
	src.SetText("a\n---\nb")
	svgPath := filepath.Join(t.TempDir(), "out.svg")
	if _, err := src.ExportSVGFile(svgPath); err != nil {
		t.Fatalf("ExportSVGFile() returned error: %v", err)
	}
	again := newTestApp(t)
	status, err = again.ImportSVGFile(svgPath, -1)
	if err != nil {
		t.Fatalf("ImportSVGFile() returned error: %v", err)
	}
	if !status.Done || len(again.GetEquations()) != 2 {
		t.Errorf("import into an empty document = %+v", status)
	}
}

func TestApp_MutationsMarkChanged(t *testing.T) {
	app := newTestApp(t)
	if _, err := app.OpenDocument(writeTemp(t, "a\n\n---\n\nb")); err != nil {
		t.Fatal(err)
	}

	eqs := app.GetEquations()
	if _, err := app.DeleteEquation(eqs[0].ID); err != nil {
		t.Fatalf("DeleteEquation() returned error: %v", err)
	}
	if app.GetText() != "b" || !app.HasUnsavedChanges() {
		t.Errorf("after delete text = %q", app.GetText())
	}

	edit := app.AppendEquation("c")
	if edit.Text != "b\n\n---\n\nc" {
		t.Errorf("after append text = %q", edit.Text)
	}
	if _, err := app.InsertEquationAfter("nope", "d"); types.CodeOf(err) != types.ErrInvalidInput {
		t.Errorf("InsertEquationAfter() with unknown id error = %v", err)
	}
}

func TestApp_FixEquationWithoutKey(t *testing.T) {
	t.Setenv(config.EnvOpenAIAPIKey, "")
	app := newTestApp(t)
	app.SetText("\\frac{a")
	eqs := app.GetEquations()

	_, err := app.FixEquation(eqs[0].ID)
	if types.CodeOf(err) != types.ErrConfig {
		t.Errorf("FixEquation() error = %v, want CONFIG_ERROR", err)
	}
}

func writeTemp(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "doc.txt")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}
