package main

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"latex-equations/internal/config"
	"latex-equations/internal/document"
	"latex-equations/internal/editor"
	errlog "latex-equations/internal/errors"
	"latex-equations/internal/importer"
	"latex-equations/internal/logger"
	"latex-equations/internal/project"
	"latex-equations/internal/render"
	"latex-equations/internal/session"
	"latex-equations/internal/types"

	"github.com/wailsapp/wails/v2/pkg/runtime"
)

// Event names for frontend communication
const (
	EventSessionChanged = "session-changed"
	EventDocumentOpened = "document-opened"
	EventImportPrompt   = "import-prompt"
)

// Recent file kinds
const (
	KindDocument = "document"
	KindProject  = "project"
	KindSVG      = "svg"
)

// App is the main Wails application controller.
// It owns the configuration, the open equation session and the file layer,
// and exposes them to the frontend.
type App struct {
	ctx    context.Context
	config *config.ConfigManager

	session  *session.Session
	renderer render.Renderer
	pasted   *render.SVGCache
	backups  *editor.BackupManager
	files    *editor.EncodingHandler
	workDir  string

	mu          sync.Mutex
	docPath     string
	docEncoding editor.Encoding
	projectPath string
	dirty       bool

	// isWailsRuntime indicates if the app is running in a Wails environment
	// This is used to safely skip runtime calls during tests
	isWailsRuntime bool
}

// safeEmit safely emits an event to the frontend.
// It only emits events when running in a Wails environment.
func (a *App) safeEmit(eventName string, data ...interface{}) {
	if !a.isWailsRuntime {
		logger.Debug("event emit skipped (not in Wails runtime)",
			logger.String("event", eventName))
		return
	}
	runtime.EventsEmit(a.ctx, eventName, data...)
}

// SetWailsRuntime sets the Wails runtime flag.
func (a *App) SetWailsRuntime(isWails bool) {
	a.isWailsRuntime = isWails
}

// NewApp creates a new App. Modules are created in startup.
func NewApp() *App {
	return &App{docEncoding: editor.EncodingUTF8}
}

// NewAppWithConfig creates a new App with a custom config path.
func NewAppWithConfig(configPath string) (*App, error) {
	configMgr, err := config.NewConfigManager(configPath)
	if err != nil {
		return nil, err
	}
	return &App{config: configMgr, docEncoding: editor.EncodingUTF8}, nil
}

// startup is called when the app starts. The context is saved
// so we can call the runtime methods.
func (a *App) startup(ctx context.Context) {
	a.ctx = ctx
	logger.Info("application starting up")

	if a.config == nil {
		configMgr, err := config.NewConfigManager("")
		if err != nil {
			logger.Error("failed to create config manager", err)
			return
		}
		a.config = configMgr
	}
	if err := a.config.Load(); err != nil {
		logger.Warn("failed to load config, using defaults", logger.Err(err))
	}
	logger.GetLogger().SetLevel(logger.ParseLevel(a.config.GetConfig().LogLevel))

	if err := a.initWorkDir(); err != nil {
		logger.Error("failed to initialize work directory", err)
	}

	a.backups = editor.NewBackupManager(filepath.Join(a.workDir, "backups"))
	if a.config.IsBackupEnabled() {
		a.files = editor.NewEncodingHandler(a.backups)
	} else {
		a.files = editor.NewEncodingHandler(nil)
	}

	a.pasted = render.NewSVGCache(filepath.Join(a.workDir, "cache", "pasted-svg.json"))
	if err := a.pasted.Load(); err != nil {
		logger.Warn("failed to load pasted SVG cache", logger.Err(err))
	}

	r, err := a.newRenderer()
	if err != nil {
		logger.Error("render engine unavailable", err)
	}
	a.useRenderer(r)

	logger.Info("application started",
		logger.String("workDir", a.workDir),
		logger.String("engine", a.config.GetRenderEngine()))
}

// shutdown persists caches and stops background work.
func (a *App) shutdown(ctx context.Context) {
	if a.session != nil {
		a.session.Close()
	}
	if a.pasted != nil {
		if err := a.pasted.Save(); err != nil {
			logger.Warn("failed to save pasted SVG cache", logger.Err(err))
		}
	}
	logger.Info("application shut down")
}

// initWorkDir uses the configured work directory, or a per-user one.
func (a *App) initWorkDir() error {
	if dir := a.config.GetWorkDirectory(); dir != "" {
		a.workDir = dir
		return os.MkdirAll(a.workDir, 0755)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		tempDir, tempErr := os.MkdirTemp("", "latex-equations-*")
		if tempErr != nil {
			return tempErr
		}
		a.workDir = tempDir
		return nil
	}
	a.workDir = filepath.Join(home, ".latex-equations")
	return os.MkdirAll(a.workDir, 0755)
}

func (a *App) newRenderer() (render.Renderer, error) {
	return render.New(
		a.config.GetRenderEngine(),
		a.config.GetRenderCommand(),
		a.config.GetRenderArgs(),
		a.config.GetRenderTimeout())
}

// useRenderer replaces the session with one rendering through r. The text
// and preamble of the current session carry over.
func (a *App) useRenderer(r render.Renderer) {
	failures, err := errlog.NewErrorManager(filepath.Join(a.workDir, "errors"))
	if err != nil {
		logger.Warn("render error log not persisted", logger.Err(err))
		failures, _ = errlog.NewErrorManager("")
	}

	text, preamble, mode := "", a.config.GetGlobalPreamble(), a.config.GetDisplayMode()
	if a.session != nil {
		text, preamble, mode = a.session.Text(), a.session.GlobalPreamble(), a.session.DisplayMode()
		a.session.Close()
	}

	a.renderer = r
	a.session = session.New(session.Options{
		Context:        a.ctx,
		Renderer:       r,
		Concurrency:    a.config.GetRenderConcurrency(),
		Debounce:       a.config.GetDebounce(),
		AutoRender:     r != nil,
		DisplayMode:    mode,
		GlobalPreamble: preamble,
		Errors:         failures,
		Pasted:         a.pasted,
		OnChange: func(e session.Event) {
			a.safeEmit(EventSessionChanged, e)
		},
	})
	if text != "" {
		a.session.SetText(text)
	}
}

// GetConfig returns the current configuration.
func (a *App) GetConfig() *types.Config {
	return a.config.GetConfig()
}

// SaveConfig stores cfg and rebuilds the render engine from it.
func (a *App) SaveConfig(cfg *types.Config) error {
	a.config.SetConfig(cfg)
	if err := a.config.Save(); err != nil {
		return err
	}
	r, err := a.newRenderer()
	if err != nil {
		return err
	}
	a.useRenderer(r)
	logger.Info("configuration updated", logger.String("engine", r.Name()))
	return nil
}

// GetRecentFiles returns recently used files.
func (a *App) GetRecentFiles() []types.RecentFileItem {
	return a.config.GetRecentFiles()
}

// SetText is called by the editor on every change.
func (a *App) SetText(text string) {
	a.mu.Lock()
	a.dirty = true
	a.mu.Unlock()
	a.session.SetText(text)
}

// GetText returns the document text.
func (a *App) GetText() string {
	return a.session.Text()
}

// GetEquations re-parses the document and returns every equation with its
// render state.
func (a *App) GetEquations() []session.EquationView {
	a.session.Refresh()
	return a.session.Equations()
}

// RenderAll renders every equation without a current SVG.
func (a *App) RenderAll() error {
	a.session.Refresh()
	return a.session.RenderPending(a.ctx)
}

// GetFailures lists equations that failed to render.
func (a *App) GetFailures() []*errlog.FailureRecord {
	return a.session.Failures()
}

// SetGlobalPreamble changes the macros shared by every equation.
func (a *App) SetGlobalPreamble(preamble string) {
	a.session.SetGlobalPreamble(preamble)
	a.markDirty()
}

// SetDisplayMode switches between "block" and "inline" rendering.
func (a *App) SetDisplayMode(mode string) {
	a.session.SetDisplayMode(mode)
}

// HasUnsavedChanges reports whether the document changed since it was last
// opened or saved.
func (a *App) HasUnsavedChanges() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.dirty
}

func (a *App) markDirty() {
	a.mu.Lock()
	a.dirty = true
	a.mu.Unlock()
}

// DeleteEquation removes an equation and one adjacent separator.
func (a *App) DeleteEquation(id string) (document.Edit, error) {
	edit, err := a.session.DeleteEquation(id)
	if err == nil {
		a.markDirty()
	}
	return edit, err
}

// InsertEquationAfter adds a new equation after id.
func (a *App) InsertEquationAfter(id, latex string) (document.Edit, error) {
	edit, err := a.session.InsertEquationAfter(id, latex)
	if err == nil {
		a.markDirty()
	}
	return edit, err
}

// AppendEquation adds a new equation at the end of the document.
func (a *App) AppendEquation(latex string) document.Edit {
	edit := a.session.AppendEquation(latex)
	a.markDirty()
	return edit
}

// FixEquation asks the configured model to repair a failing equation.
func (a *App) FixEquation(id string) (*render.FixResult, error) {
	if a.renderer == nil {
		return nil, types.NewAppError(types.ErrEngineUnavailable, "no render engine configured", nil)
	}
	fixer := render.NewFixer(a.config.GetAPIKey(), a.config.GetBaseURL(), a.config.GetModel(), a.renderer)
	result, err := a.session.FixEquation(a.ctx, fixer, id)
	if err != nil {
		logger.Error("equation fix failed", err, logger.String("id", id))
		return nil, err
	}
	if result.Success {
		a.markDirty()
	}
	return result, nil
}

// OpenDocument reads a plain-text equation document. An empty path opens a
// file dialog; the returned path is empty when the dialog was cancelled.
func (a *App) OpenDocument(path string) (string, error) {
	if path == "" {
		path = a.openDialog("打开公式文档", "公式文档 (*.txt;*.tex)", "*.txt;*.tex")
		if path == "" {
			return "", nil
		}
	}

	file, err := a.files.ReadFile(path)
	if err != nil {
		logger.Error("failed to open document", err, logger.String("path", path))
		return "", err
	}

	a.mu.Lock()
	a.docPath = path
	a.docEncoding = file.Encoding
	a.projectPath = ""
	a.dirty = false
	a.mu.Unlock()

	a.session.SetText(file.Text)
	a.session.Refresh()
	a.config.AddRecentFile(path, KindDocument)
	a.safeEmit(EventDocumentOpened, path)
	logger.Info("document opened",
		logger.String("path", path),
		logger.String("encoding", string(file.Encoding)))
	return path, nil
}

// SaveDocument writes the document as plain text. The encoding it was read
// with is kept. An empty path saves to the open document, or asks.
func (a *App) SaveDocument(path string) (string, error) {
	a.mu.Lock()
	if path == "" {
		path = a.docPath
	}
	enc := a.docEncoding
	a.mu.Unlock()

	if path == "" {
		path = a.saveDialog("保存公式文档", "equations.txt", "公式文档 (*.txt)", "*.txt")
		if path == "" {
			return "", nil
		}
	}
	if err := a.files.WriteFile(path, a.session.Text(), enc); err != nil {
		logger.Error("failed to save document", err, logger.String("path", path))
		return "", err
	}

	a.mu.Lock()
	a.docPath = path
	a.dirty = false
	a.mu.Unlock()
	a.config.AddRecentFile(path, KindDocument)
	return path, nil
}

// RestoreLatestBackup puts the newest backup of the open document back in
// place and reloads it. It returns the backup that was used.
func (a *App) RestoreLatestBackup() (string, error) {
	a.mu.Lock()
	path := a.docPath
	a.mu.Unlock()
	if path == "" {
		return "", types.NewAppError(types.ErrInvalidInput, "no document is open", nil)
	}
	if !a.config.IsBackupEnabled() {
		return "", types.NewAppError(types.ErrConfig, "backups are disabled", nil)
	}

	backup, err := a.backups.GetLatestBackup(path)
	if err != nil {
		return "", types.NewAppError(types.ErrFileNotFound, "no backup to restore", err)
	}
	if err := a.backups.Restore(backup, path); err != nil {
		return "", types.NewAppError(types.ErrInternal, "failed to restore backup", err)
	}
	if _, err := a.OpenDocument(path); err != nil {
		return "", err
	}
	return backup, nil
}

// OpenProject loads a project file into the session.
func (a *App) OpenProject(path string) (string, error) {
	if path == "" {
		path = a.openDialog("打开项目", "公式项目 (*"+project.FileExtension+")", "*"+project.FileExtension)
		if path == "" {
			return "", nil
		}
	}

	f, err := project.Load(path)
	if err != nil {
		logger.Error("failed to open project", err, logger.String("path", path))
		return "", err
	}
	a.session.LoadProject(f)

	a.mu.Lock()
	a.projectPath = path
	a.docPath = ""
	a.docEncoding = editor.EncodingUTF8
	a.dirty = false
	a.mu.Unlock()

	a.config.AddRecentFile(path, KindProject)
	a.safeEmit(EventDocumentOpened, path)
	return path, nil
}

// SaveProject writes the document and preamble as a project file.
func (a *App) SaveProject(path, name string) (string, error) {
	a.mu.Lock()
	if path == "" {
		path = a.projectPath
	}
	a.mu.Unlock()

	if path == "" {
		path = a.saveDialog("保存项目", "equations"+project.FileExtension,
			"公式项目 (*"+project.FileExtension+")", "*"+project.FileExtension)
		if path == "" {
			return "", nil
		}
	}
	if !strings.HasSuffix(path, project.FileExtension) {
		path += project.FileExtension
	}

	var backups *editor.BackupManager
	if a.config.IsBackupEnabled() {
		backups = a.backups
	}
	if err := project.Save(path, a.session.Project(name), backups); err != nil {
		logger.Error("failed to save project", err, logger.String("path", path))
		return "", err
	}

	a.mu.Lock()
	a.projectPath = path
	a.dirty = false
	a.mu.Unlock()
	a.config.AddRecentFile(path, KindProject)
	return path, nil
}

// ImportSVG merges the equations of an exported SVG into the document,
// after the equation at cursorLine. When an equation duplicates an existing
// one the import pauses until ResolveImport is called.
func (a *App) ImportSVG(svgText string, cursorLine int) (*session.ImportStatus, error) {
	status, err := a.session.BeginImport(svgText, cursorLine)
	if err != nil {
		return nil, err
	}
	a.afterImportStep(status)
	return status, nil
}

// ImportSVGFile imports an SVG file. An empty path opens a file dialog.
func (a *App) ImportSVGFile(path string, cursorLine int) (*session.ImportStatus, error) {
	if path == "" {
		path = a.openDialog("导入 SVG", "SVG 图像 (*.svg)", "*.svg")
		if path == "" {
			return nil, nil
		}
	}
	file, err := a.files.ReadFile(path)
	if err != nil {
		return nil, err
	}
	status, err := a.ImportSVG(file.Text, cursorLine)
	if err != nil {
		return nil, err
	}
	a.config.AddRecentFile(path, KindSVG)
	return status, nil
}

// ResolveImport answers the pending duplicate prompt with "overwrite",
// "keep-both" or "cancel".
func (a *App) ResolveImport(decision string) (*session.ImportStatus, error) {
	d, err := importer.ParseDecision(decision)
	if err != nil {
		return nil, err
	}
	status, err := a.session.ResolveImport(d)
	if err != nil {
		return nil, err
	}
	a.afterImportStep(status)
	return status, nil
}

// CancelImport drops the running import.
func (a *App) CancelImport() bool {
	return a.session.CancelImport()
}

func (a *App) afterImportStep(status *session.ImportStatus) {
	if status.Candidate != nil {
		a.safeEmit(EventImportPrompt, status)
	}
	if status.Done && !status.Empty {
		a.markDirty()
	}
}

// ExportSVG renders the document into one SVG with embedded metadata.
func (a *App) ExportSVG() (string, error) {
	return a.session.ExportSVG(a.ctx)
}

// ExportSVGFile writes the exported SVG to path. An empty path opens a
// save dialog.
func (a *App) ExportSVGFile(path string) (string, error) {
	if path == "" {
		path = a.saveDialog("导出 SVG", "equations.svg", "SVG 图像 (*.svg)", "*.svg")
		if path == "" {
			return "", nil
		}
	}
	out, err := a.ExportSVG()
	if err != nil {
		return "", err
	}
	if err := a.files.WriteFile(path, out, editor.EncodingUTF8); err != nil {
		return "", err
	}
	a.config.AddRecentFile(path, KindSVG)
	return path, nil
}

// openDialog opens a file selection dialog.
// Returns the selected file path or empty string if cancelled.
func (a *App) openDialog(title, filterName, pattern string) string {
	if !a.isWailsRuntime {
		return ""
	}
	selection, err := runtime.OpenFileDialog(a.ctx, runtime.OpenDialogOptions{
		Title: title,
		Filters: []runtime.FileFilter{
			{DisplayName: filterName, Pattern: pattern},
			{DisplayName: "所有文件 (*.*)", Pattern: "*.*"},
		},
	})
	if err != nil {
		logger.Error("file dialog error", err)
		return ""
	}
	logger.Debug("file selected", logger.String("path", selection))
	return selection
}

// saveDialog opens a save dialog.
func (a *App) saveDialog(title, defaultName, filterName, pattern string) string {
	if !a.isWailsRuntime {
		return ""
	}
	selection, err := runtime.SaveFileDialog(a.ctx, runtime.SaveDialogOptions{
		Title:           title,
		DefaultFilename: defaultName,
		Filters:         []runtime.FileFilter{{DisplayName: filterName, Pattern: pattern}},
	})
	if err != nil {
		logger.Error("save dialog error", err)
		return ""
	}
	return selection
}
