package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"latex-equations/internal/config"
	"latex-equations/internal/document"
	"latex-equations/internal/render"
	"latex-equations/internal/svgmeta"
	"latex-equations/internal/types"
)

type fakeRenderer struct{}

func (fakeRenderer) Name() string    { return "fake" }
func (fakeRenderer) Version() string { return "fake-1" }

func (fakeRenderer) Render(ctx context.Context, latex string, opts render.Options) (string, error) {
	if strings.Contains(latex, `\frac{a`) && !strings.Contains(latex, `\frac{a}`) {
		return "", &render.RenderError{Kind: render.KindSyntax, Message: "Missing close brace"}
	}
	return `<svg xmlns="http://www.w3.org/2000/svg" width="2ex" height="1ex" viewBox="0 0 100 50"><path d="M0 0"/></svg>`, nil
}

type testEnv struct {
	*env
	dir       string
	config    string
	clipboard string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	t.Setenv(config.EnvOpenAIAPIKey, "")
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.json")

	cm, err := config.NewConfigManager(configPath)
	require.NoError(t, err)
	cfg := cm.GetConfig()
	cfg.WorkDirectory = filepath.Join(dir, "work")
	cm.SetConfig(cfg)
	require.NoError(t, cm.Save())

	te := &testEnv{dir: dir, config: configPath}
	te.env = &env{
		renderer: fakeRenderer{},
		clipboardRead: func() (string, error) {
			return te.clipboard, nil
		},
		clipboardWrite: func(s string) error {
			te.clipboard = s
			return nil
		},
	}
	return te
}

func (te *testEnv) run(args ...string) (string, string, error) {
	root := buildRootCmd(te.env)
	var stdout, stderr bytes.Buffer
	root.SetOut(&stdout)
	root.SetErr(&stderr)
	root.SetArgs(append([]string{"--config", te.config}, args...))
	err := root.Execute()
	return stdout.String(), stderr.String(), err
}

func (te *testEnv) write(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(te.dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func readString(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(data)
}

func TestParseCmd(t *testing.T) {
	te := newTestEnv(t)
	doc := te.write(t, "doc.txt", "color: red\n---\nE=mc^2\n\\label{eq:e}\n---\nx^2\n% color: blue")

	out, _, err := te.run("parse", doc)
	require.NoError(t, err)
	assert.Contains(t, out, "LABEL")
	assert.Regexp(t, `eq:e\s+3-4\s+red\s+E=mc\^2 …`, out)
	assert.Regexp(t, `eq1\s+6-7\s+blue`, out)

	out, _, err = te.run("parse", "--json", doc)
	require.NoError(t, err)
	var result document.Result
	require.NoError(t, json.Unmarshal([]byte(out), &result))
	require.Len(t, result.Equations, 2)
	assert.Equal(t, "red", result.Frontmatter.Color)
}

func TestParseCmd_MissingFile(t *testing.T) {
	te := newTestEnv(t)
	_, _, err := te.run("parse", filepath.Join(te.dir, "missing.txt"))
	assert.Equal(t, types.ErrFileNotFound, types.CodeOf(err))
}

func TestRenderCmd(t *testing.T) {
	te := newTestEnv(t)
	doc := te.write(t, "doc.txt", "x^2\n---\n\\frac{a")

	out, _, err := te.run("render", doc)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 of 2 equations failed to render (syntax 1)")
	assert.Regexp(t, `eq1\s+ok`, out)
	assert.Regexp(t, `eq2\s+syntax: Missing close brace`, out)
}

func TestExportCmd(t *testing.T) {
	te := newTestEnv(t)
	doc := te.write(t, "doc.txt", "a\n---\nb")

	out, _, err := te.run("export", doc)
	require.NoError(t, err)
	parsed := svgmeta.ParseSVG(out)
	require.Len(t, parsed.Equations, 2)
	assert.Equal(t, "a", parsed.Equations[0].Latex)

	out, stderr, err := te.run("export", "--copy", doc)
	require.NoError(t, err)
	assert.Empty(t, out)
	assert.Contains(t, stderr, "clipboard")
	assert.Len(t, svgmeta.ParseSVG(te.clipboard).Equations, 2)

	svgPath := filepath.Join(te.dir, "out", "doc.svg")
	_, _, err = te.run("export", "-o", svgPath, doc)
	require.NoError(t, err)
	assert.Len(t, svgmeta.ParseSVG(readString(t, svgPath)).Equations, 2)
}

func TestImportCmd_KeepBoth(t *testing.T) {
	te := newTestEnv(t)
	doc := te.write(t, "doc.txt", "x^2")
	svgPath := filepath.Join(te.dir, "doc.svg")
	_, _, err := te.run("export", "-o", svgPath, doc)
	require.NoError(t, err)

	_, stderr, err := te.run("import", "--on-duplicate", "keep-both", doc, svgPath)
	require.NoError(t, err)
	assert.Contains(t, stderr, "kept-both")
	assert.Equal(t, "x^2\n\n---\n\nx^2\n\\label{eq1-2}", readString(t, doc))
}

func TestImportCmd_FromClipboard(t *testing.T) {
	te := newTestEnv(t)
	src := te.write(t, "src.txt", "x^2\n---\ny^2")
	_, _, err := te.run("export", "--copy", src)
	require.NoError(t, err)

	doc := te.write(t, "doc.txt", "x^2")
	out, stderr, err := te.run("import", "--from-clipboard", "--dry-run", doc)
	require.NoError(t, err)
	assert.Contains(t, stderr, "skipped")
	assert.Contains(t, stderr, "inserted")
	assert.Equal(t, "x^2\n\n---\n\ny^2", out)
	assert.Equal(t, "x^2", readString(t, doc), "a dry run leaves the document alone")
}

func TestImportCmd_NewDocument(t *testing.T) {
	te := newTestEnv(t)
	src := te.write(t, "src.txt", "a\n---\nb")
	svgPath := filepath.Join(te.dir, "src.svg")
	_, _, err := te.run("export", "-o", svgPath, src)
	require.NoError(t, err)

	doc := filepath.Join(te.dir, "new.txt")
	_, _, err = te.run("import", doc, svgPath)
	require.NoError(t, err)
	assert.Len(t, document.Parse(readString(t, doc), nil).Equations, 2)
}

func TestImportCmd_Errors(t *testing.T) {
	te := newTestEnv(t)
	doc := te.write(t, "doc.txt", "x")

	_, _, err := te.run("import", doc)
	assert.Equal(t, types.ErrInvalidInput, types.CodeOf(err))

	_, _, err = te.run("import", "--on-duplicate", "maybe", doc, doc)
	assert.Equal(t, types.ErrInvalidInput, types.CodeOf(err))

	_, _, err = te.run("import", doc, doc)
	assert.Equal(t, types.ErrImport, types.CodeOf(err), "a text file is not an SVG")

	empty := te.write(t, "empty.svg", `<svg xmlns="http://www.w3.org/2000/svg"><rect/></svg>`)
	_, stderr, err := te.run("import", doc, empty)
	require.NoError(t, err)
	assert.Contains(t, stderr, "No equations found")
	assert.Equal(t, "x", readString(t, doc))
}

func TestDeleteCmd(t *testing.T) {
	te := newTestEnv(t)
	doc := te.write(t, "doc.txt", "a\n\n---\n\nb\n\\label{eq:b}\n\n---\n\nc")

	_, stderr, err := te.run("delete", doc, "eq:b")
	require.NoError(t, err)
	assert.Contains(t, stderr, "deleted eq:b")
	assert.Equal(t, "a\n\n---\n\nc", readString(t, doc))

	backups, err := os.ReadDir(filepath.Join(te.dir, "work", "backups"))
	require.NoError(t, err)
	assert.NotEmpty(t, backups, "the document is backed up before it is rewritten")

	_, _, err = te.run("delete", doc, "eq:missing")
	assert.Equal(t, types.ErrInvalidInput, types.CodeOf(err))
}

func TestDeleteCmd_SeveralGeneratedLabels(t *testing.T) {
	te := newTestEnv(t)
	doc := te.write(t, "doc.txt", "a\n\n---\n\nb\n\n---\n\nc")

	_, stderr, err := te.run("delete", doc, "eq1", "eq2")
	require.NoError(t, err)
	assert.Equal(t, "c", readString(t, doc), "labels refer to the document as it was read")
	assert.Contains(t, stderr, "deleted eq2 (b)")
	assert.Contains(t, stderr, "deleted eq1 (a)")

	doc = te.write(t, "doc2.txt", "a\n\n---\n\nb\n\n---\n\nc")
	_, _, err = te.run("delete", doc, "eq3", "eq1", "eq3")
	require.NoError(t, err)
	assert.Equal(t, "b", readString(t, doc))
}

func TestFixCmd(t *testing.T) {
	te := newTestEnv(t)
	doc := te.write(t, "doc.txt", "x^2\n---\n\\frac{a")

	_, stderr, err := te.run("fix", doc, "eq1")
	require.NoError(t, err)
	assert.Contains(t, stderr, "nothing to fix")

	_, _, err = te.run("fix", doc, "eq2")
	assert.Equal(t, types.ErrConfig, types.CodeOf(err), "fixing needs an API key")
	assert.Equal(t, "x^2\n---\n\\frac{a", readString(t, doc))
}
