package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"text/tabwriter"

	"github.com/samber/lo"
	"github.com/spf13/cobra"

	"latex-equations/internal/document"
	"latex-equations/internal/editor"
	errlog "latex-equations/internal/errors"
	"latex-equations/internal/importer"
	"latex-equations/internal/logger"
	"latex-equations/internal/render"
	"latex-equations/internal/session"
	"latex-equations/internal/types"
)

func (e *env) newRenderer() (render.Renderer, error) {
	if e.renderer != nil {
		return e.renderer, nil
	}
	engine := e.engine
	if engine == "" {
		engine = e.cfg.GetRenderEngine()
	}
	return render.New(engine, e.cfg.GetRenderCommand(), e.cfg.GetRenderArgs(), e.cfg.GetRenderTimeout())
}

// newSession opens text in a session without debouncing. r may be nil when
// nothing will be rendered.
func (e *env) newSession(ctx context.Context, r render.Renderer, text, displayMode string) *session.Session {
	if displayMode == "" {
		displayMode = e.cfg.GetDisplayMode()
	}
	s := session.New(session.Options{
		Context:        ctx,
		Renderer:       r,
		Concurrency:    e.cfg.GetRenderConcurrency(),
		DisplayMode:    displayMode,
		GlobalPreamble: e.cfg.GetGlobalPreamble(),
	})
	s.SetText(text)
	return s
}

func (e *env) files() *editor.EncodingHandler {
	if !e.cfg.IsBackupEnabled() {
		return editor.NewEncodingHandler(nil)
	}
	return editor.NewEncodingHandler(editor.NewBackupManager(e.backupDir()))
}

func (e *env) backupDir() string {
	if dir := e.cfg.GetWorkDirectory(); dir != "" {
		return filepath.Join(dir, "backups")
	}
	if dir, err := os.UserCacheDir(); err == nil {
		return filepath.Join(dir, types.AppName, "backups")
	}
	return filepath.Join(os.TempDir(), types.AppName, "backups")
}

// readDocument returns the text and encoding of path. With allowMissing a
// missing file reads as an empty UTF-8 document.
func (e *env) readDocument(path string, allowMissing bool) (string, editor.Encoding, error) {
	file, err := e.files().ReadFile(path)
	if err != nil {
		if allowMissing && types.CodeOf(err) == types.ErrFileNotFound {
			return "", editor.EncodingUTF8, nil
		}
		return "", "", err
	}
	return file.Text, file.Encoding, nil
}

// findEquation looks an equation up by label, then by id.
func findEquation(result document.Result, key string) (document.Equation, error) {
	eq, ok := lo.Find(result.Equations, func(eq document.Equation) bool {
		return eq.Label == key
	})
	if !ok {
		eq, ok = result.Find(key)
	}
	if !ok {
		return document.Equation{}, types.NewAppError(types.ErrInvalidInput, "no equation labelled "+key, nil)
	}
	return eq, nil
}

// describe names an equation for messages. Generated labels shift as the
// document changes, so they are followed by the equation's first line.
func describe(eq document.Equation) string {
	if eq.ExplicitLabel || !document.IsAutoLabel(eq.Label) {
		return eq.Label
	}
	return eq.Label + " (" + firstLine(eq.Latex) + ")"
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i] + " …"
	}
	return s
}

func newParseCmd(e *env) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "parse <document>",
		Short: "List the equations of a document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			text, _, err := e.readDocument(args[0], false)
			if err != nil {
				return err
			}
			result := document.Parse(text, nil)
			out := cmd.OutOrStdout()

			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(result)
			}

			w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "LABEL\tLINES\tCOLOR\tLATEX")
			for _, eq := range result.Equations {
				fmt.Fprintf(w, "%s\t%d-%d\t%s\t%s\n",
					eq.Label, eq.StartLine+1, eq.EndLine+1, result.EffectiveColor(eq), firstLine(eq.Latex))
			}
			return w.Flush()
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the parse result as JSON")
	return cmd
}

func newRenderCmd(e *env) *cobra.Command {
	var inline bool
	cmd := &cobra.Command{
		Use:   "render <document>",
		Short: "Render every equation and report the ones that fail",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			text, _, err := e.readDocument(args[0], false)
			if err != nil {
				return err
			}
			r, err := e.newRenderer()
			if err != nil {
				return err
			}
			s := e.newSession(cmd.Context(), r, text, displayModeFlag(inline))
			defer s.Close()
			if err := s.RenderPending(cmd.Context()); err != nil {
				return err
			}

			views := s.Equations()
			failed := lo.Filter(views, func(v session.EquationView, _ int) bool { return v.Error != "" })
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			for _, v := range views {
				status := "ok"
				if v.Error != "" {
					status = errorKindName(v.ErrorKind) + ": " + v.Error
				}
				fmt.Fprintf(w, "%s\t%s\n", v.Label, status)
			}
			if err := w.Flush(); err != nil {
				return err
			}
			if len(failed) > 0 {
				counts := s.FailureCounts()
				kinds := make([]string, 0, len(counts))
				for _, kind := range []errlog.ErrorKind{errlog.KindSyntax, errlog.KindUnavailable} {
					if n := counts[kind]; n > 0 {
						kinds = append(kinds, fmt.Sprintf("%s %d", kind, n))
					}
				}
				return fmt.Errorf("%d of %d equations failed to render (%s)", len(failed), len(views), strings.Join(kinds, ", "))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&inline, "inline", false, "render in inline mode")
	return cmd
}

func displayModeFlag(inline bool) string {
	if inline {
		return render.DisplayInline
	}
	return ""
}

func errorKindName(kind string) string {
	if kind == "" {
		return "error"
	}
	return kind
}

func newExportCmd(e *env) *cobra.Command {
	var (
		output string
		copyTo bool
		inline bool
	)
	cmd := &cobra.Command{
		Use:   "export <document>",
		Short: "Export a document as one SVG with the equation sources embedded",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			text, _, err := e.readDocument(args[0], false)
			if err != nil {
				return err
			}
			r, err := e.newRenderer()
			if err != nil {
				return err
			}
			s := e.newSession(cmd.Context(), r, text, displayModeFlag(inline))
			defer s.Close()

			svg, err := s.ExportSVG(cmd.Context())
			if err != nil {
				return err
			}
			if n := len(s.Failures()); n > 0 {
				fmt.Fprintf(cmd.ErrOrStderr(), "warning: %d equations failed to render and were exported as placeholders\n", n)
			}

			if copyTo {
				if err := e.clipboardWrite(svg); err != nil {
					return fmt.Errorf("failed to copy to clipboard: %w", err)
				}
				fmt.Fprintln(cmd.ErrOrStderr(), "SVG copied to clipboard.")
			}
			switch {
			case output != "":
				return editor.NewEncodingHandler(nil).WriteFile(output, svg, editor.EncodingUTF8)
			case !copyTo:
				_, err := io.WriteString(cmd.OutOrStdout(), svg)
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "write the SVG to this file instead of stdout")
	cmd.Flags().BoolVar(&copyTo, "copy", false, "copy the SVG to the clipboard")
	cmd.Flags().BoolVar(&inline, "inline", false, "render in inline mode")
	return cmd
}

func newImportCmd(e *env) *cobra.Command {
	var (
		fromClipboard bool
		onDuplicate   string
		afterLine     int
		dryRun        bool
	)
	cmd := &cobra.Command{
		Use:   "import <document> [svg-file]",
		Short: "Merge the equations of an exported SVG into a document",
		Long: "Merge the equations of an exported SVG into a document. Equations that duplicate\n" +
			"an existing one (same id, same source or same explicit label) are handled by --on-duplicate.",
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			decision, err := importer.ParseDecision(onDuplicate)
			if err != nil {
				return err
			}

			var svgText string
			switch {
			case fromClipboard:
				if svgText, err = e.clipboardRead(); err != nil {
					return fmt.Errorf("failed to read clipboard: %w", err)
				}
			case len(args) == 2:
				file, err := editor.NewEncodingHandler(nil).ReadFile(args[1])
				if err != nil {
					return err
				}
				svgText = file.Text
			default:
				return types.NewAppError(types.ErrInvalidInput, "give an SVG file or --from-clipboard", nil)
			}

			docPath := args[0]
			text, enc, err := e.readDocument(docPath, true)
			if err != nil {
				return err
			}
			s := e.newSession(cmd.Context(), nil, text, "")
			defer s.Close()

			status, err := s.BeginImport(svgText, afterLine-1)
			if err != nil {
				return err
			}
			if status.Empty {
				fmt.Fprintln(cmd.ErrOrStderr(), "No equations found in the SVG.")
				return nil
			}
			for !status.Done {
				logger.Debug("duplicate on import",
					logger.String("match", status.Candidate.Match.String()),
					logger.String("existing", status.Candidate.Existing.Label))
				if status, err = s.ResolveImport(decision); err != nil {
					return err
				}
			}

			w := tabwriter.NewWriter(cmd.ErrOrStderr(), 0, 4, 2, ' ', 0)
			for _, o := range status.Outcomes {
				fmt.Fprintf(w, "%s\t%s\n", o.Action, lo.Ternary(o.Label != "", o.Label, firstLine(o.Incoming.Latex)))
			}
			if err := w.Flush(); err != nil {
				return err
			}

			if dryRun {
				_, err := io.WriteString(cmd.OutOrStdout(), s.Text())
				return err
			}
			return e.files().WriteFile(docPath, s.Text(), enc)
		},
	}
	cmd.Flags().BoolVar(&fromClipboard, "from-clipboard", false, "read the SVG from the clipboard")
	cmd.Flags().StringVar(&onDuplicate, "on-duplicate", importer.Cancel.String(), "what to do with duplicates: overwrite, keep-both or cancel")
	cmd.Flags().IntVar(&afterLine, "after-line", 0, "insert after the equation on this 1-based line (0 appends)")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "print the merged document instead of writing it")
	return cmd
}

func newDeleteCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <document> <label-or-id>...",
		Short: "Delete equations together with one adjacent separator",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			docPath := args[0]
			text, enc, err := e.readDocument(docPath, false)
			if err != nil {
				return err
			}
			// labels like eq2 and ids are positional, so every key is resolved
			// against the document as it was read
			result := document.Parse(text, nil)
			targets := make([]document.Equation, 0, len(args)-1)
			for _, key := range args[1:] {
				eq, err := findEquation(result, key)
				if err != nil {
					return err
				}
				targets = append(targets, eq)
			}
			targets = lo.UniqBy(targets, func(eq document.Equation) string { return eq.ID })
			slices.SortFunc(targets, func(a, b document.Equation) int { return b.StartLine - a.StartLine })

			for _, eq := range targets {
				edit, err := document.DeleteSection(text, eq.StartLine, eq.EndLine)
				if err != nil {
					return err
				}
				text = edit.Text
				fmt.Fprintf(cmd.ErrOrStderr(), "deleted %s\n", describe(eq))
			}
			return e.files().WriteFile(docPath, text, enc)
		},
	}
}

func newFixCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "fix <document> <label-or-id>",
		Short: "Repair an equation that fails to render with the configured language model",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			docPath := args[0]
			text, enc, err := e.readDocument(docPath, false)
			if err != nil {
				return err
			}
			r, err := e.newRenderer()
			if err != nil {
				return err
			}
			s := e.newSession(cmd.Context(), r, text, "")
			defer s.Close()

			eq, err := findEquation(s.Refresh(), args[1])
			if err != nil {
				return err
			}
			if err := s.RenderPending(cmd.Context()); err != nil {
				return err
			}
			view, _ := lo.Find(s.Equations(), func(v session.EquationView) bool { return v.ID == eq.ID })
			if view.Error == "" {
				fmt.Fprintf(cmd.ErrOrStderr(), "%s renders without errors, nothing to fix\n", eq.Label)
				return nil
			}

			fixer := render.NewFixer(e.cfg.GetAPIKey(), e.cfg.GetBaseURL(), e.cfg.GetModel(), r)
			result, err := s.FixEquation(cmd.Context(), fixer, eq.ID)
			if err != nil {
				return err
			}
			if !result.Success {
				return fmt.Errorf("could not fix %s after %d attempts: %s", eq.Label, result.Attempts, result.Summary)
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "fixed %s: %s\n", eq.Label, result.Summary)
			return e.files().WriteFile(docPath, s.Text(), enc)
		},
	}
}
