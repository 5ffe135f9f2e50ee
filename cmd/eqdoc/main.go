// Command eqdoc works on equation documents without the desktop app: it
// lists equations, exports a document to SVG, imports an exported SVG back,
// deletes equations and repairs ones that fail to render.
package main

import (
	"os"
	"path/filepath"

	"github.com/atotto/clipboard"
	"github.com/spf13/cobra"

	"latex-equations/internal/config"
	"latex-equations/internal/logger"
	"latex-equations/internal/render"
	"latex-equations/internal/types"
)

// env is the state shared by every subcommand.
type env struct {
	configPath string
	engine     string
	debug      bool

	cfg *config.ConfigManager
	// renderer overrides the configured engine when set
	renderer render.Renderer

	clipboardRead  func() (string, error)
	clipboardWrite func(string) error
}

func newEnv() *env {
	return &env{
		clipboardRead:  clipboard.ReadAll,
		clipboardWrite: clipboard.WriteAll,
	}
}

func buildRootCmd(e *env) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "eqdoc",
		Short:         "Work with LaTeX equation documents",
		Long:          "eqdoc parses, renders, exports and imports documents of LaTeX equations separated by --- lines.",
		Version:       types.AppVersion,
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return e.init()
		},
	}

	rootCmd.PersistentFlags().StringVar(&e.configPath, "config", "", "config file (default ~/.config/latex-equations/"+config.DefaultConfigFileName+")")
	rootCmd.PersistentFlags().StringVar(&e.engine, "engine", "", "render engine: mathjax or command (default from config)")
	rootCmd.PersistentFlags().BoolVar(&e.debug, "debug", false, "write debug logs to stderr")

	rootCmd.AddCommand(
		newParseCmd(e),
		newRenderCmd(e),
		newExportCmd(e),
		newImportCmd(e),
		newDeleteCmd(e),
		newFixCmd(e),
	)
	return rootCmd
}

func (e *env) init() error {
	if e.debug {
		if err := logger.Init(&logger.Config{
			LogFilePath:   filepath.Join(os.TempDir(), "eqdoc.log"),
			Level:         logger.LevelDebug,
			EnableConsole: true,
		}); err != nil {
			return err
		}
	}

	cfg, err := config.NewConfigManager(e.configPath)
	if err != nil {
		return err
	}
	if err := cfg.Load(); err != nil {
		return err
	}
	e.cfg = cfg
	return nil
}

func main() {
	rootCmd := buildRootCmd(newEnv())
	err := rootCmd.Execute()
	logger.Close()
	if err != nil {
		os.Exit(1)
	}
}
