package main

import (
	"context"
	"embed"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"latex-equations/internal/logger"
	"latex-equations/internal/project"
	"latex-equations/internal/types"

	"github.com/wailsapp/wails/v2"
	"github.com/wailsapp/wails/v2/pkg/options"
	"github.com/wailsapp/wails/v2/pkg/options/assetserver"
	"github.com/wailsapp/wails/v2/pkg/runtime"
)

//go:embed all:frontend/dist
var assets embed.FS

// Command line flags
var (
	openFlag  = flag.String("open", "", "Equation document or project file to open at startup")
	debugFlag = flag.Bool("debug", false, "Write debug level logs to the console")
)

// printHelp displays the help information for command line usage.
func printHelp() {
	fmt.Println("LaTeX Equations - 编辑、渲染并以 SVG 往返导入导出 LaTeX 公式")
	fmt.Println()
	fmt.Println("用法:")
	fmt.Println("  latex-equations [选项]")
	fmt.Println()
	fmt.Println("选项:")
	fmt.Println("  --open <PATH>   启动时打开公式文档或 " + project.FileExtension + " 项目")
	fmt.Println("  --debug         在控制台输出调试日志")
	fmt.Println("  -h, --help      显示帮助信息")
	fmt.Println()
	fmt.Println("命令行处理请使用 eqdoc 工具。")
}

func logFilePath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return logger.DefaultConfig().LogFilePath
	}
	return filepath.Join(dir, types.AppName, types.AppName+".log")
}

func main() {
	flag.Usage = printHelp
	flag.Parse()

	logConfig := logger.DefaultConfig()
	logConfig.LogFilePath = logFilePath()
	if *debugFlag {
		logConfig.Level = logger.LevelDebug
		logConfig.EnableConsole = true
	}
	if err := os.MkdirAll(filepath.Dir(logConfig.LogFilePath), 0755); err == nil {
		if err := logger.Init(logConfig); err != nil {
			fmt.Fprintf(os.Stderr, "日志初始化失败: %v\n", err)
		}
	}
	defer logger.Close()

	app := NewApp()
	app.SetWailsRuntime(true)

	startupFunc := func(ctx context.Context) {
		app.startup(ctx)

		if *openFlag == "" {
			return
		}
		var err error
		if strings.HasSuffix(*openFlag, project.FileExtension) {
			_, err = app.OpenProject(*openFlag)
		} else {
			_, err = app.OpenDocument(*openFlag)
		}
		if err != nil {
			runtime.EventsEmit(ctx, "open-error", err.Error())
			fmt.Fprintf(os.Stderr, "打开失败: %v\n", err)
		}
	}

	err := wails.Run(&options.App{
		Title:  "LaTeX 公式",
		Width:  1200,
		Height: 800,
		AssetServer: &assetserver.Options{
			Assets: assets,
		},
		BackgroundColour: &options.RGBA{R: 27, G: 38, B: 54, A: 1},
		OnStartup:        startupFunc,
		OnShutdown:       app.shutdown,
		OnBeforeClose: func(ctx context.Context) (prevent bool) {
			if !app.HasUnsavedChanges() {
				return false
			}
			result, err := runtime.MessageDialog(ctx, runtime.MessageDialogOptions{
				Type:          runtime.QuestionDialog,
				Title:         "确认退出",
				Message:       "文档有未保存的修改，确定要退出吗？",
				Buttons:       []string{"取消", "退出"},
				DefaultButton: "取消",
				CancelButton:  "取消",
			})
			if err != nil {
				return false
			}
			return result == "取消"
		},
		Bind: []interface{}{
			app,
		},
	})
	if err != nil {
		logger.Error("wails run failed", err)
		fmt.Fprintf(os.Stderr, "启动失败: %v\n", err)
		os.Exit(1)
	}
}
