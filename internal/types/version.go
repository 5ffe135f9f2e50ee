package types

const (
	// AppName identifies the generator in exported SVG and project files
	AppName = "latex-equations"
	// AppVersion 当前版本
	AppVersion = "1.0.0"
)
