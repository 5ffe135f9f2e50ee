// Package types defines shared configuration and error types for the equation editor.
package types

// Config 应用配置
type Config struct {
	// Rendering
	RenderEngine         string   `json:"render_engine"`          // "mathjax" (in-process) 或 "command"
	RenderCommand        string   `json:"render_command"`         // command 引擎使用的可执行文件，例如 tex2svg
	RenderArgs           []string `json:"render_args"`            // 追加在公式前的参数
	RenderTimeoutSeconds int      `json:"render_timeout_seconds"` // 单个公式渲染超时
	RenderConcurrency    int      `json:"render_concurrency"`     // 批量渲染并发数
	DefaultDisplayMode   string   `json:"default_display_mode"`   // "block" 或 "inline"
	GlobalPreamble       string   `json:"global_preamble"`        // 所有公式共享的宏定义

	// Editing
	DebounceMillis int  `json:"debounce_millis"` // 连续编辑合并窗口
	BackupEnabled  bool `json:"backup_enabled"`  // 覆盖文件前创建备份

	// LLM-assisted fixing
	OpenAIAPIKey  string `json:"openai_api_key"`
	OpenAIBaseURL string `json:"openai_base_url"`
	OpenAIModel   string `json:"openai_model"`

	WorkDirectory string           `json:"work_directory"`
	LogLevel      string           `json:"log_level"`
	RecentFiles   []RecentFileItem `json:"recent_files"`
}

// RecentFileItem 最近打开的文件
type RecentFileItem struct {
	Path      string `json:"path"`
	Timestamp int64  `json:"timestamp"` // Unix 毫秒
	Kind      string `json:"kind"`      // document, project, svg
}

// ErrorCode 错误代码枚举
type ErrorCode string

const (
	ErrInvalidInput       ErrorCode = "INVALID_INPUT"
	ErrInvalidRange       ErrorCode = "INVALID_RANGE"
	ErrFileNotFound       ErrorCode = "FILE_NOT_FOUND"
	ErrProjectParse       ErrorCode = "PROJECT_PARSE_ERROR"
	ErrUnsupportedVersion ErrorCode = "UNSUPPORTED_VERSION"
	ErrRenderSyntax       ErrorCode = "RENDER_SYNTAX_ERROR"
	ErrEngineUnavailable  ErrorCode = "ENGINE_UNAVAILABLE"
	ErrImport             ErrorCode = "IMPORT_ERROR"
	ErrAPICall            ErrorCode = "API_CALL_ERROR"
	ErrConfig             ErrorCode = "CONFIG_ERROR"
	ErrInternal           ErrorCode = "INTERNAL_ERROR"
)

// AppError 应用错误
type AppError struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Details string    `json:"details,omitempty"`
	Cause   error     `json:"-"`
}

// Error implements the error interface for AppError
func (e *AppError) Error() string {
	if e.Details != "" {
		return e.Message + ": " + e.Details
	}
	return e.Message
}

// Unwrap returns the underlying cause of the error
func (e *AppError) Unwrap() error {
	return e.Cause
}

// Is reports whether target is an AppError with the same code, so that
// errors.Is(err, &AppError{Code: ErrUnsupportedVersion}) works on wrapped errors.
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// NewAppError creates a new AppError with the given code, message, and optional cause
func NewAppError(code ErrorCode, message string, cause error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// NewAppErrorWithDetails creates a new AppError with details
func NewAppErrorWithDetails(code ErrorCode, message, details string, cause error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Details: details,
		Cause:   cause,
	}
}

// CodeOf returns the code of the first AppError in err's chain, or "" if none.
func CodeOf(err error) ErrorCode {
	for err != nil {
		if appErr, ok := err.(*AppError); ok {
			return appErr.Code
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return ""
		}
		err = u.Unwrap()
	}
	return ""
}
