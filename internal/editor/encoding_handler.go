package editor

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"unicode/utf8"

	"golang.org/x/text/encoding/simplifiedchinese"
	"golang.org/x/text/encoding/unicode"

	"latex-equations/internal/logger"
	"latex-equations/internal/types"
)

// Encoding names a text encoding of a document file
type Encoding string

const (
	EncodingUTF8    Encoding = "UTF-8"
	EncodingUTF8BOM Encoding = "UTF-8-BOM"
	EncodingUTF16LE Encoding = "UTF-16LE"
	EncodingUTF16BE Encoding = "UTF-16BE"
	EncodingGBK     Encoding = "GBK"
	EncodingUnknown Encoding = "UNKNOWN"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// DefaultKeepBackups is how many backups WriteFile keeps per file
const DefaultKeepBackups = 5

// DetectEncoding guesses the encoding of data from its BOM, UTF-8 validity
// and finally a GBK decode.
func DetectEncoding(data []byte) Encoding {
	switch {
	case bytes.HasPrefix(data, utf8BOM):
		return EncodingUTF8BOM
	case bytes.HasPrefix(data, []byte{0xFF, 0xFE}):
		return EncodingUTF16LE
	case bytes.HasPrefix(data, []byte{0xFE, 0xFF}):
		return EncodingUTF16BE
	case utf8.Valid(data):
		return EncodingUTF8
	case isValidGBK(data):
		return EncodingGBK
	}
	return EncodingUnknown
}

// isValidGBK checks if data is valid GBK encoding
func isValidGBK(data []byte) bool {
	decoded, err := simplifiedchinese.GBK.NewDecoder().Bytes(data)
	if err != nil {
		return false
	}
	// 解码器对非法字节输出 U+FFFD 而不是报错
	return utf8.Valid(decoded) && !bytes.ContainsRune(decoded, utf8.RuneError)
}

// Decode converts data in enc to a UTF-8 string.
func Decode(data []byte, enc Encoding) (string, error) {
	var (
		decoded []byte
		err     error
	)
	switch enc {
	case EncodingUTF8:
		decoded = data
	case EncodingUTF8BOM:
		decoded = bytes.TrimPrefix(data, utf8BOM)
	case EncodingUTF16LE:
		decoded, err = unicode.UTF16(unicode.LittleEndian, unicode.UseBOM).NewDecoder().Bytes(data)
	case EncodingUTF16BE:
		decoded, err = unicode.UTF16(unicode.BigEndian, unicode.UseBOM).NewDecoder().Bytes(data)
	case EncodingGBK:
		decoded, err = simplifiedchinese.GBK.NewDecoder().Bytes(data)
	default:
		return "", fmt.Errorf("unsupported encoding: %s", enc)
	}
	if err != nil {
		return "", fmt.Errorf("failed to decode %s: %w", enc, err)
	}
	return string(decoded), nil
}

// Encode converts text to enc. UTF-16 output carries a BOM.
func Encode(text string, enc Encoding) ([]byte, error) {
	var (
		data []byte
		err  error
	)
	switch enc {
	case EncodingUTF8, "":
		data = []byte(text)
	case EncodingUTF8BOM:
		data = append(append([]byte(nil), utf8BOM...), text...)
	case EncodingUTF16LE:
		data, err = unicode.UTF16(unicode.LittleEndian, unicode.UseBOM).NewEncoder().Bytes([]byte(text))
	case EncodingUTF16BE:
		data, err = unicode.UTF16(unicode.BigEndian, unicode.UseBOM).NewEncoder().Bytes([]byte(text))
	case EncodingGBK:
		data, err = simplifiedchinese.GBK.NewEncoder().Bytes([]byte(text))
	default:
		return nil, fmt.Errorf("unsupported encoding: %s", enc)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to encode to %s: %w", enc, err)
	}
	return data, nil
}

// TextFile is a decoded document file.
type TextFile struct {
	Path     string   `json:"path"`
	Text     string   `json:"text"`
	Encoding Encoding `json:"encoding"`
}

// EncodingHandler reads document files in whatever encoding they use and
// writes them back, backing up the previous version first.
type EncodingHandler struct {
	backupMgr   *BackupManager
	keepBackups int
}

// NewEncodingHandler creates a new EncodingHandler. A nil backupMgr disables backups.
func NewEncodingHandler(backupMgr *BackupManager) *EncodingHandler {
	return &EncodingHandler{
		backupMgr:   backupMgr,
		keepBackups: DefaultKeepBackups,
	}
}

// ReadFile reads path and returns its content as UTF-8.
func (h *EncodingHandler) ReadFile(path string) (*TextFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, types.NewAppError(types.ErrFileNotFound, fmt.Sprintf("file not found: %s", path), err)
		}
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	enc := DetectEncoding(data)
	if enc == EncodingUnknown {
		logger.Warn("unknown encoding detected", logger.String("path", path))
		return nil, types.NewAppError(types.ErrInvalidInput, fmt.Sprintf("unrecognised text encoding: %s", path), nil)
	}
	text, err := Decode(data, enc)
	if err != nil {
		return nil, types.NewAppError(types.ErrInvalidInput, "failed to decode file", err)
	}

	logger.Debug("file read",
		logger.String("path", path),
		logger.String("encoding", string(enc)),
		logger.Int("bytes", len(data)))
	return &TextFile{Path: path, Text: text, Encoding: enc}, nil
}

// WriteFile writes text to path in enc. An existing file is backed up first
// and the new content replaces it through a temporary file, so a failed
// write leaves the old file intact.
func (h *EncodingHandler) WriteFile(path, text string, enc Encoding) error {
	data, err := Encode(text, enc)
	if err != nil {
		return types.NewAppError(types.ErrInvalidInput, "failed to encode file", err)
	}

	if h.backupMgr != nil {
		if _, statErr := os.Stat(path); statErr == nil {
			if _, err := h.backupMgr.CreateBackup(path); err != nil {
				return fmt.Errorf("failed to create backup: %w", err)
			}
			if err := h.backupMgr.CleanupBackups(path, h.keepBackups); err != nil {
				logger.Warn("backup cleanup failed", logger.Err(err))
			}
		}
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}
	tmpFile, err := os.CreateTemp(dir, ".save_*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()
	defer os.Remove(tmpPath)

	if _, err := tmpFile.Write(data); err != nil {
		tmpFile.Close()
		return fmt.Errorf("failed to write file: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("failed to write file: %w", err)
	}
	if err := os.Chmod(tmpPath, 0644); err != nil {
		return fmt.Errorf("failed to set file mode: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("failed to replace file: %w", err)
	}

	logger.Info("file saved",
		logger.String("path", path),
		logger.String("encoding", string(enc)),
		logger.Int("bytes", len(data)))
	return nil
}
