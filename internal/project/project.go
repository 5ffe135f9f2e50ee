// Package project reads and writes equation project files.
//
// A project file is JSON holding the raw document text, which is the only
// source of truth; equations are derived by parsing it.
package project

import (
	"encoding/json"
	"fmt"
	"time"

	"latex-equations/internal/editor"
	"latex-equations/internal/logger"
	"latex-equations/internal/types"
)

const (
	// Version is the only project format version this build reads
	Version = "1.0"
	// FileExtension is used by the file dialogs
	FileExtension = ".eqproj"
)

// Metadata describes who wrote a project and when.
type Metadata struct {
	Name             string    `json:"name,omitempty"`
	CreatedAt        time.Time `json:"createdAt"`
	UpdatedAt        time.Time `json:"updatedAt"`
	Generator        string    `json:"generator"`
	GeneratorVersion string    `json:"generatorVersion"`
}

// File is the persisted project.
type File struct {
	Version        string   `json:"version"`
	Metadata       Metadata `json:"metadata"`
	GlobalPreamble *string  `json:"globalPreamble,omitempty"`
	Document       string   `json:"document"`
}

// New creates a project stamped with the current time and this generator.
// An empty preamble is omitted from the file.
func New(name, document, preamble string) *File {
	now := time.Now().UTC()
	f := &File{
		Version: Version,
		Metadata: Metadata{
			Name:             name,
			CreatedAt:        now,
			UpdatedAt:        now,
			Generator:        types.AppName,
			GeneratorVersion: types.AppVersion,
		},
		Document: document,
	}
	f.SetPreamble(preamble)
	return f
}

// Preamble returns the global preamble or "".
func (f *File) Preamble() string {
	if f.GlobalPreamble == nil {
		return ""
	}
	return *f.GlobalPreamble
}

// SetPreamble sets the global preamble; "" removes it.
func (f *File) SetPreamble(preamble string) {
	if preamble == "" {
		f.GlobalPreamble = nil
		return
	}
	f.GlobalPreamble = &preamble
}

// Touch records a modification by this generator.
func (f *File) Touch() {
	f.Metadata.UpdatedAt = time.Now().UTC()
	f.Metadata.Generator = types.AppName
	f.Metadata.GeneratorVersion = types.AppVersion
	if f.Metadata.CreatedAt.IsZero() {
		f.Metadata.CreatedAt = f.Metadata.UpdatedAt
	}
}

// Decode parses a project file. Malformed JSON and any version other than
// Version are rejected.
func Decode(data []byte) (*File, error) {
	var f File
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, types.NewAppError(types.ErrProjectParse, "failed to parse project file", err)
	}
	if f.Version != Version {
		return nil, types.NewAppError(types.ErrUnsupportedVersion,
			fmt.Sprintf("unsupported version: %s", f.Version), nil)
	}
	return &f, nil
}

// Encode serializes f as indented JSON.
func Encode(f *File) ([]byte, error) {
	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return nil, types.NewAppError(types.ErrInternal, "failed to encode project file", err)
	}
	return append(data, '\n'), nil
}

// Load reads and decodes the project at path.
func Load(path string) (*File, error) {
	file, err := editor.NewEncodingHandler(nil).ReadFile(path)
	if err != nil {
		return nil, err
	}
	f, err := Decode([]byte(file.Text))
	if err != nil {
		logger.Warn("project rejected", logger.String("path", path), logger.Err(err))
		return nil, err
	}

	logger.Info("project loaded",
		logger.String("path", path),
		logger.String("name", f.Metadata.Name),
		logger.Int("documentBytes", len(f.Document)))
	return f, nil
}

// Save stamps f and writes it to path. With a non-nil backups manager an
// existing file is backed up before it is overwritten.
func Save(path string, f *File, backups *editor.BackupManager) error {
	f.Version = Version
	f.Touch()

	data, err := Encode(f)
	if err != nil {
		return err
	}
	if err := editor.NewEncodingHandler(backups).WriteFile(path, string(data), editor.EncodingUTF8); err != nil {
		return fmt.Errorf("failed to save project: %w", err)
	}
	return nil
}
