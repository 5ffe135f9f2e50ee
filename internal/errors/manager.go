// Package errors tracks render failures per equation
package errors

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

// ErrorKind 渲染错误类型
type ErrorKind string

const (
	KindSyntax      ErrorKind = "syntax"      // 公式本身无法排版
	KindUnavailable ErrorKind = "unavailable" // 渲染引擎不可用
)

// FailureRecord 渲染失败记录
type FailureRecord struct {
	EquationID  string    `json:"equation_id"`  // 公式 ID
	Label       string    `json:"label"`        // 公式标签
	Latex       string    `json:"latex"`        // 失败时的 LaTeX 源码
	Kind        ErrorKind `json:"kind"`         // 错误类型
	ErrorMsg    string    `json:"error_msg"`    // 错误信息
	Timestamp   time.Time `json:"timestamp"`    // 首次失败时间
	Attempts    int       `json:"attempts"`     // 同一源码的失败次数
	LastAttempt time.Time `json:"last_attempt"` // 最后一次失败时间
}

// ErrorManager 错误管理器
type ErrorManager struct {
	baseDir string
	mu      sync.RWMutex
	errors  map[string]*FailureRecord // key: equation ID
}

const errorsFileName = "render-errors.json"

// NewErrorManager creates a failure log. With an empty baseDir the log lives in
// memory only; otherwise it is loaded from and saved to baseDir.
func NewErrorManager(baseDir string) (*ErrorManager, error) {
	em := &ErrorManager{
		baseDir: baseDir,
		errors:  make(map[string]*FailureRecord),
	}
	if baseDir == "" {
		return em, nil
	}

	// 确保目录存在
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create errors directory: %w", err)
	}
	if err := em.load(); err != nil {
		return nil, err
	}
	return em, nil
}

// RecordError records a failure for an equation. Repeated failures of the
// same source increment Attempts; a failure of edited source starts over.
func (em *ErrorManager) RecordError(id, label, latex string, kind ErrorKind, errorMsg string) error {
	em.mu.Lock()
	defer em.mu.Unlock()

	now := time.Now()
	record := &FailureRecord{
		EquationID:  id,
		Label:       label,
		Latex:       latex,
		Kind:        kind,
		ErrorMsg:    errorMsg,
		Timestamp:   now,
		Attempts:    1,
		LastAttempt: now,
	}
	if existing, ok := em.errors[id]; ok && existing.Latex == latex {
		record.Timestamp = existing.Timestamp
		record.Attempts = existing.Attempts + 1
	}
	em.errors[id] = record

	return em.save()
}

// RemoveError 移除错误记录（渲染成功或公式被修改后）
func (em *ErrorManager) RemoveError(id string) error {
	em.mu.Lock()
	defer em.mu.Unlock()

	if _, ok := em.errors[id]; !ok {
		return nil
	}
	delete(em.errors, id)
	return em.save()
}

// RetainOnly drops records of equations not in ids.
func (em *ErrorManager) RetainOnly(ids []string) error {
	em.mu.Lock()
	defer em.mu.Unlock()

	keep := make(map[string]bool, len(ids))
	for _, id := range ids {
		keep[id] = true
	}
	changed := false
	for id := range em.errors {
		if !keep[id] {
			delete(em.errors, id)
			changed = true
		}
	}
	if !changed {
		return nil
	}
	return em.save()
}

// ListErrors 列出所有错误记录，按首次失败时间排序
func (em *ErrorManager) ListErrors() []*FailureRecord {
	em.mu.RLock()
	defer em.mu.RUnlock()

	records := make([]*FailureRecord, 0, len(em.errors))
	for _, record := range em.errors {
		// 创建副本以避免并发修改
		recordCopy := *record
		records = append(records, &recordCopy)
	}
	sort.Slice(records, func(i, j int) bool {
		if !records[i].Timestamp.Equal(records[j].Timestamp) {
			return records[i].Timestamp.Before(records[j].Timestamp)
		}
		return records[i].EquationID < records[j].EquationID
	})
	return records
}

// GetError 获取特定公式的错误记录
func (em *ErrorManager) GetError(id string) (*FailureRecord, bool) {
	em.mu.RLock()
	defer em.mu.RUnlock()

	record, ok := em.errors[id]
	if !ok {
		return nil, false
	}
	recordCopy := *record
	return &recordCopy, true
}

// HasErrors 检查是否存在错误记录
func (em *ErrorManager) HasErrors() bool {
	em.mu.RLock()
	defer em.mu.RUnlock()
	return len(em.errors) > 0
}

// CountByKind 统计某类错误的数量
func (em *ErrorManager) CountByKind(kind ErrorKind) int {
	em.mu.RLock()
	defer em.mu.RUnlock()

	n := 0
	for _, record := range em.errors {
		if record.Kind == kind {
			n++
		}
	}
	return n
}

// ClearAll 清除所有错误记录
func (em *ErrorManager) ClearAll() error {
	em.mu.Lock()
	defer em.mu.Unlock()

	em.errors = make(map[string]*FailureRecord)
	return em.save()
}

// load 从文件加载错误记录
func (em *ErrorManager) load() error {
	filePath := filepath.Join(em.baseDir, errorsFileName)

	data, err := os.ReadFile(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			// 文件不存在是正常的
			return nil
		}
		return fmt.Errorf("failed to read errors file: %w", err)
	}

	var records []*FailureRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return fmt.Errorf("failed to unmarshal errors: %w", err)
	}
	for _, record := range records {
		em.errors[record.EquationID] = record
	}
	return nil
}

// save 保存错误记录到文件，内存模式下不做任何操作
func (em *ErrorManager) save() error {
	if em.baseDir == "" {
		return nil
	}

	records := make([]*FailureRecord, 0, len(em.errors))
	for _, record := range em.errors {
		records = append(records, record)
	}
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal errors: %w", err)
	}

	filePath := filepath.Join(em.baseDir, errorsFileName)
	if err := os.WriteFile(filePath, data, 0644); err != nil {
		return fmt.Errorf("failed to write errors file: %w", err)
	}
	return nil
}

// GetKindDisplayName 获取错误类型的显示名称
func GetKindDisplayName(kind ErrorKind) string {
	switch kind {
	case KindSyntax:
		return "公式语法错误"
	case KindUnavailable:
		return "渲染引擎不可用"
	default:
		return string(kind)
	}
}
