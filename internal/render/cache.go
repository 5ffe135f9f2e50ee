package render

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"latex-equations/internal/document"
	"latex-equations/internal/types"
)

// CacheEntry 缓存的渲染结果
type CacheEntry struct {
	Hash        string    `json:"hash"`
	Latex       string    `json:"latex"`
	DisplayMode string    `json:"display_mode"`
	Preamble    string    `json:"preamble,omitempty"`
	SVG         string    `json:"svg"`
	CreatedAt   time.Time `json:"created_at"`
}

// CacheFile 缓存文件格式
type CacheFile struct {
	Version string       `json:"version"`
	Entries []CacheEntry `json:"entries"`
}

// SVGCache holds SVG markup that arrived with pasted or imported equations,
// keyed by normalized latex, display mode and the preamble it was rendered
// under, so those equations need no render round trip.
type SVGCache struct {
	cachePath string
	cache     map[string]CacheEntry // hash -> CacheEntry
	mu        sync.RWMutex
}

// NewSVGCache 创建新的 SVG 缓存实例，cachePath 为空时不持久化
func NewSVGCache(cachePath string) *SVGCache {
	return &SVGCache{
		cachePath: cachePath,
		cache:     make(map[string]CacheEntry),
	}
}

func normalizeMode(mode string) string {
	if mode == DisplayInline {
		return DisplayInline
	}
	return DisplayBlock
}

// ComputeHash 计算缓存键（SHA256）
func (c *SVGCache) ComputeHash(latex, displayMode, preamble string) string {
	key := document.NormalizeLatex(latex) + "\x00" + normalizeMode(displayMode) + "\x00" + strings.TrimSpace(preamble)
	hash := sha256.Sum256([]byte(key))
	return hex.EncodeToString(hash[:])
}

// Get 获取缓存的 SVG
func (c *SVGCache) Get(latex, displayMode, preamble string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.cache[c.ComputeHash(latex, displayMode, preamble)]
	if !ok {
		return "", false
	}
	return entry.SVG, true
}

// Set 设置缓存
func (c *SVGCache) Set(latex, displayMode, preamble, svg string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	hash := c.ComputeHash(latex, displayMode, preamble)
	c.cache[hash] = CacheEntry{
		Hash:        hash,
		Latex:       latex,
		DisplayMode: normalizeMode(displayMode),
		Preamble:    strings.TrimSpace(preamble),
		SVG:         svg,
		CreatedAt:   time.Now(),
	}
}

// Load 从文件加载缓存
func (c *SVGCache) Load() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cachePath == "" {
		return nil
	}
	data, err := os.ReadFile(c.cachePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return types.NewAppError(types.ErrInternal, "failed to read svg cache", err)
	}

	var cacheFile CacheFile
	if err := json.Unmarshal(data, &cacheFile); err != nil {
		return types.NewAppError(types.ErrInternal, "failed to parse svg cache", err)
	}

	c.cache = make(map[string]CacheEntry, len(cacheFile.Entries))
	for _, entry := range cacheFile.Entries {
		c.cache[entry.Hash] = entry
	}
	return nil
}

// Save 保存缓存到文件
func (c *SVGCache) Save() error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.cachePath == "" {
		return nil
	}

	entries := make([]CacheEntry, 0, len(c.cache))
	for _, entry := range c.cache {
		entries = append(entries, entry)
	}
	data, err := json.MarshalIndent(CacheFile{Version: "1.0", Entries: entries}, "", "  ")
	if err != nil {
		return types.NewAppError(types.ErrInternal, "failed to marshal svg cache", err)
	}

	if err := os.MkdirAll(filepath.Dir(c.cachePath), 0755); err != nil {
		return types.NewAppError(types.ErrInternal, "failed to create cache directory", err)
	}
	if err := os.WriteFile(c.cachePath, data, 0644); err != nil {
		return types.NewAppError(types.ErrInternal, "failed to write svg cache", err)
	}
	return nil
}

// Size 返回缓存中的条目数量
func (c *SVGCache) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.cache)
}
