package ingest

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"gopkg.in/yaml.v3"

	"github.com/kailas-cloud/vecrag/internal/domain"
)

// DefaultExtensions lists the file types ingested when none are configured.
var DefaultExtensions = []string{".md", ".markdown", ".txt"}

var reservedKeys = []string{
	domain.MetaChunkID, domain.MetaSourceFile, domain.MetaSourceLocation,
	domain.MetaChunkType, domain.MetaModel, domain.MetaProvider, domain.MetaText,
}

// Loader reads text files into sources.
type Loader struct {
	extensions []string
}

// NewLoader creates a loader for the given extensions (".md" or "md").
func NewLoader(extensions ...string) *Loader {
	if len(extensions) == 0 {
		extensions = DefaultExtensions
	}
	l := &Loader{}
	for _, e := range extensions {
		e = strings.ToLower(strings.TrimSpace(e))
		if e == "" {
			continue
		}
		if !strings.HasPrefix(e, ".") {
			e = "." + e
		}
		l.extensions = append(l.extensions, e)
	}
	return l
}

// Supports reports whether path has an ingestible extension.
func (l *Loader) Supports(path string) bool {
	return slices.Contains(l.extensions, strings.ToLower(filepath.Ext(path)))
}

// Expand resolves files and directories into a sorted list of supported files.
// Hidden files and directories are skipped.
func (l *Loader) Expand(paths []string) ([]string, error) {
	var files []string
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			return nil, fmt.Errorf("stat %s: %w", p, err)
		}
		if !info.IsDir() {
			if l.Supports(p) {
				files = append(files, SourceName(p))
			}
			continue
		}
		err = filepath.WalkDir(p, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if path != p && strings.HasPrefix(d.Name(), ".") {
				if d.IsDir() {
					return filepath.SkipDir
				}
				return nil
			}
			if !d.IsDir() && l.Supports(path) {
				files = append(files, SourceName(path))
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("walk %s: %w", p, err)
		}
	}
	slices.Sort(files)
	return slices.Compact(files), nil
}

// Load reads a file. YAML frontmatter becomes source metadata.
func (l *Loader) Load(path string) (domain.Source, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return domain.Source{}, fmt.Errorf("read %s: %w", path, err)
	}
	if !utf8.Valid(data) {
		return domain.Source{}, fmt.Errorf("read %s: not valid UTF-8", path)
	}

	body, meta, err := ParseFrontmatter(string(data))
	if err != nil {
		return domain.Source{}, fmt.Errorf("read %s: %w", path, err)
	}
	return domain.Source{File: SourceName(path), Text: body, Metadata: meta}, nil
}

// SourceName normalizes a path into the source_file value stored with chunks.
func SourceName(path string) string {
	return filepath.ToSlash(filepath.Clean(path))
}

// ParseFrontmatter splits a leading "---" YAML block from the text.
// Scalars and lists of scalars become metadata; reserved keys are dropped.
// Text without a closed block is returned unchanged.
func ParseFrontmatter(text string) (string, map[string]string, error) {
	text = strings.TrimPrefix(text, "\ufeff")
	text = strings.ReplaceAll(text, "\r\n", "\n")
	if !strings.HasPrefix(text, "---\n") {
		return text, nil, nil
	}
	rest := text[len("---\n"):]

	var block, body string
	closed := false
	offset := 0
	for _, line := range strings.SplitAfter(rest, "\n") {
		if strings.TrimRight(line, "\n") == "---" {
			block, body = rest[:offset], rest[offset+len(line):]
			closed = true
			break
		}
		offset += len(line)
	}
	if !closed {
		return text, nil, nil
	}

	var raw map[string]any
	if err := yaml.Unmarshal([]byte(block), &raw); err != nil {
		return "", nil, fmt.Errorf("frontmatter: %w", err)
	}

	var meta map[string]string
	for k, v := range raw {
		if slices.Contains(reservedKeys, k) {
			continue
		}
		s, ok := scalar(v)
		if !ok {
			list, isList := v.([]any)
			if !isList {
				continue
			}
			parts := make([]string, 0, len(list))
			for _, item := range list {
				if s, ok := scalar(item); ok {
					parts = append(parts, s)
				}
			}
			s = strings.Join(parts, ",")
		}
		if meta == nil {
			meta = make(map[string]string, len(raw))
		}
		meta[k] = s
	}
	return body, meta, nil
}

func scalar(v any) (string, bool) {
	switch x := v.(type) {
	case string:
		return x, true
	case bool:
		return strconv.FormatBool(x), true
	case int:
		return strconv.Itoa(x), true
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64), true
	case time.Time:
		if x.Hour() == 0 && x.Minute() == 0 && x.Second() == 0 {
			return x.Format(time.DateOnly), true
		}
		return x.Format(time.RFC3339), true
	default:
		return "", false
	}
}
