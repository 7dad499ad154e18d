package provider

import (
	"archive/zip"
	"bytes"
	"fmt"
	"sort"

	"github.com/yairfalse/instantiate/pkg/resource"
)

// SourceFile returns the file name a function or site runtime expects for
// the given code type.
func SourceFile(codeType string) string {
	switch codeType {
	case resource.CodePython:
		return "lambda_function.py"
	case resource.CodeHTML:
		return "index.html"
	default:
		return "index.js"
	}
}

// Zip packs files into an in-memory zip archive. Entries are written in
// name order so identical inputs give identical archives.
func Zip(files map[string]string) ([]byte, error) {
	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}
	sort.Strings(names)

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, name := range names {
		w, err := zw.Create(name)
		if err != nil {
			return nil, fmt.Errorf("zip %s: %w", name, err)
		}
		if _, err := w.Write([]byte(files[name])); err != nil {
			return nil, fmt.Errorf("zip %s: %w", name, err)
		}
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("close zip: %w", err)
	}
	return buf.Bytes(), nil
}
