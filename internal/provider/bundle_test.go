package provider

import (
	"archive/zip"
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yairfalse/instantiate/pkg/resource"
)

func TestSourceFile(t *testing.T) {
	assert.Equal(t, "index.js", SourceFile(resource.CodeJavaScript))
	assert.Equal(t, "lambda_function.py", SourceFile(resource.CodePython))
	assert.Equal(t, "index.html", SourceFile(resource.CodeHTML))
}

func TestZip(t *testing.T) {
	data, err := Zip(map[string]string{"b.txt": "bee", "a.txt": "ay"})
	require.NoError(t, err)

	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)
	require.Len(t, zr.File, 2)
	assert.Equal(t, "a.txt", zr.File[0].Name)

	f, err := zr.File[1].Open()
	require.NoError(t, err)
	defer f.Close()
	content, err := io.ReadAll(f)
	require.NoError(t, err)
	assert.Equal(t, "bee", string(content))
}
