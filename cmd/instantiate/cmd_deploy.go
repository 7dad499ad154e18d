package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/yairfalse/instantiate/pkg/resource"
)

var deployFile string

var deployCmd = &cobra.Command{
	Use:   "deploy",
	Short: "Deploy a manifest to its provider",
	Long: `Deploy the request described by a YAML manifest.

The manifest carries the same fields as the HTTP deploy body:

  name: hello
  provider: aws
  region: us-east-1
  service: lambda
  codeType: javascript
  code: |
    exports.handler = async () => ({ statusCode: 200, body: "hi" })
  environmentVariables:
    STAGE: dev

A codeFile key may replace code with a path relative to the manifest.`,
	Example: `  instantiate deploy -f hello.yaml
  cat hello.yaml | instantiate deploy -f -`,
	RunE: runDeploy,
}

func init() {
	rootCmd.AddCommand(deployCmd)

	deployCmd.Flags().StringVarP(&deployFile, "file", "f", "", "manifest file, - for stdin")
	_ = deployCmd.MarkFlagRequired("file")
}

// manifest is a DeployRequest that may point at its code on disk.
type manifest struct {
	resource.DeployRequest `yaml:",inline"`
	CodeFile               string `yaml:"codeFile,omitempty"`
}

func loadManifest(path string, stdin io.Reader) (resource.DeployRequest, error) {
	var (
		data []byte
		err  error
		dir  = "."
	)
	if path == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(filepath.Clean(path))
		dir = filepath.Dir(path)
	}
	if err != nil {
		return resource.DeployRequest{}, fmt.Errorf("read manifest: %w", err)
	}

	var m manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return resource.DeployRequest{}, fmt.Errorf("parse manifest: %w", err)
	}
	if m.CodeFile != "" {
		if m.Code != "" {
			return resource.DeployRequest{}, fmt.Errorf("manifest sets both code and codeFile")
		}
		code, err := os.ReadFile(filepath.Join(dir, m.CodeFile))
		if err != nil {
			return resource.DeployRequest{}, fmt.Errorf("read code file: %w", err)
		}
		m.Code = string(code)
	}
	return m.DeployRequest, nil
}

func runDeploy(cmd *cobra.Command, _ []string) error {
	req, err := loadManifest(deployFile, cmd.InOrStdin())
	if err != nil {
		return err
	}

	a, err := newApp(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	dep, err := a.manager.Deploy(cmd.Context(), req)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(dep)
}
