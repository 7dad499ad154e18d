package provider

import (
	"fmt"
	"sort"
	"strings"

	"github.com/yairfalse/instantiate/pkg/resource"
)

// Runtime images used when a container platform is asked to run inline code.
const (
	NodeImage   = "node:20-alpine"
	PythonImage = "python:3.12-alpine"
)

// BootScript turns a deploy request into a cloud-init shell script for
// VM-backed services. Container code is pulled and run with docker; source
// code is written to disk and started with its interpreter; HTML is served
// by nginx.
func BootScript(req resource.DeployRequest) string {
	var b strings.Builder
	b.WriteString("#!/bin/bash\nset -e\n")
	for _, k := range sortedKeys(req.EnvironmentVariables) {
		fmt.Fprintf(&b, "export %s=%s\n", k, shellQuote(req.EnvironmentVariables[k]))
	}

	switch req.CodeType {
	case resource.CodeContainer:
		b.WriteString("apt-get update -y && apt-get install -y docker.io\n")
		b.WriteString("docker run -d --restart always -p 80:80")
		for _, k := range sortedKeys(req.EnvironmentVariables) {
			fmt.Fprintf(&b, " -e %s", k)
		}
		fmt.Fprintf(&b, " %s\n", shellQuote(req.Code))
	case resource.CodeHTML:
		b.WriteString("apt-get update -y && apt-get install -y nginx\n")
		writeFile(&b, "/var/www/html/index.html", req.Code)
		b.WriteString("systemctl restart nginx\n")
	case resource.CodePython:
		b.WriteString("apt-get update -y && apt-get install -y python3\n")
		writeFile(&b, "/opt/app/"+SourceFile(req.CodeType), req.Code)
		b.WriteString("nohup python3 /opt/app/" + SourceFile(req.CodeType) + " > /var/log/app.log 2>&1 &\n")
	default:
		b.WriteString("apt-get update -y && apt-get install -y nodejs\n")
		writeFile(&b, "/opt/app/index.js", req.Code)
		b.WriteString("nohup node /opt/app/index.js > /var/log/app.log 2>&1 &\n")
	}
	return b.String()
}

// InlineCommand returns the image and command a container platform should
// run for req. Container requests run their image unchanged (nil command).
// ok is false for code types that need a web server rather than a process.
func InlineCommand(req resource.DeployRequest) (image string, command []string, ok bool) {
	switch req.CodeType {
	case resource.CodeContainer:
		return req.Code, nil, true
	case resource.CodeJavaScript:
		return NodeImage, []string{"node", "-e", req.Code}, true
	case resource.CodePython:
		return PythonImage, []string{"python", "-c", req.Code}, true
	default:
		return "", nil, false
	}
}

func writeFile(b *strings.Builder, path, content string) {
	dir := path[:strings.LastIndex(path, "/")]
	fmt.Fprintf(b, "mkdir -p %s\ncat > %s <<'INSTANTIATE_EOF'\n%s\nINSTANTIATE_EOF\n", dir, path, content)
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
