// SPDX-FileCopyrightText: Copyright 2025 The vmcpd Authors
// SPDX-License-Identifier: Apache-2.0

package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/virtualmcp/vmcpd/pkg/vmcp"
	"github.com/virtualmcp/vmcpd/pkg/vmcp/template"
)

const (
	// defaultScriptTimeout bounds a script's wall clock when the tool does
	// not set its own.
	defaultScriptTimeout = 30 * time.Second

	// defaultScriptConcurrency is the process-wide cap on concurrently
	// running script subprocesses. Excess invocations queue on the
	// semaphore until a slot frees or their context expires.
	defaultScriptConcurrency = 8

	// killGracePeriod is how long Wait may linger after the kill signal
	// before abandoning the subprocess's pipes.
	killGracePeriod = time.Second

	// toolArgsEnv carries the argument object as JSON. The same payload is
	// written to stdin, so scripts may read either.
	toolArgsEnv = "VMCP_TOOL_ARGS"

	// stderrExcerptLimit caps how much stderr lands in crash errors.
	stderrExcerptLimit = 2048
)

// ScriptConfig configures the script engine. Zero values select defaults.
type ScriptConfig struct {
	// Interpreter is the interpreter binary. Defaults to python3.
	Interpreter string

	// Timeout is the default wall-clock bound per execution.
	Timeout time.Duration

	// MaxConcurrent caps concurrently running subprocesses.
	MaxConcurrent int64
}

// ScriptEngine runs script tools in interpreter subprocesses. Each run gets
// a scrubbed environment, its own process group and a wall-clock bound;
// cancellation kills the whole group.
type ScriptEngine struct {
	interpreter string
	timeout     time.Duration
	sem         *semaphore.Weighted
}

// NewScriptEngine returns a script engine with the given configuration.
func NewScriptEngine(cfg ScriptConfig) *ScriptEngine {
	if cfg.Interpreter == "" {
		cfg.Interpreter = "python3"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultScriptTimeout
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = defaultScriptConcurrency
	}
	return &ScriptEngine{
		interpreter: cfg.Interpreter,
		timeout:     cfg.Timeout,
		sem:         semaphore.NewWeighted(cfg.MaxConcurrent),
	}
}

// Describe returns the tool's listing descriptor.
func (*ScriptEngine) Describe(tool *vmcp.CustomTool) vmcp.Tool {
	return tool.Descriptor()
}

// Execute writes the source to a temp file and runs it under the
// interpreter. Arguments are injected as a JSON object via VMCP_TOOL_ARGS
// and stdin. Stdout is mapped per parseScriptOutput; a non-zero exit is
// ToolCrash with a redacted stderr excerpt.
func (e *ScriptEngine) Execute(ctx context.Context, inv *vmcp.InvocationContext, tool *vmcp.CustomTool, args map[string]any) (*vmcp.ToolCallResult, error) {
	def := tool.Script
	if def == nil {
		return nil, vmcp.Errorf(vmcp.KindInternal, "custom tool %q has no script definition", tool.Name)
	}

	if err := e.sem.Acquire(ctx, 1); err != nil {
		return nil, vmcp.WrapError(vmcp.KindToolTimeout, err,
			"tool %q queued past its deadline", tool.Name)
	}
	defer e.sem.Release(1)

	if args == nil {
		args = map[string]any{}
	}
	argsJSON, err := json.Marshal(args)
	if err != nil {
		return nil, vmcp.WrapError(vmcp.KindInternal, err, "encoding arguments for tool %q", tool.Name)
	}

	dir, err := os.MkdirTemp("", "vmcpd-script-")
	if err != nil {
		return nil, vmcp.WrapError(vmcp.KindInternal, err, "creating scratch dir for tool %q", tool.Name)
	}
	defer func() { _ = os.RemoveAll(dir) }()

	path := filepath.Join(dir, "tool.py")
	if err := os.WriteFile(path, []byte(def.Source), 0o600); err != nil {
		return nil, vmcp.WrapError(vmcp.KindInternal, err, "writing source for tool %q", tool.Name)
	}

	timeout := e.timeout
	if def.TimeoutSeconds > 0 {
		timeout = time.Duration(def.TimeoutSeconds) * time.Second
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	// #nosec G204 -- the interpreter is operator configuration, not input.
	cmd := exec.CommandContext(runCtx, e.interpreter, path)
	cmd.Dir = dir
	cmd.Env = scriptEnv(inv, def, argsJSON)
	cmd.Stdin = bytes.NewReader(argsJSON)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	isolate(cmd)

	if err := cmd.Run(); err != nil {
		if runCtx.Err() != nil {
			return nil, vmcp.Errorf(vmcp.KindToolTimeout,
				"tool %q did not complete within %s", tool.Name, timeout)
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return nil, vmcp.Errorf(vmcp.KindToolCrash,
				"tool %q exited with status %d: %s",
				tool.Name, exitErr.ExitCode(), inv.Redact(excerpt(stderr.Bytes(), stderrExcerptLimit)))
		}
		return nil, vmcp.WrapError(vmcp.KindInternal, err, "starting interpreter for tool %q", tool.Name)
	}

	return parseScriptOutput(tool.Name, stdout.Bytes())
}

// scriptEnv builds the scrubbed subprocess environment: interpreter lookup
// path, the argument payload and the tool's declared variables only.
func scriptEnv(inv *vmcp.InvocationContext, def *vmcp.ScriptToolDef, argsJSON []byte) []string {
	env := []string{
		"PATH=" + os.Getenv("PATH"),
		"LANG=C.UTF-8",
		toolArgsEnv + "=" + string(argsJSON),
	}
	for _, name := range def.Env {
		if v, ok := inv.Env(name); ok {
			env = append(env, name+"="+v)
		}
	}
	if !def.AllowNetwork {
		// Proxy-honoring clients (requests, urllib) fail fast against the
		// blackhole proxy. Raw sockets are a deployment concern.
		for _, name := range []string{"HTTP_PROXY", "HTTPS_PROXY", "ALL_PROXY", "http_proxy", "https_proxy", "all_proxy"} {
			env = append(env, name+"=http://127.0.0.1:9")
		}
		env = append(env, "NO_PROXY=", "no_proxy=")
	}
	return env
}

// parseScriptOutput maps stdout to a tool result: the whole output as one
// JSON document when it parses, else the last line that reads as a JSON
// object or array, else raw text. Output that opens like JSON but parses as
// nothing is ToolBadOutput rather than silently degraded to text.
func parseScriptOutput(name string, stdout []byte) (*vmcp.ToolCallResult, error) {
	trimmed := strings.TrimSpace(string(stdout))
	if trimmed == "" {
		return &vmcp.ToolCallResult{
			Content: []vmcp.Content{{Type: "text", Text: ""}},
		}, nil
	}

	if doc, ok := lastJSONDocument(trimmed); ok {
		res := &vmcp.ToolCallResult{
			Content: []vmcp.Content{{Type: "text", Text: template.RenderValue(doc)}},
		}
		if m, ok := doc.(map[string]any); ok {
			res.StructuredContent = m
		}
		return res, nil
	}

	if trimmed[0] == '{' || trimmed[0] == '[' {
		return nil, vmcp.Errorf(vmcp.KindToolBadOutput,
			"tool %q produced output that opens as JSON but does not parse", name)
	}

	return &vmcp.ToolCallResult{
		Content: []vmcp.Content{{Type: "text", Text: trimmed}},
	}, nil
}

// lastJSONDocument finds the result document in stdout. The whole output is
// tried first so pretty-printed documents work; otherwise lines are scanned
// from the end for a single-line object or array, skipping trailing prints.
func lastJSONDocument(trimmed string) (any, bool) {
	var doc any
	if err := json.Unmarshal([]byte(trimmed), &doc); err == nil {
		return doc, true
	}
	lines := strings.Split(trimmed, "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		line := strings.TrimSpace(lines[i])
		if line == "" || (line[0] != '{' && line[0] != '[') {
			continue
		}
		if err := json.Unmarshal([]byte(line), &doc); err == nil {
			return doc, true
		}
	}
	return nil, false
}

// excerpt truncates b for inclusion in an error message.
func excerpt(b []byte, limit int) string {
	s := strings.TrimSpace(string(b))
	if len(s) <= limit {
		return s
	}
	return s[:limit] + "..."
}
