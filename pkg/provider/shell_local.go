package provider

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
)

// LocalShell implements Shell by spawning the platform shell. On Android
// builds the getprop/settings helpers shell out to the platform binaries;
// elsewhere they fail with the binary-not-found error.
type LocalShell struct {
	// ShellPath is the shell binary. Defaults to "sh".
	ShellPath string
}

func (s *LocalShell) shell() string {
	if s.ShellPath != "" {
		return s.ShellPath
	}
	return "sh"
}

// Exec runs command via `sh -c` and captures its output.
func (s *LocalShell) Exec(ctx context.Context, command string) (ExecResult, error) {
	cmd := exec.CommandContext(ctx, s.shell(), "-c", command)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	result := ExecResult{
		Stdout: stdout.String(),
		Stderr: stderr.String(),
	}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
			return result, nil
		}
		return result, fmt.Errorf("provider: shell exec failed: %w", err)
	}
	return result, nil
}

// streamCloser closes the pipe and reaps the process.
type streamCloser struct {
	io.Reader
	cmd    *exec.Cmd
	closer io.Closer
}

func (s *streamCloser) Close() error {
	s.closer.Close()
	return s.cmd.Wait()
}

// ExecStream runs command and returns its stdout as it is produced. Closing
// the stream kills the command via the context's cancellation.
func (s *LocalShell) ExecStream(ctx context.Context, command string) (io.ReadCloser, error) {
	cmd := exec.CommandContext(ctx, s.shell(), "-c", command)
	pipe, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("provider: shell start failed: %w", err)
	}
	return &streamCloser{Reader: pipe, cmd: cmd, closer: pipe}, nil
}

// Getprop reads one system property, or all of them when name is empty.
func (s *LocalShell) Getprop(name string) (string, error) {
	ctx := context.Background()
	command := "getprop"
	if name != "" {
		command = "getprop " + shellQuote(name)
	}
	res, err := s.Exec(ctx, command)
	if err != nil {
		return "", err
	}
	if res.ExitCode != 0 {
		return "", fmt.Errorf("provider: getprop exited %d: %s", res.ExitCode, strings.TrimSpace(res.Stderr))
	}
	return strings.TrimRight(res.Stdout, "\n"), nil
}

// SettingsGet reads a platform settings value.
func (s *LocalShell) SettingsGet(namespace, key string) (string, error) {
	res, err := s.Exec(context.Background(),
		fmt.Sprintf("settings get %s %s", shellQuote(namespace), shellQuote(key)))
	if err != nil {
		return "", err
	}
	if res.ExitCode != 0 {
		return "", fmt.Errorf("provider: settings get exited %d: %s", res.ExitCode, strings.TrimSpace(res.Stderr))
	}
	return strings.TrimRight(res.Stdout, "\n"), nil
}

// SettingsPut writes a platform settings value.
func (s *LocalShell) SettingsPut(namespace, key, value string) error {
	res, err := s.Exec(context.Background(),
		fmt.Sprintf("settings put %s %s %s", shellQuote(namespace), shellQuote(key), shellQuote(value)))
	if err != nil {
		return err
	}
	if res.ExitCode != 0 {
		return fmt.Errorf("provider: settings put exited %d: %s", res.ExitCode, strings.TrimSpace(res.Stderr))
	}
	return nil
}

// shellQuote single-quotes an argument for the shell.
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
