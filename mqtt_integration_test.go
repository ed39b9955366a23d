package main

import (
	"context"
	"encoding/json"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// buildBinary compiles the CLI into dir for integration tests
func buildBinary(t *testing.T, dir string) string {
	t.Helper()
	binaryPath := filepath.Join(dir, "scenepose-test")
	buildCmd := exec.Command("go", "build", "-o", binaryPath, ".")
	if output, err := buildCmd.CombinedOutput(); err != nil {
		t.Fatalf("Failed to build binary: %v\n%s", err, output)
	}
	return binaryPath
}

// TestMQTTServiceStartupShutdown tests the full service lifecycle
func TestMQTTServiceStartupShutdown(t *testing.T) {
	// Skip if not running integration tests
	if os.Getenv("RUN_INTEGRATION_TESTS") != "1" {
		t.Skip("Skipping integration test (set RUN_INTEGRATION_TESTS=1 to run)")
	}

	tmpDir := t.TempDir()
	configYAML := `mqtt:
  broker: "tcp://localhost:1883"
  publishPrefix: "scenepose-test"
  clientId: "scenepose-test"

cameras:
  - id: cam-a
    topic: "test/cam-a/frames"
    color: "#FF0000"
  - id: cam-b
    topic: "test/cam-b/frames"
    color: "#00FF00"
`
	configPath := filepath.Join(tmpDir, "test-config.yaml")
	if err := os.WriteFile(configPath, []byte(configYAML), 0644); err != nil {
		t.Fatalf("Failed to create test config: %v", err)
	}

	binaryPath := buildBinary(t, tmpDir)

	tests := []struct {
		name           string
		args           []string
		expectInOutput []string
		expectFailure  bool
		timeout        time.Duration
	}{
		{
			name: "successful startup with config",
			args: []string{"--mqtt", "--config=" + configPath, "--pose-cache=" + filepath.Join(tmpDir, "poses.json")},
			expectInOutput: []string{
				"Starting scenepose service",
				"Loaded config from",
				"Service Running",
				"Subscribed topics:",
				"test/cam-a/frames",
				"test/cam-b/frames",
				"Press Ctrl+C to stop",
			},
			timeout: 5 * time.Second,
		},
		{
			name: "missing config file",
			args: []string{"--mqtt", "--config=nonexistent.yaml"},
			expectInOutput: []string{
				"Starting scenepose service",
				"failed to load config",
			},
			expectFailure: true,
			timeout:       2 * time.Second,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx, cancel := context.WithTimeout(context.Background(), tt.timeout)
			defer cancel()

			cmd := exec.CommandContext(ctx, binaryPath, tt.args...)
			output, err := cmd.CombinedOutput()
			outputStr := string(output)

			for _, expected := range tt.expectInOutput {
				if !strings.Contains(outputStr, expected) {
					t.Errorf("Expected output to contain '%s', but it didn't.\nFull output:\n%s",
						expected, outputStr)
				}
			}

			if tt.expectFailure && err == nil {
				t.Error("Expected command to fail, but it succeeded")
			}
		})
	}
}

// TestEstimateCLI runs --estimate and --status against a generated frame
func TestEstimateCLI(t *testing.T) {
	if os.Getenv("RUN_INTEGRATION_TESTS") != "1" {
		t.Skip("Skipping integration test (set RUN_INTEGRATION_TESTS=1 to run)")
	}

	tmpDir := t.TempDir()
	if err := os.WriteFile(filepath.Join(tmpDir, "config.yaml"), []byte(testConfigYAML), 0644); err != nil {
		t.Fatalf("Failed to create config: %v", err)
	}
	data, err := json.Marshal(syntheticFrame("cam-a", 80, 51))
	if err != nil {
		t.Fatal(err)
	}
	framePath := filepath.Join(tmpDir, "frame.json")
	if err := os.WriteFile(framePath, data, 0644); err != nil {
		t.Fatalf("Failed to write frame: %v", err)
	}

	binaryPath := buildBinary(t, tmpDir)

	output, err := exec.Command(binaryPath, "--data-dir="+tmpDir, "--estimate="+framePath).CombinedOutput()
	if err != nil {
		t.Fatalf("--estimate failed: %v\n%s", err, output)
	}
	if !strings.Contains(string(output), `"cameraId": "cam-a"`) {
		t.Errorf("expected pose report in output:\n%s", output)
	}

	output, err = exec.Command(binaryPath, "--data-dir="+tmpDir, "--status").CombinedOutput()
	if err != nil {
		t.Fatalf("--status failed: %v\n%s", err, output)
	}
	for _, want := range []string{"cam-a: position", "cam-b: no pose"} {
		if !strings.Contains(string(output), want) {
			t.Errorf("expected %q in status output:\n%s", want, output)
		}
	}
}

// TestMQTTServiceSignalHandling tests SIGINT handling
func TestMQTTServiceSignalHandling(t *testing.T) {
	if os.Getenv("RUN_INTEGRATION_TESTS") != "1" {
		t.Skip("Skipping integration test (set RUN_INTEGRATION_TESTS=1 to run)")
	}

	tmpDir := t.TempDir()
	if err := os.WriteFile(filepath.Join(tmpDir, "config.yaml"), []byte(testConfigYAML), 0644); err != nil {
		t.Fatalf("Failed to create config: %v", err)
	}
	binaryPath := buildBinary(t, tmpDir)

	cmd := exec.Command(binaryPath, "--http", "--http-port=18089", "--data-dir="+tmpDir)
	if err := cmd.Start(); err != nil {
		t.Fatalf("Failed to start service: %v", err)
	}

	// Give it time to start
	time.Sleep(2 * time.Second)

	if err := cmd.Process.Signal(os.Interrupt); err != nil {
		t.Logf("Failed to send SIGINT (process may have already exited): %v", err)
	}

	done := make(chan error, 1)
	go func() {
		done <- cmd.Wait()
	}()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Service exited with error: %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Error("Service did not shut down within timeout")
		if err := cmd.Process.Kill(); err != nil {
			t.Logf("Failed to kill process: %v", err)
		}
	}
}

// TestMQTTServiceHelpFlag tests the --help output includes the mode flags
func TestMQTTServiceHelpFlag(t *testing.T) {
	if os.Getenv("RUN_INTEGRATION_TESTS") != "1" {
		t.Skip("Skipping integration test (set RUN_INTEGRATION_TESTS=1 to run)")
	}

	output, err := exec.Command("go", "run", ".", "--help").CombinedOutput()
	if err != nil && !strings.Contains(err.Error(), "exit status") {
		t.Fatalf("Failed to run --help: %v", err)
	}

	outputStr := string(output)
	for _, flag := range []string{"-mqtt", "-estimate", "-reference", "MQTT service mode"} {
		if !strings.Contains(outputStr, flag) {
			t.Errorf("Expected --help output to contain %q", flag)
		}
	}
}
