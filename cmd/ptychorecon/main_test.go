package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ptychorecon/pkg/config"
)

// execute runs the root command with args and returns its stdout.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	configPath, maxIter, method, imageDir, force = "config.yaml", 0, "", "", false

	var out, errOut bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&errOut)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func writeSmallConfig(t *testing.T, dir string) string {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Processing.NumCores = 2
	cfg.Simulation.ScanShape = [2]int{4, 4}
	cfg.Simulation.FrameShape = [2]int{16, 16}
	cfg.Simulation.ReciprocalSampling = [2]float64{1.0 / 16, 1.0 / 16}
	cfg.Simulation.Features = 6
	cfg.Reconstruction.MaxIter = 3
	cfg.Output.LogLevel = "warn"

	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, config.SaveConfig(cfg, path))
	return path
}

func TestInitConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ptycho.yaml")

	out, err := execute(t, "init-config", path)
	require.NoError(t, err)
	assert.Contains(t, out, path)

	cfg, err := config.LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, config.DefaultConfig(), cfg)

	_, err = execute(t, "init-config", path)
	assert.ErrorContains(t, err, "already exists")

	_, err = execute(t, "init-config", "--force", path)
	assert.NoError(t, err)
}

func TestSimulateCommand(t *testing.T) {
	dir := t.TempDir()
	path := writeSmallConfig(t, dir)
	images := filepath.Join(dir, "truth")

	out, err := execute(t, "simulate", "--config", path, "--images", images)
	require.NoError(t, err)
	assert.Contains(t, out, "Patterns: 16 (4x4 scan)")
	assert.FileExists(t, filepath.Join(images, "object_phase.png"))
	assert.FileExists(t, filepath.Join(images, "probe_intensity.png"))
}

func TestReconstructCommand(t *testing.T) {
	dir := t.TempDir()
	path := writeSmallConfig(t, dir)
	cfg, err := config.LoadConfig(path)
	require.NoError(t, err)
	cfg.Output.MetricsFile = filepath.Join(dir, "ptycho.prom")
	require.NoError(t, config.SaveConfig(cfg, path))
	images := filepath.Join(dir, "images")

	out, err := execute(t, "reconstruct", "--config", path, "--max-iter", "2", "--images", images)
	require.NoError(t, err)
	assert.Contains(t, out, "Iterations: 2")
	assert.Contains(t, out, "Final normalised error")
	assert.FileExists(t, filepath.Join(images, "object_phase.png"))
	assert.FileExists(t, filepath.Join(images, "probe_intensity.png"))

	metricsText, err := os.ReadFile(cfg.Output.MetricsFile)
	require.NoError(t, err)
	assert.Contains(t, string(metricsText), "ptycho_iterations_total 2")
}

func TestReconstructRejectsBadMethod(t *testing.T) {
	path := writeSmallConfig(t, t.TempDir())

	_, err := execute(t, "reconstruct", "--config", path, "--method", "ePIE")
	assert.Error(t, err)
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger, err := newLogger("warn", "json", &buf)
	require.NoError(t, err)

	logger.Info("hidden")
	logger.Warn("shown", "iteration", 3)
	line := strings.TrimSpace(buf.String())
	assert.NotContains(t, line, "hidden")
	assert.Contains(t, line, `"msg":"shown"`)
	assert.Contains(t, line, `"iteration":3`)

	_, err = newLogger("loud", "text", &buf)
	assert.Error(t, err)
	_, err = newLogger("info", "xml", &buf)
	assert.Error(t, err)
}

func TestIsTerminalWithBuffer(t *testing.T) {
	assert.False(t, isTerminal(&bytes.Buffer{}))
}
