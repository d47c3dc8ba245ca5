package cli

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ChuLiYu/mwcontrol/internal/controller"
	"github.com/ChuLiYu/mwcontrol/internal/demo"
	"github.com/ChuLiYu/mwcontrol/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// execute 執行一次完整的命令列，回傳 stdout 內容
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := BuildCLI()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

// ============================================================================
// 命令結構
// ============================================================================

func TestBuildCLI(t *testing.T) {
	cmd := BuildCLI()

	assert.NotNil(t, cmd, "BuildCLI should return a non-nil command")
	assert.Equal(t, "mwctl", cmd.Use, "Root command should be 'mwctl'")
	assert.Equal(t, "1.0.0", cmd.Version, "Version should be 1.0.0")

	// 檢查子命令
	commandNames := make(map[string]bool)
	for _, c := range cmd.Commands() {
		commandNames[c.Name()] = true
	}
	for _, name := range []string{"master", "worker", "cluster", "vds", "domains", "status"} {
		assert.True(t, commandNames[name], "Should have %q command", name)
	}

	// 檢查持久化標誌
	configFlag := cmd.PersistentFlags().Lookup("config")
	require.NotNil(t, configFlag, "Should have --config flag")
	assert.Equal(t, "c", configFlag.Shorthand)
	assert.Equal(t, "", configFlag.DefValue, "Empty config path means built-in defaults")
}

func TestBuildMasterCommand(t *testing.T) {
	cmd := buildMasterCommand()

	assert.Equal(t, "master", cmd.Use)
	assert.Contains(t, cmd.Short, "Start", "Short description should mention 'Start'")
	assert.NotNil(t, cmd.RunE, "RunE function should be set")
	for _, name := range []string{"listen", "workers", "resume"} {
		assert.NotNil(t, cmd.Flags().Lookup(name), "Should have --%s flag", name)
	}
}

func TestBuildWorkerCommand(t *testing.T) {
	cmd := buildWorkerCommand()

	assert.Equal(t, "worker", cmd.Use)
	assert.NotNil(t, cmd.RunE)
	assert.NotNil(t, cmd.Flags().Lookup("master"), "Should have --master flag")
	assert.NotNil(t, cmd.Flags().Lookup("part"), "Should have --part flag")
}

// ============================================================================
// 設定檔
// ============================================================================

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := loadConfig("")
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
	assert.Equal(t, ":50051", cfg.Master.Listen)
	assert.Equal(t, 20, cfg.Master.MaxIterations)
	assert.Equal(t, "sequential", cfg.Master.ReadMode)
}

func TestLoadConfig_ValidYAML(t *testing.T) {
	// 創建臨時配置文件
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "test_config.yaml")

	configContent := `
master:
  listen: ":6000"
  workers: 4
  read_mode: concurrent

worker:
  master: "master-host:6000"
  work_types: [1, 2]

data:
  vds: obs.vds
  strategy: strategy.yaml

checkpoint:
  path: state.json

journal:
  path: rounds.log

metrics:
  enabled: true
  port: 8080

transport:
  max_message_bytes: 1048576

log:
  level: debug
`
	require.NoError(t, os.WriteFile(configPath, []byte(configContent), 0644), "Failed to write test config file")

	cfg, err := loadConfig(configPath)
	require.NoError(t, err, "loadConfig should not return error for valid YAML")

	assert.Equal(t, ":6000", cfg.Master.Listen)
	assert.Equal(t, 4, cfg.Master.Workers)
	assert.Equal(t, 20, cfg.Master.MaxIterations, "Unset keys keep their defaults")
	assert.Equal(t, "concurrent", cfg.Master.ReadMode)
	assert.Equal(t, "master-host:6000", cfg.Worker.Master)
	assert.Equal(t, []int32{1, 2}, cfg.Worker.WorkTypes)
	assert.Equal(t, "obs.vds", cfg.Data.Vds)
	assert.Equal(t, "strategy.yaml", cfg.Data.Strategy)
	assert.Equal(t, "state.json", cfg.Checkpoint.Path)
	assert.Equal(t, "rounds.log", cfg.Journal.Path)
	assert.True(t, cfg.Metrics.Enabled)
	assert.Equal(t, 8080, cfg.Metrics.Port)
	assert.Equal(t, 1048576, cfg.Transport.MaxMessageBytes)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoadConfig_InvalidYAML(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("master: [unclosed"), 0644))

	_, err := loadConfig(configPath)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse config YAML")
}

func TestLoadConfig_FileNotFound(t *testing.T) {
	_, err := loadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestSetupLogging(t *testing.T) {
	for _, level := range []string{"", "info", "DEBUG", "warn", "warning", "error"} {
		assert.NoError(t, setupLogging(level), "level %q", level)
	}
	assert.Error(t, setupLogging("verbose"))
	require.NoError(t, setupLogging("info"))
}

// ============================================================================
// cluster / vds / domains
// ============================================================================

func TestParseNode(t *testing.T) {
	tests := []struct {
		spec    string
		want    domain.NodeDesc
		wantErr bool
	}{
		{spec: "node1=fs0,fs1", want: domain.NewNodeDesc("node1", "fs0", "fs1")},
		{spec: " node2 = fs0 , , fs0 ", want: domain.NewNodeDesc("node2", "fs0")},
		{spec: "node3", want: domain.NewNodeDesc("node3")},
		{spec: "=fs0", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.spec, func(t *testing.T) {
			got, err := parseNode(tt.spec)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestClusterWriteAndShow(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cluster.parset")

	out, err := execute(t, "cluster", "write", "--name", "lab", "--node", "n1=fs0,fs1", "--node", "n2=fs1", "-o", path)
	require.NoError(t, err)
	assert.Contains(t, out, `wrote cluster "lab" with 2 nodes`)

	c, err := domain.ReadClusterDescFile(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"n1", "n2"}, c.NodesFor("fs1"))

	out, err = execute(t, "cluster", "show", path)
	require.NoError(t, err)
	assert.Contains(t, out, "Cluster: lab (2 nodes)")
	assert.Contains(t, out, "fs0")
}

func TestClusterWriteRequiresOut(t *testing.T) {
	_, err := execute(t, "cluster", "write", "--node", "n1=fs0")
	assert.Error(t, err)
}

func TestVdsGenerateAndShow(t *testing.T) {
	path := filepath.Join(t.TempDir(), "obs.vds")

	out, err := execute(t, "vds", "generate", "--parts", "2", "-o", path)
	require.NoError(t, err)
	assert.Contains(t, out, "wrote 2 parts")

	out, err = execute(t, "vds", "show", path)
	require.NoError(t, err)
	assert.Contains(t, out, "Dataset: synthetic.vds (2 parts, antennas CS001,CS002,CS003)")
	assert.Contains(t, out, "[1] synthetic_1.ms on fs1: 2 bands, 3 baselines")
}

func TestVdsGenerateRejectsZeroParts(t *testing.T) {
	_, err := execute(t, "vds", "generate", "--parts", "0", "-o", filepath.Join(t.TempDir(), "x.vds"))
	assert.Error(t, err)
}

func TestDomains(t *testing.T) {
	path := filepath.Join(t.TempDir(), "obs.vds")
	require.NoError(t, demo.SyntheticVds(2).WriteFile(path))

	// part 0: 120–127 MHz × 0–7200 s → 4 × 2 tiles
	out, err := execute(t, "domains", "--vds", path, "--part", "0", "--freq-size", "2e6", "--time-size", "3600")
	require.NoError(t, err)
	assert.Contains(t, out, "synthetic_0.ms: 4 x 2 tiles")
	assert.NotContains(t, out, "synthetic_1.ms")
	assert.Equal(t, 1+8, bytes.Count([]byte(out), []byte("\n")))

	out, err = execute(t, "domains", "--vds", path)
	require.NoError(t, err)
	assert.Contains(t, out, "synthetic_1.ms: 4 x 2 tiles")
}

func TestDomainsErrors(t *testing.T) {
	path := filepath.Join(t.TempDir(), "obs.vds")
	require.NoError(t, demo.SyntheticVds(1).WriteFile(path))

	_, err := execute(t, "domains", "--vds", path, "--part", "3")
	assert.Error(t, err, "part out of range")

	_, err = execute(t, "domains", "--vds", path, "--freq-size", "0")
	assert.Error(t, err, "invalid shape")

	_, err = execute(t, "domains", "--vds", path, "--freq-size", "1e-3")
	assert.ErrorIs(t, err, domain.ErrTooManyTiles)

	_, err = execute(t, "domains")
	assert.Error(t, err, "no dataset configured")
}

// ============================================================================
// status
// ============================================================================

func TestStatusWithoutFiles(t *testing.T) {
	dir := t.TempDir()
	out, err := execute(t, "status",
		"--checkpoint", filepath.Join(dir, "state.json"),
		"--journal", filepath.Join(dir, "rounds.log"))
	require.NoError(t, err)
	assert.Contains(t, out, "None at "+filepath.Join(dir, "state.json"))
	assert.Contains(t, out, "None at "+filepath.Join(dir, "rounds.log"))
}

func TestStatusDisabled(t *testing.T) {
	out, err := execute(t, "status")
	require.NoError(t, err)
	assert.Contains(t, out, "Disabled")
}

func TestStatusAfterRun(t *testing.T) {
	dir := t.TempDir()
	statePath := filepath.Join(dir, "state.json")
	journalPath := filepath.Join(dir, "rounds.log")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	res, err := demo.RunLocal(ctx, demo.SyntheticVds(2), demo.LocalOptions{
		Config: controller.Config{MaxIterations: 10, CheckpointPath: statePath, JournalPath: journalPath},
	})
	require.NoError(t, err)

	out, err := execute(t, "status", "--checkpoint", statePath, "--journal", journalPath)
	require.NoError(t, err)
	assert.Contains(t, out, "Run ID:     "+res.State.RunID)
	assert.Contains(t, out, "Converged:  true")
	assert.Contains(t, out, "SOLVE")
	assert.Contains(t, out, "QUIT")
}

// ============================================================================
// master / worker over gRPC
// ============================================================================

func TestMasterAndWorkersOverGrpc(t *testing.T) {
	dir := t.TempDir()
	vdsPath := filepath.Join(dir, "obs.vds")
	clusterPath := filepath.Join(dir, "cluster.parset")
	require.NoError(t, demo.SyntheticVds(2).WriteFile(vdsPath))

	cluster := domain.NewClusterDesc("lab")
	cluster.AddNode(domain.NewNodeDesc("n1", "fs0"))
	require.NoError(t, cluster.WriteFile(clusterPath))

	cfg := DefaultConfig()
	cfg.Master.Listen = "127.0.0.1:0"
	cfg.Master.ReadMode = "concurrent"
	cfg.Data.Vds = vdsPath
	cfg.Data.Cluster = clusterPath
	cfg.Checkpoint.Path = filepath.Join(dir, "state.json")

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	errs := make(chan error, 2)
	var out bytes.Buffer
	state, err := runMaster(ctx, cfg, masterOptions{
		out: &out,
		ready: func(addr string) {
			wcfg := *cfg
			wcfg.Worker.Master = addr
			for i := 0; i < 2; i++ {
				go func() { errs <- runWorker(ctx, &wcfg, i) }()
			}
		},
	})
	require.NoError(t, err)
	assert.True(t, state.Converged)
	assert.Equal(t, 1, state.Iteration)
	assert.Equal(t, 2, state.Workers)
	assert.Contains(t, out.String(), "run "+state.RunID+" finished")

	for i := 0; i < 2; i++ {
		select {
		case err := <-errs:
			assert.NoError(t, err)
		case <-ctx.Done():
			t.Fatal("worker did not exit after quit")
		}
	}
}

func TestRunMasterNeedsWorkerCount(t *testing.T) {
	_, err := runMaster(context.Background(), DefaultConfig(), masterOptions{})
	assert.ErrorIs(t, err, ErrWorkerCountUnknown)
}

func TestRunWorkerErrors(t *testing.T) {
	cfg := DefaultConfig()
	assert.Error(t, runWorker(context.Background(), cfg, 0), "no dataset configured")

	cfg.Data.Vds = filepath.Join(t.TempDir(), "obs.vds")
	require.NoError(t, demo.SyntheticVds(1).WriteFile(cfg.Data.Vds))
	assert.Error(t, runWorker(context.Background(), cfg, 1), "part out of range")
	assert.Error(t, runWorker(context.Background(), cfg, -1), "negative part")
}
