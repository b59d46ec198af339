package main

import (
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	poolconfig "stakepool/config"
	"stakepool/services/stakingd/storage"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func writeServiceConfig(t *testing.T, dir, grpcAddr string) string {
	t.Helper()
	poolPath := filepath.Join(dir, "pool.toml")
	_, err := poolconfig.Init(poolPath, "0x00000000000000000000000000000000000000a0")
	require.NoError(t, err)

	body := strings.Join([]string{
		`listen: "127.0.0.1:0"`,
		`grpc_listen: "` + grpcAddr + `"`,
		`pool_config: "` + poolPath + `"`,
		`archive:`,
		`  dsn: "` + filepath.Join(dir, "facts.sqlite") + `"`,
		`auth:`,
		`  hmac_secret: ` + testSecret,
		``,
	}, "\n")
	path := filepath.Join(dir, "stakingd.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestRunReportsConfigErrors(t *testing.T) {
	err := run(filepath.Join(t.TempDir(), "missing.yaml"))
	require.ErrorContains(t, err, "load config")
}

func TestRunReturnsStartupFailures(t *testing.T) {
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	busy, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer busy.Close()

	dir := t.TempDir()
	path := writeServiceConfig(t, dir, busy.Addr().String())
	err = run(path)
	require.ErrorContains(t, err, "listen grpc")

	// The archive opened before the failure was released and stays usable.
	archive, err := storage.Open(filepath.Join(dir, "facts.sqlite"))
	require.NoError(t, err)
	require.NoError(t, archive.Close())
}
