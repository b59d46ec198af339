package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"stakepool/core/events"
	"stakepool/core/types"
	"stakepool/crypto"
	"stakepool/services/stakingd/server"
	"stakepool/services/stakingd/storage"
)

func seedArchive(t *testing.T, skip map[uint64]bool) string {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), "facts.sqlite")
	archive, err := storage.Open(dsn)
	require.NoError(t, err)
	defer archive.Close()

	log := events.NewLog(16)
	for i := 0; i < 4; i++ {
		log.Append(uint64(1700000000+i), &types.Event{Type: events.TypeStaked, Attributes: map[string]string{
			"account": "0x00000000000000000000000000000000000000a1",
			"amount":  "10",
		}})
	}
	facts, _ := log.Since(0)
	for _, fact := range facts {
		if skip[fact.Sequence] {
			continue
		}
		require.NoError(t, archive.Append(context.Background(), fact))
	}
	return dsn
}

func TestUnknownCommand(t *testing.T) {
	require.ErrorIs(t, run("bogus", nil, &bytes.Buffer{}), errUsage)
}

func TestInitWritesPoolConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pool.toml")
	var out bytes.Buffer
	err := run(initCommand, []string{"-config", path, "-owner", "0x00000000000000000000000000000000000000a0"}, &out)
	require.NoError(t, err)
	require.FileExists(t, path)
	require.Contains(t, out.String(), "Engine address: 0x")

	// An existing config is loaded rather than replaced.
	out.Reset()
	require.NoError(t, run(initCommand, []string{"-config", path}, &out))
	require.Contains(t, out.String(), "Owner: 0x00000000000000000000000000000000000000a0")

	other := filepath.Join(t.TempDir(), "pool.toml")
	require.Error(t, run(initCommand, []string{"-config", other, "-owner", "nope"}, &out))
}

func TestKeygenRespectsForce(t *testing.T) {
	t.Setenv(defaultPassEnv, "correct horse battery staple")
	path := filepath.Join(t.TempDir(), "keys", "escrow.keystore")
	var out bytes.Buffer
	require.NoError(t, run(keygenCommand, []string{"-keystore", path}, &out))

	key, err := crypto.LoadFromKeystore(path, "correct horse battery staple")
	require.NoError(t, err)
	require.Contains(t, out.String(), key.Address().Hex())

	err = run(keygenCommand, []string{"-keystore", path}, &out)
	require.ErrorContains(t, err, "already exists")
	require.NoError(t, run(keygenCommand, []string{"-keystore", path, "-force"}, &out))
}

func TestTokenIsAcceptedByAuthenticator(t *testing.T) {
	secret := "0123456789abcdef0123456789abcdef"
	cfgPath := filepath.Join(t.TempDir(), "stakingd.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("auth:\n  hmac_secret: "+secret+"\n  issuer: stakepool\n"), 0o600))

	account := "0x00000000000000000000000000000000000000a1"
	var out bytes.Buffer
	require.NoError(t, run(tokenCommand, []string{"-config", cfgPath, "-account", account}, &out))

	auth, err := server.NewAuthenticator(server.AuthConfig{HMACSecret: secret, Issuer: "stakepool"}, nil)
	require.NoError(t, err)
	caller, err := auth.Caller("Bearer " + strings.TrimSpace(out.String()))
	require.NoError(t, err)
	require.Equal(t, strings.ToLower(account), strings.ToLower(caller.Hex()))
}

func TestExportFormats(t *testing.T) {
	dsn := seedArchive(t, nil)
	dir := t.TempDir()
	for _, format := range []string{"csv", "jsonl", "parquet"} {
		target := filepath.Join(dir, "facts."+format)
		var out bytes.Buffer
		require.NoError(t, run(exportCommand, []string{"-dsn", dsn, "-format", format, "-from", "2", "-out", target}, &out))
		require.Contains(t, out.String(), "Exported 3 facts")
		require.FileExists(t, target)
		sum, err := os.ReadFile(target + ".sha256")
		require.NoError(t, err)
		require.True(t, strings.HasSuffix(strings.TrimSpace(string(sum)), "facts."+format))
	}
	require.Error(t, run(exportCommand, []string{"-dsn", dsn, "-format", "xml"}, &bytes.Buffer{}))
}

func TestVerifyToleratesGaps(t *testing.T) {
	dsn := seedArchive(t, map[uint64]bool{3: true})
	var out bytes.Buffer
	require.NoError(t, run(verifyCommand, []string{"-dsn", dsn}, &out))
	require.Contains(t, out.String(), "Verified 3 facts in 2 segments (1 gaps)")
}

func TestContiguous(t *testing.T) {
	segments, gaps := contiguous(nil)
	require.Nil(t, segments)
	require.Zero(t, gaps)

	facts := []events.Fact{{Sequence: 1}, {Sequence: 2}, {Sequence: 5}, {Sequence: 6}, {Sequence: 9}}
	segments, gaps = contiguous(facts)
	require.Equal(t, 2, gaps)
	require.Len(t, segments, 3)
	require.Len(t, segments[0], 2)
	require.Len(t, segments[2], 1)
}
