package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pixperk/stompguard/pkg/introspect"
	"github.com/pixperk/stompguard/pkg/lockmgr"
	"github.com/pixperk/stompguard/pkg/policy"
	"github.com/pixperk/stompguard/pkg/server"
	"github.com/pixperk/stompguard/pkg/telemetry"
	"github.com/pixperk/stompguard/pkg/types"
)

func TestRootCommand(t *testing.T) {
	cmd := NewRootCommand()
	require.NotNil(t, cmd)
	assert.Equal(t, "stompguard", cmd.Use)
}

func TestCommandPresence(t *testing.T) {
	cmd := NewRootCommand()
	for _, name := range []string{"serve", "locks", "stats", "policy", "key"} {
		t.Run(name, func(t *testing.T) {
			sub, _, err := cmd.Find([]string{name})
			require.NoError(t, err)
			assert.Equal(t, name, sub.Name())
		})
	}
}

func TestGlobalFlags(t *testing.T) {
	cmd := NewRootCommand()

	verbose := cmd.PersistentFlags().Lookup("verbose")
	require.NotNil(t, verbose)
	assert.Equal(t, "v", verbose.Shorthand)

	for flag, def := range map[string]string{
		"format":    "text",
		"config":    "",
		"data-dir":  "./data",
		"grpc-addr": "localhost:9000",
	} {
		f := cmd.PersistentFlags().Lookup(flag)
		require.NotNil(t, f, flag)
		assert.Equal(t, def, f.DefValue, flag)
	}

	serve, _, err := cmd.Find([]string{"serve"})
	require.NoError(t, err)
	for _, flag := range []string{"http-addr", "stdio", "keepalive", "reap-interval", "poll-interval"} {
		assert.NotNil(t, serve.Flags().Lookup(flag), flag)
	}
}

func TestInvalidFormat(t *testing.T) {
	_, err := execute(t, "policy", "--local", "--format", "yaml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid format")
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestPolicyLocal(t *testing.T) {
	out, err := execute(t, "policy", "--local")
	require.NoError(t, err)
	assert.Contains(t, out, "graph-merge        merge          graph   30s")

	path := filepath.Join(t.TempDir(), "policy.yaml")
	require.NoError(t, os.WriteFile(path, []byte("classes:\n  graph-merge:\n    conflict_strategy: fail_closed\n"), 0644))

	out, err = execute(t, "policy", "--local", "--config", path, "--format", "json")
	require.NoError(t, err)

	var report introspect.PoliciesReport
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	for _, c := range report.Classes {
		assert.Equal(t, "fail_closed", c.ConflictStrategy, c.Class)
	}

	require.NoError(t, os.WriteFile(path, []byte("classes:\n  queue:\n    lease_ttl: 1s\n"), 0644))
	_, err = execute(t, "policy", "--local", "--config", path)
	assert.ErrorIs(t, err, types.ErrUnknownResourceClass)
}

func TestWritePoliciesDefaults(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writePolicies(&buf, introspect.Source{Registry: policy.Default()}.Policies()))

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, "TestWritePoliciesDefaults", buf.Bytes())
}

func TestPolicyLocalMatchesRemote(t *testing.T) {
	addr, _ := startAdmin(t)

	local, err := execute(t, "policy", "--local")
	require.NoError(t, err)
	remote, err := execute(t, "policy", "--grpc-addr", addr)
	require.NoError(t, err)

	assert.Equal(t, local, remote)
}

// startAdmin serves the admin API on a loopback port.
func startAdmin(t *testing.T) (string, introspect.Source) {
	t.Helper()
	discard := slog.New(slog.NewTextHandler(io.Discard, nil))
	src := introspect.Source{
		Manager:  lockmgr.New(lockmgr.WithLogger(discard)),
		Registry: policy.Default(),
		Stats:    telemetry.NewStats(),
	}

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	gs := server.NewGRPCServer(server.NewServer(src), discard)
	go gs.Serve(lis)
	t.Cleanup(gs.Stop)

	return lis.Addr().String(), src
}

func TestRemoteCommands(t *testing.T) {
	addr, src := startAdmin(t)

	out, err := execute(t, "locks", "--grpc-addr", addr)
	require.NoError(t, err)
	assert.Contains(t, out, "no locks held")

	_, err = src.Manager.Acquire(context.Background(), "db:rag", types.Holder{AgentID: "indexer"}, time.Minute, 0)
	require.NoError(t, err)

	out, err = execute(t, "locks", "--grpc-addr", addr)
	require.NoError(t, err)
	assert.Contains(t, out, "db:rag")
	assert.Contains(t, out, "indexer")

	out, err = execute(t, "locks", "--grpc-addr", addr, "--format", "json")
	require.NoError(t, err)
	var locks introspect.LocksReport
	require.NoError(t, json.Unmarshal([]byte(out), &locks))
	require.Len(t, locks.Locks, 1)
	assert.Equal(t, uint64(1), locks.Locks[0].Token)

	out, err = execute(t, "key", "db-single-writer", "rag", "--grpc-addr", addr)
	require.NoError(t, err)
	assert.Equal(t, "db:rag (db-single-writer): held by indexer\n", out)

	out, err = execute(t, "stats", "--grpc-addr", addr)
	require.NoError(t, err)
	assert.Contains(t, out, "no guarded runs")

	out, err = execute(t, "policy", "--grpc-addr", addr)
	require.NoError(t, err)
	assert.Contains(t, out, "fail_open_merge")

	_, err = execute(t, "key", "queue", "q", "--grpc-addr", addr)
	assert.Error(t, err)
}

func TestKeyRequiresTwoArgs(t *testing.T) {
	_, err := execute(t, "key", "db-single-writer")
	assert.Error(t, err)
}
