package cli_test

import (
	"bytes"
	"context"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"

	"github.com/juanpablocruz/merklediff/internal/cli"
	"github.com/juanpablocruz/merklediff/pkg/syncproto"
)

type run struct {
	stdout, stderr bytes.Buffer
	err            error
}

func execute(ctx context.Context, fs afero.Fs, args ...string) *run {
	r := &run{}
	cmd := cli.NewRootCommand("test", "abc123", "2024-01-01", cli.WithFs(fs))
	cmd.SetArgs(args)
	cmd.SetOut(&r.stdout)
	cmd.SetErr(&r.stderr)
	r.err = cmd.ExecuteContext(ctx)
	return r
}

// comparePeers runs a server and a client command against each other.
func comparePeers(t *testing.T, fs afero.Fs, serverArgs, clientArgs []string) (srv, cl *run) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()
	addr := freeAddr(t)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		srv = execute(ctx, fs, append([]string{"--server", addr}, serverArgs...)...)
	}()
	go func() {
		defer wg.Done()
		cl = execute(ctx, fs, append([]string{"--client", addr, "--dial-timeout", "5s"}, clientArgs...)...)
	}()
	wg.Wait()
	return srv, cl
}

func freeAddr(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())
	return addr
}

func alphabetFs(t *testing.T) afero.Fs {
	t.Helper()
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/a.txt", []byte("abcdefghijklmnopqrstuvwxyz0123456789"), 0o644))
	require.NoError(t, afero.WriteFile(fs, "/b.txt", []byte("abcdefgHijklmnopqrstuvwxyz012345_789"), 0o644))
	return fs
}

func TestRootCommand(t *testing.T) {
	rootCmd := cli.NewRootCommand("test", "abc123", "2024-01-01")
	names := map[string]bool{}
	for _, cmd := range rootCmd.Commands() {
		names[cmd.Name()] = true
	}
	require.True(t, names["inspect"])
	require.True(t, names["version"])

	for _, flag := range []string{"server", "client", "block-size", "digest", "coarse-only", "exit-code", "dial-timeout", "workers", "progress", "metrics-addr"} {
		require.NotNil(t, rootCmd.Flags().Lookup(flag), flag)
	}
	require.Equal(t, "b", rootCmd.Flags().Lookup("block-size").Shorthand)
	require.Equal(t, "1048576", rootCmd.Flags().Lookup("block-size").DefValue)
}

func TestVersionCommand(t *testing.T) {
	r := execute(context.Background(), afero.NewMemMapFs(), "version")
	require.NoError(t, r.err)
	require.Equal(t, "merklediff test (commit: abc123, built: 2024-01-01)\n", r.stdout.String())
}

func TestCompareAlphabet(t *testing.T) {
	srv, cl := comparePeers(t, alphabetFs(t), []string{"-b", "1", "/a.txt"}, []string{"-b", "1", "-v", "/b.txt"})
	require.NoError(t, srv.err, srv.stderr.String())
	require.NoError(t, cl.err, cl.stderr.String())
	require.Equal(t, "7=[68]\n32=[36]\n", srv.stdout.String())
	require.Equal(t, "7=[48]\n32=[5f]\n", cl.stdout.String())
	require.Contains(t, cl.stderr.String(), "comparison done")
}

func TestCompareDefaultBlockSize(t *testing.T) {
	srv, cl := comparePeers(t, alphabetFs(t), []string{"/a.txt"}, []string{"--digest", "sha256", "/b.txt"})
	require.NoError(t, srv.err)
	require.NoError(t, cl.err)
	require.Equal(t, "7=[68]\n32=[36]\n", srv.stdout.String())
}

func TestCompareCoarseOnly(t *testing.T) {
	args := []string{"-b", "8", "--coarse-only", "--digest", "blake3"}
	srv, cl := comparePeers(t, alphabetFs(t), append(args, "/a.txt"), append(args, "/b.txt"))
	require.NoError(t, srv.err)
	require.NoError(t, cl.err)
	require.Equal(t, "0\n4\n", srv.stdout.String())
	require.Equal(t, srv.stdout.String(), cl.stdout.String())
}

func TestCompareIdentical(t *testing.T) {
	srv, cl := comparePeers(t, alphabetFs(t), []string{"--exit-code", "/a.txt"}, []string{"--exit-code", "/a.txt"})
	require.NoError(t, srv.err)
	require.NoError(t, cl.err)
	require.Empty(t, srv.stdout.String())
	require.Empty(t, cl.stdout.String())
}

func TestCompareLogsExchanges(t *testing.T) {
	args := []string{"-v", "--log-format", "json", "/a.txt"}
	srv, cl := comparePeers(t, alphabetFs(t), args, args)
	require.NoError(t, srv.err)
	require.NoError(t, cl.err)
	for _, r := range []*run{srv, cl} {
		require.Contains(t, r.stderr.String(), `"msg":"digests exchanged","exchanges":1`)
	}
}

func TestCompareExitCode(t *testing.T) {
	srv, cl := comparePeers(t, alphabetFs(t), []string{"--exit-code", "/a.txt"}, []string{"/b.txt"})
	require.Equal(t, cli.ExitDiffers, cli.ExitCode(srv.err))
	require.True(t, cli.Reported(srv.err))
	require.NoError(t, cl.err)
	require.Equal(t, "7=[68]\n32=[36]\n", srv.stdout.String())
}

func TestCompareDigestMismatch(t *testing.T) {
	srv, cl := comparePeers(t, alphabetFs(t), []string{"--digest", "sha3-256", "/a.txt"}, []string{"/b.txt"})
	require.Equal(t, cli.ExitFailure, cli.ExitCode(srv.err))
	require.Equal(t, cli.ExitFailure, cli.ExitCode(cl.err))
	require.ErrorIs(t, srv.err, syncproto.ErrProtocol)
	require.Empty(t, srv.stdout.String())
	require.Contains(t, srv.stderr.String(), "comparison failed")
}

func TestConfigErrors(t *testing.T) {
	fs := alphabetFs(t)
	for name, args := range map[string][]string{
		"no role":    {"/a.txt"},
		"both roles": {"-s", "127.0.0.1:1", "-c", "127.0.0.1:2", "/a.txt"},
		"no file":    {"-c", "127.0.0.1:1"},
		"bad digest": {"-c", "127.0.0.1:1", "--digest", "md5", "/a.txt"},
		"bad block":  {"-c", "127.0.0.1:1", "-b", "0", "/a.txt"},
	} {
		t.Run(name, func(t *testing.T) {
			r := execute(context.Background(), fs, args...)
			require.Error(t, r.err)
			require.False(t, cli.Reported(r.err))
			require.Equal(t, cli.ExitFailure, cli.ExitCode(r.err))
			require.Empty(t, r.stdout.String())
		})
	}
}

func TestEnvironment(t *testing.T) {
	t.Setenv("MERKLEDIFF_BLOCK_SIZE", "-5")
	r := execute(context.Background(), alphabetFs(t), "-c", "127.0.0.1:1", "/a.txt")
	require.Error(t, r.err)
	require.Contains(t, r.err.Error(), "block size")
}

func TestMissingFile(t *testing.T) {
	r := execute(context.Background(), afero.NewMemMapFs(), "-c", "127.0.0.1:1", "/absent")
	require.Equal(t, cli.ExitFailure, cli.ExitCode(r.err))
	require.True(t, cli.Reported(r.err))
	require.ErrorIs(t, r.err, syncproto.ErrIO)
}

func TestNobodyListening(t *testing.T) {
	r := execute(context.Background(), alphabetFs(t), "-c", freeAddr(t), "--dial-timeout", "200ms", "/a.txt")
	require.Equal(t, cli.ExitFailure, cli.ExitCode(r.err))
	require.ErrorIs(t, r.err, syncproto.ErrIO)
}

func TestInspect(t *testing.T) {
	r := execute(context.Background(), alphabetFs(t), "inspect", "-b", "4", "--block", "2", "/a.txt")
	require.NoError(t, r.err)
	out := r.stdout.String()
	require.Contains(t, out, "File: /a.txt")
	require.Contains(t, out, "Blocks: 9\n")
	require.Contains(t, out, "Tree height: 5\n")
	require.Contains(t, out, "L0 (9): ")
	require.Contains(t, out, "Path to block 2")
	require.Contains(t, out, "bytes [8,12)")
	require.Equal(t, 1, strings.Count(out, "L4 (1): "))
}

func TestWriteResult(t *testing.T) {
	res := syncproto.Result{
		Blocks:     []int{0, 3},
		Mismatches: []syncproto.Mismatch{{Offset: 2, Value: 0x0a}, {Offset: 3000, Value: 0xff}},
	}
	var buf bytes.Buffer
	require.NoError(t, cli.WriteResult(&buf, res, false))
	require.Equal(t, "2=[0a]\n3000=[ff]\n", buf.String())

	buf.Reset()
	require.NoError(t, cli.WriteResult(&buf, res, true))
	require.Equal(t, "0\n3\n", buf.String())

	buf.Reset()
	require.NoError(t, cli.WriteResult(&buf, syncproto.Result{}, false))
	require.Empty(t, buf.String())
}
