package cli

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommandExposesPersistentFlags(t *testing.T) {
	dirFlag := lookupFlag(rootCmd, "dir")
	require.NotNil(t, dirFlag, "root command should expose the --dir flag")
	require.Equal(t, "C", dirFlag.Shorthand, "root dir flag shorthand mismatch")

	for _, name := range []string{"config", "log-level", "session"} {
		require.NotNil(t, lookupFlag(rootCmd, name), "missing --%s", name)
	}
}

func TestRootCommandRegistersSubcommands(t *testing.T) {
	want := []string{
		"init", "start", "transition", "next-iteration", "learn", "issue", "note",
		"link", "status", "history", "pause", "resume", "cancel", "notify", "hook",
	}
	for _, name := range want {
		cmd, _, err := rootCmd.Find([]string{name})
		require.NoError(t, err, name)
		assert.Equal(t, name, cmd.Name())
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "", want: "info"},
		{in: "DEBUG", want: "debug"},
		{in: "warning", want: "warn"},
		{in: "err", want: "error"},
		{in: "chatty", wantErr: true},
	}
	for _, tt := range tests {
		_, name, err := parseLogLevel(tt.in)
		if tt.wantErr {
			assert.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, name)
	}
}

// runCLI executes the root command against an isolated project directory and
// returns stdout.
func runCLI(t *testing.T, dir, stdin string, args ...string) (string, error) {
	t.Helper()
	t.Cleanup(func() { resetAllFlags(rootCmd) })

	var out, errOut bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&errOut)
	rootCmd.SetIn(strings.NewReader(stdin))
	rootCmd.SetArgs(append([]string{"--dir", dir, "--log-level", "error"}, args...))
	t.Cleanup(func() {
		rootCmd.SetArgs(nil)
		rootCmd.SetIn(nil)
		rootCmd.SetOut(nil)
		rootCmd.SetErr(nil)
	})

	err := rootCmd.Execute()
	resetAllFlags(rootCmd)
	return out.String(), err
}

func newProject(t *testing.T) string {
	t.Helper()
	t.Setenv("HOME", t.TempDir())
	t.Setenv(sessionEnv, "")
	return t.TempDir()
}

func resetAllFlags(cmd *cobra.Command) {
	reset := func(f *pflag.Flag) {
		_ = f.Value.Set(f.DefValue)
		f.Changed = false
	}
	cmd.Flags().VisitAll(reset)
	cmd.PersistentFlags().VisitAll(reset)
	for _, sub := range cmd.Commands() {
		resetAllFlags(sub)
	}
}

func resetFlag(cmd *cobra.Command, name string) {
	if flag := lookupFlag(cmd, name); flag != nil {
		_ = flag.Value.Set(flag.DefValue)
		flag.Changed = false
	}
}

func lookupFlag(cmd *cobra.Command, name string) *pflag.Flag {
	if flag := cmd.Flags().Lookup(name); flag != nil {
		return flag
	}
	return cmd.PersistentFlags().Lookup(name)
}

func decodeHookOutput(t *testing.T, out string) map[string]any {
	t.Helper()
	var doc map[string]any
	require.NoError(t, json.Unmarshal([]byte(strings.TrimSpace(out)), &doc), out)
	return doc
}
