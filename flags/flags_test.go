package flags

import (
	"flag"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v2"
)

// TestUniqueFlags asserts that no flag name or env var is registered twice.
func TestUniqueFlags(t *testing.T) {
	seenNames := map[string]struct{}{}
	seenEnvVars := map[string]struct{}{}

	for _, f := range Flags {
		for _, name := range f.Names() {
			_, ok := seenNames[name]
			assert.False(t, ok, "duplicate flag name %s", name)
			seenNames[name] = struct{}{}
		}
		envFlag, ok := f.(interface{ GetEnvVars() []string })
		require.True(t, ok, "flag %v has no env vars", f.Names())
		for _, envVar := range envFlag.GetEnvVars() {
			_, ok := seenEnvVars[envVar]
			assert.False(t, ok, "duplicate env var %s", envVar)
			seenEnvVars[envVar] = struct{}{}
		}
	}
}

// TestEnvVarFormat asserts every env var carries the app prefix and derives
// from the flag name.
func TestEnvVarFormat(t *testing.T) {
	for _, f := range Flags {
		envFlag := f.(interface{ GetEnvVars() []string })
		for _, envVar := range envFlag.GetEnvVars() {
			assert.True(t, strings.HasPrefix(envVar, EnvVarPrefix+"_"),
				"env var %s does not start with %s_", envVar, EnvVarPrefix)

			want := strings.ToUpper(strings.NewReplacer("-", "_", ".", "_").Replace(f.Names()[0]))
			assert.Equal(t, EnvVarPrefix+"_"+want, envVar)
		}
	}
}

func TestCheckRequired(t *testing.T) {
	app := cli.NewApp()
	app.Flags = Flags

	set := flag.NewFlagSet("test", flag.ContinueOnError)
	ctx := cli.NewContext(app, set, nil)
	require.Error(t, CheckRequired(ctx), "manifest is required")

	require.NoError(t, set.Parse([]string{}))
	set.String("manifest", "", "")
	require.NoError(t, set.Set("manifest", "entrypoints.yaml"))
	ctx = cli.NewContext(app, set, nil)
	require.NoError(t, CheckRequired(ctx))
}
