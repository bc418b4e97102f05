package cli

import (
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseNameSet(t *testing.T) {
	assert.Nil(t, parseNameSet(""))
	assert.Nil(t, parseNameSet("   "))

	set := parseNameSet("Web, db ,,WEB")
	assert.Len(t, set, 2)
	assert.Contains(t, set, "web")
	assert.Contains(t, set, "db")
}

func TestAddFilterFlags(t *testing.T) {
	cmd := &cobra.Command{Use: "test"}
	get := addFilterFlags(cmd)

	require.NoError(t, cmd.Flags().Set("only-roles", "web,db"))
	require.NoError(t, cmd.Flags().Set("skip-hosts", "web2"))
	require.NoError(t, cmd.Flags().Set("group", "production"))

	opts := get()
	assert.Len(t, opts.OnlyRoles, 2)
	assert.Contains(t, opts.SkipHosts, "web2")
	assert.Equal(t, "production", opts.Group)
	assert.Nil(t, opts.OnlyHosts)
}

func TestFlagOrDefault(t *testing.T) {
	cmd := &cobra.Command{Use: "test"}
	cmd.Flags().String("vars", "", "")

	assert.Equal(t, "fallback", flagOrDefault(cmd, "vars", "fallback"))
	assert.Equal(t, "fallback", flagOrDefault(cmd, "missing", "fallback"))

	require.NoError(t, cmd.Flags().Set("vars", "a=1"))
	assert.Equal(t, "a=1", flagOrDefault(cmd, "vars", "fallback"))
}
