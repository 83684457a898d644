// File: cmd/root_test.go
package cmd

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommandRegistration(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}
	assert.True(t, names["scrape"], "scrape command must be registered")
	assert.True(t, names["fines"], "fines command must be registered")
	assert.True(t, names["stats"], "stats command must be registered")
}

func TestRootPersistentFlags(t *testing.T) {
	flag := rootCmd.PersistentFlags().Lookup("config")
	require.NotNil(t, flag)
	assert.Equal(t, "c", flag.Shorthand)
}

func TestScrapeCommandFlags(t *testing.T) {
	scrapeCmd := newScrapeCmd()
	for _, name := range []string{"headless", "max-pages", "profile-dir", "dry-run"} {
		assert.NotNil(t, scrapeCmd.Flags().Lookup(name), "flag %s must exist", name)
	}
}

func TestFinesCommandRequiresPlateArg(t *testing.T) {
	finesCmd := newFinesCmd()
	err := finesCmd.Args(finesCmd, nil)
	require.Error(t, err)
	assert.NoError(t, finesCmd.Args(finesCmd, []string{"ABC1234"}))
}

func TestFinesCommandRejectsUnrecognizablePlate(t *testing.T) {
	finesCmd := newFinesCmd()
	finesCmd.SetArgs([]string{"not-a-plate"})
	finesCmd.SilenceUsage = true
	finesCmd.SilenceErrors = true

	err := finesCmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not a recognizable vehicle plate")
}
