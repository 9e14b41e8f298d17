package cmd

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vinoscout/sourcegate/internal/app"
	"github.com/vinoscout/sourcegate/internal/config"
)

func withMemoryApp(t *testing.T) {
	t.Helper()
	orig := newApp
	newApp = func(ctx context.Context) (*app.App, error) {
		cfg, err := config.Load("")
		if err != nil {
			return nil, err
		}
		cfg.Storage.Backend = "memory"
		return app.New(ctx, cfg)
	}
	t.Cleanup(func() { newApp = orig })
}

func TestPurgeCommand(t *testing.T) {
	withMemoryApp(t)

	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs([]string{"purge"})

	require.NoError(t, root.Execute())
	require.Contains(t, out.String(), "removed 0 expired provenance records")
}

func TestRobotsCommandRequiresArgs(t *testing.T) {
	withMemoryApp(t)

	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs([]string{"robots", "decanter.com"})

	require.Error(t, root.Execute())
}
