package business

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/openkcm/common-sdk/pkg/commoncfg"
	"github.com/stretchr/testify/assert"

	"github.com/openkcm/auth-oidc/internal/config"
)

type countingCron struct {
	calls atomic.Int32
	err   error
}

func (c *countingCron) Cron(context.Context) (int64, error) {
	c.calls.Add(1)
	if c.err != nil {
		return 0, c.err
	}
	return 2, nil
}

func TestHousekeeperMain_InvalidDatabaseConfig(t *testing.T) {
	cfg := &config.Config{
		Database: config.Database{
			Host:     commoncfg.SourceRef{Source: "file", File: commoncfg.CredentialFile{Path: "/nonexistent/file"}},
			Port:     "5432",
			Name:     "testdb",
			User:     commoncfg.SourceRef{Source: "embedded", Value: "user"},
			Password: commoncfg.SourceRef{Source: "embedded", Value: "pass"},
		},
	}

	err := HousekeeperMain(t.Context(), cfg)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "failed to initialise the plugin")
}

func TestPruneMain_InvalidValkeyConfig(t *testing.T) {
	cfg := validConfig()
	cfg.Plugin.StateStore = config.StateStoreValKey
	cfg.ValKey = config.ValKey{
		Host:     commoncfg.SourceRef{Source: "file", File: commoncfg.CredentialFile{Path: "/nonexistent/file"}},
		User:     commoncfg.SourceRef{Source: "embedded", Value: "user"},
		Password: commoncfg.SourceRef{Source: "embedded", Value: "pass"},
	}

	err := PruneMain(t.Context(), cfg)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "failed to initialise the plugin")
}

func TestPrune(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		assertErr assert.ErrorAssertionFunc
	}{
		{name: "success", assertErr: assert.NoError},
		{name: "storage failure is returned", err: errors.New("connection refused"), assertErr: assert.Error},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := &countingCron{err: tt.err}

			err := prune(t.Context(), c)

			tt.assertErr(t, err)
			assert.Equal(t, int32(1), c.calls.Load())
		})
	}
}

func TestRunHousekeeper(t *testing.T) {
	t.Run("runs immediately and on every tick", func(t *testing.T) {
		ctx, cancel := context.WithCancel(t.Context())
		c := &countingCron{}

		done := make(chan struct{})
		go func() {
			runHousekeeper(ctx, c, 10*time.Millisecond)
			close(done)
		}()

		assert.Eventually(t, func() bool { return c.calls.Load() >= 3 }, time.Second, 5*time.Millisecond)
		cancel()
		<-done
	})

	t.Run("keeps running after a failed prune", func(t *testing.T) {
		ctx, cancel := context.WithCancel(t.Context())
		c := &countingCron{err: errors.New("connection refused")}

		done := make(chan struct{})
		go func() {
			runHousekeeper(ctx, c, 10*time.Millisecond)
			close(done)
		}()

		assert.Eventually(t, func() bool { return c.calls.Load() >= 2 }, time.Second, 5*time.Millisecond)
		cancel()
		<-done
	})

	t.Run("stops when the context is cancelled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(t.Context())
		cancel()
		c := &countingCron{}

		runHousekeeper(ctx, c, time.Hour)

		assert.Equal(t, int32(1), c.calls.Load())
	})
}
