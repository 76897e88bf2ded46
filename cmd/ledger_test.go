package cmd

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MyCarrier-DevOps/cadence/internal/adapters/ledger"
	"github.com/MyCarrier-DevOps/cadence/internal/domain"
)

func seedLedger(t *testing.T, e *testEnv, records ...*domain.BuildRecord) {
	t.Helper()
	store, err := ledger.Open(e.cfg.LedgerPath, ledger.Options{})
	require.NoError(t, err)
	defer store.Close()
	for _, rec := range records {
		require.NoError(t, store.SaveBuild(context.Background(), rec))
	}
}

func TestList(t *testing.T) {
	e := newTestEnv(t)
	seedLedger(t, e,
		&domain.BuildRecord{Commit: "def456", Repo: domain.RepoDescriptor{URI: "repoB"}, State: domain.StateError},
		&domain.BuildRecord{Commit: "abc123", Repo: domain.RepoDescriptor{URI: "repoA"}, State: domain.StateSuccess},
	)

	require.NoError(t, e.execute("list"))

	assert.Equal(t,
		"STATE    COMMIT  REPOSITORY\n"+
			"success  abc123  repoA\n"+
			"error    def456  repoB\n",
		e.stdout.String())
}

func TestList_WhileRunHoldsLedger(t *testing.T) {
	e := newTestEnv(t)
	e.cfg.LedgerTimeout = time.Second
	run, err := ledger.Open(e.cfg.LedgerPath, ledger.Options{})
	require.NoError(t, err)
	defer run.Close()
	require.NoError(t, run.SaveBuild(context.Background(), &domain.BuildRecord{
		Commit: "abc123",
		Repo:   domain.RepoDescriptor{URI: "repoA"},
		State:  domain.StateRunning,
	}))

	require.NoError(t, e.execute("list"))

	assert.Equal(t,
		"STATE    COMMIT  REPOSITORY\n"+
			"running  abc123  repoA\n",
		e.stdout.String())

	// The run keeps writing after the listing.
	require.NoError(t, run.SaveBuild(context.Background(), &domain.BuildRecord{Commit: "abc123", State: domain.StateSuccess}))
}

func TestList_NoLedgerYet(t *testing.T) {
	e := newTestEnv(t)

	require.NoError(t, e.execute("list"))

	assert.Equal(t, "STATE  COMMIT  REPOSITORY\n", e.stdout.String())
	assert.NoFileExists(t, e.cfg.LedgerPath, "list never creates the ledger")
}

func TestList_Errors(t *testing.T) {
	t.Run("config fails", func(t *testing.T) {
		e := newTestEnv(t)
		e.deps.ConfigLoader = func() (*AppConfig, error) { return nil, errors.New("bad env") }

		err := e.execute("list")

		require.Error(t, err)
		assert.Contains(t, err.Error(), "configuration error")
	})

	t.Run("ledger fails", func(t *testing.T) {
		e := newTestEnv(t)
		e.deps.LedgerFactory = func(*AppConfig, bool) (domain.Ledger, error) { return nil, domain.ErrLedger }

		err := e.execute("list")

		require.Error(t, err)
		assert.ErrorIs(t, err, domain.ErrLedger)
	})
}

func TestShow(t *testing.T) {
	e := newTestEnv(t)
	seedLedger(t, e, &domain.BuildRecord{
		Commit: "abc123",
		Repo:   domain.RepoDescriptor{URI: "repoA", CloneDir: "/work/builds/abc123/src"},
		State:  domain.StateSuccess,
		Data:   map[string]string{domain.DataRunID: "run-0"},
	})

	require.NoError(t, e.execute("show", "abc123"))

	assert.JSONEq(t, `{
		"commit": "abc123",
		"repo": {"uri": "repoA", "clonedir": "/work/builds/abc123/src"},
		"state": "success",
		"data": {"run_id": "run-0"}
	}`, e.stdout.String())
}

func TestShow_NotFound(t *testing.T) {
	tests := []struct {
		name  string
		setup func(t *testing.T, e *testEnv)
	}{
		{name: "no ledger yet", setup: func(*testing.T, *testEnv) {}},
		{name: "commit not recorded", setup: func(t *testing.T, e *testEnv) {
			seedLedger(t, e, &domain.BuildRecord{Commit: "def456", State: domain.StateSuccess})
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newTestEnv(t)
			tt.setup(t, e)

			err := e.execute("show", "abc123")

			require.Error(t, err)
			assert.Equal(t, "no build recorded for commit abc123", err.Error())
			assert.Empty(t, e.stdout.String())
		})
	}
}

func TestShow_RequiresHash(t *testing.T) {
	e := newTestEnv(t)

	assert.Error(t, e.execute("show"))
}
