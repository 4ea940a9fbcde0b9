package events_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stagegate/internal/db"
	"stagegate/internal/events"
	"stagegate/internal/migrate"
)

func recorders(t *testing.T) map[string]events.Recorder {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, migrate.Migrate(conn))
	return map[string]events.Recorder{
		"sqlite": events.Writer{DB: conn},
		"memory": events.NewMemoryLog(0),
	}
}

func TestRecordersFilterAndPage(t *testing.T) {
	for name, rec := range recorders(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, rec.Record(ctx, "workflow.initiated", "workflow", "wf-1", "alice", events.EventPayload{"title": "POC"}))
			require.NoError(t, rec.Record(ctx, "document.registered", "document", "doc-1", "", nil))
			require.NoError(t, rec.Record(ctx, "workflow.approved", "workflow", "wf-1", "ceo", nil))

			all, err := rec.Latest(ctx, events.Filter{})
			require.NoError(t, err)
			require.Len(t, all, 3)
			assert.Equal(t, "workflow.approved", all[0].Type)
			assert.Equal(t, "system", all[1].ActorID)
			assert.JSONEq(t, `{"title":"POC"}`, all[2].Payload)

			wf, err := rec.Latest(ctx, events.Filter{EntityKind: "workflow", EntityID: "wf-1", Limit: 1})
			require.NoError(t, err)
			require.Len(t, wf, 1)
			assert.Equal(t, "workflow.approved", wf[0].Type)

			older, err := rec.Latest(ctx, events.Filter{Cursor: all[0].ID})
			require.NoError(t, err)
			assert.Len(t, older, 2)

			after, err := rec.After(ctx, all[2].ID, 10)
			require.NoError(t, err)
			require.Len(t, after, 2)
			assert.Equal(t, "document.registered", after[0].Type)
		})
	}
}

func TestMemoryLogIsBounded(t *testing.T) {
	log := events.NewMemoryLog(2)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		require.NoError(t, log.Record(ctx, "x", "k", "", "", nil))
	}
	got, err := log.Latest(ctx, events.Filter{})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, int64(5), got[0].ID)
}
