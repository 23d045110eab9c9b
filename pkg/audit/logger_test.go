package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codekinian-dev/seed-chain-zta/pkg/auth"
)

func TestRecordWritesPrefixedJSON(t *testing.T) {
	var buf bytes.Buffer
	l := NewLoggerWithWriter(&buf)

	ctx := auth.WithPrincipal(context.Background(), &auth.Principal{ID: "user-1"})
	require.NoError(t, l.Record(ctx, EventMutation, "create_seed_batch", "BATCH-1", map[string]interface{}{
		"saga_id": "saga-1",
	}))

	line := buf.String()
	require.True(t, strings.HasPrefix(line, "AUDIT: "))

	var ev Event
	require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "AUDIT: ")), &ev))
	assert.Equal(t, "user-1", ev.ActorID)
	assert.Equal(t, EventMutation, ev.Type)
	assert.Equal(t, "create_seed_batch", ev.Action)
	assert.Equal(t, "BATCH-1", ev.Resource)
	assert.Equal(t, "saga-1", ev.Metadata["saga_id"])
	assert.NotEmpty(t, ev.ID)
	assert.False(t, ev.Timestamp.IsZero())
}

func TestRecordDefaultsToSystemActor(t *testing.T) {
	var buf bytes.Buffer
	l := NewLoggerWithWriter(&buf)

	require.NoError(t, l.Record(context.Background(), EventSystem, "sweep", "sagas", nil))

	var ev Event
	require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(buf.String(), "AUDIT: ")), &ev))
	assert.Equal(t, "system", ev.ActorID)
}

func TestSecurityHelperToleratesNilLogger(t *testing.T) {
	assert.NotPanics(t, func() {
		Security(context.Background(), nil, "ACCESS_DENIED", "seed_batch", nil)
	})
}

func TestSecurityHelperRecordsEvent(t *testing.T) {
	var buf bytes.Buffer
	l := NewLoggerWithWriter(&buf)

	Security(context.Background(), l, "CONFLICT_OF_INTEREST", "BATCH-1", map[string]interface{}{
		"inspector": "u2",
	})

	var ev Event
	require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(buf.String(), "AUDIT: ")), &ev))
	assert.Equal(t, EventSecurity, ev.Type)
	assert.Equal(t, "CONFLICT_OF_INTEREST", ev.Action)
}
