package storage

import (
	"context"
	"net/url"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ProductLabsUS/Flusso-Automation/internal/workflow"
)

func openTestStorage(t *testing.T) *Storage {
	t.Helper()

	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "flusso.db")
	s, err := Open(ctx, Config{
		Path:      dbPath,
		EnableWAL: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func sampleRecord(runID, ticketID string, at time.Time) workflow.Record {
	return workflow.Record{
		RunID:        runID,
		TicketID:     ticketID,
		Timestamp:    at,
		Status:       workflow.StatusLowConfidenceMatch,
		Category:     "warranty",
		CustomerType: workflow.CustomerVIP,
		Metrics: workflow.Metrics{
			EnoughInformation:      true,
			HallucinationRisk:      0.2,
			ProductMatchConfidence: 0.4,
			VIPCompliant:           true,
		},
		Retrieval: workflow.RetrievalCounts{TextHits: 3, PastTicketHits: 1},
		Tags:      []string{workflow.TagLowConfidenceMatch, workflow.TagNeedsHumanReview},
		NoteType:  "private",
		Duration:  1500 * time.Millisecond,
		Steps:     16,
		Events: []workflow.Event{
			{Event: "webhook_received", Type: workflow.EventInfo, At: at},
			{Event: "update_ticket", Type: workflow.EventUpdate, Details: map[string]any{"note_type": "private"}, At: at},
		},
		RequesterEmail: "jane@example.com",
	}
}

func TestRunRecordRoundtrip(t *testing.T) {
	s := openTestStorage(t)
	ctx := context.Background()

	at := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	require.NoError(t, s.Append(ctx, sampleRecord("run-1", "101", at)))

	rows, err := s.QueryRunRecords(ctx, RunQuery{TicketID: "101"})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.NotContains(t, rows[0].EventsJSON, "jane@example.com")

	rec, err := rows[0].ToRecord()
	require.NoError(t, err)
	assert.Equal(t, "run-1", rec.RunID)
	assert.Equal(t, workflow.StatusLowConfidenceMatch, rec.Status)
	assert.Equal(t, 0.4, rec.Metrics.ProductMatchConfidence)
	assert.Equal(t, 1500*time.Millisecond, rec.Duration)
	assert.Equal(t, []string{workflow.TagLowConfidenceMatch, workflow.TagNeedsHumanReview}, rec.Tags)
	require.Len(t, rec.Events, 2)
	assert.Equal(t, "update_ticket", rec.Events[1].Event)
	assert.Empty(t, rec.RequesterEmail)
	assert.True(t, at.Equal(rec.Timestamp))
}

func TestRunRecordAppendOnly(t *testing.T) {
	s := openTestStorage(t)
	ctx := context.Background()

	rec := sampleRecord("run-1", "101", time.Now().UTC())
	require.NoError(t, s.Append(ctx, rec))
	assert.Error(t, s.Append(ctx, rec))

	rec.RunID = ""
	assert.Error(t, s.Append(ctx, rec))
}

func TestQueryRunRecordsFilters(t *testing.T) {
	s := openTestStorage(t)
	ctx := context.Background()

	base := time.Now().Add(-time.Hour).UTC()
	for i, id := range []string{"a", "b", "c"} {
		rec := sampleRecord("run-"+id, "7", base.Add(time.Duration(i)*time.Minute))
		if id == "b" {
			rec.Status = workflow.StatusResolved
			rec.DeliveryFailed = true
		}
		require.NoError(t, s.Append(ctx, rec))
	}
	require.NoError(t, s.Append(ctx, sampleRecord("run-d", "8", base)))

	rows, err := s.QueryRunRecords(ctx, RunQuery{TicketID: "7", Desc: true})
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, "run-c", rows[0].RunID)

	rows, err = s.QueryRunRecords(ctx, RunQuery{Status: string(workflow.StatusResolved)})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "run-b", rows[0].RunID)

	rows, err = s.QueryRunRecords(ctx, RunQuery{OnlyFailedDelivery: true})
	require.NoError(t, err)
	assert.Len(t, rows, 1)

	from := base.Add(30 * time.Second)
	rows, err = s.QueryRunRecords(ctx, RunQuery{TicketID: "7", From: &from, Limit: 1})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "run-b", rows[0].RunID)
}

func TestDeleteRunRecordsBefore(t *testing.T) {
	s := openTestStorage(t)
	ctx := context.Background()

	now := time.Now().UTC()
	require.NoError(t, s.Append(ctx, sampleRecord("old-1", "1", now.Add(-48*time.Hour))))
	require.NoError(t, s.Append(ctx, sampleRecord("old-2", "2", now.Add(-30*time.Hour))))
	require.NoError(t, s.Append(ctx, sampleRecord("new-1", "3", now)))

	n, err := s.DeleteRunRecordsBefore(ctx, now.Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	rows, err := s.QueryRunRecords(ctx, RunQuery{})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "new-1", rows[0].RunID)
}

func TestNilStorage(t *testing.T) {
	var s *Storage
	ctx := context.Background()

	assert.Error(t, s.Append(ctx, sampleRecord("r", "1", time.Now())))
	_, err := s.QueryRunRecords(ctx, RunQuery{})
	assert.Error(t, err)
	_, err = s.DeleteRunRecordsBefore(ctx, time.Now())
	assert.Error(t, err)
	assert.NoError(t, s.Close())
	assert.Error(t, s.Ping(ctx))
}

func TestNormalizeLimit(t *testing.T) {
	assert.Equal(t, defaultLimit, normalizeLimit(0))
	assert.Equal(t, maxLimit, normalizeLimit(maxLimit+1))
	assert.Equal(t, 10, normalizeLimit(10))
	assert.Equal(t, defaultDeleteLimit, normalizeDeleteLimit(-1))
	assert.Equal(t, maxDeleteLimit, normalizeDeleteLimit(10000))
}

func TestDSNFromConfig(t *testing.T) {
	dsn, err := dsnFromConfig(Config{InMemory: true})
	require.NoError(t, err)
	assert.Contains(t, dsn, "mode=memory")

	_, err = dsnFromConfig(Config{})
	assert.Error(t, err)
}

func TestDSNFromConfig_Pragmas(t *testing.T) {
	dsn, err := dsnFromConfig(Config{Path: "/tmp/x.db", EnableWAL: true, BusyTimeout: 2 * time.Second})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(dsn, "file:/tmp/x.db?"))
	assert.Contains(t, dsn, url.QueryEscape("busy_timeout(2000)"))
	assert.Contains(t, dsn, url.QueryEscape("journal_mode(WAL)"))
}

func TestOpen_CreatesParentDir(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dir", "flusso.db")
	s, err := Open(context.Background(), Config{Path: path})
	require.NoError(t, err)
	require.NoError(t, s.Close())
	assert.FileExists(t, path)
}

func TestOpen_InMemory(t *testing.T) {
	s, err := Open(context.Background(), Config{InMemory: true})
	require.NoError(t, err)
	defer s.Close()
	assert.NoError(t, s.Ping(context.Background()))
}
