package commands

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clasp-protocol/clasp-go/pkg/log"
)

var base = time.Date(2026, 3, 14, 20, 0, 0, 0, time.UTC)

func createTestLogFile(t *testing.T, events []log.Event) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.clog")

	logger, err := log.NewFileLogger(path)
	require.NoError(t, err)
	for _, e := range events {
		logger.Log(e)
	}
	require.NoError(t, logger.Close())
	return path
}

func sessionEvents() []log.Event {
	subID := uint32(3)
	code := 401
	return []log.Event{
		{
			Timestamp:    base,
			ConnectionID: "abc12345-conn",
			Layer:        log.LayerSession,
			Category:     log.CategoryState,
			RemoteAddr:   "ws://studio:7330/clasp",
			StateChange:  &log.StateChangeEvent{Entity: log.StateEntitySession, OldState: "DISCONNECTED", NewState: "CONNECTING"},
		},
		{
			Timestamp:    base.Add(10 * time.Millisecond),
			ConnectionID: "abc12345-conn",
			Direction:    log.DirectionOut,
			Layer:        log.LayerWire,
			Category:     log.CategoryMessage,
			SessionID:    "s-1",
			Message:      &log.MessageEvent{Type: "SET", Address: "/mixer/fader", QoS: 1, Payload: map[string]any{"value": 0.5}},
		},
		{
			Timestamp:    base.Add(20 * time.Millisecond),
			ConnectionID: "abc12345-conn",
			Direction:    log.DirectionOut,
			Layer:        log.LayerWire,
			Category:     log.CategoryMessage,
			SessionID:    "s-1",
			Message:      &log.MessageEvent{Type: "SUBSCRIBE", Address: "/lights/**", SubscriptionID: &subID, QoS: 1},
		},
		{
			Timestamp:    base.Add(30 * time.Millisecond),
			ConnectionID: "abc12345-conn",
			Direction:    log.DirectionIn,
			Layer:        log.LayerWire,
			Category:     log.CategoryMessage,
			SessionID:    "s-1",
			Message:      &log.MessageEvent{Type: "SET", Address: "/lights/1", QoS: 1},
		},
		{
			Timestamp:    base.Add(2 * time.Second),
			ConnectionID: "abc12345-conn",
			Layer:        log.LayerSession,
			Category:     log.CategoryError,
			SessionID:    "s-1",
			Error:        &log.ErrorEventData{Layer: log.LayerSession, Message: "lock held", Code: &code, Context: "/mixer/fader"},
		},
	}
}

func TestRunViewFormatsEvents(t *testing.T) {
	path := createTestLogFile(t, sessionEvents())

	var buf bytes.Buffer
	require.NoError(t, RunView(path, ViewFilter{}, &buf))
	out := buf.String()

	assert.Contains(t, out, "2026-03-14T20:00:00.000000Z [conn:abc12345] IN  SESSION State")
	assert.Contains(t, out, "DISCONNECTED -> CONNECTING")
	assert.Contains(t, out, "OUT WIRE SET")
	assert.Contains(t, out, "Address: /mixer/fader")
	assert.Contains(t, out, `Payload: {"value":0.5}`)
	assert.Contains(t, out, "SubscriptionID: 3")
	assert.Contains(t, out, "Message: lock held")
	assert.Contains(t, out, "Code: 401")
}

func TestRunViewFilters(t *testing.T) {
	path := createTestLogFile(t, sessionEvents())

	dir := log.DirectionIn
	var buf bytes.Buffer
	require.NoError(t, RunView(path, ViewFilter{Direction: &dir, MessageType: "set"}, &buf))
	assert.Equal(t, 1, strings.Count(buf.String(), " SET"))
	assert.Contains(t, buf.String(), "/lights/1")

	buf.Reset()
	require.NoError(t, RunView(path, ViewFilter{Address: "/mixer/**"}, &buf))
	assert.Contains(t, buf.String(), "/mixer/fader")
	assert.NotContains(t, buf.String(), "/lights")
}

func TestRunViewMissingFile(t *testing.T) {
	err := RunView(filepath.Join(t.TempDir(), "none.clog"), ViewFilter{}, io.Discard)
	assert.Error(t, err)
}

func TestParseFlags(t *testing.T) {
	l, err := ParseLayerFlag("Session")
	require.NoError(t, err)
	assert.Equal(t, log.LayerSession, l)
	_, err = ParseLayerFlag("service")
	assert.Error(t, err)

	d, err := ParseDirectionFlag("OUT")
	require.NoError(t, err)
	assert.Equal(t, log.DirectionOut, d)
	_, err = ParseDirectionFlag("sideways")
	assert.Error(t, err)

	c, err := ParseCategoryFlag("control")
	require.NoError(t, err)
	assert.Equal(t, log.CategoryControl, c)
	_, err = ParseCategoryFlag("snapshot")
	assert.Error(t, err)
}

func TestCollectStats(t *testing.T) {
	path := createTestLogFile(t, sessionEvents())

	stats, err := CollectStats(path)
	require.NoError(t, err)

	assert.Equal(t, 5, stats.TotalEvents)
	assert.Equal(t, 3, stats.EventsByLayer[log.LayerWire])
	assert.Equal(t, 2, stats.MessagesByType["SET"])
	assert.Equal(t, 1, stats.MessagesByType["SUBSCRIBE"])
	assert.Equal(t, 1, stats.Errors)
	require.Len(t, stats.Connections, 1)

	conn := stats.Connections["abc12345-conn"]
	assert.Equal(t, "ws://studio:7330/clasp", conn.Router)
	assert.Len(t, conn.Sessions, 1)
	assert.Equal(t, 2*time.Second, conn.LastSeen.Sub(conn.FirstSeen))

	var buf bytes.Buffer
	require.NoError(t, RunStats(path, &buf))
	assert.Contains(t, buf.String(), "Total Events: 5")
	assert.Contains(t, buf.String(), "SUBSCRIBE:")
	assert.Contains(t, buf.String(), "Errors: 1")
}

func TestExportJSONL(t *testing.T) {
	path := createTestLogFile(t, sessionEvents())
	out := filepath.Join(t.TempDir(), "out.jsonl")

	require.NoError(t, RunExport(path, "jsonl", out))

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 5)

	var decoded log.Event
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &decoded))
	require.NotNil(t, decoded.Message)
	assert.Equal(t, "/mixer/fader", decoded.Message.Address)
}

func TestExportCSV(t *testing.T) {
	path := createTestLogFile(t, sessionEvents())
	out := filepath.Join(t.TempDir(), "out.csv")

	require.NoError(t, RunExport(path, "csv", out))

	f, err := os.Open(out)
	require.NoError(t, err)
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)

	require.Len(t, rows, 6)
	assert.Equal(t, "type", rows[0][6])
	assert.Equal(t, []string{"SET", "/mixer/fader", "1"}, rows[2][6:])
	assert.Equal(t, "Error", rows[5][6])
}

func TestExportUnknownFormat(t *testing.T) {
	path := createTestLogFile(t, sessionEvents())
	err := RunExport(path, "xml", filepath.Join(t.TempDir(), "out.xml"))
	assert.ErrorContains(t, err, "unknown format")
}

func TestRunFilter(t *testing.T) {
	path := createTestLogFile(t, sessionEvents())
	out := filepath.Join(t.TempDir(), "filtered.clog")

	n, err := RunFilter(path, FilterOptions{
		Output:    out,
		Category:  "message",
		TimeStart: base.Format(time.RFC3339),
		TimeEnd:   base.Add(time.Second).Format(time.RFC3339),
	})
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	stats, err := CollectStats(out)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.EventsByCategory[log.CategoryMessage])
	assert.Zero(t, stats.Errors)
}

func TestRunFilterBadOptions(t *testing.T) {
	path := createTestLogFile(t, sessionEvents())
	out := filepath.Join(t.TempDir(), "filtered.clog")

	_, err := RunFilter(path, FilterOptions{Output: out, TimeStart: "yesterday"})
	assert.ErrorContains(t, err, "time-start")

	_, err = RunFilter(path, FilterOptions{Output: out, Layer: "service"})
	assert.Error(t, err)
}
