package workbook

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/rpattn/formview/internal/domain"
	"github.com/rpattn/formview/internal/repository"
)

var fixedNow = time.Date(2024, 7, 1, 9, 0, 0, 0, time.UTC)

func buildWorkbook(t *testing.T) []byte {
	t.Helper()
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	require.NoError(t, f.SetSheetName("Sheet1", "Teams"))
	rows := [][]interface{}{
		{"id", "Team Name", "City", "is_approved"},
		{"a1", "Falcons", "Leeds", "yes"},
		{},
		{"a2", "Otters", "York", "0"},
	}
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		require.NoError(t, err)
		require.NoError(t, f.SetSheetRow("Teams", cell, &row))
	}

	_, err := f.NewSheet("Player Roster")
	require.NoError(t, err)
	playerRows := [][]interface{}{
		{"ID", "team", "tags[]", "created_by", "date_created", "status"},
		{"b1", "a1", "captain, keeper", "12", "2024-03-05", ""},
		{"b2", "a1", "", "", "", "trash"},
	}
	for i, row := range playerRows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		require.NoError(t, err)
		require.NoError(t, f.SetSheetRow("Player Roster", cell, &row))
	}

	buf, err := f.WriteToBuffer()
	require.NoError(t, err)
	return buf.Bytes()
}

func TestLoad_Workbook(t *testing.T) {
	store := repository.NewMemoryStore()
	loader := NewLoader(func() time.Time { return fixedNow })

	summaries, err := loader.Load(context.Background(), "league.xlsx", buildWorkbook(t), store)
	require.NoError(t, err)
	require.Len(t, summaries, 2)
	assert.Equal(t, SourceSummary{Source: "teams", Fields: []string{"Team_Name", "City"}, Records: 2}, summaries[0])
	assert.Equal(t, SourceSummary{Source: "player_roster", Fields: []string{"team", "tags"}, Records: 2}, summaries[1])

	records, err := store.GetByIDs(context.Background(), []string{"a1", "a2", "b1", "b2"})
	require.NoError(t, err)
	require.Len(t, records, 4)

	assert.True(t, records[0].Approved)
	assert.Equal(t, "Falcons", records[0].Fields["Team_Name"])
	assert.False(t, records[1].Approved)
	assert.Equal(t, fixedNow, records[1].CreatedAt)

	b1 := records[2]
	assert.Equal(t, "player_roster", b1.SourceID)
	assert.Equal(t, []string{"captain", "keeper"}, b1.Fields["tags"])
	assert.Equal(t, int64(12), b1.CreatedBy)
	assert.Equal(t, time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC), b1.CreatedAt)
	assert.Equal(t, domain.RecordStatusTrashed, records[3].Status)

	active, err := store.Count(context.Background(), "player_roster", domain.Clause{})
	require.NoError(t, err)
	assert.Equal(t, 1, active)
}

func TestParse_CSV(t *testing.T) {
	payload := append([]byte{0xEF, 0xBB, 0xBF}, []byte("name,score,score\nkim,10,11\n,,\nlee,9\n")...)
	sheets, err := Parse("Heat Results.csv", payload)
	require.NoError(t, err)
	require.Len(t, sheets, 1)

	sheet := sheets[0]
	assert.Equal(t, "heat_results", sheet.Source)
	assert.Equal(t, []string{"name", "score", "score_2"}, sheet.Headers)
	assert.Equal(t, [][]string{{"kim", "10", "11"}, {"lee", "9", ""}}, sheet.Rows)

	sources := Sources(sheets)
	require.Len(t, sources, 1)
	assert.True(t, sources[0].HasField("score_2"))

	records, err := NewLoader(nil).Records(sheet)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.NotEmpty(t, records[0].ID, "rows without an id get a generated one")
	assert.NotEqual(t, records[0].ID, records[1].ID)
}

func TestParse_Errors(t *testing.T) {
	_, err := Parse("notes.txt", []byte("x"))
	assert.ErrorIs(t, err, ErrUnsupportedFormat)

	_, err = Parse("empty.csv", []byte("\n\n"))
	assert.Error(t, err)

	sheets, err := Parse("bad.csv", []byte("id,created_by\nx1,someone\n"))
	require.NoError(t, err)
	_, err = NewLoader(nil).Records(sheets[0])
	assert.ErrorContains(t, err, "created_by")
}
