package audit

import (
	"context"
	"encoding/csv"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubTimelineRepo struct {
	rows       []TimelineRow
	err        error
	lastLimit  int
	lastOffset int
}

func (s *stubTimelineRepo) Window(_ context.Context, _ TimelineFilters, limit, offset int) ([]TimelineRow, error) {
	s.lastLimit = limit
	s.lastOffset = offset
	if s.err != nil {
		return nil, s.err
	}
	rows := s.rows
	if offset < len(rows) {
		rows = rows[offset:]
	} else {
		rows = nil
	}
	if len(rows) > limit {
		rows = rows[:limit]
	}
	return rows, nil
}

func mockRow(at, actor, action string) TimelineRow {
	ts, _ := time.Parse(time.RFC3339, at)
	return TimelineRow{At: ts, Actor: actor, Action: action, Entity: "document", EntityID: "d-1"}
}

func TestServiceTimelinePaging(t *testing.T) {
	repo := &stubTimelineRepo{rows: []TimelineRow{
		mockRow("2026-03-10T10:00:00Z", "admin-1", "content.updated"),
		mockRow("2026-03-09T09:00:00Z", "admin-1", "content.created"),
		mockRow("2026-03-08T08:00:00Z", "super-1", "role.granted"),
	}}
	svc := NewService(repo)

	result, err := svc.Timeline(context.Background(), TimelineFilters{Page: 1, PageSize: 2})
	require.NoError(t, err)
	assert.Len(t, result.Rows, 2)
	assert.True(t, result.Paging.HasNext)
	assert.Equal(t, 2, result.Paging.NextPage)
	assert.Zero(t, result.Paging.PrevPage)
	assert.Equal(t, 3, repo.lastLimit)
	assert.Equal(t, 0, repo.lastOffset)

	result, err = svc.Timeline(context.Background(), TimelineFilters{Page: 2, PageSize: 2})
	require.NoError(t, err)
	assert.Len(t, result.Rows, 1)
	assert.False(t, result.Paging.HasNext)
	assert.Equal(t, 1, result.Paging.PrevPage)
	assert.Equal(t, 2, repo.lastOffset)
}

func TestServiceTimelineClampsPageSize(t *testing.T) {
	repo := &stubTimelineRepo{}
	svc := NewService(repo)

	result, err := svc.Timeline(context.Background(), TimelineFilters{PageSize: 500})
	require.NoError(t, err)
	assert.Equal(t, maxPageSize, result.Paging.PageSize)
	assert.Equal(t, 1, result.Paging.Page)
	assert.Equal(t, maxPageSize+1, repo.lastLimit)

	_, err = svc.Timeline(context.Background(), TimelineFilters{})
	require.NoError(t, err)
	assert.Equal(t, defaultPageSize+1, repo.lastLimit)
}

func TestServiceErrors(t *testing.T) {
	boom := errors.New("db down")
	svc := NewService(&stubTimelineRepo{err: boom})
	_, err := svc.Timeline(context.Background(), TimelineFilters{})
	assert.ErrorIs(t, err, boom)

	var nilSvc *Service
	_, err = nilSvc.Export(context.Background(), TimelineFilters{})
	assert.Error(t, err)
}

func TestServiceExportUsesLimit(t *testing.T) {
	repo := &stubTimelineRepo{rows: []TimelineRow{mockRow("2026-03-10T10:00:00Z", "admin-1", "content.updated")}}
	rows, err := NewService(repo).Export(context.Background(), TimelineFilters{})
	require.NoError(t, err)
	assert.Len(t, rows, 1)
	assert.Equal(t, ExportLimit, repo.lastLimit)
}

func TestBoundsIncludesWholeLastDay(t *testing.T) {
	from := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC)
	lo, hi := bounds(TimelineFilters{From: from, To: to})
	assert.Equal(t, from, lo)
	assert.Equal(t, time.Date(2026, 3, 16, 0, 0, 0, 0, time.UTC), hi)
}

func TestWriteCSV(t *testing.T) {
	row := mockRow("2026-03-10T10:00:00Z", "admin-1", "content.updated")
	row.Meta = map[string]any{"kind": "events", "slug": "gala, \"night\""}
	out, err := WriteCSV([]TimelineRow{row})
	require.NoError(t, err)

	records, err := csv.NewReader(strings.NewReader(string(out))).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, csvHeader, records[0])
	assert.Equal(t, "2026-03-10T10:00:00Z", records[1][0])
	assert.Equal(t, "admin-1", records[1][1])
	assert.JSONEq(t, `{"kind":"events","slug":"gala, \"night\""}`, records[1][5])

	out, err = WriteCSV(nil)
	require.NoError(t, err)
	assert.Equal(t, strings.Join(csvHeader, ",")+"\n", string(out))
}
