package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rpattn/formview/internal/access"
	"github.com/rpattn/formview/internal/cache"
	"github.com/rpattn/formview/internal/collection"
	"github.com/rpattn/formview/internal/composition"
	"github.com/rpattn/formview/internal/domain"
	"github.com/rpattn/formview/internal/middleware"
	"github.com/rpattn/formview/internal/rank"
	"github.com/rpattn/formview/internal/repository"
	"github.com/rpattn/formview/internal/search"
	"github.com/rpattn/formview/internal/viewdef"
)

func leaderboard() domain.ViewDefinition {
	return domain.ViewDefinition{
		ID:            "leaderboard",
		PrimarySource: "athletes",
		Sources: []domain.Source{{ID: "athletes", Fields: []domain.FieldDefinition{
			{ID: "name", Searchable: true},
			{ID: "points"},
		}}},
		Columns:        []domain.ColumnRef{{FieldID: "name"}},
		DefaultSort:    []domain.SortCriterion{{FieldID: "points", Direction: domain.SortDirectionDesc}},
		PageSize:       2,
		ApprovalGating: true,
		Rank:           &domain.RankSettings{Field: "place", Start: "1"},
	}
}

func newTestServer(t *testing.T) http.Handler {
	t.Helper()
	store := repository.NewMemoryStore()
	athlete := func(id, name, points string, approved bool) domain.Record {
		return domain.Record{
			ID:       id,
			SourceID: "athletes",
			Approved: approved,
			Fields:   map[string]any{"name": name, "points": points},
		}
	}
	require.NoError(t, store.Save(context.Background(),
		athlete("a1", "Ada", "90", true),
		athlete("a2", "Bo", "80", true),
		athlete("a3", "Cy", "70", true),
		athlete("a4", "Di", "60", false),
	))

	views, err := viewdef.NewRegistry(leaderboard())
	require.NoError(t, err)

	server := NewServer(Deps{
		Views:       views,
		Translator:  search.NewTranslator(nil, nil, nil),
		Collections: collection.NewFactory(composition.NewExecutor(store, nil), collection.WithTotalCache(cache.NewMemoryStore[int](nil), time.Minute)),
		Access:      access.NewEvaluator(store, nil),
		Ranks:       rank.NewCalculator(cache.NewMemoryStore[int](nil)),
	})
	return middleware.ViewerMiddleware(middleware.DataLoaderMiddleware(store)(server))
}

func get(t *testing.T, handler http.Handler, target string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	for key, value := range headers {
		req.Header.Set(key, value)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func ranks(entries []EntryResponse) ([]string, []int) {
	var ids []string
	var values []int
	for _, entry := range entries {
		ids = append(ids, entry.Identity)
		if entry.Rank != nil {
			values = append(values, *entry.Rank)
		}
	}
	return ids, values
}

func TestList_PagesAndRanks(t *testing.T) {
	handler := newTestServer(t)

	rec := get(t, handler, "/views/leaderboard/entries", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	page := decode[ListResponse](t, rec)
	assert.Equal(t, 3, page.Total, "unapproved records are hidden")
	assert.Equal(t, 2, page.Pages)
	assert.Equal(t, 1, page.Page)
	ids, values := ranks(page.Entries)
	assert.Equal(t, []string{"a1", "a2"}, ids)
	assert.Equal(t, []int{1, 2}, values)
	assert.Equal(t, map[string]any{"name": "Ada"}, page.Entries[0].Columns)
	assert.Equal(t, "Ada", page.Entries[0].Records["athletes"].Fields["name"])

	rec = get(t, handler, "/views/leaderboard/entries?pagenum=2", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	ids, values = ranks(decode[ListResponse](t, rec).Entries)
	assert.Equal(t, []string{"a3"}, ids)
	assert.Equal(t, []int{3}, values)
}

func TestList_Search(t *testing.T) {
	rec := get(t, newTestServer(t), "/views/leaderboard/entries?search=ada", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	page := decode[ListResponse](t, rec)
	assert.Equal(t, 1, page.Total)
	ids, _ := ranks(page.Entries)
	assert.Equal(t, []string{"a1"}, ids)
}

func TestEntry(t *testing.T) {
	handler := newTestServer(t)

	rec := get(t, handler, "/views/leaderboard/entries/a2", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	entry := decode[EntryResponse](t, rec)
	assert.Equal(t, "a2", entry.Identity)
	require.NotNil(t, entry.Rank)
	assert.Equal(t, 2, *entry.Rank)

	rec = get(t, handler, "/views/leaderboard/entries/a4", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.JSONEq(t, `{"error":"not allowed"}`, rec.Body.String())

	rec = get(t, handler, "/views/leaderboard/entries/a4", map[string]string{
		middleware.HeaderViewerID:     "7",
		middleware.HeaderCapabilities: "moderate",
	})
	assert.Equal(t, http.StatusOK, rec.Code, "moderators see unapproved entries")

	rec = get(t, handler, "/views/leaderboard/entries/missing", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code, "unknown identities are indistinguishable from denied ones")
}

func TestUnknownView(t *testing.T) {
	handler := newTestServer(t)

	assert.Equal(t, http.StatusNotFound, get(t, handler, "/views/nope/entries", nil).Code)
	assert.Equal(t, http.StatusNotFound, get(t, handler, "/views/nope/entries/a1", nil).Code)

	rec := get(t, handler, "/views", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"views":["leaderboard"]}`, rec.Body.String())
}

func TestWriteError(t *testing.T) {
	s := NewServer(Deps{})
	tests := []struct {
		err  error
		code int
	}{
		{domain.NewConfigurationError("athletes", "points", "unknown field"), http.StatusInternalServerError},
		{domain.NewAccessDenied("a1", "gate"), http.StatusForbidden},
		{viewdef.ErrUnknownView, http.StatusNotFound},
		{domain.ErrNotFound, http.StatusNotFound},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		rec := httptest.NewRecorder()
		s.writeError(context.Background(), rec, tt.err)
		assert.Equal(t, tt.code, rec.Code, tt.err.Error())
	}
}
