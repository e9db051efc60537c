// Package httpapi serves composed view listings and single entries over HTTP.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"

	"go.uber.org/zap"

	"github.com/rpattn/formview/internal/access"
	"github.com/rpattn/formview/internal/auth"
	"github.com/rpattn/formview/internal/collection"
	"github.com/rpattn/formview/internal/composition"
	"github.com/rpattn/formview/internal/domain"
	"github.com/rpattn/formview/internal/logger"
	"github.com/rpattn/formview/internal/rank"
	"github.com/rpattn/formview/internal/search"
	"github.com/rpattn/formview/internal/viewdef"
)

// Deps are the collaborators a Server renders views with.
type Deps struct {
	Views       *viewdef.Registry
	Translator  *search.Translator
	Collections *collection.Factory
	Access      *access.Evaluator
	Ranks       *rank.Calculator
	Logger      logger.Logger
}

type Server struct {
	deps Deps
	mux  *http.ServeMux
}

func NewServer(deps Deps) *Server {
	if deps.Logger == nil {
		deps.Logger = logger.NewNoopLogger()
	}
	s := &Server{deps: deps, mux: http.NewServeMux()}
	s.mux.HandleFunc("GET /views", s.handleViews)
	s.mux.HandleFunc("GET /views/{view}/entries", s.handleList)
	s.mux.HandleFunc("GET /views/{view}/entries/{identity}", s.handleEntry)
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// EntryResponse is one composed row.
type EntryResponse struct {
	Identity string                   `json:"identity"`
	Columns  map[string]any           `json:"columns,omitempty"`
	Fields   map[string]any           `json:"fields"`
	Records  map[string]domain.Record `json:"records"`
	Rank     *int                     `json:"rank,omitempty"`
}

// ListResponse is one page of a view.
type ListResponse struct {
	View     string `json:"view"`
	Page     int    `json:"page"`
	PageSize int    `json:"page_size"`
	// Offset rows are counted in Total but appear on no page.
	Offset  int             `json:"offset,omitempty"`
	Total   int             `json:"total"`
	Pages   int             `json:"pages"`
	Entries []EntryResponse `json:"entries"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) handleViews(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(r.Context(), w, http.StatusOK, map[string][]string{"views": s.deps.Views.IDs()})
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	resp, err := s.List(r.Context(), r.PathValue("view"), r.URL.Query())
	if err != nil {
		s.writeError(r.Context(), w, err)
		return
	}
	s.writeJSON(r.Context(), w, http.StatusOK, resp)
}

func (s *Server) handleEntry(w http.ResponseWriter, r *http.Request) {
	resp, err := s.Entry(r.Context(), r.PathValue("view"), r.PathValue("identity"), r.URL.Query())
	if err != nil {
		s.writeError(r.Context(), w, err)
		return
	}
	s.writeJSON(r.Context(), w, http.StatusOK, resp)
}

// List renders one page of viewID for the given query parameters.
func (s *Server) List(ctx context.Context, viewID string, query url.Values) (ListResponse, error) {
	view, plan, err := s.plan(ctx, viewID, query)
	if err != nil {
		return ListResponse{}, err
	}

	coll := s.deps.Collections.Open(plan)
	entries, err := coll.All(ctx)
	if err != nil {
		return ListResponse{}, err
	}
	total, err := coll.Total(ctx)
	if err != nil {
		return ListResponse{}, err
	}
	pages, err := coll.Pages(ctx)
	if err != nil {
		return ListResponse{}, err
	}

	var pass *rank.Pass
	var rc rank.Context
	if view.Rank != nil && s.deps.Ranks != nil {
		pass = s.deps.Ranks.Begin()
		rc = rankContext(view, coll)
	}

	paging := coll.Paging()
	resp := ListResponse{
		View:     view.ID,
		Page:     paging.Page,
		PageSize: paging.PageSize,
		Offset:   paging.Offset,
		Total:    total,
		Pages:    pages,
		Entries:  make([]EntryResponse, 0, len(entries)),
	}
	for _, entry := range entries {
		out := render(view, entry)
		if pass != nil {
			rc.Entry = entry.Identity()
			value := pass.Rank(ctx, rc)
			out.Rank = &value
		}
		resp.Entries = append(resp.Entries, out)
	}
	return resp, nil
}

// Entry resolves identity under viewID for the viewer on ctx. Entries the
// viewer may not see are reported as access denied.
func (s *Server) Entry(ctx context.Context, viewID, identity string, query url.Values) (EntryResponse, error) {
	view, plan, err := s.plan(ctx, viewID, query)
	if err != nil {
		return EntryResponse{}, err
	}

	viewer, _ := auth.ViewerFromContext(ctx)
	entry, err := s.deps.Access.Resolve(ctx, plan.Binding(), identity, viewer)
	if err != nil {
		return EntryResponse{}, err
	}

	out := render(view, entry)
	if view.Rank != nil && s.deps.Ranks != nil {
		value := s.deps.Ranks.SingleRank(ctx, rankContext(view, s.deps.Collections.Open(plan)), entry.Identity())
		out.Rank = &value
	}
	return out, nil
}

func rankContext(view domain.ViewDefinition, coll *collection.Collection) rank.Context {
	settings := rank.SettingsFromView(view.Rank)
	return rank.Context{
		Collection: coll,
		Settings:   settings,
		Key:        rank.NewInstanceKey(view.ID, view.Rank.Field, coll.Descriptor(), settings),
	}
}

func (s *Server) plan(ctx context.Context, viewID string, query url.Values) (domain.ViewDefinition, *composition.Plan, error) {
	view, err := s.deps.Views.Get(viewID)
	if err != nil {
		return domain.ViewDefinition{}, nil, err
	}
	criteria, err := s.deps.Translator.Translate(ctx, search.ParseQuery(query), view)
	if err != nil {
		return domain.ViewDefinition{}, nil, err
	}
	plan, err := composition.Build(view, criteria)
	if err != nil {
		return domain.ViewDefinition{}, nil, err
	}
	return view, plan, nil
}

func render(view domain.ViewDefinition, entry domain.CompositeEntry) EntryResponse {
	out := EntryResponse{
		Identity: entry.Identity(),
		Fields:   entry.Fields(),
		Records:  make(map[string]domain.Record, entry.Len()),
	}
	for _, source := range entry.Sources() {
		if record, ok := entry.Record(source); ok {
			out.Records[source] = record
		}
	}
	if len(view.Columns) > 0 {
		out.Columns = make(map[string]any, len(view.Columns))
		for _, column := range view.Columns {
			name := column.FieldID
			if column.SourceID != "" {
				name = column.SourceID + "." + column.FieldID
			}
			if value, ok := entry.Value(column.SourceID, column.FieldID); ok {
				out.Columns[name] = value
			}
		}
	}
	return out
}

func (s *Server) writeError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, viewdef.ErrUnknownView), errors.Is(err, domain.ErrNotFound):
		s.writeJSON(ctx, w, http.StatusNotFound, errorResponse{Error: "not found"})
	case errors.Is(err, domain.ErrAccessDenied):
		s.writeJSON(ctx, w, http.StatusForbidden, errorResponse{Error: "not allowed"})
	case errors.Is(err, domain.ErrConfiguration):
		s.deps.Logger.ErrorWithContext(ctx, "view misconfigured", zap.Error(err))
		s.writeJSON(ctx, w, http.StatusInternalServerError, errorResponse{Error: "view misconfigured"})
	default:
		s.deps.Logger.ErrorWithContext(ctx, "request failed", zap.Error(err))
		s.writeJSON(ctx, w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
	}
}

func (s *Server) writeJSON(ctx context.Context, w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.deps.Logger.WarnWithContext(ctx, "failed to write response", zap.Error(err))
	}
}
