package replication

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/vaxrec/vaxrec/internal/platform/store"
)

// Server exposes the sync protocol over HTTP so another node can replicate
// against this store: handshake, paged change feed, and bulk apply.
type Server struct {
	st    *store.Store
	token string
	log   zerolog.Logger
}

// NewServer builds the sync endpoint handler. An empty token disables
// authentication.
func NewServer(st *store.Store, token string, logger zerolog.Logger) *Server {
	return &Server{
		st:    st,
		token: token,
		log:   logger.With().Str("component", "sync-server").Logger(),
	}
}

// Register mounts the sync routes on an echo group.
func (s *Server) Register(g *echo.Group) {
	g.GET("/:collection", s.handshake)
	g.GET("/:collection/changes", s.changes)
	g.POST("/:collection/bulk", s.bulk)
}

func (s *Server) authorize(c echo.Context) error {
	if s.token == "" {
		return nil
	}
	if c.Request().Header.Get("Authorization") != "Bearer "+s.token {
		return echo.NewHTTPError(http.StatusUnauthorized, "invalid sync token")
	}
	return nil
}

func (s *Server) collection(c echo.Context) (*store.Collection, error) {
	name := c.Param("collection")
	if name == "" {
		return nil, echo.NewHTTPError(http.StatusNotFound, "unknown collection")
	}
	return s.st.CollectionByName(name), nil
}

func (s *Server) handshake(c echo.Context) error {
	if err := s.authorize(c); err != nil {
		return err
	}
	col, err := s.collection(c)
	if err != nil {
		return err
	}
	seq, err := col.UpdateSeq(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "store unavailable")
	}
	return c.JSON(http.StatusOK, RemoteInfo{DB: col.Name(), UpdateSeq: seq})
}

func (s *Server) changes(c echo.Context) error {
	if err := s.authorize(c); err != nil {
		return err
	}
	col, err := s.collection(c)
	if err != nil {
		return err
	}

	since, _ := strconv.ParseInt(c.QueryParam("since"), 10, 64)
	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	if limit <= 0 {
		limit = 100
	}

	results, last, err := col.Changes(c.Request().Context(), since, limit)
	if err != nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "store unavailable")
	}
	if results == nil {
		results = []store.Change{}
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"results":  results,
		"last_seq": last,
	})
}

func (s *Server) bulk(c echo.Context) error {
	if err := s.authorize(c); err != nil {
		return err
	}
	col, err := s.collection(c)
	if err != nil {
		return err
	}

	var changes []store.Change
	if err := c.Bind(&changes); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed change batch")
	}

	ctx := c.Request().Context()
	results := make([]BulkResult, 0, len(changes))
	for _, change := range changes {
		result := BulkResult{ID: change.ID}
		applied, err := Apply(ctx, col, change)
		switch {
		case err != nil:
			s.log.Warn().Err(err).Str("id", change.ID).Msg("bulk apply failed")
			result.Error = applyErrorCode(err)
		case !applied:
			result.Error = "conflict"
		default:
			if doc, gerr := col.GetAny(ctx, change.ID); gerr == nil {
				result.Rev = doc.Rev
			}
		}
		results = append(results, result)
	}
	return c.JSON(http.StatusOK, results)
}

func applyErrorCode(err error) string {
	switch {
	case errors.Is(err, store.ErrConflict):
		return "conflict"
	case errors.Is(err, store.ErrMalformedData):
		return "malformed"
	default:
		return "unavailable"
	}
}
