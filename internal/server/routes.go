package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"hostfleet/internal/constants"
	"hostfleet/internal/db"
	"hostfleet/internal/discovery"
	apperrors "hostfleet/internal/errors"
	"hostfleet/internal/types"
)

func (s *Server) setupRoutes() {
	s.echo.GET("/healthz", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(s.deps.Metrics.Handler()))

	api := s.echo.Group("/api")
	api.GET("/instances", s.handleListInstances)
	api.GET("/timeline", s.handleTimeline)
	api.GET("/last-known", s.handleLastKnown)
}

func (s *Server) handleHealth(c echo.Context) error {
	resp := HealthResponse{Status: "healthy", Database: "unconfigured", Uptime: time.Since(s.startTime).Round(time.Second).String()}
	if s.deps.Database != nil {
		if err := s.deps.Database.HealthCheck(c.Request().Context()); err != nil {
			resp.Status, resp.Database = "unhealthy", err.Error()
			return c.JSON(http.StatusServiceUnavailable, resp)
		}
		resp.Database = "healthy"
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) handleListInstances(c echo.Context) error {
	if s.deps.Instances == nil {
		return apperrors.ToHTTPError(apperrors.SystemUnavailable("discovery is not configured", nil))
	}
	family, err := familyParam(c)
	if err != nil {
		return err
	}
	sel := discovery.Selector{
		Family:      family,
		Package:     c.QueryParam("package"),
		RunningOnly: c.QueryParam("running") == "true",
	}

	instances, err := s.deps.Instances.Discover(c.Request().Context(), sel)
	if err != nil {
		return apperrors.ToHTTPError(err)
	}
	if family == "" && sel.Package == "" && !sel.RunningOnly {
		s.deps.Metrics.SetInstances(instances)
	}
	if instances == nil {
		instances = []types.Instance{}
	}
	return c.JSON(http.StatusOK, InstancesResponse{Instances: instances, Total: len(instances)})
}

func (s *Server) handleTimeline(c echo.Context) error {
	if s.deps.Timeline == nil {
		return apperrors.ToHTTPError(apperrors.New(apperrors.ErrDatabaseConnection, "Timeline is not configured"))
	}
	f, err := timelineFilter(c, time.Now())
	if err != nil {
		return err
	}

	entries, err := s.deps.Timeline.Query(c.Request().Context(), f)
	if err != nil {
		return apperrors.ToHTTPError(err)
	}
	if entries == nil {
		entries = []types.TimelineEntry{}
	}
	return c.JSON(http.StatusOK, TimelineResponse{Entries: entries, Total: len(entries)})
}

func (s *Server) handleLastKnown(c echo.Context) error {
	if s.deps.Timeline == nil {
		return apperrors.ToHTTPError(apperrors.New(apperrors.ErrDatabaseConnection, "Timeline is not configured"))
	}
	family, err := familyParam(c)
	if err != nil {
		return err
	}

	refs, err := s.deps.Timeline.LastKnown(c.Request().Context(), family)
	if err != nil {
		return apperrors.ToHTTPError(err)
	}
	if refs == nil {
		refs = []types.InstanceRef{}
	}
	return c.JSON(http.StatusOK, LastKnownResponse{Instances: refs, Total: len(refs)})
}

func familyParam(c echo.Context) (types.Family, error) {
	raw := c.QueryParam("family")
	if raw == "" {
		return "", nil
	}
	f, err := types.ParseFamily(raw)
	if err != nil {
		return "", apperrors.BadRequest("Invalid family", err.Error())
	}
	return f, nil
}

// timelineFilter reads the timeline query parameters. since and until accept
// RFC 3339 timestamps or a duration counted back from now.
func timelineFilter(c echo.Context, now time.Time) (db.Filter, error) {
	family, err := familyParam(c)
	if err != nil {
		return db.Filter{}, err
	}
	f := db.Filter{
		Family:     family,
		Package:    c.QueryParam("package"),
		Identifier: c.QueryParam("identifier"),
		BatchID:    c.QueryParam("batch"),
		Limit:      constants.DefaultTimelineLimit,
	}

	if raw := c.QueryParam("operation"); raw != "" {
		op, ok := types.ParseOperation(raw)
		if !ok {
			return db.Filter{}, apperrors.BadRequest("Invalid operation", raw)
		}
		f.Operation = op
	}
	if f.Since, err = timeParam(c, "since", now); err != nil {
		return db.Filter{}, err
	}
	if f.Until, err = timeParam(c, "until", now); err != nil {
		return db.Filter{}, err
	}
	if raw := c.QueryParam("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			return db.Filter{}, apperrors.BadRequest("Invalid limit", raw)
		}
		f.Limit = n
	}
	if f.Limit > constants.MaxTimelineLimit {
		f.Limit = constants.MaxTimelineLimit
	}
	return f, nil
}

func timeParam(c echo.Context, name string, now time.Time) (time.Time, error) {
	raw := c.QueryParam(name)
	if raw == "" {
		return time.Time{}, nil
	}
	return ParseTime(raw, now)
}

// ParseTime accepts an RFC 3339 timestamp or a duration before now.
func ParseTime(raw string, now time.Time) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}
	if d, err := time.ParseDuration(raw); err == nil && d >= 0 {
		return now.Add(-d), nil
	}
	return time.Time{}, apperrors.BadRequest("Invalid time", raw+" is neither RFC 3339 nor a duration")
}
