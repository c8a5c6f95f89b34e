package api

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	"github.com/smazurov/returnfeed/internal/api/models"
	"github.com/smazurov/returnfeed/internal/discovery"
	"github.com/smazurov/returnfeed/internal/display"
	"github.com/smazurov/returnfeed/internal/frame"
	"github.com/smazurov/returnfeed/internal/pipeline"
)

// registerPipelineRoutes registers source selection, status and snapshot endpoints.
func (s *Server) registerPipelineRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "list-sources",
		Method:      http.MethodGet,
		Path:        "/api/sources",
		Summary:     "List Sources",
		Description: "List the sources available for selection",
		Tags:        []string{"sources"},
		Errors:      []int{401, 500},
		Security:    withAuth(),
	}, func(ctx context.Context, _ *struct{}) (*models.SourceListResponse, error) {
		if s.directory == nil {
			return &models.SourceListResponse{Body: models.SourceListData{Sources: []frame.SourceHandle{}}}, nil
		}
		sources, err := s.directory.List(ctx)
		if err != nil {
			return nil, huma.Error500InternalServerError("failed to list sources", err)
		}
		return &models.SourceListResponse{
			Body: models.SourceListData{
				Sources: sources,
				Count:   len(sources),
			},
		}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "connect-source",
		Method:      http.MethodPost,
		Path:        "/api/connect",
		Summary:     "Connect Source",
		Description: "Switch the pipeline to a source, selected by name or by address",
		Tags:        []string{"pipeline"},
		Errors:      []int{400, 401, 404, 409, 502, 503},
		Security:    withAuth(),
	}, func(ctx context.Context, input *models.ConnectRequest) (*models.StatusResponse, error) {
		src, err := s.resolveSource(input.Body)
		if err != nil {
			return nil, err
		}
		var q frame.Quality
		if input.Body.Quality != "" {
			if q, err = frame.ParseQuality(input.Body.Quality); err != nil {
				return nil, huma.Error400BadRequest(err.Error())
			}
		}

		if err := s.pipeline.Connect(ctx, src, q); err != nil {
			return nil, s.mapPipelineError(err)
		}
		return &models.StatusResponse{Body: s.pipeline.Status()}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "disconnect-source",
		Method:      http.MethodPost,
		Path:        "/api/disconnect",
		Summary:     "Disconnect",
		Description: "Stop the current connection and cancel any pending reconnect",
		Tags:        []string{"pipeline"},
		Errors:      []int{401, 503},
		Security:    withAuth(),
	}, func(ctx context.Context, _ *struct{}) (*models.StatusResponse, error) {
		if err := s.pipeline.Disconnect(ctx); err != nil {
			return nil, s.mapPipelineError(err)
		}
		return &models.StatusResponse{Body: s.pipeline.Status()}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "get-status",
		Method:      http.MethodGet,
		Path:        "/api/status",
		Summary:     "Pipeline Status",
		Description: "Connection state, cadence, presentation rate, capture timeout and channel counters",
		Tags:        []string{"pipeline"},
		Errors:      []int{401},
		Security:    withAuth(),
	}, func(_ context.Context, _ *struct{}) (*models.StatusResponse, error) {
		return &models.StatusResponse{Body: s.pipeline.Status()}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "get-snapshot",
		Method:      http.MethodGet,
		Path:        "/api/snapshot",
		Summary:     "Snapshot",
		Description: "The most recently presented frame as JPEG",
		Tags:        []string{"pipeline"},
		Errors:      []int{401, 404, 500},
		Security:    withAuth(),
		Responses: map[string]*huma.Response{
			"200": {
				Description: "JPEG image",
				Content: map[string]*huma.MediaType{
					"image/jpeg": {},
				},
			},
		},
	}, func(_ context.Context, _ *struct{}) (*models.SnapshotResponse, error) {
		if s.snapshot == nil {
			return nil, huma.Error404NotFound(display.ErrNoFrame.Error())
		}
		data, info, err := s.snapshot.JPEG()
		if err != nil {
			if errors.Is(err, display.ErrNoFrame) {
				return nil, huma.Error404NotFound(err.Error())
			}
			return nil, huma.Error500InternalServerError("failed to encode snapshot", err)
		}
		return &models.SnapshotResponse{
			ContentType:  "image/jpeg",
			CacheControl: "no-store",
			FrameSeq:     info.Seq,
			Body:         data,
		}, nil
	})
}

// resolveSource maps a connect request onto a source handle.
func (s *Server) resolveSource(req models.ConnectRequestData) (frame.SourceHandle, error) {
	name := strings.TrimSpace(req.Name)
	address := strings.TrimSpace(req.Address)

	switch {
	case name != "":
		if s.directory == nil {
			return frame.SourceHandle{}, huma.Error404NotFound("source " + name + " not found")
		}
		src, err := s.directory.Find(name)
		if err != nil {
			if errors.Is(err, discovery.ErrSourceNotFound) {
				return frame.SourceHandle{}, huma.Error404NotFound("source " + name + " not found")
			}
			return frame.SourceHandle{}, huma.Error500InternalServerError("failed to look up source", err)
		}
		return src, nil
	case address != "":
		return frame.SourceHandle{Name: address, Address: address}, nil
	default:
		return frame.SourceHandle{}, huma.Error400BadRequest("name or address is required")
	}
}

// mapPipelineError maps pipeline errors to HTTP errors.
func (s *Server) mapPipelineError(err error) error {
	var connectErr *frame.ConnectError
	switch {
	case errors.Is(err, pipeline.ErrNotRunning):
		return huma.Error503ServiceUnavailable("pipeline is not running")
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return huma.Error503ServiceUnavailable("request cancelled", err)
	case errors.Is(err, frame.ErrHandleBusy):
		return huma.Error409Conflict(err.Error())
	case errors.As(err, &connectErr):
		return huma.Error502BadGateway(err.Error())
	default:
		s.logger.Error("Pipeline command failed", "error", err)
		return huma.Error500InternalServerError("pipeline command failed", err)
	}
}
