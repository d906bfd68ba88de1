package server

import (
	"clash-tracker/internal/api"
	"clash-tracker/internal/constants"
	"clash-tracker/internal/domain"
	"clash-tracker/internal/middleware"
	"clash-tracker/internal/service"
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"connectrpc.com/connect"
	"github.com/rs/zerolog"
)

const ServicePath = "/tracker.v1.TrackerService/"

const (
	AddPlayerProcedure        = ServicePath + "AddPlayer"
	RemovePlayerProcedure     = ServicePath + "RemovePlayer"
	RefreshPlayersProcedure   = ServicePath + "RefreshPlayers"
	ClearDataProcedure        = ServicePath + "ClearData"
	SetAPIKeyProcedure        = ServicePath + "SetAPIKey"
	GetDashboardProcedure     = ServicePath + "GetDashboard"
	GetTrophyHistoryProcedure = ServicePath + "GetTrophyHistory"
	GetRawHistoryProcedure    = ServicePath + "GetRawHistory"
)

type TrackerServer struct {
	tracker *service.TrackerService
	logger  zerolog.Logger
}

func NewTrackerServer(tracker *service.TrackerService, logger zerolog.Logger) *TrackerServer {
	return &TrackerServer{tracker: tracker, logger: logger}
}

// Handler mounts every procedure under ServicePath.
func (s *TrackerServer) Handler(opts ...connect.HandlerOption) (string, http.Handler) {
	opts = append([]connect.HandlerOption{connect.WithCodec(jsonCodec{})}, opts...)

	mux := http.NewServeMux()
	mux.Handle(AddPlayerProcedure, connect.NewUnaryHandler(AddPlayerProcedure, s.AddPlayer, opts...))
	mux.Handle(RemovePlayerProcedure, connect.NewUnaryHandler(RemovePlayerProcedure, s.RemovePlayer, opts...))
	mux.Handle(RefreshPlayersProcedure, connect.NewUnaryHandler(RefreshPlayersProcedure, s.RefreshPlayers, opts...))
	mux.Handle(ClearDataProcedure, connect.NewUnaryHandler(ClearDataProcedure, s.ClearData, opts...))
	mux.Handle(SetAPIKeyProcedure, connect.NewUnaryHandler(SetAPIKeyProcedure, s.SetAPIKey, opts...))
	mux.Handle(GetDashboardProcedure, connect.NewUnaryHandler(GetDashboardProcedure, s.GetDashboard, opts...))
	mux.Handle(GetTrophyHistoryProcedure, connect.NewUnaryHandler(GetTrophyHistoryProcedure, s.GetTrophyHistory, opts...))
	mux.Handle(GetRawHistoryProcedure, connect.NewUnaryHandler(GetRawHistoryProcedure, s.GetRawHistory, opts...))
	return ServicePath, mux
}

func (s *TrackerServer) AddPlayer(ctx context.Context, req *connect.Request[AddPlayerRequest]) (*connect.Response[AddPlayerResponse], error) {
	ctx, cancel := context.WithTimeout(ctx, constants.RequestTimeout)
	defer cancel()

	player, obs, err := s.tracker.AddPlayer(ctx, middleware.GetCredential(ctx), req.Msg.Tag)
	if err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(&AddPlayerResponse{
		Player:      toPlayer(player),
		Observation: toObservation(obs),
	}), nil
}

func (s *TrackerServer) RemovePlayer(ctx context.Context, req *connect.Request[RemovePlayerRequest]) (*connect.Response[RemovePlayerResponse], error) {
	removed, err := s.tracker.RemovePlayer(ctx, middleware.GetCredential(ctx), req.Msg.Tag)
	if err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(&RemovePlayerResponse{RemovedObservations: int32(removed)}), nil
}

func (s *TrackerServer) RefreshPlayers(ctx context.Context, req *connect.Request[RefreshPlayersRequest]) (*connect.Response[RefreshPlayersResponse], error) {
	ctx, cancel := context.WithTimeout(ctx, constants.RefreshCycleTimeout)
	defer cancel()

	result, err := s.tracker.RefreshAll(ctx, middleware.GetCredential(ctx))
	if err != nil {
		return nil, toConnectError(err)
	}

	resp := &RefreshPlayersResponse{
		Succeeded: int32(result.Succeeded),
		Failed:    int32(result.Failed),
		Failures:  []RefreshFailure{},
		Summary:   fmt.Sprintf("%d succeeded, %d failed", result.Succeeded, result.Failed),
	}
	for _, f := range result.Failures {
		resp.Failures = append(resp.Failures, RefreshFailure{Tag: f.Tag, Name: f.Name, Error: f.Err.Error()})
	}
	return connect.NewResponse(resp), nil
}

func (s *TrackerServer) ClearData(ctx context.Context, req *connect.Request[ClearDataRequest]) (*connect.Response[ClearDataResponse], error) {
	if err := s.tracker.ClearData(ctx, middleware.GetCredential(ctx)); err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(&ClearDataResponse{}), nil
}

func (s *TrackerServer) SetAPIKey(ctx context.Context, req *connect.Request[SetAPIKeyRequest]) (*connect.Response[SetAPIKeyResponse], error) {
	if err := s.tracker.SetAPIKey(ctx, req.Msg.APIKey); err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(&SetAPIKeyResponse{}), nil
}

func (s *TrackerServer) GetDashboard(ctx context.Context, req *connect.Request[GetDashboardRequest]) (*connect.Response[GetDashboardResponse], error) {
	d, err := s.tracker.Dashboard(ctx)
	if err != nil {
		return nil, toConnectError(err)
	}

	resp := &GetDashboardResponse{
		Authorized:     s.tracker.Authorized(middleware.GetCredential(ctx)),
		LastAutoUpdate: optionalTime(d.LastAutoRefresh),
		NextAutoUpdate: optionalTime(d.NextAutoRefresh),
		Observations:   int32(d.Observations),
		Players:        make([]PlayerCard, 0, len(d.Players)),
	}
	for _, c := range d.Players {
		card := PlayerCard{Tag: c.Player.Tag, Name: c.Player.Name}
		if c.Latest != nil {
			trophies, level := int32(c.Latest.Trophies), int32(c.Latest.Level)
			card.Trophies = &trophies
			card.Level = &level
			card.Wins = int32(c.Latest.Wins)
			card.Losses = int32(c.Latest.Losses)
			card.LastSeen = c.Latest.Timestamp.Format(time.RFC3339)
		}
		resp.Players = append(resp.Players, card)
	}
	return connect.NewResponse(resp), nil
}

func (s *TrackerServer) GetTrophyHistory(ctx context.Context, req *connect.Request[GetTrophyHistoryRequest]) (*connect.Response[GetTrophyHistoryResponse], error) {
	series, err := s.tracker.TrophyHistory(ctx, req.Msg.Tag)
	if err != nil {
		return nil, toConnectError(err)
	}

	resp := &GetTrophyHistoryResponse{Series: make([]TrophySeries, 0, len(series))}
	for _, ts := range series {
		out := TrophySeries{Tag: ts.Tag, Name: ts.Name, Points: make([]TrophyPoint, len(ts.Points))}
		for i, p := range ts.Points {
			out.Points[i] = TrophyPoint{Timestamp: p.Timestamp.Format(time.RFC3339), Trophies: int32(p.Trophies)}
		}
		resp.Series = append(resp.Series, out)
	}
	return connect.NewResponse(resp), nil
}

func (s *TrackerServer) GetRawHistory(ctx context.Context, req *connect.Request[GetRawHistoryRequest]) (*connect.Response[GetRawHistoryResponse], error) {
	history, err := s.tracker.RawHistory(ctx)
	if err != nil {
		return nil, toConnectError(err)
	}

	resp := &GetRawHistoryResponse{Rows: make([]HistoryRow, len(history))}
	for i, o := range history {
		resp.Rows[i] = HistoryRow{
			Time:     displayTime(o),
			Tag:      o.Tag,
			Name:     o.Name,
			Trophies: int32(o.Trophies),
			Level:    int32(o.Level),
			Wins:     int32(o.Wins),
			Losses:   int32(o.Losses),
		}
	}
	return connect.NewResponse(resp), nil
}

func toPlayer(p domain.Player) Player {
	return Player{Tag: p.Tag, Name: p.Name}
}

func toObservation(o domain.Observation) Observation {
	return Observation{
		Tag:       o.Tag,
		Name:      o.Name,
		Timestamp: o.Timestamp.Format(time.RFC3339),
		Trophies:  int32(o.Trophies),
		Level:     int32(o.Level),
		Wins:      int32(o.Wins),
		Losses:    int32(o.Losses),
	}
}

func displayTime(o domain.Observation) string {
	if o.Timestamp.IsZero() && o.RawTimestamp != "" {
		return o.RawTimestamp
	}
	return o.Timestamp.Local().Format(constants.DisplayTimeFormat)
}

func optionalTime(t time.Time) *string {
	if t.IsZero() {
		return nil
	}
	s := t.Format(time.RFC3339)
	return &s
}

func toConnectError(err error) error {
	code := connect.CodeInternal
	switch {
	case errors.Is(err, domain.ErrUnauthorized):
		code = connect.CodeUnauthenticated
	case errors.Is(err, domain.ErrDuplicatePlayer):
		code = connect.CodeAlreadyExists
	case errors.Is(err, domain.ErrInvalidTag):
		code = connect.CodeInvalidArgument
	case errors.Is(err, domain.ErrPlayerNotFound):
		code = connect.CodeNotFound
	case errors.Is(err, domain.ErrConflict):
		code = connect.CodeAborted
	case errors.Is(err, domain.ErrFetchFailed):
		switch {
		case api.IsNotFound(err):
			code = connect.CodeNotFound
		case api.IsUnauthorized(err):
			code = connect.CodePermissionDenied
		default:
			code = connect.CodeUnavailable
		}
	case errors.Is(err, context.DeadlineExceeded):
		code = connect.CodeDeadlineExceeded
	}
	return connect.NewError(code, err)
}
