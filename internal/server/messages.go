package server

type Player struct {
	Tag  string `json:"tag"`
	Name string `json:"name"`
}

type Observation struct {
	Tag       string `json:"tag"`
	Name      string `json:"name"`
	Timestamp string `json:"timestamp"`
	Trophies  int32  `json:"trophies"`
	Level     int32  `json:"level"`
	Wins      int32  `json:"wins"`
	Losses    int32  `json:"losses"`
}

type AddPlayerRequest struct {
	Tag string `json:"tag"`
}

type AddPlayerResponse struct {
	Player      Player      `json:"player"`
	Observation Observation `json:"observation"`
}

type RemovePlayerRequest struct {
	Tag string `json:"tag"`
}

type RemovePlayerResponse struct {
	RemovedObservations int32 `json:"removed_observations"`
}

type RefreshPlayersRequest struct{}

type RefreshFailure struct {
	Tag   string `json:"tag"`
	Name  string `json:"name"`
	Error string `json:"error"`
}

type RefreshPlayersResponse struct {
	Succeeded int32            `json:"succeeded"`
	Failed    int32            `json:"failed"`
	Failures  []RefreshFailure `json:"failures"`
	Summary   string           `json:"summary"`
}

type ClearDataRequest struct{}

type ClearDataResponse struct{}

type SetAPIKeyRequest struct {
	APIKey string `json:"api_key"`
}

type SetAPIKeyResponse struct{}

type GetDashboardRequest struct{}

type PlayerCard struct {
	Tag      string `json:"tag"`
	Name     string `json:"name"`
	Trophies *int32 `json:"trophies,omitempty"`
	Level    *int32 `json:"level,omitempty"`
	Wins     int32  `json:"wins"`
	Losses   int32  `json:"losses"`
	LastSeen string `json:"last_seen,omitempty"`
}

type GetDashboardResponse struct {
	Authorized     bool         `json:"authorized"`
	LastAutoUpdate *string      `json:"last_auto_update"`
	NextAutoUpdate *string      `json:"next_auto_update"`
	Observations   int32        `json:"observations"`
	Players        []PlayerCard `json:"players"`
}

type GetTrophyHistoryRequest struct {
	Tag string `json:"tag,omitempty"`
}

type TrophyPoint struct {
	Timestamp string `json:"timestamp"`
	Trophies  int32  `json:"trophies"`
}

type TrophySeries struct {
	Tag    string        `json:"tag"`
	Name   string        `json:"name"`
	Points []TrophyPoint `json:"points"`
}

type GetTrophyHistoryResponse struct {
	Series []TrophySeries `json:"series"`
}

type GetRawHistoryRequest struct{}

type HistoryRow struct {
	Time     string `json:"time"`
	Tag      string `json:"tag"`
	Name     string `json:"name"`
	Trophies int32  `json:"trophies"`
	Level    int32  `json:"level"`
	Wins     int32  `json:"wins"`
	Losses   int32  `json:"losses"`
}

type GetRawHistoryResponse struct {
	Rows []HistoryRow `json:"rows"`
}
