package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"time"

	"fwa-warsync/internal/config"
	"fwa-warsync/internal/domain"

	"github.com/valyala/fasthttp"
)

// StatsClient fetches point snapshots from the community stats site.
// The site is eventually consistent: after a sync starts it can lag
// the game by hours, which is why callers retry across separate
// fetches instead of inside this client. One call, one HTTP request.
type StatsClient struct {
	baseURL string
	client  *fasthttp.Client
}

func NewStatsClient(cfg *config.Config) *StatsClient {
	return &StatsClient{
		baseURL: cfg.PointsBaseURL,
		client: &fasthttp.Client{
			MaxConnsPerHost:     20,
			ReadTimeout:         10 * time.Second,
			WriteTimeout:        10 * time.Second,
			MaxIdleConnDuration: 1 * time.Minute,
		},
	}
}

func (c *StatsClient) FetchSnapshot(ctx context.Context, clanTag string) (*domain.PointsSnapshot, error) {
	u := fmt.Sprintf("%s/api/clan/%s/points", c.baseURL, url.PathEscape(domain.NormalizeTag(clanTag)))

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(u)
	req.Header.SetMethod(fasthttp.MethodGet)
	req.Header.Set("Accept", "application/json")

	if deadline, ok := ctx.Deadline(); ok {
		if err := c.client.DoDeadline(req, resp, deadline); err != nil {
			return nil, err
		}
	} else {
		if err := c.client.Do(req, resp); err != nil {
			return nil, err
		}
	}

	if resp.StatusCode() != fasthttp.StatusOK {
		return nil, fmt.Errorf("points site error: %d", resp.StatusCode())
	}

	var raw pointsPageRaw
	if err := json.Unmarshal(resp.Body(), &raw); err != nil {
		return nil, err
	}

	snap := &domain.PointsSnapshot{
		Tag:                   clanTag,
		ClanName:              raw.ClanName,
		Balance:               raw.Balance,
		WinnerBoxTags:         raw.WinnerBox.Tags,
		WinnerBoxSync:         raw.WinnerBox.Sync,
		HeaderPrimaryTag:      raw.Header.PrimaryTag,
		HeaderOpponentTag:     raw.Header.OpponentTag,
		HeaderPrimaryBalance:  raw.Header.PrimaryBalance,
		HeaderOpponentBalance: raw.Header.OpponentBalance,
		FetchedAt:             time.Now().UTC(),
	}
	return snap, nil
}

// pointsPageRaw mirrors the parsed page the scraping layer produces.
// Fields the parser could not extract arrive as null and stay nil.
type pointsPageRaw struct {
	ClanName  string `json:"clanName"`
	Balance   *int   `json:"balance"`
	WinnerBox struct {
		Tags []string `json:"tags"`
		Sync *int     `json:"sync"`
	} `json:"winnerBox"`
	Header struct {
		PrimaryTag      string `json:"primaryTag"`
		OpponentTag     string `json:"opponentTag"`
		PrimaryBalance  *int   `json:"primaryBalance"`
		OpponentBalance *int   `json:"opponentBalance"`
	} `json:"header"`
}
