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

// GameClient talks to the game's public clan-war API.
type GameClient struct {
	baseURL string
	token   string
	client  *fasthttp.Client
}

func NewGameClient(cfg *config.Config) *GameClient {
	return &GameClient{
		baseURL: cfg.GameAPIBaseURL,
		token:   cfg.GameAPIToken,
		client: &fasthttp.Client{
			MaxConnsPerHost:     100,
			ReadTimeout:         10 * time.Second,
			WriteTimeout:        10 * time.Second,
			MaxIdleConnDuration: 1 * time.Minute,
		},
	}
}

// gameTimeLayout is the API's fixed UTC timestamp format.
const gameTimeLayout = "20060102T150405.000Z"

// ParseGameTime parses the API's timestamp format. Unparseable
// strings are treated as absent, never as an error.
func ParseGameTime(s string) *time.Time {
	t, err := time.Parse(gameTimeLayout, s)
	if err != nil {
		return nil
	}
	t = t.UTC()
	return &t
}

func (c *GameClient) GetCurrentWar(ctx context.Context, clanTag string) (*domain.WarInfo, error) {
	u := fmt.Sprintf("%s/clans/%s/currentwar", c.baseURL, url.PathEscape("#"+domain.NormalizeTag(clanTag)))
	raw, err := doRequest[currentWarResponse](ctx, c, u)
	if err != nil {
		return nil, err
	}
	war := &domain.WarInfo{
		State:     raw.State,
		StartTime: ParseGameTime(raw.StartTime),
		EndTime:   ParseGameTime(raw.EndTime),
		Clan:      raw.Clan.toDomain(),
		Opponent:  raw.Opponent.toDomain(),
	}
	return war, nil
}

func (c *GameClient) GetWarLog(ctx context.Context, clanTag string) ([]domain.WarLogEntry, error) {
	u := fmt.Sprintf("%s/clans/%s/warlog", c.baseURL, url.PathEscape("#"+domain.NormalizeTag(clanTag)))
	raw, err := doRequest[warLogResponse](ctx, c, u)
	if err != nil {
		return nil, err
	}
	entries := make([]domain.WarLogEntry, len(raw.Items))
	for i, item := range raw.Items {
		entries[i] = domain.WarLogEntry{
			Result:   item.Result,
			EndTime:  ParseGameTime(item.EndTime),
			Clan:     item.Clan.toDomain(),
			Opponent: item.Opponent.toDomain(),
		}
	}
	return entries, nil
}

func doRequest[T any](ctx context.Context, c *GameClient, url string) (*T, error) {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(url)
	req.Header.SetMethod(fasthttp.MethodGet)
	req.Header.Set("Authorization", "Bearer "+c.token)
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
		return nil, fmt.Errorf("game API error: %d", resp.StatusCode())
	}

	var result T
	if err := json.Unmarshal(resp.Body(), &result); err != nil {
		return nil, err
	}
	return &result, nil
}

type currentWarResponse struct {
	State     string     `json:"state"`
	StartTime string     `json:"startTime"`
	EndTime   string     `json:"endTime"`
	Clan      warSideRaw `json:"clan"`
	Opponent  warSideRaw `json:"opponent"`
}

type warLogResponse struct {
	Items []warLogItemRaw `json:"items"`
}

type warLogItemRaw struct {
	Result   string     `json:"result"`
	EndTime  string     `json:"endTime"`
	Clan     warSideRaw `json:"clan"`
	Opponent warSideRaw `json:"opponent"`
}

type warSideRaw struct {
	Tag                   string         `json:"tag"`
	Name                  string         `json:"name"`
	Stars                 int            `json:"stars"`
	DestructionPercentage float64        `json:"destructionPercentage"`
	Members               []warMemberRaw `json:"members"`
}

type warMemberRaw struct {
	Tag         string         `json:"tag"`
	Name        string         `json:"name"`
	MapPosition int            `json:"mapPosition"`
	Attacks     []warAttackRaw `json:"attacks"`
}

type warAttackRaw struct {
	AttackerTag           string  `json:"attackerTag"`
	DefenderTag           string  `json:"defenderTag"`
	Stars                 int     `json:"stars"`
	DestructionPercentage float64 `json:"destructionPercentage"`
	Order                 int     `json:"order"`
}

func (r warSideRaw) toDomain() domain.WarClan {
	side := domain.WarClan{
		Tag:                   r.Tag,
		Name:                  r.Name,
		Stars:                 r.Stars,
		DestructionPercentage: r.DestructionPercentage,
	}
	for _, m := range r.Members {
		member := domain.WarMemberInfo{
			Tag:         m.Tag,
			Name:        m.Name,
			MapPosition: m.MapPosition,
		}
		for _, a := range m.Attacks {
			member.Attacks = append(member.Attacks, domain.WarAttack{
				AttackerTag:           a.AttackerTag,
				DefenderTag:           a.DefenderTag,
				Stars:                 a.Stars,
				DestructionPercentage: a.DestructionPercentage,
				Order:                 a.Order,
			})
		}
		side.Members = append(side.Members, member)
	}
	return side
}
