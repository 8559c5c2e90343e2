package dfapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// ErrAuthExpired is returned by the typed calls when the remote side reports
// that the user's login is no longer valid.
var ErrAuthExpired = errors.New("user login expired")

// Error carries a failed normalized response through an error return.
type Error struct {
	Response Response
}

func (e *Error) Error() string {
	return fmt.Sprintf("api error (%d): %s", e.Response.Code, e.Response.Message)
}

// Retryable reports whether the underlying failure was a server-side one.
func (e *Error) Retryable() bool {
	return e.Response.Retryable() || e.Response.Code == CodeExhausted
}

func resultErr(resp Response) error {
	if resp.AuthExpired() {
		return fmt.Errorf("%w: %s", ErrAuthExpired, resp.Message)
	}
	if !resp.Succeeded {
		return &Error{Response: resp}
	}
	return nil
}

func tokenQuery(token string) url.Values {
	return url.Values{"frameworkToken": {token}}
}

// Number accepts a JSON number or a numeric string.
type Number int64

func (f *Number) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		*f = 0
		return nil
	}
	n, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("not a number: %s", b)
	}
	*f = Number(n)
	return nil
}

// flexString accepts a JSON string or a number.
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	if string(b) == "null" {
		*f = ""
		return nil
	}
	*f = flexString(b)
	return nil
}

// Place is one production facility as reported by /df/place/status.
type Place struct {
	ID         string
	LeftTime   time.Duration
	ObjectName string
	// Producing is false for idle facilities.
	Producing bool
}

type placeStatusData struct {
	Places []struct {
		ID           flexString `json:"id"`
		LeftTime     Number     `json:"leftTime"`
		ObjectDetail *struct {
			ObjectName string `json:"objectName"`
		} `json:"objectDetail"`
	} `json:"places"`
}

const unknownObject = "unknown item"

// PlaceStatus fetches the user's production facilities.
func (c *Client) PlaceStatus(ctx context.Context, token string) ([]Place, error) {
	resp := c.Execute(ctx, Request{Path: "/df/place/status", Query: tokenQuery(token), Auth: true})
	if err := resultErr(resp); err != nil {
		return nil, err
	}

	var data placeStatusData
	if len(resp.Data) > 0 && string(resp.Data) != "null" {
		if err := resp.Decode(&data); err != nil {
			return nil, err
		}
	}

	places := make([]Place, 0, len(data.Places))
	for _, raw := range data.Places {
		p := Place{
			ID:       string(raw.ID),
			LeftTime: time.Duration(raw.LeftTime) * time.Second,
		}
		if raw.ObjectDetail != nil {
			p.ObjectName = raw.ObjectDetail.ObjectName
			if p.ObjectName == "" {
				p.ObjectName = unknownObject
			}
		}
		p.Producing = raw.ObjectDetail != nil && p.LeftTime > 0
		places = append(places, p)
	}
	return places, nil
}

// Keyword is one map's daily door code.
type Keyword struct {
	MapName string
	Secret  string
}

func (c *Client) DailyKeyword(ctx context.Context) ([]Keyword, error) {
	resp := c.Execute(ctx, Request{Path: "/df/tools/dailykeyword", Auth: true})
	if err := resultErr(resp); err != nil {
		return nil, err
	}

	type item struct {
		MapName string     `json:"mapName"`
		Secret  flexString `json:"secret"`
	}
	// The list normally sits under data.list; a bare array is accepted too.
	var wrapped struct {
		List []item `json:"list"`
	}
	var raw []item
	if err := resp.Decode(&wrapped); err == nil {
		raw = wrapped.List
	} else if err := resp.Decode(&raw); err != nil {
		return nil, err
	}

	out := make([]Keyword, 0, len(raw))
	for _, k := range raw {
		out = append(out, Keyword{MapName: k.MapName, Secret: padSecret(string(k.Secret))})
	}
	return out, nil
}

// padSecret left-pads numeric codes to four digits.
func padSecret(s string) string {
	if _, err := strconv.Atoi(s); err != nil || len(s) >= 4 {
		return s
	}
	return strings.Repeat("0", 4-len(s)) + s
}

// DailySol is the extraction-mode part of a daily record.
type DailySol struct {
	RecentGainDate string `json:"recentGainDate"`
	TotalMatch     Number `json:"totalMatch"`
	TotalEscape    Number `json:"totalEscape"`
	TotalKill      Number `json:"totalKill"`
	TotalGain      Number `json:"totalGain"`
	BestMatch      *struct {
		KillNum Number `json:"killNum"`
		Gain    Number `json:"gain"`
	} `json:"bestMatch"`
}

// DailyMP is the battlefield-mode part of a daily record.
type DailyMP struct {
	RecentDate    string `json:"recentDate"`
	TotalFightNum Number `json:"totalFightNum"`
	TotalWinNum   Number `json:"totalWinNum"`
	TotalKillNum  Number `json:"totalKillNum"`
	TotalScore    Number `json:"totalScore"`
	BestMatch     *struct {
		IsWinner bool   `json:"isWinner"`
		KillNum  Number `json:"killNum"`
		Score    Number `json:"score"`
	} `json:"bestMatch"`
}

type DailyRecord struct {
	Date time.Time
	Sol  *DailySol
	MP   *DailyMP
}

// Empty reports a record without any played match.
func (r *DailyRecord) Empty() bool {
	return (r.Sol == nil || r.Sol.RecentGainDate == "") && (r.MP == nil || r.MP.RecentDate == "")
}

// DailyRecord fetches the report for one calendar day.
func (c *Client) DailyRecord(ctx context.Context, token string, date time.Time) (*DailyRecord, error) {
	q := tokenQuery(token)
	q.Set("date", date.Format("20060102"))
	resp := c.Execute(ctx, Request{Path: "/df/person/dailyRecord", Query: q, Auth: true})
	if err := resultErr(resp); err != nil {
		return nil, err
	}

	var data struct {
		Sol struct {
			Data struct {
				Data struct {
					SolDetail *DailySol `json:"solDetail"`
				} `json:"data"`
			} `json:"data"`
		} `json:"sol"`
		MP struct {
			Data struct {
				Data struct {
					MPDetail *DailyMP `json:"mpDetail"`
				} `json:"data"`
			} `json:"data"`
		} `json:"mp"`
	}
	if err := resp.Decode(&data); err != nil {
		return nil, err
	}
	return &DailyRecord{
		Date: date,
		Sol:  data.Sol.Data.Data.SolDetail,
		MP:   data.MP.Data.Data.MPDetail,
	}, nil
}

type WeeklySol struct {
	TotalGames  Number            `json:"total_loginnum"`
	TotalEscape Number            `json:"total_escapenum"`
	TotalKill   Number            `json:"total_killnum"`
	TotalGain   Number            `json:"total_Gain"`
	TotalTime   Number            `json:"total_time"`
	Teammates   []json.RawMessage `json:"teammates"`
}

type WeeklyMP struct {
	TotalGames  Number            `json:"total_inum"`
	TotalWins   Number            `json:"total_win_inum"`
	TotalKill   Number            `json:"total_killnum"`
	TotalDeath  Number            `json:"total_deathnum"`
	TotalAssist Number            `json:"total_assistnum"`
	TotalScore  Number            `json:"total_scorenum"`
	TotalTime   Number            `json:"total_time"`
	Teammates   []json.RawMessage `json:"teammates"`
}

type WeeklyRecord struct {
	Sol *WeeklySol
	MP  *WeeklyMP
}

func (r *WeeklyRecord) Empty() bool {
	return r.Sol == nil && r.MP == nil
}

func (c *Client) WeeklyRecord(ctx context.Context, token string) (*WeeklyRecord, error) {
	q := tokenQuery(token)
	q.Set("isShowNullFriend", "true")
	resp := c.Execute(ctx, Request{Path: "/df/person/weeklyRecord", Query: q, Auth: true})
	if err := resultErr(resp); err != nil {
		return nil, err
	}

	var data struct {
		Sol struct {
			Data struct {
				Data *WeeklySol `json:"data"`
			} `json:"data"`
		} `json:"sol"`
		MP struct {
			Data struct {
				Data *WeeklyMP `json:"data"`
			} `json:"data"`
		} `json:"mp"`
	}
	if err := resp.Decode(&data); err != nil {
		return nil, err
	}
	return &WeeklyRecord{Sol: data.Sol.Data.Data, MP: data.MP.Data.Data}, nil
}

// PersonalInfo returns the user's in-game character name.
func (c *Client) PersonalInfo(ctx context.Context, token string) (string, error) {
	resp := c.Execute(ctx, Request{Path: "/df/person/personalinfo", Query: tokenQuery(token), Auth: true})
	if err := resultErr(resp); err != nil {
		return "", err
	}

	var data struct {
		UserData struct {
			CharacName string `json:"charac_name"`
		} `json:"userData"`
	}
	if err := resp.Decode(&data); err != nil {
		return "", err
	}
	name, err := url.QueryUnescape(data.UserData.CharacName)
	if err != nil {
		return data.UserData.CharacName, nil
	}
	return name, nil
}

// Health probes the detailed health route. Any answer that is not a server
// failure counts as reachable.
func (c *Client) Health(ctx context.Context) error {
	resp := c.Execute(ctx, Request{Path: "/health/detailed"})
	if resp.Retryable() || resp.Code == CodeExhausted {
		return &Error{Response: resp}
	}
	return nil
}
