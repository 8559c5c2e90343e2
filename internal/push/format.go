package push

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/ErlanBelekov/df-notifier/internal/dfapi"
)

const noMatches = "No matches played."

func FormatKeywords(kws []dfapi.Keyword) string {
	var b strings.Builder
	b.WriteString("[Daily door codes]")
	for _, k := range kws {
		name := k.MapName
		if name == "" {
			name = "unknown map"
		}
		fmt.Fprintf(&b, "\n%s: %s", name, k.Secret)
	}
	return b.String()
}

func FormatDaily(name string, rec *dfapi.DailyRecord) string {
	lines := []string{
		fmt.Sprintf("[Daily report for %s]", name),
		rec.Date.Format("2006-01-02"),
		"",
	}
	header := len(lines)

	if sol := rec.Sol; sol != nil && sol.RecentGainDate != "" {
		lines = append(lines,
			"Operations:",
			fmt.Sprintf("  matches: %d", sol.TotalMatch),
			fmt.Sprintf("  extracted: %d", sol.TotalEscape),
			fmt.Sprintf("  kills: %d", sol.TotalKill),
			"  gain: "+thousands(int64(sol.TotalGain)),
		)
		if best := sol.BestMatch; best != nil {
			lines = append(lines, fmt.Sprintf("  best: %d kills, gain %s", best.KillNum, thousands(int64(best.Gain))))
		}
		lines = append(lines, "")
	}

	if mp := rec.MP; mp != nil && mp.RecentDate != "" {
		lines = append(lines,
			"Warfare:",
			fmt.Sprintf("  matches: %d", mp.TotalFightNum),
			fmt.Sprintf("  wins: %d", mp.TotalWinNum),
			fmt.Sprintf("  kills: %d", mp.TotalKillNum),
			"  score: "+thousands(int64(mp.TotalScore)),
		)
		if best := mp.BestMatch; best != nil {
			outcome := "loss"
			if best.IsWinner {
				outcome = "win"
			}
			lines = append(lines, fmt.Sprintf("  best: %s, %d kills, score %s", outcome, best.KillNum, thousands(int64(best.Score))))
		}
		lines = append(lines, "")
	}

	if len(lines) == header {
		lines = append(lines, noMatches)
	}
	return strings.TrimRight(strings.Join(lines, "\n"), "\n")
}

func FormatWeekly(name string, rec *dfapi.WeeklyRecord) string {
	lines := []string{fmt.Sprintf("[Weekly report for %s]", name), ""}
	header := len(lines)

	if sol := rec.Sol; sol != nil {
		lines = append(lines,
			"Operations:",
			fmt.Sprintf("  matches: %d", sol.TotalGames),
			fmt.Sprintf("  extracted: %d", sol.TotalEscape),
			fmt.Sprintf("  kills: %d", sol.TotalKill),
			"  gain: "+thousands(int64(sol.TotalGain)),
			"  play time: "+duration(int64(sol.TotalTime)),
		)
		if sol.TotalGames > 0 {
			lines = append(lines, fmt.Sprintf("  extraction rate: %.1f%%", float64(sol.TotalEscape)/float64(sol.TotalGames)*100))
		}
		if n := len(sol.Teammates); n > 0 {
			lines = append(lines, fmt.Sprintf("  teammates: %d", n))
		}
		lines = append(lines, "")
	}

	if mp := rec.MP; mp != nil {
		lines = append(lines,
			"Warfare:",
			fmt.Sprintf("  matches: %d", mp.TotalGames),
			fmt.Sprintf("  wins: %d", mp.TotalWins),
			fmt.Sprintf("  kills: %d", mp.TotalKill),
			fmt.Sprintf("  deaths: %d", mp.TotalDeath),
			fmt.Sprintf("  assists: %d", mp.TotalAssist),
			"  score: "+thousands(int64(mp.TotalScore)),
			"  play time: "+duration(int64(mp.TotalTime)),
		)
		if mp.TotalGames > 0 {
			lines = append(lines, fmt.Sprintf("  win rate: %.1f%%", float64(mp.TotalWins)/float64(mp.TotalGames)*100))
		}
		if mp.TotalDeath > 0 {
			lines = append(lines, fmt.Sprintf("  K/D: %.2f", float64(mp.TotalKill)/float64(mp.TotalDeath)))
		}
		if n := len(mp.Teammates); n > 0 {
			lines = append(lines, fmt.Sprintf("  teammates: %d", n))
		}
		lines = append(lines, "")
	}

	if len(lines) == header {
		lines = append(lines, noMatches)
	}
	return strings.TrimRight(strings.Join(lines, "\n"), "\n")
}

// thousands formats n with comma separators.
func thousands(n int64) string {
	s := strconv.FormatInt(n, 10)
	neg := strings.HasPrefix(s, "-")
	if neg {
		s = s[1:]
	}
	var b strings.Builder
	for i, r := range s {
		if i > 0 && (len(s)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(r)
	}
	if neg {
		return "-" + b.String()
	}
	return b.String()
}

// duration renders play time given in seconds.
func duration(seconds int64) string {
	h, m := seconds/3600, seconds%3600/60
	if h > 0 {
		return fmt.Sprintf("%dh %dm", h, m)
	}
	return fmt.Sprintf("%dm", m)
}
