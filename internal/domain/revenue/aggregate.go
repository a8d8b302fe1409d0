package revenue

import (
	"sort"
	"time"

	"github.com/kbinsights/kickbase-insights/internal/domain/transfer"
)

// Daily turns matched turnover pairs into one cumulative realized-profit
// series per manager name. Managers without a single realized trade still get
// the two anchor points so the dashboard chart spans the full season for
// everyone. Revenue buckets by the sell date truncated to its UTC day.
func Daily(pairs []transfer.TurnoverPair, managerNames []string, seasonStart, now time.Time) map[string]Series {
	startDay := dayOf(seasonStart)
	nowDay := dayOf(now)

	byManager := make(map[string]map[time.Time]int64, len(managerNames))
	for _, name := range managerNames {
		byManager[name] = make(map[time.Time]int64)
	}
	for _, pair := range pairs {
		name := pair.Sell.ManagerName
		buckets, ok := byManager[name]
		if !ok {
			// Pairs can reference a manager missing from the roster input,
			// e.g. one who left the league; keep their trades visible.
			buckets = make(map[time.Time]int64)
			byManager[name] = buckets
		}
		buckets[dayOf(pair.Sell.Date)] += pair.Revenue()
	}

	out := make(map[string]Series, len(byManager))
	for name, buckets := range byManager {
		out[name] = buildSeries(buckets, startDay, nowDay)
	}
	return out
}

func buildSeries(buckets map[time.Time]int64, startDay, nowDay time.Time) Series {
	days := make([]time.Time, 0, len(buckets))
	for day := range buckets {
		days = append(days, day)
	}
	sort.Slice(days, func(i, j int) bool { return days[i].Before(days[j]) })

	series := make(Series, 0, len(days)+2)
	var cumulative int64

	if len(days) == 0 || days[0].After(startDay) {
		series = append(series, Point{Date: startDay, Cumulative: 0})
	}
	for _, day := range days {
		cumulative += buckets[day]
		series = append(series, Point{Date: day, Cumulative: cumulative})
	}
	if last := series[len(series)-1]; last.Date.Before(nowDay) {
		series = append(series, Point{Date: nowDay, Cumulative: cumulative})
	}
	return series
}

func dayOf(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}
