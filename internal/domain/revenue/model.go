package revenue

import "time"

// Point is one day of a manager's cumulative realized-profit series.
type Point struct {
	Date       time.Time `json:"date"`
	Cumulative int64     `json:"cumulative"`
}

// Series is strictly increasing by date. It starts at the season-start day
// with value 0 and ends at the run's day with the final cumulative value;
// between the anchors only days with a value change appear, consumers carry
// the last value forward.
type Series []Point

// Total returns the final cumulative value, 0 for an empty series.
func (s Series) Total() int64 {
	if len(s) == 0 {
		return 0
	}
	return s[len(s)-1].Cumulative
}
