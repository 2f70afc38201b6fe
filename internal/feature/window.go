package feature

import "time"

// Composite schedule of the remote sensing products.
const (
	// WindowLength is the span of one composite period.
	WindowLength = 8 * 24 * time.Hour

	// MaxLookback bounds how far back window discovery searches.
	MaxLookback = 180 * 24 * time.Hour
)

// CandidateWindows returns the windows searched by discovery, most recent first.
// Each window starts at today minus an offset of 0, 8, 16... days below MaxLookback.
func CandidateWindows(now time.Time) []TimeWindow {
	today := day(now)
	n := int((MaxLookback + WindowLength - 1) / WindowLength)
	windows := make([]TimeWindow, 0, n)
	for offset := time.Duration(0); offset < MaxLookback; offset += WindowLength {
		start := today.Add(-offset)
		windows = append(windows, TimeWindow{Start: start, End: start.Add(WindowLength)})
	}
	return windows
}

// MonthlyWindows returns one window per month of year.
// February ends on the 28th and every other month on the 30th.
func MonthlyWindows(year int) []TimeWindow {
	windows := make([]TimeWindow, 0, 12)
	for m := time.January; m <= time.December; m++ {
		endDay := 30
		if m == time.February {
			endDay = 28
		}
		windows = append(windows, TimeWindow{
			Start: time.Date(year, m, 1, 0, 0, 0, 0, time.UTC),
			End:   time.Date(year, m, endDay, 0, 0, 0, 0, time.UTC),
		})
	}
	return windows
}
