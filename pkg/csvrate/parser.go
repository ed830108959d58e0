// Package csvrate parses the dashboard's rate-sheet CSV format into
// normalized rate entries. Parsing is a pure function of the input text.
//
// The format is intentionally primitive: comma-delimited with no quoting or
// escaping, because the sheets are generated numeric exports. A literal comma
// inside a field shifts every cell after it.
package csvrate

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/ratepulse/ratepulse/pkg/ingesterr"
)

// Entry is one normalized rate: a check-in date, an occupancy, a room name and
// a price. One input row yields 0, 1 or 2 entries (the A1 and A2 column pairs).
type Entry struct {
	CheckInDate string  // always YYYY-MM-DD
	Adults      int     // 1 for the A1 pair, 2 for the A2 pair
	RoomType    string
	PriceAmount float64
}

const dateColumn = "date"

// columnPairs maps the recognized room/price header substrings to the adult
// count they encode. Header matching is by substring; the first matching
// column wins and later duplicates are ignored.
var columnPairs = []struct {
	roomSub  string
	priceSub string
	adults   int
}{
	{"Room_A1", "Price_A1", 1},
	{"Room_A2", "Price_A2", 2},
}

type pairIndex struct {
	room   int
	price  int
	adults int
}

// Parse converts raw CSV text into normalized rate entries, in input row
// order. It fails with a format error when no column is literally named
// "Date" (case-insensitive) or when a row carries a date in neither the
// YYYY-MM-DD nor the M/D/YYYY shape. Rows whose room/price cells are blank or
// whose price is not a positive number contribute nothing, silently.
func Parse(text string) ([]Entry, error) {
	lines := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")
	if len(lines) == 0 || strings.TrimSpace(lines[0]) == "" {
		return nil, ingesterr.NewFormatError("csv has no header row")
	}

	header := strings.Split(lines[0], ",")

	dateIdx := -1
	for i, col := range header {
		if strings.EqualFold(strings.TrimSpace(col), dateColumn) {
			dateIdx = i
			break
		}
	}
	if dateIdx < 0 {
		return nil, ingesterr.NewFormatError("csv has no Date column")
	}

	pairs := findPairs(header)

	var entries []Entry
	for lineNo, line := range lines[1:] {
		if strings.TrimSpace(line) == "" {
			continue
		}

		cells := strings.Split(line, ",")
		date, err := normalizeDate(cell(cells, dateIdx))
		if err != nil {
			// line numbers are 1-based and include the header
			return nil, ingesterr.NewFormatError("line %d: %v", lineNo+2, err)
		}

		for _, p := range pairs {
			room := cell(cells, p.room)
			price, ok := parsePrice(cell(cells, p.price))
			if room == "" || !ok {
				continue
			}
			entries = append(entries, Entry{
				CheckInDate: date,
				Adults:      p.adults,
				RoomType:    room,
				PriceAmount: price,
			})
		}
	}

	return entries, nil
}

func findPairs(header []string) []pairIndex {
	var pairs []pairIndex
	for _, cp := range columnPairs {
		roomIdx, priceIdx := -1, -1
		for i, col := range header {
			if roomIdx < 0 && strings.Contains(col, cp.roomSub) {
				roomIdx = i
			}
			if priceIdx < 0 && strings.Contains(col, cp.priceSub) {
				priceIdx = i
			}
		}
		if roomIdx >= 0 && priceIdx >= 0 {
			pairs = append(pairs, pairIndex{room: roomIdx, price: priceIdx, adults: cp.adults})
		}
	}
	return pairs
}

func cell(cells []string, idx int) string {
	if idx < 0 || idx >= len(cells) {
		return ""
	}
	return strings.TrimSpace(cells[idx])
}

// parsePrice accepts only finite numbers strictly greater than zero.
func parsePrice(raw string) (float64, bool) {
	if raw == "" {
		return 0, false
	}
	price, err := strconv.ParseFloat(raw, 64)
	if err != nil || price <= 0 {
		return 0, false
	}
	return price, true
}

// normalizeDate accepts YYYY-MM-DD (passed through) or M/D/YYYY (zero-padded
// and reordered). Anything else is an explicit failure rather than a silent
// passthrough into storage.
func normalizeDate(raw string) (string, error) {
	if raw == "" {
		return "", fmt.Errorf("empty date")
	}

	if parts := strings.Split(raw, "-"); len(parts) == 3 {
		year, errY := strconv.Atoi(parts[0])
		month, errM := strconv.Atoi(parts[1])
		day, errD := strconv.Atoi(parts[2])
		if errY == nil && errM == nil && errD == nil && validDate(year, month, day) {
			return fmt.Sprintf("%04d-%02d-%02d", year, month, day), nil
		}
		return "", fmt.Errorf("unrecognized date %q", raw)
	}

	if parts := strings.Split(raw, "/"); len(parts) == 3 {
		month, errM := strconv.Atoi(parts[0])
		day, errD := strconv.Atoi(parts[1])
		year, errY := strconv.Atoi(parts[2])
		if errY == nil && errM == nil && errD == nil && validDate(year, month, day) {
			return fmt.Sprintf("%04d-%02d-%02d", year, month, day), nil
		}
		return "", fmt.Errorf("unrecognized date %q", raw)
	}

	return "", fmt.Errorf("unrecognized date %q", raw)
}

func validDate(year, month, day int) bool {
	return year >= 1 && month >= 1 && month <= 12 && day >= 1 && day <= 31
}
