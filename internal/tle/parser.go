package tle

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"time"
)

// ErrInsufficientData is returned when a feed holds fewer than one full
// name/line1/line2 triplet.
var ErrInsufficientData = errors.New("tle: not enough data received")

const maxLineBytes = 1024 * 1024

// Parse reads 3-line NORAD TLE text from r and groups the non-empty lines into
// records in feed order. Lines are trimmed; blank lines are ignored. A trailing
// group with fewer than three lines is dropped with a warning.
func Parse(r io.Reader, logger *slog.Logger) ([]Record, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)

	var lines []string
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line != "" {
			lines = append(lines, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading TLE data: %w", err)
	}

	if len(lines) < 3 {
		return nil, fmt.Errorf("%w: %d non-empty lines", ErrInsufficientData, len(lines))
	}

	if rem := len(lines) % 3; rem != 0 {
		logger.Warn("dropping incomplete trailing TLE entry",
			"component", "tle",
			"lines", len(lines),
			"dropped", rem,
			"name", lines[len(lines)-rem],
		)
	}

	records := make([]Record, 0, len(lines)/3)
	for i := 0; i+2 < len(lines); i += 3 {
		rec := Record{
			Name:  lines[i],
			Line1: lines[i+1],
			Line2: lines[i+2],
		}
		rec.NORADID, rec.Epoch = describe(rec.Line1)
		records = append(records, rec)
	}

	return records, nil
}

// describe extracts the catalog number and epoch from a TLE line 1. Lines that
// do not follow the fixed-column layout yield zero values.
func describe(line1 string) (int, time.Time) {
	if !strings.HasPrefix(line1, "1 ") || len(line1) < 32 {
		return 0, time.Time{}
	}

	// Catalog number: cols 3-7 (0-indexed 2..7).
	noradID, err := strconv.Atoi(strings.TrimSpace(line1[2:7]))
	if err != nil {
		noradID = 0
	}

	// Epoch: cols 19-32 (0-indexed 18..32).
	epoch, err := parseEpoch(strings.TrimSpace(line1[18:32]))
	if err != nil {
		epoch = time.Time{}
	}

	return noradID, epoch
}

// parseEpoch converts a TLE epoch string in YYDDD.DDDDDDDD format to time.Time.
// Year 00-56 → 2000s, 57-99 → 1900s.
func parseEpoch(s string) (time.Time, error) {
	if len(s) < 5 {
		return time.Time{}, fmt.Errorf("epoch string too short: %q", s)
	}

	yearStr := s[:2]
	dayStr := s[2:]

	year, err := strconv.Atoi(yearStr)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid epoch year %q: %w", yearStr, err)
	}

	if year >= 57 {
		year += 1900
	} else {
		year += 2000
	}

	dayOfYear, err := strconv.ParseFloat(dayStr, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid epoch day %q: %w", dayStr, err)
	}
	if dayOfYear < 1 || dayOfYear >= 367 {
		return time.Time{}, fmt.Errorf("epoch day out of range: %v", dayOfYear)
	}

	// dayOfYear is 1-based: day 1 = Jan 1.
	t := time.Date(year, 1, 1, 0, 0, 0, 0, time.UTC)
	return t.Add(time.Duration((dayOfYear - 1) * float64(24*time.Hour))), nil
}
