package tick

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// FlatfileSource reads ticks from a newline-delimited file, one
// "bid,ask,timestamp" record per line. Blank lines and lines starting with
// "#" are skipped.
type FlatfileSource struct {
	Path string
}

func NewFlatfileSource(path string) *FlatfileSource {
	return &FlatfileSource{Path: path}
}

func (s *FlatfileSource) Open(ctx context.Context, policy Policy, control <-chan ControlEvent) (<-chan Tick, error) {
	f, err := os.Open(s.Path)
	if err != nil {
		return nil, fmt.Errorf("tick: open flatfile %q: %w", s.Path, err)
	}

	scanner := bufio.NewScanner(f)

	next := func() (Tick, bool, error) {
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" || strings.HasPrefix(line, "#") {
				continue
			}
			t, err := parseFlatfileLine(line)
			if err != nil {
				return Tick{}, false, fmt.Errorf("tick: parse flatfile line %q: %w", line, err)
			}
			return t, true, nil
		}
		f.Close()
		return Tick{}, false, scanner.Err()
	}

	return drive(ctx, policy, control, next), nil
}

func parseFlatfileLine(line string) (Tick, error) {
	parts := strings.Split(line, ",")
	if len(parts) != 3 {
		return Tick{}, fmt.Errorf("expected 3 comma-separated fields, got %d", len(parts))
	}
	bid, err := strconv.ParseInt(strings.TrimSpace(parts[0]), 10, 64)
	if err != nil {
		return Tick{}, err
	}
	ask, err := strconv.ParseInt(strings.TrimSpace(parts[1]), 10, 64)
	if err != nil {
		return Tick{}, err
	}
	timestamp, err := strconv.ParseInt(strings.TrimSpace(parts[2]), 10, 64)
	if err != nil {
		return Tick{}, err
	}
	return Tick{Bid: bid, Ask: ask, Timestamp: timestamp}, nil
}
