package schedule

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// TimeLayout is the format of every slot label the generator produces.
const TimeLayout = "15:04"

// Break is a sub-range of the working day that holds no bookable slots,
// e.g. a lunch break.
type Break struct {
	Start string
	End   string
}

// HoursConfig describes the bookable window of a working day. The same
// config applies to every open day of the week; closed weekdays and
// holidays are handled by the caller.
type HoursConfig struct {
	Open     string
	Close    string
	Interval int // minutes per slot
	Breaks   []Break
}

func (c HoursConfig) key() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s-%s-%d", c.Open, c.Close, c.Interval)
	for _, br := range c.Breaks {
		fmt.Fprintf(&b, "|%s-%s", br.Start, br.End)
	}
	return b.String()
}

// Validate checks that the config describes a non-empty day: open before
// close, positive interval, and every break inside [open, close).
func (c HoursConfig) Validate() error {
	open, err := minutesOfDay(c.Open)
	if err != nil {
		return fmt.Errorf("open time: %w", err)
	}
	close, err := minutesOfDay(c.Close)
	if err != nil {
		return fmt.Errorf("close time: %w", err)
	}
	if open >= close {
		return fmt.Errorf("open time %s must be before close time %s", c.Open, c.Close)
	}
	if c.Interval <= 0 {
		return fmt.Errorf("slot interval must be positive, got %d", c.Interval)
	}
	for _, br := range c.Breaks {
		bs, err := minutesOfDay(br.Start)
		if err != nil {
			return fmt.Errorf("break start: %w", err)
		}
		be, err := minutesOfDay(br.End)
		if err != nil {
			return fmt.Errorf("break end: %w", err)
		}
		if bs >= be {
			return fmt.Errorf("break %s-%s is empty", br.Start, br.End)
		}
		if bs < open || be > close {
			return fmt.Errorf("break %s-%s falls outside working hours %s-%s", br.Start, br.End, c.Open, c.Close)
		}
	}
	return nil
}

var slotCache = struct {
	sync.Mutex
	byConfig map[string][]string
}{byConfig: make(map[string][]string)}

// Generate returns the ordered sequence of slot labels for one working
// day: every interval boundary in [open, close) whose start does not fall
// inside a break. The sequence only depends on the config, so results are
// memoized per config.
func Generate(c HoursConfig) ([]string, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}

	key := c.key()
	slotCache.Lock()
	cached, ok := slotCache.byConfig[key]
	slotCache.Unlock()
	if ok {
		return append([]string(nil), cached...), nil
	}

	open, _ := minutesOfDay(c.Open)
	close, _ := minutesOfDay(c.Close)

	var labels []string
	for m := open; m < close; m += c.Interval {
		if inBreak(c.Breaks, m) {
			continue
		}
		labels = append(labels, formatMinutes(m))
	}

	slotCache.Lock()
	slotCache.byConfig[key] = labels
	slotCache.Unlock()

	return append([]string(nil), labels...), nil
}

// Contains reports whether label is one of the generated slots for c.
func Contains(c HoursConfig, label string) (bool, error) {
	labels, err := Generate(c)
	if err != nil {
		return false, err
	}
	i := sort.SearchStrings(labels, label)
	return i < len(labels) && labels[i] == label, nil
}

func inBreak(breaks []Break, m int) bool {
	for _, br := range breaks {
		bs, _ := minutesOfDay(br.Start)
		be, _ := minutesOfDay(br.End)
		if m >= bs && m < be {
			return true
		}
	}
	return false
}

func minutesOfDay(label string) (int, error) {
	t, err := time.Parse(TimeLayout, label)
	if err != nil {
		return 0, fmt.Errorf("invalid time label %q: %w", label, err)
	}
	return t.Hour()*60 + t.Minute(), nil
}

func formatMinutes(m int) string {
	return fmt.Sprintf("%02d:%02d", m/60, m%60)
}
