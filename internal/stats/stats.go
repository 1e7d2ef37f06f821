// Package stats summarizes the artifact tree: throughput per 20-minute slot,
// per day and per identifier, and how the tree lines up with history.txt.
package stats

import (
	"encoding/csv"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/GriffinCanCode/livetag/internal/artifact"
	"github.com/GriffinCanCode/livetag/internal/history"
)

// SlotMinutes is the width of a throughput slot. It divides an hour.
const SlotMinutes = 20

const (
	slotLayout = "2006-01-02 15:04"
	dayLayout  = "2006-01-02"
	timeLayout = "15:04:05"
	ruleWidth  = 80
)

// Slot is the throughput of one SlotMinutes window.
type Slot struct {
	Start       time.Time
	Count       int
	AvgInterval time.Duration // mean gap between consecutive saves
	Earliest    time.Time
	Latest      time.Time
}

// Day is the throughput of one calendar day.
type Day struct {
	Date     string
	Count    int
	Earliest time.Time
	Latest   time.Time
}

// IdentifierCount is the number of artifacts under one ID_ folder.
type IdentifierCount struct {
	Identifier string
	Count      int
}

// Report is built from a scan of the artifact tree and the history log.
type Report struct {
	Total       int
	Slots       []Slot
	Days        []Day
	Identifiers []IdentifierCount

	HistoryRecords int
	NotInHistory   int // artifacts whose pair was never committed
	MissingOnDisk  int // committed pairs with no image
}

// Build groups artifacts by modification time in the local zone.
func Build(arts []artifact.Record, hist []history.Record) Report {
	r := Report{Total: len(arts), HistoryRecords: len(hist)}

	slots := make(map[time.Time][]time.Time)
	days := make(map[string][]time.Time)
	ids := make(map[string]int)
	onDisk := make(map[history.Pair]struct{}, len(arts))
	for _, a := range arts {
		t := a.ModTime.Local()
		slots[slotStart(t)] = append(slots[slotStart(t)], t)
		days[t.Format(dayLayout)] = append(days[t.Format(dayLayout)], t)
		ids[a.Identifier]++
		onDisk[a.Pair()] = struct{}{}
	}

	committed := make(map[history.Pair]struct{}, len(hist))
	for _, h := range hist {
		committed[h.Pair] = struct{}{}
		if _, ok := onDisk[h.Pair]; !ok {
			r.MissingOnDisk++
		}
	}
	for p := range onDisk {
		if _, ok := committed[p]; !ok {
			r.NotInHistory++
		}
	}

	for start, times := range slots {
		sortTimes(times)
		r.Slots = append(r.Slots, Slot{
			Start:       start,
			Count:       len(times),
			AvgInterval: meanGap(times),
			Earliest:    times[0],
			Latest:      times[len(times)-1],
		})
	}
	sort.Slice(r.Slots, func(i, j int) bool { return r.Slots[i].Start.Before(r.Slots[j].Start) })

	for date, times := range days {
		sortTimes(times)
		r.Days = append(r.Days, Day{Date: date, Count: len(times), Earliest: times[0], Latest: times[len(times)-1]})
	}
	sort.Slice(r.Days, func(i, j int) bool { return r.Days[i].Date < r.Days[j].Date })

	for id, n := range ids {
		r.Identifiers = append(r.Identifiers, IdentifierCount{Identifier: id, Count: n})
	}
	sort.Slice(r.Identifiers, func(i, j int) bool { return r.Identifiers[i].Identifier < r.Identifiers[j].Identifier })
	return r
}

func slotStart(t time.Time) time.Time {
	m := t.Minute() / SlotMinutes * SlotMinutes
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), m, 0, 0, t.Location())
}

func sortTimes(ts []time.Time) {
	sort.Slice(ts, func(i, j int) bool { return ts[i].Before(ts[j]) })
}

func meanGap(sorted []time.Time) time.Duration {
	if len(sorted) < 2 {
		return 0
	}
	return sorted[len(sorted)-1].Sub(sorted[0]) / time.Duration(len(sorted)-1)
}

// WriteTable prints the slot table, the daily summary, per-identifier counts
// and the history cross-check.
func (r Report) WriteTable(w io.Writer) error {
	var b strings.Builder
	rule := strings.Repeat("=", ruleWidth)
	thin := strings.Repeat("-", ruleWidth)

	fmt.Fprintf(&b, "%s\nThroughput per %d minutes\n%s\n", rule, SlotMinutes, rule)
	fmt.Fprintf(&b, "%-20s %8s %14s %10s\n", "slot", "count", "avg interval", "earliest")
	b.WriteString(thin + "\n")
	for _, s := range r.Slots {
		fmt.Fprintf(&b, "%-20s %8d %13.1fs %10s\n",
			s.Start.Format(slotLayout), s.Count, s.AvgInterval.Seconds(), s.Earliest.Format(timeLayout))
	}
	fmt.Fprintf(&b, "%s\nTotal: %d artifacts\n\n", rule, r.Total)

	fmt.Fprintf(&b, "%s\nDaily summary\n%s\n", rule, rule)
	fmt.Fprintf(&b, "%-12s %8s %10s %10s\n", "date", "count", "earliest", "latest")
	b.WriteString(thin + "\n")
	for _, d := range r.Days {
		fmt.Fprintf(&b, "%-12s %8d %10s %10s\n", d.Date, d.Count, d.Earliest.Format(timeLayout), d.Latest.Format(timeLayout))
	}
	b.WriteString(rule + "\n\n")

	b.WriteString("Per identifier\n")
	for _, id := range r.Identifiers {
		fmt.Fprintf(&b, "  ID_%s: %d\n", id.Identifier, id.Count)
	}
	fmt.Fprintf(&b, "\nhistory: %d records, %d artifacts not in history, %d records without an image\n",
		r.HistoryRecords, r.NotInHistory, r.MissingOnDisk)

	_, err := io.WriteString(w, b.String())
	return err
}

// WriteCSV writes one row per slot.
func (r Report) WriteCSV(w io.Writer) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"slot", "count", "avg_interval_seconds", "earliest", "latest"}); err != nil {
		return err
	}
	for _, s := range r.Slots {
		row := []string{
			s.Start.Format(slotLayout),
			strconv.Itoa(s.Count),
			strconv.FormatFloat(s.AvgInterval.Seconds(), 'f', 1, 64),
			s.Earliest.Format(timeLayout),
			s.Latest.Format(timeLayout),
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
