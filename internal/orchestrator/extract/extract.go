// Package extract pulls (identifier, serial) pairs out of recognized lines.
//
// Identifiers are "ID" (any case) followed by ":", "：" or whitespace and a
// digit run, collected in reading order. An "ID" label at the end of a line
// takes the leading digits of the next line.
//
// Serials are searched around marker words (the trigger keyword plus any
// configured markers) in the text that remains after identifiers are removed:
// the first 1-4 digit token right of the marker, else the nearest one left of
// it, else the first in the previous line, else the first in the next line.
// Values outside 1-9999 are ignored. When no marker yields a serial, lines
// that consist of a single 2-6 digit token are taken as serials.
//
// Identifiers and serials are zipped in order and unpaired values dropped.
package extract

import (
	"regexp"
	"strconv"
	"strings"

	apperrors "github.com/GriffinCanCode/livetag/internal/errors"
	"github.com/GriffinCanCode/livetag/internal/history"
)

var (
	idRe       = regexp.MustCompile(`(?i)\bID(?:\s*[:：]\s*|\s+)(\d+)`)
	idTailRe   = regexp.MustCompile(`(?i)\bID\s*[:：]?\s*$`)
	leadDigits = regexp.MustCompile(`^\s*(\d+)`)
	digitRun   = regexp.MustCompile(`\d+`)
	loneNumber = regexp.MustCompile(`^\s*(\d{2,6})\s*$`)
)

const (
	maxSerialDigits = 4
	minSerial       = 1
	maxSerial       = 9999
)

// Extraction is everything found in one frame.
type Extraction struct {
	Identifiers []string
	Serials     []string
	Pairs       []history.Pair
}

// Extractor is a pure function of its markers and the input lines.
type Extractor struct {
	markers []string
}

// New creates an extractor for the given serial markers. Blank and repeated
// markers are ignored; matching is case-insensitive.
func New(markers ...string) *Extractor {
	seen := make(map[string]bool, len(markers))
	out := make([]string, 0, len(markers))
	for _, m := range markers {
		m = strings.ToLower(strings.TrimSpace(m))
		if m == "" || seen[m] {
			continue
		}
		seen[m] = true
		out = append(out, m)
	}
	return &Extractor{markers: out}
}

// Extract returns the pairs found in lines. It fails with EXTRACT_FAILED when
// no pair can be formed; the returned Extraction still lists partial findings.
func (e *Extractor) Extract(lines []string) (Extraction, error) {
	ids, cleaned := identifiers(lines)
	serials := e.markerSerials(cleaned)
	if len(serials) == 0 {
		serials = loneSerials(cleaned)
	}

	n := min(len(ids), len(serials))
	pairs := make([]history.Pair, 0, n)
	for i := 0; i < n; i++ {
		pairs = append(pairs, history.Pair{Identifier: ids[i], Serial: serials[i]})
	}

	ex := Extraction{Identifiers: ids, Serials: serials, Pairs: pairs}
	if len(pairs) == 0 {
		return ex, apperrors.Newf(apperrors.ExtractFailed, "found %d identifiers and %d serials", len(ids), len(serials))
	}
	return ex, nil
}

// identifiers collects identifier values and returns a copy of lines with the
// identifier text blanked out.
func identifiers(lines []string) ([]string, []string) {
	var ids []string
	seen := make(map[string]bool)
	add := func(id string) {
		if !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}

	cleaned := make([]string, len(lines))
	copy(cleaned, lines)
	for i, line := range lines {
		for _, m := range idRe.FindAllStringSubmatch(line, -1) {
			add(m[1])
		}
		cleaned[i] = idRe.ReplaceAllString(cleaned[i], " ")

		if idTailRe.MatchString(cleaned[i]) && i+1 < len(lines) {
			if m := leadDigits.FindStringSubmatch(cleaned[i+1]); m != nil {
				add(m[1])
				cleaned[i+1] = strings.Replace(cleaned[i+1], m[1], " ", 1)
			}
			cleaned[i] = idTailRe.ReplaceAllString(cleaned[i], " ")
		}
	}
	return ids, cleaned
}

func (e *Extractor) markerSerials(lines []string) []string {
	var out []string
	seen := make(map[string]bool)
	for i, line := range lines {
		lower := strings.ToLower(line)
		for _, marker := range e.markers {
			pos := strings.Index(lower, marker)
			if pos < 0 {
				continue
			}
			if s, ok := serialNear(lines, i, lower, pos, len(marker)); ok {
				if !seen[s] {
					seen[s] = true
					out = append(out, s)
				}
				break
			}
		}
	}
	return out
}

// serialNear looks right of the marker, then left, then the previous line,
// then the next line.
func serialNear(lines []string, i int, lower string, pos, markerLen int) (string, bool) {
	if toks := serialTokens(lower[pos+markerLen:]); len(toks) > 0 {
		return toks[0], true
	}
	if toks := serialTokens(lower[:pos]); len(toks) > 0 {
		return toks[len(toks)-1], true
	}
	if i > 0 {
		if toks := serialTokens(lines[i-1]); len(toks) > 0 {
			return toks[0], true
		}
	}
	if i+1 < len(lines) {
		if toks := serialTokens(lines[i+1]); len(toks) > 0 {
			return toks[0], true
		}
	}
	return "", false
}

// serialTokens returns digit runs of 1-4 digits whose value is a valid serial.
func serialTokens(s string) []string {
	var out []string
	for _, run := range digitRun.FindAllString(s, -1) {
		if len(run) > maxSerialDigits {
			continue
		}
		v, err := strconv.Atoi(run)
		if err != nil || v < minSerial || v > maxSerial {
			continue
		}
		out = append(out, run)
	}
	return out
}

func loneSerials(lines []string) []string {
	var out []string
	seen := make(map[string]bool)
	for _, line := range lines {
		m := loneNumber.FindStringSubmatch(line)
		if m == nil || seen[m[1]] {
			continue
		}
		seen[m[1]] = true
		out = append(out, m[1])
	}
	return out
}
