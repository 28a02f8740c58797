package layout

import (
	"math"
	"sort"
	"strings"
	"unicode"
)

// Word is one recognized word with its bounding box in image pixels.
type Word struct {
	Text       string
	X          float64
	Y          float64
	Width      float64
	Height     float64
	Confidence float64
}

func (w Word) centerY() float64 {
	return w.Y + w.Height/2
}

func (w Word) centerX() float64 {
	return w.X + w.Width/2
}

// TableFromWords rebuilds the tally table from free word boxes. Words are
// grouped into text lines by vertical center. When a header line naming the
// machine and human columns is present, every word below it is placed in the
// candidate, machine or human column by its horizontal center, and cells keep
// their raw text so that unreadable counts fail parsing instead of shifting
// into a neighbouring column. Without a header, a line is a row when it starts
// with a ballot number or the invalid label, and the next two words are taken
// as the machine and human cells.
func TableFromWords(words []Word) Table {
	table := Table{
		Name:    "tally",
		Columns: []string{ColumnCandidate, ColumnMachine, ColumnHuman},
	}
	lines := groupLines(words)
	grid, body := findHeader(lines)
	for _, line := range body {
		var (
			row []Cell
			ok  bool
		)
		if grid != nil {
			row, ok = grid.row(line)
		} else {
			row, ok = rowFromLine(line)
		}
		if ok {
			table.Rows = append(table.Rows, row)
		}
	}
	return table
}

// columnGrid splits a line horizontally at the header's column boundaries.
type columnGrid struct {
	labelEnd float64
	split    float64
}

// findHeader locates the first line naming both count columns and returns
// its grid with the lines below it. Without one it returns all lines.
func findHeader(lines [][]Word) (*columnGrid, [][]Word) {
	for i, line := range lines {
		var candidate, machine, human float64
		var hasCandidate, hasMachine, hasHuman bool
		for _, w := range line {
			switch ColumnRole(w.Text) {
			case ColumnCandidate:
				candidate, hasCandidate = w.centerX(), true
			case ColumnMachine:
				machine, hasMachine = w.centerX(), true
			case ColumnHuman:
				human, hasHuman = w.centerX(), true
			}
		}
		if !hasMachine || !hasHuman || human <= machine {
			continue
		}
		grid := &columnGrid{split: (machine + human) / 2}
		if hasCandidate && candidate < machine {
			grid.labelEnd = (candidate + machine) / 2
		} else {
			grid.labelEnd = machine - (human-machine)/2
		}
		return grid, lines[i+1:]
	}
	return nil, lines
}

func (g *columnGrid) row(line []Word) ([]Cell, bool) {
	var label, machine, human []Word
	for _, w := range mergeBallotPrefix(line) {
		switch c := w.centerX(); {
		case c < g.labelEnd:
			label = append(label, w)
		case c < g.split:
			machine = append(machine, w)
		default:
			human = append(human, w)
		}
	}

	countCells := append(append([]Word{}, machine...), human...)
	if !wordsHaveDigits(countCells) {
		// Footer text and blank rows carry no counts.
		return nil, false
	}
	if IsCaptionLabel(joinWords(label).Text) {
		return nil, false
	}
	return []Cell{labelCell(label), joinWords(machine), joinWords(human)}, true
}

// labelCell keeps a leading ballot number on its own so a printed name next
// to it does not spoil the label.
func labelCell(label []Word) Cell {
	if len(label) > 0 {
		if _, _, ok := ParseCandidateLabel(label[0].Text); ok {
			return Cell{Text: label[0].Text, Confidence: label[0].Confidence}
		}
	}
	return joinWords(label)
}

func joinWords(words []Word) Cell {
	if len(words) == 0 {
		return Cell{}
	}
	parts := make([]string, len(words))
	conf := words[0].Confidence
	for i, w := range words {
		parts[i] = w.Text
		conf = math.Min(conf, w.Confidence)
	}
	return Cell{Text: strings.Join(parts, " "), Confidence: conf}
}

func wordsHaveDigits(words []Word) bool {
	for _, w := range words {
		if strings.ContainsAny(w.Text, "0123456789") {
			return true
		}
	}
	return false
}

func groupLines(words []Word) [][]Word {
	if len(words) == 0 {
		return nil
	}

	sorted := make([]Word, len(words))
	copy(sorted, words)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].centerY() < sorted[j].centerY()
	})

	var (
		lines   [][]Word
		current []Word
		anchorY float64
		anchorH float64
	)
	for _, w := range sorted {
		if len(current) > 0 && math.Abs(w.centerY()-anchorY) > lineTolerance(anchorH, w.Height) {
			lines = append(lines, current)
			current = nil
		}
		if len(current) == 0 {
			anchorY = w.centerY()
			anchorH = w.Height
		}
		current = append(current, w)
	}
	lines = append(lines, current)

	for _, line := range lines {
		sort.SliceStable(line, func(i, j int) bool { return line[i].X < line[j].X })
	}
	return lines
}

func lineTolerance(a, b float64) float64 {
	h := math.Max(a, b)
	if h <= 0 {
		return 1
	}
	return h / 2
}

func rowFromLine(line []Word) ([]Cell, bool) {
	tokens := mergeBallotPrefix(line)
	if len(tokens) < 2 {
		return nil, false
	}
	if _, _, ok := ParseCandidateLabel(tokens[0].Text); !ok {
		return nil, false
	}

	rest := tokens[1:]
	// A printed name may sit between the ballot number and the counts.
	for len(rest) > 0 && isName(rest[0].Text) {
		rest = rest[1:]
	}
	if len(rest) == 0 {
		return nil, false
	}

	row := []Cell{{Text: tokens[0].Text, Confidence: tokens[0].Confidence}}
	for _, tok := range rest {
		row = append(row, Cell{Text: tok.Text, Confidence: tok.Confidence})
		if len(row) == 3 {
			break
		}
	}
	if len(row) == 2 {
		// Human column left blank on the sheet.
		row = append(row, Cell{})
	}
	return row, true
}

func isName(text string) bool {
	hangul := false
	for _, r := range text {
		if unicode.IsDigit(r) {
			return false
		}
		if unicode.Is(unicode.Hangul, r) {
			hangul = true
		}
	}
	return hangul
}

var ballotPrefixes = []string{"기호", "후보", "no.", "no"}

// mergeBallotPrefix joins a standalone ballot prefix such as "기호" with the
// number after it.
func mergeBallotPrefix(line []Word) []Word {
	out := make([]Word, 0, len(line))
	for i := 0; i < len(line); i++ {
		w := line[i]
		w.Text = strings.TrimSpace(w.Text)
		if isBallotPrefix(w.Text) && i+1 < len(line) {
			next := line[i+1]
			w.Text += strings.TrimSpace(next.Text)
			w.Confidence = math.Min(w.Confidence, next.Confidence)
			w.Width = next.X + next.Width - w.X
			i++
		}
		out = append(out, w)
	}
	return out
}

func isBallotPrefix(text string) bool {
	lower := strings.ToLower(text)
	for _, p := range ballotPrefixes {
		if lower == p {
			return true
		}
	}
	return false
}
