package locator

import (
	"image"
	"sort"
	"strings"

	"github.com/nvr-ai/doc-classifier/ocr"
)

// Row is a horizontal text row: one or more OCR lines whose boxes overlap
// vertically, words ordered left to right.
type Row struct {
	Words  []ocr.Word
	Bounds image.Rectangle
}

// Text joins the row's words with single spaces.
func (r Row) Text() string {
	parts := make([]string, len(r.Words))
	for i, w := range r.Words {
		parts[i] = w.Text
	}
	return strings.Join(parts, " ")
}

// YCenter is the vertical middle of the row.
func (r Row) YCenter() int {
	return (r.Bounds.Min.Y + r.Bounds.Max.Y) / 2
}

func (r Row) tokens() []string {
	var out []string
	for _, w := range r.Words {
		out = append(out, Tokenize(w.Text)...)
	}
	return out
}

// Rows groups OCR lines into rows sorted top to bottom. Two lines join the
// same row when their vertical overlap is at least minOverlap of the shorter
// line's height; tesseract often reports the cells of one table row as
// separate blocks.
func Rows(res ocr.Result, minOverlap float64) []Row {
	lines := res.Lines()
	sort.SliceStable(lines, func(i, j int) bool {
		return lines[i].Bounds.Min.Y+lines[i].Bounds.Max.Y < lines[j].Bounds.Min.Y+lines[j].Bounds.Max.Y
	})

	var rows []Row
	for _, line := range lines {
		if n := len(rows); n > 0 && overlaps(rows[n-1].Bounds, line.Bounds, minOverlap) {
			rows[n-1].Words = append(rows[n-1].Words, line.Words...)
			rows[n-1].Bounds = rows[n-1].Bounds.Union(line.Bounds)
			continue
		}
		rows = append(rows, Row{Words: append([]ocr.Word(nil), line.Words...), Bounds: line.Bounds})
	}
	for i := range rows {
		words := rows[i].Words
		sort.SliceStable(words, func(a, b int) bool { return words[a].Bounds.Min.X < words[b].Bounds.Min.X })
	}
	return rows
}

func overlaps(a, b image.Rectangle, minOverlap float64) bool {
	top := max(a.Min.Y, b.Min.Y)
	bottom := min(a.Max.Y, b.Max.Y)
	if bottom <= top {
		return false
	}
	shorter := min(a.Dy(), b.Dy())
	if shorter <= 0 {
		return false
	}
	return float64(bottom-top) >= minOverlap*float64(shorter)
}

// bandBounds spans the full page width between the midpoints separating row
// i from its neighbours. A row without a neighbour on one side extends by
// half its own height on that side.
func bandBounds(rows []Row, i int, page image.Rectangle, padding int) image.Rectangle {
	row := rows[i].Bounds
	half := row.Dy() / 2

	top := row.Min.Y - half
	if i > 0 {
		top = (rows[i-1].Bounds.Max.Y + row.Min.Y) / 2
	}
	bottom := row.Max.Y + half
	if i+1 < len(rows) {
		bottom = (row.Max.Y + rows[i+1].Bounds.Min.Y) / 2
	}
	band := image.Rect(page.Min.X, top-padding, page.Max.X, bottom+padding)
	return band.Intersect(page)
}
