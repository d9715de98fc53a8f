package ocr

import (
	"fmt"
	"image"
	"io"
	"strings"
	"text/tabwriter"
)

// Line is the group of words sharing a (block, paragraph, line) number.
type Line struct {
	Block     int
	Paragraph int
	Number    int
	Words     []Word
	Bounds    image.Rectangle
}

// Text joins the line's words with single spaces.
func (l Line) Text() string {
	parts := make([]string, len(l.Words))
	for i, w := range l.Words {
		parts[i] = w.Text
	}
	return strings.Join(parts, " ")
}

type lineKey struct{ block, par, line int }

// Lines groups the words into text lines, in order of first appearance.
// Words with empty text are skipped.
func (r Result) Lines() []Line {
	var lines []Line
	index := make(map[lineKey]int)
	for _, w := range r.Words {
		if strings.TrimSpace(w.Text) == "" {
			continue
		}
		k := lineKey{w.Block, w.Paragraph, w.Line}
		i, ok := index[k]
		if !ok {
			i = len(lines)
			index[k] = i
			lines = append(lines, Line{Block: w.Block, Paragraph: w.Paragraph, Number: w.Line, Bounds: w.Bounds})
		}
		lines[i].Words = append(lines[i].Words, w)
		lines[i].Bounds = lines[i].Bounds.Union(w.Bounds)
	}
	return lines
}

// Dump writes the raw word table, one row per word, with the columns of
// tesseract's image_to_data output.
func (r Result) Dump(w io.Writer) error {
	tw := tabwriter.NewWriter(w, 0, 4, 1, ' ', 0)
	fmt.Fprintf(tw, "id: %s\n", r.InputID)
	fmt.Fprintln(tw, "block_num\tpar_num\tline_num\tword_num\tleft\ttop\twidth\theight\tconf\ttext")
	for _, word := range r.Words {
		b := word.Bounds
		fmt.Fprintf(tw, "%d\t%d\t%d\t%d\t%d\t%d\t%d\t%d\t%.1f\t%s\n",
			word.Block, word.Paragraph, word.Line, word.Index,
			b.Min.X, b.Min.Y, b.Dx(), b.Dy(), word.Confidence*100, word.Text)
	}
	return tw.Flush()
}
