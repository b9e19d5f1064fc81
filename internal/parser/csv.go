// Package parser turns document text into preview markup: a tolerant CSV
// tokenizer and a small escaping markdown renderer.
package parser

import "strings"

// Table is a parsed CSV grid. Rows may have different lengths; the parser
// emits exactly the fields it found.
type Table [][]string

// ParseCSV tokenizes text in a single forward pass.
//
// Quoted fields may contain commas, newlines and doubled quotes ("" is a
// literal quote). Rows end at \n or \r\n; a bare \r is kept as data. Rows in
// which every cell is empty are dropped. An unterminated quote swallows the
// rest of the input into the current field.
func ParseCSV(text string) Table {
	rows := Table{}

	var (
		row      []string
		field    strings.Builder
		inQuotes bool
	)

	endRow := func() {
		row = append(row, field.String())
		field.Reset()
		if hasContent(row) {
			rows = append(rows, row)
		}
		row = nil
	}

	for i := 0; i < len(text); i++ {
		ch := text[i]

		if inQuotes {
			if ch != '"' {
				field.WriteByte(ch)
				continue
			}
			if i+1 < len(text) && text[i+1] == '"' {
				field.WriteByte('"')
				i++
				continue
			}
			inQuotes = false
			continue
		}

		switch {
		case ch == '"':
			inQuotes = true
		case ch == ',':
			row = append(row, field.String())
			field.Reset()
		case ch == '\n':
			endRow()
		case ch == '\r' && i+1 < len(text) && text[i+1] == '\n':
			endRow()
			i++
		default:
			field.WriteByte(ch)
		}
	}

	if field.Len() > 0 || len(row) > 0 {
		endRow()
	}

	return rows
}

func hasContent(row []string) bool {
	for _, cell := range row {
		if len(cell) > 0 {
			return true
		}
	}
	return false
}

// Width returns the number of cells in the widest row.
func (t Table) Width() int {
	width := 0
	for _, row := range t {
		if len(row) > width {
			width = len(row)
		}
	}
	return width
}

// Padded returns a copy of t with every row extended to Width() using
// empty cells.
func (t Table) Padded() Table {
	width := t.Width()
	out := make(Table, len(t))
	for i, row := range t {
		padded := make([]string, width)
		copy(padded, row)
		out[i] = padded
	}
	return out
}
