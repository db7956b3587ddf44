// Copyright (C) 2020 Markus L. Noga
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.


package raster

import (
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// FITS header data.
// Spec here:   https://fits.gsfc.nasa.gov/standard40/fits_standard40aa-le.pdf
// Primer here: https://fits.gsfc.nasa.gov/fits_primer.html
type fitsHeader struct {
	Bools    map[string]bool
	Ints     map[string]int64
	Floats   map[string]float64
	Strings  map[string]string
	Dates    map[string]string
	Comments []string
	History  []string
	End      bool
	Length   int

	lastString string // key of the last string value, for CONTINUE lines
}

func newFITSHeader() fitsHeader {
	return fitsHeader{
		Bools:   make(map[string]bool),
		Ints:    make(map[string]int64),
		Floats:  make(map[string]float64),
		Strings: make(map[string]string),
		Dates:   make(map[string]string),
	}
}

const fitsBlockSize int = 2880 // Block size of FITS header and data units
const fitsLineSize int = 80    // Line size of a FITS header

var reParser *regexp.Regexp = compileRE() // Regexp parser for FITS header lines

func (h *fitsHeader) read(r io.Reader) error {
	buf := make([]byte, fitsBlockSize)
	subNames := reParser.SubexpNames()

	for h.Length = 0; !h.End; {
		// read next header unit
		if _, err := io.ReadFull(r, buf); err != nil {
			return errors.Wrap(err, "reading FITS header")
		}
		h.Length += fitsBlockSize

		// parse all lines in this header unit
		for lineNo := 0; lineNo < fitsBlockSize/fitsLineSize && !h.End; lineNo++ {
			line := buf[lineNo*fitsLineSize : (lineNo+1)*fitsLineSize]
			subValues := reParser.FindSubmatch(line)
			if subValues == nil {
				// unparseable lines are not needed for raster access
				continue
			}
			h.readLine(subNames, subValues)
		}
	}
	return nil
}

func (h *fitsHeader) readLine(subNames []string, subValues [][]byte) {
	key := ""
	// ignore index 0 which is the whole line
	for i := 1; i < len(subNames); i++ {
		if subValues[i] == nil || len(subNames[i]) != 1 {
			continue
		}
		switch c := subNames[i][0]; c {
		case byte('E'): // end line
			h.End = true
		case byte('H'): // history line
			h.History = append(h.History, string(subValues[i]))
		case byte('C'): // comment line
			h.Comments = append(h.Comments, string(subValues[i]))
		case byte('k'): // key
			key = string(subValues[i])
		case byte('b'): // boolean
			if len(subValues[i]) > 0 {
				v := subValues[i][0]
				h.Bools[key] = v == byte('t') || v == byte('T')
			}
		case byte('i'): // int
			if val, err := strconv.ParseInt(string(subValues[i]), 10, 64); err == nil {
				h.Ints[key] = val
			}
		case byte('f'): // float
			s := strings.Replace(string(subValues[i]), "D", "E", 1)
			if val, err := strconv.ParseFloat(s, 64); err == nil {
				h.Floats[key] = val
			}
		case byte('s'): // string
			h.Strings[key] = unescapeFITSString(subValues[i])
			h.lastString = key
		case byte('n'): // continuation of the last string
			if prev, ok := h.Strings[h.lastString]; ok && strings.HasSuffix(prev, "&") {
				h.Strings[h.lastString] = strings.TrimSuffix(prev, "&") + unescapeFITSString(subValues[i])
			}
		case byte('d'): // date
			h.Dates[key] = string(subValues[i])
		}
	}
}

func unescapeFITSString(b []byte) string {
	return strings.TrimRight(strings.ReplaceAll(string(b), "''", "'"), " ")
}

// Build regexp parser for FITS header lines
func compileRE() *regexp.Regexp {
	white := "\\s+"
	whiteOpt := "\\s*"
	whiteLine := white

	hist := "HISTORY"
	rest := ".*"
	histLine := hist + white + "(?P<H>" + rest + ")"

	commKey := "COMMENT"
	commLine := commKey + white + "(?P<C>" + rest + ")"

	end := "(?P<E>END)"
	endLine := end + whiteOpt

	key := "(?P<k>[A-Z0-9_-]+)"
	equals := "="

	boo := "(?P<b>[TF])"
	inte := "(?P<i>[+-]?[0-9]+)"
	floa := "(?P<f>[+-]?[0-9]*\\.[0-9]*(?:[ED][-+]?[0-9]+)?)"
	stri := "'(?P<s>(?:[^']|'')*)'"
	date := "(?P<d>[0-9]{1,4}-?[012][0-9]-?[0123][0-9]T[012][0-9]:?[0-5][0-9]:?[0-5][0-9].?[0-9]*)"
	val := "(?:" + boo + "|" + inte + "|" + floa + "|" + stri + "|" + date + ")"

	commOpt := "(?:/(?P<c>.*))?"
	keyLine := key + whiteOpt + equals + whiteOpt + val + whiteOpt + commOpt

	contLine := "CONTINUE" + whiteOpt + "'(?P<n>(?:[^']|'')*)'" + whiteOpt + commOpt

	lineRe := "^(?:" + whiteLine + "|" + histLine + "|" + commLine + "|" + contLine + "|" + keyLine + "|" + endLine + ")$"
	return regexp.MustCompile(lineRe)
}

func (h *fitsHeader) popInt(key string) (int64, error) {
	if val, ok := h.Ints[key]; ok {
		delete(h.Ints, key)
		return val, nil
	}
	return 0, errors.Errorf("FITS header does not contain key %s", key)
}

func (h *fitsHeader) popFloat(key string) (float64, bool) {
	if val, ok := h.Ints[key]; ok {
		delete(h.Ints, key)
		return float64(val), true
	} else if val, ok := h.Floats[key]; ok {
		delete(h.Floats, key)
		return val, true
	}
	return 0, false
}

// Header card writers. Every card is exactly one 80 character line.

func writeCard(w io.Writer, card string) {
	if len(card) > fitsLineSize {
		card = card[:fitsLineSize]
	}
	fmt.Fprintf(w, "%-80s", card)
}

func cardComment(comment string) string {
	if comment == "" {
		return ""
	}
	return " / " + comment
}

// Writes a FITS header boolean value
func writeBool(w io.Writer, key string, value bool, comment string) {
	v := "F"
	if value {
		v = "T"
	}
	writeCard(w, fmt.Sprintf("%-8.8s= %20s%s", key, v, cardComment(comment)))
}

// Writes a FITS header integer value
func writeInt(w io.Writer, key string, value int64, comment string) {
	writeCard(w, fmt.Sprintf("%-8.8s= %20d%s", key, value, cardComment(comment)))
}

// Writes a FITS header float64 value. Always carries a decimal point and
// exponent, so it reads back as a float.
func writeFloat(w io.Writer, key string, value float64, comment string) {
	writeCard(w, fmt.Sprintf("%-8.8s= %20.15E%s", key, value, cardComment(comment)))
}

// Writes a FITS header string value, with escaping and the CONTINUE long
// string convention if necessary.
func writeString(w io.Writer, key, value, comment string) {
	const maxChunk = 66 // escaped characters per card, leaving room for & and quotes
	var chunks []string
	cur := strings.Builder{}
	for _, r := range value {
		esc := string(r)
		if r == '\'' {
			esc = "''"
		}
		if cur.Len()+len(esc) > maxChunk {
			chunks = append(chunks, cur.String())
			cur.Reset()
		}
		cur.WriteString(esc)
	}
	chunks = append(chunks, cur.String())

	for i, chunk := range chunks {
		amp := ""
		if i < len(chunks)-1 {
			amp = "&"
		}
		if i == 0 {
			padded := fmt.Sprintf("%-8s", chunk+amp) // fixed format strings have at least 8 chars
			line := fmt.Sprintf("%-8.8s= '%s'", key, padded)
			if len(line)+len(cardComment(comment)) <= fitsLineSize {
				line += cardComment(comment)
			}
			writeCard(w, line)
		} else {
			writeCard(w, fmt.Sprintf("CONTINUE  '%s'", chunk+amp))
		}
	}
}

// Writes a FITS header end record
func writeEnd(w io.Writer) {
	writeCard(w, "END")
}
