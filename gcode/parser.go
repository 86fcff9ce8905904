package gcode

import (
	"bufio"
	"fmt"
	"io"
	"regexp"
	"strings"
)

// Reader yields parsed blocks until io.EOF.
type Reader interface {
	Read() (Block, error)
}

// BlocksReader serves a fixed slice of blocks. Useful for tests and
// programmatic command sequences.
type BlocksReader struct {
	Blocks []Block
	n      int
}

func (b *BlocksReader) Read() (Block, error) {
	if b.n == len(b.Blocks) {
		return nil, io.EOF
	}

	b.n++
	return b.Blocks[b.n-1], nil
}

// Parser reads G-code text line-by-line, skipping blanks and stripping
// `;` and `(...)` comments.
type Parser struct{ br *bufio.Reader }

var _ Reader = &Parser{}

func NewParser(r io.Reader) *Parser {
	if br, ok := r.(*bufio.Reader); ok {
		return &Parser{br: br}
	}

	return &Parser{br: bufio.NewReader(r)}
}

var (
	rxWord    = regexp.MustCompile(`[A-Z][\d.-]*`)
	rxComment = regexp.MustCompile(`\([^)]*\)`)
)

// cleanLine strips comments and whitespace and uppercases the rest, the
// same normalization the firmware applies before interpreting a line.
func cleanLine(s string) string {
	s = strings.SplitN(s, ";", 2)[0]
	s = rxComment.ReplaceAllString(s, "")
	s = strings.ReplaceAll(s, " ", "")
	s = strings.TrimSpace(s)
	return strings.ToUpper(s)
}

func (p *Parser) Read() (Block, error) {
	for {
		raw, err := p.br.ReadString('\n')
		if err == io.EOF && raw != "" {
			err = nil
		}
		if err != nil {
			return nil, err
		}

		s := cleanLine(raw)
		if s == "" {
			continue
		}

		words := rxWord.FindAllString(s, -1)
		var matched int
		for _, ws := range words {
			matched += len(ws)
		}
		if matched != len(s) {
			return nil, fmt.Errorf("gcode: malformed line %q", s)
		}

		block := make(Block, len(words))
		for i, ws := range words {
			w, err := parseWord(ws)
			if err != nil {
				return nil, fmt.Errorf("gcode: line %q: %w", s, err)
			}
			block[i] = w
		}
		return block, nil
	}
}

// Parse reads every block from data.
func Parse(data string) ([]Block, error) {
	r := NewParser(strings.NewReader(data))
	var b []Block
	for {
		bl, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		b = append(b, bl)
	}
	return b, nil
}

func MustParse(data string) []Block {
	b, err := Parse(data)
	if err != nil {
		panic(err)
	}
	return b
}
