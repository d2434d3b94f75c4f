package textindex

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
)

// UnknownCode is the reserved code for characters outside the vocabulary.
const UnknownCode = 0

// Indexer maps characters to integer codes against a fixed vocabulary table.
type Indexer struct {
	codes map[rune]int64
}

// Encoding is a batch of indexed rows, row-padded to the longest row, with a
// presence mask of identical shape. mask[i][j] == 1 iff j < Lengths[i].
type Encoding struct {
	Codes   [][]int64
	Mask    [][]float32
	Lengths []int

	// Unsupported collects characters that mapped to UnknownCode.
	// Diagnostic only; indexing never fails on them.
	Unsupported []rune
}

// LoadTable reads a character→code JSON table. Code 0 is reserved for
// unknown characters and must not appear in the table.
func LoadTable(path string) (*Indexer, error) {
	if path == "" {
		return nil, errors.New("vocab table path is required")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read vocab table: %w", err)
	}

	var raw map[string]int64
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode vocab table: %w", err)
	}

	if len(raw) == 0 {
		return nil, errors.New("vocab table is empty")
	}

	idx := &Indexer{codes: make(map[rune]int64, len(raw))}
	for k, code := range raw {
		runes := []rune(k)
		if len(runes) != 1 {
			return nil, fmt.Errorf("vocab entry %q is not a single character", k)
		}
		if code == UnknownCode {
			return nil, fmt.Errorf("vocab entry %q uses reserved code %d", k, UnknownCode)
		}
		if _, dup := idx.codes[runes[0]]; dup {
			return nil, fmt.Errorf("duplicate vocab entry %q", k)
		}
		idx.codes[runes[0]] = code
	}

	return idx, nil
}

// NewIndexer builds an indexer from an in-memory table. Used by tests and
// voice tooling.
func NewIndexer(table map[rune]int64) (*Indexer, error) {
	if len(table) == 0 {
		return nil, errors.New("vocab table is empty")
	}
	codes := make(map[rune]int64, len(table))
	for r, code := range table {
		if code == UnknownCode {
			return nil, fmt.Errorf("vocab entry %q uses reserved code %d", string(r), UnknownCode)
		}
		codes[r] = code
	}
	return &Indexer{codes: codes}, nil
}

// Size returns the number of known characters.
func (x *Indexer) Size() int {
	return len(x.codes)
}

// Encode indexes a batch of strings into a padded code matrix plus presence
// mask. Rows keep their true lengths in Lengths; unknown characters map to
// UnknownCode and are reported in Unsupported.
func (x *Indexer) Encode(rows []string) (*Encoding, error) {
	if len(rows) == 0 {
		return nil, errors.New("no rows to encode")
	}

	codes := make([][]int64, len(rows))
	lengths := make([]int, len(rows))
	unsupported := make(map[rune]struct{})
	maxLen := 0

	for i, row := range rows {
		runes := []rune(row)
		lengths[i] = len(runes)
		if len(runes) > maxLen {
			maxLen = len(runes)
		}

		rowCodes := make([]int64, len(runes))
		for j, r := range runes {
			code, ok := x.codes[r]
			if !ok {
				code = UnknownCode
				unsupported[r] = struct{}{}
			}
			rowCodes[j] = code
		}
		codes[i] = rowCodes
	}

	if maxLen == 0 {
		return nil, ErrEmptyText
	}

	mask := make([][]float32, len(rows))
	for i := range codes {
		padded := make([]int64, maxLen)
		copy(padded, codes[i])
		codes[i] = padded

		rowMask := make([]float32, maxLen)
		for j := 0; j < lengths[i]; j++ {
			rowMask[j] = 1
		}
		mask[i] = rowMask
	}

	enc := &Encoding{
		Codes:   codes,
		Mask:    mask,
		Lengths: lengths,
	}
	for r := range unsupported {
		enc.Unsupported = append(enc.Unsupported, r)
	}
	sort.Slice(enc.Unsupported, func(i, j int) bool { return enc.Unsupported[i] < enc.Unsupported[j] })

	return enc, nil
}

// PaddedLen returns the padded row length of the batch.
func (e *Encoding) PaddedLen() int {
	if len(e.Codes) == 0 {
		return 0
	}
	return len(e.Codes[0])
}

// FlatCodes returns the code matrix flattened row-major with its [B, T] shape.
func (e *Encoding) FlatCodes() ([]int64, []int64) {
	b, t := len(e.Codes), e.PaddedLen()
	flat := make([]int64, 0, b*t)
	for _, row := range e.Codes {
		flat = append(flat, row...)
	}
	return flat, []int64{int64(b), int64(t)}
}

// FlatMask returns the presence mask flattened row-major with its [B, T] shape.
func (e *Encoding) FlatMask() ([]float32, []int64) {
	b, t := len(e.Mask), e.PaddedLen()
	flat := make([]float32, 0, b*t)
	for _, row := range e.Mask {
		flat = append(flat, row...)
	}
	return flat, []int64{int64(b), int64(t)}
}
