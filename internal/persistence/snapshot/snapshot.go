// Package snapshot reads and writes structure snapshots as CSV
// (type,x,y,angle,area), optionally zstd-compressed when the path ends in .zst.
package snapshot

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/klauspost/compress/zstd"

	"granamodel/internal/sim/simerr"
	"granamodel/internal/sim/structure"
)

var Header = []string{"type", "x", "y", "angle", "area"}

type Row struct {
	Type  string
	X     float64
	Y     float64
	Angle float64
	Area  float64
}

// Capture records the current pose of every structure.
func Capture(structs []*structure.Structure) []Row {
	rows := make([]Row, 0, len(structs))
	for _, s := range structs {
		p := s.Position()
		rows = append(rows, Row{Type: s.Type, X: p.X, Y: p.Y, Angle: s.Angle(), Area: s.Area()})
	}
	return rows
}

func IsCompressed(path string) bool { return strings.HasSuffix(path, ".zst") }

// Write replaces path atomically with the encoded rows.
func Write(path string, rows []Row) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if err := encodeTo(f, rows, IsCompressed(path)); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}

func encodeTo(w io.Writer, rows []Row, compress bool) (err error) {
	if compress {
		enc, nerr := zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if nerr != nil {
			return nerr
		}
		defer func() {
			if cerr := enc.Close(); err == nil {
				err = cerr
			}
		}()
		w = enc
	}
	bw := bufio.NewWriterSize(w, 64*1024)
	if err := Encode(bw, rows); err != nil {
		return err
	}
	return bw.Flush()
}

// Encode writes the header and one record per row at full float precision.
func Encode(w io.Writer, rows []Row) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(Header); err != nil {
		return err
	}
	for _, r := range rows {
		rec := []string{r.Type, ff(r.X), ff(r.Y), ff(r.Angle), ff(r.Area)}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func Read(path string) ([]Row, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", simerr.ErrConfiguration, err)
	}
	defer f.Close()

	var r io.Reader = f
	if IsCompressed(path) {
		dec, err := zstd.NewReader(f)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", simerr.ErrConfiguration, err)
		}
		defer dec.Close()
		r = dec
	}
	rows, err := Decode(bufio.NewReaderSize(r, 64*1024))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	return rows, nil
}

// Decode parses snapshot CSV. Columns are matched by header name; area is
// optional and any extra columns are ignored.
func Decode(r io.Reader) ([]Row, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	head, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("%w: read header: %v", simerr.ErrConfiguration, err)
	}
	col := map[string]int{}
	for i, h := range head {
		col[strings.ToLower(strings.TrimSpace(h))] = i
	}
	for _, need := range []string{"type", "x", "y", "angle"} {
		if _, ok := col[need]; !ok {
			return nil, fmt.Errorf("%w: missing column %q", simerr.ErrConfiguration, need)
		}
	}
	areaCol, hasArea := col["area"]

	var rows []Row
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: line %d: %v", simerr.ErrConfiguration, line, err)
		}
		get := func(name string) string {
			if i := col[name]; i < len(rec) {
				return rec[i]
			}
			return ""
		}
		row := Row{Type: strings.TrimSpace(get("type"))}
		if row.Type == "" {
			return nil, fmt.Errorf("%w: line %d: empty type", simerr.ErrConfiguration, line)
		}
		if row.X, err = pf(get("x")); err != nil {
			return nil, fmt.Errorf("%w: line %d x: %v", simerr.ErrConfiguration, line, err)
		}
		if row.Y, err = pf(get("y")); err != nil {
			return nil, fmt.Errorf("%w: line %d y: %v", simerr.ErrConfiguration, line, err)
		}
		if row.Angle, err = pf(get("angle")); err != nil {
			return nil, fmt.Errorf("%w: line %d angle: %v", simerr.ErrConfiguration, line, err)
		}
		if hasArea && areaCol < len(rec) && rec[areaCol] != "" {
			row.Area, _ = pf(rec[areaCol])
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func ff(v float64) string { return strconv.FormatFloat(v, 'g', -1, 64) }

func pf(s string) (float64, error) { return strconv.ParseFloat(strings.TrimSpace(s), 64) }
