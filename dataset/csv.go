package dataset

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/YuminosukeSato/diabeteskit/pkg/errors"
	"github.com/YuminosukeSato/diabeteskit/schema"
)

// LoadCSV reads a labelled dataset from path. See ReadCSV.
func LoadCSV(path string, s *schema.Schema, label string) (*Frame, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "open dataset %s", path)
	}
	defer file.Close()

	f, err := ReadCSV(file, s, label)
	if err != nil {
		return nil, errors.Wrapf(err, "read dataset %s", path)
	}
	return f, nil
}

// ReadCSV reads a header-first CSV. Columns are matched by name, so the file
// may order them freely and may carry extra columns, which are ignored. Every
// schema column and the label column must be present in the header. Empty
// cells of optional columns become missing values; empty cells of required
// columns are an error. Labels must be 0 or 1.
func ReadCSV(r io.Reader, s *schema.Schema, label string) (*Frame, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err == io.EOF {
		return nil, errors.Wrap(errors.ErrEmptyData, "csv has no header")
	}
	if err != nil {
		return nil, errors.Wrap(err, "read csv header")
	}
	pos := make(map[string]int, len(header))
	for i, h := range header {
		pos[strings.TrimSpace(h)] = i
	}

	colPos := make([]int, s.Len())
	var missing []string
	for j, c := range s.Columns {
		p, ok := pos[c.Name]
		if !ok {
			missing = append(missing, c.Name)
			continue
		}
		colPos[j] = p
	}
	labelPos, ok := pos[label]
	if !ok {
		missing = append(missing, label)
	}
	if len(missing) > 0 {
		return nil, errors.NewSchemaMismatchError(nil, missing, nil)
	}

	var (
		rows   []schema.Row
		labels []int
	)
	for line := 2; ; line++ {
		rec, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.Wrapf(err, "line %d", line)
		}

		row := make(schema.Row, s.Len())
		for j, c := range s.Columns {
			v, err := parseCell(c, rec[colPos[j]])
			if err != nil {
				return nil, errors.Wrapf(err, "line %d", line)
			}
			row[j] = v
		}
		l, err := parseLabel(rec[labelPos])
		if err != nil {
			return nil, errors.Wrapf(err, "line %d", line)
		}
		rows = append(rows, row)
		labels = append(labels, l)
	}

	return New(s, rows, labels)
}

func parseCell(c schema.Column, raw string) (schema.Value, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		if c.Required {
			return schema.Value{}, errors.NewValueError("ReadCSV", fmt.Sprintf("required column %q is empty", c.Name))
		}
		return schema.Missing(), nil
	}
	if c.Kind == schema.Categorical {
		return schema.Cat(raw), nil
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return schema.Value{}, errors.NewValueError("ReadCSV", fmt.Sprintf("column %q: %q is not a number", c.Name, raw))
	}
	return schema.Num(f), nil
}

func parseLabel(raw string) (int, error) {
	f, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil || (f != 0 && f != 1) {
		return 0, errors.NewValueError("ReadCSV", fmt.Sprintf("label %q is not 0 or 1", raw))
	}
	return int(f), nil
}

// WriteCSV writes the frame with a header of schema names followed by label.
// Missing values are written as empty cells.
func WriteCSV(w io.Writer, f *Frame, label string) error {
	cw := csv.NewWriter(w)
	header := append(f.Schema.Names(), label)
	if err := cw.Write(header); err != nil {
		return errors.Wrap(err, "write csv header")
	}
	rec := make([]string, len(header))
	for i, row := range f.Rows {
		for j, v := range row {
			switch {
			case v.Missing:
				rec[j] = ""
			case f.Schema.Columns[j].Kind == schema.Categorical:
				rec[j] = v.Cat
			default:
				rec[j] = strconv.FormatFloat(v.Num, 'g', -1, 64)
			}
		}
		rec[len(rec)-1] = strconv.Itoa(f.Labels[i])
		if err := cw.Write(rec); err != nil {
			return errors.Wrapf(err, "write row %d", i)
		}
	}
	cw.Flush()
	return errors.WithStack(cw.Error())
}
