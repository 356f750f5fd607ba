package seeding

import (
	"encoding/csv"
	"fmt"
	"os"
	"strconv"
)

// LoadSeedFile merges a CSV of primitive constants harvested from prior
// runs into the pool. Each row is (type, value). A missing file is not
// an error; the seed file is optional input.
func LoadSeedFile(path string, pool *Pool) error {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("open seed file: %w", err)
	}
	defer f.Close()
	r := csv.NewReader(f)
	r.FieldsPerRecord = 2
	rows, err := r.ReadAll()
	if err != nil {
		return fmt.Errorf("parse seed file: %w", err)
	}
	for _, row := range rows {
		switch row[0] {
		case "int":
			if v, err := strconv.ParseInt(row[1], 10, 64); err == nil {
				pool.Add(v)
			}
		case "float":
			if v, err := strconv.ParseFloat(row[1], 64); err == nil {
				pool.Add(v)
			}
		case "str":
			pool.Add(row[1])
		}
	}
	return nil
}

// AppendSeedFile writes the pool contents to the CSV seed file,
// replacing its previous contents with the merged set.
func AppendSeedFile(path string, pool *Pool) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("write seed file: %w", err)
	}
	defer f.Close()
	w := csv.NewWriter(f)
	ints, floats, strings := pool.Snapshot()
	for _, v := range ints {
		if err := w.Write([]string{"int", strconv.FormatInt(v, 10)}); err != nil {
			return err
		}
	}
	for _, v := range floats {
		if err := w.Write([]string{"float", strconv.FormatFloat(v, 'g', -1, 64)}); err != nil {
			return err
		}
	}
	for _, v := range strings {
		if err := w.Write([]string{"str", v}); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}
