package config

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"

	"github.com/evanward/triarb/internal/domain"
)

// LoadCycles reads the trading_pairs_file named by the strategy config: a
// CSV with one candidate cycle per row, each row's first three columns
// the currency triple (an optional header row and any trailing columns
// are ignored), mirroring the original's load_cycles_from_csv.
func LoadCycles(path string) ([]domain.Cycle, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config.LoadCycles: open %q: %w", path, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1 // rows may carry a trailing profit/annotation column

	var cycles []domain.Cycle
	first := true
	for {
		row, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("config.LoadCycles: %q: %w", path, err)
		}
		if first {
			first = false
			if len(row) > 0 && !looksLikeCurrency(row[0]) {
				continue // header row, e.g. "base,intermediate,quote"
			}
		}
		if len(row) < 3 {
			continue
		}
		cycles = append(cycles, domain.Cycle{
			domain.Normalize(row[0]),
			domain.Normalize(row[1]),
			domain.Normalize(row[2]),
		})
	}
	return cycles, nil
}

// looksLikeCurrency is a cheap heuristic distinguishing a currency code
// ("BTC") from a header label ("currency1", "base") — a real code is
// short and, once normalized, unchanged by alphabetic upper-casing.
func looksLikeCurrency(field string) bool {
	if field == "" || len(field) > 10 {
		return false
	}
	return string(domain.Normalize(field)) == field
}
