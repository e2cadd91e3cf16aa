package dataset

import (
	"encoding/csv"
	"fmt"
	"os"
	"slices"
	"strconv"
)

// csvHeader is the column layout of the derived dataset files.
var csvHeader = []string{"text1", "text2", "label"}

// SaveCSV writes pairs to a CSV file with a text1,text2,label header.
func SaveCSV(filename string, pairs []ContrastivePair) error {
	file, err := os.Create(filename)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	if err := writer.Write(csvHeader); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}
	for i, p := range pairs {
		record := []string{p.Text1, p.Text2, strconv.Itoa(int(p.Label))}
		if err := writer.Write(record); err != nil {
			return fmt.Errorf("failed to write row %d: %w", i+1, err)
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return fmt.Errorf("failed to flush CSV: %w", err)
	}
	return nil
}

// LoadCSV reads pairs from a CSV file written by SaveCSV.
func LoadCSV(filename string) ([]ContrastivePair, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	reader := csv.NewReader(file)
	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to read CSV: %w", err)
	}
	if len(records) < 1 {
		return nil, fmt.Errorf("CSV file %s is empty or missing header", filename)
	}

	if !slices.Equal(records[0], csvHeader) {
		return nil, fmt.Errorf("unexpected header %v in %s, want %v", records[0], filename, csvHeader)
	}
	records = records[1:]

	pairs := make([]ContrastivePair, 0, len(records))
	for i, record := range records {
		if len(record) != 3 {
			return nil, fmt.Errorf("invalid record length at row %d: got %d, want 3", i+1, len(record))
		}
		label, err := strconv.Atoi(record[2])
		if err != nil {
			return nil, fmt.Errorf("invalid label at row %d: %w", i+1, err)
		}
		if label != 0 && label != 1 {
			return nil, fmt.Errorf("label out of range {0, 1} at row %d: %d", i+1, label)
		}
		pairs = append(pairs, ContrastivePair{
			Text1: record[0],
			Text2: record[1],
			Label: float32(label),
		})
	}
	return pairs, nil
}
