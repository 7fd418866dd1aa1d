package main

import (
	"encoding/binary"
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
)

// readSamples loads a sample matrix from path. CSV files carry one sample per
// row and infer the feature count from the first row; any other extension is
// treated as raw little-endian float32 and requires an explicit feature count.
func readSamples(path string, features uint16) ([]float32, uint32, uint16, error) {
	if filepath.Ext(path) == ".csv" {
		return readCSVSamples(path)
	}
	return readRawSamples(path, features)
}

func readCSVSamples(path string) ([]float32, uint32, uint16, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, 0, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.ReuseRecord = true

	var samples []float32
	var features int
	rows := 0
	for {
		record, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, 0, 0, fmt.Errorf("%s: %w", path, err)
		}
		if features == 0 {
			features = len(record)
			if features == 0 || features > math.MaxUint16 {
				return nil, 0, 0, fmt.Errorf("%s: unusable feature count %d", path, features)
			}
		} else if len(record) != features {
			return nil, 0, 0, fmt.Errorf("%s: row %d has %d fields, want %d",
				path, rows+1, len(record), features)
		}
		for _, field := range record {
			v, err := strconv.ParseFloat(field, 32)
			if err != nil {
				return nil, 0, 0, fmt.Errorf("%s: row %d: %w", path, rows+1, err)
			}
			samples = append(samples, float32(v))
		}
		rows++
	}
	if rows == 0 {
		return nil, 0, 0, fmt.Errorf("%s: no samples", path)
	}
	return samples, uint32(rows), uint16(features), nil
}

func readRawSamples(path string, features uint16) ([]float32, uint32, uint16, error) {
	if features == 0 {
		return nil, 0, 0, fmt.Errorf("%s: raw input requires --features", path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, 0, 0, err
	}
	rowBytes := int(features) * 4
	if len(data) == 0 || len(data)%rowBytes != 0 {
		return nil, 0, 0, fmt.Errorf("%s: %d bytes is not a multiple of the %d-byte row size",
			path, len(data), rowBytes)
	}
	samples := make([]float32, len(data)/4)
	for i := range samples {
		samples[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
	}
	return samples, uint32(len(data) / rowBytes), features, nil
}

func writeCentroids(path string, centroids []float32, features int) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	record := make([]string, features)
	for row := 0; row < len(centroids)/features; row++ {
		for col := 0; col < features; col++ {
			record[col] = strconv.FormatFloat(float64(centroids[row*features+col]), 'g', -1, 32)
		}
		if err := w.Write(record); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}

func writeAssignments(path string, assignments []uint32) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	for _, a := range assignments {
		if err := w.Write([]string{strconv.FormatUint(uint64(a), 10)}); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}
