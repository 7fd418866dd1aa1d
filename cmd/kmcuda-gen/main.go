// Synthetic sample generator for kmcuda.
//
// Produces gaussian blobs around randomly placed cluster centers, suitable for
// exercising the clustering CLI end to end.
//
// Usage:
//
//	go run cmd/kmcuda-gen/main.go [options]
//
// Options:
//
//	-count    Number of samples to generate (default: 5000)
//	-dims     Features per sample (default: 16)
//	-clusters Number of natural clusters (default: 20)
//	-spread   Standard deviation of each blob (default: 0.05)
//	-seed     Random seed (default: 42)
//	-format   Output format: csv or f32 (default: csv)
//	-output   Output file (default: samples.csv)
//
// Examples:
//
//	# 10000 samples in 50 natural clusters
//	go run cmd/kmcuda-gen/main.go -count 10000 -clusters 50
//
//	# Raw little-endian float32 output
//	go run cmd/kmcuda-gen/main.go -format f32 -output samples.f32
package main

import (
	"bufio"
	"encoding/binary"
	"encoding/csv"
	"flag"
	"fmt"
	"log"
	"math"
	"math/rand"
	"os"
	"strconv"
)

func main() {
	count := flag.Int("count", 5000, "number of samples to generate")
	dims := flag.Int("dims", 16, "features per sample")
	clusters := flag.Int("clusters", 20, "number of natural clusters")
	spread := flag.Float64("spread", 0.05, "standard deviation of each blob")
	seed := flag.Int64("seed", 42, "random seed")
	format := flag.String("format", "csv", "output format: csv or f32")
	output := flag.String("output", "samples.csv", "output file")
	flag.Parse()

	if *count <= 0 || *dims <= 0 || *dims > math.MaxUint16 || *clusters <= 0 {
		log.Fatalf("invalid shape: count=%d dims=%d clusters=%d", *count, *dims, *clusters)
	}
	if *clusters > *count {
		log.Fatalf("clusters (%d) exceeds count (%d)", *clusters, *count)
	}

	r := rand.New(rand.NewSource(*seed))
	samples := generateBlobs(r, *count, *dims, *clusters, *spread)

	var err error
	switch *format {
	case "csv":
		err = writeCSV(*output, samples, *dims)
	case "f32":
		err = writeRaw(*output, samples)
	default:
		log.Fatalf("unknown format %q", *format)
	}
	if err != nil {
		log.Fatalf("write %s: %v", *output, err)
	}
	fmt.Printf("wrote %d samples x %d features (%d natural clusters) to %s\n",
		*count, *dims, *clusters, *output)
}

// generateBlobs places cluster centers uniformly in the unit hypercube and
// scatters samples around them with gaussian noise. Samples are dealt to
// clusters round-robin so every cluster is populated.
func generateBlobs(r *rand.Rand, count, dims, clusters int, spread float64) []float32 {
	centers := make([]float64, clusters*dims)
	for i := range centers {
		centers[i] = r.Float64()
	}

	samples := make([]float32, count*dims)
	for i := 0; i < count; i++ {
		c := i % clusters
		for d := 0; d < dims; d++ {
			v := centers[c*dims+d] + r.NormFloat64()*spread
			samples[i*dims+d] = float32(v)
		}
	}

	// shuffle rows so natural clusters are not contiguous in the file
	for i := count - 1; i > 0; i-- {
		j := r.Intn(i + 1)
		for d := 0; d < dims; d++ {
			samples[i*dims+d], samples[j*dims+d] = samples[j*dims+d], samples[i*dims+d]
		}
	}
	return samples
}

func writeCSV(path string, samples []float32, dims int) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	record := make([]string, dims)
	for row := 0; row < len(samples)/dims; row++ {
		for col := 0; col < dims; col++ {
			record[col] = strconv.FormatFloat(float64(samples[row*dims+col]), 'g', -1, 32)
		}
		if err := w.Write(record); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}

func writeRaw(path string, samples []float32) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	var buf [4]byte
	for _, v := range samples {
		binary.LittleEndian.PutUint32(buf[:], math.Float32bits(v))
		if _, err := w.Write(buf[:]); err != nil {
			return err
		}
	}
	return w.Flush()
}
