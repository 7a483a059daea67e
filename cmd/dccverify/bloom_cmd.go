package main

import (
	"bufio"
	"bytes"
	"encoding/hex"
	"flag"
	"fmt"
	"os"
	"strings"

	"dccgate/internal/infra/bloom"
)

func runBloomBuild(args []string) int {
	fs := flag.NewFlagSet("bloom build", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	var elementsPath string
	var probability float64
	var outPath string

	fs.StringVar(&elementsPath, "elements", "", "file with one hex encoded element per line")
	fs.Float64Var(&probability, "p", 0.001, "target false positive probability")
	fs.StringVar(&outPath, "out", "", "filter output path")

	if err := fs.Parse(args); err != nil {
		return exitError
	}
	if elementsPath == "" || outPath == "" {
		fmt.Fprintln(os.Stderr, "bloom build requires --elements and --out")
		return exitError
	}
	elements, err := readHexLines(elementsPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "read elements: %v\n", err)
		return exitError
	}
	n := uint32(len(elements))
	if n == 0 {
		n = 1
	}
	filter, err := bloom.NewWithProbability(n, float32(probability))
	if err != nil {
		fmt.Fprintf(os.Stderr, "new filter: %v\n", err)
		return exitError
	}
	for _, element := range elements {
		filter.Add(element)
	}
	blob, err := filter.MarshalBinary()
	if err != nil {
		fmt.Fprintf(os.Stderr, "encode filter: %v\n", err)
		return exitError
	}
	if err := os.WriteFile(outPath, blob, 0o644); err != nil {
		fmt.Fprintf(os.Stderr, "write filter: %v\n", err)
		return exitError
	}
	fmt.Fprintf(os.Stderr, "filter: %d elements, %d bits, %d rounds\n", filter.Elements(), filter.NumBits(), filter.HashRounds())
	return exitOK
}

func runBloomCheck(args []string) int {
	fs := flag.NewFlagSet("bloom check", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	var filterPath string
	var element string

	fs.StringVar(&filterPath, "filter", "", "filter path")
	fs.StringVar(&element, "element", "", "hex encoded element")

	if err := fs.Parse(args); err != nil {
		return exitError
	}
	if filterPath == "" || element == "" {
		fmt.Fprintln(os.Stderr, "bloom check requires --filter and --element")
		return exitError
	}
	blob, err := os.ReadFile(filterPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "read filter: %v\n", err)
		return exitError
	}
	filter, err := bloom.Decode(blob)
	if err != nil {
		fmt.Fprintf(os.Stderr, "decode filter: %v\n", err)
		return exitError
	}
	value, err := hex.DecodeString(strings.TrimSpace(element))
	if err != nil {
		fmt.Fprintf(os.Stderr, "decode element: %v\n", err)
		return exitError
	}
	if filter.MightContain(value) {
		fmt.Fprintln(os.Stdout, "present")
		return exitOK
	}
	fmt.Fprintln(os.Stdout, "absent")
	return exitInvalid
}

func readHexLines(path string) ([][]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var out [][]byte
	scanner := bufio.NewScanner(bytes.NewReader(data))
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		value, err := hex.DecodeString(text)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		out = append(out, value)
	}
	return out, scanner.Err()
}
