package tableio

import (
	"bufio"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// ReadFloats reads one float per line. Blank lines are skipped.
func ReadFloats(path string) ([]float64, error) {
	var out []float64
	err := scanLines(path, func(line string) error {
		v, err := strconv.ParseFloat(line, 64)
		if err != nil {
			return err
		}
		out = append(out, v)
		return nil
	})
	return out, err
}

// ReadInts reads one integer per line. Blank lines are skipped.
func ReadInts(path string) ([]int64, error) {
	var out []int64
	err := scanLines(path, func(line string) error {
		v, err := strconv.ParseInt(line, 10, 64)
		if err != nil {
			return err
		}
		out = append(out, v)
		return nil
	})
	return out, err
}

// WriteFloats writes one float per line.
func WriteFloats(path string, vals []float64) error {
	lines := make([]string, len(vals))
	for i, v := range vals {
		lines[i] = strconv.FormatFloat(v, 'g', -1, 64)
	}
	return writeLines(path, lines)
}

// WriteInts writes one integer per line.
func WriteInts(path string, vals []int64) error {
	lines := make([]string, len(vals))
	for i, v := range vals {
		lines[i] = strconv.FormatInt(v, 10)
	}
	return writeLines(path, lines)
}

func scanLines(path string, fn func(string) error) error {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrNotExist, path)
		}
		return err
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	n := 0
	for sc.Scan() {
		n++
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		if err := fn(line); err != nil {
			return fmt.Errorf("%s:%d: %w", path, n, err)
		}
	}
	return sc.Err()
}

func writeLines(path string, lines []string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}
	var sb strings.Builder
	for _, l := range lines {
		sb.WriteString(l)
		sb.WriteByte('\n')
	}
	return os.WriteFile(path, []byte(sb.String()), 0o644)
}
