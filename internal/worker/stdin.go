package worker

import (
	"bufio"
	"io"
	"strings"
)

// ReadInputs reads lookup keys from r, one per line, trims whitespace, and
// drops blank lines. Comment lines starting with '#' are skipped so key lists
// can be annotated.
func ReadInputs(r io.Reader) ([]string, error) {
	var keys []string
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		keys = append(keys, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return keys, nil
}
