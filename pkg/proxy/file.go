package proxy

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// LoadFile reads one proxy identifier per line. Blank lines and lines
// starting with '#' are skipped.
func LoadFile(filename string) ([]string, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to open proxy file: %w", err)
	}
	defer file.Close()

	var ids []string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		ids = append(ids, line)
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading proxy file: %w", err)
	}

	return ids, nil
}

// RemoveFromFile rewrites filename without any line equal to proxyID.
func RemoveFromFile(filename, proxyID string) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("failed to read proxy file: %w", err)
	}

	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	kept := lines[:0]
	for _, line := range lines {
		if strings.TrimSpace(line) == proxyID {
			continue
		}
		kept = append(kept, line)
	}

	return writeLines(filename, kept)
}

// WriteFile writes ids one per line.
func WriteFile(filename string, ids []string) error {
	return writeLines(filename, ids)
}

func writeLines(filename string, lines []string) error {
	content := strings.Join(lines, "\n")
	if len(lines) > 0 {
		content += "\n"
	}

	tmp, err := os.CreateTemp(filepath.Dir(filename), ".proxies-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp proxy file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.WriteString(content); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write proxy file: %w", err)
	}
	// Keep the mode of the file being replaced; CreateTemp always uses 0600.
	mode := os.FileMode(0o644)
	if info, err := os.Stat(filename); err == nil {
		mode = info.Mode().Perm()
	}
	if err := tmp.Chmod(mode); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to set proxy file mode: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close proxy file: %w", err)
	}
	if err := os.Rename(tmpName, filename); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to replace proxy file: %w", err)
	}

	return nil
}
