package storage

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const maxEntries = 500

const (
	auditFile    = "audit.txt"
	historyFile  = "history.txt"
	channelsFile = "channels.txt"
)

// EnsureDir creates the data directory if it doesn't exist yet
func EnsureDir(dataDir string) error {
	return os.MkdirAll(dataDir, 0755)
}

// LoadHistory reads connection history from file
// Returns entries in reverse chronological order (newest first)
func LoadHistory(dataDir string) ([]string, error) {
	lines, err := readLines(filepath.Join(dataDir, historyFile))
	if err != nil {
		if os.IsNotExist(err) {
			return []string{}, nil
		}
		return nil, err
	}
	// file stores oldest first
	return reverse(lines), nil
}

// SaveHistory writes connection history to file
// Expects entries in reverse chronological order (newest first)
func SaveHistory(dataDir string, history []string) error {
	return writeLines(filepath.Join(dataDir, historyFile), reverse(history))
}

// AddHistory prepends a new history entry (keeping newest first in memory)
func AddHistory(history []string, entry string) []string {
	history = append([]string{entry}, history...)
	if len(history) > maxEntries {
		history = history[:maxEntries]
	}
	return history
}

// LoadAudit reads the owner command audit trail, oldest first
func LoadAudit(dataDir string) ([]string, error) {
	lines, err := readLines(filepath.Join(dataDir, auditFile))
	if err != nil {
		if os.IsNotExist(err) {
			return []string{}, nil
		}
		return nil, err
	}
	return lines, nil
}

// SaveAudit writes the audit trail to file (max 500 entries)
func SaveAudit(dataDir string, audit []string) error {
	if len(audit) > maxEntries {
		audit = audit[len(audit)-maxEntries:]
	}
	return writeLines(filepath.Join(dataDir, auditFile), audit)
}

// AddAudit appends a new audit entry
func AddAudit(audit []string, entry string) []string {
	audit = append(audit, entry)
	if len(audit) > maxEntries {
		audit = audit[1:]
	}
	return audit
}

// Channels are stored one per line as "name" or "name%%key"
type Channel struct {
	Name string
	Key  string
}

// LoadChannels reads the channels joined at runtime by owner commands
func LoadChannels(dataDir string) ([]Channel, error) {
	lines, err := readLines(filepath.Join(dataDir, channelsFile))
	if err != nil {
		if os.IsNotExist(err) {
			return []Channel{}, nil
		}
		return nil, err
	}
	channels := make([]Channel, 0, len(lines))
	for _, line := range lines {
		parts := strings.SplitN(strings.TrimSpace(line), "%%", 2)
		ch := Channel{Name: parts[0]}
		if len(parts) == 2 {
			ch.Key = parts[1]
		}
		channels = append(channels, ch)
	}
	return channels, nil
}

// SaveChannels writes the runtime channel list to file
func SaveChannels(dataDir string, channels []Channel) error {
	lines := make([]string, 0, len(channels))
	for _, ch := range channels {
		if ch.Key == "" {
			lines = append(lines, ch.Name)
			continue
		}
		lines = append(lines, fmt.Sprintf("%s%%%%%s", ch.Name, ch.Key))
	}
	return writeLines(filepath.Join(dataDir, channelsFile), lines)
}

func readLines(path string) ([]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var lines []string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := scanner.Text()
		if line != "" {
			lines = append(lines, line)
		}
	}
	return lines, scanner.Err()
}

func writeLines(path string, lines []string) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	for _, line := range lines {
		if _, err := fmt.Fprintln(file, line); err != nil {
			return err
		}
	}
	return nil
}

func reverse(s []string) []string {
	result := make([]string, len(s))
	for i, v := range s {
		result[len(s)-1-i] = v
	}
	return result
}
