package discovery

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/bgricker/contractpipe/internal/storage"
)

// ErrNoContracts indicates that no saved contracts were found.
var ErrNoContracts = errors.New("no contracts discovered")

// Entry is a saved contract and its report, when one exists.
type Entry struct {
	Name     string    `json:"name"`
	Path     string    `json:"path"`
	Report   string    `json:"report,omitempty"`
	Size     int64     `json:"size"`
	Modified time.Time `json:"modified"`
}

// HasReport reports whether an analysis report was saved for the contract.
func (e Entry) HasReport() bool {
	return e.Report != ""
}

// Contracts returns the contracts saved under contractsDir, sorted by name,
// paired with their reports in reportsDir. Relative directories are resolved
// against root and returned paths are relative to root when possible.
func Contracts(root, contractsDir, reportsDir string) ([]Entry, error) {
	contractsDir = resolve(root, contractsDir)
	reportsDir = resolve(root, reportsDir)

	pattern := filepath.Join(contractsDir, "contract_*"+storage.ContractExt)
	found, err := filepath.Glob(pattern)
	if err != nil {
		return nil, fmt.Errorf("glob %q: %w", pattern, err)
	}
	if len(found) == 0 {
		return nil, ErrNoContracts
	}
	sort.Strings(found)

	entries := make([]Entry, 0, len(found))
	for _, p := range found {
		info, err := os.Stat(p)
		if err != nil {
			return nil, fmt.Errorf("stat %q: %w", p, err)
		}
		if info.IsDir() {
			continue
		}
		entry := Entry{
			Name:     filepath.Base(p),
			Path:     mustRelOrClean(root, p),
			Size:     info.Size(),
			Modified: info.ModTime(),
		}
		reportPath := filepath.Join(reportsDir, storage.ReportName(entry.Name))
		if _, err := os.Stat(reportPath); err == nil {
			entry.Report = mustRelOrClean(root, reportPath)
		} else if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("stat %q: %w", reportPath, err)
		}
		entries = append(entries, entry)
	}
	if len(entries) == 0 {
		return nil, ErrNoContracts
	}
	return entries, nil
}

func resolve(root, dir string) string {
	if filepath.IsAbs(dir) {
		return filepath.Clean(dir)
	}
	return filepath.Join(root, dir)
}

func mustRelOrClean(root, path string) string {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return filepath.Clean(path)
	}
	rel = filepath.Clean(rel)
	if rel == "." || strings.HasPrefix(rel, "..") {
		return filepath.Clean(path)
	}
	return rel
}
