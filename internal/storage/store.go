// Package storage persists generated contracts and their analysis reports.
package storage

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"
)

// Kind separates the two artifact families.
type Kind string

const (
	KindContract Kind = "contract"
	KindReport   Kind = "report"
)

const (
	// ContractExt is the file extension of saved contracts.
	ContractExt = ".sol"
	// ReportSuffix replaces the contract extension to name its report.
	ReportSuffix = "_Report.txt"

	contractPrefix = "contract_"
	timestampFmt   = "20060102150405"
)

// ErrEmptyArtifact is returned when asked to save empty content.
var ErrEmptyArtifact = errors.New("artifact is empty")

// Backend writes named artifacts. Put must create its containers on first use.
type Backend interface {
	Put(ctx context.Context, kind Kind, name string, data []byte) (string, error)
	Exists(ctx context.Context, kind Kind, name string) (bool, error)
}

// Artifact identifies a saved artifact.
type Artifact struct {
	Kind     Kind   `json:"kind"`
	Name     string `json:"name"`
	Location string `json:"location"`
}

// Store names and saves contracts and reports through a Backend.
type Store struct {
	backend Backend
	now     func() time.Time
	issued  map[string]bool
}

// New creates a store. A nil now uses time.Now.
func New(backend Backend, now func() time.Time) *Store {
	if now == nil {
		now = time.Now
	}
	return &Store{backend: backend, now: now, issued: map[string]bool{}}
}

// ContractName derives the timestamped contract file name.
func ContractName(t time.Time) string {
	return contractPrefix + t.Format(timestampFmt) + ContractExt
}

// ReportName derives the report file name from a contract file name: same
// stem, fixed suffix.
func ReportName(contractName string) string {
	base := path.Base(strings.ReplaceAll(contractName, "\\", "/"))
	stem := strings.TrimSuffix(base, path.Ext(base))
	return stem + ReportSuffix
}

// SaveContract saves source under a fresh unique name.
func (s *Store) SaveContract(ctx context.Context, source string) (Artifact, error) {
	if strings.TrimSpace(source) == "" {
		return Artifact{}, fmt.Errorf("save contract: %w", ErrEmptyArtifact)
	}
	name, err := s.uniqueName(ctx, ContractName(s.now()))
	if err != nil {
		return Artifact{}, err
	}
	loc, err := s.backend.Put(ctx, KindContract, name, []byte(source))
	if err != nil {
		return Artifact{}, fmt.Errorf("save contract %s: %w", name, err)
	}
	s.issued[name] = true
	return Artifact{Kind: KindContract, Name: name, Location: loc}, nil
}

// SaveReport saves the analysis report of contract. Saving twice overwrites,
// so a contract has at most one report.
func (s *Store) SaveReport(ctx context.Context, contract Artifact, report string) (Artifact, error) {
	if contract.Name == "" {
		return Artifact{}, fmt.Errorf("save report: contract name is required")
	}
	if strings.TrimSpace(report) == "" {
		return Artifact{}, fmt.Errorf("save report: %w", ErrEmptyArtifact)
	}
	name := ReportName(contract.Name)
	loc, err := s.backend.Put(ctx, KindReport, name, []byte(report))
	if err != nil {
		return Artifact{}, fmt.Errorf("save report %s: %w", name, err)
	}
	return Artifact{Kind: KindReport, Name: name, Location: loc}, nil
}

func (s *Store) uniqueName(ctx context.Context, base string) (string, error) {
	stem := strings.TrimSuffix(base, ContractExt)
	name := base
	for n := 1; ; n++ {
		if !s.issued[name] {
			exists, err := s.backend.Exists(ctx, KindContract, name)
			if err != nil {
				return "", fmt.Errorf("check contract name %s: %w", name, err)
			}
			if !exists {
				return name, nil
			}
		}
		name = fmt.Sprintf("%s_%d%s", stem, n, ContractExt)
	}
}
