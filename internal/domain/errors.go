package domain

import (
	"errors"
	"fmt"
)

var (
	ErrRuntimeNotConfigured = errors.New("the path to your java installation has not been configured")
	ErrExecutableNotFound   = errors.New("java executable not found")
	ErrRateLimited          = errors.New("you have been rate-limited, please try again in a few minutes")
	ErrNoCachedVersion      = errors.New("no cached client version found")
)

type NetworkError struct {
	Op  string
	Err error
}

func (e NetworkError) Error() string {
	return fmt.Sprintf("network %s: %v", e.Op, e.Err)
}

func (e NetworkError) Unwrap() error {
	return e.Err
}

type IntegrityMismatchError struct {
	Path     string
	Expected string
	Actual   string
}

func (e IntegrityMismatchError) Error() string {
	return fmt.Sprintf("integrity mismatch for %s: server maps hash to %q, want %q", e.Path, e.Actual, e.Expected)
}

type MissingDependencyError struct {
	Kind ArtifactKind
	Game Game
	Err  error
}

func (e MissingDependencyError) Error() string {
	if e.Game != "" {
		return fmt.Sprintf("missing %s dependency for %s: %v", e.Kind, e.Game, e.Err)
	}
	return fmt.Sprintf("missing %s dependency: %v", e.Kind, e.Err)
}

func (e MissingDependencyError) Unwrap() error {
	return e.Err
}

type ArchiveExtractionError struct {
	Archive string
	Err     error
}

func (e ArchiveExtractionError) Error() string {
	return fmt.Sprintf("extract %s: %v", e.Archive, e.Err)
}

func (e ArchiveExtractionError) Unwrap() error {
	return e.Err
}

type AuthenticationError struct {
	Email string
	Err   error
}

func (e AuthenticationError) Error() string {
	return fmt.Sprintf("failed to login as %s: %v", e.Email, e.Err)
}

func (e AuthenticationError) Unwrap() error {
	return e.Err
}

type ParseError struct {
	Input    string
	Attempts []error
}

func (e ParseError) Error() string {
	return fmt.Sprintf("unable to parse quick launch argument %q: attempted %d methods and all failed", e.Input, len(e.Attempts))
}

func (e ParseError) Unwrap() []error {
	return e.Attempts
}

type ProcessSpawnError struct {
	Executable string
	Err        error
}

func (e ProcessSpawnError) Error() string {
	return fmt.Sprintf("spawn %s: %v", e.Executable, e.Err)
}

func (e ProcessSpawnError) Unwrap() error {
	return e.Err
}
