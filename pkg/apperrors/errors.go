package apperrors

import "errors"

var (
	ErrNotFound          = errors.New("not found")
	ErrAlreadyRunning    = errors.New("discovery cycle already running")
	ErrMissingPrimaryKey = errors.New("entity has no primary key properties")
	ErrIndexNotBuilt     = errors.New("search index has not been built")
	ErrNoCurrentVersion  = errors.New("no current ontology version")
)
