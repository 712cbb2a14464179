package model

import "errors"

var (
	ErrJobNotFound      = errors.New("job not found")
	ErrJobTerminal      = errors.New("job already finished")
	ErrInvalidJobID     = errors.New("invalid job id")
	ErrInvalidFileID    = errors.New("invalid file id")
	ErrArtifactNotFound = errors.New("artifact not found")
	ErrNoAssets         = errors.New("no assets found for requested songs")
	ErrQueueFull        = errors.New("job queue is full")
	ErrDispatchFailed   = errors.New("job could not be scheduled")
	ErrInvalidSongs     = errors.New("exactly 3 song titles of 1-200 characters are required")
	ErrInvalidSnapshot  = errors.New("invalid job snapshot")
)
