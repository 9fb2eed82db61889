package uc

import (
	"errors"

	"github.com/compozy/policyrag/engine/knowledge"
)

var (
	ErrInvalidInput   = knowledge.ErrInvalidInput
	ErrEmptyQuestion  = errors.New("question is required")
	ErrEmptyFilename  = errors.New("filename is required")
	ErrMissingRuntime = errors.New("runtime dependencies are incomplete")
)
