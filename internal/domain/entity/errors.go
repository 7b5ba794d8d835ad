package entity

import "errors"

var (
	// Context store errors
	ErrContextNotFound = errors.New("api context not found")

	// Push channel errors
	ErrChannelNotFound = errors.New("push channel not found")
	ErrChannelExists   = errors.New("push channel already exists with a different payload")

	// Journey errors
	ErrTemplateNotFound = errors.New("journey template not found")
	ErrSessionNotFound  = errors.New("journey session not found")
	ErrJourneyComplete  = errors.New("journey already completed")

	// Shape errors
	ErrShapeInvalid = errors.New("shape is not valid JSON")
)
