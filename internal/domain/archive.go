package domain

// TurnRecord is one archived completed turn of a session.
type TurnRecord struct {
	PK                string
	SK                string
	SessionID         string
	QueryText         string
	RowCount          int
	ReferencedSources []string
	TTL               int64
}

// SessionMeta stores aggregate archived session state.
type SessionMeta struct {
	PK           string
	SK           string
	SessionID    string
	LastActivity string
	Turns        int
	TTL          int64
}

// TranscriptRecord is an exported transcript archived for a session.
type TranscriptRecord struct {
	PK         string
	SK         string
	SessionID  string
	Body       string
	ExportedAt string
	TTL        int64
}
