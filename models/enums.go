package models

import (
	"encoding/json"
	"errors"
)

type CollectionStatus string

const (
	CollectionStatusCollected CollectionStatus = "collected"
	CollectionStatusReceived  CollectionStatus = "received"
	CollectionStatusCancelled CollectionStatus = "cancelled"
)

func (s CollectionStatus) IsValid() bool {
	switch s {
	case CollectionStatusCollected, CollectionStatusReceived, CollectionStatusCancelled:
		return true
	}
	return false
}

// convert input to enum type
func (s *CollectionStatus) UnmarshalJSON(b []byte) error {
	var str string
	if err := json.Unmarshal(b, &str); err != nil {
		return errors.New("collection status must be string")
	}
	if !CollectionStatus(str).IsValid() {
		return errors.New("invalid collection status")
	}
	*s = CollectionStatus(str)
	return nil
}

type CollectionSource string

const (
	CollectionSourceRealtime      CollectionSource = "realtime"
	CollectionSourceManualHistory CollectionSource = "manual_history"
	CollectionSourceExcelImport   CollectionSource = "excel_import"
)

func (s CollectionSource) IsValid() bool {
	switch s {
	case CollectionSourceRealtime, CollectionSourceManualHistory, CollectionSourceExcelImport:
		return true
	}
	return false
}

func (s *CollectionSource) UnmarshalJSON(b []byte) error {
	var str string
	if err := json.Unmarshal(b, &str); err != nil {
		return errors.New("collection source must be string")
	}
	if !CollectionSource(str).IsValid() {
		return errors.New("invalid collection source")
	}
	*s = CollectionSource(str)
	return nil
}

type HistoryAction string

const (
	HistoryActionCreate  HistoryAction = "create"
	HistoryActionReceive HistoryAction = "receive"
	HistoryActionEdit    HistoryAction = "edit"
	HistoryActionCancel  HistoryAction = "cancel"
)

// history field names
const (
	HistoryFieldStatus = "status"
	HistoryFieldAmount = "amount"
	HistoryFieldNotes  = "notes"
)
