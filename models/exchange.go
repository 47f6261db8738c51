package models

import (
	"time"
)

// DataKind is the record family an exchange was classified as.
type DataKind string

const (
	KindComment        DataKind = "comment"
	KindNote           DataKind = "note"
	KindUser           DataKind = "user"
	KindNotification   DataKind = "notification"
	KindSearch         DataKind = "search"
	KindRecommendation DataKind = "recommendation"
)

func (k DataKind) Valid() bool {
	switch k {
	case KindComment, KindNote, KindUser, KindNotification, KindSearch, KindRecommendation:
		return true
	}
	return false
}

// CapturedExchange is one HTTP request/response pair handed to the
// pipeline, plus the fields derived while processing it.
type CapturedExchange struct {
	RequestID       string            `json:"requestId"`
	RuleLabel       string            `json:"ruleLabel,omitempty"`
	URL             string            `json:"url"`
	Method          string            `json:"method,omitempty"`
	RequestHeaders  map[string]string `json:"requestHeaders,omitempty"`
	RequestBody     string            `json:"requestBody,omitempty"`
	ResponseHeaders map[string]string `json:"responseHeaders,omitempty"`
	ResponseBody    string            `json:"responseBody"`
	StatusCode      int               `json:"statusCode,omitempty"`
	CapturedAt      *time.Time        `json:"capturedAt,omitempty"`

	DataKind        DataKind   `json:"dataKind,omitempty"`
	ItemsExtracted  int        `json:"itemsExtracted"`
	ItemsSaved      int        `json:"itemsSaved"`
	ProcessingError string     `json:"processingError,omitempty"`
	Processed       bool       `json:"processed"`
	ProcessedAt     *time.Time `json:"processedAt,omitempty"`
}

// ProcessingSummary is returned for every exchange, processed or not.
type ProcessingSummary struct {
	RequestID        string   `json:"requestId"`
	Success          bool     `json:"success"`
	DataKind         DataKind `json:"dataKind,omitempty"`
	ItemsExtracted   int      `json:"itemsExtracted"`
	ItemsDropped     int      `json:"itemsDropped"`
	ItemsSaved       int      `json:"itemsSaved"`
	ErrorMessage     string   `json:"errorMessage,omitempty"`
	ProcessingTimeMs int64    `json:"processingTimeMs"`
	Duplicate        bool     `json:"duplicate,omitempty"`
	// Retryable is set when the failure came from the store rather than
	// from the exchange itself.
	Retryable bool `json:"-"`
}
