package models

import "time"

// Document is a fetched web page reduced to its readable content.
type Document struct {
	URL         string
	Title       string
	Content     string
	ContentType string
	FetchedAt   time.Time
	Metadata    map[string]interface{}
}
