package kbsync

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/url"
)

// s3EventSource marks records emitted by S3 in an event batch.
const s3EventSource = "aws:s3"

// ChangeRecord is a single object store change.
type ChangeRecord struct {
	Bucket    string `json:"bucket"`
	Key       string `json:"key"`
	EventName string `json:"eventName"`
}

type s3Event struct {
	Records []struct {
		EventSource string `json:"eventSource"`
		EventName   string `json:"eventName"`
		S3          struct {
			Bucket struct {
				Name string `json:"name"`
			} `json:"bucket"`
			Object struct {
				Key string `json:"key"`
			} `json:"object"`
		} `json:"s3"`
	} `json:"Records"`
}

// ParseNotification decodes a change notification. It accepts an S3 event
// batch, whose records from other sources are ignored, or a JSON array of
// ChangeRecord, every element of which is kept. Object keys in S3 events
// are URL-decoded.
func ParseNotification(data []byte) ([]ChangeRecord, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty body", ErrMalformedNotification)
	}

	if data[0] == '[' {
		var records []ChangeRecord
		if err := json.Unmarshal(data, &records); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrMalformedNotification, err)
		}
		if records == nil {
			records = []ChangeRecord{}
		}
		return records, nil
	}

	var event s3Event
	if err := json.Unmarshal(data, &event); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedNotification, err)
	}
	records := make([]ChangeRecord, 0, len(event.Records))
	for _, r := range event.Records {
		if r.EventSource != s3EventSource {
			continue
		}
		key := r.S3.Object.Key
		if decoded, err := url.QueryUnescape(key); err == nil {
			key = decoded
		}
		records = append(records, ChangeRecord{
			Bucket:    r.S3.Bucket.Name,
			Key:       key,
			EventName: r.EventName,
		})
	}
	return records, nil
}
