package kbsync

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseNotification(t *testing.T) {
	t.Run("s3 event batch", func(t *testing.T) {
		body := `{
			"Records": [
				{
					"eventSource": "aws:s3",
					"eventName": "ObjectCreated:Put",
					"s3": {"bucket": {"name": "pages"}, "object": {"key": "scrapbox/proj/Hello+World.json"}}
				},
				{
					"eventSource": "aws:sqs",
					"eventName": "ignored"
				},
				{
					"eventSource": "aws:s3",
					"eventName": "ObjectRemoved:Delete",
					"s3": {"bucket": {"name": "pages"}, "object": {"key": "scrapbox/proj/%E3%81%82.json"}}
				}
			]
		}`
		records, err := ParseNotification([]byte(body))
		require.NoError(t, err)
		assert.Equal(t, []ChangeRecord{
			{Bucket: "pages", Key: "scrapbox/proj/Hello World.json", EventName: "ObjectCreated:Put"},
			{Bucket: "pages", Key: "scrapbox/proj/あ.json", EventName: "ObjectRemoved:Delete"},
		}, records)
	})

	t.Run("flat list", func(t *testing.T) {
		body := `[{"bucket": "b", "key": "k1", "eventName": "ObjectCreated:Put"}, {"bucket": "b", "key": ""}]`
		records, err := ParseNotification([]byte(body))
		require.NoError(t, err)
		assert.Equal(t, []ChangeRecord{
			{Bucket: "b", Key: "k1", EventName: "ObjectCreated:Put"},
			{Bucket: "b"},
		}, records)
	})

	t.Run("flat list record without key", func(t *testing.T) {
		records, err := ParseNotification([]byte(`[{"bucket": "b", "eventName": "x"}]`))
		require.NoError(t, err)
		assert.Equal(t, []ChangeRecord{{Bucket: "b", EventName: "x"}}, records)
	})

	t.Run("no records", func(t *testing.T) {
		for _, body := range []string{`{}`, `{"Records": []}`, `[]`} {
			records, err := ParseNotification([]byte(body))
			require.NoError(t, err, body)
			assert.Empty(t, records, body)
		}
	})

	t.Run("malformed", func(t *testing.T) {
		for _, body := range []string{``, `   `, `{`, `"text"`, `[1, 2]`} {
			_, err := ParseNotification([]byte(body))
			assert.ErrorIs(t, err, ErrMalformedNotification, body)
		}
	})
}
