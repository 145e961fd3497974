package object

import "strings"

// Key layout:
//
//	scrapbox/{project}/{title}.json - raw page payload
//	metadata/{project}/{title}.json - processed page metadata
const (
	rawPrefix      = "scrapbox/"
	metadataPrefix = "metadata/"
	jsonSuffix     = ".json"
)

// RawPageKey returns the key of the raw page JSON for title.
func RawPageKey(project, title string) string {
	return rawPrefix + project + "/" + title + jsonSuffix
}

// MetadataKey returns the key of the processed metadata JSON for title.
func MetadataKey(project, title string) string {
	return metadataPrefix + project + "/" + title + jsonSuffix
}

// RawPagePrefix returns the prefix holding every raw page of project.
func RawPagePrefix(project string) string {
	return rawPrefix + project + "/"
}

// TitleFromRawKey recovers the page title from a raw page key of project.
func TitleFromRawKey(project, key string) (string, bool) {
	prefix := RawPagePrefix(project)
	if !strings.HasPrefix(key, prefix) || !strings.HasSuffix(key, jsonSuffix) {
		return "", false
	}
	title := strings.TrimSuffix(strings.TrimPrefix(key, prefix), jsonSuffix)
	return title, title != ""
}
