package database

import (
	"strings"

	exif "github.com/dsoprea/go-exif/v3"
)

// exifSummaryTags are the EXIF tags kept in the catalog.
var exifSummaryTags = map[string]bool{
	"Make":             true,
	"Model":            true,
	"Software":         true,
	"DateTimeOriginal": true,
	"Artist":           true,
	"Copyright":        true,
	"ImageWidth":       true,
	"ImageLength":      true,
	"PixelXDimension":  true,
	"PixelYDimension":  true,
}

// maxExifValueLength bounds a single summarized value.
const maxExifValueLength = 256

// ExifSummary extracts a few identifying EXIF tags from an image payload.
// GPS tags are reduced to a single "GPS" entry. It returns nil when the
// payload has no EXIF block.
func ExifSummary(data []byte) map[string]string {
	if len(data) == 0 {
		return nil
	}
	rawExif, err := exif.SearchAndExtractExif(data)
	if err != nil || rawExif == nil {
		return nil
	}
	entries, _, err := exif.GetFlatExifData(rawExif, nil)
	if err != nil {
		return nil
	}

	summary := make(map[string]string)
	for _, entry := range entries {
		switch {
		case strings.HasPrefix(entry.TagName, "GPS"):
			summary["GPS"] = "present"
		case exifSummaryTags[entry.TagName]:
			value := strings.TrimSpace(strings.TrimRight(entry.Formatted, "\x00"))
			if len(value) > maxExifValueLength {
				value = strings.ToValidUTF8(value[:maxExifValueLength], "")
			}
			if value != "" {
				summary[entry.TagName] = value
			}
		}
	}
	if len(summary) == 0 {
		return nil
	}
	return summary
}
