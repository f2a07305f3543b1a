package model

import "time"

// Media is a downloaded media resource.
type Media struct {
	// URL is the address the resource was downloaded from.
	URL string `json:"url"`

	// Path is where the resource was stored.
	Path string `json:"path"`

	// Format is the image format detected while re-encoding ("jpeg", "png",
	// "gif"), empty for payloads stored verbatim.
	Format string `json:"format,omitempty"`

	// Size is the number of stored bytes.
	Size int `json:"size"`

	// Digest is the hex SHA3-256 digest of the stored bytes. Filled in by
	// the catalog.
	Digest string `json:"digest,omitempty"`

	// Exif holds a few EXIF tags of the original download, when present.
	Exif map[string]string `json:"exif,omitempty"`

	// FetchedAt is when the download finished.
	FetchedAt time.Time `json:"fetched_at"`

	// Original is the payload as downloaded, before re-encoding. EXIF data
	// is read from it since re-encoding drops metadata.
	Original []byte `json:"-"`

	// Data is the stored payload.
	Data []byte `json:"-"`
}
