package entity

// FileInfo is the authoritative download metadata for one transfer.
// Size and MD5 may be zero-valued for image downloads, where the server
// reports no verification data.
type FileInfo struct {
	URL  string `json:"url"`
	Size int64  `json:"size"`
	MD5  string `json:"md5"`
}
