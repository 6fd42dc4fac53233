package entity

import "fmt"

type ModStatus int

const (
	StatusNotAccepted ModStatus = iota
	StatusAccepted
	StatusDeleted
)

// String tolerates out-of-range values, the status field is server-controlled.
func (s ModStatus) String() string {
	names := [...]string{"NotAccepted", "Accepted", "Deleted"}
	if s < 0 || int(s) >= len(names) {
		return fmt.Sprintf("ModStatus(%d)", s)
	}

	return names[s]
}

// ImageTier is a requested resolution variant of a mod logo.
type ImageTier int

const (
	TierThumb320 ImageTier = iota
	TierThumb640
	TierThumb1280
	TierOriginal
)

func (t ImageTier) String() string {
	return [...]string{"thumb_320x180", "thumb_640x360", "thumb_1280x720", "original"}[t]
}

// FileName returns the stable cache file name for the tier within a mod directory.
func (t ImageTier) FileName() string {
	return [...]string{"logo_320x180.png", "logo_640x360.png", "logo_1280x720.png", "logo_original.png"}[t]
}

// LogoLocator holds the per-tier source URLs reported by the server.
type LogoLocator struct {
	Original  string `json:"original"`
	Thumb320  string `json:"thumb_320x180"`
	Thumb640  string `json:"thumb_640x360"`
	Thumb1280 string `json:"thumb_1280x720"`
}

func (l LogoLocator) SizeURL(tier ImageTier) string {
	switch tier {
	case TierThumb320:
		return l.Thumb320
	case TierThumb640:
		return l.Thumb640
	case TierThumb1280:
		return l.Thumb1280
	default:
		return l.Original
	}
}

type RatingSummary struct {
	Total      int     `json:"total_ratings"`
	Positive   int     `json:"positive_ratings"`
	Percentage float64 `json:"percentage_positive"`
}

// Modfile is the primary binary release of a mod.
type Modfile struct {
	ID          int64  `json:"id"`
	ModID       int64  `json:"mod_id"`
	Version     string `json:"version"`
	Size        int64  `json:"filesize"`
	MD5         string `json:"filehash_md5"`
	DownloadURL string `json:"download_url"`
	DateAdded   int64  `json:"date_added"`
}

// Mod is one catalog entry. Instances are treated as immutable once stored:
// every update replaces the whole record, nothing mutates a cached Mod in place.
type Mod struct {
	ID               int64         `json:"id"`
	Name             string        `json:"name"`
	Status           ModStatus     `json:"status"`
	Modfile          Modfile       `json:"modfile"`
	Rating           RatingSummary `json:"rating"`
	Tags             []string      `json:"tags"`
	Logo             LogoLocator   `json:"logo"`
	GalleryFileNames []string      `json:"gallery_filenames"`
	DateUpdated      int64         `json:"date_updated"`
}

func (m *Mod) BinaryFileName() string {
	return fmt.Sprintf("modfile_%d.zip", m.Modfile.ID)
}

// BinaryState describes the local binary cache relative to the current modfile.
type BinaryState int

const (
	BinaryMissing BinaryState = iota
	BinaryStale
	BinaryCurrent
)

func (s BinaryState) String() string {
	return [...]string{"Missing", "Stale", "Current"}[s]
}
