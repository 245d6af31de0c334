package resource

import (
	"svp-gateway/work/database"
)

// Supported quality variants.
const (
	QualityHD = "hd"
	QualitySD = "sd"
	QualityLD = "ld"
)

// ValidQuality reports whether q names a supported quality variant.
func ValidQuality(q string) bool {
	return q == QualityHD || q == QualitySD || q == QualityLD
}

// Store resolves a video id to its descriptor. The SQLite database is the
// canonical implementation; a TTL cache can be layered on top.
type Store interface {
	Get(id int64) (*database.Video, error)
}

// SQLStore adapts the database to the Store interface.
type SQLStore struct {
	DB *database.DB
}

func (s *SQLStore) Get(id int64) (*database.Video, error) {
	return s.DB.GetVideo(id)
}

// URLForQuality returns the stored source URL for a quality variant, or an
// empty string when the variant has no URL. No quality falls back to another:
// a missing variant is the caller's problem to report.
func URLForQuality(v *database.Video, quality string) string {
	switch quality {
	case QualityHD:
		return v.HDURL
	case QualitySD:
		return v.SDURL
	case QualityLD:
		return v.LDURL
	}
	return ""
}

// CanView applies the visibility policy: public videos are viewable by
// anyone, private ones only by an authenticated admin.
func CanView(v *database.Video, admin bool) bool {
	if v.Visibility == "public" {
		return true
	}
	return admin
}
