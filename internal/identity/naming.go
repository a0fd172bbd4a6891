package identity

import (
	"fmt"
	"path"
	"time"
)

// StagingKey names the object for a new photo of identityID:
// <prefix>/<id>_<YYYYMMDD_HHMMSS>_<microseconds>.jpg, in UTC.
func StagingKey(prefix, identityID string, t time.Time) string {
	t = t.UTC()
	name := fmt.Sprintf("%s_%s_%06d.jpg", identityID, t.Format("20060102_150405"), t.Nanosecond()/int(time.Microsecond))
	if prefix == "" {
		return name
	}
	return path.Join(prefix, name)
}
