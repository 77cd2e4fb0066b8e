package task

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
)

// seriesIDPrefix tags derived series ids so they are recognizable in rows.
const seriesIDPrefix = "rec_"

// DeriveSeriesID computes a stable series identifier from the characteristics
// that define a recurrence, independent of any storage-assigned id. Two tasks
// with identical values for these fields always derive the same id, which is
// what groups legacy rows (created before the explicit series-id column
// existed) into the right series.
//
// Absent values contribute an empty string so the derivation never depends on
// how a caller spells "missing".
func DeriveSeriesID(t Task) string {
	interval := ""
	if t.RecurringInterval > 0 {
		interval = strconv.Itoa(t.RecurringInterval)
	}
	parts := []string{
		t.Title,
		t.AssignedToID,
		t.ClientID,
		t.SpaceID,
		t.CampaignID,
		string(t.RecurringPattern),
		interval,
		string(t.ScheduleFrom),
	}
	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return seriesIDPrefix + hex.EncodeToString(sum[:8])
}
