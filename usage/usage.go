package usage

import "time"

// MessageRecord is one chat message sent within an organization. Only the
// scoping columns live here; the aggregator counts rows in the current billing
// period.
type MessageRecord struct {
	ID             uint      `json:"id" gorm:"primaryKey"`
	OrganizationID string    `json:"organizationId" gorm:"index"`
	UserID         string    `json:"userId" gorm:"index"`
	CreatedAt      time.Time `json:"createdAt" gorm:"index"`
}

// StorageObject is one stored document; sizes are summed per organization
type StorageObject struct {
	ID             string    `json:"id" gorm:"primaryKey"`
	OrganizationID string    `json:"organizationId" gorm:"index"`
	SizeBytes      int64     `json:"sizeBytes"`
	CreatedAt      time.Time `json:"createdAt"`
}

// Membership binds a user to an organization
type Membership struct {
	ID             uint   `json:"id" gorm:"primaryKey"`
	OrganizationID string `json:"organizationId" gorm:"index"`
	UserID         string `json:"userId" gorm:"index"`
	Active         bool   `json:"active" gorm:"not null;default:true"`
}

// Snapshot is the current consumption of an organization, computed fresh per
// request. A resource whose aggregate query failed is reported with its Known
// flag cleared rather than failing the whole snapshot.
type Snapshot struct {
	Messages      int64     `json:"messages"`
	MessagesKnown bool      `json:"messagesKnown"`
	Storage       int64     `json:"storage"` // in bytes
	StorageKnown  bool      `json:"storageKnown"`
	Users         int64     `json:"users"`
	UsersKnown    bool      `json:"usersKnown"`
	PeriodStart   time.Time `json:"periodStart"`
}

// CurrentPeriodStart returns the most recent monthly anniversary of the
// anchor that is not after now. Message usage resets on this boundary. A zero
// or future anchor falls back to the start of the calendar month.
func CurrentPeriodStart(anchor, now time.Time) time.Time {
	if anchor.IsZero() || anchor.After(now) {
		return time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())
	}
	months := (now.Year()-anchor.Year())*12 + int(now.Month()) - int(anchor.Month())
	start := anniversary(anchor, months)
	if start.After(now) {
		start = anniversary(anchor, months-1)
	}
	return start
}

// anniversary shifts the anchor forward by whole months, clamping the day to
// the target month's last day. AddDate would normalize a month-end anchor into
// the following month (Jan 31 plus one month is Mar 3) and the resulting
// period start could land after now.
func anniversary(anchor time.Time, months int) time.Time {
	year, month := anchor.Year(), time.Month(int(anchor.Month())+months)
	lastDay := time.Date(year, month+1, 0, 0, 0, 0, 0, anchor.Location()).Day()
	day := anchor.Day()
	if day > lastDay {
		day = lastDay
	}
	return time.Date(year, month, day,
		anchor.Hour(), anchor.Minute(), anchor.Second(), anchor.Nanosecond(), anchor.Location())
}
