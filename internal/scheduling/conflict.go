package scheduling

import (
	"time"

	"github.com/google/uuid"

	"github.com/oryxhealth/clinic-backend/internal/domain"
	"github.com/oryxhealth/clinic-backend/internal/models"
)

// ConflictDetail describes one existing appointment that overlaps a proposed
// booking window. All conflicts are returned together, not just the first.
type ConflictDetail struct {
	AppointmentID  uuid.UUID `json:"appointment_id"`
	PsychologistID uuid.UUID `json:"psychologist_id"`
	StartTime      time.Time `json:"start_time"`
	EndTime        time.Time `json:"end_time"`
	Status         string    `json:"status"`
}

// Overlaps reports whether the half-open intervals [aStart, aEnd) and
// [bStart, bEnd) intersect. Back-to-back windows (aEnd == bStart) do not.
func Overlaps(aStart, aEnd, bStart, bEnd time.Time) bool {
	return aStart.Before(bEnd) && bStart.Before(aEnd)
}

// ValidateWindow applies the hard booking preconditions: the start must be
// strictly in the future, on a working day, and [start, end) must fall within
// the clinic's working hours expressed as minutes of day. Each violation is a
// terminal denial.
func ValidateWindow(settings *models.ClinicSettings, start, end, now time.Time) error {
	if !start.After(now) {
		return domain.NewDenial(domain.CodeStartTimeInPast,
			"appointment must start in the future",
			map[string]any{"startTime": start, "now": now})
	}
	if !end.After(start) {
		return domain.NewDenial(domain.CodeOutsideWorkingHours,
			"appointment end must be after start",
			map[string]any{"startTime": start, "endTime": end})
	}

	if !settings.WorkingDaySet()[start.Weekday()] {
		return domain.NewDenial(domain.CodeNotWorkingDay,
			"clinic is closed on "+start.Weekday().String(),
			map[string]any{"weekday": start.Weekday().String()})
	}

	startMin := start.Hour()*60 + start.Minute()
	endMin, ok := endMinutesOfDay(start, end)
	if !ok || startMin < settings.StartOfDayMinutes || endMin > settings.EndOfDayMinutes {
		return domain.NewDenial(domain.CodeOutsideWorkingHours,
			"appointment falls outside clinic working hours",
			map[string]any{
				"startOfDayMinutes": settings.StartOfDayMinutes,
				"endOfDayMinutes":   settings.EndOfDayMinutes,
				"requestedStart":    startMin,
				"requestedEnd":      endMin,
			})
	}
	return nil
}

// endMinutesOfDay maps the end instant to minutes of the start's day. An end
// at exactly midnight of the next day counts as 1440; anything later spans
// days and is not bookable.
func endMinutesOfDay(start, end time.Time) (int, bool) {
	sy, sm, sd := start.Date()
	ey, em, ed := end.Date()
	if sy == ey && sm == em && sd == ed {
		return end.Hour()*60 + end.Minute(), true
	}
	nextMidnight := time.Date(sy, sm, sd, 0, 0, 0, 0, start.Location()).AddDate(0, 0, 1)
	if end.Equal(nextMidnight) {
		return 24 * 60, true
	}
	return 0, false
}
