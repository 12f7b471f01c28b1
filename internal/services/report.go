package services

import (
	"math"
	"sort"
	"time"

	"motochefe-engagement/internal/models"
)

// BuildCourseReport derives course statistics from a user's event log.
//
// Sessions and presence spans are paired by position: the i-th session_start
// with the i-th session_end, the i-th face_detected with the i-th face_lost.
// Interleaved sessions (two tabs at once) or lost events therefore mispair and
// can even yield negative spans; that is kept as is rather than guessed at.
//
// PauseCount counts video_paused_no_face only. A face loss while the learner
// had already paused the video records face_lost alone, so it shows up in
// FaceLosses but not in PauseCount.
func BuildCourseReport(events []models.EngagementEvent, now time.Time) models.CourseReport {
	ordered := orderEvents(events)

	var starts, ends, detected, lost []time.Time
	pauses := 0
	for _, e := range ordered {
		switch e.Type {
		case models.EventSessionStart:
			starts = append(starts, e.Timestamp)
		case models.EventSessionEnd:
			ends = append(ends, e.Timestamp)
		case models.EventFaceDetected:
			detected = append(detected, e.Timestamp)
		case models.EventFaceLost:
			lost = append(lost, e.Timestamp)
		case models.EventVideoPausedNoFace:
			pauses++
		}
	}

	var sessionSeconds float64
	for i, start := range starts {
		end := now
		if i < len(ends) {
			end = ends[i]
		}
		sessionSeconds += end.Sub(start).Seconds()
	}

	// An open presence span ends at the last session_end seen, or now.
	openEnd := now
	if len(ends) > 0 {
		openEnd = ends[len(ends)-1]
	}
	var presenceSeconds float64
	for i, from := range detected {
		to := openEnd
		if i < len(lost) {
			to = lost[i]
		}
		presenceSeconds += to.Sub(from).Seconds()
	}

	return models.CourseReport{
		Events: ordered,
		Stats: models.CourseStats{
			TotalWatchTime:   int(math.Round(presenceSeconds)),
			TotalSessionTime: int(math.Round(sessionSeconds)),
			PauseCount:       pauses,
			PresenceRate:     PresenceRate(presenceSeconds, sessionSeconds),
			FaceDetections:   len(detected),
			FaceLosses:       len(lost),
		},
	}
}

// PresenceRate is presence over session time as a whole percentage in [0, 100].
func PresenceRate(presenceSeconds, sessionSeconds float64) int {
	if sessionSeconds <= 0 {
		return 0
	}
	rate := math.Round(presenceSeconds / sessionSeconds * 100)
	if rate < 0 {
		return 0
	}
	if rate > 100 {
		return 100
	}
	return int(rate)
}

// BuildLessonReport is the reduced per-lesson view: no presence computation.
func BuildLessonReport(events []models.EngagementEvent) models.LessonReport {
	ordered := orderEvents(events)
	pauses := 0
	for _, e := range ordered {
		if e.Type == models.EventVideoPausedNoFace {
			pauses++
		}
	}
	return models.LessonReport{
		Events: ordered,
		Stats: models.LessonStats{
			PauseCount:  pauses,
			TotalEvents: len(ordered),
		},
	}
}

// orderEvents sorts by event time; equal timestamps keep arrival order.
func orderEvents(events []models.EngagementEvent) []models.EngagementEvent {
	out := make([]models.EngagementEvent, len(events))
	copy(out, events)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	return out
}
