package worker

import (
	"time"

	"habitloop/internal/models"
)

func payloadString(job models.Job, key string) (string, bool) {
	v, ok := job.Payload[key].(string)
	return v, ok && v != ""
}

func payloadTime(job models.Job, key string) (time.Time, bool) {
	s, ok := payloadString(job, key)
	if !ok {
		return time.Time{}, false
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
