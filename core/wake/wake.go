package wake

import "time"

// Detection is produced when a wake word service spots one of its words in
// the audio stream.
type Detection struct {
	// Name of the wake word that was detected.
	Name string `json:"name"`
	// Timestamp of the detection in milliseconds relative to the start of
	// the audio stream, if the service reports one.
	Timestamp *int64 `json:"timestamp,omitempty"`
}

func NewDetection(name string) Detection {
	timestamp := time.Now().UnixMilli()
	return Detection{Name: name, Timestamp: &timestamp}
}
