package session

// MeetingDetails is the meeting information extracted so far for one session.
// Fields are filled in incrementally across turns; a zero value means the
// model has not extracted that field yet.
type MeetingDetails struct {
	Attendee string `json:"attendee,omitempty"`
	Date     string `json:"date,omitempty"`
	Time     string `json:"time,omitempty"`
	Duration string `json:"duration,omitempty"`
	Purpose  string `json:"purpose,omitempty"`
}

// Merge folds newly extracted fields into d. A stored field is only replaced
// by a non-empty incoming value; an empty incoming field never blanks it.
func (d *MeetingDetails) Merge(in MeetingDetails) {
	if in.Attendee != "" {
		d.Attendee = in.Attendee
	}
	if in.Date != "" {
		d.Date = in.Date
	}
	if in.Time != "" {
		d.Time = in.Time
	}
	if in.Duration != "" {
		d.Duration = in.Duration
	}
	if in.Purpose != "" {
		d.Purpose = in.Purpose
	}
}

// IsZero reports whether no field has been extracted yet.
func (d MeetingDetails) IsZero() bool {
	return d == MeetingDetails{}
}
