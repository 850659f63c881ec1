package job

import (
	"time"
)

// Patch is a partial update of a Job. Nil fields are left untouched.
// When holds the state the job must be in for the patch to apply; the
// store checks it atomically with the write.
type Patch struct {
	Status            *Status
	VideoStatus       *TrackStatus
	AudioStatus       *TrackStatus
	CombinationStatus *CombinationStatus
	VideoURL          *string
	AudioURL          *string
	CombinedURL       *string
	HasSeparateTracks *bool
	ErrorMessage      *string
	CompletedAt       *time.Time

	When Condition
}

// Condition restricts a Patch to jobs whose fields hold one of the listed
// values. Empty clauses match anything.
type Condition struct {
	Status            []Status
	VideoStatus       []TrackStatus
	AudioStatus       []TrackStatus
	CombinationStatus []CombinationStatus
	// UpdatedBefore, when set, requires the job's last write to be older.
	UpdatedBefore time.Time
}

// IsZero reports whether the condition has no clauses.
func (c Condition) IsZero() bool {
	return len(c.Status) == 0 && len(c.VideoStatus) == 0 &&
		len(c.AudioStatus) == 0 && len(c.CombinationStatus) == 0 &&
		c.UpdatedBefore.IsZero()
}

func ptr[T any](v T) *T { return &v }

func completedNow() *time.Time {
	return ptr(time.Now().UTC())
}

// StartProcessing moves a QUEUED job to PROCESSING.
func StartProcessing() Patch {
	return Patch{
		Status: ptr(StatusProcessing),
		When:   Condition{Status: sourcesOf(StatusProcessing)},
	}
}

// FailJob marks a non-terminal job FAILED with the given reason.
func FailJob(reason string) Patch {
	return Patch{
		Status:       ptr(StatusFailed),
		ErrorMessage: ptr(reason),
		CompletedAt:  completedNow(),
		When:         Condition{Status: sourcesOf(StatusFailed)},
	}
}

// ClaimTrack moves a PENDING track to PROCESSING on a PROCESSING job.
// Exactly one handler wins the claim, so a redelivered request cannot
// call the provider twice.
func ClaimTrack(m Modality) Patch {
	p := Patch{When: Condition{Status: []Status{StatusProcessing}}}
	if m == ModalityAudio {
		p.AudioStatus = ptr(TrackProcessing)
		p.When.AudioStatus = []TrackStatus{TrackPending}
	} else {
		p.VideoStatus = ptr(TrackProcessing)
		p.When.VideoStatus = []TrackStatus{TrackPending}
	}
	return p
}

// ReleaseTrack hands a claimed track back to PENDING so a redelivered
// request can claim it again.
func ReleaseTrack(m Modality) Patch {
	return trackClaimPatch(m, TrackPending)
}

// ReclaimTrack takes over a PROCESSING track whose claim holder made no
// write since staleBefore. It refreshes the claim without changing the status.
func ReclaimTrack(m Modality, staleBefore time.Time) Patch {
	p := trackClaimPatch(m, TrackProcessing)
	p.When.UpdatedBefore = staleBefore
	return p
}

// trackClaimPatch moves a PROCESSING track of a PROCESSING job to status.
func trackClaimPatch(m Modality, status TrackStatus) Patch {
	p := Patch{When: Condition{Status: []Status{StatusProcessing}}}
	if m == ModalityAudio {
		p.AudioStatus = ptr(status)
		p.When.AudioStatus = []TrackStatus{TrackProcessing}
	} else {
		p.VideoStatus = ptr(status)
		p.When.VideoStatus = []TrackStatus{TrackProcessing}
	}
	return p
}

// CompleteTrack records the media URL of a claimed track.
func CompleteTrack(m Modality, url string) Patch {
	p := Patch{When: Condition{Status: []Status{StatusProcessing}}}
	if m == ModalityAudio {
		p.AudioStatus = ptr(TrackCompleted)
		p.AudioURL = ptr(url)
		p.When.AudioStatus = []TrackStatus{TrackProcessing}
	} else {
		p.VideoStatus = ptr(TrackCompleted)
		p.VideoURL = ptr(url)
		p.When.VideoStatus = []TrackStatus{TrackProcessing}
	}
	return p
}

// CompleteVideoOnly records the video URL and finalizes a job that did
// not request audio.
func CompleteVideoOnly(url string) Patch {
	p := CompleteTrack(ModalityVideo, url)
	p.Status = ptr(StatusCompleted)
	p.CompletedAt = completedNow()
	return p
}

// FailTrack marks a claimed track FAILED. A video failure also fails the
// job since no deliverable can exist without video.
func FailTrack(m Modality, reason string) Patch {
	p := Patch{
		ErrorMessage: ptr(reason),
		When:         Condition{Status: []Status{StatusProcessing}},
	}
	if m == ModalityAudio {
		p.AudioStatus = ptr(TrackFailed)
		p.When.AudioStatus = []TrackStatus{TrackPending, TrackProcessing}
		return p
	}
	p.VideoStatus = ptr(TrackFailed)
	p.When.VideoStatus = []TrackStatus{TrackPending, TrackProcessing}
	p.Status = ptr(StatusFailed)
	p.CompletedAt = completedNow()
	return p
}

// ClaimCombination moves the combination step from not-started to COMBINING.
// Duplicate ready notifications lose this claim and become no-ops.
func ClaimCombination() Patch {
	return Patch{
		CombinationStatus: ptr(CombinationCombining),
		When: Condition{
			Status:            []Status{StatusProcessing},
			CombinationStatus: []CombinationStatus{CombinationNone},
		},
	}
}

// ReleaseCombination returns a COMBINING job to not-started so a
// redelivered ready notification can claim it again.
func ReleaseCombination() Patch {
	return Patch{
		CombinationStatus: ptr(CombinationNone),
		When: Condition{
			Status:            []Status{StatusProcessing},
			CombinationStatus: []CombinationStatus{CombinationCombining},
		},
	}
}

// ReclaimCombination takes over a COMBINING job whose claim holder made no
// write since staleBefore.
func ReclaimCombination(staleBefore time.Time) Patch {
	return Patch{
		CombinationStatus: ptr(CombinationCombining),
		When: Condition{
			Status:            []Status{StatusProcessing},
			CombinationStatus: []CombinationStatus{CombinationCombining},
			UpdatedBefore:     staleBefore,
		},
	}
}

// FinishCombined finalizes a job whose tracks were merged.
func FinishCombined(url string) Patch {
	return Patch{
		Status:            ptr(StatusCompleted),
		CombinationStatus: ptr(CombinationCompleted),
		CombinedURL:       ptr(url),
		CompletedAt:       completedNow(),
		When: Condition{
			Status:            []Status{StatusProcessing},
			CombinationStatus: []CombinationStatus{CombinationCombining},
		},
	}
}

// FinishSeparate finalizes a job whose merge failed; both tracks are
// delivered separately and the job still completes.
func FinishSeparate(reason string) Patch {
	return Patch{
		Status:            ptr(StatusCompleted),
		CombinationStatus: ptr(CombinationFailed),
		HasSeparateTracks: ptr(true),
		ErrorMessage:      ptr(reason),
		CompletedAt:       completedNow(),
		When: Condition{
			Status:            []Status{StatusProcessing},
			CombinationStatus: []CombinationStatus{CombinationCombining},
		},
	}
}

// FinishVideoOnly finalizes an audio job whose audio track failed,
// delivering the video alone.
func FinishVideoOnly(reason string) Patch {
	return Patch{
		Status:            ptr(StatusCompleted),
		CombinationStatus: ptr(CombinationSkipped),
		ErrorMessage:      ptr(reason),
		CompletedAt:       completedNow(),
		When: Condition{
			Status:            []Status{StatusProcessing},
			VideoStatus:       []TrackStatus{TrackCompleted},
			AudioStatus:       []TrackStatus{TrackFailed},
			CombinationStatus: []CombinationStatus{CombinationNone},
		},
	}
}
