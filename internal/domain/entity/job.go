package entity

import (
	"encoding/json"
	"time"
)

// QueueName enumerates the pipeline's queues. A job never moves between
// queues except by being re-enqueued as a different job type from a
// stage worker.
type QueueName string

const (
	QueueFetch      QueueName = "fetch"
	QueueNormalize  QueueName = "normalize"
	QueueMedia      QueueName = "media"
	QueueEnrichment QueueName = "enrichment"
	QueueDeadLetter QueueName = "dead_letter"
)

// JobState is the queue-level lifecycle of a job envelope.
type JobState string

const (
	JobWaiting   JobState = "WAITING"
	JobDelayed   JobState = "DELAYED"
	JobActive    JobState = "ACTIVE"
	JobCompleted JobState = "COMPLETED"
	JobFailed    JobState = "FAILED"
)

// TriggerSource records why a FetchJob was enqueued.
type TriggerSource string

const (
	TriggeredBySchedule TriggerSource = "schedule"
	TriggeredByManual   TriggerSource = "manual"
)

// MediaOperation is one step of the media stage's pipeline; MediaJob
// carries the subset that still needs to run (e.g. a re-drive that found
// processed.mp4 already present only needs the upload/finalize steps).
type MediaOperation string

const (
	MediaOpDownload  MediaOperation = "download"
	MediaOpTranscode MediaOperation = "transcode"
	MediaOpThumbnail MediaOperation = "thumbnail"
)

// EnrichmentOperation is one step of the enrichment stage.
type EnrichmentOperation string

const (
	EnrichmentOpTranscript EnrichmentOperation = "transcript"
	EnrichmentOpEmbedding  EnrichmentOperation = "embedding"
)

// FetchJob asks the fetch stage to poll or continue polling one source.
type FetchJob struct {
	SourceID    string
	Kind        SourceKind
	Settings    SourceSettings
	Cursor      string
	TriggeredBy TriggerSource
	TriggeredAt time.Time
}

// NormalizeJob carries one fetch batch through the normalize stage.
type NormalizeJob struct {
	SourceID      string
	Kind          SourceKind
	RawItems      []RawItem
	SourceSettings SourceSettings
	ParentFetchID string
}

type fetchJobWire struct {
	SourceID    string
	Kind        SourceKind
	Settings    json.RawMessage
	Cursor      string
	TriggeredBy TriggerSource
	TriggeredAt time.Time
}

// MarshalJSON runs Settings through MarshalSettings so the job survives
// a round trip through the queue store as []byte (see source.go,
// settingsEnvelope).
func (j FetchJob) MarshalJSON() ([]byte, error) {
	settings, err := MarshalSettings(j.Settings)
	if err != nil {
		return nil, err
	}
	return json.Marshal(fetchJobWire{
		SourceID: j.SourceID, Kind: j.Kind, Settings: settings,
		Cursor: j.Cursor, TriggeredBy: j.TriggeredBy, TriggeredAt: j.TriggeredAt,
	})
}

// UnmarshalJSON is MarshalJSON's inverse.
func (j *FetchJob) UnmarshalJSON(data []byte) error {
	var w fetchJobWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	settings, err := UnmarshalSettings(w.Settings)
	if err != nil {
		return err
	}
	*j = FetchJob{
		SourceID: w.SourceID, Kind: w.Kind, Settings: settings,
		Cursor: w.Cursor, TriggeredBy: w.TriggeredBy, TriggeredAt: w.TriggeredAt,
	}
	return nil
}

type normalizeJobWire struct {
	SourceID      string
	Kind          SourceKind
	RawItems      []RawItem
	SourceSettings json.RawMessage
	ParentFetchID string
}

// MarshalJSON is FetchJob.MarshalJSON's counterpart for NormalizeJob.
func (j NormalizeJob) MarshalJSON() ([]byte, error) {
	settings, err := MarshalSettings(j.SourceSettings)
	if err != nil {
		return nil, err
	}
	return json.Marshal(normalizeJobWire{
		SourceID: j.SourceID, Kind: j.Kind, RawItems: j.RawItems,
		SourceSettings: settings, ParentFetchID: j.ParentFetchID,
	})
}

// UnmarshalJSON is MarshalJSON's inverse.
func (j *NormalizeJob) UnmarshalJSON(data []byte) error {
	var w normalizeJobWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	settings, err := UnmarshalSettings(w.SourceSettings)
	if err != nil {
		return err
	}
	*j = NormalizeJob{
		SourceID: w.SourceID, Kind: w.Kind, RawItems: w.RawItems,
		SourceSettings: settings, ParentFetchID: w.ParentFetchID,
	}
	return nil
}

// MediaJob drives the media stage for one content item. TextFields is
// carried through from normalize so the media stage can hand it
// straight to the EnrichmentJob it enqueues on completion, without the
// enrichment stage needing its own CMS read-back endpoint.
type MediaJob struct {
	ContentID  string
	Type       ContentType
	SourceURL  string
	Operations []MediaOperation
	TextFields EnrichmentTextFields
	TopicTags  []string
}

// EnrichmentJob drives the enrichment stage for one content item.
type EnrichmentJob struct {
	ContentID  string
	Type       ContentType
	Operations []EnrichmentOperation
	TextFields EnrichmentTextFields
	MediaPath  string
	MediaURL   string
	TopicTags  []string
}

// EnrichmentTextFields is the subset of a CanonicalItem that the
// embedding input-text builder needs; kept separate from CanonicalItem
// so an EnrichmentJob doesn't have to carry the entire record.
type EnrichmentTextFields struct {
	Title         string
	Excerpt       string
	Body          string
	TranscriptText string
}

// DeadLetter is the terminal record written when a job exhausts its
// retry budget.
type DeadLetter struct {
	OriginalQueue QueueName
	OriginalJobID string
	Payload       []byte
	FailureReason string
	FailedAt      time.Time
	Attempts      int
}

// JobEnvelope is the queue-level wrapper around a job payload.
type JobEnvelope struct {
	JobID         string
	Queue         QueueName
	Payload       []byte
	Attempt       int
	MaxAttempts   int
	EarliestRunAt time.Time
	State         JobState
	Result        []byte
	Failure       string
}
