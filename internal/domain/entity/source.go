// Package entity defines the core domain entities shared by every pipeline
// stage: source descriptors, raw fetcher output, the canonical content
// record, and the job variants that move between queues.
package entity

import (
	"encoding/json"
	"fmt"
	"time"
)

// SourceKind identifies the kind of external source a SourceDescriptor
// describes. The set is closed: adding support for a new kind of source
// means adding a new constant and a matching case in every stage's
// dispatch switch, not registering a callable at runtime (see DESIGN.md,
// "Dynamic adapter registry" open question).
type SourceKind string

const (
	SourceKindFeed              SourceKind = "FEED"
	SourceKindWebsite           SourceKind = "WEBSITE"
	SourceKindVideoChannel      SourceKind = "VIDEO_CHANNEL"
	SourceKindPodcastFeed       SourceKind = "PODCAST_FEED"
	SourceKindPodcastDiscovery  SourceKind = "PODCAST_DISCOVERY"
	SourceKindForum             SourceKind = "FORUM"
	SourceKindMicroblog         SourceKind = "MICROBLOG"
	SourceKindUpload            SourceKind = "UPLOAD"
)

// Valid reports whether k is one of the closed set of known kinds.
func (k SourceKind) Valid() bool {
	switch k {
	case SourceKindFeed, SourceKindWebsite, SourceKindVideoChannel,
		SourceKindPodcastFeed, SourceKindPodcastDiscovery,
		SourceKindForum, SourceKindMicroblog, SourceKindUpload:
		return true
	default:
		return false
	}
}

// DefaultPollInterval returns the scheduler default for kinds that are
// polled on a timer. UPLOAD is never scheduled (ok is false).
func (k SourceKind) DefaultPollInterval() (d time.Duration, ok bool) {
	switch k {
	case SourceKindFeed:
		return 15 * time.Minute, true
	case SourceKindVideoChannel:
		return 60 * time.Minute, true
	case SourceKindPodcastFeed:
		return 60 * time.Minute, true
	case SourceKindPodcastDiscovery:
		return 24 * time.Hour, true
	case SourceKindForum:
		return 10 * time.Minute, true
	case SourceKindMicroblog:
		return 30 * time.Minute, true
	default:
		return 0, false
	}
}

// SourceSettings is the discriminated union replacing an untyped settings
// map (DESIGN.md, "Untyped payload maps"). Each SourceKind has exactly one
// concrete settings type; Kind() lets dispatch code assert without a type
// switch on every call site.
type SourceSettings interface {
	Kind() SourceKind
}

type FeedSettings struct {
	URL             string
	IncludeKeywords []string
	ExcludeKeywords []string
	MinEngagement   int
	Trusted         bool
}

func (FeedSettings) Kind() SourceKind { return SourceKindFeed }

type WebsiteSettings struct {
	URL             string
	IncludeKeywords []string
	ExcludeKeywords []string
	Trusted         bool
}

func (WebsiteSettings) Kind() SourceKind { return SourceKindWebsite }

type VideoChannelSettings struct {
	ChannelID       string
	APIKey          string
	IncludeKeywords []string
	ExcludeKeywords []string
	MinEngagement   int
	Trusted         bool
}

func (VideoChannelSettings) Kind() SourceKind { return SourceKindVideoChannel }

type PodcastFeedSettings struct {
	URL     string
	Trusted bool
}

func (PodcastFeedSettings) Kind() SourceKind { return SourceKindPodcastFeed }

type PodcastDiscoverySettings struct {
	DirectoryURL string
}

func (PodcastDiscoverySettings) Kind() SourceKind { return SourceKindPodcastDiscovery }

type ForumSettings struct {
	APIBaseURL      string
	APIKey          string
	IncludeKeywords []string
	ExcludeKeywords []string
	MinEngagement   int
}

func (ForumSettings) Kind() SourceKind { return SourceKindForum }

type MicroblogSettings struct {
	APIBaseURL    string
	APIKey        string
	MinEngagement int
}

func (MicroblogSettings) Kind() SourceKind { return SourceKindMicroblog }

// UploadSettings has no polling configuration; uploads arrive as a
// directly-submitted RawItem rather than being fetched.
type UploadSettings struct{}

func (UploadSettings) Kind() SourceKind { return SourceKindUpload }

// settingsEnvelope is SourceSettings' wire form: the concrete type is
// erased by the interface, so the envelope carries Kind alongside the
// raw encoded fields and MarshalSettings/UnmarshalSettings use it to
// reconstruct the right concrete struct on the way back in. Every type
// that embeds a SourceSettings field (FetchJob, NormalizeJob,
// SourceDescriptor) marshals/unmarshals it through these two helpers
// rather than relying on encoding/json's default interface handling,
// which cannot know which concrete type to allocate.
type settingsEnvelope struct {
	Kind SourceKind      `json:"kind"`
	Data json.RawMessage `json:"data"`
}

// MarshalSettings encodes s as a kind-tagged envelope. A nil s encodes
// as JSON null.
func MarshalSettings(s SourceSettings) (json.RawMessage, error) {
	if s == nil {
		return json.Marshal(nil)
	}
	data, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("entity: marshal settings: %w", err)
	}
	env, err := json.Marshal(settingsEnvelope{Kind: s.Kind(), Data: data})
	if err != nil {
		return nil, fmt.Errorf("entity: marshal settings envelope: %w", err)
	}
	return env, nil
}

// UnmarshalSettings decodes raw (produced by MarshalSettings) back into
// its concrete SourceSettings type, selected by the closed SourceKind
// switch (DESIGN.md, "Untyped payload maps" / "Dynamic adapter
// registry").
func UnmarshalSettings(raw json.RawMessage) (SourceSettings, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var env settingsEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("entity: unmarshal settings envelope: %w", err)
	}
	switch env.Kind {
	case SourceKindFeed:
		var v FeedSettings
		err := json.Unmarshal(env.Data, &v)
		return v, err
	case SourceKindWebsite:
		var v WebsiteSettings
		err := json.Unmarshal(env.Data, &v)
		return v, err
	case SourceKindVideoChannel:
		var v VideoChannelSettings
		err := json.Unmarshal(env.Data, &v)
		return v, err
	case SourceKindPodcastFeed:
		var v PodcastFeedSettings
		err := json.Unmarshal(env.Data, &v)
		return v, err
	case SourceKindPodcastDiscovery:
		var v PodcastDiscoverySettings
		err := json.Unmarshal(env.Data, &v)
		return v, err
	case SourceKindForum:
		var v ForumSettings
		err := json.Unmarshal(env.Data, &v)
		return v, err
	case SourceKindMicroblog:
		var v MicroblogSettings
		err := json.Unmarshal(env.Data, &v)
		return v, err
	case SourceKindUpload:
		var v UploadSettings
		err := json.Unmarshal(env.Data, &v)
		return v, err
	default:
		return nil, fmt.Errorf("entity: unknown source kind %q in settings envelope", env.Kind)
	}
}

// SourceDescriptor is the registry's view of an external source. It is
// owned by the registry and never persisted by the core itself.
type SourceDescriptor struct {
	ID           string
	Kind         SourceKind
	DisplayName  string
	Endpoint     string
	Enabled      bool
	PollInterval time.Duration
	Settings     SourceSettings
}

type sourceDescriptorWire struct {
	ID           string
	Kind         SourceKind
	DisplayName  string
	Endpoint     string
	Enabled      bool
	PollInterval time.Duration
	Settings     json.RawMessage
}

// MarshalJSON encodes the descriptor with its Settings run through
// MarshalSettings so the admin API's JSON body round-trips the
// concrete settings type.
func (s SourceDescriptor) MarshalJSON() ([]byte, error) {
	settings, err := MarshalSettings(s.Settings)
	if err != nil {
		return nil, err
	}
	return json.Marshal(sourceDescriptorWire{
		ID: s.ID, Kind: s.Kind, DisplayName: s.DisplayName, Endpoint: s.Endpoint,
		Enabled: s.Enabled, PollInterval: s.PollInterval, Settings: settings,
	})
}

// UnmarshalJSON is MarshalJSON's inverse.
func (s *SourceDescriptor) UnmarshalJSON(data []byte) error {
	var w sourceDescriptorWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	settings, err := UnmarshalSettings(w.Settings)
	if err != nil {
		return err
	}
	*s = SourceDescriptor{
		ID: w.ID, Kind: w.Kind, DisplayName: w.DisplayName, Endpoint: w.Endpoint,
		Enabled: w.Enabled, PollInterval: w.PollInterval, Settings: settings,
	}
	return nil
}

// Validate checks the descriptor is internally consistent: a known kind,
// settings matching that kind, and a non-empty id.
func (s *SourceDescriptor) Validate() error {
	if s.ID == "" {
		return &ValidationError{Field: "id", Message: "must not be empty"}
	}
	if !s.Kind.Valid() {
		return &ValidationError{Field: "kind", Message: "unknown source kind: " + string(s.Kind)}
	}
	if s.Settings == nil {
		return &ValidationError{Field: "settings", Message: "must not be nil"}
	}
	if s.Settings.Kind() != s.Kind {
		return &ValidationError{Field: "settings", Message: "settings kind does not match descriptor kind"}
	}
	return nil
}
