// Package model defines the record types shared across the capture store:
// video/frame/OCR, audio/transcription/speaker, UI snapshots, tags, and the
// composite search/alignment results built from them.
package model

import "time"

// VideoChunk is a single on-disk video file produced by one capture device.
// Immutable after insert.
type VideoChunk struct {
	ID         int64
	FilePath   string
	DeviceName string
	Timestamp  time.Time
}

// Frame is one sampled image within a video chunk. OffsetIndex is strictly
// increasing within a chunk, starting at 0.
type Frame struct {
	ID           int64
	VideoChunkID int64
	OffsetIndex  int64
	Timestamp    time.Time
	Name         string
	BrowserURL   *string
}

// OcrTextBlock is one OCR-engine-reported text region. All numeric fields
// are stored as strings, reflecting upstream OCR engine output; they are
// parsed lazily by callers that need them (see FindMatchingPositions).
type OcrTextBlock struct {
	Text   string `json:"text"`
	Conf   string `json:"conf"`
	Left   string `json:"left"`
	Top    string `json:"top"`
	Width  string `json:"width"`
	Height string `json:"height"`
}

// OcrText is the OCR record for exactly one frame.
type OcrText struct {
	FrameID     int64
	Text        string
	TextJSON    string
	AppName     string
	WindowName  string
	OcrEngine   string
	Focused     bool
	TextLength  int64
}

// AudioChunk is a captured audio file, de-duplicated by FilePath.
type AudioChunk struct {
	ID        int64
	FilePath  string
	Timestamp time.Time
}

// AudioTranscription is one utterance within an audio chunk.
type AudioTranscription struct {
	ID                   int64
	AudioChunkID         int64
	Transcription        string
	OffsetIndex          int64
	Timestamp            time.Time
	TranscriptionEngine  string
	Device               string
	IsInputDevice        bool
	SpeakerID            *int64
	StartTime            *float64
	EndTime              *float64
	TextLength           int64
}

// Speaker identifies a voice across transcriptions.
type Speaker struct {
	ID            int64
	Name          string
	Metadata      string
	Hallucination bool
}

// SpeakerEmbedding is a speaker's voiceprint vector.
type SpeakerEmbedding struct {
	SpeakerID int64
	Embedding []float32
}

// OcrTextEmbedding is a frame's OCR-text embedding vector.
type OcrTextEmbedding struct {
	FrameID   int64
	Embedding []float32
}

// UiMonitoring is one accessibility-tree snapshot.
type UiMonitoring struct {
	ID                 int64
	TextOutput         string
	Timestamp          time.Time
	App                string
	Window             string
	InitialTraversalAt time.Time
	TextLength         int64
}

// Tag is a user-facing label joined to frames, audio chunks, or UI rows.
type Tag struct {
	ID   int64
	Name string
}

// TagContentType selects which link table a tag operation addresses.
type TagContentType int

const (
	TagVision TagContentType = iota
	TagAudio
	TagUI
)

// ContentType selects which modality (or combination) a search spans.
type ContentType int

const (
	ContentOCR ContentType = iota
	ContentAudio
	ContentUI
	ContentAll
	ContentAudioAndUI
	ContentOcrAndUI
	ContentAudioAndOcr
)

// Order controls timestamp sort direction in SearchWithTextPositions.
type Order int

const (
	OrderDescending Order = iota
	OrderAscending
)

// OCRResult is one OCR search hit, enriched with frame/chunk context and tags.
type OCRResult struct {
	FrameID     int64
	OcrText     string
	TextJSON    string
	Timestamp   time.Time
	FrameName   string
	FilePath    string
	OffsetIndex int64
	AppName     string
	OcrEngine   string
	WindowName  string
	Tags        []string
	BrowserURL  *string
}

// AudioResult is one audio search hit, enriched with the resolved Speaker.
type AudioResult struct {
	AudioChunkID        int64
	Transcription       string
	Timestamp           time.Time
	FilePath            string
	OffsetIndex         int64
	TranscriptionEngine string
	Tags                []string
	DeviceName          string
	IsInputDevice       bool
	Speaker             *Speaker
	StartTime           *float64
	EndTime             *float64
}

// UiContent is one UI-monitoring search hit, left-joined to a nearby frame.
type UiContent struct {
	ID                 int64
	TextOutput         string
	Timestamp          time.Time
	App                string
	Window             string
	InitialTraversalAt time.Time
	FilePath            *string
	OffsetIndex         *int64
	BrowserURL          *string
	FrameName           *string
}

// SearchResult is a tagged union over the three search modalities. Exactly
// one of OCR, Audio, UI is non-nil, selected by Kind.
type SearchResult struct {
	Kind  ContentType
	OCR   *OCRResult
	Audio *AudioResult
	UI    *UiContent
}

// Timestamp returns the timestamp of whichever variant is populated, used
// to sort heterogeneous SearchResult slices.
func (r SearchResult) Timestamp() time.Time {
	switch {
	case r.OCR != nil:
		return r.OCR.Timestamp
	case r.Audio != nil:
		return r.Audio.Timestamp
	case r.UI != nil:
		return r.UI.Timestamp
	default:
		return time.Time{}
	}
}

// OCREntry is one OCR observation attached to a TimeSeriesChunk frame.
type OCREntry struct {
	Text          string
	AppName       string
	WindowName    string
	DeviceName    string
	VideoFilePath string
}

// AudioEntry is one audio observation attached to a TimeSeriesChunk frame.
type AudioEntry struct {
	Transcription string
	DeviceName    string
	IsInput       bool
	AudioFilePath string
	DurationSecs  float64
}

// FrameData is one frame's worth of aligned OCR/audio context within a
// TimeSeriesChunk.
type FrameData struct {
	FrameID      int64
	Timestamp    time.Time
	OffsetIndex  int64
	OcrEntries   []OCREntry
	AudioEntries []AudioEntry
}

// TimeSeriesChunk is the result of a temporal alignment query: frames in a
// window, each carrying the audio attached to it, most recent frame first.
type TimeSeriesChunk struct {
	Frames    []FrameData
	StartTime time.Time
	EndTime   time.Time
}

// TextBounds is a parsed OCR bounding box.
type TextBounds struct {
	Left   float32
	Top    float32
	Width  float32
	Height float32
}

// TextPosition is one OCR block that matched a search query.
type TextPosition struct {
	Text       string
	Confidence float32
	Bounds     TextBounds
}

// SearchMatch is one row of SearchWithTextPositions: a frame plus the
// bounding-box-level matches found within it.
type SearchMatch struct {
	FrameID       int64
	Timestamp     time.Time
	TextPositions []TextPosition
	AppName       string
	WindowName    string
	Confidence    float32
	Text          string
	URL           *string
}
