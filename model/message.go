package model

// RawEntry is one record of an archive before any body extraction.
type RawEntry struct {
	Index   int
	Source  string
	Headers string
	Body    string
}

// RawMessage is the fragment of decoded HTML that belongs to one message.
type RawMessage struct {
	Index    int
	Fragment string
}

// Attachment is a file inlined in an entry body. Content keeps the payload
// exactly as it appeared in the archive; see body.Payload for decoding.
type Attachment struct {
	ContentType string
	Filename    string
	Encoding    string
	Content     string
}

// Message is a single chat message extracted from an entry.
type Message struct {
	ID        string
	Sender    string
	Timestamp string
	Content   string
}

// Entry is a fully extracted archive record.
type Entry struct {
	Index       int
	Source      string
	Headers     string
	HTMLBody    string
	Attachments []Attachment
	Messages    []Message
}

// Envelope wraps an entry alongside an optional error encountered while extracting it.
type Envelope struct {
	Entry  Entry
	Report Report
	Err    error
}

// Report counts what an entry extraction dropped along the way.
type Report struct {
	Fragments          int
	DroppedFragments   int
	DroppedAttachments int
	RawTimestamps      int
}
