package frames

// Well-known frame metadata keys.
const (
	MetaStreamID = "stream_id"
	MetaSource   = "source"
)
