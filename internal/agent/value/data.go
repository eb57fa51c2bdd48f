package value

import "encoding/json"

// Data is the envelope that actually travels across an edge: a Value tagged
// with the producer-chosen kind name and optional metadata (stream
// correlation ids, display hints). Kind is a free-form string chosen by the
// emitting agent, not the Kind enum above — an agent might emit kind
// "transcript" whose Value.Kind() is KindText.
type Data struct {
	Kind     string           `json:"kind"`
	Value    Value            `json:"value"`
	Metadata map[string]Value `json:"metadata,omitempty"`
}

// New constructs a Data envelope with no metadata.
func New(kind string, v Value) Data {
	return Data{Kind: kind, Value: v}
}

// WithMetadata returns a copy of d with key set to v in its metadata map.
func (d Data) WithMetadata(key string, v Value) Data {
	out := d
	out.Metadata = make(map[string]Value, len(d.Metadata)+1)
	for k, mv := range d.Metadata {
		out.Metadata[k] = mv
	}
	out.Metadata[key] = v
	return out
}

// StreamMetadataKey returns the metadata key used to correlate a sequence of
// Data values belonging to the same named stream, e.g. "$stream:audio".
func StreamMetadataKey(streamName string) string {
	return "$stream:" + streamName
}

// StreamID returns the stream correlation id stamped under
// StreamMetadataKey(name), if present.
func (d Data) StreamID(name string) (int64, bool) {
	if d.Metadata == nil {
		return 0, false
	}
	v, ok := d.Metadata[StreamMetadataKey(name)]
	if !ok {
		return 0, false
	}
	return v.AsInt()
}

// rawData mirrors Data's JSON shape with Metadata left as raw messages so
// UnmarshalJSON can decode them generically (metadata carries no separate
// kind hint, unlike Value itself).
type rawData struct {
	Kind     string                     `json:"kind"`
	Value    json.RawMessage            `json:"value"`
	Metadata map[string]json.RawMessage `json:"metadata,omitempty"`
}

// UnmarshalJSON decodes a Data envelope, using Kind as the hint for how to
// interpret Value's raw JSON (FromKindValue), matching from_kind_value in
// original_source.
func (d *Data) UnmarshalJSON(raw []byte) error {
	var rd rawData
	if err := json.Unmarshal(raw, &rd); err != nil {
		return err
	}
	v, err := FromKindValue(Kind(rd.Kind), rd.Value)
	if err != nil {
		return err
	}
	d.Kind = rd.Kind
	d.Value = v
	if len(rd.Metadata) > 0 {
		d.Metadata = make(map[string]Value, len(rd.Metadata))
		for k, raw := range rd.Metadata {
			var mv Value
			if err := json.Unmarshal(raw, &mv); err != nil {
				return err
			}
			d.Metadata[k] = mv
		}
	}
	return nil
}

// Context is the handle an agent's Process method receives alongside a Data
// value: the name of the inbound channel/handle the value arrived on. For
// board and wildcard routing ch may be substituted by the router before the
// agent ever sees it (normalized handle resolution happens at the edge, not
// here).
type Context struct {
	Ch string
}
