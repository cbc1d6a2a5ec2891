package upstream

import (
	"encoding/json"
)

var (
	chatFields      = []string{"message", "lang", "session_id"}
	synthesisFields = []string{"text", "lang", "voice", "fmt", "rate", "pitch"}
)

func (r ChatRequest) MarshalJSON() ([]byte, error) {
	type plain ChatRequest
	return withExtra(plain(r), r.Extra)
}

func (r *ChatRequest) UnmarshalJSON(data []byte) error {
	type plain ChatRequest
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	extra, err := extraFields(data, chatFields)
	if err != nil {
		return err
	}
	*r = ChatRequest(p)
	r.Extra = extra
	return nil
}

func (r SynthesisRequest) MarshalJSON() ([]byte, error) {
	type plain SynthesisRequest
	return withExtra(plain(r), r.Extra)
}

func (r *SynthesisRequest) UnmarshalJSON(data []byte) error {
	type plain SynthesisRequest
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	extra, err := extraFields(data, synthesisFields)
	if err != nil {
		return err
	}
	*r = SynthesisRequest(p)
	r.Extra = extra
	return nil
}

// withExtra encodes v and adds the extra fields it does not already carry
func withExtra(v any, extra map[string]json.RawMessage) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil || len(extra) == 0 {
		return data, err
	}
	fields := make(map[string]json.RawMessage, len(extra)+4)
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, err
	}
	for k, raw := range extra {
		if _, ok := fields[k]; !ok {
			fields[k] = raw
		}
	}
	return json.Marshal(fields)
}

func extraFields(data []byte, known []string) (map[string]json.RawMessage, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, err
	}
	for _, k := range known {
		delete(fields, k)
	}
	if len(fields) == 0 {
		return nil, nil
	}
	return fields, nil
}
