package navs

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"maps"
	"net/url"

	"github.com/reusee/studyboard/studies"
)

// query parameter names
const (
	ParamStudy   = "study"
	ParamArgs    = "args"
	ParamAutoRun = "autorun"
)

// State is what the navigation history remembers of a view.
type State struct {
	StudyID string
	Args    map[string]any
}

func (s State) Equal(other State) bool {
	if s.StudyID != other.StudyID {
		return false
	}
	a, err := encodeArgs(s.Args)
	if err != nil {
		return false
	}
	b, err := encodeArgs(other.Args)
	if err != nil {
		return false
	}
	return a == b
}

// Query encodes the state into query parameters, keeping other parameters
// of base except the auto-run override.
func (s State) Query(base url.Values) (url.Values, error) {
	ret := make(url.Values, len(base)+2)
	maps.Copy(ret, base)
	delete(ret, ParamAutoRun)
	delete(ret, ParamStudy)
	delete(ret, ParamArgs)
	if s.StudyID == "" {
		return ret, nil
	}
	ret.Set(ParamStudy, s.StudyID)
	if len(s.Args) > 0 {
		encoded, err := encodeArgs(s.Args)
		if err != nil {
			return nil, err
		}
		ret.Set(ParamArgs, encoded)
	}
	return ret, nil
}

func encodeArgs(args map[string]any) (string, error) {
	if len(args) == 0 {
		return "", nil
	}
	// map keys are sorted by encoding/json, so equal args encode equally
	data, err := json.Marshal(args)
	if err != nil {
		return "", fmt.Errorf("encode args: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(data), nil
}

// Decoded is the result of reading query parameters.
type Decoded struct {
	State State
	// one-shot override, empty when absent
	Override studies.AutoRun
	// the parameters to show, without the override
	Visible url.Values
}

// Decode reads the state and the auto-run override from query parameters.
// Integers in the arguments decode as json.Number.
func Decode(query url.Values) (ret Decoded, err error) {
	ret.State.StudyID = query.Get(ParamStudy)
	if encoded := query.Get(ParamArgs); encoded != "" {
		data, err := base64.RawURLEncoding.DecodeString(encoded)
		if err != nil {
			return ret, fmt.Errorf("decode args: %w", err)
		}
		decoder := json.NewDecoder(bytes.NewReader(data))
		decoder.UseNumber()
		if err := decoder.Decode(&ret.State.Args); err != nil {
			return ret, fmt.Errorf("decode args: %w", err)
		}
	}
	if query.Has(ParamAutoRun) {
		ret.Override = studies.ParseAutoRun(query.Get(ParamAutoRun))
	}
	ret.Visible = make(url.Values, len(query))
	maps.Copy(ret.Visible, query)
	delete(ret.Visible, ParamAutoRun)
	return ret, nil
}
