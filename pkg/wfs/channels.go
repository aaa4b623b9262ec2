package wfs

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"

	"gopkg.in/yaml.v3"
)

const (
	BaselineMean   = "mean"
	BaselineMedian = "median"
)

type BaselineConfig struct {
	SampleWindow   int    `json:"bslnsamps" yaml:"bslnsamps"`
	Method         string `json:"bsln_meth" yaml:"bsln_meth"`
	InvertPolarity bool   `json:"neg_pulse,omitempty" yaml:"neg_pulse,omitempty"`
}

// Params are the stage specific settings of one channel.
type Params map[string]any

// Float returns a numeric parameter.
func (p Params) Float(key string) (float64, bool) {
	switch v := p[key].(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case uint64:
		return float64(v), true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	}
	return 0, false
}

// Int returns an integral numeric parameter.
func (p Params) Int(key string) (int, bool) {
	f, ok := p.Float(key)
	if !ok || f != math.Trunc(f) {
		return 0, false
	}
	return int(f), true
}

// Bool is false when the key is absent or not a boolean.
func (p Params) Bool(key string) bool {
	b, ok := p[key].(bool)
	return ok && b
}

type StageConfig struct {
	Name   string
	Params Params
}

type ChannelConfig struct {
	Name     string
	Baseline *BaselineConfig
	Stages   []StageConfig
}

// Stage returns the parameters of the named stage for this channel.
func (c *ChannelConfig) Stage(name string) (Params, bool) {
	for _, s := range c.Stages {
		if s.Name == name {
			return s.Params, true
		}
	}
	return nil, false
}

// ChannelMap is the per channel configuration, in the order it was written.
type ChannelMap struct {
	channels []*ChannelConfig
}

func NewChannelMap(channels ...ChannelConfig) ChannelMap {
	m := ChannelMap{}
	for i := range channels {
		c := channels[i]
		m.channels = append(m.channels, &c)
	}
	return m
}

func (m ChannelMap) Len() int { return len(m.channels) }

func (m ChannelMap) Names() []string {
	names := make([]string, len(m.channels))
	for i, c := range m.channels {
		names[i] = c.Name
	}
	return names
}

func (m ChannelMap) Channels() []*ChannelConfig { return m.channels }

func (m ChannelMap) Get(name string) (*ChannelConfig, bool) {
	for _, c := range m.channels {
		if c.Name == name {
			return c, true
		}
	}
	return nil, false
}

// StageOrder lists the stage names used by any channel, without duplicates,
// in order of first appearance.
func (m ChannelMap) StageOrder() []string {
	seen := make(map[string]bool)
	var order []string
	for _, c := range m.channels {
		for _, s := range c.Stages {
			if seen[s.Name] {
				continue
			}
			seen[s.Name] = true
			order = append(order, s.Name)
		}
	}
	return order
}

// Validate checks the baseline settings and that every stage is registered.
func (m ChannelMap) Validate(reg *Registry) error {
	var errs []error
	if len(m.channels) == 0 {
		errs = append(errs, errors.New("the channel map is empty"))
	}
	for _, c := range m.channels {
		if c.Baseline != nil {
			if err := c.Baseline.validate(c.Name); err != nil {
				errs = append(errs, err)
			}
		}
		for _, s := range c.Stages {
			if reg != nil && !reg.Has(s.Name) {
				errs = append(errs, &ErrUnknownStage{Stage: s.Name, Channel: c.Name})
			}
		}
	}
	return errors.Join(errs...)
}

func (b *BaselineConfig) validate(channel string) error {
	if b.SampleWindow <= 0 {
		return &ErrStageConfig{Stage: BaselineStageName, Channel: channel,
			Reason: fmt.Sprintf("the baseline window must be positive, got %d", b.SampleWindow)}
	}
	if b.Method != BaselineMean && b.Method != BaselineMedian {
		return &ErrStageConfig{Stage: BaselineStageName, Channel: channel,
			Reason: fmt.Sprintf("unexpected baseline method %q, only %q and %q are implemented", b.Method, BaselineMean, BaselineMedian)}
	}
	return nil
}

type channelJSON struct {
	Baseline   *BaselineConfig `json:"bslnsubtr,omitempty" yaml:"bslnsubtr,omitempty"`
	Processors json.RawMessage `json:"processors,omitempty"`
}

func (m *ChannelMap) UnmarshalJSON(data []byte) error {
	m.channels = nil
	return decodeOrderedObject(data, func(name string, raw json.RawMessage) error {
		c := &ChannelConfig{Name: name}
		if err := c.unmarshalJSON(raw); err != nil {
			return fmt.Errorf("channel %q: %w", name, err)
		}
		m.channels = append(m.channels, c)
		return nil
	})
}

func (c *ChannelConfig) unmarshalJSON(data []byte) error {
	var aux channelJSON
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	c.Baseline = aux.Baseline
	if len(aux.Processors) == 0 {
		return nil
	}
	return decodeOrderedObject(aux.Processors, func(stage string, raw json.RawMessage) error {
		params := Params{}
		if err := json.Unmarshal(raw, &params); err != nil {
			return fmt.Errorf("processor %q: %w", stage, err)
		}
		c.Stages = append(c.Stages, StageConfig{Name: stage, Params: params})
		return nil
	})
}

func (m ChannelMap) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, c := range m.channels {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, _ := json.Marshal(c.Name)
		buf.Write(key)
		buf.WriteByte(':')
		if err := c.marshalJSON(&buf); err != nil {
			return nil, err
		}
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func (c *ChannelConfig) marshalJSON(buf *bytes.Buffer) error {
	buf.WriteByte('{')
	if c.Baseline != nil {
		bsln, err := json.Marshal(c.Baseline)
		if err != nil {
			return err
		}
		buf.WriteString(`"bslnsubtr":`)
		buf.Write(bsln)
	}
	if len(c.Stages) > 0 {
		if c.Baseline != nil {
			buf.WriteByte(',')
		}
		buf.WriteString(`"processors":{`)
		for i, s := range c.Stages {
			if i > 0 {
				buf.WriteByte(',')
			}
			key, _ := json.Marshal(s.Name)
			params, err := json.Marshal(s.Params)
			if err != nil {
				return fmt.Errorf("processor %q: %w", s.Name, err)
			}
			buf.Write(key)
			buf.WriteByte(':')
			buf.Write(params)
		}
		buf.WriteByte('}')
	}
	buf.WriteByte('}')
	return nil
}

func (m *ChannelMap) UnmarshalYAML(node *yaml.Node) error {
	m.channels = nil
	return decodeOrderedNode(node, func(name string, value *yaml.Node) error {
		c := &ChannelConfig{Name: name}
		var aux struct {
			Baseline   *BaselineConfig `yaml:"bslnsubtr"`
			Processors yaml.Node       `yaml:"processors"`
		}
		if err := value.Decode(&aux); err != nil {
			return fmt.Errorf("channel %q: %w", name, err)
		}
		c.Baseline = aux.Baseline
		if aux.Processors.Kind != 0 {
			err := decodeOrderedNode(&aux.Processors, func(stage string, v *yaml.Node) error {
				params := Params{}
				if err := v.Decode(&params); err != nil {
					return fmt.Errorf("processor %q: %w", stage, err)
				}
				c.Stages = append(c.Stages, StageConfig{Name: stage, Params: params})
				return nil
			})
			if err != nil {
				return fmt.Errorf("channel %q: %w", name, err)
			}
		}
		m.channels = append(m.channels, c)
		return nil
	})
}

// decodeOrderedObject calls fn for every member of a JSON object, in document
// order. A JSON null is an empty object.
func decodeOrderedObject(data []byte, fn func(key string, raw json.RawMessage) error) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if tok == nil {
		return nil
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("expected a JSON object, got %v", tok)
	}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := tok.(string)
		if !ok {
			return fmt.Errorf("unexpected JSON token %v", tok)
		}
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return fmt.Errorf("%q: %w", key, err)
		}
		if err := fn(key, raw); err != nil {
			return err
		}
	}
	_, err = dec.Token()
	return err
}

func decodeOrderedNode(node *yaml.Node, fn func(key string, value *yaml.Node) error) error {
	if node.Kind == yaml.DocumentNode && len(node.Content) == 1 {
		node = node.Content[0]
	}
	if node.Kind == yaml.ScalarNode && node.Tag == "!!null" {
		return nil
	}
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("line %d: expected a mapping", node.Line)
	}
	for i := 0; i+1 < len(node.Content); i += 2 {
		if err := fn(node.Content[i].Value, node.Content[i+1]); err != nil {
			return err
		}
	}
	return nil
}
