package schema

import "encoding/json"

// wireDescriptor is the persisted tagged form named in §6:
//
//	{"kind":"object","fields":{...},"required":[...],"count":N}
type wireDescriptor struct {
	Kind       Kind                       `json:"kind"`
	Count      int                        `json:"count"`
	Nullable   bool                       `json:"nullable,omitempty"`
	Fields     map[string]*wireDescriptor `json:"fields,omitempty"`
	Required   []string                   `json:"required,omitempty"`
	Element    *wireDescriptor            `json:"element,omitempty"`
	LengthMin  int                        `json:"lengthMin,omitempty"`
	LengthMax  int                        `json:"lengthMax,omitempty"`
	Union      []*wireDescriptor          `json:"union,omitempty"`
	FormatHint string                     `json:"formatHint,omitempty"`
}

// MarshalJSON serializes a Descriptor to the persisted tagged form (§6).
func (d *Descriptor) MarshalJSON() ([]byte, error) {
	return json.Marshal(toWire(d))
}

// UnmarshalJSON parses the persisted tagged form (§6) back into a Descriptor.
func (d *Descriptor) UnmarshalJSON(data []byte) error {
	var w wireDescriptor
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*d = *fromWire(&w)
	return nil
}

func toWire(d *Descriptor) *wireDescriptor {
	if d == nil {
		return nil
	}
	w := &wireDescriptor{
		Kind:       d.Kind,
		Count:      d.Count,
		Nullable:   d.Nullable,
		Required:   d.RequiredNames(),
		LengthMin:  d.LengthMin,
		LengthMax:  d.LengthMax,
		FormatHint: d.FormatHint,
	}
	if d.Fields != nil {
		w.Fields = make(map[string]*wireDescriptor, len(d.Fields))
		for k, fd := range d.Fields {
			w.Fields[k] = toWire(fd)
		}
	}
	if d.Element != nil {
		w.Element = toWire(d.Element)
	}
	for _, br := range d.Union {
		w.Union = append(w.Union, toWire(br))
	}
	return w
}

func fromWire(w *wireDescriptor) *Descriptor {
	if w == nil {
		return nil
	}
	d := &Descriptor{
		Kind:       w.Kind,
		Count:      w.Count,
		Nullable:   w.Nullable,
		LengthMin:  w.LengthMin,
		LengthMax:  w.LengthMax,
		FormatHint: w.FormatHint,
	}
	if w.Fields != nil {
		d.Fields = make(map[string]*Descriptor, len(w.Fields))
		for k, fw := range w.Fields {
			d.Fields[k] = fromWire(fw)
		}
	}
	if len(w.Required) > 0 {
		d.Required = make(map[string]bool, len(w.Required))
		for _, name := range w.Required {
			d.Required[name] = true
		}
	}
	if w.Element != nil {
		d.Element = fromWire(w.Element)
	}
	for _, bw := range w.Union {
		d.Union = append(d.Union, fromWire(bw))
	}
	return d
}
