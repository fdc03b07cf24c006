package schema

// FieldView is the serializable form of a FieldSpec.
type FieldView struct {
	Name      string `json:"name" yaml:"name"`
	Type      string `json:"type" yaml:"type"`
	Pattern   string `json:"pattern,omitempty" yaml:"pattern,omitempty"`
	Delimited bool   `json:"delimited,omitempty" yaml:"delimited,omitempty"`
	Optional  bool   `json:"optional,omitempty" yaml:"optional,omitempty"`
	Default   any    `json:"default" yaml:"default"`
}

// EntryView is the serializable form of an Entry.
type EntryView struct {
	Kind   string      `json:"kind" yaml:"kind"`
	Stream string      `json:"stream" yaml:"stream"`
	Event  string      `json:"event" yaml:"event"`
	Fields []FieldView `json:"fields" yaml:"fields"`
}

// Views returns the registry as plain structs for JSON/YAML output.
func (r *Registry) Views() []EntryView {
	views := make([]EntryView, 0, len(r.entries))
	for _, e := range r.entries {
		v := EntryView{Kind: e.Kind(), Stream: e.Stream, Event: e.Event}
		for _, f := range e.Fields {
			v.Fields = append(v.Fields, FieldView{
				Name:      f.Name,
				Type:      string(f.Type),
				Pattern:   f.Pattern,
				Delimited: f.Delimited,
				Optional:  f.Optional,
				Default:   f.DefaultValue(),
			})
		}
		views = append(views, v)
	}
	return views
}
