package function

import (
	"fmt"
	"maps"
	"net/url"
	"regexp"
	"strings"
)

// Field names a definition attribute as it appears on the wire.
type Field string

const (
	FieldName           Field = "name"
	FieldType           Field = "type"
	FieldSource         Field = "source"
	FieldLocationURL    Field = "location_url"
	FieldEventType      Field = "event_type"
	FieldRedisHost      Field = "redis_host"
	FieldRedisQueueName Field = "redis_queue_name"
	FieldStatus         Field = "status"
	FieldArtifact       Field = "artifact"
)

// Check returns an empty string for an acceptable value, otherwise the reason it is not.
type Check func(value string) string

// Requirement describes how one field is treated under a given selection.
type Requirement struct {
	Label    string
	Required bool
	// Deferred requirements can only be decided when the definition is submitted.
	Deferred bool
	Check    Check
}

// Selector is the triple of discriminants the matrix is keyed by.
type Selector struct {
	Type      Type
	Source    Source
	EventType EventType
}

// FieldSpec lists the fields in scope for one selection. Fields missing from
// Fields are out of scope and must not be validated at all.
type FieldSpec struct {
	Selector Selector
	// SourceLocked is set when the source is implied by the type and not user editable.
	SourceLocked bool
	Fields       map[Field]Requirement
	// Blocked maps dependent fields to the unset root field they wait on.
	Blocked map[Field]Field
}

// InScope reports whether f takes part in validation under these requirements.
func (s FieldSpec) InScope(f Field) bool {
	_, ok := s.Fields[f]
	return ok
}

func (s FieldSpec) clone() FieldSpec {
	s.Fields = maps.Clone(s.Fields)
	s.Blocked = maps.Clone(s.Blocked)
	return s
}

var imageReference = regexp.MustCompile(`^[\w\-.]+(/[\w\-.]+)*(:[\w\-.]+)?$`)

var labels = map[Field]string{
	FieldName:           "Function Name",
	FieldType:           "Function Type",
	FieldSource:         "Source Type",
	FieldLocationURL:    "Location URL",
	FieldEventType:      "Event Type",
	FieldRedisHost:      "Redis Host",
	FieldRedisQueueName: "Redis Queue Name",
	FieldStatus:         "Status",
	FieldArtifact:       "Function package",
}

// Label returns the human readable name of a field.
func Label(f Field) string {
	if l, ok := labels[f]; ok {
		return l
	}
	return string(f)
}

// codeRule binds the code location fields for one (type, source) pair.
// An empty source matches every source.
type codeRule struct {
	typ    Type
	source Source
	fields map[Field]Requirement
	// sourceCheck replaces the plain enum check of the source field.
	sourceCheck Check
}

// codeRules are evaluated in order and the first match wins.
var codeRules = []codeRule{
	{
		typ: TypeImage,
		fields: map[Field]Requirement{
			FieldLocationURL: {Label: "Docker Image URL", Required: true, Check: checkImageReference},
		},
	},
	{
		typ:    TypeFunction,
		source: SourceGithub,
		fields: map[Field]Requirement{
			FieldLocationURL: {Label: Label(FieldLocationURL), Required: true, Check: checkGithubURL},
		},
	},
	{
		typ:    TypeFunction,
		source: SourceStorage,
		fields: map[Field]Requirement{
			FieldArtifact: {Label: Label(FieldArtifact), Required: true, Deferred: true},
		},
	},
	{
		typ:         TypeFunction,
		source:      SourceDocker,
		sourceCheck: rejectDockerFunction,
	},
}

// queueRules add the trigger specific fields.
var queueRules = map[EventType]map[Field]Requirement{
	EventQueue: {
		FieldRedisHost:      {Label: Label(FieldRedisHost), Check: checkNotBlank},
		FieldRedisQueueName: {Label: Label(FieldRedisQueueName), Check: checkNotBlank},
	},
	EventHTTP: {},
}

var matrix = buildMatrix()

func buildMatrix() map[Selector]FieldSpec {
	m := make(map[Selector]FieldSpec)
	for _, t := range Types {
		for _, s := range Sources {
			if t == TypeImage && s != SourceDocker {
				continue
			}
			for _, e := range EventTypes {
				sel := Selector{Type: t, Source: s, EventType: e}
				m[sel] = compose(sel)
			}
		}
	}
	return m
}

// RequirementsFor returns the field requirements for a selection. IMAGE functions always
// resolve to the DOCKER source whatever source was passed in.
func RequirementsFor(t Type, s Source, e EventType) FieldSpec {
	if t == TypeImage {
		s = SourceDocker
	}
	sel := Selector{Type: t, Source: s, EventType: e}
	if fs, ok := matrix[sel]; ok {
		return fs.clone()
	}
	return compose(sel)
}

func compose(sel Selector) FieldSpec {
	fs := FieldSpec{
		Selector:     sel,
		SourceLocked: sel.Type == TypeImage,
		Fields: map[Field]Requirement{
			FieldName:      {Label: Label(FieldName), Required: true, Check: checkNotBlank},
			FieldType:      {Label: Label(FieldType), Required: true, Check: enumCheck(Types)},
			FieldEventType: {Label: Label(FieldEventType), Required: true, Check: enumCheck(EventTypes)},
			FieldStatus:    {Label: Label(FieldStatus), Check: enumCheck(Statuses)},
		},
		Blocked: map[Field]Field{},
	}
	if !fs.SourceLocked {
		fs.Fields[FieldSource] = Requirement{Label: Label(FieldSource), Required: true, Check: enumCheck(Sources)}
	}

	switch {
	case !sel.Type.Valid():
		fs.Blocked[FieldLocationURL] = FieldType
	case !fs.SourceLocked && !sel.Source.Valid():
		fs.Blocked[FieldLocationURL] = FieldSource
	default:
		if rule, ok := matchCodeRule(sel.Type, sel.Source); ok {
			maps.Copy(fs.Fields, rule.fields)
			if rule.sourceCheck != nil {
				req := fs.Fields[FieldSource]
				req.Check = rule.sourceCheck
				fs.Fields[FieldSource] = req
			}
		}
	}

	if fields, ok := queueRules[sel.EventType]; ok {
		maps.Copy(fs.Fields, fields)
	} else {
		fs.Blocked[FieldRedisHost] = FieldEventType
		fs.Blocked[FieldRedisQueueName] = FieldEventType
	}
	return fs
}

func matchCodeRule(t Type, s Source) (codeRule, bool) {
	for _, rule := range codeRules {
		if rule.typ == t && (rule.source == "" || rule.source == s) {
			return rule, true
		}
	}
	return codeRule{}, false
}

func checkImageReference(v string) string {
	if !imageReference.MatchString(v) {
		return "Invalid Docker image URL format"
	}
	return ""
}

func checkGithubURL(v string) string {
	u, err := url.Parse(v)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "Enter a valid GitHub URL"
	}
	if !strings.HasSuffix(v, ".git") {
		return "GitHub repo URL must end with .git"
	}
	if !strings.Contains(u.Hostname(), "github.com") {
		return "GitHub repo URL must be a GitHub domain"
	}
	return ""
}

func checkNotBlank(v string) string {
	if strings.TrimSpace(v) == "" {
		return "must not be blank"
	}
	return ""
}

func rejectDockerFunction(v string) string {
	if Source(v) == SourceDocker {
		return "DOCKER source is only valid for IMAGE functions"
	}
	return ""
}

func enumCheck[T ~string](values []T) Check {
	return func(v string) string {
		for _, allowed := range values {
			if T(v) == allowed {
				return ""
			}
		}
		return fmt.Sprintf("must be one of %v", values)
	}
}
