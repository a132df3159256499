package function

import (
	"fmt"
	"strings"
)

// Result is the outcome of validating a candidate. FieldErrors only carries
// entries for fields that failed or are blocked.
type Result struct {
	Valid       bool
	FieldErrors map[Field]string
}

// Validate checks a candidate against the field requirements of its current selection.
// Values are checked trimmed, the way Normalize sends them.
// It is pure and derives the requirements again on every call, so values hidden by a
// previous selection never leave stale errors behind. Deferred requirements
// are skipped here and enforced by the submitter.
func Validate(c Candidate) Result {
	fs := RequirementsFor(c.Type, c.Source, c.EventType)
	values := fieldValues(c)
	errs := make(map[Field]string)

	for field, req := range fs.Fields {
		if req.Deferred {
			continue
		}
		v := strings.TrimSpace(values[field])
		if v == "" {
			if req.Required {
				errs[field] = req.Label + " is required"
			}
			continue
		}
		if req.Check == nil {
			continue
		}
		if msg := req.Check(v); msg != "" {
			errs[field] = msg
		}
	}

	for field, root := range fs.Blocked {
		errs[field] = fmt.Sprintf("Select a valid %s first", Label(root))
	}

	return Result{Valid: len(errs) == 0, FieldErrors: errs}
}

// CheckDeferred enforces the requirements that need to know whether the
// definition is new and whether an artifact is attached.
func CheckDeferred(c Candidate, creating bool) map[Field]string {
	fs := RequirementsFor(c.Type, c.Source, c.EventType)
	errs := make(map[Field]string)
	for field, req := range fs.Fields {
		if !req.Deferred || !req.Required {
			continue
		}
		if field == FieldArtifact && creating && strings.TrimSpace(c.LocationURL) == "" && !c.HasArtifact() {
			errs[field] = req.Label + " is required"
		}
	}
	return errs
}

func fieldValues(c Candidate) map[Field]string {
	return map[Field]string{
		FieldName:           c.Name,
		FieldType:           string(c.Type),
		FieldSource:         string(c.Source),
		FieldLocationURL:    c.LocationURL,
		FieldEventType:      string(c.EventType),
		FieldRedisHost:      deref(c.RedisHost),
		FieldRedisQueueName: deref(c.RedisQueueName),
		FieldStatus:         string(c.Status),
	}
}
