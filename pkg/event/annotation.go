package event

// Annotation type codes attached to outgoing messages and read back from their echo.
const (
	AnnotationReprocessor = 1025
	AnnotationPassthrough = 1026
	AnnotationContext     = 1027
)

// Annotation is a small typed metadata slot carried by the transport.
type Annotation struct {
	Type  int    `json:"type"`
	Value string `json:"value"`
}

// Annotations builds the slots for the given correlation ids, skipping empty ones.
func Annotations(reprocessorID, passthroughID, contextID string) []Annotation {
	out := make([]Annotation, 0, 3)
	if reprocessorID != "" {
		out = append(out, Annotation{Type: AnnotationReprocessor, Value: reprocessorID})
	}
	if passthroughID != "" {
		out = append(out, Annotation{Type: AnnotationPassthrough, Value: passthroughID})
	}
	if contextID != "" {
		out = append(out, Annotation{Type: AnnotationContext, Value: contextID})
	}
	if len(out) == 0 {
		return nil
	}

	return out
}
