package schema

// ToDocument returns a copy of data in which every declared field that is
// absent holds nil. Undeclared keys are carried over unchanged.
func (s *Schema) ToDocument(data map[string]any) map[string]any {
	doc := make(map[string]any, len(data)+len(s.Definition))
	for k, v := range data {
		doc[k] = v
	}
	for name := range s.Definition {
		if _, ok := doc[name]; !ok {
			doc[name] = nil
		}
	}
	return doc
}

// ToObject is the inverse of ToDocument: declared fields holding nil are
// removed.
func (s *Schema) ToObject(doc map[string]any) map[string]any {
	obj := make(map[string]any, len(doc))
	for k, v := range doc {
		if v == nil && s.HasField(k) {
			continue
		}
		obj[k] = v
	}
	return obj
}
