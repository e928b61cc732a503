package flatten

import "errors"

// ErrUnrecognizedShape is returned for documents that hold no submissions
// in any of the known layouts.
var ErrUnrecognizedShape = errors.New("unrecognised JSON shape for submissions")

// CoercePairs splits a document into (root metadata, submission) pairs.
//
// Recognized layouts, checked in order:
//
//	{"applications": [{..., "submissions": [...]}, ...]}
//	{"applications": {..., "submissions": [...]}}
//	{..., "submissions": [...]}
//	[submission, ...]
//	a single submission object (has "submissionId" or "sections")
//
// Root metadata is every key of the containing object except "submissions".
func CoercePairs(doc Value) ([]Pair, error) {
	var pairs []Pair

	apps, hasApps := doc.Get("applications")
	subs, hasSubs := doc.Get("submissions")

	switch {
	case hasApps && apps.Kind() == KindArray:
		for _, app := range apps.Elems() {
			pairs = appendApplication(pairs, app)
		}
	case hasApps && apps.Kind() == KindObject:
		pairs = appendApplication(pairs, apps)
	case hasSubs && subs.Kind() == KindArray:
		root := doc.Object().Without("submissions")
		for _, sub := range subs.Elems() {
			pairs = append(pairs, Pair{Root: root, Submission: sub})
		}
	case doc.Kind() == KindArray:
		for _, sub := range doc.Elems() {
			pairs = append(pairs, Pair{Root: NewObject(), Submission: sub})
		}
	case doc.Kind() == KindObject && (doc.Object().Has("submissionId") || doc.Object().Has("sections")):
		pairs = append(pairs, Pair{Root: NewObject(), Submission: doc})
	default:
		return nil, ErrUnrecognizedShape
	}
	return pairs, nil
}

func appendApplication(pairs []Pair, app Value) []Pair {
	if app.Kind() != KindObject {
		return pairs
	}
	root := app.Object().Without("submissions")
	for _, sub := range app.Field("submissions").Elems() {
		pairs = append(pairs, Pair{Root: root, Submission: sub})
	}
	return pairs
}
