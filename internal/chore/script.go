package chore

import "github.com/roach88/viewkit/internal/ir"

// MapScript is Map for a JavaScript view server. Times are normalized to
// UTC with second precision; completions with unparseable times emit
// nothing.
const MapScript = `function (doc) {
  function utc(t) {
    if (typeof t !== 'string' || isNaN(Date.parse(t))) {
      return null;
    }
    return new Date(t).toISOString().replace(/\.\d{3}Z$/, 'Z');
  }
  if (doc.type !== 'chore' || typeof doc.chore !== 'string' || doc.chore === '') {
    return;
  }
  var v = {occurrenceTime: utc(doc.occurrenceTime)};
  if (v.occurrenceTime === null) {
    return;
  }
  if (doc.nextDueTime !== undefined) {
    v.nextDueTime = utc(doc.nextDueTime);
    if (v.nextDueTime === null) {
      return;
    }
  }
  v.id = doc._id;
  emit(doc.chore, v);
}`

// LatestScript is ReduceFunc for a JavaScript view server.
const LatestScript = `function (keys, values, rereduce) {
  var best = null, bestTime = 0;
  for (var i = 0; i < values.length; i++) {
    var v = values[i];
    if (v === null || typeof v.occurrenceTime !== 'string') {
      continue;
    }
    var t = Date.parse(v.occurrenceTime);
    if (isNaN(t)) {
      continue;
    }
    if (best === null || t > bestTime) {
      best = v;
      bestTime = t;
    }
  }
  return best;
}`

// ScriptViews returns the chore view in JavaScript source form.
func ScriptViews() []ir.ViewDefinition {
	return []ir.ViewDefinition{{
		Name: View,
		Map:  ir.Source(MapScript),
		Reduces: map[string]ir.Function{
			LatestView: ir.Source(LatestScript),
		},
	}}
}
