package humanid

import "github.com/roach88/viewkit/internal/ir"

const (
	byIDScript = `function (doc) {
  if (doc.meta && typeof doc.meta.humanId === 'string' && doc.meta.humanId !== '') {
    emit(doc._id, doc.meta.humanId);
  }
}`

	// Prefixes end on code point boundaries, never inside a surrogate pair.
	prefixesScript = `function (doc) {
  if (!doc.meta || typeof doc.meta.humanId !== 'string') {
    return;
  }
  var hid = doc.meta.humanId;
  for (var i = 1; i <= hid.length; i++) {
    var c = hid.charCodeAt(i - 1);
    if (c >= 0xD800 && c <= 0xDBFF && i < hid.length) {
      continue;
    }
    emit(hid.substring(0, i), null);
  }
}`
)

// ScriptViews returns Views in JavaScript source form. Backfill has no
// script form.
func ScriptViews() []ir.ViewDefinition {
	return []ir.ViewDefinition{
		{
			Name: ByIDView,
			Map:  ir.Source(byIDScript),
		},
		{
			Name: PrefixesView,
			Map:  ir.Source(prefixesScript),
			Reduces: map[string]ir.Function{
				PrefixCount: ir.Builtin(ir.ReduceCount),
			},
		},
	}
}
