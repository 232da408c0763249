package ledger

import "github.com/roach88/viewkit/internal/ir"

// MapScript is Map for a JavaScript view server. Malformed entries emit
// nothing.
const MapScript = `function (doc) {
  function str(v) { return typeof v === 'string' && v !== ''; }
  function num(v) { return typeof v === 'number'; }
  if (!str(doc.acc) || !str(doc.curr) || !str(doc.ts)) {
    return;
  }
  if (doc.type === 'tx') {
    if (!str(doc.to) || !num(doc.amount)) {
      return;
    }
    var amount = doc.reversed === true ? -doc.amount : doc.amount;
    emit([doc.acc, doc.curr, doc.ts], {delta: -amount});
    emit([doc.to, doc.curr, doc.ts], {delta: amount});
  } else if (doc.type === 'xc') {
    if (!str(doc.to) || !str(doc.toCurr) || !num(doc.amount) || !num(doc.toAmount)) {
      return;
    }
    emit([doc.acc, doc.curr, doc.ts], {delta: -doc.amount});
    emit([doc.to, doc.toCurr, doc.ts], {delta: doc.toAmount});
  } else if (doc.type === 'eq') {
    if (!num(doc.bal)) {
      return;
    }
    emit([doc.acc, doc.curr, doc.ts], {balance: doc.bal});
  }
}`

// ReduceScript is ReduceFunc for a JavaScript view server. It produces the
// same stored accumulator form: {} when empty, null when accounts or
// currencies mix.
const ReduceScript = `function (keys, values, rereduce) {
  function same(a, b) { return Math.abs(a - b) < 1e-9; }
  function running(g) { return g.balance !== undefined ? g.balance : g.delta; }
  function discrepancy(id, expected, calculated) {
    return {docId: id, expectedBalance: expected, calculatedBalance: calculated, offBy: expected - calculated};
  }
  var out = null;
  var i;
  if (!rereduce) {
    for (i = 0; i < values.length; i++) {
      var key = keys[i][0], id = keys[i][1], v = values[i];
      if (!Array.isArray(key) || typeof key[0] !== 'string' || typeof key[1] !== 'string') {
        return null;
      }
      if (out === null) {
        out = {account: key[0], currency: key[1], delta: 0, errors: []};
      } else if (out.account !== key[0] || out.currency !== key[1]) {
        return null;
      }
      if (typeof v.balance !== 'number') {
        if (typeof v.delta !== 'number') {
          throw 'ledger reduce ' + id + ': leaf value has neither delta nor balance';
        }
        out.delta += v.delta;
        if (out.balance !== undefined) {
          out.balance += v.delta;
        }
        continue;
      }
      if (out.balance === undefined) {
        out.initBalance = v.balance - out.delta;
        out.firstBalance = v.balance;
        out.firstBalanceId = id;
      }
      var calculated = running(out);
      if (!same(calculated, v.balance)) {
        out.errors.push(discrepancy(id, v.balance, calculated));
      }
      out.balance = v.balance;
    }
    return out === null ? {} : out;
  }

  for (i = 0; i < values.length; i++) {
    var g = values[i];
    if (g === null) {
      return null;
    }
    if (g.account === undefined) {
      continue;
    }
    if (out === null) {
      out = JSON.parse(JSON.stringify(g));
      continue;
    }
    if (out.account !== g.account || out.currency !== g.currency) {
      return null;
    }
    var end = running(out);
    if (g.balance !== undefined) {
      var later = g.errors;
      if (!same(g.initBalance, 0) && later.length > 0) {
        later = later.slice(1);
      }
      if (!same(g.initBalance, end)) {
        out.errors.push(discrepancy(g.firstBalanceId, g.firstBalance, end + (g.firstBalance - g.initBalance)));
      }
      out.errors = out.errors.concat(later);
      if (out.balance === undefined) {
        out.initBalance = g.initBalance - out.delta;
        out.firstBalance = g.firstBalance;
        out.firstBalanceId = g.firstBalanceId;
      }
      out.balance = g.balance;
    } else if (out.balance !== undefined) {
      out.balance += g.delta;
    }
    out.delta += g.delta;
  }
  return out === null ? {} : out;
}`

// ScriptViews returns the ledger view in JavaScript source form, for stores
// that cannot run Go closures.
func ScriptViews() []ir.ViewDefinition {
	return []ir.ViewDefinition{{
		Name: View,
		Map:  ir.Source(MapScript),
		Reduces: map[string]ir.Function{
			BalanceView: ir.Source(ReduceScript),
		},
	}}
}
