package humanid

import (
	"strings"

	"github.com/google/uuid"

	"github.com/roach88/viewkit/internal/ir"
	"github.com/roach88/viewkit/internal/migrate"
)

// BackfillMigration is the name of the migration that assigns human
// identifiers to documents created without one.
const BackfillMigration = "humanid_backfill"

// FromDocID derives a human identifier from a document id. The same id
// always yields the same identifier, so a backfill map emits a stable
// intent for every revision it indexes.
func FromDocID(id string) string {
	u := uuid.NewSHA1(uuid.NameSpaceOID, []byte(id))
	return strings.ToLower(encoding.EncodeToString(u[:]))
}

// DocIDGenerator generates identifiers with FromDocID.
type DocIDGenerator struct {
	ID string
}

// Generate implements Generator.
func (g DocIDGenerator) Generate() string { return FromDocID(g.ID) }

// Backfill returns the migration that sets meta.humanId on every document
// lacking one.
func Backfill() ir.ViewDefinition {
	return migrate.Define(BackfillMigration, func(doc ir.Object, emit ir.Emit) error {
		id, ok := doc.Str("_id")
		if !ok {
			return nil
		}
		if _, ok := Of(doc); ok {
			return nil
		}
		next := doc.Clone()
		if meta, ok := next.Obj("meta"); ok {
			next["meta"] = meta.Clone()
		}
		Assign(next, DocIDGenerator{ID: id})
		migrate.EmitUpdate(emit, next)
		return nil
	})
}
