package strata

import (
	"context"

	"github.com/apopov/strata/driver"
)

// UniqueProbe reports whether some record other than excludeID already
// holds value in field. The facade builds one over the active driver
// (or the open transaction) and hands it to the Validator, so
// uniqueness rules never touch a backend directly. Pass excludeID 0
// on create.
type UniqueProbe func(ctx context.Context, table, field string, value any, excludeID int64) (bool, error)

// Validator is the write-path validation hook. The facade calls it
// after stripping reserved fields and before stamping timestamps; the
// record it returns is what gets persisted, so a validator can apply
// defaults and coercions. Returning a nil record keeps the input
// unchanged. Rejections are reported as FieldErrors.
//
// ValidateUpdate receives the id of the record being patched so
// uniqueness checks can exclude it; id is 0 for predicate-addressed
// updates.
type Validator interface {
	ValidateCreate(ctx context.Context, table string, rec driver.Record, probe UniqueProbe) (driver.Record, error)
	ValidateUpdate(ctx context.Context, table string, id int64, patch driver.Record, probe UniqueProbe) (driver.Record, error)
}
