package journey

import "github.com/xraph/journey/id"

// ID is the primary identifier type for all journey entities.
type ID = id.ID

// Prefix identifies the entity type encoded in a TypeID.
type Prefix = id.Prefix
