package manifest

import "github.com/meigma/arcext/internal/arctype"

// ErrMalformedManifest is returned when a manifest is not an object of
// string lists.
var ErrMalformedManifest = arctype.ErrMalformedManifest
