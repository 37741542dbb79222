package avatar

import _ "embed"

// DefaultArtifact is served whenever nothing else resolves.
//
//go:embed default.png
var DefaultArtifact []byte
