package domain

// ArtifactKind distinguishes the Java runtime from the client jar.
type ArtifactKind string

const (
	KindRuntime ArtifactKind = "runtime"
	KindClient  ArtifactKind = "client"
)

// ArtifactDescriptor identifies a resolvable binary dependency.
type ArtifactDescriptor struct {
	Kind          ArtifactKind
	Game          Game
	Version       string
	LocalPath     string
	IntegrityHash string
}

// Progress is a download progress sample.
type Progress struct {
	Kind       ArtifactKind
	Game       Game
	Downloaded int64
	Total      int64
}
