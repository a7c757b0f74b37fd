package schema

import (
	"crypto/md5"
	"encoding/hex"
)

// maxIdentifierLength is the Postgres NAMEDATALEN-1 limit.
const maxIdentifierLength = 63

// truncateIdentifier keeps generated table, index and constraint names
// under the Postgres identifier limit. Over-long names are cut and
// suffixed with a short content hash so two distinct long names never
// collide after truncation.
func truncateIdentifier(identifier string) string {
	if len(identifier) <= maxIdentifierLength {
		return identifier
	}
	sum := md5.Sum([]byte(identifier))
	digest := hex.EncodeToString(sum[:])
	return identifier[:maxIdentifierLength-8] + "_" + digest[len(digest)-4:]
}
