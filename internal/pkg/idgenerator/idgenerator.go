// nolint: gochecknoglobals
package idgenerator

import (
	"strings"

	"github.com/gofrs/uuid/v5"
	gonanoid "github.com/matoous/go-nanoid/v2"
)

const (
	ManagerFactoryIDLength      = 20
	StoreNamespaceForTestLength = 10
)

// alphabet used in ID generation.
var alphabet = "0123456789abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ"

// ServerRandomID returns an upper-case UUID v4 without dashes.
// It is embedded into a server registration name, so it must not contain the "$" separator.
func ServerRandomID() string {
	return strings.ToUpper(strings.ReplaceAll(uuid.Must(uuid.NewV4()).String(), "-", ""))
}

// ManagerFactoryID identifies one worker process, the process may run several domains.
func ManagerFactoryID(ip, hostName string) string {
	return ip + "$" + hostName + "$" + gonanoid.MustGenerate(alphabet, ManagerFactoryIDLength)
}

func StoreNamespaceForTest() string {
	return gonanoid.MustGenerate(alphabet, StoreNamespaceForTestLength)
}
